// ABOUTME: EngineConfig and the tagged RuleConfigEntry union ("off" | level | [level, opts] | {opts})
// ABOUTME: JSON shape inspection happens only here; the rest of the module sees typed values

package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultSeverity applies to rules configured with options only.
const DefaultSeverity = SeverityWarn

const offValue = "off"

// EngineConfig is the caller-supplied (or default) configuration for one engine.
type EngineConfig struct {
	Enabled  *bool                    `json:"enabled,omitempty"`
	Rulesets map[string]RulesetConfig `json:"rulesets,omitempty"`
}

// IsEnabled reports the enabled flag, defaulting to true.
func (c EngineConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// RulesetConfig is either "off" for the whole ruleset or a rule-id keyed map.
type RulesetConfig struct {
	Off   bool
	Rules map[string]RuleConfigEntry
}

// RulesetOff disables an entire ruleset.
func RulesetOff() RulesetConfig {
	return RulesetConfig{Off: true}
}

// RulesetRules enables a ruleset with the given per-rule entries.
func RulesetRules(rules map[string]RuleConfigEntry) RulesetConfig {
	return RulesetConfig{Rules: rules}
}

// MarshalJSON implements json.Marshaler.
func (c RulesetConfig) MarshalJSON() ([]byte, error) {
	if c.Off {
		return json.Marshal(offValue)
	}
	if c.Rules == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.Rules)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *RulesetConfig) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty ruleset config")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s != offValue {
			return fmt.Errorf("ruleset config string must be %q, got %q", offValue, s)
		}
		*c = RulesetOff()
		return nil
	case '{':
		var rules map[string]RuleConfigEntry
		if err := json.Unmarshal(data, &rules); err != nil {
			return err
		}
		*c = RulesetRules(rules)
		return nil
	}
	return fmt.Errorf("ruleset config must be %q or an object", offValue)
}

// RuleConfigKind tags the RuleConfigEntry variants.
type RuleConfigKind int

const (
	RuleOff RuleConfigKind = iota
	RuleLevel
	RuleLevelWithOptions
	RuleOptionsOnly
)

// String returns the variant name.
func (k RuleConfigKind) String() string {
	switch k {
	case RuleOff:
		return "off"
	case RuleLevel:
		return "level"
	case RuleLevelWithOptions:
		return "level+options"
	case RuleOptionsOnly:
		return "options"
	default:
		return "unknown"
	}
}

// RuleConfigEntry is the per-rule setting.
type RuleConfigEntry struct {
	Kind     RuleConfigKind
	Severity string
	Options  json.RawMessage
}

// Off disables a rule.
func Off() RuleConfigEntry { return RuleConfigEntry{Kind: RuleOff} }

// Level enables a rule at a severity with no options.
func Level(severity string) RuleConfigEntry {
	return RuleConfigEntry{Kind: RuleLevel, Severity: severity}
}

// LevelWithOptions enables a rule at a severity with options.
func LevelWithOptions(severity string, options json.RawMessage) RuleConfigEntry {
	return RuleConfigEntry{Kind: RuleLevelWithOptions, Severity: severity, Options: options}
}

// OptionsOnly enables a rule at DefaultSeverity with options.
func OptionsOnly(options json.RawMessage) RuleConfigEntry {
	return RuleConfigEntry{Kind: RuleOptionsOnly, Options: options}
}

// Enabled reports whether the rule should run at all.
func (e RuleConfigEntry) Enabled() bool {
	return e.Kind != RuleOff
}

// EffectiveSeverity returns the configured severity or DefaultSeverity.
func (e RuleConfigEntry) EffectiveSeverity() string {
	if e.Severity == "" {
		return DefaultSeverity
	}
	return e.Severity
}

// EffectiveOptions returns the options, or an empty object when none were given.
func (e RuleConfigEntry) EffectiveOptions() json.RawMessage {
	if len(e.Options) == 0 {
		return json.RawMessage("{}")
	}
	return e.Options
}

// MarshalJSON implements json.Marshaler.
func (e RuleConfigEntry) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case RuleOff:
		return json.Marshal(offValue)
	case RuleLevel:
		return json.Marshal(e.Severity)
	case RuleLevelWithOptions:
		return json.Marshal([]any{e.Severity, e.EffectiveOptions()})
	case RuleOptionsOnly:
		return e.EffectiveOptions(), nil
	}
	return nil, fmt.Errorf("unknown rule config kind %d", e.Kind)
}

// UnmarshalJSON implements json.Unmarshaler by inspecting the JSON shape.
func (e *RuleConfigEntry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty rule config")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = levelOrOff(s)
		return nil
	case '[':
		var parts []json.RawMessage
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		if len(parts) == 0 || len(parts) > 2 {
			return fmt.Errorf("rule config array must be [level] or [level, options], got %d elements", len(parts))
		}
		var level string
		if err := json.Unmarshal(parts[0], &level); err != nil {
			return fmt.Errorf("rule config level must be a string: %w", err)
		}
		entry := levelOrOff(level)
		if entry.Kind == RuleLevel && len(parts) == 2 {
			entry = LevelWithOptions(level, append(json.RawMessage(nil), parts[1]...))
		}
		*e = entry
		return nil
	case '{':
		*e = OptionsOnly(append(json.RawMessage(nil), data...))
		return nil
	}
	return fmt.Errorf("rule config must be a string, array, or object")
}

func levelOrOff(s string) RuleConfigEntry {
	if s == offValue {
		return Off()
	}
	return Level(s)
}
