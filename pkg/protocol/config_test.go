// ABOUTME: Tests for the RuleConfigEntry and RulesetConfig JSON shape inspection
// ABOUTME: Every variant decodes from its documented shape and re-encodes to it

package protocol

import (
	"encoding/json"
	"testing"
)

func TestRuleConfigEntry_Unmarshal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       string
		kind     RuleConfigKind
		severity string
		options  string
	}{
		{`"off"`, RuleOff, "", ""},
		{`"error"`, RuleLevel, "error", ""},
		{`["warn"]`, RuleLevel, "warn", ""},
		{`["warn", {"max": 80}]`, RuleLevelWithOptions, "warn", `{"max": 80}`},
		{`["off", {"max": 80}]`, RuleOff, "", ""},
		{`{"max": 120}`, RuleOptionsOnly, "", `{"max": 120}`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			var e RuleConfigEntry
			if err := json.Unmarshal([]byte(tt.in), &e); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if e.Kind != tt.kind {
				t.Errorf("Kind = %v; want %v", e.Kind, tt.kind)
			}
			if e.Severity != tt.severity {
				t.Errorf("Severity = %q; want %q", e.Severity, tt.severity)
			}
			if string(e.Options) != tt.options {
				t.Errorf("Options = %s; want %s", e.Options, tt.options)
			}
		})
	}
}

func TestRuleConfigEntry_UnmarshalErrors(t *testing.T) {
	t.Parallel()

	for _, in := range []string{`[]`, `[1]`, `["warn", {}, 3]`, `42`, `true`} {
		var e RuleConfigEntry
		if err := json.Unmarshal([]byte(in), &e); err == nil {
			t.Errorf("%s: expected error", in)
		}
	}
}

func TestRuleConfigEntry_Marshal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		entry RuleConfigEntry
		want  string
	}{
		{Off(), `"off"`},
		{Level("error"), `"error"`},
		{LevelWithOptions("warn", json.RawMessage(`{"max":80}`)), `["warn",{"max":80}]`},
		{OptionsOnly(json.RawMessage(`{"max":80}`)), `{"max":80}`},
	}
	for _, tt := range tests {
		data, err := json.Marshal(tt.entry)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", tt.entry.Kind, err)
		}
		if string(data) != tt.want {
			t.Errorf("Marshal(%v) = %s; want %s", tt.entry.Kind, data, tt.want)
		}
	}
}

func TestRuleConfigEntry_Effective(t *testing.T) {
	t.Parallel()

	e := OptionsOnly(nil)
	if !e.Enabled() {
		t.Error("options-only entry should be enabled")
	}
	if e.EffectiveSeverity() != DefaultSeverity {
		t.Errorf("EffectiveSeverity = %q; want %q", e.EffectiveSeverity(), DefaultSeverity)
	}
	if string(e.EffectiveOptions()) != "{}" {
		t.Errorf("EffectiveOptions = %s; want {}", e.EffectiveOptions())
	}
	if Off().Enabled() {
		t.Error("off entry should be disabled")
	}
}

func TestEngineConfig_Unmarshal(t *testing.T) {
	t.Parallel()

	in := `{"enabled":false,"rulesets":{"text":{"no-tabs":"off","max-line-length":["error",{"max":100}]},"legacy":"off"}}`
	var cfg EngineConfig
	if err := json.Unmarshal([]byte(in), &cfg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if cfg.IsEnabled() {
		t.Error("expected enabled=false")
	}
	if !cfg.Rulesets["legacy"].Off {
		t.Error("legacy ruleset should be off")
	}
	text := cfg.Rulesets["text"]
	if text.Off || len(text.Rules) != 2 {
		t.Fatalf("unexpected text ruleset: %+v", text)
	}
	if text.Rules["max-line-length"].Kind != RuleLevelWithOptions {
		t.Errorf("max-line-length kind = %v", text.Rules["max-line-length"].Kind)
	}

	var bad EngineConfig
	if err := json.Unmarshal([]byte(`{"rulesets":{"text":"on"}}`), &bad); err == nil {
		t.Error("expected error for ruleset string other than off")
	}
}

func TestEngineConfig_MarshalDeterministic(t *testing.T) {
	t.Parallel()

	cfg := EngineConfig{Rulesets: map[string]RulesetConfig{
		"b": RulesetRules(map[string]RuleConfigEntry{"z": Level("warn"), "a": Off()}),
		"a": RulesetOff(),
	}}
	first, _ := json.Marshal(cfg)
	second, _ := json.Marshal(cfg)
	if string(first) != string(second) {
		t.Errorf("non-deterministic output:\n%s\n%s", first, second)
	}
	want := `{"rulesets":{"a":"off","b":{"a":"off","z":"warn"}}}`
	if string(first) != want {
		t.Errorf("got %s; want %s", first, want)
	}
}
