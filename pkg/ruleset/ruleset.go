// ABOUTME: Rule and Ruleset types plus the per-rule execution context
// ABOUTME: Rules are pure checks keyed by a stable id; they report diagnostics into their context

package ruleset

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mauromedda/forseti-go/pkg/protocol"
)

// Rule is a single check over one file.
type Rule interface {
	// ID returns the stable identifier used as the config key.
	ID() string
	// Check inspects ctx.Text and reports diagnostics through ctx.
	Check(ctx *RuleContext)
}

// RuleFunc adapts a function to the Rule interface.
type RuleFunc struct {
	RuleID string
	Fn     func(ctx *RuleContext)
}

// ID implements Rule.
func (f RuleFunc) ID() string { return f.RuleID }

// Check implements Rule.
func (f RuleFunc) Check(ctx *RuleContext) { f.Fn(ctx) }

// RuleContext is scoped to one rule invocation over one file.
type RuleContext struct {
	URI      string
	Text     string
	Options  json.RawMessage
	Severity string

	ruleID      string
	lines       *protocol.LineIndex
	diagnostics []protocol.Diagnostic
}

func newContext(ruleID, uri, text string, setting RuleSetting) *RuleContext {
	return &RuleContext{
		URI:      uri,
		Text:     text,
		Options:  setting.Options,
		Severity: setting.Severity,
		ruleID:   ruleID,
	}
}

// RuleID returns the id of the rule being run.
func (c *RuleContext) RuleID() string { return c.ruleID }

// Lines returns the line index for Text, built on first use.
func (c *RuleContext) Lines() *protocol.LineIndex {
	if c.lines == nil {
		c.lines = protocol.NewLineIndex(c.Text)
	}
	return c.lines
}

// DecodeOptions unmarshals the rule options into dst. Empty options leave
// dst at its defaults.
func (c *RuleContext) DecodeOptions(dst any) error {
	if len(c.Options) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.Options, dst); err != nil {
		return fmt.Errorf("rule %s options: %w", c.ruleID, err)
	}
	return nil
}

// Report records a diagnostic. Empty RuleID and Severity are filled from
// the context.
func (c *RuleContext) Report(d protocol.Diagnostic) {
	if d.RuleID == "" {
		d.RuleID = c.ruleID
	}
	if d.Severity == "" {
		d.Severity = c.Severity
	}
	c.diagnostics = append(c.diagnostics, d)
}

// ReportSpan records a diagnostic over the byte span [start, end).
func (c *RuleContext) ReportSpan(start, end int, message string) {
	c.Report(protocol.Diagnostic{Message: message, Range: c.Lines().Range(start, end)})
}

// Diagnostics returns what has been reported so far.
func (c *RuleContext) Diagnostics() []protocol.Diagnostic {
	return c.diagnostics
}

// Ruleset is an ordered bundle of rules loaded together.
type Ruleset struct {
	ID    string
	Rules []Rule
}

// New creates a ruleset with the given rules in declaration order.
func New(id string, rules ...Rule) *Ruleset {
	return &Ruleset{ID: id, Rules: rules}
}

// With appends a rule and returns the ruleset for chaining.
func (rs *Ruleset) With(r Rule) *Ruleset {
	rs.Rules = append(rs.Rules, r)
	return rs
}

// Info describes the ruleset for capability reporting.
func (rs *Ruleset) Info() protocol.RulesetInfo {
	ids := make([]string, len(rs.Rules))
	for i, r := range rs.Rules {
		ids[i] = r.ID()
	}
	return protocol.RulesetInfo{ID: rs.ID, Rules: ids}
}

// RuleSetting is the resolved, enabled configuration of one rule.
type RuleSetting struct {
	Severity string
	Options  json.RawMessage
}

// Options maps rule ids to their resolved settings. Disabled rules are
// absent, so they are never invoked.
type Options map[string]RuleSetting

// ResolveOptions converts a ruleset config into Options, dropping every
// rule configured Off.
func ResolveOptions(cfg protocol.RulesetConfig) Options {
	opts := make(Options, len(cfg.Rules))
	if cfg.Off {
		return opts
	}
	for id, entry := range cfg.Rules {
		if !entry.Enabled() {
			continue
		}
		opts[id] = RuleSetting{Severity: entry.EffectiveSeverity(), Options: entry.EffectiveOptions()}
	}
	return opts
}

// SortByPosition orders diagnostics by start position, then rule id.
// Run does not sort; callers that want position order call this.
func SortByPosition(diags []protocol.Diagnostic) {
	sort.SliceStable(diags, func(i, j int) bool {
		a, b := diags[i].Range.Start, diags[j].Range.Start
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Character != b.Character {
			return a.Character < b.Character
		}
		return diags[i].RuleID < diags[j].RuleID
	})
}
