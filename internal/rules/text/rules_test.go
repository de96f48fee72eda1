// ABOUTME: Tests for the text rules against hand-computed byte ranges
// ABOUTME: Each rule is run alone through ruleset.Run with its own options

package text

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/mauromedda/forseti-go/pkg/protocol"
	"github.com/mauromedda/forseti-go/pkg/ruleset"
)

func runOne(t *testing.T, ruleID, text, options string) []protocol.Diagnostic {
	t.Helper()
	setting := ruleset.RuleSetting{Severity: protocol.SeverityWarn}
	if options != "" {
		setting.Options = json.RawMessage(options)
	}
	diags, failures := ruleset.Run(NewRuleset(), "mem://t.txt", text, ruleset.Options{ruleID: setting})
	if len(failures) != 0 {
		t.Fatalf("%s failed: %v", ruleID, failures)
	}
	return diags
}

func rng(sl, sc, el, ec uint32) protocol.Range {
	return protocol.Range{Start: protocol.Position{Line: sl, Character: sc}, End: protocol.Position{Line: el, Character: ec}}
}

func TestNoTrailingWhitespace(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want []protocol.Range
	}{
		{"spaces", "hello   \nworld", []protocol.Range{rng(0, 5, 0, 8)}},
		{"clean", "hello\nworld\n", nil},
		{"tabs and crlf", "a\t \r\nb\n  ", []protocol.Range{rng(0, 1, 0, 3), rng(2, 0, 2, 2)}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			diags := runOne(t, RuleNoTrailingWhitespace, tt.text, "")
			if len(diags) != len(tt.want) {
				t.Fatalf("got %d diagnostics; want %d: %+v", len(diags), len(tt.want), diags)
			}
			for i, d := range diags {
				if d.Range != tt.want[i] {
					t.Errorf("diag %d range = %+v; want %+v", i, d.Range, tt.want[i])
				}
				if d.RuleID != RuleNoTrailingWhitespace || d.Severity != protocol.SeverityWarn || d.Message != "Trailing whitespace" {
					t.Errorf("diag %d = %+v", i, d)
				}
			}
		})
	}
}

func TestMaxLineLength(t *testing.T) {
	t.Parallel()

	diags := runOne(t, RuleMaxLineLength, "short\n"+strings.Repeat("x", 12)+"\n", `{"max":10}`)
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics; want 1", len(diags))
	}
	if diags[0].Range != rng(1, 10, 1, 12) {
		t.Errorf("range = %+v", diags[0].Range)
	}
	if !strings.Contains(diags[0].Message, "12 characters") {
		t.Errorf("message = %q", diags[0].Message)
	}
}

func TestMaxLineLength_CountsGraphemes(t *testing.T) {
	t.Parallel()

	// Five clusters of "e" plus a combining acute accent, three bytes each.
	line := strings.Repeat("e\u0301", 5)
	if diags := runOne(t, RuleMaxLineLength, line, `{"max":5}`); len(diags) != 0 {
		t.Errorf("five clusters flagged at max 5: %+v", diags)
	}
	diags := runOne(t, RuleMaxLineLength, line, `{"max":4}`)
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics; want 1", len(diags))
	}
	// The fifth cluster starts at byte 12.
	if diags[0].Range.Start.Character != 12 {
		t.Errorf("start = %+v; want character 12", diags[0].Range.Start)
	}
}

func TestMaxLineLength_BadOptionsFail(t *testing.T) {
	t.Parallel()

	_, failures := ruleset.Run(NewRuleset(), "mem://t", strings.Repeat("x", 200), ruleset.Options{
		RuleMaxLineLength: {Severity: "warn", Options: json.RawMessage(`{"max":"many"}`)},
	})
	if len(failures) != 1 || failures[0].RuleID != RuleMaxLineLength {
		t.Errorf("failures = %v; want one for max-line-length", failures)
	}
}

func TestNoTabs(t *testing.T) {
	t.Parallel()

	diags := runOne(t, RuleNoTabs, "\ta\n b\t", "")
	if len(diags) != 2 {
		t.Fatalf("got %d diagnostics; want 2", len(diags))
	}
	if diags[0].Range != rng(0, 0, 0, 1) || diags[1].Range != rng(1, 2, 1, 3) {
		t.Errorf("ranges = %+v, %+v", diags[0].Range, diags[1].Range)
	}
}

func TestFinalNewline(t *testing.T) {
	t.Parallel()

	if diags := runOne(t, RuleFinalNewline, "a\n", ""); len(diags) != 0 {
		t.Errorf("terminated file flagged: %+v", diags)
	}
	if diags := runOne(t, RuleFinalNewline, "", ""); len(diags) != 0 {
		t.Errorf("empty file flagged: %+v", diags)
	}
	diags := runOne(t, RuleFinalNewline, "a\nbc", "")
	if len(diags) != 1 || diags[0].Range != rng(1, 2, 1, 2) {
		t.Errorf("diags = %+v; want one empty range at 1:2", diags)
	}
}
