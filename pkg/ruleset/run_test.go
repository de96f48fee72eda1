// ABOUTME: Tests for ruleset execution ordering, Off filtering, panic isolation, and lazy loading
// ABOUTME: The lazy-loading test tracks how many file contents are live at once

package ruleset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mauromedda/forseti-go/pkg/protocol"
)

func spanRule(id, needle string) Rule {
	return RuleFunc{RuleID: id, Fn: func(ctx *RuleContext) {
		for i := 0; ; {
			j := strings.Index(ctx.Text[i:], needle)
			if j < 0 {
				return
			}
			ctx.ReportSpan(i+j, i+j+len(needle), "found "+needle)
			i += j + len(needle)
		}
	}}
}

func TestRun_DeclarationOrderAndNoResort(t *testing.T) {
	t.Parallel()

	rs := New("demo", spanRule("late", "b"), spanRule("early", "a"))
	opts := Options{"late": {Severity: "warn"}, "early": {Severity: "error"}}

	diags, failures := Run(rs, "mem://x", "ab", opts)
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}
	if len(diags) != 2 {
		t.Fatalf("got %d diagnostics; want 2", len(diags))
	}
	if diags[0].RuleID != "late" || diags[1].RuleID != "early" {
		t.Errorf("order = [%s %s]; want [late early]", diags[0].RuleID, diags[1].RuleID)
	}
	if diags[1].Severity != "error" {
		t.Errorf("Severity = %q; want error", diags[1].Severity)
	}

	SortByPosition(diags)
	if diags[0].RuleID != "early" {
		t.Errorf("after sort first = %s; want early", diags[0].RuleID)
	}
}

func TestRun_OffRuleNeverInvoked(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	counting := RuleFunc{RuleID: "counted", Fn: func(ctx *RuleContext) {
		calls.Add(1)
		ctx.ReportSpan(0, 1, "x")
	}}
	rs := New("demo", counting, spanRule("other", "a"))

	opts := ResolveOptions(protocol.RulesetRules(map[string]protocol.RuleConfigEntry{
		"counted": protocol.Off(),
		"other":   protocol.Level("info"),
	}))
	diags, _ := Run(rs, "mem://x", "aaa", opts)

	if calls.Load() != 0 {
		t.Errorf("disabled rule invoked %d times", calls.Load())
	}
	for _, d := range diags {
		if d.RuleID == "counted" {
			t.Errorf("disabled rule produced %+v", d)
		}
	}
	if len(diags) != 3 {
		t.Errorf("got %d diagnostics; want 3", len(diags))
	}
}

func TestRun_PanicIsolated(t *testing.T) {
	t.Parallel()

	boom := RuleFunc{RuleID: "boom", Fn: func(ctx *RuleContext) {
		ctx.ReportSpan(0, 1, "partial")
		panic("kaboom")
	}}
	rs := New("demo", boom, spanRule("ok", "a"))
	opts := Options{"boom": {Severity: "warn"}, "ok": {Severity: "warn"}}

	diags, failures := Run(rs, "mem://x", "a", opts)
	if len(failures) != 1 || failures[0].RuleID != "boom" {
		t.Fatalf("failures = %v; want one for boom", failures)
	}
	if !strings.Contains(failures[0].Error(), "kaboom") {
		t.Errorf("failure message %q should mention the panic", failures[0].Error())
	}
	if len(diags) != 1 || diags[0].RuleID != "ok" {
		t.Errorf("diags = %+v; want only the ok rule", diags)
	}
}

func TestResolveOptions(t *testing.T) {
	t.Parallel()

	opts := ResolveOptions(protocol.RulesetRules(map[string]protocol.RuleConfigEntry{
		"a": protocol.Off(),
		"b": protocol.Level("error"),
		"c": protocol.OptionsOnly(json.RawMessage(`{"n":1}`)),
	}))
	if _, ok := opts["a"]; ok {
		t.Error("off rule should be dropped")
	}
	if opts["b"].Severity != "error" || string(opts["b"].Options) != "{}" {
		t.Errorf("b = %+v", opts["b"])
	}
	if opts["c"].Severity != protocol.DefaultSeverity || string(opts["c"].Options) != `{"n":1}` {
		t.Errorf("c = %+v", opts["c"])
	}

	if len(ResolveOptions(protocol.RulesetOff())) != 0 {
		t.Error("off ruleset should resolve to no rules")
	}
}

func TestRuleContext_DecodeOptions(t *testing.T) {
	t.Parallel()

	ctx := newContext("r", "u", "", RuleSetting{Options: json.RawMessage(`{"max":3}`)})
	var o struct {
		Max int `json:"max"`
	}
	if err := ctx.DecodeOptions(&o); err != nil {
		t.Fatalf("DecodeOptions: %v", err)
	}
	if o.Max != 3 {
		t.Errorf("Max = %d; want 3", o.Max)
	}
}

func TestRunWithContext_LoadsEachFileOnce(t *testing.T) {
	t.Parallel()

	const files = 100
	pctx := protocol.PreprocessingContext{EngineID: "text"}
	for i := 0; i < files; i++ {
		pctx.Files = append(pctx.Files, protocol.FileContext{URI: fmt.Sprintf("mem://%d", i)})
	}

	var (
		loads   = map[string]int{}
		live    atomic.Int32
		maxLive int32
	)
	inspect := RuleFunc{RuleID: "inspect", Fn: func(ctx *RuleContext) {
		if n := live.Load(); n > maxLive {
			maxLive = n
		}
		live.Add(-1)
	}}
	load := func(_ context.Context, uri string) (string, error) {
		loads[uri]++
		live.Add(1)
		return "content of " + uri, nil
	}

	rs := New("demo", inspect)
	res, failures, err := RunWithContext(context.Background(), rs, pctx, Options{"inspect": {Severity: "warn"}}, load)
	if err != nil {
		t.Fatalf("RunWithContext: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}
	if res.FilesProcessed != files {
		t.Errorf("FilesProcessed = %d; want %d", res.FilesProcessed, files)
	}
	for uri, n := range loads {
		if n != 1 {
			t.Errorf("%s loaded %d times; want 1", uri, n)
		}
	}
	if len(loads) != files {
		t.Errorf("loaded %d distinct files; want %d", len(loads), files)
	}
	if maxLive != 1 {
		t.Errorf("max live contents = %d; want 1", maxLive)
	}
}

func TestRunWithContext_LoadErrorAndCancel(t *testing.T) {
	t.Parallel()

	pctx := protocol.PreprocessingContext{Files: []protocol.FileContext{{URI: "mem://bad"}, {URI: "mem://good"}}}
	load := func(_ context.Context, uri string) (string, error) {
		if uri == "mem://bad" {
			return "", errors.New("gone")
		}
		return "a", nil
	}
	rs := New("demo", spanRule("ok", "a"))

	res, failures, err := RunWithContext(context.Background(), rs, pctx, Options{"ok": {Severity: "warn"}}, load)
	if err != nil {
		t.Fatalf("RunWithContext: %v", err)
	}
	if len(failures) != 1 || failures[0].URI != "mem://bad" || failures[0].RuleID != "" {
		t.Errorf("failures = %v; want one load failure", failures)
	}
	if res.FilesProcessed != 1 || len(res.Diagnostics) != 1 {
		t.Errorf("result = %+v; want 1 file, 1 diagnostic", res)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := RunWithContext(ctx, rs, pctx, Options{"ok": {}}, load); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
