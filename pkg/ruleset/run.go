// ABOUTME: Ruleset execution: eager full-text Run and on-demand RunWithContext
// ABOUTME: Panicking rules are isolated into Failures; content is loaded one file at a time

package ruleset

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/mauromedda/forseti-go/pkg/protocol"
)

// Failure records a rule (or a file load) that failed without producing
// diagnostics. RuleID is empty for load failures.
type Failure struct {
	RulesetID string
	RuleID    string
	URI       string
	Err       error
}

func (f Failure) Error() string {
	if f.RuleID == "" {
		return fmt.Sprintf("ruleset %s: loading %s: %v", f.RulesetID, f.URI, f.Err)
	}
	return fmt.Sprintf("ruleset %s: rule %s failed on %s: %v", f.RulesetID, f.RuleID, f.URI, f.Err)
}

// Unwrap returns the underlying error.
func (f Failure) Unwrap() error { return f.Err }

// ContentLoader fetches a file's content by URI.
type ContentLoader func(ctx context.Context, uri string) (string, error)

// Run executes every rule of rs that has an entry in opts against text, in
// declaration order. Each rule gets a fresh context. Diagnostics keep rule
// order and are not re-sorted by position.
func Run(rs *Ruleset, uri, text string, opts Options) ([]protocol.Diagnostic, []Failure) {
	var (
		all      []protocol.Diagnostic
		failures []Failure
	)
	for _, r := range rs.Rules {
		setting, ok := opts[r.ID()]
		if !ok {
			continue
		}
		diags, err := check(r, newContext(r.ID(), uri, text, setting))
		if err != nil {
			failures = append(failures, Failure{RulesetID: rs.ID, RuleID: r.ID(), URI: uri, Err: err})
			continue
		}
		all = append(all, diags...)
	}
	return all, failures
}

// check runs a single rule, converting a panic into an error. A rule that
// panics contributes nothing, even if it reported before panicking.
func check(r Rule, ctx *RuleContext) (diags []protocol.Diagnostic, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			diags = nil
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	r.Check(ctx)
	return ctx.Diagnostics(), nil
}

// RunWithContext executes rs over every file of pctx, fetching each file's
// content through load exactly once and releasing it before the next file.
// At most one file's content is held at a time. Load errors are recorded
// as failures and the file is skipped. The returned error is non-nil only
// when ctx is cancelled.
func RunWithContext(ctx context.Context, rs *Ruleset, pctx protocol.PreprocessingContext, opts Options, load ContentLoader) (protocol.RulesetResult, []Failure, error) {
	start := time.Now()
	result := protocol.RulesetResult{
		RulesetID:   rs.ID,
		EngineID:    pctx.EngineID,
		Diagnostics: []protocol.Diagnostic{},
	}
	var failures []Failure

	for _, fc := range pctx.Files {
		if err := ctx.Err(); err != nil {
			result.ExecutionTimeMs = uint64(time.Since(start).Milliseconds())
			return result, failures, err
		}

		content, err := load(ctx, fc.URI)
		if err != nil {
			failures = append(failures, Failure{RulesetID: rs.ID, URI: fc.URI, Err: err})
			continue
		}

		diags, ruleFailures := Run(rs, fc.URI, content, opts)
		result.Diagnostics = append(result.Diagnostics, diags...)
		failures = append(failures, ruleFailures...)
		result.FilesProcessed++
	}

	result.ExecutionTimeMs = uint64(time.Since(start).Milliseconds())
	return result, failures, nil
}
