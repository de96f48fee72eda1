// ABOUTME: Host-side lint run: routes files to engines, starts them on demand, fans analysis out, aggregates results
// ABOUTME: One engine failing is recorded in its EngineStatus and never stops files routed elsewhere

package linter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mauromedda/forseti-go/internal/config"
	"github.com/mauromedda/forseti-go/internal/log"
	"github.com/mauromedda/forseti-go/internal/manager"
	"github.com/mauromedda/forseti-go/pkg/protocol"
)

// Linter drives one manager through lint runs.
type Linter struct {
	mgr     *manager.Manager
	cfg     *config.Config
	workers int
}

// New creates a linter. Engines configured with an explicit path are
// registered with mgr.
func New(mgr *manager.Manager, cfg *config.Config) *Linter {
	if cfg == nil {
		cfg = config.Defaults()
	}
	for _, id := range cfg.EngineIDs() {
		if p := cfg.Engines[id].Path; p != "" {
			mgr.Register(manager.EngineInfo{ID: id, BinaryPath: p})
		}
	}
	return &Linter{mgr: mgr, cfg: cfg, workers: cfg.Workers()}
}

// engineRun accumulates one engine's share of a run.
type engineRun struct {
	id       string
	files    []string
	started  bool
	caps     protocol.EngineCapabilities
	loaded   []string
	duration time.Duration
	analyzed int
	diags    map[string][]protocol.Diagnostic // by ruleset id
	errs     []error
}

// Run lints paths, which must be files. The returned results are complete
// even when engines fail; err is only set when ctx ends first.
func (l *Linter) Run(ctx context.Context, paths []string) (*protocol.LintResults, error) {
	start := time.Now()
	results := &protocol.LintResults{
		RunID:   uuid.NewString(),
		Results: []protocol.RulesetResult{},
		Files:   []protocol.FileResult{},
		Engines: []protocol.EngineStatus{},
		Summary: protocol.ResultSummary{EnginesUsed: []string{}, RulesetsUsed: []string{}},
	}

	runs := map[string]*engineRun{}
	routes := map[string][]string{}
	for _, p := range paths {
		ids := l.enabled(l.route(p))
		if len(ids) == 0 {
			results.Unrouted = append(results.Unrouted, p)
			continue
		}
		routes[p] = ids
		for _, id := range ids {
			r, ok := runs[id]
			if !ok {
				r = &engineRun{id: id, diags: map[string][]protocol.Diagnostic{}}
				runs[id] = r
			}
			r.files = append(r.files, p)
		}
	}
	results.TotalFiles = len(paths)

	l.startAll(ctx, runs)
	l.preprocessAll(ctx, runs)

	var mu sync.Mutex
	sem := semaphore.NewWeighted(int64(l.workers))
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range sortedKeys(routes) {
		ids := routes[p]
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			files := l.lintFile(gctx, p, ids, runs, &mu)
			mu.Lock()
			results.Files = append(results.Files, files...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	l.aggregate(results, runs)
	results.ExecutionTimeMs = uint64(time.Since(start).Milliseconds())
	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("lint run %s: %w", results.RunID, err)
	}
	return results, nil
}

// route maps a path to the ids of engines claiming it.
func (l *Linter) route(p string) []string {
	ids, _ := l.mgr.Route(p)
	return ids
}

// enabled drops engines the config turns off.
func (l *Linter) enabled(ids []string) []string {
	var out []string
	for _, id := range ids {
		if s, ok := l.cfg.Engines[id]; ok && !s.IsEnabled() {
			continue
		}
		out = append(out, id)
	}
	return out
}

// startAll starts every engine with work, concurrently.
func (l *Linter) startAll(ctx context.Context, runs map[string]*engineRun) {
	var g errgroup.Group
	for _, r := range runs {
		g.Go(func() error {
			cfg, err := l.cfg.Engines[r.id].EngineConfig()
			if err != nil {
				r.errs = append(r.errs, err)
				return nil
			}
			res, err := l.mgr.Start(ctx, r.id, cfg)
			if err != nil {
				log.Warn("starting %s: %v", r.id, err)
				r.errs = append(r.errs, err)
				return nil
			}
			if !res.Enabled {
				r.errs = append(r.errs, fmt.Errorf("engine %s is disabled", r.id))
				return nil
			}
			r.started = true
			r.loaded = res.Loaded
			if caps, err := l.mgr.Capabilities(r.id); err == nil {
				r.caps = caps
			}
			return nil
		})
	}
	_ = g.Wait()
}

// preprocessAll gives each started engine the list of files it will see.
// Failures are logged; analysis does not depend on them.
func (l *Linter) preprocessAll(ctx context.Context, runs map[string]*engineRun) {
	var g errgroup.Group
	for _, r := range runs {
		if !r.started {
			continue
		}
		g.Go(func() error {
			uris := make([]string, len(r.files))
			for i, p := range r.files {
				uris[i] = FileURI(p)
			}
			pctx, err := l.mgr.Preprocess(ctx, r.id, uris)
			if err != nil {
				log.Warn("preprocessing for %s: %v", r.id, err)
				if errors.Is(err, manager.ErrEngineCrashed) {
					r.errs = append(r.errs, err)
				}
				return nil
			}
			log.Debug("%s preprocessed %d files", r.id, len(pctx.Files))
			return nil
		})
	}
	_ = g.Wait()
}

// lintFile reads p once and analyzes it with every engine routed to it.
func (l *Linter) lintFile(ctx context.Context, p string, ids []string, runs map[string]*engineRun, mu *sync.Mutex) []protocol.FileResult {
	uri := FileURI(p)
	data, err := os.ReadFile(p)
	if err != nil {
		return []protocol.FileResult{{Path: p, URI: uri, Diagnostics: []protocol.Diagnostic{}, Error: err.Error()}}
	}
	content := string(data)

	out := make([]protocol.FileResult, 0, len(ids))
	for _, id := range ids {
		r := runs[id]
		if !r.started {
			continue
		}
		fr := protocol.FileResult{Path: p, URI: uri, EngineID: id, Diagnostics: []protocol.Diagnostic{}}
		res, err := l.mgr.AnalyzeFile(ctx, id, uri, content)

		mu.Lock()
		if res != nil {
			r.duration += res.Duration
		}
		if err != nil {
			fr.Error = err.Error()
			r.errs = append(r.errs, err)
		} else {
			r.analyzed++
			fr.Diagnostics = res.Diagnostics
			for _, d := range res.Diagnostics {
				rs := rulesetOf(r.caps, d.RuleID, id)
				r.diags[rs] = append(r.diags[rs], d)
			}
		}
		mu.Unlock()
		out = append(out, fr)
	}
	return out
}

// aggregate turns per-engine accumulators into results, summary, and
// statuses, all sorted for stable output.
func (l *Linter) aggregate(results *protocol.LintResults, runs map[string]*engineRun) {
	sort.Slice(results.Files, func(i, j int) bool {
		a, b := results.Files[i], results.Files[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.EngineID < b.EngineID
	})

	rulesetsUsed := map[string]bool{}
	for _, id := range sortedKeys(runs) {
		r := runs[id]
		if r.started {
			results.Summary.EnginesUsed = append(results.Summary.EnginesUsed, id)
			for _, rsID := range r.loaded {
				if _, ok := r.diags[rsID]; !ok {
					r.diags[rsID] = nil
				}
			}
		}
		for _, rsID := range sortedKeys(r.diags) {
			diags := r.diags[rsID]
			if diags == nil {
				diags = []protocol.Diagnostic{}
			}
			for _, d := range diags {
				results.Summary.Count(d)
			}
			results.TotalDiagnostics += len(diags)
			rulesetsUsed[rsID] = true
			results.Results = append(results.Results, protocol.RulesetResult{
				RulesetID:       rsID,
				EngineID:        id,
				Diagnostics:     diags,
				ExecutionTimeMs: uint64(r.duration.Milliseconds()),
				FilesProcessed:  r.analyzed,
			})
		}

		status := protocol.EngineStatus{EngineID: id, Files: r.analyzed}
		if st, err := l.mgr.State(id); err == nil {
			status.State = st.String()
		}
		if len(r.errs) > 0 {
			status.Error = summarize(r.errs)
		}
		results.Engines = append(results.Engines, status)
	}
	results.Summary.RulesetsUsed = sortedKeys(rulesetsUsed)
}

// HasFailures reports whether the run should fail the build: any
// error-severity diagnostic, any engine error, or any unreadable file.
func HasFailures(r *protocol.LintResults) bool {
	if r.Summary.Errors > 0 {
		return true
	}
	for _, e := range r.Engines {
		if e.Error != "" {
			return true
		}
	}
	for _, f := range r.Files {
		if f.Error != "" {
			return true
		}
	}
	return false
}

// FileURI converts a filesystem path into a file:// URI.
func FileURI(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	slashed := filepath.ToSlash(p)
	if len(slashed) > 0 && slashed[0] != '/' {
		slashed = "/" + slashed
	}
	return (&url.URL{Scheme: "file", Path: slashed}).String()
}

// rulesetOf finds the ruleset declaring ruleID, falling back to the
// engine id when the engine did not list its rules.
func rulesetOf(caps protocol.EngineCapabilities, ruleID, engineID string) string {
	for _, rs := range caps.Rulesets {
		for _, r := range rs.Rules {
			if r == ruleID {
				return rs.ID
			}
		}
	}
	return engineID
}

func summarize(errs []error) string {
	msg := errs[0].Error()
	if len(errs) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(errs)-1)
	}
	return msg
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
