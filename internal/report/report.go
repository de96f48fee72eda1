// ABOUTME: Renders LintResults as json, ndjson, or human-readable text
// ABOUTME: JSON forms are stable machine output; text is for terminals and may use color

package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/mauromedda/forseti-go/internal/config"
	"github.com/mauromedda/forseti-go/pkg/protocol"
)

// Options tune the text renderer.
type Options struct {
	// Color enables severity styling.
	Color bool
	// Width caps message width in columns; 0 means unlimited.
	Width int
}

// Write renders r in format to w.
func Write(w io.Writer, r *protocol.LintResults, format string, opts Options) error {
	switch format {
	case config.FormatJSON, "":
		return writeJSON(w, r)
	case config.FormatNDJSON:
		return writeNDJSON(w, r)
	case config.FormatText:
		return writeText(w, r, opts)
	}
	return fmt.Errorf("unknown output format %q", format)
}

func writeJSON(w io.Writer, r *protocol.LintResults) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// ndjsonFile is one line per file result.
type ndjsonFile struct {
	Kind string `json:"kind"`
	protocol.FileResult
}

// ndjsonSummary is the final line.
type ndjsonSummary struct {
	Kind             string                   `json:"kind"`
	RunID            string                   `json:"runId"`
	TotalFiles       int                      `json:"totalFiles"`
	TotalDiagnostics int                      `json:"totalDiagnostics"`
	ExecutionTimeMs  uint64                   `json:"executionTimeMs"`
	Summary          protocol.ResultSummary   `json:"summary"`
	Results          []protocol.RulesetResult `json:"results"`
	Engines          []protocol.EngineStatus  `json:"engines"`
	Unrouted         []string                 `json:"unrouted,omitempty"`
}

func writeNDJSON(w io.Writer, r *protocol.LintResults) error {
	enc := json.NewEncoder(w)
	for _, f := range r.Files {
		if err := enc.Encode(ndjsonFile{Kind: "file", FileResult: f}); err != nil {
			return err
		}
	}
	// Diagnostics already went out per file.
	results := make([]protocol.RulesetResult, len(r.Results))
	for i, rr := range r.Results {
		rr.Diagnostics = nil
		results[i] = rr
	}
	return enc.Encode(ndjsonSummary{
		Kind:             "summary",
		RunID:            r.RunID,
		TotalFiles:       r.TotalFiles,
		TotalDiagnostics: r.TotalDiagnostics,
		ExecutionTimeMs:  r.ExecutionTimeMs,
		Summary:          r.Summary,
		Results:          results,
		Engines:          r.Engines,
		Unrouted:         r.Unrouted,
	})
}
