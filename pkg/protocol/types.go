// ABOUTME: Shared vocabulary exchanged by every message: positions, diagnostics, capabilities
// ABOUTME: Also holds preprocessing metadata and the host-side aggregated result shapes

package protocol

// Severity values by convention. The wire does not enforce them.
const (
	SeverityError = "error"
	SeverityWarn  = "warn"
	SeverityInfo  = "info"
)

// Position is a zero-based line/character coordinate.
type Position struct {
	Line      uint32 `json:"line"`
	Character uint32 `json:"character"`
}

// Range is a half-open span between two positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Fix is a text replacement over a range.
type Fix struct {
	Range Range  `json:"range"`
	Text  string `json:"text"`
}

// SuggestFix is a titled, optionally automatic, remediation.
type SuggestFix struct {
	Title string `json:"title"`
	Fix   *Fix   `json:"fix,omitempty"`
}

// Diagnostic is a single finding reported by a rule.
type Diagnostic struct {
	RuleID   string       `json:"ruleId"`
	Message  string       `json:"message"`
	Severity string       `json:"severity"`
	Range    Range        `json:"range"`
	Code     string       `json:"code,omitempty"`
	Suggest  []SuggestFix `json:"suggest,omitempty"`
	DocsURL  string       `json:"docsUrl,omitempty"`
}

// RulesetInfo describes a ruleset an engine can load.
type RulesetInfo struct {
	ID    string   `json:"id"`
	Rules []string `json:"rules"`
}

// EngineCapabilities is declared once per engine process and never changes.
type EngineCapabilities struct {
	EngineID     string        `json:"engineId"`
	Version      string        `json:"version"`
	FilePatterns []string      `json:"filePatterns"`
	MaxFileSize  *uint64       `json:"maxFileSize,omitempty"`
	Rulesets     []RulesetInfo `json:"rulesets,omitempty"`
}

// FileContext is per-file metadata produced by preprocessing.
// Content is always empty: preprocessing never carries file bytes.
type FileContext struct {
	URI      string         `json:"uri"`
	Content  string         `json:"content"`
	Language *string        `json:"language,omitempty"`
	Context  map[string]any `json:"context"`
}

// PreprocessingContext is the content-free result of preprocessFiles.
type PreprocessingContext struct {
	EngineID      string         `json:"engineId"`
	Files         []FileContext  `json:"files"`
	GlobalContext map[string]any `json:"globalContext"`
}

// RulesetResult is the output of one ruleset over one or more files.
type RulesetResult struct {
	RulesetID       string       `json:"rulesetId"`
	EngineID        string       `json:"engineId"`
	Diagnostics     []Diagnostic `json:"diagnostics"`
	ExecutionTimeMs uint64       `json:"executionTimeMs"`
	FilesProcessed  int          `json:"filesProcessed"`
}

// ResultSummary counts diagnostics by severity.
type ResultSummary struct {
	Errors       int      `json:"errors"`
	Warnings     int      `json:"warnings"`
	Info         int      `json:"info"`
	EnginesUsed  []string `json:"enginesUsed"`
	RulesetsUsed []string `json:"rulesetsUsed"`
}

// EngineStatus reports how an engine fared during a lint run.
type EngineStatus struct {
	EngineID string `json:"engineId"`
	State    string `json:"state"`
	Files    int    `json:"files"`
	Error    string `json:"error,omitempty"`
}

// FileResult is what one engine reported for one file. Error is set when
// the file could not be read or the engine failed on it.
type FileResult struct {
	Path        string       `json:"path"`
	URI         string       `json:"uri"`
	EngineID    string       `json:"engineId,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics"`
	Error       string       `json:"error,omitempty"`
}

// LintResults is the host-owned aggregate of a whole run.
type LintResults struct {
	RunID            string          `json:"runId"`
	Results          []RulesetResult `json:"results"`
	Files            []FileResult    `json:"files"`
	TotalFiles       int             `json:"totalFiles"`
	TotalDiagnostics int             `json:"totalDiagnostics"`
	ExecutionTimeMs  uint64          `json:"executionTimeMs"`
	Summary          ResultSummary   `json:"summary"`
	Engines          []EngineStatus  `json:"engines"`
	Unrouted         []string        `json:"unrouted,omitempty"`
}

// Count tallies a diagnostic into the summary by severity.
// Unknown severities count as info.
func (s *ResultSummary) Count(d Diagnostic) {
	switch d.Severity {
	case SeverityError:
		s.Errors++
	case SeverityWarn:
		s.Warnings++
	default:
		s.Info++
	}
}
