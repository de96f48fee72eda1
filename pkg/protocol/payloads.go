// ABOUTME: Request, response, and event payload shapes for every MessageType
// ABOUTME: Includes machine-readable error codes carried in ok:false responses

package protocol

// Error codes carried in the "error" field of an ok:false response.
const (
	ErrCodeNotInitialized     = "not_initialized"
	ErrCodeAlreadyInitialized = "already_initialized"
	ErrCodeEngineTerminated   = "engine_terminated"
	ErrCodeMalformedMessage   = "malformed_message"
	ErrCodeInvalidPayload     = "invalid_payload"
	ErrCodePreprocessFailed   = "preprocess_failed"
	ErrCodeFileTooLarge       = "file_too_large"
)

// WarnNoRulesetsLoaded is set on an initialize result that loaded nothing.
const WarnNoRulesetsLoaded = "no_rulesets_loaded"

// Status is the common head of every response payload.
type Status struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// StatusHead decodes only the status of a response whose success payload
// may not carry an "ok" key at all.
type StatusHead struct {
	OK      *bool  `json:"ok,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Failed reports whether the head shows an explicit ok:false.
func (p StatusHead) Failed() bool {
	return p.OK != nil && !*p.OK
}

// Failure builds an ok:false status.
func Failure(code, message string) Status {
	return Status{OK: false, Error: code, Message: message}
}

// InitializeParams is the initialize request payload.
type InitializeParams struct {
	EngineID      string       `json:"engineId"`
	WorkspaceRoot string       `json:"workspaceRoot"`
	EngineConfig  EngineConfig `json:"engineConfig"`
}

// RulesetLoadFailure records a ruleset that could not be loaded.
type RulesetLoadFailure struct {
	RulesetID   string   `json:"rulesetId"`
	Error       string   `json:"error"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// InitializeResult is the initialize response payload.
type InitializeResult struct {
	Status
	Enabled bool                 `json:"enabled"`
	Loaded  []string             `json:"loaded"`
	Failed  []RulesetLoadFailure `json:"failed,omitempty"`
	Warning string               `json:"warning,omitempty"`
}

// PreprocessFilesParams is the preprocessFiles request payload.
type PreprocessFilesParams struct {
	FileURIs []string `json:"fileUris"`
}

// PreprocessFilesResult is the preprocessFiles response payload; the
// context fields are inlined next to the status.
type PreprocessFilesResult struct {
	Status
	PreprocessingContext
}

// AnalyzeFileParams is the analyzeFile request payload.
type AnalyzeFileParams struct {
	URI     string `json:"uri"`
	Content string `json:"content"`
}

// AnalyzeFileResult is the analyzeFile response payload.
type AnalyzeFileResult struct {
	Status
	DiagnosticCount int `json:"diagnosticCount"`
}

// DiagnosticsEvent carries one analysis batch and precedes its response.
type DiagnosticsEvent struct {
	URI         string       `json:"uri"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// LogEvent is an engine-side log line routed through the protocol.
type LogEvent struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}
