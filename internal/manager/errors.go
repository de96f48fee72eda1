// ABOUTME: Host-side engine errors: sentinels for lifecycle failures and EngineError for ok:false replies
// ABOUTME: Callers match with errors.Is / errors.As; every error names the engine involved

package manager

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineNotFound means no engine with the id is registered.
	ErrEngineNotFound = errors.New("engine not found")
	// ErrEngineNotRunning means the engine must be started first.
	ErrEngineNotRunning = errors.New("engine not running")
	// ErrEngineStartTimeout means the engine did not answer initialize in time.
	ErrEngineStartTimeout = errors.New("engine start timed out")
	// ErrEngineCrashed means the process died, broke framing, or timed out
	// mid-request. The handle is Crashed until explicitly restarted.
	ErrEngineCrashed = errors.New("engine crashed")
	// ErrManagerClosed means Close has already run.
	ErrManagerClosed = errors.New("engine manager closed")
)

// EngineError is an ok:false response from an engine. The engine stays
// usable.
type EngineError struct {
	EngineID string
	Code     string
	Message  string
}

func (e *EngineError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("engine %s: %s", e.EngineID, e.Code)
	}
	return fmt.Sprintf("engine %s: %s: %s", e.EngineID, e.Code, e.Message)
}

func engineErr(id string, sentinel error, format string, args ...any) error {
	return fmt.Errorf("engine %s: %w: %s", id, sentinel, fmt.Sprintf(format, args...))
}
