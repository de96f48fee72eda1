// ABOUTME: Engine-side protocol server: a per-process state machine driven by host requests
// ABOUTME: Loads rulesets on initialize and answers analysis requests with diagnostics events

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/mauromedda/forseti-go/internal/log"
	"github.com/mauromedda/forseti-go/pkg/protocol"
	"github.com/mauromedda/forseti-go/pkg/ruleset"
	"github.com/mauromedda/forseti-go/pkg/transport"
)

// ErrNotInitialized is returned by in-process calls made before initialize.
var ErrNotInitialized = errors.New("engine not initialized")

// Provider supplies the engine-specific pieces the server drives.
type Provider interface {
	// DefaultConfig returns the configuration used when the host sends none.
	DefaultConfig() protocol.EngineConfig
	// LoadRuleset resolves a ruleset id into runnable rules.
	LoadRuleset(id string) (*ruleset.Ruleset, error)
	// Capabilities describes the engine. It must not change over the
	// lifetime of the process.
	Capabilities() protocol.EngineCapabilities
	// PreprocessFiles builds metadata for uris without reading content.
	PreprocessFiles(uris []string) (protocol.PreprocessingContext, error)
	// ListRulesets returns every ruleset id LoadRuleset knows.
	ListRulesets() []string
}

// State is the lifecycle position of a Server.
type State int

// Server states.
const (
	StateUninitialized State = iota
	StateInitialized
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type loadedRuleset struct {
	rs   *ruleset.Ruleset
	opts ruleset.Options
}

// Server answers host requests over a transport.Conn. One Server serves one
// host for the lifetime of the process.
type Server struct {
	provider Provider
	conn     *transport.Conn
	logger   *log.Logger

	mu            sync.Mutex
	state         State
	engineID      string
	workspaceRoot string
	config        protocol.EngineConfig
	rulesets      map[string]loadedRuleset
	order         []string
}

// NewServer creates a server in the Uninitialized state.
func NewServer(p Provider, conn *transport.Conn) *Server {
	name := p.Capabilities().EngineID
	if name == "" {
		name = "engine"
	}
	return &Server{
		provider: p,
		conn:     conn,
		logger:   log.Named(name),
		state:    StateUninitialized,
	}
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config returns the merged configuration from initialize.
func (s *Server) Config() protocol.EngineConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// WorkspaceRoot returns the root the host announced in initialize.
func (s *Server) WorkspaceRoot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workspaceRoot
}

// Loaded returns the ids of the loaded rulesets in execution order.
func (s *Server) Loaded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Serve reads requests until shutdown, end of input, a fatal transport
// error, or ctx cancellation. End of input and shutdown return nil.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	for {
		env, err := s.conn.Receive()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			s.terminate()
			return nil
		case errors.Is(err, transport.ErrUnknownMessageType):
			// The reply echoes the unknown type so the host can match it by
			// id; the host's Receive hands it back with the same non-fatal
			// error rather than dropping the line.
			if env.Kind == protocol.KindRequest && env.ID != "" {
				if werr := s.conn.Respond(env.Type, env.ID, protocol.Failure(protocol.ErrCodeMalformedMessage, err.Error())); werr != nil {
					return werr
				}
			}
			continue
		default:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			s.logger.Error("%v", err)
			_ = s.conn.Emit(protocol.TypeLog, protocol.LogEvent{Level: "error", Message: err.Error()})
			s.terminate()
			return err
		}

		if err := s.Handle(env); err != nil {
			return err
		}
		if s.State() == StateTerminated {
			return nil
		}
	}
}

func (s *Server) terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateTerminated
	s.rulesets = nil
	s.order = nil
}

// Handle processes one envelope, writing any events and the response. The
// returned error is non-nil only when writing fails.
func (s *Server) Handle(env protocol.Envelope) error {
	if env.Kind != protocol.KindRequest {
		if env.ID != "" {
			return s.fail(env, protocol.ErrCodeMalformedMessage, fmt.Sprintf("host sent a %s; want a req", env.Kind))
		}
		return s.emitLog("warn", "ignoring %s %s from host", env.Kind, env.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateTerminated || s.state == StateShuttingDown {
		return s.fail(env, protocol.ErrCodeEngineTerminated, "engine has shut down")
	}

	switch env.Type {
	case protocol.TypeInitialize:
		return s.handleInitialize(env)
	case protocol.TypeGetDefaultConfig:
		return s.conn.Respond(env.Type, env.ID, s.provider.DefaultConfig())
	case protocol.TypeGetCapabilities:
		return s.conn.Respond(env.Type, env.ID, s.capabilities())
	case protocol.TypeShutdown:
		return s.handleShutdown(env)
	}

	if s.state != StateInitialized {
		return s.fail(env, protocol.ErrCodeNotInitialized, fmt.Sprintf("%s before initialize", env.Type))
	}

	switch env.Type {
	case protocol.TypePreprocessFiles:
		return s.handlePreprocess(env)
	case protocol.TypeAnalyzeFile:
		return s.handleAnalyze(env)
	default:
		return s.fail(env, protocol.ErrCodeMalformedMessage, fmt.Sprintf("unsupported request %q", env.Type))
	}
}

func (s *Server) fail(env protocol.Envelope, code, message string) error {
	return s.conn.Respond(env.Type, env.ID, protocol.Failure(code, message))
}

func (s *Server) emitLog(level, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	s.logger.Debug("%s", msg)
	return s.conn.Emit(protocol.TypeLog, protocol.LogEvent{Level: level, Message: msg})
}

func (s *Server) capabilities() protocol.EngineCapabilities {
	caps := s.provider.Capabilities()
	rulesets := append([]protocol.RulesetInfo(nil), caps.Rulesets...)
	sort.Slice(rulesets, func(i, j int) bool { return rulesets[i].ID < rulesets[j].ID })
	caps.Rulesets = rulesets
	return caps
}

func (s *Server) handleInitialize(env protocol.Envelope) error {
	if s.state != StateUninitialized {
		return s.fail(env, protocol.ErrCodeAlreadyInitialized, "initialize received twice")
	}

	var params protocol.InitializeParams
	if err := env.DecodePayload(&params); err != nil {
		return s.fail(env, protocol.ErrCodeInvalidPayload, err.Error())
	}

	merged := MergeConfig(s.provider.DefaultConfig(), params.EngineConfig)
	result := protocol.InitializeResult{
		Status:  protocol.Status{OK: true},
		Enabled: merged.IsEnabled(),
		Loaded:  []string{},
	}

	loaded := map[string]loadedRuleset{}
	if result.Enabled {
		ids := make([]string, 0, len(merged.Rulesets))
		for id := range merged.Rulesets {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			cfg := merged.Rulesets[id]
			if cfg.Off {
				continue
			}
			rs, err := s.provider.LoadRuleset(id)
			if err != nil {
				failure := protocol.RulesetLoadFailure{
					RulesetID:   id,
					Error:       err.Error(),
					Suggestions: Suggest(id, s.provider.ListRulesets()),
				}
				result.Failed = append(result.Failed, failure)
				if err := s.emitLog("warn", "ruleset %s not loaded: %v", id, err); err != nil {
					return err
				}
				continue
			}
			loaded[id] = loadedRuleset{rs: rs, opts: ruleset.ResolveOptions(cfg)}
			result.Loaded = append(result.Loaded, id)
		}
	}
	if len(result.Loaded) == 0 {
		result.Warning = protocol.WarnNoRulesetsLoaded
	}

	s.engineID = params.EngineID
	s.workspaceRoot = params.WorkspaceRoot
	s.config = merged
	s.rulesets = loaded
	s.order = result.Loaded
	s.state = StateInitialized

	return s.conn.Respond(env.Type, env.ID, result)
}

func (s *Server) handleShutdown(env protocol.Envelope) error {
	s.state = StateShuttingDown
	s.rulesets = nil
	s.order = nil
	err := s.conn.Respond(env.Type, env.ID, protocol.Status{OK: true})
	s.state = StateTerminated
	return err
}

func (s *Server) handlePreprocess(env protocol.Envelope) error {
	var params protocol.PreprocessFilesParams
	if err := env.DecodePayload(&params); err != nil {
		return s.fail(env, protocol.ErrCodeInvalidPayload, err.Error())
	}

	pctx, err := s.provider.PreprocessFiles(params.FileURIs)
	if err != nil {
		return s.fail(env, protocol.ErrCodePreprocessFailed, err.Error())
	}
	if pctx.EngineID == "" {
		pctx.EngineID = s.engineID
	}
	if pctx.Files == nil {
		pctx.Files = []protocol.FileContext{}
	}

	stripped := 0
	for i := range pctx.Files {
		if pctx.Files[i].Content != "" {
			pctx.Files[i].Content = ""
			stripped++
		}
	}
	if stripped > 0 {
		if err := s.emitLog("warn", "preprocessing returned content for %d files; content dropped", stripped); err != nil {
			return err
		}
	}

	return s.conn.Respond(env.Type, env.ID, protocol.PreprocessFilesResult{
		Status:               protocol.Status{OK: true},
		PreprocessingContext: pctx,
	})
}

func (s *Server) handleAnalyze(env protocol.Envelope) error {
	var params protocol.AnalyzeFileParams
	if err := env.DecodePayload(&params); err != nil {
		return s.fail(env, protocol.ErrCodeInvalidPayload, err.Error())
	}

	if limit := s.provider.Capabilities().MaxFileSize; limit != nil && uint64(len(params.Content)) > *limit {
		return s.fail(env, protocol.ErrCodeFileTooLarge,
			fmt.Sprintf("%s is %d bytes; limit is %d", params.URI, len(params.Content), *limit))
	}

	diags := []protocol.Diagnostic{}
	for _, id := range s.order {
		lr := s.rulesets[id]
		found, failures := ruleset.Run(lr.rs, params.URI, params.Content, lr.opts)
		diags = append(diags, found...)
		for _, f := range failures {
			msg, _, _ := strings.Cut(f.Error(), "\n")
			if err := s.emitLog("error", "%s", msg); err != nil {
				return err
			}
		}
	}

	if err := s.conn.Emit(protocol.TypeDiagnostics, protocol.DiagnosticsEvent{URI: params.URI, Diagnostics: diags}); err != nil {
		return err
	}
	return s.conn.Respond(env.Type, env.ID, protocol.AnalyzeFileResult{
		Status:          protocol.Status{OK: true},
		DiagnosticCount: len(diags),
	})
}

// RunPreprocessed runs every loaded ruleset over the files of pctx, pulling
// each file's content through load. It is the in-process counterpart of
// analyzeFile for callers that already hold a preprocessing context.
func (s *Server) RunPreprocessed(ctx context.Context, pctx protocol.PreprocessingContext, load ruleset.ContentLoader) ([]protocol.RulesetResult, []ruleset.Failure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInitialized {
		return nil, nil, ErrNotInitialized
	}
	if pctx.EngineID == "" {
		pctx.EngineID = s.engineID
	}

	var (
		results  []protocol.RulesetResult
		failures []ruleset.Failure
	)
	for _, id := range s.order {
		lr := s.rulesets[id]
		res, fs, err := ruleset.RunWithContext(ctx, lr.rs, pctx, lr.opts, load)
		failures = append(failures, fs...)
		if err != nil {
			return results, failures, fmt.Errorf("running ruleset %s: %w", id, err)
		}
		results = append(results, res)
	}
	return results, failures, nil
}
