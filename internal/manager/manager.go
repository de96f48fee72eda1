// ABOUTME: Engine manager: registers discovered engines, starts them on demand, routes files, reaps idle ones
// ABOUTME: Different engines run concurrently; each engine serves one request at a time

package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/mauromedda/forseti-go/internal/log"
	"github.com/mauromedda/forseti-go/pkg/protocol"
)

// AnalysisResult is what one engine reported for one file.
type AnalysisResult struct {
	EngineID    string
	URI         string
	Diagnostics []protocol.Diagnostic
	Logs        []protocol.LogEvent
	Duration    time.Duration
}

// EngineSnapshot is a point-in-time view of a registered engine.
type EngineSnapshot struct {
	ID           string
	State        State
	PID          int
	BinaryPath   string
	Version      string
	FilePatterns []string
	LastActivity time.Time
	LastError    error
}

// ShutdownStatus reports how one engine went down in ShutdownAll.
type ShutdownStatus struct {
	EngineID string
	Graceful bool
	Err      error
}

// Manager owns every engine process the host starts.
type Manager struct {
	opts    options
	metrics *metrics
	bus     *stateBus

	// ctx bounds every spawned process; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	handles map[string]*handle
	closed  bool
}

// New creates a manager with no registered engines.
func New(opts ...Option) *Manager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:    o,
		metrics: newMetrics(),
		bus:     newStateBus(),
		ctx:     ctx,
		cancel:  cancel,
		handles: make(map[string]*handle),
	}
}

// Metrics returns the registry holding the manager's metrics.
func (m *Manager) Metrics() *prometheus.Registry {
	return m.metrics.registry
}

// Subscribe registers fn for every state transition and returns a function
// that unregisters it.
func (m *Manager) Subscribe(fn func(StateChange)) func() {
	return m.bus.subscribe(fn)
}

// Register adds engines as NotStarted. An id that is already registered is
// updated only while its engine is not running.
func (m *Manager) Register(infos ...EngineInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, info := range infos {
		if h, ok := m.handles[info.ID]; ok {
			h.mu.Lock()
			if !h.state.Running() && h.state != StateStarting && h.state != StateShuttingDown {
				h.info = info
			}
			h.mu.Unlock()
			continue
		}
		m.handles[info.ID] = newHandle(info)
	}
}

// Refresh re-runs discovery over the configured search paths. New engines
// are registered; engines whose binaries disappeared are dropped unless
// they are running.
func (m *Manager) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	infos, err := Discover(m.opts.searchPaths)
	m.Register(infos...)

	present := make(map[string]bool, len(infos))
	for _, info := range infos {
		present[info.ID] = true
	}
	m.mu.Lock()
	for id, h := range m.handles {
		if present[id] || h.info.SearchPath == "" {
			continue
		}
		if st := h.currentState(); st == StateNotStarted || st == StateStopped || st == StateCrashed {
			log.Info("engine %s removed from %s", id, h.info.SearchPath)
			delete(m.handles, id)
		}
	}
	m.mu.Unlock()
	return err
}

func (m *Manager) handle(id string) (*handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	h, ok := m.handles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEngineNotFound, id)
	}
	return h, nil
}

func (m *Manager) allHandles() []*handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*handle, 0, len(m.handles))
	for _, h := range m.handles {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].info.ID < out[j].info.ID })
	return out
}

// setState records a transition and notifies subscribers. Callers hold
// h.callMu.
func (m *Manager) setState(h *handle, to State, cause error) {
	h.mu.Lock()
	from := h.state
	h.state = to
	if cause != nil {
		h.lastErr = cause
	}
	h.mu.Unlock()

	if from == to {
		return
	}
	switch {
	case to.Running() && !from.Running():
		m.metrics.running.Inc()
	case !to.Running() && from.Running():
		m.metrics.running.Dec()
	}
	log.Debug("engine %s: %s -> %s", h.info.ID, from, to)
	m.bus.publish(StateChange{EngineID: h.info.ID, From: from, To: to, At: m.opts.now(), Err: cause})
}

func (m *Manager) touch(h *handle) {
	h.mu.Lock()
	h.lastActivity = m.opts.now()
	h.mu.Unlock()
}

// crash kills the process and marks the handle Crashed. Callers hold
// h.callMu.
func (m *Manager) crash(h *handle, cause error) error {
	h.mu.Lock()
	proc := h.proc
	h.proc = nil
	h.mu.Unlock()
	if proc != nil {
		proc.kill()
		proc.release()
	}
	m.metrics.crashes.WithLabelValues(h.info.ID).Inc()
	err := engineErr(h.info.ID, ErrEngineCrashed, "%v", cause)
	m.setState(h, StateCrashed, err)
	h.logger.Error("%v", cause)
	return err
}

// Start spawns and initializes engine id with cfg. Starting a running
// engine returns its original initialize result; starting a Stopped or
// Crashed engine restarts it.
func (m *Manager) Start(ctx context.Context, id string, cfg protocol.EngineConfig) (protocol.InitializeResult, error) {
	h, err := m.handle(id)
	if err != nil {
		return protocol.InitializeResult{}, err
	}
	h.callMu.Lock()
	defer h.callMu.Unlock()

	h.mu.Lock()
	if h.state.Running() && h.init != nil {
		res := *h.init
		h.mu.Unlock()
		return res, nil
	}
	info := h.info
	h.caps, h.init = nil, nil
	h.mu.Unlock()

	m.setState(h, StateStarting, nil)
	proc, err := spawn(m.ctx, info)
	if err != nil {
		m.metrics.crashes.WithLabelValues(id).Inc()
		m.setState(h, StateCrashed, err)
		return protocol.InitializeResult{}, fmt.Errorf("engine %s: %w", id, err)
	}
	h.mu.Lock()
	h.proc = proc
	h.mu.Unlock()

	startCtx, cancel := context.WithTimeout(ctx, m.opts.startTimeout)
	defer cancel()

	env, err := h.exchange(startCtx, proc, protocol.TypeInitialize, protocol.InitializeParams{
		EngineID:      id,
		WorkspaceRoot: m.opts.workspaceRoot,
		EngineConfig:  cfg,
	}, func(ev protocol.Envelope) { h.forwardLog(ev) })
	if err != nil {
		if errors.Is(startCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			_ = m.crash(h, err)
			return protocol.InitializeResult{}, engineErr(id, ErrEngineStartTimeout, "no initialize response within %s", m.opts.startTimeout)
		}
		return protocol.InitializeResult{}, m.crash(h, err)
	}
	if err := h.checkStatus(env); err != nil {
		m.stopProcess(h, proc)
		m.setState(h, StateStopped, err)
		return protocol.InitializeResult{}, err
	}
	var res protocol.InitializeResult
	if err := env.DecodePayload(&res); err != nil {
		return protocol.InitializeResult{}, m.crash(h, fmt.Errorf("decoding initialize result: %w", err))
	}

	capsCtx, cancelCaps := context.WithTimeout(ctx, m.opts.callTimeout)
	defer cancelCaps()
	env, err = h.exchange(capsCtx, proc, protocol.TypeGetCapabilities, nil, func(ev protocol.Envelope) { h.forwardLog(ev) })
	if err != nil {
		return protocol.InitializeResult{}, m.crash(h, err)
	}
	var caps protocol.EngineCapabilities
	if err := env.DecodePayload(&caps); err != nil {
		return protocol.InitializeResult{}, m.crash(h, fmt.Errorf("decoding capabilities: %w", err))
	}

	for _, f := range res.Failed {
		h.logger.Warn("ruleset %s failed to load: %s", f.RulesetID, f.Error)
	}
	if res.Warning != "" {
		h.logger.Warn("%s", res.Warning)
	}

	h.mu.Lock()
	h.caps = &caps
	h.init = &res
	h.lastErr = nil
	h.mu.Unlock()
	m.touch(h)
	m.metrics.starts.WithLabelValues(id).Inc()
	m.setState(h, StateReady, nil)
	return res, nil
}

// acquire locks h for a call and returns its live process. On error the
// lock is not held.
func (m *Manager) acquire(h *handle) (*process, error) {
	h.callMu.Lock()
	h.mu.Lock()
	state, proc := h.state, h.proc
	h.mu.Unlock()
	if !state.Running() || proc == nil {
		h.callMu.Unlock()
		return nil, fmt.Errorf("engine %s: %w (state %s)", h.info.ID, ErrEngineNotRunning, state)
	}
	if state == StateIdle {
		m.setState(h, StateReady, nil)
	}
	return proc, nil
}

// call runs one serialized exchange on a running engine, stamping activity
// and recording latency. Transport failures crash the handle.
func (m *Manager) call(ctx context.Context, id string, typ protocol.MessageType, payload any, onEvent func(protocol.Envelope)) (protocol.Envelope, time.Duration, error) {
	h, err := m.handle(id)
	if err != nil {
		return protocol.Envelope{}, 0, err
	}
	proc, err := m.acquire(h)
	if err != nil {
		return protocol.Envelope{}, 0, err
	}
	defer h.callMu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, m.opts.callTimeout)
	defer cancel()

	start := time.Now()
	env, err := h.exchange(callCtx, proc, typ, payload, onEvent)
	elapsed := time.Since(start)
	m.metrics.callDuration.WithLabelValues(id, string(typ)).Observe(elapsed.Seconds())
	if err != nil {
		return protocol.Envelope{}, elapsed, m.crash(h, err)
	}
	m.touch(h)
	return env, elapsed, h.checkStatus(env)
}

// AnalyzeFile sends one file to a running engine and collects its
// diagnostics. An ok:false reply is an *EngineError and leaves the engine
// running; a dead or silent engine is ErrEngineCrashed.
func (m *Manager) AnalyzeFile(ctx context.Context, id, uri, content string) (*AnalysisResult, error) {
	h, err := m.handle(id)
	if err != nil {
		return nil, err
	}
	result := &AnalysisResult{EngineID: id, URI: uri, Diagnostics: []protocol.Diagnostic{}}
	onEvent := func(ev protocol.Envelope) {
		switch ev.Type {
		case protocol.TypeDiagnostics:
			var d protocol.DiagnosticsEvent
			if err := ev.DecodePayload(&d); err != nil {
				h.logger.Warn("undecodable diagnostics event: %v", err)
				return
			}
			if d.URI != uri {
				h.logger.Warn("diagnostics for %s while analyzing %s", d.URI, uri)
				return
			}
			result.Diagnostics = append(result.Diagnostics, d.Diagnostics...)
		case protocol.TypeLog:
			if le, ok := h.forwardLog(ev); ok {
				result.Logs = append(result.Logs, le)
			}
		}
	}

	_, elapsed, err := m.call(ctx, id, protocol.TypeAnalyzeFile, protocol.AnalyzeFileParams{URI: uri, Content: content}, onEvent)
	result.Duration = elapsed
	if err != nil {
		return result, err
	}
	return result, nil
}

// AnalyzeFileAll sends the file to every running engine whose patterns
// match it, concurrently. Results are ordered by engine id; failures are
// joined into the error.
func (m *Manager) AnalyzeFileAll(ctx context.Context, uri, content string) ([]*AnalysisResult, error) {
	p := NormalizePath(uriPath(uri))
	var ids []string
	for _, h := range m.allHandles() {
		if h.currentState().Running() && matchAny(h.patterns(), p) {
			ids = append(ids, h.info.ID)
		}
	}

	results := make([]*AnalysisResult, len(ids))
	errs := make([]error, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			results[i], errs[i] = m.AnalyzeFile(ctx, id, uri, content)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*AnalysisResult, 0, len(ids))
	for i := range ids {
		if errs[i] == nil {
			out = append(out, results[i])
		}
	}
	return out, errors.Join(errs...)
}

// Preprocess asks a running engine for metadata about uris. The returned
// context never carries file content.
func (m *Manager) Preprocess(ctx context.Context, id string, uris []string) (protocol.PreprocessingContext, error) {
	h, err := m.handle(id)
	if err != nil {
		return protocol.PreprocessingContext{}, err
	}
	env, _, err := m.call(ctx, id, protocol.TypePreprocessFiles, protocol.PreprocessFilesParams{FileURIs: uris},
		func(ev protocol.Envelope) { h.forwardLog(ev) })
	if err != nil {
		return protocol.PreprocessingContext{}, err
	}
	var res protocol.PreprocessFilesResult
	if err := env.DecodePayload(&res); err != nil {
		return protocol.PreprocessingContext{}, fmt.Errorf("engine %s: decoding preprocess result: %w", id, err)
	}
	for _, f := range res.Files {
		if f.Content != "" {
			return protocol.PreprocessingContext{}, &EngineError{
				EngineID: id,
				Code:     protocol.ErrCodeInvalidPayload,
				Message:  "preprocessing returned content for " + f.URI,
			}
		}
	}
	return res.PreprocessingContext, nil
}

// Capabilities returns what a started engine declared.
func (m *Manager) Capabilities(id string) (protocol.EngineCapabilities, error) {
	h, err := m.handle(id)
	if err != nil {
		return protocol.EngineCapabilities{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.caps == nil {
		return protocol.EngineCapabilities{}, fmt.Errorf("engine %s: %w", id, ErrEngineNotRunning)
	}
	return *h.caps, nil
}

// State returns an engine's current state.
func (m *Manager) State(id string) (State, error) {
	h, err := m.handle(id)
	if err != nil {
		return StateNotStarted, err
	}
	return h.currentState(), nil
}

// Engines returns a snapshot of every registered engine, sorted by id.
func (m *Manager) Engines() []EngineSnapshot {
	handles := m.allHandles()
	out := make([]EngineSnapshot, 0, len(handles))
	for _, h := range handles {
		patterns := h.patterns()
		h.mu.Lock()
		s := EngineSnapshot{
			ID:           h.info.ID,
			State:        h.state,
			BinaryPath:   h.info.BinaryPath,
			Version:      h.info.Version,
			FilePatterns: append([]string(nil), patterns...),
			LastActivity: h.lastActivity,
			LastError:    h.lastErr,
		}
		if h.proc != nil {
			s.PID = h.proc.pid()
		}
		if h.caps != nil && h.caps.Version != "" {
			s.Version = h.caps.Version
		}
		h.mu.Unlock()
		out = append(out, s)
	}
	return out
}

// Running returns the ids of Ready and Idle engines, sorted.
func (m *Manager) Running() []string {
	var ids []string
	for _, h := range m.allHandles() {
		if h.currentState().Running() {
			ids = append(ids, h.info.ID)
		}
	}
	return ids
}

// SetIdleTimeout changes the reaping threshold for later sweeps.
func (m *Manager) SetIdleTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.opts.idleTimeout = d
	}
}

func (m *Manager) idleTimeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opts.idleTimeout
}

// Route returns the engines whose patterns match path: running engines
// first, then engines that can be started. Crashed engines are left out
// until restarted explicitly. ok is false when nothing matches.
func (m *Manager) Route(path string) (ids []string, ok bool) {
	p := NormalizePath(path)
	var ready, startable []string
	for _, h := range m.allHandles() {
		if !matchAny(h.patterns(), p) {
			continue
		}
		switch st := h.currentState(); {
		case st.Running():
			ready = append(ready, h.info.ID)
		case st == StateNotStarted || st == StateStopped:
			startable = append(startable, h.info.ID)
		}
	}
	ids = append(ready, startable...)
	return ids, len(ids) > 0
}

// Reap stops every running engine idle for longer than the idle timeout
// and marks quieter-than-half engines Idle. Engines whose process already
// exited are marked Crashed. Engines busy with a call are skipped. It
// returns the ids it stopped.
func (m *Manager) Reap(ctx context.Context) []string {
	threshold := m.idleTimeout()
	now := m.opts.now()

	var reaped []string
	for _, h := range m.allHandles() {
		if ctx.Err() != nil {
			break
		}
		if !h.callMu.TryLock() {
			continue
		}
		state, proc, last := h.snapshot()
		if state.Running() && proc != nil && proc.exited() {
			_ = m.crash(h, fmt.Errorf("exited while idle: %v", proc.waitErr))
			h.callMu.Unlock()
			continue
		}
		if state.Running() && proc != nil {
			switch quiet := now.Sub(last); {
			case quiet > threshold:
				h.logger.Info("idle for %s; stopping", quiet.Round(time.Second))
				m.stop(h, proc)
				m.metrics.reaped.WithLabelValues(h.info.ID).Inc()
				reaped = append(reaped, h.info.ID)
			case state == StateReady && quiet > threshold/2:
				m.setState(h, StateIdle, nil)
			}
		}
		h.callMu.Unlock()
	}
	return reaped
}

// RunReaper calls Reap on every reap interval until ctx ends.
func (m *Manager) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(m.opts.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if ids := m.Reap(ctx); len(ids) > 0 {
				log.Debug("reaped idle engines: %v", ids)
			}
		}
	}
}

// stop asks the engine to shut down and kills it if it has not exited
// within the grace period. Callers hold h.callMu. It reports whether the
// engine went down on its own.
func (m *Manager) stop(h *handle, proc *process) bool {
	m.setState(h, StateShuttingDown, nil)
	graceful := m.stopProcess(h, proc)
	h.mu.Lock()
	h.caps, h.init = nil, nil
	h.mu.Unlock()
	m.setState(h, StateStopped, nil)
	return graceful
}

func (m *Manager) stopProcess(h *handle, proc *process) bool {
	graceCtx, cancel := context.WithTimeout(m.ctx, m.opts.shutdownGrace)
	defer cancel()

	graceful := false
	if _, err := h.exchange(graceCtx, proc, protocol.TypeShutdown, nil, func(ev protocol.Envelope) { h.forwardLog(ev) }); err != nil {
		h.logger.Debug("shutdown: %v", err)
	} else {
		_ = proc.stdin.Close()
		graceful = proc.wait(m.opts.shutdownGrace)
	}
	if !graceful {
		proc.kill()
		proc.wait(m.opts.shutdownGrace)
	}
	proc.release()

	h.mu.Lock()
	if h.proc == proc {
		h.proc = nil
	}
	h.mu.Unlock()
	return graceful
}

// ShutdownAll stops every running engine concurrently within the shutdown
// timeout. Engines that do not finish in time are killed. It never fails;
// per-engine outcomes are in the result, sorted by id.
func (m *Manager) ShutdownAll(ctx context.Context) []ShutdownStatus {
	ctx, cancel := context.WithTimeout(ctx, m.opts.shutdownTimeout)
	defer cancel()

	var targets []*handle
	for _, h := range m.allHandles() {
		if _, proc, _ := h.snapshot(); proc != nil {
			targets = append(targets, h)
		}
	}

	statuses := make([]ShutdownStatus, len(targets))
	var g errgroup.Group
	for i, h := range targets {
		g.Go(func() error {
			statuses[i] = m.shutdownOne(ctx, h)
			return nil
		})
	}
	_ = g.Wait()
	return statuses
}

func (m *Manager) shutdownOne(ctx context.Context, h *handle) ShutdownStatus {
	status := ShutdownStatus{EngineID: h.info.ID}

	locked := make(chan struct{})
	go func() {
		h.callMu.Lock()
		close(locked)
	}()

	select {
	case <-locked:
	case <-ctx.Done():
		// A call is holding the engine; killing it ends that call.
		if _, proc, _ := h.snapshot(); proc != nil {
			proc.kill()
		}
		<-locked
		status.Err = ctx.Err()
	}
	defer h.callMu.Unlock()

	_, proc, _ := h.snapshot()
	if proc == nil {
		if st := h.currentState(); st != StateStopped {
			m.setState(h, StateStopped, nil)
		}
		return status
	}
	status.Graceful = m.stop(h, proc) && status.Err == nil
	if !status.Graceful && status.Err == nil {
		status.Err = fmt.Errorf("engine %s did not exit within %s; killed", h.info.ID, m.opts.shutdownGrace)
	}
	return status
}

// Close kills every engine this manager started and rejects later calls.
// Use ShutdownAll first for a graceful stop.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	handles := make([]*handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	m.cancel()
	for _, h := range handles {
		if _, proc, _ := h.snapshot(); proc != nil {
			proc.kill()
			proc.wait(m.opts.shutdownGrace)
			proc.release()
		}
	}
	return nil
}
