// ABOUTME: Per-engine handle: lifecycle state, owned process, and the serialized request exchange
// ABOUTME: One request is in flight per engine; a timed-out or broken exchange kills the process

package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mauromedda/forseti-go/internal/log"
	"github.com/mauromedda/forseti-go/pkg/protocol"
	"github.com/mauromedda/forseti-go/pkg/transport"
)

// State is the host's view of an engine process.
type State int

// Handle states.
const (
	StateNotStarted State = iota
	StateStarting
	StateReady
	StateIdle
	StateShuttingDown
	StateStopped
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateIdle:
		return "idle"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	case StateCrashed:
		return "crashed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Running reports whether the state has a live, initialized process.
func (s State) Running() bool {
	return s == StateReady || s == StateIdle
}

// handle owns one engine. callMu is held for a whole request/response
// exchange and for every lifecycle change; mu guards the fields below it
// for quick reads.
type handle struct {
	info   EngineInfo
	logger *log.Logger
	seq    atomic.Uint64

	callMu sync.Mutex

	mu           sync.Mutex
	state        State
	proc         *process
	caps         *protocol.EngineCapabilities
	init         *protocol.InitializeResult
	lastActivity time.Time
	lastErr      error
}

func newHandle(info EngineInfo) *handle {
	return &handle{info: info, logger: log.Named(info.ID), state: StateNotStarted}
}

func (h *handle) snapshot() (State, *process, time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state, h.proc, h.lastActivity
}

func (h *handle) currentState() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// patterns returns the engine-declared patterns, falling back to discovery.
func (h *handle) patterns() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.caps != nil && len(h.caps.FilePatterns) > 0 {
		return h.caps.FilePatterns
	}
	if len(h.info.FilePatterns) > 0 {
		return h.info.FilePatterns
	}
	return DefaultFilePatterns
}

func (h *handle) nextID() string {
	return fmt.Sprintf("%s_%d", h.info.ID, h.seq.Add(1))
}

type exchangeResult struct {
	env protocol.Envelope
	err error
}

// exchange sends one request and waits for the response with the same id.
// Events arriving before it are passed to onEvent. Any failure to get a
// well-formed response before ctx ends kills the process and closes its
// pipes; the caller must hold callMu and mark the handle Crashed.
func (h *handle) exchange(ctx context.Context, proc *process, typ protocol.MessageType, payload any, onEvent func(protocol.Envelope)) (protocol.Envelope, error) {
	id := h.nextID()
	ch := make(chan exchangeResult, 1)
	go func() {
		// The write can block too when the engine stops reading stdin.
		if err := proc.conn.Request(typ, id, payload); err != nil {
			ch <- exchangeResult{err: fmt.Errorf("sending %s: %w", typ, err)}
			return
		}
		for {
			env, err := proc.conn.Receive()
			switch {
			case err != nil:
				ch <- exchangeResult{err: err}
				return
			case env.Kind == protocol.KindEvent:
				if onEvent != nil {
					onEvent(env)
				}
			case env.Kind == protocol.KindResponse && env.ID == id:
				ch <- exchangeResult{env: env}
				return
			default:
				ch <- exchangeResult{err: fmt.Errorf("%w: unexpected %s %s id=%q while waiting for %s",
					transport.ErrMalformedMessage, env.Kind, env.Type, env.ID, id)}
				return
			}
		}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			proc.kill()
			if errors.Is(r.err, transport.ErrUnknownMessageType) {
				r.err = fmt.Errorf("%w: %v", transport.ErrMalformedMessage, r.err)
			}
			return protocol.Envelope{}, fmt.Errorf("waiting for %s response: %w", typ, r.err)
		}
		return r.env, nil
	case <-ctx.Done():
		proc.kill()
		// A descendant outside the process group can hold stdout open;
		// closing our end is what unblocks the reader.
		proc.release()
		<-ch
		return protocol.Envelope{}, fmt.Errorf("waiting for %s response: %w", typ, ctx.Err())
	}
}

// forwardLog routes an engine log event to the host log.
func (h *handle) forwardLog(env protocol.Envelope) (protocol.LogEvent, bool) {
	if env.Type != protocol.TypeLog {
		return protocol.LogEvent{}, false
	}
	var ev protocol.LogEvent
	if err := env.DecodePayload(&ev); err != nil {
		h.logger.Warn("undecodable log event: %v", err)
		return protocol.LogEvent{}, false
	}
	h.logger.Log(ev.Level, "%s", ev.Message)
	return ev, true
}

// checkStatus turns an ok:false payload into an *EngineError.
func (h *handle) checkStatus(env protocol.Envelope) error {
	var head protocol.StatusHead
	if err := env.DecodePayload(&head); err != nil {
		// Success payloads need not be objects with a status head.
		return nil
	}
	if head.Failed() {
		return &EngineError{EngineID: h.info.ID, Code: head.Error, Message: head.Message}
	}
	return nil
}
