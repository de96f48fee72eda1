// ABOUTME: NDJSON transport: one envelope per line over any reader/writer pair
// ABOUTME: Serializes writers, poisons the connection on malformed lines or version mismatch

package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/mailru/easyjson"

	"github.com/mauromedda/forseti-go/pkg/protocol"
)

// MaxLineSize bounds a single framed message. Analysis requests carry the
// whole file, so this also caps the size of a file sent to an engine.
const MaxLineSize = 10 * 1024 * 1024 // 10MB

var (
	// ErrMalformedMessage means a line was not a valid envelope. The
	// connection is untrustworthy afterwards.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrProtocolVersionMismatch means the peer speaks another major version.
	ErrProtocolVersionMismatch = errors.New("protocol version mismatch")
	// ErrUnknownMessageType means a well-framed envelope named a type outside
	// the closed set. The envelope is returned alongside so the receiver can
	// answer it; the connection stays usable.
	ErrUnknownMessageType = errors.New("unknown message type")
)

// Conn frames envelopes over a byte stream. Receive is meant for a single
// reader; Send may be called from many goroutines.
type Conn struct {
	readMu  sync.Mutex
	scanner *bufio.Scanner
	fatal   error

	writeMu sync.Mutex
	w       *bufio.Writer

	closers []io.Closer
}

// New wraps r and w. If either implements io.Closer, Close closes it.
func New(r io.Reader, w io.Writer) *Conn {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)

	c := &Conn{scanner: scanner, w: bufio.NewWriter(w)}
	if wc, ok := w.(io.Closer); ok {
		c.closers = append(c.closers, wc)
	}
	if rc, ok := r.(io.Closer); ok {
		c.closers = append(c.closers, rc)
	}
	return c
}

// Send writes env as exactly one line and flushes.
func (c *Conn) Send(env protocol.Envelope) error {
	data, err := easyjson.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling %s %s: %w", env.Kind, env.Type, err)
	}
	if bytes.IndexByte(data, '\n') >= 0 {
		// Raw payloads supplied by callers may be indented.
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return fmt.Errorf("compacting %s %s: %w", env.Kind, env.Type, err)
		}
		data = buf.Bytes()
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.w.Write(data); err != nil {
		return fmt.Errorf("writing %s %s: %w", env.Kind, env.Type, err)
	}
	if err := c.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("writing %s %s: %w", env.Kind, env.Type, err)
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("flushing %s %s: %w", env.Kind, env.Type, err)
	}
	return nil
}

// Request builds and sends a request envelope.
func (c *Conn) Request(t protocol.MessageType, id string, payload any) error {
	env, err := protocol.NewRequest(t, id, payload)
	if err != nil {
		return err
	}
	return c.Send(env)
}

// Respond builds and sends a response envelope.
func (c *Conn) Respond(t protocol.MessageType, id string, payload any) error {
	env, err := protocol.NewResponse(t, id, payload)
	if err != nil {
		return err
	}
	return c.Send(env)
}

// Emit builds and sends an event envelope.
func (c *Conn) Emit(t protocol.MessageType, payload any) error {
	env, err := protocol.NewEvent(t, payload)
	if err != nil {
		return err
	}
	return c.Send(env)
}

// Receive blocks until a full line is read and returns its envelope.
// Blank lines are skipped. io.EOF is returned when the stream ends cleanly.
// After ErrMalformedMessage or ErrProtocolVersionMismatch every later call
// returns the same error.
func (c *Conn) Receive() (protocol.Envelope, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.fatal != nil {
		return protocol.Envelope{}, c.fatal
	}

	for c.scanner.Scan() {
		line := bytes.TrimSpace(c.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		env, err := decode(line)
		if errors.Is(err, ErrUnknownMessageType) {
			return env, err
		}
		if err != nil {
			c.fatal = err
			return protocol.Envelope{}, err
		}
		return env, nil
	}

	if err := c.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			c.fatal = fmt.Errorf("%w: line exceeds %d bytes", ErrMalformedMessage, MaxLineSize)
			return protocol.Envelope{}, c.fatal
		}
		return protocol.Envelope{}, fmt.Errorf("reading message: %w", err)
	}
	return protocol.Envelope{}, io.EOF
}

func decode(line []byte) (protocol.Envelope, error) {
	var env protocol.Envelope
	if err := easyjson.Unmarshal(line, &env); err != nil {
		return protocol.Envelope{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.HasVersion() && env.V != protocol.ProtocolVersion {
		return protocol.Envelope{}, fmt.Errorf("%w: got v%d, want v%d", ErrProtocolVersionMismatch, env.V, protocol.ProtocolVersion)
	}
	if env.Kind.Valid() && env.Type != "" && !env.Type.Valid() {
		return env, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
	if err := env.Validate(); err != nil {
		return protocol.Envelope{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return env, nil
}

// Close closes the underlying writer and reader when they are closable.
func (c *Conn) Close() error {
	var errs []error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsFatal reports whether err leaves the connection unusable.
func IsFatal(err error) bool {
	return errors.Is(err, ErrMalformedMessage) || errors.Is(err, ErrProtocolVersionMismatch)
}
