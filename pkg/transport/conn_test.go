// ABOUTME: Tests for NDJSON framing, malformed-line poisoning, and version mismatch
// ABOUTME: Uses in-memory buffers and io.Pipe instead of real processes

package transport

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/mauromedda/forseti-go/pkg/protocol"
)

func TestConn_SendWritesOneLine(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	c := New(strings.NewReader(""), &out)

	if err := c.Request(protocol.TypeAnalyzeFile, "2", protocol.AnalyzeFileParams{URI: "mem://a", Content: "x\ny\n"}); err != nil {
		t.Fatalf("Request: %v", err)
	}

	got := out.String()
	if strings.Count(got, "\n") != 1 || !strings.HasSuffix(got, "\n") {
		t.Errorf("expected exactly one terminated line, got %q", got)
	}
}

func TestConn_SendCompactsIndentedPayload(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	c := New(strings.NewReader(""), &out)

	env := protocol.Envelope{V: 1, Kind: protocol.KindEvent, Type: protocol.TypeLog, Payload: []byte("{\n  \"level\": \"info\"\n}")}
	if err := c.Send(env); err != nil {
		t.Fatalf("Send: %v", err)
	}
	want := `{"v":1,"kind":"event","type":"log","payload":{"level":"info"}}` + "\n"
	if out.String() != want {
		t.Errorf("got %q; want %q", out.String(), want)
	}
}

func TestConn_RoundTrip(t *testing.T) {
	t.Parallel()

	var wire bytes.Buffer
	w := New(strings.NewReader(""), &wire)
	_ = w.Emit(protocol.TypeDiagnostics, protocol.DiagnosticsEvent{URI: "mem://a"})
	_ = w.Respond(protocol.TypeAnalyzeFile, "7", protocol.Status{OK: true})

	r := New(&wire, io.Discard)

	ev, err := r.Receive()
	if err != nil {
		t.Fatalf("Receive event: %v", err)
	}
	if ev.Kind != protocol.KindEvent || ev.Type != protocol.TypeDiagnostics {
		t.Errorf("first envelope = %s %s; want event diagnostics", ev.Kind, ev.Type)
	}

	res, err := r.Receive()
	if err != nil {
		t.Fatalf("Receive response: %v", err)
	}
	if res.ID != "7" || res.Kind != protocol.KindResponse {
		t.Errorf("second envelope = %s id=%q; want res id=7", res.Kind, res.ID)
	}

	if _, err := r.Receive(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestConn_SkipsBlankLines(t *testing.T) {
	t.Parallel()

	in := "\n   \n" + `{"v":1,"kind":"req","type":"shutdown","id":"1"}` + "\n"
	c := New(strings.NewReader(in), io.Discard)

	env, err := c.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if env.Type != protocol.TypeShutdown {
		t.Errorf("Type = %q; want shutdown", env.Type)
	}
}

func TestConn_MalformedPoisons(t *testing.T) {
	t.Parallel()

	in := "not json\n" + `{"v":1,"kind":"req","type":"shutdown","id":"1"}` + "\n"
	c := New(strings.NewReader(in), io.Discard)

	if _, err := c.Receive(); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
	if _, err := c.Receive(); !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("connection should stay poisoned, got %v", err)
	}
}

func TestConn_MissingFields(t *testing.T) {
	t.Parallel()

	for _, line := range []string{
		`{"kind":"req","type":"shutdown","id":"1"}`,
		`{"v":1,"kind":"req","id":"1"}`,
		`{"v":1,"kind":"req","type":"shutdown"}`,
		`{"v":1,"kind":"event","type":"log","id":"1"}`,
	} {
		c := New(strings.NewReader(line+"\n"), io.Discard)
		if _, err := c.Receive(); !errors.Is(err, ErrMalformedMessage) {
			t.Errorf("%s: expected ErrMalformedMessage, got %v", line, err)
		}
	}
}

func TestConn_UnknownTypeIsRecoverable(t *testing.T) {
	t.Parallel()

	in := `{"v":1,"kind":"req","type":"frobnicate","id":"9"}` + "\n" +
		`{"v":1,"kind":"req","type":"shutdown","id":"10"}` + "\n"
	c := New(strings.NewReader(in), io.Discard)

	env, err := c.Receive()
	if !errors.Is(err, ErrUnknownMessageType) {
		t.Fatalf("expected ErrUnknownMessageType, got %v", err)
	}
	if env.ID != "9" {
		t.Errorf("ID = %q; want 9", env.ID)
	}
	if IsFatal(err) {
		t.Error("unknown type should not be fatal")
	}

	next, err := c.Receive()
	if err != nil {
		t.Fatalf("Receive after unknown type: %v", err)
	}
	if next.Type != protocol.TypeShutdown {
		t.Errorf("Type = %q; want shutdown", next.Type)
	}
}

func TestConn_VersionMismatch(t *testing.T) {
	t.Parallel()

	c := New(strings.NewReader(`{"v":2,"kind":"req","type":"shutdown","id":"1"}`+"\n"), io.Discard)
	_, err := c.Receive()
	if !errors.Is(err, ErrProtocolVersionMismatch) {
		t.Fatalf("expected ErrProtocolVersionMismatch, got %v", err)
	}
	if !IsFatal(err) {
		t.Error("version mismatch should be fatal")
	}
}

func TestConn_ConcurrentSendsStayFramed(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	writer := New(strings.NewReader(""), pw)
	reader := New(pr, io.Discard)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = writer.Emit(protocol.TypeLog, protocol.LogEvent{Level: "info", Message: strings.Repeat("x", 4096)})
		}()
	}
	go func() {
		wg.Wait()
		pw.Close()
	}()

	count := 0
	for {
		_, err := reader.Receive()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		count++
	}
	if count != n {
		t.Errorf("received %d envelopes; want %d", count, n)
	}
}
