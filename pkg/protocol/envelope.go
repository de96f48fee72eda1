// ABOUTME: Versioned message envelope shared by the linter host and engine processes
// ABOUTME: Defines Kind, the closed MessageType set, and request/response/event constructors

package protocol

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the only major version this module speaks.
const ProtocolVersion = 1

// Kind classifies an envelope as a request, response, or event.
type Kind string

const (
	KindRequest  Kind = "req"
	KindResponse Kind = "res"
	KindEvent    Kind = "event"
)

// Valid reports whether k is one of the three known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindRequest, KindResponse, KindEvent:
		return true
	}
	return false
}

// MessageType names the operation an envelope carries.
type MessageType string

// Request-bearing types. Each has exactly one response payload shape.
const (
	TypeInitialize       MessageType = "initialize"
	TypeGetDefaultConfig MessageType = "getDefaultConfig"
	TypeGetCapabilities  MessageType = "getCapabilities"
	TypePreprocessFiles  MessageType = "preprocessFiles"
	TypeAnalyzeFile      MessageType = "analyzeFile"
	TypeShutdown         MessageType = "shutdown"
)

// Event-only types.
const (
	TypeDiagnostics MessageType = "diagnostics"
	TypeLog         MessageType = "log"
)

// IsRequest reports whether t may appear on a req/res envelope.
func (t MessageType) IsRequest() bool {
	switch t {
	case TypeInitialize, TypeGetDefaultConfig, TypeGetCapabilities,
		TypePreprocessFiles, TypeAnalyzeFile, TypeShutdown:
		return true
	}
	return false
}

// IsEvent reports whether t may appear on an event envelope.
func (t MessageType) IsEvent() bool {
	return t == TypeDiagnostics || t == TypeLog
}

// Valid reports whether t belongs to the closed set.
func (t MessageType) Valid() bool {
	return t.IsRequest() || t.IsEvent()
}

// Envelope is the wire wrapper around every protocol message.
// ID is mandatory on requests and responses and absent on events.
type Envelope struct {
	V       int
	Kind    Kind
	Type    MessageType
	ID      string
	Payload json.RawMessage

	// seen records which keys were present when the envelope was decoded.
	seen fieldSet
}

type fieldSet uint8

const (
	seenV fieldSet = 1 << iota
	seenKind
	seenType
	seenID
	seenPayload
)

// NewRequest builds a request envelope, marshaling payload to JSON.
func NewRequest(t MessageType, id string, payload any) (Envelope, error) {
	return newEnvelope(KindRequest, t, id, payload)
}

// NewResponse builds a response envelope echoing the request id.
func NewResponse(t MessageType, id string, payload any) (Envelope, error) {
	return newEnvelope(KindResponse, t, id, payload)
}

// NewEvent builds an event envelope. Events never carry an id.
func NewEvent(t MessageType, payload any) (Envelope, error) {
	return newEnvelope(KindEvent, t, "", payload)
}

func newEnvelope(kind Kind, t MessageType, id string, payload any) (Envelope, error) {
	env := Envelope{V: ProtocolVersion, Kind: kind, Type: t, ID: id}
	if payload == nil {
		return env, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		env.Payload = raw
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshaling %s payload: %w", t, err)
	}
	env.Payload = data
	return env, nil
}

// DecodePayload unmarshals the payload into dst. A missing payload leaves
// dst untouched.
func (e Envelope) DecodePayload(dst any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Type, err)
	}
	return nil
}

// HasVersion reports whether the envelope carries a "v" key.
func (e Envelope) HasVersion() bool {
	return e.seen&seenV != 0 || e.V != 0
}

// HasID reports whether the decoded envelope carried an "id" key.
// Envelopes built in-process report true whenever ID is non-empty.
func (e Envelope) HasID() bool {
	return e.seen&seenID != 0 || e.ID != ""
}

// Validate checks the structural rules of the envelope header,
// excluding the version, which callers check separately.
func (e Envelope) Validate() error {
	if e.seen != 0 {
		for _, f := range []struct {
			bit  fieldSet
			name string
		}{{seenV, "v"}, {seenKind, "kind"}, {seenType, "type"}} {
			if e.seen&f.bit == 0 {
				return fmt.Errorf("missing required field %q", f.name)
			}
		}
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	switch e.Kind {
	case KindRequest, KindResponse:
		if !e.Type.IsRequest() {
			return fmt.Errorf("type %q is not valid on a %s", e.Type, e.Kind)
		}
		if e.ID == "" {
			return fmt.Errorf("%s %s is missing an id", e.Type, e.Kind)
		}
	case KindEvent:
		if !e.Type.IsEvent() {
			return fmt.Errorf("type %q is not valid on an event", e.Type)
		}
		if e.HasID() {
			return fmt.Errorf("event %s must not carry an id", e.Type)
		}
	}
	return nil
}
