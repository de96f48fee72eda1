// ABOUTME: Zero-reflection easyjson codec for the envelope header (hot path on every line)
// ABOUTME: Records which header keys were present so the transport can reject incomplete lines

package protocol

import (
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

var (
	_ easyjson.Marshaler   = Envelope{}
	_ easyjson.Unmarshaler = (*Envelope)(nil)
)

// MarshalEasyJSON writes the envelope as a single JSON object.
// Key order is fixed: v, kind, type, id, payload.
func (e Envelope) MarshalEasyJSON(out *jwriter.Writer) {
	out.RawString(`{"v":`)
	out.Int(e.V)
	out.RawString(`,"kind":`)
	out.String(string(e.Kind))
	out.RawString(`,"type":`)
	out.String(string(e.Type))
	if e.ID != "" {
		out.RawString(`,"id":`)
		out.String(e.ID)
	}
	if len(e.Payload) > 0 {
		out.RawString(`,"payload":`)
		out.Raw(e.Payload, nil)
	}
	out.RawByte('}')
}

// UnmarshalEasyJSON decodes an envelope, keeping the payload raw.
func (e *Envelope) UnmarshalEasyJSON(in *jlexer.Lexer) {
	isTopLevel := in.IsStart()
	if in.IsNull() {
		if isTopLevel {
			in.Consumed()
		}
		in.Skip()
		return
	}
	*e = Envelope{}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "v":
			e.V = in.Int()
			e.seen |= seenV
		case "kind":
			e.Kind = Kind(in.String())
			e.seen |= seenKind
		case "type":
			e.Type = MessageType(in.String())
			e.seen |= seenType
		case "id":
			e.ID = in.String()
			e.seen |= seenID
		case "payload":
			raw := in.Raw()
			if in.Ok() {
				e.Payload = append([]byte(nil), raw...)
				e.seen |= seenPayload
			}
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	if isTopLevel {
		in.Consumed()
	}
}

// MarshalJSON implements json.Marshaler so envelopes nest inside other values.
func (e Envelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	e.MarshalEasyJSON(&w)
	return w.Buffer.BuildBytes(), w.Error
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	r := jlexer.Lexer{Data: data}
	e.UnmarshalEasyJSON(&r)
	return r.Error()
}
