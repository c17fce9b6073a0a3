package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"replicate/internal/clock"
)

// ErrMalformed is returned when a message cannot be decoded.
var ErrMalformed = errors.New("malformed message")

// Message is implemented by every type that travels inside an Envelope.
type Message interface {
	Marshal() []byte
	Unmarshal(b []byte) error
}

// encoder appends protobuf wire fields. Zero values are omitted, matching
// proto3 semantics.
type encoder struct {
	buf []byte
}

func (e *encoder) varint(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, v)
}

func (e *encoder) sint(num protowire.Number, v int64) {
	e.varint(num, protowire.EncodeZigZag(v))
}

func (e *encoder) bool(num protowire.Number, v bool) {
	if v {
		e.varint(num, 1)
	}
}

func (e *encoder) bytes(num protowire.Number, v []byte) {
	if len(v) == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, v)
}

func (e *encoder) string(num protowire.Number, v string) {
	if v == "" {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendString(e.buf, v)
}

// message writes a nested message, present even when its encoding is empty.
func (e *encoder) message(num protowire.Number, m []byte) {
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, m)
}

// optional writes a string that is present whenever v is non-nil, so an
// empty string and an absent value stay distinguishable.
func (e *encoder) optional(num protowire.Number, v *string) {
	if v == nil {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendString(e.buf, *v)
}

func (e *encoder) id(num protowire.Number, id clock.MonotonicID) {
	e.message(num, marshalID(id))
}

// field is one decoded field. For varint fields v holds the value, for
// bytes fields b holds the payload.
type field struct {
	num protowire.Number
	typ protowire.Type
	v   uint64
	b   []byte
}

// decode walks every field of b and hands it to fn. Unknown fields are
// skipped by fn simply ignoring them.
func decode(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			f.v = v
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			f.b = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (f field) int64() int64 {
	return protowire.DecodeZigZag(f.v)
}

func (f field) bool() bool {
	return f.v != 0
}

func (f field) string() string {
	return string(f.b)
}

func (f field) bytes() []byte {
	return append([]byte(nil), f.b...)
}

func (f field) optional() *string {
	s := string(f.b)
	return &s
}

func (f field) id() (clock.MonotonicID, error) {
	return unmarshalID(f.b)
}

func marshalID(id clock.MonotonicID) []byte {
	var e encoder
	// Empty is (-1,-1); zigzag keeps both fields non-zero so it round-trips.
	e.sint(1, id.Counter)
	e.sint(2, id.NodeID)
	return e.buf
}

func unmarshalID(b []byte) (clock.MonotonicID, error) {
	var id clock.MonotonicID
	err := decode(b, func(f field) error {
		switch f.num {
		case 1:
			id.Counter = f.int64()
		case 2:
			id.NodeID = f.int64()
		}
		return nil
	})
	return id, err
}

// Envelope is the unit moved by the transport.
type Envelope struct {
	Kind    Kind
	From    string
	Payload []byte
}

// NewEnvelope wraps m as a message of the given kind sent by from.
func NewEnvelope(kind Kind, from string, m Message) Envelope {
	return Envelope{Kind: kind, From: from, Payload: m.Marshal()}
}

// Marshal encodes the envelope.
func (env Envelope) Marshal() []byte {
	var e encoder
	e.varint(1, uint64(env.Kind))
	e.string(2, env.From)
	e.bytes(3, env.Payload)
	return e.buf
}

// Unmarshal decodes an envelope.
func (env *Envelope) Unmarshal(b []byte) error {
	*env = Envelope{}
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			env.Kind = Kind(f.v)
		case 2:
			env.From = f.string()
		case 3:
			env.Payload = f.bytes()
		}
		return nil
	})
}

// Decode unmarshals the envelope payload into m after checking the kind.
func (env Envelope) Decode(kind Kind, m Message) error {
	if env.Kind != kind {
		return fmt.Errorf("%w: expected %s, got %s", ErrMalformed, kind, env.Kind)
	}
	return m.Unmarshal(env.Payload)
}
