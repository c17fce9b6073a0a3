// Package command defines the commands replicas agree on. A Command is a
// tagged union: Type selects which variant field is set, and serialization
// writes the tag first so decoding dispatches on it.
package command

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrUnknownCommand is returned for a command tag with no variant.
var ErrUnknownCommand = errors.New("unknown command")

// Type tags a command variant.
type Type int32

const (
	TypeUnknown Type = iota
	TypeSetValue
	TypeCompareAndSwap
)

// String returns the string representation of the type.
func (t Type) String() string {
	switch t {
	case TypeSetValue:
		return "SetValue"
	case TypeCompareAndSwap:
		return "CompareAndSwap"
	default:
		return fmt.Sprintf("Type(%d)", int32(t))
	}
}

// SetValue unconditionally sets Key to Value. It is the value Paxos chooses.
type SetValue struct {
	Key   string
	Value string
}

// CompareAndSwap sets Key to NewValue only if its current value equals
// ExpectedValue. A nil ExpectedValue expects the key to have no value.
type CompareAndSwap struct {
	Key           string
	ExpectedValue *string
	NewValue      string
}

// Command is one of the variants, selected by Type.
type Command struct {
	Type           Type
	SetValue       *SetValue
	CompareAndSwap *CompareAndSwap
}

// NewSetValue creates a SetValue command.
func NewSetValue(key, value string) Command {
	return Command{Type: TypeSetValue, SetValue: &SetValue{Key: key, Value: value}}
}

// NewCompareAndSwap creates a CompareAndSwap command.
func NewCompareAndSwap(key string, expected *string, newValue string) Command {
	return Command{Type: TypeCompareAndSwap, CompareAndSwap: &CompareAndSwap{
		Key:           key,
		ExpectedValue: expected,
		NewValue:      newValue,
	}}
}

// Key returns the key the command operates on.
func (c Command) Key() string {
	switch c.Type {
	case TypeSetValue:
		return c.SetValue.Key
	case TypeCompareAndSwap:
		return c.CompareAndSwap.Key
	}
	return ""
}

// String returns a string representation of the command.
func (c Command) String() string {
	switch c.Type {
	case TypeSetValue:
		return fmt.Sprintf("SetValue{%s=%q}", c.SetValue.Key, c.SetValue.Value)
	case TypeCompareAndSwap:
		expected := "<absent>"
		if c.CompareAndSwap.ExpectedValue != nil {
			expected = fmt.Sprintf("%q", *c.CompareAndSwap.ExpectedValue)
		}
		return fmt.Sprintf("CompareAndSwap{%s: %s -> %q}", c.CompareAndSwap.Key, expected, c.CompareAndSwap.NewValue)
	}
	return c.Type.String()
}

// Matches reports whether current satisfies the expectation of a
// CompareAndSwap. Both absent, or both present and equal, match.
func (cas *CompareAndSwap) Matches(current *string) bool {
	if cas.ExpectedValue == nil || current == nil {
		return cas.ExpectedValue == nil && current == nil
	}
	return *cas.ExpectedValue == *current
}

// Field numbers of the serialized form. Field 1 is always the tag.
const (
	fieldType     protowire.Number = 1
	fieldKey      protowire.Number = 2
	fieldValue    protowire.Number = 3
	fieldExpected protowire.Number = 4
)

// Serialize encodes the command.
func Serialize(c Command) ([]byte, error) {
	b := protowire.AppendTag(nil, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Type))

	switch c.Type {
	case TypeSetValue:
		if c.SetValue == nil {
			return nil, fmt.Errorf("%w: %s without payload", ErrUnknownCommand, c.Type)
		}
		b = appendString(b, fieldKey, c.SetValue.Key)
		b = appendString(b, fieldValue, c.SetValue.Value)
	case TypeCompareAndSwap:
		if c.CompareAndSwap == nil {
			return nil, fmt.Errorf("%w: %s without payload", ErrUnknownCommand, c.Type)
		}
		b = appendString(b, fieldKey, c.CompareAndSwap.Key)
		b = appendString(b, fieldValue, c.CompareAndSwap.NewValue)
		if c.CompareAndSwap.ExpectedValue != nil {
			b = appendString(b, fieldExpected, *c.CompareAndSwap.ExpectedValue)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, c.Type)
	}
	return b, nil
}

// MustSerialize encodes a command built by NewSetValue or NewCompareAndSwap.
func MustSerialize(c Command) []byte {
	b, err := Serialize(c)
	if err != nil {
		panic(err)
	}
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// Deserialize decodes a command, dispatching on its tag.
func Deserialize(b []byte) (Command, error) {
	var (
		typ      Type
		key      string
		value    string
		expected *string
	)

	for len(b) > 0 {
		num, wtyp, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Command{}, fmt.Errorf("decode command: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldType && wtyp == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Command{}, fmt.Errorf("decode command type: %w", protowire.ParseError(n))
			}
			typ = Type(v)
			b = b[n:]
		case wtyp == protowire.BytesType && (num == fieldKey || num == fieldValue || num == fieldExpected):
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return Command{}, fmt.Errorf("decode command field %d: %w", num, protowire.ParseError(n))
			}
			switch num {
			case fieldKey:
				key = s
			case fieldValue:
				value = s
			case fieldExpected:
				expected = &s
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, wtyp, b)
			if n < 0 {
				return Command{}, fmt.Errorf("decode command field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	switch typ {
	case TypeSetValue:
		return NewSetValue(key, value), nil
	case TypeCompareAndSwap:
		return NewCompareAndSwap(key, expected, value), nil
	}
	return Command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, typ)
}
