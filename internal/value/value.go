// Package value defines TypedValue, the closed set of scalar types a
// preferences store can hold.
package value

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strconv"
)

// Kind identifies the concrete type carried by a Value.
type Kind uint8

const (
	KindInt32 Kind = iota + 1
	KindInt64
	KindFloat64
	KindBool
	KindString
	KindBlob
)

var kindNames = map[Kind]string{
	KindInt32:   "int32",
	KindInt64:   "int64",
	KindFloat64: "float64",
	KindBool:    "bool",
	KindString:  "string",
	KindBlob:    "blob",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Numeric reports whether k is one of the number kinds: int32, int64 or
// float64.
func (k Kind) Numeric() bool {
	return k == KindInt32 || k == KindInt64 || k == KindFloat64
}

// Compatible reports whether a value of kind k satisfies a read that
// expects kind want. Number kinds satisfy each other.
func (k Kind) Compatible(want Kind) bool {
	return k == want || (k.Numeric() && want.Numeric())
}

// ParseKind maps a kind name ("int32", "string", ...) back to a Kind.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown value kind %q", name)
}

// Value is a sealed interface. Only Int32, Int64, Float64, Bool, String and
// Blob implement it, so a stored value always carries exactly one type.
type Value interface {
	Kind() Kind
	typedValue()
}

// Int32 is a 32-bit signed integer value.
type Int32 int32

func (Int32) Kind() Kind  { return KindInt32 }
func (Int32) typedValue() {}

// Int64 is a 64-bit signed integer value.
type Int64 int64

func (Int64) Kind() Kind  { return KindInt64 }
func (Int64) typedValue() {}

// Float64 is a double precision floating point value.
type Float64 float64

func (Float64) Kind() Kind  { return KindFloat64 }
func (Float64) typedValue() {}

// Bool is a boolean value.
type Bool bool

func (Bool) Kind() Kind  { return KindBool }
func (Bool) typedValue() {}

// String is a UTF-8 string value.
type String string

func (String) Kind() Kind  { return KindString }
func (String) typedValue() {}

// Blob is an opaque byte sequence.
type Blob []byte

func (Blob) Kind() Kind  { return KindBlob }
func (Blob) typedValue() {}

func NewInt32(n int32) Int32       { return Int32(n) }
func NewInt64(n int64) Int64       { return Int64(n) }
func NewFloat64(f float64) Float64 { return Float64(f) }
func NewBool(b bool) Bool          { return Bool(b) }
func NewString(s string) String    { return String(s) }

// NewBlob copies b so later writes by the caller do not leak into the store.
func NewBlob(b []byte) Blob {
	return Blob(bytes.Clone(b))
}

// Equal reports whether a and b carry the same kind and payload.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	if ab, ok := a.(Blob); ok {
		return bytes.Equal(ab, b.(Blob))
	}
	return a == b
}

// Clone returns a copy of v that shares no memory with it.
func Clone(v Value) Value {
	if b, ok := v.(Blob); ok {
		return NewBlob(b)
	}
	return v
}

// Size returns the payload length used for value limits. Only strings and
// blobs have a meaningful size; other kinds report 0.
func Size(v Value) int {
	switch t := v.(type) {
	case String:
		return len(t)
	case Blob:
		return len(t)
	default:
		return 0
	}
}

// Parse converts text into a Value of the given kind. Blobs are read as
// standard base64.
func Parse(kind Kind, text string) (Value, error) {
	switch kind {
	case KindInt32:
		n, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parse int32: %w", err)
		}
		return Int32(n), nil
	case KindInt64:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse int64: %w", err)
		}
		return Int64(n), nil
	case KindFloat64:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("parse float64: %w", err)
		}
		return Float64(f), nil
	case KindBool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return nil, fmt.Errorf("parse bool: %w", err)
		}
		return Bool(b), nil
	case KindString:
		return String(text), nil
	case KindBlob:
		b, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return nil, fmt.Errorf("parse blob: %w", err)
		}
		return Blob(b), nil
	default:
		return nil, fmt.Errorf("unsupported kind: %v", kind)
	}
}

// Format renders v as text. It is the inverse of Parse.
func Format(v Value) string {
	switch t := v.(type) {
	case Int32:
		return strconv.FormatInt(int64(t), 10)
	case Int64:
		return strconv.FormatInt(int64(t), 10)
	case Float64:
		return strconv.FormatFloat(float64(t), 'g', -1, 64)
	case Bool:
		return strconv.FormatBool(bool(t))
	case String:
		return string(t)
	case Blob:
		return base64.StdEncoding.EncodeToString(t)
	case nil:
		return "<nil>"
	default:
		return fmt.Sprintf("%v", v)
	}
}
