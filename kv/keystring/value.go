package keystring

import (
	"fmt"
	"strconv"
)

// Kind identifies the type of a composite key field. Its numeric value is also the type byte written in front of
// the field, so kinds collate in the order declared here.
type Kind byte

const (
	KindNull   Kind = 0x05
	KindFalse  Kind = 0x10
	KindTrue   Kind = 0x11
	KindInt    Kind = 0x20
	KindFloat  Kind = 0x28
	KindBytes  Kind = 0x30
	KindString Kind = 0x3c
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindFalse, KindTrue:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBytes:
		return "bytes"
	case KindString:
		return "string"
	}
	return fmt.Sprintf("kind(%#x)", byte(k))
}

// Value is a single field of a composite key.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
}

func Null() Value { return Value{kind: KindNull} }

func Bool(v bool) Value {
	if v {
		return Value{kind: KindTrue}
	}
	return Value{kind: KindFalse}
}

func Int(v int64) Value { return Value{kind: KindInt, i: v} }

func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

func String(v string) Value { return Value{kind: KindString, s: v} }

// Bytes copies v.
func Bytes(v []byte) Value {
	b := make([]byte, len(v))
	copy(b, v)
	return Value{kind: KindBytes, b: b}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) GetBool() bool { return v.kind == KindTrue }

func (v Value) GetInt() int64 { return v.i }

func (v Value) GetFloat() float64 { return v.f }

func (v Value) GetString() string { return v.s }

func (v Value) GetBytes() []byte { return v.b }

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindFalse:
		return "false"
	case KindTrue:
		return "true"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	case KindBytes:
		return fmt.Sprintf("0x%x", v.b)
	}
	return v.kind.String()
}
