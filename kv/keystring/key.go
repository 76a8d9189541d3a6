// Package keystring turns composite index keys into byte strings whose raw byte order matches the logical order of
// their fields, and back.
//
// Every field is written as a type byte followed by a memcomparable payload (see kv/util/codec). A field whose
// Ordering bit is set has every one of its bytes inverted, so it sorts in descending order while staying decodable.
// Record ids use their own self-delimiting encoding so that an index entry can carry one at its end.
package keystring

import (
	"github.com/pingcap-incubator/dictkv/kv/util/codec"
	"github.com/pingcap/errors"
)

// ErrUnknownFieldType is returned when a type byte does not name a Kind.
var ErrUnknownFieldType = errors.New("unknown composite key field type")

// AppendKey appends the encoding of fields to b, using ord for the direction of each field.
func AppendKey(b []byte, fields []Value, ord Ordering) []byte {
	for i, f := range fields {
		b = AppendValue(b, f, ord.IsDescending(i))
	}
	return b
}

// EncodeKey returns the encoding of fields.
func EncodeKey(fields []Value, ord Ordering) []byte {
	return AppendKey(nil, fields, ord)
}

// DecodeKey decodes every field in b. b must hold only composite key fields, so a trailing record id has to be
// stripped first.
func DecodeKey(b []byte, ord Ordering) ([]Value, error) {
	var fields []Value
	for i := 0; len(b) > 0; i++ {
		var (
			v   Value
			err error
		)
		b, v, err = DecodeValue(b, ord.IsDescending(i))
		if err != nil {
			return nil, errors.Annotatef(err, "field %d", i)
		}
		fields = append(fields, v)
	}
	return fields, nil
}

// AppendValue appends a single field to b.
func AppendValue(b []byte, v Value, desc bool) []byte {
	if desc {
		b = append(b, ^byte(v.kind))
	} else {
		b = append(b, byte(v.kind))
	}
	switch v.kind {
	case KindNull, KindFalse, KindTrue:
	case KindInt:
		if desc {
			return codec.EncodeIntDesc(b, v.i)
		}
		return codec.EncodeInt(b, v.i)
	case KindFloat:
		if desc {
			return codec.EncodeFloatDesc(b, v.f)
		}
		return codec.EncodeFloat(b, v.f)
	case KindString, KindBytes:
		data := v.b
		if v.kind == KindString {
			data = []byte(v.s)
		}
		if desc {
			return codec.EncodeBytesDesc(b, data)
		}
		return codec.EncodeBytes(b, data)
	default:
		panic(errors.Errorf("cannot encode field of %v", v.kind))
	}
	return b
}

// DecodeValue reads a single field from the front of b and returns the leftover bytes.
func DecodeValue(b []byte, desc bool) ([]byte, Value, error) {
	if len(b) == 0 {
		return nil, Value{}, errors.Trace(codec.ErrInsufficientBytes)
	}
	kind := Kind(b[0])
	b = b[1:]
	if desc {
		kind = Kind(^byte(kind))
	}
	switch kind {
	case KindNull:
		return b, Null(), nil
	case KindFalse:
		return b, Bool(false), nil
	case KindTrue:
		return b, Bool(true), nil
	case KindInt:
		var (
			i   int64
			err error
		)
		if desc {
			b, i, err = codec.DecodeIntDesc(b)
		} else {
			b, i, err = codec.DecodeInt(b)
		}
		return b, Int(i), err
	case KindFloat:
		var (
			f   float64
			err error
		)
		if desc {
			b, f, err = codec.DecodeFloatDesc(b)
		} else {
			b, f, err = codec.DecodeFloat(b)
		}
		return b, Float(f), err
	case KindString, KindBytes:
		var (
			data []byte
			err  error
		)
		if desc {
			b, data, err = codec.DecodeBytesDesc(b)
		} else {
			b, data, err = codec.DecodeBytes(b)
		}
		if err != nil {
			return nil, Value{}, err
		}
		if kind == KindString {
			return b, String(string(data)), nil
		}
		return b, Value{kind: KindBytes, b: data}, nil
	}
	return nil, Value{}, errors.Annotatef(ErrUnknownFieldType, "type byte %#x", byte(kind))
}
