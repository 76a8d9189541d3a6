package dictionary

import (
	"fmt"

	"github.com/pingcap-incubator/dictkv/kv/keystring"
	"github.com/pingcap-incubator/dictkv/kv/util/codec"
	"github.com/pingcap/errors"
)

// Kind says what a dictionary stores.
type Kind byte

const (
	// KindEmpty is the encoding of a dictionary that is neither a record store nor an index. Its serialized form is
	// zero bytes long.
	KindEmpty Kind = iota
	KindRecordStore
	KindIndex
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindRecordStore:
		return "record-store"
	case KindIndex:
		return "index"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// Tag bytes leading a serialized encoding.
const (
	tagRecordStore byte = 0
	tagIndex       byte = 1
)

var (
	ErrUnknownTag        = errors.New("unknown key encoding tag")
	ErrTruncatedOrdering = errors.New("index key encoding is missing its ordering")
)

// Encoding tells how the keys of a dictionary are laid out:
//  []                                   empty encoding
//  [0x00][record id]                    record store key
//  [0x01][ordering:4][fields][record id] index key, ordering is big-endian
// Index keys carry their ordering so that raw keys can be decoded without a catalog.
type Encoding struct {
	kind     Kind
	ordering keystring.Ordering
}

// ForRecordStore returns the encoding of record store keys.
func ForRecordStore() Encoding {
	return Encoding{kind: KindRecordStore}
}

// ForIndex returns the encoding of index keys whose fields are ordered by ord.
func ForIndex(ord keystring.Ordering) Encoding {
	return Encoding{kind: KindIndex, ordering: ord}
}

func (e Encoding) Kind() Kind { return e.kind }

func (e Encoding) IsEmpty() bool { return e.kind == KindEmpty }

func (e Encoding) IsRecordStore() bool { return e.kind == KindRecordStore }

func (e Encoding) IsIndex() bool { return e.kind == KindIndex }

// Ordering is only meaningful for index encodings.
func (e Encoding) Ordering() keystring.Ordering { return e.ordering }

// Decode reads the encoding at the front of b. Bytes after the encoding prefix are ignored. An unknown tag is
// reported as ErrUnknownTag rather than treated as the empty encoding.
func Decode(b []byte) (Encoding, error) {
	e, _, err := DecodeKey(b)
	return e, err
}

// DecodeKey reads the encoding at the front of b and returns the key body that follows it.
func DecodeKey(b []byte) (Encoding, []byte, error) {
	if len(b) == 0 {
		return Encoding{}, nil, nil
	}
	switch b[0] {
	case tagRecordStore:
		return ForRecordStore(), b[1:], nil
	case tagIndex:
		if len(b) < 1+keystring.OrderingSize {
			return Encoding{}, nil, errors.Trace(ErrTruncatedOrdering)
		}
		return ForIndex(keystring.ReadOrdering(b[1:])), b[1+keystring.OrderingSize:], nil
	}
	return Encoding{}, nil, errors.Annotatef(ErrUnknownTag, "tag byte %#x", b[0])
}

// Serialize is the inverse of Decode.
func (e Encoding) Serialize() []byte {
	return e.appendPrefix(nil)
}

func (e Encoding) appendPrefix(b []byte) []byte {
	switch e.kind {
	case KindRecordStore:
		return append(b, tagRecordStore)
	case KindIndex:
		b = append(b, tagIndex)
		return keystring.AppendOrdering(b, e.ordering)
	}
	return b
}

// PrefixLen is the length of Serialize().
func (e Encoding) PrefixLen() int {
	switch e.kind {
	case KindRecordStore:
		return 1
	case KindIndex:
		return 1 + keystring.OrderingSize
	}
	return 0
}

// Compare is the order every engine keeps keys in. The ordering of index fields plays no part in it, it is already
// baked into the key bytes.
func Compare(a, b []byte) int {
	return codec.Compare(a, b)
}

// RecordKey builds the full key of record id. It panics unless e is a record store encoding.
func (e Encoding) RecordKey(id keystring.RecordID) []byte {
	e.mustBe(KindRecordStore)
	b := make([]byte, 0, 1+10)
	b = e.appendPrefix(b)
	return keystring.AppendRecordID(b, id)
}

// IndexKey builds the full key of an index entry. It panics unless e is an index encoding.
func (e Encoding) IndexKey(fields []keystring.Value, id keystring.RecordID) []byte {
	b := e.IndexKeyPrefix(fields)
	return keystring.AppendRecordID(b, id)
}

// IndexKeyPrefix builds the part of an index key that precedes the record id.
func (e Encoding) IndexKeyPrefix(fields []keystring.Value) []byte {
	e.mustBe(KindIndex)
	b := e.appendPrefix(make([]byte, 0, 32))
	return keystring.AppendKey(b, fields, e.ordering)
}

// ExtractKey decodes the fields of an index entry. key is the body after the encoding prefix. A non-empty value holds
// covered fields, encoded ascending, which are appended to the key fields. It panics unless e is an index encoding.
func (e Encoding) ExtractKey(key, value []byte) ([]keystring.Value, error) {
	e.mustBe(KindIndex)
	fieldBytes, _, err := keystring.DecodeRecordIDAtEnd(key)
	if err != nil {
		return nil, err
	}
	fields, err := keystring.DecodeKey(fieldBytes, e.ordering)
	if err != nil {
		return nil, err
	}
	if len(value) > 0 {
		covered, err := keystring.DecodeKey(value, 0)
		if err != nil {
			return nil, errors.Annotate(err, "covered fields")
		}
		fields = append(fields, covered...)
	}
	return fields, nil
}

// ExtractRecordID decodes the record id of a key body. Record store bodies start with the id, index bodies end
// with it. It panics on the empty encoding.
func (e Encoding) ExtractRecordID(key []byte) (keystring.RecordID, error) {
	switch e.kind {
	case KindRecordStore:
		left, id, err := keystring.DecodeRecordID(key)
		if err != nil {
			return 0, err
		}
		if len(left) != 0 {
			return 0, errors.Errorf("%d trailing bytes after record id", len(left))
		}
		return id, nil
	case KindIndex:
		_, id, err := keystring.DecodeRecordIDAtEnd(key)
		return id, err
	}
	panic(errors.Errorf("cannot extract a record id with the %v encoding", e.kind))
}

func (e Encoding) mustBe(kind Kind) {
	if e.kind != kind {
		panic(errors.Errorf("%v encoding used where %v is required", e.kind, kind))
	}
}

func (e Encoding) String() string {
	if e.kind == KindIndex {
		return fmt.Sprintf("index(%s)", e.ordering)
	}
	return e.kind.String()
}
