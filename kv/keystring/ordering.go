package keystring

import (
	"encoding/binary"
	"strings"
)

// MaxOrderingFields is the number of fields whose direction an Ordering can describe. Fields beyond it are ascending.
const MaxOrderingFields = 32

// OrderingSize is the width of a serialized Ordering.
const OrderingSize = 4

// Ordering describes the sort direction of each field of a composite key. Bit i set means field i is descending.
// The codec treats it as an opaque bit pattern; only the composite key encoder interprets it.
type Ordering uint32

// MakeOrdering builds an Ordering from per-field directions, where a negative direction means descending.
func MakeOrdering(directions ...int) Ordering {
	var o Ordering
	for i, dir := range directions {
		if i >= MaxOrderingFields {
			break
		}
		if dir < 0 {
			o |= 1 << uint(i)
		}
	}
	return o
}

// Get returns 1 if field i is ascending and -1 if it is descending.
func (o Ordering) Get(i int) int {
	if o.IsDescending(i) {
		return -1
	}
	return 1
}

// IsDescending reports whether field i sorts in descending order.
func (o Ordering) IsDescending(i int) bool {
	if i < 0 || i >= MaxOrderingFields {
		return false
	}
	return o&(1<<uint(i)) != 0
}

// AppendOrdering appends the big-endian form of o to b.
func AppendOrdering(b []byte, o Ordering) []byte {
	var data [OrderingSize]byte
	binary.BigEndian.PutUint32(data[:], uint32(o))
	return append(b, data[:]...)
}

// ReadOrdering reads an Ordering written by AppendOrdering. b must hold at least OrderingSize bytes.
func ReadOrdering(b []byte) Ordering {
	return Ordering(binary.BigEndian.Uint32(b[:OrderingSize]))
}

// String renders the directions of the first n fields that matter, e.g. "+-+".
func (o Ordering) String() string {
	if o == 0 {
		return "+"
	}
	var sb strings.Builder
	for i := 0; i < MaxOrderingFields && o>>uint(i) != 0; i++ {
		if o.IsDescending(i) {
			sb.WriteByte('-')
		} else {
			sb.WriteByte('+')
		}
	}
	return sb.String()
}
