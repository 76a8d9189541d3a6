package keystring

import (
	"math/bits"

	"github.com/pingcap/errors"
)

// RecordID identifies a record in a record store. Only non-negative ids can be encoded.
type RecordID int64

// IsValid reports whether id can be written into a key.
func (id RecordID) IsValid() bool {
	return id >= 0
}

var (
	ErrRecordIDTruncated = errors.New("record id truncated")
	ErrRecordIDCorrupted = errors.New("record id size markers disagree")
)

// AppendRecordID appends the encoding of id to b. The encoding can be read starting from either its first or its last
// byte:
//  - the high 3 bits of the first byte and the low 3 bits of the last byte both hold N, the count of bytes between them;
//  - the remaining 5 + 8*N + 5 bits hold the id, big-endian.
// Encoded ids sort in numeric order. It panics if id is negative.
func AppendRecordID(b []byte, id RecordID) []byte {
	if !id.IsValid() {
		panic(errors.Errorf("cannot encode negative record id %d", id))
	}
	raw := uint64(id)
	bitsNeeded := 64 - bits.LeadingZeros64(raw)
	extra := 0
	if bitsNeeded > 10 {
		extra = (bitsNeeded - 10 + 7) / 8
	}
	b = append(b, byte(extra<<5)|byte(raw>>uint(5+extra*8)))
	for i := extra - 1; i >= 0; i-- {
		b = append(b, byte(raw>>uint(5+i*8)))
	}
	return append(b, byte(raw<<3)|byte(extra))
}

// DecodeRecordID reads a record id from the front of b and returns the leftover bytes.
func DecodeRecordID(b []byte) ([]byte, RecordID, error) {
	if len(b) < 2 {
		return nil, 0, errors.Trace(ErrRecordIDTruncated)
	}
	first := b[0]
	extra := int(first >> 5)
	if len(b) < extra+2 {
		return nil, 0, errors.Trace(ErrRecordIDTruncated)
	}
	raw := uint64(first & 0x1f)
	for i := 1; i <= extra; i++ {
		raw = raw<<8 | uint64(b[i])
	}
	last := b[extra+1]
	if int(last&0x7) != extra {
		return nil, 0, errors.Trace(ErrRecordIDCorrupted)
	}
	// The id must still fit in 63 bits once the last 5 bits are folded in.
	if raw>>58 != 0 {
		return nil, 0, errors.Trace(ErrRecordIDCorrupted)
	}
	raw = raw<<5 | uint64(last>>3)
	return b[extra+2:], RecordID(raw), nil
}

// DecodeRecordIDAtEnd reads the record id stored at the end of b and returns the bytes in front of it.
func DecodeRecordIDAtEnd(b []byte) ([]byte, RecordID, error) {
	if len(b) < 2 {
		return nil, 0, errors.Trace(ErrRecordIDTruncated)
	}
	extra := int(b[len(b)-1] & 0x7)
	start := len(b) - 2 - extra
	if start < 0 {
		return nil, 0, errors.Trace(ErrRecordIDTruncated)
	}
	left, id, err := DecodeRecordID(b[start:])
	if err != nil {
		return nil, 0, err
	}
	if len(left) != 0 {
		return nil, 0, errors.Trace(ErrRecordIDCorrupted)
	}
	return b[:start], id, nil
}
