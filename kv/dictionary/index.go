package dictionary

import (
	"bytes"

	"github.com/pingcap-incubator/dictkv/kv/keystring"
	"github.com/pingcap-incubator/dictkv/kv/storage"
	"github.com/pingcap/errors"
)

// IndexEntry is one decoded index entry. Fields holds the key fields followed by the covered fields, if any.
type IndexEntry struct {
	Fields   []keystring.Value
	RecordID keystring.RecordID
}

// Index maps composite keys to record ids. Each entry is a key of its own, the record id is the last part of the key
// so entries with equal fields are kept in record id order. Covered fields live in the value.
type Index struct {
	ident  string
	prefix []byte
	enc    Encoding
	unique bool
	store  storage.Storage
}

// NewIndex returns the index whose keys start with prefix.
func NewIndex(ident string, prefix []byte, ord keystring.Ordering, unique bool, store storage.Storage) *Index {
	return &Index{
		ident:  ident,
		prefix: prefix,
		enc:    ForIndex(ord),
		unique: unique,
		store:  store,
	}
}

func (idx *Index) Ident() string { return idx.ident }

func (idx *Index) Encoding() Encoding { return idx.enc }

func (idx *Index) Ordering() keystring.Ordering { return idx.enc.Ordering() }

func (idx *Index) Unique() bool { return idx.unique }

func (idx *Index) fieldsPrefix(fields []keystring.Value) []byte {
	return withPrefix(idx.prefix, idx.enc.IndexKeyPrefix(fields))
}

// Insert adds the entry (fields, id) with optional covered fields. On a unique index it fails with ErrDuplicateKey
// when an entry with equal fields and another record id is visible. Fields are equal only when both lists have the
// same length, so ["a"] and ["a", 1] are distinct keys. Inserting an existing entry again overwrites its
// covered fields.
func (idx *Index) Insert(w Writer, fields []keystring.Value, id keystring.RecordID, covered []keystring.Value) error {
	fieldsKey := idx.fieldsPrefix(fields)
	key := keystring.AppendRecordID(append([]byte{}, fieldsKey...), id)
	if idx.unique {
		// Every writer of these fields claims the same key, so two concurrent inserts of equal fields conflict.
		if err := w.Lock(fieldsKey); err != nil {
			return err
		}
		var (
			dup   bool
			other keystring.RecordID
		)
		err := w.Iterate(fieldsKey, func(k, _ []byte) bool {
			if bytes.Equal(k, key) {
				return true
			}
			// Entries with more fields share the prefix; only a bare record id after it means equal fields.
			left, id, err := keystring.DecodeRecordID(k[len(fieldsKey):])
			if err != nil || len(left) != 0 {
				return true
			}
			dup, other = true, id
			return false
		})
		if err != nil {
			return err
		}
		if dup {
			return errors.Annotatef(ErrDuplicateKey, "index %s, fields %v held by record %d", idx.ident, fields, other)
		}
	}
	var value []byte
	if len(covered) > 0 {
		value = keystring.EncodeKey(covered, 0)
	}
	return w.Put(key, value)
}

// Unindex removes the entry (fields, id). Removing a missing entry is not an error.
func (idx *Index) Unindex(w Writer, fields []keystring.Value, id keystring.RecordID) error {
	fieldsKey := idx.fieldsPrefix(fields)
	if idx.unique {
		if err := w.Lock(fieldsKey); err != nil {
			return err
		}
	}
	return w.Delete(keystring.AppendRecordID(fieldsKey, id))
}

// Seek calls fn for committed entries in key order, starting at the first entry not smaller than fields, until fn
// returns false. fields may name fewer fields than the index has.
func (idx *Index) Seek(fields []keystring.Value, fn func(entry IndexEntry) bool) error {
	keyPrefix := withPrefix(idx.prefix, idx.enc.Serialize())
	return scanPrefix(idx.store, keyPrefix, idx.fieldsPrefix(fields), func(key, value []byte) (bool, error) {
		entry, err := idx.decodeEntry(key[len(keyPrefix):], value)
		if err != nil {
			return false, errors.Annotatef(err, "index %s, key %x", idx.ident, key)
		}
		return fn(entry), nil
	})
}

func (idx *Index) decodeEntry(body, value []byte) (IndexEntry, error) {
	fields, err := idx.enc.ExtractKey(body, value)
	if err != nil {
		return IndexEntry{}, err
	}
	id, err := idx.enc.ExtractRecordID(body)
	if err != nil {
		return IndexEntry{}, err
	}
	return IndexEntry{Fields: fields, RecordID: id}, nil
}

// IsEmpty reports whether the index has no committed entries.
func (idx *Index) IsEmpty() (bool, error) {
	empty := true
	err := idx.Seek(nil, func(IndexEntry) bool {
		empty = false
		return false
	})
	return empty, err
}
