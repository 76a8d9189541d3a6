package dictionary

import (
	"github.com/pingcap-incubator/dictkv/kv/keystring"
	"github.com/pingcap-incubator/dictkv/kv/storage"
	"github.com/pingcap/errors"
)

// RecordStore maps record ids to opaque values. Its keys live under a prefix owned by the store, followed by the
// record store encoding of the id.
type RecordStore struct {
	ident  string
	prefix []byte
	enc    Encoding
	store  storage.Storage
}

// NewRecordStore returns the record store whose keys start with prefix.
func NewRecordStore(ident string, prefix []byte, store storage.Storage) *RecordStore {
	return &RecordStore{
		ident:  ident,
		prefix: prefix,
		enc:    ForRecordStore(),
		store:  store,
	}
}

func (rs *RecordStore) Ident() string { return rs.ident }

func (rs *RecordStore) Encoding() Encoding { return rs.enc }

func (rs *RecordStore) key(id keystring.RecordID) []byte {
	if !id.IsValid() {
		panic(errors.Errorf("record store %s: invalid record id %d", rs.ident, id))
	}
	return withPrefix(rs.prefix, rs.enc.RecordKey(id))
}

// Insert stores a new record. It returns ErrRecordExists if id is taken.
func (rs *RecordStore) Insert(w Writer, id keystring.RecordID, value []byte) error {
	key := rs.key(id)
	// Claim first so the existence check cannot miss a concurrent insert.
	if err := w.Lock(key); err != nil {
		return err
	}
	old, err := w.Get(key)
	if err != nil {
		return err
	}
	if old != nil {
		return errors.Annotatef(ErrRecordExists, "record store %s, id %d", rs.ident, id)
	}
	return w.Put(key, value)
}

// Update replaces the value of an existing record. It returns ErrRecordNotFound if there is none.
func (rs *RecordStore) Update(w Writer, id keystring.RecordID, value []byte) error {
	key := rs.key(id)
	if err := w.Lock(key); err != nil {
		return err
	}
	old, err := w.Get(key)
	if err != nil {
		return err
	}
	if old == nil {
		return errors.Annotatef(ErrRecordNotFound, "record store %s, id %d", rs.ident, id)
	}
	return w.Put(key, value)
}

// Delete removes a record. Deleting a missing record is not an error.
func (rs *RecordStore) Delete(w Writer, id keystring.RecordID) error {
	return w.Delete(rs.key(id))
}

// Get returns the value of a record as seen by w, or nil if there is none.
func (rs *RecordStore) Get(w Writer, id keystring.RecordID) ([]byte, error) {
	return w.Get(rs.key(id))
}

// Scan calls fn for every committed record in record id order until fn returns false. Values passed to fn are only
// valid during the call.
func (rs *RecordStore) Scan(fn func(id keystring.RecordID, value []byte) bool) error {
	keyPrefix := withPrefix(rs.prefix, rs.enc.Serialize())
	return scanPrefix(rs.store, keyPrefix, keyPrefix, func(key, value []byte) (bool, error) {
		id, err := rs.enc.ExtractRecordID(key[len(keyPrefix):])
		if err != nil {
			return false, errors.Annotatef(err, "record store %s, key %x", rs.ident, key)
		}
		return fn(id, value), nil
	})
}

// NumRecords counts the committed records.
func (rs *RecordStore) NumRecords() (int64, error) {
	var n int64
	err := rs.Scan(func(keystring.RecordID, []byte) bool {
		n++
		return true
	})
	return n, err
}
