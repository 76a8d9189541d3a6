package dictionary

import (
	"bytes"

	"github.com/pingcap-incubator/dictkv/kv/storage"
	"github.com/pingcap/errors"
)

var (
	ErrRecordExists   = errors.New("record already exists")
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateKey   = errors.New("duplicate key in unique index")
)

// Writer is the transactional view that record stores and indexes write through. Keys are full physical keys.
//
// Put, Delete and Lock claim the key for the writer and fail with a write conflict when another writer got there
// first. Get and Iterate see the writer's own pending writes on top of the committed data.
type Writer interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	// Lock claims key without writing it.
	Lock(key []byte) error
	// Iterate calls fn in key order for every visible key starting with prefix, until fn returns false.
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
}

// scanPrefix calls fn for every committed key in store that starts with prefix and is not smaller than start.
func scanPrefix(store storage.Storage, prefix, start []byte, fn func(key, value []byte) (bool, error)) error {
	it := store.NewIterator()
	defer it.Close()
	for it.Seek(start); it.Valid(); it.Next() {
		item := it.Item()
		if !bytes.HasPrefix(item.Key(), prefix) {
			return nil
		}
		val, err := item.Value()
		if err != nil {
			return errors.Trace(err)
		}
		more, err := fn(item.Key(), val)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func withPrefix(prefix, key []byte) []byte {
	b := make([]byte, 0, len(prefix)+len(key))
	b = append(b, prefix...)
	return append(b, key...)
}
