package kvengine

import (
	"bytes"

	"github.com/google/btree"
	"github.com/pingcap-incubator/dictkv/kv/storage"
	"github.com/pingcap-incubator/dictkv/kv/transaction/occ"
	"github.com/pingcap/errors"
)

const pendingBtreeDegree = 8

// WriteUnit groups the writes of one operation. Every written key is registered with the unit's transaction before it
// is buffered, so a write conflict shows up at the write that causes it. Nothing reaches the storage engine before
// Commit, which applies the whole buffer as one batch.
//
// A WriteUnit must not be shared between goroutines.
type WriteUnit struct {
	store   storage.Storage
	txn     *occ.Txn
	pending *btree.BTree
}

type pendingWrite struct {
	key     []byte
	value   []byte
	deleted bool
}

func (p *pendingWrite) Less(than btree.Item) bool {
	return bytes.Compare(p.key, than.(*pendingWrite).key) < 0
}

func newWriteUnit(store storage.Storage, txn *occ.Txn) *WriteUnit {
	return &WriteUnit{
		store:   store,
		txn:     txn,
		pending: btree.New(pendingBtreeDegree),
	}
}

// Txn returns the conflict detection transaction of the unit.
func (wu *WriteUnit) Txn() *occ.Txn { return wu.txn }

// Len returns the number of buffered writes.
func (wu *WriteUnit) Len() int { return wu.pending.Len() }

// Get returns the value of key, looking at buffered writes first. It returns nil if the key does not exist.
func (wu *WriteUnit) Get(key []byte) ([]byte, error) {
	if item := wu.pending.Get(&pendingWrite{key: key}); item != nil {
		p := item.(*pendingWrite)
		if p.deleted {
			return nil, nil
		}
		return p.value, nil
	}
	return wu.store.Get(key)
}

func (wu *WriteUnit) Put(key, value []byte) error {
	if err := wu.txn.RegisterKey(key); err != nil {
		return err
	}
	wu.pending.ReplaceOrInsert(&pendingWrite{
		key:   append([]byte{}, key...),
		value: append([]byte{}, value...),
	})
	return nil
}

func (wu *WriteUnit) Delete(key []byte) error {
	if err := wu.txn.RegisterKey(key); err != nil {
		return err
	}
	wu.pending.ReplaceOrInsert(&pendingWrite{
		key:     append([]byte{}, key...),
		deleted: true,
	})
	return nil
}

// Lock registers key with the transaction without writing it.
func (wu *WriteUnit) Lock(key []byte) error {
	return wu.txn.RegisterKey(key)
}

// Iterate merges the buffered writes with the committed keys of the storage engine.
func (wu *WriteUnit) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	var buffered []*pendingWrite
	wu.pending.AscendGreaterOrEqual(&pendingWrite{key: prefix}, func(item btree.Item) bool {
		p := item.(*pendingWrite)
		if !bytes.HasPrefix(p.key, prefix) {
			return false
		}
		buffered = append(buffered, p)
		return true
	})

	it := wu.store.NewIterator()
	defer it.Close()
	it.Seek(prefix)
	for {
		var committedKey []byte
		if it.Valid() && bytes.HasPrefix(it.Item().Key(), prefix) {
			committedKey = it.Item().Key()
		}
		if committedKey == nil && len(buffered) == 0 {
			return nil
		}

		if len(buffered) > 0 && (committedKey == nil || bytes.Compare(buffered[0].key, committedKey) <= 0) {
			p := buffered[0]
			buffered = buffered[1:]
			if committedKey != nil && bytes.Equal(p.key, committedKey) {
				it.Next()
			}
			if p.deleted {
				continue
			}
			if !fn(p.key, storage.NonNilValue(p.value)) {
				return nil
			}
			continue
		}

		val, err := it.Item().Value()
		if err != nil {
			return errors.Trace(err)
		}
		if !fn(committedKey, val) {
			return nil
		}
		it.Next()
	}
}

// Commit writes the buffered writes to the storage engine and commits the transaction. If the storage engine fails the
// transaction is aborted and the error returned.
func (wu *WriteUnit) Commit() error {
	batch := make([]storage.Modify, 0, wu.pending.Len())
	wu.pending.Ascend(func(item btree.Item) bool {
		p := item.(*pendingWrite)
		if p.deleted {
			batch = append(batch, storage.NewDelete(p.key))
		} else {
			batch = append(batch, storage.NewPut(p.key, p.value))
		}
		return true
	})
	if len(batch) > 0 {
		if err := wu.store.Write(batch); err != nil {
			wu.Abort()
			return errors.Trace(err)
		}
	}
	wu.txn.Commit()
	writeUnitKeys.Observe(float64(len(batch)))
	wu.pending.Clear(false)
	return nil
}

// Abort drops the buffered writes and aborts the transaction.
func (wu *WriteUnit) Abort() {
	wu.pending.Clear(false)
	wu.txn.Abort()
}

// reset makes a finished unit usable again with a fresh snapshot.
func (wu *WriteUnit) reset() {
	wu.pending.Clear(false)
	wu.txn.RecordSnapshot()
}
