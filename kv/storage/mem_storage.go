package storage

import (
	"bytes"
	"sync"

	"github.com/google/btree"
	"github.com/pingcap/errors"
)

const memBtreeDegree = 32

// MemStorage is a Storage backed by memory. Data is not written to disk. It is mostly used for testing and for
// transient dictionaries.
type MemStorage struct {
	mu     sync.RWMutex
	data   *btree.BTree
	closed bool
}

func NewMemStorage() *MemStorage {
	return &MemStorage{
		data: btree.New(memBtreeDegree),
	}
}

var errMemStorageClosed = errors.New("mem-storage: closed")

func (ms *MemStorage) Get(key []byte) ([]byte, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if ms.closed {
		return nil, errors.Trace(errMemStorageClosed)
	}
	result := ms.data.Get(memItem{key: key})
	if result == nil {
		return nil, nil
	}
	return NonNilValue(result.(memItem).value), nil
}

func (ms *MemStorage) Write(batch []Modify) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.closed {
		return errors.Trace(errMemStorageClosed)
	}
	for _, m := range batch {
		switch data := m.Data.(type) {
		case Put:
			item := memItem{append([]byte{}, data.Key...), append([]byte{}, data.Value...)}
			ms.data.ReplaceOrInsert(item)
		case Delete:
			ms.data.Delete(memItem{key: data.Key})
		default:
			return errors.Errorf("mem-storage: bad modify %T", m.Data)
		}
	}
	return nil
}

// NewIterator iterates over a copy-on-write clone of the tree, later writes are not visible to it.
func (ms *MemStorage) NewIterator() DBIterator {
	ms.mu.Lock()
	snap := ms.data.Clone()
	ms.mu.Unlock()
	return &memIter{data: snap}
}

// Len returns the number of keys.
func (ms *MemStorage) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.data.Len()
}

func (ms *MemStorage) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.closed = true
	return nil
}

type memIter struct {
	data *btree.BTree
	item memItem
}

func (it *memIter) Item() DBItem {
	return it.item
}

func (it *memIter) Valid() bool {
	return it.item.key != nil
}

func (it *memIter) Next() {
	first := true
	oldItem := it.item
	it.item = memItem{}
	it.data.AscendGreaterOrEqual(oldItem, func(item btree.Item) bool {
		// Skip the first item, which will be it.item
		if first {
			first = false
			return true
		}

		it.item = item.(memItem)
		return false
	})
}

func (it *memIter) Seek(key []byte) {
	it.item = memItem{}
	it.data.AscendGreaterOrEqual(memItem{key: key}, func(item btree.Item) bool {
		it.item = item.(memItem)

		return false
	})
}

func (it *memIter) Close() {}

type memItem struct {
	key   []byte
	value []byte
}

func (it memItem) Key() []byte {
	return it.key
}
func (it memItem) KeyCopy(dst []byte) []byte {
	return SafeCopy(dst, it.key)
}
func (it memItem) Value() ([]byte, error) {
	return NonNilValue(it.value), nil
}
func (it memItem) ValueSize() int {
	return len(it.value)
}
func (it memItem) ValueCopy(dst []byte) ([]byte, error) {
	return NonNilValue(SafeCopy(dst, it.value)), nil
}

func (it memItem) Less(than btree.Item) bool {
	other := than.(memItem)
	return bytes.Compare(it.key, other.key) < 0
}
