// Package storagetest holds the behaviour every storage.Storage implementation must share.
package storagetest

import (
	"fmt"
	"testing"

	"github.com/pingcap-incubator/dictkv/kv/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewStorageFunc opens a fresh, empty storage. The returned func releases it and any files behind it.
type NewStorageFunc func(t *testing.T) (storage.Storage, func())

// RunStorageTests runs the shared storage behaviour tests against engines made by newStorage.
func RunStorageTests(t *testing.T, newStorage NewStorageFunc) {
	t.Run("GetPutDelete", func(t *testing.T) { testGetPutDelete(t, newStorage) })
	t.Run("EmptyValue", func(t *testing.T) { testEmptyValue(t, newStorage) })
	t.Run("IterateInOrder", func(t *testing.T) { testIterateInOrder(t, newStorage) })
	t.Run("IteratorIsSnapshot", func(t *testing.T) { testIteratorIsSnapshot(t, newStorage) })
}

func testGetPutDelete(t *testing.T, newStorage NewStorageFunc) {
	s, cleanUp := newStorage(t)
	defer cleanUp()

	val, err := s.Get([]byte("a"))
	require.Nil(t, err)
	assert.Nil(t, val)

	require.Nil(t, s.Write([]storage.Modify{
		storage.NewPut([]byte("a"), []byte("1")),
		storage.NewPut([]byte("b"), []byte("2")),
	}))
	val, err = s.Get([]byte("a"))
	require.Nil(t, err)
	assert.Equal(t, []byte("1"), val)

	// Later modifications in a batch win.
	require.Nil(t, s.Write([]storage.Modify{
		storage.NewPut([]byte("a"), []byte("3")),
		storage.NewDelete([]byte("b")),
		storage.NewPut([]byte("a"), []byte("4")),
	}))
	val, err = s.Get([]byte("a"))
	require.Nil(t, err)
	assert.Equal(t, []byte("4"), val)
	val, err = s.Get([]byte("b"))
	require.Nil(t, err)
	assert.Nil(t, val)

	// Deleting a missing key is fine.
	require.Nil(t, s.Write([]storage.Modify{storage.NewDelete([]byte("zz"))}))
	require.Nil(t, s.Write(nil))
}

func testEmptyValue(t *testing.T, newStorage NewStorageFunc) {
	s, cleanUp := newStorage(t)
	defer cleanUp()

	require.Nil(t, s.Write([]storage.Modify{storage.NewPut([]byte("k"), nil)}))
	val, err := s.Get([]byte("k"))
	require.Nil(t, err)
	require.NotNil(t, val)
	assert.Len(t, val, 0)

	it := s.NewIterator()
	defer it.Close()
	it.Seek(nil)
	require.True(t, it.Valid())
	assert.Equal(t, []byte("k"), it.Item().Key())
	v, err := it.Item().Value()
	require.Nil(t, err)
	assert.NotNil(t, v)
	assert.Len(t, v, 0)
}

func testIterateInOrder(t *testing.T, newStorage NewStorageFunc) {
	s, cleanUp := newStorage(t)
	defer cleanUp()

	var batch []storage.Modify
	// Insert out of order, including keys that differ only in their high bit.
	for _, k := range []string{"\xff", "b", "a\x00", "a", "\x80", "ab"} {
		batch = append(batch, storage.NewPut([]byte(k), []byte("v"+k)))
	}
	require.Nil(t, s.Write(batch))

	it := s.NewIterator()
	defer it.Close()
	var keys []string
	for it.Seek(nil); it.Valid(); it.Next() {
		item := it.Item()
		keys = append(keys, string(item.KeyCopy(nil)))
		val, err := item.ValueCopy(nil)
		require.Nil(t, err)
		assert.Equal(t, "v"+string(item.Key()), string(val))
		assert.Equal(t, len(val), item.ValueSize())
	}
	assert.Equal(t, []string{"a", "a\x00", "ab", "b", "\x80", "\xff"}, keys)

	it.Seek([]byte("a\x01"))
	require.True(t, it.Valid())
	assert.Equal(t, []byte("ab"), it.Item().Key())

	it.Seek([]byte("\xff\x00"))
	assert.False(t, it.Valid())
}

func testIteratorIsSnapshot(t *testing.T, newStorage NewStorageFunc) {
	s, cleanUp := newStorage(t)
	defer cleanUp()

	for i := 0; i < 10; i++ {
		key := []byte(fmt.Sprintf("key%02d", i))
		require.Nil(t, s.Write([]storage.Modify{storage.NewPut(key, key)}))
	}

	it := s.NewIterator()
	defer it.Close()
	require.Nil(t, s.Write([]storage.Modify{
		storage.NewDelete([]byte("key03")),
		storage.NewPut([]byte("key10"), []byte("key10")),
	}))

	n := 0
	for it.Seek(nil); it.Valid(); it.Next() {
		n++
	}
	assert.Equal(t, 10, n)
}
