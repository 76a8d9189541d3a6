package badger_storage

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/pingcap-incubator/dictkv/kv/config"
	"github.com/pingcap-incubator/dictkv/kv/storage"
	"github.com/pingcap-incubator/dictkv/kv/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) (*BadgerStorage, *config.Config) {
	dir, err := ioutil.TempDir("", "dictkv-badger")
	require.Nil(t, err)
	conf := config.NewTestConfig()
	conf.Engine = config.EngineBadger
	conf.DBPath = dir
	s, err := NewBadgerStorage(conf)
	require.Nil(t, err)
	return s, conf
}

func TestBadgerStorage(t *testing.T) {
	storagetest.RunStorageTests(t, func(t *testing.T) (storage.Storage, func()) {
		s, _ := newTestStorage(t)
		return s, func() { s.Destroy() }
	})
}

func TestBadgerStorageReopen(t *testing.T) {
	s, conf := newTestStorage(t)
	defer os.RemoveAll(conf.DBPath)

	require.Nil(t, s.Write([]storage.Modify{
		storage.NewPut([]byte("a"), []byte("1")),
		storage.NewPut([]byte("b"), nil),
	}))
	require.Nil(t, s.Close())

	s, err := NewBadgerStorage(conf)
	require.Nil(t, err)
	defer s.Close()
	val, err := s.Get([]byte("a"))
	require.Nil(t, err)
	assert.Equal(t, []byte("1"), val)
	val, err = s.Get([]byte("b"))
	require.Nil(t, err)
	assert.Equal(t, []byte{}, val)
}
