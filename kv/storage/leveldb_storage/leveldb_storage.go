package leveldb_storage

import (
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/dictkv/kv/config"
	"github.com/pingcap-incubator/dictkv/kv/storage"
	"github.com/pingcap/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	lstorage "github.com/syndtr/goleveldb/leveldb/storage"
)

// LevelDBStorage is a storage.Storage backed by goleveldb.
type LevelDBStorage struct {
	db *leveldb.DB
	wo *opt.WriteOptions
}

// NewLevelDBStorage opens the leveldb under conf.DBPath, or a memory backed one if conf.LevelDB.InMemory is set.
func NewLevelDBStorage(conf *config.Config) (*LevelDBStorage, error) {
	o := &opt.Options{
		BlockCacheCapacity: int(conf.LevelDB.BlockCacheSize),
		WriteBuffer:        int(conf.LevelDB.WriteBuffer),
		NoSync:             conf.LevelDB.NoSync,
	}
	var (
		db  *leveldb.DB
		err error
	)
	if conf.LevelDB.InMemory {
		db, err = leveldb.Open(lstorage.NewMemStorage(), o)
	} else {
		db, err = leveldb.OpenFile(conf.DBPath, o)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "open leveldb at %s", conf.DBPath)
	}
	if !conf.LevelDB.InMemory {
		log.Infof("leveldb storage opened at %s", conf.DBPath)
	}
	return &LevelDBStorage{
		db: db,
		wo: &opt.WriteOptions{Sync: !conf.LevelDB.NoSync},
	}, nil
}

func (s *LevelDBStorage) Get(key []byte) ([]byte, error) {
	val, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	return storage.NonNilValue(val), nil
}

func (s *LevelDBStorage) Write(batch []storage.Modify) error {
	if len(batch) == 0 {
		return nil
	}
	b := new(leveldb.Batch)
	for _, m := range batch {
		switch data := m.Data.(type) {
		case storage.Put:
			b.Put(data.Key, data.Value)
		case storage.Delete:
			b.Delete(data.Key)
		default:
			return errors.Errorf("leveldb-storage: bad modify %T", m.Data)
		}
	}
	return errors.Trace(s.db.Write(b, s.wo))
}

// NewIterator iterates over an implicit leveldb snapshot taken now.
func (s *LevelDBStorage) NewIterator() storage.DBIterator {
	return &LdbIterator{iter: s.db.NewIterator(nil, nil)}
}

func (s *LevelDBStorage) Close() error {
	return errors.Trace(s.db.Close())
}

// LdbIterator adapts a leveldb iterator. The key and value of an item are only valid until the next move.
type LdbIterator struct {
	iter iterator.Iterator
}

func (it *LdbIterator) Item() storage.DBItem {
	return &LdbItem{
		key:   it.iter.Key(),
		value: it.iter.Value(),
	}
}

func (it *LdbIterator) Valid() bool { return it.iter.Valid() }

func (it *LdbIterator) Next() {
	it.iter.Next()
}

func (it *LdbIterator) Seek(key []byte) {
	it.iter.Seek(key)
}

func (it *LdbIterator) Close() {
	if err := it.iter.Error(); err != nil {
		log.Warnf("leveldb iterator: %v", err)
	}
	it.iter.Release()
}

type LdbItem struct {
	key   []byte
	value []byte
}

func (i *LdbItem) Key() []byte {
	return i.key
}

func (i *LdbItem) KeyCopy(dst []byte) []byte {
	return storage.SafeCopy(dst, i.key)
}

func (i *LdbItem) Value() ([]byte, error) {
	return storage.NonNilValue(i.value), nil
}

func (i *LdbItem) ValueSize() int {
	return len(i.value)
}

func (i *LdbItem) ValueCopy(dst []byte) ([]byte, error) {
	return storage.NonNilValue(storage.SafeCopy(dst, i.value)), nil
}
