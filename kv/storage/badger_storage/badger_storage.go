package badger_storage

import (
	"os"

	"github.com/Connor1996/badger"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/dictkv/kv/config"
	"github.com/pingcap-incubator/dictkv/kv/storage"
	"github.com/pingcap/errors"
)

// BadgerStorage is a storage.Storage backed by a single badger DB on disk.
type BadgerStorage struct {
	db   *badger.DB
	path string
}

// NewBadgerStorage opens, creating it if needed, the badger DB under conf.DBPath.
func NewBadgerStorage(conf *config.Config) (*BadgerStorage, error) {
	opts := badger.DefaultOptions
	opts.Dir = conf.DBPath
	opts.ValueDir = opts.Dir
	opts.SyncWrites = conf.Badger.SyncWrites
	opts.ValueThreshold = conf.Badger.ValueThreshold
	opts.ValueLogFileSize = int64(conf.Badger.VlogFileSize)
	opts.MaxTableSize = int64(conf.Badger.MaxTableSize)
	if conf.Badger.NumMemTables > 0 {
		opts.NumMemtables = conf.Badger.NumMemTables
	}
	if conf.Badger.NumCompactors > 0 {
		opts.NumCompactors = conf.Badger.NumCompactors
	}
	if err := os.MkdirAll(opts.Dir, os.ModePerm); err != nil {
		return nil, errors.Trace(err)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Annotatef(err, "open badger at %s", opts.Dir)
	}
	log.Infof("badger storage opened at %s", opts.Dir)
	return &BadgerStorage{db: db, path: opts.Dir}, nil
}

func (s *BadgerStorage) Get(key []byte) (val []byte, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(val)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	return storage.NonNilValue(val), nil
}

// Write applies the batch in one badger transaction. Puts with an empty value are kept as empty values, only a Delete
// removes a key.
func (s *BadgerStorage) Write(batch []storage.Modify) error {
	if len(batch) == 0 {
		return nil
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, m := range batch {
			var err1 error
			switch data := m.Data.(type) {
			case storage.Put:
				err1 = txn.Set(data.Key, storage.NonNilValue(data.Value))
			case storage.Delete:
				err1 = txn.Delete(data.Key)
			default:
				err1 = errors.Errorf("badger-storage: bad modify %T", m.Data)
			}
			if err1 != nil {
				return err1
			}
		}
		return nil
	})
	return errors.Trace(err)
}

// NewIterator holds a read-only badger transaction until the iterator is closed.
func (s *BadgerStorage) NewIterator() storage.DBIterator {
	txn := s.db.NewTransaction(false)
	return &BadgerIterator{
		txn:  txn,
		iter: txn.NewIterator(badger.DefaultIteratorOptions),
	}
}

func (s *BadgerStorage) Close() error {
	return errors.Trace(s.db.Close())
}

// Destroy closes the DB and removes its files.
func (s *BadgerStorage) Destroy() error {
	if err := s.Close(); err != nil {
		return err
	}
	return errors.Trace(os.RemoveAll(s.path))
}

type BadgerIterator struct {
	txn  *badger.Txn
	iter *badger.Iterator
}

func (it *BadgerIterator) Item() storage.DBItem {
	return &badgerItem{item: it.iter.Item()}
}

func (it *BadgerIterator) Valid() bool { return it.iter.Valid() }

func (it *BadgerIterator) Next() {
	it.iter.Next()
}

func (it *BadgerIterator) Seek(key []byte) {
	it.iter.Seek(key)
}

func (it *BadgerIterator) Close() {
	it.iter.Close()
	it.txn.Discard()
}

type badgerItem struct {
	item *badger.Item
}

func (i *badgerItem) Key() []byte {
	return i.item.Key()
}

func (i *badgerItem) KeyCopy(dst []byte) []byte {
	return i.item.KeyCopy(dst)
}

func (i *badgerItem) Value() ([]byte, error) {
	val, err := i.item.Value()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return storage.NonNilValue(val), nil
}

func (i *badgerItem) ValueSize() int {
	return i.item.ValueSize()
}

func (i *badgerItem) ValueCopy(dst []byte) ([]byte, error) {
	val, err := i.item.ValueCopy(dst)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return storage.NonNilValue(val), nil
}
