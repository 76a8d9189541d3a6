package kvengine

import (
	"bytes"
	"encoding/binary"
	"sort"
	"sync"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/dictkv/kv/config"
	"github.com/pingcap-incubator/dictkv/kv/dictionary"
	"github.com/pingcap-incubator/dictkv/kv/keystring"
	"github.com/pingcap-incubator/dictkv/kv/storage"
	"github.com/pingcap-incubator/dictkv/kv/storage/badger_storage"
	"github.com/pingcap-incubator/dictkv/kv/storage/leveldb_storage"
	"github.com/pingcap-incubator/dictkv/kv/transaction/occ"
	"github.com/pingcap-incubator/dictkv/kv/util/worker"
	"github.com/pingcap/errors"
)

var (
	ErrIdentExists   = errors.New("ident already exists")
	ErrIdentNotFound = errors.New("ident not found")
	ErrWrongKind     = errors.New("ident has another kind")
)

// PrefixSize is the length of the prefix every physical key starts with.
const PrefixSize = 4

// metadataPrefix is the prefix of catalog entries. Data prefixes start at 1.
const metadataPrefix uint32 = 0

const flagUnique byte = 1

// IdentInfo is the catalog entry of a record store or an index.
type IdentInfo struct {
	Ident    string
	Prefix   uint32
	Encoding dictionary.Encoding
	Unique   bool
}

// KVEngine is one storage engine instance: a storage.Storage shared by any number of record stores and indexes, each
// living under its own key prefix, plus the transaction engine that detects write conflicts between them.
//
// The catalog maps idents to prefixes. It is stored under prefix 0 as
//  [0 0 0 0][ident]           -> [prefix:4][serialized encoding][flags]
//  [0 0 0 0][0][prefix:4]     -> []    prefix dropped, data not yet deleted
type KVEngine struct {
	conf  *config.Config
	store storage.Storage
	txns  *occ.Engine

	mu         sync.RWMutex
	idents     map[string]*IdentInfo
	nextPrefix uint32

	dropWorker   *worker.Worker
	pendingDrops sync.WaitGroup
}

// Open opens the storage engine named by conf and loads the catalog.
func Open(conf *config.Config) (*KVEngine, error) {
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	var (
		store storage.Storage
		err   error
	)
	switch conf.Engine {
	case config.EngineMemory:
		store = storage.NewMemStorage()
	case config.EngineBadger:
		store, err = badger_storage.NewBadgerStorage(conf)
	case config.EngineLevelDB:
		store, err = leveldb_storage.NewLevelDBStorage(conf)
	}
	if err != nil {
		return nil, err
	}
	e, err := OpenWithStorage(conf, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return e, nil
}

// OpenWithStorage builds a KVEngine on top of an already opened storage engine. The KVEngine takes ownership of store.
func OpenWithStorage(conf *config.Config, store storage.Storage) (*KVEngine, error) {
	e := &KVEngine{
		conf:       conf,
		store:      store,
		txns:       occ.NewEngine(conf.NumShards),
		idents:     make(map[string]*IdentInfo),
		nextPrefix: metadataPrefix + 1,
		dropWorker: worker.NewWorker("drop-ident", 0),
	}
	dropped, err := e.loadCatalog()
	if err != nil {
		return nil, err
	}
	e.dropWorker.Start(&dropHandler{store: store, pending: &e.pendingDrops})
	for _, prefix := range dropped {
		log.Infof("resume cleanup of dropped prefix %d", prefix)
		e.scheduleDrop("", prefix)
	}
	log.Infof("kv engine opened, engine: %s, idents: %d, shards: %d", conf.Engine, len(e.idents), conf.NumShards)
	return e, nil
}

// loadCatalog fills the ident map and returns the prefixes whose data is still to be deleted.
func (e *KVEngine) loadCatalog() (dropped []uint32, err error) {
	metaKey := encodePrefix(metadataPrefix)
	it := e.store.NewIterator()
	defer it.Close()
	for it.Seek(metaKey); it.Valid(); it.Next() {
		item := it.Item()
		key := item.Key()
		if !bytes.HasPrefix(key, metaKey) {
			break
		}
		if len(key) == PrefixSize {
			return nil, errors.Errorf("catalog entry without ident")
		}
		var prefix uint32
		if key[PrefixSize] == 0 {
			if len(key) != 2*PrefixSize+1 {
				return nil, errors.Errorf("corrupted drop marker %x", key)
			}
			prefix = binary.BigEndian.Uint32(key[PrefixSize+1:])
			dropped = append(dropped, prefix)
		} else {
			ident := string(key[PrefixSize:])
			val, err := item.Value()
			if err != nil {
				return nil, errors.Trace(err)
			}
			info, err := decodeIdentInfo(ident, val)
			if err != nil {
				return nil, err
			}
			e.idents[ident] = info
			prefix = info.Prefix
		}
		if prefix >= e.nextPrefix {
			e.nextPrefix = prefix + 1
		}
	}
	identGauge.Set(float64(len(e.idents)))
	return dropped, nil
}

func encodePrefix(prefix uint32) []byte {
	b := make([]byte, PrefixSize)
	binary.BigEndian.PutUint32(b, prefix)
	return b
}

func metadataKey(ident string) []byte {
	return append(encodePrefix(metadataPrefix), ident...)
}

func (info *IdentInfo) marshal() []byte {
	b := encodePrefix(info.Prefix)
	b = append(b, info.Encoding.Serialize()...)
	var flags byte
	if info.Unique {
		flags |= flagUnique
	}
	return append(b, flags)
}

func decodeIdentInfo(ident string, val []byte) (*IdentInfo, error) {
	if len(val) < PrefixSize {
		return nil, errors.Errorf("catalog entry of %s is too short: %x", ident, val)
	}
	enc, rest, err := dictionary.DecodeKey(val[PrefixSize:])
	if err != nil {
		return nil, errors.Annotatef(err, "catalog entry of %s", ident)
	}
	if enc.IsEmpty() || len(rest) != 1 {
		return nil, errors.Errorf("corrupted catalog entry of %s: %x", ident, val)
	}
	return &IdentInfo{
		Ident:    ident,
		Prefix:   binary.BigEndian.Uint32(val),
		Encoding: enc,
		Unique:   rest[0]&flagUnique != 0,
	}, nil
}

// Storage returns the underlying storage engine.
func (e *KVEngine) Storage() storage.Storage { return e.store }

// TxnEngine returns the transaction engine shared by all write units.
func (e *KVEngine) TxnEngine() *occ.Engine { return e.txns }

// LatestSeq returns the sequence number of the most recent commit.
func (e *KVEngine) LatestSeq() uint64 { return e.txns.LatestSeq() }

func (e *KVEngine) createIdent(ident string, enc dictionary.Encoding, unique bool) (*IdentInfo, error) {
	if ident == "" || ident[0] == 0 {
		return nil, errors.Errorf("invalid ident %q", ident)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.idents[ident]; ok {
		return nil, errors.Annotatef(ErrIdentExists, "ident %s", ident)
	}
	info := &IdentInfo{
		Ident:    ident,
		Prefix:   e.nextPrefix,
		Encoding: enc,
		Unique:   unique,
	}
	if err := e.store.Write([]storage.Modify{storage.NewPut(metadataKey(ident), info.marshal())}); err != nil {
		return nil, errors.Trace(err)
	}
	e.idents[ident] = info
	e.nextPrefix++
	identGauge.Set(float64(len(e.idents)))
	log.Infof("created %v %s with prefix %d", enc, ident, info.Prefix)
	return info, nil
}

// CreateRecordStore adds a record store to the catalog.
func (e *KVEngine) CreateRecordStore(ident string) (*dictionary.RecordStore, error) {
	info, err := e.createIdent(ident, dictionary.ForRecordStore(), false)
	if err != nil {
		return nil, err
	}
	return e.recordStore(info), nil
}

// CreateIndex adds an index whose fields are ordered by ord to the catalog.
func (e *KVEngine) CreateIndex(ident string, ord keystring.Ordering, unique bool) (*dictionary.Index, error) {
	info, err := e.createIdent(ident, dictionary.ForIndex(ord), unique)
	if err != nil {
		return nil, err
	}
	return e.index(info), nil
}

func (e *KVEngine) lookup(ident string, kind dictionary.Kind) (*IdentInfo, error) {
	e.mu.RLock()
	info, ok := e.idents[ident]
	e.mu.RUnlock()
	if !ok {
		return nil, errors.Annotatef(ErrIdentNotFound, "ident %s", ident)
	}
	if info.Encoding.Kind() != kind {
		return nil, errors.Annotatef(ErrWrongKind, "ident %s is a %v, not a %v", ident, info.Encoding.Kind(), kind)
	}
	return info, nil
}

// RecordStore opens an existing record store.
func (e *KVEngine) RecordStore(ident string) (*dictionary.RecordStore, error) {
	info, err := e.lookup(ident, dictionary.KindRecordStore)
	if err != nil {
		return nil, err
	}
	return e.recordStore(info), nil
}

// Index opens an existing index.
func (e *KVEngine) Index(ident string) (*dictionary.Index, error) {
	info, err := e.lookup(ident, dictionary.KindIndex)
	if err != nil {
		return nil, err
	}
	return e.index(info), nil
}

func (e *KVEngine) recordStore(info *IdentInfo) *dictionary.RecordStore {
	return dictionary.NewRecordStore(info.Ident, encodePrefix(info.Prefix), e.store)
}

func (e *KVEngine) index(info *IdentInfo) *dictionary.Index {
	return dictionary.NewIndex(info.Ident, encodePrefix(info.Prefix), info.Encoding.Ordering(), info.Unique, e.store)
}

// IdentInfo returns the catalog entry of ident.
func (e *KVEngine) IdentInfo(ident string) (IdentInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	info, ok := e.idents[ident]
	if !ok {
		return IdentInfo{}, errors.Annotatef(ErrIdentNotFound, "ident %s", ident)
	}
	return *info, nil
}

// HasIdent reports whether ident is in the catalog.
func (e *KVEngine) HasIdent(ident string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.idents[ident]
	return ok
}

// AllIdents returns every ident in the catalog, sorted.
func (e *KVEngine) AllIdents() []string {
	e.mu.RLock()
	idents := make([]string, 0, len(e.idents))
	for ident := range e.idents {
		idents = append(idents, ident)
	}
	e.mu.RUnlock()
	sort.Strings(idents)
	return idents
}

// DropIdent removes ident from the catalog. Its data is deleted in the background, see WaitForDrops. Handles opened
// on ident must not be used afterwards. The prefix is never handed out again.
func (e *KVEngine) DropIdent(ident string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	info, ok := e.idents[ident]
	if !ok {
		return errors.Annotatef(ErrIdentNotFound, "ident %s", ident)
	}
	err := e.store.Write([]storage.Modify{
		storage.NewDelete(metadataKey(ident)),
		storage.NewPut(dropMarkerKey(info.Prefix), nil),
	})
	if err != nil {
		return errors.Trace(err)
	}
	delete(e.idents, ident)
	identGauge.Set(float64(len(e.idents)))
	log.Infof("dropped %v %s with prefix %d", info.Encoding, ident, info.Prefix)
	e.scheduleDrop(ident, info.Prefix)
	return nil
}

// NewWriteUnit starts a write unit with a fresh snapshot.
func (e *KVEngine) NewWriteUnit() *WriteUnit {
	return newWriteUnit(e.store, e.txns.Begin())
}

// Close waits for background cleanups to finish and closes the storage engine.
func (e *KVEngine) Close() error {
	e.dropWorker.Stop()
	return e.store.Close()
}

// SplitKey splits a physical key into its prefix and the dictionary key that follows. Prefix 0 holds catalog entries,
// whose rest is the ident.
func SplitKey(key []byte) (uint32, []byte, error) {
	if len(key) < PrefixSize {
		return 0, nil, errors.Errorf("key %x is shorter than its prefix", key)
	}
	return binary.BigEndian.Uint32(key), key[PrefixSize:], nil
}
