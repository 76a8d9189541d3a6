package storage

// Storage is a local, ordered key/value engine. It knows nothing about transactions or key layouts: keys are raw byte
// strings kept in byte-wise order (see codec.Compare) and a batch of modifications is applied atomically.
//
// Engines are pluggable: MemStorage keeps everything in memory, badger_storage and leveldb_storage persist to disk.
type Storage interface {
	// Get returns the value stored under key, or nil if there is none. A present key never yields a nil value, so
	// an empty value can be told apart from a missing key.
	Get(key []byte) ([]byte, error)
	// Write applies every modification of batch atomically.
	Write(batch []Modify) error
	// NewIterator returns an iterator over a consistent view of the engine. It must be closed.
	NewIterator() DBIterator
	Close() error
}

type DBIterator interface {
	// Item returns pointer to the current key-value pair.
	Item() DBItem
	// Valid returns false when iteration is done.
	Valid() bool
	// Next would advance the iterator by one. Always check it.Valid() after a Next()
	// to ensure you have access to a valid it.Item().
	Next()
	// Seek would seek to the provided key if present. If absent, it would seek to the next smallest key
	// greater than provided.
	Seek([]byte)

	// Close the iterator
	Close()
}

type DBItem interface {
	// Key returns the key.
	Key() []byte
	// KeyCopy returns a copy of the key of the item, writing it to dst slice.
	// If nil is passed, or capacity of dst isn't sufficient, a new slice would be allocated and
	// returned.
	KeyCopy(dst []byte) []byte
	// Value retrieves the value of the item.
	Value() ([]byte, error)
	// ValueSize returns the size of the value.
	ValueSize() int
	// ValueCopy returns a copy of the value of the item, writing it to dst slice.
	// If nil is passed, or capacity of dst isn't sufficient, a new slice would be allocated and
	// returned.
	ValueCopy(dst []byte) ([]byte, error)
}

// NonNilValue turns the nil an engine may return for an empty value into an empty slice.
func NonNilValue(val []byte) []byte {
	if val == nil {
		return []byte{}
	}
	return val
}

// SafeCopy does append(a[:0], src...).
func SafeCopy(dst, src []byte) []byte {
	return append(dst[:0], src...)
}
