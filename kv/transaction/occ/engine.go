package occ

import (
	"sync"

	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

// DefaultNumShards is the number of shards the key space is split into when the configuration does not say otherwise.
const DefaultNumShards = 16

// Engine is the state shared by all transactions of one storage engine instance. The key space is split into a fixed
// number of shards by key hash. For every shard the engine remembers the sequence number of the last commit that wrote
// to it and the transaction, if any, that has claimed it without committing yet.
//
// Nothing here is persisted: sequence numbers only have to order commits within one process lifetime.
type Engine struct {
	numShards uint64

	// latestSeq is only stored with commitLock held, but may be loaded without it.
	latestSeq *atomic.Uint64
	nextTxnID *atomic.Uint64

	// commitLock serializes every change to the shard tables and latestSeq. It is never held across I/O.
	commitLock sync.Mutex
	// committedSeq[shard] is the sequence number of the last commit which wrote to shard.
	committedSeq []uint64
	// uncommittedOwner[shard] is the id of the transaction claiming shard, 0 if there is none.
	uncommittedOwner []uint64
}

// NewEngine creates an Engine with numShards shards. It panics if numShards is not positive.
func NewEngine(numShards int) *Engine {
	if numShards <= 0 {
		panic(errors.Errorf("occ: shard count must be positive, got %d", numShards))
	}
	return &Engine{
		numShards:        uint64(numShards),
		latestSeq:        atomic.NewUint64(1),
		nextTxnID:        atomic.NewUint64(0),
		committedSeq:     make([]uint64, numShards),
		uncommittedOwner: make([]uint64, numShards),
	}
}

// LatestSeq returns the sequence number of the most recent commit.
func (e *Engine) LatestSeq() uint64 {
	return e.latestSeq.Load()
}

// NumShards returns the number of shards of the key space.
func (e *Engine) NumShards() int {
	return int(e.numShards)
}

// ShardOf maps a key hash to its shard.
func (e *Engine) ShardOf(hash uint64) uint64 {
	return hash % e.numShards
}

// ShardState returns the committed sequence number and the uncommitted owner of shard.
func (e *Engine) ShardState(shard uint64) (committedSeq uint64, owner uint64) {
	e.commitLock.Lock()
	defer e.commitLock.Unlock()
	return e.committedSeq[shard], e.uncommittedOwner[shard]
}

// Begin starts a transaction whose snapshot is the current latest sequence number.
func (e *Engine) Begin() *Txn {
	txn := &Txn{
		engine:      e,
		id:          e.nextTxnID.Inc(),
		writeShards: make(map[uint64]struct{}),
	}
	txn.RecordSnapshot()
	return txn
}
