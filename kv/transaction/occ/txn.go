package occ

import (
	"github.com/dgryski/go-farm"
	"github.com/ngaut/log"
	"github.com/pingcap/errors"
)

// TxnState is the lifecycle state of a Txn.
type TxnState int

const (
	TxnActive TxnState = iota
	TxnCommitted
	TxnAborted
)

func (s TxnState) String() string {
	switch s {
	case TxnActive:
		return "active"
	case TxnCommitted:
		return "committed"
	case TxnAborted:
		return "aborted"
	}
	return "unknown"
}

// Txn tracks the shards one operation writes to so that concurrent writers of the same shard are detected. It only
// keeps conflict detection metadata, it never touches stored data. A Txn must not be shared between goroutines.
//
// Conflicts are detected when a write is registered, never at commit: once every write has been registered the
// commit cannot fail.
type Txn struct {
	engine      *Engine
	id          uint64
	snapshotSeq uint64
	writeShards map[uint64]struct{}
	state       TxnState
}

func (txn *Txn) ID() uint64 { return txn.id }

func (txn *Txn) State() TxnState { return txn.state }

// SnapshotSeq is the sequence number later commits are judged against.
func (txn *Txn) SnapshotSeq() uint64 { return txn.snapshotSeq }

// WriteShards returns the number of shards currently claimed.
func (txn *Txn) WriteShards() int { return len(txn.writeShards) }

// RecordSnapshot takes the engine's latest sequence number as the new snapshot. It must be called before any write is
// registered; it is also how a finished Txn is made active again for a new unit of work.
func (txn *Txn) RecordSnapshot() {
	if len(txn.writeShards) != 0 {
		panic(errors.Errorf("occ: txn %d records a snapshot while holding %d shards", txn.id, len(txn.writeShards)))
	}
	txn.snapshotSeq = txn.engine.LatestSeq()
	txn.state = TxnActive
}

// RegisterKey registers a write to key. See RegisterWrite.
func (txn *Txn) RegisterKey(key []byte) error {
	return txn.RegisterWrite(farm.Fingerprint64(key))
}

// RegisterWrite claims the shard of a key hash for this transaction. It returns a *WriteConflictError if another
// transaction committed to the shard after our snapshot or still holds an uncommitted claim on it. Registering a shard
// that is already ours is a no-op.
func (txn *Txn) RegisterWrite(hash uint64) error {
	txn.mustBeActive("register a write")
	e := txn.engine
	shard := e.ShardOf(hash)
	registerCounter.Inc()

	e.commitLock.Lock()
	defer e.commitLock.Unlock()
	if committed := e.committedSeq[shard]; committed > txn.snapshotSeq {
		conflictOnCommitted.Inc()
		log.Debugf("occ: txn %d snapshot %d conflicts with commit %d on shard %d", txn.id, txn.snapshotSeq, committed, shard)
		return &WriteConflictError{
			Kind:         ConflictCommitted,
			Shard:        shard,
			TxnID:        txn.id,
			SnapshotSeq:  txn.snapshotSeq,
			CommittedSeq: committed,
		}
	}
	if owner := e.uncommittedOwner[shard]; owner != 0 && owner != txn.id {
		conflictOnUncommitted.Inc()
		log.Debugf("occ: txn %d conflicts with uncommitted txn %d on shard %d", txn.id, owner, shard)
		return &WriteConflictError{
			Kind:         ConflictUncommitted,
			Shard:        shard,
			TxnID:        txn.id,
			SnapshotSeq:  txn.snapshotSeq,
			CommittedSeq: e.committedSeq[shard],
			Owner:        owner,
		}
	}
	txn.writeShards[shard] = struct{}{}
	e.uncommittedOwner[shard] = txn.id
	return nil
}

// Commit releases every claimed shard and stamps them with a new sequence number, making the writes visible to
// transactions that snapshot afterwards. A Txn with no registered writes commits without touching the engine.
func (txn *Txn) Commit() {
	txn.mustBeActive("commit")
	txn.state = TxnCommitted
	if len(txn.writeShards) == 0 {
		return
	}
	e := txn.engine
	e.commitLock.Lock()
	for shard := range txn.writeShards {
		if e.committedSeq[shard] > txn.snapshotSeq || e.uncommittedOwner[shard] != txn.id {
			log.Fatalf("occ: txn %d lost shard %d before commit, snapshot: %d, committed: %d, owner: %d",
				txn.id, shard, txn.snapshotSeq, e.committedSeq[shard], e.uncommittedOwner[shard])
		}
		e.uncommittedOwner[shard] = 0
	}
	// Every store to latestSeq happens under commitLock, so this load cannot race another writer.
	newSeq := e.latestSeq.Load() + 1
	for shard := range txn.writeShards {
		e.committedSeq[shard] = newSeq
	}
	e.latestSeq.Store(newSeq)
	e.commitLock.Unlock()

	txnCommitted.Inc()
	commitShards.Observe(float64(len(txn.writeShards)))
	txn.snapshotSeq = newSeq
	txn.writeShards = make(map[uint64]struct{})
}

// Abort releases every claimed shard without advancing any sequence number. Data the caller wrote under this
// transaction must be rolled back by the caller. Aborting a finished Txn does nothing.
func (txn *Txn) Abort() {
	if txn.state != TxnActive {
		return
	}
	txn.state = TxnAborted
	if len(txn.writeShards) == 0 {
		return
	}
	e := txn.engine
	e.commitLock.Lock()
	for shard := range txn.writeShards {
		e.uncommittedOwner[shard] = 0
	}
	e.commitLock.Unlock()

	txnAborted.Inc()
	txn.writeShards = make(map[uint64]struct{})
}

func (txn *Txn) mustBeActive(op string) {
	if txn.state != TxnActive {
		panic(errors.Errorf("occ: cannot %s on %v txn %d", op, txn.state, txn.id))
	}
}
