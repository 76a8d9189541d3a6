package occ

import (
	"fmt"

	"github.com/pingcap/errors"
)

// ConflictKind says why a write could not be registered.
type ConflictKind int

const (
	// ConflictCommitted means another transaction committed a write to the shard after our snapshot was taken.
	ConflictCommitted ConflictKind = iota + 1
	// ConflictUncommitted means another in-flight transaction already claims the shard.
	ConflictUncommitted
)

func (k ConflictKind) String() string {
	switch k {
	case ConflictCommitted:
		return "write-committed"
	case ConflictUncommitted:
		return "write-uncommitted"
	}
	return fmt.Sprintf("conflict(%d)", int(k))
}

// WriteConflictError is returned by Txn.RegisterWrite. The caller should abort the whole transaction and retry it
// from the start, since the transaction may hold claims on other shards.
type WriteConflictError struct {
	Kind        ConflictKind
	Shard       uint64
	TxnID       uint64
	SnapshotSeq uint64
	// CommittedSeq is the shard's committed sequence number when the conflict was detected.
	CommittedSeq uint64
	// Owner is the id of the in-flight transaction holding the shard, 0 if none.
	Owner uint64
}

func (e *WriteConflictError) Error() string {
	return fmt.Sprintf("%v conflict on shard %d, txn: %d, snapshot: %d, committed: %d, owner: %d",
		e.Kind, e.Shard, e.TxnID, e.SnapshotSeq, e.CommittedSeq, e.Owner)
}

// IsWriteConflict reports whether the cause of err is a write conflict.
func IsWriteConflict(err error) bool {
	_, ok := errors.Cause(err).(*WriteConflictError)
	return ok
}
