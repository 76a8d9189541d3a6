package occ

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestNewEngine(t *testing.T) {
	e := NewEngine(4)
	assert.Equal(t, uint64(1), e.LatestSeq())
	assert.Equal(t, 4, e.NumShards())
	for shard := uint64(0); shard < 4; shard++ {
		seq, owner := e.ShardState(shard)
		assert.Equal(t, uint64(0), seq)
		assert.Equal(t, uint64(0), owner)
	}
	assert.Equal(t, uint64(2), e.ShardOf(6))
	assert.Panics(t, func() { NewEngine(0) })
}

func TestCommitMakesWriteVisible(t *testing.T) {
	e := NewEngine(4)

	t1 := e.Begin()
	assert.Equal(t, uint64(1), t1.SnapshotSeq())
	require.Nil(t, t1.RegisterWrite(2))
	_, owner := e.ShardState(2)
	assert.Equal(t, t1.ID(), owner)

	t1.Commit()
	assert.Equal(t, TxnCommitted, t1.State())
	seq, owner := e.ShardState(2)
	assert.Equal(t, uint64(2), seq)
	assert.Equal(t, uint64(0), owner)
	assert.Equal(t, uint64(2), e.LatestSeq())
	assert.Equal(t, uint64(2), t1.SnapshotSeq())
	assert.Equal(t, 0, t1.WriteShards())

	t2 := e.Begin()
	assert.Equal(t, uint64(2), t2.SnapshotSeq())
	require.Nil(t, t2.RegisterWrite(6))
	t2.Commit()
	seq, _ = e.ShardState(2)
	assert.Equal(t, uint64(3), seq)
}

func TestUncommittedConflict(t *testing.T) {
	e := NewEngine(4)
	t1 := e.Begin()
	t2 := e.Begin()
	require.Nil(t, t1.RegisterWrite(2))

	err := t2.RegisterWrite(2)
	require.NotNil(t, err)
	assert.True(t, IsWriteConflict(err))
	conflict := err.(*WriteConflictError)
	assert.Equal(t, ConflictUncommitted, conflict.Kind)
	assert.Equal(t, uint64(2), conflict.Shard)
	assert.Equal(t, t1.ID(), conflict.Owner)

	// Other shards are still free.
	require.Nil(t, t2.RegisterWrite(3))

	// Once t1 gives up, t2 can claim the shard.
	t1.Abort()
	assert.Equal(t, TxnAborted, t1.State())
	assert.Equal(t, uint64(1), e.LatestSeq())
	require.Nil(t, t2.RegisterWrite(2))
	t2.Commit()
	assert.Equal(t, uint64(2), e.LatestSeq())
}

func TestCommittedConflict(t *testing.T) {
	e := NewEngine(4)
	t1 := e.Begin()
	t2 := e.Begin()
	require.Nil(t, t1.RegisterWrite(1))
	t1.Commit()

	err := t2.RegisterWrite(5)
	require.NotNil(t, err)
	conflict := err.(*WriteConflictError)
	assert.Equal(t, ConflictCommitted, conflict.Kind)
	assert.Equal(t, uint64(2), conflict.CommittedSeq)
	assert.Equal(t, uint64(1), conflict.SnapshotSeq)

	// A conflict leaves no claim behind.
	_, owner := e.ShardState(1)
	assert.Equal(t, uint64(0), owner)
	t2.Abort()

	// A fresh snapshot sees the commit.
	t2.RecordSnapshot()
	assert.Equal(t, TxnActive, t2.State())
	require.Nil(t, t2.RegisterWrite(1))
	t2.Commit()
}

func TestRegisterIsIdempotent(t *testing.T) {
	e := NewEngine(4)
	txn := e.Begin()
	require.Nil(t, txn.RegisterWrite(2))
	require.Nil(t, txn.RegisterWrite(6))
	require.Nil(t, txn.RegisterWrite(2))
	assert.Equal(t, 1, txn.WriteShards())
	txn.Commit()
	assert.Equal(t, uint64(2), e.LatestSeq())
}

func TestEmptyCommitAndAbort(t *testing.T) {
	e := NewEngine(4)
	t1 := e.Begin()
	t1.Commit()
	assert.Equal(t, uint64(1), e.LatestSeq())
	assert.Equal(t, uint64(1), t1.SnapshotSeq())

	t2 := e.Begin()
	t2.Abort()
	assert.Equal(t, uint64(1), e.LatestSeq())
	for shard := uint64(0); shard < 4; shard++ {
		seq, owner := e.ShardState(shard)
		assert.Equal(t, uint64(0), seq)
		assert.Equal(t, uint64(0), owner)
	}
}

func TestMultiShardCommit(t *testing.T) {
	e := NewEngine(16)
	txn := e.Begin()
	for _, h := range []uint64{1, 3, 5, 21} {
		require.Nil(t, txn.RegisterWrite(h))
	}
	assert.Equal(t, 3, txn.WriteShards())
	txn.Commit()
	for _, shard := range []uint64{1, 3, 5} {
		seq, owner := e.ShardState(shard)
		assert.Equal(t, uint64(2), seq)
		assert.Equal(t, uint64(0), owner)
	}
	seq, _ := e.ShardState(2)
	assert.Equal(t, uint64(0), seq)
}

func TestPreconditions(t *testing.T) {
	e := NewEngine(4)
	txn := e.Begin()
	require.Nil(t, txn.RegisterWrite(0))
	assert.Panics(t, func() { txn.RecordSnapshot() })
	txn.Commit()

	assert.Panics(t, func() { txn.RegisterWrite(1) })
	assert.Panics(t, func() { txn.Commit() })
	// Aborting a finished txn is harmless.
	txn.Abort()
	assert.Equal(t, TxnCommitted, txn.State())
}

func TestRegisterKey(t *testing.T) {
	e := NewEngine(8)
	t1 := e.Begin()
	t2 := e.Begin()
	require.Nil(t, t1.RegisterKey([]byte("k1")))
	// The same key always maps to the same shard.
	err := t2.RegisterKey([]byte("k1"))
	assert.True(t, IsWriteConflict(err))
	t1.Abort()
	t2.Abort()
}

// TestConcurrentWriters checks that shard claims give mutual exclusion: every writer does an unsynchronized
// read-modify-write of a per shard counter while holding the claim, so a lost update means two writers held the
// same shard at once.
func TestConcurrentWriters(t *testing.T) {
	const (
		numShards  = 4
		numWorkers = 8
		numOps     = 200
	)
	e := NewEngine(numShards)
	counters := make([]int, numShards)

	var g errgroup.Group
	for w := 0; w < numWorkers; w++ {
		seed := int64(w)
		g.Go(func() error {
			rnd := rand.New(rand.NewSource(seed))
			for op := 0; op < numOps; op++ {
				shard := uint64(rnd.Intn(numShards))
				for {
					txn := e.Begin()
					if err := txn.RegisterWrite(shard); err != nil {
						if !IsWriteConflict(err) {
							return err
						}
						txn.Abort()
						continue
					}
					counters[shard]++
					txn.Commit()
					break
				}
			}
			return nil
		})
	}
	require.Nil(t, g.Wait())

	total := 0
	for _, c := range counters {
		total += c
	}
	assert.Equal(t, numWorkers*numOps, total)
	assert.Equal(t, uint64(1+numWorkers*numOps), e.LatestSeq())
}
