package kvengine

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"testing"

	"github.com/pingcap-incubator/dictkv/kv/config"
	"github.com/pingcap-incubator/dictkv/kv/dictionary"
	"github.com/pingcap-incubator/dictkv/kv/keystring"
	"github.com/pingcap-incubator/dictkv/kv/storage"
	"github.com/pingcap-incubator/dictkv/kv/transaction/occ"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestEngine(t *testing.T) *KVEngine {
	e, err := Open(config.NewTestConfig())
	require.Nil(t, err)
	return e
}

func TestCatalog(t *testing.T) {
	conf := config.NewTestConfig()
	store := storage.NewMemStorage()
	e, err := OpenWithStorage(conf, store)
	require.Nil(t, err)

	_, err = e.CreateRecordStore("records")
	require.Nil(t, err)
	_, err = e.CreateIndex("by_name", keystring.MakeOrdering(1, -1), true)
	require.Nil(t, err)
	_, err = e.CreateIndex("by_age", keystring.MakeOrdering(1), false)
	require.Nil(t, err)

	_, err = e.CreateRecordStore("records")
	assert.Equal(t, ErrIdentExists, errors.Cause(err))
	_, err = e.CreateIndex("by_name", 0, false)
	assert.Equal(t, ErrIdentExists, errors.Cause(err))
	_, err = e.CreateRecordStore("")
	assert.NotNil(t, err)

	_, err = e.RecordStore("by_name")
	assert.Equal(t, ErrWrongKind, errors.Cause(err))
	_, err = e.Index("records")
	assert.Equal(t, ErrWrongKind, errors.Cause(err))
	_, err = e.Index("missing")
	assert.Equal(t, ErrIdentNotFound, errors.Cause(err))

	assert.True(t, e.HasIdent("by_age"))
	assert.False(t, e.HasIdent("missing"))
	assert.Equal(t, []string{"by_age", "by_name", "records"}, e.AllIdents())

	// A second engine over the same data sees the same catalog.
	reopened, err := OpenWithStorage(conf, store)
	require.Nil(t, err)
	assert.Equal(t, e.AllIdents(), reopened.AllIdents())
	info, err := reopened.IdentInfo("by_name")
	require.Nil(t, err)
	assert.Equal(t, uint32(2), info.Prefix)
	assert.True(t, info.Unique)
	assert.True(t, info.Encoding.IsIndex())
	assert.Equal(t, keystring.MakeOrdering(1, -1), info.Encoding.Ordering())
	info, err = reopened.IdentInfo("records")
	require.Nil(t, err)
	assert.True(t, info.Encoding.IsRecordStore())
	assert.False(t, info.Unique)

	// Prefixes are not reused after a drop.
	require.Nil(t, reopened.DropIdent("by_age"))
	assert.Equal(t, ErrIdentNotFound, errors.Cause(reopened.DropIdent("by_age")))
	_, err = reopened.CreateRecordStore("by_age")
	require.Nil(t, err)
	info, err = reopened.IdentInfo("by_age")
	require.Nil(t, err)
	assert.Equal(t, uint32(4), info.Prefix)
}

func TestRecordStore(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	rs, err := e.CreateRecordStore("records")
	require.Nil(t, err)
	ctx := context.Background()

	err = e.RunInTxn(ctx, func(wu *WriteUnit) error {
		for i := 1; i <= 3; i++ {
			if err := rs.Insert(wu, keystring.RecordID(i), []byte(fmt.Sprintf("v%d", i))); err != nil {
				return err
			}
		}
		return nil
	})
	require.Nil(t, err)

	wu := e.NewWriteUnit()
	err = rs.Insert(wu, 2, []byte("again"))
	assert.Equal(t, dictionary.ErrRecordExists, errors.Cause(err))
	err = rs.Update(wu, 7, []byte("nope"))
	assert.Equal(t, dictionary.ErrRecordNotFound, errors.Cause(err))
	require.Nil(t, rs.Update(wu, 2, []byte("v2'")))
	require.Nil(t, rs.Delete(wu, 3))
	require.Nil(t, rs.Insert(wu, 300, nil))

	// Pending writes are visible to the unit but not to scans of committed data.
	val, err := rs.Get(wu, 2)
	require.Nil(t, err)
	assert.Equal(t, []byte("v2'"), val)
	val, err = rs.Get(wu, 3)
	require.Nil(t, err)
	assert.Nil(t, val)
	n, err := rs.NumRecords()
	require.Nil(t, err)
	assert.Equal(t, int64(3), n)

	require.Nil(t, wu.Commit())

	var ids []keystring.RecordID
	var vals []string
	require.Nil(t, rs.Scan(func(id keystring.RecordID, value []byte) bool {
		ids = append(ids, id)
		vals = append(vals, string(value))
		return true
	}))
	assert.Equal(t, []keystring.RecordID{1, 2, 300}, ids)
	assert.Equal(t, []string{"v1", "v2'", ""}, vals)

	// An empty value is still a record.
	wu = e.NewWriteUnit()
	val, err = rs.Get(wu, 300)
	require.Nil(t, err)
	assert.NotNil(t, val)
	assert.Len(t, val, 0)
	wu.Abort()

	assert.Panics(t, func() { rs.Delete(e.NewWriteUnit(), -1) })
}

func TestRecordStoresAreIsolated(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	a, err := e.CreateRecordStore("a")
	require.Nil(t, err)
	b, err := e.CreateRecordStore("b")
	require.Nil(t, err)

	require.Nil(t, e.RunInTxn(context.Background(), func(wu *WriteUnit) error {
		if err := a.Insert(wu, 1, []byte("a1")); err != nil {
			return err
		}
		return b.Insert(wu, 1, []byte("b1"))
	}))
	n, err := a.NumRecords()
	require.Nil(t, err)
	assert.Equal(t, int64(1), n)

	require.Nil(t, e.DropIdent("a"))
	e.WaitForDrops()
	n, err = b.NumRecords()
	require.Nil(t, err)
	assert.Equal(t, int64(1), n)
	n, err = a.NumRecords()
	require.Nil(t, err)
	assert.Equal(t, int64(0), n)
}

func TestDropResumesAfterReopen(t *testing.T) {
	conf := config.NewTestConfig()
	store := storage.NewMemStorage()
	e, err := OpenWithStorage(conf, store)
	require.Nil(t, err)
	rs, err := e.CreateRecordStore("doomed")
	require.Nil(t, err)
	keep, err := e.CreateRecordStore("keep")
	require.Nil(t, err)
	require.Nil(t, e.RunInTxn(context.Background(), func(wu *WriteUnit) error {
		for i := 1; i <= 2*dropBatchSize+3; i++ {
			if err := rs.Insert(wu, keystring.RecordID(i), []byte("x")); err != nil {
				return err
			}
		}
		return keep.Insert(wu, 1, []byte("y"))
	}))

	// Leave the catalog as a drop interrupted before any data was deleted would.
	info, err := e.IdentInfo("doomed")
	require.Nil(t, err)
	require.Nil(t, store.Write([]storage.Modify{
		storage.NewDelete(metadataKey("doomed")),
		storage.NewPut(dropMarkerKey(info.Prefix), nil),
	}))

	reopened, err := OpenWithStorage(conf, store)
	require.Nil(t, err)
	reopened.WaitForDrops()
	assert.Equal(t, []string{"keep"}, reopened.AllIdents())
	// Only the catalog entry of keep and its record are left.
	assert.Equal(t, 2, store.Len())

	// The dropped prefix is not reused.
	_, err = reopened.CreateRecordStore("fresh")
	require.Nil(t, err)
	fresh, err := reopened.IdentInfo("fresh")
	require.Nil(t, err)
	assert.Equal(t, info.Prefix+2, fresh.Prefix)
	require.Nil(t, reopened.Close())
}

func TestIndex(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	// name ascending, age descending
	idx, err := e.CreateIndex("by_name_age", keystring.MakeOrdering(1, -1), false)
	require.Nil(t, err)
	empty, err := idx.IsEmpty()
	require.Nil(t, err)
	assert.True(t, empty)

	type row struct {
		name string
		age  int64
		id   keystring.RecordID
	}
	rows := []row{{"bob", 30, 4}, {"alice", 20, 2}, {"alice", 40, 1}, {"carol", 30, 3}, {"alice", 40, 5}}
	require.Nil(t, e.RunInTxn(context.Background(), func(wu *WriteUnit) error {
		for _, r := range rows {
			fields := []keystring.Value{keystring.String(r.name), keystring.Int(r.age)}
			covered := []keystring.Value{keystring.Int(int64(r.id) * 10)}
			if err := idx.Insert(wu, fields, r.id, covered); err != nil {
				return err
			}
		}
		return nil
	}))

	var got []string
	require.Nil(t, idx.Seek(nil, func(entry dictionary.IndexEntry) bool {
		require.Len(t, entry.Fields, 3)
		assert.Equal(t, int64(entry.RecordID)*10, entry.Fields[2].GetInt())
		got = append(got, fmt.Sprintf("%s/%d/%d", entry.Fields[0].GetString(), entry.Fields[1].GetInt(), entry.RecordID))
		return true
	}))
	assert.Equal(t, []string{"alice/40/1", "alice/40/5", "alice/20/2", "bob/30/4", "carol/30/3"}, got)

	// Seek by a leading field and stop early.
	got = got[:0]
	require.Nil(t, idx.Seek([]keystring.Value{keystring.String("b")}, func(entry dictionary.IndexEntry) bool {
		got = append(got, entry.Fields[0].GetString())
		return len(got) < 1
	}))
	assert.Equal(t, []string{"bob"}, got)

	require.Nil(t, e.RunInTxn(context.Background(), func(wu *WriteUnit) error {
		for _, r := range rows {
			if err := idx.Unindex(wu, []keystring.Value{keystring.String(r.name), keystring.Int(r.age)}, r.id); err != nil {
				return err
			}
		}
		return nil
	}))
	empty, err = idx.IsEmpty()
	require.Nil(t, err)
	assert.True(t, empty)
}

func TestUniqueIndex(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	idx, err := e.CreateIndex("email", keystring.MakeOrdering(1), true)
	require.Nil(t, err)
	alice := []keystring.Value{keystring.String("alice@example.com")}
	bob := []keystring.Value{keystring.String("bob@example.com")}
	ctx := context.Background()

	require.Nil(t, e.RunInTxn(ctx, func(wu *WriteUnit) error {
		return idx.Insert(wu, alice, 1, nil)
	}))
	// Same entry again is fine.
	require.Nil(t, e.RunInTxn(ctx, func(wu *WriteUnit) error {
		return idx.Insert(wu, alice, 1, nil)
	}))
	err = e.RunInTxn(ctx, func(wu *WriteUnit) error {
		return idx.Insert(wu, alice, 2, nil)
	})
	assert.Equal(t, dictionary.ErrDuplicateKey, errors.Cause(err))

	// Duplicates among pending writes are caught too.
	wu := e.NewWriteUnit()
	require.Nil(t, idx.Insert(wu, bob, 3, nil))
	err = idx.Insert(wu, bob, 4, nil)
	assert.Equal(t, dictionary.ErrDuplicateKey, errors.Cause(err))
	wu.Abort()

	// Moving a key to another record within one unit.
	require.Nil(t, e.RunInTxn(ctx, func(wu *WriteUnit) error {
		if err := idx.Unindex(wu, alice, 1); err != nil {
			return err
		}
		return idx.Insert(wu, alice, 2, nil)
	}))
	var ids []keystring.RecordID
	require.Nil(t, idx.Seek(alice, func(entry dictionary.IndexEntry) bool {
		ids = append(ids, entry.RecordID)
		return true
	}))
	assert.Equal(t, []keystring.RecordID{2}, ids)
}

func TestUniqueIndexFieldCount(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	idx, err := e.CreateIndex("pair", keystring.MakeOrdering(1, -1), true)
	require.Nil(t, err)
	long := []keystring.Value{keystring.String("a"), keystring.Int(1)}
	short := []keystring.Value{keystring.String("a")}
	ctx := context.Background()
	insert := func(fields []keystring.Value, id keystring.RecordID) error {
		return e.RunInTxn(ctx, func(wu *WriteUnit) error {
			return idx.Insert(wu, fields, id, nil)
		})
	}

	require.Nil(t, insert(long, 1))
	require.Nil(t, insert(short, 2))
	assert.Equal(t, dictionary.ErrDuplicateKey, errors.Cause(insert(long, 3)))
	assert.Equal(t, dictionary.ErrDuplicateKey, errors.Cause(insert(short, 4)))

	var got []keystring.RecordID
	require.Nil(t, idx.Seek(nil, func(entry dictionary.IndexEntry) bool {
		got = append(got, entry.RecordID)
		return true
	}))
	assert.Len(t, got, 2)
}

func TestUniqueIndexFloatKeys(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	idx, err := e.CreateIndex("score", keystring.MakeOrdering(-1), true)
	require.Nil(t, err)
	ctx := context.Background()
	insert := func(f float64, id keystring.RecordID) error {
		return e.RunInTxn(ctx, func(wu *WriteUnit) error {
			return idx.Insert(wu, []keystring.Value{keystring.Float(f)}, id, nil)
		})
	}

	require.Nil(t, insert(math.NaN(), 1))
	require.Nil(t, insert(math.Float64frombits(0x0007FFFFFFFFFFFE), 2))
	require.Nil(t, insert(math.Copysign(0, -1), 3))
	require.Nil(t, insert(0, 4))
	assert.Equal(t, dictionary.ErrDuplicateKey, errors.Cause(insert(-math.NaN(), 5)))

	var entries []dictionary.IndexEntry
	require.Nil(t, idx.Seek(nil, func(entry dictionary.IndexEntry) bool {
		entries = append(entries, entry)
		return true
	}))
	require.Len(t, entries, 4)
	// Descending: NaN sorts below every number, so it comes last.
	assert.Equal(t, keystring.RecordID(2), entries[0].RecordID)
	assert.Equal(t, keystring.RecordID(4), entries[1].RecordID)
	assert.Equal(t, keystring.RecordID(3), entries[2].RecordID)
	assert.True(t, math.Signbit(entries[2].Fields[0].GetFloat()))
	assert.Equal(t, keystring.RecordID(1), entries[3].RecordID)
	assert.True(t, math.IsNaN(entries[3].Fields[0].GetFloat()))
}

func TestUniqueIndexConcurrentInsert(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	idx, err := e.CreateIndex("email", keystring.MakeOrdering(1), true)
	require.Nil(t, err)
	fields := []keystring.Value{keystring.String("carol@example.com")}

	wu1 := e.NewWriteUnit()
	wu2 := e.NewWriteUnit()
	require.Nil(t, idx.Insert(wu1, fields, 1, nil))
	err = idx.Insert(wu2, fields, 2, nil)
	assert.True(t, occ.IsWriteConflict(err))
	require.Nil(t, wu1.Commit())
	wu2.Abort()
}

func TestWriteUnitConflict(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	wu1 := e.NewWriteUnit()
	wu2 := e.NewWriteUnit()

	require.Nil(t, wu1.Put([]byte("k"), []byte("1")))
	err := wu2.Put([]byte("k"), []byte("2"))
	require.NotNil(t, err)
	assert.True(t, occ.IsWriteConflict(err))
	assert.Equal(t, 0, wu2.Len())
	wu2.Abort()

	seq := e.LatestSeq()
	require.Nil(t, wu1.Commit())
	assert.Equal(t, seq+1, e.LatestSeq())
	assert.Equal(t, 0, wu1.Len())

	// A unit started before the commit cannot write the key any more.
	wu3 := e.NewWriteUnit()
	wu4 := e.NewWriteUnit()
	require.Nil(t, wu3.Put([]byte("k"), []byte("3")))
	require.Nil(t, wu3.Commit())
	err = wu4.Delete([]byte("k"))
	assert.True(t, occ.IsWriteConflict(err))
	wu4.Abort()

	val, err := e.Storage().Get([]byte("k"))
	require.Nil(t, err)
	assert.Equal(t, []byte("3"), val)
}

func TestWriteUnitIterate(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	require.Nil(t, e.Storage().Write([]storage.Modify{
		storage.NewPut([]byte("p1"), []byte("c1")),
		storage.NewPut([]byte("p3"), []byte("c3")),
		storage.NewPut([]byte("p5"), []byte("c5")),
		storage.NewPut([]byte("q1"), []byte("other")),
	}))

	wu := e.NewWriteUnit()
	defer wu.Abort()
	require.Nil(t, wu.Put([]byte("p0"), []byte("w0")))
	require.Nil(t, wu.Put([]byte("p3"), []byte("w3")))
	require.Nil(t, wu.Delete([]byte("p5")))
	require.Nil(t, wu.Put([]byte("p6"), nil))

	var got []string
	require.Nil(t, wu.Iterate([]byte("p"), func(key, value []byte) bool {
		got = append(got, string(key)+"="+string(value))
		return true
	}))
	assert.Equal(t, []string{"p0=w0", "p1=c1", "p3=w3", "p6="}, got)

	got = got[:0]
	require.Nil(t, wu.Iterate([]byte("p"), func(key, value []byte) bool {
		got = append(got, string(key))
		return len(got) < 2
	}))
	assert.Equal(t, []string{"p0", "p1"}, got)

	val, err := wu.Get([]byte("p5"))
	require.Nil(t, err)
	assert.Nil(t, val)
	val, err = wu.Get([]byte("p1"))
	require.Nil(t, err)
	assert.Equal(t, []byte("c1"), val)
}

func TestRunInTxnErrors(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	boom := errors.New("boom")

	calls := 0
	err := e.RunInTxn(context.Background(), func(wu *WriteUnit) error {
		calls++
		if err := wu.Put([]byte("k"), []byte("v")); err != nil {
			return err
		}
		return boom
	})
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
	val, err := e.Storage().Get([]byte("k"))
	require.Nil(t, err)
	assert.Nil(t, val)

	// A key held by another unit keeps conflicting until the retries run out.
	holder := e.NewWriteUnit()
	require.Nil(t, holder.Put([]byte("k"), []byte("held")))
	calls = 0
	err = e.RunInTxn(context.Background(), func(wu *WriteUnit) error {
		calls++
		return wu.Put([]byte("k"), []byte("v"))
	})
	assert.True(t, occ.IsWriteConflict(err))
	assert.Equal(t, e.conf.MaxRetries+1, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = e.RunInTxn(ctx, func(wu *WriteUnit) error {
		return wu.Put([]byte("k"), []byte("v"))
	})
	assert.Equal(t, context.Canceled, errors.Cause(err))

	require.Nil(t, holder.Commit())
	require.Nil(t, e.RunInTxn(context.Background(), func(wu *WriteUnit) error {
		return wu.Put([]byte("k"), []byte("v"))
	}))
}

func TestRunInTxnConcurrentIncrements(t *testing.T) {
	conf := config.NewTestConfig()
	conf.MaxRetries = 100000
	e, err := Open(conf)
	require.Nil(t, err)
	defer e.Close()
	rs, err := e.CreateRecordStore("counters")
	require.Nil(t, err)

	const (
		numWorkers = 4
		numOps     = 50
		numKeys    = 3
	)
	require.Nil(t, e.RunInTxn(context.Background(), func(wu *WriteUnit) error {
		for id := 1; id <= numKeys; id++ {
			if err := rs.Insert(wu, keystring.RecordID(id), make([]byte, 8)); err != nil {
				return err
			}
		}
		return nil
	}))

	var g errgroup.Group
	for w := 0; w < numWorkers; w++ {
		w := w
		g.Go(func() error {
			for op := 0; op < numOps; op++ {
				id := keystring.RecordID(1 + (w+op)%numKeys)
				err := e.RunInTxn(context.Background(), func(wu *WriteUnit) error {
					val, err := rs.Get(wu, id)
					if err != nil {
						return err
					}
					next := make([]byte, 8)
					binary.BigEndian.PutUint64(next, binary.BigEndian.Uint64(val)+1)
					return rs.Update(wu, id, next)
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.Nil(t, g.Wait())

	var total uint64
	require.Nil(t, rs.Scan(func(_ keystring.RecordID, value []byte) bool {
		total += binary.BigEndian.Uint64(value)
		return true
	}))
	assert.Equal(t, uint64(numWorkers*numOps), total)
}

func TestOpenLevelDB(t *testing.T) {
	conf := config.NewTestConfig()
	conf.Engine = config.EngineLevelDB
	conf.LevelDB.InMemory = true
	e, err := Open(conf)
	require.Nil(t, err)
	defer e.Close()

	rs, err := e.CreateRecordStore("records")
	require.Nil(t, err)
	require.Nil(t, e.RunInTxn(context.Background(), func(wu *WriteUnit) error {
		return rs.Insert(wu, 42, []byte("answer"))
	}))
	wu := e.NewWriteUnit()
	defer wu.Abort()
	val, err := rs.Get(wu, 42)
	require.Nil(t, err)
	assert.Equal(t, []byte("answer"), val)
}

func TestOpenRejectsBadConfig(t *testing.T) {
	conf := config.NewTestConfig()
	conf.Engine = "rocksdb"
	_, err := Open(conf)
	assert.NotNil(t, err)
}
