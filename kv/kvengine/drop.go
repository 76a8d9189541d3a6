package kvengine

import (
	"bytes"
	"sync"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/dictkv/kv/storage"
	"github.com/pingcap-incubator/dictkv/kv/util/worker"
	"github.com/pingcap/errors"
)

// dropBatchSize bounds the number of deletes in one storage batch while a dropped prefix is cleaned up.
const dropBatchSize = 512

type dropTask struct {
	ident  string
	prefix uint32
}

// dropHandler deletes the data of dropped idents on the drop worker. Each prefix has a marker in the catalog until
// all of its keys are gone, so an interrupted cleanup is picked up again by the next Open.
type dropHandler struct {
	store   storage.Storage
	pending *sync.WaitGroup
}

func (h *dropHandler) Handle(t worker.Task) {
	task := t.(dropTask)
	defer h.pending.Done()
	deleted, err := h.deletePrefix(task.prefix)
	if err != nil {
		log.Errorf("cleanup of dropped %s (prefix %d) failed after %d keys: %v", task.ident, task.prefix, deleted, err)
		return
	}
	log.Infof("cleaned up dropped %s (prefix %d), %d keys deleted", task.ident, task.prefix, deleted)
}

func (h *dropHandler) deletePrefix(prefix uint32) (int, error) {
	start := encodePrefix(prefix)
	deleted := 0
	for {
		batch := make([]storage.Modify, 0, dropBatchSize)
		it := h.store.NewIterator()
		for it.Seek(start); it.Valid() && len(batch) < dropBatchSize; it.Next() {
			key := it.Item().Key()
			if !bytes.HasPrefix(key, start) {
				break
			}
			batch = append(batch, storage.NewDelete(it.Item().KeyCopy(nil)))
		}
		it.Close()
		if len(batch) == 0 {
			break
		}
		if err := h.store.Write(batch); err != nil {
			return deleted, errors.Trace(err)
		}
		deleted += len(batch)
	}
	err := h.store.Write([]storage.Modify{storage.NewDelete(dropMarkerKey(prefix))})
	return deleted, errors.Trace(err)
}

// dropMarkerKey sorts with the catalog entries. Idents never start with a zero byte, so the two cannot collide.
func dropMarkerKey(prefix uint32) []byte {
	return append(append(encodePrefix(metadataPrefix), 0), encodePrefix(prefix)...)
}

func (e *KVEngine) scheduleDrop(ident string, prefix uint32) {
	e.pendingDrops.Add(1)
	e.dropWorker.Schedule(dropTask{ident: ident, prefix: prefix})
}

// WaitForDrops blocks until the data of every dropped ident has been deleted.
func (e *KVEngine) WaitForDrops() {
	e.pendingDrops.Wait()
}
