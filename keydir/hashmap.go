package keydir

import (
	"sort"
	"sync"

	"github.com/cqkv/journal/model"
)

var _ Keydir = (*HashMap)(nil)

// HashMap is an unordered keydir. Ascend sorts the ids on every call.
type HashMap struct {
	mu      sync.RWMutex
	records map[int64]*model.JournalRecord
}

func NewHashMap() *HashMap {
	return &HashMap{records: make(map[int64]*model.JournalRecord)}
}

func (hm *HashMap) Put(id int64, rec *model.JournalRecord) {
	hm.mu.Lock()
	hm.records[id] = rec
	hm.mu.Unlock()
}

func (hm *HashMap) Get(id int64) *model.JournalRecord {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return hm.records[id]
}

func (hm *HashMap) Delete(id int64) *model.JournalRecord {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	rec, ok := hm.records[id]
	if !ok {
		return nil
	}
	delete(hm.records, id)
	return rec
}

func (hm *HashMap) Len() int {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return len(hm.records)
}

func (hm *HashMap) Ascend(fn func(id int64, rec *model.JournalRecord) bool) {
	hm.mu.RLock()
	ids := make([]int64, 0, len(hm.records))
	recs := make(map[int64]*model.JournalRecord, len(hm.records))
	for id, rec := range hm.records {
		ids = append(ids, id)
		recs[id] = rec
	}
	hm.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if !fn(id, recs[id]) {
			return
		}
	}
}
