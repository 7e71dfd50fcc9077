package journal

import (
	"github.com/cqkv/journal/codec"
	"github.com/cqkv/journal/model"
	"github.com/cqkv/journal/utils/log"
)

type txRecord struct {
	id     int64
	loc    model.Location
	update bool
	// info is only kept while loading, it is handed to the loader on commit
	info model.RecordInfo
}

// transaction tracks the records of one open transaction. Every file the
// transaction touches gets one positive (a marker) that the completing file
// negates, so the file is not reclaimed while the outcome depends on it.
type transaction struct {
	id       int64
	pos      []txRecord
	neg      []txRecord
	files    []*model.JournalFile
	counts   map[*model.JournalFile]int32
	prepared bool
	// prepareLoc is where the last prepare record of the transaction lives
	prepareLoc model.Location
}

func newTransaction(id int64) *transaction {
	return &transaction{
		id:     id,
		counts: make(map[*model.JournalFile]int32),
	}
}

func (tx *transaction) addFile(file *model.JournalFile) {
	if _, ok := tx.counts[file]; ok {
		return
	}
	tx.counts[file] = 0
	tx.files = append(tx.files, file)
	file.IncPosCount()
}

func (tx *transaction) addPositive(r txRecord) {
	tx.addFile(r.loc.File)
	tx.counts[r.loc.File]++
	tx.pos = append(tx.pos, r)
}

func (tx *transaction) addNegative(r txRecord) {
	tx.addFile(r.loc.File)
	tx.counts[r.loc.File]++
	tx.neg = append(tx.neg, r)
}

// hasAdd reports whether the transaction added id itself.
func (tx *transaction) hasAdd(id int64) bool {
	for _, r := range tx.pos {
		if r.id == id && !r.update {
			return true
		}
	}
	return false
}

// fileCounts is the trailer of a prepare or commit record: the number of
// records the transaction wrote into each file.
func (tx *transaction) fileCounts() []codec.FileCount {
	counts := make([]codec.FileCount, 0, len(tx.files))
	for _, f := range tx.files {
		if n := tx.counts[f]; n > 0 {
			counts = append(counts, codec.FileCount{FileID: f.RecordID(), Count: n})
		}
	}
	return counts
}

func (tx *transaction) prepare(loc model.Location) {
	tx.addFile(loc.File)
	tx.prepared = true
	tx.prepareLoc = loc
}

// commit moves the records into the live index. visit is told about every
// positive and negative that took effect.
func (tx *transaction) commit(j *Journal, file *model.JournalFile, visit func(r txRecord, deleted bool)) {
	for _, r := range tx.pos {
		if r.update {
			rec := j.records.Get(r.id)
			if rec == nil {
				log.Debug("tx %d updates unknown record %d", tx.id, r.id)
				continue
			}
			rec.AddUpdate(r.loc.File, r.loc.Offset, r.loc.Size)
		} else {
			j.records.Put(r.id, model.NewJournalRecord(r.loc.File, r.loc.Offset, r.loc.Size))
		}
		if visit != nil {
			visit(r, false)
		}
	}
	for _, r := range tx.neg {
		if j.deleteLive(r.id, r.loc) && visit != nil {
			visit(r, true)
		}
	}
	tx.complete(file)
}

func (tx *transaction) rollback(file *model.JournalFile) {
	tx.complete(file)
}

func (tx *transaction) complete(file *model.JournalFile) {
	for _, f := range tx.files {
		file.IncNegCount(f)
	}
}

// forget drops a transaction that will never complete.
func (tx *transaction) forget() {
	for _, f := range tx.files {
		f.IncNegCount(f)
	}
}

// relocate moves the records found in compacted files to their copies and
// replaces the compacted files by the ones holding the copies.
func (tx *transaction) relocate(moved func(model.Location) (model.Location, bool), compacted map[*model.JournalFile]bool,
	newFiles []*model.JournalFile, newCounts map[*model.JournalFile]int32) {
	for i := range tx.pos {
		if loc, ok := moved(tx.pos[i].loc); ok {
			tx.pos[i].loc = loc
		}
	}
	for i := range tx.neg {
		if loc, ok := moved(tx.neg[i].loc); ok {
			tx.neg[i].loc = loc
		}
	}
	if tx.prepared {
		if loc, ok := moved(tx.prepareLoc); ok {
			tx.prepareLoc = loc
		}
	}

	files := make([]*model.JournalFile, 0, len(tx.files)+len(newFiles))
	counts := make(map[*model.JournalFile]int32, len(tx.files)+len(newFiles))
	for _, f := range newFiles {
		files = append(files, f)
		counts[f] = newCounts[f]
		f.IncPosCount()
	}
	for _, f := range tx.files {
		if compacted[f] {
			continue
		}
		files = append(files, f)
		counts[f] = tx.counts[f]
	}
	tx.files = files
	tx.counts = counts
}
