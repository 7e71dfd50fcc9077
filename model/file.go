package model

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cqkv/journal/fio"
)

// JournalFile is one journal file plus the accounting the reclaimer reads.
// posCount counts the records (and transaction markers) written to the file,
// negCounts counts, per target file, the records this file made obsolete there.
type JournalFile struct {
	File fio.SequentialFile

	id      int64
	version int32

	posCount  atomic.Int32
	addRecord atomic.Int32
	liveSize  atomic.Int64

	negMu     sync.Mutex
	negCounts map[*JournalFile]int32
	totNeg    int32

	canReclaim atomic.Bool
}

func NewJournalFile(file fio.SequentialFile, id int64, version int32) *JournalFile {
	return &JournalFile{
		File:      file,
		id:        id,
		version:   version,
		negCounts: make(map[*JournalFile]int32),
	}
}

func (jf *JournalFile) ID() int64 {
	return jf.id
}

// RecordID is the file id as it is written into every record of the file.
func (jf *JournalFile) RecordID() int32 {
	return int32(jf.id)
}

func (jf *JournalFile) Version() int32 {
	return jf.version
}

// IncAddRecord accounts one record of size bytes written to the file.
func (jf *JournalFile) IncAddRecord(size int) {
	jf.addRecord.Add(1)
	jf.posCount.Add(1)
	jf.liveSize.Add(int64(size))
}

// IncPosCount accounts a positive without bytes, used for transaction markers.
func (jf *JournalFile) IncPosCount() {
	jf.posCount.Add(1)
}

func (jf *JournalFile) PosCount() int32 {
	return jf.posCount.Load()
}

func (jf *JournalFile) AddRecordCount() int32 {
	return jf.addRecord.Load()
}

func (jf *JournalFile) AddSize(size int) {
	jf.liveSize.Add(int64(size))
}

func (jf *JournalFile) DecSize(size int) {
	jf.liveSize.Add(-int64(size))
}

// LiveSize is the number of bytes of the file still referenced by live records.
func (jf *JournalFile) LiveSize() int64 {
	return jf.liveSize.Load()
}

// IncNegCount records that this file made one record of target obsolete.
func (jf *JournalFile) IncNegCount(target *JournalFile) {
	jf.negMu.Lock()
	jf.negCounts[target]++
	if target != jf {
		jf.totNeg++
	}
	jf.negMu.Unlock()
}

func (jf *JournalFile) NegCount(target *JournalFile) int32 {
	jf.negMu.Lock()
	defer jf.negMu.Unlock()
	return jf.negCounts[target]
}

// TotalNegativeToOthers is the number of negatives this file holds against other files.
func (jf *JournalFile) TotalNegativeToOthers() int32 {
	jf.negMu.Lock()
	defer jf.negMu.Unlock()
	return jf.totNeg
}

func (jf *JournalFile) SetCanReclaim(v bool) {
	jf.canReclaim.Store(v)
}

func (jf *JournalFile) CanReclaim() bool {
	return jf.canReclaim.Load()
}

func (jf *JournalFile) String() string {
	name := ""
	if jf.File != nil {
		name = jf.File.FileName()
	}
	return fmt.Sprintf("JournalFile(id=%d, file=%s, pos=%d, live=%d, negToOthers=%d, canReclaim=%v)",
		jf.id, name, jf.PosCount(), jf.LiveSize(), jf.TotalNegativeToOthers(), jf.CanReclaim())
}
