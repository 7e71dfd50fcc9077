package journal

import (
	"sort"

	"github.com/cqkv/journal/codec"
	"github.com/cqkv/journal/model"
	"github.com/cqkv/journal/reader"
	"github.com/cqkv/journal/utils/log"
)

// LoaderCallback receives the committed state of the journal while it loads.
// Records arrive in the order they were written; a delete refers to a record
// delivered before.
type LoaderCallback interface {
	AddRecord(info model.RecordInfo)
	UpdateRecord(info model.RecordInfo)
	DeleteRecord(id int64)
	AddPreparedTransaction(info model.PreparedTransactionInfo)
	// FailedTransaction reports a transaction that never completed or whose
	// records did not all survive. None of its records were applied.
	FailedTransaction(txID int64, records []model.RecordInfo, recordsToDelete []model.RecordInfo)
}

// TransactionFailureCallback is the FailedTransaction of LoadRecords.
type TransactionFailureCallback func(txID int64, records []model.RecordInfo, recordsToDelete []model.RecordInfo)

type LoadInfo struct {
	NumberOfRecords int
	// MaxID is the largest record id found, -1 for an empty journal.
	MaxID int64
}

type loadTx struct {
	tx       *transaction
	observed map[int32]int32
	extra    []byte
	invalid  bool
}

// loader rebuilds the live records and the open transactions from the files.
type loader struct {
	j       *Journal
	cb      LoaderCallback
	present map[int32]bool
	txs     map[int64]*loadTx
	maxID   int64

	file       *model.JournalFile
	markedData bool
}

var _ reader.Callback = (*loader)(nil)

// Load reads every journal file, hands the committed records to cb and makes
// the journal ready for appends.
func (j *Journal) Load(cb LoaderCallback) (LoadInfo, error) {
	j.compactingLock.Lock()
	defer j.compactingLock.Unlock()
	j.appendLock.Lock()
	defer j.appendLock.Unlock()

	if s := j.getState(); s != stateStarted {
		return LoadInfo{}, newError(KindInvalidState, "load", "journal is %s", s)
	}
	if err := j.checkControlFile(); err != nil {
		return LoadInfo{}, wrapIO("load", err)
	}
	files, err := j.repo.OrderFiles()
	if err != nil {
		return LoadInfo{}, wrapIO("load", err)
	}

	l := &loader{
		j:       j,
		cb:      cb,
		present: make(map[int32]bool, len(files)),
		txs:     make(map[int64]*loadTx),
		maxID:   -1,
	}
	for _, f := range files {
		l.present[f.RecordID()] = true
	}

	lastPos := make(map[*model.JournalFile]int64, len(files))
	for _, f := range files {
		l.file = f
		l.markedData = false
		last, err := reader.Read(f, l)
		if err != nil {
			return LoadInfo{}, wrapIO("load", err)
		}
		if last >= 0 || l.markedData {
			lastPos[f] = last
			j.repo.AddDataFile(f)
			continue
		}
		log.Debug("journal file %s holds no records", f.File.FileName())
		if err := j.repo.AddLoadedFreeFile(f); err != nil {
			return LoadInfo{}, wrapIO("load", err)
		}
	}
	l.finish()

	if err := j.repo.EnsureMinFiles(); err != nil {
		return LoadInfo{}, wrapIO("load", err)
	}
	if err := j.setupCurrentFile(lastPos); err != nil {
		return LoadInfo{}, err
	}

	j.state.Store(int32(stateLoaded))
	info := LoadInfo{NumberOfRecords: j.records.Len(), MaxID: l.maxID}
	log.Info("journal loaded: %d records, %d data files, %d prepared transactions",
		info.NumberOfRecords, j.repo.DataFilesCount(), len(j.transactions))
	return info, nil
}

// setupCurrentFile keeps appending to the last data file when it has the
// current format, otherwise a new file is opened.
func (j *Journal) setupCurrentFile(lastPos map[*model.JournalFile]int64) error {
	last := j.repo.PollLastDataFile()
	if last != nil && last.Version() == codec.FormatVersion {
		if err := last.File.Open(); err != nil {
			j.repo.AddDataFile(last)
			return wrapIO("load", err)
		}
		pos := lastPos[last]
		if start := last.File.CalculateBlockStart(codec.SizeHeader); pos < start {
			pos = start
		}
		last.File.SetPosition(pos)
		j.currentFile = last
		return nil
	}

	if last != nil {
		j.repo.AddDataFile(last)
	}
	next, err := j.repo.OpenFile()
	if err != nil {
		return wrapIO("load", err)
	}
	j.currentFile = next
	return nil
}

// LoadRecords loads the journal and returns the net set of committed records:
// a deleted record is dropped together with its updates, an update follows its add.
func (j *Journal) LoadRecords(failure TransactionFailureCallback) ([]model.RecordInfo, []model.PreparedTransactionInfo, LoadInfo, error) {
	c := &collector{
		failure: failure,
		index:   make(map[int64][]int),
	}
	info, err := j.Load(c)
	if err != nil {
		return nil, nil, info, err
	}
	return c.records(), c.prepared, info, nil
}

type collector struct {
	failure  TransactionFailureCallback
	entries  []model.RecordInfo
	deleted  []bool
	index    map[int64][]int
	prepared []model.PreparedTransactionInfo
}

func (c *collector) AddRecord(info model.RecordInfo) {
	c.index[info.ID] = append(c.index[info.ID], len(c.entries))
	c.entries = append(c.entries, info)
	c.deleted = append(c.deleted, false)
}

func (c *collector) UpdateRecord(info model.RecordInfo) {
	c.AddRecord(info)
}

func (c *collector) DeleteRecord(id int64) {
	for _, i := range c.index[id] {
		c.deleted[i] = true
	}
	delete(c.index, id)
}

func (c *collector) AddPreparedTransaction(info model.PreparedTransactionInfo) {
	c.prepared = append(c.prepared, info)
}

func (c *collector) FailedTransaction(txID int64, records []model.RecordInfo, recordsToDelete []model.RecordInfo) {
	if c.failure != nil {
		c.failure(txID, records, recordsToDelete)
	}
}

func (c *collector) records() []model.RecordInfo {
	out := make([]model.RecordInfo, 0, len(c.entries))
	for i, info := range c.entries {
		if !c.deleted[i] {
			out = append(out, info)
		}
	}
	return out
}

func (l *loader) location(pos model.RecordPos) model.Location {
	return model.Location{File: l.file, Offset: pos.Offset, Size: pos.Size}
}

func (l *loader) trackID(id int64) {
	if id > l.maxID {
		l.maxID = id
	}
}

func (l *loader) getTx(txID int64) *loadTx {
	lt, ok := l.txs[txID]
	if !ok {
		lt = &loadTx{tx: newTransaction(txID), observed: make(map[int32]int32)}
		l.txs[txID] = lt
	}
	return lt
}

// detach copies data out of the file buffer it was read into.
func detach(info model.RecordInfo) model.RecordInfo {
	if info.Data != nil {
		info.Data = append([]byte(nil), info.Data...)
	}
	return info
}

func (l *loader) OnReadAddRecord(pos model.RecordPos, info model.RecordInfo) error {
	l.trackID(info.ID)
	l.j.records.Put(info.ID, model.NewJournalRecord(l.file, pos.Offset, pos.Size))
	l.cb.AddRecord(detach(info))
	return nil
}

func (l *loader) OnReadUpdateRecord(pos model.RecordPos, info model.RecordInfo) error {
	l.trackID(info.ID)
	rec := l.j.records.Get(info.ID)
	if rec == nil {
		return nil
	}
	rec.AddUpdate(l.file, pos.Offset, pos.Size)
	l.cb.UpdateRecord(detach(info))
	return nil
}

func (l *loader) OnReadDeleteRecord(pos model.RecordPos, id int64) error {
	if l.j.deleteLive(id, l.location(pos)) {
		l.cb.DeleteRecord(id)
	}
	return nil
}

func (l *loader) OnReadAddRecordTX(txID int64, pos model.RecordPos, info model.RecordInfo) error {
	l.trackID(info.ID)
	lt := l.getTx(txID)
	lt.tx.addPositive(txRecord{id: info.ID, loc: l.location(pos), info: detach(info)})
	lt.observed[l.file.RecordID()]++
	return nil
}

func (l *loader) OnReadUpdateRecordTX(txID int64, pos model.RecordPos, info model.RecordInfo) error {
	l.trackID(info.ID)
	lt := l.getTx(txID)
	lt.tx.addPositive(txRecord{id: info.ID, loc: l.location(pos), update: true, info: detach(info)})
	lt.observed[l.file.RecordID()]++
	return nil
}

func (l *loader) OnReadDeleteRecordTX(txID int64, pos model.RecordPos, info model.RecordInfo) error {
	lt := l.getTx(txID)
	lt.tx.addNegative(txRecord{id: info.ID, loc: l.location(pos), info: detach(info)})
	lt.observed[l.file.RecordID()]++
	return nil
}

func (l *loader) OnReadPrepareRecord(txID int64, pos model.RecordPos, extra []byte, counts []codec.FileCount) error {
	lt := l.getTx(txID)
	lt.extra = append([]byte(nil), extra...)
	if !l.complete(lt, counts) {
		log.Warn("prepared tx %d is missing records", txID)
		lt.invalid = true
	}
	lt.tx.prepare(l.location(pos))
	return nil
}

func (l *loader) OnReadCommitRecord(txID int64, pos model.RecordPos, counts []codec.FileCount) error {
	lt, ok := l.txs[txID]
	if !ok {
		// every record of the transaction was reclaimed already
		return nil
	}
	delete(l.txs, txID)

	if lt.invalid || !l.complete(lt, counts) {
		log.Warn("committed tx %d is missing records, ignoring it", txID)
		l.fail(lt)
		return nil
	}
	lt.tx.commit(l.j, l.file, func(r txRecord, deleted bool) {
		switch {
		case deleted:
			l.cb.DeleteRecord(r.id)
		case r.update:
			l.cb.UpdateRecord(r.info)
		default:
			l.cb.AddRecord(r.info)
		}
	})
	return nil
}

func (l *loader) OnReadRollbackRecord(txID int64, pos model.RecordPos) error {
	lt, ok := l.txs[txID]
	if !ok {
		return nil
	}
	delete(l.txs, txID)
	lt.tx.rollback(l.file)
	return nil
}

func (l *loader) MarkAsDataFile(file *model.JournalFile) {
	l.markedData = true
}

// complete checks the records counted for every file the trailer lists.
// Files that are gone were reclaimed or compacted and are not checked.
func (l *loader) complete(lt *loadTx, counts []codec.FileCount) bool {
	for _, c := range counts {
		if !l.present[c.FileID] {
			continue
		}
		if lt.observed[c.FileID] != c.Count {
			log.Debug("tx %d: file %d has %d records, expected %d", lt.tx.id, c.FileID, lt.observed[c.FileID], c.Count)
			return false
		}
	}
	return true
}

func (l *loader) fail(lt *loadTx) {
	records, deletes := lt.infos()
	l.cb.FailedTransaction(lt.tx.id, records, deletes)
	lt.tx.forget()
}

func (lt *loadTx) infos() ([]model.RecordInfo, []model.RecordInfo) {
	records := make([]model.RecordInfo, 0, len(lt.tx.pos))
	for _, r := range lt.tx.pos {
		records = append(records, r.info)
	}
	deletes := make([]model.RecordInfo, 0, len(lt.tx.neg))
	for _, r := range lt.tx.neg {
		deletes = append(deletes, r.info)
	}
	return records, deletes
}

// finish resolves the transactions that have no commit or rollback: prepared
// ones stay open, the rest are reported as failed.
func (l *loader) finish() {
	ids := make([]int64, 0, len(l.txs))
	for id := range l.txs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	for _, id := range ids {
		lt := l.txs[id]
		if !lt.tx.prepared || lt.invalid {
			log.Warn("tx %d was never completed, ignoring it", id)
			l.fail(lt)
			continue
		}

		records, deletes := lt.infos()
		l.cb.AddPreparedTransaction(model.PreparedTransactionInfo{
			TxID:            id,
			ExtraData:       lt.extra,
			Records:         records,
			RecordsToDelete: deletes,
		})
		for i := range lt.tx.pos {
			lt.tx.pos[i].info = model.RecordInfo{}
		}
		for i := range lt.tx.neg {
			lt.tx.neg[i].info = model.RecordInfo{}
		}
		l.j.transactions[id] = lt.tx
	}
	l.txs = nil
}
