package journal

import (
	"math"

	"github.com/cqkv/journal/codec"
	"github.com/cqkv/journal/model"
	"github.com/cqkv/journal/reader"
	"github.com/cqkv/journal/utils/log"
)

// pendingTx is a transaction that was open when compaction started. Its
// records are copied as transactional records and counted per new file.
type pendingTx struct {
	tx     *transaction
	files  []*model.JournalFile
	counts map[*model.JournalFile]int32
}

func (p *pendingTx) addFile(file *model.JournalFile) {
	if _, ok := p.counts[file]; ok {
		return
	}
	p.counts[file] = 0
	p.files = append(p.files, file)
}

func (p *pendingTx) fileCounts() []codec.FileCount {
	counts := make([]codec.FileCount, 0, len(p.files))
	for _, f := range p.files {
		if n := p.counts[f]; n > 0 {
			counts = append(counts, codec.FileCount{FileID: f.RecordID(), Count: n})
		}
	}
	return counts
}

// deleteCommand is a delete that happened while compaction was reading. The
// copies of the deleted locations must be negated by by after the swap.
type deleteCommand struct {
	locs []model.Location
	by   model.Location
}

// txCompleteCommand is a commit or rollback of a pending transaction that
// happened while compaction was reading.
type txCompleteCommand struct {
	tx *transaction
	by *model.JournalFile
}

// bufferedRecord is a record of a committed transaction, held until the
// commit record is read so it is written in commit order.
type bufferedRecord struct {
	pos  model.RecordPos
	info model.RecordInfo
}

type compactFile struct {
	jf  *model.JournalFile
	buf *codec.Buffer
}

// compactor rewrites the live records of a snapshot of data files into new
// files. It reads without holding any journal lock; appends made meanwhile
// are replayed as commands when the new files are swapped in.
type compactor struct {
	j        *Journal
	files    []*model.JournalFile
	snapshot map[*model.JournalFile]bool
	first    int64
	reserved int

	live       map[model.RecordPos]int64
	pending    map[int64]*pendingTx
	pendingPos map[model.RecordPos]int64
	committed  map[int64][]bufferedRecord
	relocated  map[model.RecordPos]model.Location

	out     []*compactFile
	current *compactFile

	deletes   []deleteCommand
	completed []txCompleteCommand

	savedAutoReclaim bool
}

var _ reader.Callback = (*compactor)(nil)

// Compact rewrites the data files so that only live records remain. It
// returns ErrCompactInProgress when another compaction runs.
func (j *Journal) Compact() error {
	if err := j.checkLoaded("compact"); err != nil {
		return err
	}
	if !j.compactorRunning.CompareAndSwap(false, true) {
		return &Error{Kind: KindCompactInProgress, Op: "compact"}
	}
	done := make(chan error, 1)
	if err := j.compactorExecutor.Execute(func() { done <- j.compact() }); err != nil {
		j.compactorRunning.Store(false)
		return wrapIO("compact", err)
	}
	return <-done
}

// compact runs one compaction. The caller has set compactorRunning.
func (j *Journal) compact() error {
	defer j.compactorRunning.Store(false)
	j.reclaimMu.Lock()
	defer j.reclaimMu.Unlock()

	c, err := j.startCompaction()
	if err != nil {
		return err
	}
	log.Info("compaction started on %d files", len(c.files))

	if err := c.run(); err != nil {
		c.abort()
		return err
	}
	return c.finish()
}

// startCompaction moves to a new current file and takes every data file as
// the snapshot to compact.
func (j *Journal) startCompaction() (*compactor, error) {
	j.compactingLock.Lock()
	defer j.compactingLock.Unlock()
	j.appendLock.Lock()
	defer j.appendLock.Unlock()

	if j.getState() != stateLoaded {
		return nil, &Error{Kind: KindNotLoaded, Op: "compact"}
	}

	if j.currentFile != nil {
		j.repo.CloseFile(j.currentFile)
		j.currentFile = nil
	}
	files := j.repo.ClearDataFiles()
	// v1 records grow by one byte when rewritten, one spare file covers that
	reserved := len(files) + 1
	first := j.repo.ReserveIDs(reserved)

	next, err := j.repo.OpenFile()
	if err != nil {
		j.repo.AddDataFiles(files)
		return nil, wrapIO("compact", err)
	}
	j.currentFile = next

	c := &compactor{
		j:          j,
		files:      files,
		snapshot:   make(map[*model.JournalFile]bool, len(files)),
		first:      first,
		reserved:   reserved,
		live:       make(map[model.RecordPos]int64),
		pending:    make(map[int64]*pendingTx),
		pendingPos: make(map[model.RecordPos]int64),
		committed:  make(map[int64][]bufferedRecord),
		relocated:  make(map[model.RecordPos]model.Location),
	}
	for _, f := range files {
		c.snapshot[f] = true
	}

	j.records.Ascend(func(id int64, rec *model.JournalRecord) bool {
		for _, loc := range rec.Locations() {
			if c.snapshot[loc.File] {
				c.live[loc.Pos()] = id
			}
		}
		return true
	})
	for id, tx := range j.transactions {
		c.pending[id] = &pendingTx{tx: tx, counts: make(map[*model.JournalFile]int32)}
		for _, r := range tx.pos {
			if c.snapshot[r.loc.File] {
				c.pendingPos[r.loc.Pos()] = id
			}
		}
		for _, r := range tx.neg {
			if c.snapshot[r.loc.File] {
				c.pendingPos[r.loc.Pos()] = id
			}
		}
		if tx.prepared && c.snapshot[tx.prepareLoc.File] {
			c.pendingPos[tx.prepareLoc.Pos()] = id
		}
	}

	c.savedAutoReclaim = j.autoReclaim.Swap(false)
	j.compactor = c
	return c, nil
}

func (c *compactor) run() error {
	for _, f := range c.files {
		if _, err := reader.Read(f, c); err != nil {
			return wrapIO("compact", err)
		}
	}
	if err := c.flush(); err != nil {
		return wrapIO("compact", err)
	}

	for pos, id := range c.live {
		if _, ok := c.relocated[pos]; !ok {
			return newError(KindCorrupt, "compact", "live record %d at %+v was not found", id, pos)
		}
	}
	for pos, txID := range c.pendingPos {
		if _, ok := c.relocated[pos]; !ok {
			return newError(KindCorrupt, "compact", "record of tx %d at %+v was not found", txID, pos)
		}
	}
	return nil
}

// moved maps a location in a snapshot file to its copy.
func (c *compactor) moved(loc model.Location) (model.Location, bool) {
	if !c.snapshot[loc.File] {
		return loc, false
	}
	n, ok := c.relocated[loc.Pos()]
	return n, ok
}

func (c *compactor) addDelete(locs []model.Location, by model.Location) {
	c.deletes = append(c.deletes, deleteCommand{locs: locs, by: by})
}

func (c *compactor) addTxComplete(tx *transaction, by *model.JournalFile) {
	c.completed = append(c.completed, txCompleteCommand{tx: tx, by: by})
}

func (c *compactor) pendingRecord(txID int64, pos model.RecordPos) (*pendingTx, bool) {
	id, ok := c.pendingPos[pos]
	if !ok || id != txID {
		return nil, false
	}
	return c.pending[txID], true
}

func (c *compactor) OnReadAddRecord(pos model.RecordPos, info model.RecordInfo) error {
	if _, ok := c.live[pos]; !ok {
		return nil
	}
	return c.copyRecord(pos, codec.NewAdd(info.ID, info.UserRecordType, codec.ByteArray(info.Data)), info.CompactCount, nil)
}

func (c *compactor) OnReadUpdateRecord(pos model.RecordPos, info model.RecordInfo) error {
	if _, ok := c.live[pos]; !ok {
		return nil
	}
	return c.copyRecord(pos, codec.NewUpdate(info.ID, info.UserRecordType, codec.ByteArray(info.Data)), info.CompactCount, nil)
}

func (c *compactor) OnReadDeleteRecord(pos model.RecordPos, id int64) error {
	return nil
}

func (c *compactor) OnReadAddRecordTX(txID int64, pos model.RecordPos, info model.RecordInfo) error {
	if p, ok := c.pendingRecord(txID, pos); ok {
		return c.copyRecord(pos, codec.NewAddTx(txID, info.ID, info.UserRecordType, codec.ByteArray(info.Data)), info.CompactCount, p)
	}
	c.buffer(txID, pos, info)
	return nil
}

func (c *compactor) OnReadUpdateRecordTX(txID int64, pos model.RecordPos, info model.RecordInfo) error {
	if p, ok := c.pendingRecord(txID, pos); ok {
		return c.copyRecord(pos, codec.NewUpdateTx(txID, info.ID, info.UserRecordType, codec.ByteArray(info.Data)), info.CompactCount, p)
	}
	c.buffer(txID, pos, info)
	return nil
}

func (c *compactor) OnReadDeleteRecordTX(txID int64, pos model.RecordPos, info model.RecordInfo) error {
	if p, ok := c.pendingRecord(txID, pos); ok {
		return c.copyRecord(pos, codec.NewDeleteTx(txID, info.ID, codec.ByteArray(info.Data)), info.CompactCount, p)
	}
	return nil
}

func (c *compactor) OnReadPrepareRecord(txID int64, pos model.RecordPos, extra []byte, counts []codec.FileCount) error {
	p, ok := c.pendingRecord(txID, pos)
	if !ok {
		return nil
	}
	rec := codec.NewPrepare(txID, codec.ByteArray(extra))
	rec.Counts = p.fileCounts()
	loc, err := c.write(rec, 0)
	if err != nil {
		return err
	}
	c.relocated[pos] = loc
	p.addFile(loc.File)
	return nil
}

// OnReadCommitRecord writes the records the transaction made live as plain records.
func (c *compactor) OnReadCommitRecord(txID int64, pos model.RecordPos, counts []codec.FileCount) error {
	buffered := c.committed[txID]
	delete(c.committed, txID)
	for _, b := range buffered {
		var rec codec.Record
		if b.info.IsUpdate {
			rec = codec.NewUpdate(b.info.ID, b.info.UserRecordType, codec.ByteArray(b.info.Data))
		} else {
			rec = codec.NewAdd(b.info.ID, b.info.UserRecordType, codec.ByteArray(b.info.Data))
		}
		if err := c.copyRecord(b.pos, rec, b.info.CompactCount, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *compactor) OnReadRollbackRecord(txID int64, pos model.RecordPos) error {
	delete(c.committed, txID)
	return nil
}

func (c *compactor) MarkAsDataFile(file *model.JournalFile) {}

// buffer keeps a live record of a completed transaction until its commit.
func (c *compactor) buffer(txID int64, pos model.RecordPos, info model.RecordInfo) {
	if _, ok := c.live[pos]; !ok {
		return
	}
	c.committed[txID] = append(c.committed[txID], bufferedRecord{pos: pos, info: info})
}

func (c *compactor) copyRecord(pos model.RecordPos, rec codec.Record, compactCount byte, p *pendingTx) error {
	loc, err := c.write(rec, compactCount)
	if err != nil {
		return err
	}
	c.relocated[pos] = loc
	if p != nil {
		p.addFile(loc.File)
		p.counts[loc.File]++
	}
	return nil
}

func (c *compactor) write(rec codec.Record, compactCount byte) (model.Location, error) {
	if compactCount < math.MaxUint8 {
		compactCount++
	}
	rec.SetCompactCount(compactCount)

	size := rec.EncodeSize()
	fileSize := c.j.opts.fileSize
	if c.current == nil || c.current.buf.Len()+size > fileSize {
		if err := c.nextFile(); err != nil {
			return model.Location{}, err
		}
		if c.current.buf.Len()+size > fileSize {
			return model.Location{}, newError(KindInvalidState, "compact", "record of %d bytes does not fit a file", size)
		}
	}

	rec.SetFileID(c.current.jf.RecordID())
	data, err := codec.Marshal(rec)
	if err != nil {
		return model.Location{}, &Error{Kind: KindInvalidState, Op: "compact", Err: err}
	}
	offset := c.current.buf.Len()
	c.current.buf.PutBytes(data)
	return model.Location{File: c.current.jf, Offset: int64(offset), Size: int32(len(data))}, nil
}

func (c *compactor) nextFile() error {
	if err := c.flush(); err != nil {
		return wrapIO("compact", err)
	}
	if len(c.out) >= c.reserved {
		return newError(KindInvalidState, "compact", "live records need more than %d files", c.reserved)
	}

	id := c.first + int64(len(c.out))
	jf, err := c.j.repo.CreateCompactFile(id)
	if err != nil {
		_ = c.j.factory.CreateSequentialFile(c.j.repo.CompactFileName(id)).Delete()
		return wrapIO("compact", err)
	}
	buf := codec.NewBuffer(c.j.opts.fileSize)
	codec.EncodeFileHeader(buf, c.j.opts.userVersion, id)
	buf.PutZeros(int(jf.File.CalculateBlockStart(codec.SizeHeader)) - codec.SizeHeader)

	c.current = &compactFile{jf: jf, buf: buf}
	c.out = append(c.out, c.current)
	return nil
}

// flush writes the output file being filled and closes it.
func (c *compactor) flush() error {
	if c.current == nil {
		return nil
	}
	cf := c.current
	c.current = nil
	if err := cf.jf.File.WriteDirectAt(cf.buf.Bytes(), 0, true); err != nil {
		return err
	}
	cf.buf = nil
	return cf.jf.File.Close()
}

// finish installs the new files. Once the control file is written the
// compaction is completed on the next load even if the process dies.
func (c *compactor) finish() error {
	j := c.j
	if err := j.writeControlFile(c.controlFile()); err != nil {
		c.abort()
		return wrapIO("compact", err)
	}
	if err := c.swap(); err != nil {
		c.abort()
		return err
	}

	var firstErr error
	for _, cf := range c.out {
		if err := cf.jf.File.RenameTo(j.repo.FileName(cf.jf.ID())); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, f := range c.files {
		if err := j.repo.AddFreeFile(f, false); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	j.autoReclaim.Store(c.savedAutoReclaim)
	if firstErr != nil {
		log.Error("compaction swapped its files but could not clean up, the next load finishes it: %v", firstErr)
		return wrapIO("compact", firstErr)
	}
	if err := j.deleteControlFile(); err != nil {
		return wrapIO("compact", err)
	}
	log.Info("compaction done: %d files rewritten into %d", len(c.files), len(c.out))
	return nil
}

func (c *compactor) controlFile() *controlFile {
	ctl := &controlFile{}
	for _, f := range c.files {
		ctl.DataFiles = append(ctl.DataFiles, f.File.FileName())
	}
	for _, cf := range c.out {
		name := cf.jf.File.FileName()
		ctl.NewFiles = append(ctl.NewFiles, name)
		ctl.Renames = append(ctl.Renames, renameRecord{From: name, To: c.j.repo.FileName(cf.jf.ID())})
	}
	return ctl
}

// swap moves the live records and open transactions to the new files and
// replays the commands recorded while reading.
func (c *compactor) swap() error {
	j := c.j
	j.compactingLock.Lock()
	defer j.compactingLock.Unlock()
	j.appendLock.Lock()
	defer j.appendLock.Unlock()

	if j.getState() != stateLoaded {
		return &Error{Kind: KindNotLoaded, Op: "compact"}
	}
	for _, cmd := range c.deletes {
		if c.snapshot[cmd.by.File] {
			if _, ok := c.moved(cmd.by); !ok {
				return newError(KindCorrupt, "compact", "delete at %+v was not copied", cmd.by.Pos())
			}
		}
	}

	j.records.Ascend(func(id int64, rec *model.JournalRecord) bool {
		rec.Relocate(c.moved)
		return true
	})
	for id, tx := range j.transactions {
		p, ok := c.pending[id]
		if !ok || p.tx != tx {
			continue
		}
		tx.relocate(c.moved, c.snapshot, p.files, p.counts)
	}

	for _, cmd := range c.deletes {
		by := cmd.by
		if n, ok := c.moved(by); ok {
			by = n
		}
		for _, loc := range cmd.locs {
			n, ok := c.moved(loc)
			if !ok {
				continue
			}
			n.File.IncPosCount()
			by.File.IncNegCount(n.File)
		}
	}
	for _, cmd := range c.completed {
		p, ok := c.pending[cmd.tx.id]
		if !ok || p.tx != cmd.tx {
			continue
		}
		for _, f := range p.files {
			f.IncPosCount()
			cmd.by.IncNegCount(f)
		}
	}

	out := make([]*model.JournalFile, 0, len(c.out))
	for _, cf := range c.out {
		out = append(out, cf.jf)
	}
	j.repo.AddDataFiles(out)
	j.compactor = nil
	return nil
}

// abort gives the snapshot back to the data files and removes the output.
func (c *compactor) abort() {
	j := c.j
	j.compactingLock.Lock()
	j.appendLock.Lock()
	j.compactor = nil
	j.repo.AddDataFiles(c.files)
	j.appendLock.Unlock()
	j.compactingLock.Unlock()

	if err := j.deleteControlFile(); err != nil {
		log.Error("failed to delete control file: %v", err)
	}
	for _, cf := range c.out {
		if err := cf.jf.File.Delete(); err != nil {
			log.Error("failed to delete compaction output %s: %v", cf.jf.File.FileName(), err)
		}
	}
	j.autoReclaim.Store(c.savedAutoReclaim)
	log.Warn("compaction aborted, %d files stay as they were", len(c.files))
}
