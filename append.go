package journal

import (
	"fmt"

	"github.com/cqkv/journal/codec"
	"github.com/cqkv/journal/fio"
	"github.com/cqkv/journal/model"
	"github.com/cqkv/journal/utils/log"
)

// wait blocks until the write behind cb reached the file.
func wait(op string, cb *fio.SyncCallback) error {
	if err := cb.Wait(); err != nil {
		return &Error{Kind: KindIOFailure, Op: op, Err: err}
	}
	return nil
}

// AppendAddRecord appends a new record and waits for the write. With sync the
// file is flushed to disk before returning.
func (j *Journal) AppendAddRecord(id int64, userType byte, body codec.Encoder, sync bool) error {
	cb := fio.NewSyncCallback()
	if err := j.AppendAddRecordAsync(id, userType, body, sync, cb); err != nil {
		return err
	}
	return wait("append add", cb)
}

// AppendAddRecordAsync queues a new record. completion, when not nil, learns
// the outcome of the write.
func (j *Journal) AppendAddRecordAsync(id int64, userType byte, body codec.Encoder, sync bool, completion IOCompletion) error {
	j.compactingLock.RLock()
	defer j.compactingLock.RUnlock()
	j.appendLock.Lock()
	defer j.appendLock.Unlock()

	if err := j.checkLoaded("append add"); err != nil {
		return err
	}
	loc, err := j.appendRecord(codec.NewAdd(id, userType, body), nil, sync, completion)
	if err != nil {
		return err
	}
	j.records.Put(id, model.NewJournalRecord(loc.File, loc.Offset, loc.Size))
	return nil
}

func (j *Journal) AppendUpdateRecord(id int64, userType byte, body codec.Encoder, sync bool) error {
	cb := fio.NewSyncCallback()
	if err := j.AppendUpdateRecordAsync(id, userType, body, sync, cb); err != nil {
		return err
	}
	return wait("append update", cb)
}

// AppendUpdateRecordAsync appends a new version of a live record.
func (j *Journal) AppendUpdateRecordAsync(id int64, userType byte, body codec.Encoder, sync bool, completion IOCompletion) error {
	j.compactingLock.RLock()
	defer j.compactingLock.RUnlock()
	j.appendLock.Lock()
	defer j.appendLock.Unlock()

	if err := j.checkLoaded("append update"); err != nil {
		return err
	}
	rec := j.records.Get(id)
	if rec == nil {
		return &Error{Kind: KindUnknownRecord, Op: "append update", Err: fmt.Errorf("record %d", id)}
	}
	loc, err := j.appendRecord(codec.NewUpdate(id, userType, body), nil, sync, completion)
	if err != nil {
		return err
	}
	rec.AddUpdate(loc.File, loc.Offset, loc.Size)
	return nil
}

func (j *Journal) AppendDeleteRecord(id int64, sync bool) error {
	cb := fio.NewSyncCallback()
	if err := j.AppendDeleteRecordAsync(id, sync, cb); err != nil {
		return err
	}
	return wait("append delete", cb)
}

func (j *Journal) AppendDeleteRecordAsync(id int64, sync bool, completion IOCompletion) error {
	j.compactingLock.RLock()
	defer j.compactingLock.RUnlock()
	j.appendLock.Lock()
	defer j.appendLock.Unlock()

	if err := j.checkLoaded("append delete"); err != nil {
		return err
	}
	if j.records.Get(id) == nil {
		return &Error{Kind: KindUnknownRecord, Op: "append delete", Err: fmt.Errorf("record %d", id)}
	}
	loc, err := j.appendRecord(codec.NewDelete(id), nil, sync, completion)
	if err != nil {
		return err
	}
	j.deleteLive(id, loc)
	return nil
}

// AppendAddRecordTx adds a record as part of transaction txID, the record
// becomes live when the transaction commits.
func (j *Journal) AppendAddRecordTx(txID, id int64, userType byte, body codec.Encoder) error {
	cb := fio.NewSyncCallback()
	if err := j.AppendAddRecordTxAsync(txID, id, userType, body, cb); err != nil {
		return err
	}
	return wait("append add tx", cb)
}

func (j *Journal) AppendAddRecordTxAsync(txID, id int64, userType byte, body codec.Encoder, completion IOCompletion) error {
	j.compactingLock.RLock()
	defer j.compactingLock.RUnlock()
	j.appendLock.Lock()
	defer j.appendLock.Unlock()

	if err := j.checkLoaded("append add tx"); err != nil {
		return err
	}
	tx := j.getOrCreateTx(txID)
	loc, err := j.appendRecord(codec.NewAddTx(txID, id, userType, body), tx, false, completion)
	if err != nil {
		return err
	}
	tx.addPositive(txRecord{id: id, loc: loc})
	return nil
}

func (j *Journal) AppendUpdateRecordTx(txID, id int64, userType byte, body codec.Encoder) error {
	cb := fio.NewSyncCallback()
	if err := j.AppendUpdateRecordTxAsync(txID, id, userType, body, cb); err != nil {
		return err
	}
	return wait("append update tx", cb)
}

// AppendUpdateRecordTxAsync updates a record that is live or was added by the
// same transaction.
func (j *Journal) AppendUpdateRecordTxAsync(txID, id int64, userType byte, body codec.Encoder, completion IOCompletion) error {
	j.compactingLock.RLock()
	defer j.compactingLock.RUnlock()
	j.appendLock.Lock()
	defer j.appendLock.Unlock()

	if err := j.checkLoaded("append update tx"); err != nil {
		return err
	}
	if !j.knownRecord(id, j.transactions[txID]) {
		return &Error{Kind: KindUnknownRecord, Op: "append update tx", Err: fmt.Errorf("record %d in tx %d", id, txID)}
	}
	tx := j.getOrCreateTx(txID)
	loc, err := j.appendRecord(codec.NewUpdateTx(txID, id, userType, body), tx, false, completion)
	if err != nil {
		return err
	}
	tx.addPositive(txRecord{id: id, loc: loc, update: true})
	return nil
}

func (j *Journal) AppendDeleteRecordTx(txID, id int64, body codec.Encoder) error {
	cb := fio.NewSyncCallback()
	if err := j.AppendDeleteRecordTxAsync(txID, id, body, cb); err != nil {
		return err
	}
	return wait("append delete tx", cb)
}

// AppendDeleteRecordTxAsync deletes a record when the transaction commits.
// body is optional.
func (j *Journal) AppendDeleteRecordTxAsync(txID, id int64, body codec.Encoder, completion IOCompletion) error {
	j.compactingLock.RLock()
	defer j.compactingLock.RUnlock()
	j.appendLock.Lock()
	defer j.appendLock.Unlock()

	if err := j.checkLoaded("append delete tx"); err != nil {
		return err
	}
	if !j.knownRecord(id, j.transactions[txID]) {
		return &Error{Kind: KindUnknownRecord, Op: "append delete tx", Err: fmt.Errorf("record %d in tx %d", id, txID)}
	}
	tx := j.getOrCreateTx(txID)
	loc, err := j.appendRecord(codec.NewDeleteTx(txID, id, body), tx, false, completion)
	if err != nil {
		return err
	}
	tx.addNegative(txRecord{id: id, loc: loc})
	return nil
}

// AppendPrepareRecord writes the first phase of a two phase commit. extra is
// handed back by Load when the transaction is still prepared on restart.
func (j *Journal) AppendPrepareRecord(txID int64, extra codec.Encoder, sync bool) error {
	cb := fio.NewSyncCallback()
	if err := j.AppendPrepareRecordAsync(txID, extra, sync, cb); err != nil {
		return err
	}
	return wait("append prepare", cb)
}

func (j *Journal) AppendPrepareRecordAsync(txID int64, extra codec.Encoder, sync bool, completion IOCompletion) error {
	j.compactingLock.RLock()
	defer j.compactingLock.RUnlock()
	j.appendLock.Lock()
	defer j.appendLock.Unlock()

	if err := j.checkLoaded("append prepare"); err != nil {
		return err
	}
	tx := j.getOrCreateTx(txID)
	rec := codec.NewPrepare(txID, extra)
	rec.Counts = tx.fileCounts()
	loc, err := j.appendRecord(rec, tx, sync, completion)
	if err != nil {
		return err
	}
	tx.prepare(loc)
	return nil
}

func (j *Journal) AppendCommitRecord(txID int64, sync bool) error {
	cb := fio.NewSyncCallback()
	if err := j.AppendCommitRecordAsync(txID, sync, cb); err != nil {
		return err
	}
	return wait("append commit", cb)
}

// AppendCommitRecordAsync writes the commit record and applies the
// transaction to the live records.
func (j *Journal) AppendCommitRecordAsync(txID int64, sync bool, completion IOCompletion) error {
	j.compactingLock.RLock()
	defer j.compactingLock.RUnlock()
	j.appendLock.Lock()
	defer j.appendLock.Unlock()

	if err := j.checkLoaded("append commit"); err != nil {
		return err
	}
	tx, ok := j.transactions[txID]
	if !ok {
		return &Error{Kind: KindUnknownTransaction, Op: "append commit", Err: fmt.Errorf("tx %d", txID)}
	}
	rec := codec.NewCommit(txID)
	rec.Counts = tx.fileCounts()
	loc, err := j.appendRecord(rec, tx, sync, completion)
	if err != nil {
		return err
	}
	tx.commit(j, loc.File, nil)
	j.completeTx(tx, loc.File)
	return nil
}

func (j *Journal) AppendRollbackRecord(txID int64, sync bool) error {
	cb := fio.NewSyncCallback()
	if err := j.AppendRollbackRecordAsync(txID, sync, cb); err != nil {
		return err
	}
	return wait("append rollback", cb)
}

func (j *Journal) AppendRollbackRecordAsync(txID int64, sync bool, completion IOCompletion) error {
	j.compactingLock.RLock()
	defer j.compactingLock.RUnlock()
	j.appendLock.Lock()
	defer j.appendLock.Unlock()

	if err := j.checkLoaded("append rollback"); err != nil {
		return err
	}
	tx, ok := j.transactions[txID]
	if !ok {
		return &Error{Kind: KindUnknownTransaction, Op: "append rollback", Err: fmt.Errorf("tx %d", txID)}
	}
	loc, err := j.appendRecord(codec.NewRollback(txID), tx, sync, completion)
	if err != nil {
		return err
	}
	tx.rollback(loc.File)
	j.completeTx(tx, loc.File)
	return nil
}

// ForceMoveNextFile closes the current file and opens the next one.
func (j *Journal) ForceMoveNextFile() error {
	j.compactingLock.RLock()
	defer j.compactingLock.RUnlock()
	j.appendLock.Lock()
	defer j.appendLock.Unlock()

	if err := j.checkLoaded("move next file"); err != nil {
		return err
	}
	return j.moveNextFile(false)
}

func (j *Journal) getOrCreateTx(txID int64) *transaction {
	tx, ok := j.transactions[txID]
	if !ok {
		tx = newTransaction(txID)
		j.transactions[txID] = tx
	}
	return tx
}

func (j *Journal) knownRecord(id int64, tx *transaction) bool {
	if j.records.Get(id) != nil {
		return true
	}
	return tx != nil && tx.hasAdd(id)
}

func (j *Journal) completeTx(tx *transaction, by *model.JournalFile) {
	delete(j.transactions, tx.id)
	if j.compactor != nil {
		j.compactor.addTxComplete(tx, by)
	}
}

// deleteLive removes id from the live records, by is the record that deleted it.
func (j *Journal) deleteLive(id int64, by model.Location) bool {
	rec := j.records.Delete(id)
	if rec == nil {
		return false
	}
	rec.Delete(by.File)
	if j.compactor != nil {
		j.compactor.addDelete(rec.Locations(), by)
	}
	return true
}

// appendRecord picks the file for rec and queues the write. It must be called
// with appendLock held.
func (j *Journal) appendRecord(rec codec.Record, tx *transaction, sync bool, completion IOCompletion) (model.Location, error) {
	size := rec.EncodeSize()
	file, err := j.switchFileIfNecessary(size)
	if err != nil {
		return model.Location{}, err
	}

	rec.SetFileID(file.RecordID())
	data, err := codec.Marshal(rec)
	if err != nil {
		return model.Location{}, &Error{Kind: KindInvalidState, Op: "append", Err: err}
	}

	if tx != nil && sync {
		// the records of the transaction in earlier files must reach the disk too
		for _, f := range tx.files {
			if f != file {
				f.File.Write(nil, true, nil)
			}
		}
	}

	offset := file.File.Position()
	var cb fio.IOCallback
	if completion != nil {
		completion.StoreLineUp()
		cb = completion
	}
	file.File.Write(data, sync, cb)
	if j.opts.replication != nil {
		j.opts.replication.Send(file.ID(), data)
	}
	return model.Location{File: file, Offset: offset, Size: int32(len(data))}, nil
}

func (j *Journal) switchFileIfNecessary(size int) (*model.JournalFile, error) {
	if j.currentFile == nil {
		next, err := j.repo.OpenFile()
		if err != nil {
			return nil, wrapIO("open file", err)
		}
		j.currentFile = next
	}

	if limit := j.maxRecordSize(j.currentFile); size > limit {
		return nil, &Error{Kind: KindRecordTooLarge, Op: "append",
			Err: fmt.Errorf("record of %d bytes, files hold at most %d", size, limit)}
	}
	if j.currentFile.File.Fits(size) {
		return j.currentFile, nil
	}

	if err := j.moveNextFile(true); err != nil {
		return nil, err
	}
	if !j.currentFile.File.Fits(size) {
		return nil, newError(KindInvalidState, "append", "record of %d bytes does not fit the new file %s", size, j.currentFile)
	}
	return j.currentFile, nil
}

func (j *Journal) moveNextFile(scheduleReclaim bool) error {
	if j.currentFile != nil {
		j.repo.CloseFile(j.currentFile)
		j.currentFile = nil
	}
	next, err := j.repo.OpenFile()
	if err != nil {
		return wrapIO("move next file", err)
	}
	j.currentFile = next
	log.Debug("moved to journal file %s", next.File.FileName())

	if scheduleReclaim {
		j.scheduleReclaim()
	}
	return nil
}
