package journal

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cqkv/journal/codec"
	"github.com/cqkv/journal/model"
)

func TestJournal_TransactionCommit(t *testing.T) {
	dir := t.TempDir()
	j, _ := loadJournal(t, dir)

	assert.Nil(t, j.AppendAddRecord(1, 0, body("one"), false))
	assert.Nil(t, j.AppendAddRecordTx(5, 2, 0, body("two")))
	assert.Nil(t, j.AppendUpdateRecordTx(5, 2, 0, body("two-b")))
	assert.Nil(t, j.AppendUpdateRecordTx(5, 1, 0, body("one-b")))
	assert.Equal(t, 1, j.RecordCount())
	assert.Equal(t, 1, j.TransactionCount())

	assert.Nil(t, j.AppendCommitRecord(5, true))
	assert.Equal(t, 2, j.RecordCount())
	assert.Equal(t, 0, j.TransactionCount())

	assert.Nil(t, j.AppendDeleteRecordTx(6, 1, body("why")))
	assert.Nil(t, j.AppendCommitRecord(6, true))
	assert.Equal(t, 1, j.RecordCount())
	assert.Nil(t, j.Stop())

	_, rec := loadJournal(t, dir)
	assert.Equal(t, []string{
		"add 1 one",
		"add 2 two",
		"update 2 two-b",
		"update 1 one-b",
		"delete 1",
	}, rec.events)
	assert.Empty(t, rec.failed)
}

func TestJournal_TransactionRollback(t *testing.T) {
	dir := t.TempDir()
	j, _ := loadJournal(t, dir)

	assert.Nil(t, j.AppendAddRecordTx(3, 1, 0, body("a")))
	assert.Nil(t, j.AppendAddRecordTx(3, 2, 0, body("b")))
	assert.Nil(t, j.AppendRollbackRecord(3, true))
	assert.Equal(t, 0, j.RecordCount())
	assert.Equal(t, 0, j.TransactionCount())
	assert.ErrorIs(t, j.AppendCommitRecord(3, false), ErrUnknownTransaction)
	assert.Nil(t, j.Stop())

	_, rec := loadJournal(t, dir)
	assert.Empty(t, rec.events)
	assert.Empty(t, rec.failed)
	assert.Empty(t, rec.prepared)
}

func TestJournal_OpenTransactionFailsOnLoad(t *testing.T) {
	dir := t.TempDir()
	j, _ := loadJournal(t, dir)

	assert.Nil(t, j.AppendAddRecord(1, 0, body("kept"), true))
	assert.Nil(t, j.AppendAddRecordTx(8, 2, 0, body("lost")))
	assert.Nil(t, j.AppendDeleteRecordTx(8, 1, nil))
	assert.Nil(t, j.ForceMoveNextFile())
	assert.Nil(t, j.Stop())

	j, rec := loadJournal(t, dir)
	assert.Equal(t, []string{"add 1 kept"}, rec.events)
	require.Contains(t, rec.failed, int64(8))
	require.Len(t, rec.failed[8], 1)
	assert.Equal(t, "lost", string(rec.failed[8][0].Data))
	assert.Equal(t, 0, j.TransactionCount())
	assert.ErrorIs(t, j.AppendCommitRecord(8, false), ErrUnknownTransaction)

	// the failed transaction does not keep its files alive
	assert.Nil(t, j.AppendDeleteRecord(1, true))
	assert.Nil(t, j.ForceMoveNextFile())
	reclaimed, err := j.CheckReclaimStatus()
	assert.Nil(t, err)
	assert.True(t, reclaimed)
	assert.Equal(t, 0, j.DataFilesCount())
}

func TestJournal_PreparedTransaction(t *testing.T) {
	dir := t.TempDir()
	j, _ := loadJournal(t, dir)

	assert.Nil(t, j.AppendAddRecordTx(5, 1, 0, body("a")))
	assert.Nil(t, j.AppendAddRecordTx(5, 2, 0, body("b")))
	assert.Nil(t, j.AppendPrepareRecord(5, body("xid-5"), true))
	assert.Nil(t, j.Stop())

	j, rec := loadJournal(t, dir)
	assert.Empty(t, rec.events)
	assert.Empty(t, rec.failed)
	require.Len(t, rec.prepared, 1)
	prepared := rec.prepared[0]
	assert.Equal(t, int64(5), prepared.TxID)
	assert.Equal(t, "xid-5", string(prepared.ExtraData))
	require.Len(t, prepared.Records, 2)
	assert.Equal(t, "a", string(prepared.Records[0].Data))
	assert.Equal(t, "b", string(prepared.Records[1].Data))
	assert.Equal(t, 0, j.RecordCount())
	assert.Equal(t, 1, j.TransactionCount())

	assert.Nil(t, j.AppendCommitRecord(5, true))
	assert.Equal(t, 2, j.RecordCount())
	assert.Nil(t, j.Stop())

	j, rec = loadJournal(t, dir)
	assert.Equal(t, []string{"add 1 a", "add 2 b"}, rec.events)
	assert.Empty(t, rec.prepared)
	assert.Equal(t, 2, j.RecordCount())
}

func TestJournal_TransactionAcrossFiles(t *testing.T) {
	base := t.TempDir()
	j, _ := loadJournal(t, base)

	assert.Nil(t, j.AppendAddRecord(1, 0, body("plain"), true))
	assert.Nil(t, j.AppendAddRecordTx(7, 10, 0, body("a")))
	first := j.CurrentFileID()
	assert.Nil(t, j.ForceMoveNextFile())
	assert.Nil(t, j.AppendAddRecordTx(7, 11, 0, body("b")))
	assert.Nil(t, j.AppendCommitRecord(7, true))
	assert.Nil(t, j.Stop())

	t.Run("complete", func(t *testing.T) {
		dir := copyDir(t, base)
		_, rec := loadJournal(t, dir)
		assert.Equal(t, []string{"add 1 plain", "add 10 a", "add 11 b"}, rec.events)
		assert.Empty(t, rec.failed)
	})

	t.Run("record missing", func(t *testing.T) {
		dir := copyDir(t, base)
		// keep the plain record, cut the transactional one
		require.Nil(t, os.Truncate(fileName(dir, first), codec.SizeHeader+codec.SizeAddRecord+5))

		j, rec := loadJournal(t, dir)
		assert.Equal(t, []string{"add 1 plain"}, rec.events)
		require.Contains(t, rec.failed, int64(7))
		require.Len(t, rec.failed[7], 1)
		assert.Equal(t, int64(11), rec.failed[7][0].ID)
		assert.Equal(t, 1, j.RecordCount())
	})
}

func TestTransaction_Accounting(t *testing.T) {
	a := model.NewJournalFile(nil, 1, codec.FormatVersion)
	b := model.NewJournalFile(nil, 2, codec.FormatVersion)

	tx := newTransaction(1)
	tx.addPositive(txRecord{id: 1, loc: model.Location{File: a, Offset: 16, Size: 30}})
	tx.addPositive(txRecord{id: 2, loc: model.Location{File: a, Offset: 46, Size: 30}})
	tx.addNegative(txRecord{id: 3, loc: model.Location{File: b, Offset: 16, Size: 30}})

	assert.True(t, tx.hasAdd(1))
	assert.False(t, tx.hasAdd(3))
	assert.Equal(t, []codec.FileCount{{FileID: 1, Count: 2}, {FileID: 2, Count: 1}}, tx.fileCounts())
	assert.Equal(t, int32(1), a.PosCount())
	assert.Equal(t, int32(1), b.PosCount())

	tx.complete(b)
	assert.Equal(t, int32(1), b.NegCount(a))
	assert.Equal(t, int32(1), b.NegCount(b))
}
