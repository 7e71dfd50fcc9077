package journal

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatch(t *testing.T) {
	j, _ := loadJournal(t, t.TempDir())

	b := j.NewBatch(1)
	assert.NotNil(t, b)

	// do not commit
	err := b.Add(1, 0, []byte("value1"))
	assert.Nil(t, err)
	err = b.Delete(2)
	assert.Nil(t, err)
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, 0, j.RecordCount())

	// commit
	err = b.Commit()
	assert.Nil(t, err)
	assert.Equal(t, 1, j.RecordCount())
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, j.TransactionCount())

	// delete valid data
	b2 := j.NewBatch(2)
	err = b2.Delete(1)
	assert.Nil(t, err)
	err = b2.Commit()
	assert.Nil(t, err)
	assert.Equal(t, 0, j.RecordCount())
}

func TestBatchAfterRestart(t *testing.T) {
	dir := t.TempDir()
	j, _ := loadJournal(t, dir)

	b := j.NewBatch(1, WithBatchSync(true))
	err := b.Add(1, 0, []byte("value1"))
	assert.Nil(t, err)
	err = b.Add(2, 0, []byte("value2"))
	assert.Nil(t, err)
	err = b.Commit()
	assert.Nil(t, err)

	b = j.NewBatch(2, WithBatchSync(true))
	err = b.Update(1, 0, []byte("value1-b"))
	assert.Nil(t, err)
	err = b.Delete(2)
	assert.Nil(t, err)
	err = b.Add(3, 0, []byte("value3"))
	assert.Nil(t, err)
	err = b.Commit()
	assert.Nil(t, err)

	// restart
	assert.Nil(t, j.Stop())
	_, rec := loadJournal(t, dir)
	assert.Equal(t, []string{
		"add 1 value1",
		"add 2 value2",
		"update 1 value1-b",
		"add 3 value3",
		"delete 2",
	}, rec.events)
	assert.Empty(t, rec.failed)
}

func TestBatchLastOperationWins(t *testing.T) {
	j, _ := loadJournal(t, t.TempDir())
	assert.Nil(t, j.AppendAddRecord(1, 0, body("live"), false))

	b := j.NewBatch(1)
	// added then updated in the batch is one add
	assert.Nil(t, b.Add(2, 0, []byte("a")))
	assert.Nil(t, b.Update(2, 0, []byte("b")))
	// re-added after a delete becomes an update
	assert.Nil(t, b.Delete(1))
	assert.Nil(t, b.Add(1, 0, []byte("again")))
	// added and deleted in the batch is nothing
	assert.Nil(t, b.Add(3, 0, []byte("gone")))
	assert.Nil(t, b.Delete(3))
	assert.Equal(t, 2, b.Len())

	assert.Nil(t, b.Commit())
	assert.Equal(t, 2, j.RecordCount())
}

func TestBatchRollback(t *testing.T) {
	j, _ := loadJournal(t, t.TempDir())

	b := j.NewBatch(1)
	assert.Nil(t, b.Add(1, 0, []byte("a")))
	b.Rollback()
	assert.Equal(t, 0, b.Len())
	assert.Nil(t, b.Commit())
	assert.Equal(t, 0, j.RecordCount())
	assert.Equal(t, 0, j.TransactionCount())
}

func TestBatchMaxNum(t *testing.T) {
	j, _ := loadJournal(t, t.TempDir())

	b := j.NewBatch(1, WithMaxBatchNum(2))
	assert.Nil(t, b.Add(1, 0, []byte("a")))
	assert.Nil(t, b.Add(2, 0, []byte("b")))
	// replacing a buffered operation is allowed
	assert.Nil(t, b.Update(2, 0, []byte("c")))
	assert.ErrorIs(t, b.Add(3, 0, []byte("d")), ErrExceedMaxBatchNum)
}

func TestBatchCommitFailureRollsBack(t *testing.T) {
	j, _ := loadJournal(t, t.TempDir())

	b := j.NewBatch(1)
	assert.Nil(t, b.Add(1, 0, []byte("fits")))
	assert.Nil(t, b.Add(2, 0, make([]byte, testFileSize)))
	assert.ErrorIs(t, b.Commit(), ErrRecordTooLarge)
	assert.Equal(t, 0, j.RecordCount())
	assert.Equal(t, 0, j.TransactionCount())
}

func TestBatchMany(t *testing.T) {
	dir := t.TempDir()
	j, _ := loadJournal(t, dir)

	b := j.NewBatch(7)
	for i := 0; i < 1000; i++ {
		err := b.Add(int64(i), 0, []byte(fmt.Sprintf("value-%d", i)))
		assert.Nil(t, err)
	}
	assert.Equal(t, 0, j.RecordCount())

	err := b.Commit()
	assert.Nil(t, err)
	assert.Equal(t, 1000, j.RecordCount())
	assert.Nil(t, j.Stop())

	assert.Len(t, reloadNet(t, dir), 1000)
}
