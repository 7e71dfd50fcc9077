package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJournal_Reclaim(t *testing.T) {
	dir := t.TempDir()
	j, _ := loadJournal(t, dir)

	for i := int64(0); i < 40; i++ {
		assert.Nil(t, j.AppendAddRecord(i, 0, payload("x"), false))
	}
	for i := int64(0); i < 33; i++ {
		assert.Nil(t, j.AppendDeleteRecord(i, false))
	}
	assert.Nil(t, j.ForceMoveNextFile())
	assert.Equal(t, 2, j.DataFilesCount())

	reclaimed, err := j.CheckReclaimStatus()
	assert.Nil(t, err)
	assert.True(t, reclaimed)
	assert.Equal(t, 1, j.DataFilesCount())

	reclaimed, err = j.CheckReclaimStatus()
	assert.Nil(t, err)
	assert.False(t, reclaimed)
	assert.Nil(t, j.Stop())

	net := reloadNet(t, dir)
	assert.Len(t, net, 7)
	for i := int64(33); i < 40; i++ {
		assert.Contains(t, net, i)
	}
}

func TestJournal_ReclaimKeepsDeletesOfLiveFiles(t *testing.T) {
	dir := t.TempDir()
	j, _ := loadJournal(t, dir)

	// the first file is full, the deletes go to the second one
	for i := int64(0); i < 33; i++ {
		assert.Nil(t, j.AppendAddRecord(i, 0, payload("x"), false))
	}
	for i := int64(0); i < 10; i++ {
		assert.Nil(t, j.AppendDeleteRecord(i, false))
	}
	assert.Nil(t, j.ForceMoveNextFile())
	assert.Equal(t, 2, j.DataFilesCount())

	reclaimed, err := j.CheckReclaimStatus()
	assert.Nil(t, err)
	assert.False(t, reclaimed)
	assert.Equal(t, 2, j.DataFilesCount())
	assert.Nil(t, j.Stop())

	net := reloadNet(t, dir)
	assert.Len(t, net, 23)
	assert.NotContains(t, net, int64(0))
}

func TestJournal_AutoReclaim(t *testing.T) {
	j, _ := loadJournal(t, t.TempDir(), WithAutoReclaim(true))
	assert.True(t, j.AutoReclaim())

	for i := int64(0); i < 33; i++ {
		assert.Nil(t, j.AppendAddRecord(i, 0, payload("x"), false))
	}
	first := j.CurrentFileID()
	for i := int64(0); i < 33; i++ {
		assert.Nil(t, j.AppendDeleteRecord(i, false))
	}
	// fill the second file so the next add moves on and schedules a reclaim
	for i := int64(100); i < 128; i++ {
		assert.Nil(t, j.AppendAddRecord(i, 0, payload("y"), false))
	}
	assert.Nil(t, j.compactorExecutor.Flush())

	for _, f := range j.DataFiles() {
		assert.NotEqual(t, first, f.ID())
	}
	assert.Equal(t, 1, j.DataFilesCount())
	assert.Equal(t, 28, j.RecordCount())

	j.SetAutoReclaim(false)
	assert.False(t, j.AutoReclaim())
}
