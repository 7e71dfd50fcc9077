package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJournalFile_Counts(t *testing.T) {
	f := NewJournalFile(nil, 7, 2)
	assert.Equal(t, int64(7), f.ID())
	assert.Equal(t, int32(7), f.RecordID())
	assert.Equal(t, int32(2), f.Version())

	f.IncAddRecord(10)
	f.IncAddRecord(20)
	f.IncPosCount()
	assert.Equal(t, int32(3), f.PosCount())
	assert.Equal(t, int32(2), f.AddRecordCount())
	assert.Equal(t, int64(30), f.LiveSize())

	f.DecSize(10)
	assert.Equal(t, int64(20), f.LiveSize())
}

func TestJournalFile_NegCount(t *testing.T) {
	a := NewJournalFile(nil, 1, 2)
	b := NewJournalFile(nil, 2, 2)

	b.IncNegCount(a)
	b.IncNegCount(a)
	b.IncNegCount(b)
	assert.Equal(t, int32(2), b.NegCount(a))
	assert.Equal(t, int32(1), b.NegCount(b))
	assert.Equal(t, int32(0), a.NegCount(b))
	assert.Equal(t, int32(2), b.TotalNegativeToOthers())

	assert.False(t, a.CanReclaim())
	a.SetCanReclaim(true)
	assert.True(t, a.CanReclaim())
}

func TestJournalRecord_UpdateAndDelete(t *testing.T) {
	a := NewJournalFile(nil, 1, 2)
	b := NewJournalFile(nil, 2, 2)
	c := NewJournalFile(nil, 3, 2)

	rec := NewJournalRecord(a, 16, 30)
	rec.AddUpdate(b, 16, 40)
	rec.AddUpdate(b, 56, 40)

	assert.Equal(t, int32(1), a.PosCount())
	assert.Equal(t, int32(2), b.PosCount())
	assert.Equal(t, int64(80), b.LiveSize())

	locs := rec.Locations()
	assert.Equal(t, 3, len(locs))
	assert.Equal(t, RecordPos{FileID: 1, Offset: 16, Size: 30}, locs[0].Pos())
	assert.Equal(t, RecordPos{FileID: 2, Offset: 56, Size: 40}, locs[2].Pos())

	rec.Delete(c)
	assert.Equal(t, int32(1), c.NegCount(a))
	assert.Equal(t, int32(2), c.NegCount(b))
	assert.Equal(t, int64(0), a.LiveSize())
	assert.Equal(t, int64(0), b.LiveSize())
}

func TestJournalRecord_Relocate(t *testing.T) {
	old := NewJournalFile(nil, 1, 2)
	cur := NewJournalFile(nil, 5, 2)
	moved := NewJournalFile(nil, 3, 2)

	rec := NewJournalRecord(old, 16, 30)
	rec.AddUpdate(cur, 16, 30)

	rec.Relocate(func(loc Location) (Location, bool) {
		if loc.File != old {
			return loc, false
		}
		return Location{File: moved, Offset: 100, Size: loc.Size}, true
	})

	locs := rec.Locations()
	assert.Equal(t, moved, locs[0].File)
	assert.Equal(t, int64(100), locs[0].Offset)
	assert.Equal(t, cur, locs[1].File)
	assert.Equal(t, int32(1), moved.PosCount())
	assert.Equal(t, int64(30), moved.LiveSize())
	assert.Equal(t, int32(1), cur.PosCount())
}
