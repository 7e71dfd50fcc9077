package model

// RecordPos is where an encoded record lives on disk.
type RecordPos struct {
	FileID int64 // file id
	Offset int64 // record position
	Size   int32 // encoded record size
}

// Location is a RecordPos bound to the in-memory file that accounts for it.
type Location struct {
	File   *JournalFile
	Offset int64
	Size   int32
}

func (l Location) Pos() RecordPos {
	return RecordPos{FileID: l.File.ID(), Offset: l.Offset, Size: l.Size}
}

// JournalRecord is the live index entry of one record id: the add and every
// update applied to it since.
type JournalRecord struct {
	add     Location
	updates []Location
}

func NewJournalRecord(file *JournalFile, offset int64, size int32) *JournalRecord {
	file.IncAddRecord(int(size))
	return &JournalRecord{add: Location{File: file, Offset: offset, Size: size}}
}

func (r *JournalRecord) AddUpdate(file *JournalFile, offset int64, size int32) {
	file.IncAddRecord(int(size))
	r.updates = append(r.updates, Location{File: file, Offset: offset, Size: size})
}

// Delete makes every location of the record obsolete; file holds the delete.
func (r *JournalRecord) Delete(file *JournalFile) {
	for _, loc := range r.Locations() {
		file.IncNegCount(loc.File)
		loc.File.DecSize(int(loc.Size))
	}
}

// Locations returns the add followed by the updates, in write order.
func (r *JournalRecord) Locations() []Location {
	locs := make([]Location, 0, len(r.updates)+1)
	locs = append(locs, r.add)
	return append(locs, r.updates...)
}

func (r *JournalRecord) AddLocation() Location {
	return r.add
}

// Relocate replaces every location fn maps to a new one. The new file is
// credited with the moved bytes.
func (r *JournalRecord) Relocate(fn func(Location) (Location, bool)) {
	move := func(loc Location) Location {
		moved, ok := fn(loc)
		if !ok {
			return loc
		}
		moved.File.IncAddRecord(int(moved.Size))
		return moved
	}
	r.add = move(r.add)
	for i := range r.updates {
		r.updates[i] = move(r.updates[i])
	}
}

// RecordInfo is one record as the loader hands it to the caller.
type RecordInfo struct {
	ID             int64
	UserRecordType byte
	Data           []byte
	IsUpdate       bool
	CompactCount   byte
}

// PreparedTransactionInfo is a transaction found prepared but not completed on load.
type PreparedTransactionInfo struct {
	TxID            int64
	ExtraData       []byte
	Records         []RecordInfo
	RecordsToDelete []RecordInfo
}
