package reader

import (
	"github.com/cqkv/journal/codec"
	"github.com/cqkv/journal/model"
	"github.com/cqkv/journal/utils/log"
)

// Callback receives every record that validated, in file order. Returning an
// error stops the read.
type Callback interface {
	OnReadAddRecord(pos model.RecordPos, info model.RecordInfo) error
	OnReadUpdateRecord(pos model.RecordPos, info model.RecordInfo) error
	OnReadDeleteRecord(pos model.RecordPos, id int64) error
	OnReadAddRecordTX(txID int64, pos model.RecordPos, info model.RecordInfo) error
	OnReadUpdateRecordTX(txID int64, pos model.RecordPos, info model.RecordInfo) error
	OnReadDeleteRecordTX(txID int64, pos model.RecordPos, info model.RecordInfo) error
	OnReadPrepareRecord(txID int64, pos model.RecordPos, extra []byte, counts []codec.FileCount) error
	OnReadCommitRecord(txID int64, pos model.RecordPos, counts []codec.FileCount) error
	OnReadRollbackRecord(txID int64, pos model.RecordPos) error
	// MarkAsDataFile is called when a record runs past the end of the file,
	// the file holds torn data and must not be treated as empty.
	MarkAsDataFile(file *model.JournalFile)
}

// Read scans file and returns the position right after its last valid record,
// -1 when it has none. Bytes that do not form a valid record are skipped one at
// a time until a record validates again.
func Read(file *model.JournalFile, cb Callback) (int64, error) {
	data, err := file.File.ReadAll()
	if err != nil {
		return -1, err
	}
	return scan(file, data, cb)
}

func scan(file *model.JournalFile, data []byte, cb Callback) (int64, error) {
	buf := codec.WrapBuffer(data)
	version := file.Version()
	recordID := file.RecordID()

	lastValid := int64(-1)
	pos := codec.SizeHeader
	for pos < len(data) {
		t := codec.RecordType(data[pos])
		if !t.Valid() {
			pos++
			continue
		}

		rec, status := parse(buf, pos, t, version)
		switch status {
		case parseEOF:
			cb.MarkAsDataFile(file)
			pos++
			continue
		case parseInvalid:
			pos++
			continue
		}
		if rec.fileID != recordID {
			pos++
			continue
		}

		recPos := model.RecordPos{FileID: file.ID(), Offset: int64(pos), Size: int32(rec.size)}
		if err := deliver(cb, t, rec, recPos); err != nil {
			return lastValid, err
		}
		pos += rec.size
		lastValid = int64(pos)
	}
	return lastValid, nil
}

type parseStatus int

const (
	parseOK parseStatus = iota
	parseEOF
	parseInvalid
)

type record struct {
	size         int
	fileID       int32
	compactCount byte
	txID         int64
	id           int64
	userType     byte
	body         []byte
	extra        []byte
	counts       []codec.FileCount
}

// parse reads one record of type t at start. Every read is bounds checked.
func parse(buf *codec.Buffer, start int, t codec.RecordType, version int32) (record, parseStatus) {
	var (
		rec record
		ok  bool
	)
	p := start + codec.SizeByte

	if rec.fileID, ok = buf.GetInt32(p); !ok {
		return rec, parseEOF
	}
	p += codec.SizeInt
	if version >= 2 {
		if rec.compactCount, ok = buf.GetByte(p); !ok {
			return rec, parseEOF
		}
		p += codec.SizeByte
	}

	if t.IsTransactional() {
		if rec.txID, ok = buf.GetInt64(p); !ok {
			return rec, parseEOF
		}
		p += codec.SizeLong
	}
	if t.HasRecordID() {
		if rec.id, ok = buf.GetInt64(p); !ok {
			return rec, parseEOF
		}
		p += codec.SizeLong
	}

	var variable int
	switch t {
	case codec.AddRecord, codec.UpdateRecord, codec.AddRecordTx, codec.UpdateRecordTx:
		bodyLen, ok := buf.GetInt32(p)
		if !ok {
			return rec, parseEOF
		}
		p += codec.SizeInt
		if rec.userType, ok = buf.GetByte(p); !ok {
			return rec, parseEOF
		}
		p += codec.SizeByte
		if bodyLen < 0 {
			return rec, parseInvalid
		}
		if rec.body, ok = buf.GetBytes(p, int(bodyLen)); !ok {
			return rec, parseEOF
		}
		p += int(bodyLen)
		variable = int(bodyLen)

	case codec.DeleteRecordTx:
		bodyLen, ok := buf.GetInt32(p)
		if !ok {
			return rec, parseEOF
		}
		p += codec.SizeInt
		if bodyLen < 0 {
			return rec, parseInvalid
		}
		if rec.body, ok = buf.GetBytes(p, int(bodyLen)); !ok {
			return rec, parseEOF
		}
		p += int(bodyLen)
		variable = int(bodyLen)

	case codec.PrepareRecord, codec.CommitRecord:
		var extraLen int32
		if t == codec.PrepareRecord {
			if extraLen, ok = buf.GetInt32(p); !ok {
				return rec, parseEOF
			}
			p += codec.SizeInt
		}
		numFiles, ok := buf.GetInt32(p)
		if !ok {
			return rec, parseEOF
		}
		p += codec.SizeInt
		if extraLen < 0 || numFiles < 0 {
			return rec, parseInvalid
		}
		if t == codec.PrepareRecord {
			if rec.extra, ok = buf.GetBytes(p, int(extraLen)); !ok {
				return rec, parseEOF
			}
			p += int(extraLen)
		}
		if !fits(buf, p, int(numFiles)*codec.SizeFileCount) {
			return rec, parseEOF
		}
		rec.counts = make([]codec.FileCount, numFiles)
		for i := range rec.counts {
			rec.counts[i].FileID, _ = buf.GetInt32(p)
			rec.counts[i].Count, _ = buf.GetInt32(p + codec.SizeInt)
			p += codec.SizeFileCount
		}
		variable = int(extraLen) + int(numFiles)*codec.SizeFileCount
	}

	rec.size = codec.FixedSize(t, version) + variable
	checkSize, ok := buf.GetInt32(p)
	if !ok {
		return rec, parseEOF
	}
	if int(checkSize) != rec.size || p+codec.SizeInt-start != rec.size {
		log.Debug("skipping record at %d: size %d, checksum %d", start, rec.size, checkSize)
		return rec, parseInvalid
	}
	return rec, parseOK
}

func fits(buf *codec.Buffer, pos, n int) bool {
	if n == 0 {
		return true
	}
	_, ok := buf.GetByte(pos + n - 1)
	return ok && pos >= 0
}

func deliver(cb Callback, t codec.RecordType, rec record, pos model.RecordPos) error {
	info := model.RecordInfo{
		ID:             rec.id,
		UserRecordType: rec.userType,
		Data:           rec.body,
		CompactCount:   rec.compactCount,
	}
	switch t {
	case codec.AddRecord:
		return cb.OnReadAddRecord(pos, info)
	case codec.UpdateRecord:
		info.IsUpdate = true
		return cb.OnReadUpdateRecord(pos, info)
	case codec.DeleteRecord:
		return cb.OnReadDeleteRecord(pos, rec.id)
	case codec.AddRecordTx:
		return cb.OnReadAddRecordTX(rec.txID, pos, info)
	case codec.UpdateRecordTx:
		info.IsUpdate = true
		return cb.OnReadUpdateRecordTX(rec.txID, pos, info)
	case codec.DeleteRecordTx:
		return cb.OnReadDeleteRecordTX(rec.txID, pos, info)
	case codec.PrepareRecord:
		return cb.OnReadPrepareRecord(rec.txID, pos, rec.extra, rec.counts)
	case codec.CommitRecord:
		return cb.OnReadCommitRecord(rec.txID, pos, rec.counts)
	case codec.RollbackRecord:
		return cb.OnReadRollbackRecord(rec.txID, pos)
	}
	return nil
}
