package codec

import "fmt"

type RecordType byte

const (
	AddRecord      RecordType = 11
	UpdateRecord   RecordType = 12
	AddRecordTx    RecordType = 13
	UpdateRecordTx RecordType = 14
	DeleteRecordTx RecordType = 15
	DeleteRecord   RecordType = 16
	PrepareRecord  RecordType = 17
	CommitRecord   RecordType = 18
	RollbackRecord RecordType = 19
)

/*
record layouts (big endian), version 2:

	add / update          type | fileID | compact | id | bodyLen | userType | body | checksum
	add / update tx       type | fileID | compact | txID | id | bodyLen | userType | body | checksum
	delete                type | fileID | compact | id | checksum
	delete tx             type | fileID | compact | txID | id | bodyLen | body | checksum
	prepare               type | fileID | compact | txID | extraLen | numFiles | extra | (fileID, count)* | checksum
	commit                type | fileID | compact | txID | numFiles | (fileID, count)* | checksum
	rollback              type | fileID | compact | txID | checksum

checksum echoes the total encoded size of the record. Version 1 has no compact byte.
*/
const (
	basicSize = SizeByte + SizeInt + SizeByte + SizeInt

	SizeAddRecord      = basicSize + SizeLong + SizeInt + SizeByte
	SizeAddRecordTx    = basicSize + SizeLong + SizeLong + SizeInt + SizeByte
	SizeDeleteRecord   = basicSize + SizeLong
	SizeDeleteRecordTx = basicSize + SizeLong + SizeLong + SizeInt
	SizePrepareRecord  = basicSize + SizeLong + SizeInt + SizeInt
	SizeCommitRecord   = basicSize + SizeLong + SizeInt
	SizeRollbackRecord = basicSize + SizeLong

	// SizeFileCount is one (fileID, count) trailer entry.
	SizeFileCount = SizeInt + SizeInt
)

func (t RecordType) Valid() bool {
	return t >= AddRecord && t <= RollbackRecord
}

// IsTransactional reports whether the record carries a transaction id.
func (t RecordType) IsTransactional() bool {
	switch t {
	case AddRecordTx, UpdateRecordTx, DeleteRecordTx, PrepareRecord, CommitRecord, RollbackRecord:
		return true
	}
	return false
}

// HasRecordID reports whether the record carries a record id.
func (t RecordType) HasRecordID() bool {
	switch t {
	case PrepareRecord, CommitRecord, RollbackRecord:
		return false
	}
	return true
}

func (t RecordType) String() string {
	switch t {
	case AddRecord:
		return "ADD"
	case UpdateRecord:
		return "UPDATE"
	case AddRecordTx:
		return "ADD_TX"
	case UpdateRecordTx:
		return "UPDATE_TX"
	case DeleteRecordTx:
		return "DELETE_TX"
	case DeleteRecord:
		return "DELETE"
	case PrepareRecord:
		return "PREPARE"
	case CommitRecord:
		return "COMMIT"
	case RollbackRecord:
		return "ROLLBACK"
	}
	return fmt.Sprintf("UNKNOWN(%d)", byte(t))
}

// FixedSize returns the size of a record of type t without its variable part
// for the given file format version.
func FixedSize(t RecordType, version int32) int {
	var size int
	switch t {
	case AddRecord, UpdateRecord:
		size = SizeAddRecord
	case AddRecordTx, UpdateRecordTx:
		size = SizeAddRecordTx
	case DeleteRecord:
		size = SizeDeleteRecord
	case DeleteRecordTx:
		size = SizeDeleteRecordTx
	case PrepareRecord:
		size = SizePrepareRecord
	case CommitRecord:
		size = SizeCommitRecord
	case RollbackRecord:
		size = SizeRollbackRecord
	default:
		return 0
	}
	if version < 2 {
		size -= SizeByte
	}
	return size
}

// FileCount is one entry of a prepare/commit trailer: the number of
// transactional records the transaction wrote into a file.
type FileCount struct {
	FileID int32
	Count  int32
}

// Record is one encodable journal record.
type Record interface {
	Type() RecordType
	EncodeSize() int
	Encode(buf *Buffer)
	SetFileID(fileID int32)
	SetCompactCount(count byte)
}

type header struct {
	fileID       int32
	compactCount byte
}

func (h *header) SetFileID(fileID int32) {
	h.fileID = fileID
}

func (h *header) SetCompactCount(count byte) {
	h.compactCount = count
}

func (h *header) encode(buf *Buffer, t RecordType) {
	buf.PutByte(byte(t))
	buf.PutInt32(h.fileID)
	buf.PutByte(h.compactCount)
}

// Add is an add or, with Update set, an update of a record outside a transaction.
type Add struct {
	header
	ID       int64
	UserType byte
	Body     Encoder
	Update   bool
}

func NewAdd(id int64, userType byte, body Encoder) *Add {
	return &Add{ID: id, UserType: userType, Body: body}
}

func NewUpdate(id int64, userType byte, body Encoder) *Add {
	return &Add{ID: id, UserType: userType, Body: body, Update: true}
}

func (r *Add) Type() RecordType {
	if r.Update {
		return UpdateRecord
	}
	return AddRecord
}

func (r *Add) EncodeSize() int {
	return SizeAddRecord + encodeSize(r.Body)
}

func (r *Add) Encode(buf *Buffer) {
	r.header.encode(buf, r.Type())
	buf.PutInt64(r.ID)
	buf.PutInt32(int32(encodeSize(r.Body)))
	buf.PutByte(r.UserType)
	encodeInto(buf, r.Body)
	buf.PutInt32(int32(r.EncodeSize()))
}

// AddTx is an add or update that belongs to a transaction.
type AddTx struct {
	header
	TxID     int64
	ID       int64
	UserType byte
	Body     Encoder
	Update   bool
}

func NewAddTx(txID, id int64, userType byte, body Encoder) *AddTx {
	return &AddTx{TxID: txID, ID: id, UserType: userType, Body: body}
}

func NewUpdateTx(txID, id int64, userType byte, body Encoder) *AddTx {
	return &AddTx{TxID: txID, ID: id, UserType: userType, Body: body, Update: true}
}

func (r *AddTx) Type() RecordType {
	if r.Update {
		return UpdateRecordTx
	}
	return AddRecordTx
}

func (r *AddTx) EncodeSize() int {
	return SizeAddRecordTx + encodeSize(r.Body)
}

func (r *AddTx) Encode(buf *Buffer) {
	r.header.encode(buf, r.Type())
	buf.PutInt64(r.TxID)
	buf.PutInt64(r.ID)
	buf.PutInt32(int32(encodeSize(r.Body)))
	buf.PutByte(r.UserType)
	encodeInto(buf, r.Body)
	buf.PutInt32(int32(r.EncodeSize()))
}

type Delete struct {
	header
	ID int64
}

func NewDelete(id int64) *Delete {
	return &Delete{ID: id}
}

func (r *Delete) Type() RecordType {
	return DeleteRecord
}

func (r *Delete) EncodeSize() int {
	return SizeDeleteRecord
}

func (r *Delete) Encode(buf *Buffer) {
	r.header.encode(buf, DeleteRecord)
	buf.PutInt64(r.ID)
	buf.PutInt32(int32(r.EncodeSize()))
}

// DeleteTx deletes a record inside a transaction. Body is optional.
type DeleteTx struct {
	header
	TxID int64
	ID   int64
	Body Encoder
}

func NewDeleteTx(txID, id int64, body Encoder) *DeleteTx {
	return &DeleteTx{TxID: txID, ID: id, Body: body}
}

func (r *DeleteTx) Type() RecordType {
	return DeleteRecordTx
}

func (r *DeleteTx) EncodeSize() int {
	return SizeDeleteRecordTx + encodeSize(r.Body)
}

func (r *DeleteTx) Encode(buf *Buffer) {
	r.header.encode(buf, DeleteRecordTx)
	buf.PutInt64(r.TxID)
	buf.PutInt64(r.ID)
	buf.PutInt32(int32(encodeSize(r.Body)))
	encodeInto(buf, r.Body)
	buf.PutInt32(int32(r.EncodeSize()))
}

// Complete is a prepare or commit record. Counts is filled by the journal
// right before the record is written, under the append lock.
type Complete struct {
	header
	Kind   RecordType
	TxID   int64
	Extra  Encoder
	Counts []FileCount
}

func NewPrepare(txID int64, extra Encoder) *Complete {
	return &Complete{Kind: PrepareRecord, TxID: txID, Extra: extra}
}

func NewCommit(txID int64) *Complete {
	return &Complete{Kind: CommitRecord, TxID: txID}
}

func (r *Complete) Type() RecordType {
	return r.Kind
}

func (r *Complete) EncodeSize() int {
	if r.Kind == PrepareRecord {
		return SizePrepareRecord + encodeSize(r.Extra) + len(r.Counts)*SizeFileCount
	}
	return SizeCommitRecord + len(r.Counts)*SizeFileCount
}

func (r *Complete) Encode(buf *Buffer) {
	r.header.encode(buf, r.Kind)
	buf.PutInt64(r.TxID)
	if r.Kind == PrepareRecord {
		buf.PutInt32(int32(encodeSize(r.Extra)))
	}
	buf.PutInt32(int32(len(r.Counts)))
	if r.Kind == PrepareRecord {
		encodeInto(buf, r.Extra)
	}
	for _, c := range r.Counts {
		buf.PutInt32(c.FileID)
		buf.PutInt32(c.Count)
	}
	buf.PutInt32(int32(r.EncodeSize()))
}

type Rollback struct {
	header
	TxID int64
}

func NewRollback(txID int64) *Rollback {
	return &Rollback{TxID: txID}
}

func (r *Rollback) Type() RecordType {
	return RollbackRecord
}

func (r *Rollback) EncodeSize() int {
	return SizeRollbackRecord
}

func (r *Rollback) Encode(buf *Buffer) {
	r.header.encode(buf, RollbackRecord)
	buf.PutInt64(r.TxID)
	buf.PutInt32(int32(r.EncodeSize()))
}
