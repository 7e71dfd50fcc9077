package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdd_Encode(t *testing.T) {
	rec := NewAdd(7, 3, ByteArray("body"))
	rec.SetFileID(2)
	rec.SetCompactCount(1)

	data, err := Marshal(rec)
	assert.Nil(t, err)
	assert.Equal(t, SizeAddRecord+4, len(data))

	buf := WrapBuffer(data)
	b, _ := buf.GetByte(0)
	assert.Equal(t, byte(AddRecord), b)
	fileID, _ := buf.GetInt32(1)
	assert.Equal(t, int32(2), fileID)
	compact, _ := buf.GetByte(5)
	assert.Equal(t, byte(1), compact)
	id, _ := buf.GetInt64(6)
	assert.Equal(t, int64(7), id)
	bodyLen, _ := buf.GetInt32(14)
	assert.Equal(t, int32(4), bodyLen)
	userType, _ := buf.GetByte(18)
	assert.Equal(t, byte(3), userType)
	body, _ := buf.GetBytes(19, 4)
	assert.Equal(t, "body", string(body))
	checksum, _ := buf.GetInt32(len(data) - SizeInt)
	assert.Equal(t, int32(len(data)), checksum)
}

func TestUpdateTx_Encode(t *testing.T) {
	rec := NewUpdateTx(100, 7, 3, ByteArray("xy"))
	assert.Equal(t, UpdateRecordTx, rec.Type())

	data, err := Marshal(rec)
	assert.Nil(t, err)
	assert.Equal(t, SizeAddRecordTx+2, len(data))

	buf := WrapBuffer(data)
	txID, _ := buf.GetInt64(6)
	assert.Equal(t, int64(100), txID)
	id, _ := buf.GetInt64(14)
	assert.Equal(t, int64(7), id)
}

func TestDeleteTx_EncodeWithoutBody(t *testing.T) {
	rec := NewDeleteTx(1, 2, nil)
	data, err := Marshal(rec)
	assert.Nil(t, err)
	assert.Equal(t, SizeDeleteRecordTx, len(data))
	bodyLen, _ := WrapBuffer(data).GetInt32(22)
	assert.Equal(t, int32(0), bodyLen)
}

func TestComplete_Encode(t *testing.T) {
	prepare := NewPrepare(9, ByteArray("xid"))
	prepare.Counts = []FileCount{{FileID: 1, Count: 2}, {FileID: 3, Count: 4}}
	data, err := Marshal(prepare)
	assert.Nil(t, err)
	assert.Equal(t, SizePrepareRecord+3+2*SizeFileCount, len(data))

	buf := WrapBuffer(data)
	extraLen, _ := buf.GetInt32(14)
	assert.Equal(t, int32(3), extraLen)
	numFiles, _ := buf.GetInt32(18)
	assert.Equal(t, int32(2), numFiles)
	extra, _ := buf.GetBytes(22, 3)
	assert.Equal(t, "xid", string(extra))
	fid, _ := buf.GetInt32(25)
	assert.Equal(t, int32(1), fid)

	commit := NewCommit(9)
	commit.Counts = []FileCount{{FileID: 5, Count: 1}}
	data, err = Marshal(commit)
	assert.Nil(t, err)
	assert.Equal(t, SizeCommitRecord+SizeFileCount, len(data))
}

func TestFixedSize(t *testing.T) {
	assert.Equal(t, SizeAddRecord, FixedSize(AddRecord, FormatVersion))
	assert.Equal(t, SizeAddRecord-1, FixedSize(UpdateRecord, 1))
	assert.Equal(t, SizeRollbackRecord, FixedSize(RollbackRecord, FormatVersion))
	assert.Equal(t, 0, FixedSize(RecordType(3), FormatVersion))
}

func TestRecordType(t *testing.T) {
	assert.False(t, RecordType(0).Valid())
	assert.True(t, AddRecord.Valid())
	assert.True(t, RollbackRecord.Valid())
	assert.False(t, RecordType(20).Valid())

	assert.True(t, CommitRecord.IsTransactional())
	assert.False(t, DeleteRecord.IsTransactional())
	assert.False(t, PrepareRecord.HasRecordID())
	assert.True(t, DeleteRecordTx.HasRecordID())
}

type lyingEncoder struct{}

func (lyingEncoder) EncodeSize() int { return 10 }

func (lyingEncoder) Encode(buf *Buffer) { buf.PutByte(1) }

func TestMarshal_SizeMismatch(t *testing.T) {
	_, err := Marshal(NewAdd(1, 1, lyingEncoder{}))
	assert.ErrorIs(t, err, ErrEncodeSizeMismatch)
}

func TestFileHeader(t *testing.T) {
	buf := NewBuffer(SizeHeader)
	EncodeFileHeader(buf, 5, 42)
	assert.Equal(t, SizeHeader, buf.Len())

	h, ok := DecodeFileHeader(buf.Bytes())
	assert.True(t, ok)
	assert.Equal(t, FormatVersion, h.FormatVersion)
	assert.Equal(t, int32(5), h.UserVersion)
	assert.Equal(t, int64(42), h.FileID)

	_, ok = DecodeFileHeader(buf.Bytes()[:10])
	assert.False(t, ok)
}

func TestBuffer_Bounds(t *testing.T) {
	buf := WrapBuffer([]byte{1, 2, 3})
	_, ok := buf.GetInt32(0)
	assert.False(t, ok)
	_, ok = buf.GetByte(3)
	assert.False(t, ok)
	_, ok = buf.GetBytes(1, -1)
	assert.False(t, ok)
	v, ok := buf.GetBytes(1, 2)
	assert.True(t, ok)
	assert.Equal(t, []byte{2, 3}, v)
}
