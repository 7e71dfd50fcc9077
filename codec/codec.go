package codec

import (
	"errors"
	"fmt"
)

const (
	SizeByte = 1
	SizeInt  = 4
	SizeLong = 8
)

const (
	// FormatVersion is written into every file header. Version 1 files lack the
	// per record compact count.
	FormatVersion int32 = 2

	// SizeHeader is formatVersion(4) + userVersion(4) + fileID(8).
	SizeHeader = SizeInt + SizeInt + SizeLong
)

var ErrEncodeSizeMismatch = errors.New("encoder wrote a different number of bytes than it declared")

// Encoder is implemented by record bodies and prepare extra data.
type Encoder interface {
	EncodeSize() int
	Encode(buf *Buffer)
}

// ByteArray is the Encoder for a plain byte slice.
type ByteArray []byte

func (ba ByteArray) EncodeSize() int {
	return len(ba)
}

func (ba ByteArray) Encode(buf *Buffer) {
	buf.PutBytes(ba)
}

func encodeSize(e Encoder) int {
	if e == nil {
		return 0
	}
	return e.EncodeSize()
}

func encodeInto(buf *Buffer, e Encoder) {
	if e != nil {
		e.Encode(buf)
	}
}

// Marshal encodes rec into a new slice and checks that the record wrote exactly
// EncodeSize bytes, a body that lies about its size would corrupt the file.
func Marshal(rec Record) ([]byte, error) {
	size := rec.EncodeSize()
	buf := NewBuffer(size)
	rec.Encode(buf)
	if buf.Len() != size {
		return nil, fmt.Errorf("%w: %s declared %d wrote %d", ErrEncodeSizeMismatch, rec.Type(), size, buf.Len())
	}
	return buf.Bytes(), nil
}

// FileHeader is the fixed prefix of every journal file.
type FileHeader struct {
	FormatVersion int32
	UserVersion   int32
	FileID        int64
}

func EncodeFileHeader(buf *Buffer, userVersion int32, fileID int64) {
	buf.PutInt32(FormatVersion)
	buf.PutInt32(userVersion)
	buf.PutInt64(fileID)
}

func DecodeFileHeader(data []byte) (FileHeader, bool) {
	buf := WrapBuffer(data)
	var (
		h   FileHeader
		ok1 bool
		ok2 bool
		ok3 bool
	)
	h.FormatVersion, ok1 = buf.GetInt32(0)
	h.UserVersion, ok2 = buf.GetInt32(SizeInt)
	h.FileID, ok3 = buf.GetInt64(SizeInt + SizeInt)
	return h, ok1 && ok2 && ok3
}
