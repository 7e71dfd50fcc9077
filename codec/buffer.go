package codec

import "encoding/binary"

// Buffer is a byte cursor. Writes append at the end, reads take an absolute
// position and report whether the value fits inside the buffer.
type Buffer struct {
	buf []byte
}

func NewBuffer(capacity int) *Buffer {
	return &Buffer{buf: make([]byte, 0, capacity)}
}

// WrapBuffer returns a buffer reading (and appending to) data.
func WrapBuffer(data []byte) *Buffer {
	return &Buffer{buf: data}
}

func (b *Buffer) Bytes() []byte {
	return b.buf
}

func (b *Buffer) Len() int {
	return len(b.buf)
}

func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
}

// Truncate drops everything after n bytes.
func (b *Buffer) Truncate(n int) {
	b.buf = b.buf[:n]
}

func (b *Buffer) PutByte(v byte) {
	b.buf = append(b.buf, v)
}

func (b *Buffer) PutInt32(v int32) {
	b.buf = binary.BigEndian.AppendUint32(b.buf, uint32(v))
}

func (b *Buffer) PutInt64(v int64) {
	b.buf = binary.BigEndian.AppendUint64(b.buf, uint64(v))
}

func (b *Buffer) PutBytes(p []byte) {
	b.buf = append(b.buf, p...)
}

// PutZeros appends n zero bytes.
func (b *Buffer) PutZeros(n int) {
	for i := 0; i < n; i++ {
		b.buf = append(b.buf, 0)
	}
}

func (b *Buffer) fits(pos, n int) bool {
	return pos >= 0 && n >= 0 && pos+n <= len(b.buf) && pos+n >= pos
}

func (b *Buffer) GetByte(pos int) (byte, bool) {
	if !b.fits(pos, SizeByte) {
		return 0, false
	}
	return b.buf[pos], true
}

func (b *Buffer) GetInt32(pos int) (int32, bool) {
	if !b.fits(pos, SizeInt) {
		return 0, false
	}
	return int32(binary.BigEndian.Uint32(b.buf[pos:])), true
}

func (b *Buffer) GetInt64(pos int) (int64, bool) {
	if !b.fits(pos, SizeLong) {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(b.buf[pos:])), true
}

// GetBytes returns a copy of n bytes at pos.
func (b *Buffer) GetBytes(pos, n int) ([]byte, bool) {
	if !b.fits(pos, n) {
		return nil, false
	}
	out := make([]byte, n)
	copy(out, b.buf[pos:pos+n])
	return out, true
}
