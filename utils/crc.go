package utils

import (
	"encoding/binary"
	"hash/crc32"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CrcSize is the size of the trailer appended by AppendCrc.
const CrcSize = 4

func GenerateCrc(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

func CheckCrc(crc uint32, data []byte) bool {
	return GenerateCrc(data) == crc
}

// AppendCrc appends the big endian checksum of data to data.
func AppendCrc(data []byte) []byte {
	var trailer [CrcSize]byte
	binary.BigEndian.PutUint32(trailer[:], GenerateCrc(data))
	return append(data, trailer[:]...)
}

// SplitCrc verifies and strips the trailer written by AppendCrc.
func SplitCrc(framed []byte) ([]byte, bool) {
	if len(framed) < CrcSize {
		return nil, false
	}
	body := framed[:len(framed)-CrcSize]
	crc := binary.BigEndian.Uint32(framed[len(framed)-CrcSize:])
	if !CheckCrc(crc, body) {
		return nil, false
	}
	return body, true
}
