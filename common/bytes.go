package common

import (
	"encoding/binary"
)

func Uint64ToBytes(val uint64) []byte {
	bytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(bytes, val)
	return bytes
}

func Uint32ToBytes(val uint32) []byte {
	bytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(bytes, val)
	return bytes
}

func BytesToUint64(data []byte) uint64 {
	if len(data) < 8 {
		panic("BytesToUint64: byte slice too short")
	}
	return binary.LittleEndian.Uint64(data)
}

func BytesToUint32(data []byte) uint32 {
	if len(data) < 4 {
		panic("BytesToUint32: byte slice too short")
	}
	return binary.LittleEndian.Uint32(data)
}
