// Package pio reads and writes fixed-width big endian integers at the start
// of a byte slice. Callers are responsible for bounds.
package pio

func U8(b []byte) uint8 {
	return b[0]
}

func U16BE(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

func I16BE(b []byte) int16 {
	return int16(U16BE(b))
}

func U24BE(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func I24BE(b []byte) int32 {
	v := int32(U24BE(b))
	if v&0x800000 != 0 {
		v -= 0x1000000
	}
	return v
}

func U32BE(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func I32BE(b []byte) int32 {
	return int32(U32BE(b))
}

func U64BE(b []byte) uint64 {
	return uint64(U32BE(b))<<32 | uint64(U32BE(b[4:]))
}

func I64BE(b []byte) int64 {
	return int64(U64BE(b))
}

func PutU8(b []byte, v uint8) {
	b[0] = v
}

func PutU16BE(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func PutI16BE(b []byte, v int16) {
	PutU16BE(b, uint16(v))
}

func PutU24BE(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func PutU32BE(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func PutI32BE(b []byte, v int32) {
	PutU32BE(b, uint32(v))
}

func PutU64BE(b []byte, v uint64) {
	PutU32BE(b, uint32(v>>32))
	PutU32BE(b[4:], uint32(v))
}

func PutI64BE(b []byte, v int64) {
	PutU64BE(b, uint64(v))
}

// VUint reads an unsigned integer of len(b) bytes, at most 8.
func VUint(b []byte) (v uint64) {
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return
}
