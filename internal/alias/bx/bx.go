// stand for bytes helper
package bx

import "encoding/binary"

// Every on-disk integer in sealdb (header, meta, slots, WAL frames) is little-endian.
var LE = binary.LittleEndian

func U16(b []byte) uint16 { return LE.Uint16(b) }
func U32(b []byte) uint32 { return LE.Uint32(b) }
func U64(b []byte) uint64 { return LE.Uint64(b) }
func I64(b []byte) int64  { return int64(U64(b)) }

func PutU16(b []byte, v uint16) { LE.PutUint16(b, v) }
func PutU32(b []byte, v uint32) { LE.PutUint32(b, v) }
func PutU64(b []byte, v uint64) { LE.PutUint64(b, v) }
func PutI64(b []byte, v int64)  { PutU64(b, uint64(v)) }

// --- offset variants, used by fixed header layouts ---
func U16At(b []byte, off int) uint16       { return U16(b[off:]) }
func U32At(b []byte, off int) uint32       { return U32(b[off:]) }
func U64At(b []byte, off int) uint64       { return U64(b[off:]) }
func PutU16At(b []byte, off int, v uint16) { PutU16(b[off:], v) }
func PutU32At(b []byte, off int, v uint32) { PutU32(b[off:], v) }
func PutU64At(b []byte, off int, v uint64) { PutU64(b[off:], v) }

// Clone returns a copy of b that does not alias it. nil stays nil.
func Clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Zero clears b in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// IsZero reports whether every byte of b is zero.
func IsZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// Padded returns b copied into a zeroed buffer of exactly n bytes.
// ok is false when b is longer than n.
func Padded(b []byte, n int) (out []byte, ok bool) {
	if len(b) > n {
		return nil, false
	}
	out = make([]byte, n)
	copy(out, b)
	return out, true
}
