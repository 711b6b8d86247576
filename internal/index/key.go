package index

import (
	"encoding/binary"
	"math"

	"github.com/kernaldb/kernel/internal/types"
)

// EncodeKey builds an order-preserving composite byte key from vals, so
// that bytes.Compare over the result agrees with comparing the values
// column-by-column the way types.Value.Compare does (spec §4.6: index
// keys must sort consistently with the planner's range-scan bounds).
//
// Integers are bias-flipped to an unsigned big-endian encoding; floats
// use the standard sign/bit-flip trick; variable-length payloads
// (strings, blobs, timestamps) are 0x00-escaped and null-terminated so
// concatenating several key parts still compares correctly component by
// component. There is no ordered encoding scheme in the example pack to
// ground this on (the teacher's B+Tree only ever keys on strings), so
// this is a standard, self-contained technique rather than an adaptation.
func EncodeKey(vals []types.Value) []byte {
	var out []byte
	for _, v := range vals {
		out = append(out, encodeKeyPart(v)...)
	}
	return out
}

func encodeKeyPart(v types.Value) []byte {
	switch v.Kind {
	case types.KindNull:
		return []byte{0x00}
	case types.KindBool, types.KindInt8, types.KindInt16, types.KindInt32, types.KindInt64:
		buf := make([]byte, 9)
		buf[0] = 0x01
		binary.BigEndian.PutUint64(buf[1:], uint64(v.I)^0x8000000000000000)
		return buf
	case types.KindFloat64:
		bits := math.Float64bits(v.F)
		if bits&0x8000000000000000 != 0 {
			bits = ^bits
		} else {
			bits |= 0x8000000000000000
		}
		buf := make([]byte, 9)
		buf[0] = 0x01
		binary.BigEndian.PutUint64(buf[1:], bits)
		return buf
	default:
		return append([]byte{0x02}, escapeBytes([]byte(v.S))...)
	}
}

// escapeBytes replaces 0x00 with 0x00 0xFF and terminates with 0x00 0x00,
// the standard order-preserving escaping for variable-length key parts.
func escapeBytes(b []byte) []byte {
	out := make([]byte, 0, len(b)+2)
	for _, c := range b {
		if c == 0x00 {
			out = append(out, 0x00, 0xFF)
		} else {
			out = append(out, c)
		}
	}
	out = append(out, 0x00, 0x00)
	return out
}
