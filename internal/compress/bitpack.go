package compress

import (
	"encoding/binary"
	"math/bits"

	"github.com/kernaldb/kernel/internal/errs"
)

// bitPackCodec treats data as a sequence of big-endian uint64 values with a
// small max value (e.g. a low-cardinality foreign-key or status column) and
// packs each one into ceil(log2(max+1)) bits instead of 64. Suited to
// narrow-range integer columns.
type bitPackCodec struct{}

func (bitPackCodec) Name() string { return string(BitPacking) }

func readUint64s(data []byte) ([]uint64, error) {
	if len(data)%8 != 0 {
		return nil, errs.New(errs.Type, "bitpacking: input length %d not a multiple of 8", len(data))
	}
	out := make([]uint64, len(data)/8)
	for i := range out {
		out[i] = binary.BigEndian.Uint64(data[i*8 : i*8+8])
	}
	return out, nil
}

func bitWidth(vals []uint64) int {
	var maxV uint64
	for _, v := range vals {
		if v > maxV {
			maxV = v
		}
	}
	w := bits.Len64(maxV)
	if w == 0 {
		w = 1
	}
	return w
}

// Compress writes [uint32 count][byte bitWidth][packed bits, LSB-first
// within each byte, values concatenated in order].
func (bitPackCodec) Compress(data []byte) ([]byte, error) {
	vals, err := readUint64s(data)
	if err != nil {
		return nil, err
	}
	width := bitWidth(vals)
	var header [5]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(len(vals)))
	header[4] = byte(width)

	totalBits := width * len(vals)
	packed := make([]byte, (totalBits+7)/8)
	bitPos := 0
	for _, v := range vals {
		for b := 0; b < width; b++ {
			if v&(1<<uint(b)) != 0 {
				packed[bitPos/8] |= 1 << uint(bitPos%8)
			}
			bitPos++
		}
	}
	return append(header[:], packed...), nil
}

func (bitPackCodec) Decompress(data []byte) ([]byte, error) {
	if len(data) < 5 {
		return nil, errs.New(errs.Corruption, "bitpacking: truncated header")
	}
	count := int(binary.BigEndian.Uint32(data[0:4]))
	width := int(data[4])
	packed := data[5:]
	out := make([]byte, count*8)
	bitPos := 0
	for i := 0; i < count; i++ {
		var v uint64
		for b := 0; b < width; b++ {
			byteIdx := bitPos / 8
			if byteIdx >= len(packed) {
				return nil, errs.New(errs.Corruption, "bitpacking: truncated payload")
			}
			if packed[byteIdx]&(1<<uint(bitPos%8)) != 0 {
				v |= 1 << uint(b)
			}
			bitPos++
		}
		binary.BigEndian.PutUint64(out[i*8:i*8+8], v)
	}
	return out, nil
}

func (bitPackCodec) EstimateRatio(sample []byte) float64 {
	vals, err := readUint64s(sample)
	if err != nil || len(vals) == 0 {
		return 1.0
	}
	width := bitWidth(vals)
	return float64(width) / 64.0
}

func (c bitPackCodec) Suitable(sample []byte) bool {
	vals, err := readUint64s(sample)
	if err != nil || len(vals) == 0 {
		return false
	}
	return bitWidth(vals) < 32
}
