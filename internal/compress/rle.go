package compress

import (
	"encoding/binary"

	"github.com/kernaldb/kernel/internal/errs"
)

// rleCodec is byte-run-length encoding: each run is a (count uint32,
// value byte) pair. Suited to columns with long runs of repeated values
// (e.g. a mostly-constant status column).
type rleCodec struct{}

func (rleCodec) Name() string { return string(RLE) }

func (rleCodec) Compress(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data)/2)
	var buf [4]byte
	i := 0
	for i < len(data) {
		j := i + 1
		for j < len(data) && data[j] == data[i] && uint64(j-i) < (1<<32-1) {
			j++
		}
		binary.BigEndian.PutUint32(buf[:], uint32(j-i))
		out = append(out, buf[:]...)
		out = append(out, data[i])
		i = j
	}
	return out, nil
}

func (rleCodec) Decompress(data []byte) ([]byte, error) {
	if len(data)%5 != 0 {
		return nil, errs.New(errs.Corruption, "rle: corrupt stream, length %d not a multiple of 5", len(data))
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i += 5 {
		count := binary.BigEndian.Uint32(data[i : i+4])
		v := data[i+4]
		for n := uint32(0); n < count; n++ {
			out = append(out, v)
		}
	}
	return out, nil
}

func (rleCodec) EstimateRatio(sample []byte) float64 {
	if len(sample) == 0 {
		return 1.0
	}
	r := repetitionRatio(sample)
	// Each run costs 5 bytes regardless of length, so a higher repetition
	// ratio lowers the estimate: linearly, from 1.0 with no repeats down to
	// 0.2 when every adjacent pair repeats.
	return 1.0 - r*0.8
}

func (rleCodec) Suitable(sample []byte) bool {
	return repetitionRatio(sample) > 0.2
}
