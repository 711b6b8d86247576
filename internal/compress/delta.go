package compress

import (
	"encoding/binary"

	"github.com/kernaldb/kernel/internal/errs"
)

// deltaCodec treats data as a sequence of big-endian int64 values (e.g. a
// sorted or slowly-varying numeric column) and stores the first value in
// full plus the zigzag-varint-encoded deltas between consecutive values.
// Suited to monotonic or slowly-changing sequences such as timestamps or
// auto-increment keys.
type deltaCodec struct{}

func (deltaCodec) Name() string { return string(Delta) }

func zigzag(v int64) uint64  { return uint64((v << 1) ^ (v >> 63)) }
func unzigzag(v uint64) int64 { return int64(v>>1) ^ -int64(v&1) }

func readInt64s(data []byte) ([]int64, error) {
	if len(data)%8 != 0 {
		return nil, errs.New(errs.Type, "delta: input length %d not a multiple of 8", len(data))
	}
	out := make([]int64, len(data)/8)
	for i := range out {
		out[i] = int64(binary.BigEndian.Uint64(data[i*8 : i*8+8]))
	}
	return out, nil
}

func (deltaCodec) Compress(data []byte) ([]byte, error) {
	vals, err := readInt64s(data)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(data))
	var u64 [8]byte
	var varintBuf [binary.MaxVarintLen64]byte
	if len(vals) == 0 {
		return out, nil
	}
	binary.BigEndian.PutUint64(u64[:], uint64(vals[0]))
	out = append(out, u64[:]...)
	prev := vals[0]
	for _, v := range vals[1:] {
		n := binary.PutUvarint(varintBuf[:], zigzag(v-prev))
		out = append(out, varintBuf[:n]...)
		prev = v
	}
	return out, nil
}

func (deltaCodec) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) < 8 {
		return nil, errs.New(errs.Corruption, "delta: truncated header")
	}
	prev := int64(binary.BigEndian.Uint64(data[0:8]))
	vals := []int64{prev}
	rest := data[8:]
	for len(rest) > 0 {
		dz, n := binary.Uvarint(rest)
		if n <= 0 {
			return nil, errs.New(errs.Corruption, "delta: malformed varint")
		}
		prev += unzigzag(dz)
		vals = append(vals, prev)
		rest = rest[n:]
	}
	out := make([]byte, len(vals)*8)
	for i, v := range vals {
		binary.BigEndian.PutUint64(out[i*8:i*8+8], uint64(v))
	}
	return out, nil
}

func (deltaCodec) EstimateRatio(sample []byte) float64 {
	vals, err := readInt64s(sample)
	if err != nil || len(vals) < 2 {
		return 1.0
	}
	var avgAbsDelta float64
	for i := 1; i < len(vals); i++ {
		d := vals[i] - vals[i-1]
		if d < 0 {
			d = -d
		}
		avgAbsDelta += float64(d)
	}
	avgAbsDelta /= float64(len(vals) - 1)
	if avgAbsDelta < 128 {
		return 0.3
	}
	if avgAbsDelta < 16384 {
		return 0.6
	}
	return 1.0
}

func (c deltaCodec) Suitable(sample []byte) bool {
	_, err := readInt64s(sample)
	return err == nil && c.EstimateRatio(sample) < 0.9
}
