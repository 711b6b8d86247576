package compress

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v4"
)

// lz4Codec wraps github.com/pierrec/lz4/v4's streaming writer/reader.
// General-purpose, low-latency codec for columns with no obvious
// structure to exploit (falls back to this, or ZSTD, when RLE/dictionary/
// delta/bit-packing aren't a good fit).
type lz4Codec struct{}

func (lz4Codec) Name() string { return string(LZ4) }

func (lz4Codec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4Codec) Decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	return io.ReadAll(r)
}

func (lz4Codec) EstimateRatio(sample []byte) float64 {
	if len(sample) == 0 {
		return 1.0
	}
	// LZ4 favors throughput over ratio; estimate conservatively without
	// running the full codec.
	if repetitionRatio(sample) > 0.1 {
		return 0.5
	}
	return 0.8
}

func (lz4Codec) Suitable(sample []byte) bool {
	return len(sample) > 64
}
