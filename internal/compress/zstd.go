package compress

import "github.com/klauspost/compress/zstd"

// zstdCodec wraps github.com/klauspost/compress/zstd. Higher compression
// ratio than LZ4 at more CPU cost; used for cold columns (archived pages,
// WAL segment compaction) where ratio matters more than latency.
type zstdCodec struct{}

func (zstdCodec) Name() string { return string(ZSTD) }

func (zstdCodec) Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func (zstdCodec) Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

func (zstdCodec) EstimateRatio(sample []byte) float64 {
	if len(sample) == 0 {
		return 1.0
	}
	if repetitionRatio(sample) > 0.1 {
		return 0.35
	}
	return 0.7
}

func (zstdCodec) Suitable(sample []byte) bool {
	return len(sample) > 256
}
