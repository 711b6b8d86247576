// Package compress implements the kernel's pluggable column/page
// compression codecs (spec §4.13).
//
// What: a Codec interface (Compress/Decompress/EstimateRatio/Suitable) with
// concrete implementations for run-length encoding, dictionary encoding,
// delta encoding, bit-packing, LZ4, and ZSTD, plus an adaptive selector
// that picks a codec from a sample of the data it will be applied to.
// How: grounded on the teacher's internal/storage page layout (fixed-size
// pages written through the buffer pool) and on the pack's
// Felmond13-novusdb pager, whose compressRecord only keeps a compressed
// form when it is actually smaller than the original. This package's
// Suitable/adaptive-pick makes the keep-or-skip decision from heuristics
// over a sample (e.g. the repetition ratio) rather than by compressing the
// data and comparing sizes.
// Why: spec §1 calls compression a first-class peripheral concern (3% of
// budget); a pluggable Codec interface lets the storage layer apply
// compression per-column without hardcoding one algorithm.
package compress

import "github.com/kernaldb/kernel/internal/errs"

// Codec compresses and decompresses byte slices, and can estimate whether
// it is worth applying to a given sample.
type Codec interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	// EstimateRatio returns compressed_size/original_size for a sample,
	// without necessarily running the full codec (may be approximate).
	EstimateRatio(sample []byte) float64
	// Suitable reports whether this codec is expected to help on data
	// shaped like sample.
	Suitable(sample []byte) bool
}

// Kind names one of the built-in codecs.
type Kind string

const (
	RLE        Kind = "rle"
	Dictionary Kind = "dictionary"
	Delta      Kind = "delta"
	BitPacking Kind = "bitpacking"
	LZ4        Kind = "lz4"
	ZSTD       Kind = "zstd"
	None       Kind = "none"
)

// New returns the codec for a given kind.
func New(k Kind) (Codec, error) {
	switch k {
	case RLE:
		return &rleCodec{}, nil
	case Dictionary:
		return &dictionaryCodec{}, nil
	case Delta:
		return &deltaCodec{}, nil
	case BitPacking:
		return &bitPackCodec{}, nil
	case LZ4:
		return &lz4Codec{}, nil
	case ZSTD:
		return &zstdCodec{}, nil
	case None, "":
		return &noneCodec{}, nil
	default:
		return nil, errs.New(errs.Type, "unknown compression codec %q", k)
	}
}

// noneCodec is the identity codec, returned when adaptive selection finds
// nothing worth applying.
type noneCodec struct{}

func (noneCodec) Name() string                      { return string(None) }
func (noneCodec) Compress(data []byte) ([]byte, error)   { return data, nil }
func (noneCodec) Decompress(data []byte) ([]byte, error) { return data, nil }
func (noneCodec) EstimateRatio([]byte) float64      { return 1.0 }
func (noneCodec) Suitable([]byte) bool              { return false }

// repetitionRatio is the fraction of adjacent byte pairs in sample that are
// equal, used by both RLE's Suitable check and adaptive selection.
func repetitionRatio(sample []byte) float64 {
	if len(sample) < 2 {
		return 0
	}
	repeats := 0
	for i := 1; i < len(sample); i++ {
		if sample[i] == sample[i-1] {
			repeats++
		}
	}
	return float64(repeats) / float64(len(sample)-1)
}

// SelectAdaptive picks RLE when sample is repetitive enough to benefit
// (repetition ratio > 0.2, per spec §4.13), else the identity codec.
func SelectAdaptive(sample []byte) (Codec, error) {
	if repetitionRatio(sample) > 0.2 {
		return New(RLE)
	}
	return New(None)
}
