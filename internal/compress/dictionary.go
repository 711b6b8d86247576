package compress

import (
	"bytes"
	"encoding/binary"

	"github.com/kernaldb/kernel/internal/errs"
)

// dictionaryCodec replaces repeated whole-input tokens (split on a fixed
// delimiter-free fixed-width scheme: runs of identical bytes are not
// tokenized here, entries are fixed-size 8-byte words) with a index into a
// dictionary of distinct words built from the input itself. Suited to
// low-cardinality fixed-width columns (e.g. encoded enum/category values).
type dictionaryCodec struct{}

func (dictionaryCodec) Name() string { return string(Dictionary) }

const dictWordSize = 8

func words(data []byte) [][]byte {
	var out [][]byte
	for i := 0; i < len(data); i += dictWordSize {
		end := i + dictWordSize
		if end > len(data) {
			end = len(data)
		}
		w := make([]byte, dictWordSize)
		copy(w, data[i:end])
		out = append(out, w)
	}
	return out
}

// Compress writes: [uint32 originalLen][uint16 dictSize][dictSize*8 bytes
// dictionary][uint16 per word: dictionary index].
func (dictionaryCodec) Compress(data []byte) ([]byte, error) {
	ws := words(data)
	dict := make([][]byte, 0)
	index := make(map[string]uint16)
	codes := make([]uint16, len(ws))
	for i, w := range ws {
		key := string(w)
		code, ok := index[key]
		if !ok {
			if len(dict) >= 1<<16 {
				return nil, errs.New(errs.ResourceExhausted, "dictionary: too many distinct words (>65536)")
			}
			code = uint16(len(dict))
			index[key] = code
			dict = append(dict, w)
		}
		codes[i] = code
	}

	var buf bytes.Buffer
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(data)))
	buf.Write(u32[:])
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], uint16(len(dict)))
	buf.Write(u16[:])
	for _, w := range dict {
		buf.Write(w)
	}
	for _, c := range codes {
		binary.BigEndian.PutUint16(u16[:], c)
		buf.Write(u16[:])
	}
	return buf.Bytes(), nil
}

func (dictionaryCodec) Decompress(data []byte) ([]byte, error) {
	if len(data) < 6 {
		return nil, errs.New(errs.Corruption, "dictionary: truncated header")
	}
	originalLen := binary.BigEndian.Uint32(data[0:4])
	dictSize := int(binary.BigEndian.Uint16(data[4:6]))
	off := 6
	dict := make([][]byte, dictSize)
	for i := 0; i < dictSize; i++ {
		if off+dictWordSize > len(data) {
			return nil, errs.New(errs.Corruption, "dictionary: truncated dictionary")
		}
		dict[i] = data[off : off+dictWordSize]
		off += dictWordSize
	}
	out := make([]byte, 0, originalLen)
	for off+2 <= len(data) {
		code := binary.BigEndian.Uint16(data[off : off+2])
		off += 2
		if int(code) >= len(dict) {
			return nil, errs.New(errs.Corruption, "dictionary: code %d out of range", code)
		}
		out = append(out, dict[code]...)
	}
	if len(out) > int(originalLen) {
		out = out[:originalLen]
	}
	return out, nil
}

func (c dictionaryCodec) EstimateRatio(sample []byte) float64 {
	ws := words(sample)
	if len(ws) == 0 {
		return 1.0
	}
	distinct := make(map[string]struct{})
	for _, w := range ws {
		distinct[string(w)] = struct{}{}
	}
	return 1.0 - (1.0-float64(len(distinct))/float64(len(ws)))*0.75
}

func (c dictionaryCodec) Suitable(sample []byte) bool {
	ws := words(sample)
	if len(ws) < 4 {
		return false
	}
	distinct := make(map[string]struct{})
	for _, w := range ws {
		distinct[string(w)] = struct{}{}
	}
	return float64(len(distinct))/float64(len(ws)) < 0.5
}
