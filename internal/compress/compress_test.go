package compress

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func roundTrip(t *testing.T, c Codec, data []byte) []byte {
	t.Helper()
	compressed, err := c.Compress(data)
	if err != nil {
		t.Fatalf("%s Compress: %v", c.Name(), err)
	}
	out, err := c.Decompress(compressed)
	if err != nil {
		t.Fatalf("%s Decompress: %v", c.Name(), err)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("%s round trip mismatch: got %v, want %v", c.Name(), out, data)
	}
	return compressed
}

func TestRLERoundTripAndShrinks(t *testing.T) {
	c, _ := New(RLE)
	data := bytes.Repeat([]byte{0xAB}, 1000)
	compressed := roundTrip(t, c, data)
	if len(compressed) >= len(data) {
		t.Fatalf("expected shrinkage, got %d >= %d", len(compressed), len(data))
	}
	if !c.Suitable(data) {
		t.Fatalf("expected RLE to be suitable for a repetitive sample")
	}
}

func TestRLENotSuitableForRandomish(t *testing.T) {
	c, _ := New(RLE)
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if c.Suitable(data) {
		t.Fatalf("expected RLE unsuitable for a non-repetitive sample")
	}
}

func TestDictionaryRoundTrip(t *testing.T) {
	c, _ := New(Dictionary)
	var data []byte
	words := [][]byte{
		{1, 1, 1, 1, 1, 1, 1, 1},
		{2, 2, 2, 2, 2, 2, 2, 2},
	}
	for i := 0; i < 20; i++ {
		data = append(data, words[i%2]...)
	}
	roundTrip(t, c, data)
	if !c.Suitable(data) {
		t.Fatalf("expected dictionary codec suitable for low-cardinality data")
	}
}

func TestDeltaRoundTripMonotonic(t *testing.T) {
	c, _ := New(Delta)
	vals := []int64{1000, 1001, 1003, 1004, 1010, 1011}
	var data []byte
	for _, v := range vals {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v))
		data = append(data, b[:]...)
	}
	roundTrip(t, c, data)
	if !c.Suitable(data) {
		t.Fatalf("expected delta codec suitable for slowly-varying sequence")
	}
}

func TestBitPackRoundTrip(t *testing.T) {
	c, _ := New(BitPacking)
	vals := []uint64{0, 1, 2, 3, 2, 1, 0, 3}
	var data []byte
	for _, v := range vals {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v)
		data = append(data, b[:]...)
	}
	roundTrip(t, c, data)
	if !c.Suitable(data) {
		t.Fatalf("expected bit-packing suitable for narrow-range values")
	}
	ratio := c.EstimateRatio(data)
	if ratio >= 1.0 {
		t.Fatalf("expected ratio < 1.0 for 2-bit values, got %f", ratio)
	}
}

func TestLZ4RoundTrip(t *testing.T) {
	c, _ := New(LZ4)
	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 50)
	roundTrip(t, c, data)
}

func TestZSTDRoundTrip(t *testing.T) {
	c, _ := New(ZSTD)
	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 50)
	roundTrip(t, c, data)
}

func TestNoneCodecIsIdentity(t *testing.T) {
	c, _ := New(None)
	data := []byte{1, 2, 3}
	roundTrip(t, c, data)
	if c.Suitable(data) {
		t.Fatalf("none codec should never claim to be suitable")
	}
}

func TestSelectAdaptivePicksRLEForRepetitiveData(t *testing.T) {
	data := bytes.Repeat([]byte{0x7F}, 200)
	c, err := SelectAdaptive(data)
	if err != nil {
		t.Fatalf("SelectAdaptive: %v", err)
	}
	if c.Name() != string(RLE) {
		t.Fatalf("expected RLE selected, got %s", c.Name())
	}
}

func TestSelectAdaptivePicksNoneForNonRepetitiveData(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	c, err := SelectAdaptive(data)
	if err != nil {
		t.Fatalf("SelectAdaptive: %v", err)
	}
	if c.Name() != string(None) {
		t.Fatalf("expected none selected, got %s", c.Name())
	}
}

func TestUnknownCodecKindErrors(t *testing.T) {
	if _, err := New(Kind("bogus")); err == nil {
		t.Fatalf("expected error for unknown codec kind")
	}
}
