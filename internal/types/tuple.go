package types

import (
	"encoding/binary"
	"errors"
)

// Tuple is an ordered sequence of Values with an owned byte representation
// kept consistent with the value vector. A Tuple has no identity of its
// own — identity is carried externally by an RID.
type Tuple struct {
	Values []Value
	raw    []byte
}

// NewTuple builds a Tuple from values and computes its serialized form.
func NewTuple(values []Value) *Tuple {
	t := &Tuple{Values: values}
	t.reserialize()
	return t
}

// Set replaces the value at index i and reserializes.
func (t *Tuple) Set(i int, v Value) {
	t.Values[i] = v
	t.reserialize()
}

func (t *Tuple) reserialize() {
	var buf []byte
	n := uint32(len(t.Values))
	hdr := make([]byte, 4)
	binary.LittleEndian.PutUint32(hdr, n)
	buf = append(buf, hdr...)
	for _, v := range t.Values {
		buf = append(buf, v.Serialize()...)
	}
	t.raw = buf
}

// Bytes returns the tuple's owned serialized representation.
func (t *Tuple) Bytes() []byte { return t.raw }

// Size returns the length of the serialized representation in bytes.
func (t *Tuple) Size() int { return len(t.raw) }

// DeserializeTuple parses a Tuple from the wire/page format written by
// reserialize: a 4-byte LE value count followed by that many serialized
// Values.
func DeserializeTuple(buf []byte) (*Tuple, error) {
	if len(buf) < 4 {
		return nil, errShortTuple
	}
	n := int(binary.LittleEndian.Uint32(buf[0:4]))
	off := 4
	values := make([]Value, 0, n)
	for i := 0; i < n; i++ {
		v, consumed, err := DeserializeValue(buf[off:])
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		off += consumed
	}
	t := &Tuple{Values: values, raw: append([]byte(nil), buf[:off]...)}
	return t, nil
}

var errShortTuple = errors.New("tuple: buffer too short")
