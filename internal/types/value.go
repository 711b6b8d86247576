// Package types defines the kernel's value system, tuples, row identifiers,
// and schemas — the data model shared by every storage, index, and
// execution package.
//
// What: Value is a tagged union over null/bool/integers/float/string/blob/
// temporal/vector, with ordering, equality, hashing, and a length-prefixed
// self-describing serialization. Tuple is an ordered Value sequence kept
// consistent with its serialized byte form. RID locates a row. Schema
// describes a table's columns.
// How: Values carry an explicit Kind tag and typed payload fields,
// following the teacher's Value/ValueType split (see the minidb reference
// model) but widened to the full type set the spec requires.
// Why: A tagged union keeps comparisons and serialization exhaustive and
// centralizes the float-tolerance and cross-type numeric rules the rest of
// the kernel depends on.
package types

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
)

// Kind identifies the dynamic type carried by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindFloat64
	KindFixedString
	KindVarString
	KindBlob
	KindTimestamp // stored as string, RFC3339
	KindVector    // []float64
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindBool:
		return "BOOL"
	case KindInt8:
		return "INT8"
	case KindInt16:
		return "INT16"
	case KindInt32:
		return "INT32"
	case KindInt64:
		return "INT64"
	case KindFloat64:
		return "FLOAT64"
	case KindFixedString:
		return "CHAR"
	case KindVarString:
		return "VARCHAR"
	case KindBlob:
		return "BLOB"
	case KindTimestamp:
		return "TIMESTAMP"
	case KindVector:
		return "VECTOR"
	default:
		return "UNKNOWN"
	}
}

func isNumeric(k Kind) bool {
	switch k {
	case KindInt8, KindInt16, KindInt32, KindInt64, KindFloat64:
		return true
	}
	return false
}

// Value is a tagged union over the kernel's supported SQL value types.
type Value struct {
	Kind Kind
	I    int64     // bool (0/1), int8/16/32/64
	F    float64   // float64
	S    string    // fixed-string, var-string, blob (raw bytes as string), timestamp
	V    []float64 // vector
}

// Null returns the null value.
func Null() Value { return Value{Kind: KindNull} }

func Bool(b bool) Value {
	v := Value{Kind: KindBool}
	if b {
		v.I = 1
	}
	return v
}

func Int64(i int64) Value    { return Value{Kind: KindInt64, I: i} }
func Int32(i int32) Value    { return Value{Kind: KindInt32, I: int64(i)} }
func Int16(i int16) Value    { return Value{Kind: KindInt16, I: int64(i)} }
func Int8(i int8) Value      { return Value{Kind: KindInt8, I: int64(i)} }
func Float64(f float64) Value { return Value{Kind: KindFloat64, F: f} }
func VarString(s string) Value   { return Value{Kind: KindVarString, S: s} }
func FixedString(s string) Value { return Value{Kind: KindFixedString, S: s} }
func Blob(b []byte) Value        { return Value{Kind: KindBlob, S: string(b)} }
func Timestamp(s string) Value   { return Value{Kind: KindTimestamp, S: s} }
func Vector(v []float64) Value   { return Value{Kind: KindVector, V: append([]float64(nil), v...)} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

// AsFloat returns the numeric value as a float64, for cross-type comparison.
func (v Value) AsFloat() (float64, bool) {
	switch v.Kind {
	case KindBool, KindInt8, KindInt16, KindInt32, KindInt64:
		return float64(v.I), true
	case KindFloat64:
		return v.F, true
	default:
		return 0, false
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindBool:
		return fmt.Sprintf("%t", v.I != 0)
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return fmt.Sprintf("%d", v.I)
	case KindFloat64:
		return fmt.Sprintf("%g", v.F)
	case KindFixedString, KindVarString, KindBlob, KindTimestamp:
		return v.S
	case KindVector:
		parts := make([]string, len(v.V))
		for i, f := range v.V {
			parts[i] = fmt.Sprintf("%g", f)
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return "?"
	}
}

// floatTolerance is the equality tolerance for float comparisons (spec §3).
const floatTolerance = 1e-9

// Equal reports whether v == other under the spec's cross-type numeric and
// float-tolerance rules.
func (v Value) Equal(other Value) bool {
	if v.Kind == KindNull || other.Kind == KindNull {
		return v.Kind == KindNull && other.Kind == KindNull
	}
	if isNumeric(v.Kind) && isNumeric(other.Kind) {
		a, _ := v.AsFloat()
		b, _ := other.AsFloat()
		return math.Abs(a-b) <= floatTolerance
	}
	if v.Kind == KindVector || other.Kind == KindVector {
		if v.Kind != other.Kind || len(v.V) != len(other.V) {
			return false
		}
		for i := range v.V {
			if math.Abs(v.V[i]-other.V[i]) > floatTolerance {
				return false
			}
		}
		return true
	}
	return v.Kind == other.Kind && v.S == other.S
}

// Compare returns -1/0/1 for v relative to other under total ordering
// within a type and cross-type numeric comparison across numeric kinds.
// NULL sorts before any non-null value.
func (v Value) Compare(other Value) int {
	if v.Kind == KindNull && other.Kind == KindNull {
		return 0
	}
	if v.Kind == KindNull {
		return -1
	}
	if other.Kind == KindNull {
		return 1
	}
	if isNumeric(v.Kind) && isNumeric(other.Kind) {
		a, _ := v.AsFloat()
		b, _ := other.AsFloat()
		switch {
		case math.Abs(a-b) <= floatTolerance:
			return 0
		case a < b:
			return -1
		default:
			return 1
		}
	}
	return strings.Compare(v.S, other.S)
}

// Hash returns a stable FNV-1a hash of the value, used by hash joins and
// hash aggregation.
func (v Value) Hash() uint64 {
	h := fnv.New64a()
	h.Write([]byte{byte(v.Kind)})
	switch v.Kind {
	case KindBool, KindInt8, KindInt16, KindInt32, KindInt64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.I))
		h.Write(b[:])
	case KindFloat64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.F))
		h.Write(b[:])
	case KindFixedString, KindVarString, KindBlob, KindTimestamp:
		h.Write([]byte(v.S))
	case KindVector:
		for _, f := range v.V {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(f))
			h.Write(b[:])
		}
	}
	return h.Sum64()
}

// Serialize writes a length-prefixed, self-describing encoding of v.
// Layout: [1 byte Kind][payload], where payload depends on Kind:
//
//	bool/intN: 8 bytes LE
//	float64:   8 bytes LE (IEEE-754 bits)
//	strings:   4-byte LE length + bytes
//	vector:    4-byte LE element count + 8 bytes per element
func (v Value) Serialize() []byte {
	switch v.Kind {
	case KindNull:
		return []byte{byte(KindNull)}
	case KindBool, KindInt8, KindInt16, KindInt32, KindInt64:
		buf := make([]byte, 9)
		buf[0] = byte(v.Kind)
		binary.LittleEndian.PutUint64(buf[1:], uint64(v.I))
		return buf
	case KindFloat64:
		buf := make([]byte, 9)
		buf[0] = byte(v.Kind)
		binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(v.F))
		return buf
	case KindFixedString, KindVarString, KindBlob, KindTimestamp:
		s := []byte(v.S)
		buf := make([]byte, 5+len(s))
		buf[0] = byte(v.Kind)
		binary.LittleEndian.PutUint32(buf[1:5], uint32(len(s)))
		copy(buf[5:], s)
		return buf
	case KindVector:
		buf := make([]byte, 5+8*len(v.V))
		buf[0] = byte(v.Kind)
		binary.LittleEndian.PutUint32(buf[1:5], uint32(len(v.V)))
		off := 5
		for _, f := range v.V {
			binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(f))
			off += 8
		}
		return buf
	default:
		return []byte{byte(KindNull)}
	}
}

// DeserializeValue reads one Value from the front of buf and returns it
// along with the number of bytes consumed.
func DeserializeValue(buf []byte) (Value, int, error) {
	if len(buf) < 1 {
		return Value{}, 0, fmt.Errorf("value: empty buffer")
	}
	k := Kind(buf[0])
	switch k {
	case KindNull:
		return Value{Kind: KindNull}, 1, nil
	case KindBool, KindInt8, KindInt16, KindInt32, KindInt64:
		if len(buf) < 9 {
			return Value{}, 0, fmt.Errorf("value: short int buffer")
		}
		return Value{Kind: k, I: int64(binary.LittleEndian.Uint64(buf[1:9]))}, 9, nil
	case KindFloat64:
		if len(buf) < 9 {
			return Value{}, 0, fmt.Errorf("value: short float buffer")
		}
		return Value{Kind: k, F: math.Float64frombits(binary.LittleEndian.Uint64(buf[1:9]))}, 9, nil
	case KindFixedString, KindVarString, KindBlob, KindTimestamp:
		if len(buf) < 5 {
			return Value{}, 0, fmt.Errorf("value: short string header")
		}
		n := int(binary.LittleEndian.Uint32(buf[1:5]))
		if len(buf) < 5+n {
			return Value{}, 0, fmt.Errorf("value: short string body")
		}
		return Value{Kind: k, S: string(buf[5 : 5+n])}, 5 + n, nil
	case KindVector:
		if len(buf) < 5 {
			return Value{}, 0, fmt.Errorf("value: short vector header")
		}
		n := int(binary.LittleEndian.Uint32(buf[1:5]))
		need := 5 + 8*n
		if len(buf) < need {
			return Value{}, 0, fmt.Errorf("value: short vector body")
		}
		vec := make([]float64, n)
		off := 5
		for i := range vec {
			vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[off:]))
			off += 8
		}
		return Value{Kind: k, V: vec}, need, nil
	default:
		return Value{}, 0, fmt.Errorf("value: unknown kind %d", k)
	}
}
