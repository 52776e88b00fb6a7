// Package cbor implements an RFC 8949 codec over a typed value tree,
// tuned for low per-value overhead: single-allocation encode buffers,
// inline fast paths for small integers and short strings, and no
// reflection.
package cbor

import (
	"math"
	"math/big"
	"time"
)

// Kind discriminates the variants of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindUndefined
	KindBool
	KindUint
	// KindNegInt holds a negative integer -1-Uint, covering [-2^64, -1].
	KindNegInt
	// KindBignum holds integers outside the 64-bit ranges as a sign plus
	// big-endian magnitude bytes (tags 2/3 on the wire).
	KindBignum
	KindFloat
	KindText
	KindBytes
	KindArray
	KindMap
	KindTag
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindUndefined:
		return "undefined"
	case KindBool:
		return "bool"
	case KindUint:
		return "uint"
	case KindNegInt:
		return "negint"
	case KindBignum:
		return "bignum"
	case KindFloat:
		return "float"
	case KindText:
		return "text"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	case KindTag:
		return "tag"
	default:
		return "invalid"
	}
}

// Pair is one map entry. Maps preserve insertion order and may carry
// duplicate keys; both survive a round trip.
type Pair struct {
	Key   Value
	Value Value
}

// Value is a CBOR data item. The populated fields depend on Kind.
type Value struct {
	Kind Kind

	// Uint carries KindUint directly and the offset n of KindNegInt,
	// whose numeric value is -1-n. For KindTag it is the tag number.
	Uint  uint64
	Float float64
	Bool  bool

	// Bytes carries UTF-8 text (KindText), raw bytes (KindBytes), and the
	// big-endian magnitude of KindBignum.
	Bytes []byte
	// Negative is the sign of a KindBignum.
	Negative bool

	Items []Value // KindArray
	Pairs []Pair  // KindMap
	Inner []Value // KindTag: one-element slice holding the tagged item
}

// Wire tags the codec understands natively.
const (
	TagEpochTime       = 1
	TagPositiveBignum  = 2
	TagNegativeBignum  = 3
	TagDecimalFraction = 4
)

// Null is the CBOR null value.
func Null() Value { return Value{Kind: KindNull} }

// Undefined is the CBOR undefined value.
func Undefined() Value { return Value{Kind: KindUndefined} }

// NewBool builds a boolean value.
func NewBool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// NewUint builds an unsigned integer value.
func NewUint(u uint64) Value { return Value{Kind: KindUint, Uint: u} }

// NewInt builds an integer value of either sign.
func NewInt(i int64) Value {
	if i >= 0 {
		return Value{Kind: KindUint, Uint: uint64(i)}
	}
	return Value{Kind: KindNegInt, Uint: uint64(-1 - i)}
}

// NewFloat builds a floating-point value. The encoder picks the narrowest
// width that round-trips.
func NewFloat(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// NewText builds a UTF-8 text string value.
func NewText(s string) Value { return Value{Kind: KindText, Bytes: []byte(s)} }

// NewBytes builds a byte string value.
func NewBytes(b []byte) Value { return Value{Kind: KindBytes, Bytes: b} }

// NewArray builds an array value.
func NewArray(items ...Value) Value { return Value{Kind: KindArray, Items: items} }

// NewMap builds a map value from pairs in insertion order.
func NewMap(pairs ...Pair) Value { return Value{Kind: KindMap, Pairs: pairs} }

// NewTag wraps a value with a tag number.
func NewTag(tag uint64, inner Value) Value {
	return Value{Kind: KindTag, Uint: tag, Inner: []Value{inner}}
}

// NewBignum builds an arbitrary-precision integer from a sign and
// big-endian magnitude bytes.
func NewBignum(negative bool, magnitude []byte) Value {
	return Value{Kind: KindBignum, Negative: negative, Bytes: magnitude}
}

// NewBigInt builds the narrowest integer representation of i: major type
// 0/1 when it fits 64 bits, a bignum otherwise. For negative values the
// wire carries -1-i per RFC 8949.
func NewBigInt(i *big.Int) Value {
	if i.Sign() >= 0 {
		if i.IsUint64() {
			return NewUint(i.Uint64())
		}
		return NewBignum(false, i.Bytes())
	}
	// offset = -1 - i = -(i+1)
	offset := new(big.Int).Neg(new(big.Int).Add(i, big.NewInt(1)))
	if offset.IsUint64() {
		return Value{Kind: KindNegInt, Uint: offset.Uint64()}
	}
	return NewBignum(true, offset.Bytes())
}

// NewTime builds an epoch time value: tag 1 over integer seconds when the
// time is whole, a float otherwise.
func NewTime(t time.Time) Value {
	if t.Nanosecond() == 0 {
		return NewTag(TagEpochTime, NewInt(t.Unix()))
	}
	secs := float64(t.UnixNano()) / 1e9
	return NewTag(TagEpochTime, NewFloat(secs))
}

// NewDecimal builds a decimal fraction (tag 4): mantissa * 10^exponent.
func NewDecimal(exponent int64, mantissa Value) Value {
	return NewTag(TagDecimalFraction, NewArray(NewInt(exponent), mantissa))
}

// Tagged returns the tag number and inner value of a KindTag value.
func (v Value) Tagged() (uint64, Value) {
	if v.Kind != KindTag || len(v.Inner) != 1 {
		return 0, Value{}
	}
	return v.Uint, v.Inner[0]
}

// Int64 returns the value as an int64 for KindUint/KindNegInt, with ok
// reporting whether it fits.
func (v Value) Int64() (int64, bool) {
	switch v.Kind {
	case KindUint:
		if v.Uint <= math.MaxInt64 {
			return int64(v.Uint), true
		}
	case KindNegInt:
		if v.Uint <= math.MaxInt64 {
			return -1 - int64(v.Uint), true
		}
	}
	return 0, false
}

// BigInt returns the integer value of KindUint/KindNegInt/KindBignum.
func (v Value) BigInt() (*big.Int, bool) {
	switch v.Kind {
	case KindUint:
		return new(big.Int).SetUint64(v.Uint), true
	case KindNegInt:
		offset := new(big.Int).SetUint64(v.Uint)
		return offset.Neg(offset).Sub(offset, big.NewInt(1)), true
	case KindBignum:
		mag := new(big.Int).SetBytes(v.Bytes)
		if v.Negative {
			// value = -1 - magnitude
			return mag.Neg(mag).Sub(mag, big.NewInt(1)), true
		}
		return mag, true
	}
	return nil, false
}

// Text returns the string form of a KindText value.
func (v Value) Text() string { return string(v.Bytes) }

// Equal reports deep equality. NaN floats compare equal to each other so
// round-trip assertions hold.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull, KindUndefined:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindUint, KindNegInt:
		return v.Uint == o.Uint
	case KindBignum:
		return v.Negative == o.Negative && bytesEqual(v.Bytes, o.Bytes)
	case KindFloat:
		if math.IsNaN(v.Float) && math.IsNaN(o.Float) {
			return true
		}
		return v.Float == o.Float
	case KindText, KindBytes:
		return bytesEqual(v.Bytes, o.Bytes)
	case KindArray:
		if len(v.Items) != len(o.Items) {
			return false
		}
		for i := range v.Items {
			if !v.Items[i].Equal(o.Items[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Pairs) != len(o.Pairs) {
			return false
		}
		for i := range v.Pairs {
			if !v.Pairs[i].Key.Equal(o.Pairs[i].Key) || !v.Pairs[i].Value.Equal(o.Pairs[i].Value) {
				return false
			}
		}
		return true
	case KindTag:
		if v.Uint != o.Uint || len(v.Inner) != len(o.Inner) {
			return false
		}
		return len(v.Inner) == 1 && v.Inner[0].Equal(o.Inner[0])
	}
	return false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
