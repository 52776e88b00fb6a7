package cbor

import (
	"bytes"
	stderr "errors"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/objectstream/objectstream/pkg/errors"
)

func roundTrip(t *testing.T, v Value) Value {
	t.Helper()
	data, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode(%v): %v", v.Kind, err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode(% x): %v", data, err)
	}
	if !got.Equal(v) {
		t.Fatalf("Round trip mismatch: %+v -> % x -> %+v", v, data, got)
	}
	return got
}

func TestRoundTrip_Integers(t *testing.T) {
	for _, i := range []int64{0, 1, 10, 23, 24, 25, 100, 255, 256, 65535, 65536,
		1<<32 - 1, 1 << 32, math.MaxInt64, -1, -10, -24, -25, -100, -256, -65536, math.MinInt64} {
		roundTrip(t, NewInt(i))
	}
	roundTrip(t, NewUint(math.MaxUint64))
	// -2^64, the most negative major-type-1 value.
	roundTrip(t, Value{Kind: KindNegInt, Uint: math.MaxUint64})
}

func TestEncode_SmallIntegerOneByte(t *testing.T) {
	data, err := Encode(NewInt(7))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte{0x07}) {
		t.Errorf("Encode(7) = % x, want 07", data)
	}

	data, _ = Encode(NewInt(-5))
	if !bytes.Equal(data, []byte{0x24}) {
		t.Errorf("Encode(-5) = % x, want 24", data)
	}
}

func TestRoundTrip_Floats(t *testing.T) {
	for _, f := range []float64{0, 1.5, -2.25, 3.141592653589793, math.MaxFloat64,
		math.Inf(1), math.Inf(-1)} {
		roundTrip(t, NewFloat(f))
	}

	got := roundTrip(t, NewFloat(math.NaN()))
	if !math.IsNaN(got.Float) {
		t.Error("NaN did not survive the round trip")
	}
}

func TestEncode_FloatAutoWidth(t *testing.T) {
	// 1.5 is exact in float32: 4-byte encoding (1 marker + 4).
	data, _ := Encode(NewFloat(1.5))
	if len(data) != 5 || data[0] != 0xfa {
		t.Errorf("Encode(1.5) = % x, want fa + 4 bytes", data)
	}

	// Pi is not: 8-byte encoding.
	data, _ = Encode(NewFloat(math.Pi))
	if len(data) != 9 || data[0] != 0xfb {
		t.Errorf("Encode(pi) = % x, want fb + 8 bytes", data)
	}
}

func TestRoundTrip_Strings(t *testing.T) {
	roundTrip(t, NewText(""))
	roundTrip(t, NewText("a"))
	roundTrip(t, NewText("hello, world"))
	roundTrip(t, NewText("héllo — ünïcode ✓"))
	roundTrip(t, NewBytes(nil))
	roundTrip(t, NewBytes([]byte{0x00, 0xff, 0x80, 0x7f}))

	// Text and byte strings are distinct kinds.
	text, _ := Encode(NewText("ab"))
	bin, _ := Encode(NewBytes([]byte("ab")))
	if bytes.Equal(text, bin) {
		t.Error("Text and byte strings must differ on the wire")
	}
}

func TestRoundTrip_NestedContainers(t *testing.T) {
	v := NewArray(
		NewInt(1),
		NewText("two"),
		NewArray(NewBool(true), Null()),
		NewMap(
			Pair{Key: NewText("id"), Value: NewInt(1)},
			Pair{Key: NewText("tags"), Value: NewArray(NewText("a"), NewText("b"))},
			Pair{Key: NewText("active"), Value: NewBool(true)},
		),
	)
	roundTrip(t, v)
}

func TestRoundTrip_DeepNesting(t *testing.T) {
	v := NewInt(42)
	for i := 0; i < 32; i++ {
		v = NewArray(v)
	}
	roundTrip(t, v)
}

func TestRoundTrip_MapPreservesInsertionOrder(t *testing.T) {
	v := NewMap(
		Pair{Key: NewText("z"), Value: NewInt(1)},
		Pair{Key: NewText("a"), Value: NewInt(2)},
		Pair{Key: NewText("m"), Value: NewInt(3)},
	)
	got := roundTrip(t, v)
	if got.Pairs[0].Key.Text() != "z" || got.Pairs[1].Key.Text() != "a" || got.Pairs[2].Key.Text() != "m" {
		t.Errorf("Map order not preserved: %+v", got.Pairs)
	}
}

func TestRoundTrip_DuplicateMapKeys(t *testing.T) {
	v := NewMap(
		Pair{Key: NewText("k"), Value: NewInt(1)},
		Pair{Key: NewText("k"), Value: NewInt(2)},
	)
	got := roundTrip(t, v)
	if len(got.Pairs) != 2 {
		t.Errorf("Duplicate keys must pass through, got %d pairs", len(got.Pairs))
	}
}

func TestRoundTrip_Bignum(t *testing.T) {
	big1 := new(big.Int).Lsh(big.NewInt(1), 100) // 2^100
	v := NewBigInt(big1)
	if v.Kind != KindBignum {
		t.Fatalf("2^100 should encode as a bignum, got %s", v.Kind)
	}
	got := roundTrip(t, v)
	back, _ := got.BigInt()
	if back.Cmp(big1) != 0 {
		t.Errorf("Bignum round trip: %s != %s", back, big1)
	}

	neg := new(big.Int).Neg(big1)
	got = roundTrip(t, NewBigInt(neg))
	back, _ = got.BigInt()
	if back.Cmp(neg) != 0 {
		t.Errorf("Negative bignum round trip: %s != %s", back, neg)
	}
}

func TestNewBigInt_FitsIn64Bits(t *testing.T) {
	v := NewBigInt(big.NewInt(1234))
	if v.Kind != KindUint {
		t.Errorf("Small big.Int should use major type 0, got %s", v.Kind)
	}

	v = NewBigInt(big.NewInt(-1234))
	if v.Kind != KindNegInt {
		t.Errorf("Small negative big.Int should use major type 1, got %s", v.Kind)
	}

	maxU64 := new(big.Int).SetUint64(math.MaxUint64)
	if NewBigInt(maxU64).Kind != KindUint {
		t.Error("2^64-1 still fits major type 0")
	}
	overU64 := new(big.Int).Add(maxU64, big.NewInt(1))
	if NewBigInt(overU64).Kind != KindBignum {
		t.Error("2^64 requires a bignum")
	}
}

func TestRoundTrip_EpochTime(t *testing.T) {
	whole := time.Unix(1700000000, 0)
	v := NewTime(whole)
	tag, inner := v.Tagged()
	if tag != TagEpochTime {
		t.Fatalf("tag = %d, want 1", tag)
	}
	if inner.Kind != KindUint {
		t.Errorf("Whole-second time should carry an integer, got %s", inner.Kind)
	}
	roundTrip(t, v)

	fractional := time.Unix(1700000000, 250_000_000)
	v = NewTime(fractional)
	_, inner = v.Tagged()
	if inner.Kind != KindFloat {
		t.Errorf("Fractional time should carry a float, got %s", inner.Kind)
	}
	roundTrip(t, v)
}

func TestRoundTrip_DecimalFraction(t *testing.T) {
	// 273.15 = 27315 * 10^-2
	v := NewDecimal(-2, NewInt(27315))
	data, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	// c4 82 21 19 6a b3
	want := []byte{0xc4, 0x82, 0x21, 0x19, 0x6a, 0xb3}
	if !bytes.Equal(data, want) {
		t.Errorf("Encode(273.15 decimal) = % x, want % x", data, want)
	}
	roundTrip(t, v)
}

func TestRoundTrip_Tagged(t *testing.T) {
	v := NewTag(4711, NewText("payload"))
	got := roundTrip(t, v)
	tag, inner := got.Tagged()
	if tag != 4711 || inner.Text() != "payload" {
		t.Errorf("Tagged round trip: tag=%d inner=%q", tag, inner.Text())
	}
}

func TestDecode_IndefiniteLengthItems(t *testing.T) {
	// 0x9f 01 02 ff — indefinite array [1, 2]
	v, err := Decode([]byte{0x9f, 0x01, 0x02, 0xff})
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind != KindArray || len(v.Items) != 2 || v.Items[1].Uint != 2 {
		t.Errorf("Indefinite array decoded to %+v", v)
	}

	// 0xbf 61 61 01 ff — indefinite map {"a": 1}
	v, err = Decode([]byte{0xbf, 0x61, 0x61, 0x01, 0xff})
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind != KindMap || len(v.Pairs) != 1 || v.Pairs[0].Key.Text() != "a" {
		t.Errorf("Indefinite map decoded to %+v", v)
	}

	// 0x5f 42 01 02 41 03 ff — indefinite bytes (0x010203)
	v, err = Decode([]byte{0x5f, 0x42, 0x01, 0x02, 0x41, 0x03, 0xff})
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind != KindBytes || !bytes.Equal(v.Bytes, []byte{1, 2, 3}) {
		t.Errorf("Indefinite bytes decoded to %+v", v)
	}

	// 0x7f 62 68 69 ff — indefinite text "hi"
	v, err = Decode([]byte{0x7f, 0x62, 0x68, 0x69, 0xff})
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind != KindText || v.Text() != "hi" {
		t.Errorf("Indefinite text decoded to %+v", v)
	}
}

func TestDecode_HalfFloat(t *testing.T) {
	// f9 3c 00 = 1.0
	v, err := Decode([]byte{0xf9, 0x3c, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	if v.Float != 1.0 {
		t.Errorf("half 0x3c00 = %v, want 1.0", v.Float)
	}

	// f9 7c 00 = +Inf, f9 fc 00 = -Inf
	v, _ = Decode([]byte{0xf9, 0x7c, 0x00})
	if !math.IsInf(v.Float, 1) {
		t.Errorf("half +Inf decoded to %v", v.Float)
	}
	v, _ = Decode([]byte{0xf9, 0xfc, 0x00})
	if !math.IsInf(v.Float, -1) {
		t.Errorf("half -Inf decoded to %v", v.Float)
	}

	// f9 00 01 = smallest subnormal (5.960464477539063e-8)
	v, _ = Decode([]byte{0xf9, 0x00, 0x01})
	if v.Float != 5.960464477539063e-8 {
		t.Errorf("half subnormal decoded to %v", v.Float)
	}
}

func TestDecode_ExtraBytes(t *testing.T) {
	a, _ := Encode(NewInt(1))
	b, _ := Encode(NewText("tail"))

	_, err := Decode(append(a, b...))
	if err == nil {
		t.Fatal("Expected extra-bytes error")
	}
	if !stderr.Is(err, errors.New(errors.ErrCodeExtraBytes, "")) {
		t.Errorf("Expected CBOR_EXTRA_BYTES, got %v", err)
	}
}

func TestDecode_OutOfBytes(t *testing.T) {
	cases := [][]byte{
		{},                       // empty input
		{0x18},                   // uint8 argument missing
		{0x62, 0x61},             // text of length 2 with 1 byte
		{0x82, 0x01},             // array of 2 with 1 item
		{0xfb, 0x00, 0x00},       // truncated double
		{0x5f, 0x41, 0x01},       // unterminated indefinite bytes
	}
	for _, data := range cases {
		_, err := Decode(data)
		if err == nil {
			t.Errorf("Decode(% x) succeeded, want out-of-bytes", data)
			continue
		}
		if !stderr.Is(err, errors.New(errors.ErrCodeOutOfBytes, "")) {
			t.Errorf("Decode(% x): expected CBOR_OUT_OF_BYTES, got %v", data, err)
		}
	}
}

func TestDecode_UnexpectedBreak(t *testing.T) {
	_, err := Decode([]byte{0xff})
	if !stderr.Is(err, errors.New(errors.ErrCodeUnexpectedBreak, "")) {
		t.Errorf("Expected CBOR_UNEXPECTED_BREAK, got %v", err)
	}

	// Break as an array element inside a definite-length array.
	_, err = Decode([]byte{0x81, 0xff})
	if !stderr.Is(err, errors.New(errors.ErrCodeUnexpectedBreak, "")) {
		t.Errorf("Expected CBOR_UNEXPECTED_BREAK in array, got %v", err)
	}
}

func TestDecode_ReservedAdditionalInfo(t *testing.T) {
	for _, ib := range []byte{0x1c, 0x1d, 0x1e} { // major 0, ai 28..30
		_, err := Decode([]byte{ib})
		if !stderr.Is(err, errors.New(errors.ErrCodeUnexpectedAdditionalInfo, "")) {
			t.Errorf("Decode(% x): expected CBOR_UNEXPECTED_ADDITIONAL_INFO, got %v", ib, err)
		}
	}
}

func TestEncoder_AccumulatesItems(t *testing.T) {
	enc := NewEncoder()
	if _, err := enc.Add(NewInt(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := enc.Add(NewText("two")); err != nil {
		t.Fatal(err)
	}

	want1, _ := Encode(NewInt(1))
	want2, _ := Encode(NewText("two"))
	if !bytes.Equal(enc.Bytes(), append(want1, want2...)) {
		t.Errorf("Encoder bytes = % x", enc.Bytes())
	}
}

func TestDecode_SimpleValues(t *testing.T) {
	roundTrip(t, NewBool(true))
	roundTrip(t, NewBool(false))
	roundTrip(t, Null())
	roundTrip(t, Undefined())
}

func TestValue_Int64(t *testing.T) {
	if v, ok := NewInt(-42).Int64(); !ok || v != -42 {
		t.Errorf("Int64() = %d, %v", v, ok)
	}
	if _, ok := NewUint(math.MaxUint64).Int64(); ok {
		t.Error("MaxUint64 must not fit int64")
	}
}
