package cbor

import (
	"encoding/binary"
	"math"

	"github.com/objectstream/objectstream/pkg/errors"
)

// Decode deserializes exactly one item. Remaining bytes after the item
// produce a CBOR_EXTRA_BYTES error.
func Decode(data []byte) (Value, error) {
	d := &Decoder{data: data}
	return d.Decode()
}

// Decoder decodes one complete item from a byte buffer.
type Decoder struct {
	data []byte
	pos  int
}

// NewDecoder creates a decoder over data.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Decode decodes one item and rejects trailing bytes.
func (d *Decoder) Decode() (Value, error) {
	v, err := d.decodeValue()
	if err != nil {
		return Value{}, err
	}
	if d.pos < len(d.data) {
		return Value{}, errors.Newf(errors.ErrCodeExtraBytes,
			"extra bytes: %d bytes remaining after decode", len(d.data)-d.pos)
	}
	return v, nil
}

func (d *Decoder) outOfBytes(n int) error {
	return errors.Newf(errors.ErrCodeOutOfBytes,
		"out of bytes: trying to read %d bytes but buffer contains only %d",
		n, len(d.data)-d.pos)
}

func (d *Decoder) peek() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, d.outOfBytes(1)
	}
	return d.data[d.pos], nil
}

func (d *Decoder) take(n int) ([]byte, error) {
	if d.pos+n > len(d.data) {
		return nil, d.outOfBytes(n)
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// takeN guards against corrupt length prefixes wider than the buffer.
func (d *Decoder) takeN(n uint64) ([]byte, error) {
	if n > uint64(len(d.data)-d.pos) {
		return nil, errors.Newf(errors.ErrCodeOutOfBytes,
			"out of bytes: trying to read %d bytes but buffer contains only %d",
			n, len(d.data)-d.pos)
	}
	return d.take(int(n))
}

// readCount reads the argument for an additional-information value.
// Values 28..30 are reserved and rejected.
func (d *Decoder) readCount(ai byte) (uint64, error) {
	switch {
	case ai < 24:
		return uint64(ai), nil
	case ai == 24:
		b, err := d.take(1)
		if err != nil {
			return 0, err
		}
		return uint64(b[0]), nil
	case ai == 25:
		b, err := d.take(2)
		if err != nil {
			return 0, err
		}
		return uint64(binary.BigEndian.Uint16(b)), nil
	case ai == 26:
		b, err := d.take(4)
		if err != nil {
			return 0, err
		}
		return uint64(binary.BigEndian.Uint32(b)), nil
	case ai == 27:
		b, err := d.take(8)
		if err != nil {
			return 0, err
		}
		return binary.BigEndian.Uint64(b), nil
	default:
		return 0, errors.Newf(errors.ErrCodeUnexpectedAdditionalInfo,
			"unexpected additional information: %d", ai)
	}
}

func (d *Decoder) decodeValue() (Value, error) {
	ib, err := d.peek()
	if err != nil {
		return Value{}, err
	}
	major := ib >> 5
	ai := ib & 0x1f

	switch major {
	case 0:
		// Fast path for small unsigned integers.
		if ai < 24 {
			d.pos++
			return Value{Kind: KindUint, Uint: uint64(ai)}, nil
		}
		d.pos++
		n, err := d.readCount(ai)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindUint, Uint: n}, nil

	case 1:
		// Fast path for small negative integers (-1..-24).
		if ai < 24 {
			d.pos++
			return Value{Kind: KindNegInt, Uint: uint64(ai)}, nil
		}
		d.pos++
		n, err := d.readCount(ai)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindNegInt, Uint: n}, nil

	case 2:
		if ai == 31 {
			return d.decodeIndefiniteString(KindBytes)
		}
		return d.decodeString(KindBytes)

	case 3:
		// Fast path for short text strings.
		if ai < 24 {
			start := d.pos + 1
			end := start + int(ai)
			if end <= len(d.data) {
				d.pos = end
				return Value{Kind: KindText, Bytes: d.data[start:end]}, nil
			}
		}
		if ai == 31 {
			return d.decodeIndefiniteString(KindText)
		}
		return d.decodeString(KindText)

	case 4:
		if ai == 31 {
			return d.decodeIndefiniteArray()
		}
		return d.decodeArray()

	case 5:
		if ai == 31 {
			return d.decodeIndefiniteMap()
		}
		return d.decodeMap()

	case 6:
		return d.decodeTag()

	default: // major 7
		return d.decodeSimple(ai)
	}
}

func (d *Decoder) decodeString(kind Kind) (Value, error) {
	ai := d.data[d.pos] & 0x1f
	d.pos++
	n, err := d.readCount(ai)
	if err != nil {
		return Value{}, err
	}
	b, err := d.takeN(n)
	if err != nil {
		return Value{}, err
	}
	return Value{Kind: kind, Bytes: b}, nil
}

// decodeIndefiniteString concatenates definite-length chunks until break.
func (d *Decoder) decodeIndefiniteString(kind Kind) (Value, error) {
	d.pos++ // initial byte
	var out []byte
	for {
		ib, err := d.peek()
		if err != nil {
			return Value{}, err
		}
		if ib == breakByte {
			d.pos++
			return Value{Kind: kind, Bytes: out}, nil
		}
		ai := ib & 0x1f
		d.pos++
		n, err := d.readCount(ai)
		if err != nil {
			return Value{}, err
		}
		b, err := d.takeN(n)
		if err != nil {
			return Value{}, err
		}
		out = append(out, b...)
	}
}

func (d *Decoder) decodeArray() (Value, error) {
	ai := d.data[d.pos] & 0x1f
	d.pos++
	n, err := d.readCount(ai)
	if err != nil {
		return Value{}, err
	}
	items := make([]Value, 0, capHint(n))
	for i := uint64(0); i < n; i++ {
		item, err := d.decodeValue()
		if err != nil {
			return Value{}, err
		}
		items = append(items, item)
	}
	return Value{Kind: KindArray, Items: items}, nil
}

func (d *Decoder) decodeIndefiniteArray() (Value, error) {
	d.pos++ // 0x9f
	items := []Value{}
	for {
		ib, err := d.peek()
		if err != nil {
			return Value{}, err
		}
		if ib == breakByte {
			d.pos++
			return Value{Kind: KindArray, Items: items}, nil
		}
		item, err := d.decodeValue()
		if err != nil {
			return Value{}, err
		}
		items = append(items, item)
	}
}

func (d *Decoder) decodeMap() (Value, error) {
	ai := d.data[d.pos] & 0x1f
	d.pos++
	n, err := d.readCount(ai)
	if err != nil {
		return Value{}, err
	}
	pairs := make([]Pair, 0, capHint(n))
	for i := uint64(0); i < n; i++ {
		key, err := d.decodeValue()
		if err != nil {
			return Value{}, err
		}
		val, err := d.decodeValue()
		if err != nil {
			return Value{}, err
		}
		pairs = append(pairs, Pair{Key: key, Value: val})
	}
	return Value{Kind: KindMap, Pairs: pairs}, nil
}

func (d *Decoder) decodeIndefiniteMap() (Value, error) {
	d.pos++ // 0xbf
	pairs := []Pair{}
	for {
		ib, err := d.peek()
		if err != nil {
			return Value{}, err
		}
		if ib == breakByte {
			d.pos++
			return Value{Kind: KindMap, Pairs: pairs}, nil
		}
		key, err := d.decodeValue()
		if err != nil {
			return Value{}, err
		}
		val, err := d.decodeValue()
		if err != nil {
			return Value{}, err
		}
		pairs = append(pairs, Pair{Key: key, Value: val})
	}
}

func (d *Decoder) decodeTag() (Value, error) {
	ai := d.data[d.pos] & 0x1f
	d.pos++
	tag, err := d.readCount(ai)
	if err != nil {
		return Value{}, err
	}

	switch tag {
	case TagPositiveBignum, TagNegativeBignum:
		inner, err := d.decodeValue()
		if err != nil {
			return Value{}, err
		}
		if inner.Kind != KindBytes {
			return Value{}, errors.Newf(errors.ErrCodeMalformedItem,
				"bignum tag %d requires a byte string, got %s", tag, inner.Kind)
		}
		return NewBignum(tag == TagNegativeBignum, inner.Bytes), nil
	default:
		inner, err := d.decodeValue()
		if err != nil {
			return Value{}, err
		}
		return NewTag(tag, inner), nil
	}
}

func (d *Decoder) decodeSimple(ai byte) (Value, error) {
	switch ai {
	case 20:
		d.pos++
		return Value{Kind: KindBool, Bool: false}, nil
	case 21:
		d.pos++
		return Value{Kind: KindBool, Bool: true}, nil
	case 22:
		d.pos++
		return Value{Kind: KindNull}, nil
	case 23:
		d.pos++
		return Value{Kind: KindUndefined}, nil

	case 25:
		d.pos++
		b, err := d.take(2)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindFloat, Float: decodeHalf(binary.BigEndian.Uint16(b))}, nil

	case 26:
		d.pos++
		b, err := d.take(4)
		if err != nil {
			return Value{}, err
		}
		f := math.Float32frombits(binary.BigEndian.Uint32(b))
		return Value{Kind: KindFloat, Float: float64(f)}, nil

	case 27:
		d.pos++
		b, err := d.take(8)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindFloat, Float: math.Float64frombits(binary.BigEndian.Uint64(b))}, nil

	case 31:
		return Value{}, errors.New(errors.ErrCodeUnexpectedBreak,
			"unexpected break stop code")

	case 28, 29, 30:
		return Value{}, errors.Newf(errors.ErrCodeUnexpectedAdditionalInfo,
			"unexpected additional information: %d", ai)

	default:
		d.pos++
		return Value{}, errors.Newf(errors.ErrCodeMalformedItem,
			"undefined reserved additional information: %d", ai)
	}
}

// decodeHalf expands an IEEE 754 half-precision float. The encoder never
// emits f16; this exists for interoperability on decode.
func decodeHalf(b16 uint16) float64 {
	exp := int32(b16>>10) & 0x1f
	mant := float64(b16 & 0x3ff)
	var val float64
	switch exp {
	case 0:
		val = mant * math.Pow(2, -24)
	case 31:
		if mant == 0 {
			val = math.Inf(1)
		} else {
			val = math.NaN()
		}
	default:
		val = (1024 + mant) * math.Pow(2, float64(exp-25))
	}
	if b16>>15 != 0 {
		val = -val
	}
	return val
}

// capHint bounds pre-allocation so a corrupt length prefix cannot force a
// huge allocation before the data runs out.
func capHint(n uint64) int {
	const max = 4096
	if n > max {
		return max
	}
	return int(n)
}
