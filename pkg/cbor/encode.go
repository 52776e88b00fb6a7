package cbor

import (
	"encoding/binary"
	"math"

	"github.com/objectstream/objectstream/pkg/errors"
)

// Major type bit patterns.
const (
	majorUnsigned = 0x00
	majorNegative = 0x20
	majorBytes    = 0x40
	majorText     = 0x60
	majorArray    = 0x80
	majorMap      = 0xa0
	majorTag      = 0xc0
	majorSimple   = 0xe0
)

const (
	floatMarker  = 0xfa
	doubleMarker = 0xfb
	breakByte    = 0xff
)

// Encode serializes a single value to RFC 8949 bytes.
func Encode(v Value) ([]byte, error) {
	buf := make([]byte, 0, 256)
	return encodeValue(buf, v)
}

// Encoder accumulates a sequence of encoded items.
type Encoder struct {
	buf []byte
}

// NewEncoder creates an encoder with a pre-allocated buffer.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 256)}
}

// Add appends one encoded value; the encoder is returned for chaining.
func (e *Encoder) Add(v Value) (*Encoder, error) {
	buf, err := encodeValue(e.buf, v)
	if err != nil {
		return e, err
	}
	e.buf = buf
	return e, nil
}

// Bytes returns the accumulated encoding.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// writeHead emits a major type with its argument in the shortest form.
func writeHead(buf []byte, major byte, value uint64) []byte {
	switch {
	case value <= 23:
		return append(buf, major|byte(value))
	case value <= 0xff:
		return append(buf, major|24, byte(value))
	case value <= 0xffff:
		buf = append(buf, major|25)
		return binary.BigEndian.AppendUint16(buf, uint16(value))
	case value <= 0xffff_ffff:
		buf = append(buf, major|26)
		return binary.BigEndian.AppendUint32(buf, uint32(value))
	default:
		buf = append(buf, major|27)
		return binary.BigEndian.AppendUint64(buf, value)
	}
}

// appendAutoFloat emits 4 bytes when the value survives an exact round
// trip through float32, 8 bytes otherwise. NaN always narrows to 4 bytes.
func appendAutoFloat(buf []byte, f float64) []byte {
	if math.IsNaN(f) {
		buf = append(buf, floatMarker)
		return binary.BigEndian.AppendUint32(buf, math.Float32bits(float32(f)))
	}
	single := float32(f)
	if float64(single) == f {
		buf = append(buf, floatMarker)
		return binary.BigEndian.AppendUint32(buf, math.Float32bits(single))
	}
	buf = append(buf, doubleMarker)
	return binary.BigEndian.AppendUint64(buf, math.Float64bits(f))
}

func encodeValue(buf []byte, v Value) ([]byte, error) {
	var err error
	switch v.Kind {
	case KindNull:
		return append(buf, majorSimple|22), nil
	case KindUndefined:
		return append(buf, majorSimple|23), nil
	case KindBool:
		if v.Bool {
			return append(buf, majorSimple|21), nil
		}
		return append(buf, majorSimple|20), nil

	case KindUint:
		return writeHead(buf, majorUnsigned, v.Uint), nil
	case KindNegInt:
		return writeHead(buf, majorNegative, v.Uint), nil

	case KindBignum:
		tag := uint64(TagPositiveBignum)
		if v.Negative {
			tag = TagNegativeBignum
		}
		buf = writeHead(buf, majorTag, tag)
		buf = writeHead(buf, majorBytes, uint64(len(v.Bytes)))
		return append(buf, v.Bytes...), nil

	case KindFloat:
		return appendAutoFloat(buf, v.Float), nil

	case KindText:
		buf = writeHead(buf, majorText, uint64(len(v.Bytes)))
		return append(buf, v.Bytes...), nil
	case KindBytes:
		buf = writeHead(buf, majorBytes, uint64(len(v.Bytes)))
		return append(buf, v.Bytes...), nil

	case KindArray:
		buf = writeHead(buf, majorArray, uint64(len(v.Items)))
		for _, item := range v.Items {
			if buf, err = encodeValue(buf, item); err != nil {
				return nil, err
			}
		}
		return buf, nil

	case KindMap:
		buf = writeHead(buf, majorMap, uint64(len(v.Pairs)))
		for _, pair := range v.Pairs {
			if buf, err = encodeValue(buf, pair.Key); err != nil {
				return nil, err
			}
			if buf, err = encodeValue(buf, pair.Value); err != nil {
				return nil, err
			}
		}
		return buf, nil

	case KindTag:
		if len(v.Inner) != 1 {
			return nil, errors.New(errors.ErrCodeUnknownType,
				"tagged value must wrap exactly one item")
		}
		buf = writeHead(buf, majorTag, v.Uint)
		return encodeValue(buf, v.Inner[0])

	default:
		return nil, errors.Newf(errors.ErrCodeUnknownType,
			"unable to encode kind %s", v.Kind)
	}
}
