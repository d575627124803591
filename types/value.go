// Package types defines the value codec capability and the shared data model:
// ConnectionHandle for network addressing and ServiceRecord for registry
// entries.
package types

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"

	"github.com/c360/pathcast/errors"
)

// Value is the capability a type needs to travel on a stream: a compact binary
// encoding for the typed endpoint, its inverse, and a display encoding for the
// type-erased endpoint. Implementations are selected at compile time through
// the generic parameter; there is no runtime reflection.
//
// Decode uses a value receiver and returns a fresh T so that zero values of T
// can decode without pointer gymnastics:
//
//	var zero types.F64
//	v, err := zero.Decode(payload)
type Value[T any] interface {
	// Encode serializes the value into its compact binary form.
	Encode() ([]byte, error)

	// Decode parses the binary form produced by Encode. A payload that does
	// not match the type's wire layout returns ErrMalformedPayload; this is
	// the runtime hazard when subscriber and publisher types disagree.
	Decode(data []byte) (T, error)

	fmt.Stringer
}

// F64 is a 64-bit float value. Wire layout: 8 bytes, IEEE 754, little-endian.
type F64 float64

// Encode implements Value.
func (v F64) Encode() ([]byte, error) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(float64(v)))
	return buf, nil
}

// Decode implements Value.
func (F64) Decode(data []byte) (F64, error) {
	if len(data) != 8 {
		return 0, errors.WrapInvalid(errors.ErrMalformedPayload, "F64", "Decode",
			fmt.Sprintf("expected 8 bytes, got %d", len(data)))
	}
	return F64(math.Float64frombits(binary.LittleEndian.Uint64(data))), nil
}

func (v F64) String() string {
	return strconv.FormatFloat(float64(v), 'g', -1, 64)
}

// F32 is a 32-bit float value. Wire layout: 4 bytes, IEEE 754, little-endian.
type F32 float32

// Encode implements Value.
func (v F32) Encode() ([]byte, error) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
	return buf, nil
}

// Decode implements Value.
func (F32) Decode(data []byte) (F32, error) {
	if len(data) != 4 {
		return 0, errors.WrapInvalid(errors.ErrMalformedPayload, "F32", "Decode",
			fmt.Sprintf("expected 4 bytes, got %d", len(data)))
	}
	return F32(math.Float32frombits(binary.LittleEndian.Uint32(data))), nil
}

func (v F32) String() string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}

// I64 is a signed 64-bit integer value. Wire layout: 8 bytes, two's
// complement, little-endian.
type I64 int64

// Encode implements Value.
func (v I64) Encode() ([]byte, error) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	return buf, nil
}

// Decode implements Value.
func (I64) Decode(data []byte) (I64, error) {
	if len(data) != 8 {
		return 0, errors.WrapInvalid(errors.ErrMalformedPayload, "I64", "Decode",
			fmt.Sprintf("expected 8 bytes, got %d", len(data)))
	}
	return I64(binary.LittleEndian.Uint64(data)), nil
}

func (v I64) String() string {
	return strconv.FormatInt(int64(v), 10)
}

// Bool is a boolean value. Wire layout: 1 byte, 0 or 1.
type Bool bool

// Encode implements Value.
func (v Bool) Encode() ([]byte, error) {
	if v {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}

// Decode implements Value.
func (Bool) Decode(data []byte) (Bool, error) {
	if len(data) != 1 || data[0] > 1 {
		return false, errors.WrapInvalid(errors.ErrMalformedPayload, "Bool", "Decode",
			fmt.Sprintf("expected 1 byte of 0/1, got %v", data))
	}
	return data[0] == 1, nil
}

func (v Bool) String() string {
	return strconv.FormatBool(bool(v))
}

// Str is a string value. Wire layout: raw UTF-8 bytes.
type Str string

// Encode implements Value.
func (v Str) Encode() ([]byte, error) {
	return []byte(v), nil
}

// Decode implements Value.
func (Str) Decode(data []byte) (Str, error) {
	return Str(data), nil
}

func (v Str) String() string {
	return string(v)
}

// Bytes is an opaque binary value. Wire layout: the bytes themselves.
type Bytes []byte

// Encode implements Value.
func (v Bytes) Encode() ([]byte, error) {
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Decode implements Value.
func (Bytes) Decode(data []byte) (Bytes, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (v Bytes) String() string {
	return hex.EncodeToString(v)
}
