// cast.go - Umwandlung zwischen Tensor-Datentypen
//
// float16 ueber x448/float16, bfloat16 ueber d4l3k/go-bfloat16, alle
// anderen Typen ueber float64 als Zwischenformat.
package ml

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// Cast returns t converted to dtype. When the dtype already matches, t is
// returned unchanged and no memory is allocated.
func (t *Tensor) Cast(dtype DType) (*Tensor, error) {
	if t.dtype == dtype {
		return t, nil
	}
	if dtype.Size() == 0 {
		return nil, fmt.Errorf("cannot cast to %s", dtype)
	}

	out := Empty(dtype, t.shape...)
	out.device = t.device

	switch {
	case t.dtype == DTypeBF16 && dtype == DTypeF32:
		f32 := bfloat16.DecodeFloat32(t.data)
		for i, v := range f32 {
			binary.LittleEndian.PutUint32(out.data[i*4:], math.Float32bits(v))
		}
		return out, nil
	case t.dtype == DTypeF32 && dtype == DTypeBF16:
		f32, err := t.Float32s()
		if err != nil {
			return nil, err
		}
		copy(out.data, bfloat16.EncodeFloat32(f32))
		return out, nil
	}

	values, err := t.float64s()
	if err != nil {
		return nil, err
	}
	if err := out.putFloat64s(values); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Tensor) float64s() ([]float64, error) {
	n := int(t.NumElements())
	out := make([]float64, n)
	b := t.data

	switch t.dtype {
	case DTypeF32:
		for i := range out {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:])))
		}
	case DTypeF64:
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
		}
	case DTypeF16:
		for i := range out {
			out[i] = float64(float16.Frombits(binary.LittleEndian.Uint16(b[i*2:])).Float32())
		}
	case DTypeBF16:
		for i, v := range bfloat16.DecodeFloat32(b) {
			out[i] = float64(v)
		}
	case DTypeI64:
		for i := range out {
			out[i] = float64(int64(binary.LittleEndian.Uint64(b[i*8:])))
		}
	case DTypeI32:
		for i := range out {
			out[i] = float64(int32(binary.LittleEndian.Uint32(b[i*4:])))
		}
	case DTypeI16:
		for i := range out {
			out[i] = float64(int16(binary.LittleEndian.Uint16(b[i*2:])))
		}
	case DTypeI8:
		for i := range out {
			out[i] = float64(int8(b[i]))
		}
	case DTypeU8, DTypeBool:
		for i := range out {
			out[i] = float64(b[i])
		}
	default:
		return nil, fmt.Errorf("unsupported dtype %s", t.dtype)
	}
	return out, nil
}

func (t *Tensor) putFloat64s(values []float64) error {
	b := t.data

	switch t.dtype {
	case DTypeF32:
		for i, v := range values {
			binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(float32(v)))
		}
	case DTypeF64:
		for i, v := range values {
			binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(v))
		}
	case DTypeF16:
		for i, v := range values {
			binary.LittleEndian.PutUint16(b[i*2:], float16.Fromfloat32(float32(v)).Bits())
		}
	case DTypeBF16:
		f32 := make([]float32, len(values))
		for i, v := range values {
			f32[i] = float32(v)
		}
		copy(b, bfloat16.EncodeFloat32(f32))
	case DTypeI64:
		for i, v := range values {
			binary.LittleEndian.PutUint64(b[i*8:], uint64(int64(v)))
		}
	case DTypeI32:
		for i, v := range values {
			binary.LittleEndian.PutUint32(b[i*4:], uint32(int32(v)))
		}
	case DTypeI16:
		for i, v := range values {
			binary.LittleEndian.PutUint16(b[i*2:], uint16(int16(v)))
		}
	case DTypeI8:
		for i, v := range values {
			b[i] = byte(int8(v))
		}
	case DTypeU8:
		for i, v := range values {
			b[i] = byte(v)
		}
	case DTypeBool:
		for i, v := range values {
			if v != 0 {
				b[i] = 1
			}
		}
	default:
		return fmt.Errorf("unsupported dtype %s", t.dtype)
	}
	return nil
}
