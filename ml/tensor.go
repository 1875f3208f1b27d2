// tensor.go - Host-Tensor mit Geraete-Zuordnung
//
// Dieses Modul enthaelt:
// - Tensor: dtype, Shape, Geraet und little-endian Rohdaten
// - Konstruktoren fuer float32/int64 und leere Puffer
// - Zugriff als []float32 / []int64 unabhaengig vom dtype
package ml

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
)

// Tensor is a dense row-major tensor. The data slice is the backing memory
// handed to the inference engine when a tensor is bound by reference.
type Tensor struct {
	dtype  DType
	shape  []int64
	device Device
	data   []byte
}

// NumElements returns the product of shape.
func NumElements(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// NewTensor wraps data without copying. len(data) must match shape and dtype.
func NewTensor(dtype DType, shape []int64, data []byte) (*Tensor, error) {
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("negative dimension in shape %v", shape)
		}
	}
	if want := NumElements(shape) * int64(dtype.Size()); int64(len(data)) != want {
		return nil, fmt.Errorf("%s tensor of shape %v needs %d bytes, got %d", dtype, shape, want, len(data))
	}
	return &Tensor{dtype: dtype, shape: slices.Clone(shape), device: CPU, data: data}, nil
}

// Empty allocates a zeroed tensor.
func Empty(dtype DType, shape ...int64) *Tensor {
	return &Tensor{
		dtype:  dtype,
		shape:  slices.Clone(shape),
		device: CPU,
		data:   make([]byte, NumElements(shape)*int64(dtype.Size())),
	}
}

// FromFloat32s creates a float32 tensor.
func FromFloat32s(values []float32, shape ...int64) (*Tensor, error) {
	if int64(len(values)) != NumElements(shape) {
		return nil, fmt.Errorf("%d values do not fit shape %v", len(values), shape)
	}
	t := Empty(DTypeF32, shape...)
	for i, v := range values {
		binary.LittleEndian.PutUint32(t.data[i*4:], math.Float32bits(v))
	}
	return t, nil
}

// FromInt64s creates an int64 tensor.
func FromInt64s(values []int64, shape ...int64) (*Tensor, error) {
	if int64(len(values)) != NumElements(shape) {
		return nil, fmt.Errorf("%d values do not fit shape %v", len(values), shape)
	}
	t := Empty(DTypeI64, shape...)
	for i, v := range values {
		binary.LittleEndian.PutUint64(t.data[i*8:], uint64(v))
	}
	return t, nil
}

func (t *Tensor) DType() DType { return t.dtype }

// Shape returns a copy of the tensor shape.
func (t *Tensor) Shape() []int64 { return slices.Clone(t.shape) }

func (t *Tensor) Device() Device { return t.device }

// Bytes returns the backing memory.
func (t *Tensor) Bytes() []byte { return t.data }

// NumElements returns the number of elements.
func (t *Tensor) NumElements() int64 { return NumElements(t.shape) }

// Dim returns the size of axis i.
func (t *Tensor) Dim(i int) int64 { return t.shape[i] }

// Rank returns the number of axes.
func (t *Tensor) Rank() int { return len(t.shape) }

// Reshape returns a view of t with a different shape sharing the same data.
func (t *Tensor) Reshape(shape ...int64) (*Tensor, error) {
	if NumElements(shape) != t.NumElements() {
		return nil, fmt.Errorf("cannot reshape %v to %v", t.shape, shape)
	}
	return &Tensor{dtype: t.dtype, shape: slices.Clone(shape), device: t.device, data: t.data}, nil
}

// To returns t placed on device. Host memory is shared.
func (t *Tensor) To(device Device) *Tensor {
	if t.device == device {
		return t
	}
	return &Tensor{dtype: t.dtype, shape: t.shape, device: device, data: t.data}
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{dtype: t.dtype, shape: slices.Clone(t.shape), device: t.device, data: slices.Clone(t.data)}
}

// CopyFrom overwrites the contents of t with src. Both must agree in dtype
// and element count.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if src.dtype != t.dtype || src.NumElements() != t.NumElements() {
		return fmt.Errorf("cannot copy %s%v into %s%v", src.dtype, src.shape, t.dtype, t.shape)
	}
	copy(t.data, src.data)
	return nil
}

// Float32s decodes the elements of any numeric dtype into float32.
func (t *Tensor) Float32s() ([]float32, error) {
	f64, err := t.float64s()
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(f64))
	for i, v := range f64 {
		out[i] = float32(v)
	}
	return out, nil
}

// Int64s decodes the elements of an integer or bool tensor.
func (t *Tensor) Int64s() ([]int64, error) {
	if t.dtype.IsFloat() {
		return nil, fmt.Errorf("%s tensor cannot be read as int64", t.dtype)
	}
	if t.dtype == DTypeI64 {
		// no float64 round trip for large values
		out := make([]int64, t.NumElements())
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(t.data[i*8:]))
		}
		return out, nil
	}
	f64, err := t.float64s()
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(f64))
	for i, v := range f64 {
		out[i] = int64(v)
	}
	return out, nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(%s, %v, %s)", t.dtype, t.shape, t.device)
}
