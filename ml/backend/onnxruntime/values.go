//go:build cgo

// MODUL: onnxruntime/values
// ZWECK: Umwandlung zwischen ml.Tensor und onnxruntime_go Values
// HINWEISE: wrapValue teilt den Go-Speicher (IO-Binding), copyValue kopiert

package onnxruntime

import (
	"fmt"
	"slices"
	"unsafe"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/ollama/ortdiffusion/ml"
)

func elementType(d ml.DType) (ort.TensorElementDataType, error) {
	if d.ONNX() == 0 {
		return 0, fmt.Errorf("dtype %s has no onnx equivalent", d)
	}
	// ONNXTensorElementDataType folgt der Nummerierung aus onnx.proto
	return ort.TensorElementDataType(d.ONNX()), nil
}

// wrapValue bindet t per Referenz: ONNX Runtime liest bzw. schreibt direkt
// in t.Bytes().
func wrapValue(t *ml.Tensor) (ort.Value, error) {
	typ, err := elementType(t.DType())
	if err != nil {
		return nil, err
	}
	return ort.NewCustomDataTensor(ort.NewShape(t.Shape()...), t.Bytes(), typ)
}

// copyValue uebergibt eine Host-Kopie von t.
func copyValue(t *ml.Tensor) (ort.Value, error) {
	switch t.DType() {
	case ml.DTypeF32:
		data, err := t.Float32s()
		if err != nil {
			return nil, err
		}
		return ort.NewTensor(ort.NewShape(t.Shape()...), data)
	case ml.DTypeI64:
		data, err := t.Int64s()
		if err != nil {
			return nil, err
		}
		return ort.NewTensor(ort.NewShape(t.Shape()...), data)
	}

	typ, err := elementType(t.DType())
	if err != nil {
		return nil, err
	}
	return ort.NewCustomDataTensor(ort.NewShape(t.Shape()...), slices.Clone(t.Bytes()), typ)
}

func rawBytes[T any](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*int(unsafe.Sizeof(zero)))
}

func typed[T any](dtype ml.DType, shape ort.Shape, data []T) (*ml.Tensor, error) {
	return ml.NewTensor(dtype, shape, slices.Clone(rawBytes(data)))
}

// fromValue kopiert einen von ONNX Runtime allozierten Output.
func fromValue(v ort.Value) (*ml.Tensor, error) {
	switch t := v.(type) {
	case *ort.Tensor[float32]:
		return typed(ml.DTypeF32, t.GetShape(), t.GetData())
	case *ort.Tensor[float64]:
		return typed(ml.DTypeF64, t.GetShape(), t.GetData())
	case *ort.Tensor[int64]:
		return typed(ml.DTypeI64, t.GetShape(), t.GetData())
	case *ort.Tensor[int32]:
		return typed(ml.DTypeI32, t.GetShape(), t.GetData())
	case *ort.Tensor[int16]:
		return typed(ml.DTypeI16, t.GetShape(), t.GetData())
	case *ort.Tensor[int8]:
		return typed(ml.DTypeI8, t.GetShape(), t.GetData())
	case *ort.Tensor[uint8]:
		return typed(ml.DTypeU8, t.GetShape(), t.GetData())
	case *ort.CustomDataTensor:
		dtype := ml.DTypeFromONNX(int32(t.DataType()))
		if dtype == ml.DTypeOther {
			return nil, fmt.Errorf("unsupported element type %d", t.DataType())
		}
		return ml.NewTensor(dtype, t.GetShape(), slices.Clone(t.GetData()))
	case nil:
		return nil, fmt.Errorf("no value")
	default:
		return nil, fmt.Errorf("unsupported output value %T", v)
	}
}
