// types.go - Datentypen und Konstanten fuer Tensor-Elemente
// Dieses Modul definiert DType samt Groesse, Namen und Zuordnung zu den
// ONNX-Elementtypen.
package ml

import (
	"fmt"
	"strings"
)

// DType represents the data type of tensor elements.
type DType int

const (
	DTypeOther DType = iota
	DTypeF32
	DTypeF16
	DTypeBF16
	DTypeF64
	DTypeI64
	DTypeI32
	DTypeI16
	DTypeI8
	DTypeU8
	DTypeBool
)

var dtypeNames = map[DType]string{
	DTypeOther: "other",
	DTypeF32:   "float32",
	DTypeF16:   "float16",
	DTypeBF16:  "bfloat16",
	DTypeF64:   "float64",
	DTypeI64:   "int64",
	DTypeI32:   "int32",
	DTypeI16:   "int16",
	DTypeI8:    "int8",
	DTypeU8:    "uint8",
	DTypeBool:  "bool",
}

func (d DType) String() string {
	if s, ok := dtypeNames[d]; ok {
		return s
	}
	return fmt.Sprintf("dtype(%d)", int(d))
}

// Size returns the number of bytes of one element.
func (d DType) Size() int {
	switch d {
	case DTypeF64, DTypeI64:
		return 8
	case DTypeF32, DTypeI32:
		return 4
	case DTypeF16, DTypeBF16, DTypeI16:
		return 2
	case DTypeI8, DTypeU8, DTypeBool:
		return 1
	default:
		return 0
	}
}

// IsFloat reports whether d is a floating point type.
func (d DType) IsFloat() bool {
	switch d {
	case DTypeF32, DTypeF16, DTypeBF16, DTypeF64:
		return true
	}
	return false
}

// ParseDType accepts plain names ("float16", "fp16", "f32") as well as the
// ONNX type strings ("tensor(float16)").
func ParseDType(s string) (DType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(strings.TrimPrefix(s, "tensor("), ")")

	switch s {
	case "float", "float32", "fp32", "f32":
		return DTypeF32, nil
	case "float16", "half", "fp16", "f16":
		return DTypeF16, nil
	case "bfloat16", "bf16":
		return DTypeBF16, nil
	case "double", "float64", "fp64", "f64":
		return DTypeF64, nil
	case "int64", "long":
		return DTypeI64, nil
	case "int32", "int":
		return DTypeI32, nil
	case "int16":
		return DTypeI16, nil
	case "int8":
		return DTypeI8, nil
	case "uint8":
		return DTypeU8, nil
	case "bool":
		return DTypeBool, nil
	}
	return DTypeOther, fmt.Errorf("unknown dtype %q", s)
}

// ONNX TensorProto.DataType values.
const (
	onnxFloat    = 1
	onnxUint8    = 2
	onnxInt8     = 3
	onnxInt16    = 5
	onnxInt32    = 6
	onnxInt64    = 7
	onnxBool     = 9
	onnxFloat16  = 10
	onnxDouble   = 11
	onnxBFloat16 = 16
)

// DTypeFromONNX maps an ONNX element type to a DType.
func DTypeFromONNX(elemType int32) DType {
	switch elemType {
	case onnxFloat:
		return DTypeF32
	case onnxUint8:
		return DTypeU8
	case onnxInt8:
		return DTypeI8
	case onnxInt16:
		return DTypeI16
	case onnxInt32:
		return DTypeI32
	case onnxInt64:
		return DTypeI64
	case onnxBool:
		return DTypeBool
	case onnxFloat16:
		return DTypeF16
	case onnxDouble:
		return DTypeF64
	case onnxBFloat16:
		return DTypeBF16
	default:
		return DTypeOther
	}
}

// ONNX returns the ONNX element type of d, 0 for DTypeOther.
func (d DType) ONNX() int32 {
	switch d {
	case DTypeF32:
		return onnxFloat
	case DTypeU8:
		return onnxUint8
	case DTypeI8:
		return onnxInt8
	case DTypeI16:
		return onnxInt16
	case DTypeI32:
		return onnxInt32
	case DTypeI64:
		return onnxInt64
	case DTypeBool:
		return onnxBool
	case DTypeF16:
		return onnxFloat16
	case DTypeF64:
		return onnxDouble
	case DTypeBF16:
		return onnxBFloat16
	default:
		return 0
	}
}
