// decode.go - Protobuf-Dekodierung der ONNX-Strukturen
//
// Feldnummern nach onnx.proto (ModelProto, GraphProto, ValueInfoProto,
// TypeProto, TensorShapeProto, TensorProto). Unbekannte Felder werden
// uebersprungen, Gewichtsdaten nicht kopiert.
package onnx

import (
	"errors"
	"fmt"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformed = errors.New("malformed onnx model")

// ModelProto
const (
	modelIRVersion       = 1
	modelProducerName    = 2
	modelProducerVersion = 3
	modelGraph           = 7
	modelOpsetImport     = 8
	modelMetadataProps   = 14
)

// GraphProto
const (
	graphName        = 2
	graphInitializer = 5
	graphInput       = 11
	graphOutput      = 12
)

// TensorProto
const (
	tensorDims         = 1
	tensorDataType     = 2
	tensorName         = 8
	tensorExternalData = 13
	tensorDataLocation = 14
)

// fields visits every field of one message.
func fields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
		}
		if err := fn(num, typ, b[:m]); err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func bytesValue(v []byte) ([]byte, error) {
	s, n := protowire.ConsumeBytes(v)
	if n < 0 {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	return s, nil
}

func varintValue(v []byte) (uint64, error) {
	x, n := protowire.ConsumeVarint(v)
	if n < 0 {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	return x, nil
}

// Decode parses a serialized ModelProto.
func Decode(b []byte) (*Model, error) {
	m := &Model{Opsets: map[string]int64{}, Metadata: map[string]string{}}
	sawGraph := false

	err := fields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch {
		case num == modelIRVersion && typ == protowire.VarintType:
			x, err := varintValue(v)
			m.IRVersion = int64(x)
			return err
		case num == modelProducerName && typ == protowire.BytesType:
			s, err := bytesValue(v)
			m.ProducerName = string(s)
			return err
		case num == modelProducerVersion && typ == protowire.BytesType:
			s, err := bytesValue(v)
			m.ProducerVersion = string(s)
			return err
		case num == modelOpsetImport && typ == protowire.BytesType:
			s, err := bytesValue(v)
			if err != nil {
				return err
			}
			return decodeOpset(s, m.Opsets)
		case num == modelMetadataProps && typ == protowire.BytesType:
			s, err := bytesValue(v)
			if err != nil {
				return err
			}
			return decodeEntry(s, m.Metadata)
		case num == modelGraph && typ == protowire.BytesType:
			s, err := bytesValue(v)
			if err != nil {
				return err
			}
			sawGraph = true
			return decodeGraph(s, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !sawGraph {
		return nil, fmt.Errorf("%w: no graph", ErrMalformed)
	}

	// inputs that are initializers are weights, not runtime inputs
	names := make(map[string]bool, len(m.Initializers))
	for _, t := range m.Initializers {
		names[t.Name] = true
	}
	m.Inputs = slices.DeleteFunc(m.Inputs, func(v ValueInfo) bool { return names[v.Name] })
	return m, nil
}

func decodeOpset(b []byte, opsets map[string]int64) error {
	var domain string
	var version int64
	err := fields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch {
		case num == 1 && typ == protowire.BytesType:
			s, err := bytesValue(v)
			domain = string(s)
			return err
		case num == 2 && typ == protowire.VarintType:
			x, err := varintValue(v)
			version = int64(x)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	if domain == "" {
		domain = "ai.onnx"
	}
	opsets[domain] = version
	return nil
}

// decodeEntry parses a StringStringEntryProto into kv.
func decodeEntry(b []byte, kv map[string]string) error {
	var key, value string
	err := fields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		s, err := bytesValue(v)
		switch num {
		case 1:
			key = string(s)
		case 2:
			value = string(s)
		}
		return err
	})
	if err != nil {
		return err
	}
	kv[key] = value
	return nil
}

func decodeGraph(b []byte, m *Model) error {
	return fields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		s, err := bytesValue(v)
		if err != nil {
			return err
		}

		switch num {
		case graphName:
			m.GraphName = string(s)
		case graphInput, graphOutput:
			vi, err := decodeValueInfo(s)
			if err != nil {
				return err
			}
			if num == graphInput {
				m.Inputs = append(m.Inputs, vi)
			} else {
				m.Outputs = append(m.Outputs, vi)
			}
		case graphInitializer:
			t, err := decodeTensor(s)
			if err != nil {
				return err
			}
			m.Initializers = append(m.Initializers, t)
		}
		return nil
	})
}

// decodeValueInfo reads ValueInfoProto{name=1, type=2}. Only tensor types
// (TypeProto.tensor_type=1) carry a shape.
func decodeValueInfo(b []byte) (ValueInfo, error) {
	var vi ValueInfo
	err := fields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		s, err := bytesValue(v)
		if err != nil {
			return err
		}
		switch num {
		case 1:
			vi.Name = string(s)
		case 2:
			return fields(s, func(num protowire.Number, typ protowire.Type, v []byte) error {
				if num != 1 || typ != protowire.BytesType {
					return nil
				}
				tt, err := bytesValue(v)
				if err != nil {
					return err
				}
				return decodeTensorType(tt, &vi)
			})
		}
		return nil
	})
	return vi, err
}

// decodeTensorType reads TypeProto.Tensor{elem_type=1, shape=2}.
func decodeTensorType(b []byte, vi *ValueInfo) error {
	return fields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch {
		case num == 1 && typ == protowire.VarintType:
			x, err := varintValue(v)
			vi.ElemType = int32(x)
			return err
		case num == 2 && typ == protowire.BytesType:
			shape, err := bytesValue(v)
			if err != nil {
				return err
			}
			// TensorShapeProto{dim=1}
			return fields(shape, func(num protowire.Number, typ protowire.Type, v []byte) error {
				if num != 1 || typ != protowire.BytesType {
					return nil
				}
				s, err := bytesValue(v)
				if err != nil {
					return err
				}
				d, err := decodeDim(s)
				if err != nil {
					return err
				}
				vi.Dims = append(vi.Dims, d)
				return nil
			})
		}
		return nil
	})
}

// decodeDim reads Dimension{dim_value=1, dim_param=2}.
func decodeDim(b []byte) (Dim, error) {
	var d Dim
	err := fields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch {
		case num == 1 && typ == protowire.VarintType:
			x, err := varintValue(v)
			d.Value = int64(x)
			d.HasValue = true
			return err
		case num == 2 && typ == protowire.BytesType:
			s, err := bytesValue(v)
			d.Param = string(s)
			return err
		}
		return nil
	})
	return d, err
}

func decodeTensor(b []byte) (Initializer, error) {
	var t Initializer
	external := false
	entries := map[string]string{}

	err := fields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch {
		case num == tensorDims && typ == protowire.VarintType:
			x, err := varintValue(v)
			t.Dims = append(t.Dims, int64(x))
			return err
		case num == tensorDims && typ == protowire.BytesType:
			// packed
			s, err := bytesValue(v)
			if err != nil {
				return err
			}
			for len(s) > 0 {
				x, n := protowire.ConsumeVarint(s)
				if n < 0 {
					return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
				}
				t.Dims = append(t.Dims, int64(x))
				s = s[n:]
			}
		case num == tensorDataType && typ == protowire.VarintType:
			x, err := varintValue(v)
			t.ElemType = int32(x)
			return err
		case num == tensorName && typ == protowire.BytesType:
			s, err := bytesValue(v)
			t.Name = string(s)
			return err
		case num == tensorExternalData && typ == protowire.BytesType:
			s, err := bytesValue(v)
			if err != nil {
				return err
			}
			return decodeEntry(s, entries)
		case num == tensorDataLocation && typ == protowire.VarintType:
			x, err := varintValue(v)
			external = x == 1
			return err
		}
		return nil
	})
	if err != nil {
		return t, err
	}
	if external || len(entries) > 0 {
		t.External = entries
	}
	return t, nil
}
