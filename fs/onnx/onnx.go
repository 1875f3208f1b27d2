// Package onnx - Metadaten-Leser fuer ONNX-Modelldateien
//
// Dieses Modul definiert die Kernstrukturen:
// - Model: Producer, Opsets, Metadaten, deklarierte Inputs/Outputs
// - ValueInfo/Dim: Elementtyp und Dimensionen (dim_value oder dim_param)
// - Initializer: Gewichte inkl. Verweisen auf externe Datendateien
// - Open/Decode: Laedt die Metadaten aus einer Datei bzw. einem Puffer
package onnx

import (
	"fmt"
	"os"
	"slices"
	"strconv"

	"github.com/ollama/ortdiffusion/ml"
)

// Model holds the metadata of an ONNX model. Weight data is not retained.
type Model struct {
	IRVersion       int64
	ProducerName    string
	ProducerVersion string
	Opsets          map[string]int64
	Metadata        map[string]string

	GraphName    string
	Inputs       []ValueInfo
	Outputs      []ValueInfo
	Initializers []Initializer
}

// ValueInfo describes a graph input or output.
type ValueInfo struct {
	Name     string
	ElemType int32
	Dims     []Dim
}

// Dim is one declared tensor dimension.
type Dim struct {
	Value    int64
	Param    string
	HasValue bool
}

// String returns the symbolic name, the literal size, or "?" when the
// model leaves the dimension unspecified.
func (d Dim) String() string {
	switch {
	case d.Param != "":
		return d.Param
	case d.HasValue:
		return strconv.FormatInt(d.Value, 10)
	default:
		return "?"
	}
}

// Initializer is a named weight tensor.
type Initializer struct {
	Name     string
	ElemType int32
	Dims     []int64
	// External holds the external_data entries (location, offset, length)
	External map[string]string
}

// IsExternal reports whether the tensor data lives in a separate file.
func (i Initializer) IsExternal() bool {
	_, ok := i.External["location"]
	return ok
}

// Open reads the metadata of the model at path.
func Open(path string) (*Model, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	m, err := Decode(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ExternalDataFiles returns the distinct external data locations, relative
// to the model file, in first-use order.
func (m *Model) ExternalDataFiles() []string {
	var files []string
	for _, t := range m.Initializers {
		if loc, ok := t.External["location"]; ok && !slices.Contains(files, loc) {
			files = append(files, loc)
		}
	}
	return files
}

// Info converts v to the engine-neutral description used by sessions.
func (v ValueInfo) Info() ml.ValueInfo {
	dims := make([]string, len(v.Dims))
	for i, d := range v.Dims {
		dims[i] = d.String()
	}
	return ml.ValueInfo{Name: v.Name, DType: ml.DTypeFromONNX(v.ElemType), Dims: dims}
}

// InputInfo returns the declared inputs as ml.ValueInfo.
func (m *Model) InputInfo() []ml.ValueInfo {
	return valueInfos(m.Inputs)
}

// OutputInfo returns the declared outputs as ml.ValueInfo.
func (m *Model) OutputInfo() []ml.ValueInfo {
	return valueInfos(m.Outputs)
}

func valueInfos(vs []ValueInfo) []ml.ValueInfo {
	out := make([]ml.ValueInfo, len(vs))
	for i, v := range vs {
		out[i] = v.Info()
	}
	return out
}
