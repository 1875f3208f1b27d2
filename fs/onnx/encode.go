// encode.go - Schreiben von ONNX-Metadaten
//
// Erzeugt ein ModelProto ohne Knoten und ohne Gewichtsdaten, etwa fuer
// Test-Fixtures.
package onnx

import (
	"slices"

	"google.golang.org/protobuf/encoding/protowire"
)

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendEntry(b []byte, num protowire.Number, key, value string) []byte {
	var e []byte
	e = appendString(e, 1, key)
	e = appendString(e, 2, value)
	return appendMessage(b, num, e)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Encode serializes the metadata of m as a ModelProto.
func (m *Model) Encode() []byte {
	var b []byte
	b = appendVarint(b, modelIRVersion, uint64(m.IRVersion))
	if m.ProducerName != "" {
		b = appendString(b, modelProducerName, m.ProducerName)
	}
	if m.ProducerVersion != "" {
		b = appendString(b, modelProducerVersion, m.ProducerVersion)
	}

	var graph []byte
	if m.GraphName != "" {
		graph = appendString(graph, graphName, m.GraphName)
	}
	for _, t := range m.Initializers {
		graph = appendMessage(graph, graphInitializer, encodeTensor(t))
	}
	for _, v := range m.Inputs {
		graph = appendMessage(graph, graphInput, encodeValueInfo(v))
	}
	for _, v := range m.Outputs {
		graph = appendMessage(graph, graphOutput, encodeValueInfo(v))
	}
	b = appendMessage(b, modelGraph, graph)

	domains := make([]string, 0, len(m.Opsets))
	for d := range m.Opsets {
		domains = append(domains, d)
	}
	slices.Sort(domains)
	for _, d := range domains {
		var op []byte
		if d != "ai.onnx" {
			op = appendString(op, 1, d)
		}
		op = appendVarint(op, 2, uint64(m.Opsets[d]))
		b = appendMessage(b, modelOpsetImport, op)
	}

	for _, k := range sortedKeys(m.Metadata) {
		b = appendEntry(b, modelMetadataProps, k, m.Metadata[k])
	}
	return b
}

func encodeValueInfo(v ValueInfo) []byte {
	var shape []byte
	for _, d := range v.Dims {
		var dim []byte
		switch {
		case d.Param != "":
			dim = appendString(dim, 2, d.Param)
		case d.HasValue:
			dim = appendVarint(dim, 1, uint64(d.Value))
		}
		shape = appendMessage(shape, 1, dim)
	}

	var tt []byte
	tt = appendVarint(tt, 1, uint64(v.ElemType))
	tt = appendMessage(tt, 2, shape)

	var typ []byte
	typ = appendMessage(typ, 1, tt)

	var b []byte
	b = appendString(b, 1, v.Name)
	return appendMessage(b, 2, typ)
}

func encodeTensor(t Initializer) []byte {
	var packed []byte
	for _, d := range t.Dims {
		packed = protowire.AppendVarint(packed, uint64(d))
	}

	var b []byte
	if len(packed) > 0 {
		b = appendMessage(b, tensorDims, packed)
	}
	b = appendVarint(b, tensorDataType, uint64(t.ElemType))
	b = appendString(b, tensorName, t.Name)
	if t.External != nil {
		for _, k := range sortedKeys(t.External) {
			b = appendEntry(b, tensorExternalData, k, t.External[k])
		}
		b = appendVarint(b, tensorDataLocation, 1)
	}
	return b
}
