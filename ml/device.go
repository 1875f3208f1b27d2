// device.go
// Dieses Modul enthaelt die Geraete-Beschreibung und die Zuordnung
// zwischen Geraeten und ONNX Runtime Execution Providern.

package ml

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	CPUExecutionProvider      = "CPUExecutionProvider"
	CUDAExecutionProvider     = "CUDAExecutionProvider"
	TensorrtExecutionProvider = "TensorrtExecutionProvider"
	ROCMExecutionProvider     = "ROCMExecutionProvider"
	CoreMLExecutionProvider   = "CoreMLExecutionProvider"
	DirectMLExecutionProvider = "DmlExecutionProvider"
)

// Device identifies where a tensor lives.
type Device struct {
	// Type is "cpu" or "cuda"
	Type string
	// Index is the device ordinal, ignored for cpu
	Index int
}

var CPU = Device{Type: "cpu"}

func (d Device) String() string {
	if d.Type == "cpu" {
		return "cpu"
	}
	return d.Type + ":" + strconv.Itoa(d.Index)
}

// IsGPU reports whether the device is not the host.
func (d Device) IsGPU() bool { return d.Type != "cpu" }

// ParseDevice parses "cpu", "cuda", "cuda:1" or a bare ordinal "1".
func ParseDevice(s string) (Device, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "cpu" {
		return CPU, nil
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return Device{Type: "cuda", Index: n}, nil
	}

	typ, idx, found := strings.Cut(s, ":")
	switch typ {
	case "cuda", "gpu":
		typ = "cuda"
	default:
		return Device{}, fmt.Errorf("unsupported device %q", s)
	}

	d := Device{Type: typ}
	if found {
		n, err := strconv.Atoi(idx)
		if err != nil || n < 0 {
			return Device{}, fmt.Errorf("invalid device index in %q", s)
		}
		d.Index = n
	}
	return d, nil
}

// IsGPUProvider reports whether provider runs on a device other than the
// host and therefore benefits from bound device buffers.
func IsGPUProvider(provider string) bool {
	switch provider {
	case CUDAExecutionProvider, TensorrtExecutionProvider, ROCMExecutionProvider:
		return true
	}
	return false
}

// ProviderForDevice returns the execution provider and its options that
// place a session on d.
func ProviderForDevice(d Device) (string, map[string]string) {
	if !d.IsGPU() {
		return CPUExecutionProvider, map[string]string{}
	}
	return CUDAExecutionProvider, map[string]string{"device_id": strconv.Itoa(d.Index)}
}

// DeviceForProvider derives the device of a session from its first
// provider and that provider's options.
func DeviceForProvider(provider string, options map[string]string) Device {
	if !IsGPUProvider(provider) {
		return CPU
	}
	d := Device{Type: "cuda"}
	if id, ok := options["device_id"]; ok {
		if n, err := strconv.Atoi(id); err == nil {
			d.Index = n
		}
	}
	return d
}
