package ml

import (
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParseDType(t *testing.T) {
	tests := []struct {
		in   string
		want DType
	}{
		{"tensor(float)", DTypeF32},
		{"tensor(float16)", DTypeF16},
		{"fp16", DTypeF16},
		{"bf16", DTypeBF16},
		{"tensor(int64)", DTypeI64},
		{"tensor(double)", DTypeF64},
		{"bool", DTypeBool},
	}
	for _, tt := range tests {
		got, err := ParseDType(tt.in)
		if err != nil {
			t.Fatalf("ParseDType(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseDType(%q) = %s, erwartet %s", tt.in, got, tt.want)
		}
		if DTypeFromONNX(got.ONNX()) != got {
			t.Errorf("ONNX-Roundtrip fuer %s fehlgeschlagen", got)
		}
	}

	if _, err := ParseDType("complex64"); err == nil {
		t.Error("unbekannter dtype sollte fehlschlagen")
	}
}

func TestCast(t *testing.T) {
	src, err := FromFloat32s([]float32{0, 1.5, -2, 1024}, 2, 2)
	require.NoError(t, err)

	for _, dtype := range []DType{DTypeF16, DTypeBF16, DTypeF64} {
		t.Run(dtype.String(), func(t *testing.T) {
			c, err := src.Cast(dtype)
			require.NoError(t, err)
			if c.DType() != dtype {
				t.Fatalf("dtype = %s, erwartet %s", c.DType(), dtype)
			}
			if len(c.Bytes()) != 4*dtype.Size() {
				t.Fatalf("%d Bytes, erwartet %d", len(c.Bytes()), 4*dtype.Size())
			}

			back, err := c.Float32s()
			require.NoError(t, err)
			if diff := cmp.Diff([]float32{0, 1.5, -2, 1024}, back); diff != "" {
				t.Errorf("Werte nach Cast (-want +got):\n%s", diff)
			}
		})
	}

	same, err := src.Cast(DTypeF32)
	require.NoError(t, err)
	if same != src {
		t.Error("Cast auf gleichen dtype sollte keine Kopie anlegen")
	}

	ints, err := src.Cast(DTypeI64)
	require.NoError(t, err)
	got, err := ints.Int64s()
	require.NoError(t, err)
	if diff := cmp.Diff([]int64{0, 1, -2, 1024}, got); diff != "" {
		t.Errorf("int64 (-want +got):\n%s", diff)
	}
}

func TestTensorReshape(t *testing.T) {
	x, err := FromInt64s([]int64{1, 2, 3, 4, 5, 6}, 2, 3)
	require.NoError(t, err)

	y, err := x.Reshape(3, 2)
	require.NoError(t, err)
	if &y.Bytes()[0] != &x.Bytes()[0] {
		t.Error("Reshape sollte Speicher teilen")
	}
	if _, err := x.Reshape(4); err == nil {
		t.Error("Reshape mit falscher Groesse sollte fehlschlagen")
	}

	if _, err := NewTensor(DTypeF32, []int64{2}, make([]byte, 7)); err == nil {
		t.Error("NewTensor mit falscher Laenge sollte fehlschlagen")
	}
}

func TestParseDevice(t *testing.T) {
	tests := []struct {
		in   string
		want Device
		err  bool
	}{
		{in: "cpu", want: CPU},
		{in: "", want: CPU},
		{in: "cuda", want: Device{Type: "cuda"}},
		{in: "cuda:1", want: Device{Type: "cuda", Index: 1}},
		{in: "2", want: Device{Type: "cuda", Index: 2}},
		{in: "cuda:x", err: true},
		{in: "mps", err: true},
	}
	for _, tt := range tests {
		got, err := ParseDevice(tt.in)
		if tt.err {
			if err == nil {
				t.Errorf("ParseDevice(%q) sollte fehlschlagen", tt.in)
			}
			continue
		}
		require.NoError(t, err)
		if got != tt.want {
			t.Errorf("ParseDevice(%q) = %v, erwartet %v", tt.in, got, tt.want)
		}
	}
}

func TestProviderForDevice(t *testing.T) {
	p, opts := ProviderForDevice(Device{Type: "cuda", Index: 1})
	if p != CUDAExecutionProvider || opts["device_id"] != "1" {
		t.Errorf("ProviderForDevice = %s %v", p, opts)
	}
	if d := DeviceForProvider(p, opts); d != (Device{Type: "cuda", Index: 1}) {
		t.Errorf("DeviceForProvider = %v", d)
	}

	p, _ = ProviderForDevice(CPU)
	if p != CPUExecutionProvider || IsGPUProvider(p) {
		t.Errorf("CPU Provider = %s", p)
	}
	if !IsGPUProvider(TensorrtExecutionProvider) || !IsGPUProvider(ROCMExecutionProvider) {
		t.Error("TensorRT und ROCm sind GPU-Provider")
	}
}

func TestDump(t *testing.T) {
	tests := []struct {
		name string
		x    func() (*Tensor, error)
		opts []DumpOptions
		want string
	}{
		{
			name: "float",
			x:    func() (*Tensor, error) { return FromFloat32s([]float32{1, -2, 3, 4}, 2, 2) },
			opts: []DumpOptions{DumpWithPrecision(1)},
			want: "min=-2.0 max=4.0 mean=1.5 [1.0 -2.0 3.0 4.0]",
		},
		{
			name: "gekuerzt",
			x:    func() (*Tensor, error) { return FromInt64s([]int64{0, 1, 2, 3, 4, 5, 6, 7}, 8) },
			opts: []DumpOptions{DumpWithThreshold(4), DumpWithEdgeItems(2)},
			want: "min=0 max=7 mean=3.5 [0 1 ... 6 7]",
		},
		{
			name: "skalar",
			x:    func() (*Tensor, error) { return FromInt64s([]int64{981}) },
			want: "min=981 max=981 mean=981 [981]",
		},
		{
			name: "leer",
			x:    func() (*Tensor, error) { return Empty(DTypeF32, 0, 4), nil },
			want: "[]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, err := tt.x()
			require.NoError(t, err)
			if got := Dump(x, tt.opts...); got != tt.want {
				t.Errorf("Dump = %q, erwartet %q", got, tt.want)
			}
		})
	}
}

func TestBinding(t *testing.T) {
	b := NewBinding()
	b.BindInput("sample", Empty(DTypeF32, 1))
	b.BindInput("timestep", Empty(DTypeI64, 1))
	b.BindOutput("out_sample", Empty(DTypeF32, 1))

	if diff := cmp.Diff([]string{"sample", "timestep"}, b.InputNames()); diff != "" {
		t.Errorf("InputNames (-want +got):\n%s", diff)
	}
	if _, ok := b.Output("out_sample"); !ok {
		t.Error("Output fehlt")
	}
}

func TestNewSessionWithUnknownBackend(t *testing.T) {
	RegisterBackend("ml-test", func(string, SessionParams) (Session, error) { return nil, nil })
	t.Cleanup(func() { delete(backends, "ml-test") })

	if !slices.Contains(Backends(), "ml-test") {
		t.Fatalf("Backends() = %v, erwartet ml-test", Backends())
	}

	_, err := NewSessionWith("tensorflow", "model.onnx", SessionParams{})
	if err == nil || !strings.Contains(err.Error(), "ml-test") {
		t.Errorf("Fehler = %v, erwartet Liste der Backends", err)
	}
}

func TestNumElements(t *testing.T) {
	tests := []struct {
		shape []int64
		want  int64
	}{
		{nil, 1},
		{[]int64{2, 4, 64, 64}, 32768},
		{[]int64{3, 0}, 0},
	}
	for _, tt := range tests {
		if got := NumElements(tt.shape); got != tt.want {
			t.Errorf("NumElements(%v) = %d, erwartet %d", tt.shape, got, tt.want)
		}
	}
	if got := len(Empty(DTypeF16, 2, 3).Bytes()); got != 12 {
		t.Errorf("Empty(f16, 2, 3) hat %d Bytes, erwartet 12", got)
	}
}
