//go:build cgo

// MODUL: onnxruntime/session
// ZWECK: ONNX Runtime Session hinter dem ml.Session-Interface
// INPUT: Modell-Pfad (.onnx), Provider-Liste, Input-Tensoren
// OUTPUT: Output-Tensoren (frisch alloziert oder in gebundene Puffer)
// NEBENEFFEKTE: Alloziert ONNX Runtime Ressourcen, GPU Memory
// ABHAENGIGKEITEN: onnxruntime_go, fs/onnx (Metadaten mit dim_param)
// HINWEISE: Nicht thread-sicher, Close() MUSS aufgerufen werden

package onnxruntime

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/ollama/ortdiffusion/envconfig"
	"github.com/ollama/ortdiffusion/fs/onnx"
	"github.com/ollama/ortdiffusion/ml"
)

var (
	runtimeInitOnce sync.Once
	runtimeInitErr  error
)

// InitRuntime initialisiert die ONNX Runtime einmalig.
func InitRuntime() error {
	runtimeInitOnce.Do(func() {
		if lib := envconfig.ORTLibrary(); lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		runtimeInitErr = ort.InitializeEnvironment()
	})
	return runtimeInitErr
}

func init() {
	ml.RegisterBackend("onnxruntime", New)
}

// Session verwaltet eine ONNX Runtime Inference Session.
type Session struct {
	path    string
	model   *onnx.Model
	inputs  []ml.ValueInfo
	outputs []ml.ValueInfo
	threads int

	inner     *ort.DynamicAdvancedSession
	providers []string
	options   map[string]map[string]string
}

// New erstellt eine Session fuer das Modell unter path.
func New(path string, params ml.SessionParams) (ml.Session, error) {
	if err := InitRuntime(); err != nil {
		return nil, fmt.Errorf("runtime init: %w", err)
	}

	// Metadaten direkt aus der Datei, GetInputOutputInfo verliert dim_param
	model, err := onnx.Open(path)
	if err != nil {
		return nil, err
	}

	s := &Session{
		path:    path,
		model:   model,
		inputs:  model.InputInfo(),
		outputs: model.OutputInfo(),
		threads: params.NumThreads,
	}

	providers := params.Providers
	if len(providers) == 0 {
		providers = []string{ml.CPUExecutionProvider}
	}
	if err := s.SetProviders(providers, params.ProviderOptions); err != nil {
		return nil, err
	}
	return s, nil
}

// Model gibt die gelesenen ONNX-Metadaten zurueck
func (s *Session) Model() *onnx.Model { return s.model }

func (s *Session) ModelPath() string       { return s.path }
func (s *Session) Inputs() []ml.ValueInfo  { return s.inputs }
func (s *Session) Outputs() []ml.ValueInfo { return s.outputs }
func (s *Session) Providers() []string     { return slices.Clone(s.providers) }

func (s *Session) ProviderOptions() map[string]map[string]string {
	out := make(map[string]map[string]string, len(s.options))
	for k, v := range s.options {
		out[k] = maps.Clone(v)
	}
	return out
}

// SetProviders erstellt die Session mit neuen Providern. Provider, die
// ONNX Runtime nicht laden kann, werden uebersprungen; Providers() meldet
// danach nur die tatsaechlich aktiven.
func (s *Session) SetProviders(providers []string, options []map[string]string) error {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("session options: %w", err)
	}
	defer opts.Destroy()

	if s.threads > 0 {
		if err := opts.SetIntraOpNumThreads(s.threads); err != nil {
			return fmt.Errorf("threads setzen: %w", err)
		}
	}

	var active []string
	activeOpts := map[string]map[string]string{}
	for i, p := range providers {
		var po map[string]string
		if i < len(options) {
			po = options[i]
		}
		if err := appendProvider(opts, p, po); err != nil {
			slog.Warn("execution provider not available", "provider", p, "error", err)
			continue
		}
		active = append(active, p)
		activeOpts[p] = maps.Clone(po)
		if activeOpts[p] == nil {
			activeOpts[p] = map[string]string{}
		}
	}
	if !slices.Contains(active, ml.CPUExecutionProvider) {
		active = append(active, ml.CPUExecutionProvider)
		activeOpts[ml.CPUExecutionProvider] = map[string]string{}
	}

	inner, err := ort.NewDynamicAdvancedSession(s.path, names(s.inputs), names(s.outputs), opts)
	if err != nil {
		return fmt.Errorf("session erstellen: %w", err)
	}

	if s.inner != nil {
		s.inner.Destroy()
	}
	s.inner = inner
	s.providers = active
	s.options = activeOpts
	slog.Debug("onnxruntime session", "model", s.path, "providers", active)
	return nil
}

func appendProvider(opts *ort.SessionOptions, provider string, options map[string]string) error {
	switch provider {
	case ml.CPUExecutionProvider:
		return nil
	case ml.CUDAExecutionProvider:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return err
		}
		defer cuda.Destroy()
		if len(options) > 0 {
			if err := cuda.Update(options); err != nil {
				return err
			}
		}
		return opts.AppendExecutionProviderCUDA(cuda)
	case ml.TensorrtExecutionProvider:
		trt, err := ort.NewTensorRTProviderOptions()
		if err != nil {
			return err
		}
		defer trt.Destroy()
		if len(options) > 0 {
			if err := trt.Update(options); err != nil {
				return err
			}
		}
		return opts.AppendExecutionProviderTensorRT(trt)
	case ml.CoreMLExecutionProvider:
		return opts.AppendExecutionProviderCoreML(0)
	case ml.DirectMLExecutionProvider:
		id := 0
		if v, ok := options["device_id"]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("device_id: %w", err)
			}
			id = n
		}
		return opts.AppendExecutionProviderDirectML(id)
	default:
		return fmt.Errorf("unsupported execution provider %q", provider)
	}
}

func names(vs []ml.ValueInfo) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Name
	}
	return out
}

// Run fuehrt die Session mit Host-Kopien der Inputs aus. Outputs werden von
// ONNX Runtime alloziert und anschliessend in ml.Tensor kopiert.
func (s *Session) Run(inputs map[string]*ml.Tensor) (map[string]*ml.Tensor, error) {
	in, err := s.values(inputs, copyValue)
	if err != nil {
		return nil, err
	}
	defer destroy(in)

	out := make([]ort.Value, len(s.outputs))
	if err := s.inner.Run(in, out); err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	defer destroy(out)

	results := make(map[string]*ml.Tensor, len(out))
	for i, v := range out {
		t, err := fromValue(v)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", s.outputs[i].Name, err)
		}
		results[s.outputs[i].Name] = t
	}
	return results, nil
}

// RunWithBinding fuehrt die Session mit per Referenz gebundenen Puffern
// aus. ONNX Runtime liest und schreibt direkt in den Go-Speicher.
func (s *Session) RunWithBinding(b *ml.Binding) error {
	inputs := make(map[string]*ml.Tensor, len(s.inputs))
	for _, name := range b.InputNames() {
		t, _ := b.Input(name)
		inputs[name] = t
	}
	in, err := s.values(inputs, wrapValue)
	if err != nil {
		return err
	}
	defer destroy(in)

	out := make([]ort.Value, len(s.outputs))
	defer destroy(out)
	for i, info := range s.outputs {
		t, ok := b.Output(info.Name)
		if !ok {
			continue
		}
		if out[i], err = wrapValue(t); err != nil {
			return fmt.Errorf("output %s: %w", info.Name, err)
		}
	}

	if err := s.inner.Run(in, out); err != nil {
		return fmt.Errorf("inference: %w", err)
	}
	return nil
}

func (s *Session) values(inputs map[string]*ml.Tensor, conv func(*ml.Tensor) (ort.Value, error)) ([]ort.Value, error) {
	values := make([]ort.Value, 0, len(s.inputs))
	for _, info := range s.inputs {
		t, ok := inputs[info.Name]
		if !ok {
			destroy(values)
			return nil, fmt.Errorf("missing input %q", info.Name)
		}
		v, err := conv(t)
		if err != nil {
			destroy(values)
			return nil, fmt.Errorf("input %s: %w", info.Name, err)
		}
		values = append(values, v)
	}
	return values, nil
}

func destroy(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}

// Close gibt alle Session-Ressourcen frei
func (s *Session) Close() error {
	if s.inner == nil {
		return nil
	}
	err := s.inner.Destroy()
	s.inner = nil
	return err
}
