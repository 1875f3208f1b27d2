// Package mltest provides an in-memory ml.Session for tests.
package mltest

import (
	"fmt"
	"maps"
	"slices"

	"github.com/ollama/ortdiffusion/ml"
)

// Func computes the outputs of a fake model.
type Func func(inputs map[string]*ml.Tensor) (map[string]*ml.Tensor, error)

// Session is a deterministic ml.Session driven by a Go function.
type Session struct {
	Path    string
	In, Out []ml.ValueInfo
	Fn      Func

	providers []string
	options   map[string]map[string]string

	// IgnoreProviders makes SetProviders a silent no-op, like an engine
	// that could not load the requested provider.
	IgnoreProviders bool

	Runs        int
	BindingRuns int
	Closed      bool
}

// New returns a CPU session.
func New(path string, in, out []ml.ValueInfo, fn Func) *Session {
	return &Session{
		Path:      path,
		In:        in,
		Out:       out,
		Fn:        fn,
		providers: []string{ml.CPUExecutionProvider},
		options:   map[string]map[string]string{ml.CPUExecutionProvider: {}},
	}
}

// WithProvider switches the session to provider before first use.
func (s *Session) WithProvider(provider string, options map[string]string) *Session {
	s.providers = []string{provider, ml.CPUExecutionProvider}
	s.options = map[string]map[string]string{provider: maps.Clone(options), ml.CPUExecutionProvider: {}}
	return s
}

func (s *Session) Close() error {
	s.Closed = true
	return nil
}

func (s *Session) ModelPath() string       { return s.Path }
func (s *Session) Inputs() []ml.ValueInfo  { return s.In }
func (s *Session) Outputs() []ml.ValueInfo { return s.Out }
func (s *Session) Providers() []string     { return slices.Clone(s.providers) }

func (s *Session) ProviderOptions() map[string]map[string]string {
	out := make(map[string]map[string]string, len(s.options))
	for k, v := range s.options {
		out[k] = maps.Clone(v)
	}
	return out
}

func (s *Session) SetProviders(providers []string, options []map[string]string) error {
	if s.IgnoreProviders {
		return nil
	}
	s.providers = slices.Clone(providers)
	s.options = make(map[string]map[string]string, len(providers))
	for i, p := range providers {
		opts := map[string]string{}
		if i < len(options) {
			opts = maps.Clone(options[i])
		}
		s.options[p] = opts
	}
	return nil
}

func (s *Session) Run(inputs map[string]*ml.Tensor) (map[string]*ml.Tensor, error) {
	s.Runs++
	if err := s.checkInputs(inputs); err != nil {
		return nil, err
	}
	return s.Fn(inputs)
}

func (s *Session) RunWithBinding(b *ml.Binding) error {
	s.BindingRuns++

	inputs := make(map[string]*ml.Tensor)
	for _, name := range b.InputNames() {
		t, _ := b.Input(name)
		inputs[name] = t
	}
	if err := s.checkInputs(inputs); err != nil {
		return err
	}

	results, err := s.Fn(inputs)
	if err != nil {
		return err
	}

	for _, name := range b.OutputNames() {
		dst, _ := b.Output(name)
		src, ok := results[name]
		if !ok {
			return fmt.Errorf("model produced no output %q", name)
		}
		if !slices.Equal(src.Shape(), dst.Shape()) {
			return fmt.Errorf("output %q has shape %v, bound buffer %v", name, src.Shape(), dst.Shape())
		}
		src, err = src.Cast(dst.DType())
		if err != nil {
			return err
		}
		if err := dst.CopyFrom(src); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) checkInputs(inputs map[string]*ml.Tensor) error {
	for _, in := range s.In {
		t, ok := inputs[in.Name]
		if !ok {
			return fmt.Errorf("missing input %q", in.Name)
		}
		if t.DType() != in.DType {
			return fmt.Errorf("input %q is %s, model expects %s", in.Name, t.DType(), in.DType)
		}
	}
	return nil
}
