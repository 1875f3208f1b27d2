// backend.go - Session-Interface und Registrierung fuer Inferenz-Backends
// Dieses Modul definiert das Session-Interface, IO-Bindings und die
// Backend-Factory-Funktionen.
package ml

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// ValueInfo describes one declared model input or output. Dims holds the
// declared dimensions verbatim: integer literals or symbolic names.
type ValueInfo struct {
	Name  string
	DType DType
	Dims  []string
}

// Session is an inference session bound to one model file.
type Session interface {
	// Close frees all memory associated with this session
	Close() error

	ModelPath() string

	Inputs() []ValueInfo
	Outputs() []ValueInfo

	// Providers lists the execution providers in priority order as
	// reported by the engine.
	Providers() []string

	// ProviderOptions returns the options the engine reports per provider.
	ProviderOptions() map[string]map[string]string

	// SetProviders recreates the session with the given providers. options
	// is parallel to providers.
	SetProviders(providers []string, options []map[string]string) error

	// Run executes with host inputs and returns freshly allocated outputs.
	Run(inputs map[string]*Tensor) (map[string]*Tensor, error)

	// RunWithBinding executes with inputs and outputs bound by reference.
	// Results are written into the bound output tensors.
	RunWithBinding(b *Binding) error
}

// Binding maps input and output names to tensors whose memory is handed
// to the engine without copying.
type Binding struct {
	inputs  map[string]*Tensor
	outputs map[string]*Tensor
}

func NewBinding() *Binding {
	return &Binding{inputs: map[string]*Tensor{}, outputs: map[string]*Tensor{}}
}

func (b *Binding) BindInput(name string, t *Tensor)  { b.inputs[name] = t }
func (b *Binding) BindOutput(name string, t *Tensor) { b.outputs[name] = t }

func (b *Binding) Input(name string) (*Tensor, bool) {
	t, ok := b.inputs[name]
	return t, ok
}

func (b *Binding) Output(name string) (*Tensor, bool) {
	t, ok := b.outputs[name]
	return t, ok
}

// InputNames returns the bound input names sorted.
func (b *Binding) InputNames() []string { return sortedKeys(b.inputs) }

// OutputNames returns the bound output names sorted.
func (b *Binding) OutputNames() []string { return sortedKeys(b.outputs) }

func sortedKeys(m map[string]*Tensor) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SessionParams controls how a backend creates a session
type SessionParams struct {
	// Providers in priority order, CPU is used when empty
	Providers []string

	// ProviderOptions is parallel to Providers
	ProviderOptions []map[string]string

	// NumThreads sets the intra-op thread count, 0 lets the engine decide
	NumThreads int
}

// Provider returns the first provider, CPUExecutionProvider when unset.
func (p SessionParams) Provider() string {
	if len(p.Providers) == 0 {
		return CPUExecutionProvider
	}
	return p.Providers[0]
}

var backends = make(map[string]func(string, SessionParams) (Session, error))

// RegisterBackend registers a session factory function.
func RegisterBackend(name string, f func(string, SessionParams) (Session, error)) {
	if _, ok := backends[name]; ok {
		panic("backend: backend already registered")
	}

	backends[name] = f
}

// Backends returns the registered backend names.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewSession creates a session for modelPath using the onnxruntime backend.
func NewSession(modelPath string, params SessionParams) (Session, error) {
	return NewSessionWith("onnxruntime", modelPath, params)
}

// NewSessionWith creates a session with the named backend.
func NewSessionWith(name, modelPath string, params SessionParams) (Session, error) {
	if backend, ok := backends[name]; ok {
		return backend(modelPath, params)
	}

	return nil, fmt.Errorf("unsupported backend %q, available: %s", name, strings.Join(Backends(), ", "))
}
