// part.go - Ausfuehrungsadapter fuer ein Subnetz der Pipeline
//
// Dieses Modul enthaelt:
// - Part: Session, Konfiguration, Namen/dtypes/Shapes der Ein- und Ausgaben
// - Zwei Ausfuehrungsstrategien: IO-Binding mit Puffer-Cache und Host-Kopie
// - To: Geraetewechsel ueber den Execution Provider
package diffusion

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/ollama/ortdiffusion/envconfig"
	"github.com/ollama/ortdiffusion/logutil"
	"github.com/ollama/ortdiffusion/ml"
	"github.com/ollama/ortdiffusion/symbolic"
)

// ConfigName is the per-subnetwork configuration file next to the model.
const ConfigName = "config.json"

// Part runs one subnetwork. It is not safe for concurrent use.
type Part struct {
	name    string
	session ml.Session
	config  map[string]any
	known   symbolic.Symbols

	inputNames   []string
	outputNames  []string
	inputDTypes  map[string]ml.DType
	outputDTypes map[string]ml.DType
	inputShapes  symbolic.Compiled
	outputShapes symbolic.Compiled

	providers       []string
	providerOptions map[string]map[string]string
	device          ml.Device
	useIOBinding    bool

	buffers map[string]*ml.Tensor
}

// NewPart wraps session. name identifies the subnetwork in errors and logs.
// useIOBinding nil selects managed buffers for GPU providers only, unless
// ORTDIFF_IO_BINDING says otherwise.
func NewPart(name string, session ml.Session, useIOBinding *bool) (*Part, error) {
	config, err := readConfig(filepath.Join(filepath.Dir(session.ModelPath()), ConfigName))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	p := Part{
		name:         name,
		session:      session,
		config:       config,
		known:        knownSymbols(config),
		inputDTypes:  make(map[string]ml.DType),
		outputDTypes: make(map[string]ml.DType),
		buffers:      make(map[string]*ml.Tensor),
	}

	inputs := make([]symbolic.Decl, 0, len(session.Inputs()))
	for _, in := range session.Inputs() {
		p.inputNames = append(p.inputNames, in.Name)
		p.inputDTypes[in.Name] = in.DType
		inputs = append(inputs, symbolic.Decl{Name: in.Name, Dims: in.Dims})
	}

	outputs := make([]symbolic.Decl, 0, len(session.Outputs()))
	for _, out := range session.Outputs() {
		p.outputNames = append(p.outputNames, out.Name)
		p.outputDTypes[out.Name] = out.DType
		outputs = append(outputs, symbolic.Decl{Name: out.Name, Dims: out.Dims})
	}

	p.inputShapes = symbolic.Compile(inputs, p.known)
	p.outputShapes = symbolic.Compile(outputs, p.known)

	p.readProviders()

	switch {
	case useIOBinding != nil:
		p.useIOBinding = *useIOBinding
	default:
		if enabled, ok := envconfig.IOBinding(); ok {
			p.useIOBinding = enabled
		} else {
			p.useIOBinding = ml.IsGPUProvider(p.Provider())
		}
	}

	slog.Debug("loaded subnetwork", "name", name, "model", session.ModelPath(),
		"provider", p.Provider(), "device", p.device, "io_binding", p.useIOBinding)
	return &p, nil
}

func readConfig(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	} else if err != nil {
		return nil, err
	}
	defer f.Close()

	var config map[string]any
	dec := json.NewDecoder(f)
	dec.UseNumber()
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// knownSymbols collects the integer fields of a configuration. Booleans
// and floats never name a dimension.
func knownSymbols(config map[string]any) symbolic.Symbols {
	known := make(symbolic.Symbols)
	for k, v := range config {
		if n, ok := v.(json.Number); ok {
			if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
				known[k] = i
			}
		}
	}
	return known
}

func (p *Part) readProviders() {
	p.providers = p.session.Providers()
	p.providerOptions = p.session.ProviderOptions()
	p.device = ml.DeviceForProvider(p.Provider(), p.providerOptions[p.Provider()])
}

func (p *Part) Name() string        { return p.name }
func (p *Part) Session() ml.Session { return p.session }
func (p *Part) ModelPath() string   { return p.session.ModelPath() }
func (p *Part) Device() ml.Device   { return p.device }

// Provider is the execution provider with the highest priority.
func (p *Part) Provider() string {
	if len(p.providers) == 0 {
		return ml.CPUExecutionProvider
	}
	return p.providers[0]
}

func (p *Part) Providers() []string { return slices.Clone(p.providers) }

// ProviderOptions returns the options of Provider.
func (p *Part) ProviderOptions() map[string]string {
	return maps.Clone(p.providerOptions[p.Provider()])
}

// ProvidersOptions returns the options of every provider.
func (p *Part) ProvidersOptions() map[string]map[string]string {
	out := make(map[string]map[string]string, len(p.providerOptions))
	for k, v := range p.providerOptions {
		out[k] = maps.Clone(v)
	}
	return out
}

func (p *Part) UseIOBinding() bool { return p.useIOBinding }

func (p *Part) SetUseIOBinding(v bool) { p.useIOBinding = v }

// DType is the first floating input dtype, else the first floating output
// dtype, else DTypeOther.
func (p *Part) DType() ml.DType {
	for _, name := range p.inputNames {
		if dt := p.inputDTypes[name]; dt.IsFloat() {
			return dt
		}
	}
	for _, name := range p.outputNames {
		if dt := p.outputDTypes[name]; dt.IsFloat() {
			return dt
		}
	}
	return ml.DTypeOther
}

// Config returns a copy of the subnetwork configuration.
func (p *Part) Config() map[string]any { return maps.Clone(p.config) }

// ConfigInt returns an integer configuration field.
func (p *Part) ConfigInt(key string) (int64, bool) {
	v, ok := p.known[key]
	return v, ok
}

// ConfigFloat returns a numeric configuration field.
func (p *Part) ConfigFloat(key string) (float64, bool) {
	n, ok := p.config[key].(json.Number)
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	return f, err == nil
}

// KnownSymbols returns the dimension values taken from the configuration.
func (p *Part) KnownSymbols() symbolic.Symbols { return p.known.Clone() }

func (p *Part) InputNames() []string  { return slices.Clone(p.inputNames) }
func (p *Part) OutputNames() []string { return slices.Clone(p.outputNames) }

func (p *Part) InputDTypes() map[string]ml.DType  { return maps.Clone(p.inputDTypes) }
func (p *Part) OutputDTypes() map[string]ml.DType { return maps.Clone(p.outputDTypes) }

// InputShapes returns the declared input shapes after configuration
// symbols have been substituted.
func (p *Part) InputShapes() symbolic.Compiled  { return p.inputShapes }
func (p *Part) OutputShapes() symbolic.Compiled { return p.outputShapes }

// ResolveOutputShapes computes the concrete output shapes for the given
// inputs without running the model.
func (p *Part) ResolveOutputShapes(inputs map[string]*ml.Tensor) (map[string][]int64, error) {
	actual := make(map[string][]int64, len(inputs))
	for name, t := range inputs {
		actual[name] = t.Shape()
	}
	return p.ResolveShapes(actual)
}

// ResolveShapes computes the output shapes for the given input shapes.
func (p *Part) ResolveShapes(actual map[string][]int64) (map[string][]int64, error) {
	return symbolic.ResolveOutputs(p.name, p.inputShapes, p.outputShapes, p.known, actual)
}

// Run executes the subnetwork. shapes optionally supplies output shapes
// known to the caller; outputs missing from it are resolved from the
// inputs. With managed buffers the returned tensors alias the buffer cache
// and are overwritten by the next Run.
func (p *Part) Run(inputs map[string]*ml.Tensor, shapes map[string][]int64) (*Outputs, error) {
	for _, name := range p.inputNames {
		if _, ok := inputs[name]; !ok {
			return nil, fmt.Errorf("%w: %s requires %q", ErrMissingInput, p.name, name)
		}
	}
	for name := range inputs {
		if _, ok := p.inputDTypes[name]; !ok {
			slog.Debug("ignoring undeclared input", "subnetwork", p.name, "input", name)
		}
	}

	if logutil.Enabled() {
		for _, name := range p.inputNames {
			logutil.Trace("input", "subnetwork", p.name, "name", name, "tensor", inputs[name], "values", ml.Dump(inputs[name]))
		}
	}

	if p.useIOBinding {
		return p.runWithBinding(inputs, shapes)
	}
	return p.runHost(inputs)
}

func (p *Part) runWithBinding(inputs map[string]*ml.Tensor, shapes map[string][]int64) (*Outputs, error) {
	b := ml.NewBinding()
	actual := make(map[string][]int64, len(p.inputNames))
	for _, name := range p.inputNames {
		t, err := inputs[name].Cast(p.inputDTypes[name])
		if err != nil {
			return nil, fmt.Errorf("%s input %q: %w", p.name, name, err)
		}
		b.BindInput(name, t)
		actual[name] = t.Shape()
	}

	resolved := shapes
	if slices.ContainsFunc(p.outputNames, func(name string) bool { _, ok := shapes[name]; return !ok }) {
		var err error
		resolved, err = symbolic.ResolveOutputs(p.name, p.inputShapes, p.outputShapes, p.known, actual)
		if err != nil {
			return nil, err
		}
		maps.Copy(resolved, shapes)
	}

	outputs := NewOutputs()
	for _, name := range p.outputNames {
		buf := p.buffer(name, resolved[name])
		b.BindOutput(name, buf)
		outputs.Set(name, buf)
	}

	if err := p.session.RunWithBinding(b); err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	return outputs, nil
}

// buffer returns the cached output buffer for name, reallocating it when
// shape or dtype changed.
func (p *Part) buffer(name string, shape []int64) *ml.Tensor {
	dtype := p.outputDTypes[name]
	if buf, ok := p.buffers[name]; ok && buf.DType() == dtype && slices.Equal(buf.Shape(), shape) {
		return buf
	}

	slog.Debug("allocating output buffer", "subnetwork", p.name, "output", name, "dtype", dtype, "shape", shape)
	buf := ml.Empty(dtype, shape...).To(p.device)
	p.buffers[name] = buf
	return buf
}

func (p *Part) runHost(inputs map[string]*ml.Tensor) (*Outputs, error) {
	host := make(map[string]*ml.Tensor, len(p.inputNames))
	for _, name := range p.inputNames {
		t, err := inputs[name].To(ml.CPU).Cast(p.inputDTypes[name])
		if err != nil {
			return nil, fmt.Errorf("%s input %q: %w", p.name, name, err)
		}
		host[name] = t
	}

	results, err := p.session.Run(host)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}

	outputs := NewOutputs()
	for _, name := range p.outputNames {
		t, ok := results[name]
		if !ok {
			return nil, fmt.Errorf("%s: model produced no output %q", p.name, name)
		}
		outputs.Set(name, t.To(p.device))
	}
	return outputs, nil
}

// To moves the subnetwork to device. Changing the dtype is unsupported,
// pass DTypeOther or the current dtype to keep it. A zero device keeps the
// current one.
func (p *Part) To(device ml.Device, dtype ml.DType) error {
	if dtype != ml.DTypeOther && dtype != p.DType() {
		return fmt.Errorf("%w: cannot convert %s from %s to %s", ErrUnsupported, p.name, p.DType(), dtype)
	}
	if device == (ml.Device{}) || device == p.device {
		return nil
	}

	provider, options := ml.ProviderForDevice(device)
	providers := []string{provider}
	providerOptions := []map[string]string{options}
	if provider != ml.CPUExecutionProvider {
		providers = append(providers, ml.CPUExecutionProvider)
		providerOptions = append(providerOptions, map[string]string{})
	}

	prevProvider, prevDevice := p.Provider(), p.device
	if err := p.session.SetProviders(providers, providerOptions); err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	p.readProviders()
	if p.Provider() != prevProvider || p.device != prevDevice {
		clear(p.buffers)
	}

	if p.Provider() != provider || p.device != device {
		return fmt.Errorf("%w: %s wanted %s (%s), session uses %s (%s)",
			ErrDeviceMismatch, p.name, device, provider, p.device, p.Provider())
	}
	return nil
}

func (p *Part) Close() error {
	clear(p.buffers)
	return p.session.Close()
}

// setDefault registers a configuration field that older exports lack.
func (p *Part) setDefault(key string, value any) {
	if _, ok := p.config[key]; ok {
		return
	}
	p.config[key] = value
	if n, ok := value.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			p.known[key] = i
		}
	}
}
