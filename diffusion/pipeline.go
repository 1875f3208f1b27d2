// pipeline.go - Zusammensetzung der Subnetze zu einer Diffusions-Pipeline
//
// Dieses Modul enthaelt:
// - Components: Sessions und externe Submodelle fuer NewPipeline
// - Pipeline: Subnetze, VAE-Fassade, Scheduler, Tokenizer
// - Pipeline-weite Attribute (Device, DType, Provider, IO-Binding)
// - Generate: Delegation an den registrierten Generator der Klasse
package diffusion

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ollama/ortdiffusion/ml"
)

// Subfolders of a pipeline directory.
const (
	UNetSubfolder         = "unet"
	VAEDecoderSubfolder   = "vae_decoder"
	VAEEncoderSubfolder   = "vae_encoder"
	TextEncoderSubfolder  = "text_encoder"
	TextEncoder2Subfolder = "text_encoder_2"
)

const (
	// ModelIndexName describes the pipeline class and its submodels.
	ModelIndexName      = "model_index.json"
	SchedulerConfigName = "scheduler_config.json"
	// WeightsName is the default file name of every subnetwork model.
	WeightsName = "model.onnx"
)

// Saver is implemented by submodels that persist themselves into a
// directory.
type Saver interface {
	Save(dir string) error
}

// Components are the building blocks of a pipeline. Every session is
// optional. Scheduler is required. The remaining fields are external
// collaborators passed through unchanged.
type Components struct {
	UNet         ml.Session
	VAEDecoder   ml.Session
	VAEEncoder   ml.Session
	TextEncoder  ml.Session
	TextEncoder2 ml.Session

	Scheduler        any
	Tokenizer        any
	Tokenizer2       any
	FeatureExtractor any
	ImageEncoder     any
	SafetyChecker    any
}

type options struct {
	useIOBinding *bool
	modelSaveDir string
	config       map[string]any

	forceZerosForEmptyPrompt bool
	requiresAestheticsScore  bool
	addWatermarker           *bool
}

type Option func(*options)

// WithIOBinding forces managed buffers on or off for every subnetwork.
func WithIOBinding(v bool) Option {
	return func(o *options) { o.useIOBinding = &v }
}

// WithModelSaveDir sets the directory the model files were loaded from.
func WithModelSaveDir(dir string) Option {
	return func(o *options) { o.modelSaveDir = dir }
}

// WithConfig sets the pipeline configuration, usually model_index.json.
func WithConfig(config map[string]any) Option {
	return func(o *options) { o.config = maps.Clone(config) }
}

func WithForceZerosForEmptyPrompt(v bool) Option {
	return func(o *options) { o.forceZerosForEmptyPrompt = v }
}

func WithRequiresAestheticsScore(v bool) Option {
	return func(o *options) { o.requiresAestheticsScore = v }
}

func WithAddWatermarker(v bool) Option {
	return func(o *options) { o.addWatermarker = &v }
}

// Pipeline holds the subnetworks of one diffusion pipeline.
type Pipeline struct {
	class *Class

	UNet         *UNet
	VAEDecoder   *VAEDecoder
	VAEEncoder   *VAEEncoder
	TextEncoder  *TextEncoder
	TextEncoder2 *TextEncoder
	VAE          *VAE

	Scheduler        any
	Tokenizer        any
	Tokenizer2       any
	FeatureExtractor any
	ImageEncoder     any
	SafetyChecker    any

	config       map[string]any
	modelSaveDir string
	// tempDir is removed by Close
	tempDir string

	forceZerosForEmptyPrompt bool
	requiresAestheticsScore  bool
	addWatermarker           *bool
}

// NewPipeline wraps the sessions of c into subnetworks of class.
func NewPipeline(class *Class, c Components, opts ...Option) (*Pipeline, error) {
	o := options{forceZerosForEmptyPrompt: true}
	for _, opt := range opts {
		opt(&o)
	}

	if c.Scheduler == nil {
		return nil, ErrSchedulerRequired
	}

	p := Pipeline{
		class:            class,
		Scheduler:        c.Scheduler,
		Tokenizer:        c.Tokenizer,
		Tokenizer2:       c.Tokenizer2,
		FeatureExtractor: c.FeatureExtractor,
		ImageEncoder:     c.ImageEncoder,
		SafetyChecker:    c.SafetyChecker,
		config:           o.config,
		modelSaveDir:     o.modelSaveDir,

		forceZerosForEmptyPrompt: o.forceZerosForEmptyPrompt,
		requiresAestheticsScore:  o.requiresAestheticsScore,
		addWatermarker:           o.addWatermarker,
	}
	if p.config == nil {
		p.config = make(map[string]any)
	}

	var err error
	if c.UNet != nil {
		if p.UNet, err = NewUNet(c.UNet, o.useIOBinding); err != nil {
			return nil, err
		}
	}
	if c.VAEDecoder != nil {
		if p.VAEDecoder, err = NewVAEDecoder(c.VAEDecoder, o.useIOBinding); err != nil {
			return nil, err
		}
	}
	if c.VAEEncoder != nil {
		if p.VAEEncoder, err = NewVAEEncoder(c.VAEEncoder, o.useIOBinding); err != nil {
			return nil, err
		}
	}
	if c.TextEncoder != nil {
		if p.TextEncoder, err = NewTextEncoder(TextEncoderSubfolder, c.TextEncoder, o.useIOBinding); err != nil {
			return nil, err
		}
	}
	if c.TextEncoder2 != nil {
		if p.TextEncoder2, err = NewTextEncoder(TextEncoder2Subfolder, c.TextEncoder2, o.useIOBinding); err != nil {
			return nil, err
		}
	}
	if p.VAEDecoder != nil {
		p.VAE = &VAE{Encoder: p.VAEEncoder, Decoder: p.VAEDecoder}
	}

	if p.modelSaveDir == "" && p.UNet != nil {
		p.modelSaveDir = filepath.Dir(p.UNet.ModelPath())
	}
	return &p, nil
}

// Class returns the pipeline class.
func (p *Pipeline) Class() *Class { return p.class }

// Config returns a copy of the pipeline configuration.
func (p *Pipeline) Config() map[string]any { return maps.Clone(p.config) }

// ModelSaveDir is the directory the pipeline was loaded from.
func (p *Pipeline) ModelSaveDir() string { return p.modelSaveDir }

// NameOrPath is where the pipeline was instantiated from.
func (p *Pipeline) NameOrPath() string {
	s, _ := p.config["_name_or_path"].(string)
	return s
}

// Components returns the present model components in a fixed order: vae,
// unet, text_encoder, text_encoder_2, safety_checker, image_encoder.
func (p *Pipeline) Components() *orderedmap.OrderedMap[string, any] {
	components := orderedmap.New[string, any]()
	add := func(name string, c any, present bool) {
		if present {
			components.Set(name, c)
		}
	}

	add("vae", p.VAE, p.VAE != nil)
	add("unet", p.UNet, p.UNet != nil)
	add("text_encoder", p.TextEncoder, p.TextEncoder != nil)
	add("text_encoder_2", p.TextEncoder2, p.TextEncoder2 != nil)
	add("safety_checker", p.SafetyChecker, p.SafetyChecker != nil)
	add("image_encoder", p.ImageEncoder, p.ImageEncoder != nil)
	return components
}

// GeneratorComponents returns the arguments the generator of the class
// accepts, in the order the class declares them.
func (p *Pipeline) GeneratorComponents() *orderedmap.OrderedMap[string, any] {
	all := map[string]any{
		"vae":                          orNil(p.VAE),
		"unet":                         orNil(p.UNet),
		"text_encoder":                 orNil(p.TextEncoder),
		"text_encoder_2":               orNil(p.TextEncoder2),
		"safety_checker":               p.SafetyChecker,
		"image_encoder":                p.ImageEncoder,
		"scheduler":                    p.Scheduler,
		"tokenizer":                    p.Tokenizer,
		"tokenizer_2":                  p.Tokenizer2,
		"feature_extractor":            p.FeatureExtractor,
		"requires_aesthetics_score":    p.requiresAestheticsScore,
		"force_zeros_for_empty_prompt": p.forceZerosForEmptyPrompt,
		"add_watermarker":              orNil(p.addWatermarker),
	}

	args := orderedmap.New[string, any]()
	if p.class == nil {
		return args
	}
	for _, name := range p.class.Accepts {
		if v, ok := all[name]; ok {
			args.Set(name, v)
		}
	}
	return args
}

// orNil turns a nil pointer into an untyped nil so that generators can
// test absent components with == nil.
func orNil[T any](v *T) any {
	if v == nil {
		return nil
	}
	return v
}

// RequiresAestheticsScore reports whether SDXL refiner time ids carry an
// aesthetic score.
func (p *Pipeline) RequiresAestheticsScore() bool { return p.requiresAestheticsScore }

// sameAcross returns the value of an attribute shared by every component
// exposing it. Values are compared by their printed form.
func sameAcross[T any](p *Pipeline, attribute string, get func(any) (T, bool)) (T, error) {
	var first T
	var found bool
	values := make(map[string]string)
	distinct := make(map[string]struct{})

	for pair := p.Components().Oldest(); pair != nil; pair = pair.Next() {
		v, ok := get(pair.Value)
		if !ok {
			continue
		}
		if !found {
			first, found = v, true
		}
		s := fmt.Sprint(v)
		values[pair.Key] = s
		distinct[s] = struct{}{}
	}

	if !found {
		return first, &AttributeError{Attribute: attribute, Err: ErrAttributeUndefined}
	}
	if len(distinct) > 1 {
		return first, &AttributeError{Attribute: attribute, Values: values, Err: ErrAttributeMismatch}
	}
	return first, nil
}

func (p *Pipeline) Device() (ml.Device, error) {
	return sameAcross(p, "device", func(c any) (ml.Device, bool) {
		if c, ok := c.(interface{ Device() ml.Device }); ok {
			return c.Device(), true
		}
		return ml.Device{}, false
	})
}

func (p *Pipeline) DType() (ml.DType, error) {
	return sameAcross(p, "dtype", func(c any) (ml.DType, bool) {
		if c, ok := c.(interface{ DType() ml.DType }); ok {
			return c.DType(), true
		}
		return ml.DTypeOther, false
	})
}

func (p *Pipeline) Provider() (string, error) {
	return sameAcross(p, "provider", func(c any) (string, bool) {
		if c, ok := c.(interface{ Provider() string }); ok {
			return c.Provider(), true
		}
		return "", false
	})
}

func (p *Pipeline) Providers() ([]string, error) {
	return sameAcross(p, "providers", func(c any) ([]string, bool) {
		if c, ok := c.(interface{ Providers() []string }); ok {
			return c.Providers(), true
		}
		return nil, false
	})
}

func (p *Pipeline) ProviderOptions() (map[string]string, error) {
	return sameAcross(p, "provider_options", func(c any) (map[string]string, bool) {
		if c, ok := c.(interface{ ProviderOptions() map[string]string }); ok {
			return c.ProviderOptions(), true
		}
		return nil, false
	})
}

func (p *Pipeline) ProvidersOptions() (map[string]map[string]string, error) {
	return sameAcross(p, "providers_options", func(c any) (map[string]map[string]string, bool) {
		if c, ok := c.(interface {
			ProvidersOptions() map[string]map[string]string
		}); ok {
			return c.ProvidersOptions(), true
		}
		return nil, false
	})
}

func (p *Pipeline) UseIOBinding() (bool, error) {
	return sameAcross(p, "use_io_binding", func(c any) (bool, bool) {
		if c, ok := c.(interface{ UseIOBinding() bool }); ok {
			return c.UseIOBinding(), true
		}
		return false, false
	})
}

// SetUseIOBinding switches the strategy of every component supporting it.
// Components without the attribute are left untouched.
func (p *Pipeline) SetUseIOBinding(v bool) {
	for pair := p.Components().Oldest(); pair != nil; pair = pair.Next() {
		if c, ok := pair.Value.(interface{ SetUseIOBinding(bool) }); ok {
			c.SetUseIOBinding(v)
		}
	}
}

// To moves every component to device. dtype follows the rules of Part.To.
func (p *Pipeline) To(device ml.Device, dtype ml.DType) error {
	for pair := p.Components().Oldest(); pair != nil; pair = pair.Next() {
		c, ok := pair.Value.(interface {
			To(ml.Device, ml.DType) error
		})
		if !ok {
			return fmt.Errorf("%w: component %s cannot be moved", ErrUnsupported, pair.Key)
		}
		if err := c.To(device, dtype); err != nil {
			return err
		}
	}
	return nil
}

// Close releases every session and removes the export directory, if any.
func (p *Pipeline) Close() error {
	var first error
	for _, part := range p.parts() {
		if err := part.Close(); err != nil && first == nil {
			first = err
		}
	}
	if p.tempDir != "" {
		if err := os.RemoveAll(p.tempDir); err != nil && first == nil {
			first = err
		}
		p.tempDir = ""
	}
	return first
}

// Part returns the subnetwork stored in subfolder.
func (p *Pipeline) Part(subfolder string) (*Part, bool) {
	part, ok := p.parts()[subfolder]
	return part, ok
}

// parts returns the subnetworks keyed by subfolder.
func (p *Pipeline) parts() map[string]*Part {
	parts := make(map[string]*Part)
	if p.UNet != nil {
		parts[UNetSubfolder] = p.UNet.Part
	}
	if p.VAEDecoder != nil {
		parts[VAEDecoderSubfolder] = p.VAEDecoder.Part
	}
	if p.VAEEncoder != nil {
		parts[VAEEncoderSubfolder] = p.VAEEncoder.Part
	}
	if p.TextEncoder != nil {
		parts[TextEncoderSubfolder] = p.TextEncoder.Part
	}
	if p.TextEncoder2 != nil {
		parts[TextEncoder2Subfolder] = p.TextEncoder2.Part
	}
	return parts
}

// Generator runs the sampling loop of a pipeline class.
type Generator interface {
	Generate(ctx context.Context, args map[string]any) (any, error)
}

// GeneratorFactory builds the generator of a class from the components it
// accepts.
type GeneratorFactory func(p *Pipeline, components *orderedmap.OrderedMap[string, any]) (Generator, error)

var generators = make(map[string]GeneratorFactory)

// RegisterGenerator registers the generator of the named class.
func RegisterGenerator(class string, f GeneratorFactory) {
	if _, ok := generators[class]; ok {
		panic("diffusion: generator already registered for " + class)
	}
	generators[class] = f
}

// Generate delegates to the generator registered for the pipeline class.
func (p *Pipeline) Generate(ctx context.Context, args map[string]any) (any, error) {
	if p.class == nil {
		return nil, fmt.Errorf("%w: pipeline has no class", ErrUnsupported)
	}

	f, ok := generators[p.class.Name]
	if !ok {
		return nil, fmt.Errorf("%w: no generator registered for %s", ErrUnsupported, p.class.Name)
	}

	g, err := f(p, p.GeneratorComponents())
	if err != nil {
		return nil, err
	}
	return g.Generate(ctx, args)
}
