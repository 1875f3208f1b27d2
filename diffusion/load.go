// load.go - Laden einer Pipeline aus einem Verzeichnis oder vom Model-Hub
//
// Dieses Modul enthaelt:
// - Load: model_index.json lesen, Snapshot laden, Sessions erzeugen
// - SubmodelLoader: Registry fuer Scheduler, Tokenizer, Feature-Extractor
// - SubmodelRef: Platzhalter fuer Submodelle ohne registrierten Loader
package diffusion

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ollama/ortdiffusion/envconfig"
	"github.com/ollama/ortdiffusion/huggingface"
	"github.com/ollama/ortdiffusion/ml"
)

// Submodels are the non-network components of a pipeline.
var Submodels = []string{"scheduler", "tokenizer", "tokenizer_2", "feature_extractor"}

// Subfolders lists the subnetwork folders in save order.
var Subfolders = []string{
	UNetSubfolder,
	VAEDecoderSubfolder,
	VAEEncoderSubfolder,
	TextEncoderSubfolder,
	TextEncoder2Subfolder,
}

// SubmodelLoader creates a submodel from a directory.
type SubmodelLoader func(dir string) (any, error)

var submodelLoaders = make(map[[2]string]SubmodelLoader)

// RegisterSubmodelLoader registers the loader for a (library, class) pair
// as written in model_index.json.
func RegisterSubmodelLoader(library, class string, f SubmodelLoader) {
	key := [2]string{library, class}
	if _, ok := submodelLoaders[key]; ok {
		panic(fmt.Sprintf("diffusion: submodel loader already registered for %s.%s", library, class))
	}
	submodelLoaders[key] = f
}

// SubmodelRef stands in for a submodel whose library has no registered
// loader. It keeps the files so the pipeline can be saved again.
type SubmodelRef struct {
	Library string
	Class   string
	Dir     string
}

func (r *SubmodelRef) String() string { return r.Library + "." + r.Class }

// Save copies the regular files of the submodel directory into dir.
func (r *SubmodelRef) Save(dir string) error {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			if err := copyFile(filepath.Join(r.Dir, e.Name()), filepath.Join(dir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadOptions controls Load.
type LoadOptions struct {
	// Hub access, used when the model id is not a local directory
	Client         *huggingface.Client
	Revision       string
	LocalFilesOnly bool
	ForceDownload  bool
	Progress       huggingface.ProgressCallback

	// Model file names per subfolder, WeightsName when unset
	FileNames map[string]string

	// Backend names the ml backend, onnxruntime when empty
	Backend string
	// Session parameters; ORTDIFF_PROVIDER and ORTDIFF_NUM_THREADS when zero
	Session ml.SessionParams

	UseIOBinding *bool
	ModelSaveDir string

	// Sessions replaces the session of a subfolder
	Sessions map[string]ml.Session
	// Submodels replaces a submodel by name
	Submodels map[string]any

	// Class forces the pipeline class instead of _class_name
	Class *Class
}

func (o LoadOptions) fileName(subfolder string) string {
	if name := o.FileNames[subfolder]; name != "" {
		return name
	}
	return WeightsName
}

func (o LoadOptions) sessionParams() ml.SessionParams {
	p := o.Session
	if len(p.Providers) == 0 {
		p.Providers = []string{envconfig.Provider()}
		p.ProviderOptions = []map[string]string{envconfig.ProviderOptions()}
	}
	if p.NumThreads == 0 {
		p.NumThreads = int(envconfig.NumThreads())
	}
	return p
}

// IgnorePatterns are never downloaded with a pipeline.
var IgnorePatterns = []string{"*.msgpack", "*.safetensors", "*.bin", "*.xml"}

// AllowPatterns returns the files to download for a pipeline configuration.
func AllowPatterns(config map[string]any, opts LoadOptions) []string {
	components := map[string]bool{VAEEncoderSubfolder: true, VAEDecoderSubfolder: true}
	for k := range config {
		if !strings.HasPrefix(k, "_") {
			components[k] = true
		}
	}

	patterns := map[string]bool{
		SchedulerConfigName: true,
		ModelIndexName:      true,
		ConfigName:          true,
	}
	for c := range components {
		patterns[c+"/*"] = true
	}
	for _, s := range Subfolders {
		patterns[opts.fileName(s)] = true
	}
	return slices.Sorted(maps.Keys(patterns))
}

// ReadModelIndex reads model_index.json from dir.
func ReadModelIndex(dir string) (map[string]any, error) {
	b, err := os.ReadFile(filepath.Join(dir, ModelIndexName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s not found in %s", ErrConfiguration, ModelIndexName, dir)
	} else if err != nil {
		return nil, err
	}

	var config map[string]any
	if err := json.Unmarshal(b, &config); err != nil {
		return nil, fmt.Errorf("%s: %w", ModelIndexName, err)
	}
	return config, nil
}

// Resolve returns the local directory of modelID, downloading a snapshot
// when modelID is not a directory.
func Resolve(ctx context.Context, modelID string, opts LoadOptions) (string, error) {
	if fi, err := os.Stat(modelID); err == nil && fi.IsDir() {
		return modelID, nil
	}
	if !huggingface.IsRepoID(modelID) {
		return "", fmt.Errorf("%w: %s is neither a directory nor a model id", ErrConfiguration, modelID)
	}

	client := opts.Client
	if client == nil {
		client = huggingface.NewClient()
	}

	snapshot := huggingface.SnapshotOptions{
		Revision:       opts.Revision,
		LocalFilesOnly: opts.LocalFilesOnly,
		ForceDownload:  opts.ForceDownload,
		AllowPatterns:  []string{ModelIndexName},
	}
	dir, err := client.Snapshot(ctx, modelID, snapshot)
	if err != nil {
		return "", err
	}

	config, err := ReadModelIndex(dir)
	if err != nil {
		return "", err
	}

	snapshot.AllowPatterns = AllowPatterns(config, opts)
	snapshot.IgnorePatterns = IgnorePatterns
	snapshot.Progress = opts.Progress
	return client.Snapshot(ctx, modelID, snapshot)
}

// Load creates a pipeline from a local directory or a hub model id.
func Load(ctx context.Context, modelID string, opts LoadOptions) (*Pipeline, error) {
	dir, err := Resolve(ctx, modelID, opts)
	if err != nil {
		return nil, err
	}

	config, err := ReadModelIndex(dir)
	if err != nil {
		return nil, err
	}

	class := opts.Class
	if class == nil {
		name, _ := config["_class_name"].(string)
		if class, err = LookupClass(name); err != nil {
			return nil, err
		}
	}

	var c Components
	sessions := map[string]*ml.Session{
		UNetSubfolder:         &c.UNet,
		VAEDecoderSubfolder:   &c.VAEDecoder,
		VAEEncoderSubfolder:   &c.VAEEncoder,
		TextEncoderSubfolder:  &c.TextEncoder,
		TextEncoder2Subfolder: &c.TextEncoder2,
	}

	var opened []ml.Session
	closeAll := func() {
		for _, s := range opened {
			s.Close()
		}
	}

	backend := cmp.Or(opts.Backend, "onnxruntime")
	for _, sub := range Subfolders {
		if s, ok := opts.Sessions[sub]; ok && s != nil {
			*sessions[sub] = s
			continue
		}

		path := filepath.Join(dir, sub, opts.fileName(sub))
		if fi, err := os.Stat(path); err != nil || !fi.Mode().IsRegular() {
			continue
		}

		s, err := ml.NewSessionWith(backend, path, opts.sessionParams())
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("%s: %w", sub, err)
		}
		opened = append(opened, s)
		*sessions[sub] = s
	}

	submodels := map[string]*any{
		"scheduler":         &c.Scheduler,
		"tokenizer":         &c.Tokenizer,
		"tokenizer_2":       &c.Tokenizer2,
		"feature_extractor": &c.FeatureExtractor,
	}
	for _, name := range Submodels {
		if v, ok := opts.Submodels[name]; ok && v != nil {
			*submodels[name] = v
			continue
		}

		v, err := loadSubmodel(dir, name, config[name])
		if err != nil {
			closeAll()
			return nil, err
		}
		if v != nil {
			*submodels[name] = v
		}
	}
	c.ImageEncoder = opts.Submodels["image_encoder"]
	c.SafetyChecker = opts.Submodels["safety_checker"]

	pipelineOpts := []Option{
		WithConfig(config),
		WithModelSaveDir(cmp.Or(opts.ModelSaveDir, dir)),
	}
	if opts.UseIOBinding != nil {
		pipelineOpts = append(pipelineOpts, WithIOBinding(*opts.UseIOBinding))
	}
	if v, ok := config["requires_aesthetics_score"].(bool); ok {
		pipelineOpts = append(pipelineOpts, WithRequiresAestheticsScore(v))
	}
	if v, ok := config["force_zeros_for_empty_prompt"].(bool); ok {
		pipelineOpts = append(pipelineOpts, WithForceZerosForEmptyPrompt(v))
	}
	if v, ok := config["add_watermarker"].(bool); ok {
		pipelineOpts = append(pipelineOpts, WithAddWatermarker(v))
	}

	p, err := NewPipeline(class, c, pipelineOpts...)
	if err != nil {
		closeAll()
		return nil, err
	}

	if _, ok := p.config["_name_or_path"].(string); !ok {
		p.config["_name_or_path"] = modelID
	}

	slog.Info("loaded pipeline", "class", class.Name, "model", modelID, "dir", dir, "components", p.Components().Len())
	return p, nil
}

// loadSubmodel resolves a [library, class] entry of model_index.json.
func loadSubmodel(dir, name string, entry any) (any, error) {
	pair, ok := entry.([]any)
	if !ok || len(pair) != 2 {
		return nil, nil
	}
	library, _ := pair[0].(string)
	class, _ := pair[1].(string)
	if library == "" {
		return nil, nil
	}

	from := dir
	if fi, err := os.Stat(filepath.Join(dir, name)); err == nil && fi.IsDir() {
		from = filepath.Join(dir, name)
	}

	f, ok := submodelLoaders[[2]string{library, class}]
	if !ok {
		slog.Debug("no submodel loader registered, keeping files", "submodel", name, "library", library, "class", class)
		return &SubmodelRef{Library: library, Class: class, Dir: from}, nil
	}

	v, err := f(from)
	if err != nil {
		return nil, fmt.Errorf("%s (%s.%s): %w", name, library, class, err)
	}
	return v, nil
}
