package diffusion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/ortdiffusion/fs/onnx"
	"github.com/ollama/ortdiffusion/huggingface"
	"github.com/ollama/ortdiffusion/ml"
	"github.com/ollama/ortdiffusion/ml/mltest"
)

const testBackend = "diffusion-test"

var (
	openedMu sync.Mutex
	opened   []*mltest.Session
)

func init() {
	ml.RegisterBackend(testBackend, func(path string, params ml.SessionParams) (ml.Session, error) {
		m, err := onnx.Open(path)
		if err != nil {
			return nil, err
		}

		s := mltest.New(path, m.InputInfo(), m.OutputInfo(), func(map[string]*ml.Tensor) (map[string]*ml.Tensor, error) {
			return nil, errors.New("not runnable")
		})
		if p := params.Provider(); p != ml.CPUExecutionProvider {
			var options map[string]string
			if len(params.ProviderOptions) > 0 {
				options = params.ProviderOptions[0]
			}
			s.WithProvider(p, options)
		}

		openedMu.Lock()
		opened = append(opened, s)
		openedMu.Unlock()
		return s, nil
	})

	RegisterSubmodelLoader("diffusers", "PNDMScheduler", func(dir string) (any, error) {
		if _, err := os.Stat(filepath.Join(dir, SchedulerConfigName)); err != nil {
			return nil, err
		}
		return &fakeScheduler{}, nil
	})
}

func f32(name string, dims ...string) onnx.ValueInfo {
	v := onnx.ValueInfo{Name: name, ElemType: 1}
	for _, d := range dims {
		if n, err := strconv.ParseInt(d, 10, 64); err == nil {
			v.Dims = append(v.Dims, onnx.Dim{Value: n, HasValue: true})
		} else {
			v.Dims = append(v.Dims, onnx.Dim{Param: d})
		}
	}
	return v
}

func writeModel(t *testing.T, dir string, m *onnx.Model, config map[string]any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, WeightsName), m.Encode(), 0o644))
	if config != nil {
		writeJSON(t, filepath.Join(dir, ConfigName), config)
	}
}

// writePipeline lays out a minimal exported stable diffusion pipeline.
func writePipeline(t *testing.T, dir string) {
	t.Helper()

	unet := &onnx.Model{
		IRVersion: 8,
		Opsets:    map[string]int64{"ai.onnx": 14},
		Inputs: []onnx.ValueInfo{
			f32("sample", "batch", "4", "height", "width"),
			{Name: "timestep", ElemType: 7, Dims: []onnx.Dim{{Param: "steps"}}},
			f32("encoder_hidden_states", "batch", "sequence", "hidden_size"),
		},
		Outputs: []onnx.ValueInfo{f32("out_sample", "batch", "4", "height", "width")},
		Initializers: []onnx.Initializer{
			{Name: "conv_in.weight", ElemType: 1, Dims: []int64{2}, External: map[string]string{"location": "weights.pb", "offset": "0", "length": "8"}},
		},
	}
	writeModel(t, filepath.Join(dir, UNetSubfolder), unet, unetConfig)
	require.NoError(t, os.WriteFile(filepath.Join(dir, UNetSubfolder, "weights.pb"), make([]byte, 8), 0o644))

	writeModel(t, filepath.Join(dir, VAEDecoderSubfolder), &onnx.Model{
		IRVersion: 8,
		Inputs:    []onnx.ValueInfo{f32("latent_sample", "batch", "4", "height", "width")},
		Outputs:   []onnx.ValueInfo{f32("sample", "batch", "3", "8*height", "8*width")},
	}, map[string]any{"scaling_factor": 0.18215})

	writeModel(t, filepath.Join(dir, TextEncoderSubfolder), &onnx.Model{
		IRVersion: 8,
		Inputs:    []onnx.ValueInfo{{Name: "input_ids", ElemType: 7, Dims: []onnx.Dim{{Param: "batch"}, {Param: "sequence"}}}},
		Outputs:   []onnx.ValueInfo{f32("last_hidden_state", "batch", "sequence", "768")},
	}, map[string]any{"hidden_size": 768, "num_hidden_layers": 12})

	writeJSON(t, filepath.Join(dir, "scheduler", SchedulerConfigName), map[string]any{"_class_name": "PNDMScheduler"})
	writeJSON(t, filepath.Join(dir, "tokenizer", "vocab.json"), map[string]any{"a": 1})

	writeJSON(t, filepath.Join(dir, ModelIndexName), map[string]any{
		"_class_name":             "StableDiffusionPipeline",
		"_diffusers_version":      "0.30.0",
		"scheduler":               []any{"diffusers", "PNDMScheduler"},
		"tokenizer":               []any{"transformers", "CLIPTokenizer"},
		"text_encoder":            []any{"transformers", "CLIPTextModel"},
		"unet":                    []any{"diffusers", "UNet2DConditionModel"},
		"vae_decoder":             []any{"diffusers", "AutoencoderKL"},
		"feature_extractor":       []any{nil, nil},
		"safety_checker":          []any{nil, nil},
		"requires_safety_checker": false,
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writePipeline(t, dir)

	p, err := Load(context.Background(), dir, LoadOptions{Backend: testBackend})
	require.NoError(t, err)
	defer p.Close()

	assert.Same(t, StableDiffusion, p.Class())
	assert.Equal(t, dir, p.NameOrPath())
	assert.Equal(t, dir, p.ModelSaveDir())

	require.NotNil(t, p.UNet)
	require.NotNil(t, p.VAE)
	require.NotNil(t, p.TextEncoder)
	assert.Nil(t, p.VAEEncoder)
	assert.Nil(t, p.TextEncoder2)
	assert.Nil(t, p.FeatureExtractor)

	assert.IsType(t, &fakeScheduler{}, p.Scheduler)
	ref, ok := p.Tokenizer.(*SubmodelRef)
	require.True(t, ok, "tokenizer = %T", p.Tokenizer)
	assert.Equal(t, "transformers.CLIPTokenizer", ref.String())
	assert.Equal(t, filepath.Join(dir, "tokenizer"), ref.Dir)

	if diff := cmp.Diff([]string{"sample", "timestep", "encoder_hidden_states"}, p.UNet.InputNames()); diff != "" {
		t.Errorf("unet-eingaben (-want +got):\n%s", diff)
	}
	shape, _ := p.TextEncoder.OutputShapes().Get("last_hidden_state")
	assert.Equal(t, "(batch, sequence, 768)", shape.String())
}

func TestLoadOptions(t *testing.T) {
	dir := t.TempDir()
	writePipeline(t, dir)

	t.Run("klasse erzwingen", func(t *testing.T) {
		p, err := Load(context.Background(), dir, LoadOptions{Backend: testBackend, Class: StableDiffusionImg2Img})
		require.NoError(t, err)
		assert.Same(t, StableDiffusionImg2Img, p.Class())
	})

	t.Run("io binding und provider", func(t *testing.T) {
		p, err := Load(context.Background(), dir, LoadOptions{
			Backend:      testBackend,
			UseIOBinding: boolPtr(true),
			Session: ml.SessionParams{
				Providers:       []string{ml.CUDAExecutionProvider},
				ProviderOptions: []map[string]string{{"device_id": "1"}},
			},
		})
		require.NoError(t, err)

		use, err := p.UseIOBinding()
		require.NoError(t, err)
		assert.True(t, use)

		device, err := p.Device()
		require.NoError(t, err)
		assert.Equal(t, ml.Device{Type: "cuda", Index: 1}, device)
	})

	t.Run("sessions und submodelle ersetzen", func(t *testing.T) {
		unet := newUNetSession(t, t.TempDir())
		scheduler := &fakeScheduler{}
		p, err := Load(context.Background(), dir, LoadOptions{
			Backend:   testBackend,
			Sessions:  map[string]ml.Session{UNetSubfolder: unet},
			Submodels: map[string]any{"scheduler": scheduler, "safety_checker": "checker"},
		})
		require.NoError(t, err)

		assert.Same(t, unet, p.UNet.Session())
		assert.Same(t, scheduler, p.Scheduler)
		assert.Equal(t, "checker", p.SafetyChecker)
	})
}

func TestLoadErrors(t *testing.T) {
	t.Run("ohne model_index.json", func(t *testing.T) {
		_, err := Load(context.Background(), t.TempDir(), LoadOptions{Backend: testBackend})
		require.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("unbekannte klasse", func(t *testing.T) {
		dir := t.TempDir()
		writePipeline(t, dir)
		writeJSON(t, filepath.Join(dir, ModelIndexName), map[string]any{"_class_name": "StableDiffusion3Pipeline"})

		_, err := Load(context.Background(), dir, LoadOptions{Backend: testBackend})
		require.ErrorIs(t, err, ErrUnknownPipelineClass)
	})

	t.Run("ohne scheduler", func(t *testing.T) {
		dir := t.TempDir()
		writePipeline(t, dir)
		writeJSON(t, filepath.Join(dir, ModelIndexName), map[string]any{"_class_name": "StableDiffusionPipeline"})

		openedMu.Lock()
		before := len(opened)
		openedMu.Unlock()

		_, err := Load(context.Background(), dir, LoadOptions{Backend: testBackend})
		require.ErrorIs(t, err, ErrSchedulerRequired)

		openedMu.Lock()
		defer openedMu.Unlock()
		require.Len(t, opened[before:], 3)
		for _, s := range opened[before:] {
			assert.True(t, s.Closed, "session %s nicht geschlossen", s.Path)
		}
	})

	t.Run("kein verzeichnis und keine model id", func(t *testing.T) {
		_, err := Load(context.Background(), filepath.Join(t.TempDir(), "fehlt", "ganz", "sicher"), LoadOptions{Backend: testBackend})
		require.ErrorIs(t, err, ErrConfiguration)
	})
}

func TestSaveRoundTrip(t *testing.T) {
	src := t.TempDir()
	writePipeline(t, src)

	p, err := Load(context.Background(), src, LoadOptions{Backend: testBackend})
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "saved")
	require.NoError(t, p.Save(dst))

	for _, name := range []string{
		"model_index.json",
		"unet/model.onnx",
		"unet/weights.pb",
		"unet/config.json",
		"vae_decoder/model.onnx",
		"vae_decoder/config.json",
		"text_encoder/model.onnx",
		"scheduler/scheduler_config.json",
		"tokenizer/vocab.json",
	} {
		if _, err := os.Stat(filepath.Join(dst, name)); err != nil {
			t.Errorf("%s fehlt: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dst, VAEEncoderSubfolder)); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("vae_encoder sollte nicht angelegt werden: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dst, ModelIndexName))
	require.NoError(t, err)
	var index map[string]any
	require.NoError(t, json.Unmarshal(b, &index))
	assert.Equal(t, StableDiffusion.Name, index["_class_name"])
	assert.Equal(t, src, index["_name_or_path"])
	assert.Equal(t, "0.30.0", index["_diffusers_version"])

	reloaded, err := Load(context.Background(), dst, LoadOptions{Backend: testBackend})
	require.NoError(t, err)
	assert.Same(t, StableDiffusion, reloaded.Class())
	assert.Equal(t, src, reloaded.NameOrPath())
	if diff := cmp.Diff(p.UNet.InputNames(), reloaded.UNet.InputNames()); diff != "" {
		t.Errorf("unet-eingaben (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(p.UNet.Config(), reloaded.UNet.Config()); diff != "" {
		t.Errorf("unet-konfiguration (-want +got):\n%s", diff)
	}

	// saving into the source directory keeps the files intact
	require.NoError(t, reloaded.Save(dst))
	m, err := onnx.Open(filepath.Join(dst, UNetSubfolder, WeightsName))
	require.NoError(t, err)
	assert.Equal(t, []string{"weights.pb"}, m.ExternalDataFiles())
}

// signature lists the declared inputs and outputs of every subnetwork of p
// with their dtypes and compiled shapes.
func signature(t *testing.T, p *Pipeline) map[string][]string {
	t.Helper()
	out := make(map[string][]string)
	for _, sub := range Subfolders {
		part, ok := p.Part(sub)
		if !ok {
			continue
		}

		var lines []string
		dtypes, shapes := part.InputDTypes(), part.InputShapes()
		for _, name := range part.InputNames() {
			shape, _ := shapes.Get(name)
			lines = append(lines, fmt.Sprintf("in %s %s %s", name, dtypes[name], shape))
		}
		dtypes, shapes = part.OutputDTypes(), part.OutputShapes()
		for _, name := range part.OutputNames() {
			shape, _ := shapes.Get(name)
			lines = append(lines, fmt.Sprintf("out %s %s %s", name, dtypes[name], shape))
		}
		out[sub] = lines
	}
	return out
}

func TestSaveRoundTripAllSubnetworks(t *testing.T) {
	src := t.TempDir()
	writePipeline(t, src)

	writeModel(t, filepath.Join(src, VAEEncoderSubfolder), &onnx.Model{
		IRVersion: 8,
		Inputs:    []onnx.ValueInfo{f32("sample", "batch", "3", "height", "width")},
		Outputs:   []onnx.ValueInfo{f32("latent_sample", "batch", "4", "height/8", "width/8")},
	}, map[string]any{"scaling_factor": 0.13025})
	writeModel(t, filepath.Join(src, TextEncoder2Subfolder), &onnx.Model{
		IRVersion: 8,
		Inputs:    []onnx.ValueInfo{{Name: "input_ids", ElemType: 7, Dims: []onnx.Dim{{Param: "batch"}, {Param: "sequence"}}}},
		Outputs: []onnx.ValueInfo{
			f32("text_embeds", "batch", "projection_dim"),
			f32("last_hidden_state", "batch", "sequence", "1280"),
		},
	}, map[string]any{"hidden_size": 1280, "num_hidden_layers": 32, "projection_dim": 1280})
	writeJSON(t, filepath.Join(src, ModelIndexName), map[string]any{
		"_class_name":               "StableDiffusionXLImg2ImgPipeline",
		"_diffusers_version":        "0.30.0",
		"scheduler":                 []any{"diffusers", "PNDMScheduler"},
		"requires_aesthetics_score": true,
	})

	p, err := Load(context.Background(), src, LoadOptions{Backend: testBackend})
	require.NoError(t, err)
	require.Same(t, StableDiffusionXLImg2Img, p.Class())

	want := signature(t, p)
	if diff := cmp.Diff([]string{TextEncoderSubfolder, TextEncoder2Subfolder, UNetSubfolder, VAEDecoderSubfolder, VAEEncoderSubfolder}, slices.Sorted(maps.Keys(want))); diff != "" {
		t.Fatalf("subnetze (-want +got):\n%s", diff)
	}

	dst := filepath.Join(t.TempDir(), "saved")
	require.NoError(t, p.Save(dst))

	reloaded, err := Load(context.Background(), dst, LoadOptions{Backend: testBackend})
	require.NoError(t, err)
	assert.Same(t, StableDiffusionXLImg2Img, reloaded.Class())
	assert.True(t, reloaded.RequiresAestheticsScore())

	if diff := cmp.Diff(want, signature(t, reloaded)); diff != "" {
		t.Errorf("signaturen (-want +got):\n%s", diff)
	}
	for _, sub := range Subfolders {
		before, _ := p.Part(sub)
		after, ok := reloaded.Part(sub)
		require.True(t, ok, sub)
		if diff := cmp.Diff(before.Config(), after.Config()); diff != "" {
			t.Errorf("%s konfiguration (-want +got):\n%s", sub, diff)
		}
		if diff := cmp.Diff(before.KnownSymbols(), after.KnownSymbols()); diff != "" {
			t.Errorf("%s symbole (-want +got):\n%s", sub, diff)
		}
	}
}

func TestAllowPatterns(t *testing.T) {
	config := map[string]any{
		"_class_name": "StableDiffusionPipeline",
		"unet":        []any{"diffusers", "UNet2DConditionModel"},
		"scheduler":   []any{"diffusers", "PNDMScheduler"},
	}

	got := AllowPatterns(config, LoadOptions{FileNames: map[string]string{UNetSubfolder: "model_fp16.onnx"}})
	want := []string{
		"config.json",
		"model.onnx",
		"model_fp16.onnx",
		"model_index.json",
		"scheduler/*",
		"scheduler_config.json",
		"unet/*",
		"vae_decoder/*",
		"vae_encoder/*",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("muster (-want +got):\n%s", diff)
	}
}

// serveDir answers hub API and resolve requests from the files in dir.
func serveDir(t *testing.T, dir string) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	var downloads []string

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/models/{org}/{name}", func(w http.ResponseWriter, r *http.Request) {
		info := huggingface.APIModelInfo{ID: r.PathValue("org") + "/" + r.PathValue("name"), SHA: "cafe"}
		filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			rel, _ := filepath.Rel(dir, path)
			fi, _ := d.Info()
			info.Siblings = append(info.Siblings, huggingface.APISibling{Filename: filepath.ToSlash(rel), Size: fi.Size()})
			return nil
		})
		json.NewEncoder(w).Encode(info)
	})
	mux.HandleFunc("GET /{org}/{name}/resolve/{rev}/{file...}", func(w http.ResponseWriter, r *http.Request) {
		b, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(r.PathValue("file"))))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		downloads = append(downloads, r.PathValue("file"))
		mu.Unlock()
		http.ServeContent(w, r, r.PathValue("file"), time.Time{}, bytes.NewReader(b))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &downloads
}

func TestLoadFromHub(t *testing.T) {
	t.Setenv("HF_HUB_CACHE", t.TempDir())
	t.Setenv("HF_HUB_OFFLINE", "")

	src := t.TempDir()
	writePipeline(t, src)
	require.NoError(t, os.WriteFile(filepath.Join(src, "unet", "diffusion_pytorch_model.safetensors"), []byte("weights"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "README.md"), []byte("# readme"), 0o644))

	srv, downloads := serveDir(t, src)
	client := huggingface.NewClient(huggingface.WithBaseURL(srv.URL), huggingface.WithToken(""))

	p, err := Load(context.Background(), "test/tiny-sd", LoadOptions{Backend: testBackend, Client: client})
	require.NoError(t, err)
	assert.Equal(t, "test/tiny-sd", p.NameOrPath())
	assert.True(t, strings.HasPrefix(p.ModelSaveDir(), huggingface.GetCacheDir()))

	slices.Sort(*downloads)
	for _, name := range *downloads {
		if strings.HasSuffix(name, ".safetensors") || name == "README.md" {
			t.Errorf("%s haette nicht geladen werden duerfen", name)
		}
	}
	if !slices.Contains(*downloads, "unet/weights.pb") {
		t.Errorf("externe gewichte fehlen in %v", *downloads)
	}

	// offline from the cache
	t.Setenv("HF_HUB_OFFLINE", "1")
	cached, err := Load(context.Background(), "test/tiny-sd", LoadOptions{Backend: testBackend, Client: client})
	require.NoError(t, err)
	assert.Equal(t, p.ModelSaveDir(), cached.ModelSaveDir())
}

type fakeExporter struct {
	t     *testing.T
	tasks []Task
}

func (e *fakeExporter) Export(_ context.Context, modelID, dir string, task Task) error {
	if modelID == "broken/model" {
		return errors.New("conversion failed")
	}
	e.tasks = append(e.tasks, task)
	writePipeline(e.t, dir)
	return nil
}

func TestExport(t *testing.T) {
	_, err := Export(context.Background(), "test/tiny-sd", ExportOptions{})
	require.ErrorIs(t, err, ErrUnsupported)

	e := &fakeExporter{t: t}
	RegisterExporter(e)
	assert.Panics(t, func() { RegisterExporter(e) })

	p, err := Export(context.Background(), "test/tiny-sd", ExportOptions{
		LoadOptions: LoadOptions{Backend: testBackend, Class: StableDiffusionXLImg2Img},
	})
	require.NoError(t, err)
	assert.Equal(t, "test/tiny-sd", p.NameOrPath())
	assert.Same(t, StableDiffusionXLImg2Img, p.Class())
	assert.Equal(t, []Task{TaskImageToImage}, e.tasks)

	dir := p.ModelSaveDir()
	_, err = os.Stat(filepath.Join(dir, ModelIndexName))
	require.NoError(t, err)

	require.NoError(t, p.Close())
	if _, err := os.Stat(dir); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("exportverzeichnis %s wurde nicht entfernt: %v", dir, err)
	}

	_, err = Export(context.Background(), "broken/model", ExportOptions{Task: TaskTextToImage, LoadOptions: LoadOptions{Backend: testBackend}})
	require.ErrorContains(t, err, "conversion failed")
}
