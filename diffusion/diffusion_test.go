package diffusion

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ollama/ortdiffusion/ml"
	"github.com/ollama/ortdiffusion/ml/mltest"
)

type fakeScheduler struct{ saved []string }

func (s *fakeScheduler) Save(dir string) error {
	s.saved = append(s.saved, dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, SchedulerConfigName), []byte(`{"_class_name":"PNDMScheduler"}`), 0o644)
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	b, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o644))
}

// newSession returns a fake session whose model lives in dir/sub. A nil
// config leaves config.json out.
func newSession(t *testing.T, dir, sub string, config map[string]any, in, out []ml.ValueInfo, fn mltest.Func) *mltest.Session {
	t.Helper()
	path := filepath.Join(dir, sub, WeightsName)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	if config != nil {
		writeJSON(t, filepath.Join(dir, sub, ConfigName), config)
	}
	return mltest.New(path, in, out, fn)
}

func scaled(x *ml.Tensor, f float32) (*ml.Tensor, error) {
	values, err := x.Float32s()
	if err != nil {
		return nil, err
	}
	for i := range values {
		values[i] *= f
	}
	return ml.FromFloat32s(values, x.Shape()...)
}

func ramp(shape ...int64) *ml.Tensor {
	values := make([]float32, ml.NumElements(shape))
	for i := range values {
		values[i] = float32(i) / 10
	}
	t, err := ml.FromFloat32s(values, shape...)
	if err != nil {
		panic(err)
	}
	return t
}

func float32s(t *testing.T, x *ml.Tensor) []float32 {
	t.Helper()
	values, err := x.Float32s()
	require.NoError(t, err)
	return values
}

var (
	unetInputs = []ml.ValueInfo{
		{Name: "sample", DType: ml.DTypeF32, Dims: []string{"batch", "4", "height", "width"}},
		{Name: "timestep", DType: ml.DTypeI64, Dims: []string{"steps"}},
		{Name: "encoder_hidden_states", DType: ml.DTypeF32, Dims: []string{"batch", "sequence", "hidden_size"}},
	}
	unetOutputs = []ml.ValueInfo{
		{Name: "out_sample", DType: ml.DTypeF32, Dims: []string{"batch", "out_channels", "height", "width"}},
	}
	unetConfig = map[string]any{
		"in_channels":        4,
		"out_channels":       4,
		"sample_size":        8,
		"time_cond_proj_dim": nil,
	}
)

// doubleSample predicts twice the sample.
func doubleSample(inputs map[string]*ml.Tensor) (map[string]*ml.Tensor, error) {
	out, err := scaled(inputs["sample"], 2)
	if err != nil {
		return nil, err
	}
	return map[string]*ml.Tensor{"out_sample": out}, nil
}

func newUNetSession(t *testing.T, dir string) *mltest.Session {
	return newSession(t, dir, UNetSubfolder, unetConfig, unetInputs, unetOutputs, doubleSample)
}

func vaeDecoderSession(t *testing.T, dir string, config map[string]any) *mltest.Session {
	return newSession(t, dir, VAEDecoderSubfolder, config,
		[]ml.ValueInfo{{Name: "latent_sample", DType: ml.DTypeF32, Dims: []string{"batch", "4", "height", "width"}}},
		[]ml.ValueInfo{{Name: "sample", DType: ml.DTypeF32, Dims: []string{"batch", "3", "8*height", "8*width"}}},
		func(inputs map[string]*ml.Tensor) (map[string]*ml.Tensor, error) {
			shape := inputs["latent_sample"].Shape()
			return map[string]*ml.Tensor{"sample": ml.Empty(ml.DTypeF32, shape[0], 3, shape[2]*8, shape[3]*8)}, nil
		})
}

func textEncoderSession(t *testing.T, dir, sub string, layers int) *mltest.Session {
	out := []ml.ValueInfo{
		{Name: "last_hidden_state", DType: ml.DTypeF32, Dims: []string{"batch", "sequence", "hidden_size"}},
		{Name: "pooler_output", DType: ml.DTypeF32, Dims: []string{"batch", "hidden_size"}},
	}
	for i := range layers {
		out = append(out, ml.ValueInfo{Name: fmt.Sprintf("hidden_states.%d", i), DType: ml.DTypeF32, Dims: []string{"batch", "sequence", "hidden_size"}})
	}

	return newSession(t, dir, sub, map[string]any{"hidden_size": 2, "num_hidden_layers": layers},
		[]ml.ValueInfo{{Name: "input_ids", DType: ml.DTypeI64, Dims: []string{"batch", "sequence"}}},
		out,
		func(inputs map[string]*ml.Tensor) (map[string]*ml.Tensor, error) {
			shape := inputs["input_ids"].Shape()
			results := map[string]*ml.Tensor{
				"last_hidden_state": ramp(shape[0], shape[1], 2),
				"pooler_output":     ramp(shape[0], 2),
			}
			for i := range layers {
				h, err := scaled(ramp(shape[0], shape[1], 2), float32(i+1))
				if err != nil {
					return nil, err
				}
				results[fmt.Sprintf("hidden_states.%d", i)] = h
			}
			return results, nil
		})
}

func boolPtr(v bool) *bool { return &v }
