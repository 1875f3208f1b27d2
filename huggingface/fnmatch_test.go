package huggingface

import "testing"

func TestPatternMatch(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"unet/*", "unet/model.onnx", true},
		{"unet/*", "unet/sub/model.onnx_data", true},
		{"unet/*", "vae_decoder/model.onnx", false},
		{"*.bin", "text_encoder/pytorch_model.bin", true},
		{"*.bin", "model.binary", false},
		{"model.onnx", "model.onnx", true},
		{"model.onnx", "unet/model.onnx", false},
		{"model?onnx", "model.onnx", true},
		{"[ab].json", "a.json", true},
		{"[!ab].json", "a.json", false},
		{"[!ab].json", "c.json", true},
		{"[abc", "[abc", true},
		{"scheduler/", "scheduler/scheduler_config.json", true},
		{"a+b(c)", "a+b(c)", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.name, func(t *testing.T) {
			p, err := CompilePattern(tt.pattern)
			if err != nil {
				t.Fatal(err)
			}
			if got := p.Match(tt.name); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, erwartet %v", tt.pattern, tt.name, got, tt.want)
			}
		})
	}
}

func TestFilter(t *testing.T) {
	f, err := NewFilter(
		[]string{"unet/*", "model_index.json"},
		[]string{"*.safetensors", "*.bin"},
	)
	if err != nil {
		t.Fatal(err)
	}

	for name, want := range map[string]bool{
		"unet/model.onnx":                          true,
		"unet/diffusion_pytorch_model.safetensors": false,
		"model_index.json":                         true,
		"README.md":                                false,
	} {
		if got := f.Match(name); got != want {
			t.Errorf("Match(%q) = %v, erwartet %v", name, got, want)
		}
	}

	all, _ := NewFilter(nil, []string{"*.xml"})
	if !all.Match("anything/at/all.onnx") || all.Match("openvino.xml") {
		t.Error("leere Allow-Liste sollte alles ausser Ignore-Patterns zulassen")
	}
}
