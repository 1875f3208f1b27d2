// save.go - Speichern einer Pipeline in ein Verzeichnis
//
// Layout:
//
//	<dir>/model_index.json
//	<dir>/<subfolder>/model.onnx, externe Gewichtsdateien, config.json
//	<dir>/scheduler, tokenizer, tokenizer_2, feature_extractor
package diffusion

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ollama/ortdiffusion/fs/onnx"
)

// Save writes the pipeline into dir so that Load can recreate it.
func (p *Pipeline) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	parts := p.parts()
	for _, sub := range Subfolders {
		part, ok := parts[sub]
		if !ok {
			continue
		}
		if err := savePart(part, filepath.Join(dir, sub)); err != nil {
			return fmt.Errorf("%s: %w", sub, err)
		}
	}

	submodels := map[string]any{
		"scheduler":         p.Scheduler,
		"tokenizer":         p.Tokenizer,
		"tokenizer_2":       p.Tokenizer2,
		"feature_extractor": p.FeatureExtractor,
	}
	for _, name := range Submodels {
		v := submodels[name]
		if v == nil {
			continue
		}
		s, ok := v.(Saver)
		if !ok {
			slog.Warn("submodel cannot be saved, skipping", "submodel", name, "type", fmt.Sprintf("%T", v))
			continue
		}
		if err := s.Save(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	return p.saveConfig(dir)
}

// savePart copies the model file, its external data and its config.json.
func savePart(part *Part, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	src := part.ModelPath()
	m, err := onnx.Open(src)
	if err != nil {
		return err
	}

	if err := copyFile(src, filepath.Join(dir, WeightsName)); err != nil {
		return err
	}

	srcDir := filepath.Dir(src)
	for _, name := range m.ExternalDataFiles() {
		if err := copyFile(filepath.Join(srcDir, filepath.FromSlash(name)), filepath.Join(dir, filepath.FromSlash(name))); err != nil {
			return err
		}
	}

	err = copyFile(filepath.Join(srcDir, ConfigName), filepath.Join(dir, ConfigName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// saveConfig writes model_index.json with the class name of the pipeline.
func (p *Pipeline) saveConfig(dir string) error {
	config := p.Config()
	if p.class != nil {
		config["_class_name"] = p.class.Name
	}

	b, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ModelIndexName), append(b, '\n'), 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if fi, err := os.Stat(dst); err == nil {
		if si, err := in.Stat(); err == nil && os.SameFile(si, fi) {
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
