// export.go - Export eines Checkpoints nach ONNX und anschliessendes Laden
// Der eigentliche Export ist austauschbar und wird per RegisterExporter
// eingehaengt.
package diffusion

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Exporter converts a checkpoint into a pipeline directory readable by
// Load.
type Exporter interface {
	Export(ctx context.Context, modelID, dir string, task Task) error
}

var exporter Exporter

// RegisterExporter installs the exporter used by Export.
func RegisterExporter(e Exporter) {
	if exporter != nil {
		panic("diffusion: exporter already registered")
	}
	exporter = e
}

// ExportOptions controls Export.
type ExportOptions struct {
	LoadOptions

	// Task selects the exported pipeline, the task of Class or
	// text-to-image when empty
	Task Task
}

// Export runs the registered exporter into a temporary directory and loads
// the result. The directory is removed when the pipeline is closed.
func Export(ctx context.Context, modelID string, opts ExportOptions) (*Pipeline, error) {
	if exporter == nil {
		return nil, fmt.Errorf("%w: no exporter registered", ErrUnsupported)
	}

	task := opts.Task
	if task == "" {
		task = TaskTextToImage
		if opts.Class != nil {
			task = opts.Class.Task
		}
	}

	dir := filepath.Join(os.TempDir(), "ortdiffusion-export-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	slog.Info("exporting model", "model", modelID, "task", task, "dir", dir)
	if err := exporter.Export(ctx, modelID, dir, task); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("export %s: %w", modelID, err)
	}

	lo := opts.LoadOptions
	lo.ModelSaveDir = dir
	p, err := Load(ctx, dir, lo)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	p.config["_name_or_path"] = modelID
	p.tempDir = dir
	return p, nil
}
