// cache.go - Lokaler Cache fuer Model-Hub Snapshots
// Kompatibel mit der huggingface_hub Cache-Struktur:
//
//	models--<org>--<name>/refs/<revision>      Commit-Hash der Revision
//	models--<org>--<name>/snapshots/<commit>/  Dateien des Snapshots
package huggingface

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/ollama/ortdiffusion/envconfig"
)

const (
	CacheRefDir      = "refs"
	CacheSnapshotDir = "snapshots"
	CacheModelPrefix = "models--"
)

var ErrModelNotInCache = errors.New("modell nicht im cache")

// CachedModel describes one repository in the cache.
type CachedModel struct {
	ModelID   string
	CacheDir  string
	Revisions []string
	TotalSize int64
	FileCount int
}

// CacheInfo summarizes the cache.
type CacheInfo struct {
	CacheDir   string
	TotalSize  int64
	ModelCount int
	Models     []CachedModel
}

// GetCacheDir returns HF_HUB_CACHE, $HF_HOME/hub or the platform default.
func GetCacheDir() string {
	if dir := envconfig.HubCache(); dir != "" {
		return dir
	}
	if home := envconfig.HubHome(); home != "" {
		return filepath.Join(home, "hub")
	}

	base := filepath.Join(os.TempDir(), "huggingface_cache")
	switch {
	case runtime.GOOS != "windows" && os.Getenv("XDG_CACHE_HOME") != "":
		base = os.Getenv("XDG_CACHE_HOME")
	default:
		if home, err := os.UserHomeDir(); err == nil {
			base = filepath.Join(home, ".cache")
		}
	}
	return filepath.Join(base, "huggingface", "hub")
}

func modelIDToCacheDir(modelID string) string {
	return CacheModelPrefix + strings.ReplaceAll(modelID, "/", "--")
}

func cacheDirToModelID(cacheDir string) string {
	return strings.Replace(strings.TrimPrefix(cacheDir, CacheModelPrefix), "--", "/", 1)
}

// modelCacheDir is the cache directory of one repository.
func modelCacheDir(modelID string) string {
	return filepath.Join(GetCacheDir(), modelIDToCacheDir(modelID))
}

// writeRef records the commit a revision points to.
func writeRef(modelID, revision, commit string) error {
	path := filepath.Join(modelCacheDir(modelID), CacheRefDir, revision)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(commit), 0o644)
}

// resolveRef returns the commit of revision, or revision itself when no ref
// is recorded.
func resolveRef(modelID, revision string) string {
	b, err := os.ReadFile(filepath.Join(modelCacheDir(modelID), CacheRefDir, revision))
	if err != nil {
		return revision
	}
	if commit := strings.TrimSpace(string(b)); commit != "" {
		return commit
	}
	return revision
}

// GetCachedSnapshot returns the snapshot directory of revision if it holds
// at least one file.
func GetCachedSnapshot(modelID, revision string) (string, bool) {
	path := filepath.Join(modelCacheDir(modelID), CacheSnapshotDir, resolveRef(modelID, revision))
	entries, err := os.ReadDir(path)
	if err != nil || len(entries) == 0 {
		return "", false
	}
	return path, true
}

// ListCachedModels returns the ids of every cached repository.
func ListCachedModels() ([]string, error) {
	entries, err := os.ReadDir(GetCacheDir())
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("cache lesen fehlgeschlagen: %w", err)
	}

	models := []string{}
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), CacheModelPrefix) {
			models = append(models, cacheDirToModelID(entry.Name()))
		}
	}
	return models, nil
}

// GetCacheInfo walks the cache and collects sizes and revisions.
func GetCacheInfo() (*CacheInfo, error) {
	info := CacheInfo{CacheDir: GetCacheDir(), Models: []CachedModel{}}

	ids, err := ListCachedModels()
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		m := CachedModel{ModelID: id, CacheDir: modelCacheDir(id)}
		if refs, err := os.ReadDir(filepath.Join(m.CacheDir, CacheRefDir)); err == nil {
			for _, ref := range refs {
				m.Revisions = append(m.Revisions, ref.Name())
			}
		}
		if len(m.Revisions) == 0 {
			if snapshots, err := os.ReadDir(filepath.Join(m.CacheDir, CacheSnapshotDir)); err == nil {
				for _, s := range snapshots {
					if s.IsDir() {
						m.Revisions = append(m.Revisions, s.Name())
					}
				}
			}
		}

		m.TotalSize, m.FileCount = dirSize(m.CacheDir)
		info.Models = append(info.Models, m)
		info.TotalSize += m.TotalSize
		info.ModelCount++
	}
	return &info, nil
}

// ClearModelCache removes one repository from the cache.
func ClearModelCache(modelID string) error {
	path := modelCacheDir(modelID)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return ErrModelNotInCache
	}
	return os.RemoveAll(path)
}

// ClearCache removes every cached repository.
func ClearCache() error {
	ids, err := ListCachedModels()
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range ids {
		errs = append(errs, os.RemoveAll(modelCacheDir(id)))
	}
	return errors.Join(errs...)
}

func dirSize(path string) (size int64, count int) {
	filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
			count++
		}
		return nil
	})
	return size, count
}
