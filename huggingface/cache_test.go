// cache_test.go - Unit Tests fuer den Snapshot-Cache
package huggingface

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetCacheDir(t *testing.T) {
	tests := []struct {
		name         string
		hubCache     string
		hfHome       string
		want         string
		wantContains string
	}{
		{name: "HF_HUB_CACHE hat Prioritaet", hubCache: "/custom/cache", hfHome: "/other", want: "/custom/cache"},
		{name: "HF_HOME/hub", hfHome: "/hf/home", want: filepath.Join("/hf/home", "hub")},
		{name: "Default", wantContains: filepath.Join("huggingface", "hub")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HF_HUB_CACHE", tt.hubCache)
			t.Setenv("HF_HOME", tt.hfHome)

			got := GetCacheDir()
			if tt.want != "" && got != tt.want {
				t.Errorf("GetCacheDir() = %q, erwartet %q", got, tt.want)
			}
			if tt.wantContains != "" && !strings.Contains(got, tt.wantContains) {
				t.Errorf("GetCacheDir() = %q, sollte %q enthalten", got, tt.wantContains)
			}
		})
	}
}

func TestCacheDirRoundTrip(t *testing.T) {
	for _, modelID := range []string{
		"stabilityai/stable-diffusion-xl-base-1.0",
		"SimianLuo/LCM_Dreamshaper_v7",
		"optimum/tiny-stable-diffusion-onnx",
	} {
		t.Run(modelID, func(t *testing.T) {
			dir := modelIDToCacheDir(modelID)
			if strings.Contains(dir, "/") {
				t.Errorf("Cache-Verzeichnis %q enthaelt '/'", dir)
			}
			if got := cacheDirToModelID(dir); got != modelID {
				t.Errorf("RoundTrip fehlgeschlagen: %q -> %q -> %q", modelID, dir, got)
			}
		})
	}
}

func writeCacheFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestGetCachedSnapshot(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("HF_HUB_CACHE", tmp)

	modelID := "test-org/test-model"
	if _, ok := GetCachedSnapshot(modelID, "main"); ok {
		t.Error("GetCachedSnapshot sollte false fuer leeren Cache liefern")
	}

	snapshot := filepath.Join(tmp, modelIDToCacheDir(modelID), CacheSnapshotDir, "abc123")
	if err := os.MkdirAll(snapshot, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := writeRef(modelID, "main", "abc123"); err != nil {
		t.Fatal(err)
	}

	if _, ok := GetCachedSnapshot(modelID, "main"); ok {
		t.Error("leerer Snapshot sollte nicht gefunden werden")
	}

	writeCacheFile(t, filepath.Join(snapshot, "model_index.json"), "{}")

	got, ok := GetCachedSnapshot(modelID, "main")
	if !ok || got != snapshot {
		t.Errorf("GetCachedSnapshot(main) = %q, %v, erwartet %q", got, ok, snapshot)
	}

	// commit direkt angegeben
	if got, ok := GetCachedSnapshot(modelID, "abc123"); !ok || got != snapshot {
		t.Errorf("GetCachedSnapshot(abc123) = %q, %v", got, ok)
	}
}

func TestCacheInfoAndClear(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("HF_HUB_CACHE", tmp)

	info, err := GetCacheInfo()
	if err != nil {
		t.Fatal(err)
	}
	if info.ModelCount != 0 {
		t.Errorf("ModelCount = %d, erwartet 0", info.ModelCount)
	}

	for _, id := range []string{"org1/model1", "org2/model2"} {
		writeCacheFile(t, filepath.Join(tmp, modelIDToCacheDir(id), CacheSnapshotDir, "c0ffee", "unet", "model.onnx"), "1234")
		if err := writeRef(id, "main", "c0ffee"); err != nil {
			t.Fatal(err)
		}
	}

	info, err = GetCacheInfo()
	if err != nil {
		t.Fatal(err)
	}
	if info.ModelCount != 2 || len(info.Models) != 2 {
		t.Fatalf("ModelCount = %d, erwartet 2", info.ModelCount)
	}
	m := info.Models[0]
	if m.ModelID != "org1/model1" || m.FileCount != 2 || len(m.Revisions) != 1 || m.Revisions[0] != "main" {
		t.Errorf("Models[0] = %+v", m)
	}

	if err := ClearModelCache("org1/model1"); err != nil {
		t.Fatal(err)
	}
	if err := ClearModelCache("org1/model1"); !errors.Is(err, ErrModelNotInCache) {
		t.Errorf("ClearModelCache Fehler = %v, erwartet ErrModelNotInCache", err)
	}

	if err := ClearCache(); err != nil {
		t.Fatal(err)
	}
	models, err := ListCachedModels()
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 0 {
		t.Errorf("ListCachedModels() = %v nach ClearCache", models)
	}
}
