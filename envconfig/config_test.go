package envconfig

import (
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"t":     slog.LevelDebug,
		"1":     slog.LevelDebug,
		"2":     slog.Level(-8),
	}

	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("ORTDIFF_DEBUG", k)
			if i := LogLevel(); i != v {
				t.Errorf("%s: expected %d, got %d", k, v, i)
			}
		})
	}
}

func TestProviderOptions(t *testing.T) {
	t.Setenv("ORTDIFF_PROVIDER_OPTIONS", "device_id=1, arena_extend_strategy = kSameAsRequested,broken")
	want := map[string]string{"device_id": "1", "arena_extend_strategy": "kSameAsRequested"}
	if diff := cmp.Diff(want, ProviderOptions()); diff != "" {
		t.Errorf("ProviderOptions (-want +got):\n%s", diff)
	}

	t.Setenv("ORTDIFF_PROVIDER_OPTIONS", "")
	if len(ProviderOptions()) != 0 {
		t.Error("leere Optionen erwartet")
	}
}

func TestIOBinding(t *testing.T) {
	cases := []struct {
		value       string
		enabled, ok bool
	}{
		{"", false, false},
		{"1", true, true},
		{"false", false, true},
		{"maybe", false, false},
	}
	for _, tt := range cases {
		t.Setenv("ORTDIFF_IO_BINDING", tt.value)
		enabled, ok := IOBinding()
		if enabled != tt.enabled || ok != tt.ok {
			t.Errorf("%q: IOBinding() = %v, %v", tt.value, enabled, ok)
		}
	}
}

func TestHubEndpoint(t *testing.T) {
	cases := map[string]string{
		"":                          "https://huggingface.co",
		"http://mirror.local:8080/": "http://mirror.local:8080",
		"not a url":                 "https://huggingface.co",
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("HF_ENDPOINT", k)
			if got := HubEndpoint().String(); got != v {
				t.Errorf("HubEndpoint() = %s, erwartet %s", got, v)
			}
		})
	}
}

func TestVar(t *testing.T) {
	t.Setenv("ORTDIFF_VAR", ` "quoted" `)
	if got := Var("ORTDIFF_VAR"); got != "quoted" {
		t.Errorf("Var() = %q", got)
	}
}

func TestAsMapRedactsToken(t *testing.T) {
	t.Setenv("HF_TOKEN", "hf_secret")
	if got := AsMap()["HF_TOKEN"].Value; got != "***" {
		t.Errorf("HF_TOKEN = %v", got)
	}
}

func TestGetters(t *testing.T) {
	t.Setenv("ORTDIFF_NUM_THREADS", "8")
	t.Setenv("ORTDIFF_DOWNLOAD_PARALLEL", "viele")
	t.Setenv("HF_HUB_OFFLINE", "ja")

	if got := NumThreads(); got != 8 {
		t.Errorf("NumThreads() = %d", got)
	}
	if got := DownloadParallel(); got != 4 {
		t.Errorf("DownloadParallel() = %d, erwartet default 4", got)
	}
	if Offline() {
		t.Error("ungueltiger bool sollte false sein")
	}

	t.Setenv("HF_HUB_OFFLINE", "1")
	if !Offline() {
		t.Error("HF_HUB_OFFLINE=1 sollte true sein")
	}
	if got := Values()["HF_HUB_OFFLINE"]; got != "true" {
		t.Errorf("Values()[HF_HUB_OFFLINE] = %q", got)
	}
}

func TestVariablePlatforms(t *testing.T) {
	cases := []struct {
		goos, os string
		want     bool
	}{
		{"", "linux", true},
		{"!windows", "linux", true},
		{"!windows", "windows", false},
		{"darwin", "darwin", true},
		{"darwin", "linux", false},
	}
	for _, tt := range cases {
		if got := (variable{goos: tt.goos}).supported(tt.os); got != tt.want {
			t.Errorf("%q auf %s = %v", tt.goos, tt.os, got)
		}
	}
}
