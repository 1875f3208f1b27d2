// config_utils.go - Getter-Fabriken und die Tabelle aller Variablen
//
// Bool, String und Uint erzeugen Getter, die bei jedem Aufruf neu lesen.
// AsMap und Values exportieren die Tabelle fuer CLI-Hilfe und Debug-Logs.
package envconfig

import (
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
)

// Bool returns a getter for k. Unset or unparsable values are false.
func Bool(k string) func() bool {
	return func() bool {
		s := Var(k)
		if s == "" {
			return false
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			slog.Warn("invalid environment variable, using false", "key", k, "value", s)
			return false
		}
		return b
	}
}

// String returns a getter for k.
func String(k string) func() string {
	return func() string {
		return Var(k)
	}
}

// Uint returns a getter for k that falls back to defaultValue.
func Uint(k string, defaultValue uint) func() uint {
	return func() uint {
		s := Var(k)
		if s == "" {
			return defaultValue
		}
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			slog.Warn("invalid environment variable, using default", "key", k, "value", s, "default", defaultValue)
			return defaultValue
		}
		return uint(n)
	}
}

// EnvVar describes one variable for help output.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

type variable struct {
	name        string
	description string
	value       func() any
	// goos limits the variable to one platform, or excludes it with a "!" prefix
	goos string
}

func raw(k string) func() any { return func() any { return Var(k) } }

var variables = []variable{
	{"ORTDIFF_DEBUG", "Show additional debug information (e.g. ORTDIFF_DEBUG=1)", func() any { return LogLevel() }, ""},
	{"ORTDIFF_PROVIDER", "Execution provider for all subnetworks (default CPUExecutionProvider)", func() any { return Provider() }, ""},
	{"ORTDIFF_PROVIDER_OPTIONS", "Provider options as key=value pairs (e.g. device_id=1)", func() any { return ProviderOptions() }, ""},
	{"ORTDIFF_IO_BINDING", "Force IO binding on or off (default: on for GPU providers)", raw("ORTDIFF_IO_BINDING"), ""},
	{"ORTDIFF_ORT_LIBRARY", "Path to the onnxruntime shared library", func() any { return ORTLibrary() }, ""},
	{"ORTDIFF_NUM_THREADS", "Intra-op threads (default: chosen by onnxruntime)", func() any { return NumThreads() }, ""},
	{"ORTDIFF_DOWNLOAD_PARALLEL", "Parallel file downloads (default 4)", func() any { return DownloadParallel() }, ""},
	{"HF_ENDPOINT", "Model hub endpoint (default https://huggingface.co)", func() any { return HubEndpoint() }, ""},
	{"HF_TOKEN", "Model hub access token", func() any { return redact(HubToken()) }, ""},
	{"HF_HUB_CACHE", "Model hub cache directory", func() any { return HubCache() }, ""},
	{"HF_HOME", "Model hub home directory", func() any { return HubHome() }, ""},
	{"HF_HUB_OFFLINE", "Only use the local cache", func() any { return Offline() }, ""},
	{"HTTP_PROXY", "HTTP proxy", raw("HTTP_PROXY"), ""},
	{"HTTPS_PROXY", "HTTPS proxy", raw("HTTPS_PROXY"), ""},
	{"NO_PROXY", "No proxy", raw("NO_PROXY"), ""},
	{"http_proxy", "HTTP proxy", raw("http_proxy"), "!windows"},
	{"https_proxy", "HTTPS proxy", raw("https_proxy"), "!windows"},
	{"no_proxy", "No proxy", raw("no_proxy"), "!windows"},
	{"CUDA_VISIBLE_DEVICES", "Set which NVIDIA devices are visible", raw("CUDA_VISIBLE_DEVICES"), "!darwin"},
}

func (v variable) supported(goos string) bool {
	switch {
	case v.goos == "":
		return true
	case v.goos[0] == '!':
		return v.goos[1:] != goos
	default:
		return v.goos == goos
	}
}

// AsMap returns every variable of this platform with its current value.
func AsMap() map[string]EnvVar {
	ret := make(map[string]EnvVar, len(variables))
	for _, v := range variables {
		if v.supported(runtime.GOOS) {
			ret[v.name] = EnvVar{v.name, v.value(), v.description}
		}
	}
	return ret
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// Values returns the current values as strings, secrets redacted.
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprint(v.Value)
	}
	return vals
}
