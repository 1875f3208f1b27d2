// config.go - Haupt-Konfigurationsfunktionen fuer ortdiffusion
//
// Dieses Modul enthaelt:
// - Provider/ProviderOptions: Execution Provider (ORTDIFF_PROVIDER, ORTDIFF_PROVIDER_OPTIONS)
// - IOBinding: Erzwingt oder verbietet IO-Binding (ORTDIFF_IO_BINDING)
// - HubEndpoint: Basis-URL des Model-Hubs (HF_ENDPOINT)
// - LogLevel: Gibt Log-Level zurueck (ORTDIFF_DEBUG)
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Feature-Flags, Hub- und Runtime-Variablen
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Provider gibt den Execution Provider zurueck
// Konfigurierbar via ORTDIFF_PROVIDER
// Default: CPUExecutionProvider
func Provider() string {
	if s := Var("ORTDIFF_PROVIDER"); s != "" {
		return s
	}
	return "CPUExecutionProvider"
}

// ProviderOptions gibt die Optionen des Execution Providers zurueck
// Konfigurierbar via ORTDIFF_PROVIDER_OPTIONS (key=value, komma-separiert)
func ProviderOptions() map[string]string {
	opts := map[string]string{}
	for _, kv := range strings.Split(Var("ORTDIFF_PROVIDER_OPTIONS"), ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if !ok || k == "" {
			if kv != "" {
				slog.Warn("invalid provider option, ignoring", "option", kv)
			}
			continue
		}
		opts[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return opts
}

// IOBinding gibt zurueck ob IO-Binding erzwungen (true) oder verboten (false) ist
// Konfigurierbar via ORTDIFF_IO_BINDING
// ok ist false wenn nicht gesetzt, dann entscheidet der Provider
func IOBinding() (enabled, ok bool) {
	s := Var("ORTDIFF_IO_BINDING")
	if s == "" {
		return false, false
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		slog.Warn("invalid environment variable, ignoring", "key", "ORTDIFF_IO_BINDING", "value", s)
		return false, false
	}
	return b, true
}

// HubEndpoint gibt die Basis-URL des Model-Hubs zurueck
// Konfigurierbar via HF_ENDPOINT
// Default: https://huggingface.co
func HubEndpoint() *url.URL {
	def := &url.URL{Scheme: "https", Host: "huggingface.co"}

	s := strings.TrimRight(Var("HF_ENDPOINT"), "/")
	if s == "" {
		return def
	}

	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		slog.Warn("invalid HF_ENDPOINT, using default", "value", s, "default", def)
		return def
	}
	return u
}

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via ORTDIFF_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("ORTDIFF_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
