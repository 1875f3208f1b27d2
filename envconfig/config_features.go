// config_features.go - Feature-Flags, Hub- und Runtime-Konfiguration
//
// Dieses Modul enthaelt:
// - Runtime-Variablen (ONNX Runtime Library, Threads)
// - Hub-Variablen (Token, Cache, Offline-Modus)
// - Parallelitaets-Einstellungen fuer Downloads
package envconfig

// =============================================================================
// Runtime
// =============================================================================

var (
	// ORTLibrary ist der Pfad zur onnxruntime Shared Library
	ORTLibrary = String("ORTDIFF_ORT_LIBRARY")

	// NumThreads setzt die Intra-Op Threads, 0 = ONNX Runtime entscheidet
	NumThreads = Uint("ORTDIFF_NUM_THREADS", 0)
)

// =============================================================================
// Model-Hub
// =============================================================================

var (
	// HubToken ist das Zugriffstoken fuer private oder gated Modelle
	HubToken = String("HF_TOKEN")

	// HubCache ueberschreibt das Cache-Verzeichnis
	HubCache = String("HF_HUB_CACHE")

	// HubHome ist das Basisverzeichnis, Cache liegt unter $HF_HOME/hub
	HubHome = String("HF_HOME")

	// Offline verbietet Netzwerkzugriffe, nur der lokale Cache wird genutzt
	Offline = Bool("HF_HUB_OFFLINE")

	// DownloadParallel ist die Anzahl paralleler Datei-Downloads
	DownloadParallel = Uint("ORTDIFF_DOWNLOAD_PARALLEL", 4)
)
