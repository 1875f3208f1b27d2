//go:build !cgo

// MODUL: onnxruntime/stub
// ZWECK: Stub-Implementierung wenn CGO nicht verfuegbar ist
// HINWEISE: Registriert das Backend, jede Session-Erstellung schlaegt fehl

package onnxruntime

import (
	"errors"

	"github.com/ollama/ortdiffusion/ml"
)

// ErrCGORequired wird zurueckgegeben wenn CGO nicht verfuegbar ist
var ErrCGORequired = errors.New("onnxruntime: CGO required but not available")

func init() {
	ml.RegisterBackend("onnxruntime", New)
}

// New Stub - gibt immer Fehler zurueck
func New(path string, params ml.SessionParams) (ml.Session, error) {
	return nil, ErrCGORequired
}
