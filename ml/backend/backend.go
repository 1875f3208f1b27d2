// Package backend registriert alle verfuegbaren Session-Backends.
// Import mit _ "github.com/ollama/ortdiffusion/ml/backend"
package backend

import (
	_ "github.com/ollama/ortdiffusion/ml/backend/onnxruntime"
)
