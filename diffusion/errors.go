// errors.go - Fehler der Pipeline-Schicht
package diffusion

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is the parent of every error caused by an
	// inconsistent or incomplete pipeline setup.
	ErrConfiguration = errors.New("pipeline configuration error")

	ErrConfigNotFound       = fmt.Errorf("%w: config.json not found", ErrConfiguration)
	ErrUnknownPipelineClass = fmt.Errorf("%w: unknown pipeline class", ErrConfiguration)
	ErrAttributeUndefined   = fmt.Errorf("%w: attribute not defined for any component", ErrConfiguration)
	ErrAttributeMismatch    = fmt.Errorf("%w: attribute differs between components", ErrConfiguration)
	ErrSchedulerRequired    = fmt.Errorf("%w: a scheduler is required", ErrConfiguration)

	ErrUnsupported    = errors.New("unsupported operation")
	ErrDeviceMismatch = errors.New("execution provider did not switch to the requested device")
	ErrMissingInput   = errors.New("missing declared input")
)

// AttributeError reports a cross-cutting attribute that is undefined or
// disagrees between components.
type AttributeError struct {
	Attribute string
	// Values maps component name to its stringified value.
	Values map[string]string
	Err    error
}

func (e *AttributeError) Error() string {
	if len(e.Values) == 0 {
		return fmt.Sprintf("%s is not defined for any component", e.Attribute)
	}
	return fmt.Sprintf("%s is not the same across components: %v", e.Attribute, e.Values)
}

func (e *AttributeError) Unwrap() error { return e.Err }
