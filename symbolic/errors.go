// errors.go - Fehlertypen der Shape-Aufloesung
package symbolic

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnresolvableDimension = errors.New("unresolvable symbolic dimension")
	ErrAmbiguousDimension    = errors.New("symbolic dimension has more than one free symbol")
	ErrInconsistentDimension = errors.New("inconsistent symbolic dimension")
	ErrUnresolvedOutputShape = errors.New("unresolved output shape")
	ErrInvalidDimension      = errors.New("dimension is not a non-negative integer")
)

// DimensionError describes a failure on one input dimension.
type DimensionError struct {
	Input    string
	Axis     int
	Expr     string
	Observed int64
	Err      error
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("input %s axis %d: %v (expression: %s, dimension: %d)", e.Input, e.Axis, e.Err, e.Expr, e.Observed)
}

func (e *DimensionError) Unwrap() error { return e.Err }

// UnresolvedOutputShapeError lists every output of a subnetwork whose shape
// still has free symbols after substitution.
type UnresolvedOutputShapeError struct {
	Subnetwork string
	Outputs    map[string]Shape
}

func (e *UnresolvedOutputShapeError) Error() string {
	names := make([]string, 0, len(e.Outputs))
	for name := range e.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%s", name, e.Outputs[name])
	}
	return fmt.Sprintf("%v for %s: %s", ErrUnresolvedOutputShape, e.Subnetwork, strings.Join(parts, ", "))
}

func (e *UnresolvedOutputShapeError) Unwrap() error { return ErrUnresolvedOutputShape }
