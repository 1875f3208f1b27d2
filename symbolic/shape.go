// shape.go - Kompilieren deklarierter Shapes und Aufloesen der Output-Shapes
//
// Dieses Modul enthaelt:
// - Shape/Compiled: kompilierte Shapes in Deklarationsreihenfolge
// - Compile: einmaliges Parsen beim Laden eines Subnetzes
// - ResolveOutputs: Aufloesung pro Aufruf aus den echten Input-Shapes
package symbolic

import (
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Shape is a compiled tensor shape, one expression per axis.
type Shape []*Expr

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = d.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Subst substitutes known into every axis.
func (s Shape) Subst(known Symbols) Shape {
	out := make(Shape, len(s))
	for i, d := range s {
		out[i] = d.Subst(known)
	}
	return out
}

// Free reports whether any axis still has free symbols.
func (s Shape) Free() bool {
	for _, d := range s {
		if !d.IsConst() {
			return true
		}
	}
	return false
}

// Ints returns the concrete dimensions of a fully resolved shape.
func (s Shape) Ints() ([]int64, error) {
	dims := make([]int64, len(s))
	for i, d := range s {
		v, ok := d.Int()
		if !ok || v < 0 {
			return nil, fmt.Errorf("%w: axis %d is %s", ErrInvalidDimension, i, d)
		}
		dims[i] = v
	}
	return dims, nil
}

// Decl is a declared tensor shape as reported by a model: each dimension is
// either an integer literal or a symbolic expression.
type Decl struct {
	Name string
	Dims []string
}

// Compiled holds compiled shapes keyed by tensor name in declaration order.
type Compiled struct {
	m *orderedmap.OrderedMap[string, Shape]
}

// Names returns the tensor names in declaration order.
func (c Compiled) Names() []string {
	if c.m == nil {
		return nil
	}
	names := make([]string, 0, c.m.Len())
	for pair := c.m.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Get returns the compiled shape for name.
func (c Compiled) Get(name string) (Shape, bool) {
	if c.m == nil {
		return nil, false
	}
	return c.m.Get(name)
}

// Len returns the number of compiled shapes.
func (c Compiled) Len() int {
	if c.m == nil {
		return 0
	}
	return c.m.Len()
}

// Compile parses every dimension of every declared shape and substitutes the
// fixed configuration symbols in known.
func Compile(decls []Decl, known Symbols) Compiled {
	m := orderedmap.New[string, Shape](len(decls))
	for _, d := range decls {
		shape := make(Shape, len(d.Dims))
		for i, dim := range d.Dims {
			shape[i] = ParseDim(dim).Subst(known)
		}
		m.Set(d.Name, shape)
	}
	return Compiled{m: m}
}

// ResolveOutputs derives concrete output shapes for one call. Symbols in
// known come from the subnetwork configuration and are never re-derived.
// Inputs missing from actual are skipped.
func ResolveOutputs(subnetwork string, inputs, outputs Compiled, known Symbols, actual map[string][]int64) (map[string][]int64, error) {
	known = known.Clone()
	fixed := make(map[string]bool, len(known))
	for k := range known {
		fixed[k] = true
	}

	for _, name := range inputs.Names() {
		observed, ok := actual[name]
		if !ok {
			continue
		}
		shape, _ := inputs.Get(name)
		for axis, expr := range shape {
			if axis >= len(observed) {
				break
			}
			if err := bind(expr, observed[axis], known, fixed); err != nil {
				return nil, &DimensionError{Input: name, Axis: axis, Expr: expr.String(), Observed: observed[axis], Err: err}
			}
		}
	}

	resolved := make(map[string][]int64, outputs.Len())
	unresolved := make(map[string]Shape)
	for _, name := range outputs.Names() {
		shape, _ := outputs.Get(name)
		shape = shape.Subst(known)
		if shape.Free() {
			unresolved[name] = shape
			continue
		}

		dims, err := shape.Ints()
		if err != nil {
			return nil, fmt.Errorf("%s output %s: %w", subnetwork, name, err)
		}
		resolved[name] = dims
	}

	if len(unresolved) > 0 {
		return nil, &UnresolvedOutputShapeError{Subnetwork: subnetwork, Outputs: unresolved}
	}
	return resolved, nil
}

func bind(expr *Expr, observed int64, known Symbols, fixed map[string]bool) error {
	free := expr.FreeSymbols()
	if free.Size() == 0 || free.Contains(Anonymous) {
		return nil
	}

	// configuration symbols win; a partially fixed dim is not re-solved
	for _, s := range free.Values() {
		if fixed[s] {
			return nil
		}
	}

	if free.Size() > 1 {
		return fmt.Errorf("%w: %v", ErrAmbiguousDimension, free.Values())
	}
	symbol := free.Values()[0]

	if v, ok := known[symbol]; ok {
		got, err := expr.Eval(Symbols{symbol: v})
		if err != nil {
			return err
		}
		if !got.IsInt() || got.Num().Int64() != observed {
			return fmt.Errorf("%w: %s=%d gives %s, observed %d", ErrInconsistentDimension, symbol, v, got.RatString(), observed)
		}
		return nil
	}

	if expr.IsSymbol() {
		if observed < 0 {
			return fmt.Errorf("%w: %d", ErrInvalidDimension, observed)
		}
		known[symbol] = observed
		return nil
	}

	v, err := Solve(expr, symbol, observed)
	if err != nil {
		return err
	}
	known[symbol] = v
	return nil
}
