// expr.go - Symbolische Ausdruecke fuer Tensor-Dimensionen
//
// Dieses Modul enthaelt:
// - Expr: unveraenderlicher Ausdrucksbaum (Konstanten, Symbole, Operatoren)
// - Subst/Eval: Einsetzen bekannter Symbole und Konstantenfaltung
// - FreeSymbols: sortierte Menge freier Symbole
package symbolic

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/emirpasic/gods/v2/sets/treeset"
)

// Op identifies the kind of an expression node.
type Op int

const (
	OpConst Op = iota
	OpSymbol
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpFloorDiv
	OpMod
	OpNeg
	OpFloor
	OpCeil
	OpMin
	OpMax
)

var opText = map[Op]string{
	OpAdd:      "+",
	OpSub:      "-",
	OpMul:      "*",
	OpDiv:      "/",
	OpFloorDiv: "//",
	OpMod:      "%",
}

var funcText = map[Op]string{
	OpFloor: "floor",
	OpCeil:  "ceil",
	OpMin:   "Min",
	OpMax:   "Max",
}

// Symbols maps symbol names to resolved dimension values.
type Symbols map[string]int64

// Clone returns a copy of s that can be extended without touching s.
func (s Symbols) Clone() Symbols {
	c := make(Symbols, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// Expr is an immutable expression over named integer symbols. Values are
// exact rationals so that expressions such as height/8 round-trip without
// loss until they are checked for integrality.
type Expr struct {
	op   Op
	val  *big.Rat
	name string
	args []*Expr
}

// Const returns a constant expression.
func Const(v int64) *Expr {
	return &Expr{op: OpConst, val: new(big.Rat).SetInt64(v)}
}

func constRat(r *big.Rat) *Expr {
	return &Expr{op: OpConst, val: new(big.Rat).Set(r)}
}

// Symbol returns a bare symbol expression.
func Symbol(name string) *Expr {
	return &Expr{op: OpSymbol, name: name}
}

func node(op Op, args ...*Expr) *Expr {
	return &Expr{op: op, args: args}
}

// Op returns the node kind.
func (e *Expr) Op() Op { return e.op }

// Name returns the symbol name for OpSymbol nodes.
func (e *Expr) Name() string { return e.name }

// IsSymbol reports whether e is a bare symbol.
func (e *Expr) IsSymbol() bool { return e.op == OpSymbol }

// Int returns the value of a constant integer expression.
func (e *Expr) Int() (int64, bool) {
	if e.op != OpConst || !e.val.IsInt() || !e.val.Num().IsInt64() {
		return 0, false
	}
	return e.val.Num().Int64(), true
}

// IsConst reports whether e has no free symbols after folding.
func (e *Expr) IsConst() bool { return e.op == OpConst }

// FreeSymbols returns the sorted set of symbols referenced by e.
func (e *Expr) FreeSymbols() *treeset.Set[string] {
	set := treeset.New[string]()
	e.collect(set)
	return set
}

func (e *Expr) collect(set *treeset.Set[string]) {
	if e.op == OpSymbol {
		set.Add(e.name)
		return
	}
	for _, a := range e.args {
		a.collect(set)
	}
}

// Subst replaces every symbol found in known with its value and folds the
// constant sub-expressions. Symbols missing from known stay free.
func (e *Expr) Subst(known Symbols) *Expr {
	switch e.op {
	case OpConst:
		return e
	case OpSymbol:
		if v, ok := known[e.name]; ok {
			return Const(v)
		}
		return e
	}

	args := make([]*Expr, len(e.args))
	allConst := true
	for i, a := range e.args {
		args[i] = a.Subst(known)
		allConst = allConst && args[i].op == OpConst
	}

	folded := node(e.op, args...)
	if allConst {
		if v, err := folded.rat(nil); err == nil {
			return constRat(v)
		}
	}
	return folded
}

// Eval evaluates e with the given symbol values. Every free symbol must be
// bound.
func (e *Expr) Eval(known Symbols) (*big.Rat, error) {
	return e.rat(known)
}

func (e *Expr) rat(known Symbols) (*big.Rat, error) {
	switch e.op {
	case OpConst:
		return e.val, nil
	case OpSymbol:
		v, ok := known[e.name]
		if !ok {
			return nil, fmt.Errorf("symbol %q is not bound", e.name)
		}
		return new(big.Rat).SetInt64(v), nil
	}

	vals := make([]*big.Rat, len(e.args))
	for i, a := range e.args {
		v, err := a.rat(known)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}

	r := new(big.Rat)
	switch e.op {
	case OpAdd:
		return r.Add(vals[0], vals[1]), nil
	case OpSub:
		return r.Sub(vals[0], vals[1]), nil
	case OpMul:
		return r.Mul(vals[0], vals[1]), nil
	case OpDiv:
		if vals[1].Sign() == 0 {
			return nil, fmt.Errorf("division by zero in %s", e)
		}
		return r.Quo(vals[0], vals[1]), nil
	case OpFloorDiv:
		if vals[1].Sign() == 0 {
			return nil, fmt.Errorf("division by zero in %s", e)
		}
		return floorRat(r.Quo(vals[0], vals[1])), nil
	case OpMod:
		if vals[1].Sign() == 0 {
			return nil, fmt.Errorf("modulo by zero in %s", e)
		}
		// a - b*floor(a/b), sign follows the divisor
		q := floorRat(new(big.Rat).Quo(vals[0], vals[1]))
		return r.Sub(vals[0], q.Mul(q, vals[1])), nil
	case OpNeg:
		return r.Neg(vals[0]), nil
	case OpFloor:
		return floorRat(vals[0]), nil
	case OpCeil:
		return ceilRat(vals[0]), nil
	case OpMin:
		if vals[0].Cmp(vals[1]) <= 0 {
			return vals[0], nil
		}
		return vals[1], nil
	case OpMax:
		if vals[0].Cmp(vals[1]) >= 0 {
			return vals[0], nil
		}
		return vals[1], nil
	default:
		return nil, fmt.Errorf("unknown operator %d", e.op)
	}
}

func floorRat(r *big.Rat) *big.Rat {
	if r.IsInt() {
		return new(big.Rat).Set(r)
	}
	q := new(big.Int)
	m := new(big.Int)
	// Euclidean division rounds toward negative infinity for positive denominators
	q.DivMod(r.Num(), r.Denom(), m)
	return new(big.Rat).SetInt(q)
}

func ceilRat(r *big.Rat) *big.Rat {
	f := floorRat(r)
	if f.Cmp(r) == 0 {
		return f
	}
	return f.Add(f, big.NewRat(1, 1))
}

func (e *Expr) String() string {
	var sb strings.Builder
	e.format(&sb, 0)
	return sb.String()
}

func precedence(op Op) int {
	switch op {
	case OpAdd, OpSub:
		return 1
	case OpMul, OpDiv, OpFloorDiv, OpMod:
		return 2
	case OpNeg:
		return 3
	default:
		return 4
	}
}

func (e *Expr) format(sb *strings.Builder, parent int) {
	switch e.op {
	case OpConst:
		if e.val.IsInt() {
			sb.WriteString(e.val.Num().String())
		} else {
			sb.WriteString(e.val.RatString())
		}
		return
	case OpSymbol:
		sb.WriteString(e.name)
		return
	case OpNeg:
		sb.WriteString("-")
		e.args[0].format(sb, precedence(OpNeg))
		return
	}

	if fn, ok := funcText[e.op]; ok {
		sb.WriteString(fn)
		sb.WriteString("(")
		for i, a := range e.args {
			if i > 0 {
				sb.WriteString(", ")
			}
			a.format(sb, 0)
		}
		sb.WriteString(")")
		return
	}

	p := precedence(e.op)
	if p < parent {
		sb.WriteString("(")
	}
	e.args[0].format(sb, p)
	sb.WriteString(opText[e.op])
	// right operand binds tighter so a-(b-c) keeps its parentheses
	e.args[1].format(sb, p+1)
	if p < parent {
		sb.WriteString(")")
	}
}
