// solve.go - Loesen einer Gleichung mit genau einem freien Symbol
//
// Lineare Ausdruecke werden exakt geloest, alles andere (floor, ceil, %,
// Produkte des Symbols) per begrenzter Ganzzahl-Suche.
package symbolic

import (
	"fmt"
	"math/big"
)

// searchLimit bounds the integer search for non-linear expressions relative
// to the observed dimension. Constant divisors widen it further.
const searchLimit = 64

// maxDivisors caps the product of constant divisors used for the bound.
const maxDivisors = 1 << 20

// Solve finds the non-negative integer value of symbol for which e equals
// observed. e must not reference any other free symbol.
func Solve(e *Expr, symbol string, observed int64) (int64, error) {
	if a, b, ok := linear(e, symbol); ok {
		return solveLinear(a, b, observed)
	}

	limit := (observed + 1) * max(searchLimit, divisors(e))
	target := new(big.Rat).SetInt64(observed)
	known := Symbols{}
	for x := int64(0); x <= limit; x++ {
		known[symbol] = x
		v, err := e.Eval(known)
		if err != nil {
			continue
		}
		if v.Cmp(target) == 0 {
			return x, nil
		}
	}
	return 0, fmt.Errorf("%w: no integer %s in [0, %d] satisfies %s = %d", ErrUnresolvableDimension, symbol, limit, e, observed)
}

// divisors returns the product of the constant right operands of /, // and %
// in e. floor(n/d) = k needs n up to (k+1)*d, which a fixed bound misses
// for large d.
func divisors(e *Expr) int64 {
	p := int64(1)
	switch e.op {
	case OpDiv, OpFloorDiv, OpMod:
		if d := e.args[1]; d.op == OpConst {
			num := new(big.Int).Abs(d.val.Num())
			if num.IsInt64() && num.Int64() > 1 {
				p = num.Int64()
			}
		}
	}
	for _, arg := range e.args {
		p *= divisors(arg)
		if p > maxDivisors {
			return maxDivisors
		}
	}
	return p
}

func solveLinear(a, b *big.Rat, observed int64) (int64, error) {
	if a.Sign() == 0 {
		return 0, fmt.Errorf("%w: expression does not depend on its symbol", ErrUnresolvableDimension)
	}

	x := new(big.Rat).SetInt64(observed)
	x.Sub(x, b)
	x.Quo(x, a)
	if !x.IsInt() || x.Sign() < 0 || !x.Num().IsInt64() {
		return 0, fmt.Errorf("%w: solution %s is not a non-negative integer", ErrUnresolvableDimension, x.RatString())
	}
	return x.Num().Int64(), nil
}

// linear decomposes e into a*symbol + b. ok is false when e is not linear in
// symbol or contains operators without an exact linear form.
func linear(e *Expr, symbol string) (a, b *big.Rat, ok bool) {
	zero := func() *big.Rat { return new(big.Rat) }

	switch e.op {
	case OpConst:
		return zero(), new(big.Rat).Set(e.val), true
	case OpSymbol:
		if e.name != symbol {
			return nil, nil, false
		}
		return big.NewRat(1, 1), zero(), true
	case OpNeg:
		a, b, ok := linear(e.args[0], symbol)
		if !ok {
			return nil, nil, false
		}
		return a.Neg(a), b.Neg(b), true
	case OpAdd, OpSub:
		a1, b1, ok1 := linear(e.args[0], symbol)
		a2, b2, ok2 := linear(e.args[1], symbol)
		if !ok1 || !ok2 {
			return nil, nil, false
		}
		if e.op == OpSub {
			a2.Neg(a2)
			b2.Neg(b2)
		}
		return a1.Add(a1, a2), b1.Add(b1, b2), true
	case OpMul:
		a1, b1, ok1 := linear(e.args[0], symbol)
		a2, b2, ok2 := linear(e.args[1], symbol)
		if !ok1 || !ok2 {
			return nil, nil, false
		}
		switch {
		case a1.Sign() == 0:
			return a2.Mul(a2, b1), b2.Mul(b2, b1), true
		case a2.Sign() == 0:
			return a1.Mul(a1, b2), b1.Mul(b1, b2), true
		default:
			return nil, nil, false
		}
	case OpDiv:
		a1, b1, ok1 := linear(e.args[0], symbol)
		a2, b2, ok2 := linear(e.args[1], symbol)
		if !ok1 || !ok2 || a2.Sign() != 0 || b2.Sign() == 0 {
			return nil, nil, false
		}
		return a1.Quo(a1, b2), b1.Quo(b1, b2), true
	default:
		return nil, nil, false
	}
}
