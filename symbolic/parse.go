// parse.go - Parser fuer Dimensionsausdruecke
//
// Dieses Modul enthaelt:
// - ParseDim: wandelt eine deklarierte Dimension (Zahl oder Text) in Expr um
// - Parse: rekursiver Abstiegsparser fuer + - * / // % und Funktionen
package symbolic

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Anonymous names a dimension the model leaves unspecified. It is never
// bound from input shapes.
const Anonymous = "?"

// ParseDim converts one declared dimension into an expression. Integer
// literals become constants, anything else is parsed as an expression.
// Text that is not a valid expression is kept verbatim as a single symbol,
// so exporter-generated names such as "unet_sample_batch" or
// "Addoutput_dim_0" always compile. Empty and negative dims are unknown.
func ParseDim(dim string) *Expr {
	dim = strings.TrimSpace(dim)
	if dim == "" || dim == Anonymous {
		return Symbol(Anonymous)
	}
	if n, err := strconv.ParseInt(dim, 10, 64); err == nil {
		if n < 0 {
			return Symbol(Anonymous)
		}
		return Const(n)
	}

	e, err := Parse(dim)
	if err != nil {
		return Symbol(dim)
	}
	return e
}

// Parse parses an arithmetic expression over integer literals and symbols.
func Parse(s string) (*Expr, error) {
	p := &parser{src: s}
	if err := p.lex(); err != nil {
		return nil, err
	}
	if len(p.toks) == 0 {
		return nil, fmt.Errorf("empty expression")
	}

	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("unexpected %q in %q", p.toks[p.pos].text, s)
	}
	return e, nil
}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokIdent
	tokOp
)

type token struct {
	kind tokenKind
	text string
}

type parser struct {
	src  string
	toks []token
	pos  int
}

func isIdentRune(r rune, first bool) bool {
	if r == '_' || unicode.IsLetter(r) {
		return true
	}
	return !first && (unicode.IsDigit(r) || r == '.')
}

func (p *parser) lex() error {
	rs := []rune(p.src)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r):
			j := i
			for j < len(rs) && unicode.IsDigit(rs[j]) {
				j++
			}
			p.toks = append(p.toks, token{tokNumber, string(rs[i:j])})
			i = j
		case isIdentRune(r, true):
			j := i
			for j < len(rs) && isIdentRune(rs[j], false) {
				j++
			}
			p.toks = append(p.toks, token{tokIdent, string(rs[i:j])})
			i = j
		case r == '/' && i+1 < len(rs) && rs[i+1] == '/':
			p.toks = append(p.toks, token{tokOp, "//"})
			i += 2
		case strings.ContainsRune("+-*/%(),", r):
			p.toks = append(p.toks, token{tokOp, string(r)})
			i++
		default:
			return fmt.Errorf("invalid character %q in %q", r, p.src)
		}
	}
	return nil
}

func (p *parser) peek() (token, bool) {
	if p.pos < len(p.toks) {
		return p.toks[p.pos], true
	}
	return token{}, false
}

func (p *parser) accept(op string) bool {
	if t, ok := p.peek(); ok && t.kind == tokOp && t.text == op {
		p.pos++
		return true
	}
	return false
}

// expr = term { ("+" | "-") term }
func (p *parser) expr() (*Expr, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		var op Op
		switch {
		case p.accept("+"):
			op = OpAdd
		case p.accept("-"):
			op = OpSub
		default:
			return left, nil
		}
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = node(op, left, right)
	}
}

// term = unary { ("*" | "/" | "//" | "%") unary }
func (p *parser) term() (*Expr, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		var op Op
		switch {
		case p.accept("*"):
			op = OpMul
		case p.accept("//"):
			op = OpFloorDiv
		case p.accept("/"):
			op = OpDiv
		case p.accept("%"):
			op = OpMod
		default:
			return left, nil
		}
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = node(op, left, right)
	}
}

func (p *parser) unary() (*Expr, error) {
	if p.accept("-") {
		e, err := p.unary()
		if err != nil {
			return nil, err
		}
		return node(OpNeg, e), nil
	}
	if p.accept("+") {
		return p.unary()
	}
	return p.primary()
}

var functions = map[string]struct {
	op    Op
	arity int
}{
	"floor": {OpFloor, 1},
	"ceil":  {OpCeil, 1},
	"Min":   {OpMin, 2},
	"min":   {OpMin, 2},
	"Max":   {OpMax, 2},
	"max":   {OpMax, 2},
}

func (p *parser) primary() (*Expr, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of %q", p.src)
	}
	p.pos++

	switch t.kind {
	case tokNumber:
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, err
		}
		return Const(n), nil
	case tokIdent:
		fn, isFunc := functions[t.text]
		if !isFunc || !p.accept("(") {
			return Symbol(t.text), nil
		}
		var args []*Expr
		for {
			a, err := p.expr()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.accept(")") {
				break
			}
			if !p.accept(",") {
				return nil, fmt.Errorf("expected , or ) in %q", p.src)
			}
		}
		if len(args) != fn.arity {
			return nil, fmt.Errorf("%s takes %d arguments, got %d", t.text, fn.arity, len(args))
		}
		return node(fn.op, args...), nil
	case tokOp:
		if t.text == "(" {
			e, err := p.expr()
			if err != nil {
				return nil, err
			}
			if !p.accept(")") {
				return nil, fmt.Errorf("missing ) in %q", p.src)
			}
			return e, nil
		}
	}
	return nil, fmt.Errorf("unexpected %q in %q", t.text, p.src)
}
