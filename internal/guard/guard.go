// Package guard implements the boolean expression language used by stage
// guards. Evaluation is pure: the verdict depends only on the expression and
// the supplied context, never on the clock, the process environment, or any
// I/O.
//
// Grammar:
//
//	expr       := or
//	or         := and { "||" and }
//	and        := unary { "&&" unary }
//	unary      := "!" unary | primary
//	primary    := "(" expr ")" | comparison
//	comparison := operand [ ("==" | "!=") operand ]
//	operand    := string | "true" | "false" | identifier
//
// Identifiers are branch, build_number, and env.NAME. A bare string or
// identifier used as a boolean is true when non-empty.
package guard

import (
	"fmt"
	"strings"
)

// Context carries the variables a guard expression may reference: the branch
// name, the build number, and the pipeline environment view. It is a snapshot;
// evaluation never mutates it.
type Context struct {
	Branch      string
	BuildNumber string
	Vars        map[string]string
}

// UndefinedVarError reports a guard referencing a variable absent from the
// evaluation context. It is fatal for the stage being guarded, not for the
// whole run.
type UndefinedVarError struct {
	Name string
}

func (e UndefinedVarError) Error() string {
	return fmt.Sprintf("guard references undefined variable %q", e.Name)
}

// SyntaxError reports a malformed guard expression.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e SyntaxError) Error() string {
	return fmt.Sprintf("guard syntax error at offset %d: %s", e.Pos, e.Msg)
}

// Expr is a parsed guard expression, safe for reuse across evaluations.
type Expr struct {
	src  string
	root node
}

// Parse compiles a guard expression. The returned Expr can be evaluated any
// number of times against different contexts.
func Parse(src string) (*Expr, error) {
	toks, err := scan(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected %q", tok.text)}
	}
	return &Expr{src: src, root: root}, nil
}

// Eval parses and evaluates src in one call.
func Eval(src string, ctx Context) (bool, error) {
	expr, err := Parse(src)
	if err != nil {
		return false, err
	}
	return expr.Eval(ctx)
}

// Eval evaluates the expression against ctx. The only possible error after a
// successful Parse is an UndefinedVarError.
func (e *Expr) Eval(ctx Context) (bool, error) {
	v, err := e.root.eval(ctx)
	if err != nil {
		return false, err
	}
	return v.truthy(), nil
}

// Static reports whether the expression's value is independent of any
// context variable, and if so what that value is. Short-circuit order is
// respected: an expression whose left side could fail at runtime is never
// static.
func (e *Expr) Static() (value bool, ok bool) {
	v, ok := e.root.static()
	if !ok {
		return false, false
	}
	return v.truthy(), true
}

// String returns the original expression source.
func (e *Expr) String() string { return e.src }

// ---- values ----

// val is the result of evaluating a subexpression: either a string (literal
// or variable) or a boolean (logical/comparison result).
type val struct {
	s      string
	b      bool
	isBool bool
}

func strVal(s string) val { return val{s: s} }
func boolVal(b bool) val  { return val{b: b, isBool: true} }

func (v val) truthy() bool {
	if v.isBool {
		return v.b
	}
	return v.s != ""
}

func (v val) text() string {
	if v.isBool {
		if v.b {
			return "true"
		}
		return "false"
	}
	return v.s
}

// ---- AST ----

type node interface {
	eval(ctx Context) (val, error)
	static() (val, bool)
}

type litNode struct{ v val }

func (n litNode) eval(Context) (val, error) { return n.v, nil }
func (n litNode) static() (val, bool)       { return n.v, true }

type varNode struct {
	name string
}

func (n varNode) eval(ctx Context) (val, error) {
	switch {
	case n.name == "branch":
		return strVal(ctx.Branch), nil
	case n.name == "build_number":
		return strVal(ctx.BuildNumber), nil
	case strings.HasPrefix(n.name, "env."):
		key := strings.TrimPrefix(n.name, "env.")
		v, ok := ctx.Vars[key]
		if !ok {
			return val{}, UndefinedVarError{Name: n.name}
		}
		return strVal(v), nil
	default:
		return val{}, UndefinedVarError{Name: n.name}
	}
}

func (n varNode) static() (val, bool) { return val{}, false }

type notNode struct{ operand node }

func (n notNode) eval(ctx Context) (val, error) {
	v, err := n.operand.eval(ctx)
	if err != nil {
		return val{}, err
	}
	return boolVal(!v.truthy()), nil
}

func (n notNode) static() (val, bool) {
	v, ok := n.operand.static()
	if !ok {
		return val{}, false
	}
	return boolVal(!v.truthy()), true
}

type cmpNode struct {
	left, right node
	negate      bool
}

func (n cmpNode) eval(ctx Context) (val, error) {
	l, err := n.left.eval(ctx)
	if err != nil {
		return val{}, err
	}
	r, err := n.right.eval(ctx)
	if err != nil {
		return val{}, err
	}
	eq := l.text() == r.text()
	return boolVal(eq != n.negate), nil
}

func (n cmpNode) static() (val, bool) {
	l, ok := n.left.static()
	if !ok {
		return val{}, false
	}
	r, ok := n.right.static()
	if !ok {
		return val{}, false
	}
	eq := l.text() == r.text()
	return boolVal(eq != n.negate), true
}

type logicNode struct {
	left, right node
	and         bool
}

func (n logicNode) eval(ctx Context) (val, error) {
	l, err := n.left.eval(ctx)
	if err != nil {
		return val{}, err
	}
	if n.and && !l.truthy() {
		return boolVal(false), nil
	}
	if !n.and && l.truthy() {
		return boolVal(true), nil
	}
	r, err := n.right.eval(ctx)
	if err != nil {
		return val{}, err
	}
	return boolVal(r.truthy()), nil
}

func (n logicNode) static() (val, bool) {
	// Left side decides whether the right side runs, so a non-static left
	// makes the whole expression non-static even when the right is constant.
	l, ok := n.left.static()
	if !ok {
		return val{}, false
	}
	if n.and && !l.truthy() {
		return boolVal(false), true
	}
	if !n.and && l.truthy() {
		return boolVal(true), true
	}
	r, ok := n.right.static()
	if !ok {
		return val{}, false
	}
	return boolVal(r.truthy()), true
}

// ---- scanner ----

type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokString
	tokAnd
	tokOr
	tokNot
	tokEq
	tokNeq
	tokLParen
	tokRParen
)

type token struct {
	kind tokKind
	text string
	pos  int
}

func scan(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == '&':
			if i+1 >= len(src) || src[i+1] != '&' {
				return nil, SyntaxError{Pos: i, Msg: "expected &&"}
			}
			toks = append(toks, token{tokAnd, "&&", i})
			i += 2
		case c == '|':
			if i+1 >= len(src) || src[i+1] != '|' {
				return nil, SyntaxError{Pos: i, Msg: "expected ||"}
			}
			toks = append(toks, token{tokOr, "||", i})
			i += 2
		case c == '=':
			if i+1 >= len(src) || src[i+1] != '=' {
				return nil, SyntaxError{Pos: i, Msg: "expected =="}
			}
			toks = append(toks, token{tokEq, "==", i})
			i += 2
		case c == '!':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, token{tokNeq, "!=", i})
				i += 2
			} else {
				toks = append(toks, token{tokNot, "!", i})
				i++
			}
		case c == '"' || c == '\'':
			quote := c
			j := i + 1
			var sb strings.Builder
			for j < len(src) && src[j] != quote {
				if src[j] == '\\' && j+1 < len(src) {
					j++
				}
				sb.WriteByte(src[j])
				j++
			}
			if j >= len(src) {
				return nil, SyntaxError{Pos: i, Msg: "unterminated string"}
			}
			toks = append(toks, token{tokString, sb.String(), i})
			i = j + 1
		case isIdentStart(c):
			j := i
			for j < len(src) && isIdentChar(src[j]) {
				j++
			}
			toks = append(toks, token{tokIdent, src[i:j], i})
			i = j
		default:
			return nil, SyntaxError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", string(c))}
		}
	}
	toks = append(toks, token{tokEOF, "", len(src)})
	return toks, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || c == '.' || (c >= '0' && c <= '9')
}

// ---- parser ----

type parser struct {
	toks []token
	idx  int
}

func (p *parser) peek() token { return p.toks[p.idx] }

func (p *parser) next() token {
	t := p.toks[p.idx]
	if t.kind != tokEOF {
		p.idx++
	}
	return t
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = logicNode{left: left, right: right, and: false}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = logicNode{left: left, right: right, and: true}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.peek().kind == tokNot {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	if p.peek().kind == tokLParen {
		open := p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, SyntaxError{Pos: open.pos, Msg: "missing closing )"}
		}
		p.next()
		return inner, nil
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	switch p.peek().kind {
	case tokEq, tokNeq:
		op := p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return cmpNode{left: left, right: right, negate: op.kind == tokNeq}, nil
	}
	return left, nil
}

func (p *parser) parseOperand() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokString:
		return litNode{v: strVal(tok.text)}, nil
	case tokIdent:
		switch tok.text {
		case "true":
			return litNode{v: boolVal(true)}, nil
		case "false":
			return litNode{v: boolVal(false)}, nil
		}
		return varNode{name: tok.text}, nil
	case tokEOF:
		return nil, SyntaxError{Pos: tok.pos, Msg: "unexpected end of expression"}
	default:
		return nil, SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected %q", tok.text)}
	}
}
