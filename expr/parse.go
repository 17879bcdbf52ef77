package expr

import (
	"fmt"
	"strconv"
	"strings"
)

type parser struct {
	lexer *lexer
	tok   token
}

func (p *parser) next() error {
	tok, err := p.lexer.lex()
	if err != nil {
		return err
	}
	p.tok = tok

	return nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.tok.kind == tokenOp && p.tok.text == "||" {
		if err := p.next(); err != nil {
			return nil, err
		}

		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}

		left = &binaryExpr{op: "||", left: left, right: right}
	}

	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for p.tok.kind == tokenOp && p.tok.text == "&&" {
		if err := p.next(); err != nil {
			return nil, err
		}

		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		left = &binaryExpr{op: "&&", left: left, right: right}
	}

	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.tok.kind == tokenOp && p.tok.text == "!" {
		if err := p.next(); err != nil {
			return nil, err
		}

		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		return &notExpr{operand: operand}, nil
	}

	return p.parseComparison()
}

var comparisonOps = map[string]bool{
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}

	if p.tok.kind == tokenOp && comparisonOps[p.tok.text] {
		op := p.tok.text
		if err := p.next(); err != nil {
			return nil, err
		}

		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}

		return &binaryExpr{op: op, left: left, right: right}, nil
	}

	return left, nil
}

func (p *parser) parseTerm() (Expr, error) {
	switch p.tok.kind {
	case tokenLParen:
		if err := p.next(); err != nil {
			return nil, err
		}

		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}

		if p.tok.kind != tokenRParen {
			return nil, &ParseError{Pos: p.tok.pos, Message: "expected )"}
		}
		if err := p.next(); err != nil {
			return nil, err
		}

		return e, nil

	case tokenNumber:
		f, _ := strconv.ParseFloat(p.tok.text, 64)
		if err := p.next(); err != nil {
			return nil, err
		}

		return &literalExpr{value: f}, nil

	case tokenString:
		s := p.tok.text
		if err := p.next(); err != nil {
			return nil, err
		}

		return &literalExpr{value: s}, nil

	case tokenIdent:
		return p.parsePath()

	default:
		return nil, &ParseError{Pos: p.tok.pos, Message: fmt.Sprintf("unexpected %q", p.tok.text)}
	}
}

func (p *parser) parsePath() (Expr, error) {
	first := p.tok.text
	if err := p.next(); err != nil {
		return nil, err
	}

	if p.tok.kind != tokenDot {
		switch first {
		case "true":
			return &literalExpr{value: true}, nil
		case "false":
			return &literalExpr{value: false}, nil
		case "nil", "null":
			return &literalExpr{value: nil}, nil
		}
	}

	parts := []string{first}
	for p.tok.kind == tokenDot {
		if err := p.next(); err != nil {
			return nil, err
		}

		if p.tok.kind != tokenIdent {
			return nil, &ParseError{Pos: p.tok.pos, Message: "expected identifier after ."}
		}

		parts = append(parts, p.tok.text)
		if err := p.next(); err != nil {
			return nil, err
		}
	}

	return &pathExpr{parts: parts}, nil
}

type literalExpr struct {
	value any
}

func (e *literalExpr) Eval(map[string]any) (any, error) { return e.value, nil }

func (e *literalExpr) String() string {
	if s, ok := e.value.(string); ok {
		return strconv.Quote(s)
	}

	return fmt.Sprintf("%v", e.value)
}

type pathExpr struct {
	parts []string
}

func (e *pathExpr) Eval(ctx map[string]any) (any, error) {
	var current any = ctx

	for i, part := range e.parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, &EvalError{Message: fmt.Sprintf(
				"cannot look up %q in %s: not a map", part, strings.Join(e.parts[:i], "."))}
		}

		current, ok = m[part]
		if !ok {
			return nil, &EvalError{Message: fmt.Sprintf(
				"unknown field %q", strings.Join(e.parts[:i+1], "."))}
		}
	}

	return current, nil
}

func (e *pathExpr) String() string { return strings.Join(e.parts, ".") }

type notExpr struct {
	operand Expr
}

func (e *notExpr) Eval(ctx map[string]any) (any, error) {
	v, err := e.operand.Eval(ctx)
	if err != nil {
		return nil, err
	}

	b, ok := v.(bool)
	if !ok {
		return nil, &EvalError{Message: fmt.Sprintf("operand of ! is not boolean, got %T", v)}
	}

	return !b, nil
}

func (e *notExpr) String() string { return "!" + e.operand.String() }

type binaryExpr struct {
	op    string
	left  Expr
	right Expr
}

func (e *binaryExpr) Eval(ctx map[string]any) (any, error) {
	switch e.op {
	case "&&", "||":
		return e.evalLogical(ctx)
	}

	l, err := e.left.Eval(ctx)
	if err != nil {
		return nil, err
	}

	r, err := e.right.Eval(ctx)
	if err != nil {
		return nil, err
	}

	switch e.op {
	case "==":
		eq, err := equal(l, r, e.op)
		if err != nil {
			return nil, err
		}
		return eq, nil
	case "!=":
		eq, err := equal(l, r, e.op)
		if err != nil {
			return nil, err
		}
		return !eq, nil
	}

	lf, lok := asNumber(l)
	rf, rok := asNumber(r)
	if lok && rok {
		switch e.op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}

	ls, lok := l.(string)
	rs, rok := r.(string)
	if lok && rok {
		switch e.op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}

	return nil, &EvalError{Message: fmt.Sprintf("cannot compare %T and %T with %s", l, r, e.op)}
}

func (e *binaryExpr) evalLogical(ctx map[string]any) (any, error) {
	l, err := e.left.Eval(ctx)
	if err != nil {
		return nil, err
	}

	lb, ok := l.(bool)
	if !ok {
		return nil, &EvalError{Message: fmt.Sprintf("operand of %s is not boolean, got %T", e.op, l)}
	}

	// short circuit
	if e.op == "&&" && !lb {
		return false, nil
	}
	if e.op == "||" && lb {
		return true, nil
	}

	r, err := e.right.Eval(ctx)
	if err != nil {
		return nil, err
	}

	rb, ok := r.(bool)
	if !ok {
		return nil, &EvalError{Message: fmt.Sprintf("operand of %s is not boolean, got %T", e.op, r)}
	}

	return rb, nil
}

func (e *binaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.left.String(), e.op, e.right.String())
}

// equal compares scalars only. Structured values such as whole result maps
// cannot be compared; Go's == would panic on them.
func equal(l, r any, op string) (bool, error) {
	if lf, ok := asNumber(l); ok {
		if rf, ok := asNumber(r); ok {
			return lf == rf, nil
		}
	}

	switch l.(type) {
	case nil, string, bool:
	default:
		return false, &EvalError{Message: fmt.Sprintf("cannot compare %T and %T with %s", l, r, op)}
	}

	switch r.(type) {
	case nil, string, bool:
	default:
		return false, &EvalError{Message: fmt.Sprintf("cannot compare %T and %T with %s", l, r, op)}
	}

	return l == r, nil
}

// asNumber normalizes the numeric types that appear in JSON-decoded
// parameters and step results.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}

	return 0, false
}
