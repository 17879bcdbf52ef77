// Package expr implements the small boolean expression language used by
// condition steps. The grammar is closed by construction: literals, dotted
// lookups into an evaluation context, comparisons, and boolean combinators.
// There are no function calls and no way to reach outside the context.
//
// Grammar:
//
//	expr       = or
//	or         = and { "||" and }
//	and        = unary { "&&" unary }
//	unary      = "!" unary | comparison
//	comparison = term [ ( "==" | "!=" | "<" | "<=" | ">" | ">=" ) term ]
//	term       = literal | path | "(" expr ")"
//	path       = ident { "." ident }
package expr

import (
	"fmt"
)

// Expr is a parsed expression that can be evaluated against a context.
type Expr interface {
	// Eval evaluates the expression. The result may be of any type;
	// use EvalBool for the common boolean case.
	Eval(ctx map[string]any) (any, error)

	fmt.Stringer
}

// Parse parses an expression.
func Parse(input string) (Expr, error) {
	p := &parser{lexer: newLexer(input)}
	if err := p.next(); err != nil {
		return nil, err
	}

	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	if p.tok.kind != tokenEOF {
		return nil, &ParseError{Pos: p.tok.pos, Message: fmt.Sprintf("unexpected %q", p.tok.text)}
	}

	return e, nil
}

// EvalBool parses and evaluates an expression, requiring a boolean result.
func EvalBool(input string, ctx map[string]any) (bool, error) {
	e, err := Parse(input)
	if err != nil {
		return false, err
	}

	v, err := e.Eval(ctx)
	if err != nil {
		return false, err
	}

	b, ok := v.(bool)
	if !ok {
		return false, &EvalError{Message: fmt.Sprintf("expression %q is not boolean, got %T", input, v)}
	}

	return b, nil
}

// ParseError reports a syntax error at a byte offset in the input.
type ParseError struct {
	Pos     int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d: %s", e.Pos, e.Message)
}

// EvalError reports an evaluation failure such as an unknown path or a type
// mismatch.
type EvalError struct {
	Message string
}

func (e *EvalError) Error() string {
	return e.Message
}
