package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenNumber
	tokenString
	tokenOp     // == != < <= > >= && || !
	tokenDot
	tokenLParen
	tokenRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	input string
	pos   int
}

func newLexer(input string) *lexer {
	return &lexer{input: input}
}

func (l *lexer) lex() (token, error) {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}

	start := l.pos
	if l.pos >= len(l.input) {
		return token{kind: tokenEOF, pos: start}, nil
	}

	c := l.input[l.pos]

	switch {
	case c == '(':
		l.pos++
		return token{kind: tokenLParen, text: "(", pos: start}, nil
	case c == ')':
		l.pos++
		return token{kind: tokenRParen, text: ")", pos: start}, nil
	case c == '.':
		l.pos++
		return token{kind: tokenDot, text: ".", pos: start}, nil
	case c == '\'' || c == '"':
		return l.lexString(c)
	case c >= '0' && c <= '9':
		return l.lexNumber()
	case isIdentStart(c):
		for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
			l.pos++
		}
		return token{kind: tokenIdent, text: l.input[start:l.pos], pos: start}, nil
	}

	for _, op := range []string{"==", "!=", "<=", ">=", "&&", "||", "<", ">", "!"} {
		if strings.HasPrefix(l.input[l.pos:], op) {
			l.pos += len(op)
			return token{kind: tokenOp, text: op, pos: start}, nil
		}
	}

	return token{}, &ParseError{Pos: start, Message: fmt.Sprintf("unexpected character %q", c)}
}

func (l *lexer) lexString(quote byte) (token, error) {
	start := l.pos
	l.pos++ // opening quote

	var sb strings.Builder
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == quote {
			l.pos++
			return token{kind: tokenString, text: sb.String(), pos: start}, nil
		}
		if c == '\\' && l.pos+1 < len(l.input) {
			l.pos++
			c = l.input[l.pos]
		}
		sb.WriteByte(c)
		l.pos++
	}

	return token{}, &ParseError{Pos: start, Message: "unterminated string"}
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	for l.pos < len(l.input) && (l.input[l.pos] >= '0' && l.input[l.pos] <= '9') {
		l.pos++
	}

	// fractional part; a trailing dot belongs to a path, not a number
	if l.pos+1 < len(l.input) && l.input[l.pos] == '.' && l.input[l.pos+1] >= '0' && l.input[l.pos+1] <= '9' {
		l.pos++
		for l.pos < len(l.input) && (l.input[l.pos] >= '0' && l.input[l.pos] <= '9') {
			l.pos++
		}
	}

	text := l.input[start:l.pos]
	if _, err := strconv.ParseFloat(text, 64); err != nil {
		return token{}, &ParseError{Pos: start, Message: fmt.Sprintf("invalid number %q", text)}
	}

	return token{kind: tokenNumber, text: text, pos: start}, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9') || c == '-'
}
