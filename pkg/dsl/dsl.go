// Package dsl parses the text rule language into an ast.Script.
//
// A script has a required ENTRY block and an optional EXIT block:
//
//	ENTRY: close > sma(close, 20) AND volume > 1000000
//	EXIT:  rsi(close, 14) < 30
//
// Parsing happens in two steps. The participle grammar in grammar.go produces
// a concrete parse tree; builder.go turns that tree into typed AST nodes. The
// builder performs no semantic checks: unknown indicator names or wrong
// argument counts parse successfully and are rejected by the evaluator (or
// earlier, on request, by Validate).
//
// Keywords, field names and function names are case-insensitive. AND and OR
// share one precedence level and fold strictly left to right, so
// "a OR b AND c" means "(a OR b) AND c". Parentheses group explicitly.
package dsl

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/alecthomas/participle/v2"

	"github.com/algomatic/dslbacktest/pkg/ast"
)

// ErrSyntax is matched by every error returned for text that does not
// conform to the grammar.
var ErrSyntax = errors.New("syntax error")

// SyntaxError locates the offending token of a failed parse.
type SyntaxError struct {
	Line   int
	Column int
	Offset int
	Token  string
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at line %d, column %d near %q: %s", e.Line, e.Column, e.Token, e.Msg)
}

// Is makes errors.Is(err, ErrSyntax) true for every SyntaxError.
func (e *SyntaxError) Is(target error) bool {
	return target == ErrSyntax
}

// Parser turns DSL text into a Script. It holds only the immutable grammar
// and is safe for concurrent use.
type Parser struct {
	grammar *participle.Parser[scriptTree]
}

// NewParser builds the grammar. Build once and reuse.
func NewParser() (*Parser, error) {
	g, err := buildGrammar()
	if err != nil {
		return nil, fmt.Errorf("building grammar: %w", err)
	}
	return &Parser{grammar: g}, nil
}

// Parse parses text into a Script. A malformed script fails as a whole with a
// *SyntaxError; no partial tree is returned.
func (p *Parser) Parse(text string) (*ast.Script, error) {
	tree, err := p.grammar.ParseString("", text)
	if err != nil {
		return nil, toSyntaxError(err, text)
	}
	return buildScript(tree), nil
}

var defaultParser = sync.OnceValues(NewParser)

// Parse parses text with a shared Parser.
func Parse(text string) (*ast.Script, error) {
	p, err := defaultParser()
	if err != nil {
		return nil, err
	}
	return p.Parse(text)
}

// toSyntaxError converts participle lexer and parser errors. Lexer errors
// carry no token, so the fragment at the error offset is used instead.
func toSyntaxError(err error, text string) error {
	se := &SyntaxError{Msg: err.Error()}

	var perr participle.Error
	if errors.As(err, &perr) {
		pos := perr.Position()
		se.Line, se.Column, se.Offset = pos.Line, pos.Column, pos.Offset
		se.Msg = perr.Message()
	}

	var unexpected *participle.UnexpectedTokenError
	if errors.As(err, &unexpected) {
		if unexpected.Unexpected.EOF() {
			se.Token = "<EOF>"
		} else {
			se.Token = unexpected.Unexpected.Value
		}
	}
	if se.Token == "" {
		se.Token = fragmentAt(text, se.Offset)
	}
	return se
}

// fragmentAt returns text from offset up to the next whitespace.
func fragmentAt(text string, offset int) string {
	if offset < 0 || offset >= len(text) {
		return "<EOF>"
	}
	frag := text[offset:]
	if i := strings.IndexFunc(frag, unicode.IsSpace); i >= 0 {
		frag = frag[:i]
	}
	return frag
}
