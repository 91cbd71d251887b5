package dsl

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// dslLexer tokenizes scripts. Rules are tried in order, so keywords and field
// names must precede the generic Ident rule.
var dslLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "EntryLabel", Pattern: `(?i)\bENTRY\s*:`},
	{Name: "ExitLabel", Pattern: `(?i)\bEXIT\s*:`},
	{Name: "CrossOp", Pattern: `(?i)\bCROSSES_(ABOVE|BELOW)\b`},
	{Name: "Logic", Pattern: `(?i)\b(AND|OR)\b`},
	{Name: "Field", Pattern: `(?i)\b(open|high|low|close|volume|price)\b`},
	{Name: "Number", Pattern: `[0-9]+(\.[0-9]+)?`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Comp", Pattern: `>=|<=|==|!=|>|<`},
	{Name: "Punct", Pattern: `[(),\[\]]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

// scriptTree := ENTRY: expr (EXIT: expr)?
type scriptTree struct {
	Entry *exprTree `parser:"EntryLabel @@"`
	Exit  *exprTree `parser:"( ExitLabel @@ )?"`
}

// exprTree := term (AND|OR term)*
type exprTree struct {
	Head *termTree  `parser:"@@"`
	Tail []*logicOp `parser:"@@*"`
}

type logicOp struct {
	Op   string    `parser:"@Logic"`
	Term *termTree `parser:"@@"`
}

// termTree := "(" expr ")" | value (COMP|CROSS_OP value)?
type termTree struct {
	Group *exprTree  `parser:"  '(' @@ ')'"`
	Value *valueTree `parser:"| @@"`
	Rel   *relTail   `parser:"  @@?"`
}

type relTail struct {
	Op    string     `parser:"@( Comp | CrossOp )"`
	Right *valueTree `parser:"@@"`
}

// valueTree := atom ("[" NUMBER "]")?
type valueTree struct {
	Atom *atomTree `parser:"@@"`
	Lag  *string   `parser:"( '[' @Number ']' )?"`
}

// atomTree := NUMBER | func_call | FIELD
type atomTree struct {
	Number *string   `parser:"  @Number"`
	Call   *callTree `parser:"| @@"`
	Field  *string   `parser:"| @Field"`
}

// callTree := NAME "(" [value ("," value)*] ")"
type callTree struct {
	Name string       `parser:"@Ident '('"`
	Args []*valueTree `parser:"( @@ ( ',' @@ )* )? ')'"`
}

func buildGrammar() (*participle.Parser[scriptTree], error) {
	return participle.Build[scriptTree](
		participle.Lexer(dslLexer),
		participle.Elide("Whitespace"),
	)
}
