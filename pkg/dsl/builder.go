package dsl

import (
	"strconv"
	"strings"

	"github.com/algomatic/dslbacktest/pkg/ast"
	"github.com/algomatic/dslbacktest/pkg/types"
)

// fieldAliases maps alternative spellings onto price table columns.
var fieldAliases = map[string]string{
	"price": types.ColClose,
}

func buildScript(t *scriptTree) *ast.Script {
	s := &ast.Script{Entry: buildExpr(t.Entry)}
	if t.Exit != nil {
		s.Exit = buildExpr(t.Exit)
	}
	return s
}

// buildExpr folds the term list left to right into nested Bool nodes.
func buildExpr(e *exprTree) ast.Node {
	node := buildTerm(e.Head)
	for _, op := range e.Tail {
		node = &ast.Bool{
			Op:    ast.BoolOp(strings.ToUpper(op.Op)),
			Left:  node,
			Right: buildTerm(op.Term),
		}
	}
	return node
}

func buildTerm(t *termTree) ast.Node {
	if t.Group != nil {
		return buildExpr(t.Group)
	}
	left := buildValue(t.Value)
	if t.Rel == nil {
		return left
	}
	right := buildValue(t.Rel.Right)
	op := strings.ToUpper(t.Rel.Op)
	if strings.HasPrefix(op, "CROSSES_") {
		return &ast.Cross{Dir: ast.CrossDir(op), Left: left, Right: right}
	}
	return &ast.Compare{Left: left, Op: ast.CompareOp(op), Right: right}
}

// buildValue handles the optional x[n] suffix, which is sugar for lag(x, n).
func buildValue(v *valueTree) ast.Node {
	node := buildAtom(v.Atom)
	if v.Lag != nil {
		node = &ast.Function{
			Name: "lag",
			Args: []ast.Node{node, &ast.Number{Value: parseNumber(*v.Lag)}},
		}
	}
	return node
}

func buildAtom(a *atomTree) ast.Node {
	switch {
	case a.Number != nil:
		return &ast.Number{Value: parseNumber(*a.Number)}
	case a.Call != nil:
		args := make([]ast.Node, 0, len(a.Call.Args))
		for _, arg := range a.Call.Args {
			args = append(args, buildValue(arg))
		}
		return &ast.Function{Name: strings.ToLower(a.Call.Name), Args: args}
	default:
		name := strings.ToLower(*a.Field)
		if alias, ok := fieldAliases[name]; ok {
			name = alias
		}
		return &ast.Field{Name: name}
	}
}

// parseNumber converts a lexed Number token. The lexer only admits digit
// sequences with an optional fraction, so conversion cannot fail.
func parseNumber(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
