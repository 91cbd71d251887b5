package dsl

import (
	"fmt"

	"github.com/algomatic/dslbacktest/pkg/ast"
	"github.com/algomatic/dslbacktest/pkg/indicators"
	"github.com/algomatic/dslbacktest/pkg/types"
)

// ValidateText parses text and validates the resulting script. A syntax
// error is reported as the single message.
func ValidateText(text string) []string {
	s, err := Parse(text)
	if err != nil {
		return []string{err.Error()}
	}
	return Validate(s)
}

// Validate checks a parsed script for problems the evaluator would reject:
// unknown fields or functions, wrong argument counts, and periods that are not
// positive integer literals. It returns human-readable messages prefixed with
// the node path, or nil if the script is clean.
func Validate(s *ast.Script) []string {
	if s == nil {
		return []string{"script is nil"}
	}
	var errs []string
	if s.Entry == nil {
		errs = append(errs, "entry: missing condition")
	} else {
		errs = append(errs, validateCondition(s.Entry, "entry")...)
	}
	if s.Exit != nil {
		errs = append(errs, validateCondition(s.Exit, "exit")...)
	}
	return errs
}

func validateCondition(n ast.Node, path string) []string {
	switch x := n.(type) {
	case *ast.Bool:
		var errs []string
		if !ast.IsBoolOp(x.Op) {
			errs = append(errs, fmt.Sprintf("%s: unknown logical operator %q", path, x.Op))
		}
		errs = append(errs, validateCondition(x.Left, path+".left")...)
		return append(errs, validateCondition(x.Right, path+".right")...)
	case *ast.Compare:
		var errs []string
		if !ast.IsCompareOp(x.Op) {
			errs = append(errs, fmt.Sprintf("%s: unknown comparison operator %q", path, x.Op))
		}
		errs = append(errs, validateOperand(x.Left, path+".left")...)
		return append(errs, validateOperand(x.Right, path+".right")...)
	case *ast.Cross:
		var errs []string
		if !ast.IsCrossDir(x.Dir) {
			errs = append(errs, fmt.Sprintf("%s: unknown cross direction %q", path, x.Dir))
		}
		errs = append(errs, validateOperand(x.Left, path+".left")...)
		return append(errs, validateOperand(x.Right, path+".right")...)
	default:
		// A bare value used as a condition is coerced to a mask.
		return validateOperand(n, path)
	}
}

// validateOperand checks a node used where a numeric value is expected.
func validateOperand(n ast.Node, path string) []string {
	switch x := n.(type) {
	case nil:
		return []string{fmt.Sprintf("%s: missing operand", path)}
	case *ast.Number:
		return nil
	case *ast.Field:
		if !types.IsOHLCVColumn(x.Name) {
			return []string{fmt.Sprintf("%s: unknown field %q", path, x.Name)}
		}
		return nil
	case *ast.Function:
		return validateFunction(x, path)
	default:
		return []string{fmt.Sprintf("%s: %s node is not a numeric operand", path, n.Type())}
	}
}

func validateFunction(f *ast.Function, path string) []string {
	def, ok := indicators.Lookup(f.Name)
	if !ok {
		return []string{fmt.Sprintf("%s: unknown function %q", path, f.Name)}
	}
	if len(f.Args) != def.Arity {
		return []string{fmt.Sprintf("%s: %s expects %d arguments, got %d", path, f.Name, def.Arity, len(f.Args))}
	}

	errs := validateOperand(f.Args[0], path+".args[0]")
	if _, ok := ast.PeriodValue(f.Args[1]); !ok {
		errs = append(errs, fmt.Sprintf("%s.args[1]: %s period must be a positive integer literal", path, f.Name))
	}
	return errs
}
