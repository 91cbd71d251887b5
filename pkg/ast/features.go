package ast

import (
	"math"
	"sort"
)

// RequiredColumns walks both sides of the script and collects the field
// names it reads. These are the columns a data source must provide.
func RequiredColumns(s *Script) []string {
	if s == nil {
		return nil
	}
	seen := make(map[string]bool)
	extractFromNode(s.Entry, seen)
	extractFromNode(s.Exit, seen)

	cols := make([]string, 0, len(seen))
	for c := range seen {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// FunctionNames returns the sorted, de-duplicated indicator names a script calls.
func FunctionNames(s *Script) []string {
	if s == nil {
		return nil
	}
	seen := make(map[string]bool)
	var walk func(Node)
	walk = func(n Node) {
		switch x := n.(type) {
		case *Function:
			seen[x.Name] = true
			for _, a := range x.Args {
				walk(a)
			}
		case *Compare:
			walk(x.Left)
			walk(x.Right)
		case *Bool:
			walk(x.Left)
			walk(x.Right)
		case *Cross:
			walk(x.Left)
			walk(x.Right)
		}
	}
	walk(s.Entry)
	walk(s.Exit)

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func extractFromNode(n Node, seen map[string]bool) {
	switch x := n.(type) {
	case *Field:
		seen[x.Name] = true
	case *Function:
		for _, a := range x.Args {
			extractFromNode(a, seen)
		}
	case *Compare:
		extractFromNode(x.Left, seen)
		extractFromNode(x.Right, seen)
	case *Bool:
		extractFromNode(x.Left, seen)
		extractFromNode(x.Right, seen)
	case *Cross:
		extractFromNode(x.Left, seen)
		extractFromNode(x.Right, seen)
	}
}

// PeriodValue returns the integer held by n when n is a Number literal with a
// positive integral value. Indicator periods must have this form.
func PeriodValue(n Node) (int, bool) {
	num, ok := n.(*Number)
	if !ok {
		return 0, false
	}
	v := num.Value
	if v < 1 || v != math.Trunc(v) || v > math.MaxInt32 {
		return 0, false
	}
	return int(v), true
}
