// Package ast defines the typed syntax tree of the rule DSL.
//
// A Script holds an optional entry tree and an optional exit tree. Nodes form
// a closed set of variants (Field, Number, Function, Compare, Bool, Cross)
// behind the sealed Node interface. Nodes are immutable once built; subtrees
// may be shared but are never modified.
package ast

// NodeType is the discriminant used in the serialized form of a node.
type NodeType string

const (
	TypeField    NodeType = "field"
	TypeNumber   NodeType = "number"
	TypeFunction NodeType = "function"
	TypeCompare  NodeType = "compare"
	TypeBool     NodeType = "bool"
	TypeCross    NodeType = "cross"
)

// CompareOp is an elementwise comparison operator.
type CompareOp string

const (
	OpGT CompareOp = ">"
	OpLT CompareOp = "<"
	OpGE CompareOp = ">="
	OpLE CompareOp = "<="
	OpEQ CompareOp = "=="
	OpNE CompareOp = "!="
)

// BoolOp is a logical connective.
type BoolOp string

const (
	OpAnd BoolOp = "AND"
	OpOr  BoolOp = "OR"
)

// CrossDir is the direction of a cross detection.
type CrossDir string

const (
	CrossesAbove CrossDir = "CROSSES_ABOVE"
	CrossesBelow CrossDir = "CROSSES_BELOW"
)

// Node is implemented by every AST variant.
type Node interface {
	Type() NodeType
	node()
}

// Field references a price table column (open, high, low, close, volume).
type Field struct {
	Name string
}

// Number is a floating-point literal.
type Number struct {
	Value float64
}

// Function is an indicator invocation such as sma(close, 20).
type Function struct {
	Name string
	Args []Node
}

// Compare applies Op elementwise to Left and Right.
type Compare struct {
	Left  Node
	Op    CompareOp
	Right Node
}

// Bool combines two conditions with AND / OR.
type Bool struct {
	Op    BoolOp
	Left  Node
	Right Node
}

// Cross detects Left crossing Right in direction Dir.
type Cross struct {
	Dir   CrossDir
	Left  Node
	Right Node
}

func (*Field) Type() NodeType    { return TypeField }
func (*Number) Type() NodeType   { return TypeNumber }
func (*Function) Type() NodeType { return TypeFunction }
func (*Compare) Type() NodeType  { return TypeCompare }
func (*Bool) Type() NodeType     { return TypeBool }
func (*Cross) Type() NodeType    { return TypeCross }

func (*Field) node()    {}
func (*Number) node()   {}
func (*Function) node() {}
func (*Compare) node()  {}
func (*Bool) node()     {}
func (*Cross) node()    {}

// Script is a parsed rule set. Either side may be nil; a nil exit means the
// position is only closed at the end of the data.
type Script struct {
	Entry Node
	Exit  Node
}

// Valid operator sets.
var (
	compareOps = map[CompareOp]bool{OpGT: true, OpLT: true, OpGE: true, OpLE: true, OpEQ: true, OpNE: true}
	boolOps    = map[BoolOp]bool{OpAnd: true, OpOr: true}
	crossDirs  = map[CrossDir]bool{CrossesAbove: true, CrossesBelow: true}
)

// IsCompareOp reports whether op is a supported comparison operator.
func IsCompareOp(op CompareOp) bool { return compareOps[op] }

// IsBoolOp reports whether op is AND or OR.
func IsBoolOp(op BoolOp) bool { return boolOps[op] }

// IsCrossDir reports whether d is a supported cross direction.
func IsCrossDir(d CrossDir) bool { return crossDirs[d] }

// Equal reports whether two trees are structurally identical.
func Equal(a, b Node) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case *Field:
		y, ok := b.(*Field)
		return ok && x.Name == y.Name
	case *Number:
		y, ok := b.(*Number)
		return ok && x.Value == y.Value
	case *Function:
		y, ok := b.(*Function)
		if !ok || x.Name != y.Name || len(x.Args) != len(y.Args) {
			return false
		}
		for i := range x.Args {
			if !Equal(x.Args[i], y.Args[i]) {
				return false
			}
		}
		return true
	case *Compare:
		y, ok := b.(*Compare)
		return ok && x.Op == y.Op && Equal(x.Left, y.Left) && Equal(x.Right, y.Right)
	case *Bool:
		y, ok := b.(*Bool)
		return ok && x.Op == y.Op && Equal(x.Left, y.Left) && Equal(x.Right, y.Right)
	case *Cross:
		y, ok := b.(*Cross)
		return ok && x.Dir == y.Dir && Equal(x.Left, y.Left) && Equal(x.Right, y.Right)
	}
	return false
}

// EqualScripts compares both sides of two scripts.
func EqualScripts(a, b *Script) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return Equal(a.Entry, b.Entry) && Equal(a.Exit, b.Exit)
}
