package ast

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedNode is returned when a serialized node cannot be decoded.
var ErrMalformedNode = errors.New("malformed node")

// ToMap returns the recursive map form of a node, keyed by the "type"
// discriminant. A nil node maps to nil.
func ToMap(n Node) map[string]any {
	switch x := n.(type) {
	case nil:
		return nil
	case *Field:
		return map[string]any{"type": string(TypeField), "name": x.Name}
	case *Number:
		return map[string]any{"type": string(TypeNumber), "value": x.Value}
	case *Function:
		args := make([]any, len(x.Args))
		for i, a := range x.Args {
			args[i] = ToMap(a)
		}
		return map[string]any{"type": string(TypeFunction), "name": strings.ToLower(x.Name), "args": args}
	case *Compare:
		return map[string]any{"type": string(TypeCompare), "left": ToMap(x.Left), "op": string(x.Op), "right": ToMap(x.Right)}
	case *Bool:
		return map[string]any{"type": string(TypeBool), "op": string(x.Op), "left": ToMap(x.Left), "right": ToMap(x.Right)}
	case *Cross:
		return map[string]any{"type": string(TypeCross), "dir": strings.ToLower(string(x.Dir)), "left": ToMap(x.Left), "right": ToMap(x.Right)}
	}
	return nil
}

// ToMap returns {"entry": ..., "exit": ...} with nil for an absent side.
func (s *Script) ToMap() map[string]any {
	out := map[string]any{"entry": nil, "exit": nil}
	if s.Entry != nil {
		out["entry"] = ToMap(s.Entry)
	}
	if s.Exit != nil {
		out["exit"] = ToMap(s.Exit)
	}
	return out
}

// MarshalJSON encodes the script in its map form.
func (s *Script) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.ToMap())
}

// UnmarshalJSON decodes a script from its map form.
func (s *Script) UnmarshalJSON(data []byte) error {
	var raw struct {
		Entry json.RawMessage `json:"entry"`
		Exit  json.RawMessage `json:"exit"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("script: %w: %v", ErrMalformedNode, err)
	}
	entry, err := decodeNode(raw.Entry, "entry")
	if err != nil {
		return err
	}
	exit, err := decodeNode(raw.Exit, "exit")
	if err != nil {
		return err
	}
	s.Entry, s.Exit = entry, exit
	return nil
}

// wireNode is the flat JSON shape of every node variant. The decoder selects
// which fields to read based on Type.
type wireNode struct {
	Type  NodeType          `json:"type"`
	Name  string            `json:"name,omitempty"`
	Value *float64          `json:"value,omitempty"`
	Op    string            `json:"op,omitempty"`
	Dir   string            `json:"dir,omitempty"`
	Left  json.RawMessage   `json:"left,omitempty"`
	Right json.RawMessage   `json:"right,omitempty"`
	Args  []json.RawMessage `json:"args,omitempty"`
}

// DecodeNode rebuilds a node from its JSON map form. "null" decodes to nil.
func DecodeNode(raw json.RawMessage) (Node, error) {
	return decodeNode(raw, "$")
}

func decodeNode(raw json.RawMessage, path string) (Node, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var w wireNode
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", path, ErrMalformedNode, err)
	}

	switch w.Type {
	case TypeField:
		if w.Name == "" {
			return nil, fmt.Errorf("%s: %w: field missing name", path, ErrMalformedNode)
		}
		return &Field{Name: strings.ToLower(w.Name)}, nil

	case TypeNumber:
		if w.Value == nil {
			return nil, fmt.Errorf("%s: %w: number missing value", path, ErrMalformedNode)
		}
		return &Number{Value: *w.Value}, nil

	case TypeFunction:
		if w.Name == "" {
			return nil, fmt.Errorf("%s: %w: function missing name", path, ErrMalformedNode)
		}
		args := make([]Node, 0, len(w.Args))
		for i, a := range w.Args {
			arg, err := decodeNode(a, fmt.Sprintf("%s.args[%d]", path, i))
			if err != nil {
				return nil, err
			}
			if arg == nil {
				return nil, fmt.Errorf("%s.args[%d]: %w: null argument", path, i, ErrMalformedNode)
			}
			args = append(args, arg)
		}
		return &Function{Name: strings.ToLower(w.Name), Args: args}, nil

	case TypeCompare, TypeBool, TypeCross:
		left, right, err := decodeOperands(w, path)
		if err != nil {
			return nil, err
		}
		switch w.Type {
		case TypeCompare:
			op := CompareOp(w.Op)
			if !IsCompareOp(op) {
				return nil, fmt.Errorf("%s: %w: unknown compare op %q", path, ErrMalformedNode, w.Op)
			}
			return &Compare{Left: left, Op: op, Right: right}, nil
		case TypeBool:
			op := BoolOp(strings.ToUpper(w.Op))
			if !IsBoolOp(op) {
				return nil, fmt.Errorf("%s: %w: unknown bool op %q", path, ErrMalformedNode, w.Op)
			}
			return &Bool{Op: op, Left: left, Right: right}, nil
		default:
			dir := CrossDir(strings.ToUpper(w.Dir))
			if !IsCrossDir(dir) {
				return nil, fmt.Errorf("%s: %w: unknown cross dir %q", path, ErrMalformedNode, w.Dir)
			}
			return &Cross{Dir: dir, Left: left, Right: right}, nil
		}

	case "":
		return nil, fmt.Errorf("%s: %w: missing type", path, ErrMalformedNode)
	default:
		return nil, fmt.Errorf("%s: %w: unknown type %q", path, ErrMalformedNode, w.Type)
	}
}

func decodeOperands(w wireNode, path string) (Node, Node, error) {
	left, err := decodeNode(w.Left, path+".left")
	if err != nil {
		return nil, nil, err
	}
	right, err := decodeNode(w.Right, path+".right")
	if err != nil {
		return nil, nil, err
	}
	if left == nil || right == nil {
		return nil, nil, fmt.Errorf("%s: %w: %s requires left and right", path, ErrMalformedNode, w.Type)
	}
	return left, right, nil
}
