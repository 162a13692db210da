package defines

import "fmt"

// Kind identifies which alternative of the literal sum type a Value holds.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindNull
	KindList
	KindTuple
	KindSet
	KindMapping
)

// Value is the closed set of literal shapes a define/export can hold:
// string, integer, float, boolean, null, or a nested list/tuple/set/mapping
// of further Values. Only one of the typed fields is meaningful, selected by
// Kind.
type Value struct {
	Kind Kind

	Str   string
	Int   int64
	Float float64
	Bool  bool

	Items []Value          // List, Tuple, Set
	Pairs map[string]Value // Mapping
}

func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }
func IntValue(n int64) Value     { return Value{Kind: KindInt, Int: n} }
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func BoolValue(b bool) Value     { return Value{Kind: KindBool, Bool: b} }
func NullValue() Value           { return Value{Kind: KindNull} }

// Equal reports structural equality: same Kind and, recursively, the same
// elements. Set comparison ignores element order; List and Tuple do not.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == other.Str
	case KindInt:
		return v.Int == other.Int
	case KindFloat:
		return v.Float == other.Float
	case KindBool:
		return v.Bool == other.Bool
	case KindNull:
		return true
	case KindList, KindTuple:
		if len(v.Items) != len(other.Items) {
			return false
		}
		for i := range v.Items {
			if !v.Items[i].Equal(other.Items[i]) {
				return false
			}
		}
		return true
	case KindSet:
		return setEqual(v.Items, other.Items)
	case KindMapping:
		if len(v.Pairs) != len(other.Pairs) {
			return false
		}
		for k, val := range v.Pairs {
			ov, ok := other.Pairs[k]
			if !ok || !val.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func setEqual(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	used := make([]bool, len(b))
	for _, av := range a {
		found := false
		for i, bv := range b {
			if used[i] {
				continue
			}
			if av.Equal(bv) {
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// String renders v for logging/diagnostic purposes; it is not the literal
// parser's inverse and is not used for re-parsing.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindString:
		return v.Str
	default:
		return v.renderContainer()
	}
}

func (v Value) renderContainer() string {
	switch v.Kind {
	case KindList, KindTuple, KindSet:
		out := make([]string, len(v.Items))
		for i, item := range v.Items {
			out[i] = item.String()
		}
		return fmt.Sprint(out)
	case KindMapping:
		return fmt.Sprint(v.Pairs)
	default:
		return ""
	}
}
