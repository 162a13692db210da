package defines

import (
	"fmt"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"
)

// yamlContainer is the wire shape for the four container kinds and for null:
// a tagged mapping so the decoder can recover List vs Tuple vs Set, which
// plain YAML sequences cannot distinguish on their own, and so a null reaches
// UnmarshalYAML (yaml.v3 does not call it for a plain null scalar).
type yamlContainer struct {
	Kind  string           `yaml:"kind"`
	Items []Value          `yaml:"items,omitempty"`
	Pairs map[string]Value `yaml:"pairs,omitempty"`
}

// MarshalYAML implements yaml.Marshaler. String, bool, int and float kinds
// encode as plain YAML scalars (a whole-valued float carries an explicit
// !!float tag); null and the container kinds encode as a tagged wrapper
// mapping.
func (v Value) MarshalYAML() (interface{}, error) {
	switch v.Kind {
	case KindNull:
		return yamlContainer{Kind: "null"}, nil
	case KindBool:
		return v.Bool, nil
	case KindInt:
		return v.Int, nil
	case KindFloat:
		if v.Float == math.Trunc(v.Float) && !math.IsInf(v.Float, 0) {
			// Written plain, 2.0 would read back as the integer 2.
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: strconv.FormatFloat(v.Float, 'f', -1, 64)}, nil
		}
		return v.Float, nil
	case KindString:
		return v.Str, nil
	case KindList:
		return yamlContainer{Kind: "list", Items: v.Items}, nil
	case KindTuple:
		return yamlContainer{Kind: "tuple", Items: v.Items}, nil
	case KindSet:
		return yamlContainer{Kind: "set", Items: v.Items}, nil
	case KindMapping:
		return yamlContainer{Kind: "mapping", Pairs: v.Pairs}, nil
	default:
		return nil, fmt.Errorf("defines: marshal: unknown kind %d", v.Kind)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler, recovering Kind from either the
// scalar's own YAML tag or the wrapper mapping's "kind" field.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return v.unmarshalScalar(node)
	case yaml.MappingNode:
		var c yamlContainer
		if err := node.Decode(&c); err != nil {
			return err
		}
		switch c.Kind {
		case "null":
			*v = NullValue()
		case "list":
			*v = Value{Kind: KindList, Items: nonNil(c.Items)}
		case "tuple":
			*v = Value{Kind: KindTuple, Items: nonNil(c.Items)}
		case "set":
			*v = Value{Kind: KindSet, Items: nonNil(c.Items)}
		case "mapping":
			pairs := c.Pairs
			if pairs == nil {
				pairs = map[string]Value{}
			}
			*v = Value{Kind: KindMapping, Pairs: pairs}
		default:
			return fmt.Errorf("defines: unmarshal: unknown container kind %q", c.Kind)
		}
		return nil
	default:
		return fmt.Errorf("defines: unmarshal: unsupported yaml node kind %d", node.Kind)
	}
}

func nonNil(items []Value) []Value {
	if items == nil {
		return []Value{}
	}
	return items
}

func (v *Value) unmarshalScalar(node *yaml.Node) error {
	switch node.Tag {
	case "!!null":
		*v = NullValue()
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return err
		}
		*v = BoolValue(b)
	case "!!int":
		var n int64
		if err := node.Decode(&n); err != nil {
			return err
		}
		*v = IntValue(n)
	case "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return err
		}
		*v = FloatValue(f)
	default:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*v = StringValue(s)
	}
	return nil
}
