// Package defines implements the orchestrator's typed KEY=VALUE export map:
// the literal command-line form (-D KEY=VALUE), the YAML stdin mapping form
// passed between a parent and a sub-build, and the merge rule that lets
// child-local definitions override inherited ones.
package defines

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"pake/internal/pakeerr"
)

// Map is an export set: defined names visible to task bodies and
// propagated to sub-builds.
type Map map[string]Value

// ParseLiteral parses one "-D KEY[=VALUE]" argument. A missing "=" means the
// boolean true for KEY, per the -D contract.
func ParseLiteral(raw string) (string, Value, error) {
	key, valueText, hasValue, err := splitKV(raw)
	if err != nil {
		return "", Value{}, err
	}
	if !hasValue {
		return key, BoolValue(true), nil
	}
	v, err := ParseValue(valueText)
	if err != nil {
		return "", Value{}, pakeerr.BadArguments("-D %s: %v", key, err)
	}
	return key, v, nil
}

func splitKV(raw string) (key, valueText string, hasValue bool, err error) {
	idx := strings.IndexByte(raw, '=')
	switch {
	case raw == "":
		return "", "", false, pakeerr.BadArguments("invalid -D argument: empty")
	case idx == 0:
		return "", "", false, pakeerr.BadArguments("invalid -D argument %q: empty key", raw)
	case idx < 0:
		return raw, "", false, nil
	default:
		return raw[:idx], raw[idx+1:], true, nil
	}
}

// FromLiterals builds a Map from a sequence of "-D KEY[=VALUE]" arguments,
// later occurrences of the same key winning.
func FromLiterals(raws []string) (Map, error) {
	m := make(Map, len(raws))
	for _, raw := range raws {
		k, v, err := ParseLiteral(raw)
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

// Merge layers override on top of base, returning a new Map. base is never
// mutated. Used both for applying -D overrides on top of a script's own
// defaults, and for applying a sub-build's local -D flags on top of the
// exports inherited from its parent.
func Merge(base, override Map) Map {
	out := make(Map, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// EncodeYAML serializes m as the literal mapping written to a sub-build's
// standard input.
func EncodeYAML(m Map) ([]byte, error) {
	return yaml.Marshal(map[string]Value(m))
}

// DecodeYAML parses the literal mapping a sub-build reads from its standard
// input.
func DecodeYAML(data []byte) (Map, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return Map{}, nil
	}
	var raw map[string]Value
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("defines: decoding exports: %w", err)
	}
	return Map(raw), nil
}

// Keys returns m's keys in sorted order, for deterministic listing/logging.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lookup returns the value for key and whether it was defined.
func (m Map) Lookup(key string) (Value, bool) {
	v, ok := m[key]
	return v, ok
}

// LookupOr returns the value for key, or fallback if undefined.
func (m Map) LookupOr(key string, fallback Value) Value {
	if v, ok := m[key]; ok {
		return v
	}
	return fallback
}
