package taskctx

import (
	"fmt"
	"reflect"
)

// flattenReflect handles one argument to Call/CheckCall/CheckOutput/Subpake
// that is neither a bare string nor already a []string: a slice or array of
// any element type is flattened one level deep into its string-formatted
// elements, letting a task pass its Inputs()/Outputs() (or any other
// collection) directly as part of a command vector. Anything else is
// formatted with its default string representation. Strings are never
// iterated into individual characters, even though reflect.Kind for a
// string is itself indexable.
func flattenReflect(v any) []string {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem := rv.Index(i).Interface()
			if s, ok := elem.(string); ok {
				out = append(out, s)
				continue
			}
			out = append(out, fmt.Sprint(elem))
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}
