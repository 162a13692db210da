// Package task defines the Task entity and the Registry that interns named
// tasks, their dependencies, and their declared inputs/outputs.
package task

import (
	"reflect"
	"runtime"

	"pake/internal/taskctx"
)

// Body is the callable a running task executes.
type Body func(ctx *taskctx.Context) error

// Pattern is one declared input or output element.
type Pattern struct {
	// Raw is the literal path or glob/template expression as written.
	Raw string

	// Derived is set for an output pattern containing a single "%" marker
	// whose members are computed by substituting each input's stem.
	Derived bool
}

// Task is the core registered entity: a name, its dependencies, its declared
// inputs/outputs, a body, and optional documentation.
type Task struct {
	Name         string
	Dependencies []string
	Inputs       []Pattern
	Outputs      []Pattern
	Body         Body
	Doc          string
}

// Lit builds a literal or glob (non-derived) Pattern.
func Lit(raw string) Pattern { return Pattern{Raw: raw} }

// DerivedOutput builds a derived output Pattern (a template containing "%").
func DerivedOutput(template string) Pattern { return Pattern{Raw: template, Derived: true} }

func bodyIdentity(b Body) uintptr {
	if b == nil {
		return 0
	}
	return reflect.ValueOf(b).Pointer()
}

func bodyName(b Body) string {
	if b == nil {
		return ""
	}
	if fn := runtime.FuncForPC(bodyIdentity(b)); fn != nil {
		return fn.Name()
	}
	return ""
}
