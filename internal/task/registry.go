package task

import (
	"pake/internal/pakeerr"
)

// Registry interns tasks by name, preserving insertion order, and rejects
// duplicate registration.
type Registry struct {
	byName  map[string]*Task
	byBody  map[uintptr]*Task
	order   []string
	lastErr error
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Task),
		byBody: make(map[uintptr]*Task),
	}
}

// Add registers a new task. It fails with pakeerr.TaskRedefined if name is
// already registered, and with pakeerr.OutputsWithoutInputs if outputs are
// declared while inputs are empty. The error (if any) is also retained and
// surfaced by Err, so a chain of Add calls at init time can defer checking
// until registration is complete.
func (r *Registry) Add(t Task) error {
	if _, exists := r.byName[t.Name]; exists {
		err := pakeerr.TaskRedefined(t.Name)
		r.setErr(err)
		return err
	}
	if len(t.Outputs) > 0 && len(t.Inputs) == 0 {
		err := pakeerr.OutputsWithoutInputs(t.Name)
		r.setErr(err)
		return err
	}

	stored := t
	r.byName[t.Name] = &stored
	r.order = append(r.order, t.Name)
	if t.Body != nil {
		r.byBody[bodyIdentity(t.Body)] = &stored
	}
	return nil
}

func (r *Registry) setErr(err error) {
	if r.lastErr == nil {
		r.lastErr = err
	}
}

// Err returns the first registration error encountered, if any.
func (r *Registry) Err() error { return r.lastErr }

// Lookup resolves a task by name.
func (r *Registry) Lookup(name string) (*Task, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// LookupByBody resolves a task by its body's function identity, the
// mechanism by which a dependency may be declared as a direct handle rather
// than a name.
func (r *Registry) LookupByBody(b Body) (*Task, bool) {
	t, ok := r.byBody[bodyIdentity(b)]
	return t, ok
}

// NameOf resolves a body to the name it was registered under, used to turn a
// handle-style dependency reference into a plain name for the graph.
func (r *Registry) NameOf(b Body) (string, bool) {
	t, ok := r.LookupByBody(b)
	if !ok {
		return "", false
	}
	return t.Name, true
}

// Names returns every registered task name in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// List returns every registered task, in registration order.
func (r *Registry) List() []*Task {
	out := make([]*Task, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Len reports the number of registered tasks.
func (r *Registry) Len() int { return len(r.order) }
