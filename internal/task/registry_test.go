package task

import (
	"errors"
	"testing"

	"pake/internal/pakeerr"
	"pake/internal/taskctx"
)

func noopBody(ctx *taskctx.Context) error { return nil }

func TestRegistry_AddAndLookup(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(Task{Name: "build", Body: noopBody}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	tk, ok := r.Lookup("build")
	if !ok || tk.Name != "build" {
		t.Fatalf("Lookup(build) = %v, %v", tk, ok)
	}
	if !r.Has("build") {
		t.Fatal("Has(build) = false, want true")
	}
	if r.Has("missing") {
		t.Fatal("Has(missing) = true, want false")
	}
}

func TestRegistry_RejectsDuplicateName(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(Task{Name: "build", Body: noopBody}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	err := r.Add(Task{Name: "build", Body: noopBody})
	var cfg *pakeerr.ConfigError
	if !errors.As(err, &cfg) {
		t.Fatalf("expected ConfigError on redefinition, got %v", err)
	}
	if r.Err() == nil {
		t.Fatal("Err() should retain the first registration failure")
	}
}

func TestRegistry_RejectsOutputsWithoutInputs(t *testing.T) {
	r := NewRegistry()
	err := r.Add(Task{Name: "build", Outputs: []Pattern{Lit("out.bin")}})
	if err == nil {
		t.Fatal("expected an error for outputs declared without inputs")
	}
}

func TestRegistry_LookupByBody(t *testing.T) {
	r := NewRegistry()
	body := func(ctx *taskctx.Context) error { return nil }
	if err := r.Add(Task{Name: "build", Body: body}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	name, ok := r.NameOf(body)
	if !ok || name != "build" {
		t.Fatalf("NameOf(body) = %q, %v, want build, true", name, ok)
	}
}

func TestRegistry_NamesPreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"c", "a", "b"} {
		if err := r.Add(Task{Name: name, Body: noopBody}); err != nil {
			t.Fatalf("Add(%s): %v", name, err)
		}
	}
	want := []string{"c", "a", "b"}
	got := r.Names()
	for i, name := range want {
		if got[i] != name {
			t.Fatalf("Names() = %v, want %v", got, want)
		}
	}
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}
}
