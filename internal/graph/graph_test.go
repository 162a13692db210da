package graph

import (
	"errors"
	"testing"

	"pake/internal/pakeerr"
)

func TestTopologicalOrder_DependenciesBeforeDependents(t *testing.T) {
	g := New()
	g.AddNode("base", nil)
	g.AddNode("mid", []string{"base"})
	g.AddNode("top", []string{"mid"})

	order, err := g.TopologicalOrder([]string{"top"})
	if err != nil {
		t.Fatalf("TopologicalOrder: %v", err)
	}
	want := []string{"base", "mid", "top"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestTopologicalOrder_TiesBrokenByRegistrationOrder(t *testing.T) {
	g := New()
	g.AddNode("z", nil)
	g.AddNode("a", nil)
	g.AddNode("top", []string{"z", "a"})

	order, err := g.TopologicalOrder([]string{"top"})
	if err != nil {
		t.Fatalf("TopologicalOrder: %v", err)
	}
	// z and a are both roots with no dependencies; registration order (z
	// before a) breaks the tie, not alphabetical order.
	want := []string{"z", "a", "top"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestTopologicalOrder_OnlyReachableSubgraph(t *testing.T) {
	g := New()
	g.AddNode("unrelated", nil)
	g.AddNode("base", nil)
	g.AddNode("top", []string{"base"})

	order, err := g.TopologicalOrder([]string{"top"})
	if err != nil {
		t.Fatalf("TopologicalOrder: %v", err)
	}
	for _, name := range order {
		if name == "unrelated" {
			t.Fatalf("order %v should not include an unrequested, unrelated node", order)
		}
	}
}

func TestTopologicalOrder_DetectsCycle(t *testing.T) {
	g := New()
	g.AddNode("a", []string{"b"})
	g.AddNode("b", []string{"c"})
	g.AddNode("c", []string{"a"})

	_, err := g.TopologicalOrder([]string{"a"})
	var cyc *pakeerr.CyclicDependency
	if !errors.As(err, &cyc) {
		t.Fatalf("expected CyclicDependency, got %v", err)
	}
	if len(cyc.Cycle) == 0 {
		t.Fatal("expected a non-empty witness cycle path")
	}
}

func TestAddNode_DependencyDefinedBeforeItsOwnRegistration(t *testing.T) {
	g := New()
	g.AddNode("top", []string{"base"}) // "base" not yet registered directly
	g.AddNode("base", nil)

	if !g.Has("base") {
		t.Fatal("expected base to be implicitly registered as a node")
	}
	order, err := g.TopologicalOrder([]string{"top"})
	if err != nil {
		t.Fatalf("TopologicalOrder: %v", err)
	}
	if order[0] != "base" || order[1] != "top" {
		t.Fatalf("order = %v, want [base top]", order)
	}
}

func TestAddNode_DuplicateDependenciesCollapsed(t *testing.T) {
	g := New()
	g.AddNode("base", nil)
	g.AddNode("top", []string{"base", "base"})

	if len(g.ImmediateDependencies("top")) != 1 {
		t.Fatalf("ImmediateDependencies(top) = %v, want one entry", g.ImmediateDependencies("top"))
	}
}

func TestImmediateDependents(t *testing.T) {
	g := New()
	g.AddNode("base", nil)
	g.AddNode("a", []string{"base"})
	g.AddNode("b", []string{"base"})

	deps := g.ImmediateDependents("base")
	if len(deps) != 2 || deps[0] != "a" || deps[1] != "b" {
		t.Fatalf("ImmediateDependents(base) = %v, want [a b]", deps)
	}
}
