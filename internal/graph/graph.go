// Package graph implements the task dependency DAG: registration, adjacency,
// cycle detection, and deterministic topological traversal.
//
// Node order is driven purely by registration order (the order AddNode was
// first called for a given name). There is no content-hash canonicalization
// here — freshness and identity in this orchestrator are never derived from
// hashing task definitions.
package graph

import (
	"container/heap"

	"pake/internal/pakeerr"
)

type node struct {
	name  string
	index int // registration order
}

// Graph is a directed acyclic graph of named nodes. The zero value is not
// usable; construct with New.
type Graph struct {
	byName map[string]*node
	order  []*node // by registration index

	// deps[name] is the declared dependency list, in declaration order,
	// exactly as passed to AddNode (duplicates collapsed, first occurrence wins).
	deps map[string][]string
	// dependents[name] lists nodes that declared name as a dependency.
	dependents map[string][]string
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		byName:     make(map[string]*node),
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
	}
}

// AddNode registers name with the given dependency names, idempotent per
// name. Dependency names that have not yet been seen are appended as bare
// nodes (no declared dependencies of their own yet) so that definition order
// does not matter — a task may be registered before the tasks it depends on.
//
// Calling AddNode again for a name that already has dependencies recorded
// replaces that node's dependency list but keeps its original registration
// index (its position in topological ties does not move).
func (g *Graph) AddNode(name string, dependencies []string) {
	g.ensure(name)

	seen := make(map[string]struct{}, len(dependencies))
	deduped := make([]string, 0, len(dependencies))
	for _, d := range dependencies {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		deduped = append(deduped, d)
		g.ensure(d)
		g.dependents[d] = append(g.dependents[d], name)
	}
	g.deps[name] = deduped
}

func (g *Graph) ensure(name string) *node {
	if n, ok := g.byName[name]; ok {
		return n
	}
	n := &node{name: name, index: len(g.order)}
	g.byName[name] = n
	g.order = append(g.order, n)
	return n
}

// Has reports whether name has been registered as a node (directly or as an
// implied dependency).
func (g *Graph) Has(name string) bool {
	_, ok := g.byName[name]
	return ok
}

// ImmediateDependencies returns the declared dependency list for name, in
// declaration order.
func (g *Graph) ImmediateDependencies(name string) []string {
	return g.deps[name]
}

// ImmediateDependents returns the nodes that declared name as a dependency,
// in the order those declarations were made.
func (g *Graph) ImmediateDependents(name string) []string {
	return g.dependents[name]
}

// indexHeap is a min-heap of node registration indices, used to make every
// traversal in this package deterministic and independent of map iteration.
type indexHeap []int

func (h indexHeap) Len() int            { return len(h) }
func (h indexHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)         { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// reachable returns the set of node indices reachable from roots (inclusive),
// walking dependency edges (a node's own dependencies, not its dependents).
func (g *Graph) reachable(roots []string) map[int]bool {
	visited := make(map[int]bool, len(g.order))
	var stack []string
	for _, r := range roots {
		if n, ok := g.byName[r]; ok && !visited[n.index] {
			visited[n.index] = true
			stack = append(stack, r)
		}
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, d := range g.deps[cur] {
			n := g.byName[d]
			if !visited[n.index] {
				visited[n.index] = true
				stack = append(stack, d)
			}
		}
	}
	return visited
}

// TopologicalOrder returns a dependency-first ordering of every node
// reachable from roots. Ties are broken by registration order. Returns
// pakeerr.CyclicDependency if a cycle is reachable from roots.
func (g *Graph) TopologicalOrder(roots []string) ([]string, error) {
	reach := g.reachable(roots)

	indeg := make(map[int]int, len(reach))
	for idx := range reach {
		indeg[idx] = 0
	}
	for idx := range reach {
		name := g.order[idx].name
		for _, d := range g.deps[name] {
			dn := g.byName[d]
			if reach[dn.index] {
				indeg[idx]++
			}
		}
	}

	ready := &indexHeap{}
	heap.Init(ready)
	for idx := range reach {
		if indeg[idx] == 0 {
			heap.Push(ready, idx)
		}
	}

	// outgoing[i] = indices of nodes whose indegree counts node i as a dependency,
	// i.e. the dependents of i restricted to the reachable set.
	outgoing := make(map[int][]int, len(reach))
	for idx := range reach {
		name := g.order[idx].name
		for _, dep := range g.deps[name] {
			dn := g.byName[dep]
			if reach[dn.index] {
				outgoing[dn.index] = append(outgoing[dn.index], idx)
			}
		}
	}
	for idx := range outgoing {
		sortInts(outgoing[idx])
	}

	order := make([]string, 0, len(reach))
	for ready.Len() > 0 {
		idx := heap.Pop(ready).(int)
		order = append(order, g.order[idx].name)
		for _, next := range outgoing[idx] {
			indeg[next]--
			if indeg[next] == 0 {
				heap.Push(ready, next)
			}
		}
	}

	if len(order) != len(reach) {
		cycle := g.findCycle(reach)
		return nil, &pakeerr.CyclicDependency{Cycle: cycle}
	}
	return order, nil
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// findCycle performs a deterministic DFS over the reachable subgraph (order
// by registration index) to extract one witness cycle path.
func (g *Graph) findCycle(reach map[int]bool) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[int]int, len(reach))
	parent := make(map[int]int, len(reach))

	order := make([]int, 0, len(reach))
	for idx := range reach {
		order = append(order, idx)
	}
	sortInts(order)

	var cyclePath []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		name := g.order[u].name
		deps := append([]string(nil), g.deps[name]...)
		for _, d := range deps {
			dn, ok := g.byName[d]
			if !ok || !reach[dn.index] {
				continue
			}
			v := dn.index
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				cyclePath = append(cyclePath, v)
				cur := u
				for {
					cyclePath = append(cyclePath, cur)
					if cur == v {
						break
					}
					p, ok := parent[cur]
					if !ok {
						break
					}
					cur = p
				}
				return true
			}
		}
		color[u] = black
		return false
	}

	for _, idx := range order {
		if color[idx] == white {
			if dfs(idx) {
				break
			}
		}
	}

	if len(cyclePath) == 0 {
		return nil
	}
	out := make([]string, len(cyclePath))
	for i, idx := range cyclePath {
		out[len(cyclePath)-1-i] = g.order[idx].name
	}
	return out
}
