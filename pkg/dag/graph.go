// Package dag implements the dependency graph used by the dispatcher: node
// storage, a flat topological sort, a layered (wave) topological sort, and
// subgraph slicing in either the upstream or downstream direction.
package dag

import "fmt"

// CycleError is raised whenever a sort encounters a cycle. TopologicalSort
// sets Node to the first node it could not retire; the layered sorts leave
// it empty and the message names the cycle generically.
type CycleError struct {
	Node string
}

func (e *CycleError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("dag: cycle detected at node %q", e.Node)
	}
	return "dag: graph contains a cycle"
}

// Graph stores, for each node, the set of nodes it depends on. A dependency
// that has not been added yet gets an empty placeholder entry when it is
// first named by Add.
type Graph struct {
	deps map[string]map[string]struct{}
	// order preserves insertion order for deterministic iteration.
	order []string
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{deps: make(map[string]map[string]struct{})}
}

// Add registers node with the given dependencies, creating placeholder
// entries for any dependency not yet added. Re-adding an existing node
// replaces its dependency set.
func (g *Graph) Add(node string, deps ...string) {
	if _, exists := g.deps[node]; !exists {
		g.order = append(g.order, node)
	}

	set := make(map[string]struct{}, len(deps))
	for _, d := range deps {
		set[d] = struct{}{}
		if _, exists := g.deps[d]; !exists {
			g.deps[d] = make(map[string]struct{})
			g.order = append(g.order, d)
		}
	}
	g.deps[node] = set
}

// Remove drops node and its recorded dependency set. Other nodes that
// listed it as a dependency keep the (now-dangling) reference; Remove is
// meant for use between runAll invocations, not concurrently with a run.
func (g *Graph) Remove(node string) {
	delete(g.deps, node)
	for i, n := range g.order {
		if n == node {
			g.order = append(g.order[:i:i], g.order[i+1:]...)
			break
		}
	}
}

// Nodes returns every node id in insertion order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.order...)
}

// Dependencies returns node's direct dependencies.
func (g *Graph) Dependencies(node string) []string {
	set := g.deps[node]
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	return out
}

// dependents returns every node that directly depends on node.
func (g *Graph) dependents(node string) []string {
	var out []string
	for _, n := range g.order {
		if _, ok := g.deps[n][node]; ok {
			out = append(out, n)
		}
	}
	return out
}
