package dag

// TopologicalSort returns a flat order with every dependency preceding its
// dependents. A cycle fails fatally naming the first offending node Kahn's
// algorithm cannot retire.
func (g *Graph) TopologicalSort() ([]string, error) {
	inDegree := g.inDegrees()

	var queue []string
	for _, n := range g.order {
		if inDegree[n] == 0 {
			queue = append(queue, n)
		}
	}

	var out []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		out = append(out, n)

		for _, dependent := range g.dependents(n) {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(out) != len(g.order) {
		return nil, &CycleError{Node: firstUnresolved(g.order, out)}
	}
	return out, nil
}

// LayeredTopologicalSort groups nodes into waves: nodes with zero remaining
// in-degree form a layer, are retired together, and the next layer is
// computed from what that retirement unblocks. A mismatch between the
// total processed count and the node count means the graph contains a
// cycle.
func (g *Graph) LayeredTopologicalSort() ([][]string, error) {
	inDegree := g.inDegrees()

	remaining := len(g.order)
	var layers [][]string
	processed := 0

	var frontier []string
	for _, n := range g.order {
		if inDegree[n] == 0 {
			frontier = append(frontier, n)
		}
	}

	for len(frontier) > 0 {
		layers = append(layers, frontier)
		processed += len(frontier)

		var next []string
		for _, n := range frontier {
			for _, dependent := range g.dependents(n) {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		frontier = next
	}

	if processed != remaining {
		return nil, &CycleError{}
	}
	return layers, nil
}

// SubgraphMode selects the direction LayeredSubgraphSort walks from roots.
type SubgraphMode string

const (
	Upstream   SubgraphMode = "upstream"
	Downstream SubgraphMode = "downstream"
)

// LayeredSubgraphSort collects the closure of roots in the given direction
// (ancestors for Upstream, descendants for Downstream), then layers just
// that slice. A cycle within the slice is fatal.
func (g *Graph) LayeredSubgraphSort(roots []string, mode SubgraphMode) ([][]string, error) {
	visited := make(map[string]struct{})
	var walk func(node string)
	if mode == Downstream {
		walk = func(node string) {
			if _, ok := visited[node]; ok {
				return
			}
			visited[node] = struct{}{}
			for _, d := range g.dependents(node) {
				walk(d)
			}
		}
	} else {
		walk = func(node string) {
			if _, ok := visited[node]; ok {
				return
			}
			visited[node] = struct{}{}
			for _, d := range g.Dependencies(node) {
				walk(d)
			}
		}
	}
	for _, r := range roots {
		walk(r)
	}

	sub := New()
	for n := range visited {
		var deps []string
		for _, d := range g.Dependencies(n) {
			if _, ok := visited[d]; ok {
				deps = append(deps, d)
			}
		}
		sub.Add(n, deps...)
	}

	return sub.LayeredTopologicalSort()
}

func (g *Graph) inDegrees() map[string]int {
	in := make(map[string]int, len(g.order))
	for _, n := range g.order {
		in[n] = len(g.deps[n])
	}
	return in
}

func firstUnresolved(all, resolved []string) string {
	done := make(map[string]struct{}, len(resolved))
	for _, n := range resolved {
		done[n] = struct{}{}
	}
	for _, n := range all {
		if _, ok := done[n]; !ok {
			return n
		}
	}
	return ""
}
