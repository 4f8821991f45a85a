package dag_test

import (
	"testing"

	"github.com/evkernel/evkernel/pkg/dag"
	"github.com/stretchr/testify/require"
)

// diamond builds A depends on {B, C}; B, C depend on {D}.
func diamond() *dag.Graph {
	g := dag.New()
	g.Add("D")
	g.Add("B", "D")
	g.Add("C", "D")
	g.Add("A", "B", "C")
	return g
}

func TestTopologicalSort_Diamond(t *testing.T) {
	g := diamond()
	order, err := g.TopologicalSort()
	require.NoError(t, err)

	pos := indexOf(order)
	require.Less(t, pos["D"], pos["B"])
	require.Less(t, pos["D"], pos["C"])
	require.Less(t, pos["B"], pos["A"])
	require.Less(t, pos["C"], pos["A"])
}

func TestLayeredTopologicalSort_Diamond(t *testing.T) {
	g := diamond()
	layers, err := g.LayeredTopologicalSort()
	require.NoError(t, err)
	require.Len(t, layers, 3)
	require.ElementsMatch(t, []string{"D"}, layers[0])
	require.ElementsMatch(t, []string{"B", "C"}, layers[1])
	require.ElementsMatch(t, []string{"A"}, layers[2])
}

func TestTopologicalSort_Cycle(t *testing.T) {
	g := dag.New()
	g.Add("a", "b")
	g.Add("b", "a")

	_, err := g.TopologicalSort()
	var cycleErr *dag.CycleError
	require.ErrorAs(t, err, &cycleErr)
}

func TestLayeredTopologicalSort_Cycle(t *testing.T) {
	g := dag.New()
	g.Add("a", "b")
	g.Add("b", "c")
	g.Add("c", "a")

	_, err := g.LayeredTopologicalSort()
	var cycleErr *dag.CycleError
	require.ErrorAs(t, err, &cycleErr)
}

func TestLayeredSubgraphSort_Upstream(t *testing.T) {
	g := diamond()
	layers, err := g.LayeredSubgraphSort([]string{"B"}, dag.Upstream)
	require.NoError(t, err)
	require.Len(t, layers, 2)
	require.ElementsMatch(t, []string{"D"}, layers[0])
	require.ElementsMatch(t, []string{"B"}, layers[1])
}

func TestLayeredSubgraphSort_Downstream(t *testing.T) {
	g := diamond()
	layers, err := g.LayeredSubgraphSort([]string{"D"}, dag.Downstream)
	require.NoError(t, err)
	require.Len(t, layers, 3)
	require.ElementsMatch(t, []string{"D"}, layers[0])
	require.ElementsMatch(t, []string{"B", "C"}, layers[1])
	require.ElementsMatch(t, []string{"A"}, layers[2])
}

func TestGraph_Remove(t *testing.T) {
	g := diamond()
	g.Remove("A")
	require.NotContains(t, g.Nodes(), "A")
}

func indexOf(order []string) map[string]int {
	pos := make(map[string]int, len(order))
	for i, n := range order {
		pos[n] = i
	}
	return pos
}
