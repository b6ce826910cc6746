package passes

import (
	"github.com/stylizer-ml/stylizer/internal/graph"
)

// EliminateDeadNodes removes nodes that are not transitively reachable
// from any declared graph output, then drops initializers nothing
// references.
func EliminateDeadNodes() Pass {
	return Pass{
		Name:   NameEliminateDeadNodes,
		Effect: ReduceNodes,
		Run:    runEliminateDeadNodes,
	}
}

func runEliminateDeadNodes(g *graph.Graph) (*graph.Graph, Stats, error) {
	out := g.Clone()

	producers := out.Producers()
	live := make(map[int]bool, len(out.Nodes))
	var queue []int
	for _, o := range out.Outputs {
		if idx, ok := producers[o.Name]; ok && !live[idx] {
			live[idx] = true
			queue = append(queue, idx)
		}
	}
	for len(queue) > 0 {
		idx := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		for _, in := range out.Nodes[idx].Inputs {
			if in == "" {
				continue
			}
			if p, ok := producers[in]; ok && !live[p] {
				live[p] = true
				queue = append(queue, p)
			}
		}
	}

	drop := make(map[int]bool)
	for i := range out.Nodes {
		if !live[i] {
			drop[i] = true
		}
	}
	removeNodes(out, drop)

	pruneUnusedInits(out)

	return out, Stats{NodesRemoved: len(drop)}, nil
}
