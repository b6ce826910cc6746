package passes

import (
	"github.com/stylizer-ml/stylizer/internal/graph"
)

// CanonicalizeTranspose composes chains of consecutive Transpose nodes
// into at most one and removes transposes whose permutation is the
// identity.
func CanonicalizeTranspose() Pass {
	return Pass{
		Name:     NameCanonicalizeTranspose,
		Requires: []graph.OpKind{graph.OpTranspose},
		Effect:   ReduceNodes,
		Run:      runCanonicalizeTranspose,
	}
}

func runCanonicalizeTranspose(g *graph.Graph) (*graph.Graph, Stats, error) {
	out := g.Clone()

	removed := 0
	for {
		changed := false
		producers := out.Producers()
		consumers := out.Consumers()
		for i, node := range out.Nodes {
			if node.Kind != graph.OpTranspose {
				continue
			}
			if composeWithUpstream(out, i, node, producers, consumers) {
				removed++
				changed = true
				break
			}
			if dropIdentityPerm(out, i, node) {
				removed++
				changed = true
				break
			}
		}
		if !changed {
			break
		}
	}

	return out, Stats{NodesRemoved: removed}, nil
}

// composeWithUpstream merges node with a Transpose producing its input.
// The upstream transpose is absorbed: node takes its input and the
// composed permutation.
func composeWithUpstream(g *graph.Graph, _ int, node *graph.Node, producers map[string]int, consumers map[string][]int) bool {
	in := node.Inputs[0]
	if isGraphOutput(g, in) || len(consumers[in]) != 1 {
		return false
	}
	upIdx, ok := producers[in]
	if !ok {
		return false
	}
	up := g.Nodes[upIdx]
	if up.Kind != graph.OpTranspose {
		return false
	}

	upPerm := transposePerm(up)
	perm := transposePerm(node)
	if upPerm == nil || perm == nil || len(upPerm) != len(perm) {
		return false
	}
	composed := make([]int64, len(perm))
	for i, p := range perm {
		composed[i] = upPerm[p]
	}

	node.Inputs[0] = up.Inputs[0]
	node.SetAttr("perm", graph.IntsAttr(composed))
	removeNodes(g, map[int]bool{upIdx: true})
	return true
}

// dropIdentityPerm removes a Transpose whose permutation maps every axis
// to itself. Kept when its output is a declared graph output so output
// names survive.
func dropIdentityPerm(g *graph.Graph, idx int, node *graph.Node) bool {
	perm := transposePerm(node)
	if perm == nil || isGraphOutput(g, node.Outputs[0]) {
		return false
	}
	for i, p := range perm {
		if p != int64(i) {
			return false
		}
	}
	rewire(g, node.Outputs[0], node.Inputs[0])
	removeNodes(g, map[int]bool{idx: true})
	return true
}

// transposePerm returns the node's explicit permutation, or nil when the
// attribute is absent. A missing perm means reverse-all-axes, which needs
// rank knowledge this pass does not track.
func transposePerm(node *graph.Node) []int64 {
	return node.AttrInts("perm")
}
