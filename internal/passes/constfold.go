package passes

import (
	"fmt"

	"github.com/stylizer-ml/stylizer/internal/engine"
	"github.com/stylizer-ml/stylizer/internal/graph"
	"github.com/stylizer-ml/stylizer/internal/tensor"
)

// FoldConstants replaces nodes whose inputs are all initializers with the
// initializer holding their computed result. Evaluation runs on eng; nodes
// the engine cannot execute are left untouched. Folding iterates until no
// node changes, so chains of constant nodes collapse in one application.
func FoldConstants(eng engine.Engine) Pass {
	return Pass{
		Name:   NameFoldConstants,
		Effect: ReduceNodes,
		Run: func(g *graph.Graph) (*graph.Graph, Stats, error) {
			return runFoldConstants(g, eng)
		},
	}
}

func runFoldConstants(g *graph.Graph, eng engine.Engine) (*graph.Graph, Stats, error) {
	out := g.Clone()

	removed := 0
	for {
		folded := false
		for i, node := range out.Nodes {
			if !foldable(out, node, eng) {
				continue
			}
			results, err := evalNode(out, node, eng)
			if err != nil {
				continue
			}
			for name, t := range results {
				out.AddInit(name, t)
			}
			removeNodes(out, map[int]bool{i: true})
			removed++
			folded = true
			break
		}
		if !folded {
			break
		}
	}
	pruneUnusedInits(out)

	return out, Stats{NodesRemoved: removed}, nil
}

func foldable(g *graph.Graph, node *graph.Node, eng engine.Engine) bool {
	if !eng.Supports(node.Kind) {
		return false
	}
	for _, in := range node.Inputs {
		if in != "" && !g.HasInit(in) {
			return false
		}
	}
	return true
}

// evalNode runs a single node in isolation, feeding its initializer inputs
// through a one-node graph.
func evalNode(g *graph.Graph, node *graph.Node, eng engine.Engine) (map[string]*tensor.RawTensor, error) {
	sub := graph.New(g.Name+"/fold", g.OpsetVersion)
	sub.AddNode(node.Clone())
	for _, in := range node.Inputs {
		if in == "" {
			continue
		}
		sub.AddInit(in, g.Init(in).Clone())
	}
	for _, o := range node.Outputs {
		sub.Outputs = append(sub.Outputs, graph.ValueInfo{Name: o})
	}

	results, err := eng.Run(sub, nil)
	if err != nil {
		return nil, err
	}
	for _, o := range node.Outputs {
		if results[o] == nil {
			return nil, fmt.Errorf("node %q produced no value for %q", node.Name, o)
		}
	}
	return results, nil
}
