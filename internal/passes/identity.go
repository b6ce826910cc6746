package passes

import (
	"errors"

	"github.com/stylizer-ml/stylizer/internal/graph"
	"github.com/stylizer-ml/stylizer/internal/tensor"
)

var errUnknownCastTarget = errors.New("unknown cast target")

// EliminateIdentity removes nodes that provably forward their input
// unchanged: Identity, inference-mode Dropout, Pad with all-zero padding
// and Cast to the input's own type. Consumers are rewired to the
// node's input; nodes whose output is a declared graph output are kept so
// output names survive.
func EliminateIdentity() Pass {
	return Pass{
		Name:   NameEliminateIdentity,
		Effect: ReduceNodes,
		Run:    runEliminateIdentity,
	}
}

func runEliminateIdentity(g *graph.Graph) (*graph.Graph, Stats, error) {
	out := g.Clone()

	drop := make(map[int]bool)
	for i, node := range out.Nodes {
		if !isForwarding(out, node) {
			continue
		}
		if len(node.Outputs) == 0 || isGraphOutput(out, node.Outputs[0]) {
			continue
		}
		rewire(out, node.Outputs[0], node.Inputs[0])
		drop[i] = true
	}
	removeNodes(out, drop)
	pruneUnusedInits(out)

	return out, Stats{NodesRemoved: len(drop)}, nil
}

// isForwarding reports whether node passes its first input through
// untouched.
func isForwarding(g *graph.Graph, node *graph.Node) bool {
	switch node.Kind {
	case graph.OpIdentity:
		return true
	case graph.OpDropout:
		// At inference Dropout is the identity as long as nothing reads
		// the mask output.
		return len(node.Outputs) == 1
	case graph.OpPad:
		return padIsNop(g, node)
	case graph.OpCast:
		dt, ok := valueDType(g, node.Inputs[0])
		if !ok {
			return false
		}
		target, err := castTargetDType(node.AttrInt("to", 0))
		return err == nil && dt == target
	default:
		return false
	}
}

func padIsNop(g *graph.Graph, node *graph.Node) bool {
	pads := node.AttrInts("pads")
	if pads == nil && len(node.Inputs) >= 2 {
		t := g.Init(node.Inputs[1])
		if t == nil || t.DType() != tensor.Int64 {
			return false
		}
		pads = t.AsInt64()
	}
	if len(pads) == 0 {
		return false
	}
	for _, p := range pads {
		if p != 0 {
			return false
		}
	}
	return true
}

// valueDType resolves the element type of a named value when it is backed
// by an initializer or a declared graph input.
func valueDType(g *graph.Graph, name string) (tensor.DataType, bool) {
	if t := g.Init(name); t != nil {
		return t.DType(), true
	}
	if info, ok := g.InputInfo(name); ok {
		return info.DType, true
	}
	return 0, false
}

func castTargetDType(code int64) (tensor.DataType, error) {
	switch code {
	case 1:
		return tensor.Float32, nil
	case 7:
		return tensor.Int64, nil
	case 10:
		return tensor.Float16, nil
	default:
		return 0, errUnknownCastTarget
	}
}
