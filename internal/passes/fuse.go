package passes

import (
	"fmt"
	"math"

	"github.com/stylizer-ml/stylizer/internal/graph"
	"github.com/stylizer-ml/stylizer/internal/tensor"
)

// FuseConv folds operators following a convolution into the convolution's
// own weights:
//
//   - BatchNormalization: w'[c] = w[c] * scale[c]/sqrt(var[c]+eps),
//     b'[c] = (b[c] - mean[c]) * scale[c]/sqrt(var[c]+eps) + beta[c].
//   - Per-channel Add: folded into the convolution bias.
//
// A fusion fires only when the intermediate value has exactly one consumer
// and is not a declared graph output, and when all folded operands are
// initializers used nowhere else.
func FuseConv() Pass {
	return Pass{
		Name:     NameFuseConv,
		Requires: []graph.OpKind{graph.OpConv},
		Effect:   SubstituteOps,
		Run:      runFuseConv,
	}
}

func runFuseConv(g *graph.Graph) (*graph.Graph, Stats, error) {
	out := g.Clone()

	removed := 0
	for {
		fused := false
		consumers := out.Consumers()
		producers := out.Producers()
		for i, node := range out.Nodes {
			var ok bool
			var err error
			switch node.Kind {
			case graph.OpBatchNorm:
				ok, err = fuseBatchNorm(out, i, node, producers, consumers)
			case graph.OpAdd:
				ok, err = fuseBiasAdd(out, i, node, producers, consumers)
			default:
				continue
			}
			if err != nil {
				return nil, Stats{}, err
			}
			if ok {
				removed++
				fused = true
				break
			}
		}
		if !fused {
			break
		}
	}
	pruneUnusedInits(out)

	return out, Stats{NodesRemoved: removed}, nil
}

// convBefore returns the Conv node feeding value when that value has
// exactly one consumer and is not a graph output.
func convBefore(g *graph.Graph, value string, producers map[string]int, consumers map[string][]int) *graph.Node {
	if isGraphOutput(g, value) || len(consumers[value]) != 1 {
		return nil
	}
	idx, ok := producers[value]
	if !ok {
		return nil
	}
	conv := g.Nodes[idx]
	if conv.Kind != graph.OpConv {
		return nil
	}
	return conv
}

// exclusiveInit returns a named Float32 initializer when the convolution is
// its only consumer, so rewriting it in place cannot leak into other nodes.
func exclusiveInit(g *graph.Graph, name string, consumers map[string][]int) *tensor.RawTensor {
	if len(consumers[name]) != 1 || isGraphOutput(g, name) {
		return nil
	}
	t := g.Init(name)
	if t == nil || t.DType() != tensor.Float32 {
		return nil
	}
	return t
}

func fuseBatchNorm(g *graph.Graph, bnIdx int, bn *graph.Node, producers map[string]int, consumers map[string][]int) (bool, error) {
	if len(bn.Inputs) != 5 || len(bn.Outputs) != 1 {
		return false, nil
	}
	conv := convBefore(g, bn.Inputs[0], producers, consumers)
	if conv == nil {
		return false, nil
	}

	w := exclusiveInit(g, conv.Inputs[1], consumers)
	if w == nil || len(w.Shape()) != 4 {
		return false, nil
	}
	cOut := w.Shape()[0]

	var params [4][]float32 // scale, beta, mean, variance
	for i := 1; i < 5; i++ {
		t := g.Init(bn.Inputs[i])
		if t == nil || t.DType() != tensor.Float32 || t.NumElements() != cOut {
			return false, nil
		}
		params[i-1] = t.AsFloat32()
	}
	scale, beta, mean, variance := params[0], params[1], params[2], params[3]
	eps := bn.AttrFloat("epsilon", 1e-5)

	var bias []float32
	if len(conv.Inputs) >= 3 && conv.Inputs[2] != "" {
		b := exclusiveInit(g, conv.Inputs[2], consumers)
		if b == nil || b.NumElements() != cOut {
			return false, nil
		}
		bias = b.AsFloat32()
	}

	wd := w.AsFloat32()
	perChannel := len(wd) / cOut
	newBias := make([]float32, cOut)
	for c := 0; c < cOut; c++ {
		k := scale[c] / float32(math.Sqrt(float64(variance[c])+float64(eps)))
		for j := c * perChannel; j < (c+1)*perChannel; j++ {
			wd[j] *= k
		}
		var b float32
		if bias != nil {
			b = bias[c]
		}
		newBias[c] = (b-mean[c])*k + beta[c]
	}

	biasName := conv.Inputs[1] + "_bias"
	if len(conv.Inputs) >= 3 && conv.Inputs[2] != "" {
		biasName = conv.Inputs[2]
	} else {
		biasName = freshName(g, biasName)
		conv.Inputs = append(conv.Inputs[:2], biasName)
	}
	bt, err := tensor.FromFloat32(newBias, tensor.Shape{cOut})
	if err != nil {
		return false, err
	}
	g.AddInit(biasName, bt)

	conv.Outputs[0] = bn.Outputs[0]
	removeNodes(g, map[int]bool{bnIdx: true})
	return true, nil
}

func fuseBiasAdd(g *graph.Graph, addIdx int, add *graph.Node, producers map[string]int, consumers map[string][]int) (bool, error) {
	if len(add.Inputs) != 2 || len(add.Outputs) != 1 {
		return false, nil
	}

	// The convolution may sit on either side of the Add.
	convIn, biasIn := add.Inputs[0], add.Inputs[1]
	conv := convBefore(g, convIn, producers, consumers)
	if conv == nil {
		convIn, biasIn = biasIn, convIn
		conv = convBefore(g, convIn, producers, consumers)
	}
	if conv == nil {
		return false, nil
	}

	w := g.Init(conv.Inputs[1])
	if w == nil || len(w.Shape()) != 4 {
		return false, nil
	}
	cOut := w.Shape()[0]

	bt := g.Init(biasIn)
	if bt == nil || bt.DType() != tensor.Float32 || !perChannelShape(bt.Shape(), cOut) {
		return false, nil
	}
	addend := bt.AsFloat32()

	newBias := make([]float32, cOut)
	copy(newBias, addend)
	if len(conv.Inputs) >= 3 && conv.Inputs[2] != "" {
		b := exclusiveInit(g, conv.Inputs[2], consumers)
		if b == nil || b.NumElements() != cOut {
			return false, nil
		}
		for c, v := range b.AsFloat32() {
			newBias[c] += v
		}
	}

	biasName := conv.Inputs[1] + "_bias"
	if len(conv.Inputs) >= 3 && conv.Inputs[2] != "" {
		biasName = conv.Inputs[2]
	} else {
		biasName = freshName(g, biasName)
		conv.Inputs = append(conv.Inputs[:2], biasName)
	}
	nt, err := tensor.FromFloat32(newBias, tensor.Shape{cOut})
	if err != nil {
		return false, err
	}
	g.AddInit(biasName, nt)

	conv.Outputs[0] = add.Outputs[0]
	removeNodes(g, map[int]bool{addIdx: true})
	return true, nil
}

// perChannelShape reports whether shape broadcasts one value per output
// channel of an NCHW convolution: [C], [C,1,1] or [1,C,1,1].
func perChannelShape(s tensor.Shape, c int) bool {
	switch len(s) {
	case 1:
		return s[0] == c
	case 3:
		return s[0] == c && s[1] == 1 && s[2] == 1
	case 4:
		return s[0] == 1 && s[1] == c && s[2] == 1 && s[3] == 1
	default:
		return false
	}
}

// freshName returns base, suffixed if needed so it collides with no
// existing value name in the graph.
func freshName(g *graph.Graph, base string) string {
	taken := make(map[string]bool)
	for _, init := range g.Inits {
		taken[init.Name] = true
	}
	for _, in := range g.Inputs {
		taken[in.Name] = true
	}
	for _, node := range g.Nodes {
		for _, o := range node.Outputs {
			taken[o] = true
		}
	}
	name := base
	for i := 0; taken[name]; i++ {
		name = fmt.Sprintf("%s_%d", base, i)
	}
	return name
}
