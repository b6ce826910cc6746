package engine

import (
	"math"

	"github.com/stylizer-ml/stylizer/internal/graph"
	"github.com/stylizer-ml/stylizer/internal/tensor"
)

// registerActivations adds activation operators to the interpreter.
func (in *Interpreter) registerActivations() {
	in.Register(graph.OpRelu, handleRelu)
	in.Register(graph.OpLeakyRelu, handleLeakyRelu)
	in.Register(graph.OpSigmoid, handleSigmoid)
	in.Register(graph.OpTanh, handleTanh)
	in.Register(graph.OpClip, handleClip)
}

func handleRelu(_ *Context, _ *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 1); err != nil {
		return nil, err
	}
	out, err := unary(inputs[0], func(x float32) float32 {
		if x < 0 {
			return 0
		}
		return x
	})
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{out}, nil
}

func handleLeakyRelu(_ *Context, node *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 1); err != nil {
		return nil, err
	}
	alpha := node.AttrFloat("alpha", 0.01)
	out, err := unary(inputs[0], func(x float32) float32 {
		if x < 0 {
			return alpha * x
		}
		return x
	})
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{out}, nil
}

func handleSigmoid(_ *Context, _ *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 1); err != nil {
		return nil, err
	}
	out, err := unary(inputs[0], func(x float32) float32 {
		return float32(1.0 / (1.0 + math.Exp(-float64(x))))
	})
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{out}, nil
}

func handleTanh(_ *Context, _ *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 1); err != nil {
		return nil, err
	}
	out, err := unary(inputs[0], func(x float32) float32 {
		return float32(math.Tanh(float64(x)))
	})
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{out}, nil
}

// handleClip supports both the attribute form (opset < 11) and the
// min/max-input form (opset >= 11).
func handleClip(_ *Context, node *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 1); err != nil {
		return nil, err
	}
	minV := node.AttrFloat("min", float32(math.Inf(-1)))
	maxV := node.AttrFloat("max", float32(math.Inf(1)))
	if len(inputs) >= 2 && inputs[1] != nil {
		v, err := f32(inputs[1])
		if err != nil {
			return nil, err
		}
		if len(v) > 0 {
			minV = v[0]
		}
	}
	if len(inputs) >= 3 && inputs[2] != nil {
		v, err := f32(inputs[2])
		if err != nil {
			return nil, err
		}
		if len(v) > 0 {
			maxV = v[0]
		}
	}
	out, err := unary(inputs[0], func(x float32) float32 {
		if x < minV {
			return minV
		}
		if x > maxV {
			return maxV
		}
		return x
	})
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{out}, nil
}
