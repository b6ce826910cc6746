package engine

import (
	"fmt"
	"math"

	"github.com/stylizer-ml/stylizer/internal/graph"
	"github.com/stylizer-ml/stylizer/internal/tensor"
)

// registerNormOps adds normalization operators to the interpreter.
func (in *Interpreter) registerNormOps() {
	in.Register(graph.OpBatchNorm, handleBatchNorm)
	in.Register(graph.OpInstanceNorm, handleInstanceNorm)
}

// handleBatchNorm implements inference-mode batch normalization on NCHW
// input: y = scale * (x - mean) / sqrt(var + eps) + bias, per channel.
func handleBatchNorm(_ *Context, node *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 5); err != nil {
		return nil, err
	}
	x, scale, bias, mean, variance := inputs[0], inputs[1], inputs[2], inputs[3], inputs[4]
	eps := node.AttrFloat("epsilon", 1e-5)

	xs := x.Shape()
	if len(xs) < 2 {
		return nil, fmt.Errorf("batchnorm input must have a channel axis, got shape %v", xs)
	}
	channels := xs[1]
	if scale.NumElements() != channels || bias.NumElements() != channels ||
		mean.NumElements() != channels || variance.NumElements() != channels {
		return nil, fmt.Errorf("batchnorm parameter size does not match %d channels", channels)
	}

	xd, err := f32(x)
	if err != nil {
		return nil, err
	}
	sd, err := f32(scale)
	if err != nil {
		return nil, err
	}
	bd, err := f32(bias)
	if err != nil {
		return nil, err
	}
	md, err := f32(mean)
	if err != nil {
		return nil, err
	}
	vd, err := f32(variance)
	if err != nil {
		return nil, err
	}

	out, err := newF32(xs)
	if err != nil {
		return nil, err
	}
	od := out.AsFloat32()

	batch := xs[0]
	spatial := x.NumElements() / (batch * channels)
	for n := 0; n < batch; n++ {
		for c := 0; c < channels; c++ {
			inv := sd[c] / float32(math.Sqrt(float64(vd[c])+float64(eps)))
			shift := bd[c] - md[c]*inv
			base := (n*channels + c) * spatial
			for i := 0; i < spatial; i++ {
				od[base+i] = xd[base+i]*inv + shift
			}
		}
	}
	return []*tensor.RawTensor{out}, nil
}

// handleInstanceNorm normalizes each (batch, channel) plane over its own
// spatial statistics: y = scale * (x - mean(x)) / sqrt(var(x) + eps) + bias.
func handleInstanceNorm(_ *Context, node *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 3); err != nil {
		return nil, err
	}
	x, scale, bias := inputs[0], inputs[1], inputs[2]
	eps := node.AttrFloat("epsilon", 1e-5)

	xs := x.Shape()
	if len(xs) < 3 {
		return nil, fmt.Errorf("instancenorm input must be at least rank 3, got shape %v", xs)
	}
	channels := xs[1]
	if scale.NumElements() != channels || bias.NumElements() != channels {
		return nil, fmt.Errorf("instancenorm parameter size does not match %d channels", channels)
	}

	xd, err := f32(x)
	if err != nil {
		return nil, err
	}
	sd, err := f32(scale)
	if err != nil {
		return nil, err
	}
	bd, err := f32(bias)
	if err != nil {
		return nil, err
	}

	out, err := newF32(xs)
	if err != nil {
		return nil, err
	}
	od := out.AsFloat32()

	batch := xs[0]
	spatial := x.NumElements() / (batch * channels)
	for n := 0; n < batch; n++ {
		for c := 0; c < channels; c++ {
			base := (n*channels + c) * spatial

			var sum float64
			for i := 0; i < spatial; i++ {
				sum += float64(xd[base+i])
			}
			mean := sum / float64(spatial)

			var sqSum float64
			for i := 0; i < spatial; i++ {
				d := float64(xd[base+i]) - mean
				sqSum += d * d
			}
			variance := sqSum / float64(spatial)

			inv := float64(sd[c]) / math.Sqrt(variance+float64(eps))
			for i := 0; i < spatial; i++ {
				od[base+i] = float32((float64(xd[base+i])-mean)*inv) + bd[c]
			}
		}
	}
	return []*tensor.RawTensor{out}, nil
}
