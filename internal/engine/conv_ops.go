package engine

import (
	"fmt"
	"math"

	"github.com/stylizer-ml/stylizer/internal/graph"
	"github.com/stylizer-ml/stylizer/internal/parallel"
	"github.com/stylizer-ml/stylizer/internal/tensor"
)

// registerConvOps adds convolution, pooling, padding, and resampling
// operators to the interpreter.
func (in *Interpreter) registerConvOps() {
	in.Register(graph.OpConv, handleConv)
	in.Register(graph.OpMaxPool, handleMaxPool)
	in.Register(graph.OpAveragePool, handleAveragePool)
	in.Register(graph.OpGlobalAveragePool, handleGlobalAveragePool)
	in.Register(graph.OpUpsample, handleUpsample)
	in.Register(graph.OpPad, handlePad)
}

// convParams holds the resolved 2D window parameters shared by Conv and the
// pooling operators.
type convParams struct {
	kh, kw                 int
	strideH, strideW       int
	padT, padL, padB, padR int
}

func windowParams(node *graph.Node, defaultKH, defaultKW int) (convParams, error) {
	p := convParams{kh: defaultKH, kw: defaultKW, strideH: 1, strideW: 1}
	if ks := node.AttrInts("kernel_shape"); len(ks) == 2 {
		p.kh, p.kw = int(ks[0]), int(ks[1])
	}
	if st := node.AttrInts("strides"); len(st) == 2 {
		p.strideH, p.strideW = int(st[0]), int(st[1])
	}
	if pads := node.AttrInts("pads"); len(pads) == 4 {
		p.padT, p.padL, p.padB, p.padR = int(pads[0]), int(pads[1]), int(pads[2]), int(pads[3])
	}
	for _, d := range node.AttrInts("dilations") {
		if d != 1 {
			return p, fmt.Errorf("dilation %d not supported", d)
		}
	}
	if p.strideH <= 0 || p.strideW <= 0 {
		return p, fmt.Errorf("invalid strides %d,%d", p.strideH, p.strideW)
	}
	return p, nil
}

// handleConv implements 2D convolution on NCHW input, direct form with
// separate begin/end padding. Grouped convolution is not supported.
func handleConv(ctx *Context, node *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 2); err != nil {
		return nil, err
	}
	x, w := inputs[0], inputs[1]
	xs, ws := x.Shape(), w.Shape()
	if len(xs) != 4 || len(ws) != 4 {
		return nil, fmt.Errorf("conv requires 4D input and kernel, got %v and %v", xs, ws)
	}
	if g := node.AttrInt("group", 1); g != 1 {
		return nil, fmt.Errorf("grouped convolution (group=%d) not supported", g)
	}

	p, err := windowParams(node, ws[2], ws[3])
	if err != nil {
		return nil, err
	}
	if p.kh != ws[2] || p.kw != ws[3] {
		return nil, fmt.Errorf("kernel_shape %dx%d does not match weight shape %v", p.kh, p.kw, ws)
	}

	batch, cIn, h, wIn := xs[0], xs[1], xs[2], xs[3]
	cOut := ws[0]
	if ws[1] != cIn {
		return nil, fmt.Errorf("conv input channels %d do not match kernel channels %d", cIn, ws[1])
	}
	hOut := (h+p.padT+p.padB-p.kh)/p.strideH + 1
	wOut := (wIn+p.padL+p.padR-p.kw)/p.strideW + 1
	if hOut <= 0 || wOut <= 0 {
		return nil, fmt.Errorf("conv output would be empty: %dx%d", hOut, wOut)
	}

	xd, err := f32(x)
	if err != nil {
		return nil, err
	}
	wd, err := f32(w)
	if err != nil {
		return nil, err
	}
	var bias []float32
	if len(inputs) >= 3 && inputs[2] != nil {
		if bias, err = f32(inputs[2]); err != nil {
			return nil, err
		}
		if len(bias) != cOut {
			return nil, fmt.Errorf("conv bias size %d does not match %d output channels", len(bias), cOut)
		}
	}

	out, err := newF32(tensor.Shape{batch, cOut, hOut, wOut})
	if err != nil {
		return nil, err
	}
	od := out.AsFloat32()

	kernelSize := cIn * p.kh * p.kw
	parallel.For(batch*cOut, func(k int) {
		n, co := k/cOut, k%cOut
		outBase := (n*cOut + co) * hOut * wOut
		wBase := co * kernelSize
		for oh := 0; oh < hOut; oh++ {
			hStart := oh*p.strideH - p.padT
			for ow := 0; ow < wOut; ow++ {
				wStart := ow*p.strideW - p.padL
				var sum float32
				if bias != nil {
					sum = bias[co]
				}
				for ci := 0; ci < cIn; ci++ {
					inBase := (n*cIn + ci) * h * wIn
					kBase := wBase + ci*p.kh*p.kw
					for kh := 0; kh < p.kh; kh++ {
						ih := hStart + kh
						if ih < 0 || ih >= h {
							continue
						}
						rowBase := inBase + ih*wIn
						kRow := kBase + kh*p.kw
						for kw := 0; kw < p.kw; kw++ {
							iw := wStart + kw
							if iw < 0 || iw >= wIn {
								continue
							}
							sum += xd[rowBase+iw] * wd[kRow+kw]
						}
					}
				}
				od[outBase+oh*wOut+ow] = sum
			}
		}
	}, ctx.Parallel)

	return []*tensor.RawTensor{out}, nil
}

type poolReduce struct {
	init   float32
	step   func(acc, v float32) float32
	finish func(acc float32, count int) float32
}

func pool2D(ctx *Context, node *graph.Node, x *tensor.RawTensor, r poolReduce) (*tensor.RawTensor, error) {
	xs := x.Shape()
	if len(xs) != 4 {
		return nil, fmt.Errorf("pooling requires 4D input, got %v", xs)
	}
	p, err := windowParams(node, 1, 1)
	if err != nil {
		return nil, err
	}
	if ks := node.AttrInts("kernel_shape"); len(ks) != 2 {
		return nil, fmt.Errorf("pooling requires a 2D kernel_shape attribute")
	}

	batch, channels, h, w := xs[0], xs[1], xs[2], xs[3]
	hOut := (h+p.padT+p.padB-p.kh)/p.strideH + 1
	wOut := (w+p.padL+p.padR-p.kw)/p.strideW + 1
	if hOut <= 0 || wOut <= 0 {
		return nil, fmt.Errorf("pooling output would be empty: %dx%d", hOut, wOut)
	}

	xd, err := f32(x)
	if err != nil {
		return nil, err
	}
	out, err := newF32(tensor.Shape{batch, channels, hOut, wOut})
	if err != nil {
		return nil, err
	}
	od := out.AsFloat32()

	parallel.For(batch*channels, func(k int) {
		inBase := k * h * w
		outBase := k * hOut * wOut
		for oh := 0; oh < hOut; oh++ {
			hStart := oh*p.strideH - p.padT
			for ow := 0; ow < wOut; ow++ {
				wStart := ow*p.strideW - p.padL
				acc := r.init
				count := 0
				for kh := 0; kh < p.kh; kh++ {
					ih := hStart + kh
					if ih < 0 || ih >= h {
						continue
					}
					for kw := 0; kw < p.kw; kw++ {
						iw := wStart + kw
						if iw < 0 || iw >= w {
							continue
						}
						acc = r.step(acc, xd[inBase+ih*w+iw])
						count++
					}
				}
				od[outBase+oh*wOut+ow] = r.finish(acc, count)
			}
		}
	}, ctx.Parallel)

	return out, nil
}

func handleMaxPool(ctx *Context, node *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 1); err != nil {
		return nil, err
	}
	out, err := pool2D(ctx, node, inputs[0], poolReduce{
		init: float32(math.Inf(-1)),
		step: func(acc, v float32) float32 {
			if v > acc {
				return v
			}
			return acc
		},
		finish: func(acc float32, _ int) float32 { return acc },
	})
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{out}, nil
}

func handleAveragePool(ctx *Context, node *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 1); err != nil {
		return nil, err
	}
	out, err := pool2D(ctx, node, inputs[0], poolReduce{
		step: func(acc, v float32) float32 { return acc + v },
		finish: func(acc float32, count int) float32 {
			if count == 0 {
				return 0
			}
			return acc / float32(count)
		},
	})
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{out}, nil
}

func handleGlobalAveragePool(_ *Context, _ *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 1); err != nil {
		return nil, err
	}
	x := inputs[0]
	xs := x.Shape()
	if len(xs) != 4 {
		return nil, fmt.Errorf("global average pool requires 4D input, got %v", xs)
	}
	xd, err := f32(x)
	if err != nil {
		return nil, err
	}
	out, err := newF32(tensor.Shape{xs[0], xs[1], 1, 1})
	if err != nil {
		return nil, err
	}
	od := out.AsFloat32()
	spatial := xs[2] * xs[3]
	for k := 0; k < xs[0]*xs[1]; k++ {
		var sum float64
		base := k * spatial
		for i := 0; i < spatial; i++ {
			sum += float64(xd[base+i])
		}
		od[k] = float32(sum / float64(spatial))
	}
	return []*tensor.RawTensor{out}, nil
}

// handleUpsample implements nearest-neighbor upsampling. Scales come from
// the "scales" attribute (opset 7-8) or the second input (opset 9+).
func handleUpsample(_ *Context, node *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 1); err != nil {
		return nil, err
	}
	if mode, ok := node.Attr("mode"); ok && mode.Str() != "nearest" {
		return nil, fmt.Errorf("upsample mode %q not supported", mode.Str())
	}

	x := inputs[0]
	xs := x.Shape()
	var scales []float32
	if v, ok := node.Attr("scales"); ok {
		scales = v.Floats()
	} else if len(inputs) >= 2 && inputs[1] != nil {
		s, err := f32(inputs[1])
		if err != nil {
			return nil, err
		}
		scales = s
	}
	if len(scales) != len(xs) {
		return nil, fmt.Errorf("upsample scales rank %d does not match input rank %d", len(scales), len(xs))
	}

	outShape := make(tensor.Shape, len(xs))
	for i := range xs {
		outShape[i] = int(float64(xs[i]) * float64(scales[i]))
		if outShape[i] <= 0 {
			return nil, fmt.Errorf("upsample scale %g produces empty axis %d", scales[i], i)
		}
	}

	xd, err := f32(x)
	if err != nil {
		return nil, err
	}
	out, err := newF32(outShape)
	if err != nil {
		return nil, err
	}
	od := out.AsFloat32()

	inStrides := xs.ComputeStrides()
	outStrides := outShape.ComputeStrides()
	for i := range od {
		rem := i
		src := 0
		for axis, stride := range outStrides {
			idx := rem / stride
			rem %= stride
			srcIdx := int(float64(idx) / float64(scales[axis]))
			if srcIdx >= xs[axis] {
				srcIdx = xs[axis] - 1
			}
			src += srcIdx * inStrides[axis]
		}
		od[i] = xd[src]
	}
	return []*tensor.RawTensor{out}, nil
}

// handlePad implements constant-mode padding. Pads come from the "pads"
// attribute (opset < 11) or the second input (opset >= 11).
func handlePad(_ *Context, node *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 1); err != nil {
		return nil, err
	}
	if mode, ok := node.Attr("mode"); ok && mode.Str() != "constant" {
		return nil, fmt.Errorf("pad mode %q not supported", mode.Str())
	}

	x := inputs[0]
	xs := x.Shape()
	rank := len(xs)

	pads := node.AttrInts("pads")
	if pads == nil && len(inputs) >= 2 && inputs[1] != nil {
		if inputs[1].DType() != tensor.Int64 {
			return nil, fmt.Errorf("pads input must be int64, got %s", inputs[1].DType())
		}
		pads = append([]int64(nil), inputs[1].AsInt64()...)
	}
	if len(pads) != 2*rank {
		return nil, fmt.Errorf("pad requires %d pad values, got %d", 2*rank, len(pads))
	}
	for _, p := range pads {
		if p < 0 {
			return nil, fmt.Errorf("negative pads not supported")
		}
	}

	value := node.AttrFloat("value", 0)
	if len(inputs) >= 3 && inputs[2] != nil {
		v, err := f32(inputs[2])
		if err != nil {
			return nil, err
		}
		if len(v) > 0 {
			value = v[0]
		}
	}

	outShape := make(tensor.Shape, rank)
	for i := range xs {
		outShape[i] = xs[i] + int(pads[i]) + int(pads[rank+i])
	}

	xd, err := f32(x)
	if err != nil {
		return nil, err
	}
	out, err := newF32(outShape)
	if err != nil {
		return nil, err
	}
	od := out.AsFloat32()
	for i := range od {
		od[i] = value
	}

	inStrides := xs.ComputeStrides()
	outStrides := outShape.ComputeStrides()
	for i := range xd {
		rem := i
		dst := 0
		for axis, stride := range inStrides {
			idx := rem / stride
			rem %= stride
			dst += (idx + int(pads[axis])) * outStrides[axis]
		}
		od[dst] = xd[i]
	}
	return []*tensor.RawTensor{out}, nil
}
