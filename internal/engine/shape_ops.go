package engine

import (
	"fmt"

	"github.com/stylizer-ml/stylizer/internal/graph"
	"github.com/stylizer-ml/stylizer/internal/tensor"
)

// registerShapeOps adds layout, metadata, and precision-conversion operators.
func (in *Interpreter) registerShapeOps() {
	in.Register(graph.OpTranspose, handleTranspose)
	in.Register(graph.OpReshape, handleReshape)
	in.Register(graph.OpFlatten, handleFlatten)
	in.Register(graph.OpIdentity, handleIdentity)
	in.Register(graph.OpDropout, handleIdentity)
	in.Register(graph.OpConstant, handleConstant)
	in.Register(graph.OpCast, handleCast)
	in.Register(graph.OpDequantizeLinear, handleDequantizeLinear)
}

// IdentityPerm reports whether perm maps every axis to itself.
func IdentityPerm(perm []int64) bool {
	for i, p := range perm {
		if p != int64(i) {
			return false
		}
	}
	return true
}

func handleTranspose(_ *Context, node *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 1); err != nil {
		return nil, err
	}
	x := inputs[0]
	xs := x.Shape()
	rank := len(xs)

	perm := node.AttrInts("perm")
	if perm == nil {
		perm = make([]int64, rank)
		for i := range perm {
			perm[i] = int64(rank - 1 - i)
		}
	}
	if len(perm) != rank {
		return nil, fmt.Errorf("transpose perm rank %d does not match input rank %d", len(perm), rank)
	}
	seen := make([]bool, rank)
	for _, p := range perm {
		if p < 0 || int(p) >= rank || seen[p] {
			return nil, fmt.Errorf("invalid transpose perm %v", perm)
		}
		seen[p] = true
	}

	if IdentityPerm(perm) {
		return []*tensor.RawTensor{x.Clone()}, nil
	}

	outShape := make(tensor.Shape, rank)
	for i, p := range perm {
		outShape[i] = xs[p]
	}
	out, err := tensor.NewRaw(outShape, x.DType())
	if err != nil {
		return nil, err
	}

	elemSize := x.DType().Size()
	inStrides := xs.ComputeStrides()
	outStrides := outShape.ComputeStrides()
	src := x.Data()
	dst := out.Data()
	for i := 0; i < x.NumElements(); i++ {
		rem := i
		srcOff := 0
		for axis, stride := range outStrides {
			idx := rem / stride
			rem %= stride
			srcOff += idx * inStrides[perm[axis]]
		}
		copy(dst[i*elemSize:(i+1)*elemSize], src[srcOff*elemSize:(srcOff+1)*elemSize])
	}
	return []*tensor.RawTensor{out}, nil
}

// resolveReshape expands -1 and 0 entries in a requested shape against the
// input's element count.
func resolveReshape(req []int64, in tensor.Shape) (tensor.Shape, error) {
	out := make(tensor.Shape, len(req))
	infer := -1
	known := 1
	for i, d := range req {
		switch {
		case d == -1:
			if infer >= 0 {
				return nil, fmt.Errorf("reshape allows at most one -1, got %v", req)
			}
			infer = i
		case d == 0:
			if i >= len(in) {
				return nil, fmt.Errorf("reshape 0 at axis %d exceeds input rank %d", i, len(in))
			}
			out[i] = in[i]
			known *= out[i]
		case d > 0:
			out[i] = int(d)
			known *= out[i]
		default:
			return nil, fmt.Errorf("invalid reshape dimension %d", d)
		}
	}
	total := in.NumElements()
	if infer >= 0 {
		if known == 0 || total%known != 0 {
			return nil, fmt.Errorf("cannot infer reshape axis: %d elements into %v", total, req)
		}
		out[infer] = total / known
		known = total
	}
	if known != total {
		return nil, fmt.Errorf("reshape to %v changes element count from %d to %d", req, total, known)
	}
	return out, nil
}

func handleReshape(_ *Context, node *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 1); err != nil {
		return nil, err
	}
	x := inputs[0]

	var req []int64
	if len(inputs) >= 2 && inputs[1] != nil {
		if inputs[1].DType() != tensor.Int64 {
			return nil, fmt.Errorf("reshape shape input must be int64, got %s", inputs[1].DType())
		}
		req = inputs[1].AsInt64()
	} else {
		req = node.AttrInts("shape")
	}
	if req == nil {
		return nil, fmt.Errorf("reshape requires a shape input or attribute")
	}

	outShape, err := resolveReshape(req, x.Shape())
	if err != nil {
		return nil, err
	}
	out := x.Clone()
	if err := out.Reshape(outShape); err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{out}, nil
}

func handleFlatten(_ *Context, node *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 1); err != nil {
		return nil, err
	}
	x := inputs[0]
	xs := x.Shape()
	axis := int(node.AttrInt("axis", 1))
	if axis < 0 {
		axis += len(xs)
	}
	if axis < 0 || axis > len(xs) {
		return nil, fmt.Errorf("flatten axis %d out of range for rank %d", axis, len(xs))
	}
	outer, inner := 1, 1
	for i, d := range xs {
		if i < axis {
			outer *= d
		} else {
			inner *= d
		}
	}
	out := x.Clone()
	if err := out.Reshape(tensor.Shape{outer, inner}); err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{out}, nil
}

func handleIdentity(_ *Context, _ *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 1); err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{inputs[0].Clone()}, nil
}

func handleConstant(_ *Context, node *graph.Node, _ []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	v, ok := node.Attr("value")
	if !ok || v.Kind() != graph.AttrTensor {
		return nil, fmt.Errorf("constant node %q has no value tensor", node.Name)
	}
	return []*tensor.RawTensor{v.Tensor().Clone()}, nil
}

func handleCast(_ *Context, node *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 1); err != nil {
		return nil, err
	}
	x := inputs[0]
	target, err := castTarget(node.AttrInt("to", 0))
	if err != nil {
		return nil, err
	}
	if x.DType() == target {
		return []*tensor.RawTensor{x.Clone()}, nil
	}

	out, err := tensor.NewRaw(x.Shape(), target)
	if err != nil {
		return nil, err
	}
	switch target {
	case tensor.Float32:
		vals, err := x.Float32Values()
		if err != nil {
			return nil, err
		}
		copy(out.AsFloat32(), vals)
	case tensor.Float16:
		if x.DType() != tensor.Float32 {
			return nil, fmt.Errorf("cast %s to float16 not supported", x.DType())
		}
		src := x.AsFloat32()
		dst := out.AsUint16()
		for i, v := range src {
			dst[i] = tensor.Float32ToFloat16(v)
		}
	case tensor.Int64:
		if x.DType() != tensor.Int32 {
			return nil, fmt.Errorf("cast %s to int64 not supported", x.DType())
		}
		src := x.AsInt32()
		dst := out.AsInt64()
		for i, v := range src {
			dst[i] = int64(v)
		}
	default:
		return nil, fmt.Errorf("cast to %s not supported", target)
	}
	return []*tensor.RawTensor{out}, nil
}

// castTarget maps an ONNX "to" attribute code onto a tensor data type.
func castTarget(code int64) (tensor.DataType, error) {
	switch code {
	case 1:
		return tensor.Float32, nil
	case 7:
		return tensor.Int64, nil
	case 10:
		return tensor.Float16, nil
	default:
		return 0, fmt.Errorf("cast target code %d not supported", code)
	}
}

// handleDequantizeLinear converts a uint8 tensor back to float32 using a
// per-tensor scale and zero point.
func handleDequantizeLinear(_ *Context, _ *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 2); err != nil {
		return nil, err
	}
	x, scaleT := inputs[0], inputs[1]
	if x.DType() != tensor.Uint8 {
		return nil, fmt.Errorf("dequantize input must be uint8, got %s", x.DType())
	}
	scales, err := f32(scaleT)
	if err != nil {
		return nil, err
	}
	if len(scales) != 1 {
		return nil, fmt.Errorf("only per-tensor dequantization supported, got %d scales", len(scales))
	}
	var zero uint8
	if len(inputs) >= 3 && inputs[2] != nil {
		zp := inputs[2]
		if zp.DType() != tensor.Uint8 || zp.NumElements() != 1 {
			return nil, fmt.Errorf("zero point must be a scalar uint8")
		}
		zero = zp.AsUint8()[0]
	}

	out, err := newF32(x.Shape())
	if err != nil {
		return nil, err
	}
	src := x.AsUint8()
	dst := out.AsFloat32()
	scale := scales[0]
	for i, q := range src {
		dst[i] = (float32(q) - float32(zero)) * scale
	}
	return []*tensor.RawTensor{out}, nil
}
