package engine

import (
	"fmt"
	"math"

	"github.com/stylizer-ml/stylizer/internal/graph"
	"github.com/stylizer-ml/stylizer/internal/tensor"
)

// registerMathOps adds arithmetic operators to the interpreter.
func (in *Interpreter) registerMathOps() {
	in.Register(graph.OpAdd, handleAdd)
	in.Register(graph.OpSub, handleSub)
	in.Register(graph.OpMul, handleMul)
	in.Register(graph.OpDiv, handleDiv)
	in.Register(graph.OpSqrt, handleSqrt)
	in.Register(graph.OpExp, handleExp)
	in.Register(graph.OpMatMul, handleMatMul)
	in.Register(graph.OpGemm, handleGemm)
	in.Register(graph.OpConcat, handleConcat)
}

func handleAdd(_ *Context, _ *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 2); err != nil {
		return nil, err
	}
	out, err := broadcastBinary(inputs[0], inputs[1], func(x, y float32) float32 { return x + y })
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{out}, nil
}

func handleSub(_ *Context, _ *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 2); err != nil {
		return nil, err
	}
	out, err := broadcastBinary(inputs[0], inputs[1], func(x, y float32) float32 { return x - y })
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{out}, nil
}

func handleMul(_ *Context, _ *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 2); err != nil {
		return nil, err
	}
	out, err := broadcastBinary(inputs[0], inputs[1], func(x, y float32) float32 { return x * y })
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{out}, nil
}

func handleDiv(_ *Context, _ *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 2); err != nil {
		return nil, err
	}
	out, err := broadcastBinary(inputs[0], inputs[1], func(x, y float32) float32 { return x / y })
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{out}, nil
}

func handleSqrt(_ *Context, _ *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 1); err != nil {
		return nil, err
	}
	out, err := unary(inputs[0], func(x float32) float32 { return float32(math.Sqrt(float64(x))) })
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{out}, nil
}

func handleExp(_ *Context, _ *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 1); err != nil {
		return nil, err
	}
	out, err := unary(inputs[0], func(x float32) float32 { return float32(math.Exp(float64(x))) })
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{out}, nil
}

func handleMatMul(_ *Context, _ *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 2); err != nil {
		return nil, err
	}
	out, err := matmul2D(inputs[0], inputs[1])
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{out}, nil
}

// handleGemm implements Y = alpha*A'*B' + beta*C.
func handleGemm(_ *Context, node *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 2); err != nil {
		return nil, err
	}
	alpha := node.AttrFloat("alpha", 1.0)
	beta := node.AttrFloat("beta", 1.0)

	a, b := inputs[0], inputs[1]
	var err error
	if node.AttrInt("transA", 0) != 0 {
		if a, err = transpose2D(a); err != nil {
			return nil, err
		}
	}
	if node.AttrInt("transB", 0) != 0 {
		if b, err = transpose2D(b); err != nil {
			return nil, err
		}
	}

	out, err := matmul2D(a, b)
	if err != nil {
		return nil, err
	}
	od := out.AsFloat32()
	if alpha != 1.0 {
		for i := range od {
			od[i] *= alpha
		}
	}
	if len(inputs) >= 3 && inputs[2] != nil && beta != 0 {
		c := inputs[2]
		if beta != 1.0 {
			if c, err = unary(c, func(x float32) float32 { return x * beta }); err != nil {
				return nil, err
			}
		}
		if out, err = broadcastBinary(out, c, func(x, y float32) float32 { return x + y }); err != nil {
			return nil, err
		}
	}
	return []*tensor.RawTensor{out}, nil
}

func handleConcat(_ *Context, node *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := wantInputs(inputs, 1); err != nil {
		return nil, err
	}
	rank := len(inputs[0].Shape())
	axis := int(node.AttrInt("axis", 0))
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return nil, fmt.Errorf("concat axis %d out of range for rank %d", axis, rank)
	}

	outShape := inputs[0].Shape().Clone()
	outShape[axis] = 0
	for _, t := range inputs {
		if t == nil {
			return nil, fmt.Errorf("concat input not connected")
		}
		s := t.Shape()
		if len(s) != rank {
			return nil, fmt.Errorf("concat rank mismatch: %v vs %v", inputs[0].Shape(), s)
		}
		for i := range s {
			if i != axis && s[i] != outShape[i] {
				return nil, fmt.Errorf("concat shape mismatch on axis %d: %v vs %v", i, outShape, s)
			}
		}
		outShape[axis] += s[axis]
	}

	out, err := newF32(outShape)
	if err != nil {
		return nil, err
	}
	od := out.AsFloat32()

	// Copy block-wise: outer = product of dims before axis,
	// inner = product of dims after axis.
	outer := 1
	for i := 0; i < axis; i++ {
		outer *= outShape[i]
	}
	inner := 1
	for i := axis + 1; i < rank; i++ {
		inner *= outShape[i]
	}

	axisOffset := 0
	for _, t := range inputs {
		td, err := f32(t)
		if err != nil {
			return nil, err
		}
		tAxis := t.Shape()[axis]
		for o := 0; o < outer; o++ {
			src := o * tAxis * inner
			dst := (o*outShape[axis] + axisOffset) * inner
			copy(od[dst:dst+tAxis*inner], td[src:src+tAxis*inner])
		}
		axisOffset += tAxis
	}
	return []*tensor.RawTensor{out}, nil
}

// matmul2D multiplies two rank-2 tensors.
func matmul2D(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	as, bs := a.Shape(), b.Shape()
	if len(as) != 2 || len(bs) != 2 {
		return nil, fmt.Errorf("matmul requires rank-2 tensors, got %v and %v", as, bs)
	}
	if as[1] != bs[0] {
		return nil, fmt.Errorf("matmul inner dimension mismatch: %v vs %v", as, bs)
	}
	ad, err := f32(a)
	if err != nil {
		return nil, err
	}
	bd, err := f32(b)
	if err != nil {
		return nil, err
	}
	m, k, n := as[0], as[1], bs[1]
	out, err := newF32(tensor.Shape{m, n})
	if err != nil {
		return nil, err
	}
	od := out.AsFloat32()
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var sum float32
			for p := 0; p < k; p++ {
				sum += ad[i*k+p] * bd[p*n+j]
			}
			od[i*n+j] = sum
		}
	}
	return out, nil
}

// transpose2D transposes a rank-2 tensor.
func transpose2D(t *tensor.RawTensor) (*tensor.RawTensor, error) {
	s := t.Shape()
	if len(s) != 2 {
		return nil, fmt.Errorf("transpose2D requires a rank-2 tensor, got %v", s)
	}
	td, err := f32(t)
	if err != nil {
		return nil, err
	}
	out, err := newF32(tensor.Shape{s[1], s[0]})
	if err != nil {
		return nil, err
	}
	od := out.AsFloat32()
	for i := 0; i < s[0]; i++ {
		for j := 0; j < s[1]; j++ {
			od[j*s[0]+i] = td[i*s[1]+j]
		}
	}
	return out, nil
}
