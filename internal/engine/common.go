package engine

import (
	"fmt"

	"github.com/stylizer-ml/stylizer/internal/tensor"
)

// f32 returns the float32 view of a tensor, converting Float16 on the fly.
// Everything else is an error: the interpreter computes in float32.
func f32(t *tensor.RawTensor) ([]float32, error) {
	switch t.DType() {
	case tensor.Float32:
		return t.AsFloat32(), nil
	case tensor.Float16:
		return t.Float32Values()
	default:
		return nil, fmt.Errorf("expected float tensor, got %s", t.DType())
	}
}

// newF32 allocates a float32 tensor, panicking only on invalid shapes,
// which handlers validate up front.
func newF32(shape tensor.Shape) (*tensor.RawTensor, error) {
	return tensor.NewRaw(shape, tensor.Float32)
}

// broadcastShapes implements NumPy-style broadcasting rules: align shapes
// from the right; dimensions must match or one of them must be 1.
func broadcastShapes(a, b tensor.Shape) (tensor.Shape, error) {
	n := max(len(a), len(b))
	result := make(tensor.Shape, n)
	for i := 0; i < n; i++ {
		ad, bd := 1, 1
		if idx := len(a) - 1 - i; idx >= 0 {
			ad = a[idx]
		}
		if idx := len(b) - 1 - i; idx >= 0 {
			bd = b[idx]
		}
		switch {
		case ad == bd:
			result[n-1-i] = ad
		case ad == 1:
			result[n-1-i] = bd
		case bd == 1:
			result[n-1-i] = ad
		default:
			return nil, fmt.Errorf("shapes not compatible for broadcasting: %v vs %v", a, b)
		}
	}
	return result, nil
}

// broadcastBinary applies an elementwise binary op with broadcasting.
func broadcastBinary(a, b *tensor.RawTensor, op func(x, y float32) float32) (*tensor.RawTensor, error) {
	ad, err := f32(a)
	if err != nil {
		return nil, err
	}
	bd, err := f32(b)
	if err != nil {
		return nil, err
	}

	outShape, err := broadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		return nil, err
	}
	out, err := newF32(outShape)
	if err != nil {
		return nil, err
	}
	od := out.AsFloat32()

	// Fast path: identical shapes.
	if a.Shape().Equal(b.Shape()) {
		for i := range od {
			od[i] = op(ad[i], bd[i])
		}
		return out, nil
	}

	aStrides := broadcastStrides(a.Shape(), outShape)
	bStrides := broadcastStrides(b.Shape(), outShape)
	outStrides := outShape.ComputeStrides()

	for i := range od {
		ai, bi := 0, 0
		rem := i
		for axis, stride := range outStrides {
			idx := rem / stride
			rem %= stride
			ai += idx * aStrides[axis]
			bi += idx * bStrides[axis]
		}
		od[i] = op(ad[ai], bd[bi])
	}
	return out, nil
}

// broadcastStrides computes input strides aligned to the output rank, with
// zero strides on broadcast axes.
func broadcastStrides(in, out tensor.Shape) []int {
	strides := make([]int, len(out))
	inStrides := in.ComputeStrides()
	offset := len(out) - len(in)
	for i := range out {
		j := i - offset
		if j < 0 || in[j] == 1 && out[i] != 1 {
			strides[i] = 0
			continue
		}
		strides[i] = inStrides[j]
	}
	return strides
}

// unary applies an elementwise unary op.
func unary(t *tensor.RawTensor, op func(x float32) float32) (*tensor.RawTensor, error) {
	in, err := f32(t)
	if err != nil {
		return nil, err
	}
	out, err := newF32(t.Shape())
	if err != nil {
		return nil, err
	}
	od := out.AsFloat32()
	for i := range od {
		od[i] = op(in[i])
	}
	return out, nil
}

// wantInputs checks the resolved input count.
func wantInputs(inputs []*tensor.RawTensor, n int) error {
	if len(inputs) < n {
		return fmt.Errorf("requires %d inputs, got %d", n, len(inputs))
	}
	for i := 0; i < n; i++ {
		if inputs[i] == nil {
			return fmt.Errorf("input %d not connected", i)
		}
	}
	return nil
}
