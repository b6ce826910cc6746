package tensor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFloat32(t *testing.T) {
	r, err := FromFloat32([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	require.NoError(t, err)

	assert.Equal(t, Shape{2, 3}, r.Shape())
	assert.Equal(t, Float32, r.DType())
	assert.Equal(t, 6, r.NumElements())
	assert.Equal(t, 24, r.ByteSize())
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, r.AsFloat32())
}

func TestFromFloat32_ShapeMismatch(t *testing.T) {
	_, err := FromFloat32([]float32{1, 2, 3}, Shape{2, 2})
	assert.Error(t, err)
}

func TestClone_Independent(t *testing.T) {
	r, err := FromFloat32([]float32{1, 2, 3}, Shape{3})
	require.NoError(t, err)

	c := r.Clone()
	c.AsFloat32()[0] = 42

	assert.Equal(t, float32(1), r.AsFloat32()[0])
	assert.Equal(t, float32(42), c.AsFloat32()[0])
}

func TestReshape(t *testing.T) {
	r, err := FromFloat32([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	require.NoError(t, err)

	require.NoError(t, r.Reshape(Shape{3, 2}))
	assert.Equal(t, Shape{3, 2}, r.Shape())

	assert.Error(t, r.Reshape(Shape{4, 2}), "element count must be preserved")
}

func TestFloat16_RoundTrip(t *testing.T) {
	// Values exactly representable in half precision survive unchanged.
	for _, v := range []float32{0, 1, -1, 0.5, 2048, -0.25, 65504} {
		h := Float32ToFloat16(v)
		assert.Equal(t, v, Float16ToFloat32(h), "value %g", v)
	}
}

func TestFloat16_Rounding(t *testing.T) {
	// 1/3 is not representable; the error stays within half precision.
	v := float32(1.0 / 3.0)
	back := Float16ToFloat32(Float32ToFloat16(v))
	assert.InDelta(t, float64(v), float64(back), 1e-3)
}

func TestFloat16_Overflow(t *testing.T) {
	back := Float16ToFloat32(Float32ToFloat16(1e38))
	assert.True(t, math.IsInf(float64(back), 1), "large values saturate to +inf, got %g", back)
}

func TestFloat16_Subnormal(t *testing.T) {
	v := float32(1e-5)
	back := Float16ToFloat32(Float32ToFloat16(v))
	assert.InDelta(t, float64(v), float64(back), 1e-6)
}

func TestFloat32Values_Widening(t *testing.T) {
	i64, err := NewRaw(Shape{2}, Int64)
	require.NoError(t, err)
	copy(i64.AsInt64(), []int64{-3, 7})

	vals, err := i64.Float32Values()
	require.NoError(t, err)
	assert.Equal(t, []float32{-3, 7}, vals)

	f16, err := NewRaw(Shape{1}, Float16)
	require.NoError(t, err)
	f16.AsUint16()[0] = Float32ToFloat16(1.5)

	vals, err = f16.Float32Values()
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5}, vals)

	b, err := NewRaw(Shape{1}, Bool)
	require.NoError(t, err)
	_, err = b.Float32Values()
	assert.Error(t, err)
}

func TestShape_Strides(t *testing.T) {
	s := Shape{2, 3, 4}
	assert.Equal(t, []int{12, 4, 1}, s.ComputeStrides())
	assert.Equal(t, 24, s.NumElements())
}

func TestShape_Validate(t *testing.T) {
	assert.NoError(t, Shape{1, 3, 8, 8}.Validate())
	assert.Error(t, Shape{1, 0, 8}.Validate())
	assert.Error(t, Shape{-1}.Validate())
}
