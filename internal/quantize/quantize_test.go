package quantize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stylizer-ml/stylizer/internal/engine"
	"github.com/stylizer-ml/stylizer/internal/graph"
	"github.com/stylizer-ml/stylizer/internal/tensor"
)

func ft(t *testing.T, values []float32, shape ...int) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromFloat32(values, tensor.Shape(shape))
	require.NoError(t, err)
	return r
}

func weights(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i%7) - 3
	}
	return out
}

// gemmGraph builds x -> Gemm(w) -> y with a quantizable weight matrix.
func gemmGraph(t *testing.T) *graph.Graph {
	g := graph.New("gemm", 13)
	g.Inputs = []graph.ValueInfo{{Name: "x", Shape: tensor.Shape{1, 8}, DType: tensor.Float32}}
	g.Outputs = []graph.ValueInfo{{Name: "y", Shape: tensor.Shape{1, 8}, DType: tensor.Float32}}
	g.AddInit("w", ft(t, weights(64), 8, 8))
	g.AddInit("small", ft(t, []float32{1, 2}, 2)) // below the size threshold
	g.AddNode(&graph.Node{Kind: graph.OpGemm, Name: "gemm",
		Inputs: []string{"x", "w"}, Outputs: []string{"y"}})
	return g
}

// convGraph builds a minimal graph containing a Conv node.
func convGraph(t *testing.T) *graph.Graph {
	g := graph.New("conv", 13)
	g.Inputs = []graph.ValueInfo{{Name: "x", Shape: tensor.Shape{1, 1, 4, 4}, DType: tensor.Float32}}
	g.Outputs = []graph.ValueInfo{{Name: "y", Shape: tensor.Shape{1, 1, 4, 4}, DType: tensor.Float32}}
	g.AddInit("w", ft(t, weights(9), 1, 1, 3, 3))
	conv := &graph.Node{Kind: graph.OpConv, Name: "conv",
		Inputs: []string{"x", "w"}, Outputs: []string{"y"}}
	conv.SetAttr("kernel_shape", graph.IntsAttr([]int64{3, 3}))
	conv.SetAttr("pads", graph.IntsAttr([]int64{1, 1, 1, 1}))
	g.AddNode(conv)
	return g
}

func TestParsePrecision(t *testing.T) {
	p, err := ParsePrecision("fp16")
	require.NoError(t, err)
	assert.Equal(t, FP16, p)

	p, err = ParsePrecision("")
	require.NoError(t, err)
	assert.Equal(t, FP32, p)

	_, err = ParsePrecision("fp8")
	assert.Error(t, err)
}

func TestQuantize_FP32Identity(t *testing.T) {
	g := gemmGraph(t)
	out, err := Quantize(g, FP32)
	require.NoError(t, err)
	assert.True(t, graph.Equal(g, out))
}

func TestQuantize_FP16(t *testing.T) {
	g := gemmGraph(t)
	out, err := Quantize(g, FP16)
	require.NoError(t, err)
	require.NoError(t, graph.Validate(out))

	// Input untouched.
	assert.Equal(t, tensor.Float32, g.Init("w").DType())

	// The large weight is now half precision, fed through a Cast.
	half := out.Init("w_fp16")
	require.NotNil(t, half)
	assert.Equal(t, tensor.Float16, half.DType())
	assert.False(t, out.HasInit("w"))

	require.Equal(t, graph.OpCast, out.Nodes[0].Kind)
	assert.Equal(t, []string{"w_fp16"}, out.Nodes[0].Inputs)
	assert.Equal(t, []string{"w"}, out.Nodes[0].Outputs)

	// Small initializers are left alone.
	assert.Equal(t, tensor.Float32, out.Init("small").DType())
}

func TestQuantize_FP16_Executable(t *testing.T) {
	g := gemmGraph(t)
	out, err := Quantize(g, FP16)
	require.NoError(t, err)

	eng := engine.New()
	feed := map[string]*tensor.RawTensor{"x": ft(t, weights(8), 1, 8)}
	want, err := eng.Run(g, feed)
	require.NoError(t, err)
	got, err := eng.Run(out, feed)
	require.NoError(t, err)

	wf := want["y"].AsFloat32()
	gf := got["y"].AsFloat32()
	for i := range wf {
		// Integer-valued weights survive the fp16 round trip exactly.
		assert.Equal(t, wf[i], gf[i])
	}
}

func TestQuantize_INT8_RejectsConv(t *testing.T) {
	g := convGraph(t)
	out, err := Quantize(g, INT8)

	assert.Nil(t, out, "no rewrite may happen before the rejection")
	var pErr *UnsupportedPrecisionError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, INT8, pErr.Precision)
	assert.Equal(t, graph.OpConv, pErr.Op)

	// Input untouched by the failed attempt.
	assert.Equal(t, tensor.Float32, g.Init("w").DType())
}

func TestQuantize_INT8(t *testing.T) {
	g := gemmGraph(t)
	out, err := Quantize(g, INT8)
	require.NoError(t, err)
	require.NoError(t, graph.Validate(out))

	q := out.Init("w_q8")
	require.NotNil(t, q)
	assert.Equal(t, tensor.Uint8, q.DType())
	require.NotNil(t, out.Init("w_q8_scale"))
	require.NotNil(t, out.Init("w_q8_zero"))
	assert.Equal(t, uint8(128), out.Init("w_q8_zero").AsUint8()[0])

	require.Equal(t, graph.OpDequantizeLinear, out.Nodes[0].Kind)
	assert.Equal(t, []string{"w"}, out.Nodes[0].Outputs)
}

func TestQuantize_INT8_Accuracy(t *testing.T) {
	g := gemmGraph(t)
	out, err := Quantize(g, INT8)
	require.NoError(t, err)

	eng := engine.New()
	feed := map[string]*tensor.RawTensor{"x": ft(t, weights(8), 1, 8)}
	want, err := eng.Run(g, feed)
	require.NoError(t, err)
	got, err := eng.Run(out, feed)
	require.NoError(t, err)

	// Weights span [-3, 3]; the quantization step is maxabs/127.
	step := 3.0 / 127
	wf := want["y"].AsFloat32()
	gf := got["y"].AsFloat32()
	for i := range wf {
		assert.InDelta(t, float64(wf[i]), float64(gf[i]), step*8*4)
	}
}
