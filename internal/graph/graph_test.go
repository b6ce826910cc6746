package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stylizer-ml/stylizer/internal/tensor"
)

func valueInfo(name string, shape ...int) ValueInfo {
	return ValueInfo{Name: name, Shape: tensor.Shape(shape), DType: tensor.Float32}
}

func initTensor(t *testing.T, values []float32, shape ...int) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromFloat32(values, tensor.Shape(shape))
	require.NoError(t, err)
	return r
}

// reluChain builds input -> Relu -> Add(bias) -> output.
func reluChain(t *testing.T) *Graph {
	g := New("chain", 13)
	g.Inputs = []ValueInfo{valueInfo("input", 1, 4)}
	g.Outputs = []ValueInfo{valueInfo("output", 1, 4)}
	g.AddInit("bias", initTensor(t, []float32{1, 1, 1, 1}, 1, 4))
	g.AddNode(&Node{Kind: OpRelu, Name: "relu", Inputs: []string{"input"}, Outputs: []string{"mid"}})
	g.AddNode(&Node{Kind: OpAdd, Name: "add", Inputs: []string{"mid", "bias"}, Outputs: []string{"output"}})
	return g
}

func TestValidate_OK(t *testing.T) {
	assert.NoError(t, Validate(reluChain(t)))
}

func TestValidate_UnknownOp(t *testing.T) {
	g := reluChain(t)
	g.Nodes[0].Kind = "custom_op_v99"

	err := Validate(g)
	require.Error(t, err)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Error(), "custom_op_v99")
}

func TestValidate_UndefinedInput(t *testing.T) {
	g := reluChain(t)
	g.Nodes[0].Inputs[0] = "missing"
	assert.Error(t, Validate(g))
}

func TestValidate_DoubleAssignment(t *testing.T) {
	g := reluChain(t)
	g.Nodes[1].Outputs[0] = "mid"
	assert.Error(t, Validate(g), "a value may be produced only once")
}

func TestValidate_UnresolvedOutput(t *testing.T) {
	g := reluChain(t)
	g.Outputs[0].Name = "nowhere"
	assert.Error(t, Validate(g))
}

func TestValidate_OptionalInputSkipped(t *testing.T) {
	g := New("opt", 13)
	g.Inputs = []ValueInfo{valueInfo("x", 1, 4)}
	g.Outputs = []ValueInfo{valueInfo("y", 1, 4)}
	g.AddNode(&Node{Kind: OpClip, Name: "clip", Inputs: []string{"x", "", ""}, Outputs: []string{"y"}})
	assert.NoError(t, Validate(g))
}

func TestClone_Deep(t *testing.T) {
	g := reluChain(t)
	c := g.Clone()

	c.Nodes[0].Inputs[0] = "other"
	c.Init("bias").AsFloat32()[0] = 99
	c.Outputs[0].Name = "renamed"

	assert.Equal(t, "input", g.Nodes[0].Inputs[0])
	assert.Equal(t, float32(1), g.Init("bias").AsFloat32()[0])
	assert.Equal(t, "output", g.Outputs[0].Name)
}

func TestEqual(t *testing.T) {
	a := reluChain(t)
	b := reluChain(t)
	assert.True(t, Equal(a, b))

	// Producer is cosmetic metadata.
	b.Producer = "elsewhere"
	assert.True(t, Equal(a, b))

	b.Nodes[0].Outputs[0] = "changed"
	assert.False(t, Equal(a, b))
}

func TestInitializers(t *testing.T) {
	g := reluChain(t)
	assert.True(t, g.HasInit("bias"))
	assert.False(t, g.HasInit("input"))

	// Replacement keeps position.
	g.AddInit("bias", initTensor(t, []float32{2, 2, 2, 2}, 1, 4))
	assert.Len(t, g.Inits, 1)
	assert.Equal(t, float32(2), g.Init("bias").AsFloat32()[0])

	require.True(t, g.RenameInit("bias", "bias2"))
	assert.False(t, g.HasInit("bias"))
	assert.True(t, g.HasInit("bias2"))

	g.RemoveInit("bias2")
	assert.Empty(t, g.Inits)
}

func TestProducersConsumers(t *testing.T) {
	g := reluChain(t)

	producers := g.Producers()
	assert.Equal(t, 0, producers["mid"])
	assert.Equal(t, 1, producers["output"])

	consumers := g.Consumers()
	assert.Equal(t, []int{1}, consumers["mid"])
	assert.Equal(t, []int{0}, consumers["input"])
}

func TestAttrValue(t *testing.T) {
	a := IntsAttr([]int64{1, 2})
	b := a.Clone()
	b.Ints()[0] = 9
	assert.Equal(t, int64(1), a.Ints()[0], "clone shares no storage")

	assert.True(t, IntAttr(3).Equal(IntAttr(3)))
	assert.False(t, IntAttr(3).Equal(FloatAttr(3)))
}

func TestKindOf(t *testing.T) {
	k, ok := KindOf("Conv")
	assert.True(t, ok)
	assert.Equal(t, OpConv, k)

	_, ok = KindOf("custom_op_v99")
	assert.False(t, ok)
}
