package onnx

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stylizer-ml/stylizer/internal/graph"
	"github.com/stylizer-ml/stylizer/internal/tensor"
)

func floatInit(t *testing.T, values []float32, shape ...int) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromFloat32(values, tensor.Shape(shape))
	require.NoError(t, err)
	return r
}

// convRelu builds input -> Conv(weight, bias) -> Relu -> output.
func convRelu(t *testing.T) *graph.Graph {
	g := graph.New("conv_relu", 13)
	g.Inputs = []graph.ValueInfo{{Name: "input", Shape: tensor.Shape{1, 1, 4, 4}, DType: tensor.Float32}}
	g.Outputs = []graph.ValueInfo{{Name: "output", Shape: tensor.Shape{1, 1, 4, 4}, DType: tensor.Float32}}
	g.AddInit("weight", floatInit(t, []float32{0, 1, 0, 1, -4, 1, 0, 1, 0}, 1, 1, 3, 3))
	g.AddInit("bias", floatInit(t, []float32{0.5}, 1))

	conv := &graph.Node{Kind: graph.OpConv, Name: "conv",
		Inputs: []string{"input", "weight", "bias"}, Outputs: []string{"mid"}}
	conv.SetAttr("kernel_shape", graph.IntsAttr([]int64{3, 3}))
	conv.SetAttr("pads", graph.IntsAttr([]int64{1, 1, 1, 1}))
	conv.SetAttr("strides", graph.IntsAttr([]int64{1, 1}))
	g.AddNode(conv)
	g.AddNode(&graph.Node{Kind: graph.OpRelu, Name: "relu",
		Inputs: []string{"mid"}, Outputs: []string{"output"}})
	return g
}

func TestRoundTrip(t *testing.T) {
	g := convRelu(t)

	data, err := Encode(g)
	require.NoError(t, err)

	back, err := Decode(data)
	require.NoError(t, err)

	assert.True(t, graph.Equal(g, back), "decode(encode(g)) must equal g")
}

func TestRoundTrip_Deterministic(t *testing.T) {
	g := convRelu(t)

	a, err := Encode(g)
	require.NoError(t, err)
	b, err := Encode(g.Clone())
	require.NoError(t, err)

	assert.Equal(t, a, b, "encoding must be byte-stable")
}

func TestRoundTrip_DynamicBatch(t *testing.T) {
	g := graph.New("dyn", 13)
	g.Inputs = []graph.ValueInfo{{Name: "x", Shape: tensor.Shape{1, 3, 8, 8}, DType: tensor.Float32, BatchDynamic: true}}
	g.Outputs = []graph.ValueInfo{{Name: "y", Shape: tensor.Shape{1, 3, 8, 8}, DType: tensor.Float32, BatchDynamic: true}}
	g.AddNode(&graph.Node{Kind: graph.OpRelu, Name: "relu", Inputs: []string{"x"}, Outputs: []string{"y"}})

	data, err := Encode(g)
	require.NoError(t, err)
	back, err := Decode(data)
	require.NoError(t, err)

	require.Len(t, back.Inputs, 1)
	assert.True(t, back.Inputs[0].BatchDynamic)
	assert.True(t, graph.Equal(g, back))
}

func TestDecode_Empty(t *testing.T) {
	_, err := Decode(nil)
	var fe *FormatError
	assert.ErrorAs(t, err, &fe)
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode([]byte{0xff, 0xff, 0xff, 0xff})
	var fe *FormatError
	assert.ErrorAs(t, err, &fe)
}

func TestDecode_NoGraph(t *testing.T) {
	data := Marshal(&ModelProto{IRVersion: 8})
	_, err := Decode(data)
	var fe *FormatError
	assert.ErrorAs(t, err, &fe)
}

func TestDecode_OpsetTooNew(t *testing.T) {
	g := convRelu(t)
	g.OpsetVersion = MaxOpsetVersion + 1

	data, err := Encode(g)
	require.NoError(t, err)
	_, err = Decode(data)

	var ve *UnsupportedVersionError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, int64(MaxOpsetVersion+1), ve.Version)
}

func TestDecode_OpsetTooOld(t *testing.T) {
	g := convRelu(t)
	g.OpsetVersion = MinOpsetVersion - 1

	data, err := Encode(g)
	require.NoError(t, err)
	_, err = Decode(data)

	var ve *UnsupportedVersionError
	assert.ErrorAs(t, err, &ve)
}

func TestDecode_UnknownOperator(t *testing.T) {
	data := Marshal(&ModelProto{
		IRVersion:   8,
		OpsetImport: []OperatorSetID{{Version: 13}},
		Graph: &GraphProto{
			Name: "custom",
			Nodes: []NodeProto{{
				OpType:  "custom_op_v99",
				Inputs:  []string{"x"},
				Outputs: []string{"y"},
			}},
			Inputs:  []ValueInfoProto{staticValueInfo("x", 1, 4)},
			Outputs: []ValueInfoProto{staticValueInfo("y", 1, 4)},
		},
	})

	_, err := Decode(data)
	var opErr *graph.UnsupportedOpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "custom_op_v99", opErr.Op)
}

func TestDecode_SymbolicSpatialDim(t *testing.T) {
	vi := staticValueInfo("x", 1, 3)
	vi.Type.TensorType.Shape.Dims = append(vi.Type.TensorType.Shape.Dims,
		DimensionProto{DimParam: "height"})

	data := Marshal(&ModelProto{
		IRVersion:   8,
		OpsetImport: []OperatorSetID{{Version: 13}},
		Graph: &GraphProto{
			Name:    "sym",
			Nodes:   []NodeProto{{OpType: "Relu", Inputs: []string{"x"}, Outputs: []string{"y"}}},
			Inputs:  []ValueInfoProto{vi},
			Outputs: []ValueInfoProto{staticValueInfo("y", 1, 3, 8)},
		},
	})

	_, err := Decode(data)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Error(), "symbolic")
}

func TestDecode_DynamicBatchParam(t *testing.T) {
	vi := ValueInfoProto{Name: "x", Type: &TypeProto{TensorType: &TensorTypeProto{
		ElemType: TensorProtoFloat,
		Shape: &TensorShapeProto{Dims: []DimensionProto{
			{DimParam: "batch_size"}, {DimValue: 3}, {DimValue: 8}, {DimValue: 8},
		}},
	}}}
	out := staticValueInfo("y", 1, 3, 8, 8)

	data := Marshal(&ModelProto{
		IRVersion:   8,
		OpsetImport: []OperatorSetID{{Version: 13}},
		Graph: &GraphProto{
			Name:    "dyn",
			Nodes:   []NodeProto{{OpType: "Relu", Inputs: []string{"x"}, Outputs: []string{"y"}}},
			Inputs:  []ValueInfoProto{vi},
			Outputs: []ValueInfoProto{out},
		},
	})

	g, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, g.Inputs, 1)
	assert.True(t, g.Inputs[0].BatchDynamic)
	assert.Equal(t, tensor.Shape{1, 3, 8, 8}, g.Inputs[0].Shape)
}

func TestDecode_LegacyFloatData(t *testing.T) {
	// Older exporters use the typed float_data field instead of raw bytes.
	data := Marshal(&ModelProto{
		IRVersion:   8,
		OpsetImport: []OperatorSetID{{Version: 13}},
		Graph: &GraphProto{
			Name: "legacy",
			Initializers: []TensorProto{{
				Name: "w", DataType: TensorProtoFloat, Dims: []int64{2},
				FloatData: []float32{1.5, -2.5},
			}},
			Nodes: []NodeProto{{OpType: "Add",
				Inputs: []string{"x", "w"}, Outputs: []string{"y"}}},
			Inputs:  []ValueInfoProto{staticValueInfo("x", 2)},
			Outputs: []ValueInfoProto{staticValueInfo("y", 2)},
		},
	})

	g, err := Decode(data)
	require.NoError(t, err)
	w := g.Init("w")
	require.NotNil(t, w)
	assert.Equal(t, []float32{1.5, -2.5}, w.AsFloat32())
}

func TestInspect_WorksOnRejectedModels(t *testing.T) {
	data := Marshal(&ModelProto{
		IRVersion:       8,
		ProducerName:    "pytorch",
		ProducerVersion: "2.1",
		OpsetImport:     []OperatorSetID{{Version: 99}},
		Graph: &GraphProto{
			Name:    "future",
			Nodes:   []NodeProto{{OpType: "SomeFutureOp", Inputs: []string{"x"}, Outputs: []string{"y"}}},
			Inputs:  []ValueInfoProto{staticValueInfo("x", 1)},
			Outputs: []ValueInfoProto{staticValueInfo("y", 1)},
		},
	})

	_, err := Decode(data)
	require.Error(t, err)

	info, err := Inspect(data)
	require.NoError(t, err)
	assert.Equal(t, int64(99), info.OpsetVersion)
	assert.Equal(t, "pytorch", info.ProducerName)
	assert.Equal(t, []string{"SomeFutureOp"}, info.Operators)
	assert.Equal(t, 1, info.NodeCount)
}

func TestAttributeTensorRoundTrip(t *testing.T) {
	g := graph.New("const", 13)
	g.Outputs = []graph.ValueInfo{{Name: "c", Shape: tensor.Shape{2}, DType: tensor.Float32}}
	node := &graph.Node{Kind: graph.OpConstant, Name: "constant", Outputs: []string{"c"}}
	node.SetAttr("value", graph.TensorAttr(floatInit(t, []float32{float32(math.Pi), 2}, 2)))
	g.AddNode(node)

	data, err := Encode(g)
	require.NoError(t, err)
	back, err := Decode(data)
	require.NoError(t, err)

	v, ok := back.Nodes[0].Attr("value")
	require.True(t, ok)
	require.Equal(t, graph.AttrTensor, v.Kind())
	assert.Equal(t, []float32{float32(math.Pi), 2}, v.Tensor().AsFloat32())
}

func staticValueInfo(name string, dims ...int64) ValueInfoProto {
	shape := &TensorShapeProto{}
	for _, d := range dims {
		shape.Dims = append(shape.Dims, DimensionProto{DimValue: d})
	}
	return ValueInfoProto{Name: name, Type: &TypeProto{TensorType: &TensorTypeProto{
		ElemType: TensorProtoFloat,
		Shape:    shape,
	}}}
}
