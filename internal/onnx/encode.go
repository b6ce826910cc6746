package onnx

import (
	"fmt"
	"sort"

	"github.com/stylizer-ml/stylizer/internal/graph"
	"github.com/stylizer-ml/stylizer/internal/tensor"
)

// Producer metadata stamped into exported models.
const (
	producerName    = "stylizer"
	producerVersion = "1.0"
)

// Encode serializes the IR back into model bytes. Deterministic: structurally
// equal graphs encode to byte-identical output, and Decode(Encode(g)) is
// structurally equal to g.
func Encode(g *graph.Graph) ([]byte, error) {
	gp := &GraphProto{Name: g.Name}

	for _, n := range g.Nodes {
		np, err := nodeToProto(n)
		if err != nil {
			return nil, err
		}
		gp.Nodes = append(gp.Nodes, np)
	}
	for _, init := range g.Inits {
		gp.Initializers = append(gp.Initializers, tensorToProto(init.Name, init.Tensor))
	}
	for _, in := range g.Inputs {
		gp.Inputs = append(gp.Inputs, valueInfoToProto(in))
	}
	for _, out := range g.Outputs {
		gp.Outputs = append(gp.Outputs, valueInfoToProto(out))
	}

	model := &ModelProto{
		IRVersion:       8,
		ProducerName:    producerName,
		ProducerVersion: producerVersion,
		Graph:           gp,
		OpsetImport:     []OperatorSetID{{Domain: "", Version: g.OpsetVersion}},
	}
	return Marshal(model), nil
}

func nodeToProto(n *graph.Node) (NodeProto, error) {
	np := NodeProto{
		Name:    n.Name,
		OpType:  string(n.Kind),
		Inputs:  append([]string(nil), n.Inputs...),
		Outputs: append([]string(nil), n.Outputs...),
	}
	for _, name := range sortedAttrNames(n) {
		ap, err := attrToProto(name, n.Attrs[name])
		if err != nil {
			return np, fmt.Errorf("node %q attribute %q: %w", n.Name, name, err)
		}
		np.Attributes = append(np.Attributes, ap)
	}
	return np, nil
}

// sortedAttrNames gives attributes a stable encoding order.
func sortedAttrNames(n *graph.Node) []string {
	names := make([]string, 0, len(n.Attrs))
	for name := range n.Attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func attrToProto(name string, v graph.AttrValue) (AttributeProto, error) {
	ap := AttributeProto{Name: name}
	switch v.Kind() {
	case graph.AttrFloat:
		ap.Type = AttributeProtoFloat
		ap.F = v.Float()
	case graph.AttrInt:
		ap.Type = AttributeProtoInt
		ap.I = v.Int()
	case graph.AttrString:
		ap.Type = AttributeProtoString
		ap.S = []byte(v.Str())
	case graph.AttrTensor:
		ap.Type = AttributeProtoTensor
		t := tensorToProto("", v.Tensor())
		ap.T = &t
	case graph.AttrFloats:
		ap.Type = AttributeProtoFloats
		ap.Floats = v.Floats()
	case graph.AttrInts:
		ap.Type = AttributeProtoInts
		ap.Ints = v.Ints()
	case graph.AttrStrings:
		ap.Type = AttributeProtoStrings
		for _, s := range v.Strings() {
			ap.Strings = append(ap.Strings, []byte(s))
		}
	default:
		return ap, fmt.Errorf("unsupported attribute kind %s", v.Kind())
	}
	return ap, nil
}

func tensorToProto(name string, t *tensor.RawTensor) TensorProto {
	tp := TensorProto{
		Name:     name,
		DataType: dataTypeToProto(t.DType()),
	}
	for _, d := range t.Shape() {
		tp.Dims = append(tp.Dims, int64(d))
	}
	tp.RawData = append([]byte(nil), t.Data()...)
	return tp
}

func valueInfoToProto(vi graph.ValueInfo) ValueInfoProto {
	shape := &TensorShapeProto{}
	for i, d := range vi.Shape {
		if i == 0 && vi.BatchDynamic {
			shape.Dims = append(shape.Dims, DimensionProto{DimParam: "batch_size"})
			continue
		}
		shape.Dims = append(shape.Dims, DimensionProto{DimValue: int64(d)})
	}
	return ValueInfoProto{
		Name: vi.Name,
		Type: &TypeProto{
			TensorType: &TensorTypeProto{
				ElemType: dataTypeToProto(vi.DType),
				Shape:    shape,
			},
		},
	}
}
