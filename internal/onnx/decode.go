// Package onnx implements the on-disk graph format: a hand-written protobuf
// wire codec plus the mapping between the serialized form and the IR.
package onnx

import (
	"fmt"

	"github.com/stylizer-ml/stylizer/internal/graph"
	"github.com/stylizer-ml/stylizer/internal/tensor"
)

// Supported opset window. Models outside it are rejected up front: the
// target runtime has no shape-inference or fallback path of its own.
const (
	MinOpsetVersion = 7
	MaxOpsetVersion = 19
)

// Decode parses serialized model bytes into the IR.
//
// Failure modes:
//   - *FormatError for malformed bytes, a missing graph, unsupported tensor
//     element types, or symbolic dimensions beyond the leading batch axis;
//   - *UnsupportedVersionError for an opset outside the supported window;
//   - *graph.UnsupportedOpError naming the first operator with no IR mapping.
func Decode(data []byte) (*graph.Graph, error) {
	if len(data) == 0 {
		return nil, &FormatError{Detail: "empty input"}
	}
	proto, err := Parse(data)
	if err != nil {
		return nil, &FormatError{Detail: "protobuf decode failed", Cause: err}
	}
	if proto.Graph == nil {
		return nil, &FormatError{Detail: "model has no graph"}
	}

	opset := opsetVersion(proto)
	if opset < MinOpsetVersion || opset > MaxOpsetVersion {
		return nil, &UnsupportedVersionError{Version: opset, Min: MinOpsetVersion, Max: MaxOpsetVersion}
	}

	g := graph.New(proto.Graph.Name, opset)
	g.Producer = proto.ProducerName

	for i := range proto.Graph.Initializers {
		init := &proto.Graph.Initializers[i]
		t, err := tensorFromProto(init)
		if err != nil {
			return nil, &FormatError{Detail: fmt.Sprintf("initializer %q", init.Name), Cause: err}
		}
		g.AddInit(init.Name, t)
	}

	// Graph inputs exclude initializer-backed names: those are weights with
	// default values, not runtime-fed inputs.
	for i := range proto.Graph.Inputs {
		in := &proto.Graph.Inputs[i]
		if g.HasInit(in.Name) {
			continue
		}
		vi, err := valueInfoFromProto(in)
		if err != nil {
			return nil, err
		}
		g.Inputs = append(g.Inputs, vi)
	}
	for i := range proto.Graph.Outputs {
		out := &proto.Graph.Outputs[i]
		vi, err := valueInfoFromProto(out)
		if err != nil {
			return nil, err
		}
		g.Outputs = append(g.Outputs, vi)
	}

	for i := range proto.Graph.Nodes {
		np := &proto.Graph.Nodes[i]
		kind, ok := graph.KindOf(np.OpType)
		if !ok {
			return nil, &graph.UnsupportedOpError{Op: np.OpType}
		}
		n := &graph.Node{
			Kind:    kind,
			Name:    np.Name,
			Inputs:  append([]string(nil), np.Inputs...),
			Outputs: append([]string(nil), np.Outputs...),
		}
		for j := range np.Attributes {
			ap := &np.Attributes[j]
			av, err := attrFromProto(ap)
			if err != nil {
				return nil, &FormatError{Detail: fmt.Sprintf("node %q attribute %q", np.Name, ap.Name), Cause: err}
			}
			n.SetAttr(ap.Name, av)
		}
		g.AddNode(n)
	}

	if err := graph.Validate(g); err != nil {
		return nil, &FormatError{Detail: "graph invariant violated", Cause: err}
	}
	return g, nil
}

// Info holds light model metadata extracted without building the IR.
type Info struct {
	IRVersion       int64
	OpsetVersion    int64
	ProducerName    string
	ProducerVersion string
	GraphName       string
	InputNames      []string
	OutputNames     []string
	NodeCount       int
	WeightCount     int
	Operators       []string
}

// Inspect extracts metadata from serialized model bytes without vocabulary
// or shape checks, so it also works on models the converter would reject.
func Inspect(data []byte) (*Info, error) {
	proto, err := Parse(data)
	if err != nil {
		return nil, &FormatError{Detail: "protobuf decode failed", Cause: err}
	}
	info := &Info{
		IRVersion:       proto.IRVersion,
		OpsetVersion:    opsetVersion(proto),
		ProducerName:    proto.ProducerName,
		ProducerVersion: proto.ProducerVersion,
	}
	if proto.Graph == nil {
		return info, nil
	}
	info.GraphName = proto.Graph.Name
	initNames := make(map[string]bool, len(proto.Graph.Initializers))
	for i := range proto.Graph.Initializers {
		initNames[proto.Graph.Initializers[i].Name] = true
	}
	for i := range proto.Graph.Inputs {
		if !initNames[proto.Graph.Inputs[i].Name] {
			info.InputNames = append(info.InputNames, proto.Graph.Inputs[i].Name)
		}
	}
	for i := range proto.Graph.Outputs {
		info.OutputNames = append(info.OutputNames, proto.Graph.Outputs[i].Name)
	}
	info.NodeCount = len(proto.Graph.Nodes)
	info.WeightCount = len(proto.Graph.Initializers)
	seen := make(map[string]bool)
	for i := range proto.Graph.Nodes {
		op := proto.Graph.Nodes[i].OpType
		if !seen[op] {
			seen[op] = true
			info.Operators = append(info.Operators, op)
		}
	}
	return info, nil
}

func opsetVersion(m *ModelProto) int64 {
	for _, opset := range m.OpsetImport {
		if opset.Domain == "" || opset.Domain == "ai.onnx" {
			return opset.Version
		}
	}
	return 0
}

// valueInfoFromProto converts a declared input/output. Only the leading
// batch axis may be symbolic; anything else must be statically known.
func valueInfoFromProto(vp *ValueInfoProto) (graph.ValueInfo, error) {
	vi := graph.ValueInfo{Name: vp.Name, DType: tensor.Float32}
	if vp.Type == nil || vp.Type.TensorType == nil {
		return vi, &FormatError{Detail: fmt.Sprintf("value %q has no tensor type", vp.Name)}
	}
	tt := vp.Type.TensorType
	dt, ok := dataTypeFromProto(tt.ElemType)
	if !ok {
		return vi, &FormatError{Detail: fmt.Sprintf("value %q has unsupported element type %d", vp.Name, tt.ElemType)}
	}
	vi.DType = dt
	if tt.Shape == nil {
		return vi, &FormatError{Detail: fmt.Sprintf("value %q has no shape", vp.Name)}
	}
	vi.Shape = make(tensor.Shape, len(tt.Shape.Dims))
	for i, dim := range tt.Shape.Dims {
		symbolic := dim.DimParam != "" || dim.DimValue <= 0
		if symbolic {
			if i != 0 {
				return vi, &FormatError{Detail: fmt.Sprintf(
					"value %q has symbolic dimension at axis %d; only the batch axis may be dynamic", vp.Name, i)}
			}
			vi.BatchDynamic = true
			vi.Shape[0] = 1
			continue
		}
		vi.Shape[i] = int(dim.DimValue)
	}
	return vi, nil
}

// tensorFromProto converts a TensorProto into a RawTensor.
func tensorFromProto(tp *TensorProto) (*tensor.RawTensor, error) {
	dt, ok := dataTypeFromProto(tp.DataType)
	if !ok {
		return nil, fmt.Errorf("unsupported tensor element type %d", tp.DataType)
	}
	shape := make(tensor.Shape, len(tp.Dims))
	for i, d := range tp.Dims {
		shape[i] = int(d)
	}
	t, err := tensor.NewRaw(shape, dt)
	if err != nil {
		return nil, err
	}

	// Data fields are mutually exclusive; raw_data is the common case.
	switch {
	case len(tp.RawData) > 0:
		if len(tp.RawData) != t.ByteSize() {
			return nil, fmt.Errorf("raw data size %d does not match shape %v (%d bytes)",
				len(tp.RawData), shape, t.ByteSize())
		}
		copy(t.Data(), tp.RawData)
	case len(tp.FloatData) > 0:
		if dt != tensor.Float32 || len(tp.FloatData) != t.NumElements() {
			return nil, fmt.Errorf("float data length %d does not match %s%v", len(tp.FloatData), dt, shape)
		}
		copy(t.AsFloat32(), tp.FloatData)
	case len(tp.Int32Data) > 0:
		if dt != tensor.Int32 || len(tp.Int32Data) != t.NumElements() {
			return nil, fmt.Errorf("int32 data length %d does not match %s%v", len(tp.Int32Data), dt, shape)
		}
		copy(t.AsInt32(), tp.Int32Data)
	case len(tp.Int64Data) > 0:
		if dt != tensor.Int64 || len(tp.Int64Data) != t.NumElements() {
			return nil, fmt.Errorf("int64 data length %d does not match %s%v", len(tp.Int64Data), dt, shape)
		}
		copy(t.AsInt64(), tp.Int64Data)
	}
	return t, nil
}

// attrFromProto converts one attribute into the tagged variant form.
func attrFromProto(ap *AttributeProto) (graph.AttrValue, error) {
	switch ap.Type {
	case AttributeProtoFloat:
		return graph.FloatAttr(ap.F), nil
	case AttributeProtoInt:
		return graph.IntAttr(ap.I), nil
	case AttributeProtoString:
		return graph.StringAttr(string(ap.S)), nil
	case AttributeProtoTensor:
		if ap.T == nil {
			return graph.AttrValue{}, fmt.Errorf("tensor attribute with no tensor")
		}
		t, err := tensorFromProto(ap.T)
		if err != nil {
			return graph.AttrValue{}, err
		}
		return graph.TensorAttr(t), nil
	case AttributeProtoFloats:
		return graph.FloatsAttr(ap.Floats), nil
	case AttributeProtoInts:
		return graph.IntsAttr(ap.Ints), nil
	case AttributeProtoStrings:
		ss := make([]string, len(ap.Strings))
		for i, b := range ap.Strings {
			ss[i] = string(b)
		}
		return graph.StringsAttr(ss), nil
	default:
		return graph.AttrValue{}, fmt.Errorf("unsupported attribute type %d", ap.Type)
	}
}

func dataTypeFromProto(p int32) (tensor.DataType, bool) {
	switch p {
	case TensorProtoFloat:
		return tensor.Float32, true
	case TensorProtoFloat16:
		return tensor.Float16, true
	case TensorProtoDouble:
		return tensor.Float64, true
	case TensorProtoInt32:
		return tensor.Int32, true
	case TensorProtoInt64:
		return tensor.Int64, true
	case TensorProtoUint8:
		return tensor.Uint8, true
	case TensorProtoBool:
		return tensor.Bool, true
	default:
		return tensor.Float32, false
	}
}

func dataTypeToProto(dt tensor.DataType) int32 {
	switch dt {
	case tensor.Float32:
		return TensorProtoFloat
	case tensor.Float16:
		return TensorProtoFloat16
	case tensor.Float64:
		return TensorProtoDouble
	case tensor.Int32:
		return TensorProtoInt32
	case tensor.Int64:
		return TensorProtoInt64
	case tensor.Uint8:
		return TensorProtoUint8
	case tensor.Bool:
		return TensorProtoBool
	default:
		return TensorProtoUndefined
	}
}
