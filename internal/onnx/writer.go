package onnx

import (
	"encoding/binary"
	"math"
)

// Marshal serializes a ModelProto into protobuf wire format.
// Fields are emitted in ascending field-number order with stable repeated
// ordering, so identical models marshal to byte-identical output.
func Marshal(m *ModelProto) []byte {
	w := &writer{}
	w.varintField(1, m.IRVersion)
	w.stringField(2, m.ProducerName)
	w.stringField(3, m.ProducerVersion)
	w.stringField(4, m.Domain)
	w.varintField(5, m.ModelVersion)
	w.stringField(6, m.DocString)
	if m.Graph != nil {
		w.messageField(7, marshalGraph(m.Graph))
	}
	for i := range m.OpsetImport {
		w.messageField(8, marshalOpset(&m.OpsetImport[i]))
	}
	for i := range m.MetadataProps {
		w.messageField(14, marshalStringEntry(&m.MetadataProps[i]))
	}
	return w.buf
}

func marshalGraph(g *GraphProto) []byte {
	w := &writer{}
	for i := range g.Nodes {
		w.messageField(1, marshalNode(&g.Nodes[i]))
	}
	w.stringField(2, g.Name)
	for i := range g.Initializers {
		w.messageField(5, marshalTensor(&g.Initializers[i]))
	}
	for i := range g.Inputs {
		w.messageField(11, marshalValueInfo(&g.Inputs[i]))
	}
	for i := range g.Outputs {
		w.messageField(12, marshalValueInfo(&g.Outputs[i]))
	}
	return w.buf
}

func marshalNode(n *NodeProto) []byte {
	w := &writer{}
	for _, in := range n.Inputs {
		w.stringFieldAlways(1, in)
	}
	for _, out := range n.Outputs {
		w.stringFieldAlways(2, out)
	}
	w.stringField(3, n.Name)
	w.stringField(4, n.OpType)
	for i := range n.Attributes {
		w.messageField(5, marshalAttribute(&n.Attributes[i]))
	}
	w.stringField(7, n.Domain)
	return w.buf
}

func marshalTensor(t *TensorProto) []byte {
	w := &writer{}
	if len(t.Dims) > 0 {
		dims := &writer{}
		for _, d := range t.Dims {
			dims.varint(d)
		}
		w.bytesField(1, dims.buf) // packed
	}
	w.varintField(2, int64(t.DataType))
	if len(t.FloatData) > 0 {
		packed := &writer{}
		for _, f := range t.FloatData {
			packed.fixed32(math.Float32bits(f))
		}
		w.bytesField(4, packed.buf)
	}
	if len(t.Int32Data) > 0 {
		packed := &writer{}
		for _, v := range t.Int32Data {
			packed.varint(int64(v))
		}
		w.bytesField(5, packed.buf)
	}
	if len(t.Int64Data) > 0 {
		packed := &writer{}
		for _, v := range t.Int64Data {
			packed.varint(v)
		}
		w.bytesField(7, packed.buf)
	}
	w.stringField(8, t.Name)
	if len(t.RawData) > 0 {
		w.bytesField(9, t.RawData)
	}
	return w.buf
}

func marshalValueInfo(v *ValueInfoProto) []byte {
	w := &writer{}
	w.stringField(1, v.Name)
	if v.Type != nil && v.Type.TensorType != nil {
		tt := &writer{}
		tt.varintField(1, int64(v.Type.TensorType.ElemType))
		if v.Type.TensorType.Shape != nil {
			shape := &writer{}
			for i := range v.Type.TensorType.Shape.Dims {
				dim := &v.Type.TensorType.Shape.Dims[i]
				dw := &writer{}
				if dim.DimParam != "" {
					dw.stringField(2, dim.DimParam)
				} else {
					dw.varintField(1, dim.DimValue)
				}
				shape.messageField(1, dw.buf)
			}
			tt.messageField(2, shape.buf)
		}
		typeMsg := &writer{}
		typeMsg.messageField(1, tt.buf)
		w.messageField(2, typeMsg.buf)
	}
	return w.buf
}

func marshalAttribute(a *AttributeProto) []byte {
	w := &writer{}
	w.stringField(1, a.Name)
	switch a.Type {
	case AttributeProtoFloat:
		w.tag(2, wire32Bit)
		w.fixed32(math.Float32bits(a.F))
	case AttributeProtoInt:
		w.varintField(3, a.I)
	case AttributeProtoString:
		w.bytesField(4, a.S)
	case AttributeProtoTensor:
		if a.T != nil {
			w.messageField(5, marshalTensor(a.T))
		}
	case AttributeProtoFloats:
		packed := &writer{}
		for _, f := range a.Floats {
			packed.fixed32(math.Float32bits(f))
		}
		w.bytesField(6, packed.buf)
	case AttributeProtoInts:
		packed := &writer{}
		for _, v := range a.Ints {
			packed.varint(v)
		}
		w.bytesField(7, packed.buf)
	case AttributeProtoStrings:
		for _, s := range a.Strings {
			w.bytesField(8, s)
		}
	}
	w.varintField(20, int64(a.Type))
	return w.buf
}

func marshalOpset(o *OperatorSetID) []byte {
	w := &writer{}
	w.stringFieldAlways(1, o.Domain)
	w.varintField(2, o.Version)
	return w.buf
}

func marshalStringEntry(e *StringStringEntry) []byte {
	w := &writer{}
	w.stringField(1, e.Key)
	w.stringField(2, e.Value)
	return w.buf
}

// writer accumulates protobuf wire format output.
type writer struct {
	buf []byte
}

func (w *writer) tag(fieldNum, wireType int) {
	w.varint(int64(fieldNum<<3 | wireType))
}

func (w *writer) varint(v int64) {
	u := uint64(v) //nolint:gosec // G115: two's complement varint encoding.
	for u >= 0x80 {
		w.buf = append(w.buf, byte(u)|0x80)
		u >>= 7
	}
	w.buf = append(w.buf, byte(u))
}

func (w *writer) fixed32(bits uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, bits)
}

// varintField emits tag+varint, skipping zero values (proto3 default).
func (w *writer) varintField(fieldNum int, v int64) {
	if v == 0 {
		return
	}
	w.tag(fieldNum, wireVarint)
	w.varint(v)
}

// bytesField emits tag+length+payload, skipping empty payloads.
func (w *writer) bytesField(fieldNum int, data []byte) {
	if len(data) == 0 {
		return
	}
	w.tag(fieldNum, wireBytes)
	w.varint(int64(len(data)))
	w.buf = append(w.buf, data...)
}

// stringField emits a string field, skipping empty strings.
func (w *writer) stringField(fieldNum int, s string) {
	if s == "" {
		return
	}
	w.stringFieldAlways(fieldNum, s)
}

// stringFieldAlways emits a string field even when empty. Needed for
// positional repeated strings such as node input slots, where an empty
// entry means "optional input not connected".
func (w *writer) stringFieldAlways(fieldNum int, s string) {
	w.tag(fieldNum, wireBytes)
	w.varint(int64(len(s)))
	w.buf = append(w.buf, s...)
}

// messageField emits an embedded message, including empty ones: an empty
// sub-message is still semantically present (e.g. a default opset entry).
func (w *writer) messageField(fieldNum int, data []byte) {
	w.tag(fieldNum, wireBytes)
	w.varint(int64(len(data)))
	w.buf = append(w.buf, data...)
}