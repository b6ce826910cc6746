// Package quantize lowers the storage precision of graph weights. It runs
// after the optimization pipeline, as the terminal rewrite, and its result
// is checked by the numeric verifier rather than by pipeline integrity.
package quantize

import (
	"fmt"
	"math"

	"github.com/stylizer-ml/stylizer/internal/graph"
	"github.com/stylizer-ml/stylizer/internal/tensor"
)

// Precision selects the storage width for weight initializers.
type Precision string

const (
	// FP32 leaves the graph untouched.
	FP32 Precision = "fp32"
	// FP16 stores large Float32 initializers as Float16 and casts back at
	// runtime, so the graph stays executable in float32.
	FP16 Precision = "fp16"
	// INT8 stores weights as symmetric 8-bit values restored through
	// DequantizeLinear.
	INT8 Precision = "int8"
)

// ParsePrecision maps a user-supplied string onto a Precision.
func ParsePrecision(s string) (Precision, error) {
	switch Precision(s) {
	case FP32, FP16, INT8:
		return Precision(s), nil
	case "":
		return FP32, nil
	default:
		return "", fmt.Errorf("unknown precision %q", s)
	}
}

// UnsupportedPrecisionError reports a precision the target runtime cannot
// represent for an operator present in the graph.
type UnsupportedPrecisionError struct {
	Precision Precision
	Op        graph.OpKind
}

func (e *UnsupportedPrecisionError) Error() string {
	return fmt.Sprintf("precision %s is not supported for operator %s", e.Precision, e.Op)
}

// minQuantizeElements is the size below which an initializer is not worth
// re-encoding; scalars and small parameter vectors stay float32.
const minQuantizeElements = 16

// Quantize returns a copy of g with weights lowered to the requested
// precision. g is never mutated. The int8 path fails before any rewrite
// when the graph contains Conv, which has no 8-bit kernel representation
// in the target runtime.
func Quantize(g *graph.Graph, p Precision) (*graph.Graph, error) {
	switch p {
	case FP32:
		return g.Clone(), nil
	case FP16:
		return quantizeFP16(g), nil
	case INT8:
		if g.HasOp(graph.OpConv) {
			return nil, &UnsupportedPrecisionError{Precision: INT8, Op: graph.OpConv}
		}
		return quantizeINT8(g)
	default:
		return nil, fmt.Errorf("unknown precision %q", p)
	}
}

// quantizeFP16 re-encodes each large Float32 initializer as Float16 and
// inserts a Cast node restoring float32 for the original consumers.
func quantizeFP16(g *graph.Graph) *graph.Graph {
	out := g.Clone()

	var casts []*graph.Node
	for _, init := range out.Inits {
		t := init.Tensor
		if t.DType() != tensor.Float32 || t.NumElements() < minQuantizeElements {
			continue
		}

		src := t.AsFloat32()
		half, err := tensor.NewRaw(t.Shape(), tensor.Float16)
		if err != nil {
			continue
		}
		bits := half.AsUint16()
		for i, v := range src {
			bits[i] = tensor.Float32ToFloat16(v)
		}

		halfName := init.Name + "_fp16"
		cast := &graph.Node{
			Kind:    graph.OpCast,
			Name:    halfName + "_cast",
			Inputs:  []string{halfName},
			Outputs: []string{init.Name},
		}
		cast.SetAttr("to", graph.IntAttr(1)) // float32

		oldName := init.Name
		init.Tensor = half
		out.RenameInit(oldName, halfName)
		casts = append(casts, cast)
	}
	if len(casts) == 0 {
		return out
	}

	// Cast nodes go first so the topological order is preserved for every
	// consumer downstream.
	out.Nodes = append(casts, out.Nodes...)
	return out
}

// quantizeINT8 stores each large Float32 initializer as symmetric 8-bit
// values, offset by 128 into a uint8 buffer, restored at runtime through
// DequantizeLinear with a per-tensor scale.
func quantizeINT8(g *graph.Graph) (*graph.Graph, error) {
	out := g.Clone()

	var restores []*graph.Node
	for _, init := range out.Inits {
		t := init.Tensor
		if t.DType() != tensor.Float32 || t.NumElements() < minQuantizeElements {
			continue
		}

		src := t.AsFloat32()
		var maxAbs float32
		for _, v := range src {
			if v < 0 {
				v = -v
			}
			if v > maxAbs {
				maxAbs = v
			}
		}
		if maxAbs == 0 {
			continue
		}
		scale := maxAbs / 127

		q, err := tensor.NewRaw(t.Shape(), tensor.Uint8)
		if err != nil {
			return nil, err
		}
		qd := q.AsUint8()
		for i, v := range src {
			level := int(math.Round(float64(v/scale))) + 128
			if level < 0 {
				level = 0
			}
			if level > 255 {
				level = 255
			}
			qd[i] = uint8(level)
		}

		qName := init.Name + "_q8"
		scaleT, err := tensor.FromFloat32([]float32{scale}, tensor.Shape{1})
		if err != nil {
			return nil, err
		}
		zeroT, err := tensor.NewRaw(tensor.Shape{1}, tensor.Uint8)
		if err != nil {
			return nil, err
		}
		zeroT.AsUint8()[0] = 128

		deq := &graph.Node{
			Kind:    graph.OpDequantizeLinear,
			Name:    qName + "_deq",
			Inputs:  []string{qName, qName + "_scale", qName + "_zero"},
			Outputs: []string{init.Name},
		}

		out.AddInit(qName+"_scale", scaleT)
		out.AddInit(qName+"_zero", zeroT)
		oldName := init.Name
		init.Tensor = q
		out.RenameInit(oldName, qName)
		restores = append(restores, deq)
	}
	if len(restores) == 0 {
		return out, nil
	}

	out.Nodes = append(restores, out.Nodes...)
	return out, nil
}
