package graph

import (
	"fmt"

	"github.com/stylizer-ml/stylizer/internal/tensor"
)

// AttrKind discriminates the variants of an AttrValue.
type AttrKind int

// Attribute variants. Passes switch over these exhaustively instead of
// duck-typing the untagged protobuf representation.
const (
	AttrInt AttrKind = iota
	AttrFloat
	AttrString
	AttrInts
	AttrFloats
	AttrStrings
	AttrTensor
)

// String returns a human-readable variant name.
func (k AttrKind) String() string {
	switch k {
	case AttrInt:
		return "int"
	case AttrFloat:
		return "float"
	case AttrString:
		return "string"
	case AttrInts:
		return "ints"
	case AttrFloats:
		return "floats"
	case AttrStrings:
		return "strings"
	case AttrTensor:
		return "tensor"
	default:
		return "unknown"
	}
}

// AttrValue is a tagged variant holding one node attribute.
// Exactly one payload field is meaningful, selected by kind.
type AttrValue struct {
	kind    AttrKind
	i       int64
	f       float32
	s       string
	ints    []int64
	floats  []float32
	strings []string
	tensor  *tensor.RawTensor
}

// IntAttr wraps an int64 attribute.
func IntAttr(v int64) AttrValue { return AttrValue{kind: AttrInt, i: v} }

// FloatAttr wraps a float32 attribute.
func FloatAttr(v float32) AttrValue { return AttrValue{kind: AttrFloat, f: v} }

// StringAttr wraps a string attribute.
func StringAttr(v string) AttrValue { return AttrValue{kind: AttrString, s: v} }

// IntsAttr wraps an int64 slice attribute.
func IntsAttr(v []int64) AttrValue {
	return AttrValue{kind: AttrInts, ints: append([]int64(nil), v...)}
}

// FloatsAttr wraps a float32 slice attribute.
func FloatsAttr(v []float32) AttrValue {
	return AttrValue{kind: AttrFloats, floats: append([]float32(nil), v...)}
}

// StringsAttr wraps a string slice attribute.
func StringsAttr(v []string) AttrValue {
	return AttrValue{kind: AttrStrings, strings: append([]string(nil), v...)}
}

// TensorAttr wraps a tensor attribute. The tensor is stored as-is; Clone
// deep-copies it when the owning node is cloned.
func TensorAttr(t *tensor.RawTensor) AttrValue {
	return AttrValue{kind: AttrTensor, tensor: t}
}

// Kind returns the variant tag.
func (a AttrValue) Kind() AttrKind { return a.kind }

// Int returns the int64 payload. Zero for other variants.
func (a AttrValue) Int() int64 { return a.i }

// Float returns the float32 payload. Zero for other variants.
func (a AttrValue) Float() float32 { return a.f }

// Str returns the string payload. Empty for other variants.
func (a AttrValue) Str() string { return a.s }

// Ints returns the int64 slice payload. Nil for other variants.
func (a AttrValue) Ints() []int64 { return a.ints }

// Floats returns the float32 slice payload. Nil for other variants.
func (a AttrValue) Floats() []float32 { return a.floats }

// Strings returns the string slice payload. Nil for other variants.
func (a AttrValue) Strings() []string { return a.strings }

// Tensor returns the tensor payload. Nil for other variants.
func (a AttrValue) Tensor() *tensor.RawTensor { return a.tensor }

// Clone returns a deep copy of the attribute, including tensor payloads.
func (a AttrValue) Clone() AttrValue {
	c := AttrValue{kind: a.kind, i: a.i, f: a.f, s: a.s}
	c.ints = append([]int64(nil), a.ints...)
	c.floats = append([]float32(nil), a.floats...)
	c.strings = append([]string(nil), a.strings...)
	if a.tensor != nil {
		c.tensor = a.tensor.Clone()
	}
	return c
}

// Equal reports deep equality of two attribute values.
func (a AttrValue) Equal(b AttrValue) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case AttrInt:
		return a.i == b.i
	case AttrFloat:
		return a.f == b.f
	case AttrString:
		return a.s == b.s
	case AttrInts:
		return slicesEqual(a.ints, b.ints)
	case AttrFloats:
		return slicesEqual(a.floats, b.floats)
	case AttrStrings:
		return slicesEqual(a.strings, b.strings)
	case AttrTensor:
		return tensorsEqual(a.tensor, b.tensor)
	default:
		return false
	}
}

// String renders the attribute for diagnostics.
func (a AttrValue) String() string {
	switch a.kind {
	case AttrInt:
		return fmt.Sprintf("%d", a.i)
	case AttrFloat:
		return fmt.Sprintf("%g", a.f)
	case AttrString:
		return fmt.Sprintf("%q", a.s)
	case AttrInts:
		return fmt.Sprintf("%v", a.ints)
	case AttrFloats:
		return fmt.Sprintf("%v", a.floats)
	case AttrStrings:
		return fmt.Sprintf("%v", a.strings)
	case AttrTensor:
		if a.tensor == nil {
			return "tensor(nil)"
		}
		return fmt.Sprintf("tensor(%s%v)", a.tensor.DType(), a.tensor.Shape())
	default:
		return "?"
	}
}

func slicesEqual[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func tensorsEqual(a, b *tensor.RawTensor) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.DType() != b.DType() || !a.Shape().Equal(b.Shape()) {
		return false
	}
	ad, bd := a.Data(), b.Data()
	if len(ad) != len(bd) {
		return false
	}
	for i := range ad {
		if ad[i] != bd[i] {
			return false
		}
	}
	return true
}
