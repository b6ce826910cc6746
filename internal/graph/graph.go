// Package graph defines the computation-graph intermediate representation
// the conversion pipeline operates on between load and export.
//
// A Graph owns its nodes and initializers exclusively. Passes that build a
// new graph from an old one must Clone whatever they carry over, so two
// graphs never share mutable state.
package graph

import (
	"fmt"

	"github.com/stylizer-ml/stylizer/internal/tensor"
)

// ValueInfo describes one declared graph input or output.
type ValueInfo struct {
	Name  string
	Shape tensor.Shape // Static; dim 0 is the batch axis.
	DType tensor.DataType
	// BatchDynamic marks the leading axis as symbolic in the source model.
	// All other axes must be statically known.
	BatchDynamic bool
}

// Clone returns a copy of the value info.
func (v ValueInfo) Clone() ValueInfo {
	c := v
	c.Shape = v.Shape.Clone()
	return c
}

// Node is one operation in the graph. Output names are unique across the
// whole graph (single static assignment).
type Node struct {
	Kind    OpKind
	Name    string
	Inputs  []string
	Outputs []string
	Attrs   map[string]AttrValue
}

// Clone returns a deep copy of the node, including attribute tensors.
func (n *Node) Clone() *Node {
	c := &Node{
		Kind:    n.Kind,
		Name:    n.Name,
		Inputs:  append([]string(nil), n.Inputs...),
		Outputs: append([]string(nil), n.Outputs...),
	}
	if n.Attrs != nil {
		c.Attrs = make(map[string]AttrValue, len(n.Attrs))
		for k, v := range n.Attrs {
			c.Attrs[k] = v.Clone()
		}
	}
	return c
}

// Attr returns the named attribute and whether it is present.
func (n *Node) Attr(name string) (AttrValue, bool) {
	v, ok := n.Attrs[name]
	return v, ok
}

// AttrInt returns an integer attribute or a default.
func (n *Node) AttrInt(name string, def int64) int64 {
	if v, ok := n.Attrs[name]; ok && v.Kind() == AttrInt {
		return v.Int()
	}
	return def
}

// AttrFloat returns a float attribute or a default.
func (n *Node) AttrFloat(name string, def float32) float32 {
	if v, ok := n.Attrs[name]; ok && v.Kind() == AttrFloat {
		return v.Float()
	}
	return def
}

// AttrInts returns an integer-slice attribute or nil.
func (n *Node) AttrInts(name string) []int64 {
	if v, ok := n.Attrs[name]; ok && v.Kind() == AttrInts {
		return v.Ints()
	}
	return nil
}

// SetAttr stores an attribute, allocating the map on first use.
func (n *Node) SetAttr(name string, v AttrValue) {
	if n.Attrs == nil {
		n.Attrs = make(map[string]AttrValue)
	}
	n.Attrs[name] = v
}

// Initializer is a named constant tensor.
type Initializer struct {
	Name   string
	Tensor *tensor.RawTensor
}

// Clone returns a deep copy of the initializer.
func (i *Initializer) Clone() *Initializer {
	return &Initializer{Name: i.Name, Tensor: i.Tensor.Clone()}
}

// Graph is the IR. Node order is a valid topological order and is preserved
// by every pass unless the pass explicitly re-sorts. Initializers keep
// insertion order so that encoding is deterministic.
type Graph struct {
	Name         string
	OpsetVersion int64
	Producer     string

	Nodes   []*Node
	Inits   []*Initializer
	Inputs  []ValueInfo
	Outputs []ValueInfo

	initIndex map[string]int
}

// New creates an empty graph with the given name and opset version.
func New(name string, opset int64) *Graph {
	return &Graph{Name: name, OpsetVersion: opset}
}

// AddNode appends a node. The caller hands over ownership.
func (g *Graph) AddNode(n *Node) {
	g.Nodes = append(g.Nodes, n)
}

// AddInit appends an initializer, replacing any previous tensor of the same
// name in place so insertion order stays stable.
func (g *Graph) AddInit(name string, t *tensor.RawTensor) {
	if idx, ok := g.lookupInit(name); ok {
		g.Inits[idx].Tensor = t
		return
	}
	if g.initIndex == nil {
		g.initIndex = make(map[string]int)
	}
	g.initIndex[name] = len(g.Inits)
	g.Inits = append(g.Inits, &Initializer{Name: name, Tensor: t})
}

// Init returns the named initializer tensor, or nil if absent.
func (g *Graph) Init(name string) *tensor.RawTensor {
	if idx, ok := g.lookupInit(name); ok {
		return g.Inits[idx].Tensor
	}
	return nil
}

// HasInit reports whether the name refers to an initializer.
func (g *Graph) HasInit(name string) bool {
	_, ok := g.lookupInit(name)
	return ok
}

// RemoveInit drops the named initializer if present.
func (g *Graph) RemoveInit(name string) {
	idx, ok := g.lookupInit(name)
	if !ok {
		return
	}
	g.Inits = append(g.Inits[:idx], g.Inits[idx+1:]...)
	g.initIndex = nil // Rebuilt lazily.
}

// RenameInit changes an initializer's name, keeping its position. Returns
// false if no initializer has the old name.
func (g *Graph) RenameInit(old, new string) bool {
	idx, ok := g.lookupInit(old)
	if !ok {
		return false
	}
	g.Inits[idx].Name = new
	g.initIndex = nil // Rebuilt lazily.
	return true
}

func (g *Graph) lookupInit(name string) (int, bool) {
	if g.initIndex == nil {
		g.initIndex = make(map[string]int, len(g.Inits))
		for i, init := range g.Inits {
			g.initIndex[init.Name] = i
		}
	}
	idx, ok := g.initIndex[name]
	return idx, ok
}

// HasOp reports whether any node of the given kind is present.
func (g *Graph) HasOp(kind OpKind) bool {
	for _, n := range g.Nodes {
		if n.Kind == kind {
			return true
		}
	}
	return false
}

// InputInfo returns the declared input with the given name.
func (g *Graph) InputInfo(name string) (ValueInfo, bool) {
	for _, in := range g.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return ValueInfo{}, false
}

// Clone returns a deep copy sharing no storage with the receiver.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		Name:         g.Name,
		OpsetVersion: g.OpsetVersion,
		Producer:     g.Producer,
		Nodes:        make([]*Node, len(g.Nodes)),
		Inits:        make([]*Initializer, len(g.Inits)),
		Inputs:       make([]ValueInfo, len(g.Inputs)),
		Outputs:      make([]ValueInfo, len(g.Outputs)),
	}
	for i, n := range g.Nodes {
		c.Nodes[i] = n.Clone()
	}
	for i, init := range g.Inits {
		c.Inits[i] = init.Clone()
	}
	for i, in := range g.Inputs {
		c.Inputs[i] = in.Clone()
	}
	for i, out := range g.Outputs {
		c.Outputs[i] = out.Clone()
	}
	return c
}

// Producers maps every value name to the index of the node producing it.
// Graph inputs and initializers are not included.
func (g *Graph) Producers() map[string]int {
	m := make(map[string]int)
	for i, n := range g.Nodes {
		for _, out := range n.Outputs {
			m[out] = i
		}
	}
	return m
}

// Consumers maps every value name to the indices of nodes consuming it.
func (g *Graph) Consumers() map[string][]int {
	m := make(map[string][]int)
	for i, n := range g.Nodes {
		for _, in := range n.Inputs {
			if in == "" {
				continue
			}
			m[in] = append(m[in], i)
		}
	}
	return m
}

// Equal reports structural equality: same metadata, same node sequence with
// equal attributes, same initializers with bit-equal payloads, same declared
// inputs and outputs.
func Equal(a, b *Graph) bool {
	if a.Name != b.Name || a.OpsetVersion != b.OpsetVersion {
		return false
	}
	if len(a.Nodes) != len(b.Nodes) || len(a.Inits) != len(b.Inits) {
		return false
	}
	if len(a.Inputs) != len(b.Inputs) || len(a.Outputs) != len(b.Outputs) {
		return false
	}
	for i := range a.Nodes {
		if !nodesEqual(a.Nodes[i], b.Nodes[i]) {
			return false
		}
	}
	for i := range a.Inits {
		if a.Inits[i].Name != b.Inits[i].Name ||
			!tensorsEqual(a.Inits[i].Tensor, b.Inits[i].Tensor) {
			return false
		}
	}
	for i := range a.Inputs {
		if !valueInfosEqual(a.Inputs[i], b.Inputs[i]) {
			return false
		}
	}
	for i := range a.Outputs {
		if !valueInfosEqual(a.Outputs[i], b.Outputs[i]) {
			return false
		}
	}
	return true
}

func nodesEqual(a, b *Node) bool {
	if a.Kind != b.Kind || a.Name != b.Name {
		return false
	}
	if !slicesEqual(a.Inputs, b.Inputs) || !slicesEqual(a.Outputs, b.Outputs) {
		return false
	}
	if len(a.Attrs) != len(b.Attrs) {
		return false
	}
	for k, av := range a.Attrs {
		bv, ok := b.Attrs[k]
		if !ok || !av.Equal(bv) {
			return false
		}
	}
	return true
}

func valueInfosEqual(a, b ValueInfo) bool {
	return a.Name == b.Name && a.DType == b.DType &&
		a.BatchDynamic == b.BatchDynamic && a.Shape.Equal(b.Shape)
}

// Summary renders a short structural description for logs.
func (g *Graph) Summary() string {
	return fmt.Sprintf("%s: %d nodes, %d initializers, %d inputs, %d outputs, opset %d",
		g.Name, len(g.Nodes), len(g.Inits), len(g.Inputs), len(g.Outputs), g.OpsetVersion)
}
