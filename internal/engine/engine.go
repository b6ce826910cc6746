// Package engine provides the graph execution capability used by constant
// folding and by the numeric verification oracle.
//
// The converter core depends only on the Engine interface; callers inject
// whichever concrete engine is available. The reference interpreter here
// executes every operator in the vocabulary on the CPU.
package engine

import (
	"fmt"

	"github.com/stylizer-ml/stylizer/internal/graph"
	"github.com/stylizer-ml/stylizer/internal/parallel"
	"github.com/stylizer-ml/stylizer/internal/tensor"
)

// Engine executes a computation graph on named input tensors.
// Implementations must never mutate the graph or the feed tensors.
type Engine interface {
	// Supports reports whether the engine can execute the operator kind.
	Supports(kind graph.OpKind) bool

	// Run executes the graph on the given feeds and returns the declared
	// graph outputs by name.
	Run(g *graph.Graph, feeds map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error)
}

// Handler executes one node given its resolved input tensors.
type Handler func(ctx *Context, node *graph.Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error)

// Context carries execution-wide configuration into handlers.
type Context struct {
	Parallel parallel.Config
}

// Interpreter is the reference CPU engine: a registry of per-operator
// handlers executed in graph order.
type Interpreter struct {
	handlers map[graph.OpKind]Handler
	ctx      *Context
}

// New creates an interpreter with all vocabulary operators registered.
func New() *Interpreter {
	in := &Interpreter{
		handlers: make(map[graph.OpKind]Handler),
		ctx:      &Context{Parallel: parallel.DefaultConfig()},
	}
	in.registerMathOps()
	in.registerActivations()
	in.registerNormOps()
	in.registerConvOps()
	in.registerShapeOps()
	return in
}

// Register adds or replaces a handler for an operator kind.
func (in *Interpreter) Register(kind graph.OpKind, h Handler) {
	in.handlers[kind] = h
}

// Supports reports whether a handler is registered for the kind.
func (in *Interpreter) Supports(kind graph.OpKind) bool {
	_, ok := in.handlers[kind]
	return ok
}

// Run executes the graph on the given feeds. Node order is a topological
// order by graph invariant, so a single forward sweep suffices.
func (in *Interpreter) Run(g *graph.Graph, feeds map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error) {
	values := make(map[string]*tensor.RawTensor, len(g.Inits)+len(feeds))
	for _, init := range g.Inits {
		values[init.Name] = init.Tensor
	}
	for name, t := range feeds {
		values[name] = t
	}
	for _, in2 := range g.Inputs {
		if _, ok := values[in2.Name]; !ok {
			return nil, fmt.Errorf("missing input: %s", in2.Name)
		}
	}

	for _, n := range g.Nodes {
		handler, ok := in.handlers[n.Kind]
		if !ok {
			return nil, fmt.Errorf("no handler for operator %s", n.Kind)
		}
		inputs := make([]*tensor.RawTensor, len(n.Inputs))
		for i, name := range n.Inputs {
			if name == "" {
				continue // Optional input not connected.
			}
			t, ok := values[name]
			if !ok {
				return nil, fmt.Errorf("node %s: missing input %s", n.Name, name)
			}
			inputs[i] = t
		}
		outputs, err := handler(in.ctx, n, inputs)
		if err != nil {
			return nil, fmt.Errorf("node %s (%s): %w", n.Name, n.Kind, err)
		}
		for i, name := range n.Outputs {
			if name == "" {
				continue
			}
			if i < len(outputs) {
				values[name] = outputs[i]
			}
		}
	}

	result := make(map[string]*tensor.RawTensor, len(g.Outputs))
	for _, out := range g.Outputs {
		t, ok := values[out.Name]
		if !ok {
			return nil, fmt.Errorf("missing output: %s", out.Name)
		}
		result[out.Name] = t
	}
	return result, nil
}
