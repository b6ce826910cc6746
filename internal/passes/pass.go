// Package passes implements the graph rewrite library. Every pass is a
// pure function over the IR: the input graph is never mutated, the output
// graph shares no node or attribute storage with it, and running the same
// pass twice produces a structurally equal graph.
package passes

import (
	"fmt"

	"github.com/stylizer-ml/stylizer/internal/engine"
	"github.com/stylizer-ml/stylizer/internal/graph"
)

// EffectClass describes the kind of change a pass makes, used when
// reporting a pipeline trail.
type EffectClass string

const (
	// ReduceNodes removes nodes or initializers without changing semantics.
	ReduceNodes EffectClass = "reduce-nodes"
	// SubstituteOps replaces a subgraph with a different operator sequence.
	SubstituteOps EffectClass = "substitute-ops"
	// RewriteAttrs changes attributes or layout without touching topology.
	RewriteAttrs EffectClass = "rewrite-attrs"
)

// Stats summarizes what one pass application did to the graph.
type Stats struct {
	NodesRemoved int
	NodesAdded   int
}

// Pass is one rewrite step. Requires lists operators that must all be
// present for the pass to be applicable; an empty list means always
// applicable.
type Pass struct {
	Name     string
	Requires []graph.OpKind
	Effect   EffectClass
	Run      func(*graph.Graph) (*graph.Graph, Stats, error)
}

// Applicable reports whether every required operator appears in g.
func (p Pass) Applicable(g *graph.Graph) bool {
	for _, kind := range p.Requires {
		if !g.HasOp(kind) {
			return false
		}
	}
	return true
}

// Pass names, in canonical order.
const (
	NameEliminateDeadNodes    = "eliminate-dead-nodes"
	NameEliminateIdentity     = "eliminate-identity"
	NameFoldConstants         = "fold-constants"
	NameFuseConv              = "fuse-conv"
	NameCanonicalizeTranspose = "canonicalize-transpose"
)

// Default returns the full pass list in canonical order. Constant folding
// evaluates subgraphs with eng.
func Default(eng engine.Engine) []Pass {
	return []Pass{
		EliminateDeadNodes(),
		EliminateIdentity(),
		FoldConstants(eng),
		FuseConv(),
		CanonicalizeTranspose(),
	}
}

// ByNames resolves a list of pass names, preserving the given order.
func ByNames(names []string, eng engine.Engine) ([]Pass, error) {
	out := make([]Pass, 0, len(names))
	for _, name := range names {
		p, err := byName(name, eng)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func byName(name string, eng engine.Engine) (Pass, error) {
	switch name {
	case NameEliminateDeadNodes:
		return EliminateDeadNodes(), nil
	case NameEliminateIdentity:
		return EliminateIdentity(), nil
	case NameFoldConstants:
		return FoldConstants(eng), nil
	case NameFuseConv:
		return FuseConv(), nil
	case NameCanonicalizeTranspose:
		return CanonicalizeTranspose(), nil
	default:
		return Pass{}, fmt.Errorf("unknown pass %q", name)
	}
}

// rewire replaces every node input reading from old with newName.
func rewire(g *graph.Graph, old, newName string) {
	for _, node := range g.Nodes {
		for i, in := range node.Inputs {
			if in == old {
				node.Inputs[i] = newName
			}
		}
	}
}

// isGraphOutput reports whether name is one of the graph's declared outputs.
func isGraphOutput(g *graph.Graph, name string) bool {
	for _, out := range g.Outputs {
		if out.Name == name {
			return true
		}
	}
	return false
}

// pruneUnusedInits drops initializers nothing references. Graph outputs
// count as references so an initializer-backed output survives. Returns the
// number removed.
func pruneUnusedInits(g *graph.Graph) int {
	used := make(map[string]bool)
	for _, node := range g.Nodes {
		for _, in := range node.Inputs {
			used[in] = true
		}
	}
	for _, o := range g.Outputs {
		used[o.Name] = true
	}
	removed := 0
	for _, init := range append([]*graph.Initializer(nil), g.Inits...) {
		if !used[init.Name] {
			g.RemoveInit(init.Name)
			removed++
		}
	}
	return removed
}

// removeNodes drops the nodes at the given indexes, preserving order.
func removeNodes(g *graph.Graph, drop map[int]bool) {
	if len(drop) == 0 {
		return
	}
	kept := g.Nodes[:0]
	for i, node := range g.Nodes {
		if !drop[i] {
			kept = append(kept, node)
		}
	}
	g.Nodes = kept
}
