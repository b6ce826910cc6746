package graph

// Validate checks the structural invariants every pass must preserve:
//
//   - node order is a valid topological order: every node input refers to a
//     graph input, an initializer, or the output of an earlier node;
//   - each value name is assigned exactly once (SSA);
//   - every declared graph output resolves to a produced value.
//
// Returns the first violation found, or nil.
func Validate(g *Graph) error {
	defined := make(map[string]bool, len(g.Inputs)+len(g.Inits))
	for _, in := range g.Inputs {
		if defined[in.Name] {
			return &ValidationError{Value: in.Name, Details: "duplicate graph input"}
		}
		defined[in.Name] = true
	}
	for _, init := range g.Inits {
		// An initializer may shadow a declared input (ONNX allows listing
		// weights among inputs); that is a default value, not a duplicate.
		defined[init.Name] = true
	}

	for _, n := range g.Nodes {
		if !vocabulary[n.Kind] {
			return &ValidationError{Node: n.Name, Details: "operator " + string(n.Kind) + " not in vocabulary"}
		}
		for _, in := range n.Inputs {
			if in == "" {
				continue // Optional input slot.
			}
			if !defined[in] {
				return &ValidationError{Node: n.Name, Value: in,
					Details: "input does not resolve to a graph input, initializer, or earlier node output"}
			}
		}
		for _, out := range n.Outputs {
			if out == "" {
				continue
			}
			if defined[out] {
				return &ValidationError{Node: n.Name, Value: out, Details: "value assigned more than once"}
			}
			defined[out] = true
		}
	}

	for _, out := range g.Outputs {
		if !defined[out.Name] {
			return &ValidationError{Value: out.Name, Details: "declared graph output is never produced"}
		}
	}
	return nil
}
