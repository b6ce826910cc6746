package graph

import "fmt"

// UnsupportedOpError reports the first operator kind in a model that has no
// mapping into the vocabulary. The operator name is preserved verbatim so the
// caller can file a targeted fix.
type UnsupportedOpError struct {
	Op string
}

// Error implements the error interface.
func (e *UnsupportedOpError) Error() string {
	return fmt.Sprintf("unsupported operator: %q", e.Op)
}

// ValidationError reports a structural invariant violation found by Validate.
type ValidationError struct {
	Node    string // Node name involved, if any
	Value   string // Value name involved, if any
	Details string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	switch {
	case e.Node != "" && e.Value != "":
		return fmt.Sprintf("invalid graph: node %q, value %q: %s", e.Node, e.Value, e.Details)
	case e.Node != "":
		return fmt.Sprintf("invalid graph: node %q: %s", e.Node, e.Details)
	case e.Value != "":
		return fmt.Sprintf("invalid graph: value %q: %s", e.Value, e.Details)
	default:
		return fmt.Sprintf("invalid graph: %s", e.Details)
	}
}
