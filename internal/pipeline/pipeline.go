// Package pipeline sequences optimization passes over a graph and records
// what each one did. After the last pass the result is re-validated; a
// violation at that point is a pass defect, never bad user input, and is
// reported as an IntegrityError.
package pipeline

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/stylizer-ml/stylizer/internal/graph"
	"github.com/stylizer-ml/stylizer/internal/passes"
)

// PassRecord describes one pipeline step.
type PassRecord struct {
	Pass         string `json:"pass" yaml:"pass"`
	Applied      bool   `json:"applied" yaml:"applied"`
	NodesRemoved int    `json:"nodes_removed" yaml:"nodes_removed"`
	NodesAdded   int    `json:"nodes_added" yaml:"nodes_added"`
	Reason       string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Trail is the ordered record of every configured pass, applied or not.
type Trail []PassRecord

// IntegrityError reports a graph invariant broken by an optimization pass.
type IntegrityError struct {
	Pass  string
	Cause error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("pipeline integrity violated after pass %q: %v", e.Pass, e.Cause)
}

func (e *IntegrityError) Unwrap() error { return e.Cause }

// Apply runs the passes in order over g and returns the rewritten graph
// with the trail. g itself is never mutated. Passes whose preconditions do
// not hold are skipped and recorded as not applied.
func Apply(g *graph.Graph, list []passes.Pass) (*graph.Graph, Trail, error) {
	current := g
	trail := make(Trail, 0, len(list))
	lastApplied := ""

	for _, p := range list {
		if !p.Applicable(current) {
			trail = append(trail, PassRecord{Pass: p.Name, Reason: "not applicable"})
			logrus.WithField("pass", p.Name).Debug("pass skipped")
			continue
		}
		next, stats, err := p.Run(current)
		if err != nil {
			return nil, trail, fmt.Errorf("pass %q: %w", p.Name, err)
		}
		trail = append(trail, PassRecord{
			Pass:         p.Name,
			Applied:      true,
			NodesRemoved: stats.NodesRemoved,
			NodesAdded:   stats.NodesAdded,
		})
		logrus.WithFields(logrus.Fields{
			"pass":          p.Name,
			"nodes_removed": stats.NodesRemoved,
			"nodes_added":   stats.NodesAdded,
		}).Debug("pass applied")
		current = next
		lastApplied = p.Name
	}

	if err := graph.Validate(current); err != nil {
		return nil, trail, &IntegrityError{Pass: lastApplied, Cause: err}
	}
	return current, trail, nil
}
