package backup

import (
	"errors"
	"fmt"
)

// NodeError is a write failure isolated to one node.
type NodeError struct {
	Node string
	Err  error
}

func (e *NodeError) Error() string { return fmt.Sprintf("node %s: %v", e.Node, e.Err) }

func (e *NodeError) Unwrap() error { return e.Err }

// Summary is the outcome of one reconciliation pass.
type Summary struct {
	Results  []Result
	Failures []*NodeError
	Skipped  []SkippedVolume
	// Filtered lists nodes with volumes that the node filter excluded.
	Filtered []string
}

func (s *Summary) Count(a Action) int {
	n := 0
	for _, r := range s.Results {
		if r.Action == a {
			n++
		}
	}
	return n
}

func (s *Summary) FailedNodes() []string {
	out := make([]string, 0, len(s.Failures))
	for _, f := range s.Failures {
		out = append(out, f.Node)
	}
	return out
}

// Err joins every node failure, nil when all writes succeeded.
func (s *Summary) Err() error {
	errs := make([]error, 0, len(s.Failures))
	for _, f := range s.Failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}
