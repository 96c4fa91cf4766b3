package executor

import (
	"slices"
	"time"

	nerrors "github.com/kbukum/nodegraph/errors"
	"github.com/kbukum/nodegraph/value"
)

// NodeResult is the outcome of one node in a run: outputs, or an error.
type NodeResult struct {
	NodeID      string                  `json:"node_id"`
	ComponentID string                  `json:"component_id"`
	Outputs     value.Values            `json:"outputs,omitempty"`
	Err         *nerrors.ExecutionError `json:"error,omitempty"`
	// Continuous is set for nodes whose outputs came from their running
	// continuous task instead of a call in this run.
	Continuous bool          `json:"continuous,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}

// OK reports whether the node produced outputs.
func (r NodeResult) OK() bool {
	return r.Err == nil
}

// Result holds the per-node outcomes of one run.
type Result struct {
	RunID    string                `json:"run_id"`
	Nodes    map[string]NodeResult `json:"nodes"`
	Duration time.Duration         `json:"duration_ns"`
}

// Node returns the result of node id.
func (r *Result) Node(id string) (NodeResult, bool) {
	nr, ok := r.Nodes[id]
	return nr, ok
}

// Failed returns the ids of failed nodes, sorted.
func (r *Result) Failed() []string {
	var ids []string
	for id, nr := range r.Nodes {
		if !nr.OK() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// OK reports whether every node succeeded.
func (r *Result) OK() bool {
	return len(r.Failed()) == 0
}
