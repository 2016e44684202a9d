// Package verify answers the single question "is the cluster usable".
//
// A Runner drives one cluster.Coordinator through its whole lifecycle and
// reduces the per-node probe results to a Verdict. Shutdown of the
// coordinator is guaranteed on every exit path, verdict or error.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/gnssops/rinextank/pkg/cluster"
)

// Status is the run-level outcome.
type Status string

const (
	// Verified means every configured node answered its probe with
	// success inside the deadline.
	Verified Status = "verified"

	// Failed means at least one node did not.
	Failed Status = "failed"
)

// Verdict is the terminal result of one verification run. It is produced
// once and never mutated after.
type Verdict struct {
	Overall Status `json:"overall"`

	// PerNode maps node name to its probe result. Empty when the run
	// failed before submission.
	PerNode map[string]cluster.Result `json:"per_node"`

	// Nodes is the final reachability snapshot, in configuration order.
	Nodes []cluster.Node `json:"nodes,omitempty"`

	// FailedNode identifies the first node that sank the run, when one
	// is attributable.
	FailedNode string `json:"failed_node,omitempty"`

	// Cause is the human-readable failure cause.
	Cause string `json:"cause,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
}

// SuccessCount is the number of nodes with a success outcome.
func (v *Verdict) SuccessCount() int {
	n := 0
	for _, r := range v.PerNode {
		if r.Outcome == cluster.OutcomeSuccess {
			n++
		}
	}
	return n
}

// Summary renders a one-line human description of the verdict.
func (v *Verdict) Summary() string {
	if v.Overall == Verified {
		return fmt.Sprintf("verified: %d/%d nodes ok in %s",
			v.SuccessCount(), len(v.PerNode), v.Elapsed.Round(time.Millisecond))
	}
	if v.Cause != "" {
		return fmt.Sprintf("failed: %s", v.Cause)
	}
	return "failed"
}

// Recorder persists verification runs for audit history. Implementations
// must accept failed verdicts as readily as verified ones.
type Recorder interface {
	RecordRun(ctx context.Context, v *Verdict) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, v *Verdict) error

func (f RecorderFunc) RecordRun(ctx context.Context, v *Verdict) error {
	return f(ctx, v)
}
