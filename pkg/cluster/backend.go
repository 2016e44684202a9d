package cluster

import (
	"context"
	"time"
)

// Backend dials the cluster transport. Any transport exposing this
// contract is interchangeable; the coordinator never sees wire formats.
type Backend interface {
	Connect(ctx context.Context, addr string, opts ConnectOptions) (Conn, error)
}

// ConnectOptions tune the backend dial.
type ConnectOptions struct {
	// Name identifies the connecting process to the backend.
	Name string

	// Timeout bounds the dial.
	Timeout time.Duration

	// MaxReconnects caps reconnection attempts after an established
	// connection drops. Negative means unlimited.
	MaxReconnects int

	// ReconnectWait is the pause between reconnection attempts.
	ReconnectWait time.Duration
}

// Conn is one established backend connection, exclusively owned by a
// single coordinator for the lifetime of its run.
type Conn interface {
	// DiscoverNode announces interest in one node. Discovery is an
	// asynchronous readiness signal: a nil return means the request was
	// issued, not that the node exists.
	DiscoverNode(ctx context.Context, node string) error

	// Submit dispatches one job and returns a handle that resolves when
	// the node answers. A non-nil error means the job never left this
	// process.
	Submit(ctx context.Context, job Job) (Handle, error)

	// Close releases the connection. Safe to call once.
	Close() error
}

// Handle tracks one in-flight job.
type Handle interface {
	// Job returns the descriptor this handle was created for.
	Job() Job

	// Done is closed when the job has resolved.
	Done() <-chan struct{}

	// Result reports the resolution. Valid only after Done is closed.
	// The error is ErrSubmissionRejected when no node accepted the job;
	// any other error is a transport failure for this job alone.
	Result() (ProbeResult, error)
}

// ProbeResult is the node-reported resolution of one probe.
type ProbeResult struct {
	// Outcome is OutcomeSuccess or OutcomeFailure as reported by the
	// node. The coordinator assigns OutcomeTimedOut itself.
	Outcome Outcome

	// Detail carries the node's reported value or failure cause.
	Detail string
}
