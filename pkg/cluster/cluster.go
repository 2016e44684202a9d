// Package cluster coordinates liveness verification of a compute cluster.
//
// A Coordinator owns one verification run against a set of named worker
// nodes behind a message-bus backend: connect to the head node, announce
// discovery for every node, submit one liveness-probe job per node, wait
// for every probe under a single shared deadline, and shut down. The
// coordinator is single-use; create a new one per run.
//
// State machine:
//
//	Uninitialized -> Connecting -> Discovering -> AwaitingJobs -> Verified
//	                                                           -> Failed
//
// ShutDown is reachable from every state, including error paths, and
// shutting down twice (or without ever connecting) is a no-op.
package cluster

import (
	"fmt"
	"time"
)

// State is the coordinator lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateConnecting    State = "connecting"
	StateDiscovering   State = "discovering"
	StateAwaitingJobs  State = "awaiting_jobs"
	StateVerified      State = "verified"
	StateFailed        State = "failed"
	StateShutDown      State = "shut_down"
)

func (s State) String() string {
	return string(s)
}

// Terminal reports whether the run has reached an outcome state.
func (s State) Terminal() bool {
	return s == StateVerified || s == StateFailed || s == StateShutDown
}

// NodeStatus is what a run has learned about one node's addressability.
type NodeStatus string

const (
	// NodeUnknown means no discovery attempt has completed yet.
	NodeUnknown NodeStatus = "unknown"

	// NodeReachable means the discovery request was accepted. It proves
	// address resolution only, not that the node can execute work.
	NodeReachable NodeStatus = "reachable"

	// NodeUnreachable means the discovery request could not be issued.
	NodeUnreachable NodeStatus = "unreachable"
)

// Node is one configured worker. Identity is Name; Status is mutated only
// by the coordinator during its run and starts at NodeUnknown for every
// run.
type Node struct {
	Name   string     `json:"name"`
	Status NodeStatus `json:"status"`
}

// JobKind identifies the payload of a dispatched job.
type JobKind string

// LivenessProbe is a minimal job dispatched solely to confirm a node can
// execute and respond.
const LivenessProbe JobKind = "liveness_probe"

// Job describes one unit of dispatched work. Jobs are created at
// submission time and immutable after.
type Job struct {
	// ID is unique within a run: "<purpose>-<node>".
	ID string `json:"id"`

	// Node is the target node name.
	Node string `json:"node"`

	Kind        JobKind   `json:"kind"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Outcome is the terminal disposition of one job.
type Outcome string

const (
	// OutcomeSuccess means the node executed the probe and reported ok.
	OutcomeSuccess Outcome = "success"

	// OutcomeFailure means the probe resolved with an error, was rejected
	// at submission, or was abandoned when the run aborted.
	OutcomeFailure Outcome = "failure"

	// OutcomeTimedOut means the probe did not resolve within the run
	// deadline.
	OutcomeTimedOut Outcome = "timed_out"
)

// Result is the outcome of one job. Every submitted job yields exactly
// one Result; a job unresolved at the deadline yields OutcomeTimedOut.
type Result struct {
	JobID   string        `json:"job_id"`
	Node    string        `json:"node"`
	Outcome Outcome       `json:"outcome"`
	Detail  string        `json:"detail,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Config is the immutable configuration for one verification run.
type Config struct {
	// HeadNode is the backend address, e.g. nats://head:4222.
	HeadNode string

	// Nodes are the worker node names. Names must be unique.
	Nodes []string

	// PingInterval is the node announcement cadence on the bus. The
	// discovery settle delay is derived from it.
	PingInterval time.Duration

	// ConnectTimeout bounds the initial backend connection.
	ConnectTimeout time.Duration

	// AwaitTimeout is the single shared deadline for all probes.
	AwaitTimeout time.Duration

	// Purpose prefixes every job id. Default "liveness".
	Purpose string

	// ClientName identifies this process to the backend.
	ClientName string
}

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultPingInterval   = 5 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultAwaitTimeout   = 60 * time.Second
	DefaultPurpose        = "liveness"
	DefaultClientName     = "rinextank"
)

// settleFactor scales PingInterval into the discovery settle delay. Node
// presence is announced out-of-band on the ping cadence, so discovery
// must outlast at least one full announcement round.
const settleFactor = 2

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.AwaitTimeout <= 0 {
		c.AwaitTimeout = DefaultAwaitTimeout
	}
	if c.Purpose == "" {
		c.Purpose = DefaultPurpose
	}
	if c.ClientName == "" {
		c.ClientName = DefaultClientName
	}
	return c
}

// Validate checks the configuration after defaulting.
func (c Config) Validate() error {
	if c.HeadNode == "" {
		return fmt.Errorf("%w: head node address is required", ErrInvalidConfig)
	}
	if len(c.Nodes) == 0 {
		return fmt.Errorf("%w: at least one node is required", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(c.Nodes))
	for _, n := range c.Nodes {
		if n == "" {
			return fmt.Errorf("%w: empty node name", ErrInvalidConfig)
		}
		if _, dup := seen[n]; dup {
			return fmt.Errorf("%w: duplicate node name %q", ErrInvalidConfig, n)
		}
		seen[n] = struct{}{}
	}
	return nil
}

// SettleDelay is how long discovery waits after fan-out before the run
// may submit probes.
func (c Config) SettleDelay() time.Duration {
	return settleFactor * c.PingInterval
}

// JobID builds the traceable per-node job id.
func (c Config) JobID(node string) string {
	return c.Purpose + "-" + node
}
