// Package natsbackend implements the cluster transport over a NATS bus.
//
// Subjects, under a configurable prefix:
//
//	<prefix>.discover.<node>  discovery announcements (publish + flush)
//	<prefix>.probe.<node>     liveness probes (request/reply)
//
// A probe request that reaches a subscriber-less subject is reported as
// cluster.ErrSubmissionRejected: nothing on the bus claims that node
// name, which is a deployment mismatch rather than a slow node.
package natsbackend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/gnssops/rinextank/pkg/cluster"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "rinextank"

// Backend dials NATS head nodes.
type Backend struct {
	prefix string
}

// NewBackend creates a backend publishing under the given subject
// prefix. Empty means DefaultSubjectPrefix.
func NewBackend(prefix string) *Backend {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Backend{prefix: prefix}
}

// Connect dials addr. The dial itself is bounded by opts.Timeout; ctx is
// only consulted up front because the NATS client does not take one.
func (b *Backend) Connect(ctx context.Context, addr string, opts cluster.ConnectOptions) (cluster.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	nc, err := nats.Connect(addr, connectOptions(opts)...)
	if err != nil {
		return nil, err
	}
	return &conn{nc: nc, prefix: b.prefix}, nil
}

func connectOptions(opts cluster.ConnectOptions) []nats.Option {
	out := []nats.Option{
		nats.Name(opts.Name),
		nats.MaxReconnects(opts.MaxReconnects),
	}
	if opts.Timeout > 0 {
		out = append(out, nats.Timeout(opts.Timeout))
	}
	if opts.ReconnectWait > 0 {
		out = append(out, nats.ReconnectWait(opts.ReconnectWait))
	}
	return out
}

type conn struct {
	nc     *nats.Conn
	prefix string
}

func (c *conn) discoverSubject(node string) string {
	return fmt.Sprintf("%s.discover.%s", c.prefix, node)
}

func (c *conn) probeSubject(node string) string {
	return fmt.Sprintf("%s.probe.%s", c.prefix, node)
}

type discoverRequest struct {
	Node   string    `json:"node"`
	SentAt time.Time `json:"sent_at"`
}

type probeRequest struct {
	JobID       string    `json:"job_id"`
	Node        string    `json:"node"`
	Kind        string    `json:"kind"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type probeReply struct {
	// Status is "ok" on success; anything else is a failure.
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// DiscoverNode publishes the announcement and flushes so the message is
// on the wire before the coordinator's settle delay starts counting.
func (c *conn) DiscoverNode(ctx context.Context, node string) error {
	payload, err := json.Marshal(discoverRequest{Node: node, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := c.nc.Publish(c.discoverSubject(node), payload); err != nil {
		return err
	}
	return c.nc.FlushWithContext(ctx)
}

// Submit issues the probe as a request/reply and returns immediately;
// the request runs until the node answers or ctx ends. An error return
// means the job never left this process.
func (c *conn) Submit(ctx context.Context, job cluster.Job) (cluster.Handle, error) {
	payload, err := json.Marshal(probeRequest{
		JobID:       job.ID,
		Node:        job.Node,
		Kind:        string(job.Kind),
		SubmittedAt: job.SubmittedAt,
	})
	if err != nil {
		return nil, err
	}
	if c.nc.IsClosed() {
		return nil, nats.ErrConnectionClosed
	}

	h := &handle{job: job, done: make(chan struct{})}
	subject := c.probeSubject(job.Node)
	go func() {
		defer close(h.done)
		msg, err := c.nc.RequestWithContext(ctx, subject, payload)
		if err != nil {
			h.err = mapRequestError(err)
			return
		}
		h.res, h.err = decodeReply(msg.Data)
	}()
	return h, nil
}

// mapRequestError classifies transport errors from a probe request.
func mapRequestError(err error) error {
	if errors.Is(err, nats.ErrNoResponders) {
		return fmt.Errorf("%w: no subscriber on probe subject", cluster.ErrSubmissionRejected)
	}
	return err
}

// decodeReply parses a node's probe reply into a result.
func decodeReply(data []byte) (cluster.ProbeResult, error) {
	var rep probeReply
	if err := json.Unmarshal(data, &rep); err != nil {
		return cluster.ProbeResult{}, fmt.Errorf("decode probe reply: %w", err)
	}
	if rep.Status == "ok" {
		return cluster.ProbeResult{Outcome: cluster.OutcomeSuccess, Detail: rep.Detail}, nil
	}
	return cluster.ProbeResult{Outcome: cluster.OutcomeFailure, Detail: rep.Detail}, nil
}

// Close drains the connection so in-flight messages flush before the
// socket drops; a drain failure falls back to a hard close.
func (c *conn) Close() error {
	if c.nc == nil || c.nc.IsClosed() {
		return nil
	}
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
		return err
	}
	return nil
}

type handle struct {
	job  cluster.Job
	done chan struct{}
	res  cluster.ProbeResult
	err  error
}

func (h *handle) Job() cluster.Job { return h.job }

func (h *handle) Done() <-chan struct{} { return h.done }

func (h *handle) Result() (cluster.ProbeResult, error) { return h.res, h.err }
