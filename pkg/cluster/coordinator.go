package cluster

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reconnect behavior for the run's single dial. Verification runs are
// short-lived, so reconnection is bounded rather than unlimited.
const (
	dialMaxReconnects = 2
	dialReconnectWait = time.Second
)

// Coordinator drives one verification run. It exclusively owns the
// backend connection for the run's lifetime and releases it exactly
// once; it is not reusable after Shutdown.
type Coordinator struct {
	cfg     Config
	backend Backend
	log     *zap.Logger

	mu    sync.Mutex
	state State
	conn  Conn
	nodes map[string]*Node

	closeOnce sync.Once
	closeErr  error
}

// New validates the configuration and prepares a coordinator in
// StateUninitialized with every node at NodeUnknown. A nil logger
// disables logging.
func New(backend Backend, cfg Config, log *zap.Logger) (*Coordinator, error) {
	if backend == nil {
		return nil, errors.New("cluster: backend is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	nodes := make(map[string]*Node, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		nodes[n] = &Node{Name: n, Status: NodeUnknown}
	}
	return &Coordinator{
		cfg:     cfg,
		backend: backend,
		log:     log,
		state:   StateUninitialized,
		nodes:   nodes,
	}, nil
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Nodes returns a snapshot of node statuses in configuration order.
func (c *Coordinator) Nodes() []Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Node, 0, len(c.cfg.Nodes))
	for _, name := range c.cfg.Nodes {
		out = append(out, *c.nodes[name])
	}
	return out
}

// Connect dials the head node. On success the coordinator is ready for
// discovery; on failure the run is failed and the returned error is a
// *ConnectionError. No retry happens here.
func (c *Coordinator) Connect(ctx context.Context) error {
	if err := c.transition("connect", StateUninitialized, StateConnecting); err != nil {
		return err
	}

	c.log.Debug("connecting", zap.String("head_node", c.cfg.HeadNode))
	conn, err := c.backend.Connect(ctx, c.cfg.HeadNode, ConnectOptions{
		Name:          c.cfg.ClientName,
		Timeout:       c.cfg.ConnectTimeout,
		MaxReconnects: dialMaxReconnects,
		ReconnectWait: dialReconnectWait,
	})
	if err != nil {
		c.setState(StateFailed)
		return &ConnectionError{Addr: c.cfg.HeadNode, Op: "connect", Err: err}
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateDiscovering
	c.mu.Unlock()

	c.log.Info("connected to head node", zap.String("head_node", c.cfg.HeadNode))
	return nil
}

// DiscoverNodes issues one discovery request per node concurrently, then
// waits the settle delay so out-of-band registration can complete before
// submission. Discovery proves address resolution only, never that a
// node can execute work.
//
// A request that cannot be issued means the transport itself is broken,
// so the first such failure fails the run as a *ConnectionError.
func (c *Coordinator) DiscoverNodes(ctx context.Context) error {
	conn, err := c.connFor("discover", StateDiscovering)
	if err != nil {
		return err
	}

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for _, name := range c.cfg.Nodes {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := conn.DiscoverNode(ctx, name); err != nil {
				c.setNodeStatus(name, NodeUnreachable)
				errOnce.Do(func() { firstErr = err })
				c.log.Warn("discovery request failed",
					zap.String("node", name), zap.Error(err))
				return
			}
			c.setNodeStatus(name, NodeReachable)
		}(name)
	}
	wg.Wait()

	if firstErr != nil {
		c.setState(StateFailed)
		return &ConnectionError{Addr: c.cfg.HeadNode, Op: "discover", Err: firstErr}
	}

	settle := c.cfg.SettleDelay()
	c.log.Debug("discovery fan-out complete, settling",
		zap.Int("nodes", len(c.cfg.Nodes)), zap.Duration("settle", settle))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(settle):
	}
	return nil
}

// SubmitProbes dispatches one liveness probe per node, each under the job
// id "<purpose>-<node>". Submission failure is fatal for the whole run:
// the coordinator moves to StateFailed and the caller proceeds straight
// to Shutdown without waiting on the other handles.
func (c *Coordinator) SubmitProbes(ctx context.Context) ([]Handle, error) {
	conn, err := c.connFor("submit", StateDiscovering)
	if err != nil {
		return nil, err
	}

	handles := make([]Handle, len(c.cfg.Nodes))
	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		fatal   *SubmissionError
	)
	for i, name := range c.cfg.Nodes {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			job := Job{
				ID:          c.cfg.JobID(name),
				Node:        name,
				Kind:        LivenessProbe,
				SubmittedAt: time.Now().UTC(),
			}
			h, err := conn.Submit(ctx, job)
			if err != nil {
				errOnce.Do(func() {
					fatal = &SubmissionError{Node: name, JobID: job.ID, Err: err}
				})
				return
			}
			handles[i] = h
		}(i, name)
	}
	wg.Wait()

	if fatal != nil {
		c.setState(StateFailed)
		return nil, fatal
	}

	c.setState(StateAwaitingJobs)
	c.log.Debug("probes submitted", zap.Int("count", len(handles)))
	return handles, nil
}

// AwaitAll blocks until every handle resolves or the shared deadline
// elapses, and returns exactly one Result per handle, keyed by node. No
// handle is ever omitted: a handle unresolved at the deadline yields
// OutcomeTimedOut.
//
// A submission rejection aborts the wait early: the run is already known
// to fail, so outstanding handles resolve immediately as aborted
// failures instead of burning the rest of the deadline, and the
// rejection is returned as a *SubmissionError.
func (c *Coordinator) AwaitAll(ctx context.Context, handles []Handle) (map[string]Result, error) {
	c.mu.Lock()
	if c.state != StateAwaitingJobs {
		st := c.state
		c.mu.Unlock()
		return nil, &StateError{Op: "await", State: st}
	}
	c.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.AwaitTimeout)
	defer cancel()

	type resolution struct {
		job Job
		res ProbeResult
		err error
	}
	ch := make(chan resolution, len(handles))
	for _, h := range handles {
		go func(h Handle) {
			select {
			case <-h.Done():
				r, err := h.Result()
				ch <- resolution{job: h.Job(), res: r, err: err}
			case <-waitCtx.Done():
				ch <- resolution{job: h.Job(), err: waitCtx.Err()}
			}
		}(h)
	}

	results := make(map[string]Result, len(handles))
	var fatal error
	for range handles {
		r := <-ch
		out := Result{
			JobID:   r.job.ID,
			Node:    r.job.Node,
			Elapsed: time.Since(r.job.SubmittedAt),
		}
		switch {
		case r.err == nil:
			out.Outcome = r.res.Outcome
			out.Detail = r.res.Detail
		case errors.Is(r.err, ErrSubmissionRejected):
			out.Outcome = OutcomeFailure
			out.Detail = r.err.Error()
			if fatal == nil {
				fatal = &SubmissionError{Node: r.job.Node, JobID: r.job.ID, Err: r.err}
				// Run already failed; release the remaining waits now.
				cancel()
			}
		case errors.Is(r.err, context.DeadlineExceeded):
			out.Outcome = OutcomeTimedOut
			out.Detail = "no result within deadline"
		case errors.Is(r.err, context.Canceled):
			out.Outcome = OutcomeFailure
			out.Detail = "wait aborted"
		default:
			out.Outcome = OutcomeFailure
			out.Detail = r.err.Error()
		}
		results[out.Node] = out
		c.log.Debug("job resolved",
			zap.String("job_id", out.JobID),
			zap.String("node", out.Node),
			zap.String("outcome", string(out.Outcome)),
			zap.Duration("elapsed", out.Elapsed))
	}

	if fatal != nil {
		c.setState(StateFailed)
		return results, fatal
	}
	if err := ctx.Err(); err != nil {
		c.setState(StateFailed)
		return results, err
	}

	verified := true
	for _, r := range results {
		if r.Outcome != OutcomeSuccess {
			verified = false
			break
		}
	}
	if verified {
		c.setState(StateVerified)
	} else {
		c.setState(StateFailed)
	}
	return results, nil
}

// Shutdown releases the backend connection. It is idempotent, legal from
// any state, and a no-op when the coordinator never connected. A release
// failure is reported as *ShutdownError but never re-attempted.
func (c *Coordinator) Shutdown() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		from := c.state
		c.state = StateShutDown
		c.mu.Unlock()

		if conn == nil {
			c.log.Debug("shutdown without connection", zap.String("from_state", from.String()))
			return
		}
		if err := conn.Close(); err != nil {
			c.closeErr = &ShutdownError{Err: err}
			c.log.Warn("backend release failed", zap.Error(err))
			return
		}
		c.log.Debug("coordinator shut down", zap.String("from_state", from.String()))
	})
	return c.closeErr
}

func (c *Coordinator) transition(op string, from, to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return &StateError{Op: op, State: c.state}
	}
	c.state = to
	return nil
}

// connFor returns the live connection when the coordinator is in want.
func (c *Coordinator) connFor(op string, want State) (Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != want {
		return nil, &StateError{Op: op, State: c.state}
	}
	return c.conn, nil
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Coordinator) setNodeStatus(name string, st NodeStatus) {
	c.mu.Lock()
	if n, ok := c.nodes[name]; ok {
		n.Status = st
	}
	c.mu.Unlock()
}
