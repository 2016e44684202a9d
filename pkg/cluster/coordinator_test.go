package cluster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHandle implements Handle with scripted resolution.
type fakeHandle struct {
	job  Job
	done chan struct{}
	res  ProbeResult
	err  error
}

func resolvedHandle(res ProbeResult, err error) *fakeHandle {
	done := make(chan struct{})
	close(done)
	return &fakeHandle{done: done, res: res, err: err}
}

func pendingHandle() *fakeHandle {
	return &fakeHandle{done: make(chan struct{})}
}

func (h *fakeHandle) resolveAfter(d time.Duration, res ProbeResult, err error) *fakeHandle {
	time.AfterFunc(d, func() {
		h.res = res
		h.err = err
		close(h.done)
	})
	return h
}

func (h *fakeHandle) Job() Job                    { return h.job }
func (h *fakeHandle) Done() <-chan struct{}       { return h.done }
func (h *fakeHandle) Result() (ProbeResult, error) { return h.res, h.err }

// fakeConn implements Conn with per-node scripted behavior.
type fakeConn struct {
	mu            sync.Mutex
	discoverDelay time.Duration
	discoverErr   map[string]error
	discovered    []string
	submitErr     map[string]error
	submitted     []Job
	handles       map[string]*fakeHandle // node -> prepared handle
	closeCalls    int
	closeErr      error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		discoverErr: make(map[string]error),
		submitErr:   make(map[string]error),
		handles:     make(map[string]*fakeHandle),
	}
}

func (f *fakeConn) DiscoverNode(ctx context.Context, node string) error {
	if f.discoverDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.discoverDelay):
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.discoverErr[node]; err != nil {
		return err
	}
	f.discovered = append(f.discovered, node)
	return nil
}

func (f *fakeConn) Submit(ctx context.Context, job Job) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.submitErr[job.Node]; err != nil {
		return nil, err
	}
	f.submitted = append(f.submitted, job)

	h := f.handles[job.Node]
	if h == nil {
		h = resolvedHandle(ProbeResult{Outcome: OutcomeSuccess, Detail: "ok"}, nil)
	}
	h.job = job
	return h, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return f.closeErr
}

func (f *fakeConn) discoveredNodes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.discovered))
	copy(out, f.discovered)
	return out
}

// fakeBackend implements Backend, handing out a single fakeConn.
type fakeBackend struct {
	mu         sync.Mutex
	connectErr error
	conn       *fakeConn
	gotAddr    string
	gotOpts    ConnectOptions
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{conn: newFakeConn()}
}

func (b *fakeBackend) Connect(ctx context.Context, addr string, opts ConnectOptions) (Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gotAddr = addr
	b.gotOpts = opts
	if b.connectErr != nil {
		return nil, b.connectErr
	}
	return b.conn, nil
}

// testConfig keeps the settle delay at 10ms so tests stay fast.
func testConfig(nodes ...string) Config {
	return Config{
		HeadNode:     "nats://head:4222",
		Nodes:        nodes,
		PingInterval: 5 * time.Millisecond,
		AwaitTimeout: time.Second,
	}
}

// readyCoordinator drives a coordinator through connect and discovery.
func readyCoordinator(t *testing.T, b *fakeBackend, cfg Config) *Coordinator {
	t.Helper()
	c, err := New(b, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.DiscoverNodes(context.Background()))
	return c
}

func TestNew_Validation(t *testing.T) {
	b := newFakeBackend()

	_, err := New(nil, testConfig("a"), nil)
	assert.Error(t, err)

	_, err = New(b, Config{Nodes: []string{"a"}}, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = New(b, Config{HeadNode: "nats://head:4222"}, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = New(b, testConfig("a", "b", "a"), nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = New(b, testConfig("a", ""), nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(newFakeBackend(), Config{HeadNode: "nats://head:4222", Nodes: []string{"a"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, StateUninitialized, c.State())
	assert.Equal(t, DefaultPingInterval, c.cfg.PingInterval)
	assert.Equal(t, DefaultAwaitTimeout, c.cfg.AwaitTimeout)
	assert.Equal(t, DefaultPurpose, c.cfg.Purpose)

	for _, n := range c.Nodes() {
		assert.Equal(t, NodeUnknown, n.Status)
	}
}

func TestConfig_SettleDelay(t *testing.T) {
	cfg := Config{PingInterval: 3 * time.Second}
	assert.Equal(t, 6*time.Second, cfg.SettleDelay())
}

func TestConfig_JobID(t *testing.T) {
	cfg := Config{Purpose: "liveness"}
	assert.Equal(t, "liveness-nodeA", cfg.JobID("nodeA"))
}

func TestCoordinator_Connect(t *testing.T) {
	b := newFakeBackend()
	c, err := New(b, testConfig("a"), nil)
	require.NoError(t, err)

	require.NoError(t, c.Connect(context.Background()))

	assert.Equal(t, StateDiscovering, c.State())
	assert.Equal(t, "nats://head:4222", b.gotAddr)
	assert.Equal(t, DefaultClientName, b.gotOpts.Name)
	assert.Equal(t, DefaultConnectTimeout, b.gotOpts.Timeout)
}

func TestCoordinator_Connect_BackendUnreachable(t *testing.T) {
	b := newFakeBackend()
	b.connectErr = errors.New("dial tcp: connection refused")

	c, err := New(b, testConfig("a"), nil)
	require.NoError(t, err)

	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
	assert.Contains(t, err.Error(), "nats://head:4222")
	assert.Equal(t, StateFailed, c.State())
}

func TestCoordinator_Connect_Twice(t *testing.T) {
	b := newFakeBackend()
	c, err := New(b, testConfig("a"), nil)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))

	err = c.Connect(context.Background())
	var se *StateError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "connect", se.Op)
}

func TestCoordinator_DiscoverNodes(t *testing.T) {
	b := newFakeBackend()
	c, err := New(b, testConfig("a", "b", "c"), nil)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))

	start := time.Now()
	require.NoError(t, c.DiscoverNodes(context.Background()))
	elapsed := time.Since(start)

	assert.ElementsMatch(t, []string{"a", "b", "c"}, b.conn.discoveredNodes())
	assert.GreaterOrEqual(t, elapsed, c.cfg.SettleDelay())
	for _, n := range c.Nodes() {
		assert.Equal(t, NodeReachable, n.Status)
	}
	assert.Equal(t, StateDiscovering, c.State())
}

func TestCoordinator_DiscoverNodes_FanOut(t *testing.T) {
	b := newFakeBackend()
	b.conn.discoverDelay = 50 * time.Millisecond

	c, err := New(b, testConfig("a", "b", "c"), nil)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))

	start := time.Now()
	require.NoError(t, c.DiscoverNodes(context.Background()))
	elapsed := time.Since(start)

	// Serial discovery would take 3x50ms plus the settle delay. Use a
	// generous bound to stay stable on loaded machines while still
	// proving requests overlap.
	assert.Less(t, elapsed, 140*time.Millisecond, "discovery requests should fan out concurrently")
}

func TestCoordinator_DiscoverNodes_RequestFailure(t *testing.T) {
	b := newFakeBackend()
	b.conn.discoverErr["b"] = errors.New("connection lost")

	c, err := New(b, testConfig("a", "b"), nil)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))

	err = c.DiscoverNodes(context.Background())
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
	assert.Equal(t, StateFailed, c.State())

	for _, n := range c.Nodes() {
		if n.Name == "b" {
			assert.Equal(t, NodeUnreachable, n.Status)
		}
	}
}

func TestCoordinator_SubmitProbes(t *testing.T) {
	b := newFakeBackend()
	c := readyCoordinator(t, b, testConfig("a", "b", "c"))

	handles, err := c.SubmitProbes(context.Background())
	require.NoError(t, err)
	require.Len(t, handles, 3)
	assert.Equal(t, StateAwaitingJobs, c.State())

	ids := map[string]bool{}
	for _, h := range handles {
		job := h.Job()
		assert.Equal(t, LivenessProbe, job.Kind)
		assert.False(t, job.SubmittedAt.IsZero())
		assert.Equal(t, "liveness-"+job.Node, job.ID)
		assert.False(t, ids[job.ID], "job id %s reused", job.ID)
		ids[job.ID] = true
	}
}

func TestCoordinator_SubmitProbes_SubmitError(t *testing.T) {
	b := newFakeBackend()
	b.conn.submitErr["b"] = errors.New("connection closed")

	c := readyCoordinator(t, b, testConfig("a", "b"))

	_, err := c.SubmitProbes(context.Background())
	require.Error(t, err)
	assert.True(t, IsSubmissionError(err))
	assert.Equal(t, StateFailed, c.State())

	var se *SubmissionError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "b", se.Node)
	assert.Equal(t, "liveness-b", se.JobID)
}

func TestCoordinator_AwaitAll_AllSuccess(t *testing.T) {
	b := newFakeBackend()
	for _, n := range []string{"a", "b", "c"} {
		b.conn.handles[n] = pendingHandle().resolveAfter(
			10*time.Millisecond, ProbeResult{Outcome: OutcomeSuccess, Detail: "ok"}, nil)
	}

	c := readyCoordinator(t, b, testConfig("a", "b", "c"))
	handles, err := c.SubmitProbes(context.Background())
	require.NoError(t, err)

	results, err := c.AwaitAll(context.Background(), handles)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for _, n := range []string{"a", "b", "c"} {
		r, ok := results[n]
		require.True(t, ok, "missing result for %s", n)
		assert.Equal(t, OutcomeSuccess, r.Outcome)
		assert.Equal(t, "liveness-"+n, r.JobID)
		assert.Greater(t, r.Elapsed, time.Duration(0))
	}
	assert.Equal(t, StateVerified, c.State())
}

func TestCoordinator_AwaitAll_Timeout(t *testing.T) {
	b := newFakeBackend()
	b.conn.handles["a"] = resolvedHandle(ProbeResult{Outcome: OutcomeSuccess, Detail: "ok"}, nil)
	b.conn.handles["b"] = pendingHandle() // never resolves

	cfg := testConfig("a", "b")
	cfg.AwaitTimeout = 50 * time.Millisecond

	c := readyCoordinator(t, b, cfg)
	handles, err := c.SubmitProbes(context.Background())
	require.NoError(t, err)

	results, err := c.AwaitAll(context.Background(), handles)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, OutcomeSuccess, results["a"].Outcome)
	assert.Equal(t, OutcomeTimedOut, results["b"].Outcome)
	assert.Equal(t, StateFailed, c.State())
}

func TestCoordinator_AwaitAll_SubmissionRejected(t *testing.T) {
	b := newFakeBackend()
	b.conn.handles["a"] = pendingHandle()
	b.conn.handles["b"] = pendingHandle()
	b.conn.handles["c"] = pendingHandle().resolveAfter(
		10*time.Millisecond, ProbeResult{}, ErrSubmissionRejected)

	cfg := testConfig("a", "b", "c")
	cfg.AwaitTimeout = 5 * time.Second

	c := readyCoordinator(t, b, cfg)
	handles, err := c.SubmitProbes(context.Background())
	require.NoError(t, err)

	start := time.Now()
	results, err := c.AwaitAll(context.Background(), handles)
	elapsed := time.Since(start)

	// The rejection is known early; the run must not burn the full
	// deadline waiting on the other nodes.
	assert.Less(t, elapsed, time.Second)

	require.Error(t, err)
	assert.True(t, IsSubmissionError(err))
	var se *SubmissionError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "c", se.Node)

	require.Len(t, results, 3)
	assert.Equal(t, OutcomeFailure, results["c"].Outcome)
	assert.Equal(t, OutcomeFailure, results["a"].Outcome)
	assert.Equal(t, OutcomeFailure, results["b"].Outcome)
	assert.Equal(t, StateFailed, c.State())
}

func TestCoordinator_AwaitAll_NodeReportedFailure(t *testing.T) {
	b := newFakeBackend()
	b.conn.handles["a"] = resolvedHandle(ProbeResult{Outcome: OutcomeSuccess, Detail: "ok"}, nil)
	b.conn.handles["b"] = resolvedHandle(ProbeResult{Outcome: OutcomeFailure, Detail: "scratch volume missing"}, nil)

	c := readyCoordinator(t, b, testConfig("a", "b"))
	handles, err := c.SubmitProbes(context.Background())
	require.NoError(t, err)

	results, err := c.AwaitAll(context.Background(), handles)
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailure, results["b"].Outcome)
	assert.Equal(t, "scratch volume missing", results["b"].Detail)
	assert.Equal(t, StateFailed, c.State())
}

func TestCoordinator_Shutdown_Idempotent(t *testing.T) {
	b := newFakeBackend()
	c, err := New(b, testConfig("a"), nil)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.Shutdown())
	require.NoError(t, c.Shutdown())

	assert.Equal(t, 1, b.conn.closeCalls)
	assert.Equal(t, StateShutDown, c.State())
}

func TestCoordinator_Shutdown_NeverConnected(t *testing.T) {
	c, err := New(newFakeBackend(), testConfig("a"), nil)
	require.NoError(t, err)

	assert.NoError(t, c.Shutdown())
	assert.NoError(t, c.Shutdown())
	assert.Equal(t, StateShutDown, c.State())
}

func TestCoordinator_Shutdown_ReleaseError(t *testing.T) {
	b := newFakeBackend()
	b.conn.closeErr = errors.New("flush failed")

	c, err := New(b, testConfig("a"), nil)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))

	err = c.Shutdown()
	var she *ShutdownError
	require.True(t, errors.As(err, &she))

	// Release is attempted exactly once; later calls report the same
	// failure without touching the connection again.
	assert.Equal(t, err, c.Shutdown())
	assert.Equal(t, 1, b.conn.closeCalls)
}

func TestCoordinator_OperationsAfterShutdown(t *testing.T) {
	c, err := New(newFakeBackend(), testConfig("a"), nil)
	require.NoError(t, err)
	require.NoError(t, c.Shutdown())

	var se *StateError
	assert.True(t, errors.As(c.Connect(context.Background()), &se))
	assert.True(t, errors.As(c.DiscoverNodes(context.Background()), &se))
	_, err = c.SubmitProbes(context.Background())
	assert.True(t, errors.As(err, &se))
	_, err = c.AwaitAll(context.Background(), nil)
	assert.True(t, errors.As(err, &se))
}
