package verify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnssops/rinextank/pkg/cluster"
)

// stubHandle resolves with a scripted result, optionally after a delay.
type stubHandle struct {
	job  cluster.Job
	done chan struct{}
	res  cluster.ProbeResult
	err  error
}

func newStubHandle(delay time.Duration, res cluster.ProbeResult, err error) *stubHandle {
	h := &stubHandle{done: make(chan struct{}), res: res, err: err}
	if delay <= 0 {
		close(h.done)
		return h
	}
	time.AfterFunc(delay, func() { close(h.done) })
	return h
}

func (h *stubHandle) Job() cluster.Job                     { return h.job }
func (h *stubHandle) Done() <-chan struct{}                { return h.done }
func (h *stubHandle) Result() (cluster.ProbeResult, error) { return h.res, h.err }

// pendingStub never resolves on its own.
func pendingStub() *stubHandle {
	return &stubHandle{done: make(chan struct{})}
}

type stubConn struct {
	mu          sync.Mutex
	discoverErr error
	submitErr   map[string]error
	handles     map[string]*stubHandle
	closeCalls  int
	closeErr    error
}

func newStubConn() *stubConn {
	return &stubConn{
		submitErr: make(map[string]error),
		handles:   make(map[string]*stubHandle),
	}
}

func (s *stubConn) DiscoverNode(ctx context.Context, node string) error {
	return s.discoverErr
}

func (s *stubConn) Submit(ctx context.Context, job cluster.Job) (cluster.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.submitErr[job.Node]; err != nil {
		return nil, err
	}
	h := s.handles[job.Node]
	if h == nil {
		h = newStubHandle(0, cluster.ProbeResult{Outcome: cluster.OutcomeSuccess, Detail: "ok"}, nil)
	}
	h.job = job
	return h, nil
}

func (s *stubConn) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	return s.closeErr
}

func (s *stubConn) closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

type stubBackend struct {
	connectErr error
	conn       *stubConn
}

func newStubBackend() *stubBackend {
	return &stubBackend{conn: newStubConn()}
}

func (b *stubBackend) Connect(ctx context.Context, addr string, opts cluster.ConnectOptions) (cluster.Conn, error) {
	if b.connectErr != nil {
		return nil, b.connectErr
	}
	return b.conn, nil
}

// capturingRecorder remembers every verdict it was asked to persist.
type capturingRecorder struct {
	mu       sync.Mutex
	verdicts []*Verdict
	err      error
}

func (r *capturingRecorder) RecordRun(ctx context.Context, v *Verdict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verdicts = append(r.verdicts, v)
	return r.err
}

func runConfig(nodes ...string) cluster.Config {
	return cluster.Config{
		HeadNode:     "nats://head:4222",
		Nodes:        nodes,
		PingInterval: 5 * time.Millisecond,
		AwaitTimeout: time.Second,
	}
}

func TestRunner_Run_AllNodesSucceed(t *testing.T) {
	b := newStubBackend()
	rec := &capturingRecorder{}

	r := New(b, runConfig("a", "b", "c"), nil).WithRecorder(rec)
	v, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Verified, v.Overall)
	require.Len(t, v.PerNode, 3)
	for _, n := range []string{"a", "b", "c"} {
		assert.Equal(t, cluster.OutcomeSuccess, v.PerNode[n].Outcome)
	}
	assert.Empty(t, v.FailedNode)
	assert.Greater(t, v.Elapsed, time.Duration(0))
	assert.False(t, v.StartedAt.IsZero())
	require.Len(t, v.Nodes, 3)
	for _, n := range v.Nodes {
		assert.Equal(t, cluster.NodeReachable, n.Status)
	}

	// Shutdown is part of the run, success included.
	assert.Equal(t, 1, b.conn.closed())
	require.Len(t, rec.verdicts, 1)
	assert.Equal(t, Verified, rec.verdicts[0].Overall)
}

func TestRunner_Run_InvalidConfig(t *testing.T) {
	r := New(newStubBackend(), cluster.Config{}, nil)

	v, err := r.Run(context.Background())
	assert.Nil(t, v)
	assert.True(t, errors.Is(err, cluster.ErrInvalidConfig))
}

func TestRunner_Run_ConnectFailure(t *testing.T) {
	b := newStubBackend()
	b.connectErr = errors.New("dial tcp: connection refused")
	rec := &capturingRecorder{}

	r := New(b, runConfig("a"), nil).WithRecorder(rec)
	v, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Failed, v.Overall)
	assert.Contains(t, v.Cause, "connection refused")
	assert.Empty(t, v.PerNode)
	assert.Equal(t, 0, b.conn.closed()) // never connected, shutdown is a no-op
	require.Len(t, rec.verdicts, 1)
}

func TestRunner_Run_SubmitFailure(t *testing.T) {
	b := newStubBackend()
	b.conn.submitErr["b"] = errors.New("connection closed")

	r := New(b, runConfig("a", "b"), nil)
	v, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Failed, v.Overall)
	assert.Equal(t, "b", v.FailedNode)
	require.Contains(t, v.PerNode, "b")
	assert.Equal(t, cluster.OutcomeFailure, v.PerNode["b"].Outcome)
	assert.Equal(t, 1, b.conn.closed())
}

func TestRunner_Run_SubmissionRejected(t *testing.T) {
	b := newStubBackend()
	b.conn.handles["a"] = pendingStub()
	b.conn.handles["b"] = pendingStub()
	b.conn.handles["c"] = newStubHandle(10*time.Millisecond, cluster.ProbeResult{}, cluster.ErrSubmissionRejected)

	cfg := runConfig("a", "b", "c")
	cfg.AwaitTimeout = 5 * time.Second

	r := New(b, cfg, nil)
	start := time.Now()
	v, err := r.Run(context.Background())
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Equal(t, Failed, v.Overall)
	assert.Equal(t, "c", v.FailedNode)
	require.Len(t, v.PerNode, 3)
	assert.Equal(t, cluster.OutcomeFailure, v.PerNode["c"].Outcome)

	// The rejection aborts the wait; the run must finish well before
	// the five second deadline.
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, 1, b.conn.closed())
}

func TestRunner_Run_NodeFailureAttribution(t *testing.T) {
	b := newStubBackend()
	b.conn.handles["b"] = newStubHandle(0, cluster.ProbeResult{Outcome: cluster.OutcomeFailure, Detail: "scratch volume missing"}, nil)
	b.conn.handles["c"] = newStubHandle(0, cluster.ProbeResult{Outcome: cluster.OutcomeFailure, Detail: "gps clock skew"}, nil)

	r := New(b, runConfig("a", "b", "c"), nil)
	v, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Failed, v.Overall)
	// First failing node in configuration order wins attribution.
	assert.Equal(t, "b", v.FailedNode)
	assert.Contains(t, v.Cause, "scratch volume missing")
	assert.Equal(t, 1, v.SuccessCount())
}

func TestRunner_Run_Timeout(t *testing.T) {
	b := newStubBackend()
	b.conn.handles["b"] = pendingStub()

	cfg := runConfig("a", "b")
	cfg.AwaitTimeout = 50 * time.Millisecond

	r := New(b, cfg, nil)
	v, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Failed, v.Overall)
	assert.Equal(t, cluster.OutcomeTimedOut, v.PerNode["b"].Outcome)
	assert.Equal(t, "b", v.FailedNode)
}

func TestRunner_Run_RecorderFailureDoesNotChangeVerdict(t *testing.T) {
	b := newStubBackend()
	rec := &capturingRecorder{err: errors.New("store unavailable")}

	r := New(b, runConfig("a"), nil).WithRecorder(rec)
	v, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Verified, v.Overall)
}

func TestVerdict_Summary(t *testing.T) {
	v := &Verdict{
		Overall: Verified,
		PerNode: map[string]cluster.Result{
			"a": {Outcome: cluster.OutcomeSuccess},
			"b": {Outcome: cluster.OutcomeSuccess},
		},
		Elapsed: 1500 * time.Millisecond,
	}
	assert.Contains(t, v.Summary(), "2/2 nodes ok")

	v = &Verdict{Overall: Failed, Cause: "node b: failure: scratch volume missing"}
	assert.Contains(t, v.Summary(), "scratch volume missing")
}
