package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gnssops/rinextank/pkg/cluster"
)

// Runner executes verification runs. One Runner may execute many runs;
// each run gets a fresh coordinator, so node statuses start from scratch
// every time.
type Runner struct {
	backend cluster.Backend
	cfg     cluster.Config
	rec     Recorder
	log     *zap.Logger
}

// New creates a runner. A nil logger disables logging.
func New(backend cluster.Backend, cfg cluster.Config, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{backend: backend, cfg: cfg, log: log}
}

// WithRecorder attaches an audit recorder. Recording failures are logged
// but never change the verdict.
func (r *Runner) WithRecorder(rec Recorder) *Runner {
	r.rec = rec
	return r
}

// Run executes one verification run and returns its verdict.
//
// The error return is reserved for configuration problems and context
// cancellation; every transport- or node-level failure is folded into a
// Failed verdict with its cause, so callers can apply policy (retry,
// alert, accept) instead of distinguishing panic paths.
func (r *Runner) Run(ctx context.Context) (*Verdict, error) {
	started := time.Now().UTC()

	// A cancel of our own scope releases any probe requests still in
	// flight once the verdict is decided.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	coord, err := cluster.New(r.backend, r.cfg, r.log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if serr := coord.Shutdown(); serr != nil {
			r.log.Warn("cluster shutdown failed", zap.Error(serr))
		}
	}()

	verdict := r.execute(runCtx, coord)
	verdict.StartedAt = started
	verdict.Elapsed = time.Since(started)
	verdict.Nodes = coord.Nodes()

	r.log.Info("verification run finished",
		zap.String("overall", string(verdict.Overall)),
		zap.Int("nodes", len(r.cfg.Nodes)),
		zap.Int("succeeded", verdict.SuccessCount()),
		zap.Duration("elapsed", verdict.Elapsed))

	r.record(ctx, verdict)

	if err := ctx.Err(); err != nil {
		return verdict, err
	}
	return verdict, nil
}

// execute walks the coordinator through connect, discovery, submission
// and the shared wait, reducing every failure mode to a verdict.
func (r *Runner) execute(ctx context.Context, coord *cluster.Coordinator) *Verdict {
	v := &Verdict{
		Overall: Failed,
		PerNode: make(map[string]cluster.Result, len(r.cfg.Nodes)),
	}

	if err := coord.Connect(ctx); err != nil {
		v.Cause = err.Error()
		return v
	}
	if err := coord.DiscoverNodes(ctx); err != nil {
		v.Cause = err.Error()
		return v
	}

	handles, err := coord.SubmitProbes(ctx)
	if err != nil {
		v.Cause = err.Error()
		var se *cluster.SubmissionError
		if errors.As(err, &se) {
			v.FailedNode = se.Node
			v.PerNode[se.Node] = cluster.Result{
				JobID:   se.JobID,
				Node:    se.Node,
				Outcome: cluster.OutcomeFailure,
				Detail:  se.Err.Error(),
			}
		}
		return v
	}

	results, err := coord.AwaitAll(ctx, handles)
	for node, res := range results {
		v.PerNode[node] = res
	}
	if err != nil {
		v.Cause = err.Error()
		var se *cluster.SubmissionError
		if errors.As(err, &se) {
			v.FailedNode = se.Node
		}
		return v
	}

	// Attribute the first failing node in configuration order so the
	// diagnostic is deterministic.
	for _, node := range r.cfg.Nodes {
		res := results[node]
		if res.Outcome != cluster.OutcomeSuccess {
			v.FailedNode = node
			v.Cause = fmt.Sprintf("node %s: %s: %s", node, res.Outcome, res.Detail)
			return v
		}
	}

	v.Overall = Verified
	return v
}

func (r *Runner) record(ctx context.Context, v *Verdict) {
	if r.rec == nil {
		return
	}
	if err := r.rec.RecordRun(ctx, v); err != nil {
		r.log.Warn("verification record not persisted", zap.Error(err))
	}
}
