// Package preflight runs environment readiness checks before a campaign.
//
// Preflight is a capability contract, not a data operation. It answers
// "will this campaign be able to run" without performing the campaign:
// is the archive root readable, is the intake repository laid out, can
// the store be opened and migrated, is the output path writable, do the
// mirror credentials work, and (on request) does the cluster head node
// accept connections.
//
// Checks never abort the sweep. Run always returns the full record with
// per-check outcomes so operators see every problem at once.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gnssops/rinextank/pkg/archivestore"
	"github.com/gnssops/rinextank/pkg/cluster"
	natsbackend "github.com/gnssops/rinextank/pkg/cluster/nats"
	"github.com/gnssops/rinextank/pkg/manifest"
	"github.com/gnssops/rinextank/pkg/mirror"
	s3mirror "github.com/gnssops/rinextank/pkg/mirror/s3"
	"github.com/gnssops/rinextank/pkg/repository"
)

// Mode defines how aggressive preflight checks are.
//
//   - plan: no environment calls at all, the record lists what would run
//   - check: read-safe environment checks plus store migration
//   - probe: check plus a cluster head node connect
type Mode string

const (
	ModePlan  Mode = "plan"
	ModeCheck Mode = "check"
	ModeProbe Mode = "probe"
)

// RecordVersion identifies the preflight record shape.
const RecordVersion = "1.0"

// Check names are stable strings used in JSONL output and logs.
const (
	CheckArchiveRoot = "archive.root"
	CheckRepository  = "repository.layout"
	CheckStore       = "store.migrate"
	CheckOutput      = "output.writable"
	CheckMirror      = "mirror.list"
	CheckCluster     = "cluster.connect"
)

// CheckResult is one check's outcome.
type CheckResult struct {
	// Name is the stable check name, e.g. "archive.root".
	Name string `json:"name"`

	// Target is what the check examined (a path, bucket, or address).
	Target string `json:"target,omitempty"`

	// OK reports whether the check passed.
	OK bool `json:"ok"`

	// Detail is optional human-readable context for passing checks.
	Detail string `json:"detail,omitempty"`

	// Err is the failure cause when OK is false.
	Err string `json:"error,omitempty"`
}

// Record is the complete outcome of one preflight sweep.
type Record struct {
	Version   string        `json:"version"`
	Mode      string        `json:"mode"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	Checks    []CheckResult `json:"checks"`

	// OK is true when every executed check passed.
	OK bool `json:"ok"`
}

// Config selects what to verify.
type Config struct {
	// Mode selects the check depth. Default: check.
	Mode Mode

	// Manifest is the campaign under scrutiny. Required.
	Manifest *manifest.Manifest

	// Backend overrides the cluster transport for probe mode. Nil uses
	// the NATS backend with the manifest's subject prefix.
	Backend cluster.Backend

	// ConnectTimeout bounds the cluster connect in probe mode.
	// Default: 5s.
	ConnectTimeout time.Duration

	// OpenMirror overrides mirror construction, mainly for tests. Nil
	// uses the S3 mirror built from the manifest's archive section.
	OpenMirror func(ctx context.Context, cfg s3mirror.Config) (mirror.Provider, error)
}

// Run executes the preflight sweep. It returns an error only for
// configuration problems; failing checks are reported in the record.
func Run(ctx context.Context, cfg Config) (*Record, error) {
	if cfg.Manifest == nil {
		return nil, errors.New("preflight: manifest is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeCheck
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	rec := &Record{
		Version:   RecordVersion,
		Mode:      string(cfg.Mode),
		StartedAt: time.Now().UTC(),
		Checks:    []CheckResult{},
		OK:        true,
	}

	if cfg.Mode == ModePlan {
		rec.Elapsed = time.Since(rec.StartedAt)
		return rec, nil
	}

	m := cfg.Manifest

	switch m.Archive.Source {
	case manifest.SourceS3:
		rec.add(checkMirror(ctx, cfg))
	default:
		rec.add(checkArchiveRoot(m.Archive.Root))
	}

	if m.Archive.Repository != "" {
		rec.add(checkRepository(m.Archive.Repository))
	}
	if m.Store.DSN != "" {
		rec.add(checkStore(ctx, m.Store.DSN))
	}
	rec.add(checkOutput(m.Output.Path))

	if cfg.Mode == ModeProbe && m.Cluster.Enabled {
		rec.add(checkCluster(ctx, cfg))
	}

	rec.Elapsed = time.Since(rec.StartedAt)
	return rec, nil
}

func (r *Record) add(c CheckResult) {
	r.Checks = append(r.Checks, c)
	if !c.OK {
		r.OK = false
	}
}

// Failed returns the checks that did not pass.
func (r *Record) Failed() []CheckResult {
	var out []CheckResult
	for _, c := range r.Checks {
		if !c.OK {
			out = append(out, c)
		}
	}
	return out
}

func checkArchiveRoot(root string) CheckResult {
	res := CheckResult{Name: CheckArchiveRoot, Target: root}
	info, err := os.Stat(root)
	if err != nil {
		res.Err = err.Error()
		return res
	}
	if !info.IsDir() {
		res.Err = fmt.Sprintf("%s is not a directory", root)
		return res
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		res.Err = fmt.Sprintf("not readable: %v", err)
		return res
	}
	res.OK = true
	res.Detail = fmt.Sprintf("%d top-level entries", len(entries))
	return res
}

func checkRepository(root string) CheckResult {
	res := CheckResult{Name: CheckRepository, Target: root}
	layout := repository.NewLayout(root)
	if layout.Present() {
		res.OK = true
		res.Detail = "intake directories present"
		return res
	}
	// Not present: passes if the root itself is a writable location,
	// since Ensure can create the layout at campaign start.
	info, err := os.Stat(root)
	if err != nil {
		res.Err = fmt.Sprintf("intake layout absent and root unavailable: %v", err)
		return res
	}
	if !info.IsDir() {
		res.Err = fmt.Sprintf("%s is not a directory", root)
		return res
	}
	res.OK = true
	res.Detail = "intake directories absent, will be created"
	return res
}

func checkStore(ctx context.Context, dsn string) CheckResult {
	res := CheckResult{Name: CheckStore, Target: dsn}
	store, err := archivestore.Open(ctx, dsn)
	if err != nil {
		res.Err = err.Error()
		return res
	}
	defer func() { _ = store.Close() }()

	if err := store.Migrate(ctx); err != nil {
		res.Err = err.Error()
		return res
	}
	res.OK = true
	res.Detail = fmt.Sprintf("driver %s, schema current", store.Driver())
	return res
}

// checkOutput is read-safe: an existing file must be appendable, a
// missing file only needs a writable parent. No file is created.
func checkOutput(path string) CheckResult {
	res := CheckResult{Name: CheckOutput, Target: path}
	if path == "" || path == "-" {
		res.OK = true
		res.Target = "stdout"
		return res
	}

	if f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0); err == nil {
		_ = f.Close()
		res.OK = true
		res.Detail = "existing file is appendable"
		return res
	} else if !os.IsNotExist(err) {
		res.Err = err.Error()
		return res
	}

	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		res.Err = fmt.Sprintf("output directory unavailable: %v", err)
		return res
	}
	if !info.IsDir() {
		res.Err = fmt.Sprintf("%s is not a directory", dir)
		return res
	}
	res.OK = true
	res.Detail = "output directory present"
	return res
}

func checkMirror(ctx context.Context, cfg Config) CheckResult {
	m := cfg.Manifest
	res := CheckResult{Name: CheckMirror, Target: m.Archive.Bucket}

	mcfg := s3mirror.Config{
		Bucket:   m.Archive.Bucket,
		Region:   m.Archive.Region,
		Endpoint: m.Archive.Endpoint,
		Profile:  m.Archive.Profile,
	}
	open := cfg.OpenMirror
	if open == nil {
		open = func(ctx context.Context, cfg s3mirror.Config) (mirror.Provider, error) {
			return s3mirror.New(ctx, cfg)
		}
	}

	prov, err := open(ctx, mcfg)
	if err != nil {
		res.Err = err.Error()
		return res
	}
	defer func() { _ = prov.Close() }()

	if _, err := prov.List(ctx, mirror.ListOptions{Prefix: m.Archive.Root, MaxKeys: 1}); err != nil {
		res.Err = err.Error()
		return res
	}
	res.OK = true
	res.Detail = fmt.Sprintf("List(prefix=%q,maxKeys=1) permitted", m.Archive.Root)
	return res
}

func checkCluster(ctx context.Context, cfg Config) CheckResult {
	m := cfg.Manifest
	res := CheckResult{Name: CheckCluster, Target: m.Cluster.HeadNode}

	backend := cfg.Backend
	if backend == nil {
		backend = natsbackend.NewBackend(m.Cluster.SubjectPrefix)
	}

	conn, err := backend.Connect(ctx, m.Cluster.HeadNode, cluster.ConnectOptions{
		Name:    "rinextank-preflight",
		Timeout: cfg.ConnectTimeout,
	})
	if err != nil {
		res.Err = err.Error()
		return res
	}
	if err := conn.Close(); err != nil {
		res.Err = fmt.Sprintf("close after connect: %v", err)
		return res
	}
	res.OK = true
	res.Detail = "head node accepted connection"
	return res
}
