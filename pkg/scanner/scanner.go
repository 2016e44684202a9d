// Package scanner walks archive trees and classifies every filename under
// the RINEX grammar.
//
// A scan visits directories recursively, fanning out across subdirectories
// with bounded concurrency. Localized failures (an unreadable
// subdirectory) are recorded per path and never abort the rest of the
// walk; the caller decides what to do with partial results.
package scanner

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gnssops/rinextank/pkg/match"
	"github.com/gnssops/rinextank/pkg/rinex"
)

// Config configures scanner behavior.
type Config struct {
	// Concurrency is the number of directory reads (or mirror listings)
	// in flight at once. Default: 4.
	Concurrency int

	// RateLimit caps mirror list requests per second. Zero means
	// unlimited. Has no effect on local scans.
	RateLimit float64

	// Matcher optionally filters paths before classification. Nil means
	// every file is a candidate.
	Matcher *match.Matcher

	// IncludeHidden controls whether dot-prefixed directories and files
	// are visited. Default false.
	IncludeHidden bool

	// OnUnclassified, when set, receives the full path of every regular
	// file that passed the filters but did not classify under the
	// grammar. Called from concurrent walkers; implementations must be
	// safe for that. Quarantine flows hang off this hook.
	OnUnclassified func(path string)

	// Logger receives debug-level traversal detail. Nil means no
	// logging.
	Logger *zap.Logger
}

// DefaultConcurrency is used when Config.Concurrency is not positive.
const DefaultConcurrency = 4

// TraversalError records one path that could not be read during a scan.
type TraversalError struct {
	Path string
	Err  error
}

func (e TraversalError) Error() string {
	return fmt.Sprintf("traverse %s: %v", e.Path, e.Err)
}

// Unwrap supports errors.Is/As on the cause.
func (e TraversalError) Unwrap() error {
	return e.Err
}

// Result is the outcome of one scan invocation, owned by its caller.
//
// Entries form a set keyed by path; ordering follows traversal completion
// and carries no meaning.
type Result struct {
	Entries []rinex.Entry
	Errors  []TraversalError
}

// Stats are aggregate counters valid after a scan completes.
type Stats struct {
	DirsVisited int64
	FilesSeen   int64
	Duration    time.Duration
}

// Scanner executes one scan. Create a new Scanner per invocation.
type Scanner struct {
	cfg     Config
	log     *zap.Logger
	limiter *rate.Limiter

	// readDir is swappable so traversal failures are testable.
	readDir func(string) ([]os.DirEntry, error)

	dirsVisited atomic.Int64
	filesSeen   atomic.Int64
	duration    time.Duration
}

// New creates a scanner, applying defaults for zero values.
func New(cfg Config) *Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Scanner{
		cfg:     cfg,
		log:     log,
		readDir: os.ReadDir,
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return s
}

// Stats returns the traversal counters accumulated by the last scan.
func (s *Scanner) Stats() Stats {
	return Stats{
		DirsVisited: s.dirsVisited.Load(),
		FilesSeen:   s.filesSeen.Load(),
		Duration:    s.duration,
	}
}

// Scan walks the tree rooted at root and classifies every regular file.
//
// The returned error is non-nil only when the root itself cannot be read
// or the context is cancelled; in the latter case the partial Result
// gathered so far is returned alongside the error. All other traversal
// failures are recorded in Result.Errors.
func (s *Scanner) Scan(ctx context.Context, root string) (*Result, error) {
	start := time.Now()
	defer func() { s.duration = time.Since(start) }()

	// A bad root is a caller mistake, not a partial failure.
	if _, err := s.readDir(root); err != nil {
		return nil, fmt.Errorf("scan root %s: %w", root, err)
	}

	col := &collector{}
	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup

	s.walkDir(ctx, root, "", col, &wg, sem)
	wg.Wait()

	res := col.result()
	if err := ctx.Err(); err != nil {
		return res, err
	}

	s.log.Debug("scan complete",
		zap.String("root", root),
		zap.Int("entries", len(res.Entries)),
		zap.Int("traversal_errors", len(res.Errors)),
		zap.Int64("dirs", s.dirsVisited.Load()),
		zap.Int64("files", s.filesSeen.Load()))
	return res, nil
}

// walkDir reads one directory, classifies its files, and descends into
// subdirectories. Descent runs in a fresh goroutine when a semaphore slot
// is free and inline otherwise; blocking on the semaphore is not an
// option, since a parent holding a slot while waiting for its children
// would deadlock.
func (s *Scanner) walkDir(ctx context.Context, dir, rel string, col *collector, wg *sync.WaitGroup, sem chan struct{}) {
	if ctx.Err() != nil {
		return
	}

	ents, err := s.readDir(dir)
	if err != nil {
		s.log.Debug("directory unreadable", zap.String("path", dir), zap.Error(err))
		col.addError(TraversalError{Path: dir, Err: err})
		return
	}
	s.dirsVisited.Add(1)

	for _, ent := range ents {
		if ctx.Err() != nil {
			return
		}

		name := ent.Name()
		if !s.cfg.IncludeHidden && strings.HasPrefix(name, ".") {
			continue
		}

		full := filepath.Join(dir, name)
		childRel := path.Join(rel, name)

		if ent.IsDir() {
			select {
			case sem <- struct{}{}:
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer func() { <-sem }()
					s.walkDir(ctx, full, childRel, col, wg, sem)
				}()
			default:
				s.walkDir(ctx, full, childRel, col, wg, sem)
			}
			continue
		}

		// Symlinks and other irregular entries are not archive files.
		if !ent.Type().IsRegular() {
			continue
		}

		s.filesSeen.Add(1)
		if s.cfg.Matcher != nil && !s.cfg.Matcher.Match(childRel) {
			continue
		}
		if e, ok := rinex.Classify(name); ok {
			e.Path = full
			col.addEntry(e)
		} else if s.cfg.OnUnclassified != nil {
			s.cfg.OnUnclassified(full)
		}
	}
}

// collector merges entries and errors from concurrent walkers. The walk
// visits every path exactly once, so entries stay a set by construction.
type collector struct {
	mu      sync.Mutex
	entries []rinex.Entry
	errors  []TraversalError
}

func (c *collector) addEntry(e rinex.Entry) {
	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.mu.Unlock()
}

func (c *collector) addError(e TraversalError) {
	c.mu.Lock()
	c.errors = append(c.errors, e)
	c.mu.Unlock()
}

func (c *collector) result() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Result{Entries: c.entries, Errors: c.errors}
}

func (s *Scanner) waitForRateLimit(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}
