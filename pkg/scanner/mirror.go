package scanner

import (
	"context"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/gnssops/rinextank/pkg/match"
	"github.com/gnssops/rinextank/pkg/mirror"
	"github.com/gnssops/rinextank/pkg/rinex"
)

// ScanMirror lists an object-store mirror of the archive and classifies
// every key's basename. Matcher include patterns narrow the listing to
// their literal prefixes so that a scan of a scoped campaign does not
// page through the whole bucket.
//
// Keys are matched and classified relative to basePrefix. A listing
// failure under one prefix is recorded as a TraversalError for that
// prefix and the remaining prefixes still run; the returned error is
// non-nil only on context cancellation.
func (s *Scanner) ScanMirror(ctx context.Context, src mirror.Provider, basePrefix string) (*Result, error) {
	prefixes := s.listPrefixes(basePrefix)

	col := &collector{}
	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, prefix := range prefixes {
		select {
		case <-ctx.Done():
			wg.Wait()
			return col.result(), ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(prefix string) {
			defer wg.Done()
			defer func() { <-sem }()
			s.scanPrefix(ctx, src, basePrefix, prefix, col)
		}(prefix)
	}
	wg.Wait()

	res := col.result()
	if err := ctx.Err(); err != nil {
		return res, err
	}

	s.log.Debug("mirror scan complete",
		zap.String("prefix", basePrefix),
		zap.Int("list_prefixes", len(prefixes)),
		zap.Int("entries", len(res.Entries)),
		zap.Int("traversal_errors", len(res.Errors)))
	return res, nil
}

// listPrefixes combines the base prefix with the matcher's derived
// literal prefixes. No matcher, or a matcher with no usable prefix,
// collapses to the base prefix alone.
func (s *Scanner) listPrefixes(basePrefix string) []string {
	if s.cfg.Matcher == nil {
		return []string{basePrefix}
	}
	derived := s.cfg.Matcher.Prefixes()
	if len(derived) == 0 {
		return []string{basePrefix}
	}
	out := make([]string, 0, len(derived))
	for _, p := range derived {
		out = append(out, basePrefix+p)
	}
	return out
}

// scanPrefix pages through one listing prefix, classifying as it goes.
func (s *Scanner) scanPrefix(ctx context.Context, src mirror.Provider, basePrefix, prefix string, col *collector) {
	var token string
	for {
		if err := s.waitForRateLimit(ctx); err != nil {
			return
		}

		page, err := src.List(ctx, mirror.ListOptions{
			Prefix:            prefix,
			ContinuationToken: token,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Debug("mirror listing failed", zap.String("prefix", prefix), zap.Error(err))
			col.addError(TraversalError{Path: prefix, Err: err})
			return
		}
		s.dirsVisited.Add(1)

		for _, obj := range page.Objects {
			rel := strings.TrimPrefix(obj.Key, basePrefix)
			if !s.cfg.IncludeHidden && match.IsHidden(rel) {
				continue
			}
			s.filesSeen.Add(1)
			if s.cfg.Matcher != nil && !s.cfg.Matcher.Match(rel) {
				continue
			}
			if e, ok := rinex.Classify(path.Base(obj.Key)); ok {
				e.Path = obj.Key
				col.addEntry(e)
			}
		}

		if !page.IsTruncated || page.ContinuationToken == "" {
			return
		}
		token = page.ContinuationToken
	}
}
