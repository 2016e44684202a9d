// Package match filters archive paths with doublestar glob patterns,
// deriving static prefixes so mirror listings can be narrowed up front.
package match

import (
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher evaluates include/exclude patterns against archive paths.
//
// Paths are matched relative to the scan root using forward slashes.
// A path matches when it matches at least one include pattern (or the
// matcher has no includes) and matches no exclude pattern.
//
// A Matcher is safe for concurrent use after construction.
type Matcher struct {
	includes      []string
	excludes      []string
	prefixes      []string
	includeHidden bool
}

// Config configures a Matcher.
type Config struct {
	// Includes are glob patterns a path must match at least one of.
	// Empty means every path is a candidate; scans usually run wide and
	// let the filename grammar decide.
	Includes []string

	// Excludes are glob patterns a path must not match.
	Excludes []string

	// IncludeHidden controls whether dot-prefixed path segments are
	// considered. Default false: snapshot and VCS directories stay out
	// of scans.
	IncludeHidden bool
}

// ErrInvalidPattern is returned when a pattern cannot be compiled.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// PatternError carries the offending pattern alongside the cause.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// Compile validates and compiles the configured patterns.
//
// Every pattern is validated here so Match can never fail later.
func Compile(cfg Config) (*Matcher, error) {
	includes, err := normalizeAll(cfg.Includes)
	if err != nil {
		return nil, err
	}
	excludes, err := normalizeAll(cfg.Excludes)
	if err != nil {
		return nil, err
	}

	return &Matcher{
		includes:      includes,
		excludes:      excludes,
		prefixes:      DerivePrefixes(includes),
		includeHidden: cfg.IncludeHidden,
	}, nil
}

func normalizeAll(patterns []string) ([]string, error) {
	out := make([]string, 0, len(patterns))
	for _, raw := range patterns {
		p := NormalizePath(raw)
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: raw, Err: ErrInvalidPattern}
		}
		out = append(out, p)
	}
	return out, nil
}

// Match reports whether the path passes the configured filters. The path
// is normalized to forward slashes before evaluation.
func (m *Matcher) Match(path string) bool {
	p := NormalizePath(path)

	if !m.includeHidden && IsHidden(p) {
		return false
	}

	if len(m.includes) > 0 {
		matched := false
		for _, inc := range m.includes {
			if matchPattern(inc, p) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, exc := range m.excludes {
		if matchPattern(exc, p) {
			return false
		}
	}

	return true
}

// Prefixes returns the deduplicated static prefixes derived from the
// include patterns. An empty string entry means at least one pattern
// needs a full listing. No includes yields no prefixes.
func (m *Matcher) Prefixes() []string {
	return m.prefixes
}

// IncludePatterns returns the normalized include patterns.
func (m *Matcher) IncludePatterns() []string {
	return append([]string(nil), m.includes...)
}

// ExcludePatterns returns the normalized exclude patterns.
func (m *Matcher) ExcludePatterns() []string {
	return append([]string(nil), m.excludes...)
}

// NormalizePath converts OS path separators to forward slashes.
func NormalizePath(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// IsHidden reports whether any path segment starts with a dot.
func IsHidden(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg != "" && seg != "." && seg != ".." && strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

// matchPattern matches against a pattern validated at compile time.
func matchPattern(pattern, path string) bool {
	ok, err := doublestar.Match(pattern, path)
	if err != nil {
		return false
	}
	return ok
}
