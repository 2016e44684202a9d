package match

import (
	"sort"
	"strings"
)

// DerivePrefix extracts the longest static prefix of a glob pattern,
// truncated to a whole path segment. The prefix narrows mirror listings;
// it is only an optimization, so derivation is conservative: the scan
// stops at the first glob metacharacter or backslash.
//
//	"igs/2021/**/*.21o" → "igs/2021/"
//	"*.21d.Z"           → ""
//	"igs/abcd001a.21o"  → "igs/abcd001a.21o"
func DerivePrefix(pattern string) string {
	if pattern == "" {
		return ""
	}

	p := NormalizePath(pattern)
	meta := strings.IndexAny(p, `*?[{\`)
	if meta == -1 {
		return p
	}
	if meta == 0 {
		return ""
	}

	prefix := p[:meta]
	if slash := strings.LastIndex(prefix, "/"); slash >= 0 {
		return prefix[:slash+1]
	}
	return ""
}

// DerivePrefixes derives prefixes for all patterns and drops the ones
// subsumed by a shorter prefix. An empty prefix for any pattern collapses
// the result to [""] (full listing required). Output is sorted.
func DerivePrefixes(patterns []string) []string {
	if len(patterns) == 0 {
		return nil
	}

	prefixes := make([]string, 0, len(patterns))
	for _, p := range patterns {
		prefix := DerivePrefix(p)
		if prefix == "" {
			return []string{""}
		}
		prefixes = append(prefixes, prefix)
	}

	sort.Slice(prefixes, func(i, j int) bool {
		return len(prefixes[i]) < len(prefixes[j])
	})

	kept := make([]string, 0, len(prefixes))
	for _, candidate := range prefixes {
		subsumed := false
		for _, existing := range kept {
			if strings.HasPrefix(candidate, existing) {
				subsumed = true
				break
			}
		}
		if !subsumed {
			kept = append(kept, candidate)
		}
	}

	sort.Strings(kept)
	return kept
}
