package scanner

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnssops/rinextank/pkg/match"
	"github.com/gnssops/rinextank/pkg/mirror"
)

// fakeMirror implements mirror.Provider over an in-memory key set with
// optional pagination and per-prefix listing failures.
type fakeMirror struct {
	mu       sync.Mutex
	keys     []string
	pageSize int
	listErr  map[string]error // prefix -> error
	prefixes []string         // prefixes requested, in call order
}

func newFakeMirror(keys ...string) *fakeMirror {
	sort.Strings(keys)
	return &fakeMirror{keys: keys, listErr: make(map[string]error)}
}

func (f *fakeMirror) List(ctx context.Context, opts mirror.ListOptions) (*mirror.ListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if opts.ContinuationToken == "" {
		f.prefixes = append(f.prefixes, opts.Prefix)
	}
	if err := f.listErr[opts.Prefix]; err != nil {
		return nil, err
	}

	var matched []string
	for _, k := range f.keys {
		if strings.HasPrefix(k, opts.Prefix) && k > opts.ContinuationToken {
			matched = append(matched, k)
		}
	}

	size := f.pageSize
	if size <= 0 || size > len(matched) {
		size = len(matched)
	}
	page := matched[:size]

	res := &mirror.ListResult{}
	for _, k := range page {
		res.Objects = append(res.Objects, mirror.ObjectInfo{Key: k, Size: 1})
	}
	if len(matched) > size {
		res.IsTruncated = true
		res.ContinuationToken = page[len(page)-1]
	}
	return res, nil
}

func (f *fakeMirror) Head(ctx context.Context, key string) (*mirror.ObjectInfo, error) {
	return nil, mirror.ErrNotFound
}

func (f *fakeMirror) Close() error { return nil }

func (f *fakeMirror) requestedPrefixes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.prefixes))
	copy(out, f.prefixes)
	sort.Strings(out)
	return out
}

func TestScanner_ScanMirror_ClassifiesKeys(t *testing.T) {
	src := newFakeMirror(
		"archive/igs/abcd0010.21d.Z",
		"archive/igs/efgh1230.22o",
		"archive/igs/notes.txt",
		"archive/cors/ijkl3660.99d.Z",
	)

	s := New(Config{})
	res, err := s.ScanMirror(context.Background(), src, "archive/")
	require.NoError(t, err)

	assert.Empty(t, res.Errors)
	assert.Equal(t, []string{
		"archive/cors/ijkl3660.99d.Z",
		"archive/igs/abcd0010.21d.Z",
		"archive/igs/efgh1230.22o",
	}, entryPaths(res))
	assert.Equal(t, []string{"archive/"}, src.requestedPrefixes())
}

func TestScanner_ScanMirror_PrefixFanOut(t *testing.T) {
	src := newFakeMirror(
		"archive/igs/2021/abcd0010.21d.Z",
		"archive/igs/2022/efgh1230.22o",
		"archive/cors/ijkl3660.99d.Z",
	)

	m, err := match.Compile(match.Config{Includes: []string{"igs/2021/**", "igs/2022/**"}})
	require.NoError(t, err)

	s := New(Config{Matcher: m})
	res, err := s.ScanMirror(context.Background(), src, "archive/")
	require.NoError(t, err)

	// Listing is narrowed to the matcher's literal prefixes under the
	// base, so the cors subtree is never paged.
	assert.Equal(t, []string{"archive/igs/2021/", "archive/igs/2022/"}, src.requestedPrefixes())
	assert.Equal(t, []string{
		"archive/igs/2021/abcd0010.21d.Z",
		"archive/igs/2022/efgh1230.22o",
	}, entryPaths(res))
}

func TestScanner_ScanMirror_ListErrorRecorded(t *testing.T) {
	src := newFakeMirror(
		"archive/igs/2021/abcd0010.21d.Z",
		"archive/igs/2022/efgh1230.22o",
	)
	src.listErr["archive/igs/2022/"] = mirror.ErrAccessDenied

	m, err := match.Compile(match.Config{Includes: []string{"igs/2021/**", "igs/2022/**"}})
	require.NoError(t, err)

	s := New(Config{Matcher: m})
	res, err := s.ScanMirror(context.Background(), src, "archive/")
	require.NoError(t, err)

	assert.Equal(t, []string{"archive/igs/2021/abcd0010.21d.Z"}, entryPaths(res))
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "archive/igs/2022/", res.Errors[0].Path)
	assert.True(t, errors.Is(res.Errors[0], mirror.ErrAccessDenied))
}

func TestScanner_ScanMirror_Pagination(t *testing.T) {
	src := newFakeMirror(
		"archive/aaaa0010.21d.Z",
		"archive/bbbb0020.21d.Z",
		"archive/cccc0030.21d.Z",
		"archive/dddd0040.21d.Z",
		"archive/eeee0050.21d.Z",
	)
	src.pageSize = 2

	s := New(Config{})
	res, err := s.ScanMirror(context.Background(), src, "archive/")
	require.NoError(t, err)

	assert.Empty(t, res.Errors)
	assert.Len(t, res.Entries, 5)
}

func TestScanner_ScanMirror_HiddenKeysSkipped(t *testing.T) {
	src := newFakeMirror(
		"archive/.trash/abcd0010.21d.Z",
		"archive/efgh1230.22o",
	)

	s := New(Config{})
	res, err := s.ScanMirror(context.Background(), src, "archive/")
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "archive/efgh1230.22o", res.Entries[0].Path)
}

func TestScanner_ScanMirror_ContextCancellation(t *testing.T) {
	src := newFakeMirror("archive/abcd0010.21d.Z")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(Config{})
	res, err := s.ScanMirror(ctx, src, "archive/")
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, res)
	assert.Empty(t, res.Entries)
}
