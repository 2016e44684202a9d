// Package mirror abstracts listing of remote archive mirrors.
//
// A mirror is an object store holding a copy of the station archive tree.
// Implementations expose listing and metadata only; the scanner classifies
// key basenames exactly as it classifies local filenames, and nothing here
// ever reads object content.
package mirror

import (
	"context"
	"time"
)

// Provider lists objects on one archive mirror.
//
// Implementations must be safe for concurrent use and should rely on the
// SDK default credential chain rather than custom auth logic.
type Provider interface {
	// List returns one page of objects under the given prefix. Use the
	// ContinuationToken from the result to fetch subsequent pages.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// Head returns metadata for a single key. Returns ErrNotFound when
	// the key does not exist.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// Close releases resources held by the provider.
	Close() error
}

// ListOptions configures a List call.
type ListOptions struct {
	// Prefix restricts the listing to keys starting with this value.
	Prefix string

	// ContinuationToken resumes a previous listing. Empty starts over.
	ContinuationToken string

	// MaxKeys caps the page size. Zero uses the mirror default.
	MaxKeys int
}

// ListResult is one page of a listing.
type ListResult struct {
	Objects []ObjectInfo

	// ContinuationToken fetches the next page; empty means done.
	ContinuationToken string

	// IsTruncated reports whether more pages remain.
	IsTruncated bool
}

// ObjectInfo describes one mirrored object.
type ObjectInfo struct {
	// Key is the full object key in the mirror.
	Key string

	// Size is the object size in bytes.
	Size int64

	// LastModified is the mirror's modification timestamp.
	LastModified time.Time
}

// Type identifies a mirror implementation.
type Type string

// S3 is AWS S3 or any S3-compatible store.
const S3 Type = "s3"

func (t Type) String() string {
	return string(t)
}
