package mirror

import (
	"errors"
	"fmt"
)

// Sentinel errors for mirror operations.
var (
	// ErrNotFound indicates the requested key does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrBucketNotFound indicates the configured bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnavailable indicates the mirror service is unavailable.
	ErrUnavailable = errors.New("mirror unavailable")

	// ErrThrottled indicates the mirror rate limited the request.
	ErrThrottled = errors.New("request throttled")
)

// Error wraps mirror failures with operation context.
type Error struct {
	// Op is the operation that failed ("List", "Head").
	Op string

	// Mirror is the mirror type.
	Mirror Type

	// Bucket is the bucket name, if applicable.
	Bucket string

	// Key is the object key, if applicable.
	Key string

	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %s/%s: %v", e.Mirror, e.Op, e.Bucket, e.Key, e.Err)
	}
	if e.Bucket != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Mirror, e.Op, e.Bucket, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Mirror, e.Op, e.Err)
}

// Unwrap supports errors.Is/As on the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAccessDenied reports whether err means insufficient permissions.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsInvalidCredentials reports whether err means authentication failed.
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

// IsUnavailable reports whether err means the mirror is unavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsThrottled reports whether err means the mirror throttled us.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}
