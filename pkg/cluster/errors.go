package cluster

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification with errors.Is.
var (
	// ErrInvalidConfig indicates the run configuration failed validation.
	ErrInvalidConfig = errors.New("invalid cluster config")

	// ErrSubmissionRejected indicates no node accepted a submitted job.
	// Rejection signals a protocol or version mismatch, not a transient
	// fault, and is fatal to the whole run.
	ErrSubmissionRejected = errors.New("submission rejected")
)

// StateError reports an operation invoked outside its legal state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cluster: %s invalid in state %s", e.Op, e.State)
}

// ConnectionError reports that the backend could not be reached or a
// transport request could not be issued. Fatal to the run; retry policy
// belongs to the caller.
type ConnectionError struct {
	Addr string
	Op   string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cluster: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// SubmissionError reports a job that could not be handed to its node.
type SubmissionError struct {
	Node  string
	JobID string
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("cluster: submit %s to node %s: %v", e.JobID, e.Node, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// ShutdownError reports that releasing the backend connection failed.
// Never escalated: shutdown runs on every exit path, including runs that
// already failed.
type ShutdownError struct {
	Err error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("cluster: shutdown: %v", e.Err)
}

func (e *ShutdownError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is a fatal transport error.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsSubmissionError reports whether err is a fatal submission failure.
func IsSubmissionError(err error) bool {
	var se *SubmissionError
	return errors.As(err, &se)
}
