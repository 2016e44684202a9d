// Package repository manages the archive intake directory convention.
//
// A repository root carries three intake directories: data_in for files
// awaiting processing, data_in_retry for files that failed a previous
// attempt, and data_rejected for files that are not archive files at
// all. The scanner itself never moves files; quarantining rejects is an
// explicit, opt-in operation.
package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Intake directory names under the repository root.
const (
	DataInDir       = "data_in"
	DataInRetryDir  = "data_in_retry"
	DataRejectedDir = "data_rejected"
)

// Layout locates the intake directories under one repository root.
type Layout struct {
	root string
}

// NewLayout returns the layout rooted at root. The directories are not
// created until Ensure is called.
func NewLayout(root string) Layout {
	return Layout{root: filepath.Clean(root)}
}

// Root returns the repository root.
func (l Layout) Root() string { return l.root }

// DataIn returns the intake directory for new files.
func (l Layout) DataIn() string { return filepath.Join(l.root, DataInDir) }

// DataInRetry returns the intake directory for files to retry.
func (l Layout) DataInRetry() string { return filepath.Join(l.root, DataInRetryDir) }

// DataRejected returns the quarantine directory for non-archive files.
func (l Layout) DataRejected() string { return filepath.Join(l.root, DataRejectedDir) }

// Ensure creates the three intake directories. It is idempotent.
func (l Layout) Ensure(ctx context.Context) error {
	if l.root == "" || l.root == "." {
		return fmt.Errorf("repository root is required")
	}
	for _, dir := range []string{l.DataIn(), l.DataInRetry(), l.DataRejected()} {
		if err := ctx.Err(); err != nil {
			return err
		}
		// #nosec G301 -- intake directories are shared with the processing pipeline
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create intake directory %s: %w", dir, err)
		}
	}
	return nil
}

// Present reports whether every intake directory exists.
func (l Layout) Present() bool {
	for _, dir := range []string{l.DataIn(), l.DataInRetry(), l.DataRejected()} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return false
		}
	}
	return true
}

// Reject moves path into data_rejected. When a file of the same name is
// already quarantined, a numeric suffix keeps both. Returns the final
// quarantined path.
func (l Layout) Reject(path string) (string, error) {
	base := filepath.Base(path)
	dest := filepath.Join(l.DataRejected(), base)

	for i := 1; ; i++ {
		if _, err := os.Lstat(dest); os.IsNotExist(err) {
			break
		}
		ext := filepath.Ext(base)
		stem := base[:len(base)-len(ext)]
		dest = filepath.Join(l.DataRejected(), fmt.Sprintf("%s.%d%s", stem, i, ext))
	}

	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("quarantine %s: %w", path, err)
	}
	return dest, nil
}
