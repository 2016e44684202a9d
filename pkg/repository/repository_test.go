package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureCreatesIntakeDirectories(t *testing.T) {
	root := t.TempDir()
	layout := NewLayout(root)

	assert.False(t, layout.Present())

	require.NoError(t, layout.Ensure(context.Background()))
	assert.True(t, layout.Present())

	assert.DirExists(t, filepath.Join(root, "data_in"))
	assert.DirExists(t, filepath.Join(root, "data_in_retry"))
	assert.DirExists(t, filepath.Join(root, "data_rejected"))

	// Idempotent.
	require.NoError(t, layout.Ensure(context.Background()))
}

func TestEnsureRequiresRoot(t *testing.T) {
	layout := NewLayout("")
	require.Error(t, layout.Ensure(context.Background()))
}

func TestReject(t *testing.T) {
	root := t.TempDir()
	layout := NewLayout(root)
	require.NoError(t, layout.Ensure(context.Background()))

	src := filepath.Join(layout.DataIn(), "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("not rinex"), 0o644))

	dest, err := layout.Reject(src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(layout.DataRejected(), "notes.txt"), dest)
	assert.NoFileExists(t, src)
	assert.FileExists(t, dest)
}

func TestRejectCollisionKeepsBothFiles(t *testing.T) {
	root := t.TempDir()
	layout := NewLayout(root)
	require.NoError(t, layout.Ensure(context.Background()))

	first := filepath.Join(layout.DataIn(), "dup.txt")
	require.NoError(t, os.WriteFile(first, []byte("one"), 0o644))
	firstDest, err := layout.Reject(first)
	require.NoError(t, err)

	second := filepath.Join(layout.DataInRetry(), "dup.txt")
	require.NoError(t, os.WriteFile(second, []byte("two"), 0o644))
	secondDest, err := layout.Reject(second)
	require.NoError(t, err)

	assert.NotEqual(t, firstDest, secondDest)
	assert.Equal(t, filepath.Join(layout.DataRejected(), "dup.1.txt"), secondDest)
	assert.FileExists(t, firstDest)
	assert.FileExists(t, secondDest)
}
