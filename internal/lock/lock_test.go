package lock_test

import (
	"path/filepath"
	"testing"

	"codeberg.org/mutker/shuttled/internal/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shuttled.lock")

	l, err := lock.Acquire(path)
	require.NoError(t, err)
	assert.Equal(t, path, l.Path())
	require.NoError(t, l.Release())

	// Reacquirable after release.
	l2, err := lock.Acquire(path)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}
