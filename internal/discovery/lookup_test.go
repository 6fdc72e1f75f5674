//go:build !windows

package discovery

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindExecutable_EarliestDirWins(t *testing.T) {
	d1, d2, d3 := t.TempDir(), t.TempDir(), t.TempDir()
	writePlain(t, filepath.Join(d1, "aw-server"))
	want := writeExec(t, filepath.Join(d2, "aw-server"))
	writeExec(t, filepath.Join(d3, "aw-server"))

	got, err := FindExecutable(context.Background(), "aw-server", []string{d1, d2, d3})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFindExecutable_AllFailedIsNotFound(t *testing.T) {
	d := t.TempDir()
	writePlain(t, filepath.Join(d, "aw-server"))
	_, err := FindExecutable(context.Background(), "aw-server", []string{d, filepath.Join(d, "missing")})
	assert.ErrorIs(t, err, ErrExecutableNotFound)

	_, err = FindExecutable(context.Background(), "", []string{d})
	assert.ErrorIs(t, err, ErrExecutableNotFound)
}

func TestFindExecutable_PathNameCheckedDirectly(t *testing.T) {
	d := t.TempDir()
	p := writeExec(t, filepath.Join(d, "bin", "aw-watcher-afk"))
	got, err := FindExecutable(context.Background(), p, nil)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}
