package syncengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maponyatp/macscp/internal/xfs"
)

type fakeLister struct {
	entries []xfs.DirectoryEntry
}

func (f *fakeLister) List(ctx context.Context, remotePath string) ([]xfs.DirectoryEntry, error) {
	return f.entries, nil
}

func writeLocal(t *testing.T, dir, name string, size int, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644))
	require.NoError(t, os.Chtimes(filepath.Join(dir, name), mtime, mtime))
}

func TestCompareClassifiesAllStatuses(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	writeLocal(t, dir, "only-local.txt", 10, base)
	writeLocal(t, dir, "same.txt", 20, base)
	writeLocal(t, dir, "newer-local.txt", 30, base.Add(10*time.Second))
	writeLocal(t, dir, "newer-remote.txt", 40, base)
	writeLocal(t, dir, "tie-size-diff.txt", 51, base)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "adir"), 0o755))

	lister := &fakeLister{entries: []xfs.DirectoryEntry{
		{Name: "same.txt", Size: 20, ModifiedAt: base},
		{Name: "newer-local.txt", Size: 30, ModifiedAt: base},
		{Name: "newer-remote.txt", Size: 40, ModifiedAt: base.Add(10 * time.Second)},
		{Name: "tie-size-diff.txt", Size: 50, ModifiedAt: base},
		{Name: "only-remote.txt", Size: 60, ModifiedAt: base},
		{Name: "adir", IsDir: true},
	}}

	diffs, err := Compare(context.Background(), lister, dir, "/remote")
	require.NoError(t, err)

	byName := map[string]Diff{}
	for _, d := range diffs {
		byName[d.Name] = d
	}

	assert.Equal(t, OnlyLocal, byName["only-local.txt"].Status)
	assert.Equal(t, Same, byName["same.txt"].Status)
	assert.Equal(t, NewerLocal, byName["newer-local.txt"].Status)
	assert.Equal(t, NewerRemote, byName["newer-remote.txt"].Status)
	assert.Equal(t, NewerLocal, byName["tie-size-diff.txt"].Status, "tie on time, differing size favours local")
	assert.Equal(t, OnlyRemote, byName["only-remote.txt"].Status)
	_, dirPresent := byName["adir"]
	assert.False(t, dirPresent, "directories are omitted from the diff")
}

func TestCompareWithinToleranceIsSame(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	writeLocal(t, dir, "close.txt", 5, base.Add(700*time.Millisecond))

	lister := &fakeLister{entries: []xfs.DirectoryEntry{
		{Name: "close.txt", Size: 5, ModifiedAt: base},
	}}
	diffs, err := Compare(context.Background(), lister, dir, "/remote")
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, Same, diffs[0].Status)
}
