package tmpsweep

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepRemovesKnownPrefixedDirsOnly(t *testing.T) {
	root := t.TempDir()
	origTempDir := os.Getenv("TMPDIR")
	require.NoError(t, os.Setenv("TMPDIR", root))
	defer os.Setenv("TMPDIR", origTempDir)

	editDir := filepath.Join(root, "macscp-edit-abc123")
	dragDir := filepath.Join(root, "macscp-drag-def456")
	unrelated := filepath.Join(root, "some-other-app-tmp")

	require.NoError(t, os.Mkdir(editDir, 0o755))
	require.NoError(t, os.Mkdir(dragDir, 0o755))
	require.NoError(t, os.Mkdir(unrelated, 0o755))

	removed, err := Sweep()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = os.Stat(editDir)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(dragDir)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(unrelated)
	assert.NoError(t, err)
}

func TestSweepOnEmptyDirRemovesNothing(t *testing.T) {
	root := t.TempDir()
	origTempDir := os.Getenv("TMPDIR")
	require.NoError(t, os.Setenv("TMPDIR", root))
	defer os.Setenv("TMPDIR", origTempDir)

	removed, err := Sweep()
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}
