package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspaceStageAndCleanup(t *testing.T) {
	root := filepath.Join(t.TempDir(), "scratch")
	src := filepath.Join(t.TempDir(), "track.flac")
	require.NoError(t, os.WriteFile(src, []byte("fLaC"), 0o644))

	ws, err := NewWorkspace(root, "abc123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(ws.Dir), "run-abc123-"))

	staged, err := ws.StageInput(src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Dir, "input", "track.flac"), staged)
	data, err := os.ReadFile(staged)
	require.NoError(t, err)
	assert.Equal(t, "fLaC", string(data))

	require.NoError(t, ws.Cleanup())
	_, err = os.Stat(ws.Dir)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(src)
	assert.NoError(t, err)
}

func TestWorkspacesAreUnique(t *testing.T) {
	root := t.TempDir()
	a, err := NewWorkspace(root, "same")
	require.NoError(t, err)
	b, err := NewWorkspace(root, "same")
	require.NoError(t, err)
	assert.NotEqual(t, a.Dir, b.Dir)
}

func TestWorkspaceRejectsDirectoryInput(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir(), "dir")
	require.NoError(t, err)
	_, err = ws.StageInput(t.TempDir())
	assert.Error(t, err)
}
