package builtin

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentops/ao/pkg/plugin"
)

func gitRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	for _, argv := range [][]string{
		{"git", "init", "-q"},
		{"git", "config", "user.email", "dev@example.com"},
		{"git", "config", "user.name", "dev"},
		{"git", "commit", "-q", "--allow-empty", "-m", "init"},
	} {
		cmd := exec.Command(argv[0], argv[1:]...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "%v: %s", argv, out)
	}
	return dir
}

func TestWorktreeCreateAndDestroy(t *testing.T) {
	repo := gitRepo(t)
	w := NewWorktreeWorkspace(30 * time.Second)
	ctx := context.Background()

	info, err := w.Create(ctx, plugin.WorkspaceConfig{
		ProjectPath: repo,
		ProjectID:   "web",
		SessionID:   "web-1",
		Branch:      "issue-42",
		BaseDir:     t.TempDir(),
	})
	require.NoError(t, err)
	assert.True(t, w.Exists(info.Path))
	assert.Equal(t, "issue-42", info.Branch)
	assert.FileExists(t, filepath.Join(info.Path, ".git"))

	listed, err := w.List(ctx, "web")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, info.Path, listed[0].Path)

	require.NoError(t, w.Destroy(ctx, info.Path))
	assert.False(t, w.Exists(info.Path))

	listed, err = w.List(ctx, "web")
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestWorktreeDetachedWithoutBranch(t *testing.T) {
	repo := gitRepo(t)
	w := NewWorktreeWorkspace(30 * time.Second)

	info, err := w.Create(context.Background(), plugin.WorkspaceConfig{
		ProjectPath: repo,
		ProjectID:   "web",
		SessionID:   "web-2",
		BaseDir:     t.TempDir(),
	})
	require.NoError(t, err)
	assert.True(t, w.Exists(info.Path))
	assert.Empty(t, info.Branch)
}

func TestWorktreeDestroyMissingPathIsIdempotent(t *testing.T) {
	w := NewWorktreeWorkspace(time.Second)
	err := w.Destroy(context.Background(), filepath.Join(t.TempDir(), "never-created"))
	assert.NoError(t, err)
}

func TestWorktreeRestoreAdoptsSurvivingPath(t *testing.T) {
	repo := gitRepo(t)
	w := NewWorktreeWorkspace(30 * time.Second)
	ctx := context.Background()

	info, err := w.Create(ctx, plugin.WorkspaceConfig{
		ProjectPath: repo,
		ProjectID:   "web",
		SessionID:   "web-3",
		Branch:      "issue-7",
		BaseDir:     t.TempDir(),
	})
	require.NoError(t, err)

	// A restarted process knows the path but not the bookkeeping.
	fresh := NewWorktreeWorkspace(30 * time.Second)
	restored, err := fresh.Restore(ctx, plugin.WorkspaceConfig{
		ProjectID: "web",
		SessionID: "web-3",
		Branch:    "issue-7",
	}, info.Path)
	require.NoError(t, err)
	assert.Equal(t, info.Path, restored.Path)

	listed, err := fresh.List(ctx, "web")
	require.NoError(t, err)
	require.Len(t, listed, 1)

	_, err = fresh.Restore(ctx, plugin.WorkspaceConfig{ProjectID: "web"},
		filepath.Join(t.TempDir(), "gone"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
