package phase

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentops/ao/pkg/models"
)

func TestWatcherNoticesPlanArtifact(t *testing.T) {
	workspace := t.TempDir()

	var mu sync.Mutex
	var seen []string
	w, err := NewWatcher(func(ws string) {
		mu.Lock()
		seen = append(seen, ws)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Add(workspace))
	require.NoError(t, os.WriteFile(PlanPath(workspace), []byte("# Plan\n"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[0] == workspace
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcherNoticesReviewArtifact(t *testing.T) {
	workspace := t.TempDir()

	var mu sync.Mutex
	notified := false
	w, err := NewWatcher(func(string) {
		mu.Lock()
		notified = true
		mu.Unlock()
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Add(workspace))
	path := ReviewPath(workspace, models.PhasePlanReview, 1, models.RoleArchitect)
	require.NoError(t, os.WriteFile(path, []byte("Decision: approved\n"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return notified
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcherIgnoresNonArtifacts(t *testing.T) {
	workspace := t.TempDir()

	var mu sync.Mutex
	count := 0
	w, err := NewWatcher(func(string) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Add(workspace))
	require.NoError(t, os.WriteFile(
		filepath.Join(workspace, artifactDir, "scratch.tmp"), []byte("x"), 0o644))

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count)
}

func TestWatcherRemove(t *testing.T) {
	workspace := t.TempDir()

	var mu sync.Mutex
	count := 0
	w, err := NewWatcher(func(string) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Add(workspace))
	w.Remove(workspace)
	require.NoError(t, os.WriteFile(PlanPath(workspace), []byte("# Plan\n"), 0o644))

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count)
}

func TestWatcherAddAfterClose(t *testing.T) {
	w, err := NewWatcher(func(string) {})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close(), "double close is a no-op")
	assert.Error(t, w.Add(t.TempDir()))
}

func TestReadReviewDecisionVariants(t *testing.T) {
	workspace := t.TempDir()
	write := func(round int, role models.ReviewRole, content string) {
		t.Helper()
		path := ReviewPath(workspace, models.PhaseCodeReview, round, role)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	write(1, models.RoleArchitect, "Decision: approved\n")
	write(1, models.RoleDeveloper, "decision: CHANGES_REQUESTED\nbody\n")
	write(1, models.RoleProduct, "# Review\n\nDecision: changes-requested\n")

	reviews, err := collectReviews(workspace, models.PhaseCodeReview, 1)
	require.NoError(t, err)
	require.Len(t, reviews, 3)
	assert.Equal(t, models.DecisionApproved, reviews[models.RoleArchitect].Decision)
	assert.Equal(t, models.DecisionChangesRequested, reviews[models.RoleDeveloper].Decision)
	assert.Equal(t, models.DecisionChangesRequested, reviews[models.RoleProduct].Decision)
}
