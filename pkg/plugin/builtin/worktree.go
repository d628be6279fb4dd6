package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentops/ao/pkg/plugin"
	"github.com/agentops/ao/pkg/shell"
)

// WorktreeWorkspace creates isolated working copies as git worktrees of
// the project repository. Each session gets <baseDir>/<sessionID> on its
// own branch, sharing the object store with the main checkout.
type WorktreeWorkspace struct {
	runner *shell.Runner

	mu      sync.Mutex
	created map[string]plugin.WorkspaceInfo // path -> info, keyed per project below
	project map[string][]string             // projectID -> paths
}

// NewWorktreeWorkspace creates the builtin git-worktree workspace. The
// timeout bounds every git invocation.
func NewWorktreeWorkspace(commandTimeout time.Duration) *WorktreeWorkspace {
	return &WorktreeWorkspace{
		runner:  shell.NewRunner(commandTimeout),
		created: make(map[string]plugin.WorkspaceInfo),
		project: make(map[string][]string),
	}
}

func (w *WorktreeWorkspace) Manifest() plugin.Manifest {
	return plugin.Manifest{
		Name:        "worktree",
		Slot:        plugin.SlotWorkspace,
		Version:     "1.0.0",
		Description: "git worktree per session",
	}
}

// Create adds a worktree at <BaseDir>/<SessionID>. A non-empty branch is
// created at HEAD; without one the worktree is detached.
func (w *WorktreeWorkspace) Create(ctx context.Context, cfg plugin.WorkspaceConfig) (*plugin.WorkspaceInfo, error) {
	path := filepath.Join(cfg.BaseDir, cfg.SessionID)

	argv := []string{"git", "worktree", "add"}
	if cfg.Branch != "" {
		argv = append(argv, "-b", cfg.Branch)
	} else {
		argv = append(argv, "--detach")
	}
	argv = append(argv, path)

	if _, err := w.runner.Run(ctx, argv, shell.WithDir(cfg.ProjectPath)); err != nil {
		return nil, fmt.Errorf("worktree add %s: %w", path, err)
	}

	info := plugin.WorkspaceInfo{
		Path:      path,
		Branch:    cfg.Branch,
		SessionID: cfg.SessionID,
	}
	w.mu.Lock()
	w.created[path] = info
	w.project[cfg.ProjectID] = append(w.project[cfg.ProjectID], path)
	w.mu.Unlock()
	return &info, nil
}

// Destroy removes the worktree and unregisters it from git. A path git no
// longer knows about is removed directly.
func (w *WorktreeWorkspace) Destroy(ctx context.Context, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		w.forget(path)
		return nil
	}
	// git refuses to remove the worktree the command runs inside, so
	// resolve the main checkout and run from there.
	gitDir, err := w.runner.Output(ctx,
		[]string{"git", "rev-parse", "--path-format=absolute", "--git-common-dir"},
		shell.WithDir(path))
	if err == nil {
		if _, err := w.runner.Run(ctx,
			[]string{"git", "worktree", "remove", "--force", path},
			shell.WithDir(filepath.Dir(gitDir))); err == nil {
			w.forget(path)
			return nil
		}
	}
	// Not a live worktree, or git is gone: plain removal.
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove workspace %s: %w", path, err)
	}
	w.forget(path)
	return nil
}

// List returns the live workspaces this process created for a project.
func (w *WorktreeWorkspace) List(ctx context.Context, projectID string) ([]plugin.WorkspaceInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var infos []plugin.WorkspaceInfo
	for _, path := range w.project[projectID] {
		if info, ok := w.created[path]; ok {
			infos = append(infos, info)
		}
	}
	return infos, nil
}

func (w *WorktreeWorkspace) Exists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// Restore re-adopts a worktree directory that survived a restart.
func (w *WorktreeWorkspace) Restore(ctx context.Context, cfg plugin.WorkspaceConfig, path string) (*plugin.WorkspaceInfo, error) {
	if !w.Exists(path) {
		return nil, fmt.Errorf("worktree restore %s: %w", path, os.ErrNotExist)
	}
	info := plugin.WorkspaceInfo{
		Path:      path,
		Branch:    cfg.Branch,
		SessionID: cfg.SessionID,
	}
	w.mu.Lock()
	if _, known := w.created[path]; !known {
		w.created[path] = info
		w.project[cfg.ProjectID] = append(w.project[cfg.ProjectID], path)
	}
	w.mu.Unlock()
	return &info, nil
}

func (w *WorktreeWorkspace) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.created, path)
	for projectID, paths := range w.project {
		for i, p := range paths {
			if p == path {
				w.project[projectID] = append(paths[:i], paths[i+1:]...)
				break
			}
		}
	}
}
