// Package paths maps (configPath, projectPath) pairs onto the on-disk
// layout for per-project orchestrator state.
//
// Layout:
//
//	<dataDir>/projects/<hash>/
//	  sessions/<sessionID>      one metadata file per session
//	  worktrees/<sessionID>/    isolated workspace
//
// The hash decouples the layout from human-friendly project names and
// prevents collisions when two configs reference the same repository.
package paths

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
)

// hashLen is the number of hex characters kept from the digest. 16 chars
// (64 bits) is plenty for a handful of projects per host.
const hashLen = 16

// Resolver computes deterministic state directories for projects.
type Resolver struct {
	dataDir string
}

// NewResolver creates a resolver rooted at dataDir.
func NewResolver(dataDir string) *Resolver {
	return &Resolver{dataDir: dataDir}
}

// StableHash derives the directory-name hash for a (configPath,
// projectPath) pair. Pure function of its inputs.
func StableHash(configPath, projectPath string) string {
	sum := sha256.Sum256([]byte(configPath + "\x00" + projectPath))
	return hex.EncodeToString(sum[:])[:hashLen]
}

// ProjectBaseDir returns the base state directory for a project.
func (r *Resolver) ProjectBaseDir(configPath, projectPath string) string {
	return filepath.Join(r.dataDir, "projects", StableHash(configPath, projectPath))
}

// SessionsDir returns the metadata directory for a project.
func (r *Resolver) SessionsDir(configPath, projectPath string) string {
	return filepath.Join(r.ProjectBaseDir(configPath, projectPath), "sessions")
}

// WorktreeDir returns the workspace directory for a project.
func (r *Resolver) WorktreeDir(configPath, projectPath string) string {
	return filepath.Join(r.ProjectBaseDir(configPath, projectPath), "worktrees")
}

// EnsureProjectDirs creates the sessions and worktrees directories and
// returns (sessionsDir, worktreeDir).
func (r *Resolver) EnsureProjectDirs(configPath, projectPath string) (string, string, error) {
	sessionsDir := r.SessionsDir(configPath, projectPath)
	worktreeDir := r.WorktreeDir(configPath, projectPath)
	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(worktreeDir, 0o755); err != nil {
		return "", "", err
	}
	return sessionsDir, worktreeDir, nil
}
