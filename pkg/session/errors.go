package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/agentops/ao/pkg/plugin"
	"github.com/agentops/ao/pkg/pool"
)

// Sentinel errors surfaced by session operations.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrRuntimeDead     = errors.New("runtime is dead")
	ErrWorkspaceExists = errors.New("workspace already exists")
	ErrNotRestorable   = errors.New("session is not restorable")
	ErrSpawnDenied     = errors.New("spawn denied by worker pool")
	ErrRateLimited     = errors.New("agent executable is rate limited")
	ErrPluginMissing   = errors.New("required plugin is not registered")
)

// SpawnDeniedError carries the admission verdict back to the caller.
type SpawnDeniedError struct {
	Admission pool.Admission
}

func (e *SpawnDeniedError) Error() string {
	return fmt.Sprintf("spawn denied: %s limit reached (%s), %d slots remaining",
		e.Admission.LimitHit, e.Admission.Reason, e.Admission.SlotsRemaining)
}

func (e *SpawnDeniedError) Unwrap() error { return ErrSpawnDenied }

// RateLimitedError reports that the whole fallback chain is limited.
type RateLimitedError struct {
	Executable string
	ResetAt    time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("executable %q rate limited until %s",
		e.Executable, e.ResetAt.Format(time.RFC3339))
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// PluginMissingError names the unresolved plugin slot.
type PluginMissingError struct {
	Slot plugin.Slot
	Name string
}

func (e *PluginMissingError) Error() string {
	return fmt.Sprintf("no %s plugin registered under %q", e.Slot, e.Name)
}

func (e *PluginMissingError) Unwrap() error { return ErrPluginMissing }
