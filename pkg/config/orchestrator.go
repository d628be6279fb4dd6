package config

import (
	"time"

	"github.com/agentops/ao/pkg/events"
)

// OrchestratorConfig controls the reconciliation loop.
type OrchestratorConfig struct {
	// PollInterval is the base interval between reconciliation ticks.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// EnrichmentTimeout is the hard deadline for one session's SCM
	// enrichment within a tick. Timeouts degrade gracefully: the session
	// is reported without PR data, not dropped.
	EnrichmentTimeout time.Duration `yaml:"enrichment_timeout"`

	// EnrichmentParallelism bounds concurrent per-session enrichment
	// within a tick. Zero means pool.GlobalMax * 2.
	EnrichmentParallelism int `yaml:"enrichment_parallelism"`

	// ShutdownTimeout is the max time to wait for in-flight enrichment
	// to drain during shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// CommandTimeout is the default hard timeout for subprocess
	// invocations (git, tmux, runtime CLIs). Per-operation overridable.
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// DefaultOrchestratorConfig returns the built-in reconciliation defaults.
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		PollInterval:       5 * time.Second,
		PollIntervalJitter: 500 * time.Millisecond,
		EnrichmentTimeout:  10 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		CommandTimeout:     30 * time.Second,
	}
}

// PoolConfig contains worker pool admission limits.
type PoolConfig struct {
	// GlobalMax is the limit of concurrently active sessions across
	// all projects.
	GlobalMax int `yaml:"global_max"`

	// ProjectMaxDefault is the per-project limit applied when a project
	// has no override.
	ProjectMaxDefault int `yaml:"project_max_default"`
}

// DefaultPoolConfig returns the built-in admission defaults.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		GlobalMax:         10,
		ProjectMaxDefault: 5,
	}
}

// RateLimitConfig controls the per-executable rate-limit tracker.
type RateLimitConfig struct {
	// MinResetFloor is the minimum distance of resetAt from now,
	// regardless of what the agent reported.
	MinResetFloor time.Duration `yaml:"min_reset_floor"`

	// RapidExitThreshold is the window under which an unexplained
	// process exit is treated as a probable rate limit.
	RapidExitThreshold time.Duration `yaml:"rapid_exit_threshold"`

	// FallbackChains maps an executable to the ordered alternatives
	// tried when it is rate limited.
	FallbackChains map[string][]string `yaml:"fallback_chains"`
}

// DefaultRateLimitConfig returns the built-in rate-limit defaults.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MinResetFloor:      15 * time.Minute,
		RapidExitThreshold: 10 * time.Second,
	}
}

// CycleConfig controls the per-session status cycle detector.
type CycleConfig struct {
	// HistorySize caps the per-session status ring.
	HistorySize int `yaml:"history_size"`

	// MaxConsecutiveSameStatus is the loop threshold: this many identical
	// trailing statuses is judged stuck.
	MaxConsecutiveSameStatus int `yaml:"max_consecutive_same_status"`

	// MaxCycleRepetitions is the repeating-pattern threshold at which a
	// cycle is reported.
	MaxCycleRepetitions int `yaml:"max_cycle_repetitions"`
}

// DefaultCycleConfig returns the built-in cycle detection defaults.
func DefaultCycleConfig() *CycleConfig {
	return &CycleConfig{
		HistorySize:              50,
		MaxConsecutiveSameStatus: 5,
		MaxCycleRepetitions:      3,
	}
}

// DefaultReactionConfig returns the built-in reaction defaults.
// No rules are enabled by default; the retry schedule matches the
// escalation policy (base 30s, cap 10min).
func DefaultReactionConfig() *ReactionConfig {
	return &ReactionConfig{
		Rules:     map[events.Type]*ReactionRule{},
		RetryBase: 30 * time.Second,
		RetryCap:  10 * time.Minute,
	}
}

// DefaultWorkflowConfig returns the built-in per-project workflow defaults.
func DefaultWorkflowConfig() *WorkflowConfig {
	return &WorkflowConfig{
		Mode:                     WorkflowPhased,
		AutoCodeReview:           true,
		MaxReviewerSpawnAttempts: 3,
	}
}
