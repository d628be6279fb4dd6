// Package config loads, merges, and validates the orchestrator
// configuration from ao.yaml.
package config

import (
	"time"

	"github.com/agentops/ao/pkg/events"
)

// Config is the fully merged and validated orchestrator configuration.
type Config struct {
	// ConfigPath is the absolute path of the loaded ao.yaml. It feeds the
	// paths resolver's stable hash together with each project path.
	ConfigPath string `yaml:"-"`

	// DataDir is the base directory for per-project state
	// (sessions metadata, worktrees). Defaults to ~/.ao.
	DataDir string `yaml:"data_dir"`

	Orchestrator *OrchestratorConfig       `yaml:"orchestrator"`
	Pool         *PoolConfig               `yaml:"pool"`
	RateLimit    *RateLimitConfig          `yaml:"rate_limit"`
	Cycle        *CycleConfig              `yaml:"cycle"`
	Reactions    *ReactionConfig           `yaml:"reactions"`
	Projects     map[string]*ProjectConfig `yaml:"projects"`
}

// WorkflowMode selects the phase workflow for a project.
type WorkflowMode string

// Workflow modes.
const (
	// WorkflowSimple skips the phase state machine entirely.
	WorkflowSimple WorkflowMode = "simple"
	// WorkflowPhased runs planning → plan_review → implementing →
	// code_review → done with reviewer sub-sessions.
	WorkflowPhased WorkflowMode = "phased"
)

// WorkflowConfig controls the Phase Manager for one project.
type WorkflowConfig struct {
	Mode WorkflowMode `yaml:"mode"`

	// AutoCodeReview enables the code_review phase after implementing.
	AutoCodeReview bool `yaml:"auto_code_review"`

	// MaxReviewerSpawnAttempts bounds respawns of an erroring reviewer
	// before an escalation.required event is emitted.
	MaxReviewerSpawnAttempts int `yaml:"max_reviewer_spawn_attempts"`
}

// PluginSlots names the plugin chosen for each slot of a project.
// Empty slots fall back to the orchestrator-wide builtins.
type PluginSlots struct {
	Runtime   string `yaml:"runtime"`
	Agent     string `yaml:"agent"`
	Workspace string `yaml:"workspace"`
	Tracker   string `yaml:"tracker"`
	SCM       string `yaml:"scm"`
	Notifier  string `yaml:"notifier"`
	Terminal  string `yaml:"terminal"`
}

// ProjectConfig describes one supervised repository.
type ProjectConfig struct {
	// Path is the repository checkout the workspaces derive from.
	Path string `yaml:"path"`

	// SessionPrefix prefixes generated session IDs (<prefix>-<n>).
	// Defaults to the project map key.
	SessionPrefix string `yaml:"session_prefix"`

	// Agent is the preferred agent executable for new sessions.
	Agent string `yaml:"agent"`

	// MaxSessions overrides the pool's per-project default when > 0.
	MaxSessions int `yaml:"max_sessions"`

	Plugins  PluginSlots     `yaml:"plugins"`
	Workflow *WorkflowConfig `yaml:"workflow"`
}

// ReactionAction is what the Reaction Engine does when a rule matches.
type ReactionAction string

// Reaction actions.
const (
	ActionSendToAgent ReactionAction = "send-to-agent"
	ActionNotify      ReactionAction = "notify"
)

// ReactionRule maps one event type to an action.
type ReactionRule struct {
	Action        ReactionAction  `yaml:"action"`
	Priority      events.Priority `yaml:"priority"`
	Retries       int             `yaml:"retries"`
	EscalateAfter int             `yaml:"escalate_after"`
	Target        string          `yaml:"target"`
}

// ReactionConfig configures the Reaction Engine.
type ReactionConfig struct {
	// Rules maps event type → rule.
	Rules map[events.Type]*ReactionRule `yaml:"rules"`

	// RetryBase is the initial backoff between send retries.
	RetryBase time.Duration `yaml:"retry_base"`

	// RetryCap bounds the exponential backoff.
	RetryCap time.Duration `yaml:"retry_cap"`
}
