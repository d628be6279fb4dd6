package config

import (
	"fmt"
	"os"
)

// Validator validates configuration comprehensively with clear error
// messages. Validation is fail-fast: the first error stops the run.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation.
func (v *Validator) ValidateAll() error {
	if err := v.validatePool(); err != nil {
		return fmt.Errorf("pool validation failed: %w", err)
	}
	if err := v.validateOrchestrator(); err != nil {
		return fmt.Errorf("orchestrator validation failed: %w", err)
	}
	if err := v.validateProjects(); err != nil {
		return fmt.Errorf("project validation failed: %w", err)
	}
	if err := v.validateReactions(); err != nil {
		return fmt.Errorf("reaction validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validatePool() error {
	if v.cfg.Pool.GlobalMax < 1 {
		return NewValidationError("pool", "pool", "global_max", fmt.Errorf("must be at least 1"))
	}
	if v.cfg.Pool.ProjectMaxDefault < 1 {
		return NewValidationError("pool", "pool", "project_max_default", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *Validator) validateOrchestrator() error {
	o := v.cfg.Orchestrator
	if o.PollInterval <= 0 {
		return NewValidationError("orchestrator", "orchestrator", "poll_interval", fmt.Errorf("must be positive"))
	}
	if o.PollIntervalJitter < 0 || o.PollIntervalJitter >= o.PollInterval {
		return NewValidationError("orchestrator", "orchestrator", "poll_interval_jitter",
			fmt.Errorf("must be non-negative and smaller than poll_interval"))
	}
	if o.EnrichmentTimeout <= 0 {
		return NewValidationError("orchestrator", "orchestrator", "enrichment_timeout", fmt.Errorf("must be positive"))
	}
	return nil
}

func (v *Validator) validateProjects() error {
	for name, project := range v.cfg.Projects {
		if project.Path == "" {
			return NewValidationError("project", name, "path", fmt.Errorf("is required"))
		}
		if info, err := os.Stat(project.Path); err != nil {
			return NewValidationError("project", name, "path", fmt.Errorf("not accessible: %v", err))
		} else if !info.IsDir() {
			return NewValidationError("project", name, "path", fmt.Errorf("is not a directory"))
		}
		if project.MaxSessions < 0 {
			return NewValidationError("project", name, "max_sessions", fmt.Errorf("must not be negative"))
		}
		if mode := project.Workflow.Mode; mode != WorkflowSimple && mode != WorkflowPhased {
			return NewValidationError("project", name, "workflow.mode",
				fmt.Errorf("must be %q or %q, got %q", WorkflowSimple, WorkflowPhased, mode))
		}
	}
	return nil
}

func (v *Validator) validateReactions() error {
	for eventType, rule := range v.cfg.Reactions.Rules {
		if rule.Action != ActionSendToAgent && rule.Action != ActionNotify {
			return NewValidationError("reactions", string(eventType), "action",
				fmt.Errorf("must be %q or %q, got %q", ActionSendToAgent, ActionNotify, rule.Action))
		}
		if rule.Retries < 0 {
			return NewValidationError("reactions", string(eventType), "retries", fmt.Errorf("must not be negative"))
		}
	}
	if v.cfg.Reactions.RetryBase <= 0 {
		return NewValidationError("reactions", "reactions", "retry_base", fmt.Errorf("must be positive"))
	}
	if v.cfg.Reactions.RetryCap < v.cfg.Reactions.RetryBase {
		return NewValidationError("reactions", "reactions", "retry_cap", fmt.Errorf("must be >= retry_base"))
	}
	return nil
}
