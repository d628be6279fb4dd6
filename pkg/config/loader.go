package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load reads, expands, merges, and validates the configuration at path.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read the YAML file
//  2. Expand environment variables ({{.VAR}} syntax)
//  3. Parse YAML into structs
//  4. Merge built-in defaults into unset sections
//  5. Validate everything
func Load(path string) (*Config, error) {
	log := slog.With("config_path", path)
	log.Info("Loading configuration")

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, &LoadError{File: path, Err: err}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{File: absPath, Err: ErrConfigNotFound}
		}
		return nil, &LoadError{File: absPath, Err: err}
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(ExpandEnv(data), cfg); err != nil {
		return nil, &LoadError{File: absPath, Err: fmt.Errorf("%w: %v", ErrInvalidYAML, err)}
	}
	cfg.ConfigPath = absPath

	applyDefaults(cfg)

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration loaded",
		"projects", len(cfg.Projects),
		"poll_interval", cfg.Orchestrator.PollInterval,
		"global_max", cfg.Pool.GlobalMax)
	return cfg, nil
}

// applyDefaults merges the built-in defaults into every unset section and
// fills derived fields (data dir, session prefixes, workflow defaults).
func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.DataDir = filepath.Join(home, ".ao")
	}

	if cfg.Orchestrator == nil {
		cfg.Orchestrator = DefaultOrchestratorConfig()
	} else if err := mergo.Merge(cfg.Orchestrator, DefaultOrchestratorConfig()); err != nil {
		slog.Warn("Failed to merge orchestrator defaults", "error", err)
	}

	if cfg.Pool == nil {
		cfg.Pool = DefaultPoolConfig()
	} else if err := mergo.Merge(cfg.Pool, DefaultPoolConfig()); err != nil {
		slog.Warn("Failed to merge pool defaults", "error", err)
	}

	if cfg.RateLimit == nil {
		cfg.RateLimit = DefaultRateLimitConfig()
	} else if err := mergo.Merge(cfg.RateLimit, DefaultRateLimitConfig()); err != nil {
		slog.Warn("Failed to merge rate-limit defaults", "error", err)
	}

	if cfg.Cycle == nil {
		cfg.Cycle = DefaultCycleConfig()
	} else if err := mergo.Merge(cfg.Cycle, DefaultCycleConfig()); err != nil {
		slog.Warn("Failed to merge cycle defaults", "error", err)
	}

	if cfg.Reactions == nil {
		cfg.Reactions = DefaultReactionConfig()
	} else if err := mergo.Merge(cfg.Reactions, DefaultReactionConfig()); err != nil {
		slog.Warn("Failed to merge reaction defaults", "error", err)
	}

	if cfg.Projects == nil {
		cfg.Projects = map[string]*ProjectConfig{}
	}
	for name, project := range cfg.Projects {
		if project.SessionPrefix == "" {
			project.SessionPrefix = name
		}
		if project.Workflow == nil {
			project.Workflow = DefaultWorkflowConfig()
		} else if err := mergo.Merge(project.Workflow, DefaultWorkflowConfig()); err != nil {
			slog.Warn("Failed to merge workflow defaults", "project", name, "error", err)
		}
	}
}

// Project returns the configuration for projectID or ErrProjectNotFound.
func (c *Config) Project(projectID string) (*ProjectConfig, error) {
	project, ok := c.Projects[projectID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	return project, nil
}

// ProjectMax returns the effective per-project session cap for projectID.
func (c *Config) ProjectMax(projectID string) int {
	if project, ok := c.Projects[projectID]; ok && project.MaxSessions > 0 {
		return project.MaxSessions
	}
	return c.Pool.ProjectMaxDefault
}
