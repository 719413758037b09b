// Package config loads and validates the server configuration: built-in
// defaults, overridden by an optional maestro.yaml, overridden by
// environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maestro-sh/maestro/pkg/models"
)

// Config is the resolved top-level configuration.
type Config struct {
	Engine           *EngineConfig            `yaml:"engine"`
	Orchestrator     *OrchestratorConfig      `yaml:"orchestrator"`
	Retention        *RetentionConfig         `yaml:"retention"`
	WorkflowDefaults *models.WorkflowConfig   `yaml:"workflow_defaults"`
}

// Default returns the built-in configuration.
func Default() *Config {
	defaults := models.DefaultWorkflowConfig()
	return &Config{
		Engine:           DefaultEngineConfig(),
		Orchestrator:     DefaultOrchestratorConfig(),
		Retention:        DefaultRetentionConfig(),
		WorkflowDefaults: &defaults,
	}
}

// Initialize loads configuration from the optional YAML file at path, then
// applies environment overrides. A missing file is not an error.
func Initialize(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			slog.Info("No config file, using defaults", "path", path)
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(ExpandEnv(data), cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ENGINE_DEFAULT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Engine.DefaultTimeout = d
		}
	}
	if v := os.Getenv("ENGINE_MAX_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Engine.MaxTimeout = d
		}
	}
	if v := os.Getenv("ENGINE_SUBPROCESS_ATTEMPT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Engine.SubprocessAttempt = d
		}
	}
	if v := os.Getenv("RUNNER_COMMAND"); v != "" {
		c.Engine.RunnerCommand = v
	}
	if v := os.Getenv("EXECUTION_ROOT"); v != "" {
		c.Engine.ExecutionRoot = v
	}
	if v := os.Getenv("RETENTION_STALE_THRESHOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Retention.StaleThreshold = d
		}
	}
}

func (c *Config) validate() error {
	if c.Engine.DefaultTimeout <= 0 {
		return fmt.Errorf("engine.default_timeout must be positive")
	}
	if c.Engine.MaxTimeout < c.Engine.DefaultTimeout {
		return fmt.Errorf("engine.max_timeout must be >= engine.default_timeout")
	}
	if c.Engine.SubprocessAttempt <= 0 {
		return fmt.Errorf("engine.subprocess_attempt must be positive")
	}
	if c.Orchestrator.PollInterval <= 0 {
		return fmt.Errorf("orchestrator.poll_interval must be positive")
	}
	if c.WorkflowDefaults.SuccessThreshold < 0 || c.WorkflowDefaults.SuccessThreshold > 1 {
		return fmt.Errorf("workflow_defaults.success_threshold must be in [0, 1]")
	}
	return nil
}
