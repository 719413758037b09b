package config

import "time"

// EngineConfig controls single-execution timing and the subprocess runner.
// The timeout ladder is binding when unset: the per-execution deadline
// defaults to DefaultTimeout, is derived from the task's estimated duration
// when present, and never exceeds MaxTimeout.
type EngineConfig struct {
	// DefaultTimeout is the per-execution deadline when the task carries
	// no estimated duration.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// MaxTimeout is the hard ceiling for any per-execution deadline.
	MaxTimeout time.Duration `yaml:"max_timeout"`

	// SubprocessAttempt bounds the primary subprocess attempt; on expiry
	// the engine falls back to the deterministic responder.
	SubprocessAttempt time.Duration `yaml:"subprocess_attempt"`

	// PollInterval is the store polling cadence for completion waits.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ExecutionRoot is the directory under which per-execution default
	// work directories are created.
	ExecutionRoot string `yaml:"execution_root"`

	// RunnerCommand is the code-assistant CLI binary.
	RunnerCommand string `yaml:"runner_command"`

	// MaxTurns bounds assistant turns per subprocess call (kept small for cost).
	MaxTurns int `yaml:"max_turns"`
}

// DefaultEngineConfig returns the built-in engine defaults.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		DefaultTimeout:    300 * time.Second,
		MaxTimeout:        600 * time.Second,
		SubprocessAttempt: 60 * time.Second,
		PollInterval:      2 * time.Second,
		ExecutionRoot:     "./maestro_executions",
		RunnerCommand:     "claude",
		MaxTurns:          2,
	}
}
