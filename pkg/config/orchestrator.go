package config

import "time"

// OrchestratorConfig controls workflow-level scheduling.
type OrchestratorConfig struct {
	// ChildWait is the per-child completion wait for the sequential pattern.
	ChildWait time.Duration `yaml:"child_wait"`

	// IterationChildWait is the per-child wait inside evaluator-optimizer
	// iterations and the sequential_adaptive sub-strategy.
	IterationChildWait time.Duration `yaml:"iteration_child_wait"`

	// PollInterval is the cadence of terminal-status polling for children.
	PollInterval time.Duration `yaml:"poll_interval"`

	// RoundDelay is the pause between swarm coordination rounds.
	RoundDelay time.Duration `yaml:"round_delay"`
}

// DefaultOrchestratorConfig returns the built-in orchestrator defaults.
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		ChildWait:          300 * time.Second,
		IterationChildWait: 180 * time.Second,
		PollInterval:       2 * time.Second,
		RoundDelay:         1 * time.Second,
	}
}
