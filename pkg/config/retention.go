package config

import "time"

// RetentionConfig controls the startup sweep and the periodic retention loop.
type RetentionConfig struct {
	// StaleThreshold is how old a non-terminal workflow run must be before
	// the reconciler aborts it, and how old a terminal run must be before
	// it is pruned.
	StaleThreshold time.Duration `yaml:"stale_threshold"`

	// CleanupInterval is how often the retention loop re-runs the pruning.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		StaleThreshold:  1 * time.Hour,
		CleanupInterval: 30 * time.Minute,
	}
}
