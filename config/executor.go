// Package config defines configuration structs for the engine's subsystems,
// following the teacher's Default*Config + Merge(*T) pattern
// (orchestrate/config/*.go): a config is used only during initialization,
// then transformed into domain objects, with string fields (Observer,
// StoreConfig.Driver) resolved at runtime by name.
package config

import "time"

// ExecutorConfig controls the scheduler/worker pool (spec §4.3, §5).
type ExecutorConfig struct {
	// MaxConcurrentInstances bounds how many instances are advanced at once.
	MaxConcurrentInstances int `json:"max_concurrent_instances"`

	// ReadyQueueSoftCap rejects new instance creation with ErrBusy once the
	// ready queue grows past this size (spec §5, Backpressure).
	ReadyQueueSoftCap int `json:"ready_queue_soft_cap"`

	// DefaultMaxAttempts is the per-task retry cap used when a TaskConfig
	// does not set its own MaxAttempts.
	DefaultMaxAttempts int `json:"default_max_attempts"`

	// BackoffBase and BackoffMax bound the default exponential backoff
	// applied to ResultRetry when the operator does not specify a delay.
	BackoffBase time.Duration `json:"backoff_base"`
	BackoffMax  time.Duration `json:"backoff_max"`

	// SweepInterval is how often the wait table is scanned for expired
	// per-task timeouts and elapsed timed wakes (spec §5, "low-frequency
	// sweeper of the wait table").
	SweepInterval time.Duration `json:"sweep_interval"`

	// Observer names the registered observability.Observer to use.
	Observer string `json:"observer"`
}

// DefaultExecutorConfig returns sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrentInstances: 32,
		ReadyQueueSoftCap:      1000,
		DefaultMaxAttempts:     3,
		BackoffBase:            2 * time.Second,
		BackoffMax:             5 * time.Minute,
		SweepInterval:          time.Second,
		Observer:               "slog",
	}
}

func (c *ExecutorConfig) Merge(source *ExecutorConfig) {
	if source.MaxConcurrentInstances > 0 {
		c.MaxConcurrentInstances = source.MaxConcurrentInstances
	}
	if source.ReadyQueueSoftCap > 0 {
		c.ReadyQueueSoftCap = source.ReadyQueueSoftCap
	}
	if source.DefaultMaxAttempts > 0 {
		c.DefaultMaxAttempts = source.DefaultMaxAttempts
	}
	if source.BackoffBase > 0 {
		c.BackoffBase = source.BackoffBase
	}
	if source.BackoffMax > 0 {
		c.BackoffMax = source.BackoffMax
	}
	if source.SweepInterval > 0 {
		c.SweepInterval = source.SweepInterval
	}
	if source.Observer != "" {
		c.Observer = source.Observer
	}
}
