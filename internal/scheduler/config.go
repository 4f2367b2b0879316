package scheduler

import (
	"time"
)

// Config controls job cadence and batch sizes.
type Config struct {
	// ReminderHourUTC is the hour of day the renewal reminder scan runs.
	ReminderHourUTC int
	// DispatchInterval is how often due scheduled emails are delivered.
	DispatchInterval time.Duration
	// DispatchBatchSize caps how many emails one dispatch pass handles.
	DispatchBatchSize int
	// StaleThreshold is the age past which a pending payment counts as a
	// leaked reconciliation.
	StaleThreshold time.Duration
}

func DefaultConfig() Config {
	return Config{
		ReminderHourUTC:   9,
		DispatchInterval:  time.Minute,
		DispatchBatchSize: 50,
		StaleThreshold:    7 * 24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.ReminderHourUTC < 0 || c.ReminderHourUTC > 23 {
		c.ReminderHourUTC = defaults.ReminderHourUTC
	}
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = defaults.DispatchInterval
	}
	if c.DispatchBatchSize <= 0 {
		c.DispatchBatchSize = defaults.DispatchBatchSize
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = defaults.StaleThreshold
	}
	return c
}
