package call

import (
	"errors"
	"time"
)

// Config holds tunable parameters for a call.
type Config struct {
	// PatientID identifies the call subject to the backend.
	PatientID string

	// MaxRetries caps consecutive transient pipeline failures before the
	// call stops auto-listening and waits in the idle sub-state.
	MaxRetries int

	// RetryPause is the pause before re-entering the listening state
	// after a transient failure.
	RetryPause time.Duration

	// SummaryTimeout bounds the terminal summary request.
	SummaryTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     5,
		RetryPause:     500 * time.Millisecond,
		SummaryTimeout: 30 * time.Second,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.PatientID == "" {
		return errors.New("call: patient ID required")
	}
	if c.MaxRetries < 0 {
		return errors.New("call: max retries must be non-negative")
	}
	if c.RetryPause < 0 {
		return errors.New("call: retry pause must be non-negative")
	}
	return nil
}

// WithPatientID returns a copy with the patient ID set.
func (c Config) WithPatientID(id string) Config {
	c.PatientID = id
	return c
}

// WithRetries returns a copy with the retry cap and pause set.
func (c Config) WithRetries(max int, pause time.Duration) Config {
	c.MaxRetries = max
	c.RetryPause = pause
	return c
}
