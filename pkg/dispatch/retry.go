package dispatch

import (
	"math/rand"
	"time"
)

// BackoffConfig holds the retry backoff parameters. Attempt counting
// lives on the provider configuration; backoff shape lives here.
type BackoffConfig struct {
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration

	// Multiplier is applied per attempt (exponential backoff).
	Multiplier float64
}

// DefaultBackoffConfig returns the default backoff parameters.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     60 * time.Second,
		Multiplier:     2.0,
	}
}

// jittered returns d randomized by ±20% to avoid thundering herds of
// synchronized retries.
func jittered(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.8 + rand.Float64()*0.4))
}

// next returns the backoff for the following attempt, capped.
func (c BackoffConfig) next(current time.Duration) time.Duration {
	n := time.Duration(float64(current) * c.Multiplier)
	if n > c.MaxBackoff {
		n = c.MaxBackoff
	}
	return n
}
