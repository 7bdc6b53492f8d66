package client

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultTimeout bounds a single attempt, not the whole call.
const DefaultTimeout = 10 * time.Second

// DefaultMaxAttempts - default number of attempts, including the first one.
const DefaultMaxAttempts = 3

// DefaultRetryDelay - default base delay between attempts.
const DefaultRetryDelay = 1 * time.Second

// RetryStrategy determines how the delay between attempts grows.
type RetryStrategy int

const (
	// StrategyExponential - delay grows with the square of the attempt number:
	// base, 4x base, 9x base, 16x base, 25x base, ...
	StrategyExponential RetryStrategy = iota
	// StrategyConstant - the same base delay before every retry.
	StrategyConstant
	// StrategyLinear - delay grows linearly: base, 2x base, 3x base, ...
	StrategyLinear
)

// RetryConfig configures Client retries.
type RetryConfig struct {
	// Strategy of the delay growth, StrategyExponential by default.
	Strategy RetryStrategy
	// MaxAttempts is the total attempt budget, including the first attempt.
	// MaxAttempts = 1 disables retries entirely.
	MaxAttempts int
	// Delay is the base delay between attempts.
	Delay time.Duration
}

// DefaultRetry returns a default RetryConfig.
func DefaultRetry() RetryConfig {
	return RetryConfig{
		Strategy:    StrategyExponential,
		MaxAttempts: DefaultMaxAttempts,
		Delay:       DefaultRetryDelay,
	}
}

// TestingRetry - fast retry for use in tests.
func TestingRetry() RetryConfig {
	v := DefaultRetry()
	v.Delay = 1 * time.Microsecond
	return v
}

// NewBackoff returns the delay sequence for the configured strategy.
// The first NextBackOff call returns the delay after attempt 1.
func (c RetryConfig) NewBackoff() backoff.BackOff {
	switch c.Strategy {
	case StrategyConstant:
		return backoff.NewConstantBackOff(c.Delay)
	case StrategyLinear:
		return &linearBackOff{delay: c.Delay}
	default:
		return &quadraticBackOff{delay: c.Delay}
	}
}

// linearBackOff implements the backoff.BackOff interface,
// delay = base delay * attempt number.
type linearBackOff struct {
	delay   time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.delay
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// quadraticBackOff implements the backoff.BackOff interface,
// delay = base delay * attempt number squared, the 1,4,9,16,25 progression.
type quadraticBackOff struct {
	delay   time.Duration
	attempt int
}

func (b *quadraticBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt*b.attempt) * b.delay
}

func (b *quadraticBackOff) Reset() {
	b.attempt = 0
}
