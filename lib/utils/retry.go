/*
 * Triggerr
 * Copyright (C) 2025  Triggerr, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package utils holds small shared helpers, most notably the retry and
// backoff primitives used by the aggregation and settlement paths.
package utils

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
)

// Jitter is a function which applies random jitter to a duration. Used to
// randomize backoff values. Must be safe for concurrent usage.
type Jitter func(time.Duration) time.Duration

// NewHalfJitter returns a new jitter on the range [n/2,n). This is a large
// range and most suitable for jittering things like backoff operations where
// breaking cycles quickly is a priority.
func NewHalfJitter() Jitter {
	var mu sync.Mutex
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	return func(d time.Duration) time.Duration {
		// values less than 1 cause rng to panic, and some logic
		// relies on treating zero duration as non-blocking case.
		if d < 1 {
			return 0
		}
		mu.Lock()
		defer mu.Unlock()
		return (d / 2) + time.Duration(rng.Int64N(int64(d))/2)
	}
}

// NewSeventhJitter builds a new jitter on the range [6n/7,n). Prefer smaller
// jitters such as this when jittering periodic operations since large jitters
// result in significantly increased load.
func NewSeventhJitter() Jitter {
	var mu sync.Mutex
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	return func(d time.Duration) time.Duration {
		if d < 1 {
			return 0
		}
		mu.Lock()
		defer mu.Unlock()
		return (6 * d / 7) + time.Duration(rng.Int64N(int64(d))/7)
	}
}

// Retry is an interface that provides retry logic.
type Retry interface {
	// Reset resets retry state.
	Reset()
	// Inc increments retry attempt.
	Inc()
	// Duration returns retry duration, could be 0.
	Duration() time.Duration
	// After returns a time.Time channel that fires after Duration delay,
	// could fire right away if Duration is 0.
	After() <-chan time.Time
	// Clone creates a copy of this retry in a reset state.
	Clone() Retry
}

// ExponentialConfig sets up retry configuration using a geometric
// progression.
type ExponentialConfig struct {
	// First is the delay after the first failed attempt.
	First time.Duration
	// Factor multiplies the delay after every subsequent failure. Must be
	// at least 1.
	Factor int
	// Max caps the delay; zero means uncapped.
	Max time.Duration
	// Jitter is an optional jitter function applied to the delay. Note that
	// supplying a jitter means that successive calls to Duration may return
	// different results.
	Jitter Jitter
	// Clock overrides the clock in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults checks and sets defaults.
func (c *ExponentialConfig) CheckAndSetDefaults() error {
	if c.First <= 0 {
		return trace.BadParameter("missing parameter First")
	}
	if c.Factor < 1 {
		return trace.BadParameter("parameter Factor must be >= 1, got %v", c.Factor)
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// NewExponential returns a new instance of exponential retry.
func NewExponential(cfg ExponentialConfig) (*Exponential, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return newExponential(cfg), nil
}

func newExponential(cfg ExponentialConfig) *Exponential {
	closedChan := make(chan time.Time)
	close(closedChan)
	return &Exponential{ExponentialConfig: cfg, closedChan: closedChan}
}

// Exponential calculates a retry period of First * Factor^attempt, capped at
// Max. The first call to Duration, before any Inc, returns First.
type Exponential struct {
	ExponentialConfig
	attempt    int
	closedChan chan time.Time
}

// Reset resets the retry period to its initial state.
func (r *Exponential) Reset() {
	r.attempt = 0
}

// Inc increments the attempt counter.
func (r *Exponential) Inc() {
	r.attempt++
}

// Clone creates an identical copy of Exponential with fresh state.
func (r *Exponential) Clone() Retry {
	return newExponential(r.ExponentialConfig)
}

// Duration returns the retry duration based on state.
func (r *Exponential) Duration() time.Duration {
	d := r.First
	for range r.attempt {
		d *= time.Duration(r.Factor)
		if r.Max > 0 && d >= r.Max {
			d = r.Max
			break
		}
	}
	if r.Jitter != nil {
		d = r.Jitter(d)
	}
	return d
}

// After returns a channel that fires after the delay defined by Duration. As
// a special case, if Duration is 0 it returns a closed channel.
func (r *Exponential) After() <-chan time.Time {
	d := r.Duration()
	if d < 1 {
		return r.closedChan
	}
	return r.Clock.After(d)
}

// String returns a user-friendly representation of the Exponential.
func (r *Exponential) String() string {
	return fmt.Sprintf("Exponential(attempt=%v, duration=%v)", r.attempt, r.Duration())
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the sleep after the first failed attempt.
	InitialDelay time.Duration
	// BackoffFactor multiplies the sleep after every subsequent failure.
	BackoffFactor int
	// Jitter is optional and applied to every sleep.
	Jitter Jitter
	// Clock overrides the clock in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults checks and sets defaults.
func (c *ExecutorConfig) CheckAndSetDefaults() error {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.MaxAttempts < 1 {
		return trace.BadParameter("parameter MaxAttempts must be >= 1, got %v", c.MaxAttempts)
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = 200 * time.Millisecond
	}
	if c.BackoffFactor == 0 {
		c.BackoffFactor = 2
	}
	if c.BackoffFactor < 1 {
		return trace.BadParameter("parameter BackoffFactor must be >= 1, got %v", c.BackoffFactor)
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// NewExecutor returns a new Executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Executor{cfg: cfg}, nil
}

// Executor wraps a single function with bounded retries and exponential
// backoff. It is stateless between calls and safe for concurrent use.
type Executor struct {
	cfg ExecutorConfig
}

// Do runs fn up to MaxAttempts times. After each failure except the last it
// sleeps InitialDelay * BackoffFactor^(attempt-1). On exhaustion the last
// error is returned. Cancellation of ctx terminates the wait and the call.
// Errors wrapped with PermanentRetryError stop the loop at once.
func (e *Executor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	retry := newExponential(ExponentialConfig{
		First:  e.cfg.InitialDelay,
		Factor: e.cfg.BackoffFactor,
		Jitter: e.cfg.Jitter,
		Clock:  e.cfg.Clock,
	})
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return trace.Wrap(err)
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return trace.Wrap(perm.err)
		}
		if attempt == e.cfg.MaxAttempts {
			break
		}
		select {
		case <-retry.After():
			retry.Inc()
		case <-ctx.Done():
			return trace.Wrap(ctx.Err())
		}
	}
	return trace.Wrap(lastErr)
}

// PermanentRetryError marks err as not retryable. Executor.Do unwraps it and
// returns the original error without running further attempts.
func PermanentRetryError(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}
