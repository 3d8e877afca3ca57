// Package retry decides whether a failed task attempt is worth repeating and
// how long to wait before it re-enters the queue.
package retry

import (
	"time"

	"github.com/entrhq/webrunner/pkg/task"
)

// Policy is consulted by the executor after every failed attempt.
type Policy interface {
	// ShouldRetry reports whether a task that failed with kind after attempt
	// attempts, out of maxAttempts allowed, gets another attempt.
	ShouldRetry(kind task.ErrorKind, attempt, maxAttempts int) bool
	// BackoffDelay is the wait before the task re-enters the queue.
	BackoffDelay(attempt int) time.Duration
}

// Defaults mirror the agent settings: three attempts, exponential backoff
// from one second capped at ten.
const (
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = 10 * time.Second
	DefaultMultiplier = 2.0
)

// BackoffPolicy retries transient failures until attempts run out, waiting
// according to its Backoff strategy.
type BackoffPolicy struct {
	backoff Backoff
}

// NewPolicy returns a policy using b. A nil b falls back to DefaultBackoff.
func NewPolicy(b Backoff) *BackoffPolicy {
	if b == nil {
		b = DefaultBackoff()
	}
	return &BackoffPolicy{backoff: b}
}

// DefaultBackoff is exponential from DefaultBaseDelay capped at DefaultMaxDelay.
func DefaultBackoff() Backoff {
	return NewExponentialBackoff(DefaultBaseDelay, DefaultMultiplier, DefaultMaxDelay)
}

// DefaultPolicy returns NewPolicy(DefaultBackoff()).
func DefaultPolicy() *BackoffPolicy {
	return NewPolicy(DefaultBackoff())
}

func (p *BackoffPolicy) ShouldRetry(kind task.ErrorKind, attempt, maxAttempts int) bool {
	if kind != task.ErrorTransient {
		return false
	}
	return attempt < maxAttempts
}

func (p *BackoffPolicy) BackoffDelay(attempt int) time.Duration {
	return p.backoff.Next(attempt)
}

// Never is a policy that never retries.
type Never struct{}

func (Never) ShouldRetry(task.ErrorKind, int, int) bool { return false }
func (Never) BackoffDelay(int) time.Duration             { return 0 }
