package executor

import (
	"fmt"
	"time"

	"github.com/entrhq/webrunner/pkg/logging"
	"github.com/entrhq/webrunner/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
)

// Mode controls when Run returns.
type Mode string

const (
	// ModeDrain returns once no task is queued, running, or waiting to retry.
	ModeDrain Mode = "drain"
	// ModeServe keeps running until Stop is called or the context ends.
	ModeServe Mode = "serve"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDrain, ModeServe:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("invalid mode: %s (must be 'drain' or 'serve')", s)
	}
}

// DefaultMaxAttempts applies to tasks submitted without their own cap.
const DefaultMaxAttempts = 3

// Option configures an Executor.
type Option func(*Executor)

// WithMode sets drain or serve mode. The default is ModeDrain.
func WithMode(m Mode) Option {
	return func(e *Executor) {
		e.mode = m
	}
}

// WithRetryPolicy replaces retry.DefaultPolicy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(e *Executor) {
		if p != nil {
			e.policy = p
		}
	}
}

// WithLogger sets the executor's logger. The default discards output.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics registers the executor's collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(e *Executor) {
		e.registerer = reg
	}
}

// WithDefaultMaxAttempts sets the cap used for tasks whose MaxAttempts is zero.
func WithDefaultMaxAttempts(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.defaultMaxAttempts = n
		}
	}
}

// WithDefaultTimeout bounds attempts of tasks that have no timeout of their own.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}
