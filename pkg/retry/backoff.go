package retry

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes how long a failed task waits before it re-enters the
// queue. attempt is the number of attempts already made, so the first retry
// asks for Next(1).
type Backoff interface {
	Next(attempt int) time.Duration
}

// FixedBackoff waits the same delay before every retry.
type FixedBackoff struct {
	Delay time.Duration
}

func (b FixedBackoff) Next(_ int) time.Duration { return b.Delay }

// LinearBackoff waits Base, then Base+Step, Base+2*Step, ... capped at Max.
type LinearBackoff struct {
	Base time.Duration
	Step time.Duration
	Max  time.Duration
}

func (b LinearBackoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return capAt(b.Base+b.Step*time.Duration(attempt-1), b.Max)
}

// ExponentialBackoff waits Base, then multiplies by Multiplier per attempt,
// capped at Max.
type ExponentialBackoff struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

func (b ExponentialBackoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.Base) * math.Pow(b.Multiplier, float64(attempt-1))
	if math.IsInf(delay, 0) || delay > float64(math.MaxInt64) {
		if b.Max > 0 {
			return b.Max
		}
		return time.Duration(math.MaxInt64)
	}
	return capAt(time.Duration(delay), b.Max)
}

// JitterBackoff spreads another strategy's delay by up to ±Fraction so that
// tasks failing together do not all return at the same instant.
type JitterBackoff struct {
	Backoff  Backoff
	Fraction float64
}

func (b JitterBackoff) Next(attempt int) time.Duration {
	d := b.Backoff.Next(attempt)
	if b.Fraction <= 0 || d <= 0 {
		return d
	}
	spread := (rand.Float64()*2 - 1) * b.Fraction
	return time.Duration(float64(d) * (1 + spread))
}

func capAt(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	return d
}

func NewFixedBackoff(delay time.Duration) Backoff {
	return FixedBackoff{Delay: delay}
}

func NewLinearBackoff(base, step, max time.Duration) Backoff {
	return LinearBackoff{Base: base, Step: step, Max: max}
}

func NewExponentialBackoff(base time.Duration, multiplier float64, max time.Duration) Backoff {
	if multiplier < 1.0 {
		multiplier = 2.0
	}
	return ExponentialBackoff{Base: base, Multiplier: multiplier, Max: max}
}

// Strategy names accepted by NewBackoff.
const (
	StrategyFixed       = "fixed"
	StrategyLinear      = "linear"
	StrategyExponential = "exponential"
)

// NewBackoff builds a strategy by name. For linear backoff base doubles as
// the step.
func NewBackoff(strategy string, base, max time.Duration, multiplier float64) (Backoff, error) {
	if base < 0 || max < 0 {
		return nil, fmt.Errorf("backoff delays cannot be negative")
	}
	switch strategy {
	case StrategyFixed:
		return NewFixedBackoff(base), nil
	case StrategyLinear:
		return NewLinearBackoff(base, base, max), nil
	case StrategyExponential, "":
		return NewExponentialBackoff(base, multiplier, max), nil
	default:
		return nil, fmt.Errorf("unknown backoff strategy %q", strategy)
	}
}
