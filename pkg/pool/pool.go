// Package pool bounds how many automation sessions may run at once.
//
// A Pool owns a fixed number of slots. Each slot lazily creates its Agent on
// first use and keeps it for later acquisitions, so a browser session is
// reused across tasks instead of being relaunched per task. A discarded
// agent is rebuilt on the slot's next acquisition.
package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/entrhq/webrunner/pkg/agent"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrClosed is returned by Acquire after Close.
	ErrClosed = errors.New("pool closed")
	// ErrAgentUnavailable wraps Factory failures. The slot is released
	// before Acquire returns.
	ErrAgentUnavailable = errors.New("agent unavailable")
)

// Factory creates the agent backing a slot.
type Factory func(ctx context.Context, slot int) (agent.Agent, error)

// Slot is permission to run one agent session. It must be handed back with
// Release.
type Slot struct {
	ID    int
	Agent agent.Agent
}

// Pool is safe for concurrent use. Waiters are served in arrival order, so
// every waiter eventually acquires once slots keep being released.
type Pool struct {
	size    int
	sem     *semaphore.Weighted
	factory Factory

	mu     sync.Mutex
	free   []*Slot
	slots  []*Slot
	inUse  int
	closed bool
}

// New creates a pool with size slots.
func New(size int, factory Factory) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", size)
	}
	if factory == nil {
		return nil, fmt.Errorf("agent factory is required")
	}

	p := &Pool{
		size:    size,
		sem:     semaphore.NewWeighted(int64(size)),
		factory: factory,
		slots:   make([]*Slot, size),
		free:    make([]*Slot, 0, size),
	}
	for i := size - 1; i >= 0; i-- {
		s := &Slot{ID: i}
		p.slots[i] = s
		p.free = append(p.free, s)
	}
	return p, nil
}

// Acquire blocks until a slot is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Slot, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, ErrClosed
	}
	s := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.inUse++
	p.mu.Unlock()

	if s.Agent == nil {
		a, err := p.factory(ctx, s.ID)
		if err != nil {
			p.Release(s)
			return nil, fmt.Errorf("%w for slot %d: %w", ErrAgentUnavailable, s.ID, err)
		}
		s.Agent = a
	}
	return s, nil
}

// Release returns a slot acquired with Acquire.
func (p *Pool) Release(s *Slot) {
	p.mu.Lock()
	p.free = append(p.free, s)
	p.inUse--
	p.mu.Unlock()
	p.sem.Release(1)
}

// Discard closes the agent held by s and clears it, so the next Acquire of
// the slot builds a fresh one. The caller must still hold s.
func (p *Pool) Discard(s *Slot) error {
	p.mu.Lock()
	a := s.Agent
	s.Agent = nil
	p.mu.Unlock()

	if c, ok := a.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("slot %d: %w", s.ID, err)
		}
	}
	return nil
}

// Size returns the fixed number of slots.
func (p *Pool) Size() int {
	return p.size
}

// InUse returns the number of slots currently acquired.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Close rejects further acquisitions and closes every agent that implements
// io.Closer. Callers should release outstanding slots first.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	slots := append([]*Slot(nil), p.slots...)
	p.mu.Unlock()

	var errs []error
	for _, s := range slots {
		if c, ok := s.Agent.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("slot %d: %w", s.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}
