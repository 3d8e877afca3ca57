package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/entrhq/webrunner/pkg/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closingAgent struct {
	closed atomic.Bool
}

func (a *closingAgent) Do(context.Context, agent.Instruction) (*agent.Response, error) {
	return &agent.Response{}, nil
}

func (a *closingAgent) Close() error {
	a.closed.Store(true)
	return nil
}

func countingFactory(created *atomic.Int32) Factory {
	return func(context.Context, int) (agent.Agent, error) {
		created.Add(1)
		return &closingAgent{}, nil
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(0, countingFactory(new(atomic.Int32)))
	assert.Error(t, err)

	_, err = New(1, nil)
	assert.Error(t, err)
}

func TestAcquireReusesAgents(t *testing.T) {
	var created atomic.Int32
	p, err := New(2, countingFactory(&created))
	require.NoError(t, err)

	s1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	first := s1.Agent
	p.Release(s1)

	s2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, s2.Agent)
	assert.Equal(t, int32(1), created.Load())
	p.Release(s2)
}

func TestAcquireBlocksWhenExhausted(t *testing.T) {
	var created atomic.Int32
	p, err := New(1, countingFactory(&created))
	require.NoError(t, err)

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.InUse())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan *Slot)
	go func() {
		s, err := p.Acquire(context.Background())
		if err == nil {
			acquired <- s
		}
	}()

	select {
	case <-acquired:
		t.Fatal("acquire should block while the only slot is taken")
	case <-time.After(20 * time.Millisecond):
	}

	p.Release(s)
	select {
	case s2 := <-acquired:
		p.Release(s2)
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the released slot")
	}
	assert.Zero(t, p.InUse())
}

func TestConcurrencyNeverExceedsSize(t *testing.T) {
	var created atomic.Int32
	p, err := New(3, countingFactory(&created))
	require.NoError(t, err)

	var current, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := p.Acquire(context.Background())
			if err != nil {
				return
			}
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			current.Add(-1)
			p.Release(s)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.LessOrEqual(t, created.Load(), int32(3))
}

func TestFactoryErrorReleasesSlot(t *testing.T) {
	p, err := New(1, func(context.Context, int) (agent.Agent, error) {
		return nil, errors.New("browser failed to launch")
	})
	require.NoError(t, err)

	_, err = p.Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAgentUnavailable)
	assert.Contains(t, err.Error(), "browser failed to launch")
	assert.Zero(t, p.InUse())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.NotErrorIs(t, err, context.DeadlineExceeded, "slot must have been released")
}

func TestCloseClosesAgents(t *testing.T) {
	var created atomic.Int32
	p, err := New(2, countingFactory(&created))
	require.NoError(t, err)

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	a := s.Agent.(*closingAgent)
	p.Release(s)

	require.NoError(t, p.Close())
	assert.True(t, a.closed.Load())

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, p.Close())
}

func TestDiscardRebuildsAgent(t *testing.T) {
	var created atomic.Int32
	p, err := New(1, countingFactory(&created))
	require.NoError(t, err)

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	first := s.Agent.(*closingAgent)

	require.NoError(t, p.Discard(s))
	assert.True(t, first.closed.Load())
	assert.Nil(t, s.Agent)
	p.Release(s)

	s, err = p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, s.Agent)
	assert.Equal(t, int32(2), created.Load())
	p.Release(s)

	require.NoError(t, p.Close())
}
