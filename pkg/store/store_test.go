package store

import (
	"context"
	"testing"
	"time"

	"github.com/entrhq/webrunner/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func result(id string, status task.Status) task.Result {
	return task.Result{TaskID: id, Status: status, Kind: task.KindScrape}
}

func TestPutIsWriteOnce(t *testing.T) {
	s := New()
	require.NoError(t, s.Put(1, result("t1", task.StatusCompleted)))

	err := s.Put(2, result("t1", task.StatusFailed))
	assert.ErrorIs(t, err, ErrExists)

	got, ok := s.Get("t1")
	require.True(t, ok)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, 1, s.Len())
}

func TestPutRejectsNonTerminal(t *testing.T) {
	s := New()
	assert.Error(t, s.Put(1, result("t1", task.StatusRunning)))
	assert.False(t, s.Has("t1"))
}

func TestSnapshotInSubmissionOrder(t *testing.T) {
	s := New()
	require.NoError(t, s.Put(3, result("c", task.StatusCancelled)))
	require.NoError(t, s.Put(1, result("a", task.StatusCompleted)))
	require.NoError(t, s.Put(2, result("b", task.StatusFailed)))

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "a", snap[0].TaskID)
	assert.Equal(t, "b", snap[1].TaskID)
	assert.Equal(t, "c", snap[2].TaskID)

	assert.Equal(t, map[task.Status]int{
		task.StatusCompleted: 1,
		task.StatusFailed:    1,
		task.StatusCancelled: 1,
	}, s.Counts())
}

func TestWait(t *testing.T) {
	s := New()

	done := make(chan task.Result)
	go func() {
		r, err := s.Wait(context.Background(), "t1")
		if err == nil {
			done <- r
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Put(1, result("t1", task.StatusCompleted)))

	select {
	case r := <-done:
		assert.Equal(t, "t1", r.TaskID)
	case <-time.After(time.Second):
		t.Fatal("waiter was not notified")
	}

	r, err := s.Wait(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, r.Status)
}

func TestWaitHonorsContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.Wait(ctx, "missing")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	s.mu.Lock()
	assert.Empty(t, s.waiters)
	s.mu.Unlock()
}
