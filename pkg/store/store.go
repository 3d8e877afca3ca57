// Package store keeps the terminal results of a session in memory.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/entrhq/webrunner/pkg/task"
)

// ErrExists is returned when a result for the task id is already stored.
var ErrExists = errors.New("result already recorded")

type entry struct {
	result task.Result
	order  uint64
}

// Store is a write-once, in-memory result store. Results are kept for the
// lifetime of the Store.
type Store struct {
	mu      sync.Mutex
	results map[string]entry
	waiters map[string][]chan task.Result
}

// New creates an empty store.
func New() *Store {
	return &Store{
		results: make(map[string]entry),
		waiters: make(map[string][]chan task.Result),
	}
}

// Put records r. order is the submission order used by Snapshot.
// A second Put for the same task id fails with ErrExists and leaves the
// first result untouched.
func (s *Store) Put(order uint64, r task.Result) error {
	if !r.Status.Terminal() {
		return fmt.Errorf("task %q: cannot store non-terminal status %q", r.TaskID, r.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.results[r.TaskID]; exists {
		return fmt.Errorf("task %q: %w", r.TaskID, ErrExists)
	}
	s.results[r.TaskID] = entry{result: r, order: order}

	for _, ch := range s.waiters[r.TaskID] {
		ch <- r
	}
	delete(s.waiters, r.TaskID)
	return nil
}

// Get returns the result for id.
func (s *Store) Get(id string) (task.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.results[id]
	return e.result, ok
}

// Has reports whether a result for id is stored.
func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.results[id]
	return ok
}

// Len returns the number of stored results.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.results)
}

// Snapshot returns every stored result in submission order.
func (s *Store) Snapshot() []task.Result {
	s.mu.Lock()
	entries := make([]entry, 0, len(s.results))
	for _, e := range s.results {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].order < entries[j].order
	})

	out := make([]task.Result, len(entries))
	for i, e := range entries {
		out[i] = e.result
	}
	return out
}

// Counts returns the number of stored results per status.
func (s *Store) Counts() map[task.Status]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[task.Status]int)
	for _, e := range s.results {
		counts[e.result.Status]++
	}
	return counts
}

// Wait blocks until a result for id is stored or ctx is done.
func (s *Store) Wait(ctx context.Context, id string) (task.Result, error) {
	s.mu.Lock()
	if e, ok := s.results[id]; ok {
		s.mu.Unlock()
		return e.result, nil
	}
	ch := make(chan task.Result, 1)
	s.waiters[id] = append(s.waiters[id], ch)
	s.mu.Unlock()

	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		s.removeWaiter(id, ch)
		return task.Result{}, ctx.Err()
	}
}

func (s *Store) removeWaiter(id string, ch chan task.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	waiters := s.waiters[id]
	for i, w := range waiters {
		if w == ch {
			s.waiters[id] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(s.waiters[id]) == 0 {
		delete(s.waiters, id)
	}
}
