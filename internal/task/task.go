// Package task implements the per-page lifecycle state machine.
//
// Every page of a run is tracked by exactly one Task. Transitions move
// forward through fetch, parse, and persist, with a single backward
// transition (Fetching -> Pending) used by the bounded retry loop.
package task

import (
	"fmt"
	"sync"
)

// Status is the lifecycle state of a page task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFetching  Status = "fetching"
	StatusFetched   Status = "fetched"
	StatusParsing   Status = "parsing"
	StatusParsed    Status = "parsed"
	StatusPersisted Status = "persisted"
	StatusFailed    Status = "failed"
)

// transitions lists the legal forward edges of the machine.
// The retry edge (Fetching -> Pending) is handled by Retry, not here.
var transitions = map[Status][]Status{
	StatusPending:  {StatusFetching},
	StatusFetching: {StatusFetched, StatusFailed},
	StatusFetched:  {StatusParsing},
	StatusParsing:  {StatusParsed, StatusFailed},
	StatusParsed:   {StatusPersisted},
}

// Task tracks one page through fetch, parse, and persist.
// Safe for concurrent use; tiers hand tasks between goroutines.
type Task struct {
	mu sync.Mutex

	pageNumber int
	status     Status
	attempts   int
	lastErr    error
}

// New returns a pending task for the given page number.
func New(pageNumber int) *Task {
	return &Task{pageNumber: pageNumber, status: StatusPending}
}

// PageNumber returns the page this task tracks.
func (t *Task) PageNumber() int {
	return t.pageNumber
}

// Status returns the current lifecycle state.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Attempts returns how many fetch attempts have been started.
func (t *Task) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// LastErr returns the most recent error recorded on this task.
func (t *Task) LastErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Transition moves the task to next, enforcing the machine's edges.
// An illegal transition indicates a pipeline bug and returns an error
// without changing state.
func (t *Task) Transition(next Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, allowed := range transitions[t.status] {
		if next == allowed {
			if next == StatusFetching {
				t.attempts++
			}
			t.status = next
			return nil
		}
	}
	return fmt.Errorf("page %d: illegal transition %s -> %s", t.pageNumber, t.status, next)
}

// Retry returns the task to Pending after a transient fetch failure.
// Returns false once maxAttempts have been started; the caller should
// then fail the task instead.
func (t *Task) Retry(err error, maxAttempts int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusFetching {
		return false
	}
	t.lastErr = err
	if t.attempts >= maxAttempts {
		return false
	}
	t.status = StatusPending
	return true
}

// Fail marks the task failed from any non-terminal state.
func (t *Task) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status == StatusPersisted || t.status == StatusFailed {
		return
	}
	t.lastErr = err
	t.status = StatusFailed
}

// Terminal reports whether the task reached Persisted or Failed.
func (t *Task) Terminal() bool {
	s := t.Status()
	return s == StatusPersisted || s == StatusFailed
}
