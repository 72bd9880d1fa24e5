// Package ledger holds the coordinator's authoritative in-memory record of
// all in-flight requests and their tasks. Mutation of one request's tasks is
// serialized by a per-request mutex; different requests are independent and
// may be processed in parallel.
package ledger

import (
	"sync"
	"time"

	"github.com/bngesp/MultiCoder/internal/domain"
)

// Entry is one request together with its tasks and the role index used for
// O(1) dependency resolution.
type Entry struct {
	Request *domain.Request
	Tasks   map[string]*domain.Task
	ByRole  map[domain.Role]string
}

// Task returns the task with the given ID, or nil.
func (e *Entry) Task(id string) *domain.Task {
	return e.Tasks[id]
}

// TaskByRole returns the request's task for the given role, or nil.
func (e *Entry) TaskByRole(role domain.Role) *domain.Task {
	id, ok := e.ByRole[role]
	if !ok {
		return nil
	}
	return e.Tasks[id]
}

// DependenciesMet reports whether every task t depends on is Completed.
func (e *Entry) DependenciesMet(t *domain.Task) bool {
	for _, role := range t.DependsOn {
		dep := e.TaskByRole(role)
		if dep == nil || dep.State != domain.TaskCompleted {
			return false
		}
	}
	return true
}

// ReadyTasks returns all Waiting tasks whose dependencies are fully
// resolved, in plan order.
func (e *Entry) ReadyTasks() []*domain.Task {
	var ready []*domain.Task
	for _, role := range domain.Roles() {
		t := e.TaskByRole(role)
		if t != nil && t.State == domain.TaskWaiting && e.DependenciesMet(t) {
			ready = append(ready, t)
		}
	}
	return ready
}

// AllCompleted reports whether every task of the request is Completed.
func (e *Entry) AllCompleted() bool {
	for _, t := range e.Tasks {
		if t.State != domain.TaskCompleted {
			return false
		}
	}
	return true
}

type lockedEntry struct {
	mu sync.Mutex
	e  Entry
}

// Ledger maps request IDs to entries and task IDs back to their requests.
// No entry is deleted while its request is non-terminal; terminal entries
// are evicted by the retention sweep.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]*lockedEntry
	byTask  map[string]string
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{
		entries: make(map[string]*lockedEntry),
		byTask:  make(map[string]string),
	}
}

// Insert registers a new request and its tasks. The tasks must belong to
// the request and carry unique IDs.
func (l *Ledger) Insert(req *domain.Request, tasks []*domain.Task) {
	le := &lockedEntry{e: Entry{
		Request: req,
		Tasks:   make(map[string]*domain.Task, len(tasks)),
		ByRole:  make(map[domain.Role]string, len(tasks)),
	}}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range tasks {
		le.e.Tasks[t.ID] = t
		le.e.ByRole[t.Role] = t.ID
		l.byTask[t.ID] = req.ID
	}
	l.entries[req.ID] = le
}

// Update runs fn with exclusive access to the request's entry. Returns
// RequestNotFoundError if the request is unknown or already evicted.
func (l *Ledger) Update(requestID string, fn func(*Entry) error) error {
	l.mu.RLock()
	le, ok := l.entries[requestID]
	l.mu.RUnlock()
	if !ok {
		return &domain.RequestNotFoundError{RequestID: requestID}
	}
	le.mu.Lock()
	defer le.mu.Unlock()
	return fn(&le.e)
}

// UpdateByTask resolves a task ID to its owning request and runs fn under
// that request's lock. Returns TaskNotFoundError for unknown task IDs.
func (l *Ledger) UpdateByTask(taskID string, fn func(*Entry, *domain.Task) error) error {
	l.mu.RLock()
	requestID, ok := l.byTask[taskID]
	l.mu.RUnlock()
	if !ok {
		return &domain.TaskNotFoundError{TaskID: taskID}
	}
	return l.Update(requestID, func(e *Entry) error {
		t := e.Task(taskID)
		if t == nil {
			return &domain.TaskNotFoundError{TaskID: taskID}
		}
		return fn(e, t)
	})
}

// Snapshot returns copies of the request and its tasks for external reads.
func (l *Ledger) Snapshot(requestID string) (domain.Request, []domain.Task, error) {
	var req domain.Request
	var tasks []domain.Task
	err := l.Update(requestID, func(e *Entry) error {
		req = *e.Request
		tasks = make([]domain.Task, 0, len(e.Tasks))
		for _, role := range domain.Roles() {
			if t := e.TaskByRole(role); t != nil {
				tasks = append(tasks, *t)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Request{}, nil, err
	}
	return req, tasks, nil
}

// Len returns the number of requests currently held.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// SweepTerminal evicts requests that reached a terminal status before
// now-retention and returns how many were removed. Non-terminal requests
// are never evicted.
func (l *Ledger) SweepTerminal(retention time.Duration, now time.Time) int {
	cutoff := now.Add(-retention)

	l.mu.Lock()
	defer l.mu.Unlock()
	evicted := 0
	for id, le := range l.entries {
		le.mu.Lock()
		expired := le.e.Request.Status.IsTerminal() && le.e.Request.UpdatedAt.Before(cutoff)
		if expired {
			for taskID := range le.e.Tasks {
				delete(l.byTask, taskID)
			}
			delete(l.entries, id)
			evicted++
		}
		le.mu.Unlock()
	}
	return evicted
}
