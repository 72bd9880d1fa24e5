package domain

import "fmt"

// InvalidInputError is returned when submit arguments are rejected
// synchronously, before any task is created.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Reason)
}

// RequestNotFoundError is returned when a request ID does not exist.
type RequestNotFoundError struct {
	RequestID string
}

func (e *RequestNotFoundError) Error() string {
	return fmt.Sprintf("request not found: %s", e.RequestID)
}

// TaskNotFoundError is returned when a task ID does not exist.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// UnknownRoleError is returned when a message names a role outside the
// closed enum, or no capability is registered for it.
type UnknownRoleError struct {
	Role Role
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("unknown agent role %q", e.Role)
}

// StaleReplyError is returned when a reply arrives for a task that cannot
// accept it: the task is not Dispatched (redelivery, late reply after
// cancel) or the reply answers a superseded attempt. Stale replies never
// mutate the ledger.
type StaleReplyError struct {
	TaskID  string
	State   TaskState
	Attempt int
}

func (e *StaleReplyError) Error() string {
	return fmt.Sprintf("stale reply for task %s in state %s (attempt %d)", e.TaskID, e.State, e.Attempt)
}

// RetriesExhaustedError is produced when a task has failed or timed out on
// every allowed attempt. It names the failing role and attempt count and
// becomes the request's failure reason.
type RetriesExhaustedError struct {
	Role     Role
	TaskID   string
	Attempts int
	Reason   string
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("role %s exhausted %d attempts (task %s): %s",
		e.Role, e.Attempts, e.TaskID, e.Reason)
}

// RequestTerminalError is returned when an operation targets a request
// already in a terminal state.
type RequestTerminalError struct {
	RequestID string
	Status    RequestStatus
}

func (e *RequestTerminalError) Error() string {
	return fmt.Sprintf("request %s already terminal with status %s", e.RequestID, e.Status)
}
