package domain

import (
	"encoding/json"
	"time"
)

// Role is a fixed category of specialized agent work. Roles are a closed
// enum: adding one is a schema change, not runtime discovery.
type Role string

const (
	RoleAnalyze  Role = "analyze"
	RoleGenerate Role = "generate"
	RoleVerify   Role = "verify"
	RoleDocument Role = "document"
)

// Roles returns all roles in dispatch-plan order.
func Roles() []Role {
	return []Role{RoleAnalyze, RoleGenerate, RoleVerify, RoleDocument}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAnalyze, RoleGenerate, RoleVerify, RoleDocument:
		return true
	}
	return false
}

// TaskState represents the states a task can be in.
type TaskState string

const (
	TaskWaiting    TaskState = "WAITING"
	TaskDispatched TaskState = "DISPATCHED"
	TaskCompleted  TaskState = "COMPLETED"
	TaskFailed     TaskState = "FAILED"
	TaskExpired    TaskState = "EXPIRED"
)

// IsTerminal returns true if no further state transitions are possible
// short of an explicit retry.
func (s TaskState) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskExpired
}

// Task is one unit of work dispatched to exactly one agent role.
type Task struct {
	ID            string          `json:"id"`
	RequestID     string          `json:"request_id"`
	Role          Role            `json:"role"`
	DependsOn     []Role          `json:"depends_on,omitempty"`
	Input         TaskInput       `json:"input"`
	State         TaskState       `json:"state"`
	Attempt       int             `json:"attempt"`
	DispatchedAt  *time.Time      `json:"dispatched_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	Output        json.RawMessage `json:"output,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

// TaskInput is the payload handed to an agent: the original prompt merged
// with the outputs of every dependency, keyed by role.
type TaskInput struct {
	Prompt string                   `json:"prompt"`
	Deps   map[Role]json.RawMessage `json:"deps,omitempty"`
}

// TaskRun records a single terminal outcome of a task attempt series, for
// the audit trail.
type TaskRun struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id"`
	TaskID     string    `json:"task_id"`
	Role       Role      `json:"role"`
	Attempt    int       `json:"attempt"`
	State      TaskState `json:"state"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// TaskSpec declares one task of a request plan: the role and the roles
// whose completion gates its dispatch. The plan is data so that orderings
// like "document after verify" are a configuration change, not a rewrite.
type TaskSpec struct {
	Role      Role   `json:"role"`
	DependsOn []Role `json:"depends_on,omitempty"`
}

// DefaultPlan is the standard decomposition: Analyze gates Generate, and
// Verify and Document both depend only on Generate and run independently.
func DefaultPlan() []TaskSpec {
	return []TaskSpec{
		{Role: RoleAnalyze},
		{Role: RoleGenerate, DependsOn: []Role{RoleAnalyze}},
		{Role: RoleVerify, DependsOn: []Role{RoleGenerate}},
		{Role: RoleDocument, DependsOn: []Role{RoleGenerate}},
	}
}
