package domain

import "encoding/json"

// TaskEnvelope is the message published to a role's inbound topic.
type TaskEnvelope struct {
	RequestID string    `json:"request_id"`
	TaskID    string    `json:"task_id"`
	Role      Role      `json:"role"`
	Input     TaskInput `json:"input"`
	Attempt   int       `json:"attempt"`
}

// ReplyEnvelope is the message an agent publishes to the reply topic,
// exactly once per received task message. Attempt echoes the task
// envelope's attempt so the coordinator can discard replies from
// superseded attempts.
type ReplyEnvelope struct {
	RequestID string  `json:"request_id"`
	TaskID    string  `json:"task_id"`
	Role      Role    `json:"role"`
	AgentID   string  `json:"agent_id,omitempty"`
	Attempt   int     `json:"attempt"`
	Outcome   Outcome `json:"outcome"`
}

// Outcome is either a success carrying the agent's output payload or a
// failure carrying a human-readable reason.
type Outcome struct {
	Success bool            `json:"success"`
	Output  json.RawMessage `json:"output,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

// SuccessOutcome wraps an output payload in a successful Outcome.
func SuccessOutcome(output json.RawMessage) Outcome {
	return Outcome{Success: true, Output: output}
}

// FailureOutcome builds a failed Outcome with the given reason.
func FailureOutcome(reason string) Outcome {
	return Outcome{Success: false, Reason: reason}
}
