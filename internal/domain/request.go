package domain

import "time"

// RequestStatus represents the states a development request can be in.
type RequestStatus string

const (
	RequestPending    RequestStatus = "PENDING"
	RequestInProgress RequestStatus = "IN_PROGRESS"
	RequestCompleted  RequestStatus = "COMPLETED"
	RequestFailed     RequestStatus = "FAILED"
	RequestTimedOut   RequestStatus = "TIMED_OUT"
)

// IsTerminal returns true if no further state transitions are possible.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestCompleted || s == RequestFailed || s == RequestTimedOut
}

// Request is one end-user prompt being orchestrated across agents.
// The prompt is immutable after submission; status and result are mutated
// only by the coordinator as agent replies arrive.
type Request struct {
	ID            string        `json:"id"`
	Prompt        string        `json:"prompt"`
	Status        RequestStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	Result        *Result       `json:"result,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
}

// Result is the aggregated final artifact of a completed request.
type Result struct {
	Code          string             `json:"code"`
	Language      string             `json:"language,omitempty"`
	Documentation string             `json:"documentation"`
	Verification  VerificationReport `json:"verification"`
}

// VerificationReport is the verifier's judgement on generated code.
// A failing report is data, not an orchestration failure: the request
// still completes and carries the findings.
type VerificationReport struct {
	Pass     bool     `json:"pass"`
	Findings []string `json:"findings,omitempty"`
}

// AnalysisOutput is the analyzer's reading of the original prompt.
type AnalysisOutput struct {
	Intent   string   `json:"intent"`
	Language string   `json:"language"`
	Keywords []string `json:"keywords,omitempty"`
}

// GenerationOutput is the generator's produced code.
type GenerationOutput struct {
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
}

// DocumentationOutput is the documenter's produced text.
type DocumentationOutput struct {
	Documentation string `json:"documentation"`
}
