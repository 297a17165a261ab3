package model

import "time"

type SubmissionStatus string

const (
	StatusAccepted     SubmissionStatus = "Accepted"
	StatusWrongAnswer  SubmissionStatus = "Wrong Answer"
	StatusRuntimeError SubmissionStatus = "Runtime Error"
)

// Submission is append-only: rows are inserted once and never updated.
type Submission struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	ProblemID       string           `json:"problem_id"`
	Language        string           `json:"language"`
	Code            string           `json:"code"`
	Status          SubmissionStatus `json:"status"`
	ExecutionTimeMs *int             `json:"execution_time_ms,omitempty"`
	MemoryKb        *int             `json:"memory_kb,omitempty"`
	SubmittedAt     time.Time        `json:"submitted_at"`
}

// TestCaseVerdict is the per-case judging outcome returned to the client.
// Input, Expected and Actual carry HiddenMarker for hidden cases.
type TestCaseVerdict struct {
	ID       string  `json:"id"`
	Passed   bool    `json:"passed"`
	Input    string  `json:"input"`
	Expected string  `json:"expected"`
	Actual   string  `json:"actual"`
	Error    *string `json:"error,omitempty"`
}

const (
	HiddenMarker  = "[Hidden]"
	ErrorMarker   = "[Error]"
	NoResultValue = "No Result"
)
