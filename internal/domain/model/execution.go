package model

import "encoding/json"

type ExecutionMode string

const (
	ModeScript   ExecutionMode = "script"
	ModeFunction ExecutionMode = "function"
)

type ExecutionStatus string

const (
	ExecSuccess ExecutionStatus = "success"
	ExecError   ExecutionStatus = "error"
	ExecTimeout ExecutionStatus = "timeout"
)

// TestInput is one harness invocation: the entry point is called with Args spread positionally.
type TestInput struct {
	ID   string            `json:"id"`
	Args []json.RawMessage `json:"args"`
}

// SandboxFile is a single file shipped to the sandbox; the first file is the entry file.
type SandboxFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type SandboxRequest struct {
	Language       string        `json:"language"`
	Version        string        `json:"version"`
	Files          []SandboxFile `json:"files"`
	Stdin          string        `json:"stdin,omitempty"`
	RunTimeoutMs   int           `json:"run_timeout,omitempty"`
	CompileTimeout int           `json:"compile_timeout,omitempty"`
}

type SandboxRun struct {
	Stdout string  `json:"stdout"`
	Stderr string  `json:"stderr"`
	Code   *int    `json:"code"`
	Signal *string `json:"signal,omitempty"`
	Output string  `json:"output,omitempty"`
	Time   *int    `json:"cpu_time,omitempty"`
	Memory *int    `json:"memory,omitempty"`
}

type SandboxResponse struct {
	Language string     `json:"language,omitempty"`
	Version  string     `json:"version,omitempty"`
	Run      SandboxRun `json:"run"`
	Message  string     `json:"message,omitempty"` // Set by the sandbox on request errors
}

// ExitCode returns the process exit status, -1 when the sandbox reported none (killed by signal).
func (r SandboxRun) ExitCode() int {
	if r.Code == nil {
		return -1
	}
	return *r.Code
}

// CaseOutput mirrors one entry of the harness "results" array.
type CaseOutput struct {
	ID        string          `json:"id"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *string         `json:"error,omitempty"`
	Traceback *string         `json:"traceback,omitempty"`
	Time      float64         `json:"time"`
	Status    string          `json:"status"`
}

type ExecutionResult struct {
	Status ExecutionStatus `json:"status"`
	Output []CaseOutput    `json:"output"`
	Logs   string          `json:"logs"`
	Error  *string         `json:"error,omitempty"`
}
