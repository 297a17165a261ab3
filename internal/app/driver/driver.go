// Package driver turns user source code into sandbox payloads and reads the sandbox output back.
//
// A driver runs in one of two modes. In script mode the code is shipped as-is and its exit code
// decides success. In function mode the code is wrapped in a language-specific harness that calls
// a named entry point once per test input and prints a JSON report after OutputDelimiter.
package driver

import (
	"fmt"

	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"
)

const (
	// OutputDelimiter is printed on its own line by every harness, directly before the JSON report.
	OutputDelimiter = "---PISTON_DRIVER_OUTPUT---"
	// InputsFile is the side file that carries test inputs, keeping stdin free for user code.
	InputsFile = "inputs.json"

	DefaultEntryPoint = "solution"
	DefaultClassName  = "Solution"
)

// Config selects the mode and harness parameters of one driver instance.
type Config struct {
	Mode        model.ExecutionMode `json:"mode"`
	EntryPoint  string              `json:"entry_point,omitempty"`
	ClassName   string              `json:"class_name,omitempty"`
	Version     string              `json:"version,omitempty"`
	TimeLimitMs int                 `json:"time_limit_ms,omitempty"`
	Stdin       string              `json:"stdin,omitempty"` // script mode only
}

// CodeAnalysis is advisory. Valid is never used to reject a submission.
type CodeAnalysis struct {
	Imports []string `json:"imports"`
	Valid   bool     `json:"valid"`
}

type Driver interface {
	Language() string
	Prepare() CodeAnalysis
	// SetInputs attaches the ordered inputs the harness iterates in function mode.
	SetInputs(inputs []model.TestInput) Driver
	GeneratePayload() (model.SandboxRequest, error)
	// ParseResult never fails: malformed or missing harness output becomes an error status.
	ParseResult(resp model.SandboxResponse) model.ExecutionResult
}

// UnsupportedLanguageError is returned by Registry.New for unknown language names.
type UnsupportedLanguageError struct {
	Language string
}

func (e *UnsupportedLanguageError) Error() string {
	return fmt.Sprintf("unsupported language: %s", e.Language)
}

func (e *UnsupportedLanguageError) Unwrap() error {
	return common.ErrBadRequest
}

// FailedResult builds the result reported when the run never produced usable output.
func FailedResult(status model.ExecutionStatus, msg string) model.ExecutionResult {
	return model.ExecutionResult{
		Status: status,
		Output: []model.CaseOutput{},
		Error:  &msg,
	}
}

func (c Config) withDefaults(version string) Config {
	if c.Mode == "" {
		c.Mode = model.ModeScript
	}
	if c.EntryPoint == "" {
		c.EntryPoint = DefaultEntryPoint
	}
	if c.ClassName == "" {
		c.ClassName = DefaultClassName
	}
	if c.Version == "" {
		c.Version = version
	}
	return c
}
