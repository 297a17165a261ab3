package driver

import (
	"encoding/json"
	"fmt"
	"strings"

	"tle_zone_judge/internal/domain/model"
)

const delimiterToken = "\n" + OutputDelimiter + "\n"

type harnessReport struct {
	Results []model.CaseOutput `json:"results"`
	Logs    string             `json:"logs"`
	Success bool               `json:"success"`
}

// parseHarnessOutput splits stdout on the last delimiter line and decodes the JSON report after it.
// The harness prints its delimiter last, so a delimiter echoed by user code cannot shadow it.
func parseHarnessOutput(run model.SandboxRun) model.ExecutionResult {
	idx := strings.LastIndex(run.Stdout, delimiterToken)
	if idx < 0 {
		msg := run.Stderr
		if msg == "" {
			msg = "Runtime Error (No driver output)"
			if run.Signal != nil && *run.Signal != "" {
				msg += ": killed by " + *run.Signal
			}
		}
		res := FailedResult(model.ExecError, msg)
		res.Logs = run.Stdout
		return res
	}

	preamble := run.Stdout[:idx]
	payload := run.Stdout[idx+len(delimiterToken):]

	var report harnessReport
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &report); err != nil {
		msg := fmt.Sprintf("Failed to parse driver output: %v", err)
		if run.Stderr != "" {
			msg += "\n" + run.Stderr
		}
		res := FailedResult(model.ExecError, msg)
		res.Logs = run.Stdout
		return res
	}
	if report.Results == nil {
		report.Results = []model.CaseOutput{}
	}

	res := model.ExecutionResult{
		Status: model.ExecSuccess,
		Output: report.Results,
		Logs:   preamble + report.Logs,
	}
	if !report.Success {
		res.Status = model.ExecError
		res.Error = firstCaseError(report.Results)
		if res.Error == nil && run.Stderr != "" {
			stderr := run.Stderr
			res.Error = &stderr
		}
	}
	return res
}

func firstCaseError(results []model.CaseOutput) *string {
	for _, r := range results {
		if r.Status == "error" && r.Error != nil {
			return r.Error
		}
	}
	for _, r := range results {
		if r.Error != nil {
			return r.Error
		}
	}
	return nil
}

// parseScriptOutput maps a plain program run: exit code zero is success with stdout as the only
// output unit, anything else is an error carrying stderr.
func parseScriptOutput(run model.SandboxRun) model.ExecutionResult {
	if run.ExitCode() == 0 {
		stdout, _ := json.Marshal(run.Stdout)
		return model.ExecutionResult{
			Status: model.ExecSuccess,
			Output: []model.CaseOutput{{ID: "0", Result: stdout, Status: string(model.ExecSuccess)}},
			Logs:   run.Stdout,
		}
	}

	msg := run.Stderr
	if msg == "" {
		msg = fmt.Sprintf("Process exited with code %d", run.ExitCode())
		if run.Signal != nil && *run.Signal != "" {
			msg = "Process killed by " + *run.Signal
		}
	}
	res := FailedResult(model.ExecError, msg)
	res.Logs = run.Stdout
	return res
}
