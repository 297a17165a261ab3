package driver

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"tle_zone_judge/internal/domain/model"
)

const pythonEntryFile = "main.py"

// pythonHarness wraps user code for function mode. Placeholders are substituted in a single pass,
// so user code containing placeholder text is left alone. User code comes first so that its
// __future__ imports stay the first statements of the file.
const pythonHarness = `{{USER_CODE}}

import io as _io
import json as _json
import sys as _sys
import time as _time
import traceback as _traceback


def _harness_resolve(entry_point, class_name):
    target = globals().get(class_name) if class_name else None
    if isinstance(target, type):
        instance = target()
        if hasattr(instance, entry_point):
            return getattr(instance, entry_point)
    func = globals().get(entry_point)
    if callable(func):
        return func
    raise LookupError("Entry point '%s' not found" % entry_point)


def _harness_main():
    results = []
    success = True
    captured = _io.StringIO()
    real_stdout = _sys.stdout
    _sys.stdout = captured
    try:
        with open({{INPUTS_FILE}}, "r") as fh:
            cases = _json.load(fh)
        func = _harness_resolve({{ENTRY_POINT}}, {{CLASS_NAME}})
        for case in cases:
            case_id = case.get("id")
            args = case.get("args") or []
            started = _time.perf_counter()
            try:
                value = func(*args)
                results.append({
                    "id": case_id,
                    "result": value,
                    "time": (_time.perf_counter() - started) * 1000,
                    "status": "executed",
                })
            except Exception as exc:
                success = False
                results.append({
                    "id": case_id,
                    "error": str(exc),
                    "traceback": _traceback.format_exc(),
                    "time": (_time.perf_counter() - started) * 1000,
                    "status": "error",
                })
    except Exception as exc:
        success = False
        results = [{
            "id": None,
            "error": "Driver Error: " + str(exc),
            "traceback": _traceback.format_exc(),
            "time": 0,
            "status": "error",
        }]
    finally:
        _sys.stdout = real_stdout

    print("\n" + {{DELIMITER}})
    print(_json.dumps({"results": results, "logs": captured.getvalue(), "success": success}, default=str))


if __name__ == "__main__":
    _harness_main()
`

var pythonImportRe = regexp.MustCompile(`(?m)^(?:from\s+(\w+)|import\s+(\w+))`)

type PythonDriver struct {
	code   string
	inputs []model.TestInput
	config Config
}

func NewPythonDriver(code string, cfg Config) *PythonDriver {
	return &PythonDriver{code: code, config: cfg.withDefaults("3.10.0")}
}

func (d *PythonDriver) Language() string { return "python" }

// Prepare lists top-level imported module names. It is a pattern scan, not a parser.
func (d *PythonDriver) Prepare() CodeAnalysis {
	seen := make(map[string]bool)
	imports := []string{}
	for _, m := range pythonImportRe.FindAllStringSubmatch(d.code, -1) {
		name := m[1]
		if name == "" {
			name = m[2]
		}
		if !seen[name] {
			seen[name] = true
			imports = append(imports, name)
		}
	}
	return CodeAnalysis{Imports: imports, Valid: true}
}

func (d *PythonDriver) SetInputs(inputs []model.TestInput) Driver {
	d.inputs = inputs
	return d
}

func (d *PythonDriver) GeneratePayload() (model.SandboxRequest, error) {
	formatted := strings.TrimRight(d.code, " \t\r\n") + "\n"

	req := model.SandboxRequest{
		Language:     "python",
		Version:      d.config.Version,
		RunTimeoutMs: d.config.TimeLimitMs,
	}

	if d.config.Mode != model.ModeFunction {
		req.Files = []model.SandboxFile{{Name: pythonEntryFile, Content: formatted}}
		req.Stdin = d.config.Stdin
		return req, nil
	}

	inputs := d.inputs
	if inputs == nil {
		inputs = []model.TestInput{}
	}
	inputsJSON, err := json.Marshal(inputs)
	if err != nil {
		return model.SandboxRequest{}, fmt.Errorf("failed to encode test inputs: %w", err)
	}

	harness := strings.NewReplacer(
		"{{USER_CODE}}", formatted,
		"{{INPUTS_FILE}}", pyString(InputsFile),
		"{{ENTRY_POINT}}", pyString(d.config.EntryPoint),
		"{{CLASS_NAME}}", pyString(d.config.ClassName),
		"{{DELIMITER}}", pyString(OutputDelimiter),
	).Replace(pythonHarness)

	req.Files = []model.SandboxFile{
		{Name: pythonEntryFile, Content: harness},
		{Name: InputsFile, Content: string(inputsJSON)},
	}
	return req, nil
}

func (d *PythonDriver) ParseResult(resp model.SandboxResponse) model.ExecutionResult {
	if d.config.Mode == model.ModeFunction {
		return parseHarnessOutput(resp.Run)
	}
	return parseScriptOutput(resp.Run)
}

// pyString renders s as a Python string literal. JSON string syntax is a subset of Python's.
func pyString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
