package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"tle_zone_judge/internal/app/driver"
	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"
	"tle_zone_judge/internal/domain/repository"
	"tle_zone_judge/internal/platform/metrics"
	"tle_zone_judge/internal/platform/sandbox"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultLanguage   = "python"
	executionFailed   = "Execution failed"
	hiddenCaseFailure = "Runtime error in hidden test case"
	sandboxProbeCode  = "print('Hello from the Piston Engine!')"
	sandboxProbeReady = "Connected to Piston"
)

// SandboxExecutor runs one payload in the external sandbox.
type SandboxExecutor interface {
	Execute(ctx context.Context, req model.SandboxRequest) (*model.SandboxResponse, error)
}

type JudgeService struct {
	problemRepo repository.ProblemRepository
	drivers     *driver.Registry
	sandbox     SandboxExecutor
	scoring     *ScoringService
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

func NewJudgeService(
	problemRepo repository.ProblemRepository,
	drivers *driver.Registry,
	executor SandboxExecutor,
	scoring *ScoringService,
	m *metrics.Metrics,
	logger *zap.Logger,
) *JudgeService {
	return &JudgeService{
		problemRepo: problemRepo,
		drivers:     drivers,
		sandbox:     executor,
		scoring:     scoring,
		metrics:     m,
		logger:      logger,
	}
}

type SubmitRequest struct {
	ProblemID string `json:"problem_id"`
	Language  string `json:"language"`
	Code      string `json:"code"`
}

type JudgeResponse struct {
	SubmissionID    string                  `json:"submission_id,omitempty"`
	Status          model.SubmissionStatus  `json:"status"`
	Results         []model.TestCaseVerdict `json:"results"`
	Error           *string                 `json:"error,omitempty"`
	ExecutionTimeMs *int                    `json:"execution_time_ms,omitempty"`
	XP              *XPAward                `json:"xp,omitempty"`
}

// Submit judges code against every stored test case of the problem, persists the submission and
// awards XP on a first-time Accepted verdict.
//
// On a scoring failure the judged response is returned together with an error wrapping
// common.ErrScoringTransaction. If ctx is cancelled while the sandbox runs, the result is dropped,
// nothing is persisted and common.ErrClientGone is returned.
func (s *JudgeService) Submit(ctx context.Context, userID string, req SubmitRequest) (*JudgeResponse, error) {
	if strings.TrimSpace(req.Code) == "" || req.ProblemID == "" {
		return nil, common.Errorf("code and problem_id are required: %w", common.ErrBadRequest)
	}
	if _, err := uuid.Parse(req.ProblemID); err != nil {
		return nil, common.ErrProblemNotFound
	}
	language := req.Language
	if language == "" {
		language = defaultLanguage
	}

	problem, err := s.problemRepo.FindProblemByID(ctx, req.ProblemID)
	if err != nil {
		return nil, err
	}
	cases, err := s.problemRepo.GetTestCasesByProblemID(ctx, problem.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load test cases: %w", err)
	}
	if len(cases) == 0 {
		return nil, common.ErrNoTestCases
	}

	drv, err := s.drivers.New(language, req.Code, driver.Config{
		Mode:       model.ModeFunction,
		EntryPoint: problem.FunctionName,
	})
	if err != nil {
		return nil, err
	}
	drv.SetInputs(s.buildInputs(problem.ID, cases))

	result, raw := s.run(ctx, drv)
	if ctx.Err() != nil {
		s.logger.Info("client disconnected during judging; result discarded",
			zap.String("user_id", userID),
			zap.String("problem_id", problem.ID))
		return nil, common.ErrClientGone
	}

	runErr := publicRunError(cases, result, raw != nil)
	verdicts, status := evaluate(cases, result, runErr)
	resp := &JudgeResponse{
		SubmissionID:    uuid.NewString(),
		Status:          status,
		Results:         verdicts,
		ExecutionTimeMs: totalTimeMs(result),
	}
	if status == model.StatusRuntimeError {
		resp.Error = runErr
	}
	s.metrics.SubmissionsTotal.WithLabelValues(drv.Language(), string(status)).Inc()

	sub := &model.Submission{
		ID:              resp.SubmissionID,
		UserID:          userID,
		ProblemID:       problem.ID,
		Language:        drv.Language(),
		Code:            req.Code,
		Status:          status,
		ExecutionTimeMs: resp.ExecutionTimeMs,
	}
	// The verdict is final once judged; a late disconnect must not leave it half-written.
	award, err := s.scoring.RecordSubmission(context.WithoutCancel(ctx), sub, problem.Difficulty)
	if err != nil {
		s.logger.Error("failed to record submission",
			zap.String("submission_id", sub.ID),
			zap.String("status", string(status)),
			zap.Error(err))
		// Nothing was written, so there is no row to point at.
		resp.SubmissionID = ""
		return resp, err
	}
	resp.XP = award
	return resp, nil
}

type ExecuteRequest struct {
	Code     string            `json:"code"`
	Language string            `json:"language"`
	Inputs   []model.TestInput `json:"inputs,omitempty"`
	Config   driver.Config     `json:"config"`
}

type ExecuteResponse struct {
	Execution model.ExecutionResult  `json:"execution"`
	Analysis  driver.CodeAnalysis    `json:"analysis"`
	Raw       *model.SandboxResponse `json:"raw,omitempty"`
}

// Execute is a dry run: the code runs with caller-supplied inputs and nothing is persisted.
func (s *JudgeService) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, common.Errorf("code is required: %w", common.ErrBadRequest)
	}
	language := req.Language
	if language == "" {
		language = defaultLanguage
	}

	drv, err := s.drivers.New(language, req.Code, req.Config)
	if err != nil {
		return nil, err
	}
	if req.Inputs != nil {
		drv.SetInputs(req.Inputs)
	}
	analysis := drv.Prepare()

	result, raw := s.run(ctx, drv)
	return &ExecuteResponse{Execution: result, Analysis: analysis, Raw: raw}, nil
}

type ProbeResult struct {
	Status string `json:"status"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Code   *int   `json:"code"`
}

// TestJudge runs a hello-world script to check the sandbox is reachable.
func (s *JudgeService) TestJudge(ctx context.Context) (*ProbeResult, error) {
	drv, err := s.drivers.New(defaultLanguage, sandboxProbeCode, driver.Config{Mode: model.ModeScript})
	if err != nil {
		return nil, err
	}
	payload, err := drv.GeneratePayload()
	if err != nil {
		return nil, err
	}
	resp, err := s.sandbox.Execute(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrServiceUnavailable, err)
	}
	return &ProbeResult{
		Status: sandboxProbeReady,
		Stdout: resp.Run.Stdout,
		Stderr: resp.Run.Stderr,
		Code:   resp.Run.Code,
	}, nil
}

// run dispatches the driver payload and interprets the output. The sandbox has no cancellation
// channel, so the call is detached from ctx and left to finish within the client's time limit.
func (s *JudgeService) run(ctx context.Context, drv driver.Driver) (model.ExecutionResult, *model.SandboxResponse) {
	payload, err := drv.GeneratePayload()
	if err != nil {
		return driver.FailedResult(model.ExecError, err.Error()), nil
	}

	start := time.Now()
	resp, err := s.sandbox.Execute(context.WithoutCancel(ctx), payload)
	s.metrics.SandboxDuration.WithLabelValues(drv.Language()).Observe(time.Since(start).Seconds())
	if err != nil {
		kind, status := "unreachable", model.ExecError
		switch {
		case errors.Is(err, sandbox.ErrTimeout):
			kind, status = "timeout", model.ExecTimeout
		case errors.Is(err, sandbox.ErrBadResponse):
			kind = "bad_response"
		}
		s.metrics.SandboxErrors.WithLabelValues(kind).Inc()
		s.logger.Warn("sandbox call failed", zap.String("kind", kind), zap.Error(err))
		return driver.FailedResult(status, err.Error()), nil
	}
	return drv.ParseResult(*resp), resp
}

func (s *JudgeService) buildInputs(problemID string, cases []model.TestCase) []model.TestInput {
	inputs := make([]model.TestInput, 0, len(cases))
	for _, tc := range cases {
		args, err := normalizeArgs(tc.Input)
		if err != nil {
			s.logger.Warn("test case input is not valid JSON; calling entry point with no arguments",
				zap.String("problem_id", problemID),
				zap.String("test_case_id", tc.ID),
				zap.Error(err))
		}
		inputs = append(inputs, model.TestInput{ID: tc.ID, Args: args})
	}
	return inputs
}

// normalizeArgs turns a stored test case input into a positional argument list:
// {"args": [...]} uses args, a JSON array is the list itself, any other value is a single argument.
// Undecodable input yields an empty list and an error.
func normalizeArgs(input string) ([]json.RawMessage, error) {
	raw := json.RawMessage(strings.TrimSpace(input))
	if !json.Valid(raw) {
		return []json.RawMessage{}, fmt.Errorf("invalid test case input %q", input)
	}
	if bytes.Equal(raw, []byte("null")) {
		return []json.RawMessage{}, nil
	}

	if raw[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err == nil {
			if args, ok := obj["args"]; ok && !isFalsy(args) {
				var list []json.RawMessage
				if err := json.Unmarshal(args, &list); err == nil {
					return list, nil
				}
				return []json.RawMessage{args}, nil
			}
		}
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err == nil {
			return list, nil
		}
	}
	return []json.RawMessage{raw}, nil
}

func isFalsy(v json.RawMessage) bool {
	switch string(bytes.TrimSpace(v)) {
	case "null", "false", "0", `""`:
		return true
	}
	return false
}

// evaluate compares per-case results with expected output in stored test case order.
// Results are matched by id, so reordered or dropped sandbox entries cannot shift verdicts.
// On a failed run a case keeps its own error when it reported one and gets runErr otherwise.
func evaluate(cases []model.TestCase, res model.ExecutionResult, runErr *string) ([]model.TestCaseVerdict, model.SubmissionStatus) {
	verdicts := make([]model.TestCaseVerdict, 0, len(cases))

	byID := make(map[string]model.CaseOutput, len(res.Output))
	for _, out := range res.Output {
		if _, seen := byID[out.ID]; !seen {
			byID[out.ID] = out
		}
	}

	if res.Status != model.ExecSuccess {
		for _, tc := range cases {
			caseErr := runErr
			if out, ok := byID[tc.ID]; ok && out.Error != nil {
				caseErr = out.Error
			}
			verdicts = append(verdicts, redact(tc, model.TestCaseVerdict{
				ID:       tc.ID,
				Passed:   false,
				Input:    tc.Input,
				Expected: strings.TrimSpace(tc.ExpectedOutput),
				Actual:   model.ErrorMarker,
				Error:    caseErr,
			}))
		}
		return verdicts, model.StatusRuntimeError
	}

	allPassed := true
	for _, tc := range cases {
		expected := strings.TrimSpace(tc.ExpectedOutput)
		actual := model.NoResultValue
		var caseErr *string
		if out, ok := byID[tc.ID]; ok {
			actual = stringifyResult(out.Result)
			caseErr = out.Error
		}
		passed := actual == expected
		if !passed {
			allPassed = false
		}
		verdicts = append(verdicts, redact(tc, model.TestCaseVerdict{
			ID:       tc.ID,
			Passed:   passed,
			Input:    tc.Input,
			Expected: expected,
			Actual:   actual,
			Error:    caseErr,
		}))
	}

	if allPassed {
		return verdicts, model.StatusAccepted
	}
	return verdicts, model.StatusWrongAnswer
}

// redact hides every value of a hidden case. Only the pass/fail flag survives.
func redact(tc model.TestCase, v model.TestCaseVerdict) model.TestCaseVerdict {
	if !tc.IsHidden {
		return v
	}
	v.Input = model.HiddenMarker
	v.Expected = model.HiddenMarker
	v.Actual = model.HiddenMarker
	if v.Error != nil {
		hidden := model.HiddenMarker
		v.Error = &hidden
	}
	return v
}

func runError(res model.ExecutionResult) *string {
	if res.Error != nil && *res.Error != "" {
		return res.Error
	}
	msg := executionFailed
	return &msg
}

// publicRunError picks the run error shown to the submitter. Sandbox faults are reported as is.
// Text produced by the user's process is replaced when it came from a hidden case or mentions
// any value of one, since exception messages and stderr often echo their input.
func publicRunError(cases []model.TestCase, res model.ExecutionResult, fromProcess bool) *string {
	msg := runError(res)
	if !fromProcess {
		return msg
	}

	hidden := make(map[string]bool)
	var secrets []string
	for _, tc := range cases {
		if tc.IsHidden {
			hidden[tc.ID] = true
			secrets = append(secrets, hiddenValues(tc)...)
		}
	}
	if len(hidden) == 0 {
		return msg
	}

	neutral := hiddenCaseFailure
	for _, out := range res.Output {
		if hidden[out.ID] && out.Error != nil && *out.Error == *msg {
			return &neutral
		}
	}
	for _, secret := range secrets {
		if strings.Contains(*msg, secret) {
			return &neutral
		}
	}
	return msg
}

// hiddenValues lists the texts of a hidden case that must not reach a response: the stored input
// and expected output, each argument as JSON and every scalar inside the arguments.
func hiddenValues(tc model.TestCase) []string {
	var vals []string
	add := func(v string) {
		if v = strings.TrimSpace(v); v != "" {
			vals = append(vals, v)
		}
	}
	add(tc.Input)
	add(tc.ExpectedOutput)

	args, _ := normalizeArgs(tc.Input)
	for _, arg := range args {
		add(string(arg))
		if v, ok := decodeJSON(arg); ok {
			walkScalars(v, add)
		}
	}
	return vals
}

func walkScalars(v any, fn func(string)) {
	switch x := v.(type) {
	case nil:
	case []any:
		for _, el := range x {
			walkScalars(el, fn)
		}
	case map[string]any:
		for _, el := range x {
			walkScalars(el, fn)
		}
	default:
		fn(stringifyValue(x))
	}
}

func totalTimeMs(res model.ExecutionResult) *int {
	if len(res.Output) == 0 {
		return nil
	}
	var total float64
	for _, out := range res.Output {
		total += out.Time
	}
	ms := int(math.Round(total))
	return &ms
}

// stringifyResult renders a decoded result the way it is compared against expected output:
// strings are raw text, numbers use their shortest form, arrays join their elements with ",",
// objects are compact JSON. A missing result reads as "null".
func stringifyResult(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "null"
	}
	v, ok := decodeJSON(trimmed)
	if !ok {
		return string(trimmed)
	}
	return stringifyValue(v)
}

// decodeJSON keeps numbers as json.Number so integers of any size survive intact.
func decodeJSON(raw []byte) (any, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

func stringifyValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		if !strings.ContainsAny(x.String(), ".eE") {
			return x.String()
		}
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		if math.Abs(f) >= 1e21 {
			return strconv.FormatFloat(f, 'e', -1, 64)
		}
		return strconv.FormatFloat(f, 'f', -1, 64)
	case []any:
		parts := make([]string, len(x))
		for i, el := range x {
			if el != nil {
				parts[i] = stringifyValue(el)
			}
		}
		return strings.Join(parts, ",")
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
