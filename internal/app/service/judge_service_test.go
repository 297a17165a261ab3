package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"tle_zone_judge/internal/app/driver"
	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"
	"tle_zone_judge/internal/platform/sandbox"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"
)

func TestSubmit_Accepted(t *testing.T) {
	f := newJudgeFixture(t, nil)

	resp, err := f.submit(t, context.Background())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Status != model.StatusAccepted {
		t.Fatalf("status = %q, want Accepted; results %+v", resp.Status, resp.Results)
	}
	if resp.XP == nil || resp.XP.Earned != 10 || resp.XP.Total != 10 {
		t.Errorf("xp = %+v, want earned 10 total 10", resp.XP)
	}
	if resp.ExecutionTimeMs == nil || *resp.ExecutionTimeMs != 5 {
		t.Errorf("execution time = %v, want 5 (3 x 1.5ms rounded)", resp.ExecutionTimeMs)
	}
	if resp.Results[0].Actual != "3" || resp.Results[1].Expected != "30" {
		t.Errorf("unexpected visible results: %+v", resp.Results[:2])
	}

	top, err := f.board.Top(context.Background(), 10)
	if err != nil || len(top) != 1 || top[0].Username != "alice" || top[0].XP != 10 {
		t.Errorf("leaderboard = %+v, %v", top, err)
	}
	if got := testutil.ToFloat64(f.metrics.SubmissionsTotal.WithLabelValues("python", "Accepted")); got != 1 {
		t.Errorf("submissions metric = %v, want 1", got)
	}
}

func TestSubmit_RepeatedAcceptIsIdempotent(t *testing.T) {
	f := newJudgeFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		resp, err := f.submit(t, ctx)
		if err != nil {
			t.Fatalf("Submit #%d: %v", i+1, err)
		}
		if resp.Status != model.StatusAccepted {
			t.Fatalf("Submit #%d status = %q", i+1, resp.Status)
		}
		wantEarned := 0
		if i == 0 {
			wantEarned = 10
		}
		if resp.XP.Earned != wantEarned || resp.XP.Total != 10 {
			t.Errorf("Submit #%d xp = %+v, want earned %d total 10", i+1, resp.XP, wantEarned)
		}
	}

	if got := f.users.xp(testUserID); got != 10 {
		t.Errorf("durable xp = %d, want 10", got)
	}
	if got := f.subs.count(); got != 4 {
		t.Errorf("persisted %d submissions, want 4", got)
	}
}

func TestRecordSubmission_ConcurrentFirstAccept(t *testing.T) {
	f := newJudgeFixture(t, nil)

	var g errgroup.Group
	awards := make([]*XPAward, 8)
	for i := range awards {
		i := i
		g.Go(func() error {
			sub := &model.Submission{
				ID:        fmt.Sprintf("sub-%d", i),
				UserID:    testUserID,
				ProblemID: testProblemID,
				Language:  "python",
				Status:    model.StatusAccepted,
			}
			award, err := f.scoring.RecordSubmission(context.Background(), sub, model.DifficultyMedium)
			awards[i] = award
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("RecordSubmission: %v", err)
	}

	earnedCount := 0
	for _, a := range awards {
		if a.Earned > 0 {
			earnedCount++
			if a.Earned != 30 {
				t.Errorf("earned = %d, want 30", a.Earned)
			}
		}
	}
	if earnedCount != 1 {
		t.Errorf("%d attempts earned xp, want exactly 1", earnedCount)
	}
	if got := f.users.xp(testUserID); got != 30 {
		t.Errorf("durable xp = %d, want 30", got)
	}
}

func TestSubmit_WrongAnswer(t *testing.T) {
	f := newJudgeFixture(t, nil)
	f.sandbox.solve = constant("3")

	resp, err := f.submit(t, context.Background())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Status != model.StatusWrongAnswer {
		t.Fatalf("status = %q, want Wrong Answer", resp.Status)
	}
	if !resp.Results[0].Passed || resp.Results[1].Passed || resp.Results[2].Passed {
		t.Errorf("unexpected pass flags: %+v", resp.Results)
	}
	if resp.XP != nil {
		t.Errorf("wrong answer must not touch xp, got %+v", resp.XP)
	}
	if f.subs.count() != 1 || f.users.xp(testUserID) != 0 {
		t.Errorf("want 1 submission and 0 xp, got %d and %d", f.subs.count(), f.users.xp(testUserID))
	}
}

func TestSubmit_SandboxFailureIsRuntimeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind string
	}{
		{"timeout", fmt.Errorf("%w after 10s", sandbox.ErrTimeout), "timeout"},
		{"unreachable", fmt.Errorf("%w: connection refused", sandbox.ErrUnreachable), "unreachable"},
		{"bad response", fmt.Errorf("%w: status 500", sandbox.ErrBadResponse), "bad_response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newJudgeFixture(t, nil)
			f.sandbox.err = tt.err

			resp, err := f.submit(t, context.Background())
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if resp.Status != model.StatusRuntimeError {
				t.Fatalf("status = %q, want Runtime Error", resp.Status)
			}
			for _, r := range resp.Results {
				if r.Passed {
					t.Errorf("case %s passed on a failed run", r.ID)
				}
			}
			if resp.Results[0].Actual != model.ErrorMarker {
				t.Errorf("actual = %q, want %q", resp.Results[0].Actual, model.ErrorMarker)
			}
			if resp.Error == nil || !strings.Contains(*resp.Error, tt.err.Error()) {
				t.Errorf("error = %v", resp.Error)
			}
			if f.subs.count() != 1 {
				t.Errorf("runtime errors must still be persisted")
			}
			if got := testutil.ToFloat64(f.metrics.SandboxErrors.WithLabelValues(tt.kind)); got != 1 {
				t.Errorf("sandbox error metric %s = %v", tt.kind, got)
			}
		})
	}
}

func TestSubmit_HiddenCasesRedactedUnderEveryVerdict(t *testing.T) {
	const hiddenInput = "[1234567, 7654321]"
	const hiddenExpected = "8888888"

	raiseOn := func(id, msg string) func(*fakeSandbox) {
		return func(s *fakeSandbox) {
			s.fail = func(in model.TestInput) *string {
				if in.ID != id {
					return nil
				}
				return &msg
			}
		}
	}

	tests := []struct {
		name  string
		setup func(*fakeSandbox)
		want  model.SubmissionStatus
		// wantErr, when set, is the top-level error expected in the response.
		wantErr string
	}{
		{name: "accepted", setup: func(s *fakeSandbox) {}, want: model.StatusAccepted},
		{name: "wrong answer", setup: func(s *fakeSandbox) { s.solve = offByOne }, want: model.StatusWrongAnswer},
		{name: "sandbox unreachable", setup: func(s *fakeSandbox) { s.err = sandbox.ErrUnreachable }, want: model.StatusRuntimeError},
		{
			name:    "hidden case raises with its input",
			setup:   raiseOn("hidden", "ValueError: invalid literal for int() with base 10: '1234567'"),
			want:    model.StatusRuntimeError,
			wantErr: hiddenCaseFailure,
		},
		{
			name: "process exits without a report",
			setup: func(s *fakeSandbox) {
				code := 1
				s.run = &model.SandboxRun{Stderr: "SystemExit: bad pair 1234567 7654321", Code: &code}
			},
			want:    model.StatusRuntimeError,
			wantErr: hiddenCaseFailure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newJudgeFixture(t, nil)
			f.problems.add(f.problem,
				model.TestCase{ID: "visible", Input: "[1, 2]", ExpectedOutput: "3"},
				model.TestCase{ID: "hidden", Input: hiddenInput, ExpectedOutput: hiddenExpected, IsHidden: true},
			)
			tt.setup(f.sandbox)

			resp, err := f.submit(t, context.Background())
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if resp.Status != tt.want {
				t.Fatalf("status = %q, want %q", resp.Status, tt.want)
			}

			hidden := resp.Results[1]
			if hidden.Input != model.HiddenMarker || hidden.Expected != model.HiddenMarker || hidden.Actual != model.HiddenMarker {
				t.Errorf("hidden case leaked: %+v", hidden)
			}
			if tt.wantErr != "" && (resp.Error == nil || *resp.Error != tt.wantErr) {
				t.Errorf("error = %v, want %q", resp.Error, tt.wantErr)
			}
			body, _ := json.Marshal(resp)
			for _, secret := range []string{"1234567", "7654321", hiddenExpected, "8888889"} {
				if strings.Contains(string(body), secret) {
					t.Errorf("response contains hidden value %q: %s", secret, body)
				}
			}
		})
	}
}

func TestSubmit_VisibleCaseKeepsItsOwnError(t *testing.T) {
	f := newJudgeFixture(t, nil)
	msg := "ZeroDivisionError: division by zero"
	f.sandbox.fail = func(in model.TestInput) *string {
		if in.ID == "tc-2" {
			return &msg
		}
		return nil
	}

	resp, err := f.submit(t, context.Background())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Status != model.StatusRuntimeError {
		t.Fatalf("status = %q, want Runtime Error", resp.Status)
	}
	if resp.Error == nil || *resp.Error != msg {
		t.Errorf("error = %v, want %q", resp.Error, msg)
	}
	if e := resp.Results[1].Error; e == nil || *e != msg {
		t.Errorf("failing case error = %v, want %q", e, msg)
	}
	if e := resp.Results[2].Error; e == nil || *e != model.HiddenMarker {
		t.Errorf("hidden case error = %v, want %q", e, model.HiddenMarker)
	}
	if resp.Results[0].Actual != model.ErrorMarker {
		t.Errorf("actual = %q, want %q", resp.Results[0].Actual, model.ErrorMarker)
	}
}

func offByOne(in model.TestInput) json.RawMessage {
	var n int
	_ = json.Unmarshal(sumArgs(in), &n)
	b, _ := json.Marshal(n + 1)
	return b
}

func TestSubmit_OrderFollowsStoredCases(t *testing.T) {
	f := newJudgeFixture(t, nil)
	f.sandbox.shape = func(in []model.CaseOutput) []model.CaseOutput {
		// Reverse and drop the original first entry.
		out := []model.CaseOutput{}
		for i := len(in) - 1; i >= 1; i-- {
			out = append(out, in[i])
		}
		return out
	}

	resp, err := f.submit(t, context.Background())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	gotIDs := []string{}
	for _, r := range resp.Results {
		gotIDs = append(gotIDs, r.ID)
	}
	if strings.Join(gotIDs, ",") != "tc-1,tc-2,tc-3" {
		t.Fatalf("result order = %v, want stored order", gotIDs)
	}
	if resp.Results[0].Passed || resp.Results[0].Actual != model.NoResultValue {
		t.Errorf("dropped case = %+v, want No Result", resp.Results[0])
	}
	if !resp.Results[1].Passed || !resp.Results[2].Passed {
		t.Errorf("reordered cases should still match by id: %+v", resp.Results)
	}
	if resp.Status != model.StatusWrongAnswer {
		t.Errorf("status = %q, want Wrong Answer", resp.Status)
	}
}

func TestSubmit_CacheFailureIsLoggedNotRaised(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newJudgeFixture(t, zap.New(core))
	f.redis.Close()

	resp, err := f.submit(t, context.Background())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Status != model.StatusAccepted || resp.XP == nil || resp.XP.Earned != 10 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if f.users.xp(testUserID) != 10 {
		t.Errorf("durable xp must be committed despite cache failure")
	}
	if logs.FilterMessageSnippet("leaderboard mirror write failed").Len() != 1 {
		t.Errorf("expected one cache failure warning, got %v", logs.All())
	}
	if got := testutil.ToFloat64(f.metrics.LeaderboardSyncFails); got != 1 {
		t.Errorf("sync failure metric = %v, want 1", got)
	}
}

func TestSubmit_ScoringFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeUserRepo)
	}{
		{"lock fails", func(r *fakeUserRepo) { r.lockErr = errors.New("connection reset") }},
		{"xp update fails", func(r *fakeUserRepo) { r.addErr = errors.New("could not serialize access") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newJudgeFixture(t, nil)
			tt.setup(f.users)

			resp, err := f.submit(t, context.Background())
			if !errors.Is(err, common.ErrScoringTransaction) {
				t.Fatalf("err = %v, want ErrScoringTransaction", err)
			}
			if resp == nil || resp.Status != model.StatusAccepted {
				t.Fatalf("verdict should still be returned, got %+v", resp)
			}
			if resp.SubmissionID != "" || resp.XP != nil {
				t.Errorf("response points at unsaved state: %+v", resp)
			}
			if f.users.xp(testUserID) != 0 {
				t.Errorf("xp = %d after a failed transaction, want 0", f.users.xp(testUserID))
			}
			if f.subs.count() != 0 {
				t.Errorf("submissions = %d after a failed transaction, want 0", f.subs.count())
			}
			top, err := f.board.Top(context.Background(), 10)
			if err != nil || len(top) != 0 {
				t.Errorf("leaderboard = %+v, %v; want empty", top, err)
			}
		})
	}
}

func TestSubmit_ClientGonePersistsNothing(t *testing.T) {
	f := newJudgeFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	f.sandbox.before = cancel

	_, err := f.submit(t, ctx)
	if !errors.Is(err, common.ErrClientGone) {
		t.Fatalf("err = %v, want ErrClientGone", err)
	}
	if f.sandbox.calls != 1 {
		t.Errorf("sandbox calls = %d, want 1", f.sandbox.calls)
	}
	if f.subs.count() != 0 || f.users.xp(testUserID) != 0 {
		t.Errorf("abandoned request left state behind")
	}
}

func TestSubmit_TerminalErrors(t *testing.T) {
	f := newJudgeFixture(t, nil)
	emptyID := "0d6a6a4e-7d55-4c1b-8c1e-3c3c3c3c3c3c"
	f.problems.add(&model.Problem{ID: emptyID, FunctionName: "add"})

	tests := []struct {
		name string
		req  SubmitRequest
		want error
	}{
		{"missing code", SubmitRequest{ProblemID: testProblemID}, common.ErrBadRequest},
		{"malformed id", SubmitRequest{ProblemID: "nope", Code: "x"}, common.ErrProblemNotFound},
		{"unknown problem", SubmitRequest{ProblemID: "9b2d1f4e-0000-4000-8000-000000000000", Code: "x"}, common.ErrProblemNotFound},
		{"no test cases", SubmitRequest{ProblemID: emptyID, Code: "x"}, common.ErrNoTestCases},
		{"unsupported language", SubmitRequest{ProblemID: testProblemID, Code: "x", Language: "cobol"}, common.ErrBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.judge.Submit(context.Background(), testUserID, tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if f.sandbox.calls != 0 || f.subs.count() != 0 {
		t.Errorf("terminal errors must not reach the sandbox or the store")
	}

	var ule *driver.UnsupportedLanguageError
	_, err := f.judge.Submit(context.Background(), testUserID, SubmitRequest{ProblemID: testProblemID, Code: "x", Language: "cobol"})
	if !errors.As(err, &ule) {
		t.Errorf("err = %v, want UnsupportedLanguageError", err)
	}
}

func TestExecute_DryRunPersistsNothing(t *testing.T) {
	f := newJudgeFixture(t, nil)

	resp, err := f.judge.Execute(context.Background(), ExecuteRequest{
		Code:   "import math\ndef add(a, b):\n    return a + b\n",
		Inputs: []model.TestInput{{ID: "x", Args: []json.RawMessage{json.RawMessage("2"), json.RawMessage("2")}}},
		Config: driver.Config{Mode: model.ModeFunction, EntryPoint: "add"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Execution.Status != model.ExecSuccess || string(resp.Execution.Output[0].Result) != "4" {
		t.Errorf("execution = %+v", resp.Execution)
	}
	if len(resp.Analysis.Imports) != 1 || resp.Analysis.Imports[0] != "math" {
		t.Errorf("analysis = %+v", resp.Analysis)
	}
	if f.subs.count() != 0 {
		t.Errorf("dry run persisted a submission")
	}
}

func TestExecute_TimeoutStatus(t *testing.T) {
	f := newJudgeFixture(t, nil)
	f.sandbox.err = sandbox.ErrTimeout

	resp, err := f.judge.Execute(context.Background(), ExecuteRequest{Code: "while True: pass"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Execution.Status != model.ExecTimeout {
		t.Errorf("status = %q, want timeout", resp.Execution.Status)
	}
}

func TestTestJudge(t *testing.T) {
	f := newJudgeFixture(t, nil)
	if _, err := f.judge.TestJudge(context.Background()); err != nil {
		t.Fatalf("TestJudge: %v", err)
	}

	f.sandbox.err = errSandboxDown
	_, err := f.judge.TestJudge(context.Background())
	if !errors.Is(err, common.ErrServiceUnavailable) {
		t.Errorf("err = %v, want ErrServiceUnavailable", err)
	}
}

func TestPointsFor(t *testing.T) {
	tests := []struct {
		difficulty model.ProblemDifficulty
		want       int
	}{
		{model.DifficultyEasy, 10},
		{model.DifficultyMedium, 30},
		{model.DifficultyHard, 50},
		{"Legendary", 10},
		{"", 10},
	}
	for _, tt := range tests {
		if got := PointsFor(tt.difficulty); got != tt.want {
			t.Errorf("PointsFor(%q) = %d, want %d", tt.difficulty, got, tt.want)
		}
	}
}

func TestNormalizeArgs(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"[1, 2]", "[1,2]", false},
		{`{"args": [10, 20]}`, "[10,20]", false},
		{`{"args": 5}`, "[5]", false},
		{`{"a": 1}`, `[{"a": 1}]`, false},
		{"7", "[7]", false},
		{`"hello"`, `["hello"]`, false},
		{"[[1, 2], [3]]", "[[1, 2],[3]]", false},
		{"null", "[]", false},
		{"not json", "[]", true},
		{"", "[]", true},
	}
	for _, tt := range tests {
		args, err := normalizeArgs(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("normalizeArgs(%q) err = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = string(a)
		}
		if got := "[" + strings.Join(parts, ",") + "]"; got != tt.want {
			t.Errorf("normalizeArgs(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestStringifyResult(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`3`, "3"},
		{`3.0`, "3"},
		{`0.1`, "0.1"},
		{`-4.5e2`, "-450"},
		{`1e21`, "1e+21"},
		{`354224848179261915075`, "354224848179261915075"},
		{`9007199254740993`, "9007199254740993"},
		{`-12`, "-12"},
		{`[9007199254740993, 1.50]`, "9007199254740993,1.5"},
		{`"abc"`, "abc"},
		{`true`, "true"},
		{`null`, "null"},
		{``, "null"},
		{`[1, 2, 3]`, "1,2,3"},
		{`[[1, 2], [3]]`, "1,2,3"},
		{`[1, null, "x"]`, "1,,x"},
		{`{"b": 1, "a": [2]}`, `{"a":[2],"b":1}`},
	}
	for _, tt := range tests {
		if got := stringifyResult(json.RawMessage(tt.raw)); got != tt.want {
			t.Errorf("stringifyResult(%s) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
