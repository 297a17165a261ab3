package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"

	"tle_zone_judge/internal/app/driver"
	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"
	"tle_zone_judge/internal/platform/cache"
	"tle_zone_judge/internal/platform/metrics"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// fakeTx serializes transactions, which is what the user row lock gives the real store.
// When fn fails, the user and submission fakes it knows about are restored to their prior state.
type fakeTx struct {
	mu    sync.Mutex
	users *fakeUserRepo
	subs  *fakeSubmissionRepo
}

func (f *fakeTx) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var xp map[string]int
	var rows int
	if f.users != nil {
		xp = f.users.snapshot()
	}
	if f.subs != nil {
		rows = f.subs.count()
	}
	if err := fn(nil); err != nil {
		if f.users != nil {
			f.users.restore(xp)
		}
		if f.subs != nil {
			f.subs.truncate(rows)
		}
		return err
	}
	return nil
}

type fakeUserRepo struct {
	mu      sync.Mutex
	users   map[string]*model.User
	lockErr error
	// addErr fails AddXP after the increment, the way a failed commit would.
	addErr error
}

func newFakeUserRepo(users ...*model.User) *fakeUserRepo {
	r := &fakeUserRepo{users: make(map[string]*model.User)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeUserRepo) Create(ctx context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == user.Username || u.Email == user.Email {
			return common.ErrConflict
		}
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) find(match func(*model.User) bool) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *fakeUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.Email == email })
}

func (r *fakeUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.Username == username })
}

func (r *fakeUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.ID == id })
}

func (r *fakeUserRepo) LockForXP(ctx context.Context, tx *sql.Tx, userID string) (*model.UserXP, error) {
	if r.lockErr != nil {
		return nil, r.lockErr
	}
	u, err := r.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.UserXP{Username: u.Username, XP: u.XP}, nil
}

func (r *fakeUserRepo) AddXP(ctx context.Context, tx *sql.Tx, userID string, points int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return 0, common.ErrNotFound
	}
	u.XP += points
	if r.addErr != nil {
		return 0, r.addErr
	}
	return u.XP, nil
}

func (r *fakeUserRepo) ListXP(ctx context.Context, limit int) ([]model.UserXP, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.UserXP{}
	for _, u := range r.users {
		if u.XP > 0 {
			out = append(out, model.UserXP{Username: u.Username, XP: u.XP})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].XP != out[j].XP {
			return out[i].XP > out[j].XP
		}
		return out[i].Username < out[j].Username
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeUserRepo) snapshot() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	xp := make(map[string]int, len(r.users))
	for id, u := range r.users {
		xp[id] = u.XP
	}
	return xp
}

func (r *fakeUserRepo) restore(xp map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, u := range r.users {
		u.XP = xp[id]
	}
}

func (r *fakeUserRepo) xp(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[id].XP
}

type fakeSubmissionRepo struct {
	mu   sync.Mutex
	subs []model.Submission
}

func (r *fakeSubmissionRepo) CreateSubmission(ctx context.Context, tx *sql.Tx, sub *model.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, *sub)
	return nil
}

func (r *fakeSubmissionRepo) HasAcceptedSubmission(ctx context.Context, tx *sql.Tx, userID, problemID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.UserID == userID && s.ProblemID == problemID && s.Status == model.StatusAccepted {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeSubmissionRepo) GetSubmissionsForUserProblem(ctx context.Context, userID, problemID string, limit, offset int) ([]model.Submission, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.Submission{}
	for i := len(r.subs) - 1; i >= 0; i-- {
		if r.subs[i].UserID == userID && r.subs[i].ProblemID == problemID {
			out = append(out, r.subs[i])
		}
	}
	total := len(out)
	if offset >= len(out) {
		return []model.Submission{}, total, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (r *fakeSubmissionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func (r *fakeSubmissionRepo) truncate(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = r.subs[:n]
}

type fakeProblemRepo struct {
	mu       sync.Mutex
	problems map[string]*model.Problem
	cases    map[string][]model.TestCase
}

func newFakeProblemRepo() *fakeProblemRepo {
	return &fakeProblemRepo{problems: make(map[string]*model.Problem), cases: make(map[string][]model.TestCase)}
}

func (r *fakeProblemRepo) add(p *model.Problem, cases ...model.TestCase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.problems[p.ID] = p
	r.cases[p.ID] = cases
}

func (r *fakeProblemRepo) CreateProblem(ctx context.Context, tx *sql.Tx, p *model.Problem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.problems {
		if existing.Slug == p.Slug {
			return common.ErrConflict
		}
	}
	cp := *p
	r.problems[p.ID] = &cp
	return nil
}

func (r *fakeProblemRepo) FindProblemByID(ctx context.Context, id string) (*model.Problem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.problems[id]
	if !ok {
		return nil, common.ErrProblemNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakeProblemRepo) FindProblemBySlug(ctx context.Context, slug string) (*model.Problem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.problems {
		if p.Slug == slug {
			cp := *p
			return &cp, nil
		}
	}
	return nil, common.ErrProblemNotFound
}

func (r *fakeProblemRepo) ListProblems(ctx context.Context, limit, offset int, difficulty model.ProblemDifficulty, searchTerm string) ([]model.Problem, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.Problem{}
	for _, p := range r.problems {
		if difficulty == "" || p.Difficulty == difficulty {
			out = append(out, *p)
		}
	}
	return out, len(out), nil
}

func (r *fakeProblemRepo) AddTestCasesToProblem(ctx context.Context, tx *sql.Tx, problemID string, testCases []model.TestCase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cases[problemID] = append(r.cases[problemID], testCases...)
	return nil
}

func (r *fakeProblemRepo) GetTestCasesByProblemID(ctx context.Context, problemID string) ([]model.TestCase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.TestCase(nil), r.cases[problemID]...), nil
}

// fakeSandbox answers function-mode payloads by calling solve on every test input found in the
// inputs side file, and prints the report the harness would print.
type fakeSandbox struct {
	mu    sync.Mutex
	calls int
	solve func(in model.TestInput) json.RawMessage
	// fail, when it returns a message, makes that case raise instead of returning.
	fail func(in model.TestInput) *string
	// run, when set, is returned verbatim in place of a harness report.
	run *model.SandboxRun
	// shape lets a test reorder or drop entries before they are reported.
	shape func([]model.CaseOutput) []model.CaseOutput
	err   error
	// before runs at the start of each call, e.g. to cancel the caller's context.
	before func()
}

func (f *fakeSandbox) Execute(ctx context.Context, req model.SandboxRequest) (*model.SandboxResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.before != nil {
		f.before()
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.run != nil {
		return &model.SandboxResponse{Run: *f.run}, nil
	}

	var inputs []model.TestInput
	for _, file := range req.Files {
		if file.Name == driver.InputsFile {
			if err := json.Unmarshal([]byte(file.Content), &inputs); err != nil {
				return nil, err
			}
		}
	}
	results := make([]model.CaseOutput, 0, len(inputs))
	success := true
	for _, in := range inputs {
		if f.fail != nil {
			if msg := f.fail(in); msg != nil {
				success = false
				results = append(results, model.CaseOutput{ID: in.ID, Error: msg, Time: 1.5, Status: "error"})
				continue
			}
		}
		results = append(results, model.CaseOutput{ID: in.ID, Result: f.solve(in), Time: 1.5, Status: "executed"})
	}
	if f.shape != nil {
		results = f.shape(results)
	}
	report, err := json.Marshal(map[string]any{"results": results, "logs": "", "success": success})
	if err != nil {
		return nil, err
	}
	code := 0
	return &model.SandboxResponse{Run: model.SandboxRun{
		Stdout: "\n" + driver.OutputDelimiter + "\n" + string(report) + "\n",
		Code:   &code,
	}}, nil
}

// sumArgs adds integer arguments, the reference solution of the seeded problem.
func sumArgs(in model.TestInput) json.RawMessage {
	total := 0
	for _, a := range in.Args {
		var n int
		_ = json.Unmarshal(a, &n)
		total += n
	}
	b, _ := json.Marshal(total)
	return b
}

func constant(v string) func(model.TestInput) json.RawMessage {
	return func(model.TestInput) json.RawMessage { return json.RawMessage(v) }
}

var errSandboxDown = errors.New("sandbox down")

type judgeFixture struct {
	judge    *JudgeService
	scoring  *ScoringService
	problems *fakeProblemRepo
	users    *fakeUserRepo
	subs     *fakeSubmissionRepo
	sandbox  *fakeSandbox
	board    *cache.Leaderboard
	redis    *miniredis.Miniredis
	metrics  *metrics.Metrics
	problem  *model.Problem
	user     *model.User
}

const (
	testProblemID = "6f1c1a53-8f5e-4a43-9d8e-1c1c1a5f0a01"
	testUserID    = "user-1"
)

func seededCases() []model.TestCase {
	return []model.TestCase{
		{ID: "tc-1", ProblemID: testProblemID, Input: "[1, 2]", ExpectedOutput: "3", SortOrder: 1},
		{ID: "tc-2", ProblemID: testProblemID, Input: `{"args": [10, 20]}`, ExpectedOutput: " 30\n", SortOrder: 2},
		{ID: "tc-3", ProblemID: testProblemID, Input: "[-4, 5]", ExpectedOutput: "1", IsHidden: true, SortOrder: 3},
	}
}

func newJudgeFixture(t *testing.T, logger *zap.Logger) *judgeFixture {
	t.Helper()
	if logger == nil {
		logger = zaptest.NewLogger(t)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	f := &judgeFixture{
		problems: newFakeProblemRepo(),
		subs:     &fakeSubmissionRepo{},
		sandbox:  &fakeSandbox{solve: sumArgs},
		board:    cache.NewLeaderboard(rdb, "leaderboard:test"),
		redis:    mr,
		metrics:  metrics.New(),
		problem: &model.Problem{
			ID:           testProblemID,
			Title:        "Sum of Two Numbers",
			Slug:         "sum-of-two-numbers",
			Difficulty:   model.DifficultyEasy,
			FunctionName: "add",
		},
		user: &model.User{ID: testUserID, Username: "alice", Email: "alice@example.com", Role: model.RoleUser},
	}
	f.users = newFakeUserRepo(f.user)
	f.problems.add(f.problem, seededCases()...)

	f.scoring = NewScoringService(&fakeTx{users: f.users, subs: f.subs}, f.subs, f.users, f.board, f.metrics, logger)
	f.judge = NewJudgeService(f.problems, driver.NewRegistry("3.10.0"), f.sandbox, f.scoring, f.metrics, logger)
	return f
}

func (f *judgeFixture) submit(t *testing.T, ctx context.Context) (*JudgeResponse, error) {
	t.Helper()
	return f.judge.Submit(ctx, testUserID, SubmitRequest{
		ProblemID: testProblemID,
		Language:  "python",
		Code:      "def add(a, b):\n    return a + b\n",
	})
}
