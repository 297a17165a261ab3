package service

import (
	"context"
	"database/sql"
	"regexp"
	"strings"

	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"
	"tle_zone_judge/internal/domain/repository"
	"tle_zone_judge/internal/platform/database"

	"github.com/google/uuid"
	"github.com/gosimple/slug" // For slug generation
	"go.uber.org/zap"
)

var entryPointRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type ProblemService struct {
	problemRepo repository.ProblemRepository
	tx          database.TxRunner // For transactions
	logger      *zap.Logger
}

func NewProblemService(problemRepo repository.ProblemRepository, tx database.TxRunner, logger *zap.Logger) *ProblemService {
	return &ProblemService{problemRepo: problemRepo, tx: tx, logger: logger}
}

type TestCaseRequest struct {
	Input          string `json:"input"` // JSON argument list, e.g. "[1, 2]"
	ExpectedOutput string `json:"expected_output"`
	IsHidden       bool   `json:"is_hidden"`
}

type CreateProblemRequest struct {
	Title        string                  `json:"title"`
	Description  string                  `json:"description"`
	Difficulty   model.ProblemDifficulty `json:"difficulty"`
	FunctionName string                  `json:"function_name"`
	StarterCode  string                  `json:"starter_code"`
	TestCases    []TestCaseRequest       `json:"test_cases"` // Stored in the given order
}

func (s *ProblemService) CreateProblem(ctx context.Context, req CreateProblemRequest) (*model.Problem, error) {
	if strings.TrimSpace(req.Title) == "" || req.Description == "" || len(req.TestCases) == 0 {
		return nil, common.Errorf("missing required fields for problem creation: %w", common.ErrBadRequest)
	}
	switch req.Difficulty {
	case model.DifficultyEasy, model.DifficultyMedium, model.DifficultyHard:
	default:
		return nil, common.Errorf("difficulty must be Easy, Medium or Hard: %w", common.ErrValidation)
	}
	if req.FunctionName == "" {
		req.FunctionName = "solution"
	}
	if !entryPointRe.MatchString(req.FunctionName) {
		return nil, common.Errorf("function_name %q is not a valid identifier: %w", req.FunctionName, common.ErrValidation)
	}

	problem := &model.Problem{
		ID:           uuid.NewString(),
		Title:        strings.TrimSpace(req.Title),
		Slug:         slug.Make(req.Title), // Conflicts surface as ErrConflict from the repository
		Description:  req.Description,
		Difficulty:   req.Difficulty,
		FunctionName: req.FunctionName,
		StarterCode:  req.StarterCode,
	}

	testCases := make([]model.TestCase, 0, len(req.TestCases))
	for i, tc := range req.TestCases {
		if _, err := normalizeArgs(tc.Input); err != nil {
			return nil, common.Errorf("test case %d: %v: %w", i+1, err, common.ErrValidation)
		}
		testCases = append(testCases, model.TestCase{
			ID:             uuid.NewString(),
			ProblemID:      problem.ID,
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
			IsHidden:       tc.IsHidden,
			SortOrder:      i + 1,
		})
	}

	err := s.tx.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.problemRepo.CreateProblem(ctx, tx, problem); err != nil {
			return common.Errorf("failed to create problem in DB: %w", err)
		}
		if err := s.problemRepo.AddTestCasesToProblem(ctx, tx, problem.ID, testCases); err != nil {
			return common.Errorf("failed to add test cases to problem: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("problem created", zap.String("problem_id", problem.ID), zap.String("slug", problem.Slug))
	problem.TestCases = testCases // Admin view
	return problem, nil
}

// GetProblemDetails returns the problem with its test cases. Hidden cases are only included for admins.
func (s *ProblemService) GetProblemDetails(ctx context.Context, problemSlug string, userRole string) (*model.Problem, error) {
	problem, err := s.problemRepo.FindProblemBySlug(ctx, problemSlug)
	if err != nil {
		return nil, err
	}

	testCases, err := s.problemRepo.GetTestCasesByProblemID(ctx, problem.ID)
	if err != nil {
		s.logger.Warn("failed to fetch test cases", zap.String("problem_id", problem.ID), zap.Error(err))
		return problem, nil
	}

	if userRole == model.RoleAdmin {
		problem.TestCases = testCases
		return problem, nil
	}
	visible := []model.TestCase{}
	for _, tc := range testCases {
		if !tc.IsHidden {
			visible = append(visible, tc)
		}
	}
	problem.TestCases = visible
	return problem, nil
}

func (s *ProblemService) ListProblems(ctx context.Context, page, pageSize int, difficulty model.ProblemDifficulty, search string) ([]model.Problem, int, error) {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize
	if offset < 0 {
		offset = 0
	}
	return s.problemRepo.ListProblems(ctx, pageSize, offset, difficulty, strings.TrimSpace(search))
}
