package service

import (
	"context"

	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"
	"tle_zone_judge/internal/domain/repository"

	"github.com/google/uuid"
)

type SubmissionService struct {
	submissionRepo repository.SubmissionRepository
}

func NewSubmissionService(subRepo repository.SubmissionRepository) *SubmissionService {
	return &SubmissionService{submissionRepo: subRepo}
}

// History lists the user's own submissions for a problem, newest first.
func (s *SubmissionService) History(ctx context.Context, userID, problemID string, page, pageSize int) ([]model.Submission, int, error) {
	if _, err := uuid.Parse(problemID); err != nil {
		return nil, 0, common.Errorf("problem_id must be a UUID: %w", common.ErrBadRequest)
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize
	if offset < 0 {
		offset = 0
	}
	return s.submissionRepo.GetSubmissionsForUserProblem(ctx, userID, problemID, pageSize, offset)
}
