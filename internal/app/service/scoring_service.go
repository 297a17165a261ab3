package service

import (
	"context"
	"database/sql"
	"fmt"

	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"
	"tle_zone_judge/internal/domain/repository"
	"tle_zone_judge/internal/platform/database"
	"tle_zone_judge/internal/platform/metrics"

	"go.uber.org/zap"
)

const defaultPoints = 10

var pointsByDifficulty = map[model.ProblemDifficulty]int{
	model.DifficultyEasy:   10,
	model.DifficultyMedium: 30,
	model.DifficultyHard:   50,
}

// PointsFor returns the XP reward for a first-time solve. Unknown tiers are worth the Easy reward.
func PointsFor(difficulty model.ProblemDifficulty) int {
	if p, ok := pointsByDifficulty[difficulty]; ok {
		return p
	}
	return defaultPoints
}

// LeaderboardCache is the ranked mirror of durable XP.
type LeaderboardCache interface {
	Upsert(ctx context.Context, username string, total int) error
	Top(ctx context.Context, n int) ([]model.LeaderboardEntry, error)
	Replace(ctx context.Context, users []model.UserXP) error
	Merge(ctx context.Context, users []model.UserXP) error
}

type XPAward struct {
	Earned int `json:"earned"`
	Total  int `json:"total"`
}

type ScoringService struct {
	tx             database.TxRunner
	submissionRepo repository.SubmissionRepository
	userRepo       repository.UserRepository
	board          LeaderboardCache
	metrics        *metrics.Metrics
	logger         *zap.Logger
}

func NewScoringService(
	tx database.TxRunner,
	subRepo repository.SubmissionRepository,
	userRepo repository.UserRepository,
	board LeaderboardCache,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ScoringService {
	return &ScoringService{
		tx:             tx,
		submissionRepo: subRepo,
		userRepo:       userRepo,
		board:          board,
		metrics:        m,
		logger:         logger,
	}
}

// RecordSubmission persists sub and, for the first Accepted verdict of a user+problem pair,
// awards XP. The award is nil for non-Accepted verdicts.
//
// Accepted rows are inserted in the same transaction that holds the user row lock, after the
// prior-Accepted check, so concurrent first solves serialize and only one of them sees no prior row.
func (s *ScoringService) RecordSubmission(ctx context.Context, sub *model.Submission, difficulty model.ProblemDifficulty) (*XPAward, error) {
	if sub.Status != model.StatusAccepted {
		if err := s.submissionRepo.CreateSubmission(ctx, nil, sub); err != nil {
			return nil, fmt.Errorf("failed to persist submission: %w", err)
		}
		return nil, nil
	}

	award := &XPAward{}
	var username string
	err := s.tx.WithTx(ctx, func(tx *sql.Tx) error {
		user, err := s.userRepo.LockForXP(ctx, tx, sub.UserID)
		if err != nil {
			return err
		}
		username = user.Username
		award.Total = user.XP

		solved, err := s.submissionRepo.HasAcceptedSubmission(ctx, tx, sub.UserID, sub.ProblemID)
		if err != nil {
			return err
		}
		if err := s.submissionRepo.CreateSubmission(ctx, tx, sub); err != nil {
			return err
		}
		if solved {
			return nil
		}

		points := PointsFor(difficulty)
		total, err := s.userRepo.AddXP(ctx, tx, sub.UserID, points)
		if err != nil {
			return err
		}
		award.Earned = points
		award.Total = total
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrScoringTransaction, err)
	}

	if award.Earned == 0 {
		return award, nil
	}

	s.metrics.XPAwardedTotal.Add(float64(award.Earned))
	s.logger.Info("xp awarded",
		zap.String("user_id", sub.UserID),
		zap.String("problem_id", sub.ProblemID),
		zap.Int("earned", award.Earned),
		zap.Int("total", award.Total),
	)

	if err := s.board.Upsert(ctx, username, award.Total); err != nil {
		s.metrics.LeaderboardSyncFails.Inc()
		s.logger.Warn("leaderboard mirror write failed; durable xp is authoritative",
			zap.String("username", username),
			zap.Int("total", award.Total),
			zap.Error(err),
		)
	}
	return award, nil
}
