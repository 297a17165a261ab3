package service

import (
	"context"
	"fmt"

	"tle_zone_judge/internal/domain/model"
	"tle_zone_judge/internal/domain/repository"
	"tle_zone_judge/internal/platform/metrics"

	"go.uber.org/zap"
)

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

type LeaderboardService struct {
	userRepo repository.UserRepository
	board    LeaderboardCache
	topN     int
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewLeaderboardService(userRepo repository.UserRepository, board LeaderboardCache, topN int, m *metrics.Metrics, logger *zap.Logger) *LeaderboardService {
	return &LeaderboardService{userRepo: userRepo, board: board, topN: topN, metrics: m, logger: logger}
}

// Top reads the ranked cache. limit is clamped to [1, 100] with 10 as the default.
func (s *LeaderboardService) Top(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}
	entries, err := s.board.Top(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}
	return entries, nil
}

// Rebuild replaces the ranked cache with every user's durable XP. Returns the number of users written.
// Safe to run alongside live scoring.
func (s *LeaderboardService) Rebuild(ctx context.Context) (int, error) {
	users, err := s.userRepo.ListXP(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to load xp for rebuild: %w", err)
	}
	if err := s.board.Replace(ctx, users); err != nil {
		s.metrics.LeaderboardSyncFails.Inc()
		return 0, fmt.Errorf("failed to rebuild leaderboard: %w", err)
	}

	// An award upserted between the read and Replace was overwritten with its older total.
	// A second read merged with GT restores it without lowering anything written since.
	fresh, err := s.userRepo.ListXP(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to reload xp after rebuild: %w", err)
	}
	if err := s.board.Merge(ctx, fresh); err != nil {
		s.metrics.LeaderboardSyncFails.Inc()
		return 0, fmt.Errorf("failed to merge xp after rebuild: %w", err)
	}
	s.logger.Info("leaderboard rebuilt", zap.Int("users", len(fresh)))
	return len(fresh), nil
}

// SyncTop re-derives the top-N entries from durable XP and upserts them. Members outside the
// top-N are left as they are. Safe to run alongside live scoring since every write is an upsert.
func (s *LeaderboardService) SyncTop(ctx context.Context) (int, error) {
	users, err := s.userRepo.ListXP(ctx, s.topN)
	if err != nil {
		return 0, fmt.Errorf("failed to load top xp: %w", err)
	}
	if err := s.board.Merge(ctx, users); err != nil {
		s.metrics.LeaderboardSyncFails.Inc()
		return 0, fmt.Errorf("failed to sync leaderboard: %w", err)
	}
	return len(users), nil
}
