package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Reconciler re-derives part of the ranked cache from durable state.
type Reconciler interface {
	SyncTop(ctx context.Context) (int, error)
	Rebuild(ctx context.Context) (int, error)
}

// LeaderboardWorker periodically reconciles the ranked cache with durable XP.
// It rebuilds the whole board once at start, then syncs the top-N every interval.
type LeaderboardWorker struct {
	reconciler Reconciler
	interval   time.Duration
	logger     *zap.Logger
}

func NewLeaderboardWorker(r Reconciler, interval time.Duration, logger *zap.Logger) *LeaderboardWorker {
	return &LeaderboardWorker{reconciler: r, interval: interval, logger: logger}
}

// Start blocks until ctx is cancelled.
func (w *LeaderboardWorker) Start(ctx context.Context) {
	w.logger.Info("leaderboard worker started", zap.Duration("interval", w.interval))

	if n, err := w.reconciler.Rebuild(ctx); err != nil {
		w.logger.Error("initial leaderboard rebuild failed", zap.Error(err))
	} else {
		w.logger.Info("initial leaderboard rebuild done", zap.Int("users", n))
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("leaderboard worker stopping")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *LeaderboardWorker) tick(ctx context.Context) {
	n, err := w.reconciler.SyncTop(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Error("leaderboard sync failed", zap.Error(err))
		return
	}
	w.logger.Debug("leaderboard synced", zap.Int("users", n))
}
