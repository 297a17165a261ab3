package cache

import (
	"context"
	"fmt"

	"tle_zone_judge/internal/domain/model"

	"github.com/redis/go-redis/v9"
)

// Leaderboard is a Redis sorted set of username -> XP. It is a projection of users.xp
// and may be dropped and rebuilt at any time.
type Leaderboard struct {
	rdb *redis.Client
	key string
}

func NewLeaderboard(rdb *redis.Client, key string) *Leaderboard {
	return &Leaderboard{rdb: rdb, key: key}
}

// Upsert sets the member's score to total. It never increments, so replays are harmless.
func (l *Leaderboard) Upsert(ctx context.Context, username string, total int) error {
	if err := l.rdb.ZAdd(ctx, l.key, redis.Z{Score: float64(total), Member: username}).Err(); err != nil {
		return fmt.Errorf("leaderboard upsert %s: %w", username, err)
	}
	return nil
}

// Top returns the n highest-ranked entries, rank starting at 1.
func (l *Leaderboard) Top(ctx context.Context, n int) ([]model.LeaderboardEntry, error) {
	if n <= 0 {
		return []model.LeaderboardEntry{}, nil
	}
	zs, err := l.rdb.ZRevRangeWithScores(ctx, l.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("leaderboard top %d: %w", n, err)
	}
	entries := make([]model.LeaderboardEntry, 0, len(zs))
	for i, z := range zs {
		member, _ := z.Member.(string)
		entries = append(entries, model.LeaderboardEntry{
			Rank:     i + 1,
			Username: member,
			XP:       int(z.Score),
		})
	}
	return entries, nil
}

// Replace swaps the whole set for users in one MULTI/EXEC so readers never see a half-built board.
// Users with zero XP are left out.
func (l *Leaderboard) Replace(ctx context.Context, users []model.UserXP) error {
	members := make([]redis.Z, 0, len(users))
	for _, u := range users {
		if u.XP > 0 {
			members = append(members, redis.Z{Score: float64(u.XP), Member: u.Username})
		}
	}
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, l.key)
		if len(members) > 0 {
			pipe.ZAdd(ctx, l.key, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("leaderboard replace: %w", err)
	}
	return nil
}

// Merge upserts every entry without touching other members and never lowers a score, so a
// snapshot read before a concurrent award cannot roll that award back. Used by the periodic top-N sync.
func (l *Leaderboard) Merge(ctx context.Context, users []model.UserXP) error {
	if len(users) == 0 {
		return nil
	}
	members := make([]redis.Z, 0, len(users))
	for _, u := range users {
		members = append(members, redis.Z{Score: float64(u.XP), Member: u.Username})
	}
	if err := l.rdb.ZAddArgs(ctx, l.key, redis.ZAddArgs{GT: true, Members: members}).Err(); err != nil {
		return fmt.Errorf("leaderboard merge: %w", err)
	}
	return nil
}

// Rank returns the 1-based rank of username, or 0 when the user is not on the board.
func (l *Leaderboard) Rank(ctx context.Context, username string) (int, error) {
	r, err := l.rdb.ZRevRank(ctx, l.key, username).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("leaderboard rank %s: %w", username, err)
	}
	return int(r) + 1, nil
}
