package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/study-groups/quasar/internal/domain"
)

// ScoreStore implements domain.ScoreStore on a Redis sorted set per game.
// ZADD GT gives the keep-the-maximum semantics server-side, so concurrent
// submissions for the same player cannot regress a best score.
type ScoreStore struct {
	client *Client
}

func NewScoreStore(client *Client) *ScoreStore {
	return &ScoreStore{client: client}
}

func scoreKey(game string) string {
	return "quasar:scores:" + game
}

func (s *ScoreStore) Record(ctx context.Context, game, player string, score float64) error {
	err := s.client.rdb.ZAddGT(ctx, scoreKey(game), goredis.Z{
		Score:  score,
		Member: player,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to record score for %s/%s: %w", game, player, err)
	}
	return nil
}

func (s *ScoreStore) Top(ctx context.Context, game string, n int) ([]domain.ScoreEntry, error) {
	if n < 1 {
		return nil, nil
	}
	zs, err := s.client.rdb.ZRevRangeWithScores(ctx, scoreKey(game), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard for %s: %w", game, err)
	}

	entries := make([]domain.ScoreEntry, 0, len(zs))
	for _, z := range zs {
		player, _ := z.Member.(string)
		entries = append(entries, domain.ScoreEntry{Player: player, Score: z.Score})
	}
	return entries, nil
}
