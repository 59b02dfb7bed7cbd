package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"livequiz-service/internal/domain"
)

// LeaderboardStore keeps durable leaderboards in Redis.
//
//	HSET  leaderboard:{id} name course year createdAt
//	HSET  leaderboard:{id}:player:{key} displayName totalScore quizzesTaken lastPlayed
//	ZADD  leaderboard:{id}:ranking {totalScore} {key}
//
// Merge increments each player's row with HINCRBY inside MULTI, so merges from
// sessions ending at the same time add up instead of overwriting each other.
type LeaderboardStore struct {
	client *redis.Client
}

func NewLeaderboardStore(client *redis.Client) *LeaderboardStore {
	return &LeaderboardStore{client: client}
}

func (s *LeaderboardStore) Create(ctx context.Context, lb domain.Leaderboard) (domain.Leaderboard, error) {
	err := s.client.HSet(ctx, metaKey(lb.ID),
		"name", lb.Name,
		"course", lb.Course,
		"year", lb.Year,
		"createdAt", lb.CreatedAt.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return domain.Leaderboard{}, fmt.Errorf("create leaderboard %s: %w", lb.ID, err)
	}
	if lb.Players == nil {
		lb.Players = make(map[string]domain.LeaderboardPlayer)
	}
	return lb, nil
}

func (s *LeaderboardStore) Get(ctx context.Context, id string) (domain.Leaderboard, error) {
	meta, err := s.client.HGetAll(ctx, metaKey(id)).Result()
	if err != nil {
		return domain.Leaderboard{}, fmt.Errorf("load leaderboard %s: %w", id, err)
	}
	if len(meta) == 0 {
		return domain.Leaderboard{}, domain.ErrLeaderboardNotFound
	}
	lb := domain.Leaderboard{
		ID:      id,
		Name:    meta["name"],
		Course:  meta["course"],
		Players: make(map[string]domain.LeaderboardPlayer),
	}
	lb.Year, _ = strconv.Atoi(meta["year"])
	lb.CreatedAt, _ = time.Parse(time.RFC3339Nano, meta["createdAt"])

	keys, err := s.client.ZRevRange(ctx, rankingKey(id), 0, -1).Result()
	if err != nil {
		return domain.Leaderboard{}, fmt.Errorf("load ranking %s: %w", id, err)
	}
	if len(keys) == 0 {
		return lb, nil
	}

	pipe := s.client.Pipeline()
	rows := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		rows[i] = pipe.HGetAll(ctx, playerKey(id, key))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.Leaderboard{}, fmt.Errorf("load players %s: %w", id, err)
	}
	for i, key := range keys {
		fields := rows[i].Val()
		if len(fields) == 0 {
			continue
		}
		row := domain.LeaderboardPlayer{DisplayName: fields["displayName"]}
		row.TotalScore, _ = strconv.Atoi(fields["totalScore"])
		row.QuizzesTaken, _ = strconv.Atoi(fields["quizzesTaken"])
		row.LastPlayed, _ = time.Parse(time.RFC3339Nano, fields["lastPlayed"])
		lb.Players[key] = row
	}
	return lb, nil
}

func (s *LeaderboardStore) Merge(ctx context.Context, id string, entries []domain.MergeEntry, at time.Time) error {
	exists, err := s.client.Exists(ctx, metaKey(id)).Result()
	if err != nil {
		return fmt.Errorf("check leaderboard %s: %w", id, err)
	}
	if exists == 0 {
		return domain.ErrLeaderboardNotFound
	}

	played := at.UTC().Format(time.RFC3339Nano)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, entry := range entries {
			key := domain.LeaderboardKey(entry.DisplayName)
			if key == "" {
				continue
			}
			row := playerKey(id, key)
			pipe.HIncrBy(ctx, row, "totalScore", int64(entry.Score))
			pipe.HIncrBy(ctx, row, "quizzesTaken", 1)
			pipe.HSet(ctx, row, "displayName", entry.DisplayName, "lastPlayed", played)
			pipe.ZIncrBy(ctx, rankingKey(id), float64(entry.Score), key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("merge leaderboard %s: %w", id, err)
	}
	return nil
}

func metaKey(id string) string {
	return "leaderboard:" + id
}

func rankingKey(id string) string {
	return "leaderboard:" + id + ":ranking"
}

func playerKey(id, key string) string {
	return "leaderboard:" + id + ":player:" + key
}
