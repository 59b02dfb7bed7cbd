package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"livequiz-service/internal/domain"
)

// LeaderboardStore keeps durable leaderboards in Postgres. Each player row is
// updated with an upsert that adds to the stored totals, so concurrent merges
// from different sessions never overwrite one another.
type LeaderboardStore struct {
	pool *pgxpool.Pool
}

func NewLeaderboardStore(pool *pgxpool.Pool) *LeaderboardStore {
	return &LeaderboardStore{pool: pool}
}

const mergePlayerSQL = `
INSERT INTO leaderboard_players (leaderboard_id, player_key, display_name, total_score, quizzes_taken, last_played)
VALUES ($1, $2, $3, $4, 1, $5)
ON CONFLICT (leaderboard_id, player_key) DO UPDATE SET
	display_name  = EXCLUDED.display_name,
	total_score   = leaderboard_players.total_score + EXCLUDED.total_score,
	quizzes_taken = leaderboard_players.quizzes_taken + 1,
	last_played   = EXCLUDED.last_played`

func (s *LeaderboardStore) Create(ctx context.Context, lb domain.Leaderboard) (domain.Leaderboard, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO leaderboards (id, name, course, year, created_at) VALUES ($1, $2, $3, $4, $5)`,
		lb.ID, lb.Name, lb.Course, lb.Year, lb.CreatedAt)
	if err != nil {
		return domain.Leaderboard{}, fmt.Errorf("create leaderboard: %w", err)
	}
	if lb.Players == nil {
		lb.Players = make(map[string]domain.LeaderboardPlayer)
	}
	return lb, nil
}

func (s *LeaderboardStore) Get(ctx context.Context, id string) (domain.Leaderboard, error) {
	lb := domain.Leaderboard{ID: id, Players: make(map[string]domain.LeaderboardPlayer)}
	err := s.pool.QueryRow(ctx,
		`SELECT name, course, year, created_at FROM leaderboards WHERE id=$1`, id,
	).Scan(&lb.Name, &lb.Course, &lb.Year, &lb.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Leaderboard{}, domain.ErrLeaderboardNotFound
	}
	if err != nil {
		return domain.Leaderboard{}, fmt.Errorf("load leaderboard %s: %w", id, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT player_key, display_name, total_score, quizzes_taken, last_played
		 FROM leaderboard_players WHERE leaderboard_id=$1`, id)
	if err != nil {
		return domain.Leaderboard{}, fmt.Errorf("load leaderboard players %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var row domain.LeaderboardPlayer
		if err := rows.Scan(&key, &row.DisplayName, &row.TotalScore, &row.QuizzesTaken, &row.LastPlayed); err != nil {
			return domain.Leaderboard{}, fmt.Errorf("scan leaderboard player: %w", err)
		}
		lb.Players[key] = row
	}
	if err := rows.Err(); err != nil {
		return domain.Leaderboard{}, fmt.Errorf("read leaderboard players %s: %w", id, err)
	}
	return lb, nil
}

func (s *LeaderboardStore) Merge(ctx context.Context, id string, entries []domain.MergeEntry, at time.Time) error {
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM leaderboards WHERE id=$1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check leaderboard %s: %w", id, err)
		}
		if !exists {
			return domain.ErrLeaderboardNotFound
		}

		batch := &pgx.Batch{}
		for _, entry := range entries {
			key := domain.LeaderboardKey(entry.DisplayName)
			if key == "" {
				continue
			}
			batch.Queue(mergePlayerSQL, id, key, entry.DisplayName, entry.Score, at)
		}
		if batch.Len() == 0 {
			return nil
		}
		results := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("merge leaderboard %s: %w", id, err)
			}
		}
		return results.Close()
	})
}
