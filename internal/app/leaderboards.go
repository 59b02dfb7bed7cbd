package app

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"livequiz-service/internal/domain"
)

// CreateLeaderboardRequest describes a new durable leaderboard.
type CreateLeaderboardRequest struct {
	IsAdmin bool
	Name    string
	Course  string
	Year    int
}

// CreateLeaderboard stores an empty leaderboard that sessions can be linked to.
func (s *SessionService) CreateLeaderboard(ctx context.Context, req CreateLeaderboardRequest) (domain.Leaderboard, error) {
	if !req.IsAdmin {
		return domain.Leaderboard{}, domain.ErrNotAdmin
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Leaderboard{}, domain.ErrInvalidLeaderboard
	}
	return s.leaderboards.Create(ctx, domain.Leaderboard{
		ID:        uuid.NewString(),
		Name:      name,
		Course:    strings.TrimSpace(req.Course),
		Year:      req.Year,
		CreatedAt: s.clock.Now(),
		Players:   map[string]domain.LeaderboardPlayer{},
	})
}

func (s *SessionService) GetLeaderboard(ctx context.Context, id string) (domain.Leaderboard, error) {
	return s.leaderboards.Get(ctx, id)
}
