package memory

import (
	"context"
	"sync"
	"time"

	"livequiz-service/internal/domain"
)

// LeaderboardStore keeps leaderboards in process. Merges run under one lock, so
// concurrent session endings are applied one after the other.
type LeaderboardStore struct {
	mu     sync.Mutex
	boards map[string]domain.Leaderboard
}

func NewLeaderboardStore() *LeaderboardStore {
	return &LeaderboardStore{boards: make(map[string]domain.Leaderboard)}
}

func (s *LeaderboardStore) Create(_ context.Context, lb domain.Leaderboard) (domain.Leaderboard, error) {
	if lb.Players == nil {
		lb.Players = make(map[string]domain.LeaderboardPlayer)
	}
	s.mu.Lock()
	s.boards[lb.ID] = cloneLeaderboard(lb)
	s.mu.Unlock()
	return lb, nil
}

func (s *LeaderboardStore) Get(_ context.Context, id string) (domain.Leaderboard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lb, ok := s.boards[id]
	if !ok {
		return domain.Leaderboard{}, domain.ErrLeaderboardNotFound
	}
	return cloneLeaderboard(lb), nil
}

func (s *LeaderboardStore) Merge(_ context.Context, id string, entries []domain.MergeEntry, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lb, ok := s.boards[id]
	if !ok {
		return domain.ErrLeaderboardNotFound
	}
	lb.Apply(entries, at)
	s.boards[id] = lb
	return nil
}

func cloneLeaderboard(lb domain.Leaderboard) domain.Leaderboard {
	players := make(map[string]domain.LeaderboardPlayer, len(lb.Players))
	for key, row := range lb.Players {
		players[key] = row
	}
	lb.Players = players
	return lb
}
