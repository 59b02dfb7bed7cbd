package app

import (
	"context"
	"time"

	"livequiz-service/internal/domain"
)

// SessionRepository tracks the rooms live on this instance (in-memory, Redis-backed, etc).
type SessionRepository interface {
	// Add registers a room, failing with domain.ErrPINTaken if its PIN is in use.
	Add(room *Room) error
	Get(pin string) (*Room, bool)
	Delete(pin string)
}

// SnapshotStore persists session documents so a room survives a restart.
type SnapshotStore interface {
	Save(ctx context.Context, session domain.Session) error
	// Load returns domain.ErrSessionNotFound when nothing usable is stored.
	Load(ctx context.Context, pin string) (domain.Session, error)
	Delete(ctx context.Context, pin string) error
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// LeaderboardRepository stores durable leaderboards. Merge must be an atomic
// per-player increment so that sessions ending together do not lose updates.
type LeaderboardRepository interface {
	Create(ctx context.Context, lb domain.Leaderboard) (domain.Leaderboard, error)
	Get(ctx context.Context, id string) (domain.Leaderboard, error)
	Merge(ctx context.Context, id string, entries []domain.MergeEntry, at time.Time) error
}

// RateLimiter is a fixed-window counter keyed per actor.
type RateLimiter interface {
	Check(ctx context.Context, key string, max int, window time.Duration) (domain.RateLimit, error)
	Reset(ctx context.Context, key string) error
}

// EventPublisher fans session events out to other instances.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.SessionEvent) error
}

// TimeSource is the document store's server-assigned clock.
type TimeSource interface {
	ServerTime(ctx context.Context) (time.Time, error)
}
