package app

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Limit is a max number of attempts per fixed window.
type Limit struct {
	Max    int
	Window time.Duration
}

// Options are the game rules a service enforces.
type Options struct {
	Countdown            time.Duration
	QuestionDuration     time.Duration
	AutoAdvance          bool
	MaxReactions         int
	ReactionsPerQuestion int
	MaxNameLength        int
	// EarlyTolerance is how far ahead of countdownEnd a begin-question request is still accepted.
	EarlyTolerance time.Duration

	JoinLimit     Limit
	AnswerLimit   Limit
	ReactionLimit Limit
}

func DefaultOptions() Options {
	return Options{
		Countdown:            3 * time.Second,
		QuestionDuration:     25 * time.Second,
		AutoAdvance:          true,
		MaxReactions:         15,
		ReactionsPerQuestion: 5,
		MaxNameLength:        30,
		EarlyTolerance:       250 * time.Millisecond,
		JoinLimit:            Limit{Max: 3, Window: time.Minute},
		AnswerLimit:          Limit{Max: 10, Window: 10 * time.Second},
		ReactionLimit:        Limit{Max: 20, Window: 10 * time.Second},
	}
}

// Option customizes a SessionService.
type Option func(*SessionService)

func WithOptions(opts Options) Option {
	return func(s *SessionService) { s.opts = opts }
}

// WithClock replaces the wall clock, used by tests with a fake clock.
func WithClock(clock clockwork.Clock) Option {
	return func(s *SessionService) { s.local = clock }
}

func WithSnapshots(store SnapshotStore) Option {
	return func(s *SessionService) { s.snapshots = store }
}

func WithPublisher(publisher EventPublisher) Option {
	return func(s *SessionService) { s.events = publisher }
}

func WithTimeSource(source TimeSource) Option {
	return func(s *SessionService) { s.timeSource = source }
}

// WithPINGenerator overrides the random PIN source.
func WithPINGenerator(gen func() (string, error)) Option {
	return func(s *SessionService) { s.newPIN = gen }
}

// WithInstanceID tags published events with the id of this process.
func WithInstanceID(id string) Option {
	return func(s *SessionService) { s.instanceID = id }
}
