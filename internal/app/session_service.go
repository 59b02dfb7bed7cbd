package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"livequiz-service/internal/clocksync"
	"livequiz-service/internal/domain"
	"livequiz-service/internal/scoring"
)

const sideEffectTimeout = 3 * time.Second

// SessionService contains the live game use cases. Every mutation of a session
// goes through that session's Room.
type SessionService struct {
	sessions     SessionRepository
	quizzes      QuizRepository
	leaderboards LeaderboardRepository
	limiter      RateLimiter

	snapshots  SnapshotStore
	events     EventPublisher
	timeSource TimeSource

	local      clockwork.Clock
	clock      *clocksync.Clock
	opts       Options
	newPIN     func() (string, error)
	instanceID string

	restoreMu sync.Mutex
}

func NewSessionService(sessions SessionRepository, quizzes QuizRepository, leaderboards LeaderboardRepository, limiter RateLimiter, options ...Option) *SessionService {
	s := &SessionService{
		sessions:     sessions,
		quizzes:      quizzes,
		leaderboards: leaderboards,
		limiter:      limiter,
		opts:         DefaultOptions(),
		newPIN:       GeneratePIN,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.local == nil {
		s.local = clockwork.NewRealClock()
	}
	s.clock = clocksync.New(s.local)
	return s
}

// Clock is the server-anchored clock used to stamp phase timestamps.
func (s *SessionService) Clock() *clocksync.Clock {
	return s.clock
}

func (s *SessionService) Options() Options {
	return s.opts
}

// SyncClock anchors the service clock to the document store's server time.
func (s *SessionService) SyncClock(ctx context.Context) error {
	if s.timeSource == nil {
		return nil
	}
	serverTime, err := s.timeSource.ServerTime(ctx)
	if err != nil {
		return fmt.Errorf("read server time: %w", err)
	}
	offset := s.clock.Sync(serverTime)
	log.Debug().Dur("offset", offset).Msg("clock synced")
	return nil
}

// RunClockSync re-anchors the clock every interval until ctx is done.
func (s *SessionService) RunClockSync(ctx context.Context, interval time.Duration) error {
	if s.timeSource == nil {
		return nil
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if err := s.SyncClock(ctx); err != nil {
		log.Warn().Err(err).Msg("initial clock sync failed, using local clock")
	}
	ticker := s.local.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if err := s.SyncClock(ctx); err != nil {
				log.Warn().Err(err).Msg("clock sync failed")
			}
		}
	}
}

// LaunchRequest describes a host launching a quiz.
type LaunchRequest struct {
	HostID        string
	IsAdmin       bool
	QuizID        string
	LeaderboardID string
	AllowLateJoin bool
}

// Launch creates a lobby for a quiz under a fresh PIN. The quiz is copied into the
// session so later edits to it do not reach the running game.
func (s *SessionService) Launch(ctx context.Context, req LaunchRequest) (domain.Session, error) {
	if req.HostID == "" {
		return domain.Session{}, domain.ErrUnauthorized
	}
	if !req.IsAdmin {
		return domain.Session{}, domain.ErrNotAdmin
	}
	quiz, err := s.quizzes.GetQuiz(ctx, req.QuizID)
	if err != nil {
		return domain.Session{}, err
	}
	if len(quiz.Questions) == 0 {
		return domain.Session{}, domain.ErrEmptyQuiz
	}

	var leaderboardName string
	if req.LeaderboardID != "" {
		lb, err := s.leaderboards.Get(ctx, req.LeaderboardID)
		if err != nil {
			return domain.Session{}, err
		}
		leaderboardName = lb.Name
	}

	for attempt := 0; attempt < maxPINAttempts; attempt++ {
		pin, err := s.newPIN()
		if err != nil {
			return domain.Session{}, err
		}
		if s.snapshotExists(ctx, pin) {
			continue
		}

		state := newRoomState(pin, req.HostID, quiz.Clone(), s.clock.Now())
		state.allowLateJoin = req.AllowLateJoin
		state.leaderboardID = req.LeaderboardID
		state.leaderboardName = leaderboardName

		room := s.newRoom(state)
		if err := s.sessions.Add(room); err != nil {
			room.stop()
			if errors.Is(err, domain.ErrPINTaken) {
				continue
			}
			return domain.Session{}, err
		}

		snap, err := room.Snapshot(ctx)
		if err != nil {
			return domain.Session{}, err
		}
		s.persist(snap)
		log.Info().Str("pin", pin).Str("quiz_id", quiz.ID).Str("user_id", req.HostID).Msg("session launched")
		return snap, nil
	}
	return domain.Session{}, fmt.Errorf("allocate pin after %d attempts: %w", maxPINAttempts, domain.ErrPINTaken)
}

// Get returns the current document of a session.
func (s *SessionService) Get(ctx context.Context, pin string) (domain.Session, error) {
	room, err := s.room(ctx, pin)
	if err != nil {
		return domain.Session{}, err
	}
	return room.Snapshot(ctx)
}

// Subscribe returns a channel that receives session updates. It starts with the
// current document and is closed when the session is disposed. The caller must
// invoke the returned cancel function to avoid leaks.
func (s *SessionService) Subscribe(ctx context.Context, pin string) (<-chan domain.Session, func(), error) {
	room, err := s.room(ctx, pin)
	if err != nil {
		return nil, nil, err
	}
	return room.subscribe(ctx)
}

// StartGame moves the lobby into the first countdown.
func (s *SessionService) StartGame(ctx context.Context, pin, hostID string) error {
	_, err := s.hostUpdate(ctx, pin, hostID, func(st *roomState) error {
		return st.start(s.clock.Now(), s.opts.Countdown)
	})
	return err
}

// BeginQuestion ends an elapsed countdown. It is a no-op when the question is already showing.
func (s *SessionService) BeginQuestion(ctx context.Context, pin, hostID string) error {
	_, err := s.hostUpdate(ctx, pin, hostID, func(st *roomState) error {
		return st.beginQuestion(s.clock.Now(), s.clock.Synced(), s.opts.EarlyTolerance)
	})
	return err
}

// ShowResults reveals the current question. The question timer converges on the same transition.
func (s *SessionService) ShowResults(ctx context.Context, pin, hostID string) error {
	_, err := s.hostUpdate(ctx, pin, hostID, func(st *roomState) error {
		return st.showResults()
	})
	return err
}

// NextQuestion advances from results to the next countdown, or to final after the last question.
func (s *SessionService) NextQuestion(ctx context.Context, pin, hostID string) error {
	_, err := s.hostUpdate(ctx, pin, hostID, func(st *roomState) error {
		return st.nextQuestion(s.clock.Now(), s.opts.Countdown)
	})
	return err
}

// EndGame merges the final scores into the linked leaderboard, once, and disposes of the session.
func (s *SessionService) EndGame(ctx context.Context, pin, hostID string) ([]domain.Standing, error) {
	room, err := s.room(ctx, pin)
	if err != nil {
		return nil, err
	}

	standings, err := call(ctx, room, func() ([]domain.Standing, error) {
		st := room.state
		if st.disposed {
			return nil, domain.ErrSessionNotFound
		}
		if st.hostID != hostID {
			return nil, domain.ErrNotHost
		}
		if _, ok := st.phase.(finalPhase); !ok {
			return nil, domain.ErrInvalidTransition
		}
		if st.leaderboardID != "" && !st.merged {
			if err := s.leaderboards.Merge(ctx, st.leaderboardID, st.mergeEntries(), s.clock.Now()); err != nil {
				return nil, fmt.Errorf("merge session %s into leaderboard %s: %w", st.pin, st.leaderboardID, err)
			}
			st.merged = true
			s.persist(st.snapshot())
			log.Info().Str("pin", st.pin).Str("leaderboard_id", st.leaderboardID).Int("players", len(st.players)).Msg("leaderboard merged")
		}
		st.disposed = true
		return scoring.Rank(st.players, st.scores), nil
	})
	if err != nil {
		return nil, err
	}
	s.dispose(room)
	log.Info().Str("pin", pin).Msg("session ended")
	return standings, nil
}

// DeleteSession aborts a session in any phase without touching leaderboards.
func (s *SessionService) DeleteSession(ctx context.Context, pin, hostID string) error {
	room, err := s.room(ctx, pin)
	if err != nil {
		return err
	}
	err = room.exec(ctx, func() error {
		if room.state.disposed {
			return domain.ErrSessionNotFound
		}
		if room.state.hostID != hostID {
			return domain.ErrNotHost
		}
		room.state.disposed = true
		return nil
	})
	if err != nil {
		return err
	}
	s.dispose(room)
	log.Info().Str("pin", pin).Msg("session deleted")
	return nil
}

func (s *SessionService) hostUpdate(ctx context.Context, pin, hostID string, fn func(st *roomState) error) (domain.Session, error) {
	room, err := s.room(ctx, pin)
	if err != nil {
		return domain.Session{}, err
	}
	return room.update(ctx, func(st *roomState) error {
		if st.hostID != hostID {
			return domain.ErrNotHost
		}
		return fn(st)
	})
}

// room finds a live room, rebuilding it from its snapshot after a restart.
func (s *SessionService) room(ctx context.Context, pin string) (*Room, error) {
	if !ValidPIN(pin) {
		return nil, domain.ErrSessionNotFound
	}
	if room, ok := s.sessions.Get(pin); ok {
		return room, nil
	}
	if s.snapshots == nil {
		return nil, domain.ErrSessionNotFound
	}

	s.restoreMu.Lock()
	defer s.restoreMu.Unlock()
	if room, ok := s.sessions.Get(pin); ok {
		return room, nil
	}

	snap, err := s.snapshots.Load(ctx, pin)
	if err != nil {
		return nil, err
	}
	state, err := restoreState(snap)
	if err != nil {
		log.Warn().Err(err).Str("pin", pin).Msg("discarding unusable session snapshot")
		if err := s.snapshots.Delete(ctx, pin); err != nil {
			log.Error().Err(err).Str("pin", pin).Msg("delete session snapshot")
		}
		return nil, domain.ErrSessionNotFound
	}
	room := s.newRoom(state)
	if err := s.sessions.Add(room); err != nil {
		room.stop()
		if existing, ok := s.sessions.Get(pin); ok {
			return existing, nil
		}
		return nil, err
	}
	if err := room.resume(ctx); err != nil {
		return nil, err
	}
	log.Info().Str("pin", pin).Str("status", string(snap.Status)).Msg("session restored from snapshot")
	return room, nil
}

func (s *SessionService) newRoom(state *roomState) *Room {
	return newRoom(state, s.clock, s.opts, s.onChange)
}

// onChange runs on the room goroutine after every change.
func (s *SessionService) onChange(snap domain.Session) {
	s.persist(snap)
	s.publish(domain.EventSessionUpdated, snap.PIN, &snap)
}

func (s *SessionService) persist(snap domain.Session) {
	if s.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := s.snapshots.Save(ctx, snap); err != nil {
		log.Error().Err(err).Str("pin", snap.PIN).Msg("persist session snapshot")
	}
}

func (s *SessionService) publish(typ domain.EventType, pin string, snap *domain.Session) {
	if s.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	event := domain.SessionEvent{
		Type:     typ,
		PIN:      pin,
		Session:  snap,
		Instance: s.instanceID,
		At:       s.clock.Now(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		log.Error().Err(err).Str("pin", pin).Str("event", string(typ)).Msg("publish session event")
	}
}

func (s *SessionService) snapshotExists(ctx context.Context, pin string) bool {
	if s.snapshots == nil {
		return false
	}
	_, err := s.snapshots.Load(ctx, pin)
	return err == nil
}

func (s *SessionService) dispose(room *Room) {
	s.sessions.Delete(room.PIN())
	room.stop()
	if s.snapshots != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		if err := s.snapshots.Delete(ctx, room.PIN()); err != nil {
			log.Error().Err(err).Str("pin", room.PIN()).Msg("delete session snapshot")
		}
	}
	s.publish(domain.EventSessionEnded, room.PIN(), nil)
}

func (s *SessionService) allow(ctx context.Context, key string, limit Limit) error {
	if limit.Max <= 0 {
		return nil
	}
	verdict, err := s.limiter.Check(ctx, key, limit.Max, limit.Window)
	if err != nil {
		return fmt.Errorf("rate limit %s: %w", key, err)
	}
	if !verdict.Allowed {
		return &domain.RateLimitError{ResetIn: verdict.ResetIn}
	}
	return nil
}
