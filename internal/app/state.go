package app

import (
	"errors"
	"fmt"
	"time"

	"livequiz-service/internal/domain"
)

// errUnchanged tells the room a command succeeded without changing anything.
var errUnchanged = errors.New("unchanged")

// phase is the closed set of session phases. Each variant carries only the
// fields that are valid while the session is in it.
type phase interface {
	status() domain.Status
}

type lobbyPhase struct{}

type countdownPhase struct {
	endsAt time.Time
}

type questionPhase struct {
	startedAt time.Time
	// fallback is the countdown end, known before the authoritative start is stamped.
	fallback time.Time
	answers  map[string]domain.Answer
}

type resultsPhase struct {
	startedAt time.Time
	fallback  time.Time
	answers   map[string]domain.Answer
}

type finalPhase struct{}

func (lobbyPhase) status() domain.Status     { return domain.StatusLobby }
func (countdownPhase) status() domain.Status { return domain.StatusCountdown }
func (questionPhase) status() domain.Status  { return domain.StatusQuestion }
func (resultsPhase) status() domain.Status   { return domain.StatusResults }
func (finalPhase) status() domain.Status     { return domain.StatusFinal }

// roomState is owned by a single room goroutine and never shared.
type roomState struct {
	pin    string
	hostID string
	// quiz is never mutated after launch, so snapshots share it.
	quiz          domain.Quiz
	phase         phase
	current       int
	allowLateJoin bool

	players        map[string]string
	scores         map[string]int
	streaks        map[string]int
	coldStreaks    map[string]int
	correctCounts  map[string]int
	badges         map[string]domain.Badges
	banned         map[string]bool
	reactions      []domain.Reaction
	reactionCounts map[string]int

	leaderboardID   string
	leaderboardName string
	merged          bool
	disposed        bool

	createdAt time.Time
	updatedAt time.Time
}

func newRoomState(pin, hostID string, quiz domain.Quiz, now time.Time) *roomState {
	return &roomState{
		pin:            pin,
		hostID:         hostID,
		quiz:           quiz,
		phase:          lobbyPhase{},
		players:        make(map[string]string),
		scores:         make(map[string]int),
		streaks:        make(map[string]int),
		coldStreaks:    make(map[string]int),
		correctCounts:  make(map[string]int),
		badges:         make(map[string]domain.Badges),
		banned:         make(map[string]bool),
		reactionCounts: make(map[string]int),
		createdAt:      now,
		updatedAt:      now,
	}
}

func (st *roomState) status() domain.Status {
	return st.phase.status()
}

func (st *roomState) start(now time.Time, countdown time.Duration) error {
	if _, ok := st.phase.(lobbyPhase); !ok {
		return domain.ErrInvalidTransition
	}
	st.current = 0
	st.enterCountdown(now, countdown)
	return nil
}

func (st *roomState) enterCountdown(now time.Time, countdown time.Duration) {
	st.phase = countdownPhase{endsAt: now.Add(countdown)}
	st.reactions = nil
	st.reactionCounts = make(map[string]int)
}

// beginQuestion moves an elapsed countdown into the question. A session that is
// already showing the question is left alone, so racing timers fire it once.
func (st *roomState) beginQuestion(now time.Time, anchored bool, tolerance time.Duration) error {
	switch p := st.phase.(type) {
	case countdownPhase:
		if now.Before(p.endsAt.Add(-tolerance)) {
			return domain.ErrInvalidTransition
		}
		started := p.endsAt
		if anchored {
			started = now
		}
		st.phase = questionPhase{
			startedAt: started,
			fallback:  p.endsAt,
			answers:   make(map[string]domain.Answer),
		}
		return nil
	case questionPhase:
		return errUnchanged
	default:
		return domain.ErrInvalidTransition
	}
}

func (st *roomState) showResults() error {
	switch p := st.phase.(type) {
	case questionPhase:
		st.phase = resultsPhase{startedAt: p.startedAt, fallback: p.fallback, answers: p.answers}
		return nil
	case resultsPhase:
		return errUnchanged
	default:
		return domain.ErrInvalidTransition
	}
}

func (st *roomState) nextQuestion(now time.Time, countdown time.Duration) error {
	p, ok := st.phase.(resultsPhase)
	if !ok {
		return domain.ErrInvalidTransition
	}
	for uid := range st.players {
		if _, answered := p.answers[uid]; !answered {
			st.streaks[uid] = 0
			st.coldStreaks[uid]++
		}
	}
	if st.current+1 >= len(st.quiz.Questions) {
		st.phase = finalPhase{}
		st.reactions = nil
		return nil
	}
	st.current++
	st.enterCountdown(now, countdown)
	return nil
}

// deadline is when the current phase ends on its own, keyed so a stale timer can be told apart.
func (st *roomState) deadline(opts Options) (string, time.Time, bool) {
	switch p := st.phase.(type) {
	case countdownPhase:
		return fmt.Sprintf("countdown:%d", st.current), p.endsAt, true
	case questionPhase:
		return fmt.Sprintf("question:%d", st.current), p.startedAt.Add(opts.QuestionDuration), true
	default:
		return "", time.Time{}, false
	}
}

func (st *roomState) answers() map[string]domain.Answer {
	switch p := st.phase.(type) {
	case questionPhase:
		return p.answers
	case resultsPhase:
		return p.answers
	default:
		return nil
	}
}

func (st *roomState) mergeEntries() []domain.MergeEntry {
	entries := make([]domain.MergeEntry, 0, len(st.players))
	for uid, name := range st.players {
		entries = append(entries, domain.MergeEntry{DisplayName: name, Score: st.scores[uid]})
	}
	return entries
}

// snapshot projects the state onto the flat session document.
func (st *roomState) snapshot() domain.Session {
	s := domain.Session{
		PIN:               st.pin,
		HostID:            st.hostID,
		Quiz:              st.quiz,
		Status:            st.status(),
		Players:           copyMap(st.players),
		Scores:            copyMap(st.scores),
		Streaks:           copyMap(st.streaks),
		ColdStreaks:       copyMap(st.coldStreaks),
		CorrectCounts:     copyMap(st.correctCounts),
		Badges:            copyMap(st.badges),
		Answers:           copyMap(st.answers()),
		BannedUsers:       copyMap(st.banned),
		CurrentQuestion:   st.current,
		AllowLateJoin:     st.allowLateJoin,
		Reactions:         append([]domain.Reaction{}, st.reactions...),
		ReactionCounts:    copyMap(st.reactionCounts),
		LeaderboardID:     st.leaderboardID,
		LeaderboardName:   st.leaderboardName,
		LeaderboardMerged: st.merged,
		CreatedAt:         st.createdAt,
		UpdatedAt:         st.updatedAt,
	}
	switch p := st.phase.(type) {
	case countdownPhase:
		s.CountdownEnd = timePtr(p.endsAt)
	case questionPhase:
		s.CountdownEnd = timePtr(p.fallback)
		s.QuestionStartTime = timePtr(p.startedAt)
		s.QuestionStartFallback = timePtr(p.fallback)
	case resultsPhase:
		s.CountdownEnd = timePtr(p.fallback)
		s.QuestionStartTime = timePtr(p.startedAt)
		s.QuestionStartFallback = timePtr(p.fallback)
	}
	return s
}

// restoreState rebuilds a room from a persisted document.
func restoreState(s domain.Session) (*roomState, error) {
	if s.PIN == "" || len(s.Quiz.Questions) == 0 {
		return nil, fmt.Errorf("incomplete session document")
	}
	if s.CurrentQuestion < 0 || s.CurrentQuestion >= len(s.Quiz.Questions) {
		return nil, fmt.Errorf("question index %d out of range", s.CurrentQuestion)
	}
	st := newRoomState(s.PIN, s.HostID, s.Quiz, s.CreatedAt)
	st.current = s.CurrentQuestion
	st.allowLateJoin = s.AllowLateJoin
	st.leaderboardID = s.LeaderboardID
	st.leaderboardName = s.LeaderboardName
	st.merged = s.LeaderboardMerged
	st.updatedAt = s.UpdatedAt
	fillMap(st.players, s.Players)
	fillMap(st.scores, s.Scores)
	fillMap(st.streaks, s.Streaks)
	fillMap(st.coldStreaks, s.ColdStreaks)
	fillMap(st.correctCounts, s.CorrectCounts)
	fillMap(st.badges, s.Badges)
	fillMap(st.banned, s.BannedUsers)
	fillMap(st.reactionCounts, s.ReactionCounts)
	st.reactions = append([]domain.Reaction(nil), s.Reactions...)

	answers := make(map[string]domain.Answer, len(s.Answers))
	fillMap(answers, s.Answers)

	switch s.Status {
	case domain.StatusLobby:
		st.phase = lobbyPhase{}
	case domain.StatusCountdown:
		if s.CountdownEnd == nil {
			return nil, fmt.Errorf("countdown without countdownEnd")
		}
		st.phase = countdownPhase{endsAt: *s.CountdownEnd}
	case domain.StatusQuestion, domain.StatusResults:
		start, fallback := s.QuestionStartTime, s.QuestionStartFallback
		if fallback == nil {
			fallback = s.CountdownEnd
		}
		if start == nil {
			start = fallback
		}
		if start == nil {
			return nil, fmt.Errorf("%s without question start", s.Status)
		}
		if fallback == nil {
			fallback = start
		}
		if s.Status == domain.StatusQuestion {
			st.phase = questionPhase{startedAt: *start, fallback: *fallback, answers: answers}
		} else {
			st.phase = resultsPhase{startedAt: *start, fallback: *fallback, answers: answers}
		}
	case domain.StatusFinal:
		st.phase = finalPhase{}
	default:
		return nil, fmt.Errorf("unknown status %q", s.Status)
	}
	return st, nil
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func fillMap[K comparable, V any](dst, src map[K]V) {
	for k, v := range src {
		dst[k] = v
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
