package app

import (
	"context"
	"time"

	"livequiz-service/internal/domain"
	"livequiz-service/internal/scoring"
)

// AnyQuestion targets whatever question is open when the answer arrives.
const AnyQuestion = -1

// AnswerRequest is one player's answer to the open question.
type AnswerRequest struct {
	PIN    string
	UserID string
	// Question is the index the player was looking at, or AnyQuestion.
	Question int
	Option   int
}

// AnswerResult is the scored outcome of an accepted answer.
type AnswerResult struct {
	Correct    bool          `json:"correct"`
	Points     int           `json:"points"`
	Score      int           `json:"score"`
	Streak     int           `json:"streak"`
	Multiplier int           `json:"multiplier"`
	Latency    time.Duration `json:"latency"`
	Badges     domain.Badges `json:"badges"`
}

// SubmitAnswer scores an answer. Latency is measured on the server-anchored clock
// from the question start. A second answer to the same question is rejected.
func (s *SessionService) SubmitAnswer(ctx context.Context, req AnswerRequest) (AnswerResult, error) {
	if err := s.allow(ctx, "answer:"+req.PIN+":"+req.UserID, s.opts.AnswerLimit); err != nil {
		return AnswerResult{}, err
	}
	room, err := s.room(ctx, req.PIN)
	if err != nil {
		return AnswerResult{}, err
	}
	_, result, err := apply(ctx, room, func(st *roomState) (AnswerResult, error) {
		return st.submitAnswer(req, s.clock.Now())
	})
	return result, err
}

func (st *roomState) submitAnswer(req AnswerRequest, now time.Time) (AnswerResult, error) {
	p, ok := st.phase.(questionPhase)
	if !ok || (req.Question != AnyQuestion && req.Question != st.current) {
		return AnswerResult{}, domain.ErrQuestionClosed
	}
	if _, member := st.players[req.UserID]; !member {
		return AnswerResult{}, domain.ErrParticipantNotFound
	}
	if _, answered := p.answers[req.UserID]; answered {
		return AnswerResult{}, domain.ErrAlreadyAnswered
	}
	question := st.quiz.Questions[st.current]
	if req.Option < 0 || req.Option >= len(question.Options) {
		return AnswerResult{}, domain.ErrOptionNotFound
	}

	latency := now.Sub(p.startedAt)
	if latency < 0 {
		latency = 0
	}
	out := scoring.Evaluate(scoring.Input{
		Question:       question,
		QuestionIndex:  st.current,
		TotalQuestions: len(st.quiz.Questions),
		OptionIndex:    req.Option,
		Latency:        latency,
		FirstAnswer:    st.current == 0 && len(p.answers) == 0,
		Streak:         st.streaks[req.UserID],
		Score:          st.scores[req.UserID],
		CorrectCount:   st.correctCounts[req.UserID],
		Badges:         st.badges[req.UserID],
	})

	p.answers[req.UserID] = domain.Answer{
		OptionIndex: req.Option,
		Correct:     out.Correct,
		Points:      out.Points,
		LatencyMs:   latency.Milliseconds(),
		AnsweredAt:  now,
	}
	st.scores[req.UserID] = out.Score
	st.streaks[req.UserID] = out.Streak
	st.correctCounts[req.UserID] = out.CorrectCount
	st.badges[req.UserID] = out.Badges
	st.coldStreaks[req.UserID] = 0

	return AnswerResult{
		Correct:    out.Correct,
		Points:     out.Points,
		Score:      out.Score,
		Streak:     out.Streak,
		Multiplier: out.Multiplier,
		Latency:    latency,
		Badges:     out.Badges,
	}, nil
}
