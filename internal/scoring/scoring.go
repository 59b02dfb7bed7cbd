// Package scoring derives points, streaks, and badges from a single answer.
package scoring

import (
	"sort"
	"time"

	"livequiz-service/internal/domain"
)

const (
	BasePoints          = 100
	SpeedDemonThreshold = 3 * time.Second
	OnFireStreak        = 4
)

// Multiplier is the point multiplier earned by a streak, capped at 4.
func Multiplier(streak int) int {
	switch {
	case streak >= 4:
		return 4
	case streak >= 3:
		return 3
	case streak >= 2:
		return 2
	default:
		return 1
	}
}

// Input is the player's running state plus the answer being scored.
type Input struct {
	Question       domain.Question
	QuestionIndex  int
	TotalQuestions int
	OptionIndex    int
	Latency        time.Duration
	// FirstAnswer is true when nobody has answered anything in the session yet.
	FirstAnswer bool

	Streak       int
	Score        int
	CorrectCount int
	Badges       domain.Badges
}

// Outcome is the player's state after the answer.
type Outcome struct {
	Correct      bool
	Streak       int
	Multiplier   int
	Points       int
	Score        int
	CorrectCount int
	Badges       domain.Badges
}

// Evaluate scores one answer.
func Evaluate(in Input) Outcome {
	correct := in.OptionIndex == in.Question.CorrectIndex

	out := Outcome{
		Correct:      correct,
		Score:        in.Score,
		CorrectCount: in.CorrectCount,
	}
	if correct {
		out.Streak = in.Streak + 1
		out.CorrectCount++
	}
	out.Multiplier = Multiplier(out.Streak)
	if correct {
		out.Points = BasePoints * out.Multiplier
	}
	out.Score += out.Points

	earned := domain.Badges{
		FirstBlood:  correct && in.QuestionIndex == 0 && in.FirstAnswer,
		SpeedDemon:  correct && in.Latency < SpeedDemonThreshold,
		OnFire:      out.Streak >= OnFireStreak,
		PerfectGame: correct && in.QuestionIndex == in.TotalQuestions-1 && out.CorrectCount == in.TotalQuestions,
	}
	out.Badges = in.Badges.Merge(earned)
	return out
}

// Rank orders players by score descending, then display name, then user id so every
// observer renders the same order from the same data.
func Rank(players map[string]string, scores map[string]int) []domain.Standing {
	standings := make([]domain.Standing, 0, len(players))
	for uid, name := range players {
		standings = append(standings, domain.Standing{
			UserID:      uid,
			DisplayName: name,
			Score:       scores[uid],
		})
	}
	sort.Slice(standings, func(i, j int) bool {
		a, b := standings[i], standings[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.DisplayName != b.DisplayName {
			return a.DisplayName < b.DisplayName
		}
		return a.UserID < b.UserID
	})
	for i := range standings {
		standings[i].Rank = i + 1
	}
	return standings
}
