package domain

import (
	"strings"
	"time"
)

// Status is the phase a session is in.
type Status string

const (
	StatusLobby     Status = "lobby"
	StatusCountdown Status = "countdown"
	StatusQuestion  Status = "question"
	StatusResults   Status = "results"
	StatusFinal     Status = "final"
)

// Question models a multiple-choice question with exactly one correct option.
type Question struct {
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
}

// Quiz is the content a session is launched from.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Clone returns a deep copy so a running session is isolated from later edits.
func (q Quiz) Clone() Quiz {
	out := Quiz{ID: q.ID, Title: q.Title, Questions: make([]Question, len(q.Questions))}
	for i, question := range q.Questions {
		question.Options = append([]string(nil), question.Options...)
		out.Questions[i] = question
	}
	return out
}

// Answer is a player's submission for the current question.
type Answer struct {
	OptionIndex int       `json:"optionIndex"`
	Correct     bool      `json:"correct"`
	Points      int       `json:"points"`
	LatencyMs   int64     `json:"latencyMs"`
	AnsweredAt  time.Time `json:"answeredAt"`
}

// Badges are earned once per session and never revoked.
type Badges struct {
	FirstBlood  bool `json:"firstBlood"`
	SpeedDemon  bool `json:"speedDemon"`
	OnFire      bool `json:"onFire"`
	PerfectGame bool `json:"perfectGame"`
	// Comeback is part of the catalog but nothing awards it yet.
	Comeback bool `json:"comeback"`
}

// Merge keeps every badge already earned and adds the new ones.
func (b Badges) Merge(other Badges) Badges {
	return Badges{
		FirstBlood:  b.FirstBlood || other.FirstBlood,
		SpeedDemon:  b.SpeedDemon || other.SpeedDemon,
		OnFire:      b.OnFire || other.OnFire,
		PerfectGame: b.PerfectGame || other.PerfectGame,
		Comeback:    b.Comeback || other.Comeback,
	}
}

// Reaction is an ephemeral emoji sent by a player.
type Reaction struct {
	ID         string    `json:"id"`
	Emoji      string    `json:"emoji"`
	PlayerName string    `json:"playerName"`
	Timestamp  time.Time `json:"timestamp"`
}

// Standing is one row of a session's ranked scoreboard.
type Standing struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
}

// RateLimit is the verdict of a rate limiter check.
type RateLimit struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
	ResetIn   int  `json:"resetIn"`
}

// NormalizeName is the comparison form of a display name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
