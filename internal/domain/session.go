package domain

import "time"

// Session is the flat document view of one live room, keyed by its PIN.
// It is what subscribers observe and what gets persisted.
type Session struct {
	PIN                   string            `json:"pin"`
	HostID                string            `json:"hostId"`
	Quiz                  Quiz              `json:"quiz"`
	Status                Status            `json:"status"`
	Players               map[string]string `json:"players"`
	Scores                map[string]int    `json:"scores"`
	Streaks               map[string]int    `json:"streaks"`
	ColdStreaks           map[string]int    `json:"coldStreaks"`
	CorrectCounts         map[string]int    `json:"correctCounts"`
	Badges                map[string]Badges `json:"badges"`
	Answers               map[string]Answer `json:"answers"`
	BannedUsers           map[string]bool   `json:"bannedUsers"`
	CurrentQuestion       int               `json:"currentQuestion"`
	CountdownEnd          *time.Time        `json:"countdownEnd,omitempty"`
	QuestionStartTime     *time.Time        `json:"questionStartTime,omitempty"`
	QuestionStartFallback *time.Time        `json:"questionStartFallback,omitempty"`
	AllowLateJoin         bool              `json:"allowLateJoin"`
	Reactions             []Reaction        `json:"reactions"`
	ReactionCounts        map[string]int    `json:"reactionCounts"`
	LeaderboardID         string            `json:"leaderboardId,omitempty"`
	LeaderboardName       string            `json:"leaderboardName,omitempty"`
	LeaderboardMerged     bool              `json:"leaderboardMerged"`
	CreatedAt             time.Time         `json:"createdAt"`
	UpdatedAt             time.Time         `json:"updatedAt"`
}

// IsMember reports whether userID currently holds a seat in the room.
func (s Session) IsMember(userID string) bool {
	_, ok := s.Players[userID]
	return ok
}

// ForPlayer returns a copy safe to show to players: correct options stay hidden
// until their question has been revealed, and open answers do not leak correctness.
func (s Session) ForPlayer() Session {
	out := s
	out.Quiz = s.Quiz.Clone()
	revealedUpTo := s.CurrentQuestion - 1
	switch s.Status {
	case StatusResults:
		revealedUpTo = s.CurrentQuestion
	case StatusFinal:
		revealedUpTo = len(s.Quiz.Questions) - 1
	}
	for i := range out.Quiz.Questions {
		if i > revealedUpTo {
			out.Quiz.Questions[i].CorrectIndex = -1
		}
	}
	if s.Status == StatusQuestion || s.Status == StatusCountdown {
		answers := make(map[string]Answer, len(s.Answers))
		for uid, answer := range s.Answers {
			answers[uid] = Answer{OptionIndex: -1, AnsweredAt: answer.AnsweredAt}
		}
		out.Answers = answers
	}
	return out
}
