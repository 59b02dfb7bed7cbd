package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestLeaderboardApplyAccumulatesByName(t *testing.T) {
	earlier := time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)
	now := earlier.Add(48 * time.Hour)
	lb := Leaderboard{
		ID: "lb-1",
		Players: map[string]LeaderboardPlayer{
			"alice": {DisplayName: "alice", TotalScore: 500, QuizzesTaken: 2, LastPlayed: earlier},
		},
	}

	lb.Apply([]MergeEntry{{DisplayName: "  Alice ", Score: 300}, {DisplayName: "Bob", Score: 100}}, now)

	alice := lb.Players["alice"]
	if alice.TotalScore != 800 || alice.QuizzesTaken != 3 {
		t.Fatalf("expected alice 800/3, got %+v", alice)
	}
	if !alice.LastPlayed.Equal(now) {
		t.Fatalf("expected lastPlayed updated, got %v", alice.LastPlayed)
	}
	if alice.DisplayName != "  Alice " {
		t.Fatalf("expected latest casing kept, got %q", alice.DisplayName)
	}
	bob := lb.Players["bob"]
	if bob.TotalScore != 100 || bob.QuizzesTaken != 1 {
		t.Fatalf("expected fresh bob row, got %+v", bob)
	}

	ranked := lb.Ranked()
	if len(ranked) != 2 || ranked[0].TotalScore != 800 {
		t.Fatalf("unexpected ranking %+v", ranked)
	}
}

func TestPublicMessageHidesInfrastructureErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"sentinel", ErrSessionNotFound, "PIN not found!"},
		{"wrapped sentinel", fmt.Errorf("join: %w", ErrNameTaken), ErrNameTaken.Error()},
		{"rate limit", &RateLimitError{ResetIn: 42}, "Too many attempts. Try again in 42 seconds."},
		{"infrastructure", errors.New("dial tcp 10.0.0.1:6379: connection refused"), FallbackMessage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := PublicMessage(tc.err); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
	if IsRejection(errors.New("boom")) {
		t.Fatalf("unexpected rejection classification")
	}
	if !IsRejection(fmt.Errorf("wrapped: %w", &RateLimitError{ResetIn: 1})) {
		t.Fatalf("expected wrapped rate limit to be a rejection")
	}
}

func TestForPlayerHidesOpenQuestion(t *testing.T) {
	session := Session{
		Status:          StatusQuestion,
		CurrentQuestion: 1,
		Quiz: Quiz{Questions: []Question{
			{Text: "q1", Options: []string{"a", "b"}, CorrectIndex: 1},
			{Text: "q2", Options: []string{"a", "b"}, CorrectIndex: 0},
			{Text: "q3", Options: []string{"a", "b"}, CorrectIndex: 1},
		}},
		Answers: map[string]Answer{"u1": {OptionIndex: 0, Correct: true, Points: 100}},
	}

	view := session.ForPlayer()
	if view.Quiz.Questions[0].CorrectIndex != 1 {
		t.Fatalf("expected revealed question to keep its answer")
	}
	if view.Quiz.Questions[1].CorrectIndex != -1 || view.Quiz.Questions[2].CorrectIndex != -1 {
		t.Fatalf("expected open and future questions hidden, got %+v", view.Quiz.Questions)
	}
	if view.Answers["u1"].Correct || view.Answers["u1"].Points != 0 {
		t.Fatalf("expected answer outcome hidden, got %+v", view.Answers["u1"])
	}
	if session.Quiz.Questions[1].CorrectIndex != 0 {
		t.Fatalf("expected original session untouched")
	}

	session.Status = StatusResults
	if session.ForPlayer().Quiz.Questions[1].CorrectIndex != 0 {
		t.Fatalf("expected current question revealed in results")
	}
}
