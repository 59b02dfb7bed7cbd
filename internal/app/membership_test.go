package app_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"livequiz-service/internal/app"
	"livequiz-service/internal/domain"
)

func TestJoinUnknownOrMalformedPIN(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, manualOptions())

	_, err := h.service.Join(ctx, app.JoinRequest{PIN: "9999", UserID: "u1", Name: "Alice"})
	if !errors.Is(err, domain.ErrSessionNotFound) || domain.PublicMessage(err) != "PIN not found!" {
		t.Fatalf("expected PIN not found!, got %v", err)
	}
	if _, err := h.service.Join(ctx, app.JoinRequest{PIN: "12a4", UserID: "u1", Name: "Alice"}); !errors.Is(err, domain.ErrInvalidPIN) {
		t.Fatalf("expected ErrInvalidPIN, got %v", err)
	}
	if _, err := h.service.Join(ctx, app.JoinRequest{PIN: "1234", UserID: "u1", Name: "   "}); !errors.Is(err, domain.ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	long := strings.Repeat("x", h.opts.MaxNameLength+1)
	if _, err := h.service.Join(ctx, app.JoinRequest{PIN: "1234", UserID: "u1", Name: long}); !errors.Is(err, domain.ErrNameTooLong) {
		t.Fatalf("expected ErrNameTooLong, got %v", err)
	}
}

func TestJoinRateLimit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, manualOptions())
	pin := h.launch(t, "")

	for i := 0; i < 3; i++ {
		_, err := h.service.Join(ctx, app.JoinRequest{PIN: "9999", UserID: "u1", Name: "Alice", Source: "10.0.0.7"})
		if !errors.Is(err, domain.ErrSessionNotFound) {
			t.Fatalf("attempt %d: expected PIN not found, got %v", i+1, err)
		}
	}
	h.clock.Advance(15 * time.Second)

	// The fourth attempt is blocked even with the right PIN.
	_, err := h.service.Join(ctx, app.JoinRequest{PIN: pin, UserID: "u1", Name: "Alice", Source: "10.0.0.7"})
	var limited *domain.RateLimitError
	if !errors.As(err, &limited) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if limited.ResetIn <= 0 || limited.ResetIn > 60 {
		t.Fatalf("unexpected resetIn %d", limited.ResetIn)
	}
	if limited.ResetIn != 45 {
		t.Fatalf("expected 45 seconds left in the window, got %d", limited.ResetIn)
	}
	if !strings.Contains(domain.PublicMessage(err), "45 seconds") {
		t.Fatalf("unexpected message %q", domain.PublicMessage(err))
	}

	// Once the window passes, each success clears the counter again.
	h.clock.Advance(time.Minute)
	h.join(t, pin, "u1", "Alice")
	for i := 0; i < 3; i++ {
		if _, err := h.service.Join(ctx, app.JoinRequest{PIN: pin, UserID: fmt.Sprintf("u%d", i+2), Name: fmt.Sprintf("P%d", i), Source: "10.0.0.7"}); err != nil {
			t.Fatalf("join after window: %v", err)
		}
	}
}

func TestNamesAreUniqueAndRejoinIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, manualOptions())
	pin := h.launch(t, "")
	h.join(t, pin, "u1", "Alice")

	if _, err := h.service.Join(ctx, app.JoinRequest{PIN: pin, UserID: "u2", Name: "  ALICE "}); !errors.Is(err, domain.ErrNameTaken) {
		t.Fatalf("expected ErrNameTaken, got %v", err)
	}

	ch, cancel, err := h.service.Subscribe(ctx, pin)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	<-ch

	h.join(t, pin, "u1", "Alice")
	select {
	case snap := <-ch:
		t.Fatalf("rejoin with the same name should not change the session, got %+v", snap.Players)
	case <-time.After(50 * time.Millisecond):
	}
	snap := h.get(t, pin)
	if len(snap.Players) != 1 || snap.Scores["u1"] != 0 {
		t.Fatalf("unexpected players after rejoin %+v", snap.Players)
	}

	h.join(t, pin, "u1", "Alicia")
	if got := h.get(t, pin).Players["u1"]; got != "Alicia" {
		t.Fatalf("expected rename, got %q", got)
	}
}

func TestKickBansAndLeaveDoesNot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, manualOptions())
	pin := h.launch(t, "")
	h.join(t, pin, "u1", "Alice")
	h.join(t, pin, "u2", "Bob")

	if err := h.service.Kick(ctx, pin, "u1", "u2"); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("players cannot kick, got %v", err)
	}
	if err := h.service.Kick(ctx, pin, "host", "u2"); err != nil {
		t.Fatalf("kick: %v", err)
	}
	snap := h.get(t, pin)
	if snap.IsMember("u2") || !snap.BannedUsers["u2"] {
		t.Fatalf("expected Bob removed and banned, got players=%v banned=%v", snap.Players, snap.BannedUsers)
	}
	if _, ok := snap.Scores["u2"]; ok {
		t.Fatalf("kicked player's score should be cleared")
	}
	if _, err := h.service.Join(ctx, app.JoinRequest{PIN: pin, UserID: "u2", Name: "Bobby"}); !errors.Is(err, domain.ErrBanned) {
		t.Fatalf("expected ErrBanned, got %v", err)
	}
	// The freed name is available to someone else.
	h.join(t, pin, "u3", "Bob")

	if err := h.service.Leave(ctx, pin, "u1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := h.service.Leave(ctx, pin, "u1"); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("second leave: %v", err)
	}
	h.join(t, pin, "u1", "Alice")
}

func TestLateJoin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, manualOptions())
	pin := h.launch(t, "")
	h.join(t, pin, "u1", "Alice")
	if err := h.service.StartGame(ctx, pin, "host"); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := h.service.Join(ctx, app.JoinRequest{PIN: pin, UserID: "u2", Name: "Bob"}); !errors.Is(err, domain.ErrLateJoinDisabled) {
		t.Fatalf("expected ErrLateJoinDisabled, got %v", err)
	}
	if err := h.service.SetLateJoin(ctx, pin, "host", true); err != nil {
		t.Fatalf("allow late join: %v", err)
	}
	h.join(t, pin, "u2", "Bob")
	if score := h.get(t, pin).Scores["u2"]; score != 0 {
		t.Fatalf("late joiner starts at 0, got %d", score)
	}
}

func TestAnswerGuards(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, manualOptions())
	pin := h.launch(t, "")
	h.join(t, pin, "u1", "Alice")

	submit := func(uid string, question, option int) error {
		_, err := h.service.SubmitAnswer(ctx, app.AnswerRequest{PIN: pin, UserID: uid, Question: question, Option: option})
		return err
	}
	if err := submit("u1", 0, 1); !errors.Is(err, domain.ErrQuestionClosed) {
		t.Fatalf("answer in lobby: %v", err)
	}
	if err := h.service.StartGame(ctx, pin, "host"); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.openQuestion(t, pin)

	if err := submit("u1", 1, 1); !errors.Is(err, domain.ErrQuestionClosed) {
		t.Fatalf("answer for another question: %v", err)
	}
	if err := submit("stranger", 0, 1); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("answer from non-member: %v", err)
	}
	if err := submit("u1", 0, 7); !errors.Is(err, domain.ErrOptionNotFound) {
		t.Fatalf("out of range option: %v", err)
	}
	if err := submit("u1", 0, 1); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := submit("u1", 0, 2); !errors.Is(err, domain.ErrAlreadyAnswered) {
		t.Fatalf("second answer: %v", err)
	}

	// Players do not learn correctness before the reveal.
	if answer := h.get(t, pin).ForPlayer().Answers["u1"]; answer.OptionIndex != -1 || answer.Correct {
		t.Fatalf("open answer leaked %+v", answer)
	}
	if err := h.service.ShowResults(ctx, pin, "host"); err != nil {
		t.Fatalf("results: %v", err)
	}
	if err := submit("u1", 0, 1); !errors.Is(err, domain.ErrQuestionClosed) {
		t.Fatalf("answer after reveal: %v", err)
	}
	if answer := h.get(t, pin).ForPlayer().Answers["u1"]; !answer.Correct || answer.OptionIndex != 1 {
		t.Fatalf("revealed answer should be visible, got %+v", answer)
	}
}

func TestReactionsAreBounded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, manualOptions())
	pin := h.launch(t, "")
	players := []string{"u1", "u2", "u3", "u4"}
	for i, uid := range players {
		h.join(t, pin, uid, fmt.Sprintf("Player %d", i))
	}

	if _, err := h.service.SendReaction(ctx, pin, "u1", "👍"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("reaction in lobby: %v", err)
	}
	if err := h.service.StartGame(ctx, pin, "host"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.service.SendReaction(ctx, pin, "u1", "not an emoji at all"); !errors.Is(err, domain.ErrInvalidReaction) {
		t.Fatalf("oversized reaction: %v", err)
	}

	for _, uid := range players {
		for i := 0; i < h.opts.ReactionsPerQuestion; i++ {
			if _, err := h.service.SendReaction(ctx, pin, uid, "🔥"); err != nil {
				t.Fatalf("reaction %d by %s: %v", i, uid, err)
			}
		}
	}
	if _, err := h.service.SendReaction(ctx, pin, "u1", "🔥"); !errors.Is(err, domain.ErrReactionLimit) {
		t.Fatalf("expected per-question limit, got %v", err)
	}
	if _, err := h.service.SendReaction(ctx, pin, "stranger", "🔥"); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("reaction from non-member: %v", err)
	}

	snap := h.get(t, pin)
	if len(snap.Reactions) != h.opts.MaxReactions {
		t.Fatalf("expected the last %d reactions, got %d", h.opts.MaxReactions, len(snap.Reactions))
	}
	if last := snap.Reactions[len(snap.Reactions)-1]; last.PlayerName != "Player 3" {
		t.Fatalf("expected newest reaction last, got %+v", last)
	}

	// Counts reset with the next countdown.
	h.openQuestion(t, pin)
	h.next(t, pin)
	if snap := h.get(t, pin); len(snap.Reactions) != 0 || len(snap.ReactionCounts) != 0 {
		t.Fatalf("expected reactions cleared for the next question, got %d", len(snap.Reactions))
	}
	if _, err := h.service.SendReaction(ctx, pin, "u1", "🎉"); err != nil {
		t.Fatalf("reaction on next question: %v", err)
	}
}

func TestFirstBloodSurvivesDeparture(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, manualOptions())
	pin := h.launch(t, "")
	h.join(t, pin, "u1", "Alice")
	h.join(t, pin, "u2", "Bob")
	if err := h.service.StartGame(ctx, pin, "host"); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.openQuestion(t, pin)

	if first := h.answer(t, pin, "u1", 1); !first.Badges.FirstBlood {
		t.Fatalf("first answerer should get firstBlood, got %+v", first.Badges)
	}
	if err := h.service.Leave(ctx, pin, "u1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if second := h.answer(t, pin, "u2", 1); second.Badges.FirstBlood {
		t.Fatalf("firstBlood was already taken, got %+v", second.Badges)
	}

	// Coming back does not buy a second answer to the same question.
	if err := h.service.SetLateJoin(ctx, pin, "host", true); err != nil {
		t.Fatalf("allow late join: %v", err)
	}
	h.join(t, pin, "u1", "Alice")
	_, err := h.service.SubmitAnswer(ctx, app.AnswerRequest{PIN: pin, UserID: "u1", Question: 0, Option: 1})
	if !errors.Is(err, domain.ErrAlreadyAnswered) {
		t.Fatalf("expected ErrAlreadyAnswered after rejoin, got %v", err)
	}
}

func TestRejoinMidGameKeepsScore(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, manualOptions())
	pin := h.launch(t, "")
	h.join(t, pin, "u1", "Alice")
	if err := h.service.StartGame(ctx, pin, "host"); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.openQuestion(t, pin)
	res := h.answer(t, pin, "u1", 1)
	if res.Score == 0 {
		t.Fatalf("expected points for a correct answer, got %+v", res)
	}

	snap, err := h.service.Join(ctx, app.JoinRequest{PIN: pin, UserID: "u1", Name: "Alice"})
	if err != nil {
		t.Fatalf("rejoin with late join disabled: %v", err)
	}
	if snap.Scores["u1"] != res.Score {
		t.Fatalf("rejoin changed the score: %d != %d", snap.Scores["u1"], res.Score)
	}
	h.join(t, pin, "u1", "Alicia")
	if got := h.get(t, pin).Players["u1"]; got != "Alicia" {
		t.Fatalf("expected a member to rename mid-game, got %q", got)
	}

	if _, err := h.service.Join(ctx, app.JoinRequest{PIN: pin, UserID: "u2", Name: "Alice"}); !errors.Is(err, domain.ErrLateJoinDisabled) {
		t.Fatalf("newcomers still face the late join gate, got %v", err)
	}
}

func TestReactionAllowanceSurvivesRejoin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, manualOptions())
	pin := h.launch(t, "")
	h.join(t, pin, "u1", "Alice")
	if err := h.service.SetLateJoin(ctx, pin, "host", true); err != nil {
		t.Fatalf("allow late join: %v", err)
	}
	if err := h.service.StartGame(ctx, pin, "host"); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < h.opts.ReactionsPerQuestion; i++ {
		if _, err := h.service.SendReaction(ctx, pin, "u1", "👏"); err != nil {
			t.Fatalf("reaction %d: %v", i, err)
		}
	}

	if err := h.service.Leave(ctx, pin, "u1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	h.join(t, pin, "u1", "Alice")
	if _, err := h.service.SendReaction(ctx, pin, "u1", "👏"); !errors.Is(err, domain.ErrReactionLimit) {
		t.Fatalf("leaving should not reset the allowance, got %v", err)
	}
}
