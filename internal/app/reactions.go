package app

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"livequiz-service/internal/domain"
)

const maxEmojiRunes = 8

// SendReaction appends an emoji to the room's recent reactions. Each player gets a
// small allowance per question and only the most recent reactions are kept.
func (s *SessionService) SendReaction(ctx context.Context, pin, userID, emoji string) (domain.Reaction, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > maxEmojiRunes {
		return domain.Reaction{}, domain.ErrInvalidReaction
	}
	if err := s.allow(ctx, "reaction:"+pin+":"+userID, s.opts.ReactionLimit); err != nil {
		return domain.Reaction{}, err
	}
	room, err := s.room(ctx, pin)
	if err != nil {
		return domain.Reaction{}, err
	}
	_, reaction, err := apply(ctx, room, func(st *roomState) (domain.Reaction, error) {
		return st.react(userID, emoji, s.clock.Now(), s.opts)
	})
	return reaction, err
}

func (st *roomState) react(userID, emoji string, now time.Time, opts Options) (domain.Reaction, error) {
	switch st.phase.(type) {
	case countdownPhase, questionPhase, resultsPhase:
	default:
		return domain.Reaction{}, domain.ErrInvalidTransition
	}
	name, ok := st.players[userID]
	if !ok {
		return domain.Reaction{}, domain.ErrParticipantNotFound
	}
	if opts.ReactionsPerQuestion > 0 && st.reactionCounts[userID] >= opts.ReactionsPerQuestion {
		return domain.Reaction{}, domain.ErrReactionLimit
	}
	st.reactionCounts[userID]++

	reaction := domain.Reaction{
		ID:         uuid.NewString(),
		Emoji:      emoji,
		PlayerName: name,
		Timestamp:  now,
	}
	reactions := append(append([]domain.Reaction(nil), st.reactions...), reaction)
	if keep := opts.MaxReactions; keep > 0 && len(reactions) > keep {
		reactions = reactions[len(reactions)-keep:]
	}
	st.reactions = reactions
	return reaction, nil
}
