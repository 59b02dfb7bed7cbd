package app

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"livequiz-service/internal/domain"
)

// JoinRequest is a player asking to enter a room.
type JoinRequest struct {
	PIN    string
	UserID string
	Name   string
	// Source identifies where the attempt comes from (usually the remote address)
	// and keys the join rate limit.
	Source string
}

// Join admits a player. After the name is validated the gates run in order:
// rate limit, PIN, phase, ban, duplicate name.
func (s *SessionService) Join(ctx context.Context, req JoinRequest) (domain.Session, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Session{}, domain.ErrInvalidName
	}
	if s.opts.MaxNameLength > 0 && utf8.RuneCountInString(name) > s.opts.MaxNameLength {
		return domain.Session{}, domain.ErrNameTooLong
	}
	if req.UserID == "" {
		return domain.Session{}, domain.ErrUnauthorized
	}

	limitKey := joinLimitKey(req)
	if err := s.allow(ctx, limitKey, s.opts.JoinLimit); err != nil {
		return domain.Session{}, err
	}

	pin := strings.TrimSpace(req.PIN)
	if !ValidPIN(pin) {
		return domain.Session{}, domain.ErrInvalidPIN
	}
	room, err := s.room(ctx, pin)
	if err != nil {
		return domain.Session{}, err
	}
	snap, err := room.update(ctx, func(st *roomState) error {
		return st.join(req.UserID, name)
	})
	if err != nil {
		if domain.IsRejection(err) {
			log.Debug().Err(err).Str("pin", pin).Str("user_id", req.UserID).Msg("join rejected")
		}
		return domain.Session{}, err
	}

	if err := s.limiter.Reset(ctx, limitKey); err != nil {
		log.Warn().Err(err).Str("key", limitKey).Msg("reset join limit")
	}
	log.Debug().Str("pin", pin).Str("user_id", req.UserID).Msg("player joined")
	return snap, nil
}

// Leave removes the player without banning them; they may join again.
func (s *SessionService) Leave(ctx context.Context, pin, userID string) error {
	room, err := s.room(ctx, pin)
	if err != nil {
		return err
	}
	_, err = room.update(ctx, func(st *roomState) error {
		return st.leave(userID)
	})
	return err
}

// Kick removes a player and bans them from the session. Their own subscription
// observes the ban and is expected to drop back to the join screen.
func (s *SessionService) Kick(ctx context.Context, pin, hostID, userID string) error {
	_, err := s.hostUpdate(ctx, pin, hostID, func(st *roomState) error {
		return st.kick(userID)
	})
	if err == nil {
		log.Info().Str("pin", pin).Str("user_id", userID).Msg("player kicked")
	}
	return err
}

// SetLateJoin toggles whether players may join after the lobby.
func (s *SessionService) SetLateJoin(ctx context.Context, pin, hostID string, allowed bool) error {
	_, err := s.hostUpdate(ctx, pin, hostID, func(st *roomState) error {
		if st.allowLateJoin == allowed {
			return errUnchanged
		}
		st.allowLateJoin = allowed
		return nil
	})
	return err
}

func joinLimitKey(req JoinRequest) string {
	if req.Source != "" {
		return "join:" + req.Source
	}
	return "join:" + req.UserID
}

func (st *roomState) join(userID, name string) error {
	// A member coming back under the same name is a reconnect; members are never late.
	current, member := st.players[userID]
	if member && current == name {
		return errUnchanged
	}
	if _, lobby := st.phase.(lobbyPhase); !lobby && !member && !st.allowLateJoin {
		return domain.ErrLateJoinDisabled
	}
	if st.banned[userID] {
		return domain.ErrBanned
	}
	key := domain.NormalizeName(name)
	for uid, existing := range st.players {
		if uid != userID && domain.NormalizeName(existing) == key {
			return domain.ErrNameTaken
		}
	}
	st.players[userID] = name
	if _, ok := st.scores[userID]; !ok {
		st.scores[userID] = 0
	}
	return nil
}

func (st *roomState) leave(userID string) error {
	if _, ok := st.players[userID]; !ok {
		return domain.ErrParticipantNotFound
	}
	st.removeMember(userID)
	return nil
}

func (st *roomState) kick(userID string) error {
	if _, ok := st.players[userID]; !ok && st.banned[userID] {
		return errUnchanged
	}
	st.banned[userID] = true
	st.removeMember(userID)
	return nil
}

func (st *roomState) removeMember(userID string) {
	delete(st.players, userID)
	delete(st.scores, userID)
	delete(st.streaks, userID)
	delete(st.coldStreaks, userID)
	delete(st.correctCounts, userID)
	delete(st.badges, userID)
}
