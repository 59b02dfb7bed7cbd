package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"livequiz-service/internal/domain"
)

// SessionStore persists session documents as JSON so a room can be rebuilt after
// a restart. It implements app.SnapshotStore.
//
//	SET quiz:session:{pin} <json> EX ttl
//
// Every save refreshes the TTL, so abandoned rooms expire on their own.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) Save(ctx context.Context, session domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", session.PIN, err)
	}
	if err := s.client.Set(ctx, sessionKey(session.PIN), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session %s: %w", session.PIN, err)
	}
	return nil
}

// Load returns domain.ErrSessionNotFound for a missing key. A document that no
// longer decodes is deleted and reported as missing too.
func (s *SessionStore) Load(ctx context.Context, pin string) (domain.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(pin)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("load session %s: %w", pin, err)
	}
	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil || session.PIN != pin {
		log.Warn().Err(err).Str("pin", pin).Msg("discarding corrupt session snapshot")
		_ = s.client.Del(ctx, sessionKey(pin)).Err()
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionStore) Delete(ctx context.Context, pin string) error {
	return s.client.Del(ctx, sessionKey(pin)).Err()
}

func sessionKey(pin string) string {
	return "quiz:session:" + pin
}
