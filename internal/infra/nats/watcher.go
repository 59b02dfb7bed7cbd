package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"livequiz-service/internal/domain"
)

// Watch delivers events for pin (or every room when pin is empty) to fn until ctx is done.
// Messages that do not decode are logged and skipped.
func Watch(ctx context.Context, conn *nats.Conn, prefix, pin string, fn func(domain.SessionEvent)) error {
	sub, err := conn.Subscribe(Subject(prefix, pin), func(msg *nats.Msg) {
		event, err := DecodeEvent(msg.Data)
		if err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("skipping malformed session event")
			return
		}
		fn(event)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", Subject(prefix, pin), err)
	}
	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return nil
}

// DecodeEvent parses a published session event.
func DecodeEvent(data []byte) (domain.SessionEvent, error) {
	var event domain.SessionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return domain.SessionEvent{}, fmt.Errorf("decode session event: %w", err)
	}
	if event.PIN == "" || event.Type == "" {
		return domain.SessionEvent{}, fmt.Errorf("decode session event: missing pin or type")
	}
	return event, nil
}
