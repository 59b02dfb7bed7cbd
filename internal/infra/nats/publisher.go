// Package nats fans session events out over NATS so observers on other
// instances can follow a room.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"livequiz-service/internal/domain"
)

// DefaultSubjectPrefix is the subject root; events go to <prefix>.<pin>.
const DefaultSubjectPrefix = "quiz.sessions"

// Config holds connection settings.
type Config struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConfig(url string) Config {
	return Config{
		URL:           url,
		Name:          "livequiz-service",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Connect dials NATS with reconnect handling and logging.
func Connect(cfg Config) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Publisher implements app.EventPublisher.
type Publisher struct {
	conn   *nats.Conn
	prefix string
}

func NewPublisher(conn *nats.Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{conn: conn, prefix: prefix}
}

func (p *Publisher) Publish(_ context.Context, event domain.SessionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}
	if err := p.conn.Publish(Subject(p.prefix, event.PIN), data); err != nil {
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	return nil
}

// Subject is the subject events for pin are published on. An empty pin matches every room.
func Subject(prefix, pin string) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if pin == "" {
		return prefix + ".*"
	}
	return prefix + "." + pin
}
