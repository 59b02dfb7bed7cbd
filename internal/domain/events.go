package domain

import "time"

// EventType names a session lifecycle event.
type EventType string

const (
	EventSessionUpdated EventType = "session.updated"
	EventSessionEnded   EventType = "session.ended"
)

// SessionEvent is published whenever a room changes so other instances can follow it.
type SessionEvent struct {
	Type     EventType `json:"type"`
	PIN      string    `json:"pin"`
	Session  *Session  `json:"session,omitempty"`
	Instance string    `json:"instance"`
	At       time.Time `json:"at"`
}
