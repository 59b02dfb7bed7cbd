package memory

import (
	"sync"

	"livequiz-service/internal/app"
	"livequiz-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRepository: the rooms live on this instance.
type SessionStore struct {
	mu    sync.RWMutex
	rooms map[string]*app.Room
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		rooms: make(map[string]*app.Room),
	}
}

func (s *SessionStore) Add(room *app.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.PIN()]; ok {
		return domain.ErrPINTaken
	}
	s.rooms[room.PIN()] = room
	return nil
}

func (s *SessionStore) Get(pin string) (*app.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[pin]
	return room, ok
}

func (s *SessionStore) Delete(pin string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, pin)
}

// Len is the number of live rooms.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
