// Package client is a websocket player used by the play command and by load tests.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"livequiz-service/internal/clocksync"
	"livequiz-service/internal/domain"
	transport "livequiz-service/internal/transport/http"
)

// seenLimit bounds how many reaction ids a player remembers.
const seenLimit = 64

// Strategy picks an option for a question. The index of the question is passed along.
type Strategy func(q domain.Question, index int) int

// RandomStrategy answers uniformly at random.
func RandomStrategy(q domain.Question, _ int) int {
	if len(q.Options) == 0 {
		return 0
	}
	return rand.Intn(len(q.Options))
}

// Config describes one bot.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	URL      string
	PIN      string
	Name     string
	UserID   string
	Strategy Strategy
	// React sends one emoji after every answer when non-empty.
	React string
}

// Summary is what a bot saw by the time the session ended.
type Summary struct {
	UserID    string
	Score     int
	Answered  int
	Correct   int
	Reactions int
	Kicked    bool
	Offset    float64
}

// Player plays one seat until the session ends or ctx is done.
type Player struct {
	cfg   Config
	clock *clocksync.Clock

	mu       sync.Mutex
	conn     *websocket.Conn
	nextID   int
	answered map[int]bool
	seen     map[string]struct{}
	seenLog  []string
	summary  Summary
}

func NewPlayer(cfg Config) *Player {
	if cfg.Strategy == nil {
		cfg.Strategy = RandomStrategy
	}
	return &Player{
		cfg:      cfg,
		clock:    clocksync.New(clockwork.NewRealClock()),
		answered: make(map[int]bool),
		seen:     make(map[string]struct{}),
	}
}

// Run connects, joins and answers each question once.
func (p *Player) Run(ctx context.Context) (Summary, error) {
	u, err := url.Parse(p.cfg.URL)
	if err != nil {
		return Summary{}, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	if p.cfg.UserID != "" {
		q.Set("userId", p.cfg.UserID)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return Summary{}, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	p.conn = conn
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	joined := false
	for {
		var env transport.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return p.result(), ctx.Err()
			}
			return p.result(), fmt.Errorf("read: %w", err)
		}
		p.clock.Sync(env.ServerTime)

		switch env.Type {
		case transport.TypeWelcome:
			var id struct {
				UserID string `json:"userId"`
			}
			_ = json.Unmarshal(env.Payload, &id)
			p.mu.Lock()
			p.summary.UserID = id.UserID
			p.mu.Unlock()
			if !joined {
				joined = true
				if err := p.send("join", map[string]string{"pin": p.cfg.PIN, "name": p.cfg.Name}); err != nil {
					return p.result(), err
				}
			}
		case transport.TypeResult:
			var res transport.Result
			if err := json.Unmarshal(env.Payload, &res); err != nil {
				continue
			}
			if !res.Success {
				log.Debug().Str("name", p.cfg.Name).Str("request_id", env.RequestID).Str("error", res.Error).Msg("command rejected")
				if env.RequestID == "1" {
					return p.result(), fmt.Errorf("join: %s", res.Error)
				}
			}
		case transport.TypeSession:
			var snap domain.Session
			if err := json.Unmarshal(env.Payload, &snap); err != nil {
				continue
			}
			if err := p.onSession(snap); err != nil {
				return p.result(), err
			}
		case transport.TypeKicked:
			p.mu.Lock()
			p.summary.Kicked = true
			p.mu.Unlock()
			return p.result(), nil
		case transport.TypeEnded:
			return p.result(), nil
		}
	}
}

func (p *Player) onSession(snap domain.Session) error {
	p.mu.Lock()
	uid := p.summary.UserID
	p.summary.Score = snap.Scores[uid]
	p.summary.Correct = snap.CorrectCounts[uid]
	for _, r := range snap.Reactions {
		p.rememberLocked(r.ID)
	}
	shouldAnswer := snap.Status == domain.StatusQuestion && !p.answered[snap.CurrentQuestion] && snap.IsMember(uid)
	if shouldAnswer {
		p.answered[snap.CurrentQuestion] = true
		p.summary.Answered++
	}
	p.mu.Unlock()

	if !shouldAnswer {
		return nil
	}
	index := snap.CurrentQuestion
	option := p.cfg.Strategy(snap.Quiz.Questions[index], index)
	if err := p.send("answer", map[string]int{"question": index, "option": option}); err != nil {
		return err
	}
	if p.cfg.React != "" {
		return p.send("reaction", map[string]string{"emoji": p.cfg.React})
	}
	return nil
}

// rememberLocked records a reaction id, forgetting the oldest past seenLimit.
func (p *Player) rememberLocked(id string) {
	if _, ok := p.seen[id]; ok {
		return
	}
	p.seen[id] = struct{}{}
	p.seenLog = append(p.seenLog, id)
	p.summary.Reactions++
	if len(p.seenLog) > seenLimit {
		delete(p.seen, p.seenLog[0])
		p.seenLog = p.seenLog[1:]
	}
}

func (p *Player) send(typ string, payload any) error {
	p.mu.Lock()
	p.nextID++
	id := strconv.Itoa(p.nextID)
	p.mu.Unlock()

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := p.conn.WriteJSON(transport.Inbound{Type: typ, RequestID: id, Payload: raw}); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}

func (p *Player) result() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.summary
	out.Offset = p.clock.Offset().Seconds()
	return out
}
