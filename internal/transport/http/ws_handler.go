package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"livequiz-service/internal/app"
	"livequiz-service/internal/auth"
	"livequiz-service/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Outbound message types.
const (
	TypeWelcome = "welcome"
	TypeSession = "session"
	TypeResult  = "result"
	TypeKicked  = "kicked"
	TypeEnded   = "ended"
	TypePong    = "pong"
	TypeError   = "error"
)

type WSHandler struct {
	service  *app.SessionService
	issuer   *auth.Issuer
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.SessionService, issuer *auth.Issuer, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		service: service,
		issuer:  issuer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// Inbound is a client command. RequestID is echoed on the matching result.
type Inbound struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Envelope wraps every server message. ServerTime lets clients keep their clock offset current.
type Envelope struct {
	Type       string          `json:"type"`
	RequestID  string          `json:"requestId,omitempty"`
	ServerTime time.Time       `json:"serverTime"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Result answers one command.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	ResetIn int    `json:"resetIn,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type joinPayload struct {
	PIN  string `json:"pin"`
	Name string `json:"name"`
}

type kickPayload struct {
	UserID string `json:"userId"`
}

type lateJoinPayload struct {
	Allowed bool `json:"allowed"`
}

type answerPayload struct {
	Question *int `json:"question"`
	Option   int  `json:"option"`
}

type reactionPayload struct {
	Emoji string `json:"emoji"`
}

// wsClient is one socket. bound is only touched by the read loop.
type wsClient struct {
	h      *WSHandler
	conn   *websocket.Conn
	id     auth.Identity
	source string

	send       chan Envelope
	writerDone chan struct{}

	bound *binding
}

// binding is a socket's subscription to one session.
type binding struct {
	pin    string
	cancel func()
	// stop asks the forwarder to return quietly.
	stop chan struct{}
	// finished is closed by the forwarder before it reports a kick or the end of the session.
	finished chan struct{}
	done     chan struct{}
}

// ServeWS upgrades HTTP requests to websockets and wires them into the session use cases.
// A `pin` query parameter binds the socket to a session straight away (the host's case);
// players bind by sending a join command.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	id, err := h.issuer.FromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancelCtx := context.WithCancel(r.Context())
	defer cancelCtx()

	c := &wsClient{
		h:            h,
		conn:         conn,
		id:           id,
		source:       remoteIP(r),
		send:       make(chan Envelope, 32),
		writerDone: make(chan struct{}),
	}
	go c.writePump()

	c.emit(TypeWelcome, "", id)
	if pin := r.URL.Query().Get("pin"); pin != "" {
		if err := c.bind(ctx, pin); err != nil {
			c.emit(TypeError, "", Result{Error: domain.PublicMessage(err)})
		}
	}

	c.readPump(ctx)

	// Disconnecting is not leaving: the player may reconnect with the same id.
	c.unbind()
	close(c.send)
	<-c.writerDone
}

func (c *wsClient) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var inbound Inbound
		if err := c.conn.ReadJSON(&inbound); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("user_id", c.id.UserID).Msg("ws read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if inbound.Type == "ping" {
			c.emit(TypePong, inbound.RequestID, nil)
			continue
		}
		c.release()
		data, err := c.dispatch(ctx, inbound)
		c.reply(inbound, data, err)
	}
}

func (c *wsClient) dispatch(ctx context.Context, in Inbound) (any, error) {
	svc := c.h.service
	uid := c.id.UserID
	bound := c.pin()

	if in.Type == "join" {
		var p joinPayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		if p.PIN == "" {
			p.PIN = bound
		}
		if bound != "" && p.PIN != bound {
			return nil, domain.ErrInvalidTransition
		}
		if _, err := svc.Join(ctx, app.JoinRequest{PIN: p.PIN, UserID: uid, Name: p.Name, Source: c.source}); err != nil {
			return nil, err
		}
		return nil, c.bind(ctx, p.PIN)
	}

	if bound == "" {
		return nil, domain.ErrSessionNotFound
	}
	pin := bound

	switch in.Type {
	case "leave":
		if err := svc.Leave(ctx, pin, uid); err != nil {
			return nil, err
		}
		c.unbind()
		return nil, nil
	case "kick":
		var p kickPayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		return nil, svc.Kick(ctx, pin, uid, p.UserID)
	case "lateJoin":
		var p lateJoinPayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		return nil, svc.SetLateJoin(ctx, pin, uid, p.Allowed)
	case "start":
		return nil, svc.StartGame(ctx, pin, uid)
	case "beginQuestion":
		return nil, svc.BeginQuestion(ctx, pin, uid)
	case "reveal":
		return nil, svc.ShowResults(ctx, pin, uid)
	case "next":
		return nil, svc.NextQuestion(ctx, pin, uid)
	case "answer":
		var p answerPayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		question := app.AnyQuestion
		if p.Question != nil {
			question = *p.Question
		}
		return svc.SubmitAnswer(ctx, app.AnswerRequest{PIN: pin, UserID: uid, Question: question, Option: p.Option})
	case "reaction":
		var p reactionPayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		return svc.SendReaction(ctx, pin, uid, p.Emoji)
	case "end":
		return svc.EndGame(ctx, pin, uid)
	case "delete":
		return nil, svc.DeleteSession(ctx, pin, uid)
	default:
		return nil, errUnsupported
	}
}

func (c *wsClient) reply(in Inbound, data any, err error) {
	if err == nil {
		c.emit(TypeResult, in.RequestID, Result{Success: true, Data: data})
		return
	}
	res := Result{Error: domain.PublicMessage(err)}
	var limited *domain.RateLimitError
	if errors.As(err, &limited) {
		res.ResetIn = limited.ResetIn
	}
	switch {
	case errors.Is(err, errUnsupported), errors.Is(err, errBadPayload):
		res.Error = err.Error()
	case !domain.IsRejection(err):
		log.Error().Err(err).Str("type", in.Type).Str("pin", c.pin()).Str("user_id", c.id.UserID).Msg("ws command failed")
	}
	c.emit(TypeResult, in.RequestID, res)
}

func (c *wsClient) pin() string {
	if c.bound == nil {
		return ""
	}
	return c.bound.pin
}

// bind subscribes the socket to pin's updates.
func (c *wsClient) bind(ctx context.Context, pin string) error {
	if current := c.pin(); current != "" {
		if current == pin {
			return nil
		}
		return domain.ErrInvalidTransition
	}
	updates, cancel, err := c.h.service.Subscribe(ctx, pin)
	if err != nil {
		return err
	}
	b := &binding{
		pin:      pin,
		cancel:   cancel,
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.bound = b
	go c.forward(b, updates)
	return nil
}

// unbind stops forwarding and drops the subscription, returning the socket to the pre-join state.
func (c *wsClient) unbind() {
	b := c.bound
	if b == nil {
		return
	}
	c.bound = nil
	close(b.stop)
	b.cancel()
	<-b.done
}

// release unbinds a socket whose forwarder has already given up on the session.
func (c *wsClient) release() {
	if c.bound == nil {
		return
	}
	select {
	case <-c.bound.finished:
		c.unbind()
	default:
	}
}

// forward pushes session documents to the socket. Players get the masked view;
// a player who shows up in the ban list is told they were kicked and gets nothing more.
func (c *wsClient) forward(b *binding, updates <-chan domain.Session) {
	defer close(b.done)
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				select {
				case <-b.stop:
				default:
					close(b.finished)
					c.emit(TypeEnded, "", map[string]string{"pin": b.pin})
				}
				return
			}
			if snap.HostID != c.id.UserID {
				snap = snap.ForPlayer()
			}
			if snap.BannedUsers[c.id.UserID] {
				b.cancel()
				close(b.finished)
				c.emit(TypeKicked, "", map[string]string{"pin": b.pin})
				return
			}
			c.emit(TypeSession, "", snap)
		case <-b.stop:
			return
		}
	}
}

// emit queues a message unless the writer has already gone away.
func (c *wsClient) emit(typ, requestID string, payload any) {
	env := Envelope{Type: typ, RequestID: requestID, ServerTime: c.h.service.Clock().Now()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Str("type", typ).Msg("encode ws payload")
			return
		}
		env.Payload = raw
	}
	select {
	case c.send <- env:
	case <-c.writerDone:
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.writerDone)
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Str("user_id", c.id.UserID).Msg("ws write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var (
	errUnsupported = errors.New("unsupported message type")
	errBadPayload  = errors.New("invalid payload")
)

func decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return errBadPayload
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errBadPayload
	}
	return nil
}
