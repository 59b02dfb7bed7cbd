package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"livequiz-service/internal/app"
	"livequiz-service/internal/auth"
	"livequiz-service/internal/domain"
	"livequiz-service/internal/infra/memory"
)

type testServer struct {
	*httptest.Server
	issuer *auth.Issuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	opts := app.DefaultOptions()
	opts.Countdown = 0
	opts.AutoAdvance = false
	service := app.NewSessionService(
		memory.NewSessionStore(),
		memory.NewQuizRepository(memory.NewStaticQuizLoader(sampleQuiz()), time.Minute),
		memory.NewLeaderboardStore(),
		memory.NewRateLimiter(nil),
		app.WithOptions(opts),
	)
	issuer := auth.NewIssuer("test-secret", time.Hour)
	server := httptest.NewServer(NewRouter(service, issuer, nil))
	t.Cleanup(server.Close)
	return &testServer{Server: server, issuer: issuer}
}

func (s *testServer) token(t *testing.T, userID string, admin bool) string {
	t.Helper()
	token, err := s.issuer.Issue(userID, admin)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (s *testServer) launch(t *testing.T, token string) domain.Session {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/sessions", token, map[string]any{"quizId": "quiz-1"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("launch: status %d", resp.StatusCode)
	}
	var session domain.Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return session
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (s *testServer) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	readNext(t, conn, TypeWelcome)
	return conn
}

func TestWebSocketGameFlow(t *testing.T) {
	srv := newTestServer(t)
	hostToken := srv.token(t, "host-1", true)
	session := srv.launch(t, hostToken)

	host := srv.dial(t, "pin="+session.PIN+"&token="+hostToken)
	if snap := readSession(t, host); snap.Status != domain.StatusLobby || snap.Quiz.Questions[0].CorrectIndex != 1 {
		t.Fatalf("host should see the full lobby, got %+v", snap)
	}

	player := srv.dial(t, "")
	send(t, player, "join", "j1", map[string]any{"pin": session.PIN, "name": "Alice"})
	if res := readResult(t, player, "j1"); !res.Success {
		t.Fatalf("join failed: %s", res.Error)
	}

	send(t, host, "start", "h1", nil)
	expectSuccess(t, host, "h1")
	send(t, host, "beginQuestion", "h2", nil)
	expectSuccess(t, host, "h2")

	snap := readSessionWithStatus(t, player, domain.StatusQuestion)
	if snap.Quiz.Questions[0].CorrectIndex != -1 {
		t.Fatalf("player view leaked the correct option")
	}

	send(t, player, "answer", "a1", map[string]any{"question": 0, "option": 1})
	res := readResult(t, player, "a1")
	if !res.Success {
		t.Fatalf("answer failed: %s", res.Error)
	}
	var result app.AnswerResult
	if err := json.Unmarshal(mustJSON(t, res.Data), &result); err != nil {
		t.Fatalf("decode answer result: %v", err)
	}
	if !result.Correct || result.Points != 100 || result.Streak != 1 {
		t.Fatalf("unexpected answer result %+v", result)
	}

	send(t, player, "answer", "a2", map[string]any{"question": 0, "option": 0})
	if res := readResult(t, player, "a2"); res.Success || res.Error != domain.ErrAlreadyAnswered.Error() {
		t.Fatalf("expected already answered, got %+v", res)
	}

	send(t, player, "start", "p1", nil)
	if res := readResult(t, player, "p1"); res.Success || res.Error != domain.ErrNotHost.Error() {
		t.Fatalf("expected host-only rejection, got %+v", res)
	}

	for i, typ := range []string{"reveal", "next", "beginQuestion", "reveal", "next"} {
		id := typ + string(rune('0'+i))
		send(t, host, typ, id, nil)
		expectSuccess(t, host, id)
	}
	send(t, host, "end", "h9", nil)
	expectSuccess(t, host, "h9")

	readNext(t, player, TypeEnded)
}

func TestWebSocketKick(t *testing.T) {
	srv := newTestServer(t)
	hostToken := srv.token(t, "host-1", true)
	session := srv.launch(t, hostToken)
	host := srv.dial(t, "pin="+session.PIN+"&token="+hostToken)

	player := srv.dial(t, "")
	send(t, player, "join", "j1", map[string]any{"pin": session.PIN, "name": "Mallory"})
	expectSuccess(t, player, "j1")

	var uid string
	for uid == "" {
		for id := range readSession(t, host).Players {
			uid = id
		}
	}
	send(t, host, "kick", "k1", map[string]any{"userId": uid})
	expectSuccess(t, host, "k1")
	readNext(t, player, TypeKicked)

	send(t, player, "join", "j2", map[string]any{"pin": session.PIN, "name": "Mallory"})
	if res := readResult(t, player, "j2"); res.Success || res.Error != domain.ErrBanned.Error() {
		t.Fatalf("expected banned, got %+v", res)
	}
}

func TestWebSocketRebindAfterKickOrLeave(t *testing.T) {
	srv := newTestServer(t)
	hostToken := srv.token(t, "host-1", true)
	first := srv.launch(t, hostToken)
	second := srv.launch(t, hostToken)
	host := srv.dial(t, "pin="+first.PIN+"&token="+hostToken)

	player := srv.dial(t, "token="+srv.token(t, "player-1", false))
	send(t, player, "join", "j1", map[string]any{"pin": first.PIN, "name": "Mallory"})
	expectSuccess(t, player, "j1")
	send(t, host, "kick", "k1", map[string]any{"userId": "player-1"})
	expectSuccess(t, host, "k1")
	readNext(t, player, TypeKicked)

	send(t, player, "join", "j2", map[string]any{"pin": second.PIN, "name": "Mallory"})
	// The result and the first document of the new session race each other.
	var joined, updated bool
	for !joined || !updated {
		env := readNext(t, player, "")
		switch env.Type {
		case TypeResult:
			var res Result
			if err := json.Unmarshal(env.Payload, &res); err != nil {
				t.Fatalf("decode result: %v", err)
			}
			if env.RequestID == "j2" {
				if !res.Success {
					t.Fatalf("join after kick failed: %s", res.Error)
				}
				joined = true
			}
		case TypeSession:
			var snap domain.Session
			if err := json.Unmarshal(env.Payload, &snap); err != nil {
				t.Fatalf("decode session: %v", err)
			}
			if snap.PIN != second.PIN {
				t.Fatalf("expected updates from %s, got %s", second.PIN, snap.PIN)
			}
			updated = true
		}
	}

	send(t, player, "leave", "l1", nil)
	expectSuccess(t, player, "l1")
	send(t, player, "start", "s1", nil)
	if res := readResult(t, player, "s1"); res.Error != domain.ErrSessionNotFound.Error() {
		t.Fatalf("leaving should unbind the socket, got %+v", res)
	}
	send(t, player, "join", "j3", map[string]any{"pin": second.PIN, "name": "Mallory"})
	expectSuccess(t, player, "j3")
}

func TestWebSocketUnboundAndUnknown(t *testing.T) {
	srv := newTestServer(t)
	conn := srv.dial(t, "")

	send(t, conn, "start", "s1", nil)
	if res := readResult(t, conn, "s1"); res.Error != domain.ErrSessionNotFound.Error() {
		t.Fatalf("expected PIN not found, got %+v", res)
	}
	send(t, conn, "join", "j1", map[string]any{"pin": "9999", "name": "Bob"})
	if res := readResult(t, conn, "j1"); res.Error != "PIN not found!" {
		t.Fatalf("expected PIN not found, got %+v", res)
	}
	send(t, conn, "dance", "d1", nil)
	if res := readResult(t, conn, "d1"); res.Error != errUnsupported.Error() {
		t.Fatalf("expected unsupported, got %+v", res)
	}
	send(t, conn, "ping", "p1", nil)
	env := readNext(t, conn, TypePong)
	if env.RequestID != "p1" || env.ServerTime.IsZero() {
		t.Fatalf("unexpected pong %+v", env)
	}
}

func TestRESTErrors(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(t, http.MethodGet, "/api/sessions/9999", "", nil)
	var body errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound || body.Error != "PIN not found!" {
		t.Fatalf("expected 404 PIN not found, got %d %q", resp.StatusCode, body.Error)
	}

	resp = srv.do(t, http.MethodPost, "/api/sessions", "", map[string]any{"quizId": "quiz-1"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous launch, got %d", resp.StatusCode)
	}

	resp = srv.do(t, http.MethodPost, "/api/sessions", srv.token(t, "student", false), map[string]any{"quizId": "quiz-1"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin launch, got %d", resp.StatusCode)
	}

	resp = srv.do(t, http.MethodGet, "/api/time", "", nil)
	var tr timeResponse
	_ = json.NewDecoder(resp.Body).Decode(&tr)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || tr.ServerTime.IsZero() {
		t.Fatalf("unexpected time response %d %+v", resp.StatusCode, tr)
	}
}

func TestRESTLeaderboardAndEnd(t *testing.T) {
	srv := newTestServer(t)
	admin := srv.token(t, "host-1", true)

	resp := srv.do(t, http.MethodPost, "/api/leaderboards", admin, map[string]any{"name": "CS101", "year": 2024})
	var lb domain.Leaderboard
	_ = json.NewDecoder(resp.Body).Decode(&lb)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || lb.ID == "" {
		t.Fatalf("create leaderboard: %d %+v", resp.StatusCode, lb)
	}

	session := srv.launch(t, admin)
	resp = srv.do(t, http.MethodPost, "/api/sessions/"+session.PIN+"/end", admin, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 ending a lobby, got %d", resp.StatusCode)
	}

	resp = srv.do(t, http.MethodDelete, "/api/sessions/"+session.PIN, admin, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 on delete, got %d", resp.StatusCode)
	}

	resp = srv.do(t, http.MethodGet, "/api/leaderboards/"+lb.ID, "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get leaderboard: %d", resp.StatusCode)
	}
}

func send(t *testing.T, conn *websocket.Conn, typ, requestID string, payload any) {
	t.Helper()
	msg := map[string]any{"type": typ, "requestId": requestID}
	if payload != nil {
		msg["payload"] = payload
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// readNext skips messages until one of type expect arrives. An empty expect takes the next message.
func readNext(t *testing.T, conn *websocket.Conn, expect string) Envelope {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("waiting for %s: %v", expect, err)
		}
		if expect == "" || env.Type == expect {
			return env
		}
	}
}

func readResult(t *testing.T, conn *websocket.Conn, requestID string) Result {
	t.Helper()
	for {
		env := readNext(t, conn, TypeResult)
		if env.RequestID != requestID {
			continue
		}
		var res Result
		if err := json.Unmarshal(env.Payload, &res); err != nil {
			t.Fatalf("decode result: %v", err)
		}
		return res
	}
}

func expectSuccess(t *testing.T, conn *websocket.Conn, requestID string) {
	t.Helper()
	if res := readResult(t, conn, requestID); !res.Success {
		t.Fatalf("request %s failed: %s", requestID, res.Error)
	}
}

func readSession(t *testing.T, conn *websocket.Conn) domain.Session {
	t.Helper()
	env := readNext(t, conn, TypeSession)
	var snap domain.Session
	if err := json.Unmarshal(env.Payload, &snap); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return snap
}

func readSessionWithStatus(t *testing.T, conn *websocket.Conn, status domain.Status) domain.Session {
	t.Helper()
	for {
		if snap := readSession(t, conn); snap.Status == status {
			return snap
		}
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func sampleQuiz() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Arithmetic",
			Questions: []domain.Question{
				{Text: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectIndex: 1},
				{Text: "What is 3 * 3?", Options: []string{"6", "9"}, CorrectIndex: 1},
			},
		},
	}
}
