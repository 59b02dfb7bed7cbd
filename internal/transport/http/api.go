package http

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"livequiz-service/internal/app"
	"livequiz-service/internal/auth"
	"livequiz-service/internal/domain"
)

// API serves the REST surface around the live sessions.
type API struct {
	service *app.SessionService
	issuer  *auth.Issuer
}

func NewAPI(service *app.SessionService, issuer *auth.Issuer) *API {
	return &API{service: service, issuer: issuer}
}

// NewRouter mounts the REST routes, the websocket endpoint and the health check
// behind CORS.
func NewRouter(service *app.SessionService, issuer *auth.Issuer, allowedOrigins []string) http.Handler {
	api := NewAPI(service, issuer)
	ws := NewWSHandler(service, issuer, allowedOrigins)

	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	router.HandleFunc("/ws", ws.ServeWS)

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(api.identify)
	apiRouter.HandleFunc("/time", api.serverTime).Methods(http.MethodGet)
	apiRouter.HandleFunc("/sessions", api.launch).Methods(http.MethodPost)
	apiRouter.HandleFunc("/sessions/{pin}", api.getSession).Methods(http.MethodGet)
	apiRouter.HandleFunc("/sessions/{pin}", api.deleteSession).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/sessions/{pin}/end", api.endSession).Methods(http.MethodPost)
	apiRouter.HandleFunc("/leaderboards", api.createLeaderboard).Methods(http.MethodPost)
	apiRouter.HandleFunc("/leaderboards/{id}", api.getLeaderboard).Methods(http.MethodGet)

	origins := allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	})
	return c.Handler(router)
}

// identify resolves the caller once per request.
func (a *API) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.issuer.FromRequest(r)
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

func caller(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

type timeResponse struct {
	ServerTime time.Time `json:"serverTime"`
	OffsetMs   int64     `json:"offsetMs"`
	Synced     bool      `json:"synced"`
}

func (a *API) serverTime(w http.ResponseWriter, r *http.Request) {
	clock := a.service.Clock()
	writeJSON(w, http.StatusOK, timeResponse{
		ServerTime: clock.Now(),
		OffsetMs:   clock.Offset().Milliseconds(),
		Synced:     clock.Synced(),
	})
}

type launchRequest struct {
	QuizID        string `json:"quizId"`
	LeaderboardID string `json:"leaderboardId"`
	AllowLateJoin bool   `json:"allowLateJoin"`
}

func (a *API) launch(w http.ResponseWriter, r *http.Request) {
	var req launchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errBadPayload.Error()})
		return
	}
	id := caller(r)
	if id.Anonymous {
		writeError(w, domain.ErrUnauthorized)
		return
	}
	session, err := a.service.Launch(r.Context(), app.LaunchRequest{
		HostID:        id.UserID,
		IsAdmin:       id.IsAdmin,
		QuizID:        req.QuizID,
		LeaderboardID: req.LeaderboardID,
		AllowLateJoin: req.AllowLateJoin,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := a.service.Get(r.Context(), mux.Vars(r)["pin"])
	if err != nil {
		writeError(w, err)
		return
	}
	if session.HostID != caller(r).UserID {
		session = session.ForPlayer()
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteSession(r.Context(), mux.Vars(r)["pin"], caller(r).UserID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) endSession(w http.ResponseWriter, r *http.Request) {
	standings, err := a.service.EndGame(r.Context(), mux.Vars(r)["pin"], caller(r).UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"standings": standings})
}

type createLeaderboardRequest struct {
	Name   string `json:"name"`
	Course string `json:"course"`
	Year   int    `json:"year"`
}

func (a *API) createLeaderboard(w http.ResponseWriter, r *http.Request) {
	var req createLeaderboardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errBadPayload.Error()})
		return
	}
	lb, err := a.service.CreateLeaderboard(r.Context(), app.CreateLeaderboardRequest{
		IsAdmin: caller(r).IsAdmin,
		Name:    req.Name,
		Course:  req.Course,
		Year:    req.Year,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lb)
}

type leaderboardResponse struct {
	domain.Leaderboard
	Ranking []domain.LeaderboardPlayer `json:"ranking"`
}

func (a *API) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	lb, err := a.service.GetLeaderboard(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{Leaderboard: lb, Ranking: lb.Ranked()})
}

type errorResponse struct {
	Error   string `json:"error"`
	ResetIn int    `json:"resetIn,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

// writeError maps err to a status code and the message a user may see.
func writeError(w http.ResponseWriter, err error) {
	body := errorResponse{Error: domain.PublicMessage(err)}
	var limited *domain.RateLimitError
	status := http.StatusBadRequest
	switch {
	case errors.As(err, &limited):
		status = http.StatusTooManyRequests
		body.ResetIn = limited.ResetIn
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotHost), errors.Is(err, domain.ErrNotAdmin), errors.Is(err, domain.ErrBanned):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrQuizNotFound), errors.Is(err, domain.ErrLeaderboardNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrPINTaken):
		status = http.StatusConflict
	case !domain.IsRejection(err):
		status = http.StatusInternalServerError
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, body)
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// originChecker allows any origin when none are configured.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			return func(r *http.Request) bool { return true }
		}
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
