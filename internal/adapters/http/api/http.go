// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/Yria/cocktime-scheduler-sub000/internal/adapters/roster"
	service "github.com/Yria/cocktime-scheduler-sub000/internal/app"
	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
)

const maxBodyBytes = 64 << 10

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the station implementation.
type Dependencies interface {
	StatsProvider
	StateReader

	StartSession(ctx context.Context, courtCount int, playerIDs []string) (*service.Result, error)
	EndSession(ctx context.Context) (*service.Result, error)
	AddPlayers(ctx context.Context, playerIDs []string) (*service.Result, error)
	RemovePlayer(ctx context.Context, playerID string) (*service.Result, error)
	SetCourtCount(ctx context.Context, n int) (*service.Result, error)

	Generate(ctx context.Context) (*service.Generated, error)
	CancelProposal(ctx context.Context) bool
	Assign(ctx context.Context, courtID int) (*service.Result, error)
	Complete(ctx context.Context, courtID int) (*service.Result, error)

	CreateReservation(ctx context.Context, playerIDs []string) (*service.Result, error)
	AssignGroup(ctx context.Context, groupID string, courtID int) (*service.Result, error)
	DisbandGroup(ctx context.Context, groupID string) (*service.Result, error)

	ToggleResting(ctx context.Context, playerID string) (*service.Result, error)
	ToggleForceMixed(ctx context.Context, playerID string) (*service.Result, error)
	ToggleAllowMixedSingle(ctx context.Context, playerID string) (*service.Result, error)
	UpdateRosterPlayer(ctx context.Context, playerID string, gender model.Gender, skills map[string]model.SkillLevel) (*service.Result, error)
}

// Server wires HTTP routes for the station API.
type Server struct {
	deps           Dependencies
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	sessionHandler *SessionHandler
	matchHandler   *MatchHandler
	groupHandler   *GroupHandler
	playerHandler  *PlayerHandler
	hub            *Hub
}

// NewServer creates a new API server with all handlers. hub may be nil, in
// which case /ws is not served.
func NewServer(deps Dependencies, hub *Hub) *Server {
	return &Server{
		deps:           deps,
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(deps),
		sessionHandler: NewSessionHandler(deps),
		matchHandler:   NewMatchHandler(deps),
		groupHandler:   NewGroupHandler(deps),
		playerHandler:  NewPlayerHandler(deps),
		hub:            hub,
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("/session", MetricsMiddleware(s.sessionHandler.HandleGetSession, "session"))
	mux.HandleFunc("/session/start", MetricsMiddleware(s.sessionHandler.HandleStart, "session_start"))
	mux.HandleFunc("/session/end", MetricsMiddleware(s.sessionHandler.HandleEnd, "session_end"))
	mux.HandleFunc("/session/players", MetricsMiddleware(s.sessionHandler.HandleAddPlayers, "session_players"))
	mux.HandleFunc("/session/players/remove", MetricsMiddleware(s.sessionHandler.HandleRemovePlayer, "session_players_remove"))
	mux.HandleFunc("/session/courts", MetricsMiddleware(s.sessionHandler.HandleCourtCount, "session_courts"))

	mux.HandleFunc("/proposal", MetricsMiddleware(s.matchHandler.HandleProposal, "proposal"))
	mux.HandleFunc("/courts/assign", MetricsMiddleware(s.matchHandler.HandleAssign, "courts_assign"))
	mux.HandleFunc("/courts/complete", MetricsMiddleware(s.matchHandler.HandleComplete, "courts_complete"))

	mux.HandleFunc("/groups", MetricsMiddleware(s.groupHandler.HandleCreate, "groups"))
	mux.HandleFunc("/groups/assign", MetricsMiddleware(s.groupHandler.HandleAssign, "groups_assign"))
	mux.HandleFunc("/groups/disband", MetricsMiddleware(s.groupHandler.HandleDisband, "groups_disband"))

	mux.HandleFunc("/players/rest", MetricsMiddleware(s.playerHandler.HandleRest, "players_rest"))
	mux.HandleFunc("/players/force-mixed", MetricsMiddleware(s.playerHandler.HandleForceMixed, "players_force_mixed"))
	mux.HandleFunc("/players/allow-single", MetricsMiddleware(s.playerHandler.HandleAllowSingle, "players_allow_single"))
	mux.HandleFunc("/roster/players", MetricsMiddleware(s.playerHandler.HandleRosterUpdate, "roster_players"))

	if s.hub != nil {
		mux.HandleFunc("/ws", MetricsMiddleware(s.hub.Handler(s.deps), "ws"))
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// saveFailedResponse carries the locally applied result next to the error:
// the station keeps the change even though the durable write failed.
type saveFailedResponse struct {
	errorResponse
	Result *service.Result `json:"result,omitempty"`
}

type cancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// allow answers 404 for any method not listed, matching the mux's response
// for unknown paths.
func allow(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	http.NotFound(w, r)
	return false
}

type validator interface {
	validate() error
}

// decode reads a JSON body into v and validates it. An empty body is only
// accepted when optional is set.
func decode(w http.ResponseWriter, r *http.Request, op string, v validator, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !(optional && errors.Is(err, io.EOF)) {
		return WrapKind(op, ErrBadRequest, err)
	}
	if err := v.validate(); err != nil {
		return WrapKind(op, ErrBadRequest, err)
	}
	return nil
}

// writeOutcome renders the result of a mutating operation. A rejected
// precondition is a 200 with applied=false; a failed durable write is a 502
// that still reports the local result.
func writeOutcome(w http.ResponseWriter, op string, res *service.Result, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, service.ErrSaveFailed):
		writeJSON(w, http.StatusBadGateway, saveFailedResponse{
			errorResponse: errorResponse{Code: "save_failed", Message: Wrap(op, err).Error()},
			Result:        res,
		})
	default:
		writeServiceError(w, op, err)
	}
}

// writeServiceError maps station and roster errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	err = Wrap(op, err)
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, roster.ErrInvalidPlayer):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, service.ErrUnknownRoster), errors.Is(err, roster.ErrPlayerNotFound):
		writeError(w, http.StatusNotFound, "unknown_player", err)
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "not_started", err)
	case errors.Is(err, service.ErrNoRoster), errors.Is(err, roster.ErrNoURL):
		writeError(w, http.StatusServiceUnavailable, "roster_unavailable", err)
	case errors.Is(err, roster.ErrUpstream):
		writeError(w, http.StatusBadGateway, "roster_failed", err)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal", err)
	}
}
