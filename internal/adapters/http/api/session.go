package api

import (
	"errors"
	"net/http"
	"strings"
)

// SessionHandler serves the session lifecycle and membership routes.
type SessionHandler struct {
	deps Dependencies
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(deps Dependencies) *SessionHandler {
	return &SessionHandler{deps: deps}
}

type startSessionRequest struct {
	CourtCount int      `json:"court_count"`
	PlayerIDs  []string `json:"player_ids"`
}

func (req startSessionRequest) validate() error {
	if req.CourtCount < 0 {
		return errors.New("court_count must not be negative")
	}
	return validIDs(req.PlayerIDs, true)
}

type playersRequest struct {
	PlayerIDs []string `json:"player_ids"`
}

func (req playersRequest) validate() error { return validIDs(req.PlayerIDs, false) }

type playerRequest struct {
	PlayerID string `json:"player_id"`
}

func (req playerRequest) validate() error {
	if strings.TrimSpace(req.PlayerID) == "" {
		return errors.New("missing player_id")
	}
	return nil
}

type courtCountRequest struct {
	Count int `json:"count"`
}

func (req courtCountRequest) validate() error {
	if req.Count < 1 {
		return errors.New("count must be at least 1")
	}
	return nil
}

func validIDs(ids []string, allowEmpty bool) error {
	if len(ids) == 0 && !allowEmpty {
		return errors.New("missing player_ids")
	}
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return errors.New("blank player id")
		}
	}
	return nil
}

// HandleGetSession handles GET /session requests.
func (h *SessionHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_session"
	if !allow(w, r, http.MethodGet) {
		return
	}
	st, err := h.deps.State(r.Context())
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleStart handles POST /session/start requests. The body is optional;
// without one the configured court count is used and nobody joins yet.
func (h *SessionHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	const op = "api.start_session"
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req startSessionRequest
	if err := decode(w, r, op, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	res, err := h.deps.StartSession(r.Context(), req.CourtCount, req.PlayerIDs)
	writeOutcome(w, op, res, err)
}

// HandleEnd handles POST /session/end requests.
func (h *SessionHandler) HandleEnd(w http.ResponseWriter, r *http.Request) {
	const op = "api.end_session"
	if !allow(w, r, http.MethodPost) {
		return
	}
	res, err := h.deps.EndSession(r.Context())
	writeOutcome(w, op, res, err)
}

// HandleAddPlayers handles POST /session/players requests.
func (h *SessionHandler) HandleAddPlayers(w http.ResponseWriter, r *http.Request) {
	const op = "api.add_players"
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req playersRequest
	if err := decode(w, r, op, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	res, err := h.deps.AddPlayers(r.Context(), req.PlayerIDs)
	writeOutcome(w, op, res, err)
}

// HandleRemovePlayer handles POST /session/players/remove requests.
func (h *SessionHandler) HandleRemovePlayer(w http.ResponseWriter, r *http.Request) {
	const op = "api.remove_player"
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req playerRequest
	if err := decode(w, r, op, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	res, err := h.deps.RemovePlayer(r.Context(), req.PlayerID)
	writeOutcome(w, op, res, err)
}

// HandleCourtCount handles POST /session/courts requests.
func (h *SessionHandler) HandleCourtCount(w http.ResponseWriter, r *http.Request) {
	const op = "api.set_court_count"
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req courtCountRequest
	if err := decode(w, r, op, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	res, err := h.deps.SetCourtCount(r.Context(), req.Count)
	writeOutcome(w, op, res, err)
}
