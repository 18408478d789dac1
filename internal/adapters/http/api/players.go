package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	service "github.com/Yria/cocktime-scheduler-sub000/internal/app"
	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
)

// PlayerHandler serves per-player toggles and roster edits.
type PlayerHandler struct {
	deps Dependencies
}

// NewPlayerHandler creates a new player handler.
func NewPlayerHandler(deps Dependencies) *PlayerHandler {
	return &PlayerHandler{deps: deps}
}

type rosterUpdateRequest struct {
	PlayerID string                      `json:"player_id"`
	Gender   model.Gender                `json:"gender"`
	Skills   map[string]model.SkillLevel `json:"skills"`
}

func (req rosterUpdateRequest) validate() error {
	if strings.TrimSpace(req.PlayerID) == "" {
		return errors.New("missing player_id")
	}
	if !req.Gender.Valid() {
		return fmt.Errorf("unknown gender %q", req.Gender)
	}
	for category, lvl := range req.Skills {
		if !lvl.Valid() {
			return fmt.Errorf("unknown level %q for %s", lvl, category)
		}
	}
	return nil
}

type toggleFunc func(ctx context.Context, playerID string) (*service.Result, error)

func (h *PlayerHandler) toggle(w http.ResponseWriter, r *http.Request, op string, fn toggleFunc) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req playerRequest
	if err := decode(w, r, op, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	res, err := fn(r.Context(), req.PlayerID)
	writeOutcome(w, op, res, err)
}

// HandleRest handles POST /players/rest requests.
func (h *PlayerHandler) HandleRest(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "api.toggle_resting", h.deps.ToggleResting)
}

// HandleForceMixed handles POST /players/force-mixed requests.
func (h *PlayerHandler) HandleForceMixed(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "api.toggle_force_mixed", h.deps.ToggleForceMixed)
}

// HandleAllowSingle handles POST /players/allow-single requests.
func (h *PlayerHandler) HandleAllowSingle(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "api.toggle_allow_single", h.deps.ToggleAllowMixedSingle)
}

// HandleRosterUpdate handles POST /roster/players requests. The roster
// directory is written first; the session row follows when the player is
// in the session.
func (h *PlayerHandler) HandleRosterUpdate(w http.ResponseWriter, r *http.Request) {
	const op = "api.roster_update"
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req rosterUpdateRequest
	if err := decode(w, r, op, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	res, err := h.deps.UpdateRosterPlayer(r.Context(), req.PlayerID, req.Gender, req.Skills)
	writeOutcome(w, op, res, err)
}
