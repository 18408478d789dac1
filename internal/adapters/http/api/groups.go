package api

import (
	"errors"
	"net/http"
	"strings"
)

// GroupHandler serves reserved group routes.
type GroupHandler struct {
	deps Dependencies
}

// NewGroupHandler creates a new group handler.
func NewGroupHandler(deps Dependencies) *GroupHandler {
	return &GroupHandler{deps: deps}
}

type groupRequest struct {
	GroupID string `json:"group_id"`
}

func (req groupRequest) validate() error {
	if strings.TrimSpace(req.GroupID) == "" {
		return errors.New("missing group_id")
	}
	return nil
}

type groupAssignRequest struct {
	GroupID string `json:"group_id"`
	CourtID int    `json:"court_id"`
}

func (req groupAssignRequest) validate() error {
	if err := (groupRequest{GroupID: req.GroupID}).validate(); err != nil {
		return err
	}
	if req.CourtID < 1 {
		return errors.New("missing court_id")
	}
	return nil
}

// HandleCreate handles POST /groups requests.
func (h *GroupHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_group"
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req playersRequest
	if err := decode(w, r, op, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	res, err := h.deps.CreateReservation(r.Context(), req.PlayerIDs)
	writeOutcome(w, op, res, err)
}

// HandleAssign handles POST /groups/assign requests.
func (h *GroupHandler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	const op = "api.assign_group"
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req groupAssignRequest
	if err := decode(w, r, op, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	res, err := h.deps.AssignGroup(r.Context(), req.GroupID, req.CourtID)
	writeOutcome(w, op, res, err)
}

// HandleDisband handles POST /groups/disband requests.
func (h *GroupHandler) HandleDisband(w http.ResponseWriter, r *http.Request) {
	const op = "api.disband_group"
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req groupRequest
	if err := decode(w, r, op, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	res, err := h.deps.DisbandGroup(r.Context(), req.GroupID)
	writeOutcome(w, op, res, err)
}
