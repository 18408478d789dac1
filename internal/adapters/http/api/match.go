package api

import (
	"errors"
	"net/http"
)

// MatchHandler serves proposal and court routes.
type MatchHandler struct {
	deps Dependencies
}

// NewMatchHandler creates a new match handler.
func NewMatchHandler(deps Dependencies) *MatchHandler {
	return &MatchHandler{deps: deps}
}

type courtRequest struct {
	CourtID int `json:"court_id"`
}

func (req courtRequest) validate() error {
	if req.CourtID < 1 {
		return errors.New("missing court_id")
	}
	return nil
}

// HandleProposal handles POST /proposal (generate) and DELETE /proposal
// (cancel) requests. A pool that cannot form a match is not an error: the
// response carries the reason and, for a shortfall, how many are needed.
func (h *MatchHandler) HandleProposal(w http.ResponseWriter, r *http.Request) {
	const op = "api.proposal"
	if !allow(w, r, http.MethodPost, http.MethodDelete) {
		return
	}
	if r.Method == http.MethodDelete {
		writeJSON(w, http.StatusOK, cancelResponse{Cancelled: h.deps.CancelProposal(r.Context())})
		return
	}
	gen, err := h.deps.Generate(r.Context())
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, gen)
}

// HandleAssign handles POST /courts/assign requests.
func (h *MatchHandler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	const op = "api.assign"
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req courtRequest
	if err := decode(w, r, op, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	res, err := h.deps.Assign(r.Context(), req.CourtID)
	writeOutcome(w, op, res, err)
}

// HandleComplete handles POST /courts/complete requests.
func (h *MatchHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	const op = "api.complete"
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req courtRequest
	if err := decode(w, r, op, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	res, err := h.deps.Complete(r.Context(), req.CourtID)
	writeOutcome(w, op, res, err)
}
