package handler

import (
	"net/http"

	"github.com/freeeve/hexwar/api/internal/auth"
	"github.com/freeeve/hexwar/api/internal/logger"
	"github.com/freeeve/hexwar/api/internal/service"
	"github.com/freeeve/hexwar/api/pkg/arena"
)

// MatchHandler exposes live matches: the poll form of turn notices, action
// submission, completion acknowledgement and the action log.
type MatchHandler struct {
	matches *service.MatchService
}

// NewMatchHandler creates a MatchHandler.
func NewMatchHandler(matches *service.MatchService) *MatchHandler {
	return &MatchHandler{matches: matches}
}

// ActionRequest is the body of an action submission.
type ActionRequest struct {
	Action       string `json:"action"`
	TargetSector string `json:"target_sector,omitempty"`
	Intensity    int    `json:"intensity,omitempty"`
	TechID       string `json:"tech_id,omitempty"`
	Rationale    string `json:"rationale"`
	Nonce        string `json:"nonce"`
}

// GetMatch handles GET /api/v1/matches/{id}
func (h *MatchHandler) GetMatch(w http.ResponseWriter, r *http.Request) {
	v, err := h.matches.View(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// CurrentTurn handles GET /api/v1/matches/{id}/turn. The active participant
// receives a freshly issued challenge on every call.
func (h *MatchHandler) CurrentTurn(w http.ResponseWriter, r *http.Request) {
	n, err := h.matches.CurrentTurn(r.Context(), r.PathValue("id"), auth.AgentIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// SubmitAction handles POST /api/v1/matches/{id}/actions
func (h *MatchHandler) SubmitAction(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("id")
	agentID := auth.AgentIDFromContext(r.Context())

	var req ActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.matches.Submit(r.Context(), matchID, agentID, service.Submission{
		Command: arena.Envelope{
			Action:       req.Action,
			TargetSector: req.TargetSector,
			Intensity:    req.Intensity,
			TechID:       req.TechID,
		},
		Rationale: req.Rationale,
		Nonce:     req.Nonce,
	})
	if err != nil {
		if rej, ok := service.IsRejection(err); ok {
			log := logger.ForParticipant(r.Context(), matchID, agentID)
			log.Info().Str("reason", rej.Reason()).Str("action", req.Action).Msg("Submission rejected")
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Ack handles POST /api/v1/matches/{id}/ack
func (h *MatchHandler) Ack(w http.ResponseWriter, r *http.Request) {
	if err := h.matches.Ack(r.Context(), r.PathValue("id"), auth.AgentIDFromContext(r.Context())); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListActions handles GET /api/v1/matches/{id}/actions
func (h *MatchHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	actions, err := h.matches.Actions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if actions == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, actions)
}
