package handler

import (
	"net/http"
	"strconv"

	"github.com/freeeve/hexwar/api/internal/auth"
	"github.com/freeeve/hexwar/api/internal/service"
)

// AgentHandler handles agent profile and leaderboard endpoints.
type AgentHandler struct {
	agents *service.AgentService
}

// NewAgentHandler creates an AgentHandler.
func NewAgentHandler(agents *service.AgentService) *AgentHandler {
	return &AgentHandler{agents: agents}
}

// GetMe handles GET /api/v1/agents/me
func (h *AgentHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	h.writeProfile(w, r, auth.AgentIDFromContext(r.Context()))
}

// GetAgent handles GET /api/v1/agents/{id}
func (h *AgentHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	h.writeProfile(w, r, r.PathValue("id"))
}

func (h *AgentHandler) writeProfile(w http.ResponseWriter, r *http.Request, id string) {
	p, err := h.agents.Profile(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdateMe handles PATCH /api/v1/agents/me
func (h *AgentHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	agentID := auth.AgentIDFromContext(r.Context())
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.agents.Rename(r.Context(), agentID, req.DisplayName); err != nil {
		writeServiceError(w, err)
		return
	}
	h.writeProfile(w, r, agentID)
}

// Leaderboard handles GET /api/v1/leaderboard?limit=
func (h *AgentHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	agents, err := h.agents.Leaderboard(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if agents == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, agents)
}
