package handler

import (
	"net/http"

	"github.com/freeeve/hexwar/api/internal/auth"
	"github.com/freeeve/hexwar/api/internal/service"
)

// QueueHandler handles matchmaking queue endpoints.
type QueueHandler struct {
	agents *service.AgentService
}

// NewQueueHandler creates a QueueHandler.
func NewQueueHandler(agents *service.AgentService) *QueueHandler {
	return &QueueHandler{agents: agents}
}

// Enqueue handles POST /api/v1/queue
func (h *QueueHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	st, err := h.agents.Enqueue(r.Context(), auth.AgentIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

// Cancel handles DELETE /api/v1/queue
func (h *QueueHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.agents.Cancel(r.Context(), auth.AgentIDFromContext(r.Context())); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Status handles GET /api/v1/queue
func (h *QueueHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.agents.QueueStatus(r.Context(), auth.AgentIDFromContext(r.Context())))
}
