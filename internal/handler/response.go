package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/hexwar/api/internal/service"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Error encoding response")
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// maxBodyBytes caps request bodies. The largest legitimate body is an
// action with its rationale.
const maxBodyBytes = 64 << 10

var errTrailingData = errors.New("unexpected data after JSON body")

// decodeJSON decodes exactly one JSON value from the request body.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errTrailingData
	}
	return nil
}

// rejectionBody is the response for a refused submission.
type rejectionBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// rejectionStatus maps a rejection code to an HTTP status. Turn-order and
// lifecycle conflicts are 409; everything the agent could fix by changing
// its payload is 422.
func rejectionStatus(code string) int {
	switch code {
	case service.CodeNotYourTurn, service.CodeMatchComplete:
		return http.StatusConflict
	}
	return http.StatusUnprocessableEntity
}

// writeServiceError maps service errors onto status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	if rej, ok := service.IsRejection(err); ok {
		writeJSON(w, rejectionStatus(rej.Code), rejectionBody{
			Error:  rej.Error(),
			Reason: rej.Reason(),
			Detail: rej.Detail,
		})
		return
	}
	switch {
	case errors.Is(err, service.ErrMatchNotFound), errors.Is(err, service.ErrAgentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrNotParticipant):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrMatchStillActive),
		errors.Is(err, service.ErrAlreadyInMatch),
		errors.Is(err, service.ErrAlreadyQueued):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrNotQueued):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidName):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("Unhandled service error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
