package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/freeeve/hexwar/api/internal/service"
)

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name   string
		status int
		value  any
		want   string
	}{
		{"object", http.StatusOK, map[string]string{"id": "m1"}, `{"id":"m1"}`},
		{"created", http.StatusCreated, map[string]int{"turn": 1}, `{"turn":1}`},
		{"empty slice", http.StatusOK, []struct{}{}, `[]`},
		{"error", http.StatusBadRequest, map[string]string{"error": "missing field"}, `{"error":"missing field"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeJSON(rec, tt.status, tt.value)
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected JSON content type, got %s", ct)
			}
			if got := strings.TrimSpace(rec.Body.String()); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"action", `{"action":"attack","target_sector":"2,3","intensity":2}`, false},
		{"empty", ``, true},
		{"not json", `not json`, true},
		{"two values", `{"action":"pass"} {"action":"pass"}`, true},
		{"oversized", `{"rationale":"` + strings.Repeat("x", maxBodyBytes) + `"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var got ActionRequest
			err := decodeJSON(req, &got)
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr=%v, got %v", tt.wantErr, err)
			}
			if !tt.wantErr && (got.Action != "attack" || got.TargetSector != "2,3" || got.Intensity != 2) {
				t.Errorf("unexpected decode %+v", got)
			}
		})
	}
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		reason string
	}{
		{"not found", service.ErrMatchNotFound, http.StatusNotFound, ""},
		{"wrapped not found", fmt.Errorf("lookup: %w", service.ErrAgentNotFound), http.StatusNotFound, ""},
		{"not participant", service.ErrNotParticipant, http.StatusForbidden, ""},
		{"still active", service.ErrMatchStillActive, http.StatusConflict, ""},
		{"in match", service.ErrAlreadyInMatch, http.StatusConflict, ""},
		{"not queued", service.ErrNotQueued, http.StatusNotFound, ""},
		{"bad name", service.ErrInvalidName, http.StatusBadRequest, ""},
		{"not your turn", &service.Rejection{Code: service.CodeNotYourTurn}, http.StatusConflict, "not-your-turn"},
		{"complete", &service.Rejection{Code: service.CodeMatchComplete}, http.StatusConflict, "match-complete"},
		{"precondition", &service.Rejection{Code: service.CodePreconditionFailed, Detail: "sanctuary"}, http.StatusUnprocessableEntity, "precondition-failed:sanctuary"},
		{"challenge", &service.Rejection{Code: service.CodeChallengeInvalid}, http.StatusUnprocessableEntity, "challenge-invalid"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, tt.err)
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["reason"] != tt.reason {
				t.Errorf("expected reason %q, got %q", tt.reason, body["reason"])
			}
			if body["error"] == "" {
				t.Error("expected an error message")
			}
		})
	}
}
