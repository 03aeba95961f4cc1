package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

type contextKey string

const agentIDKey contextKey = "agent_id"

// Middleware authenticates requests with a Bearer access token and stores
// the agent ID in the request context.
func Middleware(jwtMgr *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				unauthorized(w, "", err.Error())
				return
			}
			claims, err := jwtMgr.ValidateAccessToken(token)
			if err != nil {
				unauthorized(w, "invalid_token", err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), agentIDKey, claims.AgentID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

var errBadScheme = errors.New("invalid authorization format")

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", errBadScheme
	}
	return strings.TrimSpace(token), nil
}

// unauthorized writes a 401 with an RFC 6750 challenge.
func unauthorized(w http.ResponseWriter, code, msg string) {
	challenge := `Bearer realm="` + Issuer + `"`
	if code != "" {
		challenge += `, error="` + code + `"`
	}
	w.Header().Set("WWW-Authenticate", challenge)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// AgentIDFromContext extracts the authenticated agent ID from the request context.
func AgentIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(agentIDKey).(string)
	return id
}
