package handler

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gosimple/slug"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/hexwar/api/internal/auth"
	"github.com/freeeve/hexwar/api/internal/repository"
)

const (
	stateCookie     = "oauth_state"
	stateCookiePath = "/auth/google"
	stateTTL        = 600 // seconds
	devProvider     = "dev"
)

// AuthHandler handles OAuth2 login flows and token refresh. Operators sign
// in with Google to register agents; the issued tokens are what the agent
// programs present.
type AuthHandler struct {
	google  *auth.OAuthProvider
	jwtMgr  *auth.JWTManager
	agents  repository.AgentRepository
	devMode bool
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(google *auth.OAuthProvider, jwtMgr *auth.JWTManager, agents repository.AgentRepository, devMode bool) *AuthHandler {
	return &AuthHandler{google: google, jwtMgr: jwtMgr, agents: agents, devMode: devMode}
}

// GoogleLogin redirects to Google's consent screen with a CSRF state bound
// to a short-lived cookie.
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.google.Configured() {
		writeError(w, http.StatusNotFound, "google sign-in is not configured")
		return
	}
	state := randomState()
	setStateCookie(w, state, stateTTL)
	http.Redirect(w, r, h.google.LoginURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback completes the OAuth2 flow and registers the agent.
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c, err := r.Cookie(stateCookie)
	if err != nil || c.Value == "" || c.Value != q.Get("state") {
		writeError(w, http.StatusBadRequest, "invalid oauth state")
		return
	}
	setStateCookie(w, "", -1)

	code := q.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing code parameter")
		return
	}
	info, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		log.Warn().Err(err).Msg("OAuth exchange failed")
		writeError(w, http.StatusUnauthorized, "oauth exchange failed")
		return
	}

	agent, err := h.agents.Upsert(r.Context(), h.google.Name(), info.ID, info.Name)
	if err != nil {
		log.Error().Err(err).Str("provider", h.google.Name()).Msg("Failed to upsert agent")
		writeError(w, http.StatusInternalServerError, "failed to create agent")
		return
	}
	h.issueTokens(w, agent.ID)
}

// RefreshToken exchanges a refresh token for a new pair. Tokens of agents
// that no longer exist are refused.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claims, err := h.jwtMgr.ValidateToken(req.RefreshToken)
	if err != nil || claims.Type != auth.TokenRefresh {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	agent, err := h.agents.FindByID(r.Context(), claims.AgentID)
	if err != nil {
		log.Error().Err(err).Str("agentId", claims.AgentID).Msg("Agent lookup failed during refresh")
		writeError(w, http.StatusInternalServerError, "failed to refresh token")
		return
	}
	if agent == nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	h.issueTokens(w, agent.ID)
}

// DevLogin registers or reuses an agent by name without OAuth. Only mounted
// in dev mode; scripted agents and local testing use it.
func (h *AuthHandler) DevLogin(w http.ResponseWriter, r *http.Request) {
	if !h.devMode {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	name := strings.TrimSpace(r.URL.Query().Get("name"))
	key := slug.Make(name)
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing or invalid name parameter")
		return
	}

	agent, err := h.agents.Upsert(r.Context(), devProvider, devProvider+"-"+key, name)
	if err != nil {
		log.Error().Err(err).Str("name", name).Msg("Failed to upsert dev agent")
		writeError(w, http.StatusInternalServerError, "failed to create agent")
		return
	}
	h.issueTokens(w, agent.ID)
}

func (h *AuthHandler) issueTokens(w http.ResponseWriter, agentID string) {
	tokens, err := h.jwtMgr.GenerateTokenPair(agentID)
	if err != nil {
		log.Error().Err(err).Str("agentId", agentID).Msg("Failed to sign tokens")
		writeError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func setStateCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    value,
		Path:     stateCookiePath,
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func randomState() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
