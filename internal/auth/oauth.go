package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ErrProviderDisabled is returned when sign-in is attempted without client
// credentials configured.
var ErrProviderDisabled = errors.New("oauth provider not configured")

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// Identity is the operator identity an agent is registered under.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// OAuthProvider handles the OAuth2 code flow for operator sign-in.
type OAuthProvider struct {
	config      *oauth2.Config
	name        string
	userInfoURL string
}

// NewGoogleOAuth creates a provider for Google sign-in. An empty clientID
// yields a provider that refuses every exchange.
func NewGoogleOAuth(clientID, clientSecret, redirectURL string) *OAuthProvider {
	return &OAuthProvider{
		name:        "google",
		userInfoURL: googleUserInfoURL,
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     google.Endpoint,
		},
	}
}

// Configured reports whether client credentials are present.
func (p *OAuthProvider) Configured() bool {
	return p != nil && p.config.ClientID != ""
}

// LoginURL returns the consent screen URL carrying state.
func (p *OAuthProvider) LoginURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// Exchange trades an authorization code for the operator's identity.
func (p *OAuthProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	if !p.Configured() {
		return nil, ErrProviderDisabled
	}
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("oauth exchange: %w", err)
	}

	resp, err := p.config.Client(ctx, token).Get(p.userInfoURL)
	if err != nil {
		return nil, fmt.Errorf("oauth userinfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("oauth userinfo status %d: %s", resp.StatusCode, body)
	}

	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return nil, fmt.Errorf("oauth userinfo decode: %w", err)
	}
	if id.ID == "" {
		return nil, errors.New("oauth userinfo: missing subject id")
	}
	if id.Name == "" {
		id.Name = id.Email
	}
	return &id, nil
}

// Name returns the provider name stored alongside registered agents.
func (p *OAuthProvider) Name() string {
	return p.name
}
