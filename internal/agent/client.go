package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/hexwar/api/internal/service"
)

// APIError is a non-rejection error response from the server.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Unwrap maps well-known statuses onto service sentinels so callers can use
// errors.Is the same way for local and remote play.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return service.ErrMatchNotFound
	case http.StatusForbidden:
		return service.ErrNotParticipant
	case http.StatusConflict:
		return service.ErrMatchStillActive
	}
	return nil
}

// Client drives one agent against a remote server over HTTP, with optional
// WebSocket push for turn notices. It satisfies TurnService.
type Client struct {
	name    string
	baseURL string
	token   string
	agentID string
	httpC   *http.Client

	mu       sync.Mutex
	wsConn   *websocket.Conn
	closedWS bool
}

var _ TurnService = (*Client)(nil)

// NewClient creates a client for the server at baseURL.
func NewClient(name, baseURL string) *Client {
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpC:   &http.Client{Timeout: 30 * time.Second},
	}
}

// AgentID returns the agent id after Login.
func (c *Client) AgentID() string { return c.agentID }

// Login authenticates through the dev login endpoint and resolves the
// agent id.
func (c *Client) Login(ctx context.Context) error {
	var tokens struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/dev?name="+url.QueryEscape(c.name), nil, &tokens); err != nil {
		return fmt.Errorf("dev login: %w", err)
	}
	c.token = tokens.AccessToken

	var me struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/agents/me", nil, &me); err != nil {
		return fmt.Errorf("get agent: %w", err)
	}
	c.agentID = me.ID
	log.Debug().Str("agent", c.name).Str("agentId", c.agentID).Msg("Agent logged in")
	return nil
}

// Enqueue joins matchmaking.
func (c *Client) Enqueue(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/queue", nil, nil)
}

// QueueStatus reports the agent's queue state.
func (c *Client) QueueStatus(ctx context.Context) (*service.QueueStatus, error) {
	var st service.QueueStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/queue", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// WaitForMatch polls the queue until the agent has been paired.
func (c *Client) WaitForMatch(ctx context.Context, every time.Duration) (string, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		st, err := c.QueueStatus(ctx)
		if err != nil {
			return "", err
		}
		if st.MatchID != "" {
			return st.MatchID, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// CurrentTurn fetches the turn notice, with a fresh challenge when it is
// this agent's move.
func (c *Client) CurrentTurn(ctx context.Context, matchID, participantID string) (*service.TurnNotice, error) {
	var n service.TurnNotice
	if err := c.do(ctx, http.MethodGet, "/api/v1/matches/"+url.PathEscape(matchID)+"/turn", nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Submit posts one action. Refusals come back as *service.Rejection.
func (c *Client) Submit(ctx context.Context, matchID, participantID string, sub service.Submission) (*service.SubmitResult, error) {
	body := map[string]any{
		"action":        sub.Command.Action,
		"target_sector": sub.Command.TargetSector,
		"intensity":     sub.Command.Intensity,
		"tech_id":       sub.Command.TechID,
		"rationale":     sub.Rationale,
		"nonce":         sub.Nonce,
	}
	var res service.SubmitResult
	err := c.do(ctx, http.MethodPost, "/api/v1/matches/"+url.PathEscape(matchID)+"/actions", body, &res)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if rej := parseRejection(apiErr); rej != nil {
			return nil, rej
		}
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Ack acknowledges a completed match.
func (c *Client) Ack(ctx context.Context, matchID, participantID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/matches/"+url.PathEscape(matchID)+"/ack", nil, nil)
}

// parseRejection decodes a rejection body, or returns nil if the response
// was some other error.
func parseRejection(e *APIError) *service.Rejection {
	if e.Status != http.StatusConflict && e.Status != http.StatusUnprocessableEntity {
		return nil
	}
	var body struct {
		Reason string `json:"reason"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal([]byte(e.Body), &body) != nil || body.Reason == "" {
		return nil
	}
	code, _, _ := strings.Cut(body.Reason, ":")
	return &service.Rejection{Code: code, Detail: body.Detail}
}

// ConnectWS opens the push channel and calls wake for every event received.
func (c *Client) ConnectWS(ctx context.Context, wake func()) error {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/api/v1/ws?token=" + url.QueryEscape(c.token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("ws dial: %w", err)
	}
	c.mu.Lock()
	c.wsConn = conn
	c.mu.Unlock()

	go c.readWSLoop(wake)
	return nil
}

// CloseWS closes the push channel.
func (c *Client) CloseWS() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wsConn != nil && !c.closedWS {
		c.closedWS = true
		c.wsConn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.wsConn.Close()
	}
}

func (c *Client) readWSLoop(wake func()) {
	for {
		_, msg, err := c.wsConn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closedWS
			c.mu.Unlock()
			if !closed {
				log.Debug().Err(err).Str("agent", c.name).Msg("WS read error")
			}
			return
		}
		var event struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(msg, &event) == nil && event.Type != "" {
			wake()
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(data)
	} else if method == http.MethodPost {
		bodyReader = bytes.NewReader([]byte("{}"))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpC.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
