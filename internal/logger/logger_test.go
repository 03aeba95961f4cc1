package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestLogBodyRedactsCredentials(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf).Level(zerolog.DebugLevel)

	LogBody(l, "response", []byte(`{"access_token":"eyJsecret","refresh_token":"eyJother","expires_in":900}`))
	LogBody(l, "request", []byte(`{"action":"pass","nonce":"8f3a","rationale":"holding this turn"}`))

	out := buf.String()
	for _, secret := range []string{"eyJsecret", "eyJother", "8f3a"} {
		if strings.Contains(out, secret) {
			t.Errorf("log output leaked %q: %s", secret, out)
		}
	}
	if !strings.Contains(out, "holding this turn") || !strings.Contains(out, "expires_in") {
		t.Errorf("non-sensitive fields should be kept: %s", out)
	}
}

func TestLogBodyTruncates(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf).Level(zerolog.DebugLevel)

	LogBody(l, "request", bytes.Repeat([]byte("x"), maxLoggedBody+50))
	if !strings.Contains(buf.String(), `"truncated":true`) {
		t.Errorf("expected truncation flag: %s", buf.String())
	}
}

func TestLogBodySkippedAboveDebug(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf).Level(zerolog.InfoLevel)

	LogBody(l, "request", []byte(`{"action":"pass"}`))
	if buf.Len() != 0 {
		t.Errorf("expected nothing at info level, got %s", buf.String())
	}
}

func TestNewRequestIDTimeOrdered(t *testing.T) {
	a, b := NewRequestID(), NewRequestID()
	if a == b {
		t.Fatal("request IDs must be unique")
	}
	id, err := uuid.Parse(a)
	if err != nil || id.Version() != 7 {
		t.Errorf("expected a v7 UUID, got %q (%v)", a, err)
	}
	if a > b {
		t.Errorf("later ID %s sorts before %s", b, a)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Errorf("expected req-1, got %q", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty ID, got %q", got)
	}
}
