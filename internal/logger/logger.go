// Package logger provides structured logging using zerolog.
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type contextKey string

const requestIDKey contextKey = "request_id"

const milliTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Init configures the global logger from the environment:
//
//	LOG_LEVEL   zerolog level name, default info
//	LOG_FORMAT  "json" for raw JSON lines, otherwise a console writer
//	LOG_FILE    optional file that receives a copy of every line
func Init() {
	zerolog.TimeFieldFormat = milliTimeFormat
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	zerolog.CallerMarshalFunc = shortCaller

	level, err := zerolog.ParseLevel(envOr("LOG_LEVEL", "info"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	jsonOut := strings.EqualFold(os.Getenv("LOG_FORMAT"), "json")
	var output io.Writer = os.Stdout
	if !jsonOut {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: milliTimeFormat,
			NoColor:    os.Getenv("DEV_MODE") != "true",
		}
	}
	if path := os.Getenv("LOG_FILE"); path != "" {
		if f, ferr := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); ferr == nil {
			output = io.MultiWriter(output, f)
		}
	}

	log.Logger = zerolog.New(output).With().Timestamp().Caller().Str("service", "hexwar").Logger()
	log.Info().Str("level", level.String()).Bool("json", jsonOut).Msg("Logger initialized")
}

const callerWidth = 30

// shortCaller renders file:line padded to a fixed width so console columns
// line up.
func shortCaller(_ uintptr, file string, line int) string {
	c := fmt.Sprintf("%s:%d", filepath.Base(file), line)
	if len(c) >= callerWidth {
		return c[len(c)-callerWidth:]
	}
	return c + strings.Repeat(" ", callerWidth-len(c))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Get returns the global logger instance.
func Get() zerolog.Logger {
	return log.Logger
}

// NewRequestID returns a time-ordered UUIDv7, so request IDs sort in
// arrival order when grepping logs.
func NewRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// WithRequestID returns a new context with the given request ID stored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the request ID from context, or empty string.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ForRequest returns a logger enriched with the request ID from context.
func ForRequest(ctx context.Context) zerolog.Logger {
	id := RequestIDFromContext(ctx)
	if id == "" {
		return log.Logger
	}
	return log.Logger.With().Str("requestId", id).Logger()
}

// ForMatch returns a logger tagged with the match ID.
func ForMatch(matchID string) zerolog.Logger {
	return log.Logger.With().Str("matchId", matchID).Logger()
}

// ForParticipant returns a request logger tagged with the match and participant.
func ForParticipant(ctx context.Context, matchID, participantID string) zerolog.Logger {
	return ForRequest(ctx).With().Str("matchId", matchID).Str("participantId", participantID).Logger()
}

// redactedFields never reach the log: bearer tokens from the auth endpoints
// and solved proof-of-work nonces.
var redactedFields = map[string]bool{
	"access_token":  true,
	"refresh_token": true,
	"nonce":         true,
}

const maxLoggedBody = 1000

// LogBody logs a request or response body at debug level. JSON objects have
// sensitive fields masked; long bodies are truncated.
func LogBody(logger zerolog.Logger, kind string, body []byte) {
	ev := logger.Debug()
	if len(body) == 0 || !ev.Enabled() {
		ev.Discard()
		return
	}
	text := string(redact(body))
	if len(text) > maxLoggedBody {
		text = text[:maxLoggedBody]
		ev = ev.Bool("truncated", true)
	}
	ev.Str(kind, text).Msg("Body")
}

func redact(body []byte) []byte {
	var obj map[string]json.RawMessage
	if json.Unmarshal(body, &obj) != nil {
		return body
	}
	masked := false
	for k := range obj {
		if redactedFields[k] {
			obj[k] = json.RawMessage(`"[redacted]"`)
			masked = true
		}
	}
	if !masked {
		return body
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return body
	}
	return out
}
