package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLoggingState() {
	state.Lock()
	defer state.Unlock()

	state.writer = os.Stderr
	state.component = ""
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	isTerminalFn = func(int) bool { return false }
}

func TestInitJSONFormatSetsLevelAndComponent(t *testing.T) {
	t.Cleanup(resetLoggingState)

	Init(Config{Format: "json", Level: "debug", Component: "billing"})

	state.RLock()
	defer state.RUnlock()
	assert.Equal(t, os.Stderr, state.writer)
	assert.Equal(t, "billing", state.component)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestInitConsoleFormatUsesConsoleWriter(t *testing.T) {
	t.Cleanup(resetLoggingState)

	Init(Config{Format: "console"})

	state.RLock()
	defer state.RUnlock()
	assert.IsType(t, zerolog.ConsoleWriter{}, state.writer)
}

func TestWriterForAutoDetectsTerminal(t *testing.T) {
	t.Cleanup(resetLoggingState)

	isTerminalFn = func(int) bool { return true }
	assert.IsType(t, zerolog.ConsoleWriter{}, writerFor("auto"))

	isTerminalFn = func(int) bool { return false }
	assert.Equal(t, os.Stderr, writerFor(""))
	assert.Equal(t, os.Stderr, writerFor("yaml"))
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"DEBUG":    zerolog.DebugLevel,
		"trace":    zerolog.TraceLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
		"bogus":    zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), "parseLevel(%q)", in)
	}
}

func TestWithRequestIDGeneratesWhenEmpty(t *testing.T) {
	ctx, id := WithRequestID(context.Background(), "  ")
	require.NotEmpty(t, id)
	assert.Equal(t, id, RequestIDFromContext(ctx))

	_, kept := WithRequestID(context.Background(), "req-123")
	assert.Equal(t, "req-123", kept)
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestFromContextAddsRequestID(t *testing.T) {
	t.Cleanup(resetLoggingState)

	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)

	ctx, _ := WithRequestID(context.Background(), "req-abc")
	FromContext(ctx).Info().Msg("hello")

	var event map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &event))
	assert.Equal(t, "req-abc", event["request_id"])
}

func TestMiddlewareEchoesRequestID(t *testing.T) {
	t.Cleanup(resetLoggingState)
	log.Logger = zerolog.Nop()

	var seen string
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "incoming-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "incoming-id", seen)
	assert.Equal(t, "incoming-id", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
