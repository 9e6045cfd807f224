// Package logging configures the global zerolog logger and carries
// request IDs through contexts and HTTP handlers.
package logging

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

type ctxKey string

const (
	requestIDKey ctxKey = "fieldnote_request_id"

	// RequestIDHeader is read from and echoed on HTTP requests.
	RequestIDHeader = "X-Request-ID"

	timeFormat = time.RFC3339
)

// Config controls logger initialization.
type Config struct {
	Format    string // json, console or auto
	Level     string
	Component string
}

// state is the configured output, guarded for the Init/FromContext race
// in tests.
var state struct {
	sync.RWMutex
	writer    io.Writer
	component string
}

var (
	nowFn        = time.Now
	isTerminalFn = term.IsTerminal
)

func init() {
	state.writer = os.Stderr
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Init installs the global logger. Invalid formats and levels fall back to
// json and info with a note on stderr.
func Init(cfg Config) zerolog.Logger {
	state.Lock()
	defer state.Unlock()

	zerolog.TimeFieldFormat = timeFormat
	zerolog.TimestampFunc = nowFn
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := writerFor(cfg.Format)
	builder := zerolog.New(out).With().Timestamp()
	component := strings.TrimSpace(cfg.Component)
	if component != "" {
		builder = builder.Str("component", component)
	}

	state.writer = out
	state.component = component
	log.Logger = builder.Logger()
	return log.Logger
}

// WithRequestID puts requestID on ctx, generating a UUID when it is blank.
func WithRequestID(ctx context.Context, requestID string) (context.Context, string) {
	if ctx == nil {
		ctx = context.Background()
	}
	if requestID = strings.TrimSpace(requestID); requestID == "" {
		requestID = uuid.NewString()
	}
	return context.WithValue(ctx, requestIDKey, requestID), requestID
}

// RequestIDFromContext returns the request ID stored on ctx, if any.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// FromContext returns the global logger enriched with the context's
// request ID. The result is a pointer so calls can chain off it.
func FromContext(ctx context.Context) *zerolog.Logger {
	state.RLock()
	logger := log.Logger
	state.RUnlock()

	if id := RequestIDFromContext(ctx); id != "" {
		logger = logger.With().Str("request_id", id).Logger()
	}
	return &logger
}

// Middleware assigns a request ID to every request and logs completion.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := nowFn()
		ctx, id := WithRequestID(r.Context(), r.Header.Get(RequestIDHeader))
		w.Header().Set(RequestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		logger := FromContext(ctx)
		event := logger.Debug()
		if rec.status >= http.StatusInternalServerError {
			event = logger.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", nowFn().Sub(start)).
			Msg("Request handled")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func parseLevel(raw string) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(raw))
	switch name {
	case "":
		return zerolog.InfoLevel
	case "warning":
		return zerolog.WarnLevel
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel {
		fmt.Fprintf(os.Stderr, "logging: unknown level %q, using info\n", raw)
		return zerolog.InfoLevel
	}
	return level
}

func writerFor(format string) io.Writer {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return os.Stderr
	case "console":
		return consoleWriter()
	case "", "auto":
		if isTerminalFn(int(os.Stderr.Fd())) {
			return consoleWriter()
		}
		return os.Stderr
	default:
		fmt.Fprintf(os.Stderr, "logging: unknown format %q, using json\n", format)
		return os.Stderr
	}
}

func consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: timeFormat}
}
