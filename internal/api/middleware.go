package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	fnerrors "github.com/fieldnote-crm/fieldnote/internal/errors"
	"github.com/fieldnote-crm/fieldnote/internal/logging"
)

const (
	adminKeyHeader   = "X-Admin-Key"
	requestBodyLimit = 64 * 1024
)

// APIError represents a structured API error response
type APIError struct {
	ErrorMessage string            `json:"error"`
	Code         string            `json:"code,omitempty"`
	StatusCode   int               `json:"status_code"`
	Timestamp    int64             `json:"timestamp"`
	RequestID    string            `json:"request_id,omitempty"`
	Details      map[string]string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.ErrorMessage
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// recoverer turns handler panics into 500 responses.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Interface("error", err).
					Str("path", r.URL.Path).
					Str("method", r.Method).
					Str("request_id", logging.RequestIDFromContext(r.Context())).
					Bytes("stack", debug.Stack()).
					Msg("Panic recovered in API handler")

				writeErrorResponse(w, r, http.StatusInternalServerError, "internal_error",
					"An unexpected error occurred", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requireAdmin accepts the admin key from X-Admin-Key or a bearer token.
func requireAdmin(adminKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if adminKey == "" {
			writeErrorResponse(w, r, http.StatusServiceUnavailable, "not_configured", "Admin key not configured", nil)
			return
		}
		provided := strings.TrimSpace(r.Header.Get(adminKeyHeader))
		if provided == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				provided = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			}
		}
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(adminKey)) != 1 {
			writeErrorResponse(w, r, http.StatusUnauthorized, "unauthorized", "Invalid or missing admin key", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeErrorResponse writes a consistent error response
func writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, code, message string, details map[string]string) {
	resp := APIError{
		ErrorMessage: message,
		Code:         code,
		StatusCode:   statusCode,
		Timestamp:    time.Now().Unix(),
		RequestID:    logging.RequestIDFromContext(r.Context()),
		Details:      details,
	}
	writeJSON(w, statusCode, resp)
}

// writeError maps a service error to a status code. Internal errors are
// logged and replaced with genericMsg.
func writeError(w http.ResponseWriter, r *http.Request, err error, genericMsg string) {
	switch {
	case fnerrors.IsInvalidInput(err):
		writeErrorResponse(w, r, http.StatusBadRequest, "invalid_input", err.Error(), nil)
	case fnerrors.IsNotFound(err):
		writeErrorResponse(w, r, http.StatusNotFound, "not_found", err.Error(), nil)
	case fnerrors.IsConflict(err):
		writeErrorResponse(w, r, http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, fnerrors.ErrNotConfigured):
		writeErrorResponse(w, r, http.StatusServiceUnavailable, "not_configured", "Billing is not configured", nil)
	default:
		logging.FromContext(r.Context()).Error().Err(err).Msg(genericMsg)
		writeErrorResponse(w, r, http.StatusInternalServerError, "internal_error", genericMsg, nil)
	}
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("Failed to encode response")
	}
}

// decodeBody decodes a JSON body into dst and runs struct validation. It
// writes the error response itself and reports whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, requestBodyLimit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		msg := "Invalid JSON body"
		if !errors.Is(err, io.EOF) {
			msg = fmt.Sprintf("Invalid JSON body: %v", err)
		}
		writeErrorResponse(w, r, http.StatusBadRequest, "invalid_json", msg, nil)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				details[fe.Field()] = validationMessage(fe)
			}
			writeErrorResponse(w, r, http.StatusBadRequest, "validation_failed", "Request validation failed", details)
			return false
		}
		writeErrorResponse(w, r, http.StatusBadRequest, "validation_failed", err.Error(), nil)
		return false
	}
	return true
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	}
	return "failed " + fe.Tag() + " validation"
}
