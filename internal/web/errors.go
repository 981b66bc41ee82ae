package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/JonMunkholm/tabimport/internal/core"
	"github.com/JonMunkholm/tabimport/internal/logging"
	"github.com/JonMunkholm/tabimport/internal/runs"
	"github.com/JonMunkholm/tabimport/internal/source"
)

// ErrorResponse is the JSON body of every API error. Code is stable and
// meant for support; Message and Action are for people.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err and writes its user message. The raw error text is
// never sent to the client.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	log := logger.Warn
	if status >= http.StatusInternalServerError {
		log = logger.Error
	}
	log("request error",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"code", msg.Code,
		"error", err,
	)

	if errors.Is(err, runs.ErrTooManyImports) {
		w.Header().Set("Retry-After", "30")
	}
	writeJSON(w, r, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	var badRequest *badRequestError
	switch {
	case errors.As(err, &badRequest):
		return http.StatusBadRequest
	case errors.Is(err, source.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, source.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, core.ErrUnknownKind),
		errors.Is(err, runs.ErrRunNotFound),
		errors.Is(err, core.ErrMappingNotFound):
		return http.StatusNotFound
	case errors.Is(err, runs.ErrImportRunning):
		return http.StatusConflict
	case errors.Is(err, runs.ErrTooManyImports),
		errors.Is(err, core.ErrSinkUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, source.ErrRemoteList):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrSourceUnavailable),
		errors.Is(err, core.ErrEmptySource):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// badRequestError marks malformed requests.
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return "invalid request: " + e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &badRequestError{err: err}
}
