package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is logged server-side with its request id and returned to the
// client as a user-facing message from core.MapError. HTMX requests get an
// HTML fragment; everything else gets JSON.

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"

	"github.com/JonMunkholm/csvedit/internal/core"
	"github.com/JonMunkholm/csvedit/internal/logging"
	"github.com/JonMunkholm/csvedit/internal/web/templates"
)

var errRateLimited = errors.New("rate limit exceeded")

// ErrorResponse is the JSON body of an API error.
// Code is machine-readable; Message and Action are for people.
type ErrorResponse struct {
	Error       string            `json:"error"`
	Message     string            `json:"message"`
	Action      string            `json:"action,omitempty"`
	Code        string            `json:"code"`
	ParseErrors []ParseErrorEntry `json:"parse_errors,omitempty"`
}

// ParseErrorEntry locates one malformed record of a rejected load.
type ParseErrorEntry struct {
	Row     int    `json:"row"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Message string `json:"message"`
}

// requestError marks a malformed request. Its text is safe to show.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

var msgBadRequest = core.UserMessage{
	Message: "The request is not valid",
	Action:  "Check the request and try again",
	Code:    "REQ001",
}

// statusFor picks the HTTP status for an error.
func statusFor(err error) int {
	var rejected *core.LoadRejectedError
	var reqErr *requestError
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &rejected):
		return http.StatusUnprocessableEntity
	case errors.As(err, &maxBytes), errors.Is(err, core.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &reqErr), errors.Is(err, core.ErrInvalidHandle):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrPrecondition), errors.Is(err, core.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManySessions), errors.Is(err, core.ErrTooManyOperations):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, core.ErrReadFailure) && errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, core.ErrReadFailure), errors.Is(err, core.ErrWriteFailure):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// userMessage maps err for display. Request errors keep their own text
// unless the core has a more specific message.
func userMessage(err error) core.UserMessage {
	var reqErr *requestError
	if errors.As(err, &reqErr) && !core.IsUserFacing(err) {
		msg := msgBadRequest
		msg.Message = reqErr.msg
		return msg
	}
	return core.MapError(err)
}

// respondError logs err and writes a user-facing response.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := userMessage(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	var rejected *core.LoadRejectedError
	errors.As(err, &rejected)

	if isHTMX(r) {
		renderErrorPartial(w, r, msg, rejected, status)
		return
	}

	resp := ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
	if rejected != nil {
		for _, pe := range rejected.Errors {
			resp.ParseErrors = append(resp.ParseErrors, ParseErrorEntry{
				Row:     pe.Row,
				Line:    pe.Line,
				Column:  pe.Column,
				Message: pe.Message,
			})
		}
	}
	writeJSON(w, status, resp)
}

// respondErrorJSON writes a JSON error response.
// Used by middleware that runs before a handler has a Server.
func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// renderErrorPartial renders an HTMX-compatible error fragment.
func renderErrorPartial(w http.ResponseWriter, r *http.Request, msg core.UserMessage, rejected *core.LoadRejectedError, statusCode int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)

	ctx := r.Context()
	if err := templates.ErrorAlert(msg.Message, msg.Action, msg.Code).Render(ctx, w); err != nil {
		logging.FromContext(ctx).Error("render error alert", "error", err)
		return
	}
	if rejected != nil {
		if err := templates.ParseErrorList(rejected.Errors).Render(ctx, w); err != nil {
			logging.FromContext(ctx).Error("render parse errors", "error", err)
		}
	}
}

// isHTMX checks if the request is an HTMX request.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}
