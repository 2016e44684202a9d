// Package middleware provides the HTTP middleware chain for the service
// surface: request id propagation and panic recovery.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/gnssops/rinextank/internal/errors"
	"github.com/gnssops/rinextank/internal/observability"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// ErrorResponse is the JSON error body. Alias of the application error
// envelope so handlers and middleware stay in lockstep.
type ErrorResponse = apperrors.HTTPErrorResponse

// RequestID attaches a request id to the context and echoes it in the
// response. An inbound X-Request-ID is honored; otherwise one is
// generated.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(apperrors.WithRequestID(r.Context(), id)))
	})
}

// Recovery converts panics into the standard INTERNAL_ERROR envelope.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				requestID := apperrors.RequestIDFromContext(r.Context())
				observability.Logger().Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("request_id", requestID),
					zap.String("path", r.URL.Path),
				)

				appErr := &apperrors.AppError{
					Code:    apperrors.CodeInternal,
					Message: fmt.Sprintf("panic: %v", rec),
					Status:  http.StatusInternalServerError,
				}
				writeErrorResponse(w, appErr, requestID, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is Recovery under the name the router wiring uses.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

// writeErrorResponse writes the standard envelope without going through
// the handler-level responder; middleware must not depend on handler
// state after a panic.
func writeErrorResponse(w http.ResponseWriter, appErr *apperrors.AppError, requestID string, statusCode int) {
	resp := ErrorResponse{Error: apperrors.HTTPErrorBody{
		Code:      appErr.Code,
		Message:   appErr.Message,
		Details:   appErr.Details,
		RequestID: requestID,
	}}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}
