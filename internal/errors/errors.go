// Package errors defines the application error taxonomy and its HTTP
// mapping.
//
// Stable error codes travel in two shapes: a gofulmen ErrorEnvelope for
// structured logs, and an HTTPErrorResponse JSON body for the service
// surface. Both are built from the same AppError.
package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
)

// Stable application error codes.
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeExternalService    = "EXTERNAL_SERVICE_ERROR"
	CodeInternal           = "INTERNAL_ERROR"
)

// AppError is an error with a stable code and an HTTP status.
type AppError struct {
	Code    string
	Message string
	Status  int
	Details map[string]any

	cause error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.cause }

// WithDetails attaches structured context and returns the error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// Envelope renders the error as a gofulmen envelope for logging.
func (e *AppError) Envelope(correlationID string) *gferrors.ErrorEnvelope {
	env := gferrors.NewErrorEnvelope(e.Code, e.Message)
	if correlationID != "" {
		env = env.WithCorrelationID(correlationID)
	}
	if len(e.Details) > 0 {
		if withCtx, err := env.WithContext(e.Details); err == nil {
			env = withCtx
		}
	}
	return env
}

// NewValidationError reports rejected input.
func NewValidationError(message string) *AppError {
	return &AppError{Code: CodeValidationError, Message: message, Status: http.StatusBadRequest}
}

// NewNotFoundError reports a missing resource.
func NewNotFoundError(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message, Status: http.StatusNotFound}
}

// NewServiceUnavailableError reports a dependency that cannot serve.
func NewServiceUnavailableError(message string) *AppError {
	return &AppError{Code: CodeServiceUnavailable, Message: message, Status: http.StatusServiceUnavailable}
}

// NewExternalServiceError reports a failing downstream system (store,
// message bus, mirror).
func NewExternalServiceError(service string, err error) *AppError {
	return &AppError{
		Code:    CodeExternalService,
		Message: fmt.Sprintf("%s unavailable", service),
		Status:  http.StatusBadGateway,
		cause:   err,
	}
}

// WrapInternal wraps an unexpected error as INTERNAL_ERROR. A nil err
// returns nil.
func WrapInternal(err error) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    CodeInternal,
		Message: "internal error",
		Status:  http.StatusInternalServerError,
		cause:   err,
	}
}

// HTTPErrorResponse is the JSON error body of the service surface.
type HTTPErrorResponse struct {
	Error HTTPErrorBody `json:"error"`
}

// HTTPErrorBody carries the error inside an HTTPErrorResponse.
type HTTPErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

type requestIDKey struct{}

// WithRequestID stores a request id for RespondWithError to echo back.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the stored request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RespondWithError writes err as an HTTPErrorResponse. Non-AppError
// values are reported as INTERNAL_ERROR without leaking their text.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := err.(*AppError)
	if !ok {
		appErr = WrapInternal(err)
	}

	resp := HTTPErrorResponse{Error: HTTPErrorBody{
		Code:      appErr.Code,
		Message:   appErr.Message,
		Details:   appErr.Details,
		RequestID: RequestIDFromContext(r.Context()),
	}}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Status)
	_ = json.NewEncoder(w).Encode(resp)
}

// NotFoundHandler serves the standard 404 envelope.
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	RespondWithError(w, r, NewNotFoundError(fmt.Sprintf("no route for %s", r.URL.Path)))
}

// MethodNotAllowedHandler serves the standard 405 envelope.
func MethodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	RespondWithError(w, r, &AppError{
		Code:    CodeMethodNotAllowed,
		Message: fmt.Sprintf("%s not allowed for %s", r.Method, r.URL.Path),
		Status:  http.StatusMethodNotAllowed,
	})
}
