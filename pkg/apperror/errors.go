package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError carries a stable error code and the HTTP status it maps to.
// Err is the internal cause and never reaches the client.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any *AppError with the same code, so
// errors.Is(err, ErrNotFound("")) holds for every not-found error.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// HasCode reports whether err wraps an *AppError with code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Domain Events (EVT) ----

func ErrMissingEventType() *AppError {
	return New("EVT_001", "Event type is required", http.StatusBadRequest)
}

func ErrMissingTenant() *AppError {
	return New("EVT_002", "Tenant id is required", http.StatusBadRequest)
}

func ErrInvalidEventType(eventType string) *AppError {
	return New("EVT_003", fmt.Sprintf("Invalid event type %q", eventType), http.StatusBadRequest)
}

func ErrInvalidPayload(err error) *AppError {
	return Wrap("EVT_004", "Payload does not match the event schema", http.StatusBadRequest, err)
}

// ---- Webhooks (WHK) ----

func ErrUnknownProvider(provider string) *AppError {
	return New("WHK_001", fmt.Sprintf("Unknown webhook provider %q", provider), http.StatusBadRequest)
}

func ErrMissingSignature() *AppError {
	return New("WHK_002", "Missing webhook signature", http.StatusBadRequest)
}

func ErrInvalidSignature() *AppError {
	return New("WHK_003", "Invalid webhook signature", http.StatusUnauthorized)
}

func ErrMalformedBody(err error) *AppError {
	return Wrap("WHK_004", "Webhook body must be a JSON object", http.StatusBadRequest, err)
}

func ErrDeliveryNotReplayable() *AppError {
	return New("WHK_005", "Delivery was successful and cannot be replayed", http.StatusConflict)
}

func ErrEventExpired() *AppError {
	return New("WHK_006", "Event is outside the replay window", http.StatusGone)
}

func ErrCircuitOpen() *AppError {
	return New("WHK_007", "Endpoint circuit is open, retry later", http.StatusServiceUnavailable)
}

// ---- Sagas (SAGA) ----

func ErrUnknownSaga(name string) *AppError {
	return New("SAGA_001", fmt.Sprintf("Saga %q is not registered", name), http.StatusBadRequest)
}

func ErrInvalidSagaDefinition(reason string) *AppError {
	return New("SAGA_002", "Invalid saga definition: "+reason, http.StatusBadRequest)
}

func ErrInvalidTransition(from, action string) *AppError {
	return New("SAGA_003", fmt.Sprintf("Cannot %s a saga run in status %s", action, from), http.StatusConflict)
}

// ---- Lookup (shared) ----

func ErrNotFound(entity string) *AppError {
	return New("RES_001", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_001", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_003", "Encryption service failure", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// ErrPayloadTooLarge is returned when a request body exceeds the size limit.
func ErrPayloadTooLarge() *AppError {
	return New("REQ_002", "Request body too large", http.StatusRequestEntityTooLarge)
}

// Validation returns a request validation error.
func Validation(message string) *AppError {
	return New("REQ_001", message, http.StatusBadRequest)
}
