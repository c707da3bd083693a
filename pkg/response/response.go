// Package response writes the JSON bodies of the admin and inbound APIs.
package response

import (
	"errors"
	"net/http"
	"time"

	"bizsuite-orchestrator/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Meta is stamped on every enveloped body.
type Meta struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

type SuccessResponse struct {
	Data any `json:"data"`
	Meta
}

type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Meta
}

// BareError is the flat error body returned to third-party webhook senders.
type BareError struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
}

var internal = apperror.New("SYS_000", "Internal server error", http.StatusInternalServerError)

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, SuccessResponse{Data: data, Meta: meta(c)})
}

func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, SuccessResponse{Data: data, Meta: meta(c)})
}

// Error writes the enveloped error for err. Anything that is not an
// *apperror.AppError becomes SYS_000.
func Error(c *gin.Context, err error) {
	appErr := classify(c, err)
	c.JSON(appErr.HTTPStatus, ErrorResponse{
		ErrorCode: appErr.Code,
		Message:   appErr.Message,
		Meta:      meta(c),
	})
}

// Plain writes data with no envelope.
func Plain(c *gin.Context, status int, data any) {
	c.JSON(status, data)
}

func PlainError(c *gin.Context, err error) {
	appErr := classify(c, err)
	c.JSON(appErr.HTTPStatus, BareError{Error: appErr.Message, ErrorCode: appErr.Code})
}

// classify resolves err to the client-facing AppError. Server-side failures
// are attached to the gin context so the request logger can report them.
func classify(c *gin.Context, err error) *apperror.AppError {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		appErr = internal
	}
	if err != nil && appErr.HTTPStatus >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	return appErr
}

func meta(c *gin.Context) Meta {
	return Meta{RequestID: requestID(c), Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

func requestID(c *gin.Context) string {
	if id := c.GetString("request_id"); id != "" {
		return id
	}
	return uuid.NewString()
}
