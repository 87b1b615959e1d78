package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xpadev-net/memorial-livestream/internal/log"
	"github.com/xpadev-net/memorial-livestream/internal/provider"
	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

// ErrorCode represents an API error code.
type ErrorCode string

const (
	// Client errors
	ErrCodeBadRequest        ErrorCode = "BAD_REQUEST"
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden         ErrorCode = "FORBIDDEN"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeConflict          ErrorCode = "CONFLICT"
	ErrCodeValidation        ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidSignature  ErrorCode = "INVALID_SIGNATURE"
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeProviderRejected  ErrorCode = "PROVIDER_REJECTED"

	// Server errors
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
	ErrCodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error details.
type ErrorDetail struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable,omitempty"`
}

// NewErrorResponse creates a new error response.
func NewErrorResponse(code ErrorCode, message string) ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	}
}

// RespondError sends an error response with the given status code.
func RespondError(c *gin.Context, statusCode int, code ErrorCode, message string) {
	c.JSON(statusCode, NewErrorResponse(code, message))
}

// RespondBadRequest sends a 400 Bad Request response.
func RespondBadRequest(c *gin.Context, message string) {
	RespondError(c, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// RespondUnauthorized sends a 401 Unauthorized response.
func RespondUnauthorized(c *gin.Context, message string) {
	RespondError(c, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// RespondForbidden sends a 403 Forbidden response.
func RespondForbidden(c *gin.Context, message string) {
	RespondError(c, http.StatusForbidden, ErrCodeForbidden, message)
}

// RespondNotFound sends a 404 Not Found response.
func RespondNotFound(c *gin.Context, message string) {
	RespondError(c, http.StatusNotFound, ErrCodeNotFound, message)
}

// RespondInternalError sends a 500 Internal Server Error response.
func RespondInternalError(c *gin.Context, message string) {
	RespondError(c, http.StatusInternalServerError, ErrCodeInternal, message)
}

// RespondValidationError sends a 400 response for validation errors.
func RespondValidationError(c *gin.Context, message string) {
	RespondError(c, http.StatusBadRequest, ErrCodeValidation, message)
}

// RespondDomainError maps engine and provider errors to HTTP responses.
// Unclassified errors are logged and reported as 500 without detail.
func RespondDomainError(c *gin.Context, err error) {
	status, code := Classify(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		RespondInternalError(c, "Internal server error")
		return
	}
	resp := NewErrorResponse(code, err.Error())
	resp.Error.Retryable = code == ErrCodeProviderUnavailable
	c.JSON(status, resp)
}

// Classify returns the HTTP status and error code for err.
func Classify(err error) (int, ErrorCode) {
	switch {
	case errors.Is(err, stream.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, stream.ErrConflict):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, stream.ErrForbidden):
		return http.StatusForbidden, ErrCodeForbidden
	case errors.Is(err, stream.ErrInvalid):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, provider.ErrProviderRejected):
		return http.StatusUnprocessableEntity, ErrCodeProviderRejected
	case errors.Is(err, provider.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, ErrCodeProviderUnavailable
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}
