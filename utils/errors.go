package utils

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"lorekeeper-platform/internal/apperrors"
)

// ErrorResponse is the envelope every error reply uses.
type ErrorResponse struct {
	ErrorCode string      `json:"error_code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

// RespondWithError sends an error reply with an explicit status and code.
func RespondWithError(c *gin.Context, statusCode int, errorCode, message string, details interface{}) {
	c.JSON(statusCode, ErrorResponse{
		ErrorCode: errorCode,
		Message:   message,
		Details:   details,
	})
}

// RespondWithAppError maps a taxonomy code onto an HTTP status and
// replies with the safe user-facing message. Untagged errors surface
// as a generic 500.
func RespondWithAppError(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case apperrors.CodeNotFound:
		status = http.StatusNotFound
	case apperrors.CodeInvalidQuery, apperrors.CodeUnsupportedMimeType,
		apperrors.CodeEmptyFile, apperrors.CodeInvalidPDF, apperrors.CodeEncryptedPDF:
		status = http.StatusBadRequest
	}

	errorCode := strings.ToLower(string(code))
	if errorCode == "" {
		errorCode = "internal_error"
	}
	RespondWithError(c, status, errorCode, apperrors.UserMessage(err), nil)
}

// RespondWithBadRequest sends a 400 with a caller-chosen code.
func RespondWithBadRequest(c *gin.Context, errorCode, message string) {
	RespondWithError(c, http.StatusBadRequest, errorCode, message, nil)
}

// RespondWithUnauthorized sends a 401 Unauthorized error.
func RespondWithUnauthorized(c *gin.Context, message string) {
	RespondWithError(c, http.StatusUnauthorized, "unauthorized", message, nil)
}

// RespondWithInternalError sends a 500 with a caller-chosen code.
func RespondWithInternalError(c *gin.Context, errorCode, message string) {
	RespondWithError(c, http.StatusInternalServerError, errorCode, message, nil)
}
