package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"lorekeeper-platform/internal/apperrors"
)

func appErrorReply(t *testing.T, err error) (int, ErrorResponse) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondWithAppError(c, err)

	var body ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return w.Code, body
}

func TestRespondWithAppErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", apperrors.New(apperrors.CodeNotFound, "document not found"), http.StatusNotFound, "not_found"},
		{"invalid query", apperrors.New(apperrors.CodeInvalidQuery, "query too long"), http.StatusBadRequest, "invalid_query"},
		{"unsupported type", apperrors.New(apperrors.CodeUnsupportedMimeType, "unsupported file type"), http.StatusBadRequest, "unsupported_mime_type"},
		{"encrypted pdf", apperrors.New(apperrors.CodeEncryptedPDF, "PDF is password protected"), http.StatusBadRequest, "encrypted_pdf"},
		{"embedding failure", apperrors.New(apperrors.CodeEmbeddingFailed, "embed endpoint returned status 502"), http.StatusInternalServerError, "embedding_failed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := appErrorReply(t, tc.err)
			if status != tc.status {
				t.Errorf("status = %d, want %d", status, tc.status)
			}
			if body.ErrorCode != tc.code {
				t.Errorf("error_code = %q, want %q", body.ErrorCode, tc.code)
			}
			if body.Message == "" {
				t.Error("message is empty")
			}
		})
	}
}

func TestRespondWithAppErrorUntagged(t *testing.T) {
	status, body := appErrorReply(t, errors.New("mongo: connection reset"))
	if status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", status)
	}
	if body.ErrorCode != "internal_error" {
		t.Errorf("error_code = %q, want internal_error", body.ErrorCode)
	}
	if body.Message != "internal error" {
		t.Errorf("untagged error leaked message %q", body.Message)
	}
}
