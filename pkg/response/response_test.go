package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"bizsuite-orchestrator/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newContext(requestID string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	if requestID != "" {
		c.Set("request_id", requestID)
	}
	return c, w
}

func TestSuccessEnvelope(t *testing.T) {
	c, w := newContext("req-1")
	Created(c, map[string]string{"run_id": "r-1"})

	assert.Equal(t, http.StatusCreated, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "req-1", body["request_id"], "meta is flattened into the envelope")
	assert.NotEmpty(t, body["timestamp"])
	assert.Equal(t, map[string]any{"run_id": "r-1"}, body["data"])

	c, w = newContext("")
	OK(c, nil)
	var resp SuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, resp.RequestID)
}

func TestError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
		logged     bool
	}{
		{"app error", apperror.ErrNotFound("Saga run"), http.StatusNotFound, "RES_001", "Saga run not found", false},
		{"wrapped", fmt.Errorf("approve: %w", apperror.ErrInvalidTransition("completed", "approve")), http.StatusConflict, "SAGA_003", "", false},
		{"database", apperror.ErrDatabaseError(fmt.Errorf("conn reset")), http.StatusInternalServerError, "SYS_001", "", true},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "SYS_000", "Internal server error", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newContext("req-9")
			Error(c, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.ErrorCode)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, resp.Message)
			}
			assert.Equal(t, "req-9", resp.RequestID)
			assert.Equal(t, tt.logged, len(c.Errors) > 0)
		})
	}
}

func TestPlain(t *testing.T) {
	c, w := newContext("req-2")
	Plain(c, http.StatusAccepted, gin.H{"received": true, "duplicate": false})

	assert.Equal(t, http.StatusAccepted, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, map[string]any{"received": true, "duplicate": false}, body)
}

func TestPlainError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"unknown provider", apperror.ErrUnknownProvider("acme"), http.StatusBadRequest, "WHK_001"},
		{"bad signature", apperror.ErrInvalidSignature(), http.StatusUnauthorized, "WHK_003"},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError, "SYS_000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newContext("")
			PlainError(c, tt.err)

			assert.Equal(t, tt.wantCode, w.Code)
			var body BareError
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantErr, body.ErrorCode)
			assert.NotEmpty(t, body.Error)
		})
	}
}
