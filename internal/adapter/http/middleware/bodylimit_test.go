package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func bodyEcho(limit int64) *gin.Engine {
	r := gin.New()
	r.Use(MaxBodySize(limit))
	r.POST("/inbound/:provider", func(c *gin.Context) {
		b, err := io.ReadAll(c.Request.Body)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.String(http.StatusRequestEntityTooLarge, "streamed limit %d", tooLarge.Limit)
			return
		}
		c.String(http.StatusOK, string(b))
	})
	return r
}

func TestMaxBodySize(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		chunked  bool
		wantCode int
		wantBody string
	}{
		{"under limit", `{"a":1}`, false, http.StatusOK, `{"a":1}`},
		{"exact limit", strings.Repeat("x", 16), false, http.StatusOK, strings.Repeat("x", 16)},
		{"declared too large", strings.Repeat("x", 17), false, http.StatusRequestEntityTooLarge, "REQ_002"},
		{"streamed too large", strings.Repeat("x", 64), true, http.StatusRequestEntityTooLarge, "streamed limit 16"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/inbound/logistics", strings.NewReader(tt.body))
			if tt.chunked {
				req.ContentLength = -1
			}
			w := httptest.NewRecorder()
			bodyEcho(16).ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestMaxBodySize_NoBody(t *testing.T) {
	r := gin.New()
	r.Use(MaxBodySize(16))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
}
