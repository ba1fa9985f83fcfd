package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func serve(mw echo.MiddlewareFunc, req *http.Request) int {
	e := echo.New()
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, mw)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec.Code
}

func TestAPIKeyMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		header     string
		want       int
	}{
		{"disabled", "", "", http.StatusNoContent},
		{"missing", "k", "", http.StatusUnauthorized},
		{"wrong", "k", "nope", http.StatusUnauthorized},
		{"prefix of the key", "secret", "sec", http.StatusUnauthorized},
		{"match", "k", "k", http.StatusNoContent},
		{"match with whitespace", "k", " k ", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(APIKeyHeader, tt.header)
			}
			assert.Equal(t, tt.want, serve(APIKeyMiddleware(tt.configured), req))
		})
	}
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	mw := RateLimitMiddleware(RateLimitConfig{RPS: 0})
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusNoContent, serve(mw, httptest.NewRequest(http.MethodGet, "/", nil)))
	}
}
