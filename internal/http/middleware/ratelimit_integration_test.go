//go:build integration

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmehdipour/webhook-delivery/internal/redistest"
	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestRateLimitMiddleware_Integration(t *testing.T) {
	rdb := redistest.Client(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	e := echo.New()
	e.POST("/ingest/:id", func(c echo.Context) error { return c.NoContent(http.StatusAccepted) },
		RateLimitMiddleware(RateLimitConfig{
			Redis:          rdb,
			RPS:            2,
			RetryAfterHint: true,
			Now:            func() time.Time { return now },
		}))

	hit := func(id string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest/"+id, nil))
		return rec
	}

	assert.Equal(t, http.StatusAccepted, hit("a").Code)
	assert.Equal(t, http.StatusAccepted, hit("a").Code)
	limited := hit("a")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusAccepted, hit("b").Code, "limits are per subscription")

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusAccepted, hit("a").Code, "next window")
}
