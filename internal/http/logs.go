package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/jmehdipour/webhook-delivery/internal/model"
	"github.com/jmehdipour/webhook-delivery/internal/repository"
	echo "github.com/labstack/echo/v4"
)

const maxPageLimit = 1000

type statusResponse struct {
	ID             string              `json:"id"`
	SubscriptionID string              `json:"subscription_id"`
	EventType      *string             `json:"event_type,omitempty"`
	IngestedAt     time.Time           `json:"ingested_at"`
	Status         model.WebhookStatus `json:"status"`
	LatestAttempt  *model.AttemptLog   `json:"latest_attempt"`
	Attempts       []model.AttemptLog  `json:"attempts"`
}

func statusHandler(webhooks repository.WebhooksRepository, attempts repository.AttemptsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		wh, err := webhooks.Get(ctx, c.Param("id"))
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Webhook not found"})
		}
		if err != nil {
			c.Logger().Errorf("status: load webhook: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		rows, err := attempts.ListByWebhook(ctx, wh.ID)
		if err != nil {
			c.Logger().Errorf("status: list attempts: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		if rows == nil {
			rows = []model.AttemptLog{}
		}

		res := statusResponse{
			ID:             wh.ID,
			SubscriptionID: wh.SubscriptionID,
			EventType:      wh.EventType,
			IngestedAt:     wh.IngestedAt,
			Status:         wh.Status,
			Attempts:       rows,
		}
		if len(rows) > 0 {
			res.LatestAttempt = &rows[len(rows)-1]
		}
		return c.JSON(http.StatusOK, res)
	}
}

func subscriptionLogsHandler(subs repository.SubscriptionsRepository, attempts repository.AttemptsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		id := c.Param("id")
		if _, err := subs.Get(ctx, id); errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Subscription not found"})
		} else if err != nil {
			c.Logger().Errorf("logs: load subscription: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		rows, err := attempts.ListBySubscription(ctx, id, queryInt(c, "limit", 20, 1, maxPageLimit))
		if err != nil {
			c.Logger().Errorf("logs: list attempts: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		if rows == nil {
			rows = []model.AttemptLog{}
		}
		return c.JSON(http.StatusOK, rows)
	}
}

func logsHandler(attempts repository.AttemptsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		skip := queryInt(c, "skip", 0, 0, -1)
		limit := queryInt(c, "limit", 100, 1, maxPageLimit)

		rows, err := attempts.List(c.Request().Context(), skip, limit)
		if err != nil {
			c.Logger().Errorf("logs: list attempts: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		if rows == nil {
			rows = []model.AttemptLog{}
		}
		return c.JSON(http.StatusOK, rows)
	}
}

// queryInt reads an integer query param. Unparsable values and values below
// lo fall back to def; values above hi (when hi >= 0) are clamped.
func queryInt(c echo.Context, name string, def, lo, hi int) int {
	v := c.QueryParam(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo {
		return def
	}
	if hi >= 0 && n > hi {
		return hi
	}
	return n
}
