package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/jmehdipour/webhook-delivery/internal/service/ingest"
	"github.com/jmehdipour/webhook-delivery/internal/signature"
	"github.com/labstack/echo/v4"
)

func ingestHandler(svc Ingester, maxBody int64) echo.HandlerFunc {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return func(c echo.Context) error {
		req := c.Request()
		raw, err := io.ReadAll(http.MaxBytesReader(c.Response(), req.Body, maxBody))
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "body too large"})
			}
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		res, err := svc.Ingest(req.Context(), c.Param("id"), raw, req.Header.Get(signature.Header))
		switch {
		case err == nil:
		case errors.Is(err, ingest.ErrSubscriptionNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Subscription not found"})
		case errors.Is(err, ingest.ErrInvalidSignature):
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		case errors.Is(err, ingest.ErrMalformedBody):
			return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		case errors.Is(err, ingest.ErrEnqueue):
			c.Logger().Errorf("ingest: %v", err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "queue unavailable"})
		default:
			c.Logger().Errorf("ingest: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "ingest failed"})
		}

		if res.Filtered {
			return c.JSON(http.StatusAccepted, map[string]any{
				"message":  "Webhook filtered by event type",
				"filtered": true,
			})
		}
		return c.JSON(http.StatusAccepted, map[string]any{
			"message":    "Webhook accepted for processing",
			"webhook_id": res.WebhookID,
		})
	}
}
