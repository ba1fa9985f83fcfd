package http

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmehdipour/webhook-delivery/internal/model"
	"github.com/jmehdipour/webhook-delivery/internal/repository"
	"github.com/jmehdipour/webhook-delivery/internal/util"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type subscriptionReq struct {
	TargetURL  string   `json:"target_url"`
	Secret     *string  `json:"secret"`
	EventTypes []string `json:"event_types"`
}

func (r *subscriptionReq) validate() string {
	r.TargetURL = strings.TrimSpace(r.TargetURL)
	u, err := url.Parse(r.TargetURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "target_url must be an absolute http(s) URL"
	}
	if r.Secret != nil && *r.Secret == "" {
		r.Secret = nil
	}
	for _, t := range r.EventTypes {
		if strings.TrimSpace(t) == "" {
			return "event_types must not contain empty entries"
		}
	}
	return ""
}

type subscriptionHandlers struct {
	repo  repository.SubscriptionsRepository
	cache CacheInvalidator
	log   *zap.Logger
}

func (h *subscriptionHandlers) invalidate(ctx context.Context, id string) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Invalidate(ctx, id); err != nil {
		h.log.Warn("invalidate subscription cache", zap.String("subscription_id", id), zap.Error(err))
	}
}

// bindSubscription returns a non-zero status and message when the body is
// unusable.
func bindSubscription(c echo.Context) (subscriptionReq, int, string) {
	var req subscriptionReq
	if err := c.Bind(&req); err != nil {
		return req, http.StatusBadRequest, "bad request"
	}
	if msg := req.validate(); msg != "" {
		return req, http.StatusUnprocessableEntity, msg
	}
	return req, 0, ""
}

func (h *subscriptionHandlers) create(c echo.Context) error {
	req, status, msg := bindSubscription(c)
	if status != 0 {
		return c.JSON(status, map[string]string{"error": msg})
	}

	now := time.Now().UTC().Truncate(time.Second)
	sub := model.Subscription{
		ID:         util.NewSubscriptionID(),
		TargetURL:  req.TargetURL,
		Secret:     req.Secret,
		EventTypes: req.EventTypes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	ctx := c.Request().Context()
	if err := h.repo.Create(ctx, sub); err != nil {
		c.Logger().Errorf("create subscription: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "create failed"})
	}
	h.invalidate(ctx, sub.ID)
	h.log.Info("subscription created", zap.String("subscription_id", sub.ID))
	return c.JSON(http.StatusCreated, sub)
}

func (h *subscriptionHandlers) list(c echo.Context) error {
	skip := queryInt(c, "skip", 0, 0, -1)
	limit := queryInt(c, "limit", 100, 1, maxPageLimit)
	subs, err := h.repo.List(c.Request().Context(), skip, limit)
	if err != nil {
		c.Logger().Errorf("list subscriptions: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
	}
	if subs == nil {
		subs = []model.Subscription{}
	}
	return c.JSON(http.StatusOK, subs)
}

func (h *subscriptionHandlers) get(c echo.Context) error {
	sub, err := h.repo.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Subscription not found"})
	}
	if err != nil {
		c.Logger().Errorf("get subscription: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, sub)
}

func (h *subscriptionHandlers) update(c echo.Context) error {
	ctx := c.Request().Context()
	cur, err := h.repo.Get(ctx, c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Subscription not found"})
	}
	if err != nil {
		c.Logger().Errorf("get subscription: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
	}

	req, status, msg := bindSubscription(c)
	if status != 0 {
		return c.JSON(status, map[string]string{"error": msg})
	}

	cur.TargetURL = req.TargetURL
	cur.Secret = req.Secret
	cur.EventTypes = req.EventTypes
	cur.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	if err := h.repo.Update(ctx, *cur); err != nil {
		c.Logger().Errorf("update subscription: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "update failed"})
	}
	h.invalidate(ctx, cur.ID)
	h.log.Info("subscription updated", zap.String("subscription_id", cur.ID))
	return c.JSON(http.StatusOK, cur)
}

func (h *subscriptionHandlers) delete(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	err := h.repo.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Subscription not found"})
	}
	if err != nil {
		c.Logger().Errorf("delete subscription: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "delete failed"})
	}
	h.invalidate(ctx, id)
	h.log.Info("subscription deleted", zap.String("subscription_id", id))
	return c.NoContent(http.StatusNoContent)
}
