package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmehdipour/webhook-delivery/internal/config"
	"github.com/jmehdipour/webhook-delivery/internal/http/middleware"
	"github.com/jmehdipour/webhook-delivery/internal/logger"
	"github.com/jmehdipour/webhook-delivery/internal/repository"
	"github.com/jmehdipour/webhook-delivery/internal/service/ingest"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Ingester interface {
	Ingest(ctx context.Context, subscriptionID string, raw []byte, sigHeader string) (ingest.Result, error)
}

type CacheInvalidator interface {
	Invalidate(ctx context.Context, id string) error
}

type Deps struct {
	Config        config.Config
	Ingest        Ingester
	Subscriptions repository.SubscriptionsRepository
	Webhooks      repository.WebhooksRepository
	Attempts      repository.AttemptsRepository
	Cache         CacheInvalidator
	Redis         *redis.Client // rate limiter; nil disables it
	Logger        *zap.Logger
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(d Deps) *Server {
	lg := logger.OrNop(d.Logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(echoLevel(d.Config.Log.Level))
	e.Use(echoMid.Recover(), echoMid.Logger())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		RPS:            d.Config.RateLimit.RPS,
		KeyPrefix:      "rl:sub:",
		Window:         time.Second,
		RetryAfterHint: true,
	})
	e.POST("/ingest/:id", ingestHandler(d.Ingest, d.Config.HTTP.MaxBodyBytes), rlMW)

	e.GET("/status/:id", statusHandler(d.Webhooks, d.Attempts))
	e.GET("/subscriptions/:id/logs", subscriptionLogsHandler(d.Subscriptions, d.Attempts))
	e.GET("/logs", logsHandler(d.Attempts))
	e.GET("/logs/", logsHandler(d.Attempts))

	h := &subscriptionHandlers{repo: d.Subscriptions, cache: d.Cache, log: lg}
	admin := e.Group("/subscriptions", middleware.APIKeyMiddleware(d.Config.Admin.APIKey))
	for _, p := range []string{"", "/"} {
		admin.POST(p, h.create)
		admin.GET(p, h.list)
	}
	admin.GET("/:id", h.get)
	admin.PUT("/:id", h.update)
	admin.DELETE("/:id", h.delete)

	return &Server{e: e, log: lg}
}

func echoLevel(level string) log.Lvl {
	switch level {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	default:
		return log.INFO
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
