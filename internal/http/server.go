package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/jmehdipour/room-slots/internal/config"
	"github.com/jmehdipour/room-slots/internal/http/middleware"
	"github.com/jmehdipour/room-slots/internal/logger"
	"github.com/jmehdipour/room-slots/internal/metrics"
	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmehdipour/room-slots/internal/repository"
	"github.com/jmehdipour/room-slots/internal/service/generation"
	"github.com/jmehdipour/room-slots/internal/service/management"
	"github.com/jmehdipour/room-slots/internal/service/query"
	"github.com/jmehdipour/room-slots/internal/service/requests"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deps are the services behind the API. Archive and Redis may be nil.
type Deps struct {
	Query      *query.Service
	Management *management.Service
	Generation *generation.Service
	Requests   *requests.Service
	Outbox     repository.OutboxRepository
	Archive    repository.EventArchive
	Redis      redis.UniversalClient
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(cfg config.Config, deps Deps, lg *zap.Logger) *Server {
	lg = logger.Or(lg).Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(echoLogLevel(cfg.Log.Level))
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	var mws []echo.MiddlewareFunc
	if cfg.RateLimit.Enabled {
		mws = append(mws, middleware.RateLimitMiddleware(middleware.RateLimitConfig{
			Redis:          deps.Redis,
			Limit:          cfg.RateLimit.Limit,
			KeyPrefix:      "rl:ip:",
			Window:         cfg.RateLimit.Window,
			RetryAfterHint: true,
		}))
	}

	// routes
	v1 := e.Group("/v1", mws...)

	rooms := v1.Group("/rooms/:roomId")
	rooms.GET("/slots", listSlotsHandler(deps.Query))
	rooms.GET("/slots/available", availableSlotsHandler(deps.Query))
	rooms.GET("/slots/count", countAvailableHandler(deps.Query))
	rooms.GET("/slots/:date/:time", getSlotHandler(deps.Query))
	rooms.POST("/slots/pending", markPendingHandler(deps.Management))
	rooms.POST("/slots/confirm", slotActionHandler(deps.Management.Confirm))
	rooms.POST("/slots/cancel", cancelSlotHandler(deps.Management))
	rooms.POST("/slots/close", slotActionHandler(deps.Management.Close))
	rooms.POST("/slots/reopen", slotActionHandler(deps.Management.Reopen))
	rooms.POST("/slots/ensure", ensureSlotsHandler(deps.Generation))
	rooms.PUT("/policy", updatePolicyHandler(deps.Requests))
	rooms.POST("/generation-requests", submitGenerationHandler(deps.Requests))
	rooms.POST("/closed-date-requests", submitClosedDatesHandler(deps.Requests))

	v1.POST("/reservations/:reservationId/confirm", confirmReservationHandler(deps.Management))
	v1.POST("/reservations/:reservationId/cancel", cancelReservationHandler(deps.Management))
	v1.GET("/requests/:id", getRequestHandler(deps.Requests))
	v1.GET("/outbox", listOutboxHandler(deps.Outbox))
	v1.GET("/reports/events", listArchivedEventsHandler(deps.Archive))

	return &Server{e: e, log: lg}
}

func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	s.log.Info("listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

func echoLogLevel(level string) log.Lvl {
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

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}

// writeError maps domain errors to status codes.
func writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrSlotNotFound),
		errors.Is(err, model.ErrRequestNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, model.ErrSlotGenerationFailed),
		errors.Is(err, model.ErrPolicyNotFound):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrInvalidInput),
		errors.Is(err, model.ErrInvalidReservationID):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
		return c.JSON(status, map[string]string{"error": "internal error"})
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}
