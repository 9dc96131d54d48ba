// Package api hosts the HTTP server: echo setup, middleware, health and
// metrics endpoints, and the versioned JSON API.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	gommonlog "github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apiv2 "github.com/originsmart/facility-monitor/internal/api/v2"
	"github.com/originsmart/facility-monitor/internal/conf"
	"github.com/originsmart/facility-monitor/internal/errors"
	"github.com/originsmart/facility-monitor/internal/logger"
	"github.com/originsmart/facility-monitor/internal/observability/metrics"
)

// Server is the HTTP front of the monitor.
type Server struct {
	echo     *echo.Echo
	api      *apiv2.Controller
	settings conf.ServerSettings
	log      logger.Logger
}

// NewServer builds the echo instance and registers every route.
func NewServer(s conf.ServerSettings, deps apiv2.Deps, m *metrics.Metrics, log logger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Debug = s.Debug
	if s.Debug {
		e.Logger.SetLevel(gommonlog.DEBUG)
	} else {
		e.Logger.SetLevel(gommonlog.ERROR)
	}

	srv := &Server{
		echo:     e,
		settings: s,
		log:      log.Module("http"),
	}
	e.HTTPErrorHandler = srv.handleHTTPError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.AllowedOrigins,
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, apiv2.HeaderUserID},
	}))
	e.Use(middleware.BodyLimit("2M"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency),
				logger.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				srv.log.Warn("request failed", append(fields, logger.Error(v.Error))...)
				return nil
			}
			srv.log.Debug("request", fields...)
			return nil
		},
	}))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if reg := m.Registry(); reg != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}

	srv.api = apiv2.New(e, deps, log)
	return srv
}

// Echo exposes the router, mainly for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	hs := &http.Server{
		Addr:         s.settings.Address(),
		Handler:      s.echo,
		ReadTimeout:  s.settings.ReadTimeout.Std(),
		WriteTimeout: s.settings.WriteTimeout.Std(),
	}
	s.log.Info("http server listening", logger.String("addr", hs.Addr))
	if err := s.echo.StartServer(hs); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.New(err).
			Component("http").
			Category(errors.CategoryNetwork).
			Context("addr", hs.Addr).
			Build()
	}
	return nil
}

// Shutdown ends device streams and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.api.Shutdown()
	timeout := s.settings.ShutdownTimeout.Std()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

// handleHTTPError renders router-level errors (unknown route, bad method,
// body too large) in the API error shape.
func (s *Server) handleHTTPError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := errors.HTTPStatus(err)
	message := http.StatusText(status)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		message = http.StatusText(status)
		if m, ok := he.Message.(string); ok {
			message = m
		}
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("unhandled request error", logger.String("path", c.Path()), logger.Error(err))
	}
	_ = c.JSON(status, apiv2.ErrorResponse{
		Error:     message,
		Message:   message,
		Code:      status,
		RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
	})
}
