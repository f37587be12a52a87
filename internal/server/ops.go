// Package server hosts the operational surfaces: an echo HTTP endpoint for
// probes and metrics, and a gRPC admin endpoint for health and reflection.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReadyFunc reports whether downstream dependencies are reachable.
type ReadyFunc func(ctx context.Context) error

// OpsConfig holds the HTTP listener configuration.
type OpsConfig struct {
	Addr string
}

// Ops serves /healthz, /readyz and /metrics.
type Ops struct {
	echo   *echo.Echo
	ready  ReadyFunc
	log    *zap.Logger
	config OpsConfig
}

func NewOps(cfg OpsConfig, ready ReadyFunc, log *zap.Logger) *Ops {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9090"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			log.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Ops{echo: e, ready: ready, log: log, config: cfg}
	s.registerRoutes()
	return s
}

func (s *Ops) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealthz)
	s.echo.GET("/readyz", s.handleReadyz)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

type probeResponse struct {
	Status string `json:"status"`
}

func (s *Ops) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, probeResponse{Status: "ok"})
}

// handleReadyz fails while the store is unreachable so orchestrators hold
// traffic until dependencies come back.
func (s *Ops) handleReadyz(c echo.Context) error {
	if s.ready != nil {
		if err := s.ready(c.Request().Context()); err != nil {
			s.log.Warn("readiness check failed", zap.Error(err))
			return c.JSON(http.StatusServiceUnavailable, probeResponse{Status: "unavailable"})
		}
	}
	return c.JSON(http.StatusOK, probeResponse{Status: "ready"})
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Ops) Start() error {
	s.log.Info("starting ops server", zap.String("addr", s.config.Addr))
	if err := s.echo.Start(s.config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Ops) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down ops server")
	return s.echo.Shutdown(ctx)
}

// Echo exposes the router for tests.
func (s *Ops) Echo() *echo.Echo { return s.echo }
