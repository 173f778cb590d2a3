// Package server exposes docengine, queryengine and token over HTTP:
// an echo.Echo wired with a custom Binder, Prometheus and OpenTelemetry
// middleware, and one handler method per route on a server receiver.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/aep/docbase/docengine"
	"github.com/aep/docbase/eventbus"
	"github.com/aep/docbase/rules"
	"github.com/aep/docbase/schema"
	"github.com/aep/docbase/storage"
	"github.com/aep/docbase/token"
)

// server holds every collaborator a handler needs. Unexported; callers
// outside the package go through New, Main or CMD.
type server struct {
	db     *storage.DB
	engine *docengine.Engine
	bus    eventbus.Bus
	issuer *token.Issuer
	rules  *rules.Engine
	schema *schema.Registry
}

// Config collects the dependencies Main wires together.
type Config struct {
	DB           *storage.DB
	Bus          eventbus.Bus
	Rules        *rules.Engine
	Schemas      *schema.Registry
	SigningKey   []byte
	ListenAddr   string
	HealthAddr   string
	AdminToken   string
}

// New assembles the echo instance and registers every route. Separated
// from Main so tests can stand up a server against httptest without
// going through cobra or net.Listen.
func New(cfg Config) *echo.Echo {
	s := &server{
		db:     cfg.DB,
		engine: docengine.New(cfg.DB, cfg.Rules, cfg.Bus, cfg.Schemas),
		bus:    cfg.Bus,
		issuer: token.NewIssuer(cfg.SigningKey),
		rules:  cfg.Rules,
		schema: cfg.Schemas,
	}

	e := echo.New()
	e.Binder = &Binder{defaultBinder: &echo.DefaultBinder{}}
	e.HTTPErrorHandler = HTTPErrorHandler
	e.Use(middleware.Recover())
	e.Use(PrometheusMiddleware)
	e.Use(TracingMiddleware)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
	}))

	e.POST("/documents/auth/token", s.IssueToken)
	e.POST("/documents/batch", s.Batch)
	e.GET("/documents/sync", s.Sync)
	e.GET("/documents/query", s.Query)
	e.POST("/documents/internal/reset", s.adminOnly(cfg.AdminToken, s.Reset))
	e.POST("/documents/:collection", s.Create)
	e.GET("/documents/:collection", s.List)
	e.GET("/documents/:collection/:id", s.Get)
	e.PUT("/documents/:collection/:id", s.Set)
	e.PATCH("/documents/:collection/:id", s.Update)
	e.DELETE("/documents/:collection/:id", s.Delete)

	return e
}

// Main starts the HTTP server on cfg.ListenAddr and the metrics/health
// mux on cfg.HealthAddr, blocking until either exits.
func Main(cfg Config) error {
	e := New(cfg)

	go func() {
		if err := serveHealth(cfg.HealthAddr, cfg.DB); err != nil {
			slog.Error("server: health listener exited", "err", err)
		}
	}()

	slog.Info("server: listening", "addr", cfg.ListenAddr)
	return e.Start(cfg.ListenAddr)
}

func (s *server) adminOnly(adminToken string, next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if adminToken == "" || c.Request().Header.Get("X-Admin-Token") != adminToken {
			return echo.NewHTTPError(http.StatusForbidden, "admin token required")
		}
		return next(c)
	}
}

func withTimeout(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), 30*time.Second)
}

func workspaceOrDefault(v string) string {
	if v == "" {
		return "default"
	}
	return v
}

func docPath(collection, id string) string {
	return fmt.Sprintf("%s/%s", collection, id)
}
