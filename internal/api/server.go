// Package api serves the daemon's health and metrics endpoints. It exposes
// no medicine or schedule data.
package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/gmsas95/medtrack/internal/config"
	"github.com/gmsas95/medtrack/internal/metrics"
)

// Check reports whether a dependency is usable
type Check func(ctx context.Context) error

// Server handles the loopback HTTP listener
type Server struct {
	app     *fiber.App
	config  config.ServerConfig
	version string
	started time.Time
	checks  map[string]Check
	logger  *zap.Logger
}

// New creates a new API server
func New(cfg config.ServerConfig, version string, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:           time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: true,
	})

	s := &Server{
		app:     app,
		config:  cfg,
		version: version,
		started: time.Now(),
		checks:  make(map[string]Check),
		logger:  logger,
	}

	s.setupRoutes()
	return s
}

// AddCheck registers a named dependency probe for /api/health
func (s *Server) AddCheck(name string, check Check) {
	s.checks[name] = check
}

func (s *Server) setupRoutes() {
	s.app.Use(recover.New())
	s.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	if len(s.config.AllowOrigins) > 0 {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(s.config.AllowOrigins, ","),
			AllowMethods: "GET, OPTIONS",
		}))
	}

	s.app.Get("/api/health", s.handleHealth)
	s.app.Get("/api/metrics", s.handleMetricsJSON)
	s.app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	status := "healthy"
	code := fiber.StatusOK
	results := fiber.Map{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
			results[name] = err.Error()
			status = "degraded"
			code = fiber.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	return c.Status(code).JSON(fiber.Map{
		"status":    status,
		"version":   s.version,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"timestamp": time.Now().Unix(),
		"checks":    results,
	})
}

func (s *Server) handleMetricsJSON(c *fiber.Ctx) error {
	return c.JSON(metrics.TakeSnapshot())
}

// App exposes the fiber app for in-process requests
func (s *Server) App() *fiber.App {
	return s.app
}

// Addr is the configured listen address
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Address, s.config.Port)
}

// Start listens until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("Health server listening", zap.String("addr", s.Addr()))
	return s.app.Listen(s.Addr())
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
