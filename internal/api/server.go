// Package api exposes the service over a small REST surface plus the
// Prometheus metrics endpoint.
package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"aeroctl/internal/service"
)

// Server wraps the fiber application around the service.
type Server struct {
	app     *fiber.App
	svc     *service.Service
	logger  zerolog.Logger
	metrics bool
}

// New builds the API server. When metrics is true the Prometheus
// handler is mounted at /metrics.
func New(svc *service.Service, logger zerolog.Logger, metrics bool) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           120 * time.Second,
		ServerHeader:          "aeroctl",
		AppName:               "aeroctl",
		DisableStartupMessage: true,
	})

	s := &Server{
		app:     app,
		svc:     svc,
		logger:  logger.With().Str("component", "api").Logger(),
		metrics: metrics,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.app.Group("/api")

	api.Get("/health", s.getHealth)
	api.Get("/status", s.getStatus)

	api.Post("/fan/mode", s.setFanMode)
	api.Post("/fan/speed", s.setFanSpeed)

	api.Post("/battery/policy", s.setBatteryPolicy)
	api.Post("/battery/threshold", s.setBatteryThreshold)

	api.Get("/profile", s.getProfile)
	api.Put("/profile", s.putProfile)

	if s.metrics {
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}
}

// Start serves on the given address until Shutdown.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("listen", address).Msg("api server starting")
	return s.app.Listen(address)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
