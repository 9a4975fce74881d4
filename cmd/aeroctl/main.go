package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"aeroctl/internal/api"
	"aeroctl/internal/config"
	"aeroctl/internal/logging"
	"aeroctl/internal/service"
	"aeroctl/telemetry"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "Path to configuration file")
	configCheck := flag.Bool("config-check", false, "Validate configuration and exit")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if *configCheck {
		fmt.Println("Configuration check completed successfully.")
		os.Exit(0)
	}

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	defer cleanup()
	log.Logger = logger

	collector, err := newTelemetryCollector(cfg.Telemetry)
	if err != nil {
		logger.Warn().Err(err).Msg("telemetry disabled")
		collector = telemetry.Noop()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc, err := service.New(cfg, *cfgPath, logger, collector)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create service")
	}
	if err := svc.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start service")
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn().Err(err).Msg("service shutdown incomplete")
		}
	}()

	if cfg.API.Enabled {
		server := api.New(svc, logger, cfg.Telemetry.Enabled)
		go func() {
			if err := server.Start(cfg.API.Listen); err != nil {
				logger.Error().Err(err).Msg("api server stopped")
				cancel()
			}
		}()
		defer func() {
			if err := server.Shutdown(); err != nil {
				logger.Warn().Err(err).Msg("api shutdown failed")
			}
		}()
	}

	if err := svc.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("service stopped with error")
	}
}

// loadConfig reads the file when it exists and falls back to built-in
// defaults otherwise, so the daemon runs without any configuration.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

func newTelemetryCollector(cfg config.TelemetryConfig) (telemetry.Collector, error) {
	if !cfg.Enabled {
		return telemetry.Noop(), nil
	}
	return telemetry.NewPrometheusCollector(nil)
}
