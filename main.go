// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/soothill/zwave-redis-bridge/app"
	"github.com/soothill/zwave-redis-bridge/config"
	"github.com/soothill/zwave-redis-bridge/pkg/logger"
	"github.com/soothill/zwave-redis-bridge/storage"
)

const healthCheckTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	metricsPort := flag.String("metrics-port", "9090", "Port for Prometheus metrics endpoint")
	healthCheck := flag.Bool("health-check", false, "Perform health check and exit")
	validateConfig := flag.Bool("validate-config", false, "Validate configuration file and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [transport]\n\n", os.Args[0])
		fmt.Fprintf(flag.CommandLine.Output(), "transport is a serial device path (default %s) or \"usb\".\n\n", config.DefaultTransport)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *healthCheck {
		os.Exit(performHealthCheck(*configPath))
	}

	if *validateConfig {
		os.Exit(performConfigValidation(*configPath))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Initialize("error")
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	applyTransportArg(cfg, flag.Args())

	logger.InitializeWithFormat(cfg.Logging.Level, cfg.Logging.Format)

	logger.Info().Msg("Starting Z-Wave Redis bridge")
	logger.Info().Str("transport", cfg.ZWave.Transport).
		Str("config_path", cfg.ZWave.ConfigPath).
		Dur("poll_interval", cfg.ZWave.PollInterval).
		Bool("store_discovery", cfg.Store.Discover).
		Msg("Configuration loaded")

	application, err := app.New(cfg, *metricsPort, *configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create application")
	}

	setupDebugSignalHandlers(application)

	if err := application.Run(); err != nil {
		logger.Error().Err(err).Msg("Bridge stopped with error")
	}
	logger.Info().Msg("Bridge stopped")
}

// applyTransportArg lets the first positional argument override the
// configured transport.
func applyTransportArg(cfg *config.Config, args []string) {
	if len(args) > 0 && args[0] != "" {
		cfg.ZWave.Transport = args[0]
	}
}

// performHealthCheck checks the configured store answers and returns the exit code
func performHealthCheck(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: could not load config: %v\n", err)
		return 1
	}
	if cfg.Store.Address == "" {
		fmt.Fprintln(os.Stderr, "Health check failed: no store address configured")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	store, err := storage.NewRedisStore(ctx, storage.RedisOptions{
		Addr:        cfg.Store.Address,
		Password:    cfg.Store.Password,
		DB:          cfg.Store.DB,
		DialTimeout: cfg.Store.DialTimeout,
		ReadTimeout: cfg.Store.ReadTimeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: store is unreachable: %v\n", err)
		return 1
	}
	defer store.Close()

	if err := store.Health(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: store is unhealthy: %v\n", err)
		return 1
	}

	fmt.Println("Health check passed: store is healthy")
	return 0
}

// performConfigValidation validates the configuration file and returns the exit code
func performConfigValidation(configPath string) int {
	fmt.Printf("Validating configuration file: %s\n", configPath)

	if err := config.ValidateWithSchema(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Schema validation failed:\n%v\n", err)
		return 1
	}
	fmt.Println("Schema validation passed")

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration validation failed: %v\n", err)
		return 1
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("  Store: %s (db %d, discover %t)\n", cfg.Store.Address, cfg.Store.DB, cfg.Store.Discover)
	fmt.Printf("  Transport: %s\n", cfg.ZWave.Transport)
	fmt.Printf("  Poll interval: %s\n", cfg.ZWave.PollInterval)
	fmt.Printf("  InfluxDB history: %t\n", cfg.InfluxDB.Enabled)
	fmt.Printf("  MQTT mirror: %t\n", cfg.MQTT.Enabled)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
	return 0
}
