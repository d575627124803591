// Package main runs the pathcast registry: the path-tree registration
// service with liveness monitoring and the /metrics surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/c360/pathcast/config"
	"github.com/c360/pathcast/registry"
)

const (
	version = "0.1.0"
	appName = "pathcast-registry"
)

type cliConfig struct {
	configPath      string
	logLevel        string
	logFormat       string
	shutdownTimeout time.Duration
	showVersion     bool
}

func main() {
	if err := run(); err != nil {
		slog.Error("registry failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cli := parseFlags()
	if cli.showVersion {
		fmt.Printf("%s version %s\n", appName, version)
		return nil
	}

	logger := setupLogger(cli.logLevel, cli.logFormat)
	slog.SetDefault(logger)

	cfg := config.DefaultRegistryConfig()
	if cli.configPath != "" {
		var err error
		cfg, err = config.LoadRegistry(cli.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	srv, err := registry.NewServer(cfg, registry.WithServerLogger(logger))
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cli.shutdownTimeout)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func parseFlags() *cliConfig {
	cli := &cliConfig{}

	flag.StringVar(&cli.configPath, "config",
		os.Getenv("PATHCAST_REGISTRY_CONFIG"),
		"Path to yaml configuration file (env: PATHCAST_REGISTRY_CONFIG)")
	flag.StringVar(&cli.logLevel, "log-level",
		getEnv("PATHCAST_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: PATHCAST_LOG_LEVEL)")
	flag.StringVar(&cli.logFormat, "log-format",
		getEnv("PATHCAST_LOG_FORMAT", "json"),
		"Log format: json, text (env: PATHCAST_LOG_FORMAT)")
	flag.DurationVar(&cli.shutdownTimeout, "shutdown-timeout",
		10*time.Second, "Graceful shutdown timeout")
	flag.BoolVar(&cli.showVersion, "version", false, "Show version information")

	flag.Parse()
	return cli
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel, AddSource: logLevel == slog.LevelDebug}

	var handler slog.Handler
	if strings.ToLower(format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler).With(
		"service", appName,
		"version", version,
		"pid", os.Getpid(),
	)
}
