// Package main runs the pathcast gateway: the node's TCP websocket front
// door that proxies remote subscribers onto local unix-socket endpoints.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/pathcast/config"
	"github.com/c360/pathcast/gateway"
	"github.com/c360/pathcast/metric"
)

const (
	version = "0.1.0"
	appName = "pathcast-gateway"
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
		slog.Error("gateway failed", "error", err)
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

	cfg := config.DefaultGatewayConfig()
	if cli.configPath != "" {
		var err error
		cfg, err = config.LoadGateway(cli.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	metrics, promReg, err := metric.NewRegistered()
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	gw := gateway.New(cfg,
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics),
		gateway.WithMetricsHandler(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cli.shutdownTimeout)
	defer cancel()
	return gw.Stop(shutdownCtx)
}

func parseFlags() *cliConfig {
	cli := &cliConfig{}

	flag.StringVar(&cli.configPath, "config",
		os.Getenv("PATHCAST_GATEWAY_CONFIG"),
		"Path to yaml configuration file (env: PATHCAST_GATEWAY_CONFIG)")
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
