// Package main implements the collarkit daemon: a GPS pet collar
// tracking client that polls the portal REST API and consumes push
// updates over its streaming channel, maintaining a merged device map.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/collarkit/auth"
	"github.com/c360/collarkit/config"
	"github.com/c360/collarkit/coordinator"
	"github.com/c360/collarkit/metric"
	"github.com/c360/collarkit/rest"
	"github.com/c360/collarkit/stream"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "collarkit"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting collarkit",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	settings, err := loadSettings(cliCfg.ConfigPath)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	coord, apiClient, metricsRegistry, err := buildCoordinator(settings, logger)
	if err != nil {
		return err
	}
	defer func() { _ = apiClient.Close() }()

	return runWithSignalHandling(coord, metricsRegistry, settings, cliCfg.ShutdownTimeout)
}

// loadSettings loads and validates configuration
func loadSettings(path string) (config.Settings, error) {
	var cfg config.Config
	if path == "" {
		cfg = config.FromEnv()
	} else {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Settings{}, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	settings, err := cfg.Settings()
	if err != nil {
		return config.Settings{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return settings, nil
}

// buildCoordinator wires the credential manager, REST client, streaming
// session factory, and coordinator together
func buildCoordinator(
	settings config.Settings,
	logger *slog.Logger,
) (*coordinator.Coordinator, *rest.Client, *metric.Registry, error) {
	metricsRegistry := metric.NewRegistry()

	tokens := auth.NewManager(auth.Config{
		BaseURL:  settings.BaseURL,
		Token:    settings.Token,
		Email:    settings.Email,
		Password: settings.Password,
		Logger:   logger,
	})

	apiClient, err := rest.NewClient("rest", rest.Config{
		BaseURL: settings.BaseURL,
		Timeout: settings.HTTPTimeout,
	}, tokens, metricsRegistry, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create REST client: %w", err)
	}

	factory := func(deviceIDs []int64, handler stream.Handler) (*stream.Session, error) {
		return stream.NewSession("stream", stream.Config{
			StreamURL:         settings.StreamURL,
			DeviceIDs:         deviceIDs,
			HeartbeatInterval: settings.HeartbeatInterval,
			ReconnectDelay:    settings.ReconnectDelay,
		}, tokens, handler, metricsRegistry, logger)
	}

	coord, err := coordinator.New("coordinator", coordinator.Config{
		RefreshInterval: settings.RefreshInterval,
	}, apiClient, factory, metricsRegistry, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create coordinator: %w", err)
	}

	return coord, apiClient, metricsRegistry, nil
}

// runWithSignalHandling starts the coordinator and handles shutdown signals
func runWithSignalHandling(
	coord *coordinator.Coordinator,
	metricsRegistry *metric.Registry,
	settings config.Settings,
	shutdownTimeout time.Duration,
) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := coord.Start(signalCtx); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}

	metricsServer := startMetricsServer(settings.MetricsAddr, metricsRegistry)

	subID, changes := coord.Subscribe()
	defer coord.Unsubscribe(subID)

	go logChanges(signalCtx, coord, changes)

	slog.Info("collarkit started", "devices", coord.Health().Devices)

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	if err := coord.Stop(shutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("collarkit shutdown complete")
	return nil
}

// startMetricsServer exposes the Prometheus scrape endpoint when an
// address is configured
func startMetricsServer(addr string, registry *metric.Registry) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		slog.Info("metrics endpoint listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return server
}

// logChanges logs a summary line whenever device state changes
func logChanges(ctx context.Context, coord *coordinator.Coordinator, changes <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
		}

		for _, d := range coord.Snapshot() {
			attrs := []any{"device", d.Key(), "name", d.Name()}
			if pct, ok := d.BatteryPercentOf(); ok {
				attrs = append(attrs, "battery_pct", pct)
			}
			if mode, ok := d.CurrentMode(); ok {
				attrs = append(attrs, "mode", mode.String())
			}
			if d.LastPos != nil && d.LastPos.Latitude != nil && d.LastPos.Longitude != nil {
				attrs = append(attrs, "lat", *d.LastPos.Latitude, "lon", *d.LastPos.Longitude)
			}
			if last := d.LastContactTime(); !last.IsZero() {
				attrs = append(attrs, "last_contact", last)
			}
			slog.Debug("device state", attrs...)
		}
	}
}
