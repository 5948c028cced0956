// someipd daemon -- SOME/IP client-side RemoteServer subsystem
// (eventgroup subscription, service discovery reaction, transport
// connection management).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/someipd/internal/client"
	"github.com/dantte-lp/someipd/internal/config"
	"github.com/dantte-lp/someipd/internal/reactor"
	"github.com/dantte-lp/someipd/internal/someipdmetrics"
	appversion "github.com/dantte-lp/someipd/internal/version"
)

// shutdownTimeout is the maximum time to wait for the metrics HTTP server to
// drain active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("someipd starting",
		slog.String("version", appversion.Version),
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.Int("reactor_queue_size", cfg.Reactor.QueueSize),
	)

	reg := prometheus.NewRegistry()
	metrics := someipdmetrics.NewCollector(reg)

	if err := runServers(cfg, reg, metrics, logger, *configPath, logLevel); err != nil {
		logger.Error("someipd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("someipd stopped")
	return 0
}

// runServers starts the reactor, the demo RemoteServer wiring, and the
// metrics HTTP server under one errgroup with a signal-aware context, and
// blocks until shutdown completes.
func runServers(
	cfg *config.Config,
	reg *prometheus.Registry,
	metrics *someipdmetrics.Collector,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	rtr := reactor.New(gCtx, reactor.WithQueueSize(cfg.Reactor.QueueSize))
	defer rtr.Close()

	// Reference wiring of one RemoteServer against the real transport
	// stack and a DirectScheduler (§4.7); this binary otherwise holds no
	// RemoteServer state (§6: "process-wide state: none inside the
	// core"). A production deployment replaces this with its own
	// per-instance construction driven by a real SD/transport daemon.
	demoRS, err := newDemoRemoteServer(rtr, metrics, logger)
	if err != nil {
		return fmt.Errorf("wire demo remote server: %w", err)
	}

	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
	})

	startSIGHUPHandler(gCtx, g, configPath, logLevel, logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, rtr, demoRS, logger, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// startSIGHUPHandler registers the SIGHUP reload goroutine: on receipt it
// reloads the log level from configPath, leaving everything else untouched.
func startSIGHUPHandler(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sigHUP:
				logger.Info("received SIGHUP, reloading configuration")
				reloadLogLevel(configPath, logLevel, logger)
			}
		}
	})
}

// reloadLogLevel loads a fresh configuration from configPath and updates the
// dynamic log level. Errors are logged but never stop the daemon.
func reloadLogLevel(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)
}

// gracefulShutdown shuts down the metrics server and stops the reactor.
//
// The parent context is already cancelled when this function is called. A
// fresh timeout context is created internally for server drain.
func gracefulShutdown(ctx context.Context, rtr *reactor.Reactor, demoRS *client.RemoteServer, logger *slog.Logger, srv *http.Server) error {
	logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := demoRS.Close(); err != nil {
		logger.Error("close demo remote server failed", slog.Any("error", err))
	}
	rtr.Close()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}

// listenAndServe creates a TCP listener using a ListenConfig (for noctx
// compliance) and serves HTTP requests until the server is shut down.
func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newMetricsServer creates an HTTP server for the Prometheus metrics endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar for
// dynamic log level changes via SIGHUP reload.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
