package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/sbp-dev/blackboard/internal/blackboard"
	"github.com/sbp-dev/blackboard/internal/config"
	"github.com/sbp-dev/blackboard/internal/metrics"
	"github.com/sbp-dev/blackboard/internal/pheromone"
	"github.com/sbp-dev/blackboard/internal/rpc"
	"github.com/sbp-dev/blackboard/internal/sbplog"
	"github.com/sbp-dev/blackboard/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the blackboard server",
	Long: `Starts the JSON-RPC/SSE server: the evaluation loop, the
pheromone store, and the HTTP transport, wired together and serving
until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "bind host (overrides config)")
	serveCmd.Flags().Int("port", 0, "bind port (overrides config)")
	serveCmd.Flags().String("config", "", "path to a YAML config file")
	serveCmd.Flags().String("log", "", "log level: debug, info, warn, error")
	serveCmd.Flags().String("log-level", "", "alias for --log")
	serveCmd.Flags().StringSlice("api-key", nil, "accepted API key (repeatable); empty disables auth")
	serveCmd.Flags().String("api-key-file", "", "YAML file with a comma-separated api_keys entry; watched and hot-reloaded")
	serveCmd.Flags().Int("rate-limit", 0, "requests per minute per caller; 0 disables rate limiting")
	serveCmd.Flags().Bool("trace", false, "emit OpenTelemetry spans to stdout")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Port = port
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if level, _ := cmd.Flags().GetString("log"); level != "" {
		cfg.LogLevel = level
	}
	if keys, _ := cmd.Flags().GetStringSlice("api-key"); len(keys) > 0 {
		cfg.APIKeys = keys
	}
	if keyFile, _ := cmd.Flags().GetString("api-key-file"); keyFile != "" {
		cfg.APIKeyFile = keyFile
	}
	if rl, _ := cmd.Flags().GetInt("rate-limit"); rl != 0 {
		cfg.RateLimitPerMinute = rl
	}

	sbplog.SetDebug(cfg.LogLevel == "debug")
	sbplog.SetQuiet(cfg.LogLevel == "warn" || cfg.LogLevel == "error")

	traceEnabled, _ := cmd.Flags().GetBool("trace")
	shutdownTracing, err := setupTracing(traceEnabled)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}

	// promhttp.Handler (wired in transport.Server) serves the default
	// registry, so instruments are registered against it directly.
	promMetrics := metrics.New(prometheus.DefaultRegisterer)

	engineCfg := blackboard.Config{
		EvaluationInterval:    time.Duration(cfg.EvaluationIntervalMs) * time.Millisecond,
		EmissionHistoryWindow: time.Duration(cfg.EmissionHistoryWindowMs) * time.Millisecond,
		MaxPheromones:         cfg.MaxPheromones,
		TTLFloorDefault:       cfg.TTLFloorDefault,
	}
	dispatcher := transport.NewHTTPTriggerDispatcher()
	engine := blackboard.NewEngine(engineCfg, pheromone.NewMemoryStore(), dispatcher)
	engine.SetMetrics(promMetrics)

	hub := transport.NewHub(engine, 1024)
	hub.SetMetrics(promMetrics)
	rpcDispatcher := rpc.NewDispatcher(engine, hub)

	keyStore := transport.NewKeyStore(cfg.APIKeys)
	var keyWatcher *fsnotify.Watcher
	if cfg.APIKeyFile != "" {
		if fileKeys, err := config.ReadAPIKeyFile(cfg.APIKeyFile); err != nil {
			sbplog.Warnf("sbp", "reading api key file %s: %v", cfg.APIKeyFile, err)
		} else {
			keyStore.Set(fileKeys)
		}

		keyWatcher, err = config.WatchAPIKeyFile(cfg.APIKeyFile, func(keys []string) {
			keyStore.Set(keys)
			sbplog.Infof("sbp", "reloaded %d api key(s) from %s", len(keys), cfg.APIKeyFile)
		})
		if err != nil {
			return fmt.Errorf("watching api key file: %w", err)
		}
		defer keyWatcher.Close()
	}

	transportCfg := transport.DefaultConfig()
	transportCfg.Host = cfg.Host
	transportCfg.Port = cfg.Port
	transportCfg.Auth = transport.AuthConfig{Keys: keyStore}
	transportCfg.RateLimit = transport.RateLimitConfig{RequestsPerMinute: cfg.RateLimitPerMinute}

	server := transport.NewServer(transportCfg, rpcDispatcher, hub)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine.Start(ctx)

	serveErrs := make(chan error, 1)
	go func() {
		serveErrs <- server.Start()
	}()

	sbplog.Infof("sbp", "listening on %s:%d (evaluation interval %dms)", cfg.Host, cfg.Port, cfg.EvaluationIntervalMs)

	select {
	case <-ctx.Done():
		sbplog.Infof("sbp", "shutdown signal received")
	case err := <-serveErrs:
		if err != nil {
			engine.Stop()
			return fmt.Errorf("serving: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		sbplog.Warnf("sbp", "error during shutdown: %v", err)
	}
	engine.Stop()
	shutdownTracing(shutdownCtx)

	return nil
}

// setupTracing installs a global TracerProvider when tracing is
// enabled. With tracing disabled (the default) it installs nothing, so
// every tracer.Start call in the engine and transport runs against
// OTel's no-op default provider.
func setupTracing(enabled bool) (func(context.Context), error) {
	if !enabled {
		return func(context.Context) {}, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) {
		if err := tp.Shutdown(ctx); err != nil {
			sbplog.Warnf("sbp", "tracer shutdown: %v", err)
		}
	}, nil
}
