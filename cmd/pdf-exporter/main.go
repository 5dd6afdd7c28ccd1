// Command pdf-exporter serves the text-to-PDF export service: a REST API and
// an MCP endpoint in front of a shared headless-browser render engine.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	flag "github.com/spf13/pflag"
	_ "go.uber.org/automaxprocs"

	"github.com/arlden/pdf-exporter/billing"
	"github.com/arlden/pdf-exporter/config"
	"github.com/arlden/pdf-exporter/engine"
	"github.com/arlden/pdf-exporter/export"
	"github.com/arlden/pdf-exporter/gate"
	"github.com/arlden/pdf-exporter/markup"
	"github.com/arlden/pdf-exporter/queue"
	"github.com/arlden/pdf-exporter/server"
	"github.com/arlden/pdf-exporter/telemetry"
	"github.com/arlden/pdf-exporter/usage"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		port       = flag.Int("port", 0, "HTTP listening port (overrides config)")
		outDir     = flag.String("out-dir", "", "Artifact output directory (overrides config)")
		logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		logFormat  = flag.String("log-format", "", "Log format (text, json)")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *outDir != "" {
		cfg.OutDir = *outDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logFormat != "" {
		cfg.LogFormat = *logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.OutDir, 0o750); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	// Assemble the pipeline: ledger, gate, serialized queue, lazy engine
	// pool, and the export service orchestrating them.
	ledger := usage.NewLedger()
	policy := gate.New(ledger, gate.Limits{
		MaxChars:   cfg.FreeMaxChars,
		MaxExports: cfg.FreeMaxExports,
	})

	renderQueue := queue.New(queue.WithLogger(logger.With("component", "queue")))
	defer renderQueue.Close()

	launch := engine.Launcher(engine.LaunchConfig{
		Bin:          cfg.BrowserBin,
		NoSandbox:    cfg.NoSandbox,
		StageTimeout: cfg.StageTimeout,
		SettleDelay:  cfg.SettleDelay,
	})

	metrics, err := telemetry.NewMetrics(telemetry.Config{
		ServiceName:      "pdf-exporter",
		ServiceVersion:   version,
		EnablePrometheus: cfg.EnableMetrics,
	}, func() int64 { return int64(renderQueue.Depth()) })
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	pool := engine.NewPool(launch,
		engine.WithLaunchTimeout(cfg.LaunchTimeout),
		engine.WithPoolLogger(logger.With("component", "engine")),
		engine.WithRestartHook(func() {
			metrics.RecordEngineRestart(context.Background())
		}),
	)
	defer func() { _ = pool.Close() }()

	svc := export.New(
		export.Config{
			OutDir:        cfg.OutDir,
			PublicBaseURL: cfg.BaseURL(),
			Timeout:       cfg.ExportTimeout,
		},
		export.Deps{
			Sanitizer: markup.NewSanitizer(),
			Gate:      policy,
			Ledger:    ledger,
			Queue:     renderQueue,
			Engines:   pool,
		},
		export.WithLogger(logger.With("component", "export")),
		export.WithMetrics(metrics),
	)

	opts := []server.Option{}
	if cfg.StripeSecretKey != "" {
		opts = append(opts, server.WithBilling(billing.New(billing.Config{
			SecretKey:       cfg.StripeSecretKey,
			PriceProMonthly: cfg.PriceProMonthly,
			PriceLifetime:   cfg.PriceLifetime,
			PriceDayPass:    cfg.PriceDayPass,
			AppOrigin:       cfg.BaseURL(),
		})))
		logger.Info("billing enabled")
	}

	srv := server.New(server.Config{
		Address:    cfg.Address(),
		BaseURL:    cfg.BaseURL(),
		OutDir:     cfg.OutDir,
		UpgradeURL: cfg.UpgradeURL,
		Version:    version,
		Logger:     logger,
	}, svc, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	logger.Info("server started",
		"address", srv.Address(),
		"base_url", cfg.BaseURL(),
		"out_dir", cfg.OutDir,
		"free_max_chars", cfg.FreeMaxChars,
		"free_max_exports", cfg.FreeMaxExports,
	)

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.FromEnv(), nil
}

func newLogger(cfg config.Config) (*slog.Logger, error) {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case "text":
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: level})
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	default:
		return nil, fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	return slog.New(handler), nil
}
