package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"moneymarket/core"
	"moneymarket/core/events"
	"moneymarket/core/genesis"
	nativecommon "moneymarket/native/common"
	"moneymarket/observability"
	"moneymarket/observability/logging"
	"moneymarket/observability/metrics"
	telemetry "moneymarket/observability/otel"
	"moneymarket/services/lendingd/audit"
	"moneymarket/services/lendingd/config"
	"moneymarket/services/lendingd/server"
	lendingstate "moneymarket/state/lending"
	"moneymarket/storage"
)

var version = "dev"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		slog.Error("lendingd exited", "error", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("LENDING_ENV"))
	logger, logCloser := logging.Setup("lendingd", env, logging.Options{
		Level:      logging.ParseLevel(cfg.Log.Level),
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryConfig(cfg.Telemetry, env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	spec, err := genesis.Load(cfg.GenesisPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.ChainPath())
	if err != nil {
		return fmt.Errorf("open chain db: %w", err)
	}
	defer db.Close()

	auditStore, err := audit.Open(cfg.Audit.DSN)
	if err != nil {
		return err
	}
	defer auditStore.Close()
	auditStore.SetLogger(logger)

	idem, err := server.OpenIdempotencyStore(cfg.Idempotency.Path, cfg.Idempotency.TTL)
	if err != nil {
		return err
	}
	defer idem.Close()

	hub := server.NewHub()
	pauses := nativecommon.NewPauses(cfg.PausedModules...)
	node, err := core.NewNode(db, spec, core.NodeOptions{
		Logger:   logger,
		Pauses:   pauses,
		Sink:     events.Fanout{observability.Events(), auditStore, hub},
		OnCommit: func(_ uint64, samples []lendingstate.HistoryRecord) {
			metrics.Markets().Observe(samples)
		},
	})
	if err != nil {
		return err
	}
	auditStore.SetHeight(node.Height)

	api, err := server.New(server.Config{
		Node: node,
		Auth: server.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ScopeClaim: cfg.Auth.ScopeClaim,
			AdminScope: cfg.Auth.AdminScope,
			ClockSkew:  cfg.Auth.ClockSkew,
		},
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Idempotency:    idem,
		Audit:          auditStore,
		Hub:            hub,
		Pauses:         pauses,
		Metrics:        cfg.Telemetry.Metrics,
		OriginPatterns: cfg.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening", "address", cfg.ListenAddress, "height", node.Height(), "version", version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	produced := make(chan struct{})
	go func() {
		defer close(produced)
		produceBlocks(ctx, node, cfg.BlockInterval, logger)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			stop()
			<-produced
			return fmt.Errorf("serve http: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forcing server stop", "error", err)
		_ = httpServer.Close()
	}
	<-produced
	if err := node.Persist(); err != nil {
		return fmt.Errorf("final checkpoint: %w", err)
	}
	return nil
}

// produceBlocks advances the node one block per interval until ctx ends or
// the protocol halts.
func produceBlocks(ctx context.Context, node *core.Node, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			height, err := node.CommitBlock()
			if err != nil {
				logger.Error("commit block failed", "height", height, "error", err)
				if node.Protocol().Halted() != nil {
					return
				}
				continue
			}
			logger.Debug("block committed", "height", height)
		}
	}
}

func telemetryConfig(cfg config.TelemetryConfig, env string) telemetry.Config {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	}
	rawHeaders := cfg.Headers
	if rawHeaders == "" {
		rawHeaders = os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")
	}
	insecure := cfg.Insecure
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	return telemetry.Config{
		ServiceName:    "lendingd",
		ServiceVersion: version,
		Environment:    env,
		Endpoint:       endpoint,
		Insecure:       insecure,
		Headers:        telemetry.ParseHeaders(rawHeaders),
		Metrics:        cfg.Metrics && endpoint != "",
		Traces:         cfg.Traces,
		SampleRatio:    cfg.SampleRatio,
	}
}
