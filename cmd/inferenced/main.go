package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/smartflow-crm/inference-gateway/internal/backend/chat"
	"github.com/smartflow-crm/inference-gateway/internal/backend/keyword"
	"github.com/smartflow-crm/inference-gateway/internal/breaker"
	"github.com/smartflow-crm/inference-gateway/internal/cache"
	"github.com/smartflow-crm/inference-gateway/internal/callcontext"
	"github.com/smartflow-crm/inference-gateway/internal/config"
	"github.com/smartflow-crm/inference-gateway/internal/gpu"
	"github.com/smartflow-crm/inference-gateway/internal/metrics"
	"github.com/smartflow-crm/inference-gateway/internal/orchestrator"
	"github.com/smartflow-crm/inference-gateway/internal/server"
	"github.com/smartflow-crm/inference-gateway/internal/session"
	"github.com/smartflow-crm/inference-gateway/internal/telemetry"
)

func main() {
	// Load .env if present; real deployments set the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.Init("smartflow-inference", logger)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("tracer shutdown failed", slog.String("error", err.Error()))
		}
	}()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Fatalf("failed to register metrics: %v", err)
	}

	primaryBreaker := breaker.New("primary", breaker.Config(cfg.Breakers.Primary))
	secondaryBreaker := breaker.New("secondary", breaker.Config(cfg.Breakers.Secondary))
	wakeBreaker := breaker.New("gpu-wake", breaker.Config(cfg.Breakers.Wake))
	for _, b := range []*breaker.Breaker{primaryBreaker, secondaryBreaker, wakeBreaker} {
		b.Subscribe(metrics.BreakerListener())
		b.Subscribe(logTransitions(logger))
	}

	responseCache := cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	sessions := session.NewStore(session.Config{
		TTL:           cfg.Session.TTL,
		SweepInterval: cfg.Session.SweepInterval,
		MaxMessages:   cfg.Session.MaxMessages,
	}, logger)
	contexts := callcontext.NewStore(cfg.Context.TTL, logger)

	secondaryClient := keyword.NewClient(cfg.Secondary.BaseURL,
		keyword.WithTimeout(cfg.Secondary.Timeout),
		keyword.WithPaths(cfg.Secondary.HealthPath, cfg.Secondary.WakePath),
	)

	var (
		primary   orchestrator.PrimaryClient
		secondary orchestrator.SecondaryClient
		ready     orchestrator.ReadinessChecker
	)
	gpuManager := gpu.NewManager(gpu.NewClientProber(secondaryClient), wakeBreaker, gpu.Config{
		HealthTTL:        cfg.GPU.HealthTTL,
		WakeTimeout:      cfg.GPU.WakeTimeout,
		WakePollInterval: cfg.GPU.WakePollInterval,
	}, logger)

	if cfg.MockMode {
		logger.Warn("mock mode enabled, backends will not be called")
		primary = orchestrator.MockPrimary{}
		secondary = orchestrator.MockSecondary{}
		ready = orchestrator.MockReadiness{}
	} else {
		primary = chat.NewClient(cfg.Primary.BaseURL, cfg.Primary.APIKey, cfg.Primary.Model,
			chat.WithTimeout(cfg.Primary.Timeout))
		secondary = secondaryClient
		ready = gpuManager
	}

	orch := orchestrator.New(orchestrator.Options{
		Primary:           primary,
		Secondary:         secondary,
		Ready:             ready,
		PrimaryBreaker:    primaryBreaker,
		SecondaryBreaker:  secondaryBreaker,
		Cache:             responseCache,
		Sessions:          sessions,
		Contexts:          contexts,
		ShortcutThreshold: cfg.Shortcut.ConfidenceThreshold,
		Logger:            logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sessions.Start(ctx)
	defer sessions.Stop()
	contexts.Start(ctx, cfg.Session.SweepInterval)
	defer contexts.Stop()

	handler := &server.Handler{
		Inference: orch,
		Sessions:  sessions,
		Contexts:  contexts,
		Cache:     responseCache,
		Breakers:  []*breaker.Breaker{primaryBreaker, secondaryBreaker, wakeBreaker},
		GPU:       gpuManager,
		Logger:    logger,
	}
	srv := server.New(cfg.Server.Port, cfg.Server.RequestTimeout, cfg.Server.APIKey, logger, handler)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server failed: %v", err)
		}
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func logTransitions(logger *slog.Logger) breaker.Listener {
	return func(tr breaker.Transition) {
		attrs := []slog.Attr{
			slog.String("breaker", tr.Name),
			slog.String("from", tr.From.String()),
			slog.String("to", tr.To.String()),
		}
		if tr.Cause != nil {
			attrs = append(attrs, slog.String("cause", tr.Cause.Error()))
		}
		logger.LogAttrs(context.Background(), slog.LevelWarn, "breaker transition", attrs...)
	}
}
