package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nexusallow/internal/bootstrap"
	"nexusallow/internal/history"
	"nexusallow/internal/metrics"
	"nexusallow/internal/reconcile"
	"nexusallow/internal/watch"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run as a sidecar: bootstrap once, then reconcile on every allowlist change",
		RunE:  runSidecar,
	}
}

func runSidecar(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	var store *history.Store
	var recorder reconcile.RunRecorder
	if cfg.History.Enabled {
		store, err = history.NewStore(cfg.History.DBPath, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		recorder = store
	}

	client := newClient(cfg, cfg.Manager.AdminPassword)
	reconciler := reconcile.New(client, recorder, logger)

	reconcileAll := func(ctx context.Context) error {
		specs, err := buildSpecs(cfg, registry)
		if err != nil {
			return err
		}
		return reconciler.ApplyAll(ctx, specs)
	}

	seq := bootstrap.NewSequencer(bootstrap.Config{
		DataDir:       cfg.Manager.DataDir,
		AdminPassword: cfg.Manager.AdminPassword,
		NewClient:     clientFactory(cfg),
		Reconcile:     reconcileAll,
		PollInterval:  time.Duration(cfg.Reconcile.BootstrapPollSeconds) * time.Second,
		Logger:        logger,
	})
	if err := seq.Run(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	if cfg.Metrics.Enabled {
		startMetricsServer(ctx, cfg.Metrics.Listen)
	}

	// Steady state: failures are logged and left for the next trigger.
	fire := func(ctx context.Context) {
		if err := reconcileAll(ctx); err != nil {
			logger.Error("reconciliation finished with errors", "err", err)
		}
		if store != nil {
			retention := time.Duration(cfg.History.RetentionDays) * 24 * time.Hour
			if _, err := store.Prune(ctx, retention); err != nil {
				logger.Warn("history prune failed", "err", err)
			}
		}
	}

	var files []string
	for _, ecoCfg := range cfg.Ecosystems {
		if ecoCfg.Enabled && ecoCfg.AllowlistFile != "" {
			files = append(files, ecoCfg.AllowlistFile)
		}
	}
	trigger, err := watch.New(files,
		time.Duration(cfg.Reconcile.DebounceSeconds)*time.Second,
		time.Duration(cfg.Reconcile.ResyncMinutes)*time.Minute,
		logger)
	if err != nil {
		return err
	}
	defer trigger.Close()

	// One pass up front so a restart converges immediately instead of
	// waiting for the first file change or resync tick.
	fire(ctx)

	logger.Info("sidecar ready", "ecosystems", len(files))
	if err := trigger.Run(ctx, fire); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutting down")
	return nil
}

func startMetricsServer(ctx context.Context, listen string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", metrics.Collector.Handler())
	srv := &http.Server{Addr: listen, Handler: mux}

	go func() {
		logger.Info("metrics listening", "addr", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
