// Package app is the composition root: a single process constructs every
// component once and wires them by reference. There is no api/worker mode
// split — the Recovery Controller runs before the HTTP server starts
// accepting traffic, then the Provisioning Worker and the API share the
// same Store Store and Worker pool for the life of the process.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wisbric/storeplane/internal/api"
	"github.com/wisbric/storeplane/internal/config"
	"github.com/wisbric/storeplane/internal/httpserver"
	"github.com/wisbric/storeplane/internal/telemetry"
	"github.com/wisbric/storeplane/pkg/helmexec"
	"github.com/wisbric/storeplane/pkg/k8sprobe"
	"github.com/wisbric/storeplane/pkg/provisioner"
	"github.com/wisbric/storeplane/pkg/recovery"
	"github.com/wisbric/storeplane/pkg/storerecord"
)

// Run boots the process: opens storage, builds every component, performs
// one recovery pass, then serves HTTP until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting storeplane", "listen", cfg.ListenAddr())

	db, err := storerecord.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening store database: %w", err)
	}
	defer db.Close()

	store := storerecord.New(db)

	helm := helmexec.New(helmexec.Config{
		ChartPath:        cfg.HelmChartPath,
		ValuesFile:       cfg.HelmValuesFile,
		EnvValuesFile:    cfg.HelmEnvValuesFile,
		ExecutionTimeout: cfg.HelmExecutionTimeout,
	})

	probe, err := k8sprobe.New(cfg.Kubeconfig)
	if err != nil {
		return fmt.Errorf("building kubernetes probe: %w", err)
	}

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	worker := provisioner.New(store, helm, probe, logger, provisioner.Config{
		MaxWorkers:   int64(cfg.ProvisioningMaxWorkers),
		PollInterval: cfg.ProvisioningPollInterval(),
		Timeout:      cfg.ProvisioningTimeout(),
		Domain:       cfg.BaseDomain,
		Scheme:       cfg.Scheme(),
	})

	recoveryCtl := recovery.New(store, helm, worker, logger)
	if err := recoveryCtl.Run(ctx); err != nil {
		return fmt.Errorf("running recovery pass: %w", err)
	}

	srv := httpserver.NewServer(cfg, logger, db, metricsReg)
	handler := api.NewHandler(store, worker, logger)
	handler.Mount(srv.APIRouter)

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: srv,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "error", err)
	}

	if err := worker.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown", "error", err)
	}

	logger.Info("storeplane stopped")
	return nil
}
