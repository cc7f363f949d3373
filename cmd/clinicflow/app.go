package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"clinicflow/internal/blob"
	"clinicflow/internal/clinical"
	"clinicflow/internal/config"
	"clinicflow/internal/core"
	"clinicflow/internal/formulary"
	"clinicflow/internal/metrics"
	"clinicflow/internal/replication"
	"clinicflow/internal/report"
	"clinicflow/pkg/domain"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Collectors
	store   domain.DocumentStore
	archive blob.Store
	sync    *replication.Adapter
	svc     *core.Service
}

func bootstrap(ctx context.Context, configFile string, logOut io.Writer) (*app, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: cfg.Log.NewLogger(logOut), metrics: metrics.New()}

	a.archive, err = blob.Open(ctx, cfg.BlobOptions())
	if err != nil {
		return nil, fmt.Errorf("open blob archive: %w", err)
	}

	a.store, err = core.OpenPersistentStore(cfg.StorageOptions(), nil)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	if s, ok := a.store.(interface{ DB() *sql.DB }); ok {
		a.metrics.Registry().MustRegister(collectors.NewDBStatsCollector(s.DB(), cfg.Storage.Driver))
	}

	repCfg := cfg.Replication()
	publishers, err := repCfg.Publishers(a.archive)
	if err != nil {
		_ = a.store.Close()
		return nil, err
	}
	opts := append(repCfg.Options(),
		replication.WithLogger(a.logger.With().Str("component", "sync").Logger()),
		replication.WithMetrics(a.metrics),
	)
	a.sync = replication.New(publishers, opts...)

	a.svc = core.NewService(a.store,
		core.WithLogger(a.logger.With().Str("component", "core").Logger()),
		core.WithNotifier(a.sync),
		core.WithMetricsRecorder(a.metrics),
	)
	a.logger.Info().
		Str("storage", cfg.Storage.Driver).
		Str("blob", string(a.archive.Driver())).
		Strs("sync", a.sync.Publishers()).
		Msg("clinicflow initialised")
	return a, nil
}

func (a *app) exporter() *report.Exporter {
	return report.NewExporter(a.svc, a.archive, report.WithLogger(a.logger.With().Str("component", "report").Logger()))
}

func (a *app) assistant() *clinical.Client {
	if a.cfg.Inference.URL == "" {
		return nil
	}
	return clinical.NewClient(a.cfg.Inference.URL,
		clinical.WithTimeout(a.cfg.Inference.Timeout),
		clinical.WithRetries(a.cfg.Inference.Retries),
		clinical.WithLogger(a.logger.With().Str("component", "inference").Logger()),
	)
}

func (a *app) formulary() (*formulary.Catalog, error) {
	return formulary.Load(a.cfg.Formulary.Path, formulary.WithLogger(a.logger.With().Str("component", "formulary").Logger()))
}

// close drains in-flight sync publishes before releasing the store.
func (a *app) close(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := errors.Join(a.sync.Close(ctx), a.svc.Close()); err != nil {
		a.logger.Error().Err(err).Msg("shutdown")
	}
}
