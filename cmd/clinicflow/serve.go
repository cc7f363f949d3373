package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinicflow/internal/adapters/httpapi"
	"clinicflow/internal/clinical"
	"clinicflow/internal/replication"
)

func runServer(ctx context.Context, configFile string) error {
	a, err := bootstrap(ctx, configFile, os.Stdout)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	catalog, err := a.formulary()
	if err != nil {
		return err
	}
	var assistant clinical.Assistant
	if c := a.assistant(); c != nil {
		assistant = c
	} else {
		a.logger.Warn().Msg("inference.url is empty; assist and intake routes are disabled")
	}

	e := httpapi.NewServer(httpapi.Deps{
		Service:        a.svc,
		Assistant:      assistant,
		Formulary:      catalog,
		Reports:        a.exporter(),
		Archive:        replication.NewArchive(a.archive),
		Metrics:        a.metrics,
		MetricsHandler: a.metrics.Handler(),
		Ready:          a.store.EnsureIndexes,
		Logger:         a.logger.With().Str("component", "http").Logger(),
	})

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", a.cfg.HTTP.Addr).Msg("starting server")
		if err := e.Start(a.cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sig)

	for {
		select {
		case err := <-errCh:
			return err
		case s := <-sig:
			if s == syscall.SIGHUP {
				if err := catalog.Reload(); err != nil {
					a.logger.Error().Err(err).Msg("formulary reload failed")
				}
				continue
			}
			a.logger.Info().Str("signal", s.String()).Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return e.Shutdown(shutdownCtx)
		}
	}
}
