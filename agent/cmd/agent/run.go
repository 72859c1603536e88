package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/panelwatch/panelwatch/agent/internal/api"
	"github.com/panelwatch/panelwatch/agent/internal/config"
	"github.com/panelwatch/panelwatch/agent/internal/exposition"
	"github.com/panelwatch/panelwatch/agent/internal/prober"
	"github.com/panelwatch/panelwatch/agent/internal/scheduler"
	"github.com/panelwatch/panelwatch/agent/internal/store"
)

// run wires the store, scheduler and HTTP server together and blocks until
// ctx is cancelled or one of them fails. cfgPath, when set, is watched so
// edits are reported; they take effect on restart.
func run(ctx context.Context, cfg *config.Config, cfgPath string, ln net.Listener, logger *slog.Logger) error {
	reg := cfg.Registry()
	st := store.New(reg.Names())

	agentMetrics := prometheus.NewRegistry()
	agentMetrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sched, err := scheduler.New(reg, st, prober.New,
		scheduler.WithRegisterer(agentMetrics),
		scheduler.WithLogger(logger),
		scheduler.WithStartJitter(cfg.StartJitter),
	)
	if err != nil {
		ln.Close()
		return err
	}

	srv := &http.Server{
		Handler: api.New(st, api.Options{
			MetricsPath: cfg.MetricsPath,
			Renderer: exposition.New(exposition.Options{
				Namespace: cfg.Namespace,
				Stale:     cfg.StaleMeasurements,
			}, logger),
			Gatherer:   agentMetrics,
			Registerer: agentMetrics,
			Logger:     logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sched.Run(gctx)
	})

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info(name + " shutting down")
		notify(logger, daemon.SdNotifyStopping)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	if cfgPath != "" {
		g.Go(func() error {
			err := config.Watch(gctx, cfgPath, func(updated *config.Config, err error) {
				if err != nil {
					logger.Warn("config changed on disk but is invalid; keeping current config", "err", err)
					return
				}
				logger.Info("config changed on disk; restart to apply", "targets", updated.Registry().Len())
			})
			if err != nil {
				logger.Warn("config watcher stopped", "err", err)
			}
			return nil
		})
	}

	logger.Info("serving metrics",
		"addr", ln.Addr().String(),
		"metrics_path", cfg.MetricsPath,
		"namespace", cfg.Namespace,
	)
	notify(logger, daemon.SdNotifyReady)

	return g.Wait()
}

// notify sends state to systemd when running under a Type=notify unit.
func notify(logger *slog.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		logger.Warn("sd_notify failed", "state", state, "err", err)
	case sent:
		logger.Debug("sd_notify sent", "state", state)
	}
}
