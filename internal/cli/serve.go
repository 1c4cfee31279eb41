package cli

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/helixir/unpaywall-client/internal/cache"
	"github.com/helixir/unpaywall-client/internal/domain"
	"github.com/helixir/unpaywall-client/internal/scheduler"
	httpserver "github.com/helixir/unpaywall-client/internal/server/http"
)

func (a *App) newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve lookups over HTTP and prune the cache on a schedule",
		Args:  withUsage(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

// serve runs the HTTP API until ctx is canceled, then shuts down gracefully.
func (a *App) serve(ctx context.Context) error {
	cfg := a.cfg

	var rc *cache.ResponseCache
	if domain.Backend(cfg.API.Backend) == domain.BackendCache {
		rc, _ = a.client.Cache().(*cache.ResponseCache)
	}

	opts := []httpserver.Option{httpserver.WithHealthCheck(a.client.Ping)}
	if rc != nil {
		opts = append(opts, httpserver.WithCacheAdmin(rc))
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, httpserver.WithMetrics(a.metrics, a.registry))
	}

	srv := httpserver.NewServer(httpserver.Config{
		Address:         cfg.Server.Address(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MetricsPath:     cfg.Metrics.Path,
	}, a.client, a.logger, opts...)

	if rc != nil && cfg.Scheduler.Enabled {
		sched := scheduler.New(rc, a.logger, scheduler.WithLock(scheduler.LockFunc(a.client.Lock())))
		if err := sched.SchedulePrune(cfg.Scheduler.PruneSchedule); err != nil {
			return usage(err)
		}
		sched.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), srv.ShutdownTimeout())
			defer cancel()
			if err := sched.Stop(stopCtx); err != nil {
				a.logger.Warn().Err(err).Msg("scheduler did not stop in time")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), srv.ShutdownTimeout())
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
