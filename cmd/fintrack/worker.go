package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rms81/fintrack-sub001/pkg/cron"
)

// newWorkerCmd runs the background maintenance loop: the stale-session sweep
// plus the Prometheus exposition endpoint.
func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run scheduled maintenance until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			scheduler := cron.NewScheduler(a.logger)
			if err := scheduler.AddSessionPruning(a.cfg.Import.PruneSchedule, a.imports); err != nil {
				return err
			}
			scheduler.Start()
			defer scheduler.Stop()

			var srv *http.Server
			if a.cfg.Observability.MetricsEnabled {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				srv = &http.Server{
					Addr:    fmt.Sprintf(":%d", a.cfg.Observability.MetricsPort),
					Handler: mux,
				}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("metrics server failed", slog.Any("error", err))
					}
				}()
			}

			a.logger.Info("worker started",
				slog.String("prune_schedule", a.cfg.Import.PruneSchedule))
			<-ctx.Done()

			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}
			return nil
		},
	}
}
