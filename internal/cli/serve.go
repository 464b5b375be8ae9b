package cli

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tokutei-learning/tokutei/internal/rate"
	"github.com/tokutei-learning/tokutei/internal/web"
	"github.com/tokutei-learning/tokutei/metrics/export/prometheus"
)

func newServeCmd(e *env) *cobra.Command {
	var (
		localDB      string
		otelInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var cl closers
			defer cl.close()

			engine, rdb, err := buildEngine(ctx, e.cfg, localDB, e.logger, &cl)
			if err != nil {
				return err
			}
			opts := web.Options{
				CookieSecure:  e.cfg.CookieSecure,
				AllowTestMode: !e.cfg.Production() && !e.cfg.TestMode,
				Metrics:       prometheus.NewExporter(engine).Handler(),
				Logger:        e.logger,
			}
			if rdb != nil {
				opts.Limiter = rate.New(rdb, rate.DefaultConfig())
			}
			if otelInterval > 0 {
				collector, err := newOTelCollector(engine)
				if err != nil {
					return err
				}
				cl.add(func() { _ = collector.close() })
				go collector.run(ctx, otelInterval, e.logger)
			}
			srv := web.New(engine, opts)

			httpServer := &http.Server{
				Addr:              e.cfg.ListenAddr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errc := make(chan error, 1)
			go func() {
				e.logger.Info("server starting", "addr", e.cfg.ListenAddr, "env", e.cfg.Env)
				errc <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if !isServerClosed(err) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			e.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return err
			}
			e.logger.Info("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&localDB, "local-db", ":memory:", "sqlite database of the local backend")
	cmd.Flags().DurationVar(&otelInterval, "otel-interval", 0, "log OpenTelemetry metric values at this interval (0 disables)")
	return cmd
}
