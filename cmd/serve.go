package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/townmap/internal/api"
	"github.com/sells-group/townmap/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll the town sheet and serve the snapshot over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initSync(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		opts := api.Options{
			CORSOrigins: cfg.Server.CORSOrigins,
			Events:      env.Bus,
			Metrics:     env.Metrics.Handler(),
		}
		if env.Store != nil {
			opts.History = env.Store
		}
		srv := api.NewServer(env.Controller, opts)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			return env.Controller.Run(gctx)
		})

		g.Go(func() error {
			return srv.Start(fmt.Sprintf(":%d", port))
		})

		// Graceful shutdown
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		// The checker also enforces history retention, so it runs with or
		// without a webhook.
		if env.Store != nil {
			checker := monitoring.NewChecker(monitoring.NewCollector(env.Store), env.Alerter, cfg.Monitoring).
				WithRetention(env.Store, time.Duration(cfg.Store.RetentionHours)*time.Hour)
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}

		zap.L().Info("townmap serving",
			zap.Int("port", port),
			zap.String("sheet", cfg.Sheet.URL),
			zap.Duration("interval", env.Controller.Interval()),
		)
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}
