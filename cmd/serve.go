package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/procure-cli/internal/api"
	"github.com/sells-group/procure-cli/internal/monitoring"
	"github.com/sells-group/procure-cli/internal/scheduler"
)

const shutdownTimeout = 15 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the pipeline workers and the scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		router := api.NewRouter(api.Dependencies{
			Orchestrator: env.Orchestrator,
			Intake:       env.Intake,
			Timeline:     env.Timeline,
			Matcher:      env.Matcher,
			Projects:     env.Store,
			RFQs:         env.Store,
			Breakers:     env.Breakers,
			Collector:    env.Collector,
			CORSOrigins:  cfg.Server.CORSOrigins,
		})
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error { return env.Orchestrator.Run(gctx) })

		recovered, err := env.Orchestrator.Recover(gctx)
		if err != nil {
			zap.L().Warn("pipeline recovery failed", zap.Error(err))
		} else if recovered > 0 {
			zap.L().Info("recovered running pipelines", zap.Int("count", recovered))
		}

		if cfg.Scheduler.Enabled {
			runner, err := scheduler.NewRunner(env.Reactivator, env.Orchestrator, cfg.Scheduler)
			if err != nil {
				stop()
				_ = g.Wait()
				return err
			}
			g.Go(func() error {
				runner.Run(gctx)
				return nil
			})
		}

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(env.Collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}

		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
