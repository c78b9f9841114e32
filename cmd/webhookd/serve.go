package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcelsud/webhook-dispatch/internal/http/chi"
	"github.com/marcelsud/webhook-dispatch/internal/scheduler"
	"github.com/marcelsud/webhook-dispatch/metrics"
	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/event"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, and the retry scheduler unless disabled",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(),
			syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
		)
		defer stop()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		bus := event.NewBus(logger, []event.Subscriber{a.engine.Subscriber()})

		exporter, err := metrics.NewOTelExporter(
			metrics.NewStoreCollector(a.repo, a.heartbeats(), webhook.SystemClock()),
			metrics.WithRegistry(a.promRegistry),
		)
		if err != nil {
			return fmt.Errorf("creating metrics exporter: %w", err)
		}

		router := chi.Handlers(logger, chi.Services{
			Registry: a.registry,
			Delivery: a.engine,
			Monitor:  a.monitor,
			Emitter:  bus,
			Ping:     a.ping,
			Metrics:  exporter.ServeHTTP(),
		}, cfg.HTTP.RequestTimeout)

		var sched *scheduler.Scheduler
		if cfg.Scheduler.Embedded {
			sched, err = scheduler.New(a.engine, a.heartbeatWriter(), logger, scheduler.Config{
				Spec:          cfg.Scheduler.Spec,
				HeartbeatSpec: cfg.Scheduler.HeartbeatSpec,
			})
			if err != nil {
				return err
			}
		}

		srv := &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      otelhttp.NewHandler(router, "webhookd"),
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info().Str("addr", cfg.HTTP.Addr).Msg("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			logger.Info().Msg("shutting down server")
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("forcing server close: %w", err)
			}
			bus.Wait()
			return exporter.Shutdown(shutdownCtx)
		})

		if sched != nil {
			g.Go(func() error { return sched.Run(gctx) })
		}

		return g.Wait()
	},
}

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run only the retry scheduler",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		s, err := scheduler.New(a.engine, a.heartbeatWriter(), logger, scheduler.Config{
			Spec:          cfg.Scheduler.Spec,
			HeartbeatSpec: cfg.Scheduler.HeartbeatSpec,
		})
		if err != nil {
			return err
		}

		once, _ := cmd.Flags().GetBool("once")
		if once {
			n := s.Sweep(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "attempted %d due deliveries\n", n)
			return nil
		}
		return s.Run(ctx)
	},
}

func init() {
	schedulerCmd.Flags().Bool("once", false, "run a single sweep and exit")
}
