package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/heatnet-simulator/internal/config"
	"github.com/signalsfoundry/heatnet-simulator/internal/logging"
	"github.com/signalsfoundry/heatnet-simulator/internal/observability"
	"github.com/signalsfoundry/heatnet-simulator/timectrl"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSimulation(ctx, cfg)
		},
	}
	cmd.Flags().Duration("duration", 0, "simulated time to run, overrides the config")
	cmd.Flags().Duration("tick", 0, "step size, overrides the config")
	cmd.Flags().Bool("realtime", false, "pace steps with the wall clock")
	cmd.Flags().String("metrics-addr", "", "HTTP address for /metrics, overrides the config")
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if f := cmd.Flags().Lookup("duration"); f != nil && f.Changed {
		cfg.Duration, _ = cmd.Flags().GetDuration("duration")
	}
	if f := cmd.Flags().Lookup("tick"); f != nil && f.Changed {
		cfg.Tick, _ = cmd.Flags().GetDuration("tick")
	}
	if f := cmd.Flags().Lookup("realtime"); f != nil && f.Changed {
		rt, _ := cmd.Flags().GetBool("realtime")
		cfg.Accelerated = !rt
	}
	if f := cmd.Flags().Lookup("metrics-addr"); f != nil && f.Changed {
		cfg.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
	}
	return cfg, cfg.Validate()
}

func runSimulation(ctx context.Context, cfg *config.Config) error {
	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	ctx, log = logging.WithRunLogger(ctx, log)

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	if cfg.Start.IsZero() {
		cfg.Start = time.Now().UTC().Truncate(time.Second)
	}

	r, err := newRunner(ctx, cfg, log, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer func() {
		if err := r.Close(); err != nil {
			log.Warn(context.Background(), "closing sinks", logging.Err(err))
		}
	}()

	mode := timectrl.Accelerated
	if !cfg.Accelerated {
		mode = timectrl.RealTime
	}
	tc := timectrl.NewTimeController(cfg.Start, cfg.Tick, mode)
	tc.AddListener(r.step)
	r.clock = tc

	g, gctx := errgroup.WithContext(ctx)
	simDone, finish := context.WithCancel(gctx)
	defer finish()

	g.Go(func() error {
		defer finish()
		log.Info(gctx, "starting simulation",
			logging.String("start", cfg.Start.Format(time.RFC3339)),
			logging.String("duration", cfg.Duration.String()),
			logging.String("tick", cfg.Tick.String()),
		)
		if err := tc.Run(gctx, cfg.Duration); err != nil {
			return err
		}
		log.Info(gctx, "simulation complete",
			logging.Duration("elapsed_s", tc.Elapsed()),
			logging.Int("skipped_steps", r.skipped()),
		)
		return nil
	})

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: r.router(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info(gctx, "serving metrics", logging.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-simDone.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		log.Info(context.Background(), "simulation interrupted", logging.Duration("elapsed_s", tc.Elapsed()))
		return nil
	}
	return err
}
