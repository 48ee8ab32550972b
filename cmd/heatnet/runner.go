package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/signalsfoundry/heatnet-simulator/core"
	"github.com/signalsfoundry/heatnet-simulator/internal/collector"
	"github.com/signalsfoundry/heatnet-simulator/internal/config"
	"github.com/signalsfoundry/heatnet-simulator/internal/hydraulics"
	"github.com/signalsfoundry/heatnet-simulator/internal/logging"
	"github.com/signalsfoundry/heatnet-simulator/internal/observability"
	"github.com/signalsfoundry/heatnet-simulator/internal/profile"
	"github.com/signalsfoundry/heatnet-simulator/timectrl"
)

// runner owns one simulation run: the engine, its inputs and its sinks.
type runner struct {
	cfg    *config.Config
	log    logging.Logger
	runID  string
	engine *core.Engine
	player *profile.Player
	sinks  *collector.MultiSink

	metrics *observability.EngineCollector
	clock   timectrl.SimClock

	mu       sync.Mutex
	last     *core.StepOutputs
	failures int
}

func newRunner(ctx context.Context, cfg *config.Config, log logging.Logger, reg *prometheus.Registry) (*runner, error) {
	net, bindings, summary, err := core.LoadNetworkFile(cfg.Network)
	if err != nil {
		return nil, err
	}
	log.Info(ctx, "loaded network",
		logging.String("path", cfg.Network),
		logging.Int("junctions", len(summary.Junctions)),
		logging.Int("pipes", len(summary.Pipes)),
		logging.Int("valves", len(summary.Valves)),
		logging.Int("heat_exchangers", len(summary.HeatExchangers)),
	)

	engineMetrics, err := observability.NewEngineCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("engine metrics: %w", err)
	}
	sinkMetrics, err := observability.NewSinkCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("sink metrics: %w", err)
	}

	solver := hydraulics.NewNodalSolver(cfg.HydraulicSolverConfig())
	hyd := core.NewHydraulicInterface(solver, cfg.HydraulicInterfaceConfig(), log)
	opts := append(cfg.EngineOptions(),
		core.WithLogger(log),
		core.WithMetricsRecorder(engineMetrics),
		core.WithStartTime(0),
	)
	engine, err := core.NewEngine(net, bindings, hyd, opts...)
	if err != nil {
		return nil, err
	}

	player, err := buildPlayer(cfg)
	if err != nil {
		return nil, err
	}
	for _, name := range player.Inputs() {
		if _, ok := bindings.Input(name); !ok {
			return nil, fmt.Errorf("input %q is not bound in %s", name, cfg.Network)
		}
	}

	runID := logging.RunIDFromContext(ctx)
	sinks, err := buildSinks(ctx, cfg, runID, sinkMetrics)
	if err != nil {
		return nil, err
	}

	return &runner{
		cfg:     cfg,
		log:     log,
		runID:   runID,
		engine:  engine,
		player:  player,
		sinks:   sinks,
		metrics: engineMetrics,
	}, nil
}

func buildPlayer(cfg *config.Config) (*profile.Player, error) {
	p := profile.NewPlayer()
	for name, v := range cfg.Inputs.Constant {
		p.SetConstant(name, v)
	}
	for _, pc := range cfg.Inputs.Profiles {
		f, err := os.Open(pc.File)
		if err != nil {
			return nil, fmt.Errorf("profile: %w", err)
		}
		series, err := profile.ReadCSV(f, cfg.Start)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", pc.File, err)
		}
		for column, input := range pc.Columns {
			s, ok := series[column]
			if !ok {
				return nil, fmt.Errorf("%s: no column %q", pc.File, column)
			}
			if pc.Scale != 0 && pc.Scale != 1 {
				s = scaled(s, pc.Scale)
			}
			p.AddSeries(input, s)
		}
	}
	return p, nil
}

func scaled(s *profile.Series, k float64) *profile.Series {
	pts := make([]profile.Point, len(s.Points))
	for i, pt := range s.Points {
		pts[i] = profile.Point{T: pt.T, Value: pt.Value * k}
	}
	return &profile.Series{Name: s.Name, Points: pts}
}

func buildSinks(ctx context.Context, cfg *config.Config, runID string, rec collector.Recorder) (*collector.MultiSink, error) {
	var sinks []collector.Named
	if path := cfg.Output.JSONLines; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("output dir: %w", err)
		}
		s, err := collector.CreateJSONLinesFile(path, runID, cfg.Output.Precision)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, collector.Named{Name: "jsonlines", Sink: s})
	}
	if addr := cfg.Output.Redis.Addr; addr != "" {
		s := collector.NewRedisStreamSink(addr, runID,
			collector.WithStream(cfg.Output.Redis.Stream),
			collector.WithMaxLen(cfg.Output.Redis.MaxLen),
			collector.WithPrecision(cfg.Output.Precision),
		)
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			for _, n := range sinks {
				_ = n.Sink.Close()
			}
			return nil, fmt.Errorf("redis %s: %w", addr, err)
		}
		sinks = append(sinks, collector.Named{Name: "redis", Sink: s})
	}
	return collector.NewMultiSink(rec, sinks...), nil
}

// step is the time controller listener. Hydraulic non-convergence skips
// the step and the run continues with the next tick; any other failure
// stops the run.
func (r *runner) step(ctx context.Context, now time.Time) error {
	t := now.Sub(r.cfg.Start).Seconds()
	if err := r.engine.SetInputs(r.player.Values(t)); err != nil {
		return err
	}

	out, err := r.engine.Step(ctx, t)
	if err != nil {
		if errors.Is(err, core.ErrSolverNonConvergence) {
			r.mu.Lock()
			r.failures++
			r.mu.Unlock()
			r.log.Warn(ctx, "step skipped", logging.SimTime(t), logging.Err(err))
			return nil
		}
		return err
	}

	r.mu.Lock()
	r.last = out
	r.mu.Unlock()

	if err := r.sinks.Write(ctx, out); err != nil {
		r.log.Warn(ctx, "sink write failed", logging.SimTime(t), logging.Err(err))
	}
	r.log.Debug(ctx, "step complete",
		logging.SimTime(t),
		logging.Int("stagnant_pipes", len(out.StagnantPipes)),
		logging.Int("no_flow_junctions", len(out.NoFlowJunctions)),
	)
	return nil
}

func (r *runner) skipped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

func (r *runner) Close() error {
	return r.sinks.Close()
}

// router serves the Prometheus metrics plus liveness and the latest step.
func (r *runner) router() http.Handler {
	mux := chi.NewRouter()
	mux.Handle("/metrics", r.metrics.Handler())
	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if r.clock == nil {
			_, _ = w.Write([]byte("ok\n"))
			return
		}
		fmt.Fprintf(w, "ok sim_time=%s elapsed=%s\n", r.clock.Now().Format(time.RFC3339), r.clock.Elapsed())
	})
	mux.Get("/status", r.handleStatus)
	return mux
}

func (r *runner) handleStatus(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	last := r.last
	r.mu.Unlock()
	if last == nil {
		http.Error(w, "no step completed yet", http.StatusServiceUnavailable)
		return
	}
	rec, err := collector.Record(last, r.runID, r.cfg.Output.Precision)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	b, err := protojson.Marshal(rec)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}
