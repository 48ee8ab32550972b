package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/heatnet-simulator/core"
)

// EngineCollector bundles Prometheus metrics for the thermal engine. It
// implements core.MetricsRecorder.
type EngineCollector struct {
	gatherer prometheus.Gatherer

	Steps          *prometheus.CounterVec
	StepDuration   prometheus.Histogram
	PhaseDuration  *prometheus.HistogramVec
	StagnantPipes  prometheus.Gauge
	NoFlowJunction prometheus.Gauge
	HistorySamples prometheus.Gauge
	HistoryQueries *prometheus.CounterVec
	Warnings       prometheus.Counter
	Temperatures   *prometheus.GaugeVec
}

var _ core.MetricsRecorder = (*EngineCollector)(nil)

// NewEngineCollector registers engine metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewEngineCollector(reg prometheus.Registerer) (*EngineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	steps, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heatnet_steps_total",
		Help: "Simulation steps by result (ok or error).",
	}, []string{"result"}), "heatnet_steps_total")
	if err != nil {
		return nil, err
	}
	stepDuration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "heatnet_step_duration_seconds",
		Help:    "Wall-clock duration of a simulation step.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}), "heatnet_step_duration_seconds")
	if err != nil {
		return nil, err
	}
	phaseDuration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "heatnet_phase_duration_seconds",
		Help:    "Wall-clock duration of each step phase.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"phase"}), "heatnet_phase_duration_seconds")
	if err != nil {
		return nil, err
	}
	stagnant, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "heatnet_stagnant_pipes",
		Help: "Pipes without significant flow in the last step.",
	}), "heatnet_stagnant_pipes")
	if err != nil {
		return nil, err
	}
	noFlow, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "heatnet_no_flow_junctions",
		Help: "Junctions without inflow in the last step.",
	}), "heatnet_no_flow_junctions")
	if err != nil {
		return nil, err
	}
	samples, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "heatnet_history_samples",
		Help: "Committed samples held in the transport history.",
	}), "heatnet_history_samples")
	if err != nil {
		return nil, err
	}
	queries, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heatnet_history_queries_total",
		Help: "Transport history lookups by result.",
	}, []string{"result"}), "heatnet_history_queries_total")
	if err != nil {
		return nil, err
	}
	warnings, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "heatnet_hydraulic_warnings_total",
		Help: "Non-fatal hydraulic warnings such as negative pressures.",
	}), "heatnet_hydraulic_warnings_total")
	if err != nil {
		return nil, err
	}
	temps, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "heatnet_junction_temperature_celsius",
		Help: "Junction temperature after the last step.",
	}, []string{"junction"}), "heatnet_junction_temperature_celsius")
	if err != nil {
		return nil, err
	}

	return &EngineCollector{
		gatherer:       gatherer,
		Steps:          steps,
		StepDuration:   stepDuration,
		PhaseDuration:  phaseDuration,
		StagnantPipes:  stagnant,
		NoFlowJunction: noFlow,
		HistorySamples: samples,
		HistoryQueries: queries,
		Warnings:       warnings,
		Temperatures:   temps,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *EngineCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *EngineCollector) ObserveStep(result string, d time.Duration) {
	if c == nil {
		return
	}
	c.Steps.WithLabelValues(result).Inc()
	c.StepDuration.Observe(d.Seconds())
}

func (c *EngineCollector) ObservePhase(phase string, d time.Duration) {
	if c == nil {
		return
	}
	c.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (c *EngineCollector) SetFlags(stagnant, noFlow int) {
	if c == nil {
		return
	}
	c.StagnantPipes.Set(float64(stagnant))
	c.NoFlowJunction.Set(float64(noFlow))
}

func (c *EngineCollector) SetHistorySamples(n int) {
	if c == nil {
		return
	}
	c.HistorySamples.Set(float64(n))
}

func (c *EngineCollector) AddHistoryQueries(result string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.HistoryQueries.WithLabelValues(result).Add(float64(n))
}

func (c *EngineCollector) AddHydraulicWarnings(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.Warnings.Add(float64(n))
}

func (c *EngineCollector) SetJunctionTemperature(junction string, celsius float64) {
	if c == nil {
		return
	}
	c.Temperatures.WithLabelValues(junction).Set(celsius)
}

// register adds c to reg, returning the already registered collector of
// the same type when there is one.
func register[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return c, nil
}
