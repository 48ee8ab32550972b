package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SinkCollector exposes metrics for the output sinks that receive step
// results.
type SinkCollector struct {
	gatherer prometheus.Gatherer

	Records       *prometheus.CounterVec
	Errors        *prometheus.CounterVec
	WriteDuration *prometheus.HistogramVec
}

// NewSinkCollector registers sink metrics against the provided registerer.
func NewSinkCollector(reg prometheus.Registerer) (*SinkCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	records, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heatnet_sink_records_total",
		Help: "Step records written, by sink.",
	}, []string{"sink"}), "heatnet_sink_records_total")
	if err != nil {
		return nil, err
	}
	errs, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heatnet_sink_errors_total",
		Help: "Failed step record writes, by sink.",
	}, []string{"sink"}), "heatnet_sink_errors_total")
	if err != nil {
		return nil, err
	}
	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "heatnet_sink_write_duration_seconds",
		Help:    "Duration of a single sink write.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"sink"}), "heatnet_sink_write_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &SinkCollector{
		gatherer:      gatherer,
		Records:       records,
		Errors:        errs,
		WriteDuration: durations,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SinkCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveWrite records one write attempt on the named sink.
func (c *SinkCollector) ObserveWrite(sink string, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.WriteDuration.WithLabelValues(sink).Observe(d.Seconds())
	if err != nil {
		c.Errors.WithLabelValues(sink).Inc()
		return
	}
	c.Records.WithLabelValues(sink).Inc()
}
