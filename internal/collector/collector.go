// Package collector records step outputs: in memory for tests, as JSON
// lines on disk, or on a Redis stream.
package collector

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/heatnet-simulator/core"
)

// DefaultPrecision is the number of decimals kept for reported values.
const DefaultPrecision = 2

// Sink receives the outputs of every successful step.
type Sink interface {
	Write(ctx context.Context, out *core.StepOutputs) error
	Close() error
}

// Recorder observes sink writes. observability.SinkCollector implements it.
type Recorder interface {
	ObserveWrite(sink string, d time.Duration, err error)
}

// Named pairs a sink with the label used for its metrics.
type Named struct {
	Name string
	Sink Sink
}

// MultiSink fans a step out to several sinks in order. Every sink sees
// every step; the errors are joined.
type MultiSink struct {
	sinks    []Named
	recorder Recorder
}

// NewMultiSink builds a fan-out sink. recorder may be nil.
func NewMultiSink(recorder Recorder, sinks ...Named) *MultiSink {
	return &MultiSink{sinks: sinks, recorder: recorder}
}

func (m *MultiSink) Write(ctx context.Context, out *core.StepOutputs) error {
	var errs []error
	for _, s := range m.sinks {
		start := time.Now()
		err := s.Sink.Write(ctx, out)
		if m.recorder != nil {
			m.recorder.ObserveWrite(s.Name, time.Since(start), err)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink keeps every step in memory.
type MemorySink struct {
	mu    sync.Mutex
	steps []*core.StepOutputs
}

func (m *MemorySink) Write(_ context.Context, out *core.StepOutputs) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, out)
	return nil
}

func (m *MemorySink) Close() error { return nil }

// Steps returns a copy of the recorded steps.
func (m *MemorySink) Steps() []*core.StepOutputs {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*core.StepOutputs(nil), m.steps...)
}

// Series returns the recorded values of one output signal.
func (m *MemorySink) Series(signal string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	vals := make([]float64, 0, len(m.steps))
	for _, s := range m.steps {
		vals = append(vals, s.Signals[signal])
	}
	return vals
}

// Round returns v rounded half away from zero to places decimals.
func Round(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

// Record converts step outputs to a protobuf Struct with rounded values.
// runID is omitted when empty.
func Record(out *core.StepOutputs, runID string, precision int32) (*structpb.Struct, error) {
	fields := map[string]any{
		"time":       out.Time,
		"iterations": float64(out.Iterations),
		"signals":    roundedMap(out.Signals, precision),
		"junctions":  roundedMap(out.Junctions, precision),
	}
	if runID != "" {
		fields["run_id"] = runID
	}
	if len(out.StagnantPipes) > 0 {
		fields["stagnant_pipes"] = stringList(out.StagnantPipes)
	}
	if len(out.NoFlowJunctions) > 0 {
		fields["no_flow_junctions"] = stringList(out.NoFlowJunctions)
	}
	if len(out.ExchangerFaults) > 0 {
		faults := make(map[string]any, len(out.ExchangerFaults))
		for _, f := range out.ExchangerFaults {
			faults[f.Name] = f.Err.Error()
		}
		fields["exchanger_faults"] = faults
	}
	if len(out.Warnings) > 0 {
		warnings := make([]any, 0, len(out.Warnings))
		for _, w := range out.Warnings {
			warnings = append(warnings, w.String())
		}
		fields["warnings"] = warnings
	}
	return structpb.NewStruct(fields)
}

func roundedMap(in map[string]float64, precision int32) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = Round(v, precision)
	}
	return out
}

func stringList(in []string) []any {
	sorted := append([]string(nil), in...)
	sort.Strings(sorted)
	out := make([]any, len(sorted))
	for i, s := range sorted {
		out[i] = s
	}
	return out
}
