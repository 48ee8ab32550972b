// core/hydraulic_interface.go
package core

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/signalsfoundry/heatnet-simulator/internal/logging"
	"github.com/signalsfoundry/heatnet-simulator/model"
)

// Setpoints are the per-step values a hydraulic solve depends on. Slices
// are indexed by element handle.
type Setpoints struct {
	SinkMassFlow       []float64 // kg/s withdrawn
	SourceMassFlow     []float64 // kg/s injected
	SourceTemperature  []float64 // °C
	ExtGridPressure    []float64 // bar
	ExtGridTemperature []float64 // °C
	ExchangerMassFlow  []float64 // kg/s, controlled exchangers only
	ExchangerPower     []float64 // W, positive = extracted
	ValveOpen          []bool
}

// NewSetpoints initialises setpoints from the values stored in the
// topology.
func NewSetpoints(net *Network) *Setpoints {
	sp := &Setpoints{
		SinkMassFlow:       make([]float64, net.NumSinks()),
		SourceMassFlow:     make([]float64, net.NumSources()),
		SourceTemperature:  make([]float64, net.NumSources()),
		ExtGridPressure:    make([]float64, net.NumExtGrids()),
		ExtGridTemperature: make([]float64, net.NumExtGrids()),
		ExchangerMassFlow:  make([]float64, net.NumExchangers()),
		ExchangerPower:     make([]float64, net.NumExchangers()),
		ValveOpen:          make([]bool, net.NumValves()),
	}
	for i := range sp.SinkMassFlow {
		sp.SinkMassFlow[i] = net.Sink(model.SinkID(i)).MassFlow
	}
	for i := range sp.SourceMassFlow {
		s := net.Source(model.SourceID(i))
		sp.SourceMassFlow[i] = s.MassFlow
		sp.SourceTemperature[i] = s.Temperature
	}
	for i := range sp.ExtGridPressure {
		g := net.ExtGrid(model.ExtGridID(i))
		sp.ExtGridPressure[i] = g.Pressure
		sp.ExtGridTemperature[i] = g.Temperature
	}
	for i := range sp.ExchangerMassFlow {
		h := net.Exchanger(model.ExchangerID(i))
		sp.ExchangerMassFlow[i] = h.MassFlow
		sp.ExchangerPower[i] = h.Power
	}
	for i := range sp.ValveOpen {
		sp.ValveOpen[i] = net.Valve(model.ValveID(i)).Open
	}
	return sp
}

// Clone returns a deep copy.
func (sp *Setpoints) Clone() *Setpoints {
	return &Setpoints{
		SinkMassFlow:       append([]float64(nil), sp.SinkMassFlow...),
		SourceMassFlow:     append([]float64(nil), sp.SourceMassFlow...),
		SourceTemperature:  append([]float64(nil), sp.SourceTemperature...),
		ExtGridPressure:    append([]float64(nil), sp.ExtGridPressure...),
		ExtGridTemperature: append([]float64(nil), sp.ExtGridTemperature...),
		ExchangerMassFlow:  append([]float64(nil), sp.ExchangerMassFlow...),
		ExchangerPower:     append([]float64(nil), sp.ExchangerPower...),
		ValveOpen:          append([]bool(nil), sp.ValveOpen...),
	}
}

// HydraulicState is the input of one hydraulic solve.
type HydraulicState struct {
	Network   *Network
	Setpoints *Setpoints
	Time      float64 // s since simulation start
}

// FlowField is the steady hydraulic solution for one step. Mass flows are
// signed: positive means From→To for pipes, valves and exchangers, and
// into the network for ext grids.
type FlowField struct {
	PipeMassFlow      []float64 // kg/s
	PipeVelocity      []float64 // m/s, mean over the cross section
	Pressure          []float64 // bar, per junction
	ValveMassFlow     []float64 // kg/s
	ExchangerMassFlow []float64 // kg/s
	ExtGridMassFlow   []float64 // kg/s
	Iterations        int
}

// HydraulicSolver computes a steady flow field. Implementations must not
// retain the state after returning.
type HydraulicSolver interface {
	Solve(ctx context.Context, state *HydraulicState) (*FlowField, error)
}

// HydraulicSolverFunc adapts a function to HydraulicSolver.
type HydraulicSolverFunc func(ctx context.Context, state *HydraulicState) (*FlowField, error)

func (f HydraulicSolverFunc) Solve(ctx context.Context, state *HydraulicState) (*FlowField, error) {
	return f(ctx, state)
}

// HydraulicWarning is a non-fatal observation about a flow field.
type HydraulicWarning struct {
	Junction model.JunctionID
	Name     string
	Pressure float64
	Message  string
}

func (w HydraulicWarning) String() string {
	return fmt.Sprintf("%s: %s (p=%.3f bar)", w.Name, w.Message, w.Pressure)
}

// Log modes for hydraulic warnings.
const (
	LogModeDefault = "default" // warnings are reported, not logged
	LogModeAll     = "all"     // warnings are also logged
)

// HydraulicConfig holds the adapter settings.
type HydraulicConfig struct {
	LogMode string
	// Pressures below -NegativePressureTolerance bar raise a warning.
	NegativePressureTolerance float64
}

// HydraulicInterface wraps a solver and normalises its failures and
// results for the engine.
type HydraulicInterface struct {
	solver HydraulicSolver
	cfg    HydraulicConfig
	log    logging.Logger
}

// NewHydraulicInterface wires a solver. A nil logger discards output.
func NewHydraulicInterface(solver HydraulicSolver, cfg HydraulicConfig, log logging.Logger) *HydraulicInterface {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.LogMode == "" {
		cfg.LogMode = LogModeDefault
	}
	return &HydraulicInterface{solver: solver, cfg: cfg, log: log}
}

// Solve runs the solver and validates the result. Any solver failure or
// non-finite value is reported as ErrSolverNonConvergence; a result whose
// dimensions do not match the network as ErrTopologyInconsistency.
// Negative junction pressures are returned as warnings.
func (h *HydraulicInterface) Solve(ctx context.Context, state *HydraulicState) (*FlowField, []HydraulicWarning, error) {
	if h == nil || h.solver == nil {
		return nil, nil, fmt.Errorf("%w: no hydraulic solver configured", ErrSolverNonConvergence)
	}
	ff, err := h.solver.Solve(ctx, state)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSolverNonConvergence, err)
	}
	if ff == nil {
		return nil, nil, fmt.Errorf("%w: solver returned no flow field", ErrSolverNonConvergence)
	}

	net := state.Network
	if err := checkDims(net, ff); err != nil {
		return nil, nil, err
	}
	if name, ok := firstNonFinite(ff); !ok {
		return nil, nil, fmt.Errorf("%w: non-finite %s", ErrSolverNonConvergence, name)
	}

	var warnings []HydraulicWarning
	for j, p := range ff.Pressure {
		if p >= -h.cfg.NegativePressureTolerance {
			continue
		}
		w := HydraulicWarning{
			Junction: model.JunctionID(j),
			Name:     net.Junction(model.JunctionID(j)).Name,
			Pressure: p,
			Message:  "negative pressure",
		}
		warnings = append(warnings, w)
		if strings.EqualFold(h.cfg.LogMode, LogModeAll) {
			h.log.Warn(ctx, "hydraulic warning",
				logging.String("junction", w.Name),
				logging.Float("pressure_bar", p),
			)
		}
	}
	return ff, warnings, nil
}

func checkDims(net *Network, ff *FlowField) error {
	type dim struct {
		what      string
		got, want int
	}
	for _, d := range []dim{
		{"pipe mass flows", len(ff.PipeMassFlow), net.NumPipes()},
		{"pipe velocities", len(ff.PipeVelocity), net.NumPipes()},
		{"junction pressures", len(ff.Pressure), net.NumJunctions()},
		{"valve mass flows", len(ff.ValveMassFlow), net.NumValves()},
		{"heat exchanger mass flows", len(ff.ExchangerMassFlow), net.NumExchangers()},
		{"ext grid mass flows", len(ff.ExtGridMassFlow), net.NumExtGrids()},
	} {
		if d.got != d.want {
			return fmt.Errorf("%w: flow field has %d %s, network has %d", ErrTopologyInconsistency, d.got, d.what, d.want)
		}
	}
	return nil
}

func firstNonFinite(ff *FlowField) (string, bool) {
	for _, s := range []struct {
		name string
		v    []float64
	}{
		{"pipe mass flow", ff.PipeMassFlow},
		{"pipe velocity", ff.PipeVelocity},
		{"pressure", ff.Pressure},
		{"valve mass flow", ff.ValveMassFlow},
		{"heat exchanger mass flow", ff.ExchangerMassFlow},
		{"ext grid mass flow", ff.ExtGridMassFlow},
	} {
		for _, x := range s.v {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return s.name, false
			}
		}
	}
	return "", true
}
