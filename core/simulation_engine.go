// core/simulation_engine.go
package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/heatnet-simulator/history"
	"github.com/signalsfoundry/heatnet-simulator/internal/logging"
	"github.com/signalsfoundry/heatnet-simulator/model"
)

const tracerName = "github.com/signalsfoundry/heatnet-simulator/core"

// DefaultMinVelocity bounds the history retention when pipes do not carry
// their own minimum velocity (m/s).
const DefaultMinVelocity = 0.01

// Phase is a state of the per-step state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseHydraulicSolve
	PhaseDirectionResolution
	PhasePropagation
	PhaseMixing
	PhaseOutputReady
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseHydraulicSolve:
		return "HYDRAULIC_SOLVE"
	case PhaseDirectionResolution:
		return "DIRECTION_RESOLUTION"
	case PhasePropagation:
		return "PROPAGATION"
	case PhaseMixing:
		return "MIXING"
	case PhaseOutputReady:
		return "OUTPUT_READY"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// MetricsRecorder receives per-step measurements. Implementations must be
// cheap; they are called on the step path.
type MetricsRecorder interface {
	ObserveStep(result string, d time.Duration)
	ObservePhase(phase string, d time.Duration)
	SetFlags(stagnantPipes, noFlowJunctions int)
	SetHistorySamples(n int)
	AddHistoryQueries(result string, n int)
	AddHydraulicWarnings(n int)
	SetJunctionTemperature(junction string, celsius float64)
}

// ExchangerFault reports a heat exchanger whose return temperature could
// not be computed this step.
type ExchangerFault struct {
	Name string
	Err  error
}

// StepOutputs is what a completed step hands back to the scheduler.
type StepOutputs struct {
	Time float64

	// Signals holds every bound output by name.
	Signals map[string]float64
	// Junctions holds every junction temperature (°C) by name.
	Junctions map[string]float64

	StagnantPipes   []string
	NoFlowJunctions []string
	ExchangerFaults []ExchangerFault
	Warnings        []HydraulicWarning

	// HistoryQueries counts this step's history lookups by result.
	HistoryQueries map[string]int
	Iterations     int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithSpecificHeat overrides the fluid specific heat in J/(kg·K).
func WithSpecificHeat(cp float64) EngineOption {
	return func(e *Engine) {
		if cp > 0 {
			e.cp = cp
		}
	}
}

// WithZeroFlowTolerance sets the mass flow (kg/s) below which a pipe is
// stagnant.
func WithZeroFlowTolerance(tol float64) EngineOption {
	return func(e *Engine) {
		if tol > 0 {
			e.zeroFlowTol = tol
		}
	}
}

// WithMinVelocity sets the default minimum velocity used to bound the
// history retention window.
func WithMinVelocity(v float64) EngineOption {
	return func(e *Engine) {
		if v > 0 {
			e.minVelocity = v
		}
	}
}

// WithStartTime sets the simulation time (s) at which the initial
// temperatures are recorded. Steps must come strictly after it.
func WithStartTime(t float64) EngineOption {
	return func(e *Engine) {
		e.start = t
	}
}

// WithHistoryRetention fixes the history retention window in seconds,
// overriding the bound derived from pipe lengths.
func WithHistoryRetention(seconds float64) EngineOption {
	return func(e *Engine) {
		if seconds > 0 {
			e.retention = seconds
		}
	}
}

// Engine advances the thermal state of a network one step at a time.
// It is single-threaded: Step must not be called concurrently.
type Engine struct {
	net      *Network
	bindings *Bindings
	hyd      *HydraulicInterface

	log     logging.Logger
	tracer  trace.Tracer
	metrics MetricsRecorder

	cp          float64
	zeroFlowTol float64
	minVelocity float64
	retention   float64
	start       float64

	setpoints *Setpoints
	history   *history.Buffer
	groups    *mixingGroups
	phase     Phase

	// Committed state, replaced only when a step completes.
	junctionTemp  []float64
	pipeOutlet    []float64
	exchangerOut  []float64
	lastTime      float64
	lastOutputs   *StepOutputs
	lastFlowField *FlowField
}

// NewEngine validates the network and prepares an engine at the initial
// junction temperatures.
func NewEngine(net *Network, bindings *Bindings, hyd *HydraulicInterface, opts ...EngineOption) (*Engine, error) {
	if net == nil {
		return nil, fmt.Errorf("NewEngine: network is nil")
	}
	if hyd == nil {
		return nil, fmt.Errorf("NewEngine: hydraulic interface is nil")
	}
	if err := net.Validate(); err != nil {
		return nil, fmt.Errorf("NewEngine: %w", err)
	}
	if bindings == nil {
		bindings = NewBindings()
	}

	e := &Engine{
		net:         net,
		bindings:    bindings,
		hyd:         hyd,
		log:         logging.Noop(),
		tracer:      otel.Tracer(tracerName),
		cp:          model.WaterSpecificHeat,
		zeroFlowTol: DefaultZeroFlowTolerance,
		minVelocity: DefaultMinVelocity,
		groups:      newMixingGroups(net.NumJunctions()),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.retention <= 0 {
		e.retention = net.MaxTransportDelay(e.minVelocity)
	}
	e.Reset()
	return e, nil
}

// Reset restores the initial temperatures and setpoints, and restarts the
// history with one sample per junction at the start time.
func (e *Engine) Reset() {
	n := e.net
	e.setpoints = NewSetpoints(n)
	e.history = history.New(n.NumJunctions())
	e.phase = PhaseIdle
	e.lastTime = e.start
	e.lastOutputs = nil
	e.lastFlowField = nil

	e.junctionTemp = make([]float64, n.NumJunctions())
	for j := range e.junctionTemp {
		e.junctionTemp[j] = n.Junction(model.JunctionID(j)).InitialTemperature
		// Fresh buffer, cannot fail.
		_ = e.history.Record(j, e.start, e.junctionTemp[j])
	}
	e.pipeOutlet = make([]float64, n.NumPipes())
	for i := range e.pipeOutlet {
		e.pipeOutlet[i] = e.junctionTemp[n.Pipe(model.PipeID(i)).To]
	}
	e.exchangerOut = make([]float64, n.NumExchangers())
	for i := range e.exchangerOut {
		e.exchangerOut[i] = e.junctionTemp[n.Exchanger(model.ExchangerID(i)).To]
	}
}

// State returns the current phase; it is PhaseIdle between steps.
func (e *Engine) State() Phase { return e.phase }

// LastOutputs returns the outputs of the last completed step, or nil.
func (e *Engine) LastOutputs() *StepOutputs { return e.lastOutputs }

// LastFlowField returns the hydraulic solution of the last completed step,
// or nil.
func (e *Engine) LastFlowField() *FlowField { return e.lastFlowField }

// LastTime returns the time of the last completed step, or the start time.
func (e *Engine) LastTime() float64 { return e.lastTime }

// MaxTransportDelay returns the history retention window in seconds.
func (e *Engine) MaxTransportDelay() float64 { return e.retention }

// HistoryStats exposes the history buffer counters.
func (e *Engine) HistoryStats() history.Stats { return e.history.Stats() }

// JunctionTemperature returns the committed temperature of a junction.
func (e *Engine) JunctionTemperature(j model.JunctionID) float64 { return e.junctionTemp[j] }

// SetInputs applies named input values. Names are checked first; if any
// is unknown nothing is applied.
func (e *Engine) SetInputs(values map[string]float64) error {
	for name, v := range values {
		if _, ok := e.bindings.Input(name); !ok {
			return fmt.Errorf("%w: input %q", ErrUnknownSignal, name)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: input %q is not finite", ErrInvalidElement, name)
		}
	}
	sp := e.setpoints
	for name, v := range values {
		in, _ := e.bindings.Input(name)
		switch in.Parameter {
		case InputSinkMassFlow:
			sp.SinkMassFlow[in.Element] = v
		case InputSourceMassFlow:
			sp.SourceMassFlow[in.Element] = v
		case InputSourceTemperature:
			sp.SourceTemperature[in.Element] = v
		case InputExtGridTemperature:
			sp.ExtGridTemperature[in.Element] = v
		case InputExtGridPressure:
			sp.ExtGridPressure[in.Element] = v
		case InputExchangerMassFlow:
			sp.ExchangerMassFlow[in.Element] = v
		case InputExchangerPowerKW:
			sp.ExchangerPower[in.Element] = v * 1000
		case InputValveOpen:
			sp.ValveOpen[in.Element] = v != 0
		}
	}
	return nil
}

// stepState is the scratch copy a step works on. It replaces the committed
// state only when the step completes.
type stepState struct {
	t  float64
	sp *Setpoints
	ff *FlowField

	junction     []float64
	pipeOutlet   []float64
	exchangerOut []float64

	stagnant []bool
	noFlow   []bool // per group
	faults   map[model.ExchangerID]error
	queries  map[history.QueryResult]int
}

// Step advances the simulation to time t (seconds since start):
// IDLE → HYDRAULIC_SOLVE → DIRECTION_RESOLUTION → PROPAGATION → MIXING →
// OUTPUT_READY → IDLE. A failure in any phase discards the step's work and
// returns a *StepError; the committed state is unchanged.
func (e *Engine) Step(ctx context.Context, t float64) (*StepOutputs, error) {
	if e.phase != PhaseIdle {
		return nil, &StepError{Time: t, Phase: e.phase, Err: ErrStepInProgress}
	}
	if t <= e.lastTime {
		return nil, &StepError{Time: t, Phase: PhaseIdle,
			Err: fmt.Errorf("%w: last step t=%g", ErrNonMonotonicTime, e.lastTime)}
	}
	if err := ctx.Err(); err != nil {
		return nil, &StepError{Time: t, Phase: PhaseIdle, Err: err}
	}

	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "heatnet.Step", trace.WithAttributes(attribute.Float64("heatnet.time", t)))
	defer span.End()
	defer func() { e.phase = PhaseIdle }()

	st := &stepState{
		t:            t,
		sp:           e.setpoints.Clone(),
		junction:     append([]float64(nil), e.junctionTemp...),
		pipeOutlet:   append([]float64(nil), e.pipeOutlet...),
		exchangerOut: append([]float64(nil), e.exchangerOut...),
		stagnant:     make([]bool, e.net.NumPipes()),
		faults:       make(map[model.ExchangerID]error),
		queries:      make(map[history.QueryResult]int),
	}

	fail := func(phase Phase, err error) (*StepOutputs, error) {
		e.history.Discard()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.log.Error(ctx, "step failed",
			logging.SimTime(t),
			logging.String("phase", phase.String()),
			logging.Err(err),
		)
		if e.metrics != nil {
			e.metrics.ObserveStep("error", time.Since(start))
		}
		return nil, &StepError{Time: t, Phase: phase, Err: err}
	}

	var warnings []HydraulicWarning
	err := e.runPhase(ctx, PhaseHydraulicSolve, func(ctx context.Context) error {
		ff, w, err := e.hyd.Solve(ctx, &HydraulicState{Network: e.net, Setpoints: st.sp, Time: t})
		if err != nil {
			return err
		}
		st.ff, warnings = ff, w
		return nil
	})
	if err != nil {
		return fail(PhaseHydraulicSolve, err)
	}

	var order FlowOrder
	err = e.runPhase(ctx, PhaseDirectionResolution, func(context.Context) error {
		e.groups.rebuild(e.net, st.sp.ValveOpen)
		st.noFlow = make([]bool, e.groups.count())
		var err error
		order, err = ResolveFlowOrder(e.net, st.ff)
		return err
	})
	if err != nil {
		return fail(PhaseDirectionResolution, err)
	}

	err = e.runPhase(ctx, PhasePropagation, func(context.Context) error {
		return e.propagate(st, order)
	})
	if err != nil {
		return fail(PhasePropagation, err)
	}

	err = e.runPhase(ctx, PhaseMixing, func(context.Context) error {
		return e.mixAll(st)
	})
	if err != nil {
		return fail(PhaseMixing, err)
	}

	var out *StepOutputs
	err = e.runPhase(ctx, PhaseOutputReady, func(ctx context.Context) error {
		if err := e.history.Commit(); err != nil {
			return err
		}
		if e.retention > 0 {
			e.history.TruncateBefore(t - e.retention)
		}
		out = e.buildOutputs(st, warnings)
		return nil
	})
	if err != nil {
		return fail(PhaseOutputReady, err)
	}

	e.junctionTemp = st.junction
	e.pipeOutlet = st.pipeOutlet
	e.exchangerOut = st.exchangerOut
	e.lastTime = t
	e.lastOutputs = out
	e.lastFlowField = st.ff

	e.report(ctx, out, time.Since(start))
	span.SetAttributes(
		attribute.Int("heatnet.stagnant_pipes", len(out.StagnantPipes)),
		attribute.Int("heatnet.no_flow_junctions", len(out.NoFlowJunctions)),
	)
	return out, nil
}

func (e *Engine) runPhase(ctx context.Context, phase Phase, fn func(context.Context) error) error {
	e.phase = phase
	ctx, span := e.tracer.Start(ctx, "heatnet."+phase.String())
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	if e.metrics != nil {
		e.metrics.ObservePhase(phase.String(), time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// propagate mixes the boundary groups, then walks supply and return pipes
// in resolved order. Every pipe outlet refreshes the mix of the group it
// feeds and the heat exchangers drawing from that group.
func (e *Engine) propagate(st *stepState, order FlowOrder) error {
	for _, g := range e.boundaryGroups(st) {
		e.mixGroup(st, g)
	}
	for _, list := range [2][]model.PipeID{order.Forward, order.Return} {
		for _, id := range list {
			down, err := e.propagatePipe(st, id)
			if err != nil {
				return err
			}
			if down == model.NoJunction {
				continue
			}
			g := e.groups.groupOf[down]
			e.mixGroup(st, g)
			e.updateExchangersFrom(st, g)
		}
	}
	return nil
}

// propagatePipe computes the outlet temperature of one pipe and returns
// its downstream junction, or NoJunction when the pipe is stagnant.
func (e *Engine) propagatePipe(st *stepState, id model.PipeID) (model.JunctionID, error) {
	p := e.net.Pipe(id)
	m := st.ff.PipeMassFlow[id]
	up := Upstream(p, m)

	inlet, err := e.inletTemperature(st, up, p.Length, st.ff.PipeVelocity[id])
	if err != nil {
		return model.NoJunction, err
	}

	th := ThermalOf(p)
	th.ZeroFlowTolerance = e.zeroFlowTol
	outlet, err := OutletTemperature(th, inlet, m, e.cp)
	if errors.Is(err, ErrZeroFlow) {
		st.stagnant[id] = true
		return model.NoJunction, nil
	}
	if err != nil {
		return model.NoJunction, err
	}
	st.pipeOutlet[id] = outlet
	return Downstream(p, m), nil
}

// inletTemperature looks up what entered a pipe one transit time ago. The
// upstream junction's current value is staged first so that lookups past
// the last committed sample see it.
func (e *Engine) inletTemperature(st *stepState, up model.JunctionID, length, velocity float64) (float64, error) {
	now := st.junction[up]
	tau, ok := TransitTime(length, velocity)
	if !ok {
		return now, nil
	}
	if err := e.history.Stage(int(up), st.t, now); err != nil {
		return 0, err
	}
	v, res, err := e.history.Query(int(up), st.t-tau)
	if errors.Is(err, history.ErrNoHistory) {
		return now, nil
	}
	if err != nil {
		return 0, err
	}
	st.queries[res]++
	return v, nil
}

// boundaryGroups returns the groups fed by an ext grid or a source, in
// group order.
func (e *Engine) boundaryGroups(st *stepState) []int {
	seen := make([]bool, e.groups.count())
	var out []int
	mark := func(j model.JunctionID) {
		g := e.groups.groupOf[j]
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	for i := 0; i < e.net.NumExtGrids(); i++ {
		if st.ff.ExtGridMassFlow[i] > 0 {
			mark(e.net.ExtGrid(model.ExtGridID(i)).Junction)
		}
	}
	for i := 0; i < e.net.NumSources(); i++ {
		if st.sp.SourceMassFlow[i] > 0 {
			mark(e.net.Source(model.SourceID(i)).Junction)
		}
	}
	return out
}

// mixGroup sets every junction of group g to the mass-weighted mean of the
// group's inflows. A group without inflow keeps its temperatures and is
// flagged.
func (e *Engine) mixGroup(st *stepState, g int) {
	var inflows []Inflow
	for _, j := range e.groups.members[g] {
		for _, id := range e.net.PipesTo(j) {
			if m := st.ff.PipeMassFlow[id]; m > 0 && !st.stagnant[id] {
				inflows = append(inflows, Inflow{MassFlow: m, Temperature: st.pipeOutlet[id]})
			}
		}
		for _, id := range e.net.PipesFrom(j) {
			if m := st.ff.PipeMassFlow[id]; m < 0 && !st.stagnant[id] {
				inflows = append(inflows, Inflow{MassFlow: -m, Temperature: st.pipeOutlet[id]})
			}
		}
		for _, id := range e.net.ExchangersTo(j) {
			if m := st.ff.ExchangerMassFlow[id]; m > 0 {
				inflows = append(inflows, Inflow{MassFlow: m, Temperature: st.exchangerOut[id]})
			}
		}
		for _, id := range e.net.ExchangersFrom(j) {
			if m := st.ff.ExchangerMassFlow[id]; m < 0 {
				inflows = append(inflows, Inflow{MassFlow: -m, Temperature: st.exchangerOut[id]})
			}
		}
		for _, id := range e.net.ExtGridsAt(j) {
			if m := st.ff.ExtGridMassFlow[id]; m > 0 {
				inflows = append(inflows, Inflow{MassFlow: m, Temperature: st.sp.ExtGridTemperature[id]})
			}
		}
		for _, id := range e.net.SourcesAt(j) {
			if m := st.sp.SourceMassFlow[id]; m > 0 {
				inflows = append(inflows, Inflow{MassFlow: m, Temperature: st.sp.SourceTemperature[id]})
			}
		}
	}

	mix, err := MixTemperature(inflows)
	if err != nil {
		st.noFlow[g] = true
		return
	}
	st.noFlow[g] = false
	for _, j := range e.groups.members[g] {
		st.junction[j] = mix
	}
}

// updateExchangersFrom recomputes the return side of every exchanger whose
// inlet lies in group g and remixes the groups they feed.
func (e *Engine) updateExchangersFrom(st *stepState, g int) {
	for _, j := range e.groups.members[g] {
		for _, id := range e.net.ExchangersFrom(j) {
			if st.ff.ExchangerMassFlow[id] >= 0 {
				e.updateExchanger(st, id)
			}
		}
		for _, id := range e.net.ExchangersTo(j) {
			if st.ff.ExchangerMassFlow[id] < 0 {
				e.updateExchanger(st, id)
			}
		}
	}
}

func (e *Engine) updateExchanger(st *stepState, id model.ExchangerID) {
	h := e.net.Exchanger(id)
	m := st.ff.ExchangerMassFlow[id]
	in, out := h.From, h.To
	if m < 0 {
		in, out = h.To, h.From
	}
	ret, err := ReturnTemperature(st.junction[in], st.sp.ExchangerPower[id], m, e.cp)
	if err != nil {
		st.faults[id] = err
		return
	}
	delete(st.faults, id)
	st.exchangerOut[id] = ret
	e.mixGroup(st, e.groups.groupOf[out])
}

// mixAll is the MIXING phase: every group and exchanger is recomputed from
// the final pipe outlets, then every junction is staged for commit.
func (e *Engine) mixAll(st *stepState) error {
	for g := 0; g < e.groups.count(); g++ {
		e.mixGroup(st, g)
	}
	for i := 0; i < e.net.NumExchangers(); i++ {
		e.updateExchanger(st, model.ExchangerID(i))
	}
	for g := 0; g < e.groups.count(); g++ {
		e.mixGroup(st, g)
	}
	for j, v := range st.junction {
		if err := e.history.Stage(j, st.t, v); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) buildOutputs(st *stepState, warnings []HydraulicWarning) *StepOutputs {
	n := e.net
	out := &StepOutputs{
		Time:           st.t,
		Signals:        make(map[string]float64, len(e.bindings.Outputs())),
		Junctions:      make(map[string]float64, n.NumJunctions()),
		Warnings:       warnings,
		HistoryQueries: make(map[string]int, len(st.queries)),
		Iterations:     st.ff.Iterations,
	}
	for j, v := range st.junction {
		out.Junctions[n.Junction(model.JunctionID(j)).Name] = v
	}
	for i, s := range st.stagnant {
		if s {
			out.StagnantPipes = append(out.StagnantPipes, n.Pipe(model.PipeID(i)).Name)
		}
	}
	for g, flagged := range st.noFlow {
		if !flagged {
			continue
		}
		for _, j := range e.groups.members[g] {
			out.NoFlowJunctions = append(out.NoFlowJunctions, n.Junction(j).Name)
		}
	}
	for i := 0; i < n.NumExchangers(); i++ {
		if err, ok := st.faults[model.ExchangerID(i)]; ok {
			out.ExchangerFaults = append(out.ExchangerFaults, ExchangerFault{Name: n.Exchanger(model.ExchangerID(i)).Name, Err: err})
		}
	}
	for res, c := range st.queries {
		out.HistoryQueries[res.String()] = c
	}

	for _, o := range e.bindings.Outputs() {
		var v float64
		switch o.Quantity {
		case OutputJunctionTemperature:
			v = st.junction[o.Element]
		case OutputExchangerSupplyTemperature:
			v = st.junction[n.Exchanger(model.ExchangerID(o.Element)).From]
		case OutputExchangerReturnTemperature:
			v = st.exchangerOut[o.Element]
		case OutputExchangerMassFlow:
			v = st.ff.ExchangerMassFlow[o.Element]
		case OutputValveMassFlow:
			v = st.ff.ValveMassFlow[o.Element]
		case OutputPipeMassFlow:
			v = st.ff.PipeMassFlow[o.Element]
		case OutputPipeOutletTemperature:
			v = st.pipeOutlet[o.Element]
		case OutputExtGridMassFlow:
			v = st.ff.ExtGridMassFlow[o.Element]
		}
		out.Signals[o.Name] = v
	}
	return out
}

func (e *Engine) report(ctx context.Context, out *StepOutputs, d time.Duration) {
	if len(out.StagnantPipes) > 0 || len(out.NoFlowJunctions) > 0 {
		e.log.Debug(ctx, "stagnant elements",
			logging.SimTime(out.Time),
			logging.Any("pipes", out.StagnantPipes),
			logging.Any("junctions", out.NoFlowJunctions),
		)
	}
	for _, f := range out.ExchangerFaults {
		e.log.Warn(ctx, "heat exchanger return temperature held",
			logging.SimTime(out.Time),
			logging.String("heat_exchanger", f.Name),
			logging.Err(f.Err),
		)
	}

	if e.metrics == nil {
		return
	}
	e.metrics.ObserveStep("ok", d)
	e.metrics.SetFlags(len(out.StagnantPipes), len(out.NoFlowJunctions))
	e.metrics.SetHistorySamples(e.history.Stats().Samples)
	e.metrics.AddHydraulicWarnings(len(out.Warnings))
	for res, c := range out.HistoryQueries {
		e.metrics.AddHistoryQueries(res, c)
	}
	for name, v := range out.Junctions {
		e.metrics.SetJunctionTemperature(name, v)
	}
}
