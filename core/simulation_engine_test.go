package core

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/heatnet-simulator/model"
)

func TestEngineScenarioDeviationShrinksAsTransitTimeElapses(t *testing.T) {
	// Cold network, hot grid: the grid front needs one transit time
	// (~393 s at 2 kg/s) to cross p1.
	c := newChain(t, 40)
	e := c.engine(t, c.uniformFlow(2))

	prev := math.Inf(1)
	for _, ts := range []float64{200, 400, 600} {
		out, err := e.Step(context.Background(), ts)
		if err != nil {
			t.Fatalf("Step(%v): %v", ts, err)
		}
		supply := out.Signals["T_supply_cons"]
		if supply > 75 {
			t.Fatalf("t=%v: supply %v exceeds grid temperature", ts, supply)
		}
		dev := 75 - supply
		if dev > prev+1e-12 {
			t.Fatalf("t=%v: deviation %v grew from %v", ts, dev, prev)
		}
		prev = dev
	}
	if prev > 1 {
		t.Fatalf("after one transit time deviation = %v, want < 1 K", prev)
	}
}

func TestEngineDelayUsesUpstreamHistory(t *testing.T) {
	c := newChain(t, 40)
	e := c.engine(t, c.uniformFlow(2))

	out, err := e.Step(context.Background(), 200)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	// At t=200 the lookup at t-τ lies before the initial sample, so p1
	// still delivers the initial 40 °C minus heat loss.
	th := ThermalOf(c.net.Pipe(c.p1))
	want, _ := OutletTemperature(th, 40, 2, model.WaterSpecificHeat)
	if got := out.Junctions["b"]; math.Abs(got-want) > 1e-9 {
		t.Fatalf("b = %v, want %v", got, want)
	}
	if out.HistoryQueries["clamped_before"] == 0 {
		t.Fatalf("HistoryQueries = %v, want a clamped_before lookup", out.HistoryQueries)
	}
	if out.Junctions["a"] != 75 {
		t.Fatalf("a = %v, want grid temperature 75", out.Junctions["a"])
	}
}

func TestEngineExchangerEnergyBalance(t *testing.T) {
	c := newChain(t, 75)
	e := c.engine(t, c.uniformFlow(2))

	out, err := e.Step(context.Background(), 60)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	supply, ret := out.Signals["T_supply_cons"], out.Signals["T_return_cons"]
	want := supply - 50e3/(model.WaterSpecificHeat*2)
	if math.Abs(ret-want) > 1e-9 {
		t.Fatalf("T_return_cons = %v, want %v", ret, want)
	}
	if got := out.Junctions["c"]; math.Abs(got-ret) > 1e-9 {
		t.Fatalf("c = %v, want exchanger return %v", got, ret)
	}
	// p2 still carries water that left c before the step.
	wantGrid, _ := OutletTemperature(ThermalOf(c.net.Pipe(c.p2)), 75, 2, model.WaterSpecificHeat)
	if got := out.Signals["T_return_grid"]; math.Abs(got-wantGrid) > 1e-9 {
		t.Fatalf("T_return_grid = %v, want %v", got, wantGrid)
	}
	if out.Signals["mdot_p1"] != 2 {
		t.Fatalf("mdot_p1 = %v, want 2", out.Signals["mdot_p1"])
	}
}

func TestEngineSetInputs(t *testing.T) {
	c := newChain(t, 75)
	e := c.engine(t, c.uniformFlow(2))

	if err := e.SetInputs(map[string]float64{"Qdot_cons": 100, "nope": 1}); !errors.Is(err, ErrUnknownSignal) {
		t.Fatalf("err = %v, want ErrUnknownSignal", err)
	}
	if e.setpoints.ExchangerPower[c.hex] != 50e3 {
		t.Fatalf("rejected SetInputs changed power to %v", e.setpoints.ExchangerPower[c.hex])
	}
	if err := e.SetInputs(map[string]float64{"Qdot_cons": math.NaN()}); err == nil {
		t.Fatalf("NaN input accepted")
	}

	if err := e.SetInputs(map[string]float64{"Qdot_cons": 100, "T_supply_grid": 80}); err != nil {
		t.Fatalf("SetInputs: %v", err)
	}
	out, err := e.Step(context.Background(), 60)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if out.Junctions["a"] != 80 {
		t.Fatalf("a = %v, want 80 after T_supply_grid input", out.Junctions["a"])
	}
	drop := out.Signals["T_supply_cons"] - out.Signals["T_return_cons"]
	if want := 100e3 / (model.WaterSpecificHeat * 2); math.Abs(drop-want) > 1e-9 {
		t.Fatalf("exchanger drop = %v, want %v", drop, want)
	}
}

func TestEngineSolverFailureCommitsNothing(t *testing.T) {
	c := newChain(t, 40)
	fail := false
	good := c.uniformFlow(2)
	solver := HydraulicSolverFunc(func(ctx context.Context, st *HydraulicState) (*FlowField, error) {
		if fail {
			return nil, errors.New("max iterations reached")
		}
		return good(ctx, st)
	})
	e := c.engine(t, solver)

	first, err := e.Step(context.Background(), 100)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	samples := e.HistoryStats().Samples

	fail = true
	out, err := e.Step(context.Background(), 200)
	if out != nil {
		t.Fatalf("failed step returned outputs %+v", out)
	}
	var se *StepError
	if !errors.As(err, &se) || se.Phase != PhaseHydraulicSolve || !errors.Is(err, ErrSolverNonConvergence) {
		t.Fatalf("err = %v, want StepError in HYDRAULIC_SOLVE wrapping ErrSolverNonConvergence", err)
	}
	if e.State() != PhaseIdle {
		t.Fatalf("State = %v, want IDLE", e.State())
	}
	if got := e.HistoryStats().Samples; got != samples {
		t.Fatalf("history samples = %d, want %d", got, samples)
	}
	if e.LastOutputs() != first || e.LastTime() != 100 {
		t.Fatalf("failed step replaced committed outputs")
	}

	// The same time can be retried once the solver recovers.
	fail = false
	if _, err := e.Step(context.Background(), 200); err != nil {
		t.Fatalf("retry Step: %v", err)
	}
}

func TestEngineDirectionResolutionFailure(t *testing.T) {
	c := newChain(t, 40)
	e := c.engine(t, c.uniformFlow(2))
	// Re-tag after construction to simulate a corrupted partition.
	c.net.pipes[c.p2].Stream = model.StreamUnknown

	_, err := e.Step(context.Background(), 10)
	var se *StepError
	if !errors.As(err, &se) || se.Phase != PhaseDirectionResolution || !errors.Is(err, ErrTopologyInconsistency) {
		t.Fatalf("err = %v, want StepError in DIRECTION_RESOLUTION wrapping ErrTopologyInconsistency", err)
	}
	if got := e.HistoryStats().Samples; got != c.net.NumJunctions() {
		t.Fatalf("history samples = %d, want only the initial %d", got, c.net.NumJunctions())
	}
}

func TestEngineRejectsNonIncreasingTime(t *testing.T) {
	c := newChain(t, 40)
	e := c.engine(t, c.uniformFlow(2), WithStartTime(50))

	if _, err := e.Step(context.Background(), 50); !errors.Is(err, ErrNonMonotonicTime) {
		t.Fatalf("step at start time err = %v, want ErrNonMonotonicTime", err)
	}
	if _, err := e.Step(context.Background(), 60); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if _, err := e.Step(context.Background(), 55); !errors.Is(err, ErrNonMonotonicTime) {
		t.Fatalf("backwards step err = %v, want ErrNonMonotonicTime", err)
	}
}

func TestEngineZeroFlowIsFlaggedNotFatal(t *testing.T) {
	c := newChain(t, 60)
	e := c.engine(t, c.uniformFlow(0))

	out, err := e.Step(context.Background(), 60)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if len(out.StagnantPipes) != 2 {
		t.Fatalf("StagnantPipes = %v, want p1 and p2", out.StagnantPipes)
	}
	if len(out.ExchangerFaults) != 1 || !errors.Is(out.ExchangerFaults[0].Err, ErrEnergyBalanceUndefined) {
		t.Fatalf("ExchangerFaults = %+v, want one ErrEnergyBalanceUndefined", out.ExchangerFaults)
	}
	// b, c and d have no inflow; a has none either since the grid injects 0.
	if len(out.NoFlowJunctions) != 4 {
		t.Fatalf("NoFlowJunctions = %v, want all four", out.NoFlowJunctions)
	}
	for name, v := range out.Junctions {
		if v != 60 {
			t.Fatalf("%s = %v, want held at 60", name, v)
		}
	}
	if out.Signals["T_return_cons"] != 60 {
		t.Fatalf("T_return_cons = %v, want held at 60", out.Signals["T_return_cons"])
	}
}

func TestEngineReversedFlow(t *testing.T) {
	c := newChain(t, 50)
	solver := HydraulicSolverFunc(func(ctx context.Context, st *HydraulicState) (*FlowField, error) {
		ff, _ := c.uniformFlow(2)(ctx, st)
		// p1 runs b→a; grid withdraws at a.
		ff.PipeMassFlow[0] = -2
		ff.Pressure = []float64{5, 6, 2.5, 2}
		ff.ExtGridMassFlow[0] = -2
		ff.ExchangerMassFlow[0] = 0
		return ff, nil
	})
	e := c.engine(t, solver)

	out, err := e.Step(context.Background(), 30)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := out.Junctions["a"]; got >= 50 || got <= 8 {
		t.Fatalf("a = %v, want cooled water from b", got)
	}
}

func TestEngineRetentionBoundsHistory(t *testing.T) {
	c := newChain(t, 60)
	e := c.engine(t, c.uniformFlow(2), WithHistoryRetention(100))
	if e.MaxTransportDelay() != 100 {
		t.Fatalf("MaxTransportDelay = %v, want 100", e.MaxTransportDelay())
	}

	for i := 1; i <= 50; i++ {
		if _, err := e.Step(context.Background(), float64(i*10)); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	// 100 s of 10 s samples plus the bracketing sample, per junction.
	if got, limit := e.HistoryStats().Samples, 12*c.net.NumJunctions(); got > limit {
		t.Fatalf("history samples = %d, want <= %d", got, limit)
	}
}

func TestEngineReset(t *testing.T) {
	c := newChain(t, 40)
	e := c.engine(t, c.uniformFlow(2))
	if _, err := e.Step(context.Background(), 100); err != nil {
		t.Fatalf("Step: %v", err)
	}
	e.Reset()
	if e.LastOutputs() != nil || e.LastTime() != 0 {
		t.Fatalf("Reset kept outputs / time")
	}
	if got := e.JunctionTemperature(c.a); got != 40 {
		t.Fatalf("a after Reset = %v, want 40", got)
	}
	if _, err := e.Step(context.Background(), 100); err != nil {
		t.Fatalf("Step after Reset: %v", err)
	}
}

func TestEngineValveSeparatesGroups(t *testing.T) {
	net := NewNetwork()
	add := func(name string) model.JunctionID {
		id, err := net.AddJunction(model.Junction{Name: name, InitialTemperature: 50})
		if err != nil {
			t.Fatalf("AddJunction: %v", err)
		}
		return id
	}
	a, b, c := add("a"), add("b"), add("c")
	net.AddPipe(model.Pipe{Name: "p", From: a, To: b, Length: 10, Diameter: 0.1, Stream: model.StreamSupply})
	net.AddValve(model.Valve{Name: "v", From: b, To: c, Diameter: 0.1, Open: true})
	net.AddExtGrid(model.ExtGrid{Name: "g", Junction: a, Pressure: 5, Temperature: 70})
	net.AddSink(model.Sink{Name: "s", Junction: c, MassFlow: 1})

	b2 := NewBindings()
	if err := b2.BindInput(net, "valve_open", "valve.open", "v"); err != nil {
		t.Fatalf("BindInput: %v", err)
	}
	solver := HydraulicSolverFunc(func(_ context.Context, st *HydraulicState) (*FlowField, error) {
		m := 1.0
		if !st.Setpoints.ValveOpen[0] {
			m = 0
		}
		v := m / (model.WaterDensity * CrossSection(0.1))
		return &FlowField{
			PipeMassFlow:      []float64{m},
			PipeVelocity:      []float64{v},
			Pressure:          []float64{5, 4.9, 4.9},
			ValveMassFlow:     []float64{m},
			ExchangerMassFlow: []float64{},
			ExtGridMassFlow:   []float64{m},
		}, nil
	})
	e, err := NewEngine(net, b2, NewHydraulicInterface(solver, HydraulicConfig{}, nil))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	out, err := e.Step(context.Background(), 1)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if out.Junctions["b"] != out.Junctions["c"] {
		t.Fatalf("open valve: b = %v, c = %v, want equal", out.Junctions["b"], out.Junctions["c"])
	}

	if err := e.SetInputs(map[string]float64{"valve_open": 0}); err != nil {
		t.Fatalf("SetInputs: %v", err)
	}
	out, err = e.Step(context.Background(), 2)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if len(out.NoFlowJunctions) == 0 {
		t.Fatalf("closed valve: want no-flow junctions, got none")
	}
}

type stubEngineMetrics struct {
	steps    map[string]int
	phases   map[string]int
	stagnant int
	samples  int
	temps    map[string]float64
}

func newStubEngineMetrics() *stubEngineMetrics {
	return &stubEngineMetrics{steps: map[string]int{}, phases: map[string]int{}, temps: map[string]float64{}}
}

func (m *stubEngineMetrics) ObserveStep(result string, _ time.Duration)    { m.steps[result]++ }
func (m *stubEngineMetrics) ObservePhase(phase string, _ time.Duration)    { m.phases[phase]++ }
func (m *stubEngineMetrics) SetFlags(stagnant, _ int)                      { m.stagnant = stagnant }
func (m *stubEngineMetrics) SetHistorySamples(n int)                       { m.samples = n }
func (m *stubEngineMetrics) AddHistoryQueries(string, int)                 {}
func (m *stubEngineMetrics) AddHydraulicWarnings(int)                      {}
func (m *stubEngineMetrics) SetJunctionTemperature(name string, v float64) { m.temps[name] = v }

func TestEngineMetricsRecorder(t *testing.T) {
	c := newChain(t, 60)
	rec := newStubEngineMetrics()
	e := c.engine(t, c.uniformFlow(2), WithMetricsRecorder(rec))

	if _, err := e.Step(context.Background(), 10); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if rec.steps["ok"] != 1 {
		t.Fatalf("steps = %v, want one ok", rec.steps)
	}
	for _, p := range []Phase{PhaseHydraulicSolve, PhaseDirectionResolution, PhasePropagation, PhaseMixing, PhaseOutputReady} {
		if rec.phases[p.String()] != 1 {
			t.Fatalf("phase %s observed %d times, want 1", p, rec.phases[p.String()])
		}
	}
	if rec.samples != 2*c.net.NumJunctions() {
		t.Fatalf("history samples = %d, want %d", rec.samples, 2*c.net.NumJunctions())
	}
	if rec.temps["a"] != 75 {
		t.Fatalf("junction a temperature = %v, want 75", rec.temps["a"])
	}
}

func TestPhaseString(t *testing.T) {
	if PhaseOutputReady.String() != "OUTPUT_READY" || Phase(42).String() != "Phase(42)" {
		t.Fatalf("unexpected Phase strings")
	}
}
