package hydraulics

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/heatnet-simulator/core"
	"github.com/signalsfoundry/heatnet-simulator/model"
)

type builder struct {
	t   *testing.T
	net *core.Network
}

func newBuilder(t *testing.T, junctions ...string) *builder {
	t.Helper()
	b := &builder{t: t, net: core.NewNetwork()}
	for _, name := range junctions {
		_, err := b.net.AddJunction(model.Junction{Name: name, InitialTemperature: 60})
		require.NoError(t, err)
	}
	return b
}

func (b *builder) j(name string) model.JunctionID {
	id, ok := b.net.JunctionByName(name)
	require.True(b.t, ok, "junction %s", name)
	return id
}

func (b *builder) pipe(name, from, to string, length float64) {
	_, err := b.net.AddPipe(model.Pipe{
		Name: name, From: b.j(from), To: b.j(to),
		Length: length, Diameter: 0.1, Roughness: 0.01, Stream: model.StreamSupply,
	})
	require.NoError(b.t, err)
}

func (b *builder) grid(name, at string, bar float64) {
	_, err := b.net.AddExtGrid(model.ExtGrid{Name: name, Junction: b.j(at), Pressure: bar, Temperature: 75})
	require.NoError(b.t, err)
}

func (b *builder) sink(name, at string, mdot float64) {
	_, err := b.net.AddSink(model.Sink{Name: name, Junction: b.j(at), MassFlow: mdot})
	require.NoError(b.t, err)
}

func solve(t *testing.T, net *core.Network) *core.FlowField {
	t.Helper()
	ff, err := NewNodalSolver(Config{}).Solve(context.Background(), &core.HydraulicState{
		Network:   net,
		Setpoints: core.NewSetpoints(net),
	})
	require.NoError(t, err)
	return ff
}

// requireBalanced checks that every non-reference junction conserves mass.
func requireBalanced(t *testing.T, net *core.Network, ff *core.FlowField) {
	t.Helper()
	sp := core.NewSetpoints(net)
	net2 := make([]float64, net.NumJunctions())
	for i := 0; i < net.NumPipes(); i++ {
		p := net.Pipe(model.PipeID(i))
		net2[p.From] -= ff.PipeMassFlow[i]
		net2[p.To] += ff.PipeMassFlow[i]
	}
	for i := 0; i < net.NumValves(); i++ {
		v := net.Valve(model.ValveID(i))
		net2[v.From] -= ff.ValveMassFlow[i]
		net2[v.To] += ff.ValveMassFlow[i]
	}
	for i := 0; i < net.NumExchangers(); i++ {
		h := net.Exchanger(model.ExchangerID(i))
		net2[h.From] -= ff.ExchangerMassFlow[i]
		net2[h.To] += ff.ExchangerMassFlow[i]
	}
	for i := 0; i < net.NumSinks(); i++ {
		net2[net.Sink(model.SinkID(i)).Junction] -= sp.SinkMassFlow[i]
	}
	for i := 0; i < net.NumSources(); i++ {
		net2[net.Source(model.SourceID(i)).Junction] += sp.SourceMassFlow[i]
	}
	for i := 0; i < net.NumExtGrids(); i++ {
		net2[net.ExtGrid(model.ExtGridID(i)).Junction] += ff.ExtGridMassFlow[i]
	}
	for j, residual := range net2 {
		assert.InDelta(t, 0, residual, 1e-6, "junction %s", net.Junction(model.JunctionID(j)).Name)
	}
}

func TestSinglePipeMatchesDarcyWeisbach(t *testing.T) {
	b := newBuilder(t, "a", "b")
	b.pipe("p", "a", "b", 1000)
	b.grid("g", "a", 6)
	b.sink("s", "b", 2)

	ff := solve(t, b.net)

	require.InDelta(t, 2, ff.PipeMassFlow[0], 1e-9)
	require.InDelta(t, 2, ff.ExtGridMassFlow[0], 1e-9)
	assert.Equal(t, 6.0, ff.Pressure[0])

	area := core.CrossSection(0.1)
	v := 2 / (model.WaterDensity * area)
	assert.InDelta(t, v, ff.PipeVelocity[0], 1e-12)
	f := FrictionFactor(v*0.1/WaterKinematicViscosity, 0.01e-3, 0.1)
	dp := f * 1000 / 0.1 * model.WaterDensity * v * v / 2
	assert.InDelta(t, 6-dp/pascalPerBar, ff.Pressure[1], 1e-6)
	assert.Positive(t, ff.Iterations)
}

func TestParallelPipesSplitByResistance(t *testing.T) {
	b := newBuilder(t, "a", "b")
	b.pipe("short", "a", "b", 100)
	b.pipe("long", "a", "b", 400)
	b.grid("g", "a", 6)
	b.sink("s", "b", 3)

	ff := solve(t, b.net)
	requireBalanced(t, b.net, ff)

	short, long := ff.PipeMassFlow[0], ff.PipeMassFlow[1]
	assert.InDelta(t, 3, short+long, 1e-6)
	assert.Greater(t, short, long)

	// Both branches see the same pressure drop.
	dpShort := pipeResistance(b.net.Pipe(0), short) * short * short
	dpLong := pipeResistance(b.net.Pipe(1), long) * long * long
	assert.InEpsilon(t, dpShort, dpLong, 1e-3)
	assert.InEpsilon(t, (ff.Pressure[0]-ff.Pressure[1])*pascalPerBar, dpShort, 1e-3)

	// The slower branch runs at a lower Reynolds number and so a higher
	// friction factor, which pushes the split past the quadratic 2:1.
	fShort := FrictionFactor(reynolds(short, 0.1), 0.01e-3, 0.1)
	fLong := FrictionFactor(reynolds(long, 0.1), 0.01e-3, 0.1)
	assert.Greater(t, fLong, fShort)
	assert.InEpsilon(t, math.Sqrt(4*fLong/fShort), short/long, 1e-3)
	assert.Greater(t, short/long, 2.0)
}

func reynolds(mdot, diameter float64) float64 {
	v := mdot / (model.WaterDensity * core.CrossSection(diameter))
	return v * diameter / WaterKinematicViscosity
}

func TestRingPressureDropsAgree(t *testing.T) {
	b := newBuilder(t, "a", "b", "c")
	b.pipe("ab", "a", "b", 200)
	b.pipe("bc", "b", "c", 200)
	b.pipe("ac", "a", "c", 300)
	b.grid("g", "a", 6)
	b.sink("s", "c", 4)

	ff := solve(t, b.net)
	requireBalanced(t, b.net, ff)

	drop := func(id model.PipeID) float64 {
		p := b.net.Pipe(id)
		m := ff.PipeMassFlow[id]
		return pipeResistance(p, m) * m * math.Abs(m)
	}
	direct := (ff.Pressure[0] - ff.Pressure[2]) * pascalPerBar
	assert.InEpsilon(t, direct, drop(2), 1e-3)
	assert.InEpsilon(t, direct, drop(0)+drop(1), 1e-3)
}

func TestClosedValveCarriesNoFlow(t *testing.T) {
	b := newBuilder(t, "a", "b")
	b.pipe("p", "a", "b", 100)
	_, err := b.net.AddValve(model.Valve{Name: "v", From: b.j("a"), To: b.j("b"), Diameter: 0.1, LossCoefficient: 1})
	require.NoError(t, err)
	b.grid("g", "a", 6)
	b.sink("s", "b", 1)

	sp := core.NewSetpoints(b.net)
	sp.ValveOpen[0] = false
	ff, err := NewNodalSolver(Config{}).Solve(context.Background(), &core.HydraulicState{Network: b.net, Setpoints: sp})
	require.NoError(t, err)
	assert.Zero(t, ff.ValveMassFlow[0])
	assert.InDelta(t, 1, ff.PipeMassFlow[0], 1e-9)

	sp.ValveOpen[0] = true
	ff, err = NewNodalSolver(Config{}).Solve(context.Background(), &core.HydraulicState{Network: b.net, Setpoints: sp})
	require.NoError(t, err)
	assert.Positive(t, ff.ValveMassFlow[0])
	assert.InDelta(t, 1, ff.ValveMassFlow[0]+ff.PipeMassFlow[0], 1e-6)
}

func TestPassiveExchangerBetweenTwoGrids(t *testing.T) {
	b := newBuilder(t, "a", "b", "c", "d")
	b.pipe("ab", "a", "b", 200)
	b.pipe("cd", "c", "d", 200)
	_, err := b.net.AddHeatExchanger(model.HeatExchanger{Name: "hx", From: b.j("b"), To: b.j("c"), Diameter: 0.1, LossCoefficient: 10})
	require.NoError(t, err)
	b.grid("high", "a", 6)
	b.grid("low", "d", 5)

	ff := solve(t, b.net)
	requireBalanced(t, b.net, ff)

	m := ff.ExchangerMassFlow[0]
	assert.Positive(t, m)
	assert.InDelta(t, m, ff.PipeMassFlow[0], 1e-6)
	assert.InDelta(t, m, ff.ExtGridMassFlow[0], 1e-6)
	assert.InDelta(t, -m, ff.ExtGridMassFlow[1], 1e-6)
}

func TestControlledExchangerWithoutReturnReferenceIsSingular(t *testing.T) {
	b := newBuilder(t, "a", "b", "c", "d")
	b.pipe("ab", "a", "b", 200)
	b.pipe("cd", "c", "d", 200)
	_, err := b.net.AddHeatExchanger(model.HeatExchanger{Name: "hx", From: b.j("b"), To: b.j("c"), Diameter: 0.1, Controlled: true, MassFlow: 1})
	require.NoError(t, err)
	b.grid("g", "a", 6)
	b.sink("s", "d", 1)

	_, err = NewNodalSolver(Config{}).Solve(context.Background(), &core.HydraulicState{
		Network: b.net, Setpoints: core.NewSetpoints(b.net),
	})
	require.ErrorIs(t, err, ErrSingular)
}

func TestSolveErrors(t *testing.T) {
	b := newBuilder(t, "a", "b")
	b.pipe("p", "a", "b", 100)
	b.sink("s", "b", 1)
	state := &core.HydraulicState{Network: b.net, Setpoints: core.NewSetpoints(b.net)}

	_, err := NewNodalSolver(Config{}).Solve(context.Background(), state)
	require.ErrorIs(t, err, ErrNoPressureReference)

	b.grid("g", "a", 6)
	state.Setpoints = core.NewSetpoints(b.net)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewNodalSolver(Config{}).Solve(ctx, state)
	require.ErrorIs(t, err, context.Canceled)

	_, err = NewNodalSolver(Config{}).Solve(context.Background(), &core.HydraulicState{})
	require.Error(t, err)
}

func TestFrictionFactor(t *testing.T) {
	assert.InDelta(t, 0.064, FrictionFactor(1000, 0, 0.1), 1e-12)
	assert.InDelta(t, 64, FrictionFactor(0, 0, 0.1), 1e-12)
	assert.InDelta(t, 0.0179, FrictionFactor(1e5, 0, 0.1), 5e-4)
	assert.Greater(t, FrictionFactor(1e5, 1e-3, 0.1), FrictionFactor(1e5, 0, 0.1))
}

func TestConfigDefaults(t *testing.T) {
	s := NewNodalSolver(Config{Damping: 3})
	assert.Equal(t, DefaultConfig(), s.cfg)

	s = NewNodalSolver(Config{MaxIterations: 7, Damping: 0.5})
	assert.Equal(t, 7, s.cfg.MaxIterations)
	assert.Equal(t, 0.5, s.cfg.Damping)
}

func TestBundledNetworkSolvesAndBalances(t *testing.T) {
	net, _, _, err := core.LoadNetworkFile("../../configs/flexheat_network.yaml")
	require.NoError(t, err)

	ff := solve(t, net)
	requireBalanced(t, net, ff)

	valve := func(name string) float64 {
		id, ok := net.ValveByName(name)
		require.True(t, ok, name)
		return ff.ValveMassFlow[id]
	}
	assert.InDelta(t, 4, valve("sub_v1"), 1e-6)
	assert.InDelta(t, 4, valve("sub_v2"), 1e-6)
	assert.InDelta(t, 0.5, valve("bypass"), 1e-6)
	assert.InDelta(t, 8.5, valve("grid_v1"), 1e-6)
	assert.InDelta(t, 0, valve("tank_v1"), 1e-6)
	assert.InDelta(t, 8.5, ff.ExtGridMassFlow[0], 1e-6)

	for j, p := range ff.Pressure {
		assert.Positive(t, p, "junction %s", net.Junction(model.JunctionID(j)).Name)
		assert.LessOrEqual(t, p, 6.0+1e-9)
	}
}
