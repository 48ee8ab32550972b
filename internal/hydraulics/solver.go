// Package hydraulics provides a steady-state nodal solver for pipe
// networks. It implements core.HydraulicSolver and is the default solver
// used by the heatnet CLI.
package hydraulics

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/signalsfoundry/heatnet-simulator/core"
	"github.com/signalsfoundry/heatnet-simulator/model"
)

var (
	// ErrNoPressureReference is returned when no ext grid fixes a pressure.
	ErrNoPressureReference = errors.New("no pressure reference")
	// ErrSingular is returned when part of the network floats without a
	// pressure reference, e.g. behind a closed valve.
	ErrSingular = errors.New("singular nodal system")
	// ErrNotConverged is returned when MaxIterations is exhausted.
	ErrNotConverged = errors.New("hydraulic iteration did not converge")
)

// WaterKinematicViscosity at roughly 70 °C, in m²/s.
const WaterKinematicViscosity = 4.1e-7

const (
	laminarReynolds    = 2300.0
	minResistance      = 1.0 // Pa/(kg/s)²
	minLossCoefficient = 0.1
	pascalPerBar       = 1e5
)

// Config tunes the iteration.
type Config struct {
	MaxIterations int
	// Tolerance is the largest mass flow change (kg/s) between two
	// iterations that counts as converged.
	Tolerance float64
	// Damping scales each flow update. 1 takes the full Newton step.
	Damping float64
	// FlowFloor bounds |m| from below when linearising, in kg/s.
	FlowFloor float64
}

// DefaultConfig returns the settings used when a field is zero.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 100,
		Tolerance:     1e-6,
		Damping:       1,
		FlowFloor:     1e-4,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.Tolerance <= 0 {
		c.Tolerance = d.Tolerance
	}
	if c.Damping <= 0 || c.Damping > 1 {
		c.Damping = d.Damping
	}
	if c.FlowFloor <= 0 {
		c.FlowFloor = d.FlowFloor
	}
	return c
}

// NodalSolver solves junction pressures and branch mass flows with
// successive linearisation of the quadratic loss laws.
type NodalSolver struct {
	cfg Config
}

// NewNodalSolver returns a solver; zero config fields take their defaults.
func NewNodalSolver(cfg Config) *NodalSolver {
	return &NodalSolver{cfg: cfg.withDefaults()}
}

var _ core.HydraulicSolver = (*NodalSolver)(nil)

type branchKind int

const (
	branchPipe branchKind = iota
	branchValve
	branchExchanger
)

// branch is a pressure-coupled edge of the nodal system.
type branch struct {
	kind  branchKind
	index int
	from  int
	to    int
	flow  float64 // kg/s, From→To positive

	// Pipes refresh their resistance from the friction factor each
	// iteration; valves and exchangers keep the one computed up front.
	pipe       model.Pipe
	resistance float64
}

type system struct {
	net      *core.Network
	branches []branch
	// injection is the fixed net inflow per junction, kg/s.
	injection []float64
	// fixed holds the ext grid pressure (Pa) for reference junctions.
	fixed map[int]float64
	// unknown maps a junction to its row in the reduced system, -1 when fixed.
	unknown []int
	rows    int
}

// Solve implements core.HydraulicSolver.
func (s *NodalSolver) Solve(ctx context.Context, state *core.HydraulicState) (*core.FlowField, error) {
	if state == nil || state.Network == nil || state.Setpoints == nil {
		return nil, errors.New("hydraulics: incomplete state")
	}
	sys, err := assemble(state.Network, state.Setpoints)
	if err != nil {
		return nil, err
	}

	pressure := make([]float64, state.Network.NumJunctions())
	for iter := 1; iter <= s.cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := sys.solvePressures(s.cfg.FlowFloor, pressure); err != nil {
			return nil, err
		}
		delta := sys.updateFlows(s.cfg.FlowFloor, s.cfg.Damping, pressure)
		if delta < s.cfg.Tolerance {
			return sys.flowField(state.Setpoints, pressure, iter), nil
		}
	}
	return nil, fmt.Errorf("%w after %d iterations", ErrNotConverged, s.cfg.MaxIterations)
}

func assemble(net *core.Network, sp *core.Setpoints) (*system, error) {
	n := net.NumJunctions()
	sys := &system{
		net:       net,
		injection: make([]float64, n),
		fixed:     make(map[int]float64),
		unknown:   make([]int, n),
	}

	for i := 0; i < net.NumExtGrids(); i++ {
		j := int(net.ExtGrid(model.ExtGridID(i)).Junction)
		if _, ok := sys.fixed[j]; !ok {
			sys.fixed[j] = sp.ExtGridPressure[i] * pascalPerBar
		}
	}
	if len(sys.fixed) == 0 {
		return nil, ErrNoPressureReference
	}
	for j := range sys.unknown {
		if _, ok := sys.fixed[j]; ok {
			sys.unknown[j] = -1
			continue
		}
		sys.unknown[j] = sys.rows
		sys.rows++
	}

	for i := 0; i < net.NumSinks(); i++ {
		sys.injection[net.Sink(model.SinkID(i)).Junction] -= sp.SinkMassFlow[i]
	}
	for i := 0; i < net.NumSources(); i++ {
		sys.injection[net.Source(model.SourceID(i)).Junction] += sp.SourceMassFlow[i]
	}

	for i := 0; i < net.NumPipes(); i++ {
		p := net.Pipe(model.PipeID(i))
		sys.branches = append(sys.branches, branch{
			kind: branchPipe, index: i, from: int(p.From), to: int(p.To),
			flow: 0.1, pipe: p,
		})
	}
	for i := 0; i < net.NumValves(); i++ {
		if !sp.ValveOpen[i] {
			continue
		}
		v := net.Valve(model.ValveID(i))
		sys.branches = append(sys.branches, branch{
			kind: branchValve, index: i, from: int(v.From), to: int(v.To),
			flow: 0.1, resistance: localResistance(v.LossCoefficient, v.Diameter),
		})
	}
	for i := 0; i < net.NumExchangers(); i++ {
		h := net.Exchanger(model.ExchangerID(i))
		if h.Controlled {
			sys.injection[h.From] -= sp.ExchangerMassFlow[i]
			sys.injection[h.To] += sp.ExchangerMassFlow[i]
			continue
		}
		sys.branches = append(sys.branches, branch{
			kind: branchExchanger, index: i, from: int(h.From), to: int(h.To),
			flow: 0.1, resistance: localResistance(h.LossCoefficient, h.Diameter),
		})
	}
	return sys, nil
}

// linearise returns the conductance and offset of a branch around its
// current flow: m ≈ g·Δp + s.
func (b *branch) linearise(floor float64) (g, s float64) {
	r := b.resistance
	if b.kind == branchPipe {
		r = pipeResistance(b.pipe, b.flow)
	}
	m := b.flow
	if math.Abs(m) < floor {
		// Secant through the origin so stagnant branches settle at zero.
		return 1 / (r * floor), 0
	}
	return 1 / (2 * r * math.Abs(m)), m / 2
}

func (sys *system) solvePressures(floor float64, pressure []float64) error {
	for j, p := range sys.fixed {
		pressure[j] = p
	}
	if sys.rows == 0 {
		return nil
	}

	n := sys.rows
	a := make([]float64, n*n)
	rhs := make([]float64, n)
	for j, row := range sys.unknown {
		if row >= 0 {
			rhs[row] = sys.injection[j]
		}
	}
	add := func(r, c int, v float64) { a[r*n+c] += v }

	for i := range sys.branches {
		b := &sys.branches[i]
		g, s := b.linearise(floor)
		rf, rt := sys.unknown[b.from], sys.unknown[b.to]
		// Node balance: branch outflow from "from" equals inflow at "to".
		if rf >= 0 {
			add(rf, rf, g)
			rhs[rf] -= s
			if rt >= 0 {
				add(rf, rt, -g)
			} else {
				rhs[rf] += g * sys.fixed[b.to]
			}
		}
		if rt >= 0 {
			add(rt, rt, g)
			rhs[rt] += s
			if rf >= 0 {
				add(rt, rf, -g)
			} else {
				rhs[rt] += g * sys.fixed[b.from]
			}
		}
	}

	x, err := solveSymmetric(n, a, rhs)
	if err != nil {
		return err
	}
	for j, row := range sys.unknown {
		if row >= 0 {
			pressure[j] = x.AtVec(row)
		}
	}
	return nil
}

// solveSymmetric tries a Cholesky factorisation first and falls back to
// LU when the matrix is not positive definite.
func solveSymmetric(n int, a, rhs []float64) (*mat.VecDense, error) {
	b := mat.NewVecDense(n, rhs)
	var x mat.VecDense

	var chol mat.Cholesky
	if chol.Factorize(mat.NewSymDense(n, a)) {
		if err := chol.SolveVecTo(&x, b); err == nil {
			return &x, nil
		}
	}
	if err := x.SolveVec(mat.NewDense(n, n, a), b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	return &x, nil
}

// updateFlows recomputes branch flows from the pressures and returns the
// largest change.
func (sys *system) updateFlows(floor, damping float64, pressure []float64) float64 {
	var delta float64
	for i := range sys.branches {
		b := &sys.branches[i]
		g, s := b.linearise(floor)
		next := g*(pressure[b.from]-pressure[b.to]) + s
		step := damping * (next - b.flow)
		b.flow += step
		delta = math.Max(delta, math.Abs(step))
	}
	return delta
}

func (sys *system) flowField(sp *core.Setpoints, pressure []float64, iterations int) *core.FlowField {
	net := sys.net
	ff := &core.FlowField{
		PipeMassFlow:      make([]float64, net.NumPipes()),
		PipeVelocity:      make([]float64, net.NumPipes()),
		Pressure:          make([]float64, net.NumJunctions()),
		ValveMassFlow:     make([]float64, net.NumValves()),
		ExchangerMassFlow: make([]float64, net.NumExchangers()),
		ExtGridMassFlow:   make([]float64, net.NumExtGrids()),
		Iterations:        iterations,
	}
	for j, p := range pressure {
		ff.Pressure[j] = p / pascalPerBar
	}

	// Net branch outflow per junction, to close the balance at ext grids.
	outflow := make([]float64, net.NumJunctions())
	for _, b := range sys.branches {
		outflow[b.from] += b.flow
		outflow[b.to] -= b.flow
		switch b.kind {
		case branchPipe:
			ff.PipeMassFlow[b.index] = b.flow
			ff.PipeVelocity[b.index] = b.flow / (model.WaterDensity * core.CrossSection(b.pipe.Diameter))
		case branchValve:
			ff.ValveMassFlow[b.index] = b.flow
		case branchExchanger:
			ff.ExchangerMassFlow[b.index] = b.flow
		}
	}
	for i := 0; i < net.NumExchangers(); i++ {
		if net.Exchanger(model.ExchangerID(i)).Controlled {
			ff.ExchangerMassFlow[i] = sp.ExchangerMassFlow[i]
		}
	}

	assigned := make(map[int]bool)
	for i := 0; i < net.NumExtGrids(); i++ {
		j := int(net.ExtGrid(model.ExtGridID(i)).Junction)
		if assigned[j] {
			continue
		}
		assigned[j] = true
		ff.ExtGridMassFlow[i] = outflow[j] - sys.injection[j]
	}
	return ff
}

// localResistance is R in Δp = R·m·|m| for a fitting with loss
// coefficient ζ.
func localResistance(zeta, diameter float64) float64 {
	if zeta <= 0 {
		zeta = minLossCoefficient
	}
	area := core.CrossSection(diameter)
	return math.Max(zeta/(2*model.WaterDensity*area*area), minResistance)
}

// pipeResistance is the Darcy–Weisbach R for the current flow.
func pipeResistance(p model.Pipe, mdot float64) float64 {
	area := core.CrossSection(p.Diameter)
	velocity := math.Abs(mdot) / (model.WaterDensity * area)
	f := FrictionFactor(velocity*p.Diameter/WaterKinematicViscosity, p.Roughness/1000, p.Diameter)
	return math.Max(f*p.Length/(p.Diameter*2*model.WaterDensity*area*area), minResistance)
}

// FrictionFactor returns the Darcy friction factor: 64/Re in laminar flow
// and the Swamee–Jain approximation otherwise. roughness and diameter are
// in metres.
func FrictionFactor(reynolds, roughness, diameter float64) float64 {
	if reynolds < 1 {
		reynolds = 1
	}
	if reynolds < laminarReynolds {
		return 64 / reynolds
	}
	l := math.Log10(roughness/(3.7*diameter) + 5.74/math.Pow(reynolds, 0.9))
	return 0.25 / (l * l)
}
