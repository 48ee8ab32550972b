package core

import (
	"context"
	"testing"

	"github.com/signalsfoundry/heatnet-simulator/model"
)

// chain is a minimal supply/return loop:
//
//	grid → a ──p1──▶ b ──hex──▶ c ──p2──▶ d → sink
//
// a and b are supply junctions, c and d return junctions.
type chain struct {
	net      *Network
	bindings *Bindings
	a, b     model.JunctionID
	c, d     model.JunctionID
	p1, p2   model.PipeID
	hex      model.ExchangerID
}

func newChain(t *testing.T, initial float64) *chain {
	t.Helper()
	net := NewNetwork()
	c := &chain{net: net}
	mustJunction := func(name string, temp float64) model.JunctionID {
		id, err := net.AddJunction(model.Junction{Name: name, InitialTemperature: temp, InitialPressure: 5})
		if err != nil {
			t.Fatalf("AddJunction(%s): %v", name, err)
		}
		return id
	}
	c.a = mustJunction("a", initial)
	c.b = mustJunction("b", initial)
	c.c = mustJunction("c", initial)
	c.d = mustJunction("d", initial)

	var err error
	c.p1, err = net.AddPipe(model.Pipe{Name: "p1", From: c.a, To: c.b, Length: 100, Diameter: 0.1, Alpha: 1.5, Ambient: 8, Stream: model.StreamSupply})
	if err != nil {
		t.Fatalf("AddPipe(p1): %v", err)
	}
	c.p2, err = net.AddPipe(model.Pipe{Name: "p2", From: c.c, To: c.d, Length: 100, Diameter: 0.1, Alpha: 1.5, Ambient: 8, Stream: model.StreamReturn})
	if err != nil {
		t.Fatalf("AddPipe(p2): %v", err)
	}
	c.hex, err = net.AddHeatExchanger(model.HeatExchanger{Name: "hex", From: c.b, To: c.c, Diameter: 0.1, Power: 50e3, Controlled: true, MassFlow: 2})
	if err != nil {
		t.Fatalf("AddHeatExchanger: %v", err)
	}
	if _, err := net.AddExtGrid(model.ExtGrid{Name: "grid", Junction: c.a, Pressure: 6, Temperature: 75}); err != nil {
		t.Fatalf("AddExtGrid: %v", err)
	}
	if _, err := net.AddSink(model.Sink{Name: "sink", Junction: c.d, MassFlow: 2}); err != nil {
		t.Fatalf("AddSink: %v", err)
	}

	c.bindings = NewBindings()
	for _, in := range []struct{ name, param, el string }{
		{"T_supply_grid", "ext_grid.temperature", "grid"},
		{"Qdot_cons", "heat_exchanger.power_kw", "hex"},
		{"mdot_cons_set", "heat_exchanger.mass_flow", "hex"},
	} {
		if err := c.bindings.BindInput(net, in.name, in.param, in.el); err != nil {
			t.Fatalf("BindInput(%s): %v", in.name, err)
		}
	}
	for _, out := range []struct{ name, q, el string }{
		{"T_supply_cons", "heat_exchanger.supply_temperature", "hex"},
		{"T_return_cons", "heat_exchanger.return_temperature", "hex"},
		{"T_return_grid", "junction.temperature", "d"},
		{"mdot_p1", "pipe.mass_flow", "p1"},
	} {
		if err := c.bindings.BindOutput(net, out.name, out.q, out.el); err != nil {
			t.Fatalf("BindOutput(%s): %v", out.name, err)
		}
	}
	return c
}

// uniformFlow returns a solver that pushes mdot kg/s around the chain,
// whatever the setpoints say. Pressures fall along the flow path.
func (c *chain) uniformFlow(mdot float64) HydraulicSolverFunc {
	return func(_ context.Context, st *HydraulicState) (*FlowField, error) {
		v := mdot / (model.WaterDensity * CrossSection(0.1))
		return &FlowField{
			PipeMassFlow:      []float64{mdot, mdot},
			PipeVelocity:      []float64{v, v},
			Pressure:          []float64{6, 5.5, 2.5, 2},
			ValveMassFlow:     []float64{},
			ExchangerMassFlow: []float64{mdot},
			ExtGridMassFlow:   []float64{mdot},
			Iterations:        1,
		}, nil
	}
}

func (c *chain) engine(t *testing.T, solver HydraulicSolver, opts ...EngineOption) *Engine {
	t.Helper()
	e, err := NewEngine(c.net, c.bindings, NewHydraulicInterface(solver, HydraulicConfig{}, nil), opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}
