// core/mixing.go
package core

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/heatnet-simulator/model"
)

// Inflow is one mass stream entering a junction group.
type Inflow struct {
	MassFlow    float64 // kg/s, only positive values contribute
	Temperature float64 // °C
}

const inflowEpsilon = 1e-12

// MixTemperature returns the mass-weighted mean temperature of the
// positive inflows. A total inflow of (nearly) zero returns ErrNoInflow.
func MixTemperature(inflows []Inflow) (float64, error) {
	var mass, energy float64
	for _, in := range inflows {
		if in.MassFlow <= 0 {
			continue
		}
		mass += in.MassFlow
		energy += in.MassFlow * in.Temperature
	}
	if mass < inflowEpsilon {
		return 0, ErrNoInflow
	}
	return energy / mass, nil
}

// ReturnTemperature closes the energy balance of a heat exchanger:
//
//	T_return = T_forward - P / (cp · mdot)
//
// power is positive when heat is extracted. A zero mass flow returns
// ErrEnergyBalanceUndefined.
func ReturnTemperature(forward, power, mdot, cp float64) (float64, error) {
	if cp <= 0 {
		cp = model.WaterSpecificHeat
	}
	m := math.Abs(mdot)
	if m < inflowEpsilon || isBad(m) {
		return 0, fmt.Errorf("%w: mass flow %g kg/s", ErrEnergyBalanceUndefined, mdot)
	}
	return forward - power/(cp*m), nil
}

// mixingGroups partitions junctions into thermal nodes: junctions joined
// by an open valve share one temperature.
type mixingGroups struct {
	parent  []int
	members [][]model.JunctionID
	groupOf []int
}

func newMixingGroups(n int) *mixingGroups {
	g := &mixingGroups{
		parent:  make([]int, n),
		groupOf: make([]int, n),
	}
	return g
}

// rebuild recomputes the partition for the given valve states.
func (g *mixingGroups) rebuild(net *Network, open []bool) {
	for i := range g.parent {
		g.parent[i] = i
	}
	for v := 0; v < net.NumValves(); v++ {
		if !open[v] {
			continue
		}
		valve := net.Valve(model.ValveID(v))
		g.union(int(valve.From), int(valve.To))
	}

	g.members = g.members[:0]
	index := make(map[int]int, len(g.parent))
	for j := range g.parent {
		root := g.find(j)
		k, ok := index[root]
		if !ok {
			k = len(g.members)
			index[root] = k
			g.members = append(g.members, nil)
		}
		g.members[k] = append(g.members[k], model.JunctionID(j))
		g.groupOf[j] = k
	}
}

func (g *mixingGroups) find(i int) int {
	for g.parent[i] != i {
		g.parent[i] = g.parent[g.parent[i]]
		i = g.parent[i]
	}
	return i
}

func (g *mixingGroups) union(a, b int) {
	ra, rb := g.find(a), g.find(b)
	if ra == rb {
		return
	}
	// Lower index becomes root so group numbering follows handle order.
	if ra < rb {
		g.parent[rb] = ra
	} else {
		g.parent[ra] = rb
	}
}

func (g *mixingGroups) count() int { return len(g.members) }
