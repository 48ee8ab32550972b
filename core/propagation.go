// core/propagation.go
package core

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/heatnet-simulator/model"
)

// DefaultZeroFlowTolerance is the mass flow (kg/s) below which a pipe is
// treated as stagnant.
const DefaultZeroFlowTolerance = 1e-6

// PipeThermal is the subset of pipe parameters the heat-loss recurrence
// needs.
type PipeThermal struct {
	Length   float64 // m
	Diameter float64 // m
	Alpha    float64 // W/(m²·K)
	Ambient  float64 // °C

	// ZeroFlowTolerance overrides DefaultZeroFlowTolerance when positive.
	ZeroFlowTolerance float64
}

// ThermalOf extracts the heat-loss parameters of a pipe.
func ThermalOf(p model.Pipe) PipeThermal {
	return PipeThermal{
		Length:   p.Length,
		Diameter: p.Diameter,
		Alpha:    p.Alpha,
		Ambient:  p.Ambient,
	}
}

// TransitTime returns L/|v| in seconds. ok is false when the velocity is
// effectively zero or not finite; the caller then falls back to the
// instantaneous upstream temperature.
func TransitTime(length, velocity float64) (tau float64, ok bool) {
	v := math.Abs(velocity)
	if v < 1e-9 || isBad(v) || isBad(length) {
		return 0, false
	}
	return length / v, true
}

// OutletTemperature applies the steady exponential heat-loss decay
//
//	T_out = T_a + (T_in - T_a) · exp(-(α·π·D·L) / (cp·|m|))
//
// to a pipe carrying mass flow mdot (kg/s, either sign). A flow below the
// zero-flow tolerance returns ErrZeroFlow; the caller holds the previous
// outlet value.
func OutletTemperature(p PipeThermal, inlet, mdot, cp float64) (float64, error) {
	tol := p.ZeroFlowTolerance
	if tol <= 0 {
		tol = DefaultZeroFlowTolerance
	}
	m := math.Abs(mdot)
	if m < tol || isBad(m) {
		return 0, fmt.Errorf("%w: |m|=%g kg/s", ErrZeroFlow, m)
	}
	if cp <= 0 {
		cp = model.WaterSpecificHeat
	}
	exponent := p.Alpha * math.Pi * p.Diameter * p.Length / (cp * m)
	return p.Ambient + (inlet-p.Ambient)*math.Exp(-exponent), nil
}

// HeatLoss returns the thermal power (W) a pipe loses to its surroundings
// for the given inlet/outlet temperatures and flow.
func HeatLoss(inlet, outlet, mdot, cp float64) float64 {
	if cp <= 0 {
		cp = model.WaterSpecificHeat
	}
	return math.Abs(mdot) * cp * (inlet - outlet)
}
