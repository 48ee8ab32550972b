package core

import (
	"errors"
	"fmt"
)

var (
	// ErrSolverNonConvergence is fatal to the step in which it occurs.
	ErrSolverNonConvergence = errors.New("hydraulic solver did not converge")
	// ErrTopologyInconsistency signals a configuration-level problem such as
	// an unresolvable flow partition or a missing named component.
	ErrTopologyInconsistency = errors.New("topology inconsistency")
	// ErrZeroFlow reports a thermally stagnant pipe.
	ErrZeroFlow = errors.New("zero mass flow")
	// ErrNoInflow reports a junction group without incoming mass flow.
	ErrNoInflow = errors.New("no inflow at junction")
	// ErrEnergyBalanceUndefined reports a heat exchanger whose mass flow is zero.
	ErrEnergyBalanceUndefined = errors.New("energy balance undefined")
	// ErrUnknownSignal is returned for input or output names without a binding.
	ErrUnknownSignal = errors.New("unknown signal")
	// ErrNonMonotonicTime is returned when a step does not advance time.
	ErrNonMonotonicTime = errors.New("step time must increase")
	// ErrStepInProgress is returned when Step is re-entered.
	ErrStepInProgress = errors.New("step already in progress")

	ErrDuplicateName   = errors.New("duplicate element name")
	ErrUnknownJunction = errors.New("unknown junction")
	ErrInvalidElement  = errors.New("invalid element")
)

// StepError wraps a failure that aborted a simulation step.
type StepError struct {
	Time  float64
	Phase Phase
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step t=%g failed in %s: %v", e.Time, e.Phase, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
