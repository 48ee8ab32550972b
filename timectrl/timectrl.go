// Package timectrl steps simulation time in fixed ticks and hands each
// tick to the registered listeners, one after another.
package timectrl

import (
	"context"
	"errors"
	"sync"
	"time"
)

// SimClock is the read side of a TimeController.
type SimClock interface {
	Now() time.Time
	Elapsed() time.Duration
}

// Mode selects pacing.
type Mode int

const (
	// RealTime waits one wall-clock Tick between steps.
	RealTime Mode = iota
	// Accelerated starts the next step as soon as the listeners return.
	Accelerated
)

// Listener is invoked once per tick with the new simulation time. A
// returned error stops the run.
type Listener func(ctx context.Context, now time.Time) error

// ErrInvalidTick is returned by Run when Tick is not positive.
var ErrInvalidTick = errors.New("timectrl: tick must be positive")

// TimeController owns the simulation clock. A step never overlaps the
// next one: listeners run synchronously inside Run.
type TimeController struct {
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	mu          sync.RWMutex
	currentTime time.Time
	listeners   []Listener
}

// NewTimeController returns a controller whose clock reads start.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now is the time of the last tick, or StartTime before the first.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

func (tc *TimeController) Elapsed() time.Duration {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime.Sub(tc.StartTime)
}

// SetTime moves the clock without notifying listeners.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.currentTime = t
}

// AddListener appends fn. Listeners added during Run take effect on the
// next Run.
func (tc *TimeController) AddListener(fn Listener) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Run advances time by Tick until duration has elapsed (forever when
// duration is zero), calling every listener after each advance. The
// context is only checked between ticks, so a cancelled run always
// finishes the tick in flight. Run returns the first listener error, or
// the context error after a cancellation.
func (tc *TimeController) Run(ctx context.Context, duration time.Duration) error {
	if tc.Tick <= 0 {
		return ErrInvalidTick
	}

	tc.mu.Lock()
	simTime := tc.StartTime
	tc.currentTime = simTime
	listeners := append([]Listener(nil), tc.listeners...)
	tc.mu.Unlock()

	var wait <-chan time.Time
	if tc.Mode == RealTime {
		ticker := time.NewTicker(tc.Tick)
		defer ticker.Stop()
		wait = ticker.C
	}

	elapsed := time.Duration(0)
	for duration <= 0 || elapsed < duration {
		if err := ctx.Err(); err != nil {
			return err
		}
		if wait != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-wait:
			}
		}

		simTime = simTime.Add(tc.Tick)
		elapsed += tc.Tick

		tc.mu.Lock()
		tc.currentTime = simTime
		tc.mu.Unlock()

		for _, fn := range listeners {
			if err := fn(ctx, simTime); err != nil {
				return err
			}
		}
	}
	return nil
}
