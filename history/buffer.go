// Package history keeps the per-junction temperature history used to look
// up what entered a pipe one transit time ago.
package history

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNonMonotonicTime is returned when a sample does not advance time.
	ErrNonMonotonicTime = errors.New("history: sample time must increase")
	// ErrNoHistory is returned when a junction has neither samples nor a
	// staged live value.
	ErrNoHistory = errors.New("history: no samples")
	// ErrUnknownJunction is returned for out-of-range junction indices.
	ErrUnknownJunction = errors.New("history: unknown junction")
)

// QueryResult tells how a Query answer was obtained.
type QueryResult int

const (
	Interpolated QueryResult = iota
	Exact
	// ClampedBefore: the query time precedes the first sample.
	ClampedBefore
	// ClampedAfter: the query time follows the last sample and no live
	// value was staged.
	ClampedAfter
	// Live: the query time is at or after the last sample and the staged
	// value of the step in progress was returned.
	Live

	numQueryResults
)

func (r QueryResult) String() string {
	switch r {
	case Interpolated:
		return "interpolated"
	case Exact:
		return "exact"
	case ClampedBefore:
		return "clamped_before"
	case ClampedAfter:
		return "clamped_after"
	case Live:
		return "live"
	default:
		return fmt.Sprintf("QueryResult(%d)", int(r))
	}
}

// OutOfRange reports whether the query fell outside the recorded span.
func (r QueryResult) OutOfRange() bool {
	return r == ClampedBefore || r == ClampedAfter
}

type series struct {
	times  []float64
	values []float64
}

type staged struct {
	t, v float64
	ok   bool
}

// Stats summarises buffer size and query outcomes.
type Stats struct {
	Samples int
	Queries [numQueryResults]uint64
}

// Buffer stores, for every junction, an append-only sequence of
// (time, temperature) samples with strictly increasing times, plus one
// staged live value per junction for the step in progress.
//
// Buffer is not safe for concurrent use; the simulation engine owns it
// and drives it from a single goroutine.
type Buffer struct {
	series  []series
	staged  []staged
	samples int
	queries [numQueryResults]uint64
}

// New creates a buffer for junctions indexed 0..junctions-1.
func New(junctions int) *Buffer {
	return &Buffer{
		series: make([]series, junctions),
		staged: make([]staged, junctions),
	}
}

// Junctions returns the number of junction slots.
func (b *Buffer) Junctions() int { return len(b.series) }

// Record appends a committed sample.
func (b *Buffer) Record(j int, t, temperature float64) error {
	if err := b.checkAppend(j, t); err != nil {
		return err
	}
	b.append(j, t, temperature)
	return nil
}

// Stage sets the live value of junction j for the step at time t. Staged
// values answer queries past the last sample until Commit or Discard.
func (b *Buffer) Stage(j int, t, temperature float64) error {
	if j < 0 || j >= len(b.series) {
		return fmt.Errorf("%w: %d", ErrUnknownJunction, j)
	}
	b.staged[j] = staged{t: t, v: temperature, ok: true}
	return nil
}

// Commit records every staged value as a sample. Either all staged values
// are recorded or, on error, none are and the staging area is kept.
func (b *Buffer) Commit() error {
	for j, s := range b.staged {
		if !s.ok {
			continue
		}
		if err := b.checkAppend(j, s.t); err != nil {
			return err
		}
	}
	for j, s := range b.staged {
		if s.ok {
			b.append(j, s.t, s.v)
		}
	}
	b.Discard()
	return nil
}

// Discard drops every staged value.
func (b *Buffer) Discard() {
	for j := range b.staged {
		b.staged[j] = staged{}
	}
}

// Query returns the temperature of junction j at time t.
//
// Between two samples the value is linearly interpolated. Before the first
// sample the first value is returned. At or after the last sample the
// staged live value is returned when present, otherwise the last value.
func (b *Buffer) Query(j int, t float64) (float64, QueryResult, error) {
	if j < 0 || j >= len(b.series) {
		return 0, ClampedAfter, fmt.Errorf("%w: %d", ErrUnknownJunction, j)
	}
	v, res, err := b.query(j, t)
	if err == nil {
		b.queries[res]++
	}
	return v, res, err
}

func (b *Buffer) query(j int, t float64) (float64, QueryResult, error) {
	s := &b.series[j]
	st := b.staged[j]
	n := len(s.times)
	if n == 0 {
		if st.ok {
			return st.v, Live, nil
		}
		return 0, ClampedAfter, fmt.Errorf("%w: junction %d", ErrNoHistory, j)
	}
	if t >= s.times[n-1] {
		if st.ok {
			return st.v, Live, nil
		}
		if t > s.times[n-1] {
			return s.values[n-1], ClampedAfter, nil
		}
	}
	if t < s.times[0] {
		return s.values[0], ClampedBefore, nil
	}

	i := sort.SearchFloat64s(s.times, t)
	if s.times[i] == t {
		return s.values[i], Exact, nil
	}
	t0, t1 := s.times[i-1], s.times[i]
	v0, v1 := s.values[i-1], s.values[i]
	return v0 + (v1-v0)*(t-t0)/(t1-t0), Interpolated, nil
}

// Latest returns the most recent committed sample of junction j.
func (b *Buffer) Latest(j int) (t, temperature float64, ok bool) {
	if j < 0 || j >= len(b.series) {
		return 0, 0, false
	}
	s := &b.series[j]
	if len(s.times) == 0 {
		return 0, 0, false
	}
	n := len(s.times) - 1
	return s.times[n], s.values[n], true
}

// Len returns the number of committed samples of junction j.
func (b *Buffer) Len(j int) int {
	if j < 0 || j >= len(b.series) {
		return 0
	}
	return len(b.series[j].times)
}

// TruncateBefore drops samples that can no longer influence a query at or
// after cutoff. The last sample at or before cutoff is kept so that
// interpolation across cutoff is unchanged. It returns the number of
// samples dropped.
func (b *Buffer) TruncateBefore(cutoff float64) int {
	dropped := 0
	for j := range b.series {
		s := &b.series[j]
		k := sort.Search(len(s.times), func(i int) bool { return s.times[i] > cutoff }) - 1
		if k <= 0 {
			continue
		}
		// Reslicing alone would pin the dropped prefix in memory.
		s.times = append([]float64(nil), s.times[k:]...)
		s.values = append([]float64(nil), s.values[k:]...)
		dropped += k
	}
	b.samples -= dropped
	return dropped
}

// Stats returns the current sample count and query counters.
func (b *Buffer) Stats() Stats {
	return Stats{Samples: b.samples, Queries: b.queries}
}

func (b *Buffer) checkAppend(j int, t float64) error {
	if j < 0 || j >= len(b.series) {
		return fmt.Errorf("%w: %d", ErrUnknownJunction, j)
	}
	s := &b.series[j]
	if n := len(s.times); n > 0 && t <= s.times[n-1] {
		return fmt.Errorf("%w: junction %d has sample at t=%g, got t=%g", ErrNonMonotonicTime, j, s.times[n-1], t)
	}
	return nil
}

func (b *Buffer) append(j int, t, v float64) {
	s := &b.series[j]
	s.times = append(s.times, t)
	s.values = append(s.values, v)
	b.samples++
}
