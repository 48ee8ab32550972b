// Package profile plays time series into the engine's named inputs.
package profile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Point is one sample of a series. T is seconds since the simulation start.
type Point struct {
	T     float64
	Value float64
}

// Series is a piecewise-linear signal.
type Series struct {
	Name   string
	Points []Point
}

var (
	ErrEmptySeries = errors.New("profile: series has no points")
	ErrUnsorted    = errors.New("profile: series times must strictly increase")
)

// NewSeries validates points and returns a series. Points must be sorted
// by strictly increasing T and hold finite values.
func NewSeries(name string, points []Point) (*Series, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptySeries, name)
	}
	for i, p := range points {
		if math.IsNaN(p.T) || math.IsInf(p.T, 0) || math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			return nil, fmt.Errorf("profile: series %s point %d is not finite", name, i)
		}
		if i > 0 && p.T <= points[i-1].T {
			return nil, fmt.Errorf("%w: %s at index %d", ErrUnsorted, name, i)
		}
	}
	return &Series{Name: name, Points: append([]Point(nil), points...)}, nil
}

// ValueAt interpolates linearly between the neighbouring points and holds
// the first and last values outside the covered range.
func (s *Series) ValueAt(t float64) float64 {
	pts := s.Points
	if t <= pts[0].T {
		return pts[0].Value
	}
	last := pts[len(pts)-1]
	if t >= last.T {
		return last.Value
	}
	i := sort.Search(len(pts), func(i int) bool { return pts[i].T >= t })
	hi := pts[i]
	if hi.T == t {
		return hi.Value
	}
	lo := pts[i-1]
	return lo.Value + (hi.Value-lo.Value)*(t-lo.T)/(hi.T-lo.T)
}

// Player maps input names to series or constants.
type Player struct {
	series    map[string]*Series
	constants map[string]float64
}

func NewPlayer() *Player {
	return &Player{
		series:    make(map[string]*Series),
		constants: make(map[string]float64),
	}
}

// AddSeries plays s under input. A later registration for the same input
// replaces the earlier one.
func (p *Player) AddSeries(input string, s *Series) {
	delete(p.constants, input)
	p.series[input] = s
}

// SetConstant holds input at v for the whole run.
func (p *Player) SetConstant(input string, v float64) {
	delete(p.series, input)
	p.constants[input] = v
}

// Inputs returns the sorted input names the player drives.
func (p *Player) Inputs() []string {
	names := make([]string, 0, len(p.series)+len(p.constants))
	for name := range p.series {
		names = append(names, name)
	}
	for name := range p.constants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Values returns every driven input at time t (seconds since start).
func (p *Player) Values(t float64) map[string]float64 {
	out := make(map[string]float64, len(p.series)+len(p.constants))
	for name, v := range p.constants {
		out[name] = v
	}
	for name, s := range p.series {
		out[name] = s.ValueAt(t)
	}
	return out
}

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

// ReadCSV parses a table whose first column is a timestamp and whose
// remaining columns are named series, e.g. a load profile with columns
// "time,consumer1,consumer2". Timestamps are converted to seconds since
// start; rows before start are kept so interpolation at t=0 is exact.
// A first column holding plain numbers is read as seconds directly.
func ReadCSV(r io.Reader, start time.Time) (map[string]*Series, error) {
	rd := csv.NewReader(r)
	rd.TrimLeadingSpace = true
	header, err := rd.Read()
	if err != nil {
		return nil, fmt.Errorf("profile: read header: %w", err)
	}
	if len(header) < 2 {
		return nil, errors.New("profile: need a time column and at least one series column")
	}
	rd.FieldsPerRecord = len(header)

	points := make([][]Point, len(header)-1)
	for line := 2; ; line++ {
		rec, err := rd.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("profile: line %d: %w", line, err)
		}
		t, err := parseTime(rec[0], start)
		if err != nil {
			return nil, fmt.Errorf("profile: line %d: %w", line, err)
		}
		for c, field := range rec[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("profile: line %d column %s: %w", line, header[c+1], err)
			}
			points[c] = append(points[c], Point{T: t, Value: v})
		}
	}

	out := make(map[string]*Series, len(points))
	for c, pts := range points {
		name := strings.TrimSpace(header[c+1])
		s, err := NewSeries(name, pts)
		if err != nil {
			return nil, err
		}
		out[name] = s
	}
	return out, nil
}

func parseTime(field string, start time.Time) (float64, error) {
	field = strings.TrimSpace(field)
	if secs, err := strconv.ParseFloat(field, 64); err == nil {
		return secs, nil
	}
	for _, layout := range timeLayouts {
		if ts, err := time.ParseInLocation(layout, field, start.Location()); err == nil {
			return ts.Sub(start).Seconds(), nil
		}
	}
	return 0, fmt.Errorf("unrecognised timestamp %q", field)
}
