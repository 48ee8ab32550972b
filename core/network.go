package core

import (
	"fmt"
	"math"
	"strings"

	"github.com/signalsfoundry/heatnet-simulator/model"
)

// Network is the topology store of a district-heating pipe network: nodes
// are junctions, edges are pipes, valves and heat exchangers, and
// boundaries (ext grids, sinks, sources) attach to junctions.
//
// Elements are addressed by integer handles. Names are only used to build
// the network and to resolve bindings; the per-step code paths index
// slices directly.
//
// A Network is not safe for concurrent mutation. It is built once, then
// shared read-only by every stage of a simulation step.
type Network struct {
	junctions  []model.Junction
	pipes      []model.Pipe
	valves     []model.Valve
	exchangers []model.HeatExchanger
	extGrids   []model.ExtGrid
	sinks      []model.Sink
	sources    []model.Source

	junctionByName  map[string]model.JunctionID
	pipeByName      map[string]model.PipeID
	valveByName     map[string]model.ValveID
	exchangerByName map[string]model.ExchangerID
	extGridByName   map[string]model.ExtGridID
	sinkByName      map[string]model.SinkID
	sourceByName    map[string]model.SourceID

	pipesFrom      [][]model.PipeID
	pipesTo        [][]model.PipeID
	valvesAt       [][]model.ValveID
	exchangersFrom [][]model.ExchangerID
	exchangersTo   [][]model.ExchangerID
	extGridsAt     [][]model.ExtGridID
	sinksAt        [][]model.SinkID
	sourcesAt      [][]model.SourceID
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{
		junctionByName:  make(map[string]model.JunctionID),
		pipeByName:      make(map[string]model.PipeID),
		valveByName:     make(map[string]model.ValveID),
		exchangerByName: make(map[string]model.ExchangerID),
		extGridByName:   make(map[string]model.ExtGridID),
		sinkByName:      make(map[string]model.SinkID),
		sourceByName:    make(map[string]model.SourceID),
	}
}

//
// ---------- Builders ----------
//

// AddJunction inserts a junction and returns its handle.
func (n *Network) AddJunction(j model.Junction) (model.JunctionID, error) {
	if err := checkName("junction", j.Name); err != nil {
		return model.NoJunction, err
	}
	if _, exists := n.junctionByName[j.Name]; exists {
		return model.NoJunction, fmt.Errorf("%w: junction %q", ErrDuplicateName, j.Name)
	}
	id := model.JunctionID(len(n.junctions))
	n.junctions = append(n.junctions, j)
	n.junctionByName[j.Name] = id

	n.pipesFrom = append(n.pipesFrom, nil)
	n.pipesTo = append(n.pipesTo, nil)
	n.valvesAt = append(n.valvesAt, nil)
	n.exchangersFrom = append(n.exchangersFrom, nil)
	n.exchangersTo = append(n.exchangersTo, nil)
	n.extGridsAt = append(n.extGridsAt, nil)
	n.sinksAt = append(n.sinksAt, nil)
	n.sourcesAt = append(n.sourcesAt, nil)
	return id, nil
}

// AddPipe inserts a pipe between two existing junctions.
func (n *Network) AddPipe(p model.Pipe) (model.PipeID, error) {
	if err := checkName("pipe", p.Name); err != nil {
		return -1, err
	}
	if _, exists := n.pipeByName[p.Name]; exists {
		return -1, fmt.Errorf("%w: pipe %q", ErrDuplicateName, p.Name)
	}
	if err := n.checkEndpoints("pipe", p.Name, p.From, p.To); err != nil {
		return -1, err
	}
	if p.Length < 0 || p.Diameter <= 0 || p.Alpha < 0 || isBad(p.Length) || isBad(p.Diameter) || isBad(p.Alpha) {
		return -1, fmt.Errorf("%w: pipe %q needs length >= 0, diameter > 0, alpha >= 0", ErrInvalidElement, p.Name)
	}
	if p.MinVelocity < 0 {
		return -1, fmt.Errorf("%w: pipe %q has negative min velocity", ErrInvalidElement, p.Name)
	}

	id := model.PipeID(len(n.pipes))
	n.pipes = append(n.pipes, p)
	n.pipeByName[p.Name] = id
	n.pipesFrom[p.From] = append(n.pipesFrom[p.From], id)
	n.pipesTo[p.To] = append(n.pipesTo[p.To], id)
	return id, nil
}

// AddValve inserts a valve between two existing junctions.
func (n *Network) AddValve(v model.Valve) (model.ValveID, error) {
	if err := checkName("valve", v.Name); err != nil {
		return -1, err
	}
	if _, exists := n.valveByName[v.Name]; exists {
		return -1, fmt.Errorf("%w: valve %q", ErrDuplicateName, v.Name)
	}
	if err := n.checkEndpoints("valve", v.Name, v.From, v.To); err != nil {
		return -1, err
	}
	if v.Diameter <= 0 || v.LossCoefficient < 0 {
		return -1, fmt.Errorf("%w: valve %q needs diameter > 0 and loss coefficient >= 0", ErrInvalidElement, v.Name)
	}

	id := model.ValveID(len(n.valves))
	n.valves = append(n.valves, v)
	n.valveByName[v.Name] = id
	n.valvesAt[v.From] = append(n.valvesAt[v.From], id)
	n.valvesAt[v.To] = append(n.valvesAt[v.To], id)
	return id, nil
}

// AddHeatExchanger inserts a consumer or producer tap.
func (n *Network) AddHeatExchanger(h model.HeatExchanger) (model.ExchangerID, error) {
	if err := checkName("heat exchanger", h.Name); err != nil {
		return -1, err
	}
	if _, exists := n.exchangerByName[h.Name]; exists {
		return -1, fmt.Errorf("%w: heat exchanger %q", ErrDuplicateName, h.Name)
	}
	if err := n.checkEndpoints("heat exchanger", h.Name, h.From, h.To); err != nil {
		return -1, err
	}
	if h.Diameter <= 0 || isBad(h.Power) {
		return -1, fmt.Errorf("%w: heat exchanger %q needs diameter > 0 and finite power", ErrInvalidElement, h.Name)
	}
	if !h.Controlled && h.LossCoefficient <= 0 {
		return -1, fmt.Errorf("%w: passive heat exchanger %q needs a positive loss coefficient", ErrInvalidElement, h.Name)
	}

	id := model.ExchangerID(len(n.exchangers))
	n.exchangers = append(n.exchangers, h)
	n.exchangerByName[h.Name] = id
	n.exchangersFrom[h.From] = append(n.exchangersFrom[h.From], id)
	n.exchangersTo[h.To] = append(n.exchangersTo[h.To], id)
	return id, nil
}

// AddExtGrid attaches a fixed-pressure supply to a junction.
func (n *Network) AddExtGrid(g model.ExtGrid) (model.ExtGridID, error) {
	if err := checkName("ext grid", g.Name); err != nil {
		return -1, err
	}
	if _, exists := n.extGridByName[g.Name]; exists {
		return -1, fmt.Errorf("%w: ext grid %q", ErrDuplicateName, g.Name)
	}
	if !n.hasJunction(g.Junction) {
		return -1, fmt.Errorf("%w: ext grid %q references junction %d", ErrUnknownJunction, g.Name, g.Junction)
	}
	id := model.ExtGridID(len(n.extGrids))
	n.extGrids = append(n.extGrids, g)
	n.extGridByName[g.Name] = id
	n.extGridsAt[g.Junction] = append(n.extGridsAt[g.Junction], id)
	return id, nil
}

// AddSink attaches a fixed withdrawal to a junction.
func (n *Network) AddSink(s model.Sink) (model.SinkID, error) {
	if err := checkName("sink", s.Name); err != nil {
		return -1, err
	}
	if _, exists := n.sinkByName[s.Name]; exists {
		return -1, fmt.Errorf("%w: sink %q", ErrDuplicateName, s.Name)
	}
	if !n.hasJunction(s.Junction) {
		return -1, fmt.Errorf("%w: sink %q references junction %d", ErrUnknownJunction, s.Name, s.Junction)
	}
	id := model.SinkID(len(n.sinks))
	n.sinks = append(n.sinks, s)
	n.sinkByName[s.Name] = id
	n.sinksAt[s.Junction] = append(n.sinksAt[s.Junction], id)
	return id, nil
}

// AddSource attaches a fixed injection to a junction.
func (n *Network) AddSource(s model.Source) (model.SourceID, error) {
	if err := checkName("source", s.Name); err != nil {
		return -1, err
	}
	if _, exists := n.sourceByName[s.Name]; exists {
		return -1, fmt.Errorf("%w: source %q", ErrDuplicateName, s.Name)
	}
	if !n.hasJunction(s.Junction) {
		return -1, fmt.Errorf("%w: source %q references junction %d", ErrUnknownJunction, s.Name, s.Junction)
	}
	id := model.SourceID(len(n.sources))
	n.sources = append(n.sources, s)
	n.sourceByName[s.Name] = id
	n.sourcesAt[s.Junction] = append(n.sourcesAt[s.Junction], id)
	return id, nil
}

//
// ---------- Lookups ----------
//

func (n *Network) JunctionByName(name string) (model.JunctionID, bool) {
	id, ok := n.junctionByName[name]
	return id, ok
}

func (n *Network) PipeByName(name string) (model.PipeID, bool) {
	id, ok := n.pipeByName[name]
	return id, ok
}

func (n *Network) ValveByName(name string) (model.ValveID, bool) {
	id, ok := n.valveByName[name]
	return id, ok
}

func (n *Network) ExchangerByName(name string) (model.ExchangerID, bool) {
	id, ok := n.exchangerByName[name]
	return id, ok
}

func (n *Network) ExtGridByName(name string) (model.ExtGridID, bool) {
	id, ok := n.extGridByName[name]
	return id, ok
}

func (n *Network) SinkByName(name string) (model.SinkID, bool) {
	id, ok := n.sinkByName[name]
	return id, ok
}

func (n *Network) SourceByName(name string) (model.SourceID, bool) {
	id, ok := n.sourceByName[name]
	return id, ok
}

// Element accessors return copies; callers cannot mutate the topology
// through them.
func (n *Network) Junction(id model.JunctionID) model.Junction       { return n.junctions[id] }
func (n *Network) Pipe(id model.PipeID) model.Pipe                   { return n.pipes[id] }
func (n *Network) Valve(id model.ValveID) model.Valve                { return n.valves[id] }
func (n *Network) Exchanger(id model.ExchangerID) model.HeatExchanger { return n.exchangers[id] }
func (n *Network) ExtGrid(id model.ExtGridID) model.ExtGrid          { return n.extGrids[id] }
func (n *Network) Sink(id model.SinkID) model.Sink                   { return n.sinks[id] }
func (n *Network) Source(id model.SourceID) model.Source             { return n.sources[id] }

func (n *Network) NumJunctions() int  { return len(n.junctions) }
func (n *Network) NumPipes() int      { return len(n.pipes) }
func (n *Network) NumValves() int     { return len(n.valves) }
func (n *Network) NumExchangers() int { return len(n.exchangers) }
func (n *Network) NumExtGrids() int   { return len(n.extGrids) }
func (n *Network) NumSinks() int      { return len(n.sinks) }
func (n *Network) NumSources() int    { return len(n.sources) }

// Adjacency. The returned slices are owned by the network and must be
// treated as read-only.
func (n *Network) PipesFrom(j model.JunctionID) []model.PipeID           { return n.pipesFrom[j] }
func (n *Network) PipesTo(j model.JunctionID) []model.PipeID             { return n.pipesTo[j] }
func (n *Network) ValvesAt(j model.JunctionID) []model.ValveID           { return n.valvesAt[j] }
func (n *Network) ExchangersFrom(j model.JunctionID) []model.ExchangerID { return n.exchangersFrom[j] }
func (n *Network) ExchangersTo(j model.JunctionID) []model.ExchangerID   { return n.exchangersTo[j] }
func (n *Network) ExtGridsAt(j model.JunctionID) []model.ExtGridID       { return n.extGridsAt[j] }
func (n *Network) SinksAt(j model.JunctionID) []model.SinkID             { return n.sinksAt[j] }
func (n *Network) SourcesAt(j model.JunctionID) []model.SourceID         { return n.sourcesAt[j] }

//
// ---------- Validation ----------
//

// Validate checks structural invariants that the builders cannot check
// incrementally: every junction is attached to something, and the pipe
// streams partition cleanly into supply and return halves.
func (n *Network) Validate() error {
	if len(n.junctions) == 0 {
		return fmt.Errorf("%w: network has no junctions", ErrTopologyInconsistency)
	}
	var isolated []string
	for j := range n.junctions {
		id := model.JunctionID(j)
		if len(n.pipesFrom[id])+len(n.pipesTo[id])+len(n.valvesAt[id])+
			len(n.exchangersFrom[id])+len(n.exchangersTo[id]) == 0 {
			isolated = append(isolated, n.junctions[j].Name)
		}
	}
	if len(isolated) > 0 {
		return fmt.Errorf("%w: junctions not connected to any pipe, valve or heat exchanger: %s",
			ErrTopologyInconsistency, strings.Join(isolated, ", "))
	}
	return n.checkStreamPartition()
}

// checkStreamPartition verifies that every pipe is tagged and that no
// junction is shared between supply and return pipes.
func (n *Network) checkStreamPartition() error {
	seen := make([]model.Stream, len(n.junctions))
	for i, p := range n.pipes {
		if p.Stream != model.StreamSupply && p.Stream != model.StreamReturn {
			return fmt.Errorf("%w: pipe %q is not tagged as supply or return", ErrTopologyInconsistency, n.pipes[i].Name)
		}
		for _, j := range [2]model.JunctionID{p.From, p.To} {
			switch seen[j] {
			case model.StreamUnknown:
				seen[j] = p.Stream
			case p.Stream:
			default:
				return fmt.Errorf("%w: junction %q joins supply and return pipes (at pipe %q)",
					ErrTopologyInconsistency, n.junctions[j].Name, p.Name)
			}
		}
	}
	return nil
}

// MaxTransportDelay returns max(L_i / v_min_i) over all pipes in seconds.
// Pipes without their own MinVelocity use defaultMinVelocity; a
// non-positive default leaves such pipes out.
func (n *Network) MaxTransportDelay(defaultMinVelocity float64) float64 {
	maxDelay := 0.0
	for _, p := range n.pipes {
		v := p.MinVelocity
		if v <= 0 {
			v = defaultMinVelocity
		}
		if v <= 0 {
			continue
		}
		if d := p.Length / v; d > maxDelay {
			maxDelay = d
		}
	}
	return maxDelay
}

// CrossSection returns the flow area of a circular duct in m².
func CrossSection(diameter float64) float64 {
	return math.Pi * diameter * diameter / 4
}

func (n *Network) hasJunction(id model.JunctionID) bool {
	return id >= 0 && int(id) < len(n.junctions)
}

func (n *Network) checkEndpoints(kind, name string, from, to model.JunctionID) error {
	if !n.hasJunction(from) || !n.hasJunction(to) {
		return fmt.Errorf("%w: %s %q references junctions %d -> %d", ErrUnknownJunction, kind, name, from, to)
	}
	if from == to {
		return fmt.Errorf("%w: %s %q connects junction %q to itself", ErrInvalidElement, kind, name, n.junctions[from].Name)
	}
	return nil
}

func checkName(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: %s with empty name", ErrInvalidElement, kind)
	}
	return nil
}

func isBad(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
