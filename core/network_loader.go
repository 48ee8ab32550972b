// core/network_loader.go
package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/heatnet-simulator/model"
)

// Format selects the encoding of a network document.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return 0, fmt.Errorf("unsupported network file extension %q", filepath.Ext(path))
	}
}

// NetworkSummary lists what was loaded, in document order. It is mainly
// useful for logging from main().
type NetworkSummary struct {
	Junctions      []string
	Pipes          []string
	Valves         []string
	HeatExchangers []string
	ExtGrids       []string
	Sinks          []string
	Sources        []string
	Inputs         []string
	Outputs        []string
}

// internal document shapes – unexported so the file format can evolve.
type networkDoc struct {
	Junctions      []junctionDoc  `json:"junctions" yaml:"junctions"`
	Pipes          []pipeDoc      `json:"pipes" yaml:"pipes"`
	Valves         []valveDoc     `json:"valves" yaml:"valves"`
	HeatExchangers []exchangerDoc `json:"heat_exchangers" yaml:"heat_exchangers"`
	ExtGrids       []extGridDoc   `json:"ext_grids" yaml:"ext_grids"`
	Sinks          []sinkDoc      `json:"sinks" yaml:"sinks"`
	Sources        []sourceDoc    `json:"sources" yaml:"sources"`
	Inputs         []inputDoc     `json:"inputs" yaml:"inputs"`
	Outputs        []outputDoc    `json:"outputs" yaml:"outputs"`
}

type junctionDoc struct {
	Name               string  `json:"name" yaml:"name"`
	InitialTemperature float64 `json:"initial_temperature" yaml:"initial_temperature"` // °C
	InitialPressure    float64 `json:"initial_pressure" yaml:"initial_pressure"`       // bar
	X                  float64 `json:"x" yaml:"x"`
	Y                  float64 `json:"y" yaml:"y"`
}

type pipeDoc struct {
	Name        string  `json:"name" yaml:"name"`
	From        string  `json:"from" yaml:"from"`
	To          string  `json:"to" yaml:"to"`
	LengthKM    float64 `json:"length_km" yaml:"length_km"`
	DiameterM   float64 `json:"diameter_m" yaml:"diameter_m"`
	RoughnessMM float64 `json:"roughness_mm" yaml:"roughness_mm"`
	Alpha       float64 `json:"alpha" yaml:"alpha"` // W/(m²·K)
	Ambient     float64 `json:"ambient_temperature" yaml:"ambient_temperature"`
	Stream      string  `json:"stream" yaml:"stream"` // "supply" | "return"
	MinVelocity float64 `json:"min_velocity" yaml:"min_velocity"`
}

type valveDoc struct {
	Name            string  `json:"name" yaml:"name"`
	From            string  `json:"from" yaml:"from"`
	To              string  `json:"to" yaml:"to"`
	DiameterM       float64 `json:"diameter_m" yaml:"diameter_m"`
	LossCoefficient float64 `json:"loss_coefficient" yaml:"loss_coefficient"`
	Open            *bool   `json:"open" yaml:"open"` // optional; defaults to true
}

type exchangerDoc struct {
	Name            string  `json:"name" yaml:"name"`
	From            string  `json:"from" yaml:"from"`
	To              string  `json:"to" yaml:"to"`
	DiameterM       float64 `json:"diameter_m" yaml:"diameter_m"`
	PowerKW         float64 `json:"power_kw" yaml:"power_kw"`
	Controlled      bool    `json:"controlled" yaml:"controlled"`
	MassFlow        float64 `json:"mass_flow" yaml:"mass_flow"`
	LossCoefficient float64 `json:"loss_coefficient" yaml:"loss_coefficient"`
}

type extGridDoc struct {
	Name        string  `json:"name" yaml:"name"`
	Junction    string  `json:"junction" yaml:"junction"`
	PressureBar float64 `json:"pressure_bar" yaml:"pressure_bar"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
}

type sinkDoc struct {
	Name     string  `json:"name" yaml:"name"`
	Junction string  `json:"junction" yaml:"junction"`
	MassFlow float64 `json:"mass_flow" yaml:"mass_flow"`
}

type sourceDoc struct {
	Name        string  `json:"name" yaml:"name"`
	Junction    string  `json:"junction" yaml:"junction"`
	MassFlow    float64 `json:"mass_flow" yaml:"mass_flow"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
}

// inputDoc binds a scheduler input to "kind.parameter" of an element,
// e.g. {name: Qdot_cons1, element: hex1, parameter: heat_exchanger.power_kw}.
type inputDoc struct {
	Name      string `json:"name" yaml:"name"`
	Element   string `json:"element" yaml:"element"`
	Parameter string `json:"parameter" yaml:"parameter"`
}

type outputDoc struct {
	Name     string `json:"name" yaml:"name"`
	Element  string `json:"element" yaml:"element"`
	Quantity string `json:"quantity" yaml:"quantity"`
}

// LoadNetworkFile opens path and loads it with the format implied by its
// extension.
func LoadNetworkFile(path string) (*Network, *Bindings, *NetworkSummary, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("LoadNetworkFile: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("LoadNetworkFile: %w", err)
	}
	defer f.Close()
	return LoadNetwork(f, format)
}

// LoadNetwork reads a network document from r, builds and validates the
// topology, resolves the signal bindings and returns a summary of what was
// loaded.
func LoadNetwork(r io.Reader, format Format) (*Network, *Bindings, *NetworkSummary, error) {
	var doc networkDoc
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, nil, nil, fmt.Errorf("LoadNetwork: decode failed: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return nil, nil, nil, fmt.Errorf("LoadNetwork: decode failed: %w", err)
		}
	default:
		return nil, nil, nil, fmt.Errorf("LoadNetwork: unknown format %d", format)
	}

	net := NewNetwork()
	sum := &NetworkSummary{}
	if err := doc.build(net, sum); err != nil {
		return nil, nil, nil, fmt.Errorf("LoadNetwork: %w", err)
	}
	if err := net.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("LoadNetwork: %w", err)
	}

	b := NewBindings()
	for _, in := range doc.Inputs {
		if err := b.BindInput(net, in.Name, in.Parameter, in.Element); err != nil {
			return nil, nil, nil, fmt.Errorf("LoadNetwork: %w", err)
		}
		sum.Inputs = append(sum.Inputs, in.Name)
	}
	for _, out := range doc.Outputs {
		if err := b.BindOutput(net, out.Name, out.Quantity, out.Element); err != nil {
			return nil, nil, nil, fmt.Errorf("LoadNetwork: %w", err)
		}
		sum.Outputs = append(sum.Outputs, out.Name)
	}
	return net, b, sum, nil
}

func (doc *networkDoc) build(net *Network, sum *NetworkSummary) error {
	junction := func(kind, owner, name string) (model.JunctionID, error) {
		id, ok := net.JunctionByName(name)
		if !ok {
			return model.NoJunction, fmt.Errorf("%w: %s %q references unknown junction %q", ErrTopologyInconsistency, kind, owner, name)
		}
		return id, nil
	}
	ends := func(kind, owner, from, to string) (model.JunctionID, model.JunctionID, error) {
		f, err := junction(kind, owner, from)
		if err != nil {
			return 0, 0, err
		}
		t, err := junction(kind, owner, to)
		return f, t, err
	}

	// 1) Junctions
	for _, j := range doc.Junctions {
		if _, err := net.AddJunction(model.Junction{
			Name:               j.Name,
			InitialTemperature: j.InitialTemperature,
			InitialPressure:    j.InitialPressure,
			Geo:                model.GeoPoint{X: j.X, Y: j.Y},
		}); err != nil {
			return err
		}
		sum.Junctions = append(sum.Junctions, j.Name)
	}

	// 2) Pipes
	for _, p := range doc.Pipes {
		from, to, err := ends("pipe", p.Name, p.From, p.To)
		if err != nil {
			return err
		}
		stream, err := model.ParseStream(p.Stream)
		if err != nil {
			return fmt.Errorf("%w: pipe %q: %v", ErrTopologyInconsistency, p.Name, err)
		}
		if _, err := net.AddPipe(model.Pipe{
			Name:        p.Name,
			From:        from,
			To:          to,
			Length:      p.LengthKM * 1000,
			Diameter:    p.DiameterM,
			Roughness:   p.RoughnessMM,
			Alpha:       p.Alpha,
			Ambient:     p.Ambient,
			Stream:      stream,
			MinVelocity: p.MinVelocity,
		}); err != nil {
			return err
		}
		sum.Pipes = append(sum.Pipes, p.Name)
	}

	// 3) Valves
	for _, v := range doc.Valves {
		from, to, err := ends("valve", v.Name, v.From, v.To)
		if err != nil {
			return err
		}
		open := true
		if v.Open != nil {
			open = *v.Open
		}
		if _, err := net.AddValve(model.Valve{
			Name:            v.Name,
			From:            from,
			To:              to,
			Diameter:        v.DiameterM,
			LossCoefficient: v.LossCoefficient,
			Open:            open,
		}); err != nil {
			return err
		}
		sum.Valves = append(sum.Valves, v.Name)
	}

	// 4) Heat exchangers
	for _, h := range doc.HeatExchangers {
		from, to, err := ends("heat exchanger", h.Name, h.From, h.To)
		if err != nil {
			return err
		}
		if _, err := net.AddHeatExchanger(model.HeatExchanger{
			Name:            h.Name,
			From:            from,
			To:              to,
			Diameter:        h.DiameterM,
			Power:           h.PowerKW * 1000,
			Controlled:      h.Controlled,
			MassFlow:        h.MassFlow,
			LossCoefficient: h.LossCoefficient,
		}); err != nil {
			return err
		}
		sum.HeatExchangers = append(sum.HeatExchangers, h.Name)
	}

	// 5) Boundaries
	for _, g := range doc.ExtGrids {
		j, err := junction("ext grid", g.Name, g.Junction)
		if err != nil {
			return err
		}
		if _, err := net.AddExtGrid(model.ExtGrid{Name: g.Name, Junction: j, Pressure: g.PressureBar, Temperature: g.Temperature}); err != nil {
			return err
		}
		sum.ExtGrids = append(sum.ExtGrids, g.Name)
	}
	for _, s := range doc.Sinks {
		j, err := junction("sink", s.Name, s.Junction)
		if err != nil {
			return err
		}
		if _, err := net.AddSink(model.Sink{Name: s.Name, Junction: j, MassFlow: s.MassFlow}); err != nil {
			return err
		}
		sum.Sinks = append(sum.Sinks, s.Name)
	}
	for _, s := range doc.Sources {
		j, err := junction("source", s.Name, s.Junction)
		if err != nil {
			return err
		}
		if _, err := net.AddSource(model.Source{Name: s.Name, Junction: j, MassFlow: s.MassFlow, Temperature: s.Temperature}); err != nil {
			return err
		}
		sum.Sources = append(sum.Sources, s.Name)
	}
	return nil
}
