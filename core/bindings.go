package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/signalsfoundry/heatnet-simulator/model"
)

// InputParameter names a settable quantity of a network element.
type InputParameter int

const (
	InputSinkMassFlow InputParameter = iota + 1
	InputSourceMassFlow
	InputSourceTemperature
	InputExtGridTemperature
	InputExtGridPressure
	InputExchangerMassFlow
	InputExchangerPowerKW
	InputValveOpen
)

// OutputQuantity names an observable quantity of a network element.
type OutputQuantity int

const (
	OutputJunctionTemperature OutputQuantity = iota + 1
	OutputExchangerSupplyTemperature
	OutputExchangerReturnTemperature
	OutputExchangerMassFlow
	OutputValveMassFlow
	OutputPipeMassFlow
	OutputPipeOutletTemperature
	OutputExtGridMassFlow
)

var inputParameters = map[string]InputParameter{
	"sink.mass_flow":           InputSinkMassFlow,
	"source.mass_flow":         InputSourceMassFlow,
	"source.temperature":       InputSourceTemperature,
	"ext_grid.temperature":     InputExtGridTemperature,
	"ext_grid.pressure":        InputExtGridPressure,
	"heat_exchanger.mass_flow": InputExchangerMassFlow,
	"heat_exchanger.power_kw":  InputExchangerPowerKW,
	"valve.open":               InputValveOpen,
}

var outputQuantities = map[string]OutputQuantity{
	"junction.temperature":              OutputJunctionTemperature,
	"heat_exchanger.supply_temperature": OutputExchangerSupplyTemperature,
	"heat_exchanger.return_temperature": OutputExchangerReturnTemperature,
	"heat_exchanger.mass_flow":          OutputExchangerMassFlow,
	"valve.mass_flow":                   OutputValveMassFlow,
	"pipe.mass_flow":                    OutputPipeMassFlow,
	"pipe.outlet_temperature":           OutputPipeOutletTemperature,
	"ext_grid.mass_flow":                OutputExtGridMassFlow,
}

// InputBinding routes a named scheduler input to one element parameter.
type InputBinding struct {
	Name      string
	Parameter InputParameter
	Element   int
}

// OutputBinding routes one element quantity to a named scheduler output.
type OutputBinding struct {
	Name     string
	Quantity OutputQuantity
	Element  int
}

// Bindings is the resolved signal table of a network. All element
// references are handles, so applying inputs and reading outputs never
// touches the name maps.
type Bindings struct {
	inputs  map[string]InputBinding
	outputs []OutputBinding
}

// NewBindings creates an empty signal table.
func NewBindings() *Bindings {
	return &Bindings{inputs: make(map[string]InputBinding)}
}

// BindInput resolves "kind.parameter" on the named element and registers
// it under name.
func (b *Bindings) BindInput(net *Network, name, parameter, element string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: input with empty name", ErrInvalidElement)
	}
	if _, exists := b.inputs[name]; exists {
		return fmt.Errorf("%w: input %q", ErrDuplicateName, name)
	}
	param, ok := inputParameters[parameter]
	if !ok {
		return fmt.Errorf("%w: input %q has unknown parameter %q", ErrInvalidElement, name, parameter)
	}
	idx, err := resolveElement(net, strings.SplitN(parameter, ".", 2)[0], element)
	if err != nil {
		return fmt.Errorf("input %q: %w", name, err)
	}
	b.inputs[name] = InputBinding{Name: name, Parameter: param, Element: idx}
	return nil
}

// BindOutput resolves "kind.quantity" on the named element and registers
// it under name. Outputs keep their registration order.
func (b *Bindings) BindOutput(net *Network, name, quantity, element string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: output with empty name", ErrInvalidElement)
	}
	for _, o := range b.outputs {
		if o.Name == name {
			return fmt.Errorf("%w: output %q", ErrDuplicateName, name)
		}
	}
	q, ok := outputQuantities[quantity]
	if !ok {
		return fmt.Errorf("%w: output %q has unknown quantity %q", ErrInvalidElement, name, quantity)
	}
	idx, err := resolveElement(net, strings.SplitN(quantity, ".", 2)[0], element)
	if err != nil {
		return fmt.Errorf("output %q: %w", name, err)
	}
	b.outputs = append(b.outputs, OutputBinding{Name: name, Quantity: q, Element: idx})
	return nil
}

// Input returns the binding registered under name.
func (b *Bindings) Input(name string) (InputBinding, bool) {
	in, ok := b.inputs[name]
	return in, ok
}

// InputNames returns the sorted input names.
func (b *Bindings) InputNames() []string {
	names := make([]string, 0, len(b.inputs))
	for name := range b.inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Outputs returns the output bindings in registration order.
func (b *Bindings) Outputs() []OutputBinding {
	return b.outputs
}

func resolveElement(net *Network, kind, element string) (int, error) {
	var (
		idx int
		ok  bool
	)
	switch kind {
	case "junction":
		var id model.JunctionID
		id, ok = net.JunctionByName(element)
		idx = int(id)
	case "pipe":
		var id model.PipeID
		id, ok = net.PipeByName(element)
		idx = int(id)
	case "valve":
		var id model.ValveID
		id, ok = net.ValveByName(element)
		idx = int(id)
	case "heat_exchanger":
		var id model.ExchangerID
		id, ok = net.ExchangerByName(element)
		idx = int(id)
	case "ext_grid":
		var id model.ExtGridID
		id, ok = net.ExtGridByName(element)
		idx = int(id)
	case "sink":
		var id model.SinkID
		id, ok = net.SinkByName(element)
		idx = int(id)
	case "source":
		var id model.SourceID
		id, ok = net.SourceByName(element)
		idx = int(id)
	default:
		return -1, fmt.Errorf("%w: unknown element kind %q", ErrInvalidElement, kind)
	}
	if !ok {
		return -1, fmt.Errorf("%w: no %s named %q", ErrTopologyInconsistency, kind, element)
	}
	return idx, nil
}
