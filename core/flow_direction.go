// core/flow_direction.go
package core

import (
	"fmt"
	"sort"

	"github.com/signalsfoundry/heatnet-simulator/model"
)

// FlowOrder is the per-step processing order of pipes: supply pipes first,
// return pipes second, each list sorted from high to low inlet pressure.
// It is recomputed every step and never persisted.
type FlowOrder struct {
	Forward []model.PipeID
	Return  []model.PipeID
}

// Upstream returns the junction water enters a pipe from, given the sign
// of its mass flow.
func Upstream(p model.Pipe, mdot float64) model.JunctionID {
	if mdot >= 0 {
		return p.From
	}
	return p.To
}

// Downstream is the counterpart of Upstream.
func Downstream(p model.Pipe, mdot float64) model.JunctionID {
	if mdot >= 0 {
		return p.To
	}
	return p.From
}

// ResolveFlowOrder orders pipes by descending inlet pressure, where the
// inlet is the upstream junction under the current flow sign. Equal
// pressures keep handle order. The result is split by stream tag; an
// untagged pipe or a junction shared by both streams is reported as
// ErrTopologyInconsistency.
func ResolveFlowOrder(net *Network, flow *FlowField) (FlowOrder, error) {
	if len(flow.PipeMassFlow) != net.NumPipes() || len(flow.Pressure) != net.NumJunctions() {
		return FlowOrder{}, fmt.Errorf("%w: flow field has %d pipes / %d junctions, network has %d / %d",
			ErrTopologyInconsistency, len(flow.PipeMassFlow), len(flow.Pressure), net.NumPipes(), net.NumJunctions())
	}
	if err := net.checkStreamPartition(); err != nil {
		return FlowOrder{}, err
	}

	inlet := make([]float64, net.NumPipes())
	order := make([]model.PipeID, net.NumPipes())
	for i := range order {
		id := model.PipeID(i)
		order[i] = id
		inlet[i] = flow.Pressure[Upstream(net.Pipe(id), flow.PipeMassFlow[i])]
	}
	sort.SliceStable(order, func(a, b int) bool {
		return inlet[order[a]] > inlet[order[b]]
	})

	var fo FlowOrder
	for _, id := range order {
		if net.Pipe(id).Stream == model.StreamSupply {
			fo.Forward = append(fo.Forward, id)
		} else {
			fo.Return = append(fo.Return, id)
		}
	}
	return fo, nil
}
