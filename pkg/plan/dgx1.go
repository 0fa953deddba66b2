package plan

import (
	"context"
	"fmt"

	"github.com/pash-msft/msccl-tools/pkg/synth"
	"github.com/pash-msft/msccl-tools/pkg/topology"
)

// dgx1RelayPlan is the plan for DGX-1 style nodes with a single host-local
// Infiniband NIC: all cross-node traffic funnels through one relay device,
// and the intra-node NVLink mesh carries everything else.
type dgx1RelayPlan struct {
	topo *topology.Topology
	syn  synth.Synthesizer
}

func newDGX1RelayPlan(topo *topology.Topology, syn synth.Synthesizer) Plan {
	return &dgx1RelayPlan{topo: topo, syn: syn}
}

// Synthesize delegates to the synthesis capability. World size must be known
// by the time synthesis runs; the bare launch tier resolves it from the
// runtime before calling here.
func (p *dgx1RelayPlan) Synthesize(ctx context.Context, worldSize int, collective string) (synth.Algorithm, error) {
	if worldSize < 1 {
		return nil, fmt.Errorf("world size %d is not synthesizable", worldSize)
	}
	algo, err := p.syn.Synthesize(ctx, worldSize, collective)
	if err != nil {
		return nil, fmt.Errorf("synthesis of %s for world size %d failed: %w", collective, worldSize, err)
	}
	return algo, nil
}

// LocalRankPermutation returns device enumeration order. The synthesized
// relay algorithms address devices by their enumeration index, so the
// visibility ordering must not reshuffle them.
func (p *dgx1RelayPlan) LocalRankPermutation() []int {
	return p.topo.DeviceOrder()
}
