// Package plan maps a detected machine archetype to the synthesis plan used
// for it. Selection is strict: an archetype without a registered plan is a
// fatal condition, because running an unvalidated algorithm on misclassified
// hardware risks incorrect or severely degraded collectives. There is no
// generic fallback plan, on purpose.
package plan

import (
	"context"
	"errors"
	"fmt"

	"github.com/pash-msft/msccl-tools/pkg/synth"
	"github.com/pash-msft/msccl-tools/pkg/topology"
)

// ErrUnhandledMachine is returned by Select for archetypes without a
// registered plan.
var ErrUnhandledMachine = errors.New("unhandled machine type")

// Plan produces algorithms for one machine archetype and knows how local
// ranks should be mapped onto devices there.
type Plan interface {
	// Synthesize produces the algorithm for one collective at the given
	// world size.
	Synthesize(ctx context.Context, worldSize int, collective string) (synth.Algorithm, error)

	// LocalRankPermutation returns the device-visibility ordering the
	// synthesized algorithms assume, one entry per local device.
	LocalRankPermutation() []int
}

// Constructor builds a plan from the machine's link model and the synthesis
// capability.
type Constructor func(topo *topology.Topology, syn synth.Synthesizer) Plan

// registry is the static archetype-to-plan mapping. Populated at package
// init; new archetypes register alongside their classification rule.
var registry = map[string]Constructor{
	topology.ArchetypeOneHostIBDGX1: newDGX1RelayPlan,
}

// Select resolves the plan for a detected machine. Unknown and unregistered
// archetypes fail with ErrUnhandledMachine naming the archetype.
func Select(archetype string, topo *topology.Topology, syn synth.Synthesizer) (Plan, error) {
	ctor, ok := registry[archetype]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnhandledMachine, archetype)
	}
	return ctor(topo, syn), nil
}

// Registered reports whether an archetype has a plan.
func Registered(archetype string) bool {
	_, ok := registry[archetype]
	return ok
}
