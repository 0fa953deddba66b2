package plan

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pash-msft/msccl-tools/pkg/synth"
	"github.com/pash-msft/msccl-tools/pkg/topology"
)

// eightDeviceTopo builds a minimal 8-device report and parses it through the
// public classification entry point, so plan tests exercise the same model
// the detector produces.
func eightDeviceTopo(t *testing.T) *topology.Topology {
	t.Helper()

	report := `	GPU0	GPU1	GPU2	GPU3	GPU4	GPU5	GPU6	GPU7	mlx5_0	CPU Affinity
GPU0	 X 	NV1	NV1	NV2	NV2	SYS	SYS	SYS	NODE	0-19
GPU1	NV1	 X 	NV2	NV1	SYS	NV2	SYS	SYS	NODE	0-19
GPU2	NV1	NV2	 X 	NV2	SYS	SYS	NV1	SYS	NODE	0-19
GPU3	NV2	NV1	NV2	 X 	SYS	SYS	SYS	NV1	NODE	0-19
GPU4	NV2	SYS	SYS	SYS	 X 	NV1	NV1	NV2	NODE	20-39
GPU5	SYS	NV2	SYS	SYS	NV1	 X 	NV2	NV1	NODE	20-39
GPU6	SYS	SYS	NV1	SYS	NV1	NV2	 X 	NV2	NODE	20-39
GPU7	SYS	SYS	SYS	NV1	NV2	NV1	NV2	 X 	NODE	20-39
mlx5_0	NODE	NODE	NODE	NODE	NODE	NODE	NODE	NODE	 X
`
	archetype, topo := topology.ArchetypeFromReport(report)
	if archetype != topology.ArchetypeOneHostIBDGX1 {
		t.Fatalf("fixture classified as %q", archetype)
	}
	return topo
}

type fakeSynthesizer struct {
	calls []string
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, worldSize int, collective string) (synth.Algorithm, error) {
	f.calls = append(f.calls, collective)
	return collective, nil
}

func TestSelectUnregisteredArchetype(t *testing.T) {
	for _, archetype := range []string{topology.ArchetypeUnknown, "quantum_mesh"} {
		_, err := Select(archetype, nil, &fakeSynthesizer{})
		if !errors.Is(err, ErrUnhandledMachine) {
			t.Errorf("Select(%q) error = %v, want ErrUnhandledMachine", archetype, err)
		}
		if err == nil || !strings.Contains(err.Error(), archetype) {
			t.Errorf("Select(%q) error %v does not name the archetype", archetype, err)
		}
	}
}

func TestSelectDGX1Relay(t *testing.T) {
	topo := eightDeviceTopo(t)
	syn := &fakeSynthesizer{}

	p, err := Select(topology.ArchetypeOneHostIBDGX1, topo, syn)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	perm := p.LocalRankPermutation()
	if len(perm) != topo.NumDevices() {
		t.Errorf("permutation length = %d, want %d", len(perm), topo.NumDevices())
	}
	seen := make(map[int]bool)
	for _, d := range perm {
		if d < 0 || d >= topo.NumDevices() || seen[d] {
			t.Fatalf("permutation %v is not a permutation of device indices", perm)
		}
		seen[d] = true
	}

	algo, err := p.Synthesize(context.Background(), 16, "Alltoall")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if algo != synth.Algorithm("Alltoall") {
		t.Errorf("unexpected algorithm %v", algo)
	}
	if len(syn.calls) != 1 {
		t.Errorf("synthesizer called %d times, want 1", len(syn.calls))
	}
}

func TestSynthesizeRejectsUnresolvedWorldSize(t *testing.T) {
	p, err := Select(topology.ArchetypeOneHostIBDGX1, eightDeviceTopo(t), &fakeSynthesizer{})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if _, err := p.Synthesize(context.Background(), 0, "Alltoall"); err == nil {
		t.Error("Synthesize accepted world size 0")
	}
}
