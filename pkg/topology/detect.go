package topology

import (
	"context"
	"errors"
	"os/exec"

	"github.com/rs/zerolog"
)

// reportCommand invokes the interconnect-report tool. Overridable in tests.
var reportCommand = func(ctx context.Context) ([]byte, error) {
	return exec.CommandContext(ctx, "nvidia-smi", "topo", "-m").Output()
}

// Detect classifies the local machine. A missing or failing report tool is
// not fatal here: both downgrade the result to ArchetypeUnknown, which only
// becomes an error later at plan selection.
func Detect(ctx context.Context, logger zerolog.Logger) Machine {
	logger.Debug().Msg("Checking for NVIDIA machines")

	out, err := reportCommand(ctx)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			logger.Debug().Msg("nvidia-smi not found")
		} else {
			logger.Warn().Err(err).Msg("Found nvidia-smi, but got error")
		}
		return Machine{Archetype: ArchetypeUnknown}
	}

	archetype, topo := ArchetypeFromReport(string(out))
	if archetype == ArchetypeUnknown {
		logger.Debug().Msg("Unknown machine or network configuration")
	} else {
		logger.Info().Str("archetype", archetype).Int("devices", topo.NumDevices()).Msg("Machine classified")
	}
	return Machine{Archetype: archetype, Topo: topo}
}
