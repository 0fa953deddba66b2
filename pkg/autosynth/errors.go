package autosynth

import "errors"

var (
	// ErrHeterogeneousFleet is returned when ranks report different
	// machine archetypes. Synthesized algorithms assume uniform
	// hardware across the job.
	ErrHeterogeneousFleet = errors.New("job spans heterogeneous machines")

	// ErrMultipleArtifacts is returned when synthesis produced more
	// than one artifact. The runtime accepts a single algorithm file
	// per process, so multiple collectives per job are not yet
	// supported.
	ErrMultipleArtifacts = errors.New("multiple algorithm artifacts not supported")
)
