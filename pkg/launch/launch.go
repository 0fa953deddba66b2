// Package launch determines how the current process was started and what
// role it plays in the autosynth coordination protocol.
//
// Three launch shapes are recognized, tried in order:
//
//  1. An elastic launcher (torchrun style) exports LOCAL_RANK into the
//     environment of every worker it spawns.
//  2. A legacy launcher passes the local rank as a --local_rank argument
//     instead of exporting it.
//  3. Neither is present, meaning one runtime rank per process with no
//     launcher-managed siblings on the node.
package launch

import (
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Environment variables set by the elastic launcher.
const (
	// EnvLocalRank is the rank of this process within its node.
	EnvLocalRank = "LOCAL_RANK"

	// EnvWorldSize is the total number of ranks in the job.
	EnvWorldSize = "WORLD_SIZE"
)

// LegacyRankFlag is the argument used by the legacy launcher to pass the
// local rank.
const LegacyRankFlag = "--local_rank"

// Tier identifies which launch shape was detected.
type Tier string

const (
	// TierElastic means the elastic launcher exported LOCAL_RANK.
	TierElastic Tier = "elastic"

	// TierLegacy means the legacy launcher passed --local_rank.
	TierLegacy Tier = "legacy"

	// TierBare means no launcher was detected; every process is a runtime
	// rank of its own and coordination happens over the runtime's own
	// broadcast primitives rather than files.
	TierBare Tier = "bare"
)

// Context describes this process's place in the job. It is computed once at
// process start and immutable afterward.
type Context struct {
	// Tier is the launch shape that matched.
	Tier Tier

	// Coordinator reports whether this process computes and publishes the
	// node-local configuration. In the managed tiers only local rank zero
	// coordinates; in the bare tier every process is coordinator-eligible.
	Coordinator bool

	// WorldSize is the total number of ranks, or zero when the launch shape
	// leaves it unresolved (bare tier; the runtime's membership query
	// resolves it later).
	WorldSize int

	// HasSiblings reports whether launcher-managed subprocesses share this
	// node and must observe the configuration through the lock file.
	HasSiblings bool
}

// Getenv looks up one environment variable, reporting whether it was set.
type Getenv func(key string) (string, bool)

// Detect classifies the launch environment. Strategies are tried in order and
// the first match wins. Detection has no failure modes: an unparseable legacy
// flag simply falls through to the bare tier. The only error case is a
// managed tier without a usable WORLD_SIZE, which has no meaningful
// fallback.
func Detect(getenv Getenv, args []string, logger zerolog.Logger) (Context, error) {
	if raw, ok := getenv(EnvLocalRank); ok {
		localRank, err := strconv.Atoi(raw)
		if err != nil {
			return Context{}, invalidVar(EnvLocalRank, raw, err)
		}
		worldSize, err := worldSizeFromEnv(getenv)
		if err != nil {
			return Context{}, err
		}
		logger.Debug().Int("local_rank", localRank).Msg("Found LOCAL_RANK in environment, elastic launcher detected")
		return Context{
			Tier:        TierElastic,
			Coordinator: localRank == 0,
			WorldSize:   worldSize,
			HasSiblings: true,
		}, nil
	}

	if localRank, ok := parseLegacyRank(args); ok {
		worldSize, err := worldSizeFromEnv(getenv)
		if err != nil {
			return Context{}, err
		}
		logger.Debug().Int("local_rank", localRank).Msg("Found --local_rank argument, legacy launcher detected")
		return Context{
			Tier:        TierLegacy,
			Coordinator: localRank == 0,
			WorldSize:   worldSize,
			HasSiblings: true,
		}, nil
	}

	logger.Debug().Msg("No launcher detected, assuming one runtime rank per process")
	return Context{
		Tier:        TierBare,
		Coordinator: true,
		WorldSize:   0,
		HasSiblings: false,
	}, nil
}

// OS reads from the real process environment.
var OS Getenv = os.LookupEnv

// parseLegacyRank scans args for the legacy rank flag, accepting both
// "--local_rank N" and "--local_rank=N". Unknown arguments are ignored so the
// scan tolerates the training program's own flags.
func parseLegacyRank(args []string) (int, bool) {
	for i, arg := range args {
		switch {
		case arg == LegacyRankFlag:
			if i+1 >= len(args) {
				return 0, false
			}
			rank, err := strconv.Atoi(args[i+1])
			if err != nil {
				return 0, false
			}
			return rank, true
		case strings.HasPrefix(arg, LegacyRankFlag+"="):
			rank, err := strconv.Atoi(strings.TrimPrefix(arg, LegacyRankFlag+"="))
			if err != nil {
				return 0, false
			}
			return rank, true
		}
	}
	return 0, false
}

func worldSizeFromEnv(getenv Getenv) (int, error) {
	raw, ok := getenv(EnvWorldSize)
	if !ok {
		return 0, missingVar(EnvWorldSize)
	}
	worldSize, err := strconv.Atoi(raw)
	if err != nil || worldSize < 1 {
		return 0, invalidVar(EnvWorldSize, raw, err)
	}
	return worldSize, nil
}
