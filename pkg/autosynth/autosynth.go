package autosynth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/pash-msft/msccl-tools/pkg/comm"
	"github.com/pash-msft/msccl-tools/pkg/config"
	"github.com/pash-msft/msccl-tools/pkg/envbundle"
	"github.com/pash-msft/msccl-tools/pkg/launch"
	"github.com/pash-msft/msccl-tools/pkg/plan"
	"github.com/pash-msft/msccl-tools/pkg/rendezvous"
	"github.com/pash-msft/msccl-tools/pkg/stores"
	"github.com/pash-msft/msccl-tools/pkg/synth"
	"github.com/pash-msft/msccl-tools/pkg/telemetry"
	"github.com/pash-msft/msccl-tools/pkg/topology"
)

// Cache is the subset of the store the init flow uses. A nil cache
// disables both artifact reuse and run history.
type Cache interface {
	GetArtifact(ctx context.Context, archetype string, worldSize int, collective string) (*stores.Artifact, error)
	PutArtifact(ctx context.Context, archetype string, worldSize int, collective string, content []byte) (*stores.Artifact, error)
	CreateRun(ctx context.Context, run *stores.Run) error
	CompleteRun(ctx context.Context, id string, status stores.RunStatus, cacheHit bool, errMsg *string) error
}

// Options configures one Init call. Config, Synthesizer and Lowerer are
// required; everything else has a working default.
type Options struct {
	Config      *config.Config
	Telemetry   *telemetry.Telemetry
	Synthesizer synth.Synthesizer
	Lowerer     synth.Lowerer

	// Comm is the coordination group. Defaults to a single-member
	// communicator, which covers single-node managed-tier jobs.
	Comm comm.Communicator

	// Cache is the artifact cache and run history. Nil disables both.
	Cache Cache

	// Getenv and Args feed launch detection. Default to the real
	// process environment and os.Args[1:].
	Getenv launch.Getenv
	Args   []string

	// LockPath overrides the lock-file location used for sibling
	// rendezvous. Defaults to the parent-pid derived path.
	LockPath string

	// ArtifactDir is where lowered artifacts are written. Empty means
	// a fresh temporary directory per run.
	ArtifactDir string

	// Setenv applies the final bundle to the environment. Defaults to
	// os.Setenv.
	Setenv func(key, value string) error

	// Detect classifies the local machine. Defaults to topology.Detect.
	Detect func(ctx context.Context, logger zerolog.Logger) topology.Machine
}

// Session is the outcome of a successful Init. The caller must Close it
// when the training process exits so the lock file is cleaned up.
type Session struct {
	// Bundle is the environment configuration that was applied.
	Bundle envbundle.Bundle

	// Launch describes how this process was started.
	Launch launch.Context

	// Archetype is the agreed machine classification, empty for
	// sibling processes which never classify.
	Archetype string

	// CacheHit reports whether every artifact came from the cache.
	CacheHit bool

	publisher *rendezvous.Publisher
}

// Close releases resources held by the session, removing the lock file
// if this process published it.
func (s *Session) Close() error {
	if s.publisher != nil {
		return s.publisher.Close()
	}
	return nil
}

// broadcastPayload is the rank-zero decision distributed to every
// coordinator. A non-empty Error means rank zero rejected the job.
type broadcastPayload struct {
	Error     string         `json:"error,omitempty"`
	Artifacts []artifactFile `json:"artifacts"`
}

type artifactFile struct {
	Collective string `json:"collective"`
	Content    []byte `json:"content"`
}

// Init runs the autosynth configuration flow for this process.
func Init(ctx context.Context, opts Options) (*Session, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.NewDisabled()
	}
	if opts.Comm == nil {
		opts.Comm = comm.Single{}
	}
	if opts.Getenv == nil {
		opts.Getenv = launch.OS
	}
	if opts.Args == nil {
		opts.Args = os.Args[1:]
	}
	if opts.LockPath == "" {
		opts.LockPath = rendezvous.LockPath()
	}
	if opts.Setenv == nil {
		opts.Setenv = os.Setenv
	}
	if opts.Detect == nil {
		opts.Detect = topology.Detect
	}

	tel := opts.Telemetry
	logger := tel.Logger.NewComponentLogger("autosynth")

	ctx, span := tel.Tracer.StartPhase(ctx, "init")
	defer span.End()

	launchCtx, err := launch.Detect(opts.Getenv, opts.Args, logger.Zerolog())
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	logger = logger.WithTier(string(launchCtx.Tier))
	span.SetAttributes(telemetry.AttrTier.String(string(launchCtx.Tier)))

	if !launchCtx.Coordinator {
		bundle, err := waitForBundle(ctx, opts, launchCtx, tel, logger)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		return &Session{Bundle: bundle, Launch: launchCtx}, nil
	}

	session, err := coordinate(ctx, opts, launchCtx, tel, logger)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return session, nil
}

// waitForBundle is the sibling path: block on the lock file, then apply
// the coordinator's bundle.
func waitForBundle(ctx context.Context, opts Options, launchCtx launch.Context, tel *telemetry.Telemetry, logger *telemetry.Logger) (envbundle.Bundle, error) {
	ctx, span := tel.Tracer.StartPhase(ctx, "wait")
	defer span.End()

	logger.Info("Waiting for coordinator to publish environment bundle")

	waiter := rendezvous.NewWaiter(
		opts.LockPath,
		opts.Config.Rendezvous.PollInterval,
		opts.Config.Rendezvous.WarnAfterPolls,
		logger.Zerolog(),
	)
	start := time.Now()
	bundle, err := waiter.Wait(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return envbundle.Bundle{}, err
	}
	tel.Metrics.RecordSiblingWait(time.Since(start), waiter.Polls())

	if err := bundle.Apply(opts.Setenv); err != nil {
		return envbundle.Bundle{}, err
	}
	return bundle, nil
}

// coordinate is the coordinator path: classify, agree, synthesize,
// distribute, publish.
func coordinate(ctx context.Context, opts Options, launchCtx launch.Context, tel *telemetry.Telemetry, logger *telemetry.Logger) (*Session, error) {
	cm := opts.Comm
	worldSize := launchCtx.WorldSize
	if worldSize == 0 {
		worldSize = cm.Size()
	}
	logger = logger.WithRank(cm.Rank())

	detectCtx, detectSpan := tel.Tracer.StartPhase(ctx, "detect")
	machine := opts.Detect(detectCtx, logger.Zerolog())
	tel.Metrics.RecordDetection(machine.Archetype)
	detectSpan.SetAttributes(telemetry.AttrArchetype.String(machine.Archetype))
	detectSpan.End()

	selected, err := plan.Select(machine.Archetype, machine.Topo, opts.Synthesizer)
	if err != nil {
		return nil, err
	}

	runID := recordRunStart(ctx, opts, launchCtx, machine.Archetype, worldSize, logger)

	payload, cacheHit, err := agreeAndSynthesize(ctx, opts, machine, selected, worldSize, tel, logger)
	if err != nil {
		recordRunEnd(ctx, opts, runID, stores.RunStatusFailed, false, err, logger)
		return nil, err
	}

	bundle, publisher, err := materialize(ctx, opts, launchCtx, payload, selected, tel, logger)
	if err != nil {
		recordRunEnd(ctx, opts, runID, stores.RunStatusFailed, cacheHit, err, logger)
		return nil, err
	}

	recordRunEnd(ctx, opts, runID, stores.RunStatusCompleted, cacheHit, nil, logger)

	return &Session{
		Bundle:    bundle,
		Launch:    launchCtx,
		Archetype: machine.Archetype,
		CacheHit:  cacheHit,
		publisher: publisher,
	}, nil
}

// agreeAndSynthesize validates archetype agreement across the job and
// produces (or fetches) the artifacts at rank zero, distributing them
// to every coordinator.
func agreeAndSynthesize(ctx context.Context, opts Options, machine topology.Machine, selected plan.Plan, worldSize int, tel *telemetry.Telemetry, logger *telemetry.Logger) (broadcastPayload, bool, error) {
	cm := opts.Comm

	gatherCtx, gatherSpan := tel.Tracer.StartPhase(ctx, "gather")
	names, err := cm.GatherStrings(gatherCtx, machine.Archetype)
	gatherSpan.End()
	if err != nil {
		return broadcastPayload{}, false, fmt.Errorf("failed to gather machine archetypes: %w", err)
	}

	var payload broadcastPayload
	var rootErr error
	cacheHit := false
	if cm.Rank() == comm.Root {
		if rootErr = firstMismatch(names); rootErr == nil {
			payload.Artifacts, cacheHit, rootErr = produceArtifacts(ctx, opts, machine.Archetype, selected, worldSize, tel, logger)
		}
		if rootErr != nil {
			payload.Error = rootErr.Error()
		}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return broadcastPayload{}, false, fmt.Errorf("failed to encode artifact payload: %w", err)
	}

	bcastCtx, bcastSpan := tel.Tracer.StartPhase(ctx, "broadcast")
	received, err := cm.BroadcastBytes(bcastCtx, encoded)
	bcastSpan.End()
	if err != nil {
		return broadcastPayload{}, false, fmt.Errorf("failed to broadcast artifacts: %w", err)
	}

	if cm.Rank() == comm.Root {
		if rootErr != nil {
			return broadcastPayload{}, false, rootErr
		}
		return payload, cacheHit, nil
	}

	payload = broadcastPayload{}
	if err := json.Unmarshal(received, &payload); err != nil {
		return broadcastPayload{}, false, fmt.Errorf("failed to decode artifact payload: %w", err)
	}
	if payload.Error != "" {
		return broadcastPayload{}, false, fmt.Errorf("coordinator rejected job: %s", payload.Error)
	}
	return payload, false, nil
}

// firstMismatch scans the gathered archetype names for the first
// adjacent disagreement.
func firstMismatch(names []string) error {
	for i := 1; i < len(names); i++ {
		if names[i] != names[i-1] {
			return fmt.Errorf("%w: rank %d is %s but rank %d is %s",
				ErrHeterogeneousFleet, i-1, names[i-1], i, names[i])
		}
	}
	return nil
}

// produceArtifacts runs at rank zero only. Each configured collective is
// served from the cache when possible and synthesized otherwise.
func produceArtifacts(ctx context.Context, opts Options, archetype string, selected plan.Plan, worldSize int, tel *telemetry.Telemetry, logger *telemetry.Logger) ([]artifactFile, bool, error) {
	var files []artifactFile
	allHits := true

	for _, collective := range opts.Config.Collectives {
		if opts.Cache != nil && opts.Config.Cache.Enabled {
			cached, err := opts.Cache.GetArtifact(ctx, archetype, worldSize, collective)
			if err == nil {
				tel.Metrics.RecordCacheLookup(true)
				logger.WithField("collective", collective).Info("Using cached algorithm artifact")
				files = append(files, artifactFile{Collective: collective, Content: cached.Content})
				continue
			}
			if !errors.Is(err, stores.ErrNotFound) {
				logger.WithError(err).Warn("Artifact cache lookup failed, synthesizing")
			}
			tel.Metrics.RecordCacheLookup(false)
		}
		allHits = false

		synthCtx, synthSpan := tel.Tracer.StartPhase(ctx, "synthesize",
			telemetry.AttrCollective.String(collective),
			telemetry.AttrWorldSize.Int(worldSize),
		)
		start := time.Now()
		logger.WithField("collective", collective).Info("Synthesizing collective algorithm")

		algo, err := selected.Synthesize(synthCtx, worldSize, collective)
		if err != nil {
			telemetry.RecordError(synthSpan, err)
			synthSpan.End()
			return nil, false, fmt.Errorf("failed to synthesize %s: %w", collective, err)
		}
		content, err := opts.Lowerer.Lower(synthCtx, algo)
		if err != nil {
			telemetry.RecordError(synthSpan, err)
			synthSpan.End()
			return nil, false, fmt.Errorf("failed to lower %s: %w", collective, err)
		}
		tel.Metrics.RecordSynthesis(collective, time.Since(start))
		synthSpan.End()

		if opts.Cache != nil && opts.Config.Cache.Enabled {
			if _, err := opts.Cache.PutArtifact(ctx, archetype, worldSize, collective, content); err != nil {
				logger.WithError(err).Warn("Failed to cache synthesized artifact")
			}
		}
		files = append(files, artifactFile{Collective: collective, Content: content})
	}

	return files, allHits && len(files) > 0, nil
}

// materialize writes the artifacts to disk, builds and applies the
// bundle, and publishes it for siblings if there are any.
func materialize(ctx context.Context, opts Options, launchCtx launch.Context, payload broadcastPayload, selected plan.Plan, tel *telemetry.Telemetry, logger *telemetry.Logger) (envbundle.Bundle, *rendezvous.Publisher, error) {
	if len(payload.Artifacts) != 1 {
		return envbundle.Bundle{}, nil, fmt.Errorf("%w: got %d", ErrMultipleArtifacts, len(payload.Artifacts))
	}

	dir := opts.ArtifactDir
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "msccl-autosynth-")
		if err != nil {
			return envbundle.Bundle{}, nil, fmt.Errorf("failed to create artifact directory: %w", err)
		}
	}

	art := payload.Artifacts[0]
	path := filepath.Join(dir, art.Collective+".xml")
	if err := os.WriteFile(path, art.Content, 0o644); err != nil {
		return envbundle.Bundle{}, nil, fmt.Errorf("failed to write artifact %s: %w", path, err)
	}
	logger.WithField("path", path).Info("Wrote algorithm artifact")

	bundle := envbundle.New(path, selected.LocalRankPermutation())
	if err := bundle.Validate(); err != nil {
		return envbundle.Bundle{}, nil, err
	}

	var publisher *rendezvous.Publisher
	if launchCtx.HasSiblings {
		_, pubSpan := tel.Tracer.StartPhase(ctx, "publish")
		publisher = rendezvous.NewPublisher(opts.LockPath, logger.Zerolog())
		if err := publisher.Publish(bundle); err != nil {
			telemetry.RecordError(pubSpan, err)
			pubSpan.End()
			return envbundle.Bundle{}, nil, err
		}
		tel.Metrics.RecordPublish()
		pubSpan.End()
	}

	if err := bundle.Apply(opts.Setenv); err != nil {
		if publisher != nil {
			_ = publisher.Close()
		}
		return envbundle.Bundle{}, nil, err
	}

	return bundle, publisher, nil
}

// recordRunStart opens a run-history row. Best effort; history failures
// never fail the init.
func recordRunStart(ctx context.Context, opts Options, launchCtx launch.Context, archetype string, worldSize int, logger *telemetry.Logger) string {
	if opts.Cache == nil {
		return ""
	}
	run := &stores.Run{
		Tier:      string(launchCtx.Tier),
		Rank:      opts.Comm.Rank(),
		WorldSize: worldSize,
		Archetype: archetype,
	}
	if err := opts.Cache.CreateRun(ctx, run); err != nil {
		logger.WithError(err).Warn("Failed to record run start")
		return ""
	}
	return run.ID
}

func recordRunEnd(ctx context.Context, opts Options, runID string, status stores.RunStatus, cacheHit bool, runErr error, logger *telemetry.Logger) {
	if opts.Cache == nil || runID == "" {
		return
	}
	var errMsg *string
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
	}
	if err := opts.Cache.CompleteRun(ctx, runID, status, cacheHit, errMsg); err != nil {
		logger.WithError(err).Warn("Failed to record run completion")
	}
}
