package rendezvous

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pash-msft/msccl-tools/pkg/envbundle"
	"github.com/rs/zerolog"
)

// State tracks a sibling's progress through the wait protocol.
type State int

const (
	// StateWaiting means the lock file has not appeared yet.
	StateWaiting State = iota

	// StatePublished means the file exists but has not been read.
	StatePublished

	// StateConsumed means the bundle was read successfully.
	StateConsumed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StatePublished:
		return "published"
	case StateConsumed:
		return "consumed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Waiter blocks a sibling process until the coordinator publishes the lock
// file. The wait has no built-in timeout; a coordinator hang therefore hangs
// the sibling too, but the context lets callers bound it.
type Waiter struct {
	path     string
	interval time.Duration
	warnAt   int
	logger   zerolog.Logger
	state    State

	// polls counts elapsed intervals, exposed for telemetry.
	polls int
}

// Wait tuning. The fsnotify watch makes publication visible immediately; the
// poll is a fallback for filesystems without reliable notification.
const (
	defaultPollInterval = time.Second
	defaultWarnAfter    = 10
)

// NewWaiter creates a waiter for the given lock path. A non-positive
// interval or warnAfter selects the defaults.
func NewWaiter(path string, interval time.Duration, warnAfter int, logger zerolog.Logger) *Waiter {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if warnAfter <= 0 {
		warnAfter = defaultWarnAfter
	}
	return &Waiter{path: path, interval: interval, warnAt: warnAfter, logger: logger}
}

// State returns the waiter's current protocol state.
func (w *Waiter) State() State {
	return w.state
}

// Polls returns how many poll intervals elapsed before publication.
func (w *Waiter) Polls() int {
	return w.polls
}

// Wait blocks until the lock file appears, then decodes and returns the
// bundle. The error is ctx.Err() when cancelled before publication.
func (w *Waiter) Wait(ctx context.Context) (envbundle.Bundle, error) {
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		// Watch the directory: the file itself does not exist yet.
		if werr := watcher.Add(filepath.Dir(w.path)); werr != nil {
			w.logger.Debug().Err(werr).Msg("Falling back to pure polling for lock file")
		}
		defer watcher.Close()
	} else {
		w.logger.Debug().Err(err).Msg("Falling back to pure polling for lock file")
		watcher = nil
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for w.state == StateWaiting {
		if w.exists() {
			w.state = StatePublished
			break
		}

		var events chan fsnotify.Event
		if watcher != nil {
			events = watcher.Events
		}

		select {
		case <-ctx.Done():
			return envbundle.Bundle{}, fmt.Errorf("waiting for lock file %s: %w", w.path, ctx.Err())
		case event := <-events:
			if event.Name == w.path && event.Op.Has(fsnotify.Create) {
				w.state = StatePublished
			}
		case <-ticker.C:
			w.polls++
			if w.polls == w.warnAt {
				w.logger.Warn().Str("path", w.path).Int("polls", w.polls).Msg("Still waiting to read lock file")
			}
		}
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		return envbundle.Bundle{}, fmt.Errorf("failed to read lock file %s: %w", w.path, err)
	}
	bundle, err := envbundle.Decode(data)
	if err != nil {
		return envbundle.Bundle{}, fmt.Errorf("lock file %s: %w", w.path, err)
	}
	w.state = StateConsumed
	return bundle, nil
}

func (w *Waiter) exists() bool {
	_, err := os.Stat(w.path)
	return err == nil
}
