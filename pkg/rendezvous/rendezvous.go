// Package rendezvous makes the coordinator's configuration bundle visible to
// sibling processes that are not reached by the runtime's broadcast, using a
// lock file at a path derived from the shared parent process id.
//
// The discipline is existence-based signaling, not mutual exclusion: only
// the coordinator ever writes the file. Create means published, absence
// means not ready, delete-on-exit is cleanup. A lock file that already
// exists when a coordinator starts signals either a concurrent duplicate run
// or leftover state from a crashed prior run, and is fatal.
package rendezvous

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pash-msft/msccl-tools/pkg/envbundle"
	"github.com/rs/zerolog"
)

// lockPrefix names the lock file; the parent pid suffix makes every process
// sharing that parent resolve to the same path.
const lockPrefix = "msccl_autosynth_env"

// ErrStaleLock is returned when the lock file already exists at coordinator
// start.
var ErrStaleLock = errors.New("lock file already exists")

// LockPath returns the lock-file path for this process's node-local group.
func LockPath() string {
	return LockPathFor(os.Getppid())
}

// LockPathFor returns the lock-file path for a group keyed by an explicit
// parent pid.
func LockPathFor(ppid int) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s.%d.lock", lockPrefix, ppid))
}

// Publisher owns the lock file for the duration of one coordinator run.
type Publisher struct {
	path      string
	logger    zerolog.Logger
	published bool
}

// NewPublisher creates a publisher for the given lock path.
func NewPublisher(path string, logger zerolog.Logger) *Publisher {
	return &Publisher{path: path, logger: logger}
}

// Publish writes the bundle to the lock file. The file must not exist yet.
// The bundle is staged to a temporary file and linked into place, so the
// lock file appears atomically with its full contents and a concurrent
// duplicate coordinator loses cleanly.
func (p *Publisher) Publish(bundle envbundle.Bundle) error {
	data, err := bundle.Encode()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p.path), lockPrefix+".staging.*")
	if err != nil {
		return fmt.Errorf("failed to stage lock file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to stage lock file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to stage lock file: %w", err)
	}

	if err := os.Link(tmp.Name(), p.path); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrStaleLock, p.path)
		}
		return fmt.Errorf("failed to create lock file %s: %w", p.path, err)
	}

	p.published = true
	p.logger.Info().Str("path", p.path).Msg("Published environment bundle for sibling processes")
	return nil
}

// Close removes the lock file. It runs unconditionally at coordinator exit
// and is safe to call when nothing was published.
func (p *Publisher) Close() error {
	if !p.published {
		return nil
	}
	p.published = false
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file %s: %w", p.path, err)
	}
	p.logger.Debug().Str("path", p.path).Msg("Removed lock file")
	return nil
}

// Path returns the lock-file path.
func (p *Publisher) Path() string {
	return p.path
}
