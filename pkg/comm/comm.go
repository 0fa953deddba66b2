// Package comm abstracts the distributed runtime's collective coordination
// primitives used during autosynth: rank/size membership, a gather of small
// strings to rank zero, and a broadcast of the lowered artifact from rank
// zero. Both calls are barriers; every participant blocks until all have
// arrived, and a stall on any one rank stalls the whole group.
//
// The training runtime's own communicator is authoritative where one exists;
// the TCP implementation here is a bootstrap for jobs that have none at
// configuration time.
package comm

import "context"

// Root is the rank that gathers and broadcasts.
const Root = 0

// Communicator is one process's view of the coordination group.
type Communicator interface {
	// Rank returns this process's rank, 0 <= Rank < Size.
	Rank() int

	// Size returns the number of participants.
	Size() int

	// GatherStrings collects one string per rank at Root. The returned
	// slice is indexed by rank on Root and nil elsewhere.
	GatherStrings(ctx context.Context, value string) ([]string, error)

	// BroadcastBytes distributes Root's value to every rank. Non-root
	// callers ignore their argument and return the received value.
	BroadcastBytes(ctx context.Context, value []byte) ([]byte, error)

	// Close releases any connections held by the communicator.
	Close() error
}

// Single is a one-member communicator for processes coordinating only
// through the filesystem tier.
type Single struct{}

// Rank implements Communicator.
func (Single) Rank() int { return 0 }

// Size implements Communicator.
func (Single) Size() int { return 1 }

// GatherStrings implements Communicator.
func (Single) GatherStrings(_ context.Context, value string) ([]string, error) {
	return []string{value}, nil
}

// BroadcastBytes implements Communicator.
func (Single) BroadcastBytes(_ context.Context, value []byte) ([]byte, error) {
	return value, nil
}

// Close implements Communicator.
func (Single) Close() error { return nil }
