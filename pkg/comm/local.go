package comm

import (
	"context"
	"fmt"
	"sort"
)

// localGroup is an in-process communicator group. Each member runs in its
// own goroutine; used in tests and single-node embedding.
type localGroup struct {
	size     int
	gatherCh chan rankedValue
	bcastChs []chan []byte
}

type rankedValue struct {
	rank  int
	value string
}

// localMember is one rank's endpoint of a localGroup.
type localMember struct {
	group *localGroup
	rank  int
}

// NewLocalGroup creates an in-process group of n communicators, one per
// rank. All members share channels, so gather and broadcast retain their
// barrier semantics across goroutines.
func NewLocalGroup(n int) []Communicator {
	g := &localGroup{
		size:     n,
		gatherCh: make(chan rankedValue, n),
		bcastChs: make([]chan []byte, n),
	}
	for i := range g.bcastChs {
		g.bcastChs[i] = make(chan []byte, 1)
	}

	members := make([]Communicator, n)
	for i := range members {
		members[i] = &localMember{group: g, rank: i}
	}
	return members
}

// Rank implements Communicator.
func (m *localMember) Rank() int { return m.rank }

// Size implements Communicator.
func (m *localMember) Size() int { return m.group.size }

// GatherStrings implements Communicator.
func (m *localMember) GatherStrings(ctx context.Context, value string) ([]string, error) {
	select {
	case m.group.gatherCh <- rankedValue{rank: m.rank, value: value}:
	case <-ctx.Done():
		return nil, fmt.Errorf("gather on rank %d: %w", m.rank, ctx.Err())
	}
	if m.rank != Root {
		return nil, nil
	}

	collected := make([]rankedValue, 0, m.group.size)
	for len(collected) < m.group.size {
		select {
		case rv := <-m.group.gatherCh:
			collected = append(collected, rv)
		case <-ctx.Done():
			return nil, fmt.Errorf("gather on rank %d: %w", m.rank, ctx.Err())
		}
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].rank < collected[j].rank })

	values := make([]string, m.group.size)
	for i, rv := range collected {
		values[i] = rv.value
	}
	return values, nil
}

// BroadcastBytes implements Communicator.
func (m *localMember) BroadcastBytes(ctx context.Context, value []byte) ([]byte, error) {
	if m.rank == Root {
		for rank, ch := range m.group.bcastChs {
			if rank == Root {
				continue
			}
			select {
			case ch <- value:
			case <-ctx.Done():
				return nil, fmt.Errorf("broadcast to rank %d: %w", rank, ctx.Err())
			}
		}
		return value, nil
	}

	select {
	case value := <-m.group.bcastChs[m.rank]:
		return value, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("broadcast on rank %d: %w", m.rank, ctx.Err())
	}
}

// Close implements Communicator.
func (m *localMember) Close() error { return nil }
