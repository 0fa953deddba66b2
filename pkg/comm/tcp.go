package comm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Environment variables configuring the TCP bootstrap communicator. The job
// launcher (or the user) sets these on every rank.
const (
	EnvCommRank = "MSCCL_COMM_RANK"
	EnvCommSize = "MSCCL_COMM_SIZE"
	EnvCommRoot = "MSCCL_COMM_ROOT"
)

// TCPConfig configures one rank of the TCP bootstrap group.
type TCPConfig struct {
	// Rank of this process, 0 <= Rank < Size.
	Rank int

	// Size of the group.
	Size int

	// RootAddress is the host:port rank zero listens on.
	RootAddress string

	// DialRetryInterval is how long non-root ranks wait between connection
	// attempts while rank zero comes up. Defaults to 500ms.
	DialRetryInterval time.Duration

	// Listener, when non-nil, is used by rank zero instead of listening on
	// RootAddress. Lets embedders and tests pick ephemeral ports.
	Listener net.Listener
}

// TCPConfigFromEnv reads the bootstrap configuration from the process
// environment. Returns ok=false when no bootstrap group is configured.
func TCPConfigFromEnv(getenv func(string) (string, bool)) (TCPConfig, bool, error) {
	rawRank, okRank := getenv(EnvCommRank)
	rawSize, okSize := getenv(EnvCommSize)
	root, okRoot := getenv(EnvCommRoot)
	if !okRank && !okSize && !okRoot {
		return TCPConfig{}, false, nil
	}
	if !okRank || !okSize || !okRoot {
		return TCPConfig{}, false, fmt.Errorf("incomplete bootstrap config: %s, %s and %s must all be set", EnvCommRank, EnvCommSize, EnvCommRoot)
	}
	rank, err := strconv.Atoi(rawRank)
	if err != nil {
		return TCPConfig{}, false, fmt.Errorf("invalid %s value %q: %w", EnvCommRank, rawRank, err)
	}
	size, err := strconv.Atoi(rawSize)
	if err != nil {
		return TCPConfig{}, false, fmt.Errorf("invalid %s value %q: %w", EnvCommSize, rawSize, err)
	}
	if size < 1 || rank < 0 || rank >= size {
		return TCPConfig{}, false, fmt.Errorf("rank %d out of range for size %d", rank, size)
	}
	return TCPConfig{Rank: rank, Size: size, RootAddress: root}, true, nil
}

// message is the framed JSON envelope exchanged on bootstrap connections.
type message struct {
	Op    string `json:"op"`
	Rank  int    `json:"rank,omitempty"`
	Value string `json:"value,omitempty"`
	Data  []byte `json:"data,omitempty"`
}

const (
	opHello  = "hello"
	opGather = "gather"
	opBcast  = "bcast"
)

// peer is one established connection with its codec state.
type peer struct {
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
	w    *bufio.Writer
}

func newPeer(conn net.Conn) *peer {
	w := bufio.NewWriter(conn)
	return &peer{
		conn: conn,
		enc:  json.NewEncoder(w),
		dec:  json.NewDecoder(bufio.NewReader(conn)),
		w:    w,
	}
}

func (p *peer) send(msg message) error {
	if err := p.enc.Encode(msg); err != nil {
		return err
	}
	return p.w.Flush()
}

func (p *peer) recv() (message, error) {
	var msg message
	err := p.dec.Decode(&msg)
	return msg, err
}

// tcpComm is the TCP bootstrap communicator. Rank zero holds one connection
// per non-root rank; every other rank holds a single connection to rank
// zero.
type tcpComm struct {
	cfg    TCPConfig
	logger zerolog.Logger

	// peers is indexed by rank on the root; on other ranks only the root
	// entry is set.
	peers map[int]*peer
}

// DialTCP establishes the bootstrap group. Rank zero listens and accepts
// Size-1 connections; other ranks dial with retry until rank zero is up or
// the context is cancelled. The call is itself a barrier: it returns only
// once the full group is connected.
func DialTCP(ctx context.Context, cfg TCPConfig, logger zerolog.Logger) (Communicator, error) {
	if cfg.Size < 1 || cfg.Rank < 0 || cfg.Rank >= cfg.Size {
		return nil, fmt.Errorf("rank %d out of range for size %d", cfg.Rank, cfg.Size)
	}
	if cfg.DialRetryInterval <= 0 {
		cfg.DialRetryInterval = 500 * time.Millisecond
	}

	c := &tcpComm{cfg: cfg, logger: logger, peers: make(map[int]*peer)}
	if cfg.Rank == Root {
		if err := c.acceptPeers(ctx); err != nil {
			_ = c.Close()
			return nil, err
		}
	} else {
		if err := c.dialRoot(ctx); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *tcpComm) acceptPeers(ctx context.Context) error {
	ln := c.cfg.Listener
	if ln == nil {
		var err error
		ln, err = new(net.ListenConfig).Listen(ctx, "tcp", c.cfg.RootAddress)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", c.cfg.RootAddress, err)
		}
	}
	defer ln.Close()

	// Unblock Accept when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-done:
		}
	}()

	for len(c.peers) < c.cfg.Size-1 {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("bootstrap accept: %w", ctx.Err())
			}
			return fmt.Errorf("bootstrap accept: %w", err)
		}
		p := newPeer(conn)
		hello, err := p.recv()
		if err != nil || hello.Op != opHello {
			_ = conn.Close()
			return fmt.Errorf("bad hello from %s: %v", conn.RemoteAddr(), err)
		}
		if hello.Rank <= 0 || hello.Rank >= c.cfg.Size {
			_ = conn.Close()
			return fmt.Errorf("peer announced invalid rank %d", hello.Rank)
		}
		if _, dup := c.peers[hello.Rank]; dup {
			_ = conn.Close()
			return fmt.Errorf("duplicate connection for rank %d", hello.Rank)
		}
		c.peers[hello.Rank] = p
		c.logger.Debug().Int("rank", hello.Rank).Msg("Bootstrap peer connected")
	}
	return nil
}

func (c *tcpComm) dialRoot(ctx context.Context) error {
	var dialer net.Dialer
	for {
		conn, err := dialer.DialContext(ctx, "tcp", c.cfg.RootAddress)
		if err == nil {
			p := newPeer(conn)
			if err := p.send(message{Op: opHello, Rank: c.cfg.Rank}); err != nil {
				_ = conn.Close()
				return fmt.Errorf("bootstrap hello: %w", err)
			}
			c.peers[Root] = p
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("bootstrap dial %s: %w", c.cfg.RootAddress, ctx.Err())
		case <-time.After(c.cfg.DialRetryInterval):
		}
	}
}

// Rank implements Communicator.
func (c *tcpComm) Rank() int { return c.cfg.Rank }

// Size implements Communicator.
func (c *tcpComm) Size() int { return c.cfg.Size }

// GatherStrings implements Communicator.
func (c *tcpComm) GatherStrings(ctx context.Context, value string) ([]string, error) {
	if c.cfg.Rank != Root {
		if err := c.peers[Root].send(message{Op: opGather, Rank: c.cfg.Rank, Value: value}); err != nil {
			return nil, fmt.Errorf("gather send on rank %d: %w", c.cfg.Rank, err)
		}
		return nil, nil
	}

	values := make([]string, c.cfg.Size)
	values[Root] = value
	for rank, p := range c.peers {
		if err := applyDeadline(ctx, p.conn); err != nil {
			return nil, err
		}
		msg, err := p.recv()
		if err != nil {
			return nil, fmt.Errorf("gather recv from rank %d: %w", rank, err)
		}
		if msg.Op != opGather || msg.Rank != rank {
			return nil, fmt.Errorf("unexpected %s message from rank %d during gather", msg.Op, rank)
		}
		values[rank] = msg.Value
	}
	return values, nil
}

// BroadcastBytes implements Communicator.
func (c *tcpComm) BroadcastBytes(ctx context.Context, value []byte) ([]byte, error) {
	if c.cfg.Rank == Root {
		for rank, p := range c.peers {
			if err := applyDeadline(ctx, p.conn); err != nil {
				return nil, err
			}
			if err := p.send(message{Op: opBcast, Data: value}); err != nil {
				return nil, fmt.Errorf("broadcast send to rank %d: %w", rank, err)
			}
		}
		return value, nil
	}

	p := c.peers[Root]
	if err := applyDeadline(ctx, p.conn); err != nil {
		return nil, err
	}
	msg, err := p.recv()
	if err != nil {
		return nil, fmt.Errorf("broadcast recv on rank %d: %w", c.cfg.Rank, err)
	}
	if msg.Op != opBcast {
		return nil, fmt.Errorf("unexpected %s message during broadcast", msg.Op)
	}
	return msg.Data, nil
}

// Close implements Communicator.
func (c *tcpComm) Close() error {
	var firstErr error
	for _, p := range c.peers {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.peers = map[int]*peer{}
	return firstErr
}

// applyDeadline maps a context deadline onto a connection. Without a
// deadline the call blocks indefinitely, matching the barrier semantics of
// the underlying collective.
func applyDeadline(ctx context.Context, conn net.Conn) error {
	if deadline, ok := ctx.Deadline(); ok {
		return conn.SetDeadline(deadline)
	}
	return conn.SetDeadline(time.Time{})
}

// osGetenv adapts os.LookupEnv for TCPConfigFromEnv.
func osGetenv(key string) (string, bool) { return os.LookupEnv(key) }

// TCPConfigFromOSEnv reads the bootstrap configuration from the real process
// environment.
func TCPConfigFromOSEnv() (TCPConfig, bool, error) {
	return TCPConfigFromEnv(osGetenv)
}
