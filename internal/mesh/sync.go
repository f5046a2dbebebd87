// Package mesh disseminates the routing table from the mesh root to every
// peer over the mesh's own data plane.
//
// While the local node is root, Sync fetches the link's routing table every
// Options.Interval, encodes it as [0x56][6-byte address]*, and unicasts the
// whole frame to each address in the table. A failed send is logged and the
// peer is retried on the next cycle. On every node, frames received from the
// link replace the cached table after validation; invalid frames are dropped
// and leave the cache unchanged.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"
)

const (
	defaultInterval     = 2 * time.Second
	defaultLockTimeout  = 500 * time.Millisecond
	defaultReceivePause = 100 * time.Millisecond
)

// Logger defines the logging interface used by Sync.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Sync.
type Options struct {
	// Interval between root broadcasts. Default: 2s.
	Interval time.Duration

	// MaxPeers bounds the routing table. Default: DefaultMaxPeers.
	MaxPeers int

	// LockTimeout bounds routing-table lock acquisition. Default: 500ms.
	LockTimeout time.Duration

	// Clock drives the broadcast ticker. Default: wall clock.
	Clock clock.Clock
}

// Stats are cumulative routing counters.
type Stats struct {
	Broadcasts     uint64
	FramesSent     uint64
	SendFailures   uint64
	FramesReceived uint64
	InvalidFrames  uint64
}

// Sync keeps the local routing-table view current.
type Sync struct {
	link   Link
	table  *RoutingTable
	opts   Options
	logger Logger

	broadcasts     atomic.Uint64
	framesSent     atomic.Uint64
	sendFailures   atomic.Uint64
	framesReceived atomic.Uint64
	invalidFrames  atomic.Uint64
}

// NewSync creates a Sync over link.
func NewSync(link Link, opts Options) *Sync {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.MaxPeers <= 0 {
		opts.MaxPeers = DefaultMaxPeers
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Sync{
		link:   link,
		table:  NewRoutingTable(opts.MaxPeers, opts.LockTimeout),
		opts:   opts,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the sync task.
func (s *Sync) SetLogger(logger Logger) {
	s.logger = logger
}

// Table returns a copy of the cached routing table.
func (s *Sync) Table() []Address {
	table, err := s.table.Snapshot()
	if err != nil {
		s.logger.Warn("reading routing table", "error", err)
		return nil
	}
	return table
}

// Stats returns the cumulative counters.
func (s *Sync) Stats() Stats {
	return Stats{
		Broadcasts:     s.broadcasts.Load(),
		FramesSent:     s.framesSent.Load(),
		SendFailures:   s.sendFailures.Load(),
		FramesReceived: s.framesReceived.Load(),
		InvalidFrames:  s.invalidFrames.Load(),
	}
}

// Broadcast sends the current routing table to every peer in it.
// It does nothing unless the node is root. Per-peer send failures are
// logged and counted; only a failure to read the table is returned.
func (s *Sync) Broadcast(ctx context.Context) error {
	if !s.link.IsRoot() {
		return nil
	}

	table, err := s.link.RoutingTable()
	if err != nil {
		return fmt.Errorf("reading link routing table: %w", err)
	}
	if len(table) > s.opts.MaxPeers {
		s.logger.Warn("routing table truncated", "size", len(table), "max_peers", s.opts.MaxPeers)
		table = table[:s.opts.MaxPeers]
	}
	if err := s.table.Replace(table); err != nil {
		return err
	}

	frame := EncodeRoutingTable(table)
	s.broadcasts.Add(1)
	for i, peer := range table {
		if err := s.link.Send(ctx, peer, frame); err != nil {
			s.sendFailures.Add(1)
			s.logger.Warn("sending routing table", "index", i, "peer", peer, "error", err)
			continue
		}
		s.framesSent.Add(1)
	}
	s.logger.Debug("routing table broadcast", "peers", len(table))
	return nil
}

// HandleFrame validates a received frame and replaces the cached table.
// Invalid frames return an error wrapping ErrInvalidFrame and change nothing.
func (s *Sync) HandleFrame(from Address, frame []byte) error {
	s.framesReceived.Add(1)
	table, err := DecodeRoutingTable(frame, s.opts.MaxPeers)
	if err != nil {
		s.invalidFrames.Add(1)
		s.logger.Warn("discarding mesh frame", "from", from, "error", err)
		return err
	}
	if err := s.table.Replace(table); err != nil {
		return err
	}
	for i, a := range table {
		s.logger.Debug("received routing table entry", "index", i, "address", a)
	}
	return nil
}

// Run broadcasts on every tick and pumps received frames until ctx is
// cancelled.
func (s *Sync) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.broadcastLoop(ctx) })
	g.Go(func() error { return s.receiveLoop(ctx) })
	return g.Wait()
}

func (s *Sync) broadcastLoop(ctx context.Context) error {
	ticker := s.opts.Clock.Ticker(s.opts.Interval)
	defer ticker.Stop()
	for {
		if err := s.Broadcast(ctx); err != nil {
			s.logger.Warn("routing broadcast failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sync) receiveLoop(ctx context.Context) error {
	for {
		from, frame, err := s.link.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("mesh receive failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-s.opts.Clock.After(defaultReceivePause):
			}
			continue
		}
		if err := s.HandleFrame(from, frame); err != nil && !errors.Is(err, ErrInvalidFrame) {
			s.logger.Error("updating routing table", "error", err)
		}
	}
}
