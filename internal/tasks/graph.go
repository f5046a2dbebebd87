package tasks

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/meshlink/internal/mesh"
	"github.com/nerrad567/meshlink/internal/message"
)

const defaultGraphInterval = 2 * time.Second

// RootReporter reports whether this node is the mesh root.
type RootReporter interface {
	IsRoot() bool
}

// GraphOptions configures a GraphReporter.
type GraphOptions struct {
	Topology mesh.Topology
	Root     RootReporter

	Topic    string
	Envelope message.Envelope
	Output   Publisher

	// Interval between reports. Default: 2s.
	Interval time.Duration

	Clock clock.Clock
}

type graphReport struct {
	Layer     int    `json:"layer"`
	Root      bool   `json:"root"`
	MacSta    string `json:"macSta"`
	MacSoftap string `json:"macSoftap"`
}

// GraphReporter publishes this node's edge of the mesh tree so the
// dashboard can draw the topology. A non-root node reports its parent as
// macSta; the root has no parent and reports its own address.
type GraphReporter struct {
	opts   GraphOptions
	logger Logger
}

// NewGraphReporter creates a GraphReporter.
func NewGraphReporter(opts GraphOptions) (*GraphReporter, error) {
	if opts.Topology == nil || opts.Root == nil || opts.Output == nil || opts.Topic == "" {
		return nil, errors.New("tasks: topology, root, output and topic are required")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultGraphInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &GraphReporter{opts: opts, logger: noopLogger{}}, nil
}

// SetLogger sets the logger.
func (g *GraphReporter) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	g.logger = logger
}

// Report publishes one graph report. A non-root node without a parent has
// no edge to report and publishes nothing.
func (g *GraphReporter) Report() (bool, error) {
	self := g.opts.Topology.Self()
	root := g.opts.Root.IsRoot()

	sta := self
	if !root {
		parent, ok := g.opts.Topology.Parent()
		if !ok {
			return false, nil
		}
		sta = parent
	}

	msg, err := g.opts.Envelope.Build(g.opts.Topic, graphReport{
		Layer:     g.opts.Topology.Layer(),
		Root:      root,
		MacSta:    macString(sta),
		MacSoftap: macString(self),
	}, g.opts.Clock.Now())
	if err != nil {
		return false, err
	}
	if err := g.opts.Output.Enqueue(msg); err != nil {
		return false, err
	}
	return true, nil
}

// Run reports every Interval until ctx ends.
func (g *GraphReporter) Run(ctx context.Context) error {
	ticker := g.opts.Clock.Ticker(g.opts.Interval)
	defer ticker.Stop()
	for {
		sent, err := g.Report()
		switch {
		case err != nil:
			g.logger.Warn("graph report failed", "error", err)
		case !sent:
			g.logger.Debug("graph report skipped, no parent")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// macString formats addr in lowercase colon notation.
func macString(addr mesh.Address) string {
	return strings.ToLower(addr.String())
}
