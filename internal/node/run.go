package node

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/meshlink/internal/infrastructure/metrics"
)

// health backs /healthz: the database must answer, and so must InfluxDB
// when telemetry is enabled.
func (n *Node) health(ctx context.Context) error {
	if err := n.db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if n.influx != nil {
		if err := n.influx.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// Run drives the node until ctx is cancelled. Producers are stopped
// individually on the way out; their failures are logged, not returned.
func (n *Node) Run(ctx context.Context) error {
	var srv *metrics.Server
	if n.cfg.Metrics.Enabled {
		var err error
		if srv, err = metrics.Listen(n.cfg.Metrics, n.gather, n.health); err != nil {
			return err
		}
		n.log.Info("metrics listening", "addr", srv.Addr().String(), "path", n.cfg.Metrics.Path)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return n.uplink.Run(gctx) })
	g.Go(func() error { return n.inbound.Run(gctx) })
	g.Go(func() error { return n.routing.Run(gctx) })
	g.Go(func() error {
		n.subscribeControl(gctx)
		return nil
	})
	if srv != nil {
		g.Go(func() error { return srv.Serve(gctx) })
	}
	if n.influx != nil {
		g.Go(func() error { return n.recordRouting(gctx) })
	}

	for _, p := range n.producers {
		if err := n.runner.Start(gctx, p.name, p.run); err != nil {
			n.log.Error("starting producer", "task", p.name, "error", err)
		}
	}
	g.Go(func() error {
		<-gctx.Done()
		if err := n.runner.StopAll(); err != nil {
			n.log.Warn("producers ended with errors", "error", err)
		}
		return nil
	})

	n.log.Info("node running", "producers", len(n.producers))
	if err := g.Wait(); err != nil {
		return fmt.Errorf("node: %w", err)
	}
	n.log.Info("node stopped")
	return nil
}

// subscribeControl asks the broker for every registered control topic.
// The uplink restores the set after each reconnect, so a subscribe that
// cannot complete now is not retried here.
func (n *Node) subscribeControl(ctx context.Context) {
	filters, err := n.inbound.Topics()
	if err != nil {
		n.log.Error("listing control topics", "error", err)
		return
	}
	if err := n.uplink.Subscribe(ctx, filters...); err != nil {
		if ctx.Err() != nil {
			return
		}
		n.log.Warn("control subscribe pending", "filters", filters, "error", err)
		return
	}
	n.log.Info("control topics subscribed", "filters", filters)
}

// recordRouting mirrors the routing-table size to InfluxDB at the sync
// interval.
func (n *Node) recordRouting(ctx context.Context) error {
	ticker := n.clock.Ticker(n.cfg.Mesh.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			n.influx.Flush()
			return nil
		case <-ticker.C:
			n.influx.RecordRoutingTable(len(n.routing.Table()), n.clock.Now())
		}
	}
}
