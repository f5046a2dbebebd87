// Package node assembles a meshlink node from its configuration.
//
// New builds every component once: persistence, the publish queue, the
// inbound subscription registry with the control endpoints, the broker
// uplink, routing-table sync over the mesh link, the relay bank, the
// periodic producers, and the optional telemetry sinks. Run drives them
// until the context ends; Close releases what New opened.
package node

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/nerrad567/meshlink/internal/audit"
	"github.com/nerrad567/meshlink/internal/control"
	"github.com/nerrad567/meshlink/internal/infrastructure/config"
	"github.com/nerrad567/meshlink/internal/infrastructure/database"
	"github.com/nerrad567/meshlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/meshlink/internal/infrastructure/logging"
	"github.com/nerrad567/meshlink/internal/infrastructure/metrics"
	"github.com/nerrad567/meshlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/meshlink/internal/mesh"
	"github.com/nerrad567/meshlink/internal/mesh/udplink"
	"github.com/nerrad567/meshlink/internal/message"
	"github.com/nerrad567/meshlink/internal/queue"
	"github.com/nerrad567/meshlink/internal/relay"
	"github.com/nerrad567/meshlink/internal/subscription"
	"github.com/nerrad567/meshlink/internal/tasks"
	"github.com/nerrad567/meshlink/internal/uplink"
	"github.com/nerrad567/meshlink/migrations"
)

// Identity names this node on the broker and in the mesh.
type Identity struct {
	MeshID   string
	DeviceID string
	ClientID string
	Address  mesh.Address
}

// producer is a long-running task started by Run.
type producer struct {
	name string
	run  tasks.RunFunc
}

// Node is one running meshlink device.
type Node struct {
	cfg      *config.Config
	id       Identity
	topics   mqtt.Topics
	envelope message.Envelope
	version  string
	clock    clock.Clock
	log      *logging.Logger

	db      *database.DB
	kv      *database.KVStore
	audit   *audit.SQLiteRepository
	queue   *queue.Queue
	inbound *subscription.Registry
	session *mqtt.Session
	uplink  *uplink.Manager
	link    *udplink.Link
	routing *mesh.Sync
	store   *tasks.ConfigStore
	relays  *relay.Bank
	influx  *influxdb.Client
	gather  *prometheus.Registry

	runner    *tasks.Runner
	producers []producer
}

// New builds a node. On error everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, log *logging.Logger, version string) (*Node, error) {
	id, err := resolveIdentity(cfg)
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:      cfg,
		id:       id,
		topics:   mqtt.Topics{MeshID: id.MeshID, DeviceID: id.DeviceID},
		envelope: message.Envelope{MeshID: id.MeshID, DeviceID: id.DeviceID},
		version:  version,
		clock:    clock.New(),
		log:      log.ForNode(id.MeshID, id.DeviceID),
		runner:   tasks.NewRunner(),
	}
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"database", n.openDatabase},
		{"telemetry", n.openTelemetry},
		{"queues", n.buildQueues},
		{"uplink", n.buildUplink},
		{"mesh link", n.openMesh},
		{"relays", n.buildRelays},
		{"tasks", n.buildTasks},
		{"control", n.buildControl},
		{"metrics", n.buildMetrics},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			if closeErr := n.Close(); closeErr != nil {
				n.log.Warn("cleanup after failed start", "error", closeErr)
			}
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
	}

	n.log.Info("node initialised",
		"client_id", id.ClientID,
		"address", id.Address.String(),
		"tasks", len(n.producers),
		"relays", len(cfg.Relays),
	)
	return n, nil
}

// resolveIdentity derives the device id and mesh address. The address comes
// from mesh.link.self, falling back to the device id; the device id falls
// back to the address.
func resolveIdentity(cfg *config.Config) (Identity, error) {
	src := cfg.Mesh.Link.Self
	if src == "" {
		src = cfg.Mesh.DeviceID
	}
	addr, err := mesh.ParseAddress(src)
	if err != nil {
		return Identity{}, fmt.Errorf("node address: %w", err)
	}

	deviceID := strings.ToUpper(cfg.Mesh.DeviceID)
	if deviceID == "" {
		deviceID = addr.Hex()
	}
	clientID := cfg.MQTT.Broker.ClientID
	if clientID == "" {
		clientID = deviceID
	}
	return Identity{
		MeshID:   cfg.Mesh.ID,
		DeviceID: deviceID,
		ClientID: clientID,
		Address:  addr,
	}, nil
}

func (n *Node) openDatabase(ctx context.Context) error {
	db, err := database.Open(ctx, database.Config{
		Path:        n.cfg.Database.Path,
		WALMode:     n.cfg.Database.WALMode,
		BusyTimeout: n.cfg.Database.BusyTimeout,
	})
	if err != nil {
		return err
	}
	n.db = db
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return err
	}
	n.kv = database.NewKVStore(db)
	n.audit = audit.NewSQLiteRepository(db.DB)
	n.log.Info("database ready", "path", db.Path())
	return nil
}

func (n *Node) openTelemetry(ctx context.Context) error {
	client, err := influxdb.Connect(ctx, n.cfg.InfluxDB, n.id.MeshID, n.id.DeviceID)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		n.log.Info("InfluxDB disabled")
		return nil
	case err != nil:
		return err
	}
	n.influx = client
	client.SetOnError(func(err error) {
		n.log.Error("InfluxDB write error", "error", err)
	})
	n.log.Info("InfluxDB connected",
		"url", n.cfg.InfluxDB.URL,
		"bucket", n.cfg.InfluxDB.Bucket,
	)
	return nil
}

func (n *Node) buildQueues(context.Context) error {
	n.queue = queue.New(n.cfg.Queues.PublishCapacity)
	n.inbound = subscription.New(subscription.Options{
		QueueCapacity:  n.cfg.Queues.InboundCapacity,
		Workers:        n.cfg.Queues.HandlerWorkers,
		HandlerTimeout: n.cfg.Queues.HandlerTimeout,
		Clock:          n.clock,
	})
	n.inbound.SetLogger(n.log.Component("subscription"))
	return nil
}

func (n *Node) openMesh(context.Context) error {
	lc := n.cfg.Mesh.Link
	peers := make(map[mesh.Address]string, len(lc.Peers))
	for _, p := range lc.Peers {
		addr, err := mesh.ParseAddress(p.Address)
		if err != nil {
			return fmt.Errorf("peer %q: %w", p.Address, err)
		}
		peers[addr] = p.Endpoint
	}
	var parent mesh.Address
	if lc.Parent != "" {
		var err error
		if parent, err = mesh.ParseAddress(lc.Parent); err != nil {
			return fmt.Errorf("parent: %w", err)
		}
	}

	link, err := udplink.Listen(udplink.Config{
		Self:   n.id.Address,
		Listen: lc.Listen,
		Root:   lc.Root,
		Peers:  peers,
		Parent: parent,
		Layer:  lc.Layer,
	})
	if err != nil {
		return err
	}
	n.link = link

	n.routing = mesh.NewSync(link, mesh.Options{
		Interval: n.cfg.Mesh.SyncInterval,
		MaxPeers: n.cfg.Mesh.MaxPeers,
		Clock:    n.clock,
	})
	n.routing.SetLogger(n.log.Component("routing"))
	n.log.Info("mesh link listening",
		"addr", link.LocalAddr().String(),
		"root", lc.Root,
		"peers", len(peers),
	)
	return nil
}

func (n *Node) buildRelays(ctx context.Context) error {
	specs := make([]relay.Spec, 0, len(n.cfg.Relays))
	for _, r := range n.cfg.Relays {
		specs = append(specs, relay.Spec{ID: r.ID, Name: r.Name})
	}
	n.relays = relay.NewBank(relay.Options{
		Relays:   specs,
		Actuator: relay.NewMemoryActuator(),
		Store:    n.kv,
		Clock:    n.clock,
	})
	n.relays.SetLogger(n.log.Component("relay"))
	return n.relays.Restore(ctx)
}

func (n *Node) buildControl(context.Context) error {
	configProc := control.NewConfigProcessor(n.store)
	relayProc := control.NewRelayProcessor(n.relays)

	routes := []struct {
		topic    string
		response string
		proc     control.Processor
	}{
		{n.topics.DeviceConfig(), n.topics.ConfigDashboard(), configProc},
		{n.topics.MeshConfig(), n.topics.ConfigDashboard(), configProc},
		{n.topics.Relay(), n.topics.RelayDashboard(), relayProc},
	}
	for _, r := range routes {
		ep, err := control.NewEndpoint(control.EndpointOptions{
			ClientID:      n.id.ClientID,
			ResponseTopic: r.response,
			Processor:     r.proc,
			Output:        n.queue,
			Envelope:      n.envelope,
			Firmware:      n.version,
			Audit:         n.audit,
			Clock:         n.clock,
		})
		if err != nil {
			return err
		}
		ep.SetLogger(n.log.Component("control"))
		if err := n.inbound.AddTopic(r.topic, ep); err != nil {
			return fmt.Errorf("routing %s: %w", r.topic, err)
		}
	}

	pruner, err := audit.NewPruner(audit.PrunerOptions{
		Repository: n.audit,
		Retention:  n.cfg.Database.AuditRetention,
		Schedule:   n.cfg.Database.AuditPruneSchedule,
		Clock:      n.clock,
	})
	if err != nil {
		return err
	}
	pruner.SetLogger(n.log.Component("audit"))
	n.producers = append(n.producers, producer{name: "audit/prune", run: pruner.Run})
	return nil
}

func (n *Node) buildMetrics(context.Context) error {
	collector := metrics.NewCollector(metrics.Sources{
		Queue:    n.queue,
		Uplink:   n.uplink,
		Registry: n.inbound,
		Routing:  n.routing,
	})
	reg, err := metrics.NewRegistry(collector)
	if err != nil {
		return err
	}
	n.gather = reg
	return nil
}

// Close releases the database, the mesh socket and the telemetry client.
// It is safe to call on a partially built node.
func (n *Node) Close() error {
	var err error
	if n.relays != nil {
		n.relays.Close()
	}
	if n.link != nil {
		err = multierr.Append(err, n.link.Close())
	}
	if n.influx != nil {
		err = multierr.Append(err, n.influx.Close())
	}
	if n.db != nil {
		err = multierr.Append(err, n.db.Close())
	}
	return err
}

// Identity returns the node's resolved identity.
func (n *Node) Identity() Identity { return n.id }

// Topics returns the node's topic builder.
func (n *Node) Topics() mqtt.Topics { return n.topics }

// Queue returns the outbound publish queue.
func (n *Node) Queue() *queue.Queue { return n.queue }

// Inbound returns the subscription registry.
func (n *Node) Inbound() *subscription.Registry { return n.inbound }

// TaskConfigs returns the task configuration store.
func (n *Node) TaskConfigs() *tasks.ConfigStore { return n.store }

// Relays returns the relay bank.
func (n *Node) Relays() *relay.Bank { return n.relays }

// Audit returns the control-write audit trail.
func (n *Node) Audit() audit.Repository { return n.audit }

// Routing returns the routing-table sync.
func (n *Node) Routing() *mesh.Sync { return n.routing }

// Gatherer returns the Prometheus registry of node metrics.
func (n *Node) Gatherer() prometheus.Gatherer { return n.gather }
