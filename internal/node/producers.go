package node

import (
	"context"
	"fmt"

	"github.com/nerrad567/meshlink/internal/infrastructure/config"
	"github.com/nerrad567/meshlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/meshlink/internal/tasks"
	"github.com/nerrad567/meshlink/internal/uplink"
)

func (n *Node) buildUplink(context.Context) error {
	mc := n.cfg.MQTT
	mc.Broker.ClientID = n.id.ClientID

	n.session = mqtt.NewSession(mc, n.topics.Status())
	n.session.SetLogger(n.log.Component("mqtt"))

	m, err := uplink.New(uplink.Options{
		ClientID:       n.id.ClientID,
		Session:        n.session,
		Source:         n.queue,
		Sink:           n.inbound,
		Store:          n.kv,
		Clock:          n.clock,
		QoS:            byte(mc.QoS),
		AtMostOnce:     mc.QoS == 0,
		MaxInflight:    mc.MaxInflight,
		ConnackTimeout: mc.ConnackTimeout,
		AckTimeout:     mc.AckTimeout,
		ProcessWindow:  mc.ProcessWindow,
		LoopInterval:   mc.LoopInterval,
		BaseDelay:      mc.Reconnect.BaseDelay,
		MaxDelay:       mc.Reconnect.MaxDelay,
		MaxAttempts:    mc.Reconnect.MaxAttempts,
		IdleDelay:      mc.Reconnect.IdleDelay,
	})
	if err != nil {
		return err
	}
	m.SetLogger(n.log.Component("uplink"))
	n.uplink = m
	return nil
}

// buildTasks registers every configured sensor with its defaults, overlays
// persisted configuration, and prepares the producers Run starts.
func (n *Node) buildTasks(ctx context.Context) error {
	n.store = tasks.NewConfigStore(n.kv)
	logger := n.log.Component("tasks")
	n.runner.SetLogger(logger)

	type pending struct {
		id     int
		reader tasks.SensorReader
	}
	var sensors []pending
	for _, sc := range n.cfg.Tasks.Sensors {
		reader, err := newReader(sc)
		if err != nil {
			return fmt.Errorf("sensor %s: %w", sc.Name, err)
		}
		id, err := n.store.Register(sc.Name, tasks.Config{
			PollingTime: sc.PollingTime,
			MinPolling:  sc.MinPolling,
			MaxPolling:  sc.MaxPolling,
			Active:      sc.Active,
		}, sc.Metrics...)
		if err != nil {
			return err
		}
		sensors = append(sensors, pending{id: id, reader: reader})
	}
	if err := n.store.Load(ctx); err != nil {
		return err
	}

	for i, s := range sensors {
		opts := tasks.SensorOptions{
			TaskID:   s.id,
			Store:    n.store,
			Reader:   s.reader,
			Output:   n.queue,
			Topic:    n.topics.Sensor,
			Envelope: n.envelope,
			Clock:    n.clock,
		}
		if n.influx != nil {
			opts.Recorder = n.influx
		}
		task, err := tasks.NewSensorTask(opts)
		if err != nil {
			return err
		}
		task.SetLogger(logger)
		n.producers = append(n.producers, producer{name: "sensor/" + n.cfg.Tasks.Sensors[i].Name, run: task.Run})
	}

	announcer, err := tasks.NewAnnouncer(tasks.AnnouncerOptions{
		Topic:    n.topics.DevicesReport(),
		Envelope: n.envelope,
		Output:   n.queue,
		Metrics:  n.store.Metrics,
		Schedule: n.cfg.Tasks.AnnounceSchedule,
		Firmware: n.version,
		Clock:    n.clock,
	})
	if err != nil {
		return err
	}
	announcer.SetLogger(logger)
	n.producers = append(n.producers, producer{name: "announce", run: announcer.Run})

	graph, err := tasks.NewGraphReporter(tasks.GraphOptions{
		Topology: n.link,
		Root:     n.link,
		Topic:    n.topics.GraphReport(),
		Envelope: n.envelope,
		Output:   n.queue,
		Interval: n.cfg.Mesh.GraphInterval,
		Clock:    n.clock,
	})
	if err != nil {
		return err
	}
	graph.SetLogger(logger)
	n.producers = append(n.producers, producer{name: "graph", run: graph.Run})
	return nil
}

func newReader(sc config.SensorTaskConfig) (tasks.SensorReader, error) {
	switch sc.Kind {
	case config.SensorKindPerformance:
		return tasks.NewPerformanceReader(sc.Metrics)
	case config.SensorKindMock:
		return tasks.NewMockReader(sc.Metrics, nil), nil
	default:
		return nil, fmt.Errorf("unknown sensor kind %q", sc.Kind)
	}
}
