package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/nerrad567/meshlink/internal/message"
)

// DefaultAnnounceSchedule announces the device once a day.
const DefaultAnnounceSchedule = "@every 24h"

// AnnouncerOptions configures an Announcer.
type AnnouncerOptions struct {
	Topic    string
	Envelope message.Envelope
	Output   Publisher

	// Metrics lists the sensor metrics the device reports. Required.
	Metrics func() []string

	// Schedule is a standard cron spec or descriptor.
	// Default: DefaultAnnounceSchedule.
	Schedule string

	Firmware string

	// BootID identifies this run of the node. Default: a random UUID.
	BootID uuid.UUID

	Clock clock.Clock
}

type announcement struct {
	SensorMetrics []string `json:"sensor_metrics"`
	BootID        string   `json:"boot_id"`
	Firmware      string   `json:"firmware,omitempty"`
}

// Announcer publishes the device report: which metrics the device produces.
type Announcer struct {
	opts     AnnouncerOptions
	schedule cron.Schedule
	logger   Logger
}

// NewAnnouncer creates an Announcer.
func NewAnnouncer(opts AnnouncerOptions) (*Announcer, error) {
	if opts.Output == nil || opts.Metrics == nil || opts.Topic == "" {
		return nil, errors.New("tasks: output, metrics and topic are required")
	}
	if opts.Schedule == "" {
		opts.Schedule = DefaultAnnounceSchedule
	}
	sched, err := cron.ParseStandard(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("tasks: announce schedule %q: %w", opts.Schedule, err)
	}
	if opts.BootID == uuid.Nil {
		opts.BootID = uuid.New()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Announcer{opts: opts, schedule: sched, logger: noopLogger{}}, nil
}

// SetLogger sets the logger.
func (a *Announcer) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	a.logger = logger
}

// BootID returns the identifier sent with every announcement.
func (a *Announcer) BootID() uuid.UUID { return a.opts.BootID }

// Announce publishes one device report.
func (a *Announcer) Announce() error {
	metrics := a.opts.Metrics()
	if metrics == nil {
		metrics = []string{}
	}
	msg, err := a.opts.Envelope.Build(a.opts.Topic, announcement{
		SensorMetrics: metrics,
		BootID:        a.opts.BootID.String(),
		Firmware:      a.opts.Firmware,
	}, a.opts.Clock.Now())
	if err != nil {
		return err
	}
	return a.opts.Output.Enqueue(msg)
}

// Run announces immediately, then on every schedule activation until ctx
// ends. Failed announcements are logged and retried at the next activation.
func (a *Announcer) Run(ctx context.Context) error {
	for {
		if err := a.Announce(); err != nil {
			a.logger.Warn("device announce failed", "error", err)
		} else {
			a.logger.Debug("device announced", "topic", a.opts.Topic)
		}

		now := a.opts.Clock.Now()
		next := a.schedule.Next(now)
		if next.IsZero() {
			return nil
		}
		if !sleep(ctx, a.opts.Clock, next.Sub(now)) {
			return nil
		}
	}
}
