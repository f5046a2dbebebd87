package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/meshlink/internal/message"
)

const (
	// inactivePoll is how often a disabled task rechecks its configuration.
	inactivePoll = time.Second

	defaultMaxFailures = 10
)

// SensorOptions configures a SensorTask.
type SensorOptions struct {
	// TaskID selects the task configuration in Store. Required.
	TaskID int
	Store  *ConfigStore

	Reader SensorReader
	Output Publisher

	// Topic maps a sensor type to its publish topic. Required.
	Topic func(sensorType string) string

	Envelope message.Envelope

	// Recorder, when set, receives every sample read.
	Recorder Recorder

	// MaxFailures is how many consecutive read errors end the task.
	// Default: 10.
	MaxFailures int

	Clock clock.Clock
}

type sensorPayload struct {
	SensorType  string  `json:"sensor_type"`
	SensorValue float64 `json:"sensor_value"`
}

// SensorTask polls a SensorReader and publishes one message per sample.
//
// The task follows its ConfigStore entry on every cycle, so polling time and
// the active flag take effect without a restart.
type SensorTask struct {
	opts   SensorOptions
	logger Logger
}

// NewSensorTask creates a SensorTask.
func NewSensorTask(opts SensorOptions) (*SensorTask, error) {
	if opts.Store == nil || opts.Reader == nil || opts.Output == nil || opts.Topic == nil {
		return nil, errors.New("tasks: store, reader, output and topic are required")
	}
	if _, ok := opts.Store.Get(opts.TaskID); !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTask, opts.TaskID)
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = defaultMaxFailures
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &SensorTask{opts: opts, logger: noopLogger{}}, nil
}

// SetLogger sets the logger.
func (t *SensorTask) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	t.logger = logger
}

// Run polls until ctx ends. It returns ErrSensorFailed after MaxFailures
// consecutive read errors.
func (t *SensorTask) Run(ctx context.Context) error {
	failures := 0
	for {
		cfg, ok := t.opts.Store.Get(t.opts.TaskID)
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownTask, t.opts.TaskID)
		}

		wait := inactivePoll
		if cfg.IsActive() {
			if cfg.Interval() > 0 {
				wait = cfg.Interval()
			}
			if err := t.Poll(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				failures++
				t.logger.Warn("sensor read failed",
					"task", cfg.Name,
					"failures", failures,
					"error", err,
				)
				if failures >= t.opts.MaxFailures {
					return fmt.Errorf("%w: %s: %w", ErrSensorFailed, cfg.Name, err)
				}
			} else {
				failures = 0
			}
		}

		if !sleep(ctx, t.opts.Clock, wait) {
			return nil
		}
	}
}

// Poll reads once and publishes every sample. A full publish queue drops
// the sample; only read and encoding failures are returned.
func (t *SensorTask) Poll(ctx context.Context) error {
	samples, err := t.opts.Reader.Read(ctx)
	if err != nil {
		return err
	}

	now := t.opts.Clock.Now()
	for _, s := range samples {
		msg, err := t.opts.Envelope.Build(t.opts.Topic(s.Type),
			sensorPayload{SensorType: s.Type, SensorValue: s.Value}, now)
		if err != nil {
			return err
		}
		if err := t.opts.Output.Enqueue(msg); err != nil {
			if !errors.Is(err, message.ErrCapacity) {
				return err
			}
			t.logger.Warn("sensor sample dropped", "sensor_type", s.Type, "error", err)
		}
		if t.opts.Recorder != nil {
			t.opts.Recorder.RecordSample(s.Type, s.Value, now)
		}
	}
	return nil
}
