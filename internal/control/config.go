package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/meshlink/internal/tasks"
)

// ConfigProcessor reads and writes task configuration.
type ConfigProcessor struct {
	store *tasks.ConfigStore
}

// NewConfigProcessor creates a processor over store.
func NewConfigProcessor(store *tasks.ConfigStore) *ConfigProcessor {
	return &ConfigProcessor{store: store}
}

// Type implements Processor.
func (p *ConfigProcessor) Type() string { return TypeConfig }

// Pool describes a task's polling bounds in milliseconds.
type Pool struct {
	ActualTime int64 `json:"actual_time"`
	Max        int64 `json:"max"`
	Min        int64 `json:"min"`
}

// SensorConfig is one task in a read response.
type SensorConfig struct {
	TaskID int    `json:"task_id"`
	Name   string `json:"name"`
	Pool   Pool   `json:"pool"`
	Active bool   `json:"active"`
}

// SensorResult is one task in a write response.
type SensorResult struct {
	Status
	Pool   *Pool `json:"pool,omitempty"`
	Active *bool `json:"active,omitempty"`
}

// ConfigPayload is the body of config responses.
type ConfigPayload[T any] struct {
	Sensors []T `json:"sensors"`
}

type sensorWrite struct {
	TaskID int  `json:"task_id"`
	Active Flag `json:"active"`
	Pool   struct {
		ActualTime int64 `json:"actual_time"`
	} `json:"pool"`
}

type configWrite struct {
	Sensors []sensorWrite `json:"sensors"`
}

// Process implements Processor.
func (p *ConfigProcessor) Process(ctx context.Context, req Request) (any, error) {
	switch req.Action {
	case ActionRead:
		return p.read(), nil
	case ActionWrite:
		return p.write(ctx, req)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
}

func (p *ConfigProcessor) read() ConfigPayload[SensorConfig] {
	all := p.store.All()
	out := ConfigPayload[SensorConfig]{Sensors: make([]SensorConfig, 0, len(all))}
	for _, c := range all {
		out.Sensors = append(out.Sensors, SensorConfig{
			TaskID: c.TaskID,
			Name:   c.Name,
			Pool:   Pool{ActualTime: c.PollingTime, Max: c.MaxPolling, Min: c.MinPolling},
			Active: c.IsActive(),
		})
	}
	return out
}

// write applies every sensor entry independently; one unknown task does
// not stop the others from being saved.
func (p *ConfigProcessor) write(ctx context.Context, req Request) (any, error) {
	if !req.HasPayload() {
		return nil, fmt.Errorf("%w: missing payload", ErrMalformedRequest)
	}
	var body configWrite
	if err := json.Unmarshal(req.Payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}

	out := ConfigPayload[SensorResult]{Sensors: make([]SensorResult, 0, len(body.Sensors))}
	for _, s := range body.Sensors {
		taskID := s.TaskID
		cfg, err := p.store.Update(ctx, taskID, s.Pool.ActualTime, int(s.Active))
		switch {
		case errors.Is(err, tasks.ErrUnknownTask):
			out.Sensors = append(out.Sensors, SensorResult{Status: Status{
				TaskID:  &taskID,
				Status:  StatusError,
				Message: MsgTaskNotFound,
			}})
			continue
		case err != nil:
			return nil, err
		}

		active := cfg.IsActive()
		out.Sensors = append(out.Sensors, SensorResult{
			Status: Status{
				TaskID:  &taskID,
				Status:  StatusOK,
				Message: fmt.Sprintf("Configuration saved task id: %d, task name: %s", cfg.TaskID, cfg.Name),
			},
			Pool:   &Pool{ActualTime: cfg.PollingTime, Max: cfg.MaxPolling, Min: cfg.MinPolling},
			Active: &active,
		})
	}
	return out, nil
}
