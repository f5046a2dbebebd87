package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"
)

const configKeyPrefix = "task_config/"

// KeyValueStore persists task configuration.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
}

// Config is the runtime configuration of one periodic task.
// Times are milliseconds, matching the control protocol.
type Config struct {
	TaskID      int    `json:"task_id"`
	Name        string `json:"name"`
	PollingTime int64  `json:"polling_time"`
	MinPolling  int64  `json:"min_polling_time"`
	MaxPolling  int64  `json:"max_polling_time"`
	Active      int    `json:"active"`
}

// Interval returns the polling period.
func (c Config) Interval() time.Duration {
	return time.Duration(c.PollingTime) * time.Millisecond
}

// IsActive reports whether the task should run.
func (c Config) IsActive() bool { return c.Active == 1 }

// Clamp forces the configuration into range: polling below the minimum
// becomes the minimum, polling above a non-zero maximum becomes the maximum,
// and an active flag other than 0 or 1 disables the task.
// It reports whether anything changed.
func (c *Config) Clamp() bool {
	changed := false
	if c.PollingTime < c.MinPolling {
		c.PollingTime = c.MinPolling
		changed = true
	}
	if c.MaxPolling != 0 && c.PollingTime > c.MaxPolling {
		c.PollingTime = c.MaxPolling
		changed = true
	}
	if c.Active != 0 && c.Active != 1 {
		c.Active = 0
		changed = true
	}
	return changed
}

type taskEntry struct {
	config  Config
	metrics []string
}

// ConfigStore holds the configuration of every registered task.
// Safe for concurrent use.
type ConfigStore struct {
	mu    sync.RWMutex
	tasks map[int]*taskEntry
	names map[string]int
	kv    KeyValueStore
}

// NewConfigStore creates an empty store. kv may be nil.
func NewConfigStore(kv KeyValueStore) *ConfigStore {
	return &ConfigStore{
		tasks: make(map[int]*taskEntry),
		names: make(map[string]int),
		kv:    kv,
	}
}

// Register adds a task with its default configuration and the sensor
// metrics it reports. Ids are assigned in registration order from 1.
func (s *ConfigStore) Register(name string, defaults Config, metrics ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.names[name]; exists {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateTask, name)
	}
	id := len(s.tasks) + 1
	cfg := defaults
	cfg.TaskID = id
	cfg.Name = name
	cfg.Clamp()

	s.tasks[id] = &taskEntry{config: cfg, metrics: slices.Clone(metrics)}
	s.names[name] = id
	return id, nil
}

// Get returns the configuration of task id.
func (s *ConfigStore) Get(id int) (Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tasks[id]
	if !ok {
		return Config{}, false
	}
	return e.config, true
}

// Name returns the name of task id.
func (s *ConfigStore) Name(id int) (string, bool) {
	cfg, ok := s.Get(id)
	return cfg.Name, ok
}

// IDByName returns the id registered for name.
func (s *ConfigStore) IDByName(name string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.names[name]
	return id, ok
}

// All returns every configuration ordered by task id.
func (s *ConfigStore) All() []Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Config, 0, len(s.tasks))
	for _, e := range s.tasks {
		out = append(out, e.config)
	}
	slices.SortFunc(out, func(a, b Config) int { return a.TaskID - b.TaskID })
	return out
}

// Metrics returns the sensor metric names of every task, in task order.
func (s *ConfigStore) Metrics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	var out []string
	for _, id := range ids {
		out = append(out, s.tasks[id].metrics...)
	}
	return out
}

// Update sets the polling time and active flag of task id, clamps the
// result against the task's bounds and persists it.
func (s *ConfigStore) Update(ctx context.Context, id int, pollingTime int64, active int) (Config, error) {
	cfg, err := s.apply(id, pollingTime, active)
	if err != nil {
		return Config{}, err
	}
	if err := s.save(ctx, cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (s *ConfigStore) apply(id int, pollingTime int64, active int) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return Config{}, fmt.Errorf("%w: %d", ErrUnknownTask, id)
	}
	cfg := e.config
	cfg.PollingTime = pollingTime
	cfg.Active = active
	cfg.Clamp()
	e.config = cfg
	return cfg, nil
}

func (s *ConfigStore) save(ctx context.Context, cfg Config) error {
	if s.kv == nil {
		return nil
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding task %d config: %w", cfg.TaskID, err)
	}
	if err := s.kv.Set(ctx, configKeyPrefix+strconv.Itoa(cfg.TaskID), string(data)); err != nil {
		return fmt.Errorf("saving task %d config: %w", cfg.TaskID, err)
	}
	return nil
}

// Load applies persisted polling times and active flags over the
// registered defaults. Tasks without a stored config keep their defaults.
func (s *ConfigStore) Load(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}
	for _, cfg := range s.All() {
		raw, found, err := s.kv.Get(ctx, configKeyPrefix+strconv.Itoa(cfg.TaskID))
		if err != nil {
			return fmt.Errorf("loading task %d config: %w", cfg.TaskID, err)
		}
		if !found {
			continue
		}
		var stored Config
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			return fmt.Errorf("decoding task %d config: %w", cfg.TaskID, err)
		}
		if _, err := s.apply(cfg.TaskID, stored.PollingTime, stored.Active); err != nil {
			return err
		}
	}
	return nil
}
