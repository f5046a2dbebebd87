// Package subscription routes inbound broker messages to per-topic handlers.
//
// Each registered topic owns a small bounded queue and one Handler. The uplink
// pushes inbound messages with PushInbound; Run drains the queues and invokes
// handlers on a bounded worker pool, at most one message per topic at a time
// so a topic's messages are handled in arrival order.
package subscription

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/meshlink/internal/lockutil"
	"github.com/nerrad567/meshlink/internal/message"
)

// Defaults for Options fields left at zero.
const (
	DefaultQueueCapacity = 3
	DefaultWorkers       = 4

	defaultHandlerTimeout = 5 * time.Second
	defaultLockTimeout    = 500 * time.Millisecond
	defaultSweepInterval  = 100 * time.Millisecond
)

// Handler processes one inbound message.
type Handler interface {
	Handle(ctx context.Context, msg message.Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg message.Message) error

// Handle calls f(ctx, msg).
func (f HandlerFunc) Handle(ctx context.Context, msg message.Message) error {
	return f(ctx, msg)
}

// Entry is a registered topic: its inbound queue and handler.
type Entry struct {
	topic   string
	queue   chan message.Message
	handler Handler

	// busy is set while a message of this topic is being handled.
	busy atomic.Bool
}

// Topic returns the entry's topic.
func (e *Entry) Topic() string { return e.topic }

// Pending returns the number of queued messages.
func (e *Entry) Pending() int { return len(e.queue) }

// Handler returns the entry's handler.
func (e *Entry) Handler() Handler { return e.handler }

// Logger defines the logging interface used by the Registry.
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

// Options configures a Registry.
type Options struct {
	// QueueCapacity bounds each topic's inbound queue. Default: 3.
	QueueCapacity int

	// Workers bounds concurrent handler invocations. Default: 4.
	Workers int

	// HandlerTimeout bounds each handler call's context. Default: 5s.
	HandlerTimeout time.Duration

	// LockTimeout bounds registry lock acquisition. Default: 500ms.
	LockTimeout time.Duration

	// SweepInterval is the dispatch loop's idle poll period. Default: 100ms.
	SweepInterval time.Duration

	// Clock drives the dispatch loop. Default: wall clock.
	Clock clock.Clock
}

// Stats are cumulative registry counters.
type Stats struct {
	Delivered uint64
	Dropped   uint64
	Unknown   uint64
	Rejected  uint64
	Failed    uint64
	Panics    uint64
}

// Registry maps topics to entries. Safe for concurrent use.
type Registry struct {
	opts    Options
	mu      *lockutil.TimedMutex
	entries map[string]*Entry
	notify  chan struct{}
	logger  Logger

	delivered atomic.Uint64
	dropped   atomic.Uint64
	unknown   atomic.Uint64
	rejected  atomic.Uint64
	failed    atomic.Uint64
	panics    atomic.Uint64
}

// New creates an empty Registry.
func New(opts Options) *Registry {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = DefaultQueueCapacity
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = defaultHandlerTimeout
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Registry{
		opts:    opts,
		mu:      lockutil.New(),
		entries: make(map[string]*Entry),
		notify:  make(chan struct{}, 1),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

func (r *Registry) lock() error {
	if err := r.mu.Lock(r.opts.LockTimeout); err != nil {
		return fmt.Errorf("subscription registry: %w", err)
	}
	return nil
}

// AddTopic registers handler for topic.
// Adding a topic that already exists logs it and leaves the entry untouched.
func (r *Registry) AddTopic(topic string, handler Handler) error {
	if topic == "" {
		return message.ErrEmptyTopic
	}
	if handler == nil {
		return ErrNilHandler
	}
	if err := r.lock(); err != nil {
		return err
	}
	defer r.mu.Unlock()

	if _, exists := r.entries[topic]; exists {
		r.logger.Info("topic already registered", "topic", topic)
		return nil
	}
	r.entries[topic] = &Entry{
		topic:   topic,
		queue:   make(chan message.Message, r.opts.QueueCapacity),
		handler: handler,
	}
	r.logger.Debug("topic registered", "topic", topic)
	return nil
}

// Find returns the entry for topic.
func (r *Registry) Find(topic string) (*Entry, bool) {
	if err := r.lock(); err != nil {
		r.logger.Warn("find topic", "topic", topic, "error", err)
		return nil, false
	}
	defer r.mu.Unlock()
	e, ok := r.entries[topic]
	return e, ok
}

// DeleteTopic removes topic and discards its queued messages.
// It reports whether the topic was registered.
func (r *Registry) DeleteTopic(topic string) (bool, error) {
	if err := r.lock(); err != nil {
		return false, err
	}
	defer r.mu.Unlock()
	if _, ok := r.entries[topic]; !ok {
		return false, nil
	}
	delete(r.entries, topic)
	return true, nil
}

// Topics returns the registered topics in sorted order.
func (r *Registry) Topics() ([]string, error) {
	if err := r.lock(); err != nil {
		return nil, err
	}
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for t := range r.entries {
		out = append(out, t)
	}
	slices.Sort(out)
	return out, nil
}

// PushInbound queues msg on its topic's entry without blocking.
func (r *Registry) PushInbound(msg message.Message) error {
	e, ok := r.Find(msg.Topic())
	if !ok {
		r.unknown.Add(1)
		return fmt.Errorf("%w: %s", ErrUnknownTopic, msg.Topic())
	}
	select {
	case e.queue <- msg:
	default:
		r.dropped.Add(1)
		return fmt.Errorf("%w: %s", ErrQueueFull, msg.Topic())
	}
	r.signal()
	return nil
}

// Stats returns the cumulative counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Delivered: r.delivered.Load(),
		Dropped:   r.dropped.Load(),
		Unknown:   r.unknown.Load(),
		Rejected:  r.rejected.Load(),
		Failed:    r.failed.Load(),
		Panics:    r.panics.Load(),
	}
}

func (r *Registry) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// snapshot returns the current entries.
func (r *Registry) snapshot() []*Entry {
	if err := r.lock(); err != nil {
		r.logger.Warn("dispatch snapshot", "error", err)
		return nil
	}
	defer r.mu.Unlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}
