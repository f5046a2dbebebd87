// Package relay drives the node's switched outputs.
//
// A Bank owns a fixed set of relays behind an Actuator (GPIO on hardware,
// MemoryActuator elsewhere). States are persisted so they survive restarts,
// and a relay can be pulsed: switched on, then off again after a delay.
package relay

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const stateKeyPrefix = "relay_state/"

// Domain-specific errors for relay operations.
var (
	// ErrUnknownRelay is returned for a relay id that is not in the bank.
	ErrUnknownRelay = errors.New("relay: relay not found")

	// ErrInvalidState is returned for a state other than 0 or 1.
	ErrInvalidState = errors.New("relay: invalid state (must be 0 or 1)")
)

// Actuator switches physical outputs.
type Actuator interface {
	Set(ctx context.Context, id int, on bool) error
	Get(ctx context.Context, id int) (bool, error)
}

// KeyValueStore persists relay states.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
}

// Logger defines the logging interface used by the Bank.
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

// Spec names one relay of the bank.
type Spec struct {
	ID   int
	Name string
}

// Relay is the reported state of one relay.
type Relay struct {
	ID    int    `json:"relay_id"`
	Name  string `json:"name"`
	State int    `json:"state"`
}

// Options configures a Bank.
type Options struct {
	Relays   []Spec
	Actuator Actuator
	Store    KeyValueStore
	Clock    clock.Clock
}

// pulse is one armed switch-off. Its identity, not the timer, decides
// whether a firing timer still owns the relay.
type pulse struct {
	timer *clock.Timer
}

// Bank is a set of relays. Safe for concurrent use.
type Bank struct {
	mu     sync.Mutex
	specs  map[int]Spec
	order  []int
	act    Actuator
	clock  clock.Clock
	pulses map[int]*pulse
	states map[int]bool
	logger Logger

	// persistMu orders store writes; it is never held with mu.
	persistMu sync.Mutex
	kv        KeyValueStore
}

// NewBank creates a bank. Without an Actuator the relays are simulated
// in memory.
func NewBank(opts Options) *Bank {
	if opts.Actuator == nil {
		opts.Actuator = NewMemoryActuator()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	b := &Bank{
		specs:  make(map[int]Spec, len(opts.Relays)),
		act:    opts.Actuator,
		kv:     opts.Store,
		clock:  opts.Clock,
		pulses: make(map[int]*pulse),
		states: make(map[int]bool),
		logger: noopLogger{},
	}
	for _, s := range opts.Relays {
		if _, dup := b.specs[s.ID]; dup {
			continue
		}
		b.specs[s.ID] = s
		b.order = append(b.order, s.ID)
	}
	slices.Sort(b.order)
	return b
}

// SetLogger sets the logger for the bank.
func (b *Bank) SetLogger(logger Logger) {
	b.logger = logger
}

// Restore applies persisted states to the actuator.
func (b *Bank) Restore(ctx context.Context) error {
	if b.kv == nil {
		return nil
	}
	for _, id := range b.order {
		v, found, err := b.kv.Get(ctx, stateKey(id))
		if err != nil {
			return fmt.Errorf("loading relay %d state: %w", id, err)
		}
		if !found {
			continue
		}
		b.mu.Lock()
		err = b.switchLocked(ctx, id, v == "1")
		b.mu.Unlock()
		if err != nil {
			return fmt.Errorf("restoring relay %d: %w", id, err)
		}
	}
	return nil
}

// List returns every relay with its current state, ordered by id.
func (b *Bank) List(ctx context.Context) ([]Relay, error) {
	out := make([]Relay, 0, len(b.order))
	for _, id := range b.order {
		on, err := b.act.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("reading relay %d: %w", id, err)
		}
		out = append(out, Relay{ID: id, Name: b.specs[id].Name, State: boolToState(on)})
	}
	return out, nil
}

// Set switches relay id to state (0 or 1). A positive onTime with state 1
// pulses the relay: it is switched off again after onTime. Any pending pulse
// on the relay is cancelled.
func (b *Bank) Set(ctx context.Context, id, state int, onTime time.Duration) (Relay, error) {
	if state != 0 && state != 1 {
		return Relay{}, fmt.Errorf("%w: %d", ErrInvalidState, state)
	}
	spec, ok := b.specs[id]
	if !ok {
		return Relay{}, fmt.Errorf("%w: %d", ErrUnknownRelay, id)
	}

	b.mu.Lock()
	if p, pending := b.pulses[id]; pending {
		p.timer.Stop()
		delete(b.pulses, id)
	}
	if err := b.switchLocked(ctx, id, state == 1); err != nil {
		b.mu.Unlock()
		return Relay{}, err
	}
	if state == 1 && onTime > 0 {
		p := &pulse{}
		p.timer = b.clock.AfterFunc(onTime, func() { b.endPulse(id, p) })
		b.pulses[id] = p
	}
	b.mu.Unlock()

	b.persist(ctx, id)
	return Relay{ID: id, Name: spec.Name, State: state}, nil
}

// endPulse switches id off unless p was replaced or cancelled.
func (b *Bank) endPulse(id int, p *pulse) {
	b.mu.Lock()
	if b.pulses[id] != p {
		b.mu.Unlock()
		return
	}
	delete(b.pulses, id)
	err := b.switchLocked(context.Background(), id, false)
	b.mu.Unlock()
	if err != nil {
		b.logger.Error("ending relay pulse", "relay_id", id, "error", err)
		return
	}

	b.persist(context.Background(), id)
	b.logger.Info("relay pulse ended", "relay_id", id)
}

func (b *Bank) switchLocked(ctx context.Context, id int, on bool) error {
	if err := b.act.Set(ctx, id, on); err != nil {
		return fmt.Errorf("switching relay %d: %w", id, err)
	}
	b.states[id] = on
	return nil
}

// persist writes the latest commanded state of id. Writers are serialised
// and each reads the state after taking its turn, so the store ends on the
// last switch even when writes finish out of order.
func (b *Bank) persist(ctx context.Context, id int) {
	if b.kv == nil {
		return
	}
	b.persistMu.Lock()
	defer b.persistMu.Unlock()

	b.mu.Lock()
	on := b.states[id]
	b.mu.Unlock()

	if err := b.kv.Set(ctx, stateKey(id), strconv.Itoa(boolToState(on))); err != nil {
		b.logger.Warn("persisting relay state", "relay_id", id, "error", err)
	}
}

// Close cancels pending pulses.
func (b *Bank) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, p := range b.pulses {
		p.timer.Stop()
		delete(b.pulses, id)
	}
}

func stateKey(id int) string { return stateKeyPrefix + strconv.Itoa(id) }

func boolToState(on bool) int {
	if on {
		return 1
	}
	return 0
}

// MemoryActuator keeps relay states in memory.
type MemoryActuator struct {
	mu     sync.Mutex
	states map[int]bool
}

// NewMemoryActuator returns an actuator with every relay off.
func NewMemoryActuator() *MemoryActuator {
	return &MemoryActuator{states: make(map[int]bool)}
}

// Set records the state of relay id.
func (a *MemoryActuator) Set(_ context.Context, id int, on bool) error {
	a.mu.Lock()
	a.states[id] = on
	a.mu.Unlock()
	return nil
}

// Get returns the state of relay id.
func (a *MemoryActuator) Get(_ context.Context, id int) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.states[id], nil
}
