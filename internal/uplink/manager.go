package uplink

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/meshlink/internal/message"
)

// Status is the connection status of the uplink.
type Status int

// Connection statuses.
const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// State is a snapshot of the connection state.
type State struct {
	Status         Status
	SessionPresent bool
	BackoffAttempt uint32
}

// Stats are cumulative uplink counters.
type Stats struct {
	Published  uint64
	Acked      uint64
	Dropped    uint64
	Reconnects uint64
	Inflight   int
}

// Manager is the uplink connection manager. Create one with New.
type Manager struct {
	opts    Options
	session Session
	source  Source
	sink    InboundSink
	store   KeyValueStore
	clock   clock.Clock
	logger  Logger

	// Owned by the goroutine running Run (or the caller of Connect and
	// Publish when Run is not used).
	slots   *SlotTable
	backoff *Backoff
	lastID  uint16
	pending map[uint16]*operation

	stateMu sync.RWMutex
	state   State

	// subscriptions is the desired filter set, restored after every connect.
	subsMu        sync.RWMutex
	subscriptions map[string]struct{}

	// knownLocal stands in for the store when none is configured.
	knownLocal atomic.Bool

	ops      chan *operation
	done     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	inflight   atomic.Int64
	published  atomic.Uint64
	acked      atomic.Uint64
	dropped    atomic.Uint64
	reconnects atomic.Uint64
}

// New creates a Manager. Options.Session and Options.Source are required.
func New(opts Options) (*Manager, error) {
	if opts.Session == nil {
		return nil, errors.New("uplink: session is required")
	}
	if opts.Source == nil {
		return nil, errors.New("uplink: source queue is required")
	}
	if opts.QoS > 1 {
		return nil, ErrInvalidQoS
	}
	opts.applyDefaults()

	return &Manager{
		opts:          opts,
		session:       opts.Session,
		source:        opts.Source,
		sink:          opts.Sink,
		store:         opts.Store,
		clock:         opts.Clock,
		logger:        noopLogger{},
		slots:         NewSlotTable(opts.MaxInflight),
		backoff:       NewBackoff(opts.BaseDelay, opts.MaxDelay, opts.MaxAttempts),
		pending:       make(map[uint16]*operation),
		subscriptions: make(map[string]struct{}),
		ops:           make(chan *operation, defaultOpsBuffer),
		done:          make(chan struct{}),
	}, nil
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// State returns a snapshot of the connection state.
func (m *Manager) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// Status returns the connection status.
func (m *Manager) Status() Status {
	return m.State().Status
}

// IsConnected reports whether the session is up.
func (m *Manager) IsConnected() bool {
	return m.Status() == StatusConnected
}

// Stats returns the cumulative counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Published:  m.published.Load(),
		Acked:      m.acked.Load(),
		Dropped:    m.dropped.Load(),
		Reconnects: m.reconnects.Load(),
		Inflight:   int(m.inflight.Load()),
	}
}

// Subscriptions returns the filters restored after every connect.
func (m *Manager) Subscriptions() []string {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()
	out := make([]string, 0, len(m.subscriptions))
	for f := range m.subscriptions {
		out = append(out, f)
	}
	return out
}

func (m *Manager) setState(status Status, present bool) {
	m.stateMu.Lock()
	m.state.Status = status
	m.state.SessionPresent = present
	m.state.BackoffAttempt = uint32(m.backoff.Attempt()) //nolint:gosec // bounded by MaxAttempts
	m.stateMu.Unlock()
}

// =============================================================================
// Session lifecycle
// =============================================================================

// Connect opens the broker session, retrying with backoff.
//
// It returns nil once connected, the context error if ctx ends, or an error
// wrapping ErrBackoffExhausted when the cycle runs out of attempts.
func (m *Manager) Connect(ctx context.Context) error {
	m.backoff.Reset()
	for {
		m.setState(StatusConnecting, false)

		err := m.open(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			m.setState(StatusDisconnected, false)
			return ctx.Err()
		}

		delay, berr := m.backoff.Next()
		if berr != nil {
			m.setState(StatusDisconnected, false)
			return fmt.Errorf("%w: %w", berr, err)
		}
		m.logger.Warn("uplink connect failed, backing off",
			"error", err,
			"attempt", m.backoff.Attempt(),
			"delay", delay,
		)
		if !m.sleep(ctx, delay) {
			m.setState(StatusDisconnected, false)
			return ctx.Err()
		}
	}
}

// open performs one session-open attempt.
func (m *Manager) open(ctx context.Context) error {
	clean := !m.sessionKnown(ctx)

	octx, cancel := m.clock.WithTimeout(ctx, m.opts.ConnackTimeout)
	present, err := m.session.Open(octx, clean)
	cancel()
	if err != nil {
		_ = m.session.Close() //nolint:errcheck // best effort after failed open
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w after %v", ErrConnackTimeout, m.opts.ConnackTimeout)
		}
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	if err := m.afterOpen(ctx, present); err != nil {
		_ = m.session.Close() //nolint:errcheck // best effort after failed resume
		return err
	}

	m.rememberSession(ctx)
	m.backoff.Reset()
	m.setState(StatusConnected, present)
	m.logger.Info("uplink session open",
		"client_id", m.opts.ClientID,
		"clean", clean,
		"session_present", present,
		"inflight", m.slots.InUse(),
	)
	return nil
}

// afterOpen applies the resume policy and restores subscriptions.
func (m *Manager) afterOpen(ctx context.Context, present bool) error {
	if present {
		for _, s := range m.slots.Pending() {
			if err := m.session.Publish(ctx, s.PacketID, s.Message, s.QoS, true); err != nil {
				return fmt.Errorf("%w: resending packet %d: %w", ErrTransport, s.PacketID, err)
			}
			m.logger.Debug("resent in-flight publish", "packet_id", s.PacketID, "topic", s.Message.Topic())
		}
	} else if n := m.slots.Reset(); n > 0 {
		m.dropped.Add(uint64(n))
		m.logger.Warn("clean session, discarded in-flight publishes", "count", n)
	}
	m.inflight.Store(int64(m.slots.InUse()))

	filters := m.Subscriptions()
	if len(filters) == 0 {
		return nil
	}
	op := newOperation(opSubscribe, filters)
	op.internal = true
	return m.startOp(ctx, op)
}

// disconnect tears the session down after a failure.
func (m *Manager) disconnect(cause error) {
	m.setState(StatusDisconnected, false)
	if err := m.session.Close(); err != nil {
		m.logger.Debug("closing session", "error", err)
	}
	for id, op := range m.pending {
		op.complete(nil, fmt.Errorf("%w: %w", ErrNotConnected, cause))
		delete(m.pending, id)
	}
	m.reconnects.Add(1)
}

func (m *Manager) sessionKey() string {
	return sessionKeyPrefix + m.opts.ClientID
}

// sessionKnown reports whether a broker session is believed to exist.
func (m *Manager) sessionKnown(ctx context.Context) bool {
	if m.store == nil {
		return m.knownLocal.Load()
	}
	v, found, err := m.store.Get(ctx, m.sessionKey())
	if err != nil {
		m.logger.Warn("reading session flag, assuming clean session", "error", err)
		return false
	}
	return found && v == "1"
}

func (m *Manager) rememberSession(ctx context.Context) {
	m.knownLocal.Store(true)
	if m.store == nil {
		return
	}
	if err := m.store.Set(ctx, m.sessionKey(), "1"); err != nil {
		m.logger.Warn("persisting session flag", "error", err)
	}
}

// =============================================================================
// Publishing
// =============================================================================

// Publish transmits msg.
//
// QoS 1 publishes take a slot and a fresh packet id; with every slot taken it
// returns ErrNoFreeSlot and leaves the table untouched. QoS 0 publishes bypass
// the table. Publish must only be called from the goroutine that owns the
// manager (Run, or a caller not using Run).
func (m *Manager) Publish(ctx context.Context, msg message.Message, qos byte) error {
	if qos > 1 {
		return ErrInvalidQoS
	}
	if !m.IsConnected() {
		return ErrNotConnected
	}

	if qos == 0 {
		if err := m.session.Publish(ctx, 0, msg, 0, false); err != nil {
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
		m.published.Add(1)
		return nil
	}

	if !m.slots.HasFree() {
		return ErrNoFreeSlot
	}
	id, err := m.nextPacketID()
	if err != nil {
		return err
	}
	if err := m.session.Publish(ctx, id, msg, qos, false); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if err := m.slots.Store(id, msg, qos); err != nil {
		return err
	}

	m.inflight.Store(int64(m.slots.InUse()))
	m.published.Add(1)
	return nil
}

// nextPacketID returns an identifier that is neither in flight nor pending.
func (m *Manager) nextPacketID() (uint16, error) {
	for i := 0; i < math.MaxUint16; i++ {
		m.lastID++
		if m.lastID == freeSlot {
			m.lastID = 1
		}
		if m.slots.Contains(m.lastID) {
			continue
		}
		if _, busy := m.pending[m.lastID]; busy {
			continue
		}
		return m.lastID, nil
	}
	return 0, ErrNoPacketID
}

// =============================================================================
// Subscriptions
// =============================================================================

// Subscribe adds filters to the session and waits for the SUBACK, at most
// Options.AckTimeout. Filters stay in the restore set even when the wait
// times out; a filter refused by the broker is removed.
func (m *Manager) Subscribe(ctx context.Context, filters ...string) error {
	if len(filters) == 0 {
		return nil
	}
	m.trackSubscriptions(filters, true)
	return m.submit(ctx, newOperation(opSubscribe, filters))
}

// Unsubscribe removes filters and waits for the UNSUBACK.
func (m *Manager) Unsubscribe(ctx context.Context, filters ...string) error {
	if len(filters) == 0 {
		return nil
	}
	m.trackSubscriptions(filters, false)
	return m.submit(ctx, newOperation(opUnsubscribe, filters))
}

func (m *Manager) trackSubscriptions(filters []string, add bool) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, f := range filters {
		if add {
			m.subscriptions[f] = struct{}{}
		} else {
			delete(m.subscriptions, f)
		}
	}
}

// submit hands op to the run loop and waits for its completion.
func (m *Manager) submit(ctx context.Context, op *operation) error {
	ctx, cancel := m.clock.WithTimeout(ctx, m.opts.AckTimeout)
	defer cancel()

	select {
	case m.ops <- op:
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("queueing %s: %w", op.kind, ctx.Err())
	}

	select {
	case <-op.done:
		return op.err
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return op.wait(ctx)
	}
}

// drainOps starts every queued operation without blocking.
func (m *Manager) drainOps(ctx context.Context) error {
	for {
		select {
		case op := <-m.ops:
			if err := m.startOp(ctx, op); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// startOp assigns a packet id to op and sends it.
// Only transport failures are returned; they end the session.
func (m *Manager) startOp(ctx context.Context, op *operation) error {
	id, err := m.nextPacketID()
	if err != nil {
		op.complete(nil, err)
		return nil
	}
	m.pending[id] = op

	if op.kind == opSubscribe {
		err = m.session.Subscribe(ctx, id, op.filters, m.opts.QoS)
	} else {
		err = m.session.Unsubscribe(ctx, id, op.filters)
	}
	if err != nil {
		delete(m.pending, id)
		err = fmt.Errorf("%w: %s: %w", ErrTransport, op.kind, err)
		op.complete(nil, err)
		return err
	}
	return nil
}

// completeOperation resolves the pending operation an acknowledgement refers to.
func (m *Manager) completeOperation(ev Event) error {
	op, ok := m.pending[ev.PacketID]
	if !ok {
		m.logger.Warn("acknowledgement for unknown packet id", "kind", ev.Kind, "packet_id", ev.PacketID)
		return nil
	}
	delete(m.pending, ev.PacketID)

	want := EventSubAck
	if op.kind == opUnsubscribe {
		want = EventUnsubAck
	}
	if ev.Kind != want {
		err := fmt.Errorf("%w: %s received for %s packet %d", ErrProtocol, ev.Kind, op.kind, ev.PacketID)
		op.complete(nil, err)
		return err
	}

	var err error
	if op.kind == opSubscribe {
		var rejected []string
		for i, f := range op.filters {
			if i < len(ev.Granted) && ev.Granted[i] == QoSFailure {
				rejected = append(rejected, f)
			}
		}
		if len(rejected) > 0 {
			m.trackSubscriptions(rejected, false)
			err = fmt.Errorf("%w: %v", ErrSubscribeRejected, rejected)
			m.logger.Warn("broker rejected subscription", "filters", rejected)
		}
	}
	op.complete(ev.Granted, err)
	return nil
}

// =============================================================================
// Run loop
// =============================================================================

// Run drives the uplink until ctx is cancelled: connect with backoff, then
// repeatedly start queued operations, publish one queued message, service
// inbound events for Options.ProcessWindow, and pause for
// Options.LoopInterval. Session failures lead back to Connect.
//
// Run returns nil on cancellation. It may only be called once.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("uplink: Run called twice")
	}
	defer m.stop()

	for ctx.Err() == nil {
		if !m.IsConnected() {
			if err := m.Connect(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				m.logger.Error("uplink connect cycle failed", "error", err, "idle", m.opts.IdleDelay)
				m.sleep(ctx, m.opts.IdleDelay)
				continue
			}
		}

		if err := m.iterate(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.logger.Warn("uplink session lost", "error", err)
			m.disconnect(err)
		}
	}
	return nil
}

// iterate runs one pass of the uplink loop.
func (m *Manager) iterate(ctx context.Context) error {
	if err := m.drainOps(ctx); err != nil {
		return err
	}

	// Leave messages queued while every slot is busy.
	if m.opts.QoS == 0 || m.slots.HasFree() {
		if msg, ok := m.source.TryDequeue(); ok {
			if err := m.Publish(ctx, msg, m.opts.QoS); err != nil {
				if !errors.Is(err, message.ErrCapacity) {
					m.dropped.Add(1)
					return fmt.Errorf("publishing %s: %w", msg.Topic(), err)
				}
				m.dropped.Add(1)
				m.logger.Warn("publish dropped", "topic", msg.Topic(), "error", err)
			}
		}
	}

	if err := m.Process(ctx, m.opts.ProcessWindow); err != nil {
		return err
	}
	m.sleep(ctx, m.opts.LoopInterval)
	return nil
}

// Process services session events for at most window.
// It returns an error when the session must be torn down.
func (m *Manager) Process(ctx context.Context, window time.Duration) error {
	timer := m.clock.Timer(window)
	defer timer.Stop()

	events := m.session.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("%w: event stream closed", ErrTransport)
			}
			if err := m.handleEvent(ev); err != nil {
				return err
			}
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *Manager) handleEvent(ev Event) error {
	switch ev.Kind {
	case EventPubAck:
		if !m.slots.Release(ev.PacketID) {
			m.logger.Warn("puback for unknown packet id", "packet_id", ev.PacketID)
			return nil
		}
		m.acked.Add(1)
		m.inflight.Store(int64(m.slots.InUse()))
		return nil

	case EventSubAck, EventUnsubAck:
		return m.completeOperation(ev)

	case EventPublish:
		m.deliver(ev.Message)
		return nil

	case EventConnectionLost:
		if ev.Err == nil {
			return fmt.Errorf("%w: connection lost", ErrTransport)
		}
		return fmt.Errorf("%w: %w", ErrTransport, ev.Err)

	default:
		return fmt.Errorf("%w: unexpected event kind %d", ErrProtocol, ev.Kind)
	}
}

func (m *Manager) deliver(msg message.Message) {
	if m.sink == nil {
		m.logger.Debug("inbound publish without sink", "topic", msg.Topic())
		return
	}
	if err := m.sink.PushInbound(msg); err != nil {
		m.logger.Warn("inbound message dropped", "topic", msg.Topic(), "error", err)
	}
}

// sleep waits for d or ctx, reporting false if ctx ended.
func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-m.clock.After(d):
		return true
	}
}

// stop releases waiters and closes the session when Run exits.
func (m *Manager) stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		for id, op := range m.pending {
			op.complete(nil, ErrClosed)
			delete(m.pending, id)
		}
		m.setState(StatusDisconnected, false)
		if err := m.session.Close(); err != nil {
			m.logger.Debug("closing session on stop", "error", err)
		}
	})
}
