package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/meshlink/internal/infrastructure/config"
	"github.com/nerrad567/meshlink/internal/message"
	"github.com/nerrad567/meshlink/internal/uplink"
)

// Logger defines the logging interface used by Session.
// Compatible with logging.Logger and slog.Logger.
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

// Session is a paho-backed uplink.Session.
//
// Each Open builds a new paho client, so broker-side session state is the
// only thing carried between connections. paho assigns its own wire packet
// identifiers; Session maps every completed token back to the identifier the
// uplink manager chose, and reports it on the Events channel.
//
// Events from a torn-down connection are discarded: every Open and Close
// starts a new generation, and emitters of older generations are released
// and ignored.
type Session struct {
	cfg         config.MQTTConfig
	statusTopic string
	events      chan uplink.Event

	mu     sync.Mutex // guards client
	client pahomqtt.Client

	emitMu sync.RWMutex // guards gen and gone
	gen    uint64
	gone   chan struct{}

	loggerMu sync.RWMutex
	logger   Logger
}

var _ uplink.Session = (*Session)(nil)

// NewSession creates a Session for cfg. When statusTopic is set the session
// registers a retained offline will there and announces itself online after
// every successful Open.
func NewSession(cfg config.MQTTConfig, statusTopic string) *Session {
	return &Session{
		cfg:         cfg,
		statusTopic: statusTopic,
		events:      make(chan uplink.Event, defaultEventBuffer),
		gone:        make(chan struct{}),
		logger:      noopLogger{},
	}
}

// SetLogger sets the logger for connection and handler diagnostics.
func (s *Session) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *Session) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// Events implements uplink.Session.
func (s *Session) Events() <-chan uplink.Event {
	return s.events
}

// Open implements uplink.Session. It replaces any previous connection.
func (s *Session) Open(ctx context.Context, clean bool) (bool, error) {
	s.mu.Lock()
	old := s.client
	s.client = nil
	gen, gone := s.retire()
	s.mu.Unlock()

	if old != nil {
		old.Disconnect(0)
	}

	opts := buildClientOptions(s.cfg, clean)
	configureLWT(opts, s.statusTopic, s.cfg.Broker.ClientID)
	opts.SetDefaultPublishHandler(s.wrapHandler(gen, gone))
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.emit(gen, gone, uplink.Event{Kind: uplink.EventConnectionLost, Err: err})
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return false, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return false, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	present := false
	if ct, ok := token.(*pahomqtt.ConnectToken); ok {
		present = ct.SessionPresent()
	}

	s.mu.Lock()
	if s.currentGen() != gen {
		s.mu.Unlock()
		client.Disconnect(0)
		return false, ErrClosed
	}
	s.client = client
	s.mu.Unlock()

	if s.statusTopic != "" {
		client.Publish(s.statusTopic, 1, true, buildStatusPayload("online", s.cfg.Broker.ClientID, ""))
	}

	s.getLogger().Info("mqtt connected",
		"broker", s.cfg.BrokerURL(),
		"clean", clean,
		"session_present", present,
	)
	return present, nil
}

// Publish implements uplink.Session. paho cannot set the DUP flag on a
// publish it did not originate, so retransmissions go out as new publishes
// carrying the same payload.
func (s *Session) Publish(_ context.Context, packetID uint16, msg message.Message, qos byte, dup bool) error {
	client, gen, gone := s.current()
	if client == nil {
		return ErrNotConnected
	}
	if dup {
		s.getLogger().Debug("retransmitting publish", "packet_id", packetID, "topic", msg.Topic())
	}

	token := client.Publish(msg.Topic(), qos, false, msg.Payload())
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: %w", ErrPublishFailed, err)
		}
		if qos == 0 {
			return nil
		}
	default:
		if qos == 0 {
			return nil
		}
	}

	go s.awaitPubAck(gen, gone, token, packetID)
	return nil
}

func (s *Session) awaitPubAck(gen uint64, gone <-chan struct{}, token pahomqtt.Token, packetID uint16) {
	select {
	case <-token.Done():
	case <-gone:
		return
	}
	if err := token.Error(); err != nil {
		s.emit(gen, gone, uplink.Event{
			Kind: uplink.EventConnectionLost,
			Err:  fmt.Errorf("%w: packet %d: %w", ErrPublishFailed, packetID, err),
		})
		return
	}
	s.emit(gen, gone, uplink.Event{Kind: uplink.EventPubAck, PacketID: packetID})
}

// Subscribe implements uplink.Session. Inbound publishes for the filters
// arrive through the default publish handler as EventPublish.
func (s *Session) Subscribe(_ context.Context, packetID uint16, filters []string, qos byte) error {
	if len(filters) == 0 {
		return ErrNoFilters
	}
	client, gen, gone := s.current()
	if client == nil {
		return ErrNotConnected
	}

	req := make(map[string]byte, len(filters))
	for _, f := range filters {
		req[f] = qos
	}
	token := client.SubscribeMultiple(req, nil)

	go func() {
		select {
		case <-token.Done():
		case <-gone:
			return
		}

		var result map[string]byte
		if st, ok := token.(*pahomqtt.SubscribeToken); ok {
			result = st.Result()
		}
		if err := token.Error(); err != nil && len(result) == 0 {
			s.emit(gen, gone, uplink.Event{
				Kind: uplink.EventConnectionLost,
				Err:  fmt.Errorf("%w: %w", ErrSubscribeFailed, err),
			})
			return
		}

		granted := make([]byte, len(filters))
		for i, f := range filters {
			code, ok := result[f]
			if !ok {
				code = uplink.QoSFailure
			}
			granted[i] = code
		}
		s.emit(gen, gone, uplink.Event{Kind: uplink.EventSubAck, PacketID: packetID, Granted: granted})
	}()
	return nil
}

// Unsubscribe implements uplink.Session.
func (s *Session) Unsubscribe(_ context.Context, packetID uint16, filters []string) error {
	if len(filters) == 0 {
		return ErrNoFilters
	}
	client, gen, gone := s.current()
	if client == nil {
		return ErrNotConnected
	}

	token := client.Unsubscribe(filters...)

	go func() {
		select {
		case <-token.Done():
		case <-gone:
			return
		}
		if err := token.Error(); err != nil {
			s.emit(gen, gone, uplink.Event{
				Kind: uplink.EventConnectionLost,
				Err:  fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err),
			})
			return
		}
		s.emit(gen, gone, uplink.Event{Kind: uplink.EventUnsubAck, PacketID: packetID})
	}()
	return nil
}

// Close implements uplink.Session. A graceful offline status is published
// before disconnecting so the retained will is overwritten.
func (s *Session) Close() error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.retire()
	s.mu.Unlock()

	if client == nil {
		return nil
	}

	if s.statusTopic != "" && client.IsConnected() {
		token := client.Publish(s.statusTopic, 1, true,
			buildStatusPayload("offline", s.cfg.Broker.ClientID, "graceful_shutdown"))
		token.WaitTimeout(defaultStatusTimeout)
	}
	client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

// IsConnected reports whether the current paho client is connected.
func (s *Session) IsConnected() bool {
	client, _, _ := s.current()
	return client != nil && client.IsConnected()
}

// current returns the live client with its generation.
func (s *Session) current() (pahomqtt.Client, uint64, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitMu.RLock()
	defer s.emitMu.RUnlock()
	return s.client, s.gen, s.gone
}

func (s *Session) currentGen() uint64 {
	s.emitMu.RLock()
	defer s.emitMu.RUnlock()
	return s.gen
}

// retire ends the current generation. Blocked emitters are released, events
// they already queued are discarded, and the new generation is returned.
// Callers hold s.mu.
func (s *Session) retire() (uint64, chan struct{}) {
	close(s.gone)

	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	for {
		select {
		case <-s.events:
			continue
		default:
		}
		break
	}
	s.gen++
	s.gone = make(chan struct{})
	return s.gen, s.gone
}

// emit forwards ev unless its generation has been retired.
func (s *Session) emit(gen uint64, gone <-chan struct{}, ev uplink.Event) {
	s.emitMu.RLock()
	defer s.emitMu.RUnlock()
	if gen != s.gen {
		return
	}
	select {
	case s.events <- ev:
	case <-gone:
	}
}

// wrapHandler converts inbound paho messages into EventPublish with panic
// recovery.
func (s *Session) wrapHandler(gen uint64, gone <-chan struct{}) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				s.getLogger().Error("MQTT handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()

		m, err := message.New(msg.Topic(), msg.Payload())
		if err != nil {
			s.getLogger().Warn("inbound message rejected",
				"topic", msg.Topic(),
				"error", err,
			)
			return
		}

		s.emit(gen, gone, uplink.Event{Kind: uplink.EventPublish, Message: m})
	}
}
