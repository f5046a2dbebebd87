package mqtt

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/meshlink/internal/message"
	"github.com/nerrad567/meshlink/internal/uplink"
)

// fakeMessage implements pahomqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingLogger struct {
	noopLogger
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) { l.errors = append(l.errors, msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.warns = append(l.warns, msg) }

func nextEvent(t *testing.T, s *Session) uplink.Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return uplink.Event{}
	}
}

func assertNoEvent(t *testing.T, s *Session) {
	t.Helper()
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event %v", ev.Kind)
	default:
	}
}

// =============================================================================
// Not connected
// =============================================================================

func TestSession_OperationsRequireConnection(t *testing.T) {
	s := NewSession(testConfig(), "")
	ctx := context.Background()
	msg, _ := message.NewString("/mesh/m/x", "{}")

	if err := s.Publish(ctx, 1, msg, 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := s.Subscribe(ctx, 2, []string{"/mesh/m/x"}, 1); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if err := s.Unsubscribe(ctx, 3, []string{"/mesh/m/x"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
	if err := s.Subscribe(ctx, 4, nil, 1); !errors.Is(err, ErrNoFilters) {
		t.Errorf("Subscribe(nil) error = %v, want ErrNoFilters", err)
	}
	if s.IsConnected() {
		t.Error("IsConnected() = true before Open")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestSession_OpenHonoursContext(t *testing.T) {
	cfg := testConfig()
	// TEST-NET-1 is unroutable, so the handshake cannot complete.
	cfg.Broker.Host = "192.0.2.1"
	cfg.ConnackTimeout = 5 * time.Second
	s := NewSession(cfg, "")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.Open(ctx, true)
	if err == nil {
		t.Fatal("Open() error = nil")
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("Open() ignored the context deadline (%v)", time.Since(start))
	}
}

// =============================================================================
// Generations
// =============================================================================

func TestSession_EmitCurrentGeneration(t *testing.T) {
	s := NewSession(testConfig(), "")
	s.mu.Lock()
	gen, gone := s.retire()
	s.mu.Unlock()

	s.emit(gen, gone, uplink.Event{Kind: uplink.EventPubAck, PacketID: 7})

	ev := nextEvent(t, s)
	if ev.Kind != uplink.EventPubAck || ev.PacketID != 7 {
		t.Errorf("event = %+v", ev)
	}
}

func TestSession_RetireDiscardsStaleEvents(t *testing.T) {
	s := NewSession(testConfig(), "")
	s.mu.Lock()
	oldGen, oldGone := s.retire()
	s.mu.Unlock()

	s.emit(oldGen, oldGone, uplink.Event{Kind: uplink.EventPubAck, PacketID: 1})

	s.mu.Lock()
	newGen, newGone := s.retire()
	s.mu.Unlock()

	// Queued before the retire: drained.
	assertNoEvent(t, s)

	// Emitted after the retire: ignored.
	s.emit(oldGen, oldGone, uplink.Event{Kind: uplink.EventConnectionLost})
	assertNoEvent(t, s)

	s.emit(newGen, newGone, uplink.Event{Kind: uplink.EventUnsubAck, PacketID: 2})
	if ev := nextEvent(t, s); ev.Kind != uplink.EventUnsubAck {
		t.Errorf("event = %+v", ev)
	}
}

func TestSession_RetireReleasesBlockedEmitters(t *testing.T) {
	s := NewSession(testConfig(), "")
	s.mu.Lock()
	gen, gone := s.retire()
	s.mu.Unlock()

	for i := 0; i < defaultEventBuffer; i++ {
		s.emit(gen, gone, uplink.Event{Kind: uplink.EventPubAck, PacketID: uint16(i + 1)})
	}

	released := make(chan struct{})
	go func() {
		s.emit(gen, gone, uplink.Event{Kind: uplink.EventPubAck})
		close(released)
	}()

	s.mu.Lock()
	s.retire()
	s.mu.Unlock()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("emitter still blocked after retire")
	}
	assertNoEvent(t, s)
}

// =============================================================================
// Inbound handler
// =============================================================================

func TestSession_WrapHandlerDelivers(t *testing.T) {
	s := NewSession(testConfig(), "")
	s.mu.Lock()
	gen, gone := s.retire()
	s.mu.Unlock()

	handler := s.wrapHandler(gen, gone)
	handler(nil, fakeMessage{topic: "/mesh/m/devices/AABBCCDDEEFF/relay", payload: []byte(`{"action":"read"}`)})

	ev := nextEvent(t, s)
	if ev.Kind != uplink.EventPublish {
		t.Fatalf("Kind = %v, want publish", ev.Kind)
	}
	if ev.Message.Topic() != "/mesh/m/devices/AABBCCDDEEFF/relay" || ev.Message.PayloadString() != `{"action":"read"}` {
		t.Errorf("Message = %v", ev.Message)
	}
}

func TestSession_WrapHandlerRejectsOversized(t *testing.T) {
	s := NewSession(testConfig(), "")
	logger := &recordingLogger{}
	s.SetLogger(logger)
	s.mu.Lock()
	gen, gone := s.retire()
	s.mu.Unlock()

	handler := s.wrapHandler(gen, gone)
	handler(nil, fakeMessage{topic: "/mesh/m/x", payload: []byte(strings.Repeat("x", 4096))})

	assertNoEvent(t, s)
	if len(logger.warns) != 1 {
		t.Errorf("warns = %v, want one rejection", logger.warns)
	}
}
