//go:build integration

package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/meshlink/internal/infrastructure/config"
	"github.com/nerrad567/meshlink/internal/message"
	"github.com/nerrad567/meshlink/internal/uplink"
)

// Integration tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS:            1,
		ConnackTimeout: 2 * time.Second,
	}
}

func openSession(t *testing.T, clientID string) *Session {
	t.Helper()
	s := NewSession(integrationConfig(clientID), "")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := s.Open(ctx, true); err != nil {
		t.Skipf("broker unavailable: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func awaitKind(t *testing.T, s *Session, kind uplink.EventKind) uplink.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %v event", kind)
		}
	}
}

func TestIntegration_SubscribePublishAck(t *testing.T) {
	s := openSession(t, "meshlink-int-roundtrip")
	ctx := context.Background()
	topic := "/mesh/int/devices/AABBCCDDEEFF/sensor/temperature"

	if err := s.Subscribe(ctx, 10, []string{topic}, 1); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	sub := awaitKind(t, s, uplink.EventSubAck)
	if sub.PacketID != 10 || len(sub.Granted) != 1 || sub.Granted[0] == uplink.QoSFailure {
		t.Fatalf("suback = %+v", sub)
	}

	msg, _ := message.NewString(topic, `{"sensor_value":21.5}`)
	if err := s.Publish(ctx, 11, msg, 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	ack := awaitKind(t, s, uplink.EventPubAck)
	if ack.PacketID != 11 {
		t.Errorf("puback id = %d, want 11", ack.PacketID)
	}
	in := awaitKind(t, s, uplink.EventPublish)
	if in.Message.PayloadString() != `{"sensor_value":21.5}` {
		t.Errorf("inbound payload = %q", in.Message.PayloadString())
	}
}

func TestIntegration_UnsubscribeAck(t *testing.T) {
	s := openSession(t, "meshlink-int-unsub")
	ctx := context.Background()

	if err := s.Unsubscribe(ctx, 5, []string{"/mesh/int/config"}); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if ev := awaitKind(t, s, uplink.EventUnsubAck); ev.PacketID != 5 {
		t.Errorf("unsuback id = %d, want 5", ev.PacketID)
	}
}
