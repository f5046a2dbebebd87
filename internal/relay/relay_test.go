package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore { return &memStore{data: make(map[string]string)} }

func (s *memStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func testBank(store KeyValueStore, clk clock.Clock) (*Bank, *MemoryActuator) {
	act := NewMemoryActuator()
	return NewBank(Options{
		Relays:   []Spec{{ID: 2, Name: "pump"}, {ID: 1, Name: "light"}},
		Actuator: act,
		Store:    store,
		Clock:    clk,
	}), act
}

func TestBank_SetAndList(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	b, _ := testBank(store, nil)

	got, err := b.Set(ctx, 1, 1, 0)
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got != (Relay{ID: 1, Name: "light", State: 1}) {
		t.Errorf("Set() = %+v", got)
	}

	relays, err := b.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []Relay{{ID: 1, Name: "light", State: 1}, {ID: 2, Name: "pump", State: 0}}
	if len(relays) != len(want) {
		t.Fatalf("List() = %+v, want %+v", relays, want)
	}
	for i := range want {
		if relays[i] != want[i] {
			t.Errorf("List()[%d] = %+v, want %+v", i, relays[i], want[i])
		}
	}
	if v, _, _ := store.Get(ctx, "relay_state/1"); v != "1" {
		t.Errorf("persisted state = %q, want \"1\"", v)
	}
}

func TestBank_SetErrors(t *testing.T) {
	b, _ := testBank(nil, nil)
	tests := []struct {
		name    string
		id      int
		state   int
		wantErr error
	}{
		{"invalid state", 1, 2, ErrInvalidState},
		{"negative state", 1, -1, ErrInvalidState},
		{"unknown relay", 9, 1, ErrUnknownRelay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := b.Set(context.Background(), tt.id, tt.state, 0); !errors.Is(err, tt.wantErr) {
				t.Errorf("Set() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBank_Pulse(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	b, act := testBank(nil, mock)

	if _, err := b.Set(ctx, 2, 1, 3*time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if on, _ := act.Get(ctx, 2); !on {
		t.Fatal("relay not switched on")
	}

	mock.Add(3 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for {
		on, _ := act.Get(ctx, 2)
		if !on {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("pulse did not switch the relay off")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBank_SetCancelsPulse(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	b, act := testBank(nil, mock)

	if _, err := b.Set(ctx, 2, 1, time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := b.Set(ctx, 2, 1, 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	mock.Add(2 * time.Second)
	time.Sleep(10 * time.Millisecond)

	if on, _ := act.Get(ctx, 2); !on {
		t.Error("cancelled pulse still switched the relay off")
	}
}

func TestBank_ShortPulses(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	b, act := testBank(store, clock.New())
	defer b.Close()

	for i := 0; i < 500; i++ {
		if _, err := b.Set(ctx, 1, 1, time.Nanosecond); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		on, _ := act.Get(ctx, 1)
		v, _, _ := store.Get(ctx, "relay_state/1")
		if !on && v == "0" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("relay on = %v, persisted %q after the last pulse", on, v)
		}
		time.Sleep(time.Millisecond)
	}
}

// blockingStore holds every write until release is closed.
type blockingStore struct {
	*memStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingStore) Set(ctx context.Context, key, value string) error {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.memStore.Set(ctx, key, value)
}

func TestBank_SwitchesWhilePersisting(t *testing.T) {
	ctx := context.Background()
	store := &blockingStore{
		memStore: newMemStore(),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	b, act := testBank(store, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = b.Set(ctx, 1, 1, 0)
	}()
	<-store.entered

	go func() {
		defer wg.Done()
		_, _ = b.Set(ctx, 2, 1, 0)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if on, _ := act.Get(ctx, 2); on {
			break
		}
		if time.Now().After(deadline) {
			close(store.release)
			t.Fatal("relay 2 not switched while relay 1 was being persisted")
		}
		time.Sleep(time.Millisecond)
	}

	close(store.release)
	wg.Wait()
	for _, key := range []string{"relay_state/1", "relay_state/2"} {
		if v, _, _ := store.Get(ctx, key); v != "1" {
			t.Errorf("%s = %q, want \"1\"", key, v)
		}
	}
}

func TestBank_Restore(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	_ = store.Set(ctx, "relay_state/2", "1")

	b, act := testBank(store, nil)
	if err := b.Restore(ctx); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if on, _ := act.Get(ctx, 2); !on {
		t.Error("relay 2 not restored on")
	}
	if on, _ := act.Get(ctx, 1); on {
		t.Error("relay 1 switched on without stored state")
	}
}
