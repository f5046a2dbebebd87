package mesh

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

var (
	addrA = Address{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x01}
	addrB = Address{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x02}
	addrC = Address{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x03}
)

// =============================================================================
// Test doubles
// =============================================================================

type delivery struct {
	from  Address
	frame []byte
}

// fakeNet connects fakeLinks in memory.
type fakeNet struct {
	mu      sync.Mutex
	inboxes map[Address]chan delivery
}

func newFakeNet() *fakeNet {
	return &fakeNet{inboxes: make(map[Address]chan delivery)}
}

func (n *fakeNet) link(self Address) *fakeLink {
	n.mu.Lock()
	defer n.mu.Unlock()
	inbox := make(chan delivery, 16)
	n.inboxes[self] = inbox
	return &fakeLink{net: n, self: self, inbox: inbox, failTo: make(map[Address]bool)}
}

type sentFrame struct {
	to    Address
	frame []byte
}

type fakeLink struct {
	net   *fakeNet
	self  Address
	inbox chan delivery

	mu     sync.Mutex
	root   bool
	table  []Address
	failTo map[Address]bool
	sent   []sentFrame
}

func (l *fakeLink) Send(_ context.Context, to Address, frame []byte) error {
	l.mu.Lock()
	fail := l.failTo[to]
	if !fail {
		l.sent = append(l.sent, sentFrame{to: to, frame: bytes.Clone(frame)})
	}
	l.mu.Unlock()
	if fail {
		return errors.New("no route to peer")
	}

	l.net.mu.Lock()
	inbox, ok := l.net.inboxes[to]
	l.net.mu.Unlock()
	if ok {
		select {
		case inbox <- delivery{from: l.self, frame: bytes.Clone(frame)}:
		default:
		}
	}
	return nil
}

func (l *fakeLink) Receive(ctx context.Context) (Address, []byte, error) {
	select {
	case d := <-l.inbox:
		return d.from, d.frame, nil
	case <-ctx.Done():
		return Address{}, nil, ctx.Err()
	}
}

func (l *fakeLink) IsRoot() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.root
}

func (l *fakeLink) RoutingTable() ([]Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.table), nil
}

func (l *fakeLink) sentFrames() []sentFrame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.sent)
}

// =============================================================================
// Address and frame codec
// =============================================================================

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    Address
		wantErr bool
	}{
		{"AA:BB:CC:DD:EE:01", addrA, false},
		{"aa-bb-cc-dd-ee-02", addrB, false},
		{"AABBCCDDEE03", addrC, false},
		{"AABBCCDDEE", Address{}, true},
		{"ZZBBCCDDEE03", Address{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAddress() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidAddress) {
				t.Errorf("ParseAddress() error = %v, want ErrInvalidAddress", err)
			}
			if got != tt.want {
				t.Errorf("ParseAddress() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAddress_Formats(t *testing.T) {
	if got := addrA.String(); got != "AA:BB:CC:DD:EE:01" {
		t.Errorf("String() = %q", got)
	}
	if got := addrA.Hex(); got != "AABBCCDDEE01" {
		t.Errorf("Hex() = %q", got)
	}
}

func TestRoutingTableFrame_RoundTrip(t *testing.T) {
	for _, table := range [][]Address{
		{},
		{addrA},
		{addrA, addrB, addrC},
	} {
		frame := EncodeRoutingTable(table)
		if (len(frame)-1)%AddressLen != 0 || frame[0] != TagRoutingTable {
			t.Fatalf("EncodeRoutingTable() = % x, malformed", frame)
		}
		got, err := DecodeRoutingTable(frame, DefaultMaxPeers)
		if err != nil {
			t.Fatalf("DecodeRoutingTable() error = %v", err)
		}
		if !slices.Equal(got, table) {
			t.Errorf("round trip = %v, want %v", got, table)
		}
	}
}

func TestDecodeRoutingTable_Invalid(t *testing.T) {
	valid := EncodeRoutingTable([]Address{addrA, addrB})
	tests := []struct {
		name     string
		frame    []byte
		maxPeers int
	}{
		{"empty", nil, 0},
		{"wrong tag", append([]byte{0x57}, valid[1:]...), 0},
		{"short address", valid[:len(valid)-1], 0},
		{"too many peers", valid, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeRoutingTable(tt.frame, tt.maxPeers); !errors.Is(err, ErrInvalidFrame) {
				t.Errorf("DecodeRoutingTable() error = %v, want ErrInvalidFrame", err)
			}
		})
	}
}

// =============================================================================
// Sync
// =============================================================================

func TestHandleFrame_InvalidLeavesTableUnchanged(t *testing.T) {
	s := NewSync(newFakeNet().link(addrA), Options{})
	if err := s.HandleFrame(addrB, EncodeRoutingTable([]Address{addrA, addrB})); err != nil {
		t.Fatalf("HandleFrame() error = %v", err)
	}

	bad := [][]byte{
		{0x56, 1, 2, 3},
		{0x01, 1, 2, 3, 4, 5, 6},
		{},
	}
	for _, frame := range bad {
		if err := s.HandleFrame(addrB, frame); !errors.Is(err, ErrInvalidFrame) {
			t.Errorf("HandleFrame(% x) error = %v, want ErrInvalidFrame", frame, err)
		}
	}

	if got := s.Table(); !slices.Equal(got, []Address{addrA, addrB}) {
		t.Errorf("Table() = %v, want unchanged [A B]", got)
	}
	if got := s.Stats().InvalidFrames; got != 3 {
		t.Errorf("InvalidFrames = %d, want 3", got)
	}
}

func TestBroadcast_RootSendsFullTableToEachPeer(t *testing.T) {
	net := newFakeNet()
	root := net.link(Address{0x01})
	root.root = true
	root.table = []Address{addrA, addrB, addrC}
	peerA := net.link(addrA)
	net.link(addrB)
	net.link(addrC)

	s := NewSync(root, Options{})
	if err := s.Broadcast(context.Background()); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}

	want := []byte{0x56}
	for _, a := range []Address{addrA, addrB, addrC} {
		want = append(want, a[:]...)
	}
	sent := root.sentFrames()
	if len(sent) != 3 {
		t.Fatalf("sent %d frames, want 3", len(sent))
	}
	for i, to := range []Address{addrA, addrB, addrC} {
		if sent[i].to != to {
			t.Errorf("frame %d sent to %v, want %v", i, sent[i].to, to)
		}
		if !bytes.Equal(sent[i].frame, want) {
			t.Errorf("frame %d = % x, want % x", i, sent[i].frame, want)
		}
	}

	// Peer A applies what it received.
	peer := NewSync(peerA, Options{})
	from, frame, err := peerA.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if err := peer.HandleFrame(from, frame); err != nil {
		t.Fatalf("HandleFrame() error = %v", err)
	}
	if got := peer.Table(); !slices.Equal(got, []Address{addrA, addrB, addrC}) {
		t.Errorf("peer Table() = %v, want [A B C]", got)
	}
}

func TestBroadcast_NotRootIsIdle(t *testing.T) {
	link := newFakeNet().link(addrA)
	link.table = []Address{addrA, addrB}
	s := NewSync(link, Options{})

	if err := s.Broadcast(context.Background()); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	if n := len(link.sentFrames()); n != 0 {
		t.Errorf("non-root sent %d frames", n)
	}
}

func TestBroadcast_SendFailureDoesNotStopCycle(t *testing.T) {
	net := newFakeNet()
	root := net.link(Address{0x01})
	root.root = true
	root.table = []Address{addrA, addrB, addrC}
	root.failTo[addrB] = true

	s := NewSync(root, Options{})
	if err := s.Broadcast(context.Background()); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}

	sent := root.sentFrames()
	if len(sent) != 2 || sent[0].to != addrA || sent[1].to != addrC {
		t.Errorf("sent = %+v, want frames to A and C", sent)
	}
	stats := s.Stats()
	if stats.SendFailures != 1 || stats.FramesSent != 2 {
		t.Errorf("Stats() = %+v, want 1 failure 2 sent", stats)
	}
}

func TestRun_PeerTracksRoot(t *testing.T) {
	net := newFakeNet()
	root := net.link(Address{0x01})
	root.root = true
	root.table = []Address{addrA, addrB}
	peerA := net.link(addrA)
	net.link(addrB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rootSync := NewSync(root, Options{Interval: 10 * time.Millisecond})
	peerSync := NewSync(peerA, Options{})
	errs := make(chan error, 2)
	go func() { errs <- rootSync.Run(ctx) }()
	go func() { errs <- peerSync.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !slices.Equal(peerSync.Table(), []Address{addrA, addrB}) {
		if time.Now().After(deadline) {
			t.Fatalf("peer Table() = %v, want [A B]", peerSync.Table())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}
}
