// Package udplink carries mesh frames over UDP so nodes can run on an
// ordinary LAN.
//
// Every datagram is the sender's 6-byte address followed by the frame. The
// routing table is the static peer list plus the node itself; root status is
// configured, or toggled with SetRoot.
package udplink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/meshlink/internal/mesh"
)

const (
	// MaxDatagram is the largest datagram the link sends or receives.
	MaxDatagram = 2048

	// MaxPeers is the largest routing table whose frame fits one datagram
	// after the sender address.
	MaxPeers = (MaxDatagram - mesh.AddressLen - 1) / mesh.AddressLen

	pollInterval = 250 * time.Millisecond
)

var (
	// ErrUnknownPeer is returned by Send for an address without an endpoint.
	ErrUnknownPeer = errors.New("udplink: unknown peer")

	// ErrClosed is returned once the link has been closed.
	ErrClosed = errors.New("udplink: link closed")

	// ErrFrameTooLarge is returned by Send for a frame that does not fit
	// one datagram.
	ErrFrameTooLarge = errors.New("udplink: frame exceeds datagram size")
)

// Config describes this node and its peers.
type Config struct {
	Self   mesh.Address
	Listen string
	Root   bool

	// Peers maps peer addresses to UDP endpoints ("host:port").
	Peers map[mesh.Address]string

	// Parent is the upstream peer; zero for the root.
	Parent mesh.Address

	// Layer is the node's depth; zero means 1 for the root and 2 otherwise.
	Layer int
}

// Link is a mesh.Link over a UDP socket.
type Link struct {
	cfg  Config
	conn *net.UDPConn
	root atomic.Bool

	mu    sync.RWMutex
	peers map[mesh.Address]*net.UDPAddr
}

// Listen opens the UDP socket and resolves the configured peers.
func Listen(cfg Config) (*Link, error) {
	laddr, err := net.ResolveUDPAddr("udp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("resolving listen address %q: %w", cfg.Listen, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listening on %q: %w", cfg.Listen, err)
	}

	l := &Link{
		cfg:   cfg,
		conn:  conn,
		peers: make(map[mesh.Address]*net.UDPAddr, len(cfg.Peers)+1),
	}
	l.root.Store(cfg.Root)
	l.peers[cfg.Self] = loopbackFor(conn.LocalAddr().(*net.UDPAddr)) //nolint:forcetypeassert // ListenUDP always yields *UDPAddr

	for addr, endpoint := range cfg.Peers {
		if err := l.AddPeer(addr, endpoint); err != nil {
			conn.Close() //nolint:errcheck,gosec // already failing
			return nil, err
		}
	}
	return l, nil
}

// loopbackFor turns a wildcard listen address into one we can send to.
func loopbackFor(a *net.UDPAddr) *net.UDPAddr {
	if a.IP == nil || a.IP.IsUnspecified() {
		return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: a.Port}
	}
	return a
}

// AddPeer registers or replaces the endpoint of addr.
func (l *Link) AddPeer(addr mesh.Address, endpoint string) error {
	udp, err := net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		return fmt.Errorf("resolving peer %s at %q: %w", addr, endpoint, err)
	}
	l.mu.Lock()
	l.peers[addr] = udp
	l.mu.Unlock()
	return nil
}

// Send unicasts frame to the peer at to.
func (l *Link) Send(ctx context.Context, to mesh.Address, frame []byte) error {
	l.mu.RLock()
	dst, ok := l.peers[to]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, to)
	}
	if mesh.AddressLen+len(frame) > MaxDatagram {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, mesh.AddressLen+len(frame))
	}

	if dl, ok := ctx.Deadline(); ok {
		if err := l.conn.SetWriteDeadline(dl); err != nil {
			return fmt.Errorf("setting write deadline: %w", err)
		}
	} else if err := l.conn.SetWriteDeadline(time.Time{}); err != nil {
		return fmt.Errorf("clearing write deadline: %w", err)
	}

	buf := make([]byte, 0, mesh.AddressLen+len(frame))
	buf = append(buf, l.cfg.Self[:]...)
	buf = append(buf, frame...)
	if _, err := l.conn.WriteToUDP(buf, dst); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("sending to %s: %w", to, err)
	}
	return nil
}

// Receive blocks until a datagram arrives or ctx ends.
// Datagrams too short to carry a sender address are skipped.
func (l *Link) Receive(ctx context.Context) (mesh.Address, []byte, error) {
	buf := make([]byte, MaxDatagram)
	for {
		if err := ctx.Err(); err != nil {
			return mesh.Address{}, nil, err
		}
		if err := l.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return mesh.Address{}, nil, ErrClosed
			}
			return mesh.Address{}, nil, fmt.Errorf("setting read deadline: %w", err)
		}

		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return mesh.Address{}, nil, ErrClosed
			}
			return mesh.Address{}, nil, fmt.Errorf("reading datagram: %w", err)
		}
		if n < mesh.AddressLen {
			continue
		}

		var from mesh.Address
		copy(from[:], buf[:mesh.AddressLen])
		return from, bytes.Clone(buf[mesh.AddressLen:n]), nil
	}
}

// IsRoot reports the configured root status.
func (l *Link) IsRoot() bool { return l.root.Load() }

// SetRoot changes the root status.
func (l *Link) SetRoot(root bool) { l.root.Store(root) }

// RoutingTable returns this node and every known peer, ordered by address.
func (l *Link) RoutingTable() ([]mesh.Address, error) {
	l.mu.RLock()
	table := make([]mesh.Address, 0, len(l.peers))
	for a := range l.peers {
		table = append(table, a)
	}
	l.mu.RUnlock()
	slices.SortFunc(table, func(a, b mesh.Address) int { return bytes.Compare(a[:], b[:]) })
	return table, nil
}

// Self returns this node's address.
func (l *Link) Self() mesh.Address { return l.cfg.Self }

// Parent returns the configured upstream peer.
func (l *Link) Parent() (mesh.Address, bool) {
	if l.IsRoot() || l.cfg.Parent.IsZero() {
		return mesh.Address{}, false
	}
	return l.cfg.Parent, true
}

// Layer returns the node's depth in the tree.
func (l *Link) Layer() int {
	if l.IsRoot() {
		return 1
	}
	if l.cfg.Layer > 0 {
		return l.cfg.Layer
	}
	return 2
}

// LocalAddr returns the bound UDP address.
func (l *Link) LocalAddr() net.Addr { return l.conn.LocalAddr() }

// Close releases the socket.
func (l *Link) Close() error { return l.conn.Close() }
