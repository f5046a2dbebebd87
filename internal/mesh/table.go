package mesh

import (
	"fmt"
	"slices"
	"time"

	"github.com/nerrad567/meshlink/internal/lockutil"
)

// RoutingTable is the cached topology view, replaced wholesale.
type RoutingTable struct {
	mu       *lockutil.TimedMutex
	timeout  time.Duration
	maxPeers int
	entries  []Address
}

// NewRoutingTable returns an empty table bounded to maxPeers entries.
func NewRoutingTable(maxPeers int, lockTimeout time.Duration) *RoutingTable {
	if maxPeers <= 0 {
		maxPeers = DefaultMaxPeers
	}
	return &RoutingTable{mu: lockutil.New(), timeout: lockTimeout, maxPeers: maxPeers}
}

// Replace swaps in entries.
func (t *RoutingTable) Replace(entries []Address) error {
	if len(entries) > t.maxPeers {
		return fmt.Errorf("%w: %d > %d", ErrTableTooLarge, len(entries), t.maxPeers)
	}
	if err := t.mu.Lock(t.timeout); err != nil {
		return fmt.Errorf("routing table: %w", err)
	}
	t.entries = slices.Clone(entries)
	t.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the entries.
func (t *RoutingTable) Snapshot() ([]Address, error) {
	if err := t.mu.Lock(t.timeout); err != nil {
		return nil, fmt.Errorf("routing table: %w", err)
	}
	defer t.mu.Unlock()
	return slices.Clone(t.entries), nil
}

// MaxPeers returns the capacity bound.
func (t *RoutingTable) MaxPeers() int { return t.maxPeers }
