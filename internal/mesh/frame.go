package mesh

import "fmt"

// TagRoutingTable is the first byte of a routing-table frame.
const TagRoutingTable byte = 0x56

// DefaultMaxPeers bounds the routing table.
const DefaultMaxPeers = 50

// EncodeRoutingTable builds the frame [0x56][addr]*.
func EncodeRoutingTable(table []Address) []byte {
	frame := make([]byte, 1, 1+len(table)*AddressLen)
	frame[0] = TagRoutingTable
	for _, a := range table {
		frame = append(frame, a[:]...)
	}
	return frame
}

// DecodeRoutingTable parses a routing-table frame holding at most maxPeers
// addresses (no limit when maxPeers <= 0).
func DecodeRoutingTable(frame []byte, maxPeers int) ([]Address, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidFrame)
	}
	if frame[0] != TagRoutingTable {
		return nil, fmt.Errorf("%w: unknown command 0x%02x", ErrInvalidFrame, frame[0])
	}
	body := frame[1:]
	if len(body)%AddressLen != 0 {
		return nil, fmt.Errorf("%w: unexpected size %d", ErrInvalidFrame, len(frame))
	}
	n := len(body) / AddressLen
	if maxPeers > 0 && n > maxPeers {
		return nil, fmt.Errorf("%w: %w: %d > %d", ErrInvalidFrame, ErrTableTooLarge, n, maxPeers)
	}

	table := make([]Address, n)
	for i := range table {
		copy(table[i][:], body[i*AddressLen:])
	}
	return table, nil
}
