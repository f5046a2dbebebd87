package mesh

import "context"

// Link is the mesh data plane as seen by a node.
type Link interface {
	// Send unicasts frame to the peer at addr.
	Send(ctx context.Context, to Address, frame []byte) error

	// Receive blocks for the next frame addressed to this node.
	Receive(ctx context.Context) (from Address, frame []byte, err error)

	// IsRoot reports whether this node is currently the mesh root.
	IsRoot() bool

	// RoutingTable returns the addresses reachable through this node.
	RoutingTable() ([]Address, error)
}

// Topology is implemented by links that can describe this node's position.
type Topology interface {
	// Self returns this node's address.
	Self() Address

	// Parent returns the upstream peer, if any.
	Parent() (Address, bool)

	// Layer returns the node's depth in the mesh tree (root is 1).
	Layer() int
}
