package clusterc

// NodeConn is a connection to a single cluster node. Implementations
// execute commands asynchronously: Send must not block and must
// eventually call Complete on the command, exactly once, with the
// node's reply or the failure cause.
type NodeConn interface {
	// Addr is the node's "host:port" address.
	Addr() string

	// Send executes the command on the node.
	Send(cmd *Command)
}

// Topology resolves hash slots to node connections. The Connection
// consumes it for routing and discovery and never mutates it directly;
// implementations must be safe for concurrent use.
//
// SlotCache is the redigo-backed implementation provided by this
// package.
type Topology interface {
	// Discover populates the slot mapping from a single seed
	// endpoint. It is called sequentially for each configured seed
	// until one succeeds.
	Discover(endpoint string) error

	// Renew re-discovers the topology from the currently known nodes,
	// without a seed endpoint.
	Renew() error

	// Node returns the connection owning the slot. It is only called
	// once the topology is populated.
	Node(slot Slot) (NodeConn, error)

	// Nodes enumerates all known node connections in shuffled order.
	Nodes() []NodeConn

	// NodeCount reports the number of distinct known nodes.
	NodeCount() int
}
