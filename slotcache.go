package clusterc

import (
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"
	"go.uber.org/zap"
)

var (
	errNoNodeForSlot = errors.New("clusterc: no node for slot")
	errCacheClosed   = errors.New("clusterc: slot cache closed")
	errAllNodesFail  = errors.New("clusterc: all nodes failed")
)

// SlotCache is the redigo-backed Topology implementation. It keeps the
// mapping of hash slots to master node addresses, discovered through
// the CLUSTER SLOTS command, and hands out node connections for
// routing. If the CreatePool field is not nil, a redis.Pool is used
// for each node to get connections; otherwise connections are dialed
// on demand.
type SlotCache struct {
	// DialOptions is the list of options to set on each new
	// connection.
	DialOptions []redis.DialOption

	// CreatePool is the function to call to create a redis.Pool for
	// the specified TCP address, using the provided options as set in
	// DialOptions.
	CreatePool func(address string, options ...redis.DialOption) (*redis.Pool, error)

	// Logger receives the cache's internal events. If nil, logging is
	// disabled.
	Logger *zap.Logger

	mu      sync.Mutex             // protects following fields
	mapping [hashSlots]string      // hash slot number to master node address
	nodes   map[string]bool        // set of known active nodes, kept up-to-date
	pools   map[string]*redis.Pool // created pools per node
	closed  bool
}

// Discover populates the slot mapping from the given seed endpoint by
// calling CLUSTER SLOTS on it.
func (sc *SlotCache) Discover(endpoint string) error {
	sc.mu.Lock()
	closed := sc.closed
	sc.mu.Unlock()
	if closed {
		return errCacheClosed
	}

	m, err := sc.clusterSlots(endpoint)
	if err != nil {
		return err
	}
	sc.applyMapping(m)
	sc.log().Debug("slot mapping discovered",
		zap.String("endpoint", endpoint), zap.Int("nodes", sc.NodeCount()))
	return nil
}

// Renew re-discovers the slot mapping without a seed endpoint. It
// calls CLUSTER SLOTS on each known node until one of them succeeds.
func (sc *SlotCache) Renew() error {
	sc.mu.Lock()
	closed := sc.closed
	sc.mu.Unlock()
	if closed {
		return errCacheClosed
	}

	for _, addr := range sc.nodeAddrs() {
		m, err := sc.clusterSlots(addr)
		if err != nil {
			sc.log().Debug("renewal attempt failed",
				zap.String("addr", addr), zap.Error(err))
			continue
		}
		sc.applyMapping(m)
		return nil
	}
	return errAllNodesFail
}

// Node returns the connection to the node owning the slot.
func (sc *SlotCache) Node(slot Slot) (NodeConn, error) {
	if slot < 0 || slot >= hashSlots {
		return nil, errNoNodeForSlot
	}

	sc.mu.Lock()
	addr := sc.mapping[slot]
	sc.mu.Unlock()
	if addr == "" {
		return nil, errNoNodeForSlot
	}
	return &nodeConn{cache: sc, addr: addr}, nil
}

// a *rand.Rand is not safe for concurrent access
var rnd = struct {
	sync.Mutex
	*rand.Rand
}{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}

// Nodes enumerates the connections to all known nodes, in shuffled
// order so broadcasts don't always hit the nodes in the same sequence.
func (sc *SlotCache) Nodes() []NodeConn {
	addrs := sc.nodeAddrs()

	rnd.Lock()
	perm := rnd.Perm(len(addrs))
	rnd.Unlock()

	nodes := make([]NodeConn, 0, len(addrs))
	for _, ix := range perm {
		nodes = append(nodes, &nodeConn{cache: sc, addr: addrs[ix]})
	}
	return nodes
}

// NodeCount reports the number of distinct known nodes.
func (sc *SlotCache) NodeCount() int {
	sc.mu.Lock()
	n := len(sc.nodes)
	sc.mu.Unlock()
	return n
}

// Redirect applies a MOVED redirection to the mapping without a full
// renewal.
func (sc *SlotCache) Redirect(re *RedirError) {
	sc.mu.Lock()
	sc.mapping[re.NewSlot] = re.Addr
	if sc.nodes == nil {
		sc.nodes = make(map[string]bool)
	}
	sc.nodes[re.Addr] = true
	sc.mu.Unlock()
}

// Close releases the resources used by the cache. It closes all the
// pools that were created, if any. Discover and Renew fail once the
// cache is closed.
func (sc *SlotCache) Close() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.closed {
		return errCacheClosed
	}
	sc.closed = true

	var err error
	for _, p := range sc.pools {
		if e := p.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

type slotMapping struct {
	start, end int
	master     string
}

// clusterSlots queries addr for the cluster's slot assignments.
func (sc *SlotCache) clusterSlots(addr string) ([]slotMapping, error) {
	conn, err := sc.getConnForAddr(addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	vals, err := redis.Values(conn.Do("CLUSTER", "SLOTS"))
	if err != nil {
		return nil, err
	}

	m := make([]slotMapping, 0, len(vals))
	for len(vals) > 0 {
		var slotRange []interface{}
		vals, err = redis.Scan(vals, &slotRange)
		if err != nil {
			return nil, err
		}

		var start, end int
		var nodes []interface{}
		if _, err = redis.Scan(slotRange, &start, &end, &nodes); err != nil {
			return nil, err
		}

		sm := slotMapping{start: start, end: end}
		// the first node is the master, the rest are replicas
		for len(nodes) > 0 {
			var host string
			var port int
			nodes, err = redis.Scan(nodes, &host, &port)
			if err != nil {
				return nil, err
			}
			if sm.master == "" {
				sm.master = host + ":" + strconv.Itoa(port)
			}
		}

		m = append(m, sm)
	}

	return m, nil
}

// applyMapping installs a freshly discovered slot assignment, dropping
// nodes that are gone from the cluster.
func (sc *SlotCache) applyMapping(m []slotMapping) {
	sc.mu.Lock()
	if sc.nodes == nil {
		sc.nodes = make(map[string]bool)
	}
	// mark all current nodes as false
	for k := range sc.nodes {
		sc.nodes[k] = false
	}
	for _, sm := range m {
		for ix := sm.start; ix <= sm.end; ix++ {
			sc.mapping[ix] = sm.master
		}
		sc.nodes[sm.master] = true
	}
	// remove all nodes that are gone from the cluster
	for k, ok := range sc.nodes {
		if !ok {
			delete(sc.nodes, k)
		}
	}
	sc.mu.Unlock()
}

func (sc *SlotCache) nodeAddrs() []string {
	sc.mu.Lock()
	addrs := make([]string, 0, len(sc.nodes))
	for addr := range sc.nodes {
		addrs = append(addrs, addr)
	}
	sc.mu.Unlock()
	return addrs
}

func (sc *SlotCache) getConnForAddr(addr string) (redis.Conn, error) {
	if sc.CreatePool == nil {
		return redis.Dial("tcp", addr, sc.DialOptions...)
	}

	sc.mu.Lock()
	p := sc.pools[addr]
	if p == nil {
		sc.mu.Unlock()
		pool, err := sc.CreatePool(addr, sc.DialOptions...)
		if err != nil {
			return nil, err
		}

		sc.mu.Lock()
		if sc.pools == nil {
			sc.pools = make(map[string]*redis.Pool)
		}
		sc.pools[addr] = pool
		p = pool
	}
	sc.mu.Unlock()

	conn := p.Get()
	return conn, conn.Err()
}

func (sc *SlotCache) log() *zap.Logger {
	if sc.Logger == nil {
		return zap.NewNop()
	}
	return sc.Logger
}

// nodeConn executes commands against a single cluster node.
type nodeConn struct {
	cache *SlotCache
	addr  string
}

func (nc *nodeConn) Addr() string {
	return nc.addr
}

// Send executes the command on the node from its own goroutine, so the
// connection's run loop is never blocked, and completes the command
// with the node's reply.
func (nc *nodeConn) Send(cmd *Command) {
	go func() {
		conn, err := nc.cache.getConnForAddr(nc.addr)
		if err != nil {
			cmd.Complete(nil, err)
			return
		}
		defer conn.Close()

		reply, err := redis.DoContext(conn, cmd.Context(), cmd.Name, cmd.Args...)
		cmd.Complete(reply, err)
	}()
}
