package clusterc

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gomodule/redigo/redis"
	"go.uber.org/zap"
)

var (
	// ErrConnect is the failure delivered to every pending command
	// when discovery fails against all configured seed endpoints.
	ErrConnect = errors.New("clusterc: could not establish cluster connection")

	// ErrClosed is the failure delivered to commands still pending
	// when a graceful shutdown completes.
	ErrClosed = errors.New("clusterc: connection closed")
)

// Options configure a Connection.
type Options struct {
	// StartupNodes is the ordered list of seed endpoints used for the
	// initial topology discovery. The values are expected as
	// "address:port" (e.g.: "111.222.333.444:6379") and are tried
	// sequentially until one succeeds.
	StartupNodes []string

	// Topology resolves slots to nodes. If nil, a SlotCache is
	// created using DialOptions and CreatePool.
	Topology Topology

	// DialOptions is the list of options to set on each new
	// connection of the default SlotCache.
	DialOptions []redis.DialOption

	// CreatePool is the function the default SlotCache calls to
	// create a redis.Pool for a node address. If nil, unpooled
	// connections are dialed on demand.
	CreatePool func(address string, options ...redis.DialOption) (*redis.Pool, error)

	// Logger receives the connection's internal events. If nil,
	// logging is disabled.
	Logger *zap.Logger
}

// Connection is the logical connection to a sharded key-value cluster.
// It owns the lifecycle state, the pending-command queue and the run
// loop on which all routing decisions happen, and routes commands to
// the node owning their slot through the configured Topology.
//
// A Connection is created once per cluster target and reused across
// reconnections; Send and Disconnect are safe to call from any
// goroutine and never block.
type Connection struct {
	seeds  []string
	topo   Topology
	logger *zap.Logger

	state  connState
	closed atomic.Bool
	loop   *runLoop

	// pending is the FIFO queue of commands submitted while the
	// connection is not in the Connected state. Mutated only on the
	// run loop.
	pending []*ClusterCommand
}

// New creates a Connection for the cluster reachable through the
// options' seed endpoints. No network activity happens until the
// first Send.
func New(opts Options) *Connection {
	topo := opts.Topology
	if topo == nil {
		topo = &SlotCache{
			DialOptions: opts.DialOptions,
			CreatePool:  opts.CreatePool,
			Logger:      opts.Logger,
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connection{
		seeds:  append([]string(nil), opts.StartupNodes...),
		topo:   topo,
		logger: logger.Named("clusterc"),
		loop:   newRunLoop(),
	}
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	return c.state.get()
}

// Send routes the command to the node owning its slot if the
// connection is established, or queues it for the next drain
// otherwise. A Disconnected connection starts its bootstrap as a side
// effect. Send never blocks and never fails synchronously; the
// outcome is delivered through the command's Reply callback.
func (c *Connection) Send(cc *ClusterCommand) {
	if c.state.get() == Disconnected {
		c.connect()
	}

	c.wrap(cc)

	c.loop.do(func() { c.dispatch(cc) })
}

// connect starts the bootstrap sequence. Only the caller winning the
// Disconnected→Connecting swap runs it; concurrent calls are no-ops.
func (c *Connection) connect() {
	if !c.state.cas(Disconnected, Connecting) {
		return
	}
	c.logger.Debug("bootstrap started", zap.Strings("seeds", c.seeds))

	go func() {
		err := c.discoverSeeds()
		c.loop.do(func() {
			if err != nil {
				c.logger.Warn("bootstrap failed", zap.Error(err))
				if c.state.cas(Connecting, StateError) {
					c.clearQueue(err)
				}
				c.state.set(Disconnected)
				return
			}
			c.resendPending()
		})
	}()
}

// discoverSeeds tries each seed endpoint in order, short-circuiting on
// the first successful discovery. An empty seed list is equivalent to
// immediate exhaustion.
func (c *Connection) discoverSeeds() error {
	for _, endpoint := range c.seeds {
		if err := c.topo.Discover(endpoint); err != nil {
			c.logger.Debug("seed endpoint failed",
				zap.String("endpoint", endpoint), zap.Error(err))
			continue
		}
		c.logger.Debug("topology discovered",
			zap.String("endpoint", endpoint),
			zap.Int("nodes", c.topo.NodeCount()))
		return nil
	}
	return ErrConnect
}

// wrap intercepts the command's completion so that an observed failure
// triggers a topology renewal before the result is forwarded,
// unchanged, to the caller's Reply callback.
func (c *Connection) wrap(cc *ClusterCommand) {
	cc.Cmd.done = func(reply interface{}, err error) {
		if err != nil {
			if re := ParseRedir(err); re != nil && re.Type == "MOVED" {
				if rd, ok := c.topo.(Redirector); ok {
					rd.Redirect(re)
				}
			}
			c.renewSlots()
		}
		if cc.Reply != nil {
			cc.Reply(reply, err)
		}
	}
}

// dispatch makes the routing decision for a command. It runs on the
// loop, exactly once per submission: route directly when Connected,
// append to the pending queue in any other state. Once the close has
// finished the queue is gone, commands fail with ErrClosed instead.
func (c *Connection) dispatch(cc *ClusterCommand) {
	if c.closed.Load() {
		cc.Cmd.Complete(nil, ErrClosed)
		return
	}
	switch c.state.get() {
	case Connected:
		c.route(cc)
	default:
		c.pending = append(c.pending, cc)
	}
}

// route resolves the command's slot and hands it to the owning node.
// Broadcast commands go to every node.
func (c *Connection) route(cc *ClusterCommand) {
	if cc.Slot == Broadcast {
		c.sendAll(cc.Cmd)
		return
	}
	node, err := c.topo.Node(cc.Slot)
	if err != nil {
		cc.Cmd.Complete(nil, err)
		return
	}
	node.Send(cc.Cmd)
}

// sendAll broadcasts the command to every known node. Each node
// receives its own fork so every node's outcome is delivered through
// the shared callback.
func (c *Connection) sendAll(cmd *Command) {
	for _, node := range c.topo.Nodes() {
		node.Send(cmd.fork())
	}
}

// resendPending drains the pending queue in FIFO order after a
// successful bootstrap or renewal. The guarded swap to Connected makes
// the drain single-shot when both paths race. The drain stops as soon
// as the state leaves Connected; the remainder stays queued for the
// next drain or flush. Runs on the loop.
func (c *Connection) resendPending() {
	if !c.state.cas(Connecting, Connected) && !c.state.cas(Reconnecting, Connected) {
		return
	}
	c.logger.Debug("draining pending commands", zap.Int("count", len(c.pending)))

	for len(c.pending) > 0 {
		// a node ack or an inline failure can move the state off
		// Connected between pops
		if c.state.get() != Connected {
			return
		}
		cc := c.pending[0]
		c.pending[0] = nil
		c.pending = c.pending[1:]

		if cc.Slot == Broadcast {
			c.sendAll(cc.Cmd)
		} else {
			c.dispatch(cc)
		}
	}
}

// renewSlots refreshes the topology after an observed command failure.
// Only the caller winning the Connected→Reconnecting swap runs a
// renewal; attempts made while one is in flight, or while the
// connection is shutting down, are absorbed.
func (c *Connection) renewSlots() {
	if !c.state.cas(Connected, Reconnecting) {
		return
	}
	c.logger.Debug("renewing slot topology")

	go func() {
		err := c.topo.Renew()
		c.loop.do(func() {
			if err != nil {
				c.logger.Warn("topology renewal failed", zap.Error(err))
				if c.state.cas(Reconnecting, StateError) {
					c.clearQueue(err)
				}
				c.state.set(Disconnected)
				return
			}
			c.resendPending()
		})
	}()
}

// Disconnect initiates the graceful shutdown protocol. The callback
// fires exactly once: after every node that was live at shutdown time
// acknowledged the shutdown command, immediately when none were live,
// or immediately when the connection is already terminating.
func (c *Connection) Disconnect(closeCb func(error)) {
	switch c.state.get() {
	case Connecting:
		cmd, _ := c.shutdownSentinel(closeCb)
		c.loop.do(func() {
			c.pending = append(c.pending, &ClusterCommand{Slot: Broadcast, Cmd: cmd})
		})

	case Connected:
		cmd, finish := c.shutdownSentinel(closeCb)
		c.loop.do(func() {
			if c.topo.NodeCount() == 0 {
				c.state.cas(Connected, Disconnecting)
				finish()
				return
			}
			c.sendAll(cmd)
		})

	default:
		// Disconnecting, StateError (which resolves to Disconnected)
		// and Disconnected: shutdown is already terminal or
		// terminating, nothing to wait for.
		if closeCb != nil {
			closeCb(nil)
		}
	}
}

// shutdownSentinel builds the Broadcast shutdown command whose
// per-node completions drive the acknowledgement count, and the
// single-shot finish func flushing the queue and firing the close
// callback.
func (c *Connection) shutdownSentinel(closeCb func(error)) (*Command, func()) {
	var (
		acks int32
		once sync.Once
	)
	finish := func() {
		once.Do(func() {
			c.loop.do(func() {
				c.clearQueue(ErrClosed)
				c.closed.Store(true)
				c.logger.Debug("connection closed")
				if closeCb != nil {
					closeCb(nil)
				}
				c.loop.stop()
			})
		})
	}

	cmd := NewCommand("QUIT")
	cmd.done = func(_ interface{}, err error) {
		if c.state.cas(Connected, Disconnecting) || c.state.get() == Disconnecting {
			if int(atomic.AddInt32(&acks, 1)) == c.topo.NodeCount() {
				finish()
			}
			return
		}
		if err != nil {
			// The sentinel was flushed by a failed bootstrap or
			// renewal: no node is live, shutdown is complete.
			finish()
		}
	}
	return cmd, finish
}

// clearQueue fails every pending command with the cause. Runs on the
// loop.
func (c *Connection) clearQueue(cause error) {
	if len(c.pending) == 0 {
		return
	}
	c.logger.Debug("failing pending commands",
		zap.Int("count", len(c.pending)), zap.Error(cause))

	for _, cc := range c.pending {
		cc.Cmd.Complete(nil, cause)
	}
	c.pending = nil
}
