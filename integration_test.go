package clusterc_test

import (
	"testing"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arvoia/clusterc"
	"github.com/arvoia/clusterc/clustertest"
	"github.com/arvoia/clusterc/clustertest/resp"
)

type cmdResult struct {
	reply interface{}
	err   error
}

// do submits a single-key command and waits for its completion.
func do(t *testing.T, c *clusterc.Connection, key, name string, args ...interface{}) cmdResult {
	t.Helper()
	ch := make(chan cmdResult, 1)
	c.Send(&clusterc.ClusterCommand{
		Slot: clusterc.SlotForKey(key),
		Cmd:  clusterc.NewCommand(name, append([]interface{}{key}, args...)...),
		Reply: func(reply interface{}, err error) {
			ch <- cmdResult{reply: reply, err: err}
		},
	})
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no command result received")
		return cmdResult{}
	}
}

func TestSlotCacheDiscoverMockCluster(t *testing.T) {
	mc := clustertest.StartMockCluster(t, 3)
	defer mc.Close()

	sc := &clusterc.SlotCache{}
	require.NoError(t, sc.Discover(mc.Addrs()[0]), "Discover")
	assert.Equal(t, 3, sc.NodeCount())

	// key "a" hashes to slot 15495, owned by the last node
	nc, err := sc.Node(clusterc.SlotForKey("a"))
	require.NoError(t, err)
	assert.Equal(t, mc.Addrs()[2], nc.Addr())

	require.NoError(t, sc.Renew(), "Renew against live nodes")
	assert.Equal(t, 3, sc.NodeCount())
}

func TestSlotCacheDiscoverRefused(t *testing.T) {
	node := clustertest.StartMockNode(t, func(cmd string, args ...string) interface{} {
		return resp.Error("ERR unknown command")
	})
	defer node.Close()

	sc := &clusterc.SlotCache{}
	assert.Error(t, sc.Discover(node.Addr), "node refusing CLUSTER SLOTS")
}

func TestConnectionEndToEnd(t *testing.T) {
	mc := clustertest.StartMockCluster(t, 3)
	defer mc.Close()

	// the first seed is unreachable, the bootstrap fails over
	seeds := append([]string{"127.0.0.1:1"}, mc.Addrs()...)
	c := clusterc.New(clusterc.Options{
		StartupNodes: seeds,
		DialOptions:  []redis.DialOption{redis.DialConnectTimeout(2 * time.Second)},
	})

	r := do(t, c, "hello", "SET", "world")
	require.NoError(t, r.err, "SET")
	assert.Equal(t, "OK", r.reply)
	assert.Equal(t, clusterc.Connected, c.State())

	r = do(t, c, "hello", "GET")
	require.NoError(t, r.err, "GET")
	assert.Equal(t, []byte("world"), r.reply)

	r = do(t, c, "counter", "INCR")
	require.NoError(t, r.err, "INCR")
	assert.Equal(t, int64(1), r.reply)

	done := make(chan struct{})
	c.Disconnect(func(err error) {
		assert.NoError(t, err, "Disconnect")
		close(done)
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("close callback never fired")
	}
	assert.Equal(t, clusterc.Disconnecting, c.State())
}

func TestConnectionBootstrapExhaustedEndToEnd(t *testing.T) {
	c := clusterc.New(clusterc.Options{
		StartupNodes: []string{"127.0.0.1:1"},
		DialOptions:  []redis.DialOption{redis.DialConnectTimeout(time.Second)},
	})

	r := do(t, c, "hello", "GET")
	require.Error(t, r.err)
	assert.ErrorIs(t, r.err, clusterc.ErrConnect)

	require.Eventually(t, func() bool { return c.State() == clusterc.Disconnected },
		2*time.Second, 10*time.Millisecond, "connection settles at disconnected")

	// the connection is eligible for a fresh bootstrap: give it a
	// reachable cluster and it recovers on the next send
	mc := clustertest.StartMockCluster(t, 2)
	defer mc.Close()
	recovered := clusterc.New(clusterc.Options{StartupNodes: mc.Addrs()})
	r = do(t, recovered, "hello", "SET", "again")
	assert.NoError(t, r.err)
}

func TestConnectionMovedTriggersRecovery(t *testing.T) {
	mc := clustertest.StartMockCluster(t, 3)
	defer mc.Close()

	sc := &clusterc.SlotCache{}
	c := clusterc.New(clusterc.Options{
		StartupNodes: mc.Addrs()[:1],
		Topology:     sc,
	})

	r := do(t, c, "hello", "SET", "world")
	require.NoError(t, r.err, "SET")

	// poison the mapping for the key's slot: the next command lands on
	// the wrong node and comes back with a MOVED redirection
	slot := clusterc.SlotForKey("hello")
	wrong := mc.Addrs()[0]
	if owner, err := sc.Node(slot); err == nil && owner.Addr() == wrong {
		wrong = mc.Addrs()[1]
	}
	sc.Redirect(&clusterc.RedirError{Type: "MOVED", NewSlot: slot, Addr: wrong})

	r = do(t, c, "hello", "GET")
	require.Error(t, r.err, "misrouted command fails")
	re := clusterc.ParseRedir(r.err)
	require.NotNil(t, re, "failure is a MOVED redirection")
	assert.Equal(t, slot, re.NewSlot)

	// the redirection is not retried, but the topology recovers and
	// later commands are routed correctly again
	require.Eventually(t, func() bool {
		r := do(t, c, "hello", "GET")
		return r.err == nil && string(r.reply.([]byte)) == "world"
	}, 5*time.Second, 50*time.Millisecond, "commands succeed after recovery")
}
