package clustertest

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/arvoia/clusterc"
	"github.com/arvoia/clusterc/clustertest/resp"
	"github.com/stretchr/testify/require"
)

const hashSlots = 16384

// MockCluster is a set of mock nodes sharing the hash-slot space
// evenly. Every node answers CLUSTER SLOTS with the full assignment,
// serves a small set of key-value commands for the slots it owns and
// replies MOVED for keys owned by another node.
type MockCluster struct {
	Nodes []*MockNode

	mu     sync.Mutex
	data   map[string]string
	ranges [][2]int // owned slot range per node, same index as Nodes
}

// StartMockCluster starts a cluster of n mock nodes. The caller should
// close the cluster after use.
func StartMockCluster(t testing.TB, n int) *MockCluster {
	require.Greater(t, n, 0, "cluster size")

	mc := &MockCluster{data: make(map[string]string)}
	for i := 0; i < n; i++ {
		i := i
		mc.Nodes = append(mc.Nodes, StartMockNode(t, func(cmd string, args ...string) interface{} {
			return mc.handle(i, cmd, args...)
		}))
	}

	per := hashSlots / n
	for i := 0; i < n; i++ {
		end := (i+1)*per - 1
		if i == n-1 {
			end = hashSlots - 1
		}
		mc.ranges = append(mc.ranges, [2]int{i * per, end})
	}
	return mc
}

// Addrs returns the addresses of all nodes, usable as seed endpoints.
func (mc *MockCluster) Addrs() []string {
	addrs := make([]string, len(mc.Nodes))
	for i, n := range mc.Nodes {
		addrs[i] = n.Addr
	}
	return addrs
}

// Close closes every node of the cluster.
func (mc *MockCluster) Close() {
	for _, n := range mc.Nodes {
		n.Close()
	}
}

func (mc *MockCluster) handle(ix int, cmd string, args ...string) interface{} {
	switch strings.ToUpper(cmd) {
	case "CLUSTER":
		if len(args) == 1 && strings.EqualFold(args[0], "SLOTS") {
			return mc.slots()
		}
		return resp.Error("ERR unsupported CLUSTER subcommand")

	case "PING":
		return "PONG"

	case "ECHO":
		if len(args) != 1 {
			return resp.Error("ERR wrong number of arguments for 'echo' command")
		}
		return []byte(args[0])

	case "QUIT":
		return "OK"

	case "GET":
		if len(args) != 1 {
			return resp.Error("ERR wrong number of arguments for 'get' command")
		}
		if re := mc.redirect(ix, args[0]); re != nil {
			return re
		}
		mc.mu.Lock()
		defer mc.mu.Unlock()
		v, ok := mc.data[args[0]]
		if !ok {
			return nil
		}
		return []byte(v)

	case "SET":
		if len(args) != 2 {
			return resp.Error("ERR wrong number of arguments for 'set' command")
		}
		if re := mc.redirect(ix, args[0]); re != nil {
			return re
		}
		mc.mu.Lock()
		defer mc.mu.Unlock()
		mc.data[args[0]] = args[1]
		return "OK"

	case "DEL":
		if len(args) != 1 {
			return resp.Error("ERR wrong number of arguments for 'del' command")
		}
		if re := mc.redirect(ix, args[0]); re != nil {
			return re
		}
		mc.mu.Lock()
		defer mc.mu.Unlock()
		if _, ok := mc.data[args[0]]; !ok {
			return int64(0)
		}
		delete(mc.data, args[0])
		return int64(1)

	case "INCR":
		if len(args) != 1 {
			return resp.Error("ERR wrong number of arguments for 'incr' command")
		}
		if re := mc.redirect(ix, args[0]); re != nil {
			return re
		}
		mc.mu.Lock()
		defer mc.mu.Unlock()
		n, err := strconv.ParseInt(mc.data[args[0]], 10, 64)
		if mc.data[args[0]] != "" && err != nil {
			return resp.Error("ERR value is not an integer or out of range")
		}
		n++
		mc.data[args[0]] = strconv.FormatInt(n, 10)
		return n

	default:
		return resp.Error(fmt.Sprintf("ERR unknown command '%s'", cmd))
	}
}

// redirect returns a MOVED error when node ix does not own the key's
// slot, nil otherwise.
func (mc *MockCluster) redirect(ix int, key string) interface{} {
	slot := int(clusterc.SlotForKey(key))

	mc.mu.Lock()
	defer mc.mu.Unlock()
	if slot >= mc.ranges[ix][0] && slot <= mc.ranges[ix][1] {
		return nil
	}
	for i, r := range mc.ranges {
		if slot >= r[0] && slot <= r[1] {
			return resp.Error(fmt.Sprintf("MOVED %d %s", slot, mc.Nodes[i].Addr))
		}
	}
	return resp.Error(fmt.Sprintf("CLUSTERDOWN no node owns slot %d", slot))
}

// slots builds the CLUSTER SLOTS reply for the current assignment.
func (mc *MockCluster) slots() interface{} {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	reply := make([]interface{}, 0, len(mc.ranges))
	for i, r := range mc.ranges {
		host, port, _ := net.SplitHostPort(mc.Nodes[i].Addr)
		p, _ := strconv.Atoi(port)
		reply = append(reply, []interface{}{
			int64(r[0]),
			int64(r[1]),
			[]interface{}{[]byte(host), int64(p)},
		})
	}
	return reply
}
