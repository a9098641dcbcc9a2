// Package clustertest provides in-process mock cluster nodes to test
// cluster clients without an external server binary.
package clustertest

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arvoia/clusterc/clustertest/resp"
	"github.com/stretchr/testify/require"
)

// Handler produces the reply for one received command. The returned
// value is encoded in the redis protocol and sent back to the client.
type Handler func(cmd string, args ...string) interface{}

// MockNode is a mock key-value store node speaking the redis protocol.
// A QUIT command closes the client connection once its reply has been
// written, like a real server.
type MockNode struct {
	Addr string

	t       testing.TB
	lis     net.Listener
	handler Handler
	nreq    atomic.Int64

	closing  chan struct{}
	accepted chan struct{} // closed when the accept loop exits
	conns    sync.WaitGroup
}

// StartMockNode creates and starts a mock node on a loopback port. The
// handler is called for each command received. The caller should close
// the node after use.
func StartMockNode(t testing.TB, handler Handler) *MockNode {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "net.Listen")

	n := &MockNode{
		Addr:     lis.Addr().String(),
		t:        t,
		lis:      lis,
		handler:  handler,
		closing:  make(chan struct{}),
		accepted: make(chan struct{}),
	}
	go n.acceptLoop()
	return n
}

// Requests reports how many commands the node has served so far.
func (n *MockNode) Requests() int {
	return int(n.nreq.Load())
}

// Close stops the node and waits for its client connections to drain.
func (n *MockNode) Close() {
	select {
	case <-n.closing:
		return
	default:
	}
	close(n.closing)
	require.NoError(n.t, n.lis.Close(), "close listener")
	<-n.accepted

	drained := make(chan struct{})
	go func() {
		n.conns.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		n.t.Fatal("failed to cleanly stop the mock node")
	}
}

func (n *MockNode) acceptLoop() {
	defer close(n.accepted)
	for {
		conn, err := n.lis.Accept()
		if err != nil {
			return
		}
		n.conns.Add(1)
		go n.handleConn(conn)
	}
}

func (n *MockNode) handleConn(conn net.Conn) {
	defer n.conns.Done()
	defer conn.Close()

	go func() {
		<-n.closing
		conn.Close()
	}()

	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)
	for {
		req, err := resp.DecodeRequest(br)
		if err != nil {
			return
		}
		n.nreq.Add(1)

		if err := resp.Encode(bw, n.handler(req[0], req[1:]...)); err != nil {
			return
		}
		if err := bw.Flush(); err != nil {
			return
		}
		if strings.EqualFold(req[0], "QUIT") {
			return
		}
	}
}
