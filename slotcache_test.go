package clusterc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotCacheApplyMapping(t *testing.T) {
	sc := &SlotCache{}
	sc.applyMapping([]slotMapping{
		{start: 0, end: 8191, master: "10.0.0.1:7000"},
		{start: 8192, end: 16383, master: "10.0.0.2:7000"},
	})

	assert.Equal(t, 2, sc.NodeCount())

	nc, err := sc.Node(0)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:7000", nc.Addr())
	nc, err = sc.Node(16383)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:7000", nc.Addr())

	// a new assignment drops nodes that are gone
	sc.applyMapping([]slotMapping{
		{start: 0, end: 16383, master: "10.0.0.3:7000"},
	})
	assert.Equal(t, 1, sc.NodeCount())
	nc, err = sc.Node(100)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.3:7000", nc.Addr())
}

func TestSlotCacheNodeUnassigned(t *testing.T) {
	sc := &SlotCache{}

	_, err := sc.Node(42)
	assert.ErrorIs(t, err, errNoNodeForSlot, "empty mapping")
	_, err = sc.Node(-1)
	assert.ErrorIs(t, err, errNoNodeForSlot, "negative slot")
	_, err = sc.Node(hashSlots)
	assert.ErrorIs(t, err, errNoNodeForSlot, "slot out of range")
}

func TestSlotCacheRedirect(t *testing.T) {
	sc := &SlotCache{}
	sc.Redirect(&RedirError{Type: "MOVED", NewSlot: 42, Addr: "10.0.0.9:7005"})

	nc, err := sc.Node(42)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9:7005", nc.Addr())
	assert.Equal(t, 1, sc.NodeCount(), "redirect target becomes a known node")
}

func TestSlotCacheNodesShuffled(t *testing.T) {
	sc := &SlotCache{}
	sc.applyMapping([]slotMapping{
		{start: 0, end: 99, master: "10.0.0.1:7000"},
		{start: 100, end: 199, master: "10.0.0.2:7000"},
		{start: 200, end: 16383, master: "10.0.0.3:7000"},
	})

	nodes := sc.Nodes()
	require.Len(t, nodes, 3)
	seen := make(map[string]bool)
	for _, n := range nodes {
		seen[n.Addr()] = true
	}
	assert.Len(t, seen, 3, "every node enumerated once")
}

func TestSlotCacheClose(t *testing.T) {
	sc := &SlotCache{}
	require.NoError(t, sc.Close(), "Close")
	assert.ErrorIs(t, sc.Close(), errCacheClosed, "Close after Close")
	assert.ErrorIs(t, sc.Discover("127.0.0.1:7000"), errCacheClosed, "Discover after Close")
	assert.ErrorIs(t, sc.Renew(), errCacheClosed, "Renew after Close")
}

func TestSlotCacheRenewNoNodes(t *testing.T) {
	sc := &SlotCache{}
	assert.ErrorIs(t, sc.Renew(), errAllNodesFail, "renew without discovery")
}
