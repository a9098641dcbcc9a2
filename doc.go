// Package clusterc implements a client-side connection manager for
// redis-cluster-compatible sharded key-value stores. It hides topology
// discovery, per-slot routing, node-failure recovery and connection
// lifecycle behind a single logical Connection, so callers can issue
// commands without knowing which physical node currently owns a given
// hash slot. See http://redis.io/topics/cluster-spec for details on
// the slot model.
//
// # Connection
//
// The Connection type is the core of the package: a state machine with
// the states Disconnected, Connecting, Connected, Reconnecting,
// Disconnecting and StateError, a FIFO queue of commands pending while
// the connection is not established, and a per-connection run loop on
// which every routing decision and queue mutation happens. Its public
// surface is two calls, both safe from any goroutine and both
// non-blocking:
//
//	Send(*ClusterCommand)
//	Disconnect(func(error))
//
// The first Send on a Disconnected connection starts the bootstrap:
// the configured seed endpoints are tried in order until one yields
// the cluster topology. Commands submitted in the meantime are queued
// and drained, in submission order, once the connection is
// established. If every seed fails, each queued command's callback
// receives ErrConnect and the connection settles back to Disconnected,
// eligible for a fresh bootstrap on the next Send.
//
// Every command's completion is observed by the connection: a failure
// triggers a renewal of the slot topology (a MOVED redirection
// additionally updates the mapping for the reported slot right away).
// The failure itself is still delivered to the caller; the command is
// not retried automatically, only later commands benefit from the
// renewed topology.
//
// Disconnect broadcasts a shutdown command to every live node and
// fires its callback exactly once, after all of them acknowledged.
// Commands still pending at that point fail with ErrClosed.
//
// # Topology
//
// Routing goes through the Topology interface, which resolves a hash
// slot to a node connection and re-discovers the cluster on demand.
// SlotCache is the production implementation, built on the redigo
// client package: it discovers the slot assignment via CLUSTER SLOTS,
// keeps it up to date, and can manage a redis.Pool per node through
// its CreatePool field. Tests or alternative transports can supply
// their own Topology.
//
// # Commands
//
// A Command is a single operation with a one-shot completion callback;
// a ClusterCommand wraps it with its target slot, computed from the
// key with SlotForKey, or Broadcast to address every node. Completion
// callbacks fire at most once per command, with either a reply or the
// failure cause, never both and never twice.
package clusterc
