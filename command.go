package clusterc

import (
	"context"
	"sync/atomic"
)

// Slot identifies the hash slot a command is routed to. The cluster
// maps each slot to exactly one owning node at a given topology
// version. The Broadcast sentinel targets every known node instead of
// a single slot.
type Slot int

// Broadcast is the slot value of commands sent to every node of the
// cluster (e.g. the shutdown command).
const Broadcast Slot = -1

// ReplyFunc receives the outcome of a command, either a reply value or
// a failure cause.
type ReplyFunc func(reply interface{}, err error)

// Command is a single outbound operation, agnostic of clustering. Its
// completion callback fires at most once, with either a reply or an
// error, regardless of how many goroutines race to complete it.
type Command struct {
	// Name is the operation name (e.g. "GET").
	Name string

	// Args are the operation arguments, encoded by the node
	// connection that executes the command.
	Args []interface{}

	ctx   context.Context
	done  ReplyFunc
	fired atomic.Bool
}

// NewCommand creates a command for the named operation.
func NewCommand(name string, args ...interface{}) *Command {
	return NewCommandContext(context.Background(), name, args...)
}

// NewCommandContext creates a command carrying ctx. The context is
// passed to the node connection that eventually executes the command,
// so callers can layer deadlines on top of the connection manager.
func NewCommandContext(ctx context.Context, name string, args ...interface{}) *Command {
	return &Command{Name: name, Args: args, ctx: ctx}
}

// Context returns the command's context, never nil.
func (cmd *Command) Context() context.Context {
	if cmd.ctx == nil {
		return context.Background()
	}
	return cmd.ctx
}

// Handle sets the completion callback. It must be set before the
// command is handed to a node connection; the Connection replaces it
// when the command is submitted through Send.
func (cmd *Command) Handle(fn ReplyFunc) {
	cmd.done = fn
}

// Complete delivers the command's outcome. Only the first call has an
// effect, later calls are dropped.
func (cmd *Command) Complete(reply interface{}, err error) {
	if !cmd.fired.CompareAndSwap(false, true) {
		return
	}
	if cmd.done != nil {
		cmd.done(reply, err)
	}
}

// fork returns a fresh command with the same operation, context and
// callback but its own completion guard. Broadcasting hands one fork
// per node so that each node's outcome is delivered.
func (cmd *Command) fork() *Command {
	return &Command{Name: cmd.Name, Args: cmd.Args, ctx: cmd.ctx, done: cmd.done}
}

// ClusterCommand wraps a Command with its routing target. It is
// created by the caller, owned by the pending queue while queued, and
// handed to a node connection once dispatched.
type ClusterCommand struct {
	// Slot is the target hash slot, or Broadcast.
	Slot Slot

	// Cmd is the wrapped command.
	Cmd *Command

	// Reply receives the command's outcome. For Broadcast commands it
	// is invoked once per node.
	Reply ReplyFunc
}
