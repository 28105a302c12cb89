package orchestrator

import (
	"context"

	"agentd/internal/helperfabric"
	"agentd/internal/sandbox"
	"agentd/internal/sessions"
)

// noParent is substituted when a tool context is built without a live
// Session (e.g. in unit tests exercising a single handler in isolation) so
// ToolContext.Parent is always safe to call.
type noParent struct{ id string }

func (p noParent) ID() string                                     { return p.id }
func (p noParent) IsIdle() bool                                   { return true }
func (p noParent) Deliver(ctx context.Context, message string) error { return nil }

// ToolContext is the explicit context object passed to every tool handler,
// replacing the "global mutable singleton" pattern flagged in spec §9: no
// process-wide current-VM/current-team globals, just this struct threaded
// through the dispatcher.
type ToolContext struct {
	UserID    string
	SessionID string

	Sandbox sandbox.Driver
	Store   sessions.Store
	Fabric  *helperfabric.Fabric

	// Parent lets spawn_agent/send_to_agent hand the fabric a non-owning
	// back-reference to the calling session without the orchestrator and
	// helperfabric packages importing each other (spec §9 redesign note).
	Parent helperfabric.ParentHandle

	// HardTimeoutSeconds is execute_terminal's default exec timeout
	// (config's hard_timeout) when the tool call doesn't specify one.
	HardTimeoutSeconds int

	// MemoryLimit caps manage_memory's stored blob size in bytes
	// (config's memory_limit).
	MemoryLimit int
}
