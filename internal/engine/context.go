package engine

import (
	"context"
	"sync"

	"github.com/chaingraph/core/internal/domain/node"
)

// childRequest is one accumulated EmitEvent call, later returned to the
// orchestrator as part of Result.ChildTasks.
type childRequest struct {
	sourceNodeID string
	eventName    string
	payload      map[string]any
}

// runState is the state shared across every node execution within one
// engine.Execute invocation: the resolved-port set, global state, and the
// accumulated child-spawn requests. Exactly one runState exists per
// Execute call; node bodies never see it directly, only through their
// scoped execContext.
type runState struct {
	mu sync.Mutex

	isChild   bool
	eventData *node.Event
	global    map[string]any

	children []childRequest

	// resolve is invoked by a node's ResolvePort call; the scheduler
	// supplies the real port-transfer logic so context.go stays free of
	// flow/edge knowledge.
	resolve func(nodeID, portID string, v any)
}

// execContext scopes a runState to one node's Execute invocation, so
// ResolvePort/EmitEvent calls are attributed to the right node without the
// node needing to know its own id redundantly.
type execContext struct {
	context.Context
	nodeID string
	state  *runState
}

var _ node.ExecContext = (*execContext)(nil)

func (c *execContext) ResolvePort(portID string, v any) {
	c.state.resolve(c.nodeID, portID, v)
}

func (c *execContext) EmitEvent(eventName string, payload map[string]any) {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	c.state.children = append(c.state.children, childRequest{
		sourceNodeID: c.nodeID,
		eventName:    eventName,
		payload:      payload,
	})
}

func (c *execContext) IsChildExecution() bool { return c.state.isChild }

func (c *execContext) EventData() *node.Event { return c.state.eventData }

func (c *execContext) GlobalState() map[string]any {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	out := make(map[string]any, len(c.state.global))
	for k, v := range c.state.global {
		out[k] = v
	}
	return out
}
