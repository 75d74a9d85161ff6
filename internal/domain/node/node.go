// Package node implements the C1 node model: the runtime contract every
// node type must satisfy, its lifecycle status, and the type-tag registry
// flows use to reconstruct nodes on deserialization.
package node

import (
	"context"
	"encoding/json"

	"github.com/chaingraph/core/internal/domain/port"
	"github.com/chaingraph/core/internal/pkg/errors"
)

// Status is a node's runtime lifecycle state for one execution.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusSkipped     Status = "skipped"
)

// Event is a node-to-node or engine-to-node notification delivered via
// OnEvent; distinct from the lifecycle events the engine emits into the
// stream.
type Event struct {
	Name    string
	Payload map[string]any
}

// ExecContext is the capability set a node's Execute body receives. The
// engine implements this; node implementations never construct one.
type ExecContext interface {
	context.Context

	// ResolvePort marks a specific output/passthrough port of the
	// currently-executing node resolved with v, before Execute returns —
	// used for streamed/partial outputs. Idempotent.
	ResolvePort(portID string, v any)

	// EmitEvent requests a child execution carrying the given event name
	// and payload. The engine does not spawn it; it is accumulated and
	// returned in childTasks.
	EmitEvent(eventName string, payload map[string]any)

	// IsChildExecution reports whether the current execution was spawned
	// by an emitted event.
	IsChildExecution() bool

	// EventData is the triggering event for a child execution, nil for a
	// root execution.
	EventData() *Event

	// GlobalState exposes execution-scoped shared state (integrations,
	// owner id, root execution id) nodes may read.
	GlobalState() map[string]any
}

// Node is the runtime contract every node type implements. A node is
// reconstructed per execution from its serialized descriptor via the
// registry, then Initialize finalizes internal indices before the engine
// schedules it.
type Node interface {
	// Initialize finalizes the node's internal port index from a
	// pre-built ports map (id -> *port.Port), typically rebuilt from the
	// descriptor's serialized ports during flow deserialization.
	Initialize(ports map[string]*port.Port) error

	ID() string
	Type() string

	GetPort(id string) (*port.Port, error)
	Ports() []*port.Port
	GetInputs() []*port.Port
	GetOutputs() []*port.Port
	GetPassthroughs() []*port.Port

	// DisabledAutoExecution reports whether this node opts out of
	// automatic scheduling (event-listener nodes: they run only inside a
	// child execution whose eventData matches their listener name).
	DisabledAutoExecution() bool

	Execute(ctx ExecContext) error
	OnEvent(evt Event) error

	Serialize() ([]byte, error)
	GetVersion() string
	SetMetadata(meta Metadata)
	Metadata() Metadata

	Status() Status
	SetStatus(s Status)

	// Optional reports whether this node's failure should be tolerated
	// (NODE_FAILED emitted, but the flow does not fail fast).
	Optional() bool
}

// Metadata is the descriptive, non-functional data a node carries.
type Metadata struct {
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Category    string         `json:"category,omitempty"`
	Version     string         `json:"version,omitempty"`
	UIHints     map[string]any `json:"uiHints,omitempty"`
}

// Descriptor is the serialized, storage/wire shape of a node: its type
// tag, id, metadata, static port list, and declared behavior flags. The
// registry turns a Descriptor into a live Node via the type tag's factory.
type Descriptor struct {
	ID                     string                    `json:"id"`
	Type                   string                    `json:"type"`
	Metadata               Metadata                  `json:"metadata"`
	Ports                  []json.RawMessage         `json:"ports"`
	DisabledAutoExecution  bool                      `json:"disabledAutoExecution"`
	Optional               bool                      `json:"optional"`
	ListenerEventName      string                    `json:"listenerEventName,omitempty"`
	Config                 map[string]any            `json:"config,omitempty"`
}

// Factory builds a live Node from a Descriptor. Registered per type tag.
type Factory func(d Descriptor) (Node, error)

// Registry maps node type tags to factories, used during flow
// deserialization to reconstruct nodes.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty node-type registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates a type tag with its factory. Re-registering the same
// tag overwrites the previous factory (used by tests to stub node types).
func (r *Registry) Register(typeTag string, f Factory) {
	r.factories[typeTag] = f
}

// Build reconstructs a Node from its descriptor using the registered
// factory for d.Type, failing with UnknownNodeType if none is registered.
func (r *Registry) Build(d Descriptor) (Node, error) {
	f, ok := r.factories[d.Type]
	if !ok {
		return nil, errors.NewDomainError("UNKNOWN_NODE_TYPE", "unknown node type: "+d.Type, errors.ErrInvalidInput)
	}
	return f(d)
}

// Has reports whether a type tag is registered.
func (r *Registry) Has(typeTag string) bool {
	_, ok := r.factories[typeTag]
	return ok
}
