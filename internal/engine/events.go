package engine

import "time"

// EventType is one of the closed set of lifecycle event kinds the engine
// and orchestrator emit into the event stream. Type strings are stable
// protocol identifiers.
type EventType string

const (
	EventExecutionCreated     EventType = "EXECUTION_CREATED"
	EventFlowSubscribed       EventType = "FLOW_SUBSCRIBED"
	EventFlowStarted          EventType = "FLOW_STARTED"
	EventFlowCompleted        EventType = "FLOW_COMPLETED"
	EventFlowFailed           EventType = "FLOW_FAILED"
	EventFlowCancelled        EventType = "FLOW_CANCELLED"
	EventFlowPaused           EventType = "FLOW_PAUSED"
	EventFlowResumed          EventType = "FLOW_RESUMED"
	EventNodeStarted          EventType = "NODE_STARTED"
	EventNodeCompleted        EventType = "NODE_COMPLETED"
	EventNodeFailed           EventType = "NODE_FAILED"
	EventNodeSkipped          EventType = "NODE_SKIPPED"
	EventNodeStatusChanged    EventType = "NODE_STATUS_CHANGED"
	EventEdgeTransferStarted  EventType = "EDGE_TRANSFER_STARTED"
	EventEdgeTransferComplete EventType = "EDGE_TRANSFER_COMPLETED"
	EventEdgeTransferFailed   EventType = "EDGE_TRANSFER_FAILED"
	EventDebugBreakpointHit   EventType = "DEBUG_BREAKPOINT_HIT"
)

// Event is one record the engine emits during a step invocation. Index is
// assigned by the emitter (the event stream, §4.4), not by the engine
// itself — the engine only guarantees its serialized emission order.
type Event struct {
	Type       EventType      `json:"type"`
	OccurredAt time.Time      `json:"occurredAt"`
	Payload    map[string]any `json:"payload"`
}

// Emitter is the narrow capability the engine needs from the event
// stream: append one record in order. The orchestrator wires this to the
// real durable stream (internal/eventstream); tests can use an in-memory
// slice-backed stub.
type Emitter interface {
	Emit(ev Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ev Event) error

func (f EmitterFunc) Emit(ev Event) error { return f(ev) }

func newEvent(t EventType, payload map[string]any) Event {
	return Event{Type: t, OccurredAt: time.Now(), Payload: payload}
}
