package orchestrator

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/chaingraph/core/internal/domain/node"
	"github.com/chaingraph/core/internal/engine"
	"github.com/chaingraph/core/internal/eventstream"
	"github.com/chaingraph/core/internal/pkg/errors"
	"github.com/chaingraph/core/internal/queue"
)

// Config holds the environment-tunable knobs spec.md §6 lists against the
// orchestrator: depth bound and the two START_SIGNAL timeouts.
type Config struct {
	MaxExecutionDepth       int
	RootStartTimeout        time.Duration
	ChildStartTimeout       time.Duration
	ParallelismLimit        int
	StrictChildrenByDefault bool
}

func (c Config) withDefaults() Config {
	if c.MaxExecutionDepth == 0 {
		c.MaxExecutionDepth = 16
	}
	if c.RootStartTimeout == 0 {
		c.RootStartTimeout = 5 * time.Minute
	}
	if c.ChildStartTimeout == 0 {
		c.ChildStartTimeout = 10 * time.Second
	}
	return c
}

// Orchestrator is the C6 driver: it walks one queue.Task through the
// state machine in status.go, from queued to a terminal status, calling
// into the C3 engine for the in-process portion of the work and into the
// C5 queue to fan out and await child executions.
type Orchestrator struct {
	cfg Config

	queueStore  *queue.Store
	execStore   *ExecutionStore
	stepStore   *StepStore
	signalStore *SignalStore
	streamStore *eventstream.Store
	hub         wakeupNotifier // optional; nil is legal, just means no NATS wakeup ping
	flowCache   *FlowCache
	registry    *node.Registry
}

// wakeupNotifier is the one Hub method Execute needs: ping any
// Subscribe loop parked waiting on this workflow's next batch. A
// *eventstream.Hub satisfies this; tests can pass nil.
type wakeupNotifier interface {
	Notify(ctx context.Context, workflowID string) error
}

func New(
	cfg Config,
	queueStore *queue.Store,
	execStore *ExecutionStore,
	stepStore *StepStore,
	signalStore *SignalStore,
	streamStore *eventstream.Store,
	hub wakeupNotifier,
	flowCache *FlowCache,
	registry *node.Registry,
) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg.withDefaults(),
		queueStore:  queueStore,
		execStore:   execStore,
		stepStore:   stepStore,
		signalStore: signalStore,
		streamStore: streamStore,
		hub:         hub,
		flowCache:   flowCache,
		registry:    registry,
	}
}

// terminalEventTypes close the stream the moment one of them is emitted,
// mirroring the "stream closes on workflow terminal status" guarantee in
// spec.md §4.4.
var terminalEventTypes = map[engine.EventType]bool{
	engine.EventFlowCompleted: true,
	engine.EventFlowFailed:    true,
	engine.EventFlowCancelled: true,
}

// Execute drives task from wherever Claim found it (always "running" in
// workflow_row's terms, but "queued" in the orchestrator's own state
// machine) through to a terminal orchestrator status, then reports the
// outcome to queue.Store.Complete.
func (o *Orchestrator) Execute(ctx context.Context, task queue.Task) error {
	isChild := task.ParentExecutionID != ""
	rootID := task.RootExecutionID
	if rootID == "" {
		rootID = task.ExecutionID
	}

	if task.ExecutionDepth > o.cfg.MaxExecutionDepth {
		depthErr := errors.DepthExceeded(task.ExecutionID, task.ExecutionDepth, o.cfg.MaxExecutionDepth)
		_ = o.execStore.Create(ctx, task.ExecutionID, o.contextFromTask(task))
		_ = o.execStore.UpdateStatus(ctx, task.ExecutionID, StatusFailed, depthErr.Error())
		return o.queueStore.Complete(ctx, task.ExecutionID, queue.StatusError, nil, depthErr)
	}

	if err := o.execStore.Create(ctx, task.ExecutionID, o.contextFromTask(task)); err != nil {
		return err
	}

	emit := o.emitter(task.ExecutionID)
	_ = emit.Emit(engine.Event{Type: engine.EventExecutionCreated, OccurredAt: time.Now(), Payload: map[string]any{
		"flowId": task.FlowID, "parentExecutionId": task.ParentExecutionID, "depth": task.ExecutionDepth,
	}})

	status := StatusQueued
	advance := func(next Status) error {
		if !status.CanTransitionTo(next) {
			return errors.InvalidState(string(status), string(next))
		}
		status = next
		return o.execStore.UpdateStatus(ctx, task.ExecutionID, status, "")
	}

	if err := advance(StatusInitializing); err != nil {
		return err
	}
	f, err := o.flowCache.Load(ctx, task.FlowID, task.FlowVersion)
	if err != nil {
		return o.fail(ctx, task, &status, err)
	}

	if err := advance(StatusAwaitingStart); err != nil {
		return err
	}
	if isChild {
		// Children start themselves — there is no external client waiting
		// to call sendSignal, so the orchestrator sends its own
		// START_SIGNAL the instant it reaches this state. Checkpointed so
		// a crash-and-resume on another worker doesn't depend on whether
		// the first attempt's Send landed before the crash.
		_, stepErr := o.stepStore.Checkpoint(ctx, task.ExecutionID, "self-start-signal", "self-start-signal", func(ctx context.Context) (any, error) {
			return nil, o.signalStore.Send(ctx, task.ExecutionID, topicStartSignal, nil)
		})
		if stepErr != nil {
			return o.fail(ctx, task, &status, stepErr)
		}
	}
	startTimeout := o.cfg.RootStartTimeout
	if isChild {
		startTimeout = o.cfg.ChildStartTimeout
	}
	if err := o.signalStore.AwaitStart(ctx, task.ExecutionID, startTimeout); err != nil {
		return o.fail(ctx, task, &status, err)
	}

	if err := advance(StatusRunning); err != nil {
		return err
	}

	abort := engine.NewAbortController()
	cmd := engine.NewCommandController()
	done := make(chan struct{})
	defer close(done)

	if task.Debug {
		go o.signalStore.PollDebugCommands(ctx, task.ExecutionID, cmd, abort, done)
	}
	if isChild {
		go WatchParent(ctx, o.execStore.Status, task.ParentExecutionID, abort, done)
	}

	var eventData *node.Event
	if len(task.EventData) > 0 && string(task.EventData) != "null" {
		var payload map[string]any
		if err := json.Unmarshal(task.EventData, &payload); err == nil {
			if name, _ := payload["eventName"].(string); name != "" {
				eventPayload, _ := payload["payload"].(map[string]any)
				eventData = &node.Event{Name: name, Payload: eventPayload}
			}
		}
	}

	result, runErr := engine.Execute(ctx, f, engine.Options{
		IsChildExecution: isChild,
		EventData:        eventData,
		Emitter:          emit,
		Abort:            abort,
		Command:          cmd,
		ParallelismLimit: o.cfg.ParallelismLimit,
	})
	if runErr != nil {
		return o.fail(ctx, task, &status, runErr)
	}

	switch result.Status {
	case engine.StatusStopped:
		if err := advance(StatusStopping); err != nil {
			return err
		}
		if err := advance(StatusStopped); err != nil {
			return err
		}
		if err := o.execStore.UpdateStatus(ctx, task.ExecutionID, status, abort.Reason()); err != nil {
			return err
		}
		return o.queueStore.Complete(ctx, task.ExecutionID, queue.StatusCancelled, nil, nil)
	case engine.StatusFailed:
		return o.fail(ctx, task, &status, errors.NodeFailure(task.ExecutionID, errors.ErrNodeFailure))
	}

	var output any = map[string]any{"status": string(result.Status)}
	if len(result.ChildTasks) > 0 {
		if err := advance(StatusSpawnChildren); err != nil {
			return err
		}
		childOutputs, err := o.spawnChildren(ctx, task, rootID, result.ChildTasks)
		if err != nil {
			return o.fail(ctx, task, &status, err)
		}
		if err := advance(StatusAwaitingChildren); err != nil {
			return err
		}
		output = map[string]any{"status": string(result.Status), "children": childOutputs}
	}

	if err := advance(StatusCompleting); err != nil {
		return err
	}
	if err := advance(StatusCompleted); err != nil {
		return err
	}
	return o.queueStore.Complete(ctx, task.ExecutionID, queue.StatusSuccess, output, nil)
}

func (o *Orchestrator) fail(ctx context.Context, task queue.Task, status *Status, cause error) error {
	if status.CanTransitionTo(StatusFailing) {
		*status = StatusFailing
		_ = o.execStore.UpdateStatus(ctx, task.ExecutionID, *status, cause.Error())
	}
	*status = StatusFailed
	_ = o.execStore.UpdateStatus(ctx, task.ExecutionID, *status, cause.Error())
	return o.queueStore.Complete(ctx, task.ExecutionID, queue.StatusError, nil, cause)
}

// spawnChildren enqueues one queue.Task per ChildTask the engine
// accumulated and blocks until every child reaches a terminal result.
// With StrictChildren set, any child failure is propagated as this
// execution's own failure; otherwise child failures are recorded in the
// returned map but do not fail the parent (spec.md §4.6 "configurable
// strict/lenient failure propagation").
func (o *Orchestrator) spawnChildren(ctx context.Context, parent queue.Task, rootID string, children []engine.ChildTask) ([]map[string]any, error) {
	strict, err := o.execStore.strictChildren(ctx, parent.ExecutionID)
	if err != nil {
		strict = o.cfg.StrictChildrenByDefault
	}

	handles := make([]*queue.Handle, 0, len(children))
	for i, c := range children {
		eventData, err := json.Marshal(map[string]any{"eventName": c.EventName, "payload": c.Payload})
		if err != nil {
			return nil, errors.Internal("failed to marshal child event data", err)
		}
		childID := childExecutionID(parent.ExecutionID, i)
		h, err := o.queueStore.Enqueue(ctx, queue.Task{
			ExecutionID:       childID,
			QueueName:         parent.QueueName,
			AppVersion:        parent.AppVersion,
			FlowID:            parent.FlowID,
			FlowVersion:       parent.FlowVersion,
			Input:             parent.Input,
			Debug:             parent.Debug,
			RootExecutionID:   rootID,
			ParentExecutionID: parent.ExecutionID,
			ExecutionDepth:    parent.ExecutionDepth + 1,
			IntegrationCtx:    parent.IntegrationCtx,
			EventData:         eventData,
		})
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}

	outcomes := make([]map[string]any, len(handles))
	var firstChildErr error
	for i, h := range handles {
		res, err := h.GetResult(ctx)
		if err != nil {
			return nil, err
		}
		outcomes[i] = map[string]any{"executionId": h.ExecutionID, "status": string(res.Status)}
		if res.Status == queue.StatusError && firstChildErr == nil {
			firstChildErr = errors.Aborted(h.ExecutionID, "child execution failed")
		}
	}
	if strict && firstChildErr != nil {
		return outcomes, firstChildErr
	}
	return outcomes, nil
}

func childExecutionID(parentID string, index int) string {
	return parentID + "/child-" + strconv.Itoa(index)
}

func (o *Orchestrator) contextFromTask(task queue.Task) Context {
	var integration map[string]any
	if len(task.IntegrationCtx) > 0 {
		_ = json.Unmarshal(task.IntegrationCtx, &integration)
	}
	return Context{
		FlowID:            task.FlowID,
		Debug:             task.Debug,
		StrictChildren:    o.cfg.StrictChildrenByDefault,
		RootExecutionID:   task.RootExecutionID,
		ParentExecutionID: task.ParentExecutionID,
		ExecutionDepth:    task.ExecutionDepth,
		IntegrationCtx:    integration,
		EventData:         task.EventData,
	}
}

// emitter bridges the engine's narrow Emitter interface to the durable
// stream, marking the stream terminal the moment a terminal lifecycle
// event is emitted and pinging the notifier so real-time subscribers
// don't sit out a poll interval.
func (o *Orchestrator) emitter(executionID string) engine.Emitter {
	return engine.EmitterFunc(func(ev engine.Event) error {
		if ev.Type == engine.EventExecutionCreated {
			if err := o.streamStore.AppendCreated(context.Background(), executionID, ev.Payload); err != nil {
				return err
			}
		} else {
			opts := []eventstream.AppendOption{}
			if terminalEventTypes[ev.Type] {
				opts = append(opts, eventstream.Terminal())
			}
			if _, err := o.streamStore.Append(context.Background(), executionID, "lifecycle", string(ev.Type), ev.Payload, opts...); err != nil {
				return err
			}
		}
		if o.hub != nil {
			_ = o.hub.Notify(context.Background(), executionID)
		}
		return nil
	})
}
