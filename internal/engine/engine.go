// Package engine implements the C3 execution engine: the in-process graph
// evaluator that resolves port dataflow, schedules nodes for execution,
// enforces breakpoints, and emits lifecycle events. It never performs
// durable I/O itself — the orchestrator supplies an Emitter and collects
// the ChildTasks this engine cannot spawn on its own.
package engine

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/chaingraph/core/internal/domain/flow"
	"github.com/chaingraph/core/internal/domain/node"
	"github.com/chaingraph/core/internal/domain/port"
)

// Status is the terminal outcome of one Execute call.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// ChildTask is one event-emitter request accumulated during execution,
// returned to the orchestrator so it can enqueue it where durable
// operations are permitted (§4.3).
type ChildTask struct {
	SourceNodeID string
	EventName    string
	Payload      map[string]any
}

// Result is what Execute returns.
type Result struct {
	Status     Status
	Duration   time.Duration
	ChildTasks []ChildTask
}

// Options configures one Execute invocation.
type Options struct {
	IsChildExecution bool
	EventData        *node.Event
	GlobalState      map[string]any

	Emitter           Emitter
	Abort             *AbortController
	Command           *CommandController
	Breakpoints       map[string]bool
	ParallelismLimit  int // in-process node concurrency, default 4
	StrictOptionalOff bool
}

const defaultParallelismLimit = 4

// Execute runs flow f to completion (or failure/stop) within the current
// process in one step invocation. It does not spawn child executions
// itself — see ChildTask/Result.ChildTasks.
func Execute(ctx context.Context, f *flow.Flow, opts Options) (*Result, error) {
	start := time.Now()
	if opts.Emitter == nil {
		opts.Emitter = EmitterFunc(func(Event) error { return nil })
	}
	if opts.Abort == nil {
		opts.Abort = NewAbortController()
	}
	limit := opts.ParallelismLimit
	if limit <= 0 {
		limit = defaultParallelismLimit
	}

	global := make(map[string]any, len(opts.GlobalState))
	for k, v := range opts.GlobalState {
		global[k] = v
	}

	s := newScheduler(f, opts, global)
	opts.Emitter.Emit(newEvent(EventFlowStarted, nil))

	nodeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-opts.Abort.Done():
			cancel()
		case <-nodeCtx.Done():
		}
	}()

	status, err := s.run(nodeCtx, limit)
	dur := time.Since(start)

	switch status {
	case StatusCompleted:
		opts.Emitter.Emit(newEvent(EventFlowCompleted, nil))
	case StatusFailed:
		payload := map[string]any{}
		if err != nil {
			payload["error"] = err.Error()
		}
		opts.Emitter.Emit(newEvent(EventFlowFailed, payload))
	case StatusStopped:
		opts.Emitter.Emit(newEvent(EventFlowCancelled, map[string]any{"reason": opts.Abort.Reason()}))
	}

	return &Result{
		Status:     status,
		Duration:   dur,
		ChildTasks: s.childTasks(),
	}, nil
}

// nodeResult is what a node-execution goroutine reports back to the
// single scheduler goroutine.
type nodeResult struct {
	nodeID string
	err    error
}

// scheduler owns the ready-set and drives the single-threaded cooperative
// scheduling loop described in §4.3. Node bodies run concurrently; the
// scheduler's mutations of the ready set and port resolution happen
// serialized, either on the scheduler goroutine or briefly under mu from
// a node body calling ResolvePort.
type scheduler struct {
	flow *flow.Flow
	opts Options

	mu    chan struct{} // binary mutex usable from scheduler and resolve()
	ready []string
	layer map[string]int

	depPorts     map[string][]string          // nodeID -> input port ids gated by an incoming edge
	edgesBySrc   map[flow.Endpoint][]flow.Edge // active edges keyed by source endpoint
	started      map[string]bool
	done         map[string]bool
	firstPause   bool
	state        *runState
	childResults []ChildTask
}

func newScheduler(f *flow.Flow, opts Options, global map[string]any) *scheduler {
	s := &scheduler{
		flow:     f,
		opts:     opts,
		mu:       make(chan struct{}, 1),
		layer:    computeLayers(f),
		depPorts: make(map[string][]string),
		edgesBySrc: make(map[flow.Endpoint][]flow.Edge),
		started:  make(map[string]bool),
		done:     make(map[string]bool),
	}
	s.mu <- struct{}{}

	for _, e := range f.Edges() {
		if e.Status != flow.EdgeActive {
			continue
		}
		s.edgesBySrc[e.Source] = append(s.edgesBySrc[e.Source], e)
	}
	for _, n := range f.Nodes() {
		for _, p := range n.GetInputs() {
			if hasIncoming(f, n.ID(), p.ID()) {
				s.depPorts[n.ID()] = append(s.depPorts[n.ID()], p.ID())
			} else if !p.Resolved() {
				p.Resolve(p.GetValue())
			}
		}
	}

	s.state = &runState{
		isChild:   opts.IsChildExecution,
		eventData: opts.EventData,
		global:    global,
		resolve:   s.resolvePort,
	}

	for _, n := range f.Nodes() {
		if s.nodeEligible(n) && s.nodeReady(n) {
			s.ready = append(s.ready, n.ID())
		}
	}
	return s
}

func hasIncoming(f *flow.Flow, nodeID, portID string) bool {
	for _, e := range f.Edges() {
		if e.Status == flow.EdgeActive && e.Target.NodeID == nodeID && e.Target.PortID == portID {
			return true
		}
	}
	return false
}

// nodeEligible reports whether a node may ever be auto-scheduled: listener
// nodes (disabledAutoExecution) only run in a child execution whose
// eventData matches their configured listener name (invariant 6).
func (s *scheduler) nodeEligible(n node.Node) bool {
	if !n.DisabledAutoExecution() {
		return true
	}
	if !s.state.isChild || s.state.eventData == nil {
		return false
	}
	return matchesListener(n, s.state.eventData.Name)
}

// matchesListener reports whether node n is configured to listen for the
// given event name. Node implementations that care about listener
// matching expose it via Metadata().UIHints["listenerEventName"]; nodes
// that don't carry this hint never match.
func matchesListener(n node.Node, eventName string) bool {
	hints := n.Metadata().UIHints
	if hints == nil {
		return false
	}
	v, ok := hints["listenerEventName"].(string)
	return ok && v == eventName
}

func (s *scheduler) nodeReady(n node.Node) bool {
	for _, portID := range s.depPorts[n.ID()] {
		p, err := n.GetPort(portID)
		if err != nil || !p.Resolved() {
			return false
		}
	}
	return true
}

func (s *scheduler) lock()   { <-s.mu }
func (s *scheduler) unlock() { s.mu <- struct{}{} }

// resolvePort is the runState.resolve implementation: mark a node's port
// resolved with v, then propagate along its outgoing edges. Safe to call
// from any node-execution goroutine concurrently with the scheduler loop.
func (s *scheduler) resolvePort(nodeID, portID string, v any) {
	s.lock()
	defer s.unlock()
	s.resolveAndPropagateLocked(nodeID, portID, v)
}

func (s *scheduler) resolveAndPropagateLocked(nodeID, portID string, v any) {
	n, ok := s.flow.Node(nodeID)
	if !ok {
		return
	}
	p, err := n.GetPort(portID)
	if err != nil {
		return
	}
	if p.Resolved() {
		return
	}
	p.Resolve(v)

	src := flow.Endpoint{NodeID: nodeID, PortID: portID}
	for _, e := range s.edgesBySrc[src] {
		s.opts.Emitter.Emit(newEvent(EventEdgeTransferStarted, map[string]any{
			"edgeId": e.ID, "source": e.Source, "target": e.Target,
		}))
		tgtNode, ok := s.flow.Node(e.Target.NodeID)
		if !ok {
			s.opts.Emitter.Emit(newEvent(EventEdgeTransferFailed, map[string]any{"edgeId": e.ID}))
			continue
		}
		tgtPort, err := tgtNode.GetPort(e.Target.PortID)
		if err != nil {
			s.opts.Emitter.Emit(newEvent(EventEdgeTransferFailed, map[string]any{"edgeId": e.ID}))
			continue
		}
		passthrough := tgtPort.Direction() == port.DirectionPassthrough
		if !passthrough {
			tgtPort.Resolve(p.GetValue())
		}
		s.opts.Emitter.Emit(newEvent(EventEdgeTransferComplete, map[string]any{
			"edgeId": e.ID, "source": e.Source, "target": e.Target,
		}))

		if passthrough {
			s.resolveAndPropagateLocked(e.Target.NodeID, e.Target.PortID, p.GetValue())
			continue
		}
		if s.started[e.Target.NodeID] || s.done[e.Target.NodeID] {
			continue
		}
		if s.nodeEligible(tgtNode) && s.nodeReady(tgtNode) {
			s.ready = append(s.ready, e.Target.NodeID)
		}
	}
}

func (s *scheduler) childTasks() []ChildTask {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	out := make([]ChildTask, 0, len(s.state.children))
	for _, c := range s.state.children {
		out = append(out, ChildTask{SourceNodeID: c.sourceNodeID, EventName: c.eventName, Payload: c.payload})
	}
	return out
}

// run drives the scheduling loop until the ready set and in-flight count
// both empty out, an abort fires, or a non-optional node fails.
func (s *scheduler) run(ctx context.Context, limit int) (Status, error) {
	sem := semaphore.NewWeighted(int64(limit))
	results := make(chan nodeResult, limit*2+1)
	inFlight := 0
	var firstErr error
	failed := false

	for {
		if s.opts.Abort.Aborted() {
			s.drain(results, inFlight)
			s.skipRemaining()
			return StatusStopped, nil
		}

		aborted, stepped := s.waitIfPaused(ctx)
		if aborted {
			s.drain(results, inFlight)
			s.skipRemaining()
			return StatusStopped, nil
		}

		// A STEP token admits exactly one ready node this tick, even if
		// more are ready and parallelism would otherwise allow them (§4.3
		// Debug semantics: STEP starts exactly one node, then re-pauses).
		popLimit := limit
		if stepped {
			popLimit = 1
		}

		s.lock()
		sort.Slice(s.ready, func(i, j int) bool {
			ni, _ := s.flow.Node(s.ready[i])
			nj, _ := s.flow.Node(s.ready[j])
			li, lj := s.layer[s.ready[i]], s.layer[s.ready[j]]
			if li != lj {
				return li < lj
			}
			return ni.ID() < nj.ID()
		})
		var popped []string
		for len(s.ready) > 0 && !failed && len(popped) < popLimit && sem.TryAcquire(1) {
			id := s.ready[0]
			s.ready = s.ready[1:]
			s.started[id] = true
			popped = append(popped, id)
		}
		s.unlock()

		for _, id := range popped {
			inFlight++
			go s.runNode(ctx, id, sem, results)
		}

		if len(popped) == 0 && inFlight == 0 {
			break
		}
		if len(popped) == 0 && inFlight > 0 {
			r := <-results
			inFlight--
			s.done[r.nodeID] = true
			if r.err != nil {
				n, _ := s.flow.Node(r.nodeID)
				if n != nil && !n.Optional() {
					failed = true
					firstErr = r.err
				}
			}
			if failed {
				s.drain(results, inFlight)
				s.skipRemaining()
				return StatusFailed, firstErr
			}
		}
	}
	s.skipRemaining()
	return StatusCompleted, nil
}

func (s *scheduler) drain(results chan nodeResult, inFlight int) {
	for inFlight > 0 {
		<-results
		inFlight--
	}
}

// skipRemaining emits NODE_SKIPPED for every node that never started,
// whether because it was disabled-auto-execution, unreachable, or
// abandoned by an abort/failure.
func (s *scheduler) skipRemaining() {
	for _, n := range s.flow.Nodes() {
		if s.started[n.ID()] {
			continue
		}
		n.SetStatus(node.StatusSkipped)
		s.opts.Emitter.Emit(newEvent(EventNodeSkipped, map[string]any{"nodeId": n.ID()}))
	}
}

// waitIfPaused blocks while a PAUSE is active, emitting FLOW_PAUSED on
// first transition and FLOW_RESUMED on leaving. Returns aborted true if
// the abort controller fired while waiting, or stepped true if a STEP
// token was consumed to let this tick through — in which case the caller
// must pop at most one ready node before re-entering pause.
func (s *scheduler) waitIfPaused(ctx context.Context) (aborted bool, stepped bool) {
	cmd := s.opts.Command
	if cmd == nil || !cmd.Paused() {
		return false, false
	}
	if !s.firstPause {
		s.opts.Emitter.Emit(newEvent(EventFlowPaused, nil))
		s.firstPause = true
	}
	for {
		if cmd.consumeStep() {
			return false, true
		}
		if !cmd.Paused() {
			s.opts.Emitter.Emit(newEvent(EventFlowResumed, nil))
			s.firstPause = false
			return false, false
		}
		select {
		case <-s.opts.Abort.Done():
			return true, false
		case <-ctx.Done():
			return true, false
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func (s *scheduler) runNode(ctx context.Context, id string, sem *semaphore.Weighted, results chan<- nodeResult) {
	defer sem.Release(1)
	n, ok := s.flow.Node(id)
	if !ok {
		results <- nodeResult{nodeID: id, err: nil}
		return
	}
	n.SetStatus(node.StatusRunning)
	s.opts.Emitter.Emit(newEvent(EventNodeStarted, map[string]any{"nodeId": id, "nodeType": n.Type()}))

	if s.opts.Breakpoints[id] {
		s.opts.Emitter.Emit(newEvent(EventDebugBreakpointHit, map[string]any{"nodeId": id}))
		if s.opts.Command != nil {
			s.opts.Command.Pause()
		}
	}

	ec := &execContext{Context: ctx, nodeID: id, state: s.state}
	err := n.Execute(ec)
	if err != nil {
		n.SetStatus(node.StatusFailed)
		s.opts.Emitter.Emit(newEvent(EventNodeFailed, map[string]any{"nodeId": id, "error": err.Error()}))
		results <- nodeResult{nodeID: id, err: err}
		return
	}

	s.lock()
	for _, p := range portsOf(n, portPredicate) {
		if !p.Resolved() {
			s.resolveAndPropagateLocked(id, p.ID(), p.GetValue())
		}
	}
	s.unlock()

	n.SetStatus(node.StatusCompleted)
	s.opts.Emitter.Emit(newEvent(EventNodeCompleted, map[string]any{"nodeId": id}))
	results <- nodeResult{nodeID: id}
}

func portPredicate(p *port.Port) bool {
	return p.Direction() == port.DirectionOutput || p.Direction() == port.DirectionPassthrough
}

func portsOf(n node.Node, pred func(*port.Port) bool) []*port.Port {
	var out []*port.Port
	for _, p := range n.Ports() {
		if pred(p) {
			out = append(out, p)
		}
	}
	return out
}

// computeLayers assigns each node its longest-path depth from a root (a
// node with no incoming active edges), used as the primary ready-set
// tie-break so test traces are stable (§4.3 Tie-breaks).
func computeLayers(f *flow.Flow) map[string]int {
	layer := make(map[string]int)
	incoming := make(map[string][]string)
	for _, e := range f.Edges() {
		if e.Status != flow.EdgeActive {
			continue
		}
		incoming[e.Target.NodeID] = append(incoming[e.Target.NodeID], e.Source.NodeID)
	}
	var visit func(id string, seen map[string]bool) int
	visit = func(id string, seen map[string]bool) int {
		if l, ok := layer[id]; ok {
			return l
		}
		if seen[id] {
			return 0 // acyclicity already validated at flow.Validate time
		}
		seen[id] = true
		max := -1
		for _, p := range incoming[id] {
			if l := visit(p, seen); l > max {
				max = l
			}
		}
		layer[id] = max + 1
		return layer[id]
	}
	for _, n := range f.Nodes() {
		visit(n.ID(), map[string]bool{})
	}
	return layer
}
