// Package flow implements the C2 flow model: a set of nodes, a set of
// edges connecting their ports, flow-level metadata, validation, and
// (de)serialization. A flow is created and mutated by external tooling;
// the core loads it read-only when an execution starts.
package flow

import (
	"encoding/json"
	"time"

	"github.com/chaingraph/core/internal/domain/node"
	"github.com/chaingraph/core/internal/domain/port"
	"github.com/chaingraph/core/internal/pkg/errors"
	pkguuid "github.com/chaingraph/core/internal/pkg/uuid"
)

// EdgeStatus is whether an edge currently delivers values.
type EdgeStatus string

const (
	EdgeActive   EdgeStatus = "active"
	EdgeInactive EdgeStatus = "inactive"
)

// Endpoint identifies a (node, port) pair.
type Endpoint struct {
	NodeID string `json:"nodeId"`
	PortID string `json:"portId"`
}

// Edge is a directed connection from an output/passthrough port to an
// input/passthrough port. Once active it delivers the source port's
// current value to the target port immediately on source resolution.
type Edge struct {
	ID       string         `json:"id"`
	Source   Endpoint       `json:"source"`
	Target   Endpoint       `json:"target"`
	Status   EdgeStatus     `json:"status"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Metadata is flow-level descriptive data.
type Metadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Owner       string   `json:"owner,omitempty"`
}

// Flow is the aggregate of nodes + edges + metadata that one execution
// runs. Not mutated by the core during execution.
type Flow struct {
	id        string
	version   string
	metadata  Metadata
	nodes     map[string]node.Node
	nodeOrder []string
	edges     []Edge
	createdAt time.Time
	updatedAt time.Time
}

// New constructs an empty flow ready to accept nodes and edges.
func New(meta Metadata, version string) *Flow {
	if version == "" {
		version = "1.0.0"
	}
	now := time.Now()
	return &Flow{
		id:        pkguuid.New(),
		version:   version,
		metadata:  meta,
		nodes:     make(map[string]node.Node),
		createdAt: now,
		updatedAt: now,
	}
}

func (f *Flow) ID() string         { return f.id }
func (f *Flow) Version() string    { return f.version }
func (f *Flow) Metadata() Metadata { return f.metadata }
func (f *Flow) CreatedAt() time.Time { return f.createdAt }
func (f *Flow) UpdatedAt() time.Time { return f.updatedAt }

// Nodes returns the flow's nodes in deterministic (insertion) order.
func (f *Flow) Nodes() []node.Node {
	out := make([]node.Node, 0, len(f.nodeOrder))
	for _, id := range f.nodeOrder {
		out = append(out, f.nodes[id])
	}
	return out
}

// Node looks up a node by id.
func (f *Flow) Node(id string) (node.Node, bool) {
	n, ok := f.nodes[id]
	return n, ok
}

// Edges returns the flow's edges.
func (f *Flow) Edges() []Edge { return f.edges }

// AddNode adds a node to the flow. DuplicateNodeId if id collides.
func (f *Flow) AddNode(n node.Node) error {
	if _, exists := f.nodes[n.ID()]; exists {
		return errors.NewDomainError("DUPLICATE_NODE_ID", "duplicate node id: "+n.ID(), errors.ErrAlreadyExists)
	}
	f.nodes[n.ID()] = n
	f.nodeOrder = append(f.nodeOrder, n.ID())
	f.updatedAt = time.Now()
	return nil
}

// RemoveNode removes a node and any edges touching it.
func (f *Flow) RemoveNode(id string) error {
	if _, exists := f.nodes[id]; !exists {
		return errors.NotFound("node", id)
	}
	delete(f.nodes, id)
	for i, nid := range f.nodeOrder {
		if nid == id {
			f.nodeOrder = append(f.nodeOrder[:i], f.nodeOrder[i+1:]...)
			break
		}
	}
	kept := f.edges[:0]
	for _, e := range f.edges {
		if e.Source.NodeID != id && e.Target.NodeID != id {
			kept = append(kept, e)
		}
	}
	f.edges = kept
	f.updatedAt = time.Now()
	return nil
}

// AddEdge validates endpoint existence and port-kind compatibility, then
// adds the edge. InvalidEdge covers both a missing endpoint and an
// incompatible direction/kind pairing.
func (f *Flow) AddEdge(e Edge) error {
	if err := f.validateEdge(e); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = pkguuid.New()
	}
	if e.Status == "" {
		e.Status = EdgeActive
	}
	f.edges = append(f.edges, e)
	f.updatedAt = time.Now()
	return nil
}

// RemoveEdge removes an edge by id.
func (f *Flow) RemoveEdge(id string) error {
	for i, e := range f.edges {
		if e.ID == id {
			f.edges = append(f.edges[:i], f.edges[i+1:]...)
			f.updatedAt = time.Now()
			return nil
		}
	}
	return errors.NotFound("edge", id)
}

func (f *Flow) validateEdge(e Edge) error {
	if e.Source.NodeID == e.Target.NodeID && e.Source.PortID == e.Target.PortID {
		return errors.NewDomainError("INVALID_EDGE", "edge cannot connect a port to itself", errors.ErrInvalidInput)
	}
	srcNode, ok := f.nodes[e.Source.NodeID]
	if !ok {
		return errors.NewDomainError("INVALID_EDGE", "source node not found: "+e.Source.NodeID, errors.ErrInvalidInput)
	}
	tgtNode, ok := f.nodes[e.Target.NodeID]
	if !ok {
		return errors.NewDomainError("INVALID_EDGE", "target node not found: "+e.Target.NodeID, errors.ErrInvalidInput)
	}
	srcPort, err := srcNode.GetPort(e.Source.PortID)
	if err != nil {
		return errors.NewDomainError("INVALID_EDGE", "source port not found: "+e.Source.PortID, errors.ErrInvalidInput)
	}
	tgtPort, err := tgtNode.GetPort(e.Target.PortID)
	if err != nil {
		return errors.NewDomainError("INVALID_EDGE", "target port not found: "+e.Target.PortID, errors.ErrInvalidInput)
	}
	if !legalDirection(srcPort.Direction(), tgtPort.Direction()) {
		return errors.NewDomainError("INVALID_EDGE", "illegal port direction pairing", errors.ErrInvalidInput)
	}
	if !srcPort.GetConfig().CompatibleWith(tgtPort.GetConfig()) {
		return errors.NewDomainError("INVALID_EDGE", "incompatible port kinds", errors.ErrInvalidInput)
	}
	return nil
}

// legalDirection enforces output|passthrough -> input|passthrough.
func legalDirection(src, tgt port.Direction) bool {
	srcOK := src == port.DirectionOutput || src == port.DirectionPassthrough
	tgtOK := tgt == port.DirectionInput || tgt == port.DirectionPassthrough
	return srcOK && tgtOK
}

// Validate checks the whole flow: duplicate ids are already prevented by
// AddNode, so Validate re-checks edges (endpoints/kinds) and the
// acyclicity of the data-edge graph (event-listener indirection is
// exempt: listener nodes are DisabledAutoExecution and are reached only
// via a child execution, never via a back-edge).
func (f *Flow) Validate() error {
	for _, e := range f.edges {
		if err := f.validateEdge(e); err != nil {
			return err
		}
	}
	return f.checkAcyclic()
}

func (f *Flow) checkAcyclic() error {
	adj := make(map[string][]string)
	for _, e := range f.edges {
		adj[e.Source.NodeID] = append(adj[e.Source.NodeID], e.Target.NodeID)
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(f.nodeOrder))
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, next := range adj[id] {
			switch color[next] {
			case gray:
				return errors.NewDomainError("CYCLE_DETECTED", "flow contains a data-edge cycle through "+next, errors.ErrGraphCycle)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for _, id := range f.nodeOrder {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// serializedFlow is the wire/storage shape of a Flow.
type serializedFlow struct {
	ID        string             `json:"id"`
	Version   string             `json:"version"`
	Metadata  Metadata           `json:"metadata"`
	Nodes     []json.RawMessage  `json:"nodes"`
	Edges     []Edge             `json:"edges"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// Serialize renders the flow to its wire/storage JSON form.
func (f *Flow) Serialize() ([]byte, error) {
	s := serializedFlow{
		ID:        f.id,
		Version:   f.version,
		Metadata:  f.metadata,
		Edges:     f.edges,
		CreatedAt: f.createdAt,
		UpdatedAt: f.updatedAt,
	}
	for _, id := range f.nodeOrder {
		raw, err := f.nodes[id].Serialize()
		if err != nil {
			return nil, err
		}
		s.Nodes = append(s.Nodes, raw)
	}
	return json.Marshal(s)
}

// Deserialize reconstructs a Flow from JSON, rebuilding each node via the
// registry keyed by its type tag, then calling Initialize on each node to
// finalize its internal port index. UnknownNodeType surfaces if a node's
// type tag is not registered.
func Deserialize(data []byte, registry *node.Registry) (*Flow, error) {
	var s serializedFlow
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.InvalidInput("flow", "malformed flow json: "+err.Error())
	}
	f := &Flow{
		id:        s.ID,
		version:   s.Version,
		metadata:  s.Metadata,
		nodes:     make(map[string]node.Node),
		edges:     s.Edges,
		createdAt: s.CreatedAt,
		updatedAt: s.UpdatedAt,
	}
	seen := make(map[string]bool)
	for _, raw := range s.Nodes {
		var d node.Descriptor
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, errors.InvalidInput("node", "malformed node json: "+err.Error())
		}
		if seen[d.ID] {
			return nil, errors.NewDomainError("DUPLICATE_NODE_ID", "duplicate node id: "+d.ID, errors.ErrAlreadyExists)
		}
		seen[d.ID] = true
		if !registry.Has(d.Type) {
			return nil, errors.NewDomainError("UNKNOWN_NODE_TYPE", "unknown node type: "+d.Type, errors.ErrInvalidInput)
		}
		n, err := registry.Build(d)
		if err != nil {
			return nil, err
		}
		ports := make(map[string]*port.Port, len(d.Ports))
		for _, rawPort := range d.Ports {
			p, err := port.Deserialize(rawPort)
			if err != nil {
				return nil, err
			}
			ports[p.ID()] = p
		}
		if err := n.Initialize(ports); err != nil {
			return nil, err
		}
		n.SetMetadata(d.Metadata)
		f.nodes[d.ID] = n
		f.nodeOrder = append(f.nodeOrder, d.ID)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}
