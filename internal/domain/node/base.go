package node

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/chaingraph/core/internal/domain/port"
	"github.com/chaingraph/core/internal/pkg/errors"
)

// Base provides the bookkeeping every concrete node type needs —
// port indexing, status, and metadata — so that node-library
// implementations (out of scope here) only need to embed it and supply
// Execute/OnEvent. Mirrors the teacher's executor-per-type-tag
// factory pattern but keyed off the typed port model instead of a fixed
// NodeType enum.
type Base struct {
	mu sync.RWMutex

	id                    string
	typeTag               string
	meta                  Metadata
	ports                 map[string]*port.Port
	order                 []string // sorted port ids, for deterministic enumeration
	disabledAutoExecution bool
	optional              bool
	listenerEventName     string
	status                Status
}

// NewBase constructs the embeddable node bookkeeping struct.
func NewBase(id, typeTag string, disabledAutoExecution, optional bool, listenerEventName string) *Base {
	return &Base{
		id:                    id,
		typeTag:               typeTag,
		ports:                 make(map[string]*port.Port),
		disabledAutoExecution: disabledAutoExecution,
		optional:              optional,
		listenerEventName:     listenerEventName,
		status:                StatusInitialized,
	}
}

func (b *Base) Initialize(ports map[string]*port.Port) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ports = ports
	b.order = make([]string, 0, len(ports))
	for id := range ports {
		b.order = append(b.order, id)
	}
	sort.Strings(b.order)
	return nil
}

func (b *Base) ID() string   { return b.id }
func (b *Base) Type() string { return b.typeTag }

func (b *Base) GetPort(id string) (*port.Port, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.ports[id]
	if !ok {
		return nil, errors.NotFound("port", id)
	}
	return p, nil
}

func (b *Base) Ports() []*port.Port {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*port.Port, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.ports[id])
	}
	return out
}

func (b *Base) filterByDirection(d port.Direction) []*port.Port {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*port.Port
	for _, id := range b.order {
		p := b.ports[id]
		if p.Direction() == d {
			out = append(out, p)
		}
	}
	return out
}

func (b *Base) GetInputs() []*port.Port       { return b.filterByDirection(port.DirectionInput) }
func (b *Base) GetOutputs() []*port.Port      { return b.filterByDirection(port.DirectionOutput) }
func (b *Base) GetPassthroughs() []*port.Port { return b.filterByDirection(port.DirectionPassthrough) }

func (b *Base) DisabledAutoExecution() bool { return b.disabledAutoExecution }
func (b *Base) Optional() bool              { return b.optional }
func (b *Base) ListenerEventName() string   { return b.listenerEventName }

func (b *Base) GetVersion() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.meta.Version
}

func (b *Base) SetMetadata(meta Metadata) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.meta = meta
}

func (b *Base) Metadata() Metadata {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.meta
}

func (b *Base) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

func (b *Base) SetStatus(s Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = s
}

func (b *Base) Serialize() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d := Descriptor{
		ID:                    b.id,
		Type:                  b.typeTag,
		Metadata:              b.meta,
		DisabledAutoExecution: b.disabledAutoExecution,
		Optional:              b.optional,
		ListenerEventName:     b.listenerEventName,
	}
	for _, id := range b.order {
		raw, err := b.ports[id].Serialize()
		if err != nil {
			return nil, err
		}
		d.Ports = append(d.Ports, raw)
	}
	return json.Marshal(d)
}
