// Package port implements the typed port model (C1): the data types for a
// node's input/output/passthrough/system connection points, their
// kind-specific configuration, and the runtime value/resolution state a
// port carries during one execution.
package port

import (
	"encoding/json"
	"sync"

	"github.com/chaingraph/core/internal/pkg/errors"
)

// Direction is the role a port plays on its node.
type Direction string

const (
	DirectionInput       Direction = "input"
	DirectionOutput      Direction = "output"
	DirectionPassthrough Direction = "passthrough"
	DirectionSystem      Direction = "system"
)

// Kind is the closed set of port value kinds.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindArray   Kind = "array"
	KindObject  Kind = "object"
	KindEnum    Kind = "enum"
	KindStream  Kind = "stream"
	KindAny     Kind = "any"
	KindSecret  Kind = "secret"
)

// Config is a tagged union of kind-specific port configuration. Only the
// fields relevant to Kind are populated; this mirrors the teacher's
// discriminated map-based configs but as a typed struct so construction is
// checked at compile time.
type Config struct {
	Kind Kind `json:"kind"`

	// string
	MinLength *int   `json:"minLength,omitempty"`
	MaxLength *int   `json:"maxLength,omitempty"`
	Pattern   string `json:"pattern,omitempty"`

	// number
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Step *float64 `json:"step,omitempty"`

	// array / stream
	ItemConfig *Config `json:"itemConfig,omitempty"`

	// object
	Schema map[string]*Config `json:"schema,omitempty"`

	// enum
	Options []string `json:"options,omitempty"`

	// any — records the underlying kind once connected, so logical typing
	// survives without constraining runtime generality.
	UnderlyingType Kind `json:"underlyingType,omitempty"`
}

// Validate checks the config is internally consistent for its Kind.
func (c *Config) Validate() error {
	switch c.Kind {
	case KindArray, KindStream:
		if c.ItemConfig == nil {
			return errors.ValidationError("itemConfig", "array/stream ports require itemConfig")
		}
		return c.ItemConfig.Validate()
	case KindObject:
		for name, field := range c.Schema {
			if field == nil {
				return errors.ValidationError("schema."+name, "field config is required")
			}
			if err := field.Validate(); err != nil {
				return err
			}
		}
	case KindEnum:
		if len(c.Options) == 0 {
			return errors.ValidationError("options", "enum ports require at least one option")
		}
	case KindString, KindNumber, KindBoolean, KindAny, KindSecret:
		// no cross-field invariants beyond the kind itself.
	default:
		return errors.ValidationError("kind", "unknown port kind: "+string(c.Kind))
	}
	return nil
}

// CompatibleWith reports whether a value produced by a source port of this
// config may be delivered to a target port of config `other`. Compatibility
// is checked at edge-creation time, never re-checked during execution.
func (c *Config) CompatibleWith(other *Config) bool {
	if c.Kind == KindAny || other.Kind == KindAny {
		return true
	}
	if c.Kind != other.Kind {
		return false
	}
	if c.Kind == KindArray || c.Kind == KindStream {
		return c.ItemConfig.CompatibleWith(other.ItemConfig)
	}
	return true
}

// Port is a single named, typed connection point on a node.
type Port struct {
	mu sync.RWMutex

	id        string
	key       string
	direction Direction
	config    *Config
	required  bool
	defValue  any
	value     any
	resolved  bool
}

// New constructs a port. key is stable within the node's type tag and
// equals id for root (non-nested) ports.
func New(id, key string, direction Direction, config *Config, required bool, defValue any) (*Port, error) {
	if id == "" {
		return nil, errors.ValidationError("id", "port id is required")
	}
	if config == nil {
		return nil, errors.ValidationError("config", "port config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if key == "" {
		key = id
	}
	p := &Port{
		id:        id,
		key:       key,
		direction: direction,
		config:    config,
		required:  required,
		defValue:  defValue,
	}
	if defValue != nil {
		p.value = defValue
	}
	return p, nil
}

func (p *Port) ID() string          { return p.id }
func (p *Port) Key() string         { return p.key }
func (p *Port) Direction() Direction { return p.direction }
func (p *Port) Required() bool      { return p.required }
func (p *Port) IsSystem() bool      { return p.direction == DirectionSystem }

// GetConfig returns the port's kind-specific configuration.
func (p *Port) GetConfig() *Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config
}

// GetValue returns the port's current runtime value.
func (p *Port) GetValue() any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value
}

// SetValue assigns the port's runtime value without marking it resolved —
// use Resolve to mark it final. Nodes update values freely before
// resolution (e.g. partial streaming writes).
func (p *Port) SetValue(v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.value = v
}

// Resolved reports whether the port's value is final for this execution.
func (p *Port) Resolved() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.resolved
}

// Resolve marks the port's current value as final. Idempotent: resolving an
// already-resolved port is a no-op, matching the spec's treatment of
// resolvePort as implementation-defined-but-idempotent for nested ports.
func (p *Port) Resolve(v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolved {
		return
	}
	if v != nil {
		p.value = v
	}
	p.resolved = true
}

// Reset clears the resolution state and restores the default value, for
// reuse of a node/port descriptor across executions.
func (p *Port) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolved = false
	p.value = p.defValue
}

// Validate checks only that a required port has a value or has been
// resolved. The value is not checked against the port's kind or schema.
func (p *Port) Validate() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.required && p.value == nil && !p.resolved {
		return errors.ValidationError(p.id, "required port has no value")
	}
	return nil
}

// serializedPort is the wire/storage shape of a Port.
type serializedPort struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Direction Direction `json:"direction"`
	Config    *Config   `json:"config"`
	Required  bool      `json:"required"`
	Default   any       `json:"default,omitempty"`
	Value     any       `json:"value,omitempty"`
}

// Serialize renders the port for wire transport or persistence. Secret-kind
// ports mask their value in all UI-oriented serializations.
func (p *Port) Serialize() ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	value := p.value
	if p.config.Kind == KindSecret && value != nil {
		value = "••••••••"
	}
	return json.Marshal(serializedPort{
		ID:        p.id,
		Key:       p.key,
		Direction: p.direction,
		Config:    p.config,
		Required:  p.required,
		Default:   p.defValue,
		Value:     value,
	})
}

// Deserialize reconstructs a Port from its serialized form. The masked
// secret-kind value (if any) is intentionally not restored as a live
// value — secrets must be re-supplied out of band.
func Deserialize(data []byte) (*Port, error) {
	var s serializedPort
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.InvalidInput("port", "malformed port json: "+err.Error())
	}
	p, err := New(s.ID, s.Key, s.Direction, s.Config, s.Required, s.Default)
	if err != nil {
		return nil, err
	}
	if s.Config.Kind != KindSecret {
		p.value = s.Value
	}
	return p, nil
}
