package node_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaingraph/core/internal/domain/node"
	"github.com/chaingraph/core/internal/domain/port"
)

// stubNode is a minimal node.Node used only to exercise node.Base and
// node.Registry; it has no domain meaning of its own.
type stubNode struct {
	*node.Base
}

func newStubNode(id string) *stubNode {
	return &stubNode{Base: node.NewBase(id, "stub", false, false, "")}
}

func (s *stubNode) Execute(ctx node.ExecContext) error { return nil }
func (s *stubNode) OnEvent(evt node.Event) error        { return nil }

func buildStubPorts(t *testing.T) map[string]*port.Port {
	t.Helper()
	in, err := port.New("in", "in", port.DirectionInput, &port.Config{Kind: port.KindString}, false, nil)
	require.NoError(t, err)
	out, err := port.New("out", "out", port.DirectionOutput, &port.Config{Kind: port.KindString}, false, nil)
	require.NoError(t, err)
	return map[string]*port.Port{"in": in, "out": out}
}

func TestBase_Initialize_IndexesPorts(t *testing.T) {
	n := newStubNode("n1")
	require.NoError(t, n.Initialize(buildStubPorts(t)))

	assert.Len(t, n.Ports(), 2)
	assert.Len(t, n.GetInputs(), 1)
	assert.Len(t, n.GetOutputs(), 1)

	p, err := n.GetPort("in")
	require.NoError(t, err)
	assert.Equal(t, "in", p.ID())
}

func TestBase_GetPort_UnknownReturnsError(t *testing.T) {
	n := newStubNode("n1")
	require.NoError(t, n.Initialize(buildStubPorts(t)))

	_, err := n.GetPort("does-not-exist")
	require.Error(t, err)
}

func TestBase_StatusDefaultsToInitialized(t *testing.T) {
	n := newStubNode("n1")
	assert.Equal(t, node.StatusInitialized, n.Status())

	n.SetStatus(node.StatusRunning)
	assert.Equal(t, node.StatusRunning, n.Status())
}

func TestBase_Serialize_IncludesAllPorts(t *testing.T) {
	n := newStubNode("n1")
	require.NoError(t, n.Initialize(buildStubPorts(t)))
	n.SetMetadata(node.Metadata{Title: "Stub"})

	raw, err := n.Serialize()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"id":"n1"`)
	assert.Contains(t, string(raw), `"type":"stub"`)
	assert.Contains(t, string(raw), "Stub")
}

func TestRegistry_BuildUnknownType_Fails(t *testing.T) {
	r := node.NewRegistry()
	_, err := r.Build(node.Descriptor{Type: "nonexistent"})
	require.Error(t, err)
	assert.False(t, r.Has("nonexistent"))
}

func TestRegistry_RegisterAndBuild(t *testing.T) {
	r := node.NewRegistry()
	r.Register("stub", func(d node.Descriptor) (node.Node, error) {
		return newStubNode(d.ID), nil
	})

	require.True(t, r.Has("stub"))
	n, err := r.Build(node.Descriptor{ID: "n1", Type: "stub"})
	require.NoError(t, err)
	assert.Equal(t, "n1", n.ID())
	assert.Equal(t, "stub", n.Type())
}

func TestRegistry_Register_OverwritesExistingFactory(t *testing.T) {
	r := node.NewRegistry()
	r.Register("stub", func(d node.Descriptor) (node.Node, error) {
		return newStubNode("first"), nil
	})
	r.Register("stub", func(d node.Descriptor) (node.Node, error) {
		return newStubNode("second"), nil
	})

	n, err := r.Build(node.Descriptor{Type: "stub"})
	require.NoError(t, err)
	assert.Equal(t, "second", n.ID())
}
