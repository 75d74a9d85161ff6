package flow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaingraph/core/internal/domain/flow"
	"github.com/chaingraph/core/internal/domain/node"
	"github.com/chaingraph/core/internal/domain/port"
)

type testNode struct {
	*node.Base
}

func newTestNode(id string) *testNode {
	return &testNode{Base: node.NewBase(id, "test", false, false, "")}
}

func (n *testNode) Execute(ctx node.ExecContext) error { return nil }
func (n *testNode) OnEvent(evt node.Event) error        { return nil }

func testRegistry() *node.Registry {
	r := node.NewRegistry()
	r.Register("test", func(d node.Descriptor) (node.Node, error) {
		return newTestNode(d.ID), nil
	})
	return r
}

func newNodeWithPort(t *testing.T, id string, dir port.Direction, kind port.Kind) *testNode {
	t.Helper()
	n := newTestNode(id)
	p, err := port.New("p", "p", dir, &port.Config{Kind: kind}, false, nil)
	require.NoError(t, err)
	require.NoError(t, n.Initialize(map[string]*port.Port{"p": p}))
	return n
}

func TestFlow_AddNode_RejectsDuplicateID(t *testing.T) {
	f := flow.New(flow.Metadata{Name: "f"}, "")
	require.NoError(t, f.AddNode(newTestNode("n1")))
	require.Error(t, f.AddNode(newTestNode("n1")))
}

func TestFlow_AddEdge_RejectsUnknownEndpoints(t *testing.T) {
	f := flow.New(flow.Metadata{Name: "f"}, "")
	src := newNodeWithPort(t, "src", port.DirectionOutput, port.KindString)
	require.NoError(t, f.AddNode(src))

	err := f.AddEdge(flow.Edge{
		Source: flow.Endpoint{NodeID: "src", PortID: "p"},
		Target: flow.Endpoint{NodeID: "missing", PortID: "p"},
	})
	require.Error(t, err)
}

func TestFlow_AddEdge_RejectsIncompatibleKinds(t *testing.T) {
	f := flow.New(flow.Metadata{Name: "f"}, "")
	src := newNodeWithPort(t, "src", port.DirectionOutput, port.KindString)
	tgt := newNodeWithPort(t, "tgt", port.DirectionInput, port.KindNumber)
	require.NoError(t, f.AddNode(src))
	require.NoError(t, f.AddNode(tgt))

	err := f.AddEdge(flow.Edge{
		Source: flow.Endpoint{NodeID: "src", PortID: "p"},
		Target: flow.Endpoint{NodeID: "tgt", PortID: "p"},
	})
	require.Error(t, err)
}

func TestFlow_AddEdge_AcceptsCompatibleEdge(t *testing.T) {
	f := flow.New(flow.Metadata{Name: "f"}, "")
	src := newNodeWithPort(t, "src", port.DirectionOutput, port.KindString)
	tgt := newNodeWithPort(t, "tgt", port.DirectionInput, port.KindString)
	require.NoError(t, f.AddNode(src))
	require.NoError(t, f.AddNode(tgt))

	err := f.AddEdge(flow.Edge{
		Source: flow.Endpoint{NodeID: "src", PortID: "p"},
		Target: flow.Endpoint{NodeID: "tgt", PortID: "p"},
	})
	require.NoError(t, err)
	assert.Len(t, f.Edges(), 1)
	assert.Equal(t, flow.EdgeActive, f.Edges()[0].Status)
}

func TestFlow_Validate_DetectsCycle(t *testing.T) {
	f := flow.New(flow.Metadata{Name: "f"}, "")
	a := newTestNode("a")
	b := newTestNode("b")
	pOut, err := port.New("out", "out", port.DirectionPassthrough, &port.Config{Kind: port.KindAny}, false, nil)
	require.NoError(t, err)
	pIn, err := port.New("in", "in", port.DirectionPassthrough, &port.Config{Kind: port.KindAny}, false, nil)
	require.NoError(t, err)
	require.NoError(t, a.Initialize(map[string]*port.Port{"out": pOut, "in": pIn}))

	pOut2, _ := port.New("out", "out", port.DirectionPassthrough, &port.Config{Kind: port.KindAny}, false, nil)
	pIn2, _ := port.New("in", "in", port.DirectionPassthrough, &port.Config{Kind: port.KindAny}, false, nil)
	require.NoError(t, b.Initialize(map[string]*port.Port{"out": pOut2, "in": pIn2}))

	require.NoError(t, f.AddNode(a))
	require.NoError(t, f.AddNode(b))
	require.NoError(t, f.AddEdge(flow.Edge{Source: flow.Endpoint{NodeID: "a", PortID: "out"}, Target: flow.Endpoint{NodeID: "b", PortID: "in"}}))
	require.NoError(t, f.AddEdge(flow.Edge{Source: flow.Endpoint{NodeID: "b", PortID: "out"}, Target: flow.Endpoint{NodeID: "a", PortID: "in"}}))

	require.Error(t, f.Validate())
}

func TestFlow_RemoveNode_RemovesTouchingEdges(t *testing.T) {
	f := flow.New(flow.Metadata{Name: "f"}, "")
	src := newNodeWithPort(t, "src", port.DirectionOutput, port.KindString)
	tgt := newNodeWithPort(t, "tgt", port.DirectionInput, port.KindString)
	require.NoError(t, f.AddNode(src))
	require.NoError(t, f.AddNode(tgt))
	require.NoError(t, f.AddEdge(flow.Edge{Source: flow.Endpoint{NodeID: "src", PortID: "p"}, Target: flow.Endpoint{NodeID: "tgt", PortID: "p"}}))

	require.NoError(t, f.RemoveNode("src"))
	assert.Empty(t, f.Edges())
	_, ok := f.Node("src")
	assert.False(t, ok)
}

func TestFlow_SerializeDeserialize_RoundTrips(t *testing.T) {
	f := flow.New(flow.Metadata{Name: "roundtrip"}, "2.0.0")
	src := newNodeWithPort(t, "src", port.DirectionOutput, port.KindString)
	tgt := newNodeWithPort(t, "tgt", port.DirectionInput, port.KindString)
	require.NoError(t, f.AddNode(src))
	require.NoError(t, f.AddNode(tgt))
	require.NoError(t, f.AddEdge(flow.Edge{Source: flow.Endpoint{NodeID: "src", PortID: "p"}, Target: flow.Endpoint{NodeID: "tgt", PortID: "p"}}))

	raw, err := f.Serialize()
	require.NoError(t, err)

	f2, err := flow.Deserialize(raw, testRegistry())
	require.NoError(t, err)
	assert.Equal(t, f.ID(), f2.ID())
	assert.Equal(t, "2.0.0", f2.Version())
	assert.Len(t, f2.Nodes(), 2)
	assert.Len(t, f2.Edges(), 1)
}

func TestFlow_Deserialize_RejectsUnknownNodeType(t *testing.T) {
	f := flow.New(flow.Metadata{Name: "f"}, "")
	require.NoError(t, f.AddNode(newTestNode("n1")))
	raw, err := f.Serialize()
	require.NoError(t, err)

	_, err = flow.Deserialize(raw, node.NewRegistry()) // empty registry, no "test" type
	require.Error(t, err)
}

func TestFlow_Deserialize_RejectsDuplicateNodeIDInWire(t *testing.T) {
	// Hand-crafted wire payload with two nodes sharing an id.
	raw := []byte(`{
		"id": "f1", "version": "1.0.0", "metadata": {"name": "dup"},
		"nodes": [
			{"id": "n1", "type": "test", "metadata": {}, "ports": []},
			{"id": "n1", "type": "test", "metadata": {}, "ports": []}
		],
		"edges": [], "createdAt": "2024-01-01T00:00:00Z", "updatedAt": "2024-01-01T00:00:00Z"
	}`)
	_, err := flow.Deserialize(raw, testRegistry())
	require.Error(t, err)
}
