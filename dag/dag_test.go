package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph_Connect(t *testing.T) {
	g := New("payment")
	a := g.NewNode("validate")
	g.AddNode(a)
	b := g.NewNode("lock_rate")
	g.AddNode(b)

	assert.NotEqual(t, a.ID(), b.ID())
	require.NoError(t, g.Connect(a.ID(), b.ID()))
	assert.True(t, g.HasEdgeFromTo(a.ID(), b.ID()))
	assert.ErrorContains(t, g.Connect(a.ID(), a.ID()), "self edge")
	assert.ErrorContains(t, g.Connect(a.ID(), 99), "missing node")
}

func TestGraph_ExportToDot(t *testing.T) {
	g := New("payment")
	a := g.NewNode("validate")
	g.AddNode(a)
	b := g.NewNode("lock_rate")
	g.AddNode(b)
	require.NoError(t, g.Connect(a.ID(), b.ID()))

	out, err := g.ExportToDot()
	require.NoError(t, err)
	assert.Contains(t, out, "payment")
	assert.Contains(t, out, "validate -> lock_rate")
}
