// Package dag is a directed graph with Graphviz attributes on its nodes and
// edges, built on gonum.
package dag

import (
	"fmt"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"
)

type Graph struct {
	*simple.DirectedGraph
	name  string
	attrs encoding.Attributes
}

func New(name string) *Graph {
	return &Graph{DirectedGraph: simple.NewDirectedGraph(), name: name}
}

// NewNode returns a node with a fresh ID; it is not added to the graph.
func (g *Graph) NewNode(dotID string) *Node {
	return &Node{Node: g.DirectedGraph.NewNode(), dotID: dotID}
}

func (g *Graph) DOTID() string {
	return g.name
}

func (g *Graph) Attributes() []encoding.Attribute {
	return g.attrs.Attributes()
}

func (g *Graph) SetAttribute(attr encoding.Attribute) error {
	return g.attrs.SetAttribute(attr)
}

type Node struct {
	graph.Node
	dotID string
	attrs encoding.Attributes
}

func (n *Node) DOTID() string {
	return n.dotID
}

func (n *Node) Attributes() []encoding.Attribute {
	return n.attrs.Attributes()
}

func (n *Node) SetAttribute(attr encoding.Attribute) error {
	return n.attrs.SetAttribute(attr)
}

// Connect adds an edge between two nodes already in the graph.
func (g *Graph) Connect(from, to int64) error {
	if from == to {
		return fmt.Errorf("self edge on node %d", from)
	}
	f, t := g.Node(from), g.Node(to)
	if f == nil || t == nil {
		return fmt.Errorf("edge %d -> %d references a missing node", from, to)
	}
	g.SetEdge(g.NewEdge(f, t))
	return nil
}

func (g *Graph) NewEdge(from, to graph.Node) graph.Edge {
	return &edge{Edge: g.DirectedGraph.NewEdge(from, to)}
}

type edge struct {
	graph.Edge
	attrs encoding.Attributes
}

func (e *edge) Attributes() []encoding.Attribute {
	return e.attrs.Attributes()
}

func (e *edge) SetAttribute(attr encoding.Attribute) error {
	return e.attrs.SetAttribute(attr)
}

// ExportToDot exports the DAG to Graphviz .dot format.
func (g *Graph) ExportToDot() (string, error) {
	data, err := dot.Marshal(g, g.name, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to export DAG to DOT format: %v", err)
	}
	return string(data), nil
}
