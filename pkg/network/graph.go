// Package network implements the queue-based road network: the shared
// immutable global graph, the per-partition SimLink variants (Local,
// SplitIn, SplitOut), and the SimNetworkPartition that owns local nodes and
// links and runs the node/link step loop.
package network

import (
	"fmt"

	"github.com/mesoqsim/qsim/pkg/ids"
)

// Node is a global network node. Links are referenced by id, never by
// pointer, so the node/link graph has no cyclic ownership.
type Node struct {
	ID        ids.ID
	X, Y      float64
	Partition int
	CmpWeight float64
	InLinks   []ids.ID
	OutLinks  []ids.ID
}

// Link is a global network link.
type Link struct {
	ID        ids.ID
	From, To  ids.ID
	Length    float64 // meters
	Capacity  float64 // vehicles/hour
	Freespeed float64 // m/s
	Permlanes float64
	Modes     []string
	Partition int
	Attrs     map[string]string
}

// Graph is the shared, immutable (after load) global topology. One instance
// is built before worker threads start and then only read concurrently.
type Graph struct {
	Nodes map[ids.ID]*Node
	Links map[ids.ID]*Link

	// EffectiveCellSize converts link length into storage units (default
	// 7.5m).
	EffectiveCellSize float64
}

// NewGraph returns an empty graph with the default effective cell size.
func NewGraph() *Graph {
	return &Graph{
		Nodes:             make(map[ids.ID]*Node),
		Links:             make(map[ids.ID]*Link),
		EffectiveCellSize: 7.5,
	}
}

// AddNode inserts or replaces a node.
func (g *Graph) AddNode(n *Node) { g.Nodes[n.ID] = n }

// AddLink inserts or replaces a link and updates the endpoint nodes'
// in/out-link lists.
func (g *Graph) AddLink(l *Link) {
	g.Links[l.ID] = l
	if from, ok := g.Nodes[l.From]; ok {
		from.OutLinks = append(from.OutLinks, l.ID)
	}
	if to, ok := g.Nodes[l.To]; ok {
		to.InLinks = append(to.InLinks, l.ID)
	}
}

// Node looks up a node, panicking on an unknown id (a structural invariant
// violation).
func (g *Graph) Node(id ids.ID) *Node {
	n, ok := g.Nodes[id]
	if !ok {
		panic(fmt.Sprintf("network: unknown node %v", id))
	}
	return n
}

// Link looks up a link, panicking on an unknown id.
func (g *Graph) Link(id ids.ID) *Link {
	l, ok := g.Links[id]
	if !ok {
		panic(fmt.Sprintf("network: unknown link %v", id))
	}
	return l
}

// Kind classifies a link from the point of view of partition `self`.
type Kind uint8

const (
	Local Kind = iota
	SplitIn
	SplitOut
)

func (k Kind) String() string {
	switch k {
	case Local:
		return "local"
	case SplitIn:
		return "split-in"
	case SplitOut:
		return "split-out"
	default:
		return "unknown"
	}
}

// ClassifyLink returns the Kind of l from the perspective of partition self.
func ClassifyLink(l *Link, self int, g *Graph) Kind {
	from := g.Node(l.From).Partition
	to := g.Node(l.To).Partition
	switch {
	case from == self && to == self:
		return Local
	case to == self:
		return SplitIn
	case from == self:
		return SplitOut
	default:
		panic(fmt.Sprintf("network: link %v touches neither partition %d (from=%d to=%d)", l.ID, self, from, to))
	}
}
