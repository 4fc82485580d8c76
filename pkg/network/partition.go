package network

import (
	"math/rand"

	"github.com/mesoqsim/qsim/pkg/ids"
	"github.com/mesoqsim/qsim/pkg/vehicles"
)

// Config bundles the scalar knobs link construction needs.
type Config struct {
	SampleSize        float64
	StuckThresholdSec uint32
	EffectiveCellSize float64
	RandomSeed        int64
}

// Partition owns every local node and link of one partition of the global
// graph.
type Partition struct {
	Self  int
	graph *Graph
	cfg   Config
	rng   *rand.Rand

	nodes map[ids.ID]*SimNode
	links map[ids.ID]*SimLink

	activeNodes map[ids.ID]bool
	activeLinks map[ids.ID]bool

	vehicleCount int
}

// NewPartition builds the partition of graph owned by self, instantiating a
// Local SimLink for every fully-internal link, a SplitIn for every incoming
// boundary link, and a SplitOut for every outgoing one. Per-partition
// randomness is seeded from baseSeed XOR the partition index, so a run with
// the same seed and the same partition assignment is reproducible.
func NewPartition(graph *Graph, self int, cfg Config, baseSeed int64) *Partition {
	p := &Partition{
		Self:        self,
		graph:       graph,
		cfg:         cfg,
		rng:         rand.New(rand.NewSource(baseSeed ^ int64(self))),
		nodes:       make(map[ids.ID]*SimNode),
		links:       make(map[ids.ID]*SimLink),
		activeNodes: make(map[ids.ID]bool),
		activeLinks: make(map[ids.ID]bool),
	}

	for _, n := range graph.Nodes {
		if n.Partition != self {
			continue
		}
		p.nodes[n.ID] = &SimNode{ID: n.ID, InLinks: append([]ids.ID(nil), n.InLinks...)}
	}

	for _, l := range graph.Links {
		kind := ClassifyLink(l, self, graph)
		switch kind {
		case Local:
			p.links[l.ID] = NewLocal(l, cfg.EffectiveCellSize, cfg.SampleSize, cfg.StuckThresholdSec)
		case SplitIn:
			upstream := graph.Node(l.From).Partition
			p.links[l.ID] = NewSplitIn(l, cfg.EffectiveCellSize, cfg.SampleSize, cfg.StuckThresholdSec, upstream)
		case SplitOut:
			downstream := graph.Node(l.To).Partition
			p.links[l.ID] = NewSplitOut(l, cfg.EffectiveCellSize, cfg.SampleSize, downstream)
		}
	}

	return p
}

// Link returns the SimLink for id, or nil if it is not part of this
// partition.
func (p *Partition) Link(id ids.ID) *SimLink { return p.links[id] }

// Neighbors returns the set of partitions this partition exchanges vehicles
// or storage-cap updates with, i.e. every partition reachable via a SplitIn
// or SplitOut link.
func (p *Partition) Neighbors() []int {
	seen := make(map[int]bool)
	for _, l := range p.links {
		switch l.Kind {
		case SplitIn:
			seen[l.upstreamPartition] = true
		case SplitOut:
			seen[l.downstreamPartition] = true
		}
	}
	out := make([]int, 0, len(seen))
	for part := range seen {
		out = append(out, part)
	}
	return out
}

// SendVehEnRoute places v on its current link (per v.CurrentLink, set by the
// caller before invoking this). fromRemote distinguishes a vehicle arriving
// mid-route from another partition (link-enter event published, goes
// straight into the FIFO) from one just departing an activity (no event,
// goes onto the waiting-list).
func (p *Partition) SendVehEnRoute(v *vehicles.Vehicle, linkID ids.ID, now uint32, fromRemote bool, pub Events) {
	l, ok := p.links[linkID]
	if !ok {
		invariantf("SendVehEnRoute: link %v is not part of partition %d", linkID, p.Self)
	}
	if fromRemote && pub != nil {
		pub.LinkEnter(now, linkID, v)
	}
	l.Push(v, now, !fromRemote)
	p.activeLinks[linkID] = true
	p.ActivateLinkDownstreamNode(linkID)
	p.vehicleCount++
}

// ApplyStorageCapUpdates applies released-storage reports to the SplitOut
// links they target.
func (p *Partition) ApplyStorageCapUpdates(updates []StorageCapUpdate) {
	for _, u := range updates {
		l, ok := p.links[u.LinkID]
		if !ok || l.Kind != SplitOut {
			invariantf("storage-cap update for %v does not target a SplitOut in partition %d", u.LinkID, p.Self)
		}
		l.ApplyStorageCapUpdate(u.Released)
	}
}

// MoveNodes runs the node step for every active node, deactivating nodes
// that can no longer offer a vehicle at now+1, and adds every out-link that
// just received a vehicle to the active-link set.
func (p *Partition) MoveNodes(env Env, pub Events, now uint32) {
	for id := range p.activeNodes {
		node := p.nodes[id]
		if node == nil {
			delete(p.activeNodes, id)
			continue
		}
		if !stepNode(node, p.links, now, p.rng, env, pub) {
			delete(p.activeNodes, id)
		}
		for _, out := range p.graph.Node(id).OutLinks {
			if l := p.links[out]; l != nil && l.Active() {
				p.activeLinks[out] = true
			}
		}
	}
}

// MoveLinksResult is the bundle move_links returns to the driver.
type MoveLinksResult struct {
	ExitPartition []*vehicles.Vehicle
	EndLeg        []*vehicles.Vehicle
	CapUpdates    []StorageCapUpdate
}

// MoveLinks steps every active link, deactivating empty links, and
// returns the vehicles that left the partition, the vehicles that finished
// their leg, and any storage-cap releases to report upstream.
func (p *Partition) MoveLinks(now uint32, routeOf func(*vehicles.Vehicle) []ids.ID) MoveLinksResult {
	var res MoveLinksResult
	for id := range p.activeLinks {
		l := p.links[id]
		if l == nil {
			delete(p.activeLinks, id)
			continue
		}
		step := l.Step(now, p.cfg.SampleSize, routeOf)
		res.ExitPartition = append(res.ExitPartition, step.ExitPartition...)
		res.EndLeg = append(res.EndLeg, step.EndLeg...)
		res.CapUpdates = append(res.CapUpdates, step.CapUpdates...)
		if !l.Active() {
			delete(p.activeLinks, id)
		}
	}
	p.vehicleCount -= len(res.ExitPartition) + len(res.EndLeg)

	// A node becomes active again if any of its in-links just received a
	// vehicle (via node moves this tick already re-activated downstream
	// links directly; here we additionally wake nodes whose in-link just
	// received a freshly-promoted waiting-list vehicle).
	for id := range p.activeLinks {
		l := p.links[id]
		if l == nil || l.Kind == SplitOut {
			continue
		}
		toNode := p.graph.Link(id).To
		if _, ok := p.nodes[toNode]; ok {
			p.activeNodes[toNode] = true
		}
	}
	return res
}

// ActivateNode marks a node active; used when SendVehEnRoute or a
// cross-partition injection puts a vehicle on one of its in-links.
func (p *Partition) ActivateNode(id ids.ID) {
	if _, ok := p.nodes[id]; ok {
		p.activeNodes[id] = true
	}
}

// ActivateLinkDownstreamNode marks the node downstream of linkID active,
// since that link now owns a vehicle.
func (p *Partition) ActivateLinkDownstreamNode(linkID ids.ID) {
	l := p.graph.Link(linkID)
	p.ActivateNode(l.To)
}

// VehicleCount returns vehicles_placed - vehicles_parked - vehicles_handed_to_broker,
// i.e. vehicles currently on local links — used by the conservation
// invariant test.
func (p *Partition) VehicleCount() int { return p.vehicleCount }
