package network

import (
	"math"
	"math/rand"

	"github.com/mesoqsim/qsim/pkg/ids"
	"github.com/mesoqsim/qsim/pkg/vehicles"
)

// Env lets the node step reach the agent-side route state without network
// importing pkg/agent: RouteLinks gives the current leg's ordered link ids
// (empty/nil for route variants with no explicit link list, e.g. Generic
// and Transit), and NotifyLeftLink advances the agent's route cursor with a
// "LeftLink" notification.
type Env interface {
	RouteLinks(v *vehicles.Vehicle) []ids.ID
	NotifyLeftLink(v *vehicles.Vehicle, now uint32)
}

// Events is the subset of the event publisher the network package needs;
// satisfied structurally by pkg/events.Publisher with no import cycle.
type Events interface {
	LinkEnter(now uint32, link ids.ID, veh *vehicles.Vehicle)
	LinkLeave(now uint32, link ids.ID, veh *vehicles.Vehicle)
}

const (
	nodeStepEpsilon = 1e-10
	nodeStepSlack   = 1e-6
)

// SimNode is a local node: just its ordered in-link ids.
type SimNode struct {
	ID      ids.ID
	InLinks []ids.ID
}

// stepNode runs the capacity-proportional random selection for a single
// node and returns whether it should stay active (any in-link would still
// offer a vehicle at now+1).
func stepNode(node *SimNode, links map[ids.ID]*SimLink, now uint32, rng *rand.Rand, env Env, pub Events) bool {
	type candidate struct {
		link *SimLink
		cap  float64
	}
	cands := make([]candidate, 0, len(node.InLinks))
	total := 0.0
	for _, lid := range node.InLinks {
		l, ok := links[lid]
		if !ok {
			continue
		}
		c := l.FlowCapacity()
		if c <= 0 {
			continue
		}
		cands = append(cands, candidate{link: l, cap: c})
		total += c
	}

	exhausted := make([]bool, len(cands))
	for total >= nodeStepEpsilon {
		u := rng.Float64() * total
		s := 0.0
		moved := false
		for i := range cands {
			if exhausted[i] {
				continue
			}
			s += cands[i].cap
			if s < u {
				continue
			}
			// cands[i] is the draw; try to move its head vehicle.
			if tryMoveHead(cands[i].link, now, links, env, pub) {
				moved = true
			} else {
				exhausted[i] = true
				total -= cands[i].cap
			}
			break
		}
		if !moved {
			total -= nodeStepSlack
		}
		if total < nodeStepEpsilon {
			break
		}
	}

	for _, lid := range node.InLinks {
		l, ok := links[lid]
		if !ok {
			continue
		}
		if willOfferNext(l, now+1) {
			return true
		}
	}
	return false
}

// tryMoveHead attempts to move link l's head-of-queue vehicle across the
// node. It returns false (and changes nothing) if the link currently has no
// movable vehicle, so the caller can mark it exhausted.
func tryMoveHead(l *SimLink, now uint32, links map[ids.ID]*SimLink, env Env, pub Events) bool {
	if !l.HasOffer(now) {
		return false
	}
	head := l.PeekHead()
	route := env.RouteLinks(head)
	if IsLastLink(route, l.ID) {
		// Finished-leg vehicles are emitted by the link's own Step, not by
		// the node step.
		return false
	}

	idx := indexOf(route, l.ID)
	var next *SimLink
	hasNext := idx >= 0 && idx+1 < len(route)
	if hasNext {
		next = links[route[idx+1]]
	}

	stuck := l.stuckThresholdSec > 0 && l.StuckSeconds(now) >= l.stuckThresholdSec
	canAccept := !hasNext || next == nil || next.IsAvailable()

	if !canAccept && !stuck {
		return false
	}

	pub.LinkLeave(now, l.ID, head)
	env.NotifyLeftLink(head, now)
	v := l.PopHead()

	if hasNext && next != nil {
		if next.Kind == SplitOut {
			next.Push(v, now, false)
		} else {
			pub.LinkEnter(now, next.ID, v)
			next.Push(v, now, false)
		}
		next.SetActive(true)
	}
	if len(l.queue) == 0 && len(l.waiting) == 0 {
		l.SetActive(false)
	}
	return true
}

func indexOf(route []ids.ID, id ids.ID) int {
	for i, r := range route {
		if r == id {
			return i
		}
	}
	return -1
}

// willOfferNext reports whether l could offer a vehicle at time t, ignoring
// whether the downstream link can actually accept it — used only to decide
// active-set membership.
func willOfferNext(l *SimLink, t uint32) bool {
	if l.Kind == SplitOut {
		return len(l.outBuffer) > 0
	}
	if len(l.queue) == 0 {
		return false
	}
	head := l.queue[0]
	if head.earliestExit > t {
		return false
	}
	projectedAccumulator := l.flowAccumulator + l.flowCapPerSecond
	return math.Min(projectedAccumulator, 10.0) >= head.veh.PCE || l.stuckThresholdSec > 0
}
