package network

import (
	"fmt"
	"math"

	"github.com/mesoqsim/qsim/pkg/ids"
	"github.com/mesoqsim/qsim/pkg/vehicles"
)

// queuedVehicle is one slot in a Local link's FIFO, carrying the vehicle's
// precomputed earliest-exit time.
type queuedVehicle struct {
	veh          *vehicles.Vehicle
	earliestExit uint32
	readySince   uint32 // set to earliestExit on push; the stuck-threshold check (StuckSeconds) reads earliestExit, not this field
}

// StorageCapUpdate reports a released pce-amount on a link, routed back to
// the upstream partition that owns the corresponding SplitOut.
type StorageCapUpdate struct {
	LinkID     ids.ID
	FromPart   int
	Released   float64
}

// LinkStepResult is what SimLink.Step returns for one tick.
type LinkStepResult struct {
	ExitPartition []*vehicles.Vehicle // pushed across a SplitOut this tick
	EndLeg        []*vehicles.Vehicle // reached the last link of their route
	CapUpdates    []StorageCapUpdate  // only non-nil for SplitIn
}

// SimLink is the tagged union {Local, SplitIn, SplitOut}. Every operation
// below switches explicitly on Kind; there is no shared base class.
type SimLink struct {
	Kind   Kind
	ID     ids.ID
	Global *Link

	// --- Local / SplitIn fields ---
	queue   []queuedVehicle
	waiting []queuedVehicle

	flowCapPerSecond float64
	flowAccumulator  float64

	maxStorage  float64
	usedStorage float64

	sampleSize        float64
	stuckThresholdSec uint32

	active bool

	// --- SplitIn-only ---
	upstreamPartition int
	occupiedBefore    float64 // usedStorage snapshot at the start of this tick's Step

	// --- SplitOut-only ---
	outBuffer           []*vehicles.Vehicle
	downstreamPartition int
}

// NewLocal builds a Local SimLink from its global definition.
func NewLocal(l *Link, cellSize, sampleSize float64, stuckThreshold uint32) *SimLink {
	flowCapPerSecond := l.Capacity * sampleSize / 3600.0
	maxStorage := math.Max(flowCapPerSecond, l.Length*l.Permlanes*sampleSize/cellSize)
	return &SimLink{
		Kind:              Local,
		ID:                l.ID,
		Global:            l,
		flowCapPerSecond:  flowCapPerSecond,
		maxStorage:        maxStorage,
		sampleSize:        sampleSize,
		stuckThresholdSec: stuckThreshold,
	}
}

// NewSplitIn builds a SplitIn SimLink, which accounts flow/storage exactly
// like a Local link but additionally reports storage releases upstream.
func NewSplitIn(l *Link, cellSize, sampleSize float64, stuckThreshold uint32, upstreamPartition int) *SimLink {
	sl := NewLocal(l, cellSize, sampleSize, stuckThreshold)
	sl.Kind = SplitIn
	sl.upstreamPartition = upstreamPartition
	return sl
}

// NewSplitOut builds a SplitOut SimLink: a transient cross-boundary buffer
// with its own storage accounting but no timing.
func NewSplitOut(l *Link, cellSize, sampleSize float64, downstreamPartition int) *SimLink {
	flowCapPerSecond := l.Capacity * sampleSize / 3600.0
	maxStorage := math.Max(flowCapPerSecond, l.Length*l.Permlanes*sampleSize/cellSize)
	return &SimLink{
		Kind:                SplitOut,
		ID:                  l.ID,
		Global:              l,
		maxStorage:          maxStorage,
		sampleSize:          sampleSize,
		downstreamPartition: downstreamPartition,
	}
}

func invariantf(format string, args ...any) {
	panic(fmt.Sprintf("network: "+format, args...))
}

func exitDelay(length, freespeed, maxV float64) uint32 {
	v := math.Min(freespeed, maxV)
	if v <= 0 {
		invariantf("non-positive travel speed (freespeed=%f maxV=%f)", freespeed, maxV)
	}
	return uint32(math.Ceil(length / v))
}

// IsAvailable reports whether the link can accept another vehicle right now.
func (l *SimLink) IsAvailable() bool {
	return l.usedStorage < l.maxStorage
}

// Active reports whether the link has anything to do on a future step.
func (l *SimLink) Active() bool { return l.active }

// SetActive marks the link's membership in the partition's active-link set.
func (l *SimLink) SetActive(v bool) { l.active = v }

// Push places v on the link. routeBegin is true when the vehicle just
// started its leg from an activity (goes to the waiting-list, no
// link-enter event per the MATSim convention); it is false for a vehicle
// arriving mid-route, local (goes straight into the FIFO).
func (l *SimLink) Push(v *vehicles.Vehicle, now uint32, routeBegin bool) {
	switch l.Kind {
	case Local, SplitIn:
		exit := now + exitDelay(l.Global.Length, l.Global.Freespeed, v.MaxVelocity)
		// No-passing FIFO discipline: a vehicle cannot leave before whoever
		// is ahead of it in the same queue/waiting-list.
		if n := len(l.queue); n > 0 && l.queue[n-1].earliestExit > exit {
			exit = l.queue[n-1].earliestExit
		}
		if n := len(l.waiting); n > 0 && l.waiting[n-1].earliestExit > exit {
			exit = l.waiting[n-1].earliestExit
		}
		l.usedStorage += v.PCE
		v.CurrentLink = l.ID
		qv := queuedVehicle{veh: v, earliestExit: exit, readySince: exit}
		if routeBegin {
			l.waiting = append(l.waiting, qv)
		} else {
			l.queue = append(l.queue, qv)
		}
		l.active = true
	case SplitOut:
		l.usedStorage += v.PCE
		v.CurrentLink = l.ID
		l.outBuffer = append(l.outBuffer, v)
		l.active = true
	}
}

// offer returns the head-of-queue vehicle if it may be emitted right now:
// its earliest-exit has passed and the flow-cap accumulator covers its pce.
// Only meaningful for Local/SplitIn.
func (l *SimLink) offer(now uint32) (queuedVehicle, bool) {
	if len(l.queue) == 0 {
		return queuedVehicle{}, false
	}
	head := l.queue[0]
	if head.earliestExit > now {
		return queuedVehicle{}, false
	}
	if l.flowAccumulator < head.veh.PCE {
		return queuedVehicle{}, false
	}
	return head, true
}

// StuckSeconds reports how long the head-of-queue vehicle has been ready to
// leave (0 if nothing is queued or it is not yet ready).
func (l *SimLink) StuckSeconds(now uint32) uint32 {
	if len(l.queue) == 0 {
		return 0
	}
	head := l.queue[0]
	if head.earliestExit > now {
		return 0
	}
	return now - head.earliestExit
}

// FlowCapacity returns the link's available flow-cap accumulator, the c_i
// used by the capacity-weighted node selection. A link with no offerable
// vehicle still reports its accumulator; node_step.go treats "no offer" as
// exhaustion regardless of capacity.
func (l *SimLink) FlowCapacity() float64 { return l.flowAccumulator }

// HasOffer reports whether the head-of-queue vehicle is ready to move,
// regardless of downstream availability.
func (l *SimLink) HasOffer(now uint32) bool {
	_, ok := l.offer(now)
	return ok
}

// PeekHead returns the head-of-queue vehicle without removing it.
func (l *SimLink) PeekHead() *vehicles.Vehicle {
	if len(l.queue) == 0 {
		return nil
	}
	return l.queue[0].veh
}

// PopHead removes and returns the head-of-queue vehicle, releasing its
// storage contribution. Callers must have already confirmed the move is
// legal (offer, or forced under stuck semantics).
func (l *SimLink) PopHead() *vehicles.Vehicle {
	if len(l.queue) == 0 {
		invariantf("PopHead on empty queue for link %v", l.ID)
	}
	head := l.queue[0]
	l.queue = l.queue[1:]
	l.usedStorage -= head.veh.PCE
	if l.usedStorage < 0 {
		l.usedStorage = 0
	}
	l.flowAccumulator -= head.veh.PCE
	return head.veh
}

// IsLastLink reports whether id is the last link of route, i.e. the vehicle
// would finish its leg here.
func IsLastLink(route []ids.ID, id ids.ID) bool {
	return len(route) > 0 && route[len(route)-1] == id
}

// Step advances the link by one tick, per-variant. now is the current
// integer second, about to become now+1.
func (l *SimLink) Step(now uint32, sampleSize float64, routeOf func(*vehicles.Vehicle) []ids.ID) LinkStepResult {
	switch l.Kind {
	case Local:
		return l.stepLocal(now, routeOf)
	case SplitIn:
		l.occupiedBefore = l.usedStorage
		res := l.stepLocal(now, routeOf)
		diff := l.occupiedBefore - l.usedStorage
		if diff < -1e-9 {
			invariantf("SplitIn %v storage increased during a link step (before=%f after=%f) — node moves must push, link moves must pop, never the reverse", l.ID, l.occupiedBefore, l.usedStorage)
		}
		if diff > 0 {
			res.CapUpdates = append(res.CapUpdates, StorageCapUpdate{
				LinkID:   l.ID,
				FromPart: l.upstreamPartition,
				Released: diff,
			})
		}
		return res
	case SplitOut:
		out := l.outBuffer
		l.outBuffer = nil
		if len(out) == 0 {
			l.active = false
		}
		return LinkStepResult{ExitPartition: out}
	}
	return LinkStepResult{}
}

func (l *SimLink) stepLocal(now uint32, routeOf func(*vehicles.Vehicle) []ids.ID) LinkStepResult {
	l.flowAccumulator += l.flowCapPerSecond
	const flowCapCeiling = 10.0
	if l.flowAccumulator > flowCapCeiling {
		l.flowAccumulator = flowCapCeiling
	}

	if len(l.waiting) > 0 {
		l.queue = append(l.queue, l.waiting...)
		l.waiting = l.waiting[:0]
	}

	var res LinkStepResult
	for {
		head, ok := l.offer(now)
		if !ok {
			break
		}
		route := routeOf(head.veh)
		if !IsLastLink(route, l.ID) {
			break // only finished-leg vehicles leave via Step(); in-transit moves happen in the node step
		}
		l.PopHead()
		res.EndLeg = append(res.EndLeg, head.veh)
	}

	if len(l.queue) == 0 && len(l.waiting) == 0 {
		l.active = false
	}
	return res
}

// ApplyStorageCapUpdate applies a previously reported release to a SplitOut,
// increasing its locally-tracked available storage.
func (l *SimLink) ApplyStorageCapUpdate(released float64) {
	if l.Kind != SplitOut {
		invariantf("storage-cap update targeted non-SplitOut link %v (kind=%s)", l.ID, l.Kind)
	}
	l.usedStorage -= released
	if l.usedStorage < 0 {
		l.usedStorage = 0
	}
}
