package engine

import (
	"github.com/mesoqsim/qsim/pkg/agent"
	"github.com/mesoqsim/qsim/pkg/events"
	"github.com/mesoqsim/qsim/pkg/queue"
	"github.com/mesoqsim/qsim/pkg/vehicles"
)

// teleportEntry is one in-flight teleported leg.
type teleportEntry struct {
	ref      *AgentRef
	veh      *vehicles.Vehicle
	due      uint32
	distance float64
}

// EndTime satisfies queue.Scheduled; teleported legs have a fixed arrival
// time computed at Park time, independent of the `now` PopDue is called
// with.
func (t *teleportEntry) EndTime(uint32) uint32 { return t.due }

// TeleportEngine holds vehicles on a Teleported leg, which skip the queue
// network entirely and resolve after a fixed travel time.
type TeleportEngine struct {
	q   *queue.TimeQueue
	pub *events.Publisher

	// activity receives arriving agents back as fresh activity wake-ups;
	// set once via SetActivityEngine after both engines exist (the two
	// hold a cyclic reference by construction).
	activity *ActivityEngine
}

// NewTeleportEngine builds an engine with no activity engine bound yet; the
// caller must call SetActivityEngine before the first Step.
func NewTeleportEngine(pub *events.Publisher) *TeleportEngine {
	return &TeleportEngine{q: queue.New(), pub: pub}
}

// SetActivityEngine completes the two engines' cyclic wiring.
func (e *TeleportEngine) SetActivityEngine(ae *ActivityEngine) { e.activity = ae }

// Park enqueues veh to arrive at dueTime, computing its teleported distance
// from the leg's route.
func (e *TeleportEngine) Park(ref *AgentRef, veh *vehicles.Vehicle, dueTime uint32, now uint32) {
	dist := 0.0
	if l := ref.Logic.CurrLeg(); l != nil && l.Route != nil {
		dist = l.Route.Distance
	}
	e.q.Add(&teleportEntry{ref: ref, veh: veh, due: dueTime, distance: dist}, now)
}

// Len reports how many vehicles are currently in flight.
func (e *TeleportEngine) Len() int { return e.q.Len() }

// Step pops every vehicle due to arrive, publishes its
// teleportation_arrival, and hands the driver back to the activity engine
// as a fresh wake-up.
func (e *TeleportEngine) Step(now uint32) {
	for _, s := range e.q.PopDue(now) {
		t := s.(*teleportEntry)
		leg := t.ref.Logic.CurrLeg()
		mode := ""
		if leg != nil {
			mode = leg.Mode
		}
		e.pub.Publish(events.NewTeleportationArrival(now, t.ref.Person, mode, t.distance))
		finishLeg(t.ref, t.veh, e.pub, e.activity, now)
	}
}

// finishLeg is the common tail of a leg ending, whether via the teleport
// queue or the network engine: publish person_leaves_vehicle, advance the
// plan cursor onto the next activity, publish arrival/act_start, and park
// the agent back on the activity engine.
func finishLeg(ref *AgentRef, veh *vehicles.Vehicle, pub *events.Publisher, activity *ActivityEngine, now uint32) {
	l := ref.Logic
	leg := l.CurrLeg()
	mode := ""
	if leg != nil {
		mode = leg.Mode
	}
	link := l.CurrLinkID()
	pub.Publish(events.NewPersonLeavesVehicle(now, ref.Person, veh.ID))

	l.AdvancePlan() // cursor now on the arrival activity
	act := l.CurrAct()
	pub.Publish(events.NewArrival(now, ref.Person, link, mode))
	pub.Publish(events.NewActivityStart(now, ref.Person, act.Link, act.Type))
	l.NotifyEvent(agent.EventWakeup, now)

	activity.Park(ref, now)
}
