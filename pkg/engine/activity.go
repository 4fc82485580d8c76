// Package engine implements the three per-tick engines: the activity
// engine (wake-ups and departures), the teleport engine (non-queued legs),
// and the network engine (the thin glue between pkg/network's
// SimNetworkPartition and the agent/event layers above it).
package engine

import (
	"github.com/mesoqsim/qsim/pkg/agent"
	"github.com/mesoqsim/qsim/pkg/events"
	"github.com/mesoqsim/qsim/pkg/ids"
	"github.com/mesoqsim/qsim/pkg/messaging"
	"github.com/mesoqsim/qsim/pkg/network"
	"github.com/mesoqsim/qsim/pkg/queue"
	"github.com/mesoqsim/qsim/pkg/vehicles"
)

// AgentRef binds one agent's Logic to its person id, so the engines below
// can publish events and resolve vehicles without threading the id through
// every Logic implementation.
type AgentRef struct {
	Person ids.ID
	Logic  agent.Logic
}

// EndTime satisfies queue.Scheduled.
func (a *AgentRef) EndTime(now uint32) uint32 { return a.Logic.WakeupTime(now) }

// ModeClassifier decides whether a mode is carried by the full queue
// network (true) or teleported (false), and which garage vehicle type
// backs a Network mode.
type ModeClassifier interface {
	IsNetworkMode(mode string) bool
	VehicleTypeFor(mode string) ids.ID
}

// ActivityEngine holds agents parked at an activity, keyed by wake-up time.
type ActivityEngine struct {
	queue    *queue.TimeQueue
	garage   *vehicles.Garage
	classify ModeClassifier
	pub      *events.Publisher

	partition *network.Partition
	broker    *messaging.Broker

	teleport *TeleportEngine
}

// NewActivityEngine wires the activity engine to its collaborators. Dispatch
// of a departing leg needs the local partition (to tell local-first-link
// from remote), the broker (to hand off a remote-first-link departure), and
// the teleport engine (for Teleported legs).
func NewActivityEngine(garage *vehicles.Garage, classify ModeClassifier, pub *events.Publisher, partition *network.Partition, broker *messaging.Broker, teleport *TeleportEngine) *ActivityEngine {
	return &ActivityEngine{
		queue:     queue.New(),
		garage:    garage,
		classify:  classify,
		pub:       pub,
		partition: partition,
		broker:    broker,
		teleport:  teleport,
	}
}

// Park adds an agent that just started (or resumed) an activity.
func (e *ActivityEngine) Park(ref *AgentRef, now uint32) {
	e.queue.Add(ref, now)
}

// Len reports how many agents are currently parked at an activity.
func (e *ActivityEngine) Len() int { return e.queue.Len() }

// Step pops every agent whose wake-up time is due, ends its activity,
// advances the plan onto the coming leg, and dispatches that leg onto the
// network, the teleport queue, or the broker.
func (e *ActivityEngine) Step(now uint32) {
	for _, s := range e.queue.PopDue(now) {
		ref := s.(*AgentRef)
		e.handleDue(ref, now)
	}
}

// handleDue fires the Wakeup notification unconditionally (so AdaptiveLogic
// can issue its routing request), then tells a horizon-early pre-plan
// wake-up apart from the activity's real end: the former just re-parks the
// agent for its now-fixed real end time, the latter dispatches the
// departure.
func (e *ActivityEngine) handleDue(ref *AgentRef, now uint32) {
	l := ref.Logic
	l.NotifyEvent(agent.EventWakeup, now)
	if now < l.EndTime(now) {
		e.Park(ref, now)
		return
	}
	e.dispatchOne(ref, now)
}

func (e *ActivityEngine) dispatchOne(ref *AgentRef, now uint32) {
	l := ref.Logic
	act := l.CurrAct()
	link := l.CurrLinkID()

	l.NotifyEvent(agent.EventActivityFinished, now)
	e.pub.Publish(events.NewActivityEnd(now, ref.Person, link, act.Type))

	l.AdvancePlan() // cursor now on the leg
	leg := l.CurrLeg()

	veh := e.garage.VehicleFor(ref.Person, e.classify.VehicleTypeFor(leg.Mode))
	veh.CurrentLink = l.CurrLinkID()

	e.pub.Publish(events.NewDeparture(now, ref.Person, link, leg.Mode))

	if e.classify.IsNetworkMode(leg.Mode) {
		veh.AgentID = ref.Person
		e.pub.Publish(events.NewPersonEntersVehicle(now, ref.Person, veh.ID))
		e.dispatchNetworkLeg(ref, veh, now)
		return
	}
	e.dispatchTeleportedLeg(ref, veh, leg, now)
}

func (e *ActivityEngine) dispatchNetworkLeg(ref *AgentRef, veh *vehicles.Vehicle, now uint32) {
	first := veh.CurrentLink
	if sl := e.partition.Link(first); sl != nil {
		e.partition.SendVehEnRoute(veh, first, now, false, e.pub)
		return
	}
	// first is not part of this partition at all (a multi-partition route
	// whose very first link already belongs to a neighbor): hand off
	// immediately, vehicle and agent cursor together.
	e.broker.AddVeh(veh, now)
	e.broker.AddAgent(ref.Person, veh.CurrentLink, ref.Logic, now)
}

func (e *ActivityEngine) dispatchTeleportedLeg(ref *AgentRef, veh *vehicles.Vehicle, leg *agent.Leg, now uint32) {
	endLink := leg.Route.EndLink
	localDest := e.partition.Link(endLink) != nil
	localOrigin := e.partition.Link(veh.CurrentLink) != nil
	if localOrigin && localDest {
		e.teleport.Park(ref, veh, now+leg.TravTime, now)
		return
	}
	ref.Logic.NotifyEvent(agent.EventTeleportationStarted, now)
	e.broker.AddVeh(veh, now)
	e.broker.AddAgent(ref.Person, veh.CurrentLink, ref.Logic, now)
}
