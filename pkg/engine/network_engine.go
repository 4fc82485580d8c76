package engine

import (
	"fmt"

	"github.com/mesoqsim/qsim/pkg/agent"
	"github.com/mesoqsim/qsim/pkg/events"
	"github.com/mesoqsim/qsim/pkg/ids"
	"github.com/mesoqsim/qsim/pkg/messaging"
	"github.com/mesoqsim/qsim/pkg/network"
	"github.com/mesoqsim/qsim/pkg/vehicles"
)

// routeLinksProvider is implemented by *agent.PlanBasedLogic (and promoted
// through *agent.AdaptiveLogic); it is the concrete source behind
// network.Env.RouteLinks, kept out of the agent.Logic interface itself
// since non-Network route kinds have no link list to expose.
type routeLinksProvider interface {
	RouteLinks() []ids.ID
}

// NetworkEngine wraps a SimNetworkPartition with the agent/event plumbing
// network.Env and network.Events need, and routes move_nodes/move_links
// outputs to the broker, the activity engine, and the teleport engine.
type NetworkEngine struct {
	partition *network.Partition
	pub       *events.Publisher
	broker    *messaging.Broker

	agents   map[ids.ID]*AgentRef // by person id
	activity *ActivityEngine
	teleport *TeleportEngine
	classify ModeClassifier
}

// NewNetworkEngine wires a partition to the rest of the per-partition
// engines; RegisterAgent must be called for every agent before it can
// depart onto the network.
func NewNetworkEngine(p *network.Partition, pub *events.Publisher, broker *messaging.Broker, activity *ActivityEngine, teleport *TeleportEngine, classify ModeClassifier) *NetworkEngine {
	return &NetworkEngine{
		partition: p,
		pub:       pub,
		broker:    broker,
		agents:    make(map[ids.ID]*AgentRef),
		activity:  activity,
		teleport:  teleport,
		classify:  classify,
	}
}

// RegisterAgent makes ref reachable by its person id, so RouteLinks and
// NotifyLeftLink can find it from a *vehicles.Vehicle's AgentID.
func (e *NetworkEngine) RegisterAgent(ref *AgentRef) { e.agents[ref.Person] = ref }

func (e *NetworkEngine) refFor(v *vehicles.Vehicle) *AgentRef {
	ref, ok := e.agents[v.AgentID]
	if !ok {
		panic(fmt.Sprintf("engine: vehicle %v references unknown agent %v", v.ID, v.AgentID))
	}
	return ref
}

// RouteLinks implements network.Env.
func (e *NetworkEngine) RouteLinks(v *vehicles.Vehicle) []ids.ID {
	ref := e.refFor(v)
	if rlp, ok := ref.Logic.(routeLinksProvider); ok {
		return rlp.RouteLinks()
	}
	return nil
}

// NotifyLeftLink implements network.Env.
func (e *NetworkEngine) NotifyLeftLink(v *vehicles.Vehicle, now uint32) {
	e.refFor(v).Logic.NotifyEvent(agent.EventLeftLink, now)
}

// Step runs move_nodes, move_links, and routes the three output buckets
// onward.
func (e *NetworkEngine) Step(now uint32) {
	e.partition.MoveNodes(e, e.pub, now)
	res := e.partition.MoveLinks(now, e.RouteLinks)

	for _, v := range res.ExitPartition {
		ref := e.refFor(v)
		e.broker.AddVeh(v, now)
		e.broker.AddAgent(ref.Person, v.CurrentLink, ref.Logic, now)
		delete(e.agents, ref.Person)
	}
	for _, u := range res.CapUpdates {
		e.broker.AddCapUpdate(u, now)
	}
	for _, v := range res.EndLeg {
		ref := e.refFor(v)
		finishLeg(ref, v, e.pub, e.activity, now)
		delete(e.agents, ref.Person)
	}
}

// InjectSyncMessages applies a broker's due inbound messages: storage-cap
// releases first (they can unblock a placement in the same batch), then
// handed-off agents (so their Logic is registered before their vehicle is
// placed), then the vehicle placements themselves, each routed either onto
// the local network or the teleport queue depending on its current leg's
// mode.
func (e *NetworkEngine) InjectSyncMessages(due []*messaging.SyncMessage, now uint32) {
	for _, m := range due {
		e.partition.ApplyStorageCapUpdates(m.CapUpdates)
	}
	for _, m := range due {
		for _, ah := range m.Agents {
			e.RegisterAgent(&AgentRef{Person: ah.Person, Logic: ah.Logic})
		}
	}
	for _, m := range due {
		for _, v := range m.Vehicles {
			e.injectVehicle(v, now)
		}
	}
}

func (e *NetworkEngine) injectVehicle(v *vehicles.Vehicle, now uint32) {
	ref := e.refFor(v)
	leg := ref.Logic.CurrLeg()
	if leg != nil && e.classify.IsNetworkMode(leg.Mode) {
		e.partition.SendVehEnRoute(v, v.CurrentLink, now, true, e.pub)
		return
	}
	// The dispatching partition already jumped the route cursor to the
	// trip's last element before handing off (TeleportationStarted), so the
	// travel time has already elapsed from the agent's point of view; the
	// receiving side parks it for immediate arrival rather than re-applying
	// leg.TravTime.
	e.teleport.Park(ref, v, now, now)
}
