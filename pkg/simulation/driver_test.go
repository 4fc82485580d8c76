package simulation

import (
	"testing"

	"github.com/mesoqsim/qsim/pkg/agent"
	"github.com/mesoqsim/qsim/pkg/engine"
	"github.com/mesoqsim/qsim/pkg/events"
	"github.com/mesoqsim/qsim/pkg/ids"
	"github.com/mesoqsim/qsim/pkg/messaging"
	"github.com/mesoqsim/qsim/pkg/network"
	"github.com/mesoqsim/qsim/pkg/vehicles"
)

type allNetworkClassifier struct{ vehType ids.ID }

func (c allNetworkClassifier) IsNetworkMode(string) bool    { return true }
func (c allNetworkClassifier) VehicleTypeFor(string) ids.ID { return c.vehType }

func u32(v uint32) *uint32 { return &v }

// buildTwoPartitionNetwork wires two nodes on separate partitions joined by
// a single boundary link, which partition 0 sees as a SplitOut and
// partition 1 sees as a SplitIn.
func buildTwoPartitionNetwork(t *testing.T) (*network.Graph, ids.ID, ids.ID, ids.ID) {
	t.Helper()
	nodeReg := ids.NewRegistry(ids.KindNode)
	linkReg := ids.NewRegistry(ids.KindLink)

	g := network.NewGraph()
	home := nodeReg.Create("home")
	mid := nodeReg.Create("mid")
	g.AddNode(&network.Node{ID: home, Partition: 0})
	g.AddNode(&network.Node{ID: mid, Partition: 1})

	boundary := linkReg.Create("boundary")
	g.AddLink(&network.Link{ID: boundary, From: home, To: mid, Length: 10, Capacity: 3600, Freespeed: 10, Permlanes: 1})

	return g, home, mid, boundary
}

// TestTwoPartitionBoundaryCrossing runs two Drivers concurrently and checks
// that a single-hop trip whose one link is a partition boundary arrives,
// with the agent's Logic correctly handed across via the broker.
func TestTwoPartitionBoundaryCrossing(t *testing.T) {
	g, _, _, boundary := buildTwoPartitionNetwork(t)

	cfg := network.Config{SampleSize: 1.0, StuckThresholdSec: 3600, EffectiveCellSize: 7.5}
	p0 := network.NewPartition(g, 0, cfg, 1)
	p1 := network.NewPartition(g, 1, cfg, 1)

	vehTypeReg := ids.NewRegistry(ids.KindVehicleType)
	carType := vehTypeReg.Create("car")
	classify := allNetworkClassifier{vehType: carType}

	garage0 := vehicles.NewGarage(ids.NewRegistry(ids.KindVehicle))
	garage0.AddType(&vehicles.Type{ID: carType, MaxVelocity: 10, PCE: 1})
	garage1 := vehicles.NewGarage(ids.NewRegistry(ids.KindVehicle))
	garage1.AddType(&vehicles.Type{ID: carType, MaxVelocity: 10, PCE: 1})

	mem0, mem1 := &events.MemorySink{}, &events.MemorySink{}
	pub0, pub1 := events.NewPublisher(), events.NewPublisher()
	pub0.AddSink(mem0)
	pub1.AddSink(mem1)

	linkMapping := map[ids.ID]int{boundary: 1}
	broker0 := messaging.NewBroker(0, linkMapping, []int{1})
	broker1 := messaging.NewBroker(1, linkMapping, []int{0})

	teleport0, teleport1 := engine.NewTeleportEngine(pub0), engine.NewTeleportEngine(pub1)
	activity0 := engine.NewActivityEngine(garage0, classify, pub0, p0, broker0, teleport0)
	activity1 := engine.NewActivityEngine(garage1, classify, pub1, p1, broker1, teleport1)
	teleport0.SetActivityEngine(activity0)
	teleport1.SetActivityEngine(activity1)
	net0 := engine.NewNetworkEngine(p0, pub0, broker0, activity0, teleport0, classify)
	net1 := engine.NewNetworkEngine(p1, pub1, broker1, activity1, teleport1, classify)

	personReg := ids.NewRegistry(ids.KindPerson)
	person := personReg.Create("commuter")

	plan := &agent.Plan{Elements: []agent.Element{
		&agent.Activity{Type: "home", Link: boundary, EndTime: u32(0)},
		&agent.Leg{Mode: "car", TravTime: 1, Route: &agent.Route{Kind: agent.RouteNetwork, Links: []ids.ID{boundary}}},
		&agent.Activity{Type: "work", Link: boundary},
	}}
	logic := agent.NewPlanBasedLogic(person, plan)
	ref := &engine.AgentRef{Person: person, Logic: logic}
	net0.RegisterAgent(ref)
	activity0.Park(ref, 0)

	comms := messaging.NewInProcessCommunicators(2)
	d0 := &Driver{Rank: 0, Activity: activity0, Teleport: teleport0, Network: net0, Broker: broker0, Comm: comms[0], Pub: pub0, StartTime: 0, EndTime: 6}
	d1 := &Driver{Rank: 1, Activity: activity1, Teleport: teleport1, Network: net1, Broker: broker1, Comm: comms[1], Pub: pub1, StartTime: 0, EndTime: 6}

	errc := make(chan error, 2)
	go func() { errc <- d0.Run() }()
	go func() { errc <- d1.Run() }()
	if err := <-errc; err != nil {
		t.Fatalf("driver 0: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("driver 1: %v", err)
	}

	if logic.State() != agent.StateActivity || logic.CurrAct().Type != "work" {
		t.Fatalf("commuter did not reach work: state=%v act=%+v", logic.State(), logic.CurrAct())
	}
	if activity0.Len() != 0 {
		t.Fatalf("commuter should not still be parked on partition 0's activity engine")
	}
	if activity1.Len() != 1 {
		t.Fatalf("commuter should be parked on partition 1's activity engine after arrival, Len()=%d", activity1.Len())
	}

	var sawArrival bool
	for _, e := range mem1.Events {
		if e.Type() == "arrival" {
			sawArrival = true
		}
	}
	if !sawArrival {
		t.Fatal("expected partition 1 to publish the arrival event")
	}
}
