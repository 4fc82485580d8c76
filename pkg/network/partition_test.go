package network

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/mesoqsim/qsim/pkg/ids"
	"github.com/mesoqsim/qsim/pkg/vehicles"
)

// fakeEnv gives every vehicle the same fixed route and records LeftLink
// notifications, standing in for pkg/agent in these unit tests.
type fakeEnv struct {
	routes map[ids.ID][]ids.ID // by vehicle id
	left   []ids.ID
}

func (e *fakeEnv) RouteLinks(v *vehicles.Vehicle) []ids.ID { return e.routes[v.ID] }
func (e *fakeEnv) NotifyLeftLink(v *vehicles.Vehicle, now uint32) {
	e.left = append(e.left, v.ID)
}

type recordedEvent struct {
	kind string
	now  uint32
	link ids.ID
	veh  ids.ID
}

type fakeEvents struct{ events []recordedEvent }

func (e *fakeEvents) LinkEnter(now uint32, link ids.ID, v *vehicles.Vehicle) {
	e.events = append(e.events, recordedEvent{"enter", now, link, v.ID})
}
func (e *fakeEvents) LinkLeave(now uint32, link ids.ID, v *vehicles.Vehicle) {
	e.events = append(e.events, recordedEvent{"leave", now, link, v.ID})
}

func buildThreeLinkGraph(t *testing.T) (*Graph, []ids.ID) {
	t.Helper()
	nodeReg := ids.NewRegistry(ids.KindNode)
	linkReg := ids.NewRegistry(ids.KindLink)

	g := NewGraph()
	n := make([]ids.ID, 4)
	for i := range n {
		n[i] = nodeReg.Create(nameN(i))
		g.AddNode(&Node{ID: n[i], Partition: 0})
	}
	links := make([]ids.ID, 3)
	for i := 0; i < 3; i++ {
		links[i] = linkReg.Create(nameL(i))
		g.AddLink(&Link{
			ID: links[i], From: n[i], To: n[i+1],
			Length: 10, Capacity: 3600, Freespeed: 10, Permlanes: 1,
			Partition: 0,
		})
	}
	return g, links
}

func nameN(i int) string { return "n" + string(rune('0'+i)) }
func nameL(i int) string { return "l" + string(rune('0'+i)) }

func TestThreeLinkFreeFlow(t *testing.T) {
	g, links := buildThreeLinkGraph(t)
	cfg := Config{SampleSize: 1.0, StuckThresholdSec: 3600, EffectiveCellSize: 7.5}
	p := NewPartition(g, 0, cfg, 1)

	vehReg := ids.NewRegistry(ids.KindVehicle)
	v := &vehicles.Vehicle{ID: vehReg.Create("veh1"), MaxVelocity: 10, PCE: 1}

	env := &fakeEnv{routes: map[ids.ID][]ids.ID{v.ID: links}}
	pub := &fakeEvents{}

	v.CurrentLink = links[0]
	p.SendVehEnRoute(v, links[0], 0, false, pub)
	if len(pub.events) != 0 {
		t.Fatalf("route-begin push must not publish a link-enter event, got %v", pub.events)
	}

	var endLeg []*vehicles.Vehicle
	for now := uint32(0); now <= 4 && len(endLeg) == 0; now++ {
		p.MoveNodes(env, pub, now)
		res := p.MoveLinks(now, env.RouteLinks)
		endLeg = append(endLeg, res.EndLeg...)
	}

	if len(endLeg) != 1 {
		t.Fatalf("expected the vehicle to finish its leg, got %d finishers", len(endLeg))
	}

	wantSeq := []recordedEvent{
		{"leave", 1, links[0], v.ID},
		{"enter", 1, links[1], v.ID},
		{"leave", 2, links[1], v.ID},
		{"enter", 2, links[2], v.ID},
	}
	if len(pub.events) != len(wantSeq) {
		t.Fatalf("got %d events, want %d: %+v", len(pub.events), len(wantSeq), pub.events)
	}
	for i, w := range wantSeq {
		if pub.events[i] != w {
			t.Fatalf("event[%d] = %+v, want %+v", i, pub.events[i], w)
		}
	}
}

func TestStorageDeltaNonNegativeOnSplitIn(t *testing.T) {
	nodeReg := ids.NewRegistry(ids.KindNode)
	linkReg := ids.NewRegistry(ids.KindLink)
	g := NewGraph()
	upstream := nodeReg.Create("up")
	mid := nodeReg.Create("mid")
	g.AddNode(&Node{ID: upstream, Partition: 1})
	g.AddNode(&Node{ID: mid, Partition: 0})
	lid := linkReg.Create("boundary")
	g.AddLink(&Link{ID: lid, From: upstream, To: mid, Length: 10, Capacity: 3600, Freespeed: 10, Permlanes: 1, Partition: 0})

	cfg := Config{SampleSize: 1.0, StuckThresholdSec: 10, EffectiveCellSize: 7.5}
	p := NewPartition(g, 0, cfg, 1)

	vehReg := ids.NewRegistry(ids.KindVehicle)
	v := &vehicles.Vehicle{ID: vehReg.Create("veh1"), MaxVelocity: 10, PCE: 1}
	v.CurrentLink = lid
	p.SendVehEnRoute(v, lid, 0, true, &fakeEvents{})

	l := p.Link(lid)
	before := l.usedStorage
	env := &fakeEnv{routes: map[ids.ID][]ids.ID{v.ID: {lid}}}
	res := p.MoveLinks(1, env.RouteLinks)
	after := l.usedStorage
	if after > before {
		t.Fatalf("SplitIn storage increased during a link step: before=%f after=%f", before, after)
	}
	if len(res.CapUpdates) != 1 {
		t.Fatalf("expected a storage-cap update when the vehicle finished its leg, got %v", res.CapUpdates)
	}
}

func TestConservationSingleTick(t *testing.T) {
	g, links := buildThreeLinkGraph(t)
	cfg := Config{SampleSize: 1.0, StuckThresholdSec: 3600, EffectiveCellSize: 7.5}
	p := NewPartition(g, 0, cfg, 1)

	vehReg := ids.NewRegistry(ids.KindVehicle)
	v := &vehicles.Vehicle{ID: vehReg.Create("veh1"), MaxVelocity: 10, PCE: 1}
	v.CurrentLink = links[0]
	p.SendVehEnRoute(v, links[0], 0, false, &fakeEvents{})

	if got := p.VehicleCount(); got != 1 {
		t.Fatalf("VehicleCount after one placement = %d, want 1", got)
	}
}

// TestStorageBackpressureBlocksMove builds a two-link chain where the
// downstream link's storage holds exactly one pce, already occupied by a
// vehicle that is not moved off it during the test. A second vehicle queued on the
// upstream link must stay queued rather than overflow the downstream link.
func TestStorageBackpressureBlocksMove(t *testing.T) {
	nodeReg := ids.NewRegistry(ids.KindNode)
	linkReg := ids.NewRegistry(ids.KindLink)
	g := NewGraph()
	n0 := nodeReg.Create("n0")
	n1 := nodeReg.Create("n1")
	n2 := nodeReg.Create("n2")
	g.AddNode(&Node{ID: n0, Partition: 0})
	g.AddNode(&Node{ID: n1, Partition: 0})
	g.AddNode(&Node{ID: n2, Partition: 0})
	l0 := linkReg.Create("l0")
	l1 := linkReg.Create("l1")
	g.AddLink(&Link{ID: l0, From: n0, To: n1, Length: 10, Capacity: 3600, Freespeed: 10, Permlanes: 1, Partition: 0})
	g.AddLink(&Link{ID: l1, From: n1, To: n2, Length: 7.5, Capacity: 3600, Freespeed: 10, Permlanes: 1, Partition: 0})

	cfg := Config{SampleSize: 1.0, StuckThresholdSec: 100, EffectiveCellSize: 7.5}
	p := NewPartition(g, 0, cfg, 1)

	vehReg := ids.NewRegistry(ids.KindVehicle)
	blocker := &vehicles.Vehicle{ID: vehReg.Create("blocker"), MaxVelocity: 10, PCE: 1}
	blocker.CurrentLink = l1
	p.SendVehEnRoute(blocker, l1, 0, false, &fakeEvents{})
	if p.Link(l1).IsAvailable() {
		t.Fatalf("l1 should already be full: maxStorage is one pce and a blocker occupies it")
	}

	mover := &vehicles.Vehicle{ID: vehReg.Create("mover"), MaxVelocity: 10, PCE: 1}
	mover.CurrentLink = l0
	p.SendVehEnRoute(mover, l0, 0, false, &fakeEvents{})

	env := &fakeEnv{routes: map[ids.ID][]ids.ID{
		mover.ID:   {l0, l1},
		blocker.ID: {l1},
	}}
	pub := &fakeEvents{}
	p.MoveLinks(0, env.RouteLinks) // moves both waiting-list vehicles into their queues

	p.MoveNodes(env, pub, 1)

	if got := len(p.Link(l0).queue); got != 1 {
		t.Fatalf("mover should still be queued on l0 while l1 is full, queue len = %d", got)
	}
	for _, e := range pub.events {
		if e.kind == "enter" && e.link == l1 {
			t.Fatalf("l1 must not accept a link-enter while full, got %+v", pub.events)
		}
	}
}

// TestStuckThresholdForcesMove builds the same backpressured chain as
// TestStorageBackpressureBlocksMove, but with a small stuck threshold. The
// upstream vehicle must stay blocked until it has been ready to leave for at
// least the threshold, then force its way onto the still-full downstream
// link.
func TestStuckThresholdForcesMove(t *testing.T) {
	nodeReg := ids.NewRegistry(ids.KindNode)
	linkReg := ids.NewRegistry(ids.KindLink)
	g := NewGraph()
	n0 := nodeReg.Create("n0")
	n1 := nodeReg.Create("n1")
	n2 := nodeReg.Create("n2")
	g.AddNode(&Node{ID: n0, Partition: 0})
	g.AddNode(&Node{ID: n1, Partition: 0})
	g.AddNode(&Node{ID: n2, Partition: 0})
	l0 := linkReg.Create("l0")
	l1 := linkReg.Create("l1")
	g.AddLink(&Link{ID: l0, From: n0, To: n1, Length: 10, Capacity: 3600, Freespeed: 10, Permlanes: 1, Partition: 0})
	g.AddLink(&Link{ID: l1, From: n1, To: n2, Length: 7.5, Capacity: 3600, Freespeed: 10, Permlanes: 1, Partition: 0})

	cfg := Config{SampleSize: 1.0, StuckThresholdSec: 2, EffectiveCellSize: 7.5}
	p := NewPartition(g, 0, cfg, 1)

	vehReg := ids.NewRegistry(ids.KindVehicle)
	// A near-stationary blocker never becomes ready to leave l1, so l1 stays
	// permanently full for the duration of this test.
	blocker := &vehicles.Vehicle{ID: vehReg.Create("blocker"), MaxVelocity: 0.001, PCE: 1}
	blocker.CurrentLink = l1
	p.SendVehEnRoute(blocker, l1, 0, false, &fakeEvents{})

	mover := &vehicles.Vehicle{ID: vehReg.Create("mover"), MaxVelocity: 10, PCE: 1}
	mover.CurrentLink = l0
	p.SendVehEnRoute(mover, l0, 0, false, &fakeEvents{})

	env := &fakeEnv{routes: map[ids.ID][]ids.ID{
		mover.ID:   {l0, l1},
		blocker.ID: {l1},
	}}
	pub := &fakeEvents{}

	for now := uint32(0); now <= 3; now++ {
		p.MoveNodes(env, pub, now)
		p.MoveLinks(now, env.RouteLinks)
	}

	var forced bool
	for _, e := range pub.events {
		if e.kind == "leave" && e.link == l0 && e.veh == mover.ID {
			forced = true
			if e.now != 3 {
				t.Fatalf("mover left l0 at tick %d, want tick 3 (the first tick stuck seconds >= threshold)", e.now)
			}
		}
	}
	if !forced {
		t.Fatalf("mover never forced its way off l0 despite exceeding the stuck threshold: events=%+v", pub.events)
	}
	if got := len(p.Link(l0).queue); got != 0 {
		t.Fatalf("l0 should be empty after the forced move, queue len = %d", got)
	}
	if l1 := p.Link(l1); !(l1.usedStorage > l1.maxStorage) {
		t.Fatalf("l1 should be temporarily overfull after accepting a forced move: used=%f max=%f", l1.usedStorage, l1.maxStorage)
	}
}

// TestNodeSelectionProportionalToCapacity checks that when two in-links both
// offer a vehicle but only one slot is available downstream, the link with
// twice the other's flow capacity wins roughly twice as often.
func TestNodeSelectionProportionalToCapacity(t *testing.T) {
	nodeReg := ids.NewRegistry(ids.KindNode)
	linkReg := ids.NewRegistry(ids.KindLink)
	vehReg := ids.NewRegistry(ids.KindVehicle)

	aID := linkReg.Create("a")
	bID := linkReg.Create("b")
	cID := linkReg.Create("c")

	a := &SimLink{Kind: Local, ID: aID, Global: &Link{ID: aID, Length: 10, Freespeed: 10, Permlanes: 1}, maxStorage: 100}
	b := &SimLink{Kind: Local, ID: bID, Global: &Link{ID: bID, Length: 10, Freespeed: 10, Permlanes: 1}, maxStorage: 100}
	c := &SimLink{Kind: Local, ID: cID, Global: &Link{ID: cID, Length: 10, Freespeed: 10, Permlanes: 1}, maxStorage: 1}

	node := &SimNode{ID: nodeReg.Create("node"), InLinks: []ids.ID{aID, bID}}
	links := map[ids.ID]*SimLink{aID: a, bID: b, cID: c}

	env := &fakeEnv{routes: map[ids.ID][]ids.ID{}}
	pub := &fakeEvents{}
	rng := rand.New(rand.NewSource(7))

	const trials = 4000
	var aWins, bWins int
	for i := 0; i < trials; i++ {
		av := &vehicles.Vehicle{ID: vehReg.Create(fmt.Sprintf("av%d", i)), MaxVelocity: 10, PCE: 1}
		bv := &vehicles.Vehicle{ID: vehReg.Create(fmt.Sprintf("bv%d", i)), MaxVelocity: 10, PCE: 1}
		a.queue = []queuedVehicle{{veh: av, earliestExit: 0}}
		b.queue = []queuedVehicle{{veh: bv, earliestExit: 0}}
		a.usedStorage, b.usedStorage = 1, 1
		a.flowAccumulator, b.flowAccumulator = 2.0, 1.0 // a offers twice b's flow capacity
		c.usedStorage = 0
		c.queue = nil
		env.routes[av.ID] = []ids.ID{aID, cID}
		env.routes[bv.ID] = []ids.ID{bID, cID}

		stepNode(node, links, 0, rng, env, pub)

		switch {
		case len(a.queue) == 0:
			aWins++
		case len(b.queue) == 0:
			bWins++
		}
		a.queue = nil
		b.queue = nil
	}

	total := float64(aWins + bWins)
	if total < float64(trials)*0.9 {
		t.Fatalf("too few trials produced a winner: %d/%d", int(total), trials)
	}
	ratio := float64(aWins) / total
	if ratio < 0.58 || ratio > 0.75 {
		t.Fatalf("a's win ratio = %f, want close to 2/3 (flow capacities are 2:1)", ratio)
	}
}
