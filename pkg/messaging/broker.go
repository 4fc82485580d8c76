package messaging

import (
	"container/heap"
	"fmt"
	"sync"

	"github.com/mesoqsim/qsim/pkg/agent"
	"github.com/mesoqsim/qsim/pkg/ids"
	"github.com/mesoqsim/qsim/pkg/network"
	"github.com/mesoqsim/qsim/pkg/vehicles"
)

// msgHeap is a min-heap of buffered future-timestep SyncMessages, ordered by
// time ascending.
type msgHeap []*SyncMessage

func (h msgHeap) Len() int            { return len(h) }
func (h msgHeap) Less(i, j int) bool  { return h[i].Time < h[j].Time }
func (h msgHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *msgHeap) Push(x any)         { *h = append(*h, x.(*SyncMessage)) }
func (h *msgHeap) Pop() any {
	old := *h
	n := len(old)
	m := old[n-1]
	*h = old[:n-1]
	return m
}

// Broker is the per-partition message broker.
type Broker struct {
	mu sync.Mutex

	self        int
	linkMapping map[ids.ID]int // link id -> owning partition
	neighbors   map[int]bool

	outMessages map[int]*SyncMessage
	inMessages  msgHeap

	Sent, Received, Buffered uint64
}

// NewBroker builds a broker for partition self. linkMapping maps every link
// id in the global graph to its owning partition (used to route vehicles by
// their current link); neighbors is the partition's set of SplitIn/SplitOut
// peers.
func NewBroker(self int, linkMapping map[ids.ID]int, neighbors []int) *Broker {
	b := &Broker{
		self:        self,
		linkMapping: linkMapping,
		neighbors:   make(map[int]bool, len(neighbors)),
		outMessages: make(map[int]*SyncMessage),
	}
	for _, n := range neighbors {
		b.neighbors[n] = true
	}
	return b
}

func (b *Broker) outFor(part int, now uint32) *SyncMessage {
	m, ok := b.outMessages[part]
	if !ok {
		m = &SyncMessage{Time: now, From: b.self, To: part}
		b.outMessages[part] = m
	}
	return m
}

// AddVeh routes veh to the partition that owns its current link.
func (b *Broker) AddVeh(veh *vehicles.Vehicle, now uint32) {
	part, ok := b.linkMapping[veh.CurrentLink]
	if !ok {
		panic(fmt.Sprintf("messaging: broker on partition %d cannot route vehicle %v: unknown link %v", b.self, veh.ID, veh.CurrentLink))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.outFor(part, now)
	m.Vehicles = append(m.Vehicles, veh)
}

// AddCapUpdate routes a storage-cap release to the partition whose SplitOut
// needs it (update.FromPart).
func (b *Broker) AddCapUpdate(u network.StorageCapUpdate, now uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.outFor(u.FromPart, now)
	m.CapUpdates = append(m.CapUpdates, u)
}

// AddAgent attaches a crossing agent's Logic to the same outgoing message as
// its vehicle (routed by the vehicle's current link, exactly like AddVeh) so
// the receiving partition can register it before placing the vehicle.
func (b *Broker) AddAgent(person ids.ID, link ids.ID, logic agent.Logic, now uint32) {
	part, ok := b.linkMapping[link]
	if !ok {
		panic(fmt.Sprintf("messaging: broker on partition %d cannot route agent %v: unknown link %v", b.self, person, link))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.outFor(part, now)
	m.Agents = append(m.Agents, AgentHandoff{Person: person, Logic: logic})
}

// Communicator is the transport abstraction brokers send through.
type Communicator interface {
	Rank() int
	Barrier()
	SendReceiveVehicles(out map[int]*SyncMessage, expected map[int]bool, now uint32, onMsg func(*SyncMessage)) error
}

// SendRecv drains buffered messages due now, ensures every neighbor has a
// (possibly empty) outgoing message, optionally barriers, then delegates to
// the communicator.
func (b *Broker) SendRecv(comm Communicator, globalSync bool, now uint32) ([]*SyncMessage, error) {
	b.mu.Lock()
	var due []*SyncMessage
	expected := make(map[int]bool, len(b.neighbors))
	for n := range b.neighbors {
		expected[n] = true
	}
	for b.inMessages.Len() > 0 && b.inMessages[0].Time <= now {
		m := heap.Pop(&b.inMessages).(*SyncMessage)
		due = append(due, m)
		delete(expected, m.From)
	}
	for n := range b.neighbors {
		b.outFor(n, now)
	}
	out := b.outMessages
	b.outMessages = make(map[int]*SyncMessage)
	b.mu.Unlock()

	if globalSync {
		comm.Barrier()
	}

	onMsg := func(m *SyncMessage) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if m.Time <= now {
			due = append(due, m)
			delete(expected, m.From)
			b.Received++
		} else {
			heap.Push(&b.inMessages, m)
			b.Buffered++
		}
	}

	if err := comm.SendReceiveVehicles(out, expected, now, onMsg); err != nil {
		return nil, fmt.Errorf("messaging: send_recv at t=%d: %w", now, err)
	}
	b.Sent += uint64(len(out))

	if len(expected) != 0 {
		panic(fmt.Sprintf("messaging: expected-set invariant violated at t=%d on partition %d: missing %v", now, b.self, expected))
	}
	return due, nil
}
