package messaging

import (
	"fmt"
	"sync"
)

// InProcessCommunicator implements Communicator over Go channels, one
// partition per goroutine, with a shared N-way barrier: the "in-process"
// transport, for running every partition in one process.
type InProcessCommunicator struct {
	rank  int
	inbox <-chan *SyncMessage
	peers map[int]chan<- *SyncMessage

	barrier *cyclicBarrier
}

// NewInProcessCommunicators builds one InProcessCommunicator per rank in
// [0, n), fully cross-wired, sharing one barrier.
func NewInProcessCommunicators(n int) []*InProcessCommunicator {
	inboxes := make([]chan *SyncMessage, n)
	for i := range inboxes {
		inboxes[i] = make(chan *SyncMessage, 256)
	}
	barrier := newCyclicBarrier(n)

	comms := make([]*InProcessCommunicator, n)
	for i := 0; i < n; i++ {
		peers := make(map[int]chan<- *SyncMessage, n-1)
		for j := 0; j < n; j++ {
			if j != i {
				peers[j] = inboxes[j]
			}
		}
		comms[i] = &InProcessCommunicator{
			rank:    i,
			inbox:   inboxes[i],
			peers:   peers,
			barrier: barrier,
		}
	}
	return comms
}

func (c *InProcessCommunicator) Rank() int { return c.rank }

func (c *InProcessCommunicator) Barrier() { c.barrier.Wait() }

// SendReceiveVehicles dispatches every outgoing message to its target's
// channel (buffered, so sends never block on the receiver's pace) and then
// drains the inbox, invoking onMsg, until expected is empty. Because sends
// are non-blocking-by-buffering and receipt does not wait on our own sends
// completing, no peer can deadlock waiting on another.
func (c *InProcessCommunicator) SendReceiveVehicles(out map[int]*SyncMessage, expected map[int]bool, now uint32, onMsg func(*SyncMessage)) error {
	for part, m := range out {
		ch, ok := c.peers[part]
		if !ok {
			return fmt.Errorf("communicator: rank %d has no peer channel for partition %d", c.rank, part)
		}
		select {
		case ch <- m:
		default:
			return fmt.Errorf("communicator: rank %d's send to %d would block (inbox full)", c.rank, part)
		}
	}

	for len(expected) > 0 {
		m, ok := <-c.inbox
		if !ok {
			return fmt.Errorf("communicator: rank %d's inbox closed while %d neighbors still expected", c.rank, len(expected))
		}
		onMsg(m)
	}
	return nil
}

// cyclicBarrier is a reusable N-way rendezvous barrier.
type cyclicBarrier struct {
	n       int
	mu      sync.Mutex
	count   int
	gen     chan struct{}
}

func newCyclicBarrier(n int) *cyclicBarrier {
	return &cyclicBarrier{n: n, gen: make(chan struct{})}
}

func (b *cyclicBarrier) Wait() {
	b.mu.Lock()
	b.count++
	if b.count == b.n {
		b.count = 0
		old := b.gen
		b.gen = make(chan struct{})
		b.mu.Unlock()
		close(old)
		return
	}
	gen := b.gen
	b.mu.Unlock()
	<-gen
}
