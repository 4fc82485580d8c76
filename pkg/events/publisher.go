package events

import (
	"github.com/mesoqsim/qsim/pkg/ids"
	"github.com/mesoqsim/qsim/pkg/vehicles"
)

// Sink is one output registered with a Publisher: OnEvent is called for
// every published event in order, Finish flushes/closes it.
type Sink interface {
	OnEvent(e Event)
	Finish()
}

// Publisher is the fan-out point for every sink. It also implements
// pkg/network.Events (LinkEnter/LinkLeave) so a SimNetworkPartition can
// publish without importing pkg/events.
type Publisher struct {
	sinks []Sink
}

// NewPublisher builds an empty fan-out; sinks are added with AddSink.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// AddSink registers a sink; order of registration is the order sinks are
// invoked in.
func (p *Publisher) AddSink(s Sink) { p.sinks = append(p.sinks, s) }

// Publish fans e out to every registered sink.
func (p *Publisher) Publish(e Event) {
	for _, s := range p.sinks {
		s.OnEvent(e)
	}
}

// Finish flushes every sink, in registration order.
func (p *Publisher) Finish() {
	for _, s := range p.sinks {
		s.Finish()
	}
}

// LinkEnter/LinkLeave satisfy pkg/network.Events.
func (p *Publisher) LinkEnter(now uint32, link ids.ID, v *vehicles.Vehicle) {
	p.Publish(LinkEnter{base: base{now}, Link: link, Vehicle: v.ID})
}

func (p *Publisher) LinkLeave(now uint32, link ids.ID, v *vehicles.Vehicle) {
	p.Publish(LinkLeave{base: base{now}, Link: link, Vehicle: v.ID})
}
