package agent

import (
	"strings"

	"github.com/mesoqsim/qsim/pkg/routing"
)

// AdaptiveLogic wraps a PlanBasedLogic and adds the preplanning-horizon
// request/response dance.
type AdaptiveLogic struct {
	*PlanBasedLogic

	svc routing.Service

	// pending tracks an outstanding request, if any: the origin/destination
	// activity pointers bound at request time (for the identity-based
	// splice) and the channel the response will arrive on.
	pending *pendingRequest
}

type pendingRequest struct {
	origin, dest *Activity
	reply        chan routing.Response
}

// NewAdaptiveLogic wraps base with a routing service to consult whenever an
// activity carries a preplanning_horizon attribute.
func NewAdaptiveLogic(base *PlanBasedLogic, svc routing.Service) *AdaptiveLogic {
	return &AdaptiveLogic{PlanBasedLogic: base, svc: svc}
}

// WakeupTime brings the activity's wake-up forward by the horizon, clamped
// at 0, when one is set on the current activity.
func (l *AdaptiveLogic) WakeupTime(now uint32) uint32 {
	if l.State() != StateActivity || l.pending != nil {
		// Either not on an activity, or the routing request for this trip
		// has already been sent: the next wake-up is the real activity end, not
		// another horizon-early one — this guard avoids re-requesting on every
		// re-park.
		return l.PlanBasedLogic.WakeupTime(now)
	}
	act := l.CurrAct()
	if act.PreplanningHorizon == nil {
		return l.PlanBasedLogic.WakeupTime(now)
	}
	end := activityEndTime(act, now)
	h := *act.PreplanningHorizon
	if h > end {
		return 0
	}
	return end - h
}

// NotifyEvent additionally fires the routing request on Wakeup and blocks
// for the reply on ActivityFinished, splicing the result into the plan.
func (l *AdaptiveLogic) NotifyEvent(kind EventKind, now uint32) {
	switch kind {
	case EventWakeup:
		l.maybeRequestRoute(now)
	case EventActivityFinished:
		l.maybeSpliceResponse()
	}
	l.PlanBasedLogic.NotifyEvent(kind, now)
}

// maybeRequestRoute issues a routing request for the upcoming trip if the
// current activity has a horizon set, a next leg exists, and no request is
// already outstanding.
func (l *AdaptiveLogic) maybeRequestRoute(now uint32) {
	if l.pending != nil || l.State() != StateActivity {
		return
	}
	act := l.CurrAct()
	if act.PreplanningHorizon == nil {
		return
	}
	nextLeg := l.NextLeg()
	if nextLeg == nil {
		return
	}
	dest := l.destinationActivity()
	if dest == nil {
		return
	}
	mode, err := MainMode(tripLegs(l.plan, l.cursor+1))
	if err != nil {
		return
	}

	reply := make(chan routing.Response, 1)
	req := routing.Request{
		PersonID:      l.Person,
		FromLink:      act.Link,
		FromX:         act.X,
		FromY:         act.Y,
		ToLink:        dest.Link,
		ToX:           dest.X,
		ToY:           dest.Y,
		Mode:          mode,
		DepartureTime: activityEndTime(act, now),
		CurrentTime:   now,
		RequestID:     routing.NewRequestID(),
		Reply:         reply,
	}
	l.svc.Requests() <- req
	l.pending = &pendingRequest{origin: act, dest: dest, reply: reply}
}

// destinationActivity finds the next non-stage activity terminating the
// current trip, i.e. the first Activity after the cursor whose type does not
// contain "interaction".
func (l *AdaptiveLogic) destinationActivity() *Activity {
	for i := l.cursor + 1; i < len(l.plan.Elements); i++ {
		if a, ok := l.plan.Elements[i].(*Activity); ok && !strings.Contains(a.Type, "interaction") {
			return a
		}
	}
	return nil
}

// tripLegs collects the Leg elements starting at idx, passing over stage
// activities and stopping at the next non-stage Activity — the legs of the
// sequence of plan elements between two non-stage activities.
func tripLegs(p *Plan, idx int) []*Leg {
	var legs []*Leg
	for i := idx; i < len(p.Elements); i++ {
		if a, ok := p.Elements[i].(*Activity); ok {
			if !strings.Contains(a.Type, "interaction") {
				break
			}
			continue
		}
		legs = append(legs, p.Elements[i].(*Leg))
	}
	return legs
}

// maybeSpliceResponse blocks on the outstanding request's reply, then
// splices the routed elements into the plan between origin and dest,
// located by identity so earlier splices cannot have invalidated them.
func (l *AdaptiveLogic) maybeSpliceResponse() {
	if l.pending == nil {
		return
	}
	p := l.pending
	l.pending = nil
	resp := <-p.reply
	if len(resp.Elements) == 0 {
		return
	}
	originIdx := l.plan.IndexOf(p.origin)
	destIdx := l.plan.IndexOf(p.dest)
	if originIdx < 0 || destIdx < 0 || destIdx <= originIdx {
		panic("agent: adaptive splice could not locate origin/destination activities")
	}

	elems := make([]Element, 0, len(resp.Elements))
	for _, e := range resp.Elements {
		elems = append(elems, toPlanElement(e))
	}
	l.plan.Elements = append(l.plan.Elements[:originIdx+1:originIdx+1], append(elems, l.plan.Elements[destIdx:]...)...)
}

func toPlanElement(e routing.Element) Element {
	if e.Kind == routing.ElementActivity {
		return &Activity{Type: e.ActivityType, Link: e.Link, X: e.X, Y: e.Y}
	}
	return &Leg{
		Mode:        e.Mode,
		RoutingMode: e.RoutingMode,
		TravTime:    e.TravTime,
		Route: &Route{
			Kind:      RouteKind(e.RouteKind),
			StartLink: e.StartLink,
			EndLink:   e.EndLink,
			Links:     e.Links,
			Distance:  e.Distance,
		},
	}
}

var _ Logic = (*AdaptiveLogic)(nil)
var _ Logic = (*PlanBasedLogic)(nil)
