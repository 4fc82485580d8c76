package agent

import (
	"errors"
	"math"

	"github.com/mesoqsim/qsim/pkg/ids"
)

var (
	errNoLegs = errors.New("agent: trip has no legs")
	errNoMode = errors.New("agent: leg has neither a routing-mode attribute nor a mode")
)

// infiniteEndTime stands in for the "+∞" fallback used when an activity
// has neither an explicit end_time nor a max_duration.
const infiniteEndTime = math.MaxUint32

// State is which kind of plan element the cursor currently sits on.
type State uint8

const (
	StateActivity State = iota
	StateLeg
)

func (s State) String() string {
	if s == StateActivity {
		return "activity"
	}
	return "leg"
}

// EventKind tags the notifications a Logic reacts to.
type EventKind uint8

const (
	EventWakeup EventKind = iota
	EventActivityFinished
	EventLeftLink
	EventTeleportationStarted
)

// Logic is the uniform contract both agent variants implement.
type Logic interface {
	State() State
	CurrAct() *Activity
	CurrLeg() *Leg
	NextAct() *Activity
	NextLeg() *Leg
	AdvancePlan()
	WakeupTime(now uint32) uint32
	EndTime(now uint32) uint32
	CurrLinkID() ids.ID
	PeekNextLinkID() (ids.ID, bool)
	IsWantingToArriveOnCurrentLink() bool
	NotifyEvent(kind EventKind, now uint32)
}

// PlanBasedLogic is the deterministic cursor over a fixed plan.
type PlanBasedLogic struct {
	Person ids.ID
	plan   *Plan
	cursor int
	// routeIdx is the position within the current leg's route link list;
	// meaningless while State() == StateActivity.
	routeIdx int
}

// NewPlanBasedLogic starts a fresh cursor at the plan's first activity.
func NewPlanBasedLogic(person ids.ID, plan *Plan) *PlanBasedLogic {
	return &PlanBasedLogic{Person: person, plan: plan}
}

func (l *PlanBasedLogic) State() State {
	if l.cursor%2 == 0 {
		return StateActivity
	}
	return StateLeg
}

func (l *PlanBasedLogic) CurrAct() *Activity { return l.plan.ActivityAt(l.cursor) }
func (l *PlanBasedLogic) CurrLeg() *Leg      { return l.plan.LegAt(l.cursor) }

func (l *PlanBasedLogic) NextAct() *Activity {
	if l.cursor+1 >= len(l.plan.Elements) {
		return nil
	}
	return l.plan.ActivityAt(l.cursor + 1)
}

func (l *PlanBasedLogic) NextLeg() *Leg {
	if l.cursor+1 >= len(l.plan.Elements) {
		return nil
	}
	return l.plan.LegAt(l.cursor + 1)
}

func (l *PlanBasedLogic) AdvancePlan() {
	l.cursor++
	l.routeIdx = 0
}

func activityEndTime(a *Activity, now uint32) uint32 {
	if a.EndTime != nil {
		return *a.EndTime
	}
	if a.MaxDuration != nil {
		return now + *a.MaxDuration
	}
	return infiniteEndTime
}

// EndTime implements the fallback chain: an explicit activity end_time
// wins, else now+max_duration, else unbounded; a leg always ends after its
// travel_time.
func (l *PlanBasedLogic) EndTime(now uint32) uint32 {
	if l.State() == StateActivity {
		return activityEndTime(l.CurrAct(), now)
	}
	return now + l.CurrLeg().TravTime
}

// WakeupTime is identical to EndTime for the non-adaptive variant;
// AdaptiveLogic overrides it to pull activity wake-ups forward.
func (l *PlanBasedLogic) WakeupTime(now uint32) uint32 { return l.EndTime(now) }

func (l *PlanBasedLogic) CurrLinkID() ids.ID {
	if l.State() == StateActivity {
		return l.CurrAct().Link
	}
	id, ok := l.CurrLeg().Route.LinkAt(l.routeIdx)
	if !ok {
		panic("agent: route-link cursor out of range")
	}
	return id
}

func (l *PlanBasedLogic) PeekNextLinkID() (ids.ID, bool) {
	if l.State() != StateLeg {
		return ids.ID{}, false
	}
	r := l.CurrLeg().Route
	if r.Kind != RouteNetwork {
		return ids.ID{}, false
	}
	return r.LinkAt(l.routeIdx + 1)
}

func (l *PlanBasedLogic) IsWantingToArriveOnCurrentLink() bool {
	return l.State() == StateLeg && l.routeIdx >= l.CurrLeg().Route.LastIndex()
}

func (l *PlanBasedLogic) NotifyEvent(kind EventKind, now uint32) {
	switch kind {
	case EventLeftLink:
		l.routeIdx++
	case EventTeleportationStarted:
		l.routeIdx = l.CurrLeg().Route.LastIndex()
	}
}

// RouteLinks returns the current leg's full ordered link list, or nil for a
// non-Network route — the shape pkg/network.Env.RouteLinks needs.
func (l *PlanBasedLogic) RouteLinks() []ids.ID {
	if l.State() != StateLeg {
		return nil
	}
	r := l.CurrLeg().Route
	if r.Kind != RouteNetwork {
		return nil
	}
	return r.Links
}
