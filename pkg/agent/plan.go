// Package agent implements the agent-side plan cursor: the deterministic
// plan-based state machine and its adaptive, routing-service-backed variant.
package agent

import (
	"github.com/mesoqsim/qsim/pkg/ids"
)

// RouteKind distinguishes the three route shapes a Leg can carry.
type RouteKind uint8

const (
	// RouteGeneric exposes only a start and end link, no intermediate list.
	RouteGeneric RouteKind = iota
	// RouteNetwork carries the explicit ordered link-id list routed through
	// the queue network.
	RouteNetwork
	// RouteTransit is a `default_pt` route; it behaves like Generic for
	// link-id purposes, carrying an opaque JSON descriptor besides.
	RouteTransit
)

func (k RouteKind) String() string {
	switch k {
	case RouteGeneric:
		return "generic"
	case RouteNetwork:
		return "links"
	case RouteTransit:
		return "default_pt"
	default:
		return "unknown"
	}
}

// Route is one leg's route, tagged by Kind.
type Route struct {
	Kind       RouteKind
	StartLink  ids.ID
	EndLink    ids.ID
	Links      []ids.ID // RouteNetwork only, inclusive of StartLink/EndLink
	TravTime   uint32
	Distance   float64
	VehicleRef ids.ID
	// TransitDescriptor holds the raw JSON payload of a default_pt route;
	// nothing in this package parses it further.
	TransitDescriptor string
}

// LinkAt returns the link id at route-local index i, and whether i was in
// range. For Generic/Transit routes only indices 0 and 1 (start/end) exist;
// for Network routes every entry of Links is addressable.
func (r *Route) LinkAt(i int) (ids.ID, bool) {
	switch r.Kind {
	case RouteNetwork:
		if i < 0 || i >= len(r.Links) {
			return ids.ID{}, false
		}
		return r.Links[i], true
	default:
		switch i {
		case 0:
			return r.StartLink, true
		case 1:
			return r.EndLink, true
		default:
			return ids.ID{}, false
		}
	}
}

// LastIndex returns the highest valid index into LinkAt.
func (r *Route) LastIndex() int {
	if r.Kind == RouteNetwork {
		return len(r.Links) - 1
	}
	return 1
}

// Activity is one ACTIVITY plan element.
type Activity struct {
	Type        string
	Link        ids.ID
	X, Y        float64
	StartTime   *uint32
	EndTime     *uint32
	MaxDuration *uint32
	// Attrs carries arbitrary activity attributes; "preplanning_horizon"
	// (parsed separately into PreplanningHorizon) switches the subsequent
	// trip onto AdaptiveLogic.
	Attrs                map[string]string
	PreplanningHorizon   *uint32
}

// Leg is one LEG plan element.
type Leg struct {
	Mode    string
	DepTime *uint32
	// RoutingMode, if set, overrides Mode for main-mode resolution.
	RoutingMode string
	TravTime    uint32
	Route       *Route
}

// Element is one plan element, either *Activity or *Leg.
type Element interface{ isElement() }

func (*Activity) isElement() {}
func (*Leg) isElement()      {}

// Plan is a person's selected plan: activities at even indices, legs at odd
// indices.
type Plan struct {
	Elements []Element
}

// ActivityAt panics if idx is not an activity slot; used internally once the
// even/odd invariant has already been checked by the caller.
func (p *Plan) ActivityAt(idx int) *Activity { return p.Elements[idx].(*Activity) }

// LegAt panics if idx is not a leg slot.
func (p *Plan) LegAt(idx int) *Leg { return p.Elements[idx].(*Leg) }

// InsertAt splices new elements into the plan starting at position idx,
// shifting everything from idx onward to the right. Used with indices found
// by IndexOf, not stored across calls.
func (p *Plan) InsertAt(idx int, elems ...Element) {
	tail := append([]Element(nil), p.Elements[idx:]...)
	p.Elements = append(p.Elements[:idx], elems...)
	p.Elements = append(p.Elements, tail...)
}

// IndexOf finds an element by identity (pointer equality), not value, so a
// prior splice does not invalidate a previously captured index.
func (p *Plan) IndexOf(target Element) int {
	for i, e := range p.Elements {
		if e == target {
			return i
		}
	}
	return -1
}

// MainMode resolves the main mode of a trip: the first leg's RoutingMode
// if set, else its Mode, else an error if the leg list is empty.
func MainMode(legs []*Leg) (string, error) {
	if len(legs) == 0 {
		return "", errNoLegs
	}
	first := legs[0]
	if first.RoutingMode != "" {
		return first.RoutingMode, nil
	}
	if first.Mode != "" {
		return first.Mode, nil
	}
	return "", errNoMode
}
