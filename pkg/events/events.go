// Package events implements the typed event variants, the fan-out
// publisher, and the output sinks.
package events

import "github.com/mesoqsim/qsim/pkg/ids"

// AttrKind tags which field of AttrValue is populated.
type AttrKind uint8

const (
	AttrString AttrKind = iota
	AttrInt
	AttrDouble
	AttrBool
)

// AttrValue is the tagged union {int, double, string, bool} an event
// attribute value can carry.
type AttrValue struct {
	Kind   AttrKind
	Str    string
	Int    int64
	Double float64
	Bool   bool
}

func StringAttr(v string) AttrValue  { return AttrValue{Kind: AttrString, Str: v} }
func IntAttr(v int64) AttrValue      { return AttrValue{Kind: AttrInt, Int: v} }
func DoubleAttr(v float64) AttrValue { return AttrValue{Kind: AttrDouble, Double: v} }
func BoolAttr(v bool) AttrValue      { return AttrValue{Kind: AttrBool, Bool: v} }

// Resolver maps internal dense ids back to their external names for output;
// a zero-value Resolver falls back to each id's internal handle string,
// which is enough for tests that never built an ids.Registry.
type Resolver struct {
	Persons, Links, Vehicles *ids.Registry
}

func (r Resolver) person(id ids.ID) string  { return resolve(r.Persons, id) }
func (r Resolver) link(id ids.ID) string    { return resolve(r.Links, id) }
func (r Resolver) vehicle(id ids.ID) string { return resolve(r.Vehicles, id) }

func resolve(reg *ids.Registry, id ids.ID) string {
	if reg == nil {
		return id.String()
	}
	if name := reg.ByHandleOrBlank(id); name != "" {
		return name
	}
	return id.String()
}

// Event is any of the typed variants below; Type returns the classic MATSim
// event-type string, When its integer second, and Attrs its attribute bag
// (with ids already resolved to external names) for the sinks to render.
type Event interface {
	Type() string
	When() uint32
	Attrs(r Resolver) map[string]AttrValue
}

type base struct {
	Time uint32
}

func (b base) When() uint32 { return b.Time }

// ActivityStart fires when an agent begins an activity.
type ActivityStart struct {
	base
	Person ids.ID
	Link   ids.ID
	Act    string
}

func (ActivityStart) Type() string { return "actstart" }
func (e ActivityStart) Attrs(r Resolver) map[string]AttrValue {
	return map[string]AttrValue{"person": StringAttr(r.person(e.Person)), "link": StringAttr(r.link(e.Link)), "actType": StringAttr(e.Act)}
}

// ActivityEnd fires when an agent's wake-up pops it from the activity
// queue.
type ActivityEnd struct {
	base
	Person ids.ID
	Link   ids.ID
	Act    string
}

func (ActivityEnd) Type() string { return "actend" }
func (e ActivityEnd) Attrs(r Resolver) map[string]AttrValue {
	return map[string]AttrValue{"person": StringAttr(r.person(e.Person)), "link": StringAttr(r.link(e.Link)), "actType": StringAttr(e.Act)}
}

// Departure fires alongside PersonEntersVehicle when a leg begins.
type Departure struct {
	base
	Person ids.ID
	Link   ids.ID
	Mode   string
}

func (Departure) Type() string { return "departure" }
func (e Departure) Attrs(r Resolver) map[string]AttrValue {
	return map[string]AttrValue{"person": StringAttr(r.person(e.Person)), "link": StringAttr(r.link(e.Link)), "legMode": StringAttr(e.Mode)}
}

// Arrival fires when a leg ends, just before act_start.
type Arrival struct {
	base
	Person ids.ID
	Link   ids.ID
	Mode   string
}

func (Arrival) Type() string { return "arrival" }
func (e Arrival) Attrs(r Resolver) map[string]AttrValue {
	return map[string]AttrValue{"person": StringAttr(r.person(e.Person)), "link": StringAttr(r.link(e.Link)), "legMode": StringAttr(e.Mode)}
}

// LinkEnter fires when a vehicle is pushed onto a link it did not already
// occupy.
type LinkEnter struct {
	base
	Link    ids.ID
	Vehicle ids.ID
}

func (LinkEnter) Type() string { return "entered link" }
func (e LinkEnter) Attrs(r Resolver) map[string]AttrValue {
	return map[string]AttrValue{"link": StringAttr(r.link(e.Link)), "vehicle": StringAttr(r.vehicle(e.Vehicle))}
}

// LinkLeave fires just before a vehicle moves across a node.
type LinkLeave struct {
	base
	Link    ids.ID
	Vehicle ids.ID
}

func (LinkLeave) Type() string { return "left link" }
func (e LinkLeave) Attrs(r Resolver) map[string]AttrValue {
	return map[string]AttrValue{"link": StringAttr(r.link(e.Link)), "vehicle": StringAttr(r.vehicle(e.Vehicle))}
}

// PersonEntersVehicle fires when the activity engine creates/assigns a
// vehicle to a departing agent.
type PersonEntersVehicle struct {
	base
	Person  ids.ID
	Vehicle ids.ID
}

func (PersonEntersVehicle) Type() string { return "PersonEntersVehicle" }
func (e PersonEntersVehicle) Attrs(r Resolver) map[string]AttrValue {
	return map[string]AttrValue{"person": StringAttr(r.person(e.Person)), "vehicle": StringAttr(r.vehicle(e.Vehicle))}
}

// PersonLeavesVehicle fires when a vehicle's leg ends.
type PersonLeavesVehicle struct {
	base
	Person  ids.ID
	Vehicle ids.ID
}

func (PersonLeavesVehicle) Type() string { return "PersonLeavesVehicle" }
func (e PersonLeavesVehicle) Attrs(r Resolver) map[string]AttrValue {
	return map[string]AttrValue{"person": StringAttr(r.person(e.Person)), "vehicle": StringAttr(r.vehicle(e.Vehicle))}
}

// TeleportationArrival fires when the teleport engine pops a due vehicle.
type TeleportationArrival struct {
	base
	Person   ids.ID
	Mode     string
	Distance float64
}

func (TeleportationArrival) Type() string { return "travelled" }
func (e TeleportationArrival) Attrs(r Resolver) map[string]AttrValue {
	return map[string]AttrValue{"person": StringAttr(r.person(e.Person)), "mode": StringAttr(e.Mode), "distance": DoubleAttr(e.Distance)}
}

// Constructors below let callers outside this package build events without
// naming the unexported `base` embed directly.

func NewActivityStart(now uint32, person, link ids.ID, act string) ActivityStart {
	return ActivityStart{base: base{now}, Person: person, Link: link, Act: act}
}

func NewActivityEnd(now uint32, person, link ids.ID, act string) ActivityEnd {
	return ActivityEnd{base: base{now}, Person: person, Link: link, Act: act}
}

func NewDeparture(now uint32, person, link ids.ID, mode string) Departure {
	return Departure{base: base{now}, Person: person, Link: link, Mode: mode}
}

func NewArrival(now uint32, person, link ids.ID, mode string) Arrival {
	return Arrival{base: base{now}, Person: person, Link: link, Mode: mode}
}

func NewPersonEntersVehicle(now uint32, person, vehicle ids.ID) PersonEntersVehicle {
	return PersonEntersVehicle{base: base{now}, Person: person, Vehicle: vehicle}
}

func NewPersonLeavesVehicle(now uint32, person, vehicle ids.ID) PersonLeavesVehicle {
	return PersonLeavesVehicle{base: base{now}, Person: person, Vehicle: vehicle}
}

func NewTeleportationArrival(now uint32, person ids.ID, mode string, distance float64) TeleportationArrival {
	return TeleportationArrival{base: base{now}, Person: person, Mode: mode, Distance: distance}
}
