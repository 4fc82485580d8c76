// Package vehicles models vehicle types and vehicle instances, and the
// garage that assigns a vehicle to a person for a given vehicle type (§6
// vehicles file, §4.8 step 1 "look up (person, vehicle_type) in the garage").
package vehicles

import (
	"fmt"
	"sync"

	"github.com/mesoqsim/qsim/pkg/ids"
)

// Mode distinguishes full queue-network legs from teleported ones.
type Mode uint8

const (
	// ModeNetwork legs are routed through the queue network link by link.
	ModeNetwork Mode = iota
	// ModeTeleported legs skip the network and resolve after a fixed travel time.
	ModeTeleported
)

// Type is a vehicle type as read from the vehicles file.
type Type struct {
	ID                 ids.ID
	LengthMeters       float64
	WidthMeters        float64
	MaxVelocity        float64 // m/s
	PCE                float64 // passenger-car-equivalent
	FlowEfficiency     float64
	NetworkMode        string
	Mode               Mode
}

// Vehicle is a single vehicle instance en route.
type Vehicle struct {
	ID          ids.ID
	Type        ids.ID
	MaxVelocity float64
	PCE         float64

	// AgentID is the person currently driving this vehicle, "owned" by it
	// while it is en route.
	AgentID ids.ID
	// Passengers are additional agents riding without driving.
	Passengers []ids.ID

	// CurrentLink is bookkeeping for whichever SimLink (or broker/teleport
	// queue) currently holds the vehicle; a Vehicle is on exactly one of
	// those at any tick boundary.
	CurrentLink ids.ID

	Attrs map[string]string
}

// Garage owns the registered vehicle types and the vehicles it has handed
// out, keyed by (person, vehicle type) so repeated lookups for the same
// person/mode are idempotent, mirroring the pack's map+mutex manager idiom
// (teacher_ref/pkg/cluster/membership.go).
type Garage struct {
	mu       sync.RWMutex
	types    map[ids.ID]*Type
	vehicles map[ids.ID]*Vehicle // by vehicle ID
	byPerson map[personVehicleKey]ids.ID
	nextSeq  uint64
	vehIDs   *ids.Registry
}

type personVehicleKey struct {
	person ids.ID
	typ    ids.ID
}

// NewGarage builds an empty garage; vehIDs is the registry used to mint
// vehicle ids the first time a (person, type) pair is seen.
func NewGarage(vehIDs *ids.Registry) *Garage {
	return &Garage{
		types:    make(map[ids.ID]*Type),
		vehicles: make(map[ids.ID]*Vehicle),
		byPerson: make(map[personVehicleKey]ids.ID),
		vehIDs:   vehIDs,
	}
}

// AddType registers a vehicle type, as read from the vehicles file.
func (g *Garage) AddType(t *Type) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.types[t.ID] = t
}

// Type returns a registered vehicle type, panicking if unknown (a vehicle
// leg referencing an unregistered type is a structural invariant violation).
func (g *Garage) Type(id ids.ID) *Type {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.types[id]
	if !ok {
		panic(fmt.Sprintf("vehicles: unknown vehicle type %v", id))
	}
	return t
}

// VehicleFor returns the vehicle assigned to person for vehicleType,
// creating one (with a fresh dense vehicle id) the first time this pair is
// requested.
func (g *Garage) VehicleFor(person, vehicleType ids.ID) *Vehicle {
	key := personVehicleKey{person: person, typ: vehicleType}

	g.mu.Lock()
	defer g.mu.Unlock()

	if vid, ok := g.byPerson[key]; ok {
		return g.vehicles[vid]
	}

	t, ok := g.types[vehicleType]
	if !ok {
		panic(fmt.Sprintf("vehicles: unknown vehicle type %v", vehicleType))
	}

	g.nextSeq++
	name := fmt.Sprintf("%s_%s_%d", g.vehIDs.ByHandleOrBlank(person), t.ID, g.nextSeq)
	vid := g.vehIDs.Create(name)

	v := &Vehicle{
		ID:          vid,
		Type:        vehicleType,
		MaxVelocity: t.MaxVelocity,
		PCE:         t.PCE,
		AgentID:     person,
	}
	g.vehicles[vid] = v
	g.byPerson[key] = vid
	return v
}

// Vehicle looks up a vehicle instance by id.
func (g *Garage) Vehicle(id ids.ID) *Vehicle {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.vehicles[id]
}
