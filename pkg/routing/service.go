// Package routing defines the external routing-service collaborator
// contract: a unidirectional request channel with one-shot reply channels,
// used by pkg/agent's adaptive logic.
package routing

import (
	"github.com/google/uuid"

	"github.com/mesoqsim/qsim/pkg/ids"
)

// Request is one routing query for a single trip.
type Request struct {
	PersonID ids.ID

	FromLink ids.ID
	FromX    float64
	FromY    float64
	ToLink   ids.ID
	ToX      float64
	ToY      float64

	Mode          string
	DepartureTime uint32
	CurrentTime   uint32

	RequestID string

	// Reply is the one-shot channel the Service must send exactly one
	// Response on before the request is considered answered.
	Reply chan Response
}

// Response answers a Request with the plan elements to splice in place of
// the trip's placeholder leg. Elements are returned as an opaque list of
// (isLeg, mode, route, activity) tuples via Element to avoid an import
// cycle with pkg/agent, which is the only consumer and knows how to
// reassemble them into *agent.Leg/*agent.Activity.
type Response struct {
	RequestID string
	Elements  []Element
}

// ElementKind tags a Response element as an activity or a leg.
type ElementKind uint8

const (
	ElementActivity ElementKind = iota
	ElementLeg
)

// Element is one routed plan element, self-describing so pkg/agent can
// rebuild concrete *agent.Activity/*agent.Leg values without this package
// depending on pkg/agent.
type Element struct {
	Kind ElementKind

	// Activity fields (Kind == ElementActivity).
	ActivityType string
	Link         ids.ID
	X, Y         float64

	// Leg fields (Kind == ElementLeg).
	Mode        string
	RoutingMode string
	TravTime    uint32
	RouteKind   uint8 // mirrors agent.RouteKind's int encoding
	StartLink   ids.ID
	EndLink     ids.ID
	Links       []ids.ID
	Distance    float64
}

// NewRequestID returns a fresh request identifier using google/uuid for
// correlation.
func NewRequestID() string { return uuid.NewString() }

// Service is how the simulation driver reaches the external routing
// collaborator: Requests returns the send side of the unidirectional
// request channel. The core makes at most one outstanding request per agent
// at a time; the Service is responsible for eventually sending exactly one
// Response on every Request's Reply channel.
type Service interface {
	Requests() chan<- Request
}

// NullService answers every request immediately with an empty plan-element
// list, for simulations that configure no `routing` modes.
type NullService struct {
	in chan Request
}

// NewNullService starts the background responder goroutine and returns the
// service; Close stops it.
func NewNullService() *NullService {
	s := &NullService{in: make(chan Request, 16)}
	go func() {
		for req := range s.in {
			req.Reply <- Response{RequestID: req.RequestID}
		}
	}()
	return s
}

func (s *NullService) Requests() chan<- Request { return s.in }

// Close stops the responder goroutine. Safe to call once.
func (s *NullService) Close() { close(s.in) }
