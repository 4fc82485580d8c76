package ioformat

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/mesoqsim/qsim/pkg/agent"
	"github.com/mesoqsim/qsim/pkg/ids"
)

type xmlPopulation struct {
	Persons []xmlPerson `xml:"person"`
}

type xmlPerson struct {
	ID    string    `xml:"id,attr"`
	Plans []xmlPlan `xml:"plan"`
}

type xmlPlan struct {
	Selected string       `xml:"selected,attr"`
	Elements []xmlElement `xml:",any"`
}

// xmlElement captures either an <activity> or <leg> tag; the XMLName tells
// us which.
type xmlElement struct {
	XMLName            xml.Name
	Type               string    `xml:"type,attr"`
	Link               string    `xml:"link,attr"`
	X                  string    `xml:"x,attr"`
	Y                  string    `xml:"y,attr"`
	StartTime          string    `xml:"start_time,attr"`
	EndTime            string    `xml:"end_time,attr"`
	MaxDuration        string    `xml:"max_duration,attr"`
	PreplanningHorizon string    `xml:"preplanning_horizon,attr"`
	Mode               string    `xml:"mode,attr"`
	DepTime            string    `xml:"dep_time,attr"`
	RoutingMode        string    `xml:"routing_mode,attr"`
	TravTime           string    `xml:"trav_time,attr"`
	Route              *xmlRoute `xml:"route"`
}

type xmlRoute struct {
	Type       string `xml:"type,attr"`
	StartLink  string `xml:"start_link,attr"`
	EndLink    string `xml:"end_link,attr"`
	TravTime   string `xml:"trav_time,attr"`
	Distance   string `xml:"distance,attr"`
	VehicleRef string `xml:"vehicle_ref,attr"`
	Body       string `xml:",chardata"`
}

// ReadPopulationXML parses a MATSim-style population file (optionally
// gzipped) into one *agent.Plan per person, keyed by the interned person id.
// Exactly one plan per person must be marked selected="yes"; persons with
// zero or more than one are a load error.
func ReadPopulationXML(path string, personReg, linkReg, vehicleReg *ids.Registry) (map[ids.ID]*agent.Plan, error) {
	f, err := openMaybeGzip(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var doc xmlPopulation
	if err := xml.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("ioformat: parse population %s: %w", path, err)
	}

	out := make(map[ids.ID]*agent.Plan, len(doc.Persons))
	for _, p := range doc.Persons {
		selected, err := selectedPlan(path, p)
		if err != nil {
			return nil, err
		}
		plan, err := parsePlan(path, p.ID, selected, linkReg, vehicleReg)
		if err != nil {
			return nil, err
		}
		id := personReg.Create(p.ID)
		out[id] = plan
	}
	return out, nil
}

func selectedPlan(path string, p xmlPerson) (xmlPlan, error) {
	var found []xmlPlan
	for _, pl := range p.Plans {
		if pl.Selected == "yes" {
			found = append(found, pl)
		}
	}
	if len(found) != 1 {
		return xmlPlan{}, fmt.Errorf("ioformat: population %s: person %s has %d selected plans, want exactly 1", path, p.ID, len(found))
	}
	return found[0], nil
}

func parsePlan(path, personID string, pl xmlPlan, linkReg, vehicleReg *ids.Registry) (*agent.Plan, error) {
	elems := make([]agent.Element, 0, len(pl.Elements))
	for _, e := range pl.Elements {
		switch e.XMLName.Local {
		case "activity":
			act, err := parseActivity(path, personID, e, linkReg)
			if err != nil {
				return nil, err
			}
			elems = append(elems, act)
		case "leg":
			leg, err := parseLeg(path, personID, e, linkReg, vehicleReg)
			if err != nil {
				return nil, err
			}
			elems = append(elems, leg)
		default:
			return nil, fmt.Errorf("ioformat: population %s: person %s: unexpected plan element <%s>", path, personID, e.XMLName.Local)
		}
	}
	return &agent.Plan{Elements: elems}, nil
}

func parseActivity(path, personID string, e xmlElement, linkReg *ids.Registry) (*agent.Activity, error) {
	link, ok := linkReg.Lookup(e.Link)
	if !ok {
		return nil, fmt.Errorf("ioformat: population %s: person %s: activity references unknown link %q", path, personID, e.Link)
	}
	act := &agent.Activity{Type: e.Type, Link: link}
	if e.X != "" {
		x, err := strconv.ParseFloat(e.X, 64)
		if err != nil {
			return nil, fmt.Errorf("ioformat: population %s: person %s: bad activity x %q: %w", path, personID, e.X, err)
		}
		act.X = x
	}
	if e.Y != "" {
		y, err := strconv.ParseFloat(e.Y, 64)
		if err != nil {
			return nil, fmt.Errorf("ioformat: population %s: person %s: bad activity y %q: %w", path, personID, e.Y, err)
		}
		act.Y = y
	}
	if v, err := parseOptionalClock(path, personID, "start_time", e.StartTime); err != nil {
		return nil, err
	} else {
		act.StartTime = v
	}
	if v, err := parseOptionalClock(path, personID, "end_time", e.EndTime); err != nil {
		return nil, err
	} else {
		act.EndTime = v
	}
	if v, err := parseOptionalClock(path, personID, "max_duration", e.MaxDuration); err != nil {
		return nil, err
	} else {
		act.MaxDuration = v
	}
	if e.PreplanningHorizon != "" {
		h, err := strconv.Atoi(e.PreplanningHorizon)
		if err != nil {
			return nil, fmt.Errorf("ioformat: population %s: person %s: bad preplanning_horizon %q: %w", path, personID, e.PreplanningHorizon, err)
		}
		horizon := uint32(h)
		act.PreplanningHorizon = &horizon
	}
	return act, nil
}

func parseOptionalClock(path, personID, attr, raw string) (*uint32, error) {
	if raw == "" {
		return nil, nil
	}
	sec, err := parseClock(raw)
	if err != nil {
		return nil, fmt.Errorf("ioformat: population %s: person %s: bad %s %q: %w", path, personID, attr, raw, err)
	}
	return &sec, nil
}

func parseLeg(path, personID string, e xmlElement, linkReg, vehicleReg *ids.Registry) (*agent.Leg, error) {
	leg := &agent.Leg{Mode: e.Mode, RoutingMode: e.RoutingMode}
	if e.DepTime != "" {
		if v, err := parseOptionalClock(path, personID, "dep_time", e.DepTime); err != nil {
			return nil, err
		} else {
			leg.DepTime = v
		}
	}
	if e.TravTime != "" {
		tt, err := parseClock(e.TravTime)
		if err != nil {
			return nil, fmt.Errorf("ioformat: population %s: person %s: bad leg trav_time %q: %w", path, personID, e.TravTime, err)
		}
		leg.TravTime = tt
	}
	if e.Route != nil {
		route, err := parseRoute(path, personID, *e.Route, linkReg, vehicleReg)
		if err != nil {
			return nil, err
		}
		leg.Route = route
	}
	return leg, nil
}

func parseRoute(path, personID string, r xmlRoute, linkReg, vehicleReg *ids.Registry) (*agent.Route, error) {
	route := &agent.Route{}
	switch r.Type {
	case "generic", "":
		route.Kind = agent.RouteGeneric
	case "links":
		route.Kind = agent.RouteNetwork
	case "default_pt":
		route.Kind = agent.RouteTransit
	default:
		return nil, fmt.Errorf("ioformat: population %s: person %s: unknown route type %q", path, personID, r.Type)
	}

	if r.StartLink != "" {
		link, ok := linkReg.Lookup(r.StartLink)
		if !ok {
			return nil, fmt.Errorf("ioformat: population %s: person %s: route references unknown start_link %q", path, personID, r.StartLink)
		}
		route.StartLink = link
	}
	if r.EndLink != "" {
		link, ok := linkReg.Lookup(r.EndLink)
		if !ok {
			return nil, fmt.Errorf("ioformat: population %s: person %s: route references unknown end_link %q", path, personID, r.EndLink)
		}
		route.EndLink = link
	}
	if r.TravTime != "" {
		tt, err := parseClock(r.TravTime)
		if err != nil {
			return nil, fmt.Errorf("ioformat: population %s: person %s: bad route trav_time %q: %w", path, personID, r.TravTime, err)
		}
		route.TravTime = tt
	}
	if r.Distance != "" {
		d, err := strconv.ParseFloat(r.Distance, 64)
		if err != nil {
			return nil, fmt.Errorf("ioformat: population %s: person %s: bad route distance %q: %w", path, personID, r.Distance, err)
		}
		route.Distance = d
	}
	if r.VehicleRef != "" {
		route.VehicleRef = vehicleReg.Create(r.VehicleRef)
	}

	switch route.Kind {
	case agent.RouteNetwork:
		body := strings.TrimSpace(r.Body)
		if body == "" {
			return nil, fmt.Errorf("ioformat: population %s: person %s: route type=links has no link list", path, personID)
		}
		for _, tok := range strings.Fields(body) {
			link, ok := linkReg.Lookup(tok)
			if !ok {
				return nil, fmt.Errorf("ioformat: population %s: person %s: route references unknown link %q", path, personID, tok)
			}
			route.Links = append(route.Links, link)
		}
	case agent.RouteTransit:
		body := strings.TrimSpace(r.Body)
		if body != "" {
			var js json.RawMessage
			if err := json.Unmarshal([]byte(body), &js); err != nil {
				return nil, fmt.Errorf("ioformat: population %s: person %s: default_pt route is not valid JSON: %w", path, personID, err)
			}
			route.TransitDescriptor = body
		}
	}

	return route, nil
}
