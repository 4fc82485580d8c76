package ioformat

import (
	"encoding/xml"
	"fmt"

	"github.com/mesoqsim/qsim/pkg/ids"
	"github.com/mesoqsim/qsim/pkg/vehicles"
)

type xmlVehicleDefinitions struct {
	Types    []xmlVehicleType `xml:"vehicleType"`
	Vehicles []xmlVehicle     `xml:"vehicle"`
}

type xmlVehicleType struct {
	ID             string          `xml:"id,attr"`
	Length         xmlDimension    `xml:"length"`
	Width          xmlDimension    `xml:"width"`
	MaxVelocity    xmlCapacityAttr `xml:"maximumVelocity"`
	PCE            xmlValueAttr    `xml:"passengerCarEquivalents"`
	FlowEfficiency xmlValueAttr    `xml:"flowEfficiencyFactor"`
	NetworkMode    xmlValueAttr    `xml:"networkMode"`
}

type xmlDimension struct {
	Meter string `xml:"meter,attr"`
}

type xmlCapacityAttr struct {
	MeterPerSecond string `xml:"meterPerSecond,attr"`
}

type xmlValueAttr struct {
	Value string `xml:"value,attr"`
}

type xmlVehicle struct {
	ID   string `xml:"id,attr"`
	Type string `xml:"type,attr"`
}

// ReadVehiclesXML parses a MATSim-style vehicle definitions file (optionally
// gzipped) into garage, registering every vehicleType, and returns two
// indexes built while scanning: modesByType maps each type's declared
// networkMode to its type id (the wiring a ModeClassifier needs to turn a
// leg's mode string into a garage lookup), and instances maps every
// declared vehicle id to its type id, for callers that resolve a leg's
// explicit vehicle_ref against a pre-declared instance. The garage itself
// only needs types: actual Vehicle values are
// minted lazily by Garage.VehicleFor the first time a (person, type) pair
// takes a network leg.
func ReadVehiclesXML(path string, typeReg, vehicleReg *ids.Registry, garage *vehicles.Garage) (modesByType map[string]ids.ID, instances map[ids.ID]ids.ID, err error) {
	f, err := openMaybeGzip(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var doc xmlVehicleDefinitions
	if err := xml.NewDecoder(f).Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("ioformat: parse vehicles %s: %w", path, err)
	}

	modesByType = make(map[string]ids.ID, len(doc.Types))

	for _, vt := range doc.Types {
		id := typeReg.Create(vt.ID)
		length, err := parseFloatAttrOr(vt.Length.Meter, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("ioformat: vehicles %s: type %s: bad length %q: %w", path, vt.ID, vt.Length.Meter, err)
		}
		width, err := parseFloatAttrOr(vt.Width.Meter, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("ioformat: vehicles %s: type %s: bad width %q: %w", path, vt.ID, vt.Width.Meter, err)
		}
		maxVel, err := parseFloatAttrOr(vt.MaxVelocity.MeterPerSecond, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("ioformat: vehicles %s: type %s: bad maximumVelocity %q: %w", path, vt.ID, vt.MaxVelocity.MeterPerSecond, err)
		}
		pce, err := parseFloatAttrOr(vt.PCE.Value, 1.0)
		if err != nil {
			return nil, nil, fmt.Errorf("ioformat: vehicles %s: type %s: bad passengerCarEquivalents %q: %w", path, vt.ID, vt.PCE.Value, err)
		}
		flowEff, err := parseFloatAttrOr(vt.FlowEfficiency.Value, 1.0)
		if err != nil {
			return nil, nil, fmt.Errorf("ioformat: vehicles %s: type %s: bad flowEfficiencyFactor %q: %w", path, vt.ID, vt.FlowEfficiency.Value, err)
		}

		mode := vehicles.ModeNetwork
		networkMode := vt.NetworkMode.Value
		if networkMode == "" {
			mode = vehicles.ModeTeleported
		}

		garage.AddType(&vehicles.Type{
			ID:             id,
			LengthMeters:   length,
			WidthMeters:    width,
			MaxVelocity:    maxVel,
			PCE:            pce,
			FlowEfficiency: flowEff,
			NetworkMode:    networkMode,
			Mode:           mode,
		})
		if networkMode != "" {
			modesByType[networkMode] = id
		}
	}

	instances = make(map[ids.ID]ids.ID, len(doc.Vehicles))
	for _, v := range doc.Vehicles {
		typeID, ok := typeReg.Lookup(v.Type)
		if !ok {
			return nil, nil, fmt.Errorf("ioformat: vehicles %s: vehicle %s references unknown type %q", path, v.ID, v.Type)
		}
		id := vehicleReg.Create(v.ID)
		instances[id] = typeID
	}

	return modesByType, instances, nil
}
