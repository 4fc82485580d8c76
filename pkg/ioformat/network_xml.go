package ioformat

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/mesoqsim/qsim/pkg/ids"
	"github.com/mesoqsim/qsim/pkg/network"
)

type xmlNetwork struct {
	Nodes []xmlNode `xml:"nodes>node"`
	Links []xmlLink `xml:"links>link"`
}

type xmlNode struct {
	ID        string `xml:"id,attr"`
	X         string `xml:"x,attr"`
	Y         string `xml:"y,attr"`
	Partition string `xml:"partition,attr"`
	CmpWeight string `xml:"cmp_weight,attr"`
}

type xmlLink struct {
	ID         string         `xml:"id,attr"`
	From       string         `xml:"from,attr"`
	To         string         `xml:"to,attr"`
	Length     string         `xml:"length,attr"`
	Capacity   string         `xml:"capacity,attr"`
	Freespeed  string         `xml:"freespeed,attr"`
	Permlanes  string         `xml:"permlanes,attr"`
	Modes      string         `xml:"modes,attr"`
	Partition  string         `xml:"partition,attr"`
	Attributes []xmlAttribute `xml:"attributes>attribute"`
}

type xmlAttribute struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

// ReadNetworkXML parses a MATSim-style network file (optionally gzipped)
// into a fresh *network.Graph, interning node and link ids into the given
// registries.
func ReadNetworkXML(path string, nodeReg, linkReg *ids.Registry) (*network.Graph, error) {
	f, err := openMaybeGzip(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var doc xmlNetwork
	if err := xml.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("ioformat: parse network %s: %w", path, err)
	}

	g := network.NewGraph()
	for _, n := range doc.Nodes {
		id := nodeReg.Create(n.ID)
		x, err := parseFloatAttr(path, "node", n.ID, "x", n.X)
		if err != nil {
			return nil, err
		}
		y, err := parseFloatAttr(path, "node", n.ID, "y", n.Y)
		if err != nil {
			return nil, err
		}
		part, err := parseIntAttrOr(path, "node", n.ID, "partition", n.Partition, 0)
		if err != nil {
			return nil, err
		}
		cmpWeight, err := parseFloatAttrOr(n.CmpWeight, 1.0)
		if err != nil {
			return nil, fmt.Errorf("ioformat: network %s: node %s: bad cmp_weight %q: %w", path, n.ID, n.CmpWeight, err)
		}
		g.AddNode(&network.Node{ID: id, X: x, Y: y, Partition: part, CmpWeight: cmpWeight})
	}

	for _, l := range doc.Links {
		id := linkReg.Create(l.ID)
		from, ok := nodeReg.Lookup(l.From)
		if !ok {
			return nil, fmt.Errorf("ioformat: network %s: link %s references unknown from-node %q", path, l.ID, l.From)
		}
		to, ok := nodeReg.Lookup(l.To)
		if !ok {
			return nil, fmt.Errorf("ioformat: network %s: link %s references unknown to-node %q", path, l.ID, l.To)
		}
		length, err := parseFloatAttr(path, "link", l.ID, "length", l.Length)
		if err != nil {
			return nil, err
		}
		capacity, err := parseFloatAttr(path, "link", l.ID, "capacity", l.Capacity)
		if err != nil {
			return nil, err
		}
		freespeed, err := parseFloatAttr(path, "link", l.ID, "freespeed", l.Freespeed)
		if err != nil {
			return nil, err
		}
		permlanes, err := parseFloatAttrOr(l.Permlanes, 1.0)
		if err != nil {
			return nil, fmt.Errorf("ioformat: network %s: link %s: bad permlanes %q: %w", path, l.ID, l.Permlanes, err)
		}
		part, err := parseIntAttrOr(path, "link", l.ID, "partition", l.Partition, g.Node(from).Partition)
		if err != nil {
			return nil, err
		}

		var modes []string
		if l.Modes != "" {
			modes = strings.Split(l.Modes, ",")
		}
		attrs := make(map[string]string, len(l.Attributes))
		for _, a := range l.Attributes {
			attrs[a.Name] = strings.TrimSpace(a.Value)
		}

		g.AddLink(&network.Link{
			ID: id, From: from, To: to,
			Length: length, Capacity: capacity, Freespeed: freespeed, Permlanes: permlanes,
			Modes: modes, Partition: part, Attrs: attrs,
		})
	}

	return g, nil
}

func parseFloatAttr(path, kind, id, attr, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("ioformat: network %s: %s %s: bad %s %q: %w", path, kind, id, attr, raw, err)
	}
	return v, nil
}

func parseFloatAttrOr(raw string, def float64) (float64, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.ParseFloat(raw, 64)
}

func parseIntAttrOr(path, kind, id, attr, raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("ioformat: network %s: %s %s: bad %s %q: %w", path, kind, id, attr, raw, err)
	}
	return v, nil
}
