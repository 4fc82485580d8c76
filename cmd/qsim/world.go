package main

import (
	"fmt"

	"github.com/mesoqsim/qsim/pkg/agent"
	"github.com/mesoqsim/qsim/pkg/config"
	"github.com/mesoqsim/qsim/pkg/ids"
	"github.com/mesoqsim/qsim/pkg/ioformat"
	"github.com/mesoqsim/qsim/pkg/network"
	"github.com/mesoqsim/qsim/pkg/partition"
	"github.com/mesoqsim/qsim/pkg/vehicles"
)

// world holds everything loaded once, up front, and shared read-only (after
// load) by every partition's goroutine: the registries, the global graph,
// the garage, every person's plan, and the global link->owning-partition
// index the brokers route on.
type world struct {
	cfg config.Config

	nodeReg, linkReg, personReg, vehicleTypeReg, vehicleReg *ids.Registry

	graph       *network.Graph
	garage      *vehicles.Garage
	plans       map[ids.ID]*agent.Plan
	linkMapping map[ids.ID]int

	modesByType map[string]ids.ID
}

// loadWorld reads the three input files named by cfg, assigns partitions,
// and builds the derived indexes the per-partition engines need.
func loadWorld(cfg config.Config) (*world, error) {
	w := &world{
		cfg:            cfg,
		nodeReg:        ids.NewRegistry(ids.KindNode),
		linkReg:        ids.NewRegistry(ids.KindLink),
		personReg:      ids.NewRegistry(ids.KindPerson),
		vehicleTypeReg: ids.NewRegistry(ids.KindVehicleType),
		vehicleReg:     ids.NewRegistry(ids.KindVehicle),
	}

	graph, err := ioformat.ReadNetworkXML(cfg.Network, w.nodeReg, w.linkReg)
	if err != nil {
		return nil, err
	}
	w.graph = graph

	w.garage = vehicles.NewGarage(w.vehicleReg)
	modesByType, _, err := ioformat.ReadVehiclesXML(cfg.Vehicles, w.vehicleTypeReg, w.vehicleReg, w.garage)
	if err != nil {
		return nil, err
	}
	w.modesByType = modesByType

	plans, err := ioformat.ReadPopulationXML(cfg.Population, w.personReg, w.linkReg, w.vehicleReg)
	if err != nil {
		return nil, err
	}
	w.plans = plans

	if err := assignPartitions(cfg, graph); err != nil {
		return nil, err
	}

	w.linkMapping = make(map[ids.ID]int, len(graph.Links))
	for id, l := range graph.Links {
		w.linkMapping[id] = graph.Node(l.To).Partition
	}

	return w, nil
}

// assignPartitions resolves cfg.Partitioning.Method into a Partitioner,
// runs it, and writes the resulting assignment back onto every node
// ("metis" or "none").
func assignPartitions(cfg config.Config, graph *network.Graph) error {
	var p partition.Partitioner
	switch cfg.Partitioning.Method {
	case "metis":
		p = &partition.MetisPartitioner{
			BinaryPath: "gpmetis",
			UFactor:    cfg.Partitioning.UFactor,
			Seed:       cfg.Partitioning.Seed,
			Contiguous: cfg.Partitioning.Contiguous,
		}
	case "none", "":
		p = partition.PrecomputedPartitioner{}
	default:
		return fmt.Errorf("qsim: unknown partitioning.method %q", cfg.Partitioning.Method)
	}

	assignment, err := p.Assign(graph, cfg.Partitioning.NumParts)
	if err != nil {
		return fmt.Errorf("qsim: partition assignment: %w", err)
	}
	for id, part := range assignment {
		graph.Node(id).Partition = part
	}
	return nil
}

// homePartition is the partition responsible for parking an agent whose
// current plan element sits on link, consistent with the linkMapping every
// broker routes vehicles by.
func (w *world) homePartition(link ids.ID) int {
	part, ok := w.linkMapping[link]
	if !ok {
		panic(fmt.Sprintf("qsim: link %v is not part of the loaded network", link))
	}
	return part
}
