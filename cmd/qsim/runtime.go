package main

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mesoqsim/qsim/pkg/agent"
	"github.com/mesoqsim/qsim/pkg/config"
	"github.com/mesoqsim/qsim/pkg/engine"
	"github.com/mesoqsim/qsim/pkg/events"
	"github.com/mesoqsim/qsim/pkg/messaging"
	"github.com/mesoqsim/qsim/pkg/network"
	"github.com/mesoqsim/qsim/pkg/routing"
	"github.com/mesoqsim/qsim/pkg/simulation"
)

// partitionRuntime bundles one partition's engines and the resources that
// need an orderly shutdown once its Driver finishes.
type partitionRuntime struct {
	driver  *simulation.Driver
	network *engine.NetworkEngine
	closers []io.Closer
}

// buildPartitionRuntime wires one partition's SimNetworkPartition, broker,
// three engines, and event sink, and registers every agent whose home
// partition is rank.
func buildPartitionRuntime(w *world, rank int, comm messaging.Communicator, classify engine.ModeClassifier, routeSvc routing.Service) (*partitionRuntime, error) {
	netCfg := network.Config{
		SampleSize:        w.cfg.Simulation.SampleSize,
		StuckThresholdSec: w.cfg.Simulation.StuckThreshold,
		EffectiveCellSize: w.graph.EffectiveCellSize,
		RandomSeed:        w.cfg.ComputationalSetup.RandomSeed,
	}
	part := network.NewPartition(w.graph, rank, netCfg, w.cfg.ComputationalSetup.RandomSeed)
	broker := messaging.NewBroker(rank, w.linkMapping, part.Neighbors())

	pub := events.NewPublisher()
	closers, err := attachSinks(w, rank, pub)
	if err != nil {
		return nil, err
	}

	teleport := engine.NewTeleportEngine(pub)
	activity := engine.NewActivityEngine(w.garage, classify, pub, part, broker, teleport)
	teleport.SetActivityEngine(activity)
	netEngine := engine.NewNetworkEngine(part, pub, broker, activity, teleport, classify)

	for person, plan := range w.plans {
		first := plan.ActivityAt(0)
		if w.homePartition(first.Link) != rank {
			continue
		}
		base := agent.NewPlanBasedLogic(person, plan)
		logic := agent.NewAdaptiveLogic(base, routeSvc)
		ref := &engine.AgentRef{Person: person, Logic: logic}
		netEngine.RegisterAgent(ref)
		activity.Park(ref, w.cfg.Simulation.StartTime)
	}

	driver := &simulation.Driver{
		Rank:       rank,
		Activity:   activity,
		Teleport:   teleport,
		Network:    netEngine,
		Broker:     broker,
		Comm:       comm,
		Pub:        pub,
		StartTime:  w.cfg.Simulation.StartTime,
		EndTime:    w.cfg.Simulation.EndTime,
		GlobalSync: w.cfg.ComputationalSetup.GlobalSync,
	}

	return &partitionRuntime{driver: driver, network: netEngine, closers: closers}, nil
}

// attachSinks wires pub to the sink(s) named by cfg.Output.WriteEvents,
// namespacing each partition's output file by rank.
func attachSinks(w *world, rank int, pub *events.Publisher) ([]io.Closer, error) {
	mode := w.cfg.Output.WriteEvents
	if mode == "" || mode == config.WriteEventsNone {
		return nil, nil
	}
	if w.cfg.Output.OutputDir == "" {
		return nil, fmt.Errorf("qsim: output.write_events=%q requires output.output_dir", mode)
	}
	if err := os.MkdirAll(w.cfg.Output.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("qsim: create output dir: %w", err)
	}
	resolver := events.Resolver{Persons: w.personReg, Links: w.linkReg, Vehicles: w.vehicleReg}

	switch mode {
	case config.WriteEventsProto:
		path := filepath.Join(w.cfg.Output.OutputDir, fmt.Sprintf("events-%d.pb", rank))
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("qsim: create %s: %w", path, err)
		}
		pub.AddSink(events.NewBinarySink(f, resolver, false))
		return []io.Closer{f}, nil

	case config.WriteEventsXMLGz:
		path := filepath.Join(w.cfg.Output.OutputDir, fmt.Sprintf("events-%d.xml.gz", rank))
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("qsim: create %s: %w", path, err)
		}
		gz := gzip.NewWriter(f)
		pub.AddSink(events.NewTextSink(gz, resolver))
		// gz must flush its trailer after TextSink.Finish has written the
		// closing tag, and f must close after gz.
		return []io.Closer{gz, f}, nil

	default:
		return nil, fmt.Errorf("qsim: unknown output.write_events %q", mode)
	}
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}
