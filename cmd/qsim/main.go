// Command qsim runs a parallel, partitioned, queue-based mesoscopic traffic
// simulation from a YAML configuration file.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/mesoqsim/qsim/pkg/config"
	"github.com/mesoqsim/qsim/pkg/messaging"
	"github.com/mesoqsim/qsim/pkg/routing"
)

func main() {
	configPath := flag.String("config", "", "path to the run's YAML configuration file (required)")
	rank := flag.Int("rank", -1, "partition rank to run; -1 runs every partition in this one process")
	addr := flag.String("addr", "", "listen address for this partition's gRPC communicator (only with -rank >= 0)")
	peers := flag.String("peers", "", "comma-separated rank=host:port list of every other partition (only with -rank >= 0)")
	logEvery := flag.Uint("log-every", 3600, "log a progress line every N simulated seconds; 0 disables")
	flag.Parse()

	if *configPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("qsim: %v", err)
	}

	w, err := loadWorld(cfg)
	if err != nil {
		log.Fatalf("qsim: %v", err)
	}

	classify := newModeClassifier(cfg.Simulation.MainModes, w.modesByType)

	if *rank < 0 {
		if err := runAllRanksInProcess(w, classify, uint32(*logEvery)); err != nil {
			log.Fatalf("qsim: %v", err)
		}
		return
	}

	peerAddrs, err := parsePeers(*peers)
	if err != nil {
		log.Fatalf("qsim: %v", err)
	}
	if err := runSingleRank(w, *rank, *addr, peerAddrs, classify, uint32(*logEvery)); err != nil {
		log.Fatalf("qsim: %v", err)
	}
}

// runAllRanksInProcess runs every partition named by cfg.Partitioning.NumParts
// in this one process, wired together by in-process channels rather than a
// network transport.
func runAllRanksInProcess(w *world, classify *modeClassifier, logEvery uint32) error {
	n := w.cfg.Partitioning.NumParts
	comms := messaging.NewInProcessCommunicators(n)

	routeSvc := routing.NewNullService()
	defer routeSvc.Close()

	runtimes := make([]*partitionRuntime, n)
	for rank := 0; rank < n; rank++ {
		rt, err := buildPartitionRuntime(w, rank, comms[rank], classify, routeSvc)
		if err != nil {
			return fmt.Errorf("partition %d: %w", rank, err)
		}
		rt.driver.LogEvery = logEvery
		runtimes[rank] = rt
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for rank, rt := range runtimes {
		wg.Add(1)
		go func(rank int, rt *partitionRuntime) {
			defer wg.Done()
			rt.driver.Comm.Barrier()
			errs[rank] = rt.driver.Run()
		}(rank, rt)
	}
	wg.Wait()

	for _, rt := range runtimes {
		closeAll(rt.closers)
	}
	for rank, err := range errs {
		if err != nil {
			return fmt.Errorf("partition %d: %w", rank, err)
		}
	}
	return nil
}

// runSingleRank runs exactly one partition in this process, communicating
// with every other rank's process over gRPC, one process per partition.
func runSingleRank(w *world, rank int, addr string, peerAddrs map[int]string, classify *modeClassifier, logEvery uint32) error {
	if addr == "" {
		return fmt.Errorf("-addr is required with -rank >= 0")
	}
	comm := messaging.NewGRPCCommunicator(rank, addr, peerAddrs)
	if err := comm.Start(); err != nil {
		return fmt.Errorf("start communicator: %w", err)
	}
	defer comm.Close()

	routeSvc := routing.NewNullService()
	defer routeSvc.Close()

	rt, err := buildPartitionRuntime(w, rank, comm, classify, routeSvc)
	if err != nil {
		return err
	}
	rt.driver.LogEvery = logEvery
	defer closeAll(rt.closers)

	rt.driver.Comm.Barrier()
	return rt.driver.Run()
}

// parsePeers parses "-peers" as a comma-separated rank=host:port list.
func parsePeers(raw string) (map[int]string, error) {
	peerAddrs := make(map[int]string)
	if raw == "" {
		return peerAddrs, nil
	}
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed -peers entry %q, want rank=host:port", entry)
		}
		r, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("malformed -peers entry %q: %w", entry, err)
		}
		peerAddrs[r] = parts[1]
	}
	return peerAddrs, nil
}
