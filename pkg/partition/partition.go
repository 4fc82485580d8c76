// Package partition assigns every network node to one of N worker
// partitions, the precondition pkg/network.NewPartition needs before it can
// classify links into Local/SplitIn/SplitOut.
package partition

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/mesoqsim/qsim/pkg/ids"
	"github.com/mesoqsim/qsim/pkg/network"
)

// Partitioner assigns a partition index to every node of graph, returning
// the assignment keyed by node id. It does not mutate graph; the caller is
// responsible for writing the result back onto Node.Partition before
// building any per-partition network.Partition.
type Partitioner interface {
	Assign(graph *network.Graph, numParts int) (map[ids.ID]int, error)
}

// PrecomputedPartitioner implements partitioning.method = "none": every
// node already carries its owning partition (set when the network file was
// loaded), and this just reads it back out.
type PrecomputedPartitioner struct{}

// Assign returns each node's existing Partition field verbatim.
func (PrecomputedPartitioner) Assign(graph *network.Graph, numParts int) (map[ids.ID]int, error) {
	out := make(map[ids.ID]int, len(graph.Nodes))
	for id, n := range graph.Nodes {
		if n.Partition < 0 || n.Partition >= numParts {
			return nil, fmt.Errorf("partition: node %v has out-of-range partition %d (num_parts=%d)", id, n.Partition, numParts)
		}
		out[id] = n.Partition
	}
	return out, nil
}

// MetisPartitioner implements partitioning.method = "metis" by shelling out
// to an external gpmetis-compatible binary: no pure-Go METIS binding exists
// in the example corpus, so this writes METIS's plain adjacency-list graph
// format to a temp-less pipe, runs the binary, and parses its one-partition-
// index-per-line output.
type MetisPartitioner struct {
	// BinaryPath is the gpmetis-compatible executable to run, e.g. "gpmetis".
	BinaryPath string
	UFactor    int
	Seed       int64
	Contiguous bool
}

// Assign writes graph as a METIS adjacency list, invokes BinaryPath, and
// parses the one-partition-per-line output it writes to stdout.
func (p MetisPartitioner) Assign(graph *network.Graph, numParts int) (map[ids.ID]int, error) {
	order, adjacency := metisAdjacency(graph)

	args := []string{"-", strconv.Itoa(numParts)}
	if p.UFactor > 0 {
		args = append(args, fmt.Sprintf("-ufactor=%d", p.UFactor))
	}
	if p.Seed != 0 {
		args = append(args, fmt.Sprintf("-seed=%d", p.Seed))
	}
	if p.Contiguous {
		args = append(args, "-contig")
	}

	cmd := exec.Command(p.BinaryPath, args...)
	cmd.Stdin = bytes.NewReader(adjacency)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("partition: %s: %w (stderr: %s)", p.BinaryPath, err, stderr.String())
	}

	assignment := make(map[ids.ID]int, len(order))
	scanner := bufio.NewScanner(&stdout)
	i := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if i >= len(order) {
			return nil, fmt.Errorf("partition: %s produced more lines than nodes (%d)", p.BinaryPath, len(order))
		}
		part, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("partition: %s: non-integer partition index %q: %w", p.BinaryPath, line, err)
		}
		assignment[order[i]] = part
		i++
	}
	if i != len(order) {
		return nil, fmt.Errorf("partition: %s produced %d partition indices, want %d", p.BinaryPath, i, len(order))
	}
	return assignment, nil
}

// metisAdjacency renders graph in METIS's plain adjacency-list text format:
// a header line "<nvertices> <nedges>" followed by one line per vertex
// listing its 1-based neighbor indices (METIS is 1-indexed).
func metisAdjacency(graph *network.Graph) ([]ids.ID, []byte) {
	order := make([]ids.ID, 0, len(graph.Nodes))
	index := make(map[ids.ID]int, len(graph.Nodes))
	for id := range graph.Nodes {
		index[id] = len(order) + 1
		order = append(order, id)
	}

	neighbors := make([][]int, len(order))
	edgeCount := 0
	for _, l := range graph.Links {
		from, to := index[l.From], index[l.To]
		neighbors[from-1] = append(neighbors[from-1], to)
		neighbors[to-1] = append(neighbors[to-1], from)
		edgeCount++
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d\n", len(order), edgeCount)
	for _, ns := range neighbors {
		strs := make([]string, len(ns))
		for i, n := range ns {
			strs[i] = strconv.Itoa(n)
		}
		buf.WriteString(strings.Join(strs, " "))
		buf.WriteByte('\n')
	}
	return order, buf.Bytes()
}
