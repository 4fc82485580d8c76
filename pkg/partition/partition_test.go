package partition

import (
	"testing"

	"github.com/mesoqsim/qsim/pkg/ids"
	"github.com/mesoqsim/qsim/pkg/network"
)

func TestPrecomputedPartitionerReadsNodeField(t *testing.T) {
	nodeReg := ids.NewRegistry(ids.KindNode)
	g := network.NewGraph()
	a := nodeReg.Create("a")
	b := nodeReg.Create("b")
	g.AddNode(&network.Node{ID: a, Partition: 0})
	g.AddNode(&network.Node{ID: b, Partition: 1})

	assignment, err := PrecomputedPartitioner{}.Assign(g, 2)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if assignment[a] != 0 || assignment[b] != 1 {
		t.Fatalf("assignment = %v, want a=0 b=1", assignment)
	}
}

func TestPrecomputedPartitionerRejectsOutOfRange(t *testing.T) {
	nodeReg := ids.NewRegistry(ids.KindNode)
	g := network.NewGraph()
	a := nodeReg.Create("a")
	g.AddNode(&network.Node{ID: a, Partition: 5})

	if _, err := (PrecomputedPartitioner{}).Assign(g, 2); err == nil {
		t.Fatal("expected an error for an out-of-range partition field")
	}
}

func TestMetisAdjacencyIsSymmetric(t *testing.T) {
	nodeReg := ids.NewRegistry(ids.KindNode)
	linkReg := ids.NewRegistry(ids.KindLink)
	g := network.NewGraph()
	a := nodeReg.Create("a")
	b := nodeReg.Create("b")
	g.AddNode(&network.Node{ID: a})
	g.AddNode(&network.Node{ID: b})
	g.AddLink(&network.Link{ID: linkReg.Create("ab"), From: a, To: b})

	order, data := metisAdjacency(g)
	if len(order) != 2 {
		t.Fatalf("order length = %d, want 2", len(order))
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty METIS adjacency text")
	}
	// Either node order yields the same text: each vertex lists the other.
	if string(data) != "2 1\n2\n1\n" {
		t.Fatalf("adjacency = %q, want each endpoint listed as the other's neighbor", data)
	}
}
