// Package messaging implements the cross-partition synchronization protocol:
// the message broker that packs/unpacks per-tick vehicle hand-offs and
// storage-cap releases, and the SimCommunicator transport abstraction that
// moves them between partitions.
package messaging

import (
	"github.com/mesoqsim/qsim/pkg/agent"
	"github.com/mesoqsim/qsim/pkg/ids"
	"github.com/mesoqsim/qsim/pkg/network"
	"github.com/mesoqsim/qsim/pkg/vehicles"
)

// AgentHandoff carries a crossing agent's cursor state alongside its
// vehicle: the receiving partition's engine has never seen this person
// before, so the Logic itself — not just the Vehicle — has to travel.
type AgentHandoff struct {
	Person ids.ID
	Logic  agent.Logic
}

// SyncMessage is one partition-to-partition envelope for a given tick.
type SyncMessage struct {
	Time       uint32
	From, To   int
	Vehicles   []*vehicles.Vehicle
	CapUpdates []network.StorageCapUpdate
	Agents     []AgentHandoff
}

// Empty reports whether the message carries no payload at all.
func (m *SyncMessage) Empty() bool {
	return m == nil || (len(m.Vehicles) == 0 && len(m.CapUpdates) == 0 && len(m.Agents) == 0)
}
