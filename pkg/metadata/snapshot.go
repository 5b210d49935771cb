package metadata

import (
	"slices"

	"github.com/google/uuid"
)

// MetadataSnapshot is a fully immutable point-in-time view of the cluster.
// Once built it is never mutated; UpdateMetadata always constructs a new
// one and swaps it in. Every slice handed back to a caller is a fresh copy,
// so a caller mutating a returned slice can never corrupt the snapshot or
// a future snapshot derived from it.
type MetadataSnapshot struct {
	partitionStates map[string]map[uint32]PartitionState // topic -> partition -> state
	topicIDs        map[string]uuid.UUID                 // topic name -> id
	topicNames      map[uuid.UUID]string                 // inverse of topicIDs
	controllerID    *NodeID                               // nil means "no controller known"
	aliveBrokers    map[NodeID]Broker
	aliveNodes      map[NodeID]map[string]Node // brokerID -> listener -> flattened node
}

// emptyMetadataSnapshot is the zero-value cache state before the first
// UpdateMetadata call, equivalent to a broker that has never heard from the
// controller.
func emptyMetadataSnapshot() *MetadataSnapshot {
	return &MetadataSnapshot{
		partitionStates: map[string]map[uint32]PartitionState{},
		topicIDs:        map[string]uuid.UUID{},
		topicNames:      map[uuid.UUID]string{},
		aliveBrokers:    map[NodeID]Broker{},
		aliveNodes:      map[NodeID]map[string]Node{},
	}
}

func clonePartitionState(p PartitionState) PartitionState {
	p.Replicas = slices.Clone(p.Replicas)
	p.ISR = slices.Clone(p.ISR)
	p.OfflineReplicas = slices.Clone(p.OfflineReplicas)
	return p
}

func cloneBroker(b Broker) Broker {
	b.Endpoints = slices.Clone(b.Endpoints)
	return b
}

func nodesForBroker(b Broker) map[string]Node {
	nodes := make(map[string]Node, len(b.Endpoints))
	for _, ep := range b.Endpoints {
		nodes[ep.ListenerName] = Node{ID: b.ID, Host: ep.Host, Port: ep.Port, Rack: b.Rack}
	}
	return nodes
}
