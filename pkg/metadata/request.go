package metadata

import "github.com/google/uuid"

// UpdateMetadataRequest is what the controller (via the raft-replicated
// command log, see fsm_metadata.go) pushes to every broker's cache. It
// carries the brokers currently believed alive and the partition state for
// every topic the controller is tracking; UpdateMetadata folds it onto the
// previous snapshot, so topics the request omits are kept, and an empty
// LiveBrokers list keeps the previous brokers.
type UpdateMetadataRequest struct {
	ControllerID NodeID
	LiveBrokers  []LiveBroker
	Topics       []TopicState
}

// LiveBroker is one broker entry in an UpdateMetadataRequest.
type LiveBroker struct {
	ID        NodeID
	Endpoints []EndPoint
	Rack      string
}

// TopicState groups one topic's id and partition assignments.
type TopicState struct {
	Name       string
	ID         uuid.UUID
	Partitions []PartitionStateUpdate
}

// PartitionStateUpdate is one partition's leader/ISR/replica assignment as
// known to the controller at the time the request was built.
type PartitionStateUpdate struct {
	PartitionIndex  uint32
	LeaderID        NodeID
	LeaderEpoch     uint32
	Replicas        []NodeID
	ISR             []NodeID
	OfflineReplicas []NodeID
}
