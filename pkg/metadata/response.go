package metadata

import "github.com/google/uuid"

// Cluster is the flattened, client-facing view of the cache used by
// request-handling code that wants "give me everything about this topic"
// rather than the cache's own accessor-at-a-time API.
type Cluster struct {
	ClusterID string
	Brokers   []Node
	Topics    map[string]MetadataResponseTopic

	// InternalTopics lists the subset of Topics' keys whose name carries
	// the broker-owned "__" prefix.
	InternalTopics []string

	// UnauthorizedTopics is always empty: this cache has no ACL layer to
	// deny access against.
	UnauthorizedTopics []string

	// ControllerNode is nil when no controller is currently known.
	ControllerNode *Node
}

// MetadataResponseTopic mirrors one topic entry of a MetadataResponse.
type MetadataResponseTopic struct {
	Name       string
	ID         uuid.UUID
	ErrorCode  ErrorCode
	IsInternal bool
	Partitions []MetadataResponsePartition
}

// MetadataResponsePartition mirrors one partition entry of a
// MetadataResponse, with leader/replica/ISR already resolved to Node
// values rather than left as bare NodeIDs.
type MetadataResponsePartition struct {
	PartitionIndex  uint32
	ErrorCode       ErrorCode
	Leader          Node
	LeaderEpoch     uint32
	ReplicaNodes    []Node
	ISRNodes        []Node
	OfflineReplicas []Node
}
