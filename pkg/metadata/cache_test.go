package metadata

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest() UpdateMetadataRequest {
	return UpdateMetadataRequest{
		ControllerID: 1,
		LiveBrokers: []LiveBroker{
			{ID: 1, Endpoints: []EndPoint{{Host: "10.0.0.1", Port: 9092, ListenerName: "INTERNAL"}}},
			{ID: 2, Endpoints: []EndPoint{{Host: "10.0.0.2", Port: 9092, ListenerName: "INTERNAL"}}},
			{ID: 3, Endpoints: []EndPoint{{Host: "10.0.0.3", Port: 9092, ListenerName: "INTERNAL"}}},
		},
		Topics: []TopicState{
			{
				Name: "orders",
				ID:   uuid.New(),
				Partitions: []PartitionStateUpdate{
					{PartitionIndex: 0, LeaderID: 1, LeaderEpoch: 1, Replicas: []NodeID{1, 2, 3}, ISR: []NodeID{1, 2, 3}},
					{PartitionIndex: 1, LeaderID: 2, LeaderEpoch: 1, Replicas: []NodeID{2, 3, 1}, ISR: []NodeID{2, 3}},
				},
			},
		},
	}
}

func TestUpdateMetadataThenReadBackPartitionLeader(t *testing.T) {
	c := NewMetadataCache(1)
	c.UpdateMetadata(sampleRequest())

	ep, code := c.GetPartitionLeaderEndpoint("orders", 0, "INTERNAL")
	require.Equal(t, ErrorNone, code)
	assert.Equal(t, "10.0.0.1", ep.Host)

	ep, code = c.GetPartitionLeaderEndpoint("orders", 1, "INTERNAL")
	require.Equal(t, ErrorNone, code)
	assert.Equal(t, "10.0.0.2", ep.Host)
}

func TestGetPartitionLeaderEndpointUnknownTopic(t *testing.T) {
	c := NewMetadataCache(1)
	c.UpdateMetadata(sampleRequest())

	_, code := c.GetPartitionLeaderEndpoint("does-not-exist", 0, "INTERNAL")
	assert.Equal(t, ErrorUnknownTopicOrPartition, code)
}

func TestGetPartitionLeaderEndpointListenerNotFound(t *testing.T) {
	c := NewMetadataCache(1)
	c.UpdateMetadata(sampleRequest())

	_, code := c.GetPartitionLeaderEndpoint("orders", 0, "EXTERNAL")
	assert.Equal(t, ErrorListenerNotFound, code)
}

func TestGetPartitionLeaderEndpointNoLeader(t *testing.T) {
	c := NewMetadataCache(1)
	req := sampleRequest()
	req.Topics[0].Partitions[0].LeaderID = NoLeader
	c.UpdateMetadata(req)

	_, code := c.GetPartitionLeaderEndpoint("orders", 0, "INTERNAL")
	assert.Equal(t, ErrorLeaderNotAvailable, code)
}

// A snapshot captured before an update must keep reporting the old state
// forever, even after a concurrent UpdateMetadata call swaps the cache's
// pointer to a new snapshot - this is the whole point of the pointer-swap
// design instead of a mutex around a shared mutable map.
func TestSnapshotImmutableAcrossConcurrentUpdate(t *testing.T) {
	c := NewMetadataCache(1)
	c.UpdateMetadata(sampleRequest())

	before := c.snapshot()
	beforeLeader := before.partitionStates["orders"][0].LeaderID
	require.Equal(t, NodeID(1), beforeLeader)

	req := sampleRequest()
	req.Topics[0].Partitions[0].LeaderID = 3
	c.UpdateMetadata(req)

	// the snapshot reference captured earlier is untouched.
	assert.Equal(t, NodeID(1), before.partitionStates["orders"][0].LeaderID)

	ep, code := c.GetPartitionLeaderEndpoint("orders", 0, "INTERNAL")
	require.Equal(t, ErrorNone, code)
	assert.Equal(t, "10.0.0.3", ep.Host)
}

func TestReplicaEndpointsSkipOfflineBrokers(t *testing.T) {
	c := NewMetadataCache(1)
	req := sampleRequest()
	req.LiveBrokers = req.LiveBrokers[:2] // broker 3 never registered as alive
	c.UpdateMetadata(req)

	endpoints, code := c.GetPartitionReplicaEndpoints("orders", 0, "INTERNAL")
	require.Equal(t, ErrorNone, code)
	assert.Len(t, endpoints, 2)
}

func TestReplicaEndpointsAllOfflineReturnsError(t *testing.T) {
	c := NewMetadataCache(1)
	req := sampleRequest()
	req.LiveBrokers = nil
	c.UpdateMetadata(req)

	_, code := c.GetPartitionReplicaEndpoints("orders", 0, "INTERNAL")
	assert.Equal(t, ErrorReplicaNotAvailable, code)
}

func TestTopicIDRoundTrip(t *testing.T) {
	c := NewMetadataCache(1)
	req := sampleRequest()
	id := req.Topics[0].ID
	c.UpdateMetadata(req)

	gotID, ok := c.GetTopicID("orders")
	require.True(t, ok)
	assert.Equal(t, id, gotID)

	name, ok := c.GetTopicName(id)
	require.True(t, ok)
	assert.Equal(t, "orders", name)
}

func TestTopicIDPersistsAcrossSubsequentUpdatesThatOmitTheTopic(t *testing.T) {
	c := NewMetadataCache(1)
	req := sampleRequest()
	id := req.Topics[0].ID
	c.UpdateMetadata(req)

	// a later update about a different topic must not forget "orders"'s id.
	c.UpdateMetadata(UpdateMetadataRequest{
		ControllerID: 1,
		Topics: []TopicState{
			{Name: "payments", ID: uuid.New(), Partitions: []PartitionStateUpdate{{PartitionIndex: 0, LeaderID: 1, Replicas: []NodeID{1}, ISR: []NodeID{1}}}},
		},
	})

	gotID, ok := c.GetTopicID("orders")
	require.True(t, ok)
	assert.Equal(t, id, gotID)
	assert.True(t, c.Contains("orders"))
	assert.True(t, c.Contains("payments"))
}

func TestGetNonExistingTopics(t *testing.T) {
	c := NewMetadataCache(1)
	c.UpdateMetadata(sampleRequest())

	missing := c.GetNonExistingTopics([]string{"orders", "ghost"})
	assert.Equal(t, []string{"ghost"}, missing)
}

func TestNumPartitionsAndGetTopicPartitions(t *testing.T) {
	c := NewMetadataCache(1)
	c.UpdateMetadata(sampleRequest())

	n, ok := c.NumPartitions("orders")
	require.True(t, ok)
	assert.Equal(t, 2, n)

	_, ok = c.NumPartitions("ghost")
	assert.False(t, ok)

	assert.ElementsMatch(t, []uint32{0, 1}, c.GetTopicPartitions("orders"))
}

func TestGetClusterMetadataIncludesAllTopics(t *testing.T) {
	c := NewMetadataCache(1)
	c.UpdateMetadata(sampleRequest())

	cluster := c.GetClusterMetadata("cluster-1", "INTERNAL")
	assert.Equal(t, "cluster-1", cluster.ClusterID)
	assert.Len(t, cluster.Brokers, 3)
	require.Contains(t, cluster.Topics, "orders")
	assert.Len(t, cluster.Topics["orders"].Partitions, 2)
	require.NotNil(t, cluster.ControllerNode)
	assert.Equal(t, NodeID(1), cluster.ControllerNode.ID)
	assert.Empty(t, cluster.UnauthorizedTopics)
}

func TestGetClusterMetadataExcludesPartitionsLeaderDuringDelete(t *testing.T) {
	c := NewMetadataCache(1)
	req := sampleRequest()
	req.Topics[0].Partitions[1].LeaderID = LeaderDuringDelete
	c.UpdateMetadata(req)

	cluster := c.GetClusterMetadata("cluster-1", "INTERNAL")
	assert.Len(t, cluster.Topics["orders"].Partitions, 1)
	assert.Equal(t, uint32(0), cluster.Topics["orders"].Partitions[0].PartitionIndex)

	// plain GetTopicMetadata still reports the partition, with LEADER_NOT_AVAILABLE.
	topics := c.GetTopicMetadata([]string{"orders"}, "INTERNAL", false, false)
	require.Len(t, topics[0].Partitions, 2)
	assert.Equal(t, ErrorLeaderNotAvailable, topics[0].Partitions[1].ErrorCode)
}

func TestGetClusterMetadataFlagsInternalTopics(t *testing.T) {
	c := NewMetadataCache(1)
	req := sampleRequest()
	req.Topics = append(req.Topics, TopicState{
		Name: "__consumer_offsets",
		ID:   uuid.New(),
		Partitions: []PartitionStateUpdate{
			{PartitionIndex: 0, LeaderID: 1, Replicas: []NodeID{1}, ISR: []NodeID{1}},
		},
	})
	c.UpdateMetadata(req)

	cluster := c.GetClusterMetadata("cluster-1", "INTERNAL")
	assert.True(t, cluster.Topics["__consumer_offsets"].IsInternal)
	assert.False(t, cluster.Topics["orders"].IsInternal)
	assert.Contains(t, cluster.InternalTopics, "__consumer_offsets")
}

// TopicMetadata with a filtered ISR: the leader resolves fine but one
// replica/ISR member has no live endpoint on the listener, so the whole
// partition reports REPLICA_NOT_AVAILABLE even though its leader is up.
func TestGetTopicMetadataFilteredISRReportsReplicaNotAvailable(t *testing.T) {
	c := NewMetadataCache(1)
	req := sampleRequest()
	req.LiveBrokers = req.LiveBrokers[:2] // broker 3 never registered as alive
	c.UpdateMetadata(req)

	topics := c.GetTopicMetadata([]string{"orders"}, "INTERNAL", true, true)
	require.Len(t, topics, 1)
	part := topics[0].Partitions[0] // replicas=[1,2,3], isr=[1,2,3], leader=1
	assert.Equal(t, ErrorReplicaNotAvailable, part.ErrorCode)
	assert.Equal(t, NodeID(1), part.Leader.ID)
	assert.Len(t, part.ReplicaNodes, 2)
	assert.Len(t, part.ISRNodes, 2)
}

func TestGetTopicMetadataPassesThroughUnfilteredWhenErrorUnavailableEndpointsFalse(t *testing.T) {
	c := NewMetadataCache(1)
	req := sampleRequest()
	req.LiveBrokers = req.LiveBrokers[:2]
	c.UpdateMetadata(req)

	topics := c.GetTopicMetadata([]string{"orders"}, "INTERNAL", false, true)
	part := topics[0].Partitions[0]
	assert.Equal(t, ErrorNone, part.ErrorCode)
	require.Len(t, part.ReplicaNodes, 3)
	assert.True(t, part.ReplicaNodes[2].IsEmpty())
}

func TestGetTopicMetadataLeaderAliveMissingListener(t *testing.T) {
	c := NewMetadataCache(1)
	c.UpdateMetadata(sampleRequest())

	withListenerError := c.GetTopicMetadata([]string{"orders"}, "EXTERNAL", false, true)
	assert.Equal(t, ErrorListenerNotFound, withListenerError[0].Partitions[0].ErrorCode)

	withoutListenerError := c.GetTopicMetadata([]string{"orders"}, "EXTERNAL", false, false)
	assert.Equal(t, ErrorLeaderNotAvailable, withoutListenerError[0].Partitions[0].ErrorCode)
}

func TestGetTopicMetadataUnknownTopic(t *testing.T) {
	c := NewMetadataCache(1)
	c.UpdateMetadata(sampleRequest())

	topics := c.GetTopicMetadata([]string{"ghost"}, "INTERNAL", false, false)
	require.Len(t, topics, 1)
	assert.Equal(t, ErrorUnknownTopicOrPartition, topics[0].ErrorCode)
	assert.Empty(t, topics[0].Partitions)
}

func TestGetPartitionStateIsDetachedFromCacheState(t *testing.T) {
	c := NewMetadataCache(1)
	c.UpdateMetadata(sampleRequest())

	state, ok := c.GetPartitionState("orders", 0)
	require.True(t, ok)
	state.Replicas[0] = 99

	fresh, _ := c.GetPartitionState("orders", 0)
	assert.Equal(t, NodeID(1), fresh.Replicas[0])

	_, ok = c.GetPartitionState("orders", 5)
	assert.False(t, ok)
}

func TestControllerIDPersistsWhenNotReSent(t *testing.T) {
	c := NewMetadataCache(1)
	c.UpdateMetadata(sampleRequest())

	id, ok := c.GetControllerID()
	require.True(t, ok)
	assert.Equal(t, NodeID(1), id)

	c.UpdateMetadata(UpdateMetadataRequest{ControllerID: NoNodeID})

	id, ok = c.GetControllerID()
	require.True(t, ok)
	assert.Equal(t, NodeID(1), id)
}

func TestReturnedSlicesAreDetachedFromCacheState(t *testing.T) {
	c := NewMetadataCache(1)
	c.UpdateMetadata(sampleRequest())

	endpoints, code := c.GetPartitionReplicaEndpoints("orders", 0, "INTERNAL")
	require.Equal(t, ErrorNone, code)
	endpoints[0].Host = "mutated"

	fresh, _ := c.GetPartitionReplicaEndpoints("orders", 0, "INTERNAL")
	assert.NotEqual(t, "mutated", fresh[0].Host)
}
