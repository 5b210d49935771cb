package metadata

import (
	"slices"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/quanta-mq/broker/pkg/metrics"
	"github.com/quanta-mq/broker/util"
)

// MetadataCache is the per-broker read-side cache of the controller's view
// of the cluster. Reads never block: every read method captures
// current.Load() into a local exactly once and serves entirely out of that
// one snapshot, so a concurrent UpdateMetadata can never leave a caller
// looking at a half-old, half-new view. UpdateMetadata is the only writer
// and is expected to have at most one concurrent caller (the raft-applied
// command log upstream already serializes writers); concurrent
// UpdateMetadata calls race on which snapshot wins, by contract.
type MetadataCache struct {
	brokerID NodeID
	current  atomic.Pointer[MetadataSnapshot]

	// warnOnListenerDrift enables a Warn log whenever a broker is alive but
	// has no endpoint registered for a requested listener - a sign of
	// listener config drift between brokers. Off by default since it's
	// purely diagnostic and noisy in mixed-listener deployments.
	warnOnListenerDrift atomic.Bool
}

// NewMetadataCache returns a cache seeded with an empty snapshot, as if the
// broker had never received an UpdateMetadata call.
func NewMetadataCache(brokerID NodeID) *MetadataCache {
	c := &MetadataCache{brokerID: brokerID}
	c.current.Store(emptyMetadataSnapshot())
	return c
}

// SetWarnOnListenerDrift toggles the listener-drift Warn log. Not passed
// through the constructor so existing call sites (including tests) stay
// untouched; callers that have Config.MetadataCacheWarnOnListenerDrift
// available call this once after construction.
func (c *MetadataCache) SetWarnOnListenerDrift(enabled bool) {
	c.warnOnListenerDrift.Store(enabled)
}

func (c *MetadataCache) snapshot() *MetadataSnapshot {
	return c.current.Load()
}

// UpdateMetadata publishes a new snapshot built from the previous one plus
// the request, swapped in with a single atomic store. It is the sole
// entry point the controller (via the raft-applied command log) uses to
// publish a new cluster view; see fsm_metadata.go for the raft wiring.
//
// The seven steps below mirror the controller's own bookkeeping order:
// brokers first (so partition resolution below can already see new
// brokers), then topic ids, then partition state, each folded onto what
// the previous snapshot already had for anything the request didn't touch.
func (c *MetadataCache) UpdateMetadata(req UpdateMetadataRequest) {
	prev := c.snapshot()
	next := &MetadataSnapshot{
		partitionStates: make(map[string]map[uint32]PartitionState, len(prev.partitionStates)),
		topicIDs:        make(map[string]uuid.UUID, len(prev.topicIDs)),
		topicNames:      make(map[uuid.UUID]string, len(prev.topicNames)),
		aliveBrokers:    make(map[NodeID]Broker, len(req.LiveBrokers)),
		aliveNodes:      make(map[NodeID]map[string]Node, len(req.LiveBrokers)),
	}

	// 1. carry forward anything the request is silent about.
	for topic, partitions := range prev.partitionStates {
		copied := make(map[uint32]PartitionState, len(partitions))
		for idx, state := range partitions {
			copied[idx] = state
		}
		next.partitionStates[topic] = copied
	}
	for topic, id := range prev.topicIDs {
		next.topicIDs[topic] = id
		next.topicNames[id] = topic
	}

	// 2. controller id.
	if req.ControllerID != NoNodeID {
		id := req.ControllerID
		next.controllerID = &id
	} else {
		next.controllerID = prev.controllerID
	}

	// 3. alive brokers and their flattened per-listener node views.
	for _, lb := range req.LiveBrokers {
		b := Broker{ID: lb.ID, Endpoints: slices.Clone(lb.Endpoints), Rack: lb.Rack}
		next.aliveBrokers[lb.ID] = cloneBroker(b)
		next.aliveNodes[lb.ID] = nodesForBroker(b)
	}

	// 4. topic ids (added or refreshed; this cache never forgets a topic id
	// once learned, matching Kafka's own "topic ids are permanent" model).
	for _, t := range req.Topics {
		if t.ID != uuid.Nil {
			next.topicIDs[t.Name] = t.ID
			next.topicNames[t.ID] = t.Name
		}
	}

	// 5. partition state, topic by topic, partition by partition.
	for _, t := range req.Topics {
		partitions, ok := next.partitionStates[t.Name]
		if !ok {
			partitions = make(map[uint32]PartitionState, len(t.Partitions))
		}
		for _, p := range t.Partitions {
			partitions[p.PartitionIndex] = PartitionState{
				Topic:           t.Name,
				PartitionIndex:  p.PartitionIndex,
				LeaderID:        p.LeaderID,
				LeaderEpoch:     p.LeaderEpoch,
				Replicas:        slices.Clone(p.Replicas),
				ISR:             slices.Clone(p.ISR),
				OfflineReplicas: slices.Clone(p.OfflineReplicas),
			}
		}
		next.partitionStates[t.Name] = partitions
	}

	// 6. drop any alive-broker bookkeeping for brokers the request no
	// longer lists as live, unless the request carried zero live brokers
	// (treated as "this update doesn't speak to broker liveness").
	if len(req.LiveBrokers) == 0 {
		for id, b := range prev.aliveBrokers {
			next.aliveBrokers[id] = b
			next.aliveNodes[id] = prev.aliveNodes[id]
		}
	}

	// 7. publish. This single pointer store is the only synchronization
	// point readers and the writer share.
	c.current.Store(next)

	metrics.MetadataCacheUpdatesTotal.Inc()
	metrics.MetadataCacheTopicsTotal.Set(float64(len(next.partitionStates)))
	util.Debug("metadata cache updated: %d topics, %d alive brokers", len(next.partitionStates), len(next.aliveBrokers))
}

// GetAllTopics returns every topic name the cache currently knows about.
func (c *MetadataCache) GetAllTopics() []string {
	snap := c.snapshot()
	topics := make([]string, 0, len(snap.partitionStates))
	for t := range snap.partitionStates {
		topics = append(topics, t)
	}
	return topics
}

// Contains reports whether the topic has any known partition state.
func (c *MetadataCache) Contains(topic string) bool {
	snap := c.snapshot()
	_, ok := snap.partitionStates[topic]
	return ok
}

// ContainsPartition reports whether the topic/partition pair is known.
func (c *MetadataCache) ContainsPartition(topic string, partition uint32) bool {
	snap := c.snapshot()
	partitions, ok := snap.partitionStates[topic]
	if !ok {
		return false
	}
	_, ok = partitions[partition]
	return ok
}

// GetTopicPartitions returns every known partition index for topic, in no
// particular order.
func (c *MetadataCache) GetTopicPartitions(topic string) []uint32 {
	snap := c.snapshot()
	partitions, ok := snap.partitionStates[topic]
	if !ok {
		return nil
	}
	out := make([]uint32, 0, len(partitions))
	for idx := range partitions {
		out = append(out, idx)
	}
	return out
}

// GetPartitionState returns the controller's latest view of one partition,
// detached from the cache's own snapshot so the caller can't mutate its
// Replicas/ISR/OfflineReplicas slices out from under future readers.
func (c *MetadataCache) GetPartitionState(topic string, partition uint32) (PartitionState, bool) {
	snap := c.snapshot()
	partitions, ok := snap.partitionStates[topic]
	if !ok {
		return PartitionState{}, false
	}
	state, ok := partitions[partition]
	if !ok {
		return PartitionState{}, false
	}
	return clonePartitionState(state), true
}

// NumPartitions returns the number of partitions known for topic, and
// whether the topic is known at all.
func (c *MetadataCache) NumPartitions(topic string) (int, bool) {
	snap := c.snapshot()
	partitions, ok := snap.partitionStates[topic]
	if !ok {
		return 0, false
	}
	return len(partitions), true
}

// GetNonExistingTopics filters topics down to the ones the cache has never
// heard of.
func (c *MetadataCache) GetNonExistingTopics(topics []string) []string {
	snap := c.snapshot()
	var missing []string
	for _, t := range topics {
		if _, ok := snap.partitionStates[t]; !ok {
			missing = append(missing, t)
		}
	}
	return missing
}

// GetControllerID returns the broker id of the current controller, if the
// cache has ever been told one.
func (c *MetadataCache) GetControllerID() (NodeID, bool) {
	snap := c.snapshot()
	if snap.controllerID == nil {
		return NoNodeID, false
	}
	return *snap.controllerID, true
}

// GetTopicID returns the UUID assigned to topic, if known.
func (c *MetadataCache) GetTopicID(topic string) (uuid.UUID, bool) {
	snap := c.snapshot()
	id, ok := snap.topicIDs[topic]
	return id, ok
}

// GetTopicName is the inverse of GetTopicID.
func (c *MetadataCache) GetTopicName(id uuid.UUID) (string, bool) {
	snap := c.snapshot()
	name, ok := snap.topicNames[id]
	return name, ok
}

// TopicIDInfo is an alias of GetTopicID kept for callers that think in
// terms of "resolve this topic's identity" rather than "look up an id".
func (c *MetadataCache) TopicIDInfo(topic string) (uuid.UUID, bool) {
	return c.GetTopicID(topic)
}

// GetAliveBrokers returns a defensive copy of every broker the cache
// currently believes is alive.
func (c *MetadataCache) GetAliveBrokers() []Broker {
	snap := c.snapshot()
	out := make([]Broker, 0, len(snap.aliveBrokers))
	for _, b := range snap.aliveBrokers {
		out = append(out, cloneBroker(b))
	}
	return out
}

// GetAliveBrokerNode resolves one broker's address on the given listener.
func (c *MetadataCache) GetAliveBrokerNode(id NodeID, listener string) (Node, bool) {
	snap := c.snapshot()
	listeners, ok := snap.aliveNodes[id]
	if !ok {
		return NoNode, false
	}
	node, ok := listeners[listener]
	return node, ok
}

// GetAliveBrokerNodes resolves every alive broker's address on the given
// listener; brokers without that listener are omitted.
func (c *MetadataCache) GetAliveBrokerNodes(listener string) []Node {
	snap := c.snapshot()
	out := make([]Node, 0, len(snap.aliveNodes))
	for _, listeners := range snap.aliveNodes {
		if node, ok := listeners[listener]; ok {
			out = append(out, node)
		}
	}
	return out
}

// GetPartitionLeaderEndpoint resolves the current leader's address on the
// given listener. It returns ErrorLeaderNotAvailable if there is no leader,
// or the leader is known but not currently alive, and
// ErrorListenerNotFound if the leader is alive but has no endpoint on that
// listener.
func (c *MetadataCache) GetPartitionLeaderEndpoint(topic string, partition uint32, listener string) (EndPoint, ErrorCode) {
	snap := c.snapshot()
	partitions, ok := snap.partitionStates[topic]
	if !ok {
		return EndPoint{}, ErrorUnknownTopicOrPartition
	}
	state, ok := partitions[partition]
	if !ok {
		return EndPoint{}, ErrorUnknownTopicOrPartition
	}
	if state.LeaderID == NoLeader || state.LeaderID == LeaderDuringDelete {
		return EndPoint{}, ErrorLeaderNotAvailable
	}
	broker, ok := snap.aliveBrokers[state.LeaderID]
	if !ok {
		return EndPoint{}, ErrorLeaderNotAvailable
	}
	ep, ok := broker.EndpointForListener(listener)
	if !ok {
		c.warnListenerDrift(broker.ID, listener)
		return EndPoint{}, ErrorListenerNotFound
	}
	return ep, ErrorNone
}

func (c *MetadataCache) warnListenerDrift(brokerID NodeID, listener string) {
	if c.warnOnListenerDrift.Load() {
		util.Warn("metadata: broker %d is alive but has no endpoint for listener %q", brokerID, listener)
	}
}

// GetPartitionReplicaEndpoints resolves every replica's address on the
// given listener, skipping replicas that are offline or have no endpoint
// on that listener, mirroring Kafka's MetadataResponse behavior of simply
// omitting unreachable replicas rather than failing the whole call.
func (c *MetadataCache) GetPartitionReplicaEndpoints(topic string, partition uint32, listener string) ([]EndPoint, ErrorCode) {
	snap := c.snapshot()
	partitions, ok := snap.partitionStates[topic]
	if !ok {
		return nil, ErrorUnknownTopicOrPartition
	}
	state, ok := partitions[partition]
	if !ok {
		return nil, ErrorUnknownTopicOrPartition
	}

	var endpoints []EndPoint
	for _, replicaID := range state.Replicas {
		broker, ok := snap.aliveBrokers[replicaID]
		if !ok {
			continue
		}
		if ep, ok := broker.EndpointForListener(listener); ok {
			endpoints = append(endpoints, ep)
		} else {
			c.warnListenerDrift(broker.ID, listener)
		}
	}
	if len(endpoints) == 0 {
		return nil, ErrorReplicaNotAvailable
	}
	return endpoints, ErrorNone
}

// GetTopicMetadata builds a MetadataResponseTopic for each requested topic
// name, resolving every partition's leader/replica/ISR to Node values on
// the given listener. Unknown topics get ErrorUnknownTopicOrPartition with
// no partitions.
//
// errorUnavailableEndpoints controls whether replicas/ISR members that
// don't currently resolve to a live endpoint on listener are dropped from
// the response (true) or passed through verbatim as NoNode entries
// (false). errorUnavailableListeners controls whether a leader that's
// alive but missing listener reports LISTENER_NOT_FOUND (true) or the
// coarser LEADER_NOT_AVAILABLE (false) - mirrors spec's error-code table
// exactly.
func (c *MetadataCache) GetTopicMetadata(topics []string, listener string, errorUnavailableEndpoints, errorUnavailableListeners bool) []MetadataResponseTopic {
	snap := c.snapshot()
	out := make([]MetadataResponseTopic, 0, len(topics))
	for _, name := range topics {
		out = append(out, c.topicMetadataFromSnapshot(snap, name, listener, errorUnavailableEndpoints, errorUnavailableListeners, false))
	}
	return out
}

// topicMetadataFromSnapshot builds one topic's metadata. excludeDuringDelete
// drops partitions whose leader is LeaderDuringDelete entirely instead of
// reporting them with LEADER_NOT_AVAILABLE - used only by GetClusterMetadata,
// per spec's Cluster schema ("partitions with leader == LeaderDuringDelete
// are excluded"). GetTopicMetadata itself always reports them.
func (c *MetadataCache) topicMetadataFromSnapshot(snap *MetadataSnapshot, name, listener string, errorUnavailableEndpoints, errorUnavailableListeners, excludeDuringDelete bool) MetadataResponseTopic {
	partitions, ok := snap.partitionStates[name]
	if !ok {
		return MetadataResponseTopic{Name: name, ErrorCode: ErrorUnknownTopicOrPartition}
	}

	resp := MetadataResponseTopic{
		Name:       name,
		ID:         snap.topicIDs[name],
		ErrorCode:  ErrorNone,
		IsInternal: isInternalTopic(name),
	}
	indices := make([]uint32, 0, len(partitions))
	for idx := range partitions {
		indices = append(indices, idx)
	}
	slices.Sort(indices)
	for _, idx := range indices {
		state := partitions[idx]
		if excludeDuringDelete && state.LeaderID == LeaderDuringDelete {
			continue
		}
		resp.Partitions = append(resp.Partitions, c.partitionMetadataFromSnapshot(snap, idx, state, listener, errorUnavailableEndpoints, errorUnavailableListeners))
	}
	return resp
}

// partitionMetadataFromSnapshot assembles one partition's response entry,
// selecting its errorCode per spec's table: LEADER_NOT_AVAILABLE when the
// leader is absent or dead, LISTENER_NOT_FOUND when it's alive but missing
// the listener and errorUnavailableListeners is set (else the coarser
// LEADER_NOT_AVAILABLE), REPLICA_NOT_AVAILABLE when the leader resolved
// fine but replicas/ISR got filtered, NONE otherwise.
func (c *MetadataCache) partitionMetadataFromSnapshot(snap *MetadataSnapshot, idx uint32, state PartitionState, listener string, errorUnavailableEndpoints, errorUnavailableListeners bool) MetadataResponsePartition {
	part := MetadataResponsePartition{
		PartitionIndex: idx,
		LeaderEpoch:    state.LeaderEpoch,
	}

	leaderBroker, leaderAlive := snap.aliveBrokers[state.LeaderID]
	switch {
	case state.LeaderID == NoLeader || state.LeaderID == LeaderDuringDelete || !leaderAlive:
		part.ErrorCode = ErrorLeaderNotAvailable
		part.Leader = NoNode
	default:
		ep, hasListener := leaderBroker.EndpointForListener(listener)
		if !hasListener {
			c.warnListenerDrift(leaderBroker.ID, listener)
			part.Leader = NoNode
			if errorUnavailableListeners {
				part.ErrorCode = ErrorListenerNotFound
			} else {
				part.ErrorCode = ErrorLeaderNotAvailable
			}
		} else {
			part.Leader = Node{ID: leaderBroker.ID, Host: ep.Host, Port: ep.Port, Rack: leaderBroker.Rack}
			part.ErrorCode = ErrorNone
		}
	}

	replicaNodes, replicasFiltered := c.resolveNodeSet(snap, state.Replicas, listener, errorUnavailableEndpoints)
	isrNodes, isrFiltered := c.resolveNodeSet(snap, state.ISR, listener, errorUnavailableEndpoints)
	part.ReplicaNodes = replicaNodes
	part.ISRNodes = isrNodes
	for _, id := range state.OfflineReplicas {
		part.OfflineReplicas = append(part.OfflineReplicas, c.resolveNode(snap, id, listener))
	}

	if part.ErrorCode == ErrorNone && (replicasFiltered || isrFiltered) {
		part.ErrorCode = ErrorReplicaNotAvailable
	}
	return part
}

// resolveNode resolves a single NodeID to its flattened Node view for
// listener, NoNode if the broker isn't alive or has no such listener.
func (c *MetadataCache) resolveNode(snap *MetadataSnapshot, id NodeID, listener string) Node {
	listeners, ok := snap.aliveNodes[id]
	if !ok {
		return NoNode
	}
	node, ok := listeners[listener]
	if !ok {
		return NoNode
	}
	return node
}

// resolveNodeSet resolves a replica/ISR id list to Nodes. When
// errorUnavailableEndpoints is set, ids that don't resolve to a live
// endpoint are dropped entirely and filtered reports true; otherwise every
// id passes through verbatim (unresolvable ones as NoNode) and filtered is
// always false, per spec's "pass them through verbatim" policy.
func (c *MetadataCache) resolveNodeSet(snap *MetadataSnapshot, ids []NodeID, listener string, errorUnavailableEndpoints bool) ([]Node, bool) {
	nodes := make([]Node, 0, len(ids))
	if !errorUnavailableEndpoints {
		for _, id := range ids {
			nodes = append(nodes, c.resolveNode(snap, id, listener))
		}
		return nodes, false
	}

	filtered := false
	for _, id := range ids {
		node := c.resolveNode(snap, id, listener)
		if node.IsEmpty() {
			filtered = true
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes, filtered
}

// GetClusterMetadata builds the flattened Cluster view for every topic
// currently known to the cache, per spec's Cluster schema. Partitions
// whose leader is LeaderDuringDelete are excluded entirely rather than
// reported with an error code.
func (c *MetadataCache) GetClusterMetadata(clusterID, listener string) Cluster {
	snap := c.snapshot()
	controllerNode, hasController := NoNode, false
	if snap.controllerID != nil {
		controllerNode, hasController = c.resolveNode(snap, *snap.controllerID, listener), true
	}

	cluster := Cluster{
		ClusterID: clusterID,
		Brokers:   c.GetAliveBrokerNodes(listener),
		Topics:    make(map[string]MetadataResponseTopic, len(snap.partitionStates)),
	}
	if hasController {
		cluster.ControllerNode = &controllerNode
	}
	for name := range snap.partitionStates {
		topic := c.topicMetadataFromSnapshot(snap, name, listener, false, false, true)
		cluster.Topics[name] = topic
		if topic.IsInternal {
			cluster.InternalTopics = append(cluster.InternalTopics, name)
		}
	}
	return cluster
}

// isInternalTopic flags topics the broker itself owns and manages, never
// ones a client creates - the Kafka convention of a "__"-prefixed name
// (e.g. __consumer_offsets).
func isInternalTopic(name string) bool {
	return strings.HasPrefix(name, "__")
}
