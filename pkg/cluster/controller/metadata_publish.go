package controller

import (
	"encoding/json"

	"github.com/quanta-mq/broker/pkg/cluster/replication/fsm"
	"github.com/quanta-mq/broker/pkg/metadata"
	"github.com/quanta-mq/broker/util"
)

// nodeIDFor returns the metadata.NodeID assigned to a broker address,
// assigning the next free one the first time that address is seen. The rest
// of this package tracks brokers by address (the raft peer identity);
// pkg/metadata tracks them by a compact int32 NodeID, so this is the
// boundary that translates between the two.
func (cc *ClusterController) nodeIDFor(addr string) metadata.NodeID {
	cc.nodeIDMu.Lock()
	defer cc.nodeIDMu.Unlock()

	if id, ok := cc.nodeIDs[addr]; ok {
		return id
	}
	id := cc.nextNodeID
	cc.nodeIDs[addr] = id
	cc.nextNodeID++
	return id
}

// publishMetadataSnapshot encodes the controller's current view of
// partition leadership and ISR as a MetadataWireRequest and commits it
// through raft, so every broker's MetadataCache converges on the same
// partition-leader and ISR picture the controller just computed.
func (cc *ClusterController) publishMetadataSnapshot() {
	if cc.raftManager == nil {
		return
	}

	brokers, err := cc.discovery.DiscoverBrokers()
	if err != nil {
		util.Warn("controller: could not discover brokers for metadata publish: %v", err)
	}

	wire := fsm.MetadataWireRequest{
		ControllerID: int32(cc.nodeIDFor(cc.raftManager.LocalAddr())),
	}
	for _, b := range brokers {
		wire.LiveBrokers = append(wire.LiveBrokers, fsm.MetadataWireBroker{
			ID: int32(cc.nodeIDFor(b.Addr)),
			Endpoints: []fsm.MetadataWireEndPoint{
				{Host: b.Addr, Port: 0, ListenerName: "INTERNAL"},
			},
		})
	}

	cc.mu.RLock()
	topicPartitions := make(map[string][]fsm.MetadataWirePartitionState)
	for key, leaderAddr := range cc.partitionLeaders {
		topicName, partitionIndex, ok := splitPartitionKey(key)
		if !ok {
			continue
		}
		meta := cc.partitionMetadata[key]
		state := fsm.MetadataWirePartitionState{
			PartitionIndex: partitionIndex,
			LeaderID:       int32(cc.nodeIDFor(leaderAddr)),
		}
		if meta != nil {
			state.LeaderEpoch = uint32(meta.LeaderEpoch)
			for _, r := range meta.Replicas {
				state.Replicas = append(state.Replicas, int32(cc.nodeIDFor(r)))
			}
			for _, r := range meta.ISR {
				state.ISR = append(state.ISR, int32(cc.nodeIDFor(r)))
			}
		}
		topicPartitions[topicName] = append(topicPartitions[topicName], state)
	}
	cc.mu.RUnlock()

	for topicName, partitions := range topicPartitions {
		wire.Topics = append(wire.Topics, fsm.MetadataWireTopicState{
			Name:       topicName,
			Partitions: partitions,
		})
	}

	data, err := json.Marshal(wire)
	if err != nil {
		util.Error("controller: failed to marshal metadata snapshot: %v", err)
		return
	}

	if err := cc.raftManager.ApplyCommand("METADATA", data); err != nil {
		util.Error("controller: failed to publish metadata snapshot: %v", err)
	}
}

func splitPartitionKey(key string) (topic string, partition uint32, ok bool) {
	idx := -1
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '-' {
			idx = i
			break
		}
	}
	if idx == -1 {
		return "", 0, false
	}
	var n uint32
	for _, c := range key[idx+1:] {
		if c < '0' || c > '9' {
			return "", 0, false
		}
		n = n*10 + uint32(c-'0')
	}
	return key[:idx], n, true
}
