package fsm

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/quanta-mq/broker/pkg/metadata"
	"github.com/quanta-mq/broker/util"
)

// MetadataWireRequest is the JSON shape a METADATA: log entry carries. It
// mirrors metadata.UpdateMetadataRequest field-for-field; kept as its own
// exported type (rather than unmarshaling metadata.UpdateMetadataRequest
// directly) so the raft wire format stays decoupled from the cache
// package's Go types, the same separation fsm_command.go already keeps
// for TOPIC: and PARTITION: entries, and so that pkg/cluster/controller
// can build one of these directly without reaching into fsm internals.
type MetadataWireRequest struct {
	ControllerID int32                    `json:"controller_id"`
	LiveBrokers  []MetadataWireBroker     `json:"live_brokers"`
	Topics       []MetadataWireTopicState `json:"topics"`
}

type MetadataWireBroker struct {
	ID        int32                  `json:"id"`
	Endpoints []MetadataWireEndPoint `json:"endpoints"`
	Rack      string                 `json:"rack"`
}

type MetadataWireEndPoint struct {
	Host             string `json:"host"`
	Port             uint32 `json:"port"`
	ListenerName     string `json:"listener_name"`
	SecurityProtocol string `json:"security_protocol"`
}

type MetadataWireTopicState struct {
	Name       string                       `json:"name"`
	ID         string                       `json:"id"`
	Partitions []MetadataWirePartitionState `json:"partitions"`
}

type MetadataWirePartitionState struct {
	PartitionIndex  uint32  `json:"partition_index"`
	LeaderID        int32   `json:"leader_id"`
	LeaderEpoch     uint32  `json:"leader_epoch"`
	Replicas        []int32 `json:"replicas"`
	ISR             []int32 `json:"isr"`
	OfflineReplicas []int32 `json:"offline_replicas"`
}

func toNodeIDs(ids []int32) []metadata.NodeID {
	out := make([]metadata.NodeID, len(ids))
	for i, id := range ids {
		out[i] = metadata.NodeID(id)
	}
	return out
}

func (f *BrokerFSM) applyMetadataCommand(jsonData string) error {
	var wire MetadataWireRequest
	if err := json.Unmarshal([]byte(jsonData), &wire); err != nil {
		util.Error("Failed to unmarshal metadata command: %v", err)
		return fmt.Errorf("invalid metadata command: %w", err)
	}

	req := metadata.UpdateMetadataRequest{
		ControllerID: metadata.NodeID(wire.ControllerID),
	}
	for _, b := range wire.LiveBrokers {
		broker := metadata.LiveBroker{ID: metadata.NodeID(b.ID), Rack: b.Rack}
		for _, ep := range b.Endpoints {
			broker.Endpoints = append(broker.Endpoints, metadata.EndPoint{
				Host:             ep.Host,
				Port:             ep.Port,
				ListenerName:     ep.ListenerName,
				SecurityProtocol: ep.SecurityProtocol,
			})
		}
		req.LiveBrokers = append(req.LiveBrokers, broker)
	}
	for _, t := range wire.Topics {
		topicState := metadata.TopicState{Name: t.Name}
		if t.ID != "" {
			if id, err := uuid.Parse(t.ID); err == nil {
				topicState.ID = id
			}
		}
		for _, p := range t.Partitions {
			topicState.Partitions = append(topicState.Partitions, metadata.PartitionStateUpdate{
				PartitionIndex:  p.PartitionIndex,
				LeaderID:        metadata.NodeID(p.LeaderID),
				LeaderEpoch:     p.LeaderEpoch,
				Replicas:        toNodeIDs(p.Replicas),
				ISR:             toNodeIDs(p.ISR),
				OfflineReplicas: toNodeIDs(p.OfflineReplicas),
			})
		}
		req.Topics = append(req.Topics, topicState)
	}

	f.metadataCache.UpdateMetadata(req)
	util.Debug("FSM applied metadata update: %d brokers, %d topics", len(req.LiveBrokers), len(req.Topics))
	return nil
}
