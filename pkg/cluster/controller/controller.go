package controller

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/quanta-mq/broker/pkg/cluster/discovery"
	"github.com/quanta-mq/broker/pkg/cluster/replication"
	"github.com/quanta-mq/broker/pkg/metadata"
	"github.com/quanta-mq/broker/pkg/metrics"
	"github.com/quanta-mq/broker/pkg/topic"
	"github.com/quanta-mq/broker/util"
)

type ClusterController struct {
	raftManager        *replication.RaftReplicationManager
	isrManager         *replication.ISRManager
	preferredLeaderMgr *replication.PreferredLeaderManager
	topicManager       *topic.TopicManager
	eventMgr           *ControllerEventManager

	discovery discovery.ServiceDiscovery
	mu        sync.RWMutex

	partitionLeaders  map[string]string                         // topic-partition -> broker
	partitionMetadata map[string]*replication.PartitionMetadata // topic-partition -> metadata

	nodeIDMu   sync.Mutex
	nodeIDs    map[string]metadata.NodeID // broker addr -> assigned node id
	nextNodeID metadata.NodeID
}

// NewClusterController builds a controller and its backing event loop.
// eventQueueTimeoutMS is Config.ControllerEventQueueTimeoutMS; a value <= 0
// falls back to the event loop's own default.
func NewClusterController(rm *replication.RaftReplicationManager, sd discovery.ServiceDiscovery, tm *topic.TopicManager, eventQueueTimeoutMS int) *ClusterController {
	cc := &ClusterController{
		raftManager:        rm,
		isrManager:         replication.NewISRManager(),
		discovery:          sd,
		topicManager:       tm,
		partitionLeaders:   make(map[string]string),
		partitionMetadata:  make(map[string]*replication.PartitionMetadata),
		preferredLeaderMgr: replication.NewPreferredLeaderManager(),
		nodeIDs:            make(map[string]metadata.NodeID),
		nextNodeID:         1,
	}
	cc.eventMgr = NewControllerEventManager(cc, time.Duration(eventQueueTimeoutMS)*time.Millisecond)
	return cc
}

// Process runs one controller event to completion. It implements
// ControllerEventProcessor so ClusterController can drive itself through
// eventMgr rather than acting on a raw ticker.
func (cc *ClusterController) Process(event ControllerEventType) {
	switch e := event.(type) {
	case ElectLeaderEvent:
		if err := cc.ElectPartitionLeader(e.Topic, e.Partition); err != nil {
			util.Error("controller: election for %s failed: %v", e, err)
			return
		}
	case UpdateISREvent:
		cc.UpdateISRStates()
	case RebalanceEvent:
		if err := cc.RebalanceToPreferredLeaders(); err != nil {
			util.Error("controller: rebalance failed: %v", err)
			return
		}
	default:
		util.Warn("controller: unrecognized event type %T", event)
		return
	}
	cc.publishMetadataSnapshot()
}

// Preempt is called instead of Process when ClearAndPut discards this event
// before it ever ran - routine work losing out to something more urgent.
func (cc *ClusterController) Preempt(event ControllerEventType) {
	util.Warn("controller: %s event preempted before running", event.EventType())
}

func (cc *ClusterController) SetISRManager(isrManager *replication.ISRManager) {
	cc.isrManager = isrManager
}

func (cc *ClusterController) GetPartitionLeader(topic string, partition int) (string, error) {
	key := fmt.Sprintf("%s-%d", topic, partition)

	cc.mu.RLock()
	if metadata, exists := cc.partitionMetadata[key]; exists {
		cc.mu.RUnlock()
		util.Debug("Found cached leader for %s: %s", key, metadata.Leader)
		return metadata.Leader, nil
	}
	cc.mu.RUnlock()

	util.Info("No cached leader for %s, triggering election", key)
	if err := cc.ElectPartitionLeader(topic, partition); err != nil {
		util.Error("Failed to elect leader for %s: %v", key, err)
		return "", err
	}

	cc.mu.RLock()
	defer cc.mu.RUnlock()

	metadata, exists := cc.partitionMetadata[key]
	if !exists || metadata == nil {
		return "", fmt.Errorf("metadata not found after election for %s", key)
	}
	leader := metadata.Leader
	util.Info("Elected new leader for %s: %s", key, leader)
	return leader, nil
}

func (cc *ClusterController) ElectPartitionLeader(topic string, partition int) error {
	brokers, err := cc.discovery.DiscoverBrokers()
	if err != nil {
		metrics.LeaderElectionFailures.WithLabelValues(topic, fmt.Sprintf("%d", partition), err.Error()).Inc()
		util.Error("Failed to discover brokers during election: %v", err)
		return err
	}

	key := fmt.Sprintf("%s-%d", topic, partition)
	util.Debug("Found %d brokers for election of %s", len(brokers), key)

	cc.mu.Lock()
	defer cc.mu.Unlock()

	var epoch int64 = time.Now().Unix()
	if existing, exists := cc.partitionMetadata[key]; exists {
		epoch = existing.LeaderEpoch + 1
		util.Debug("Incrementing epoch for %s to %d", key, epoch)
	}

	if preferredLeader, exists := cc.preferredLeaderMgr.GetPreferredLeader(topic, partition); exists {
		util.Debug("Checking preferred leader %s for %s", preferredLeader, key)
		for _, broker := range brokers {
			if broker.Addr == preferredLeader && cc.isBrokerHealthy(broker.Addr) {
				metrics.LeaderElectionTotal.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Inc()
				util.Info("Assigning preferred leader %s for %s", preferredLeader, key)
				return cc.assignLeader(topic, partition, broker.Addr, epoch)
			}
		}
		util.Warn("Preferred leader %s is not healthy for %s", preferredLeader, key)
	}

	for _, broker := range brokers {
		if cc.isBrokerHealthy(broker.Addr) {
			metrics.LeaderElectionTotal.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Inc()
			util.Info("Assigning healthy broker %s as leader for %s", broker.Addr, key)
			return cc.assignLeader(topic, partition, broker.Addr, epoch)
		}
	}

	metrics.LeaderElectionFailures.WithLabelValues(topic, fmt.Sprintf("%d", partition), "FAILED").Inc()
	util.Error("No healthy broker available for leadership of %s", key)
	return fmt.Errorf("no healthy broker available for leadership")
}

func (cc *ClusterController) isBrokerHealthy(addr string) bool {
	brokers, err := cc.discovery.DiscoverBrokers()
	if err != nil {
		util.Warn("Failed to discover brokers while checking health of %s: %v", addr, err)
		return false
	}

	for _, broker := range brokers {
		if broker.Addr == addr && broker.Status == "active" {
			healthy := time.Since(broker.LastSeen) < 5*time.Minute
			if !healthy {
				util.Warn("Broker %s is stale (last seen: %v)", addr, broker.LastSeen)
			}
			return healthy
		}
	}
	util.Debug("Broker %s not found or not active", addr)
	return false
}

func (cc *ClusterController) getAllTopics() []string {
	if cc.topicManager != nil {
		topics := cc.topicManager.ListTopics()
		util.Debug("Retrieved %d topics from topic manager", len(topics))
		return topics
	}
	util.Warn("TopicManager is nil, returning empty topic list")
	return []string{}
}

func (cc *ClusterController) getPartitionCount(topic string) int {
	if cc.topicManager != nil {
		t := cc.topicManager.GetTopic(topic)
		if t != nil {
			count := len(t.Partitions)
			util.Debug("Topic %s has %d partitions", topic, count)
			return count
		}
		util.Warn("Topic %s not found", topic)
	}
	return 0
}

func (cc *ClusterController) selectLeaderWithLeastLoad(brokers []replication.BrokerInfo, leaderCount map[string]int) *replication.BrokerInfo {
	var selected *replication.BrokerInfo
	minCount := int(^uint(0) >> 1)

	for _, broker := range brokers {
		count := leaderCount[broker.Addr]
		if count < minCount {
			minCount = count
			selected = &broker
		}
	}

	if selected != nil {
		util.Debug("Selected broker %s with least load (%d partitions)", selected.Addr, minCount)
	}
	return selected
}

func (cc *ClusterController) UpdateISRStates() {
	util.Debug("Updating ISR states for %d partitions", len(cc.partitionLeaders))
	updated := 0

	cc.mu.RLock()
	leaders := make(map[string]string, len(cc.partitionLeaders))
	for k, v := range cc.partitionLeaders {
		leaders[k] = v
	}
	cc.mu.RUnlock()

	for key, leader := range leaders {
		parts := strings.Split(key, "-")
		if len(parts) == 2 {
			topic := parts[0]
			partition, err := strconv.Atoi(parts[1])
			if err != nil {
				util.Warn("Invalid partition key %s: %v", key, err)
				continue
			}

			replicas := cc.raftManager.GetPartitionReplicas(topic, partition)
			cc.isrManager.UpdateISR(topic, partition, leader, replicas)
			updated++
		}
	}

	util.Debug("Updated ISR states for %d partitions", updated)
}

// Start launches the controller's single event-processing goroutine and
// begins feeding it periodic UpdateISREvents. Events put on eventMgr run
// one at a time, and OnBrokerUnavailable can preempt queued routine work
// with ClearAndPut. GetPartitionLeader still runs its on-demand election
// directly on the caller's goroutine, outside eventMgr.
func (cc *ClusterController) Start(ctx context.Context) {
	cc.eventMgr.Start()

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				util.Info("ClusterController stopping: context cancelled")
				cc.eventMgr.Close()
				return
			case <-ticker.C:
				cc.eventMgr.Put(UpdateISREvent{})
			}
		}
	}()
}

// OnBrokerUnavailable reacts to a detected broker failure by discarding
// whatever routine work is queued and immediately electing a new leader for
// the affected partition - losing a leader outranks any pending ISR refresh
// or rebalance.
func (cc *ClusterController) OnBrokerUnavailable(topic string, partition int) {
	cc.eventMgr.ClearAndPut(ElectLeaderEvent{Topic: topic, Partition: partition})
}

func (cc *ClusterController) assignLeader(topic string, partition int, leaderAddr string, epoch int64) error {
	key := fmt.Sprintf("%s-%d", topic, partition)

	if oldLeader, exists := cc.partitionLeaders[key]; exists {
		cc.preferredLeaderMgr.UpdateReplicaLoad(oldLeader, -1)
		util.Debug("Reduced load for previous leader %s of %s", oldLeader, key)
	}

	cc.preferredLeaderMgr.UpdateReplicaLoad(leaderAddr, 1)

	metadata := &replication.PartitionMetadata{
		Leader:      leaderAddr,
		Replicas:    cc.raftManager.GetPartitionReplicas(topic, partition),
		ISR:         []string{leaderAddr},
		LeaderEpoch: epoch,
	}

	cc.partitionLeaders[key] = leaderAddr
	cc.partitionMetadata[key] = metadata

	util.Info("Assigned leader %s (epoch %d) for %s with %d replicas", leaderAddr, epoch, key, len(metadata.Replicas))

	if err := cc.raftManager.UpdatePartitionLeader(topic, partition, leaderAddr); err != nil {
		util.Error("Failed to update partition leader in raft: %v", err)
		return err
	}

	return nil
}

func (cc *ClusterController) RebalanceToPreferredLeaders() error {
	brokers, err := cc.discovery.DiscoverBrokers()
	if err != nil {
		util.Error("Failed to discover brokers for rebalance: %v", err)
		return err
	}

	rebalanced := 0
	for _, broker := range brokers {
		load := cc.preferredLeaderMgr.GetReplicaLoad(broker.Addr)
		if load < 3 {
			util.Debug("Setting preferred leader for underloaded broker %s (load: %d)", broker.Addr, load)
			cc.setPreferredLeaderForPartitions(broker.Addr)
			rebalanced++
		}
	}

	util.Info("Rebalanced %d brokers to preferred leaders", rebalanced)
	return nil
}

func (cc *ClusterController) setPreferredLeaderForPartitions(brokerAddr string) {
	topics := cc.getAllTopics()
	partitionsSet := 0

	for _, topic := range topics {
		partitionCount := cc.getPartitionCount(topic)
		for partition := 0; partition < partitionCount; partition++ {
			cc.preferredLeaderMgr.SetPreferredLeader(topic, partition, brokerAddr)
			partitionsSet++
		}
	}

	util.Debug("Set %s as preferred leader for %d partitions", brokerAddr, partitionsSet)
}
