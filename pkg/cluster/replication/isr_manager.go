package replication

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/quanta-mq/broker/pkg/cluster/replication/fsm"
	"github.com/quanta-mq/broker/pkg/metrics"
	"github.com/quanta-mq/broker/util"
)

const defaultHeartbeatTimeout = 10 * time.Second

// ISRManager tracks which replicas are in-sync for every partition this
// broker knows about. It supports two overlapping ways of arriving at an
// ISR set: a local, lag-threshold based view (UpdateISR, fed directly by a
// leader that already knows each replica's fetch lag) and an FSM-backed
// heartbeat view (ComputeISR/Start, fed by periodic broker heartbeats and
// written into this node's BrokerFSM partition metadata; no raft log entry
// is appended for it). GetISR and
// HasQuorum consult the local view first and fall back to the FSM so either
// caller gets an answer regardless of which side fed it.
type ISRManager struct {
	fsm      *fsm.BrokerFSM
	brokerID string

	mu         sync.RWMutex
	isrMap     map[string][]string // topic-partition -> []broker
	replicaLag map[string]int64    // topic-partition-replica -> lag in bytes
	lastSeen   map[string]time.Time

	heartbeatTimeout time.Duration

	stopCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewISRManager builds a manager that tracks ISR purely from UpdateISR calls
// (no raft-backed heartbeat loop). Use NewFSMBackedISRManager instead when a
// BrokerFSM is available and heartbeat-driven ISR refresh is wanted.
func NewISRManager() *ISRManager {
	return &ISRManager{
		isrMap:           make(map[string][]string),
		replicaLag:       make(map[string]int64),
		lastSeen:         make(map[string]time.Time),
		heartbeatTimeout: defaultHeartbeatTimeout,
		stopCh:           make(chan struct{}),
	}
}

// NewFSMBackedISRManager builds a manager whose Start loop recomputes ISR
// for every known partition from broker heartbeats and writes the result
// into brokerFSM's local partition metadata (not through the raft log).
func NewFSMBackedISRManager(brokerFSM *fsm.BrokerFSM, brokerID string, heartbeatTimeout time.Duration) *ISRManager {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = defaultHeartbeatTimeout
	}
	return &ISRManager{
		fsm:              brokerFSM,
		brokerID:         brokerID,
		isrMap:           make(map[string][]string),
		replicaLag:       make(map[string]int64),
		lastSeen:         make(map[string]time.Time),
		heartbeatTimeout: heartbeatTimeout,
		stopCh:           make(chan struct{}),
	}
}

func (i *ISRManager) Start() {
	if i.fsm == nil {
		return
	}
	i.startOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(i.heartbeatTimeout / 2)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					i.refreshAllISRs()
					i.CleanStaleHeartbeats()
				case <-i.stopCh:
					return
				}
			}
		}()
	})
}

func (i *ISRManager) Stop() {
	i.stopOnce.Do(func() {
		close(i.stopCh)
	})
}

func (i *ISRManager) refreshAllISRs() {
	partitionKeys := i.fsm.GetAllPartitionKeys()

	for _, key := range partitionKeys {
		idx := strings.LastIndex(key, "-")
		if idx == -1 {
			continue
		}
		topic := key[:idx]
		partition, err := strconv.Atoi(key[idx+1:])
		if err != nil {
			util.Debug("skipping invalid partition key format: %s", key)
			continue
		}
		util.Debug("refreshing ISR for topic: %s, partition: %d", topic, partition)
		i.ComputeISR(topic, partition)
	}
}

// UpdateHeartbeat records the last heartbeat for a broker.
func (i *ISRManager) UpdateHeartbeat(brokerID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.lastSeen[brokerID] = time.Now()
}

// ComputeISR recomputes ISR for one partition from which of its replicas
// have heartbeated recently, then persists the result through the FSM.
// Requires an FSM-backed manager; returns nil otherwise.
func (i *ISRManager) ComputeISR(topic string, partition int) []string {
	if i.fsm == nil {
		return nil
	}
	key := fmt.Sprintf("%s-%d", topic, partition)
	var isr []string

	i.mu.RLock()
	meta := i.fsm.GetPartitionMetadata(key)

	if meta == nil {
		i.mu.RUnlock()
		util.Warn("Partition metadata not found for %s. Returning empty ISR.", key)
		return nil
	}

	for _, broker := range meta.Replicas {
		if last, ok := i.lastSeen[broker]; ok && time.Since(last) < i.heartbeatTimeout {
			isr = append(isr, broker)
		}
	}
	i.mu.RUnlock()

	i.fsm.UpdatePartitionISR(key, isr)

	i.mu.Lock()
	i.isrMap[key] = isr
	i.mu.Unlock()

	return isr
}

// UpdateISR recomputes ISR for one partition from known replica lag: a
// replica joins the ISR only if it is less than 1MB behind the leader.
// Used by callers that already track per-replica lag directly (e.g. the
// controller, driven by fetch-request bookkeeping) rather than by heartbeat.
func (i *ISRManager) UpdateISR(topic string, partition int, leader string, replicas []string) {
	key := fmt.Sprintf("%s-%d", topic, partition)

	i.mu.Lock()
	defer i.mu.Unlock()

	oldISR := i.isrMap[key]

	isr := []string{leader}
	for _, replica := range replicas {
		replicaKey := fmt.Sprintf("%s-%d-%s", topic, partition, replica)
		if replica != leader && i.replicaLag[replicaKey] < 1024*1024 {
			isr = append(isr, replica)
		}
	}

	if len(oldISR) != len(isr) {
		for _, removed := range oldISR {
			if !contains(isr, removed) {
				metrics.ISRChangesTotal.WithLabelValues(topic, fmt.Sprintf("%d", partition), "remove").Inc()
			}
		}
		for _, added := range isr {
			if !contains(oldISR, added) {
				metrics.ISRChangesTotal.WithLabelValues(topic, fmt.Sprintf("%d", partition), "add").Inc()
			}
		}
	}

	i.isrMap[key] = isr
	metrics.ISRSize.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Set(float64(len(isr)))

	for _, replica := range replicas {
		if replica != leader {
			replicaKey := fmt.Sprintf("%s-%d-%s", topic, partition, replica)
			lag := i.replicaLag[replicaKey]
			metrics.ReplicationLagBytes.WithLabelValues(topic, fmt.Sprintf("%d", partition), replica).Set(float64(lag))
		}
	}

	util.Debug("Updated ISR for %s: %v (lag threshold: 1MB)", key, isr)
}

// GetISR returns the latest known ISR for a partition: the local,
// lag-derived view if UpdateISR has ever populated it, otherwise whatever
// the FSM holds (if this manager is FSM-backed).
func (i *ISRManager) GetISR(topic string, partition int) []string {
	key := fmt.Sprintf("%s-%d", topic, partition)

	i.mu.RLock()
	isr, ok := i.isrMap[key]
	i.mu.RUnlock()
	if ok {
		util.Debug("Retrieved ISR for %s: %v", key, isr)
		return append([]string(nil), isr...)
	}

	if i.fsm == nil {
		return nil
	}
	meta := i.fsm.GetPartitionMetadata(key)
	if meta == nil {
		util.Warn("Partition metadata not found for %s. Returning empty ISR.", key)
		return nil
	}
	return append([]string(nil), meta.ISR...)
}

// HasQuorum reports whether topic-partition currently has at least
// required in-sync replicas.
func (i *ISRManager) HasQuorum(topic string, partition int, required int) bool {
	isr := i.GetISR(topic, partition)
	hasQuorum := len(isr) >= required

	util.Debug("Quorum check for %s-%d: %d/%d required", topic, partition, len(isr), required)
	return hasQuorum
}

// CleanStaleHeartbeats removes old heartbeat entries.
func (i *ISRManager) CleanStaleHeartbeats() {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := time.Now()
	for brokerID, last := range i.lastSeen {
		if now.Sub(last) > i.heartbeatTimeout {
			delete(i.lastSeen, brokerID)
		}
	}
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
