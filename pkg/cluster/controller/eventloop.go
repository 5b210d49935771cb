package controller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quanta-mq/broker/pkg/metrics"
	"github.com/quanta-mq/broker/util"
)

// ControllerState describes what, if anything, the event thread is
// currently doing. It is exposed through ControllerEventManager.State for
// introspection; ClearAndPut does not consult it.
type ControllerState int32

const (
	StateIdle ControllerState = iota
	StateElectingLeader
	StateUpdatingISR
	StateRebalancing
	StateShuttingDown
)

func (s ControllerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateElectingLeader:
		return "electing-leader"
	case StateUpdatingISR:
		return "updating-isr"
	case StateRebalancing:
		return "rebalancing"
	case StateShuttingDown:
		return "shutting-down"
	default:
		return "unknown"
	}
}

// ControllerEventType is implemented by every concrete event
// (ElectLeaderEvent, UpdateISREvent, RebalanceEvent).
// EventType is a short, stable label used for metrics and logging.
type ControllerEventType interface {
	EventType() string
}

// ControllerEventProcessor is supplied by whoever owns the controller's
// actual state (ClusterController). Process does the real work; Preempt is
// called instead when ClearAndPut discards this event before it ever ran.
type ControllerEventProcessor interface {
	Process(event ControllerEventType)
	Preempt(event ControllerEventType)
}

// QueuedEvent wraps one ControllerEventType with the bookkeeping needed to
// run it exactly once - whether that's via Process (normal dequeue) or
// Preempt (discarded by a ClearAndPut) - and to let a caller block until
// that happens.
type QueuedEvent struct {
	event       ControllerEventType
	enqueueTime time.Time
	spent       atomic.Bool
	done        chan struct{}
}

func newQueuedEvent(event ControllerEventType) *QueuedEvent {
	return &QueuedEvent{event: event, enqueueTime: time.Now(), done: make(chan struct{})}
}

// Process runs the event through p exactly once; a second call (from a
// racing Preempt) is a no-op.
func (q *QueuedEvent) Process(p ControllerEventProcessor) {
	if !q.spent.CompareAndSwap(false, true) {
		return
	}
	defer close(q.done)

	waited := time.Since(q.enqueueTime)
	metrics.ControllerQueueTimeSeconds.Observe(waited.Seconds())
	metrics.ControllerEventsProcessedTotal.WithLabelValues(q.event.EventType()).Inc()

	p.Process(q.event)
}

// Preempt discards the event without running it; used when ClearAndPut
// drops queued-but-not-yet-processed events in favor of a higher-priority
// one.
func (q *QueuedEvent) Preempt(p ControllerEventProcessor) {
	if !q.spent.CompareAndSwap(false, true) {
		return
	}
	defer close(q.done)

	metrics.ControllerEventsPreemptedTotal.WithLabelValues(q.event.EventType()).Inc()
	p.Preempt(q.event)
}

// AwaitProcessing blocks until this event has been processed or preempted,
// or ctx is done first.
func (q *QueuedEvent) AwaitProcessing(ctx context.Context) error {
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

const defaultEventQueueTimeout = 5 * time.Minute

// ControllerEventManager is a single-consumer event queue: exactly one
// goroutine (started by Start) drains events and hands each to processor
// in arrival order, except that ClearAndPut can atomically discard
// everything currently waiting and replace it with one urgent event.
//
// The backing store is a plain mutex-guarded slice rather than a channel:
// Go channels have no way to atomically "drain whatever's buffered right
// now" without racing a concurrent sender, which is exactly what
// ClearAndPut needs to do.
type ControllerEventManager struct {
	processor    ControllerEventProcessor
	queueTimeout time.Duration

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*QueuedEvent
	closed  bool

	state       atomic.Int32
	everStarted atomic.Bool // true once the first event has ever been dequeued

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   chan struct{}
}

// NewControllerEventManager builds a manager that will dispatch to
// processor once Start is called. A queueTimeout <= 0 falls back to
// defaultEventQueueTimeout.
func NewControllerEventManager(processor ControllerEventProcessor, queueTimeout time.Duration) *ControllerEventManager {
	if queueTimeout <= 0 {
		queueTimeout = defaultEventQueueTimeout
	}
	m := &ControllerEventManager{
		processor:    processor,
		queueTimeout: queueTimeout,
		stopped:      make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Put enqueues event at the back of the queue and returns a handle the
// caller can use to wait for it to run.
func (m *ControllerEventManager) Put(event ControllerEventType) *QueuedEvent {
	qe := newQueuedEvent(event)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		qe.Preempt(m.processor)
		return qe
	}
	m.pending = append(m.pending, qe)
	metrics.ControllerQueueDepth.Set(float64(len(m.pending)))
	m.mu.Unlock()

	m.cond.Signal()
	return qe
}

// ClearAndPut atomically discards every event currently waiting (calling
// Preempt on each) and replaces the queue with just event. Used when a
// higher-priority event (e.g. "a broker just died, elect leaders now")
// should run next regardless of what routine work was already queued.
func (m *ControllerEventManager) ClearAndPut(event ControllerEventType) *QueuedEvent {
	qe := newQueuedEvent(event)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		qe.Preempt(m.processor)
		return qe
	}
	discarded := m.pending
	m.pending = []*QueuedEvent{qe}
	metrics.ControllerQueueDepth.Set(1)
	m.mu.Unlock()

	for _, d := range discarded {
		d.Preempt(m.processor)
	}

	m.cond.Signal()
	return qe
}

// IsEmpty reports whether the queue currently has no pending events.
func (m *ControllerEventManager) IsEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending) == 0
}

// State returns what the event thread is currently doing.
func (m *ControllerEventManager) State() ControllerState {
	return ControllerState(m.state.Load())
}

// Start launches the single consumer goroutine. Calling Start more than
// once has no additional effect.
func (m *ControllerEventManager) Start() {
	m.startOnce.Do(func() {
		go m.run()
	})
}

func (m *ControllerEventManager) run() {
	for {
		event, ok := m.take()
		if !ok {
			close(m.stopped)
			return
		}
		m.dispatch(event)
	}
}

// take blocks for the next event. Before the first event has ever been
// dequeued it blocks indefinitely (there is no meaningful timeout yet);
// afterward it uses a bounded wait so a long-idle event thread still
// notices Close promptly even without a pending Signal.
func (m *ControllerEventManager) take() (*QueuedEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.pending) == 0 && !m.closed {
		if !m.everStarted.Load() {
			m.cond.Wait()
			continue
		}
		if !m.waitWithTimeout(m.queueTimeout) {
			// timed out with nothing queued; loop back and check m.closed.
			continue
		}
	}

	if m.closed && len(m.pending) == 0 {
		return nil, false
	}

	event := m.pending[0]
	m.pending = m.pending[1:]
	metrics.ControllerQueueDepth.Set(float64(len(m.pending)))
	m.everStarted.Store(true)
	return event, true
}

// waitWithTimeout waits on m.cond for up to d, returning false on timeout.
// m.mu must be held on entry; it is re-acquired before returning, matching
// sync.Cond.Wait's own contract.
func (m *ControllerEventManager) waitWithTimeout(d time.Duration) bool {
	woke := make(chan struct{})
	timer := time.AfterFunc(d, func() {
		m.mu.Lock()
		close(woke)
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer timer.Stop()

	m.cond.Wait()

	select {
	case <-woke:
		return false
	default:
		return true
	}
}

func (m *ControllerEventManager) dispatch(event *QueuedEvent) {
	defer func() {
		if r := recover(); r != nil {
			util.Error("controller event processor panicked on %s: %v", event.event.EventType(), r)
			m.state.Store(int32(StateIdle))
		}
	}()
	m.state.Store(stateFor(event.event))
	event.Process(m.processor)
	m.state.Store(int32(StateIdle))
}

func stateFor(event ControllerEventType) int32 {
	switch event.(type) {
	case ElectLeaderEvent:
		return int32(StateElectingLeader)
	case UpdateISREvent:
		return int32(StateUpdatingISR)
	case RebalanceEvent:
		return int32(StateRebalancing)
	default:
		return int32(StateIdle)
	}
}

// Close stops accepting new events, preempts everything still waiting, and
// blocks until the consumer goroutine has exited. Calling Close more than
// once has no additional effect.
func (m *ControllerEventManager) Close() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		remaining := m.pending
		m.pending = nil
		m.state.Store(int32(StateShuttingDown))
		m.mu.Unlock()

		for _, qe := range remaining {
			qe.Preempt(m.processor)
		}

		m.cond.Broadcast()
		<-m.stopped
	})
}

// ElectLeaderEvent requests a leader election for one partition.
type ElectLeaderEvent struct {
	Topic     string
	Partition int
}

func (ElectLeaderEvent) EventType() string { return "elect_leader" }

// UpdateISREvent requests an ISR recomputation pass across all partitions
// this controller tracks.
type UpdateISREvent struct{}

func (UpdateISREvent) EventType() string { return "update_isr" }

// RebalanceEvent requests a rebalance of partition leaders toward their
// preferred leaders.
type RebalanceEvent struct{}

func (RebalanceEvent) EventType() string { return "rebalance" }

func (e ElectLeaderEvent) String() string {
	return fmt.Sprintf("ElectLeaderEvent{%s-%d}", e.Topic, e.Partition)
}
