package controller

import (
	"context"
	"sync"
	"testing"
	"time"
)

// recordingProcessor captures the order events were actually run through
// Process and which ones got discarded via Preempt, with enough locking
// to be read safely once the test is done pumping events.
type recordingProcessor struct {
	mu        sync.Mutex
	processed []string
	preempted []string
	block     chan struct{} // if non-nil, Process waits on it before returning
}

func (p *recordingProcessor) Process(event ControllerEventType) {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	p.processed = append(p.processed, event.EventType())
	p.mu.Unlock()
}

func (p *recordingProcessor) Preempt(event ControllerEventType) {
	p.mu.Lock()
	p.preempted = append(p.preempted, event.EventType())
	p.mu.Unlock()
}

func (p *recordingProcessor) snapshot() (processed, preempted []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.processed...), append([]string(nil), p.preempted...)
}

func awaitAll(t *testing.T, events ...*QueuedEvent) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, e := range events {
		if err := e.AwaitProcessing(ctx); err != nil {
			t.Fatalf("event did not complete in time: %v", err)
		}
	}
}

func TestEventsRunInArrivalOrder(t *testing.T) {
	proc := &recordingProcessor{}
	mgr := NewControllerEventManager(proc, time.Second)
	mgr.Start()
	defer mgr.Close()

	e1 := mgr.Put(UpdateISREvent{})
	e2 := mgr.Put(RebalanceEvent{})
	e3 := mgr.Put(ElectLeaderEvent{Topic: "orders", Partition: 0})
	awaitAll(t, e1, e2, e3)

	processed, _ := proc.snapshot()
	want := []string{"update_isr", "rebalance", "elect_leader"}
	if len(processed) != len(want) {
		t.Fatalf("got %v, want %v", processed, want)
	}
	for i, ev := range want {
		if processed[i] != ev {
			t.Errorf("position %d: got %s, want %s", i, processed[i], ev)
		}
	}
}

func TestClearAndPutDiscardsWaitingEvents(t *testing.T) {
	release := make(chan struct{})
	proc := &recordingProcessor{block: release}
	mgr := NewControllerEventManager(proc, time.Second)
	mgr.Start()
	defer mgr.Close()

	// the first Put is picked up immediately and blocks inside Process,
	// so everything enqueued after it is still sitting in pending when
	// ClearAndPut runs.
	first := mgr.Put(UpdateISREvent{})
	time.Sleep(20 * time.Millisecond)

	stale1 := mgr.Put(RebalanceEvent{})
	stale2 := mgr.Put(RebalanceEvent{})
	urgent := mgr.ClearAndPut(ElectLeaderEvent{Topic: "orders", Partition: 0})

	close(release)
	awaitAll(t, first, stale1, stale2, urgent)

	processed, preempted := proc.snapshot()
	if len(preempted) != 2 {
		t.Fatalf("expected 2 preempted events, got %v", preempted)
	}
	for _, p := range preempted {
		if p != "rebalance" {
			t.Errorf("expected only rebalance events preempted, got %s", p)
		}
	}

	foundElect := false
	for _, p := range processed {
		if p == "elect_leader" {
			foundElect = true
		}
	}
	if !foundElect {
		t.Errorf("expected elect_leader to have been processed, got %v", processed)
	}
}

func TestCloseDrainsRemainingAsPreempted(t *testing.T) {
	release := make(chan struct{})
	proc := &recordingProcessor{block: release}
	mgr := NewControllerEventManager(proc, time.Second)
	mgr.Start()

	first := mgr.Put(UpdateISREvent{})
	time.Sleep(20 * time.Millisecond)

	queued := mgr.Put(RebalanceEvent{})

	done := make(chan struct{})
	go func() {
		mgr.Close()
		close(done)
	}()

	// Close blocks on the consumer goroutine exiting, which can't happen
	// until Process returns for the in-flight event.
	close(release)
	<-done

	awaitAll(t, first, queued)

	_, preempted := proc.snapshot()
	if len(preempted) != 1 || preempted[0] != "rebalance" {
		t.Fatalf("expected the still-queued rebalance event to be preempted by Close, got %v", preempted)
	}
}

func TestPutAfterCloseIsPreemptedNotQueued(t *testing.T) {
	proc := &recordingProcessor{}
	mgr := NewControllerEventManager(proc, time.Second)
	mgr.Start()
	mgr.Close()

	qe := mgr.Put(UpdateISREvent{})
	awaitAll(t, qe)

	_, preempted := proc.snapshot()
	if len(preempted) != 1 || preempted[0] != "update_isr" {
		t.Fatalf("expected event put after Close to be preempted, got %v", preempted)
	}
}
