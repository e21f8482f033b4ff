package topic

import (
	"container/heap"
	"context"
	"testing"
	"time"
)

func TestWatchdogSweepRequeuesOnlyExpiredEntries(t *testing.T) {
	w := &watchdog{claimTimeout: time.Millisecond}
	q := newGroupQueue("g")

	expiring := &queuedMessage{id: "expiring"}
	fresh := &queuedMessage{id: "fresh"}

	expiringEntry := &inflightEntry{queue: q, msg: expiring, deadline: time.Now().Add(-time.Second)}
	freshEntry := &inflightEntry{queue: q, msg: fresh, deadline: time.Now().Add(time.Hour)}
	q.inflight[expiring.id] = expiringEntry
	q.inflight[fresh.id] = freshEntry

	heap.Push(&w.heap, expiringEntry)
	heap.Push(&w.heap, freshEntry)

	w.sweep()

	if w.heap.Len() != 1 || w.heap[0] != freshEntry {
		t.Fatalf("expected only the fresh entry left in the heap, got %+v", w.heap)
	}
	if _, stillTracked := q.inflight[expiring.id]; stillTracked {
		t.Fatal("expired entry should have been removed from the queue's inflight map")
	}
	msg, ok := q.pop(context.Background(), time.Millisecond)
	if !ok || msg.id != "expiring" {
		t.Fatalf("expected the expired message requeued for redelivery, got %+v ok=%v", msg, ok)
	}
}

func TestWatchdogUntrackRemovesTrackedEntry(t *testing.T) {
	w := newWatchdog(time.Hour)
	defer w.stop()
	q := newGroupQueue("g")
	msg := &queuedMessage{id: "m1"}

	entry := w.track(q, msg)
	if w.heap.Len() != 1 {
		t.Fatalf("expected 1 tracked entry, got %d", w.heap.Len())
	}
	w.untrack(entry)
	if w.heap.Len() != 0 {
		t.Fatalf("expected 0 tracked entries after untrack, got %d", w.heap.Len())
	}
}
