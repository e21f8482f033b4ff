package topic

import (
	"container/heap"
	"sync"
	"time"

	"github.com/golang/glog"
)

// inflightEntry tracks one received-but-unacknowledged message's redelivery
// deadline. index is maintained by the heap itself (see Swap) so Ack can
// remove an entry in O(log n) without a linear scan, the same bookkeeping
// AIStore's transport/collect.go keeps per stream on its idle-timeout heap.
type inflightEntry struct {
	queue    *groupQueue
	msg      *queuedMessage
	deadline time.Time
	index    int
}

type inflightHeap []*inflightEntry

func (h inflightHeap) Len() int            { return len(h) }
func (h inflightHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h inflightHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *inflightHeap) Push(x interface{}) {
	e := x.(*inflightEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *inflightHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// watchdog forces redelivery of any message whose claim has outlived
// claimTimeout. It polls every max(10, min(60, claimTimeout/10)) seconds
// rather than arming one timer per message, mirroring collector's
// single shared ticker in transport/collect.go.
type watchdog struct {
	mu           sync.Mutex
	heap         inflightHeap
	claimTimeout time.Duration
	ticker       *time.Ticker
	stopCh       chan struct{}
	done         chan struct{}
}

func watchdogInterval(claimTimeout time.Duration) time.Duration {
	secs := claimTimeout.Seconds() / 10
	if secs < 10 {
		secs = 10
	}
	if secs > 60 {
		secs = 60
	}
	return time.Duration(secs) * time.Second
}

func newWatchdog(claimTimeout time.Duration) *watchdog {
	w := &watchdog{
		claimTimeout: claimTimeout,
		ticker:       time.NewTicker(watchdogInterval(claimTimeout)),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	heap.Init(&w.heap)
	go w.run()
	return w
}

func (w *watchdog) run() {
	defer close(w.done)
	for {
		select {
		case <-w.ticker.C:
			w.sweep()
		case <-w.stopCh:
			w.ticker.Stop()
			return
		}
	}
}

func (w *watchdog) sweep() {
	now := time.Now()
	var expired []*inflightEntry
	w.mu.Lock()
	for w.heap.Len() > 0 && !w.heap[0].deadline.After(now) {
		e := heap.Pop(&w.heap).(*inflightEntry)
		expired = append(expired, e)
	}
	w.mu.Unlock()
	for _, e := range expired {
		glog.Warningf("topic: claim timeout exceeded for message %s in group %s, forcing redelivery", e.msg.id, e.queue.name)
		e.queue.requeueExpired(e.msg)
	}
}

func (w *watchdog) track(q *groupQueue, msg *queuedMessage) *inflightEntry {
	e := &inflightEntry{queue: q, msg: msg, deadline: time.Now().Add(w.claimTimeout)}
	w.mu.Lock()
	heap.Push(&w.heap, e)
	w.mu.Unlock()
	return e
}

func (w *watchdog) untrack(e *inflightEntry) {
	w.mu.Lock()
	if e.index >= 0 && e.index < len(w.heap) && w.heap[e.index] == e {
		heap.Remove(&w.heap, e.index)
	}
	w.mu.Unlock()
}

func (w *watchdog) stop() {
	close(w.stopCh)
	<-w.done
}
