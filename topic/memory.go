package topic

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/evochora/evochora-sub010/wire"
)

// queuedMessage is one published envelope as it sits in a consumer group's
// queue, already wire-encoded the way a real broker would carry it over the
// network, so Receive decodes the same bytes an external broker's client
// library would hand back.
type queuedMessage struct {
	id      string
	payload []byte // wire.TopicEnvelope.Marshal() output
}

// groupQueue is one consumer group's durable, unbounded FIFO. Multiple
// Readers subscribed to the same group compete for its messages; push
// broadcasts arrival by swapping in a fresh waitCh, a channel-based
// equivalent of sync.Cond.Broadcast that still composes with select/ctx.
type groupQueue struct {
	name string

	mu       sync.Mutex
	pending  []*queuedMessage
	waitCh   chan struct{}
	inflight map[string]*inflightEntry
	closed   bool
}

func newGroupQueue(name string) *groupQueue {
	return &groupQueue{
		name:     name,
		waitCh:   make(chan struct{}),
		inflight: make(map[string]*inflightEntry),
	}
}

func (q *groupQueue) push(msg *queuedMessage) {
	q.mu.Lock()
	q.pending = append(q.pending, msg)
	ch := q.waitCh
	q.waitCh = make(chan struct{})
	q.mu.Unlock()
	close(ch)
}

func (q *groupQueue) pop(ctx context.Context, timeout time.Duration) (*queuedMessage, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			msg := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return msg, true
		}
		wait := q.waitCh
		q.mu.Unlock()
		select {
		case <-wait:
			continue
		case <-ctx.Done():
			return nil, false
		case <-deadline.C:
			return nil, false
		}
	}
}

func (q *groupQueue) requeueExpired(msg *queuedMessage) {
	q.mu.Lock()
	delete(q.inflight, msg.id)
	q.mu.Unlock()
	q.push(msg)
}

// runTopic is one run's isolated topic: a replay journal shared by every
// group subscribed to it, and the set of known consumer groups. Keying the
// whole broker by runID is the per-run isolation a reader
// subscribed to run A's topic structurally cannot see run B's messages.
type runTopic struct {
	mu       sync.Mutex
	retained []*queuedMessage
	groups   map[string]*groupQueue
}

// Memory is the embedded, in-process Broker implementation. It is durable
// only for the lifetime of the process: retained messages and consumer
// group state live in memory, never on disk, so a restart loses replay
// history the way a broker with no persistent journal would.
type Memory struct {
	claimTimeout time.Duration
	watchdog     *watchdog

	mu     sync.Mutex
	topics map[string]*runTopic
}

// NewMemory constructs an in-process broker whose stuck-message watchdog
// forces redelivery after claimTimeout of no acknowledgement.
func NewMemory(claimTimeout time.Duration) *Memory {
	return &Memory{
		claimTimeout: claimTimeout,
		watchdog:     newWatchdog(claimTimeout),
		topics:       make(map[string]*runTopic),
	}
}

func (m *Memory) topicFor(runID string) *runTopic {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.topics[runID]
	if !ok {
		t = &runTopic{groups: make(map[string]*groupQueue)}
		m.topics[runID] = t
	}
	return t
}

func (m *Memory) Publish(ctx context.Context, runID string, info wire.BatchInfo) error {
	env := wire.TopicEnvelope{MessageID: uuid.NewString(), Payload: info.Marshal()}
	msg := &queuedMessage{id: env.MessageID, payload: env.Marshal()}

	t := m.topicFor(runID)
	t.mu.Lock()
	t.retained = append(t.retained, msg)
	groups := make([]*groupQueue, 0, len(t.groups))
	for _, g := range t.groups {
		groups = append(groups, g)
	}
	t.mu.Unlock()

	for _, g := range groups {
		g.push(msg)
	}
	return nil
}

// Subscribe creates consumerGroup's queue on first use and seeds it with
// every message retained on runID's topic so far (new-consumer-group
// replay); an already-known group is returned as-is, the "known
// subscription" fast path.
func (m *Memory) Subscribe(ctx context.Context, runID, consumerGroup string) (Reader, error) {
	t := m.topicFor(runID)
	t.mu.Lock()
	g, known := t.groups[consumerGroup]
	if !known {
		g = newGroupQueue(consumerGroup)
		g.pending = append(g.pending, t.retained...)
		t.groups[consumerGroup] = g
	}
	t.mu.Unlock()

	return &memReader{broker: m, runID: runID, group: g}, nil
}

func (m *Memory) Close() error {
	m.watchdog.stop()
	return nil
}

type memReader struct {
	broker *Memory
	runID  string
	group  *groupQueue
}

func (r *memReader) Receive(ctx context.Context, timeout time.Duration) (wire.BatchInfo, AckToken, bool, error) {
	msg, ok := r.group.pop(ctx, timeout)
	if !ok {
		return wire.BatchInfo{}, AckToken{}, false, nil
	}
	env, err := wire.UnmarshalTopicEnvelope(msg.payload)
	if err != nil {
		return wire.BatchInfo{}, AckToken{}, false, errors.Wrap(err, "topic: decode envelope")
	}
	info, err := wire.UnmarshalBatchInfo(env.Payload)
	if err != nil {
		return wire.BatchInfo{}, AckToken{}, false, errors.Wrap(err, "topic: decode batch info")
	}

	entry := r.broker.watchdog.track(r.group, msg)
	r.group.mu.Lock()
	r.group.inflight[msg.id] = entry
	r.group.mu.Unlock()

	token := AckToken{runID: r.runID, consumerGroup: r.group.name, messageID: msg.id}
	return info, token, true, nil
}

func (r *memReader) Ack(ctx context.Context, token AckToken) error {
	r.group.mu.Lock()
	entry, ok := r.group.inflight[token.messageID]
	if ok {
		delete(r.group.inflight, token.messageID)
	}
	r.group.mu.Unlock()
	if !ok {
		return nil
	}
	r.broker.watchdog.untrack(entry)
	return nil
}

func (r *memReader) Close() error { return nil }

var _ Broker = (*Memory)(nil)
var _ Reader = (*memReader)(nil)
