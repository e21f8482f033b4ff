package indexer

import (
	"sync"
	"time"

	"github.com/evochora/evochora-sub010/topic"
	"github.com/evochora/evochora-sub010/wire"
)

// batchTracker follows one received batch message from the first chunk
// for_each_chunk hands us through to the point every chunk it produced has
// been flushed. total is unknown until Seal is called (the iteration over
// the batch file has to finish before we know how many chunks it held), so
// sealed gates completability independently of flushed reaching total.
type batchTracker struct {
	token    topic.AckToken
	info     wire.BatchInfo
	total    int
	flushed  int
	sealed   bool
	reported bool
}

func (t *batchTracker) completable() bool {
	return t.sealed && t.flushed >= t.total
}

type pendingChunk struct {
	chunk   wire.TickDataChunk
	tracker *batchTracker
}

// CompletedBatch is one batch message whose every chunk has now been
// flushed; only these are safe to ACK.
type CompletedBatch struct {
	Token topic.AckToken
	Info  wire.BatchInfo
}

// FlushResult is what one Flush call drained.
type FlushResult struct {
	Chunks    []wire.TickDataChunk
	Completed []CompletedBatch
}

// ChunkBuffer is the chunk-buffering component standing between
// for_each_chunk and the downstream writer: it accumulates chunks from
// possibly many in-flight batch messages and only reports a batch as
// flushable once every chunk it contributed has actually been written.
type ChunkBuffer struct {
	insertBatchSize int

	mu             sync.Mutex
	pending        []pendingChunk
	trackedBatches []*batchTracker
	lastFlush      time.Time
}

// NewChunkBuffer builds a buffer that flushes insertBatchSize chunks at a
// time.
func NewChunkBuffer(insertBatchSize int) *ChunkBuffer {
	return &ChunkBuffer{
		insertBatchSize: insertBatchSize,
		lastFlush:       time.Now(),
	}
}

// TrackBatch registers a newly received batch message and returns the
// tracker the caller threads through Add/Seal for every chunk that batch's
// for_each_chunk iteration produces.
func (b *ChunkBuffer) TrackBatch(token topic.AckToken, info wire.BatchInfo) *batchTracker {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := &batchTracker{token: token, info: info}
	b.trackedBatches = append(b.trackedBatches, t)
	return t
}

// Add enqueues one chunk produced by tracker's batch.
func (b *ChunkBuffer) Add(tracker *batchTracker, chunk wire.TickDataChunk) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, pendingChunk{chunk: chunk, tracker: tracker})
}

// Seal records the total chunk count for tracker's batch once its
// for_each_chunk iteration has finished. Only after this is called can the
// batch ever become completable.
func (b *ChunkBuffer) Seal(tracker *batchTracker, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tracker.total = total
	tracker.sealed = true
}

// ShouldFlush reports whether either flush trigger has fired:
// insert_batch_size chunks accumulated, or flush_timeout_ms elapsed since
// the last flush.
func (b *ChunkBuffer) ShouldFlush(flushTimeout time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return false
	}
	if len(b.pending) >= b.insertBatchSize {
		return true
	}
	return time.Since(b.lastFlush) >= flushTimeout
}

// Flush drains up to insertBatchSize pending chunks in arrival order and
// reports every batch message that became fully drained as a result.
// Completed batches are returned in the order their batch message first
// appeared (trackedBatches is itself append-ordered by arrival), not in
// the order their last chunk happened to flush.
func (b *ChunkBuffer) Flush() FlushResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.insertBatchSize
	if n > len(b.pending) {
		n = len(b.pending)
	}
	drained := b.pending[:n]
	b.pending = append([]pendingChunk(nil), b.pending[n:]...)
	b.lastFlush = time.Now()

	result := FlushResult{Chunks: make([]wire.TickDataChunk, 0, n)}
	for _, pc := range drained {
		result.Chunks = append(result.Chunks, pc.chunk)
		pc.tracker.flushed++
	}

	remaining := b.trackedBatches[:0]
	for _, t := range b.trackedBatches {
		if !t.reported && t.completable() {
			t.reported = true
			result.Completed = append(result.Completed, CompletedBatch{Token: t.token, Info: t.info})
			continue
		}
		remaining = append(remaining, t)
	}
	b.trackedBatches = remaining

	return result
}
