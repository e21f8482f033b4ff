package indexer

import (
	"testing"
	"time"

	"github.com/evochora/evochora-sub010/topic"
	"github.com/evochora/evochora-sub010/wire"
)

func TestChunkBufferCrossBatchAck(t *testing.T) {
	buf := NewChunkBuffer(5)

	b1 := buf.TrackBatch(topic.AckToken{}, wire.BatchInfo{StoragePath: "b1"})
	b2 := buf.TrackBatch(topic.AckToken{}, wire.BatchInfo{StoragePath: "b2"})
	b3 := buf.TrackBatch(topic.AckToken{}, wire.BatchInfo{StoragePath: "b3"})

	buf.Add(b1, wire.TickDataChunk{FirstTick: 0})
	buf.Add(b1, wire.TickDataChunk{FirstTick: 1})
	buf.Seal(b1, 2)

	buf.Add(b2, wire.TickDataChunk{FirstTick: 2})
	buf.Add(b2, wire.TickDataChunk{FirstTick: 3})
	buf.Seal(b2, 2)

	buf.Add(b3, wire.TickDataChunk{FirstTick: 4})
	buf.Add(b3, wire.TickDataChunk{FirstTick: 5})
	buf.Seal(b3, 2)

	result := buf.Flush()
	if len(result.Chunks) != 5 {
		t.Fatalf("expected 5 chunks flushed, got %d", len(result.Chunks))
	}
	if len(result.Completed) != 2 {
		t.Fatalf("expected 2 completed batches, got %d", len(result.Completed))
	}
	if result.Completed[0].Info.StoragePath != "b1" || result.Completed[1].Info.StoragePath != "b2" {
		t.Fatalf("expected completed batches in arrival order b1,b2, got %v", result.Completed)
	}

	second := buf.Flush()
	if len(second.Chunks) != 1 {
		t.Fatalf("expected the last chunk of b3 to flush on the next round, got %d", len(second.Chunks))
	}
	if len(second.Completed) != 1 || second.Completed[0].Info.StoragePath != "b3" {
		t.Fatalf("expected b3 to complete on the second flush, got %v", second.Completed)
	}
}

func TestChunkBufferHoldsIncompleteBatch(t *testing.T) {
	buf := NewChunkBuffer(10)
	tr := buf.TrackBatch(topic.AckToken{}, wire.BatchInfo{StoragePath: "only"})
	buf.Add(tr, wire.TickDataChunk{FirstTick: 0})
	buf.Add(tr, wire.TickDataChunk{FirstTick: 1})
	// not sealed yet: the batch's for_each_chunk iteration hasn't finished.

	result := buf.Flush()
	if len(result.Chunks) != 2 {
		t.Fatalf("expected both buffered chunks to flush, got %d", len(result.Chunks))
	}
	if len(result.Completed) != 0 {
		t.Fatalf("expected no completed batches before Seal, got %v", result.Completed)
	}

	buf.Seal(tr, 2)
	again := buf.Flush()
	if len(again.Completed) != 1 {
		t.Fatalf("expected the batch to complete once sealed, got %v", again.Completed)
	}
}

func TestChunkBufferShouldFlushTriggers(t *testing.T) {
	buf := NewChunkBuffer(2)
	if buf.ShouldFlush(0) {
		t.Fatal("expected no flush trigger on an empty buffer")
	}
	tr := buf.TrackBatch(topic.AckToken{}, wire.BatchInfo{StoragePath: "b"})
	buf.Add(tr, wire.TickDataChunk{})
	if buf.ShouldFlush(time.Hour) {
		t.Fatal("expected no size-trigger flush below insert_batch_size")
	}
	buf.Add(tr, wire.TickDataChunk{})
	if !buf.ShouldFlush(time.Hour) {
		t.Fatal("expected a size-trigger flush at insert_batch_size")
	}
}
