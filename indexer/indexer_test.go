package indexer_test

import (
	"context"
	"os"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/evochora/evochora-sub010/chunkio"
	"github.com/evochora/evochora-sub010/indexer"
	"github.com/evochora/evochora-sub010/querystore"
	"github.com/evochora/evochora-sub010/storage"
	"github.com/evochora/evochora-sub010/topic"
	"github.com/evochora/evochora-sub010/wire"
)

// newTestStore opens a fresh non-persistent query store; each call gets
// its own in-memory buntdb instance so specs never share state.
func newTestStore() *querystore.Store {
	store, err := querystore.Open(":memory:")
	Expect(err).NotTo(HaveOccurred())
	return store
}

// writeBatch writes a batch file with n chunks, ticks starting at
// startTick, and publishes the matching BatchInfo.
func writeBatch(ctx context.Context, res storage.Resource, broker topic.Broker, runID string, startTick int64, n int) {
	ch := make(chan *wire.TickDataChunk, n)
	for i := 0; i < n; i++ {
		tick := startTick + int64(i)
		ch <- &wire.TickDataChunk{
			SimulationRunID: runID,
			FirstTick:       tick,
			LastTick:        tick,
			TickCount:       1,
			Snapshot:        &wire.TickData{TickNumber: tick, SimulationRunID: runID},
		}
	}
	close(ch)
	result, err := res.WriteChunkBatchStreaming(ctx, runID, startTick, startTick+int64(n)-1, chunkio.CodecNone, ch)
	Expect(err).NotTo(HaveOccurred())
	Expect(broker.Publish(ctx, runID, wire.BatchInfo{
		SimulationRunID: runID,
		StoragePath:     result.Path,
		TickStart:       startTick,
		TickEnd:         startTick + int64(n) - 1,
	})).To(Succeed())
}

var _ = Describe("indexer pipeline", func() {
	It("acknowledges only fully drained batches across a cross-batch flush", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		dir, err := os.MkdirTemp("", "evochora-indexer-scn5")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)
		res := storage.NewFSBackend(dir)
		broker := topic.NewMemory(time.Minute)
		defer broker.Close()
		store := newTestStore()
		defer store.Close()

		runID := "run-scn5"
		writeBatch(ctx, res, broker, runID, 0, 2) // B1: ticks 0,1
		writeBatch(ctx, res, broker, runID, 2, 2) // B2: ticks 2,3
		writeBatch(ctx, res, broker, runID, 4, 2) // B3: ticks 4,5

		svc := indexer.NewService(indexer.Config{
			RunID:            runID,
			ConsumerGroup:    "indexer-env",
			Storage:          res,
			Broker:           broker,
			Store:            store,
			Filter:           wire.Filter{SkipOrganisms: true},
			InsertBatchSize:  5,
			FlushTimeout:     time.Hour,
			TopicPollTimeout: 20 * time.Millisecond,
			Metadata: func(context.Context) (storage.RunMetadata, bool, error) {
				return storage.RunMetadata{RunID: runID, Shape: []int32{20, 20}}, true, nil
			},
		})

		go svc.Run(ctx)

		Eventually(func() (int, error) {
			return store.CountRows(ctx, runID)
		}, time.Second, 5*time.Millisecond).Should(Equal(5))

		Eventually(func() uint64 {
			batches, _, _ := svc.Metrics().Snapshot()
			return batches
		}, time.Second, 5*time.Millisecond).Should(Equal(uint64(2)))

		svc.Stop()
		Eventually(svc.Done(), time.Second).Should(BeClosed())

		count, err := store.CountRows(ctx, runID)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(6))

		batches, ticks, _ := svc.Metrics().Snapshot()
		Expect(batches).To(Equal(uint64(3)))
		Expect(ticks).To(Equal(uint64(6)))
	})

	It("transitions to error when metadata never resolves", func() {
		ctx := context.Background()
		dir, err := os.MkdirTemp("", "evochora-indexer-missing-meta")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)
		res := storage.NewFSBackend(dir)
		broker := topic.NewMemory(time.Minute)
		defer broker.Close()
		store := newTestStore()
		defer store.Close()

		svc := indexer.NewService(indexer.Config{
			RunID:                   "run-missing-meta",
			ConsumerGroup:           "indexer-env",
			Storage:                 res,
			Broker:                  broker,
			Store:                   store,
			MetadataPollInterval:    5 * time.Millisecond,
			MetadataMaxPollDuration: 20 * time.Millisecond,
			Metadata: func(context.Context) (storage.RunMetadata, bool, error) {
				return storage.RunMetadata{}, false, nil
			},
		})

		err = svc.Run(ctx)
		Expect(err).To(HaveOccurred())
		Expect(svc.State()).To(Equal(indexer.StateError))
	})
})
