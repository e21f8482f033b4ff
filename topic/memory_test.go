package topic_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/evochora/evochora-sub010/topic"
	"github.com/evochora/evochora-sub010/wire"
)

var _ = Describe("Memory broker", func() {
	var (
		ctx    context.Context
		broker *topic.Memory
	)

	BeforeEach(func() {
		ctx = context.Background()
		broker = topic.NewMemory(time.Hour)
	})

	AfterEach(func() {
		Expect(broker.Close()).To(Succeed())
	})

	It("isolates messages per run id", func() {
		readerA, err := broker.Subscribe(ctx, "run-a", "indexer")
		Expect(err).NotTo(HaveOccurred())
		readerB, err := broker.Subscribe(ctx, "run-b", "indexer")
		Expect(err).NotTo(HaveOccurred())

		Expect(broker.Publish(ctx, "run-a", wire.BatchInfo{SimulationRunID: "run-a", StoragePath: "p1"})).To(Succeed())

		_, _, ok, err := readerA.Receive(ctx, 50*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		_, _, ok, err = readerB.Receive(ctx, 50*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("delivers each message to exactly one of two competing consumers", func() {
		r1, err := broker.Subscribe(ctx, "run-a", "indexer")
		Expect(err).NotTo(HaveOccurred())
		r2, err := broker.Subscribe(ctx, "run-a", "indexer")
		Expect(err).NotTo(HaveOccurred())

		for i := 0; i < 4; i++ {
			Expect(broker.Publish(ctx, "run-a", wire.BatchInfo{StoragePath: "batch"})).To(Succeed())
		}

		seen := map[string]bool{}
		for i := 0; i < 4; i++ {
			info, token, ok, err := r1.Receive(ctx, 20*time.Millisecond)
			if !ok {
				info, token, ok, err = r2.Receive(ctx, 20*time.Millisecond)
			}
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			seen[token.MessageID()] = true
			Expect(r1.Ack(ctx, token)).To(Succeed())
			_ = info
		}
		Expect(seen).To(HaveLen(4))
	})

	It("replays retained messages to a newly subscribed consumer group", func() {
		Expect(broker.Publish(ctx, "run-a", wire.BatchInfo{StoragePath: "p1"})).To(Succeed())
		Expect(broker.Publish(ctx, "run-a", wire.BatchInfo{StoragePath: "p2"})).To(Succeed())

		reader, err := broker.Subscribe(ctx, "run-a", "late-indexer")
		Expect(err).NotTo(HaveOccurred())

		info1, _, ok, err := reader.Receive(ctx, 50*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(info1.StoragePath).To(Equal("p1"))

		info2, _, ok, err := reader.Receive(ctx, 50*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(info2.StoragePath).To(Equal("p2"))
	})

	It("does not redeliver an acknowledged message", func() {
		reader, err := broker.Subscribe(ctx, "run-a", "indexer")
		Expect(err).NotTo(HaveOccurred())
		Expect(broker.Publish(ctx, "run-a", wire.BatchInfo{StoragePath: "p1"})).To(Succeed())

		_, token, ok, err := reader.Receive(ctx, 50*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(reader.Ack(ctx, token)).To(Succeed())

		_, _, ok, err = reader.Receive(ctx, 30*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})
})
