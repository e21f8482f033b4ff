// Command evochora-sim runs a fixed number of ticks of a simulation run,
// capturing snapshots/deltas into batch files via storage.Resource and
// announcing each finished batch on the topic broker for an indexer to
// pick up. Program loading/compilation is an external collaborator; this
// entrypoint seeds a population of bare organisms at evenly spaced
// positions and lets the tick loop run, which is enough to exercise the
// whole write path end to end without a compiler.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/evochora/evochora-sub010/capture"
	"github.com/evochora/evochora-sub010/chunkio"
	"github.com/evochora/evochora-sub010/config"
	"github.com/evochora/evochora-sub010/environment"
	"github.com/evochora/evochora-sub010/isa"
	"github.com/evochora/evochora-sub010/organism"
	"github.com/evochora/evochora-sub010/sched"
	"github.com/evochora/evochora-sub010/storage"
	"github.com/evochora/evochora-sub010/topic"
	"github.com/evochora/evochora-sub010/wire"
)

func main() {
	runID := flag.String("run-id", "", "simulation run id (defaults to a generated uuid)")
	shapeFlag := flag.String("shape", "20x20", "world shape, e.g. 20x20 or 10x10x10")
	toroidal := flag.Bool("toroidal", false, "use toroidal topology instead of bounded")
	ticks := flag.Int64("ticks", 100, "number of ticks to run")
	organisms := flag.Int("organisms", 4, "number of organisms to seed")
	snapshotInterval := flag.Int64("snapshot-interval", 10, "ticks between snapshots")
	chunkInterval := flag.Int64("chunk-interval", 10, "ticks per chunk")
	batchSize := flag.Int("batch-size", 5, "chunks per batch file")
	zstd := flag.Bool("zstd", false, "compress batch files with zstd")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		glog.Exitf("config: %v", err)
	}
	config.Set(cfg)

	if *runID == "" {
		*runID = uuid.NewString()
	}

	shape, err := parseShape(*shapeFlag)
	if err != nil {
		glog.Exitf("shape: %v", err)
	}

	topology := environment.Bounded
	if *toroidal {
		topology = environment.Toroidal
	}

	if err := run(cfg, *runID, shape, topology, *ticks, *organisms, *snapshotInterval, *chunkInterval, *batchSize, *zstd); err != nil {
		glog.Exitf("run: %v", err)
	}
}

func parseShape(s string) ([]int32, error) {
	parts := strings.Split(s, "x")
	shape := make([]int32, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, errors.Wrapf(err, "shape segment %q", p)
		}
		shape[i] = int32(n)
	}
	return shape, nil
}

type batchPublisher struct {
	ctx    context.Context
	runID  string
	res    storage.Resource
	broker topic.Broker
	codec  chunkio.Codec
}

// HandleBatch implements capture.BatchSink: it converts the capture-side
// chunk batch to wire form, writes it through the storage resource, and
// publishes the written batch's announcement so a subscribed indexer picks
// it up.
func (p *batchPublisher) HandleBatch(chunks []*capture.TickDataChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	firstTick := chunks[0].FirstTick
	lastTick := chunks[len(chunks)-1].LastTick

	ch := make(chan *wire.TickDataChunk, len(chunks))
	for _, c := range chunks {
		ch <- chunkio.ToWireChunk(p.runID, c)
	}
	close(ch)

	result, err := p.res.WriteChunkBatchStreaming(p.ctx, p.runID, firstTick, lastTick, p.codec, ch)
	if err != nil {
		return errors.Wrapf(err, "writing batch for run %s ticks [%d,%d]", p.runID, firstTick, lastTick)
	}
	return p.broker.Publish(p.ctx, p.runID, wire.BatchInfo{
		SimulationRunID: p.runID,
		StoragePath:     result.Path,
		TickStart:       firstTick,
		TickEnd:         lastTick,
		WrittenAtMs:     time.Now().UnixMilli(),
	})
}

func run(cfg config.Config, runID string, shape []int32, topology environment.Topology, ticks int64, numOrganisms int,
	snapshotInterval, chunkInterval int64, batchSize int, useZstd bool) error {
	ctx := context.Background()

	env, err := environment.New(shape, topology)
	if err != nil {
		return errors.Wrap(err, "building environment")
	}

	live, err := seedOrganisms(env, numOrganisms)
	if err != nil {
		return errors.Wrap(err, "seeding organisms")
	}

	res := storage.NewFSBackend(cfg.StorageRoot)
	broker := topic.NewMemory(cfg.Topic.ClaimTimeout)
	defer broker.Close()

	codec := chunkio.CodecNone
	if useZstd {
		codec = chunkio.CodecZstd
	}
	sink := &batchPublisher{ctx: ctx, runID: runID, res: res, broker: broker, codec: codec}
	capturer := capture.New(snapshotInterval, chunkInterval, batchSize, sink)

	meta := storage.RunMetadata{
		RunID:           runID,
		Shape:           shape,
		SnapshotInterval: snapshotInterval,
		ChunkInterval:    chunkInterval,
		BatchSize:        int32(batchSize),
		CreatedAtUnixMs:  time.Now().UnixMilli(),
		EngineVersion:    "evochora-sim/dev",
	}
	if topology == environment.Toroidal {
		meta.Topology = storage.TopologyToroidal
	}
	if err := storage.WriteRunMetadata(ctx, res, meta); err != nil {
		return errors.Wrap(err, "writing run metadata")
	}

	pool, err := sched.NewPool(runtime.NumCPU())
	if err != nil {
		return errors.Wrap(err, "building worker pool")
	}

	nextID := uint16(len(live))
	scheduler, err := sched.NewScheduler(pool, env, isa.DefaultThermoPolicy, nextID, sched.WithObserver(capturer))
	if err != nil {
		return errors.Wrap(err, "building scheduler")
	}

	for t := int64(0); t < ticks; t++ {
		live, err = scheduler.Tick(live)
		if err != nil {
			return errors.Wrapf(err, "tick %d", t)
		}
	}
	if err := capturer.Flush(); err != nil {
		return errors.Wrap(err, "final flush")
	}

	fmt.Fprintf(os.Stdout, "run %s: %d ticks, %d organisms remaining\n", runID, ticks, len(live))
	return nil
}

func seedOrganisms(env *environment.Environment, n int) ([]*organism.Organism, error) {
	dim := len(env.Shape())
	dv := make(environment.Coord, dim)
	dv[0] = 1

	out := make([]*organism.Organism, 0, n)
	for i := 0; i < n; i++ {
		pos := make(environment.Coord, dim)
		for d := range pos {
			pos[d] = int32(i) % env.Shape()[d]
		}
		o, err := organism.Create(uint16(i), 0, 0, "seed", pos, dv, 1000, 1000)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}
