// Package indexer implements the long-running consumer service that
// streams chunks out of storage as batch messages arrive on the topic,
// buffers them across batches, flushes to a query store with idempotent
// merge semantics, and acknowledges only the batch messages a flush fully
// drained.
//
// Two indexer flavors share this one pipeline: an organism indexer (reads
// with wire.Filter{SkipCells: true}) and an environment indexer (reads
// with wire.Filter{SkipOrganisms: true}); which rows a Service writes
// depends only on which half of each decoded chunk is non-empty.
package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	cuckoo "github.com/seiflotfy/cuckoofilter"
	"go.uber.org/atomic"

	"github.com/evochora/evochora-sub010/querystore"
	"github.com/evochora/evochora-sub010/storage"
	"github.com/evochora/evochora-sub010/topic"
	"github.com/evochora/evochora-sub010/wire"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// State is one point in the indexer's {stopped -> starting -> running ->
// stopping -> stopped | error} state machine.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrMetadataTimeout is returned when a run's metadata never becomes
// available within MetadataMaxPollDuration.
var ErrMetadataTimeout = errors.New("indexer: metadata not available before max poll duration")

// Config bundles everything one Service instance needs. A Service binds
// to exactly one run id, mirroring topic.Broker.Subscribe's per-run
// contract; a supervisor wanting to index many runs runs one Service per
// run id.
type Config struct {
	RunID         string
	ConsumerGroup string

	Storage  storage.Resource
	Broker   topic.Broker
	Store    *querystore.Store
	Metadata func(ctx context.Context) (storage.RunMetadata, bool, error)

	Filter wire.Filter

	InsertBatchSize int
	FlushTimeout    time.Duration

	TopicPollTimeout time.Duration

	MetadataPollInterval   time.Duration
	MetadataMaxPollDuration time.Duration

	WriteMaxRetries   int
	WriteRetryBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.InsertBatchSize <= 0 {
		c.InsertBatchSize = 100
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 5 * time.Second
	}
	if c.TopicPollTimeout <= 0 {
		c.TopicPollTimeout = 2 * time.Second
	}
	if c.MetadataPollInterval <= 0 {
		c.MetadataPollInterval = 500 * time.Millisecond
	}
	if c.MetadataMaxPollDuration <= 0 {
		c.MetadataMaxPollDuration = 30 * time.Second
	}
	if c.WriteMaxRetries <= 0 {
		c.WriteMaxRetries = 5
	}
	if c.WriteRetryBackoff <= 0 {
		c.WriteRetryBackoff = 200 * time.Millisecond
	}
	return c
}

// Service is one running indexer pipeline.
type Service struct {
	cfg     Config
	state   atomic.Int32
	metrics *Metrics
	buffer  *ChunkBuffer
	dedup   *cuckoo.Filter

	shape []int32

	reader topic.Reader

	stopCh chan struct{}
	done   chan struct{}
}

// NewService builds a Service; call Run to start its pipeline loop.
func NewService(cfg Config) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:     cfg,
		metrics: NewMetrics(),
		buffer:  NewChunkBuffer(cfg.InsertBatchSize),
		dedup:   cuckoo.NewFilter(1_000_000),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Metrics returns the service's metrics, for wiring into a HealthServer.
func (s *Service) Metrics() *Metrics { return s.metrics }

func (s *Service) State() State { return State(s.state.Load()) }

func (s *Service) setState(st State) {
	s.state.Store(int32(st))
	s.metrics.SetHealthy(st == StateRunning)
}

// Stop requests a graceful shutdown: the current tick's worth of work
// (the in-flight receive/flush) finishes, any fully-drained batch still
// gets acknowledged, and Run then returns. Stop does not block; wait on
// Run's return (or select on Done()) to know shutdown finished.
func (s *Service) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

// Done is closed once Run has returned.
func (s *Service) Done() <-chan struct{} { return s.done }

// Run executes the metadata-gating wait, subscribes to the run's topic,
// and then loops Receive -> Stream-buffer -> Buffer discipline ->
// Acknowledge -> Metrics until Stop is called, ctx is canceled, or a
// downstream failure repeats past WriteMaxRetries.
func (s *Service) Run(ctx context.Context) error {
	defer close(s.done)
	s.setState(StateStarting)

	meta, err := s.awaitMetadata(ctx)
	if err != nil {
		s.setState(StateError)
		return err
	}
	s.shape = meta.Shape

	reader, err := s.cfg.Broker.Subscribe(ctx, s.cfg.RunID, s.cfg.ConsumerGroup)
	if err != nil {
		s.setState(StateError)
		return errors.Wrapf(err, "indexer: subscribe run=%s group=%s", s.cfg.RunID, s.cfg.ConsumerGroup)
	}
	s.reader = reader
	defer reader.Close()

	s.setState(StateRunning)
	for {
		select {
		case <-s.stopCh:
			s.setState(StateStopping)
			if err := s.flushAndAckReady(ctx); err != nil {
				glog.Errorf("indexer: final flush for run %s failed: %v", s.cfg.RunID, err)
			}
			s.setState(StateStopped)
			return nil
		case <-ctx.Done():
			s.setState(StateStopped)
			return ctx.Err()
		default:
		}

		if err := s.iterate(ctx); err != nil {
			s.setState(StateError)
			return err
		}
	}
}

// awaitMetadata polls Metadata every MetadataPollInterval until it
// resolves or MetadataMaxPollDuration elapses.
func (s *Service) awaitMetadata(ctx context.Context) (storage.RunMetadata, error) {
	deadline := time.Now().Add(s.cfg.MetadataMaxPollDuration)
	for {
		meta, ok, err := s.cfg.Metadata(ctx)
		if err != nil {
			return storage.RunMetadata{}, errors.Wrapf(err, "indexer: poll metadata for run %s", s.cfg.RunID)
		}
		if ok {
			return meta, nil
		}
		if time.Now().After(deadline) {
			return storage.RunMetadata{}, errors.Wrapf(ErrMetadataTimeout, "run %s", s.cfg.RunID)
		}
		select {
		case <-ctx.Done():
			return storage.RunMetadata{}, ctx.Err()
		case <-time.After(s.cfg.MetadataPollInterval):
		}
	}
}

// iterate runs one Receive -> Stream-buffer -> Buffer discipline ->
// Acknowledge -> Metrics pass. Read/decode failures log and return nil
// (leaving the message un-acked for the topic to redelivered); only a
// downstream write failure that exhausts its retries is fatal.
func (s *Service) iterate(ctx context.Context) error {
	info, token, ok, err := s.reader.Receive(ctx, s.cfg.TopicPollTimeout)
	if err != nil {
		glog.Warningf("indexer: receive for run %s: %v", s.cfg.RunID, err)
		return nil
	}
	if ok {
		tracker := s.buffer.TrackBatch(token, info)
		total := 0
		err := s.cfg.Storage.ForEachChunk(ctx, info.StoragePath, s.cfg.Filter, func(c wire.TickDataChunk) error {
			s.buffer.Add(tracker, c)
			total++
			return nil
		})
		if err != nil {
			glog.Warningf("indexer: stream-buffer %s: %v (message left un-acked)", info.StoragePath, err)
		} else {
			s.buffer.Seal(tracker, total)
		}
	}

	if s.buffer.ShouldFlush(s.cfg.FlushTimeout) {
		return s.flush(ctx)
	}
	return nil
}

// flushAndAckReady drains every pending chunk regardless of the flush
// triggers, for use during Stop(): finish current flush, don't hold work
// hostage to a timer that will never fire again once the loop exits.
func (s *Service) flushAndAckReady(ctx context.Context) error {
	for {
		result := s.buffer.Flush()
		if len(result.Chunks) == 0 {
			return nil
		}
		if err := s.writeAndAck(ctx, result); err != nil {
			return err
		}
	}
}

func (s *Service) flush(ctx context.Context) error {
	result := s.buffer.Flush()
	return s.writeAndAck(ctx, result)
}

func (s *Service) writeAndAck(ctx context.Context, result FlushResult) error {
	if err := s.writeChunksWithRetry(ctx, result.Chunks); err != nil {
		return errors.Wrapf(err, "indexer: write flushed chunks for run %s", s.cfg.RunID)
	}
	for _, cb := range result.Completed {
		if err := s.reader.Ack(ctx, cb.Token); err != nil {
			glog.Warningf("indexer: ack batch %s: %v", cb.Info.StoragePath, err)
			continue
		}
		s.metrics.IncBatchesProcessed()
	}
	return nil
}

// writeChunksWithRetry writes every flushed chunk's rows into the query
// store, retrying the whole batch with backoff on failure. Repeated
// failure past WriteMaxRetries is fatal (the service transitions to
// error); a transient failure that eventually succeeds is invisible to
// the caller.
func (s *Service) writeChunksWithRetry(ctx context.Context, chunks []wire.TickDataChunk) error {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.WriteMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.WriteRetryBackoff * time.Duration(attempt)):
			}
		}
		if lastErr = s.writeChunks(ctx, chunks); lastErr == nil {
			return nil
		}
		glog.Warningf("indexer: write attempt %d for run %s failed: %v", attempt, s.cfg.RunID, lastErr)
	}
	return lastErr
}

func (s *Service) writeChunks(ctx context.Context, chunks []wire.TickDataChunk) error {
	ticksWritten := 0
	for _, c := range chunks {
		if c.Snapshot != nil {
			n, err := s.writeTick(ctx, *c.Snapshot)
			if err != nil {
				return err
			}
			ticksWritten += n
		}
		for _, d := range c.Deltas {
			n, err := s.writeDeltaTick(ctx, d)
			if err != nil {
				return err
			}
			ticksWritten += n
		}
	}
	s.metrics.AddTicksProcessed(ticksWritten)
	return nil
}

// tickRow is the JSON shape written into the query store; an environment
// indexer populates Cells, an organism indexer populates Organisms, and a
// replayed chunk read with wire.AllFields could in principle populate
// both.
type tickRow struct {
	RunID     string        `json:"run_id"`
	Tick      int64         `json:"tick"`
	Cells     []CellRow     `json:"cells,omitempty"`
	Organisms []OrganismRow `json:"organisms,omitempty"`
}

func (s *Service) writeTick(ctx context.Context, t wire.TickData) (int, error) {
	row := tickRow{
		RunID:     s.cfg.RunID,
		Tick:      t.TickNumber,
		Cells:     DecodeCellColumns(s.shape, t.TickNumber, t.CellColumns),
		Organisms: DecodeOrganisms(t.TickNumber, t.Organisms),
	}
	return s.mergeTickRow(ctx, t.TickNumber, row)
}

func (s *Service) writeDeltaTick(ctx context.Context, d wire.TickDelta) (int, error) {
	row := tickRow{
		RunID:     s.cfg.RunID,
		Tick:      d.TickNumber,
		Cells:     DecodeCellColumns(s.shape, d.TickNumber, d.ChangedCells),
		Organisms: DecodeOrganisms(d.TickNumber, d.Organisms),
	}
	return s.mergeTickRow(ctx, d.TickNumber, row)
}

func (s *Service) mergeTickRow(ctx context.Context, tick int64, row tickRow) (int, error) {
	payload, err := json.Marshal(row)
	if err != nil {
		return 0, errors.Wrapf(err, "indexer: encode tick %d row", tick)
	}
	if err := s.cfg.Store.MergeTick(ctx, s.cfg.RunID, tick, payload); err != nil {
		return 0, err
	}
	// InsertUnique only gates the ticks_processed counter, never the merge
	// above: a cuckoo filter's false positives must never suppress a real
	// write, only an extra increment of a counter redelivery would
	// otherwise double-count.
	key := []byte(fmt.Sprintf("%s:%d", s.cfg.RunID, tick))
	if s.dedup.InsertUnique(key) {
		return 1, nil
	}
	return 0, nil
}
