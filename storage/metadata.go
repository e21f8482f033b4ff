package storage

import (
	"context"

	"github.com/pkg/errors"
	"github.com/tinylib/msgp/msgp"

	"github.com/evochora/evochora-sub010/chunkio"
)

// Topology mirrors environment.Topology's two values, duplicated here
// rather than imported so the storage package never depends on the
// simulation-facing environment package for a single byte of metadata.
type Topology uint8

const (
	TopologyBounded Topology = iota
	TopologyToroidal
)

// RunMetadata is the resolved run configuration sidecar the indexer polls
// for on startup before it can decode anything: the world shape it needs to
// decode a flat cell index into coordinates, plus the capture cadence the
// run was started with. msgp-encoded rather than via the wire package's
// TickDataChunk format, since it is small, polled on its own schedule, and
// never needs to share a frame stream with batch data.
type RunMetadata struct {
	RunID             string
	Shape             []int32
	Topology          Topology
	SnapshotInterval  int64
	ChunkInterval     int64
	BatchSize         int32
	CreatedAtUnixMs   int64
	EngineVersion     string
}

// MarshalMsg appends the msgp encoding of m to b, following the same
// array-of-fields shape msgp's code generator produces for a struct: an
// array header sized to the field count, then each field written in
// declaration order. Hand-written because this module never invokes the
// msgp code generator; no generated _gen.go backs this type.
func (m RunMetadata) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, 8)
	b = msgp.AppendString(b, m.RunID)
	b = msgp.AppendArrayHeader(b, uint32(len(m.Shape)))
	for _, dim := range m.Shape {
		b = msgp.AppendInt32(b, dim)
	}
	b = msgp.AppendUint8(b, uint8(m.Topology))
	b = msgp.AppendInt64(b, m.SnapshotInterval)
	b = msgp.AppendInt64(b, m.ChunkInterval)
	b = msgp.AppendInt32(b, m.BatchSize)
	b = msgp.AppendInt64(b, m.CreatedAtUnixMs)
	b = msgp.AppendString(b, m.EngineVersion)
	return b, nil
}

// UnmarshalMsg decodes a RunMetadata produced by MarshalMsg, returning the
// unconsumed remainder of b.
func (m *RunMetadata) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return b, errors.Wrap(err, "storage: read RunMetadata array header")
	}
	if n != 8 {
		return b, errors.Errorf("storage: RunMetadata array has %d fields, want 8", n)
	}
	if m.RunID, b, err = msgp.ReadStringBytes(b); err != nil {
		return b, errors.Wrap(err, "storage: read RunID")
	}
	shapeLen, b2, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return b, errors.Wrap(err, "storage: read Shape array header")
	}
	b = b2
	m.Shape = make([]int32, shapeLen)
	for i := range m.Shape {
		var dim int32
		if dim, b, err = msgp.ReadInt32Bytes(b); err != nil {
			return b, errors.Wrapf(err, "storage: read Shape[%d]", i)
		}
		m.Shape[i] = dim
	}
	topo, b3, err := msgp.ReadUint8Bytes(b)
	if err != nil {
		return b, errors.Wrap(err, "storage: read Topology")
	}
	m.Topology = Topology(topo)
	b = b3
	if m.SnapshotInterval, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return b, errors.Wrap(err, "storage: read SnapshotInterval")
	}
	if m.ChunkInterval, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return b, errors.Wrap(err, "storage: read ChunkInterval")
	}
	if m.BatchSize, b, err = msgp.ReadInt32Bytes(b); err != nil {
		return b, errors.Wrap(err, "storage: read BatchSize")
	}
	if m.CreatedAtUnixMs, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return b, errors.Wrap(err, "storage: read CreatedAtUnixMs")
	}
	if m.EngineVersion, b, err = msgp.ReadStringBytes(b); err != nil {
		return b, errors.Wrap(err, "storage: read EngineVersion")
	}
	return b, nil
}

// WriteRunMetadata msgp-encodes meta and writes it through res at its
// canonical key, uncompressed.
func WriteRunMetadata(ctx context.Context, res Resource, meta RunMetadata) error {
	b, err := meta.MarshalMsg(nil)
	if err != nil {
		return err
	}
	return res.WriteMessage(ctx, MetadataKey(meta.RunID, chunkio.CodecNone), b)
}

// ReadRunMetadata reads and decodes the metadata sidecar for runID.
func ReadRunMetadata(ctx context.Context, res Resource, runID string) (RunMetadata, error) {
	var meta RunMetadata
	var decodeErr error
	err := res.ReadMessage(ctx, MetadataKey(runID, chunkio.CodecNone), func(b []byte) error {
		_, decodeErr = meta.UnmarshalMsg(b)
		return decodeErr
	})
	if err != nil {
		return RunMetadata{}, err
	}
	return meta, decodeErr
}
