package chunkio

import (
	"path/filepath"
	"testing"

	"github.com/evochora/evochora-sub010/capture"
	"github.com/evochora/evochora-sub010/environment"
	"github.com/evochora/evochora-sub010/molecule"
	"github.com/evochora/evochora-sub010/wire"
)

func TestSinkHandleBatchWritesAndRoundTrips(t *testing.T) {
	dir := t.TempDir()
	sink := &Sink{
		RunID: "run-7",
		Codec: CodecNone,
		PathFor: func(runID string, first, last int64, codec Codec) string {
			return filepath.Join(dir, runID+"_"+ChunkFileName(first, last, codec))
		},
	}

	batch := []*capture.TickDataChunk{
		{
			FirstTick: 0,
			LastTick:  1,
			TickCount: 2,
			Snapshot: &capture.TickData{
				Tick: 0,
				Cells: []capture.CellRecord{
					{FlatIndex: 3, Molecule: molecule.Encode(molecule.Data, 9, 1)},
				},
				Organisms: []capture.OrganismSnapshot{
					{ID: 1, IP: environment.Coord{0, 0}, DV: environment.Coord{1, 0}},
				},
			},
			Deltas: []*capture.TickDelta{
				{Tick: 1},
			},
		},
	}

	if err := sink.HandleBatch(batch); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "run-7_"+ChunkFileName(0, 1, CodecNone))
	chunks, err := ReadAllChunks(path, wire.AllFields)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("len(chunks) = %d, want 1", len(chunks))
	}
	got := chunks[0]
	if got.SimulationRunID != "run-7" || got.FirstTick != 0 || got.LastTick != 1 {
		t.Fatalf("unexpected chunk header: %+v", got)
	}
	if got.Snapshot == nil || len(got.Snapshot.Organisms) != 1 || got.Snapshot.Organisms[0].ID != 1 {
		t.Fatalf("unexpected snapshot organisms: %+v", got.Snapshot)
	}
	if len(got.Snapshot.CellColumns.FlatIndices) != 1 || got.Snapshot.CellColumns.FlatIndices[0] != 3 {
		t.Fatalf("unexpected snapshot cell columns: %+v", got.Snapshot.CellColumns)
	}
	if len(got.Deltas) != 1 || got.Deltas[0].TickNumber != 1 {
		t.Fatalf("unexpected deltas: %+v", got.Deltas)
	}
}

func TestSinkHandleBatchEmptyIsNoop(t *testing.T) {
	sink := &Sink{RunID: "run-1", Codec: CodecNone, PathFor: func(string, int64, int64, Codec) string {
		t.Fatal("PathFor should not be called for an empty batch")
		return ""
	}}
	if err := sink.HandleBatch(nil); err != nil {
		t.Fatal(err)
	}
}
