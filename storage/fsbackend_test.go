package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/evochora/evochora-sub010/chunkio"
	"github.com/evochora/evochora-sub010/wire"
)

func writeBatch(t *testing.T, b *FSBackend, runID string, first, last int64) {
	t.Helper()
	ch := make(chan *wire.TickDataChunk, 1)
	ch <- &wire.TickDataChunk{
		SimulationRunID: runID,
		FirstTick:       first,
		LastTick:        last,
		TickCount:       int32(last - first + 1),
		Snapshot:        &wire.TickData{TickNumber: first, SimulationRunID: runID},
	}
	close(ch)
	if _, err := b.WriteChunkBatchStreaming(context.Background(), runID, first, last, chunkio.CodecNone, ch); err != nil {
		t.Fatalf("WriteChunkBatchStreaming: %v", err)
	}
}

func TestWriteChunkBatchStreamingThenListBatchFiles(t *testing.T) {
	dir := t.TempDir()
	b := NewFSBackend(dir)
	writeBatch(t, b, "run-1", 0, 4)
	writeBatch(t, b, "run-1", 5, 9)

	result, err := b.ListBatchFiles(context.Background(), ListBatchFilesQuery{Prefix: "run-1", Sort: SortAscending})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Paths) != 2 {
		t.Fatalf("len(Paths) = %d, want 2 (%v)", len(result.Paths), result.Paths)
	}
	first, last, ok := ParseBatchFileName(result.Paths[0])
	if !ok || first != 0 || last != 4 {
		t.Fatalf("unexpected first entry: %v", result.Paths[0])
	}
}

func TestListBatchFilesDescendingFindsLastBatchFile(t *testing.T) {
	dir := t.TempDir()
	b := NewFSBackend(dir)
	writeBatch(t, b, "run-1", 0, 4)
	writeBatch(t, b, "run-1", 5, 9)
	writeBatch(t, b, "run-1", 10, 14)

	path, ok, err := b.FindLastBatchFile(context.Background(), "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a batch file to be found")
	}
	first, last, ok := ParseBatchFileName(path)
	if !ok || first != 10 || last != 14 {
		t.Fatalf("FindLastBatchFile = %q, want the batch starting at tick 10", path)
	}

	listed, err := b.ListBatchFiles(context.Background(), ListBatchFilesQuery{Prefix: "run-1", Sort: SortDescending, MaxResults: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(listed.Paths) != 1 || listed.Paths[0] != path {
		t.Fatalf("ListBatchFiles descending = %v, want [%q]", listed.Paths, path)
	}
}

func TestWriteAndReadRunMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()
	b := NewFSBackend(dir)
	meta := RunMetadata{
		RunID:            "run-1",
		Shape:            []int32{10, 10, 10},
		Topology:         TopologyBounded,
		SnapshotInterval: 100,
		ChunkInterval:    10,
		BatchSize:        5,
		CreatedAtUnixMs:  1700000000000,
		EngineVersion:    "v1",
	}
	if err := WriteRunMetadata(context.Background(), b, meta); err != nil {
		t.Fatal(err)
	}

	path, ok, err := b.FindMetadataPath(context.Background(), "run-1")
	if err != nil || !ok {
		t.Fatalf("FindMetadataPath: ok=%v err=%v", ok, err)
	}
	if filepath.Base(path) != "metadata.pb" {
		t.Fatalf("unexpected metadata path: %q", path)
	}

	got, err := ReadRunMetadata(context.Background(), b, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.RunID != meta.RunID || len(got.Shape) != 3 || got.Shape[2] != 10 || got.Topology != TopologyBounded ||
		got.SnapshotInterval != 100 || got.ChunkInterval != 10 || got.BatchSize != 5 || got.EngineVersion != "v1" {
		t.Fatalf("RunMetadata round trip mismatch: %+v", got)
	}
}

func TestMoveToSupersededNeverDeletes(t *testing.T) {
	dir := t.TempDir()
	b := NewFSBackend(dir)
	writeBatch(t, b, "run-1", 0, 4)

	result, err := b.ListBatchFiles(context.Background(), ListBatchFilesQuery{Prefix: "run-1"})
	if err != nil || len(result.Paths) != 1 {
		t.Fatalf("setup: ListBatchFiles: %v, %v", result, err)
	}
	original := result.Paths[0]

	if err := b.MoveToSuperseded(context.Background(), original); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, original)); !os.IsNotExist(err) {
		t.Fatal("expected original path to be gone after move")
	}
	supersededPath := filepath.Join(dir, ".superseded", original)
	if _, err := os.Stat(supersededPath); err != nil {
		t.Fatalf("expected superseded copy to exist at %s: %v", supersededPath, err)
	}

	// ListBatchFiles must not surface the superseded copy.
	result, err = b.ListBatchFiles(context.Background(), ListBatchFilesQuery{Prefix: ""})
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range result.Paths {
		if p == filepath.Join(".superseded", original) {
			t.Fatalf("superseded file leaked into listing: %v", result.Paths)
		}
	}
}

func TestValidateKeyRejectsTraversalAndReservedShapes(t *testing.T) {
	bad := []string{
		"../escape",
		"run/../../etc/passwd",
		"/absolute/path",
		`C:\windows\path`,
		"bad<char>.pb",
		"bad\x00null",
	}
	for _, key := range bad {
		if err := ValidateKey(key); err == nil {
			t.Errorf("ValidateKey(%q) = nil, want error", key)
		}
	}
	good := []string{"run-1/raw/metadata.pb", "run-1/raw/000/000/batch_0_9.pb"}
	for _, key := range good {
		if err := ValidateKey(key); err != nil {
			t.Errorf("ValidateKey(%q) = %v, want nil", key, err)
		}
	}
}

func TestDeduplicateByFirstTickKeepsSmallerLastTick(t *testing.T) {
	var warnings [][2]string
	paths := []string{"run-1/raw/000/000/batch_0000000000000000000_0000000000000000019.pb", "run-1/raw/000/000/batch_0000000000000000000_0000000000000000009.pb"}
	out := DeduplicateByFirstTick(paths, func(kept, dropped string) {
		warnings = append(warnings, [2]string{kept, dropped})
	})
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1: %v", len(out), out)
	}
	_, last, ok := ParseBatchFileName(out[0])
	if !ok || last != 9 {
		t.Fatalf("kept entry = %v, want the one with last_tick=9", out[0])
	}
	if len(warnings) != 1 {
		t.Fatalf("expected exactly one warn callback, got %d", len(warnings))
	}
}
