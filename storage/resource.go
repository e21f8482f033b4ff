// Package storage implements the storage resource abstraction: one
// interface, multiple backends (filesystem, S3, GCS, Azure Blob, HDFS), all
// built on top of chunkio's batch codec and wire's message types. A backend
// owns nothing about chunk/message shape — it owns where bytes live and how
// they are listed, deduplicated, and superseded.
//
// Grounded on AIStore's provider-scheme convention (cmn.Bck's
// Provider/Ns pair naming "ais"/"aws"/"gcp"/"azure"/"hdfs" backends behind one
// bucket abstraction, SK-Kadam-aistore/cmn/bucket.go) generalized here to one
// Resource interface per provider instead of one struct carrying all of them.
package storage

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/evochora/evochora-sub010/chunkio"
	"github.com/evochora/evochora-sub010/wire"
)

// SortOrder controls list_batch_files's traversal direction.
type SortOrder int

const (
	SortAscending SortOrder = iota
	SortDescending
)

// ListBatchFilesQuery is the single list primitive's argument bundle. The
// object-store and HDFS backends build FindLastBatchFile on ListBatchFiles;
// FSBackend's FindLastBatchFile, and every backend's FindMetadataPath and
// ListRunIDs, do not use it.
type ListBatchFilesQuery struct {
	Prefix            string
	ContinuationToken string
	MaxResults        int
	StartTick         int64
	EndTick           int64
	HasTickRange      bool
	Sort              SortOrder
}

// ListBatchFilesResult is one page of list_batch_files.
type ListBatchFilesResult struct {
	Paths     []string
	NextToken string
}

// WriteResult mirrors chunkio.WriteResult; kept as its own type so callers
// of this package never need to import chunkio directly for the return
// value of WriteChunkBatchStreaming.
type WriteResult = chunkio.WriteResult

// Resource is the storage abstraction every backend implements. Every read
// method must be safe for arbitrary concurrent callers with no coordination;
// writes are safe for distinct keys and serialized only by the backend's own
// same-key semantics.
type Resource interface {
	// WriteChunkBatchStreaming writes chunks into a new batch file at a
	// path the backend derives from runID/firstTick/lastTick/codec, so that
	// a reader never sees a partial file: FSBackend and HDFSBackend stage
	// to a temp name and rename it into place; the object-store backends
	// buffer the batch and upload it in one call.
	WriteChunkBatchStreaming(ctx context.Context, runID string, firstTick, lastTick int64, codec chunkio.Codec, chunks <-chan *wire.TickDataChunk) (WriteResult, error)

	// WriteMessage writes an arbitrary byte payload at key, atomically.
	WriteMessage(ctx context.Context, key string, payload []byte) error

	// ReadMessage reads the payload at key and hands it to parse.
	ReadMessage(ctx context.Context, key string, parse func([]byte) error) error

	// ForEachRawChunk streams a batch file's chunks without fully decoding
	// them, as chunkio.ForEachRawChunk does for a filesystem path.
	ForEachRawChunk(ctx context.Context, path string, consumer func(chunkio.RawChunk) error) error

	// ForEachChunk streams and fully decodes a batch file's chunks, honoring
	// filter.
	ForEachChunk(ctx context.Context, path string, filter wire.Filter, consumer func(wire.TickDataChunk) error) error

	// ListBatchFiles is the single listing primitive; see
	// ListBatchFilesQuery for which lookups below are built on it.
	ListBatchFiles(ctx context.Context, q ListBatchFilesQuery) (ListBatchFilesResult, error)

	// FindMetadataPath locates the run metadata sidecar for runID.
	FindMetadataPath(ctx context.Context, runID string) (string, bool, error)

	// FindLastBatchFile returns the lexicographically last (i.e.
	// highest-tick) batch file under runIDPrefix, or false if none exists.
	FindLastBatchFile(ctx context.Context, runIDPrefix string) (string, bool, error)

	// ListRunIDs lists every run id with activity after afterUnixMs.
	ListRunIDs(ctx context.Context, afterUnixMs int64) ([]string, error)

	// MoveToSuperseded relocates path out of the active namespace; it never
	// deletes data.
	MoveToSuperseded(ctx context.Context, path string) error
}

// ErrNotFound is returned by read primitives when key/path does not exist.
var ErrNotFound = errors.New("storage: not found")

// MetadataKey returns the key a run's metadata sidecar is written at,
// relative to a Resource's root: "<runId>/raw/metadata.pb[.zst]". The
// payload bytes are msgp-encoded (RunMetadata.MarshalMsg/UnmarshalMsg)
// rather than the TickDataChunk wire format, since the sidecar is polled
// frequently by the indexer's metadata-gating loop and never needs to
// interleave with the batch-file stream; the on-disk path keeps the ".pb"
// extension the rest of the storage layout uses so the sidecar is findable
// at the documented location regardless of its internal encoding. Every
// backend derives its own storage key/path the same way, so callers of
// WriteMessage/ReadMessage can compute it without reaching into backend
// internals.
func MetadataKey(runID string, codec chunkio.Codec) string {
	if codec == chunkio.CodecZstd {
		return runID + "/raw/metadata.pb.zst"
	}
	return runID + "/raw/metadata.pb"
}

// DeduplicateByFirstTick applies the dedup rule: when two batch files share the
// same first_tick (the result of a crash mid-write leaving a stale file
// behind), keep only the one with the smaller last_tick. Entries are
// expected to already be parseable by ParseBatchFileName; any path that
// isn't is passed through untouched (callers doing their own filtering, or
// non-batch keys mixed into the same listing, are left alone).
func DeduplicateByFirstTick(paths []string, warn func(kept, dropped string)) []string {
	type entry struct {
		path      string
		firstTick int64
		lastTick  int64
	}
	byFirst := make(map[int64]entry)
	var unparsed []string
	order := make([]int64, 0, len(paths))
	for _, p := range paths {
		first, last, ok := ParseBatchFileName(p)
		if !ok {
			unparsed = append(unparsed, p)
			continue
		}
		existing, seen := byFirst[first]
		if !seen {
			byFirst[first] = entry{p, first, last}
			order = append(order, first)
			continue
		}
		if last < existing.lastTick {
			if warn != nil {
				warn(p, existing.path)
			}
			byFirst[first] = entry{p, first, last}
		} else if warn != nil {
			warn(existing.path, p)
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]string, 0, len(order)+len(unparsed))
	for _, first := range order {
		out = append(out, byFirst[first].path)
	}
	out = append(out, unparsed...)
	return out
}
