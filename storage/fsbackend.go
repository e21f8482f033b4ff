package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"

	"github.com/evochora/evochora-sub010/chunkio"
	"github.com/evochora/evochora-sub010/wire"
)

// FSBackend is the filesystem Resource implementation following the
// storage layout: "<root>/<runID>/raw/<ggg>/<hhh>/batch_<first19>_<last19>.pb[.zst]"
// and "<root>/<runID>/raw/metadata.pb[.zst]". ggg/hhh shard batch files by
// the first 3 and next 3 digits of the zero-padded first_tick (the layout
// only names the two path segments; this keeps any one directory's
// fan-out bounded to 1000 entries per level regardless of run length).
// Superseded files move to a parallel "<root>/.superseded/<runID>/raw/..."
// tree, mirroring the original relative layout, rather than being deleted,
// per the never-delete rule for superseded batch files.
//
// Grounded on the stage-to-temp-then-rename discipline xs/brename.go uses
// for AIStore's own directory/object renames (chunkio.WriteBatchStreaming
// already applies the same discipline per batch file; FSBackend reuses it
// for write_message too), and on godirwalk's callback-based directory walk
// for listing, chosen for fast recursive traversal without the overhead of
// filepath.Walk's full os.FileInfo materialization per entry.
type FSBackend struct {
	Root string
}

func NewFSBackend(root string) *FSBackend {
	return &FSBackend{Root: root}
}

func (b *FSBackend) rawDir(runID string) string {
	return filepath.Join(b.Root, runID, "raw")
}

// shardDir returns the <ggg>/<hhh> subdirectory a batch starting at
// firstTick belongs in.
func shardDir(firstTick int64) (ggg, hhh string) {
	padded := padTick19(firstTick)
	return padded[:3], padded[3:6]
}

func padTick19(tick int64) string {
	s := strconv.FormatInt(tick, 10)
	if len(s) >= 19 {
		return s
	}
	return strings.Repeat("0", 19-len(s)) + s
}

func (b *FSBackend) metadataPath(runID string, codec chunkio.Codec) string {
	return filepath.Join(b.Root, MetadataKey(runID, codec))
}

func (b *FSBackend) WriteChunkBatchStreaming(ctx context.Context, runID string, firstTick, lastTick int64, codec chunkio.Codec, chunks <-chan *wire.TickDataChunk) (WriteResult, error) {
	if err := ValidateKey(runID); err != nil {
		return WriteResult{}, err
	}
	ggg, hhh := shardDir(firstTick)
	dir := filepath.Join(b.rawDir(runID), ggg, hhh)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return WriteResult{}, errors.Wrapf(err, "storage: create batch directory %s", dir)
	}
	path := filepath.Join(dir, chunkio.ChunkFileName(firstTick, lastTick, codec))
	return chunkio.WriteBatchStreaming(path, codec, chunks, uuid.NewString())
}

func (b *FSBackend) WriteMessage(ctx context.Context, key string, payload []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	path := filepath.Join(b.Root, key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "storage: create directory %s", dir)
	}
	tmpPath := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmpPath, payload, 0o644); err != nil {
		return errors.Wrapf(err, "storage: write temp file %s", tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, "storage: rename %s to %s", tmpPath, path)
	}
	return nil
}

func (b *FSBackend) ReadMessage(ctx context.Context, key string, parse func([]byte) error) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	path := filepath.Join(b.Root, key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(ErrNotFound, "storage: %s", key)
		}
		return errors.Wrapf(err, "storage: read %s", path)
	}
	return parse(data)
}

func (b *FSBackend) ForEachRawChunk(ctx context.Context, path string, consumer func(chunkio.RawChunk) error) error {
	return chunkio.ForEachRawChunk(path, consumer)
}

func (b *FSBackend) ForEachChunk(ctx context.Context, path string, filter wire.Filter, consumer func(wire.TickDataChunk) error) error {
	return chunkio.ForEachChunk(path, filter, consumer)
}

// ListBatchFiles walks Prefix (relative to Root) and returns every batch
// file whose tick range, if a range filter is set, overlaps
// [StartTick, EndTick]. Results are paginated by MaxResults; NextToken is
// simply the last path returned, reused as an exclusive cursor on the next
// call. ".tmp" staging files are never listed.
func (b *FSBackend) ListBatchFiles(ctx context.Context, q ListBatchFilesQuery) (ListBatchFilesResult, error) {
	root := filepath.Join(b.Root, q.Prefix)
	var matches []string
	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				if de.Name() == ".superseded" {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasSuffix(path, ".tmp") {
				return nil
			}
			first, last, ok := ParseBatchFileName(path)
			if !ok {
				return nil
			}
			if q.HasTickRange && (last < q.StartTick || first > q.EndTick) {
				return nil
			}
			rel, err := filepath.Rel(b.Root, path)
			if err != nil {
				return err
			}
			matches = append(matches, rel)
			return nil
		},
		ErrorCallback: func(_ string, err error) godirwalk.ErrorAction {
			if os.IsNotExist(err) {
				return godirwalk.SkipNode
			}
			return godirwalk.Halt
		},
	})
	if err != nil && !os.IsNotExist(err) {
		return ListBatchFilesResult{}, errors.Wrapf(err, "storage: walk %s", root)
	}

	if q.Sort == SortDescending {
		sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	} else {
		sort.Strings(matches)
	}

	start := 0
	if q.ContinuationToken != "" {
		for i, m := range matches {
			if m == q.ContinuationToken {
				start = i + 1
				break
			}
		}
	}
	if start > len(matches) {
		start = len(matches)
	}
	page := matches[start:]
	next := ""
	if q.MaxResults > 0 && len(page) > q.MaxResults {
		page = page[:q.MaxResults]
		next = page[len(page)-1]
	}
	return ListBatchFilesResult{Paths: page, NextToken: next}, nil
}

// FindMetadataPath reports whether runID has a metadata sidecar, trying
// both codec extensions since the writer's codec isn't known in advance.
func (b *FSBackend) FindMetadataPath(ctx context.Context, runID string) (string, bool, error) {
	if err := ValidateKey(runID); err != nil {
		return "", false, err
	}
	for _, codec := range []chunkio.Codec{chunkio.CodecNone, chunkio.CodecZstd} {
		path := b.metadataPath(runID, codec)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", false, errors.Wrapf(err, "storage: stat %s", path)
		}
		rel, err := filepath.Rel(b.Root, path)
		if err != nil {
			return "", false, err
		}
		return rel, true, nil
	}
	return "", false, nil
}

// FindLastBatchFile returns the highest-tick batch file under
// "<root>/<runIDPrefix>" without materializing the full listing: since
// ChunkFileName's 19-digit zero-padded ticks make lexicographic and tick
// order coincide, a reverse directory scan that stops at the first match
// finds the answer in one pass. The two-level <ggg>/<hhh> shard layout means
// this backtracks out of any subdirectory that turns out empty and tries the
// next one down without ever listing every leaf directory.
func (b *FSBackend) FindLastBatchFile(ctx context.Context, runIDPrefix string) (string, bool, error) {
	dir := filepath.Join(b.Root, runIDPrefix)
	path, ok, err := reverseFindBatchFile(dir)
	if err != nil || !ok {
		return "", ok, err
	}
	rel, err := filepath.Rel(b.Root, path)
	if err != nil {
		return "", false, err
	}
	return rel, true, nil
}

func reverseFindBatchFile(dir string) (string, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, errors.Wrapf(err, "storage: read directory %s", dir)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() > entries[j].Name() })
	for _, e := range entries {
		full := filepath.Join(dir, e.Name())
		if e.IsDir() {
			if e.Name() == ".superseded" {
				continue
			}
			path, ok, err := reverseFindBatchFile(full)
			if err != nil {
				return "", false, err
			}
			if ok {
				return path, true, nil
			}
			continue // backtrack out of this empty/non-matching subdirectory
		}
		if strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		if _, _, ok := ParseBatchFileName(e.Name()); ok {
			return full, true, nil
		}
	}
	return "", false, nil
}

// ListRunIDs lists every run directory under Root whose own modification
// time is after afterUnixMs. Only the run directory's mtime is checked; it
// changes when an entry directly inside it is added, removed or renamed,
// not when a batch or metadata file deeper in the tree is written.
func (b *FSBackend) ListRunIDs(ctx context.Context, afterUnixMs int64) ([]string, error) {
	entries, err := os.ReadDir(b.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "storage: read directory %s", b.Root)
	}
	cutoff := time.UnixMilli(afterUnixMs)
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			glog.Warningf("storage: stat run directory %s: %v", e.Name(), err)
			continue
		}
		if info.ModTime().After(cutoff) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// MoveToSuperseded relocates the batch file at path (relative to Root) into
// the parallel ".superseded" tree, preserving its run-relative layout, and
// never deletes the original bytes.
func (b *FSBackend) MoveToSuperseded(ctx context.Context, path string) error {
	if err := ValidateKey(path); err != nil {
		return err
	}
	src := filepath.Join(b.Root, path)
	dstDir := filepath.Join(b.Root, ".superseded", filepath.Dir(path))
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return errors.Wrapf(err, "storage: create superseded directory %s", dstDir)
	}
	dst := filepath.Join(dstDir, filepath.Base(path))
	if err := os.Rename(src, dst); err != nil {
		if isCrossDeviceRename(err) {
			return copyThenRemove(src, dst)
		}
		return errors.Wrapf(err, "storage: move %s to superseded", src)
	}
	return nil
}

func isCrossDeviceRename(err error) bool {
	return strings.Contains(err.Error(), "cross-device link")
}

func copyThenRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "storage: open %s", src)
	}
	defer in.Close()
	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "storage: create %s", tmp)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "storage: copy %s to %s", src, tmp)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "storage: close %s", tmp)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "storage: rename %s to %s", tmp, dst)
	}
	return os.Remove(src)
}

var _ Resource = (*FSBackend)(nil)
