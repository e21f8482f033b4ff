package storage

import (
	"bufio"
	"context"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/colinmarc/hdfs/v2"
	"github.com/pkg/errors"

	"github.com/evochora/evochora-sub010/chunkio"
	"github.com/evochora/evochora-sub010/wire"
)

// HDFSBackend is the Resource implementation backed by an HDFS cluster.
// HDFS has no atomic put like S3/GCS, so writes go through the same
// stage-to-temp-then-rename discipline FSBackend uses, just over
// hdfs.Client's Create/Rename instead of os.OpenFile/os.Rename.
type HDFSBackend struct {
	Client *hdfs.Client
	Root   string
}

func NewHDFSBackend(client *hdfs.Client, root string) *HDFSBackend {
	return &HDFSBackend{Client: client, Root: root}
}

func (b *HDFSBackend) fullPath(key string) string {
	return path.Join(b.Root, key)
}

func (b *HDFSBackend) WriteChunkBatchStreaming(ctx context.Context, runID string, firstTick, lastTick int64, codec chunkio.Codec, chunks <-chan *wire.TickDataChunk) (WriteResult, error) {
	if err := ValidateKey(runID); err != nil {
		return WriteResult{}, err
	}
	ggg, hhh := shardDir(firstTick)
	key := strings.Join([]string{runID, "raw", ggg, hhh, chunkio.ChunkFileName(firstTick, lastTick, codec)}, "/")
	full := b.fullPath(key)
	tempPath := full + ".tmp"

	if err := b.Client.MkdirAll(path.Dir(full), 0o755); err != nil {
		return WriteResult{}, errors.Wrapf(err, "storage/hdfs: mkdir for %s", key)
	}
	w, err := b.Client.Create(tempPath)
	if err != nil {
		return WriteResult{}, errors.Wrapf(err, "storage/hdfs: create %s", tempPath)
	}

	out, closeOut, err := wrapCompressedWriter(w, codec)
	if err != nil {
		w.Close()
		b.Client.Remove(tempPath)
		return WriteResult{}, err
	}
	count := 0
	bytesWritten := int64(0)
	counting := &countingWriter{w: out}
	for chunk := range chunks {
		if err := wire.WriteFrame(counting, chunk.Marshal()); err != nil {
			closeOut()
			w.Close()
			b.Client.Remove(tempPath)
			return WriteResult{}, errors.Wrap(err, "storage/hdfs: write chunk frame")
		}
		count++
	}
	bytesWritten = counting.n
	if err := closeOut(); err != nil {
		w.Close()
		b.Client.Remove(tempPath)
		return WriteResult{}, err
	}
	if err := w.Close(); err != nil {
		b.Client.Remove(tempPath)
		return WriteResult{}, errors.Wrapf(err, "storage/hdfs: finalize %s", tempPath)
	}
	if err := b.Client.Rename(tempPath, full); err != nil {
		b.Client.Remove(tempPath)
		return WriteResult{}, errors.Wrapf(err, "storage/hdfs: rename %s to %s", tempPath, full)
	}
	return WriteResult{Path: key, ChunkCount: count, BytesWritten: bytesWritten}, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (b *HDFSBackend) WriteMessage(ctx context.Context, key string, payload []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	full := b.fullPath(key)
	tempPath := full + ".tmp"
	if err := b.Client.MkdirAll(path.Dir(full), 0o755); err != nil {
		return errors.Wrapf(err, "storage/hdfs: mkdir for %s", key)
	}
	w, err := b.Client.Create(tempPath)
	if err != nil {
		return errors.Wrapf(err, "storage/hdfs: create %s", tempPath)
	}
	if _, err := w.Write(payload); err != nil {
		w.Close()
		b.Client.Remove(tempPath)
		return errors.Wrapf(err, "storage/hdfs: write %s", tempPath)
	}
	if err := w.Close(); err != nil {
		b.Client.Remove(tempPath)
		return errors.Wrapf(err, "storage/hdfs: finalize %s", tempPath)
	}
	if err := b.Client.Rename(tempPath, full); err != nil {
		b.Client.Remove(tempPath)
		return errors.Wrapf(err, "storage/hdfs: rename %s to %s", tempPath, full)
	}
	return nil
}

func (b *HDFSBackend) ReadMessage(ctx context.Context, key string, parse func([]byte) error) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	full := b.fullPath(key)
	r, err := b.Client.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(ErrNotFound, "storage/hdfs: %s", key)
		}
		return errors.Wrapf(err, "storage/hdfs: open %s", full)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrapf(err, "storage/hdfs: read %s", full)
	}
	return parse(data)
}

func (b *HDFSBackend) ForEachRawChunk(ctx context.Context, key string, consumer func(chunkio.RawChunk) error) error {
	full := b.fullPath(key)
	r, err := b.Client.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(ErrNotFound, "storage/hdfs: %s", key)
		}
		return errors.Wrapf(err, "storage/hdfs: open %s", full)
	}
	defer r.Close()
	return streamRawChunks(bufio.NewReader(r), chunkio.CodecFromPath(key), key, consumer)
}

func (b *HDFSBackend) ForEachChunk(ctx context.Context, key string, filter wire.Filter, consumer func(wire.TickDataChunk) error) error {
	return b.ForEachRawChunk(ctx, key, func(rc chunkio.RawChunk) error {
		chunk, err := wire.UnmarshalTickDataChunk(rc.Raw, filter)
		if err != nil {
			return errors.Wrapf(err, "storage/hdfs: decode chunk in %s", key)
		}
		return consumer(chunk)
	})
}

func (b *HDFSBackend) ListBatchFiles(ctx context.Context, q ListBatchFilesQuery) (ListBatchFilesResult, error) {
	base := b.fullPath(q.Prefix)
	var paths []string
	var walk func(dir, relPrefix string) error
	walk = func(dir, relPrefix string) error {
		entries, err := b.Client.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return errors.Wrapf(err, "storage/hdfs: readdir %s", dir)
		}
		for _, e := range entries {
			name := e.Name()
			if name == ".superseded" {
				continue
			}
			rel := path.Join(relPrefix, name)
			if e.IsDir() {
				if err := walk(path.Join(dir, name), rel); err != nil {
					return err
				}
				continue
			}
			if strings.HasSuffix(name, ".tmp") {
				continue
			}
			key := path.Join(q.Prefix, rel)
			first, last, ok := ParseBatchFileName(key)
			if !ok {
				continue
			}
			if q.HasTickRange && (last < q.StartTick || first > q.EndTick) {
				continue
			}
			paths = append(paths, key)
		}
		return nil
	}
	if err := walk(base, ""); err != nil {
		return ListBatchFilesResult{}, err
	}
	if q.Sort == SortDescending {
		sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	} else {
		sort.Strings(paths)
	}
	start := 0
	if q.ContinuationToken != "" {
		for i, p := range paths {
			if p == q.ContinuationToken {
				start = i + 1
				break
			}
		}
	}
	page := paths[start:]
	next := ""
	if q.MaxResults > 0 && len(page) > q.MaxResults {
		page = page[:q.MaxResults]
		next = page[len(page)-1]
	}
	return ListBatchFilesResult{Paths: page, NextToken: next}, nil
}

func (b *HDFSBackend) FindMetadataPath(ctx context.Context, runID string) (string, bool, error) {
	if err := ValidateKey(runID); err != nil {
		return "", false, err
	}
	for _, codec := range []chunkio.Codec{chunkio.CodecNone, chunkio.CodecZstd} {
		key := MetadataKey(runID, codec)
		if _, err := b.Client.Stat(b.fullPath(key)); err == nil {
			return key, true, nil
		}
	}
	return "", false, nil
}

func (b *HDFSBackend) FindLastBatchFile(ctx context.Context, runIDPrefix string) (string, bool, error) {
	result, err := b.ListBatchFiles(ctx, ListBatchFilesQuery{Prefix: runIDPrefix, Sort: SortDescending, MaxResults: 1})
	if err != nil {
		return "", false, err
	}
	if len(result.Paths) == 0 {
		return "", false, nil
	}
	return result.Paths[0], true, nil
}

func (b *HDFSBackend) ListRunIDs(ctx context.Context, afterUnixMs int64) ([]string, error) {
	entries, err := b.Client.ReadDir(b.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "storage/hdfs: readdir root")
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		runID := e.Name()
		metaKey, ok, err := b.FindMetadataPath(ctx, runID)
		if err != nil || !ok {
			continue
		}
		info, err := b.Client.Stat(b.fullPath(metaKey))
		if err != nil {
			continue
		}
		if info.ModTime().UnixMilli() > afterUnixMs {
			ids = append(ids, runID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (b *HDFSBackend) MoveToSuperseded(ctx context.Context, p string) error {
	if err := ValidateKey(p); err != nil {
		return err
	}
	src := b.fullPath(p)
	dst := b.fullPath(path.Join(".superseded", p))
	if err := b.Client.MkdirAll(path.Dir(dst), 0o755); err != nil {
		return errors.Wrapf(err, "storage/hdfs: mkdir for %s", dst)
	}
	if err := b.Client.Rename(src, dst); err != nil {
		return errors.Wrapf(err, "storage/hdfs: move %s to %s", src, dst)
	}
	return nil
}

var _ Resource = (*HDFSBackend)(nil)
