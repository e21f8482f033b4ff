package storage

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"

	"github.com/evochora/evochora-sub010/chunkio"
	"github.com/evochora/evochora-sub010/wire"
)

// GCSBackend is the Resource implementation backed by Google Cloud Storage.
// Shares FSBackend's relative-key layout and ggg/hhh sharding; GCS's own
// per-object write atomicity removes the need for FSBackend's staged
// rename, the same way S3Backend's PutObject does.
type GCSBackend struct {
	Bucket *storage.BucketHandle
	Name   string
}

func NewGCSBackend(client *storage.Client, bucket string) *GCSBackend {
	return &GCSBackend{Bucket: client.Bucket(bucket), Name: bucket}
}

func (b *GCSBackend) WriteChunkBatchStreaming(ctx context.Context, runID string, firstTick, lastTick int64, codec chunkio.Codec, chunks <-chan *wire.TickDataChunk) (WriteResult, error) {
	if err := ValidateKey(runID); err != nil {
		return WriteResult{}, err
	}
	ggg, hhh := shardDir(firstTick)
	key := strings.Join([]string{runID, "raw", ggg, hhh, chunkio.ChunkFileName(firstTick, lastTick, codec)}, "/")

	var buf bytes.Buffer
	out, closeOut, err := wrapCompressedWriter(&buf, codec)
	if err != nil {
		return WriteResult{}, err
	}
	count := 0
	for chunk := range chunks {
		if err := wire.WriteFrame(out, chunk.Marshal()); err != nil {
			return WriteResult{}, errors.Wrap(err, "storage/gcs: write chunk frame")
		}
		count++
	}
	if err := closeOut(); err != nil {
		return WriteResult{}, err
	}
	if err := b.WriteMessage(ctx, key, buf.Bytes()); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Path: key, ChunkCount: count, BytesWritten: int64(buf.Len())}, nil
}

func (b *GCSBackend) WriteMessage(ctx context.Context, key string, payload []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	w := b.Bucket.Object(key).NewWriter(ctx)
	if _, err := w.Write(payload); err != nil {
		w.Close()
		return errors.Wrapf(err, "storage/gcs: write %s", key)
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "storage/gcs: finalize %s", key)
	}
	return nil
}

func (b *GCSBackend) ReadMessage(ctx context.Context, key string, parse func([]byte) error) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	r, err := b.Bucket.Object(key).NewReader(ctx)
	if err != nil {
		if stderrors.Is(err, storage.ErrObjectNotExist) {
			return errors.Wrapf(ErrNotFound, "storage/gcs: %s", key)
		}
		return errors.Wrapf(err, "storage/gcs: open %s", key)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrapf(err, "storage/gcs: read %s", key)
	}
	return parse(data)
}

func (b *GCSBackend) ForEachRawChunk(ctx context.Context, key string, consumer func(chunkio.RawChunk) error) error {
	return b.ReadMessage(ctx, key, func(data []byte) error {
		return streamRawChunks(bytes.NewReader(data), chunkio.CodecFromPath(key), key, consumer)
	})
}

func (b *GCSBackend) ForEachChunk(ctx context.Context, key string, filter wire.Filter, consumer func(wire.TickDataChunk) error) error {
	return b.ForEachRawChunk(ctx, key, func(rc chunkio.RawChunk) error {
		chunk, err := wire.UnmarshalTickDataChunk(rc.Raw, filter)
		if err != nil {
			return errors.Wrapf(err, "storage/gcs: decode chunk in %s", key)
		}
		return consumer(chunk)
	})
}

func (b *GCSBackend) ListBatchFiles(ctx context.Context, q ListBatchFilesQuery) (ListBatchFilesResult, error) {
	it := b.Bucket.Objects(ctx, &storage.Query{Prefix: q.Prefix})
	var paths []string
	for {
		attrs, err := it.Next()
		if stderrors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return ListBatchFilesResult{}, errors.Wrapf(err, "storage/gcs: list %s", q.Prefix)
		}
		if strings.HasSuffix(attrs.Name, ".tmp") {
			continue
		}
		first, last, ok := ParseBatchFileName(attrs.Name)
		if !ok {
			continue
		}
		if q.HasTickRange && (last < q.StartTick || first > q.EndTick) {
			continue
		}
		paths = append(paths, attrs.Name)
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

func (b *GCSBackend) FindMetadataPath(ctx context.Context, runID string) (string, bool, error) {
	if err := ValidateKey(runID); err != nil {
		return "", false, err
	}
	for _, codec := range []chunkio.Codec{chunkio.CodecNone, chunkio.CodecZstd} {
		key := MetadataKey(runID, codec)
		if _, err := b.Bucket.Object(key).Attrs(ctx); err == nil {
			return key, true, nil
		}
	}
	return "", false, nil
}

func (b *GCSBackend) FindLastBatchFile(ctx context.Context, runIDPrefix string) (string, bool, error) {
	result, err := b.ListBatchFiles(ctx, ListBatchFilesQuery{Prefix: runIDPrefix, Sort: SortDescending, MaxResults: 1})
	if err != nil {
		return "", false, err
	}
	if len(result.Paths) == 0 {
		return "", false, nil
	}
	return result.Paths[0], true, nil
}

func (b *GCSBackend) ListRunIDs(ctx context.Context, afterUnixMs int64) ([]string, error) {
	it := b.Bucket.Objects(ctx, &storage.Query{Delimiter: "/"})
	cutoff := time.UnixMilli(afterUnixMs)
	var ids []string
	for {
		attrs, err := it.Next()
		if stderrors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "storage/gcs: list run prefixes")
		}
		if attrs.Prefix == "" {
			continue
		}
		runID := strings.TrimSuffix(attrs.Prefix, "/")
		metaAttrs, err := b.Bucket.Object(MetadataKey(runID, chunkio.CodecNone)).Attrs(ctx)
		if err != nil {
			continue
		}
		if metaAttrs.Updated.After(cutoff) {
			ids = append(ids, runID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (b *GCSBackend) MoveToSuperseded(ctx context.Context, path string) error {
	if err := ValidateKey(path); err != nil {
		return err
	}
	dst := ".superseded/" + path
	src := b.Bucket.Object(path)
	if _, err := b.Bucket.Object(dst).CopierFrom(src).Run(ctx); err != nil {
		return errors.Wrapf(err, "storage/gcs: copy %s to %s", path, dst)
	}
	if err := src.Delete(ctx); err != nil {
		return errors.Wrapf(err, "storage/gcs: delete %s after copy to superseded", path)
	}
	return nil
}

var _ Resource = (*GCSBackend)(nil)
