package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/pkg/errors"

	"github.com/evochora/evochora-sub010/chunkio"
	"github.com/evochora/evochora-sub010/wire"
)

// AzureBlobBackend is the Resource implementation backed by Azure Blob
// Storage. Same relative-key layout and shard scheme as the other object
// store backends; blob leases/etags are not used here since the
// concurrency model only requires same-key writes to be serialized by the
// backend's own semantics, which a plain UploadBuffer overwrite already
// satisfies.
type AzureBlobBackend struct {
	Client    *azblob.Client
	Container string
}

func NewAzureBlobBackend(client *azblob.Client, container string) *AzureBlobBackend {
	return &AzureBlobBackend{Client: client, Container: container}
}

func (b *AzureBlobBackend) WriteChunkBatchStreaming(ctx context.Context, runID string, firstTick, lastTick int64, codec chunkio.Codec, chunks <-chan *wire.TickDataChunk) (WriteResult, error) {
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
			return WriteResult{}, errors.Wrap(err, "storage/azblob: write chunk frame")
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

func (b *AzureBlobBackend) WriteMessage(ctx context.Context, key string, payload []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	_, err := b.Client.UploadBuffer(ctx, b.Container, key, payload, nil)
	if err != nil {
		return errors.Wrapf(err, "storage/azblob: upload %s", key)
	}
	return nil
}

func (b *AzureBlobBackend) ReadMessage(ctx context.Context, key string, parse func([]byte) error) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	resp, err := b.Client.DownloadStream(ctx, b.Container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return errors.Wrapf(ErrNotFound, "storage/azblob: %s", key)
		}
		return errors.Wrapf(err, "storage/azblob: download %s", key)
	}
	body := resp.Body
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return errors.Wrapf(err, "storage/azblob: read %s", key)
	}
	return parse(data)
}

func (b *AzureBlobBackend) ForEachRawChunk(ctx context.Context, key string, consumer func(chunkio.RawChunk) error) error {
	return b.ReadMessage(ctx, key, func(data []byte) error {
		return streamRawChunks(bytes.NewReader(data), chunkio.CodecFromPath(key), key, consumer)
	})
}

func (b *AzureBlobBackend) ForEachChunk(ctx context.Context, key string, filter wire.Filter, consumer func(wire.TickDataChunk) error) error {
	return b.ForEachRawChunk(ctx, key, func(rc chunkio.RawChunk) error {
		chunk, err := wire.UnmarshalTickDataChunk(rc.Raw, filter)
		if err != nil {
			return errors.Wrapf(err, "storage/azblob: decode chunk in %s", key)
		}
		return consumer(chunk)
	})
}

func (b *AzureBlobBackend) ListBatchFiles(ctx context.Context, q ListBatchFilesQuery) (ListBatchFilesResult, error) {
	var paths []string
	pager := b.Client.NewListBlobsFlatPager(b.Container, &azblob.ListBlobsFlatOptions{Prefix: &q.Prefix})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return ListBatchFilesResult{}, errors.Wrapf(err, "storage/azblob: list %s", q.Prefix)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			name := *item.Name
			if strings.HasSuffix(name, ".tmp") {
				continue
			}
			first, last, ok := ParseBatchFileName(name)
			if !ok {
				continue
			}
			if q.HasTickRange && (last < q.StartTick || first > q.EndTick) {
				continue
			}
			paths = append(paths, name)
		}
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

func (b *AzureBlobBackend) FindMetadataPath(ctx context.Context, runID string) (string, bool, error) {
	if err := ValidateKey(runID); err != nil {
		return "", false, err
	}
	for _, codec := range []chunkio.Codec{chunkio.CodecNone, chunkio.CodecZstd} {
		key := MetadataKey(runID, codec)
		_, err := b.Client.ServiceClient().NewContainerClient(b.Container).NewBlobClient(key).GetProperties(ctx, nil)
		if err == nil {
			return key, true, nil
		}
	}
	return "", false, nil
}

func (b *AzureBlobBackend) FindLastBatchFile(ctx context.Context, runIDPrefix string) (string, bool, error) {
	result, err := b.ListBatchFiles(ctx, ListBatchFilesQuery{Prefix: runIDPrefix, Sort: SortDescending, MaxResults: 1})
	if err != nil {
		return "", false, err
	}
	if len(result.Paths) == 0 {
		return "", false, nil
	}
	return result.Paths[0], true, nil
}

func (b *AzureBlobBackend) ListRunIDs(ctx context.Context, afterUnixMs int64) ([]string, error) {
	var ids []string
	pager := b.Client.NewListBlobsHierarchyPager(b.Container, "/", &azblob.ListBlobsHierarchyOptions{})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "storage/azblob: list run prefixes")
		}
		for _, prefix := range page.Segment.BlobPrefixes {
			if prefix.Name == nil {
				continue
			}
			runID := strings.TrimSuffix(*prefix.Name, "/")
			props, err := b.Client.ServiceClient().NewContainerClient(b.Container).NewBlobClient(MetadataKey(runID, chunkio.CodecNone)).GetProperties(ctx, nil)
			if err != nil || props.LastModified == nil {
				continue
			}
			if props.LastModified.UnixMilli() > afterUnixMs {
				ids = append(ids, runID)
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (b *AzureBlobBackend) MoveToSuperseded(ctx context.Context, path string) error {
	if err := ValidateKey(path); err != nil {
		return err
	}
	dst := ".superseded/" + path
	srcClient := b.Client.ServiceClient().NewContainerClient(b.Container).NewBlobClient(path)
	dstClient := b.Client.ServiceClient().NewContainerClient(b.Container).NewBlobClient(dst)
	_, err := dstClient.StartCopyFromURL(ctx, srcClient.URL(), nil)
	if err != nil {
		return errors.Wrapf(err, "storage/azblob: copy %s to %s", path, dst)
	}
	if _, err := srcClient.Delete(ctx, nil); err != nil {
		return errors.Wrapf(err, "storage/azblob: delete %s after copy to superseded", path)
	}
	return nil
}

var _ Resource = (*AzureBlobBackend)(nil)
