package storage

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"

	"github.com/evochora/evochora-sub010/chunkio"
	"github.com/evochora/evochora-sub010/wire"
)

// s3API is the subset of *s3.Client this backend calls, so tests can supply
// a fake without standing up a real bucket.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Backend is the Resource implementation backed by an S3-compatible
// object store. Object keys mirror FSBackend's relative path layout
// exactly, so the same ggg/hhh sharding and ValidateKey rules apply; only
// the write/read/list primitives differ (PutObject/GetObject/ListObjectsV2
// in place of staged renames and directory walks — S3 already gives
// PutObject atomicity per key without any temp-file dance).
type S3Backend struct {
	Client s3API
	Bucket string
}

func NewS3Backend(client *s3.Client, bucket string) *S3Backend {
	return &S3Backend{Client: client, Bucket: bucket}
}

func (b *S3Backend) WriteChunkBatchStreaming(ctx context.Context, runID string, firstTick, lastTick int64, codec chunkio.Codec, chunks <-chan *wire.TickDataChunk) (WriteResult, error) {
	if err := ValidateKey(runID); err != nil {
		return WriteResult{}, err
	}
	ggg, hhh := shardDir(firstTick)
	key := strings.Join([]string{runID, "raw", ggg, hhh, chunkio.ChunkFileName(firstTick, lastTick, codec)}, "/")

	var buf bytes.Buffer
	count := 0
	out, closeOut, err := wrapCompressedWriter(&buf, codec)
	if err != nil {
		return WriteResult{}, err
	}
	for chunk := range chunks {
		if err := wire.WriteFrame(out, chunk.Marshal()); err != nil {
			return WriteResult{}, errors.Wrap(err, "storage/s3: write chunk frame")
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

func (b *S3Backend) WriteMessage(ctx context.Context, key string, payload []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	_, err := b.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(payload),
	})
	if err != nil {
		return errors.Wrapf(err, "storage/s3: put %s", key)
	}
	return nil
}

func (b *S3Backend) ReadMessage(ctx context.Context, key string, parse func([]byte) error) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	out, err := b.Client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(b.Bucket), Key: aws.String(key)})
	if err != nil {
		var nf *types.NoSuchKey
		if stderrors.As(err, &nf) {
			return errors.Wrapf(ErrNotFound, "storage/s3: %s", key)
		}
		return errors.Wrapf(err, "storage/s3: get %s", key)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return errors.Wrapf(err, "storage/s3: read body %s", key)
	}
	return parse(data)
}

func (b *S3Backend) ForEachRawChunk(ctx context.Context, key string, consumer func(chunkio.RawChunk) error) error {
	return b.ReadMessage(ctx, key, func(data []byte) error {
		return streamRawChunks(bytes.NewReader(data), chunkio.CodecFromPath(key), key, consumer)
	})
}

func (b *S3Backend) ForEachChunk(ctx context.Context, key string, filter wire.Filter, consumer func(wire.TickDataChunk) error) error {
	return b.ForEachRawChunk(ctx, key, func(rc chunkio.RawChunk) error {
		chunk, err := wire.UnmarshalTickDataChunk(rc.Raw, filter)
		if err != nil {
			return errors.Wrapf(err, "storage/s3: decode chunk in %s", key)
		}
		return consumer(chunk)
	})
}

// ListBatchFiles performs one ListObjectsV2 reverse-listing pass with
// pagination threaded through the continuation token untouched — S3's own
// pagination primitive is exactly the shape every backend is expected to
// expose, so no extra bookkeeping is needed here beyond the tick-range and
// ".tmp" filters FSBackend also applies.
func (b *S3Backend) ListBatchFiles(ctx context.Context, q ListBatchFilesQuery) (ListBatchFilesResult, error) {
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.Bucket),
		Prefix: aws.String(q.Prefix),
	}
	if q.ContinuationToken != "" {
		in.ContinuationToken = aws.String(q.ContinuationToken)
	}
	if q.MaxResults > 0 {
		in.MaxKeys = aws.Int32(int32(q.MaxResults))
	}
	out, err := b.Client.ListObjectsV2(ctx, in)
	if err != nil {
		return ListBatchFilesResult{}, errors.Wrapf(err, "storage/s3: list %s", q.Prefix)
	}
	var paths []string
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		if strings.HasSuffix(key, ".tmp") {
			continue
		}
		first, last, ok := ParseBatchFileName(key)
		if !ok {
			continue
		}
		if q.HasTickRange && (last < q.StartTick || first > q.EndTick) {
			continue
		}
		paths = append(paths, key)
	}
	if q.Sort == SortDescending {
		sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	} else {
		sort.Strings(paths)
	}
	next := ""
	if out.IsTruncated != nil && *out.IsTruncated {
		next = aws.ToString(out.NextContinuationToken)
	}
	return ListBatchFilesResult{Paths: paths, NextToken: next}, nil
}

func (b *S3Backend) FindMetadataPath(ctx context.Context, runID string) (string, bool, error) {
	if err := ValidateKey(runID); err != nil {
		return "", false, err
	}
	for _, codec := range []chunkio.Codec{chunkio.CodecNone, chunkio.CodecZstd} {
		key := MetadataKey(runID, codec)
		_, err := b.Client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.Bucket), Key: aws.String(key)})
		if err == nil {
			return key, true, nil
		}
	}
	return "", false, nil
}

// FindLastBatchFile performs a reverse ListObjectsV2 listing under
// runIDPrefix and returns the first (highest-tick) result — S3's listing
// API sorts keys lexicographically itself, so a full descending scan here
// is the object-store analogue of FSBackend's reverse directory traversal,
// without any backtracking since there are no empty "directories" to skip.
func (b *S3Backend) FindLastBatchFile(ctx context.Context, runIDPrefix string) (string, bool, error) {
	result, err := b.ListBatchFiles(ctx, ListBatchFilesQuery{Prefix: runIDPrefix, Sort: SortDescending, MaxResults: 1})
	if err != nil {
		return "", false, err
	}
	if len(result.Paths) == 0 {
		return "", false, nil
	}
	return result.Paths[0], true, nil
}

func (b *S3Backend) ListRunIDs(ctx context.Context, afterUnixMs int64) ([]string, error) {
	out, err := b.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: aws.String(b.Bucket), Delimiter: aws.String("/")})
	if err != nil {
		return nil, errors.Wrap(err, "storage/s3: list run prefixes")
	}
	cutoff := afterUnixMs
	var ids []string
	for _, p := range out.CommonPrefixes {
		runID := strings.TrimSuffix(aws.ToString(p.Prefix), "/")
		_, ok, err := b.FindMetadataPath(ctx, runID)
		if err != nil || !ok {
			continue
		}
		head, err := b.Client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.Bucket), Key: aws.String(MetadataKey(runID, chunkio.CodecNone))})
		if err != nil || head.LastModified == nil {
			continue
		}
		if head.LastModified.UnixMilli() > cutoff {
			ids = append(ids, runID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// MoveToSuperseded copies the object to a ".superseded/" prefix and removes
// the original key; the copy always happens before the delete, so a failure
// between the two steps leaves both copies present rather than losing data.
func (b *S3Backend) MoveToSuperseded(ctx context.Context, path string) error {
	if err := ValidateKey(path); err != nil {
		return err
	}
	dst := ".superseded/" + path
	_, err := b.Client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.Bucket),
		CopySource: aws.String(b.Bucket + "/" + path),
		Key:        aws.String(dst),
	})
	if err != nil {
		return errors.Wrapf(err, "storage/s3: copy %s to %s", path, dst)
	}
	if _, err := b.Client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(b.Bucket), Key: aws.String(path)}); err != nil {
		return errors.Wrapf(err, "storage/s3: delete %s after copy to superseded", path)
	}
	return nil
}

var _ Resource = (*S3Backend)(nil)
