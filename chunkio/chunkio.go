// Package chunkio implements the batch file codec: one
// file per batch, a sequence of length-delimited TickDataChunk messages
// streamed through an optional compression codec, written via a staged
// temp-file-then-rename so a reader never observes a partially-written
// batch, and read back either as raw peeked frames or fully decoded chunks
// with optional wire-level field skipping.
package chunkio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/evochora/evochora-sub010/wire"
)

// Codec selects the compression applied to a batch file's byte stream.
type Codec int

const (
	CodecNone Codec = iota
	CodecZstd
)

// Extension returns the filename suffix assigned to this codec, including
// the base ".pb" (".pb" or ".pb.zst").
func (c Codec) Extension() string {
	switch c {
	case CodecZstd:
		return ".pb.zst"
	default:
		return ".pb"
	}
}

// CodecFromPath infers the codec from a batch file's extension.
func CodecFromPath(path string) Codec {
	if strings.HasSuffix(path, ".zst") {
		return CodecZstd
	}
	return CodecNone
}

// ChunkFileName builds the "batch_<first>_<last>.pb[.zst]" basename with
// 19-digit zero-padded ticks, so lexicographic and tick order
// coincide.
func ChunkFileName(firstTick, lastTick int64, codec Codec) string {
	return "batch_" + padTick(firstTick) + "_" + padTick(lastTick) + codec.Extension()
}

func padTick(tick int64) string {
	return fmt.Sprintf("%019d", tick)
}

// WriteResult reports what a streaming batch write produced.
type WriteResult struct {
	Path         string
	ChunkCount   int
	BytesWritten int64
}

// countingWriter tracks bytes written without buffering them, so
// WriteBatchStreaming can report size without a second pass.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// WriteBatchStreaming writes chunks to path through codec, one frame at a
// time, with no intermediate full-batch buffer: each chunk is marshaled,
// length-prefixed, and pushed straight into the (possibly compressing)
// file writer. It stages the write at "<path>.<tmpSuffix>.tmp" and atomically
// renames to path on success; on any failure the temp file is removed and
// path is left untouched.
func WriteBatchStreaming(path string, codec Codec, chunks <-chan *wire.TickDataChunk, tmpSuffix string) (WriteResult, error) {
	dir := filepath.Dir(path)
	tmpPath := path + "." + tmpSuffix + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return WriteResult{}, errors.Wrapf(err, "chunkio: create temp file in %s", dir)
	}
	result, werr := writeBatchTo(f, codec, chunks)
	closeErr := f.Close()
	if werr != nil {
		os.Remove(tmpPath)
		return WriteResult{}, werr
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return WriteResult{}, errors.Wrap(closeErr, "chunkio: close temp file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return WriteResult{}, errors.Wrapf(err, "chunkio: rename %s to %s", tmpPath, path)
	}
	result.Path = path
	return result, nil
}

func writeBatchTo(f *os.File, codec Codec, chunks <-chan *wire.TickDataChunk) (WriteResult, error) {
	cw := &countingWriter{w: f}
	bw := bufio.NewWriter(cw)

	var out io.Writer = bw
	var zw *zstd.Encoder
	if codec == CodecZstd {
		var err error
		zw, err = zstd.NewWriter(bw)
		if err != nil {
			return WriteResult{}, errors.Wrap(err, "chunkio: open zstd writer")
		}
		out = zw
	}

	count := 0
	for chunk := range chunks {
		if err := wire.WriteFrame(out, chunk.Marshal()); err != nil {
			if zw != nil {
				zw.Close()
			}
			return WriteResult{}, errors.Wrap(err, "chunkio: write chunk frame")
		}
		count++
	}

	if zw != nil {
		if err := zw.Close(); err != nil {
			return WriteResult{}, errors.Wrap(err, "chunkio: close zstd writer")
		}
	}
	if err := bw.Flush(); err != nil {
		return WriteResult{}, errors.Wrap(err, "chunkio: flush buffered writer")
	}
	if err := f.Sync(); err != nil {
		return WriteResult{}, errors.Wrap(err, "chunkio: fsync temp file")
	}
	return WriteResult{ChunkCount: count, BytesWritten: cw.n}, nil
}

// openDecompressed opens path and wraps it in the reader implied by its
// codec extension.
func openDecompressed(path string) (io.ReadCloser, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "chunkio: open %s", path)
	}
	if CodecFromPath(path) != CodecZstd {
		return f, f.Close, nil
	}
	zr, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, errors.Wrapf(err, "chunkio: open zstd reader for %s", path)
	}
	closer := func() error {
		zr.Close()
		return f.Close()
	}
	return zr.IOReadCloser(), closer, nil
}

// RawChunk is one frame peeked by ForEachRawChunk: its header fields plus
// the still-encoded bytes of the full TickDataChunk message.
type RawChunk struct {
	Header wire.Header
	Raw    []byte
}

// ForEachRawChunk decompresses path and, for each length-delimited
// TickDataChunk frame, peeks its header (first_tick/last_tick/tick_count)
// via a partial parse and invokes consumer with the header and the frame's
// raw bytes, without ever decoding the snapshot or deltas. Peak additional
// heap is O(one frame): iteration stops and returns the first error either
// the stream or consumer produces.
func ForEachRawChunk(path string, consumer func(RawChunk) error) error {
	r, closer, err := openDecompressed(path)
	if err != nil {
		return err
	}
	defer closer()

	br := bufio.NewReader(r)
	for {
		frame, err := wire.ReadFrame(br)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "chunkio: read frame from %s", path)
		}
		header, err := wire.PeekHeader(frame)
		if err != nil {
			return errors.Wrapf(err, "chunkio: corrupt chunk header in %s", path)
		}
		if err := consumer(RawChunk{Header: header, Raw: frame}); err != nil {
			return err
		}
	}
}

// ForEachChunk is ForEachRawChunk plus a full decode of each frame, honoring
// filter to skip organisms and/or cells while scanning (SkipOrganisms /
// SkipCells). Pass wire.AllFields (the zero Filter) for the default
// "parse everything" behavior.
func ForEachChunk(path string, filter wire.Filter, consumer func(wire.TickDataChunk) error) error {
	return ForEachRawChunk(path, func(rc RawChunk) error {
		chunk, err := wire.UnmarshalTickDataChunk(rc.Raw, filter)
		if err != nil {
			return errors.Wrapf(err, "chunkio: decode chunk in %s", path)
		}
		return consumer(chunk)
	})
}

// ReadAllChunks materializes every chunk in path into a slice. This is the
// legacy convenience path atop ForEachChunk; new code should stream instead
// since this holds the whole batch in memory at once.
func ReadAllChunks(path string, filter wire.Filter) ([]wire.TickDataChunk, error) {
	var out []wire.TickDataChunk
	err := ForEachChunk(path, filter, func(c wire.TickDataChunk) error {
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
