package storage

import (
	"bufio"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/evochora/evochora-sub010/chunkio"
	"github.com/evochora/evochora-sub010/wire"
)

// wrapCompressedWriter wraps w in a zstd encoder when codec calls for it.
// The object-store backends buffer a whole batch in memory before a single
// PutObject/upload call (unlike FSBackend, which streams straight to a
// file), so this is the compression half of that buffer without any of
// chunkio's file-staging concerns.
func wrapCompressedWriter(w io.Writer, codec chunkio.Codec) (io.Writer, func() error, error) {
	if codec != chunkio.CodecZstd {
		return w, func() error { return nil }, nil
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return nil, nil, errors.Wrap(err, "storage: open zstd writer")
	}
	return zw, zw.Close, nil
}

// streamRawChunks decompresses r per codec and invokes consumer once per
// length-delimited TickDataChunk frame with its peeked header and raw
// bytes, mirroring chunkio.ForEachRawChunk but over an in-memory reader
// instead of a file path.
func streamRawChunks(r io.Reader, codec chunkio.Codec, label string, consumer func(chunkio.RawChunk) error) error {
	var src io.Reader = r
	if codec == chunkio.CodecZstd {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return errors.Wrapf(err, "storage: open zstd reader for %s", label)
		}
		defer zr.Close()
		src = zr
	}
	br := bufio.NewReader(src)
	for {
		frame, err := wire.ReadFrame(br)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "storage: read frame from %s", label)
		}
		header, err := wire.PeekHeader(frame)
		if err != nil {
			return errors.Wrapf(err, "storage: corrupt chunk header in %s", label)
		}
		if err := consumer(chunkio.RawChunk{Header: header, Raw: frame}); err != nil {
			return err
		}
	}
}
