package wire

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// WriteFrame writes one varint-length-prefixed record: the framing used by
// a batch file's sequence of TickDataChunk messages.
func WriteFrame(w io.Writer, msg []byte) error {
	var lenBuf []byte
	lenBuf = protowire.AppendVarint(lenBuf, uint64(len(msg)))
	if _, err := w.Write(lenBuf); err != nil {
		return errors.Wrap(err, "wire: write frame length")
	}
	if _, err := w.Write(msg); err != nil {
		return errors.Wrap(err, "wire: write frame body")
	}
	return nil
}

// ReadFrame reads one varint-length-prefixed record from r. It returns
// io.EOF (unwrapped) when r is exhausted exactly at a frame boundary, so
// callers can loop "for { frame, err := ReadFrame(r); err == io.EOF break }".
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	length, err := readVarint(r)
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "wire: read frame length")
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "wire: read frame body")
	}
	return buf, nil
}

// readVarint reads a single protobuf varint byte-by-byte from a
// bufio.Reader, since protowire.ConsumeVarint needs the whole value
// pre-buffered and frame lengths arrive on an open stream.
func readVarint(r *bufio.Reader) (uint64, error) {
	var v uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			if shift == 0 && err == io.EOF {
				return 0, io.EOF
			}
			return 0, err
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, errors.New("wire: varint too long")
		}
	}
}
