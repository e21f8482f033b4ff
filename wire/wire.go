// Package wire hand-encodes the on-disk and on-the-wire message shapes
// directly against protobuf's wire format, without a generated *.pb.go:
// length-delimited varint framing, partial-parse header peeking, and
// field-level skipping during decode. Every message here is wire-compatible
// with a conventional proto3 schema using the field numbers documented
// alongside each type, but there is no .proto file — the encode/decode pair
// below is the schema.
//
// Grounded on the richardartoul/molecule-based hand-rolled protobuf framing
// idiom (tag = (field_number<<3)|wire_type, length-delimited submessages
// built bottom-up into a byte slice) seen in the pack's profiling tooling;
// reimplemented here against the upstream google.golang.org/protobuf's
// encoding/protowire, which exposes the same Append*/Consume* primitives.
package wire

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Filter controls which repeated/embedded fields a decode call bothers to
// materialize. Used by chunkio's streaming readers to skip organism
// or cell data entirely while scanning a batch file, without ever
// allocating the skipped field's contents.
type Filter struct {
	SkipOrganisms bool
	SkipCells     bool
}

// AllFields is the default filter: nothing is skipped.
var AllFields = Filter{}

var errTruncated = errors.New("wire: truncated message")

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendInt64Field(b []byte, num protowire.Number, v int64) []byte {
	return appendVarintField(b, num, uint64(v))
}

func appendInt32Field(b []byte, num protowire.Number, v int32) []byte {
	return appendVarintField(b, num, uint64(int64(v)))
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// appendMessageField emits an optional singular embedded message, omitted
// entirely when msg is nil. Only safe when the field's absence is itself
// meaningful and distinguishable from "present but all-default" by the
// caller (e.g. StackValue.Vector, only set when IsVector).
func appendMessageField(b []byte, num protowire.Number, msg []byte) []byte {
	if msg == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// appendRepeatedMessageField emits one embedded-message entry of a repeated
// field, unconditionally. Unlike appendMessageField, an all-default element
// (whose own Marshal happens to produce zero bytes) still gets a tag and a
// zero-length body: repeated fields carry position, and a register bank or
// stack entry holding a default StackValue must not silently vanish and
// shift every later entry's index.
func appendRepeatedMessageField(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendPackedVarints(b []byte, num protowire.Number, vals []int32) []byte {
	if len(vals) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vals {
		packed = protowire.AppendVarint(packed, uint64(int64(v)))
	}
	return appendBytesField(b, num, packed)
}

func consumePackedVarints(b []byte) ([]int32, error) {
	var out []int32
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, errTruncated
		}
		out = append(out, int32(int64(v)))
		b = b[n:]
	}
	return out, nil
}

// consumeTag reads one field tag from b and returns the field's number, its
// wire type, and the number of bytes the tag took; the value is left for
// the caller to consume. Callers that want to skip a field entirely use
// protowire.ConsumeFieldValue on the trailing bytes to discard it without
// materializing anything.
func consumeTag(b []byte) (protowire.Number, protowire.Type, int, error) {
	num, typ, n := protowire.ConsumeTag(b)
	if n < 0 {
		return 0, 0, 0, errTruncated
	}
	return num, typ, n, nil
}
