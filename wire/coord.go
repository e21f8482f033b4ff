package wire

import "google.golang.org/protobuf/encoding/protowire"

// Coord field numbers.
const (
	coordAxesField protowire.Number = 1
)

// MarshalCoord encodes a coordinate as a packed varint field of signed
// per-axis values.
func MarshalCoord(axes []int32) []byte {
	var b []byte
	b = appendPackedVarints(b, coordAxesField, axes)
	return b
}

// UnmarshalCoord decodes a Coord message produced by MarshalCoord.
func UnmarshalCoord(b []byte) ([]int32, error) {
	var axes []int32
	for len(b) > 0 {
		num, typ, n, err := consumeTag(b)
		if err != nil {
			return nil, err
		}
		b = b[n:]
		switch {
		case num == coordAxesField && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errTruncated
			}
			b = b[n:]
			vals, err := consumePackedVarints(raw)
			if err != nil {
				return nil, err
			}
			axes = vals
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errTruncated
			}
			b = b[n:]
		}
	}
	return axes, nil
}
