// Package molecule packs and unpacks the 32-bit cell word that is the
// environment's only unit of storage: a (type, value, owner) triple.
package molecule

import "fmt"

// Type tags the payload of a molecule. Three bits, so values 0..7.
type Type uint8

const (
	Empty Type = iota
	Code
	Data
	Energy
	Label
	LabelRef
	Register
	Structure
)

func (t Type) String() string {
	switch t {
	case Empty:
		return "EMPTY"
	case Code:
		return "CODE"
	case Data:
		return "DATA"
	case Energy:
		return "ENERGY"
	case Label:
		return "LABEL"
	case LabelRef:
		return "LABELREF"
	case Register:
		return "REGISTER"
	case Structure:
		return "STRUCTURE"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

const (
	typeBits  = 3
	valueBits = 19
	ownerBits = 10

	typeShift  = valueBits + ownerBits // 29
	valueShift = ownerBits             // 10

	typeMask  = uint32(1<<typeBits - 1)
	valueMask = uint32(1<<valueBits - 1)
	ownerMask = uint32(1<<ownerBits - 1)

	// MinValue and MaxValue bound the signed 19-bit payload.
	MinValue = -(1 << (valueBits - 1))
	MaxValue = 1<<(valueBits-1) - 1

	// MaxOwner is the largest representable organism id; 0 means unowned.
	MaxOwner = 1<<ownerBits - 1
)

// Molecule is the 32-bit cell word, kept as a value type so the
// environment can store it directly in a flat array.
type Molecule uint32

// Zero is the canonical empty cell: the all-zero word.
const Zero Molecule = 0

// Encode packs (t, value, owner) into a Molecule. value must be within
// [MinValue, MaxValue] and owner within [0, MaxOwner]; callers that cannot
// guarantee this should validate before calling, as Encode does not.
func Encode(t Type, value int32, owner uint16) Molecule {
	v := uint32(value) & valueMask
	o := uint32(owner) & ownerMask
	w := (uint32(t)&typeMask)<<typeShift | v<<valueShift | o
	return Molecule(w)
}

// Decode unpacks a Molecule into its three fields, sign-extending value
// from its 19-bit field.
func Decode(m Molecule) (t Type, value int32, owner uint16) {
	w := uint32(m)
	t = Type((w >> typeShift) & typeMask)
	v := (w >> valueShift) & valueMask
	value = signExtend19(v)
	owner = uint16(w & ownerMask)
	return
}

func signExtend19(v uint32) int32 {
	const signBit = uint32(1) << (valueBits - 1)
	if v&signBit != 0 {
		return int32(v) - (1 << valueBits)
	}
	return int32(v)
}

// Type returns just the type tag without unpacking value/owner.
func (m Molecule) Type() Type { return Type((uint32(m) >> typeShift) & typeMask) }

// Value returns just the sign-extended payload.
func (m Molecule) Value() int32 {
	v := (uint32(m) >> valueShift) & valueMask
	return signExtend19(v)
}

// Owner returns just the owner id.
func (m Molecule) Owner() uint16 { return uint16(uint32(m) & ownerMask) }

// IsEmpty reports whether m is the canonical empty cell.
func (m Molecule) IsEmpty() bool { return m == Zero }

func (m Molecule) String() string {
	t, v, o := Decode(m)
	if m.IsEmpty() {
		return "EMPTY"
	}
	return fmt.Sprintf("%s(%d)@%d", t, v, o)
}

// LabelHash reduces a rolling 32-bit hash of a label name to its low 19
// bits, a value in [0, 0x7FFFF] that is never negative. Results above
// MaxValue do not fit the signed value field: stored in a molecule, they
// decode as negative.
func LabelHash(rolling uint32) int32 {
	return int32(rolling & valueMask)
}
