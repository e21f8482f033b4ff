// Package genome computes a translation-, namespace-, and
// toroidal-boundary-invariant 64-bit content hash over an organism's
// owned code.
//
// Modeled on a content-checksum helper
// ("hash the content that identifies this thing,
// independent of where it happens to live" is the same shape, just over a
// different kind of content and with a commutative combiner instead of a
// streamed byte hash, since genome cells have no fixed traversal order.
package genome

import (
	"sort"

	"github.com/OneOfOne/xxhash"

	"github.com/evochora/evochora-sub010/environment"
	"github.com/evochora/evochora-sub010/molecule"
)

// hashableTypes are the molecule types that participate in the genome
// hash; DATA is intentionally excluded.
var hashableTypes = map[molecule.Type]bool{
	molecule.Code:      true,
	molecule.Label:     true,
	molecule.LabelRef:  true,
	molecule.Register:  true,
	molecule.Structure: true,
	molecule.Energy:    true,
}

type ownedCell struct {
	rel environment.Coord
	typ molecule.Type
	val int32
}

// Hash computes the genome hash of organismID's owned molecules, anchored
// at initialPosition.
func Hash(env *environment.Environment, organismID uint16, initialPosition environment.Coord) (uint64, error) {
	cells := env.OwnedCells(organismID)
	owned := make([]ownedCell, 0, len(cells))
	for _, flat := range cells {
		m := env.GetFlat(flat)
		t, v, _ := molecule.Decode(m)
		if !hashableTypes[t] {
			continue
		}
		pos := env.Coord(flat)
		rel, err := env.Relative(initialPosition, pos)
		if err != nil {
			return 0, err
		}
		owned = append(owned, ownedCell{rel: rel, typ: t, val: v})
	}

	mu := canonicalMask(owned)

	var sum uint64
	for _, c := range owned {
		v := c.val
		if c.typ == molecule.Label || c.typ == molecule.LabelRef {
			v ^= mu
		}
		sum += mix(c.rel, c.typ, v)
	}
	return sum, nil
}

// canonicalMask picks the XOR mask μ: the value of the LABEL whose
// relative position is lexicographically smallest, falling back to the
// smallest LABELREF, falling back to 0. Using relative position (not flat
// index) is what keeps the anchor choice invariant across a toroidal wrap
// two organisms with identical relative layouts but different
// absolute/flat placement must pick the same anchor.
func canonicalMask(owned []ownedCell) int32 {
	if anchor, ok := smallestByType(owned, molecule.Label); ok {
		return anchor.val
	}
	if anchor, ok := smallestByType(owned, molecule.LabelRef); ok {
		return anchor.val
	}
	return 0
}

func smallestByType(owned []ownedCell, t molecule.Type) (ownedCell, bool) {
	var candidates []ownedCell
	for _, c := range owned {
		if c.typ == t {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return ownedCell{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return lexLess(candidates[i].rel, candidates[j].rel)
	})
	return candidates[0], true
}

func lexLess(a, b environment.Coord) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// mix combines one (relative_position, type, canonical_value) triple into
// a 64-bit digest. The caller sums these across the owned set, which is
// what makes the overall hash order-independent: summation mod 2^64 is
// commutative and associative regardless of enumeration order.
func mix(rel environment.Coord, t molecule.Type, value int32) uint64 {
	h := xxhash.New64()
	buf := make([]byte, 0, 4*len(rel)+8)
	for _, v := range rel {
		buf = append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}
	buf = append(buf, byte(t))
	buf = append(buf, byte(value), byte(value>>8), byte(value>>16), byte(value>>24))
	_, _ = h.Write(buf)
	return h.Sum64()
}
