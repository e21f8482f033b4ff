// Package environment implements the N-dimensional cellular substrate
// organisms live in: a flat, dense molecule array and a parallel owner
// array, addressed through either bounded or toroidal topology.
//
// Mirrors a split between an object's
// persistent metadata and its mountpath/digest placement: here the
// "placement" half is the coordinate math (flat index, wrap, minimal
// image) and the "metadata" half is the molecule word itself.
package environment

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/evochora/evochora-sub010/molecule"
)

// Topology selects how out-of-range coordinates are handled.
type Topology uint8

const (
	// Bounded environments reject out-of-range coordinates.
	Bounded Topology = iota
	// Toroidal environments wrap coordinates around each axis.
	Toroidal
)

// ErrOutOfBounds is returned by bounded-topology coordinate operations
// when a coordinate falls outside the grid's shape.
var ErrOutOfBounds = errors.New("environment: coordinate out of bounds")

// Coord is a point (or displacement) in the environment's N-dimensional
// space. Its length must equal the environment's dimensionality for any
// operation that isn't itself a dimensionality check.
type Coord []int32

// Clone returns an independent copy, so callers never alias an Environment's
// internal storage through a Coord they were handed.
func (c Coord) Clone() Coord {
	out := make(Coord, len(c))
	copy(out, c)
	return out
}

func (c Coord) Equal(o Coord) bool {
	if len(c) != len(o) {
		return false
	}
	for i := range c {
		if c[i] != o[i] {
			return false
		}
	}
	return true
}

func (c Coord) String() string {
	return fmt.Sprint([]int32(c))
}

// Environment is the shared cellular substrate. Reads and per-word writes
// are safe for concurrent callers; preventing two workers from writing the
// same cell in the same tick is the scheduler's responsibility, not
// this package's.
type Environment struct {
	shape    []int32
	topology Topology
	strides  []int32 // column-major strides, strides[0] == 1

	cells  []molecule.Molecule
	owners []uint16
}

// New builds an Environment with the given per-axis shape. shape must be
// non-empty and every axis length must be positive.
func New(shape []int32, topology Topology) (*Environment, error) {
	if len(shape) == 0 {
		return nil, errors.New("environment: shape must have at least one dimension")
	}
	total := int64(1)
	for i, d := range shape {
		if d <= 0 {
			return nil, errors.Errorf("environment: axis %d has non-positive length %d", i, d)
		}
		total *= int64(d)
	}
	strides := make([]int32, len(shape))
	strides[0] = 1
	for i := 1; i < len(shape); i++ {
		strides[i] = strides[i-1] * shape[i-1]
	}
	return &Environment{
		shape:    append([]int32(nil), shape...),
		topology: topology,
		strides:  strides,
		cells:    make([]molecule.Molecule, total),
		owners:   make([]uint16, total),
	}, nil
}

// Shape returns the environment's per-axis lengths. Callers must not
// mutate the returned slice.
func (e *Environment) Shape() []int32 { return e.shape }

// Dim returns the number of axes.
func (e *Environment) Dim() int { return len(e.shape) }

// Topology returns the configured topology.
func (e *Environment) Topology() Topology { return e.topology }

// Len returns the total number of cells (the product of shape).
func (e *Environment) Len() int { return len(e.cells) }

// FlatIndex converts a coordinate to its flat, column-major array index.
// The coordinate must already be in range (callers normally call Wrap
// first on toroidal environments).
func (e *Environment) FlatIndex(c Coord) (int, error) {
	if len(c) != len(e.shape) {
		return 0, errors.Errorf("environment: coord dim %d != environment dim %d", len(c), len(e.shape))
	}
	idx := int64(0)
	for i, v := range c {
		if v < 0 || v >= e.shape[i] {
			return 0, errors.Wrapf(ErrOutOfBounds, "axis %d value %d not in [0,%d)", i, v, e.shape[i])
		}
		idx += int64(v) * int64(e.strides[i])
	}
	return int(idx), nil
}

// Coord converts a flat index back to a coordinate vector.
func (e *Environment) Coord(flat int) Coord {
	c := make(Coord, len(e.shape))
	rem := flat
	for i := len(e.shape) - 1; i >= 0; i-- {
		c[i] = int32(rem / int(e.strides[i]))
		rem %= int(e.strides[i])
	}
	return c
}

// Strides computes the column-major strides for shape without building a
// full Environment, the decode-only half of New callers like the indexer
// need: they know a run's shape from its metadata sidecar but never
// allocate that run's actual cell array.
func Strides(shape []int32) []int32 {
	strides := make([]int32, len(shape))
	if len(shape) == 0 {
		return strides
	}
	strides[0] = 1
	for i := 1; i < len(shape); i++ {
		strides[i] = strides[i-1] * shape[i-1]
	}
	return strides
}

// CoordFromFlat converts a flat index back to a coordinate vector given
// shape alone, for callers that only ever see a run's metadata sidecar and
// need dimension-agnostic decoding: 1D, 2D, 3D, ... all go through this one
// function by carrying shape through.
func CoordFromFlat(shape []int32, flat int) Coord {
	strides := Strides(shape)
	c := make(Coord, len(shape))
	rem := flat
	for i := len(shape) - 1; i >= 0; i-- {
		c[i] = int32(rem / int(strides[i]))
		rem %= int(strides[i])
	}
	return c
}

// Wrap normalizes a coordinate according to topology. On Toroidal
// environments this always succeeds and is infallible; on Bounded
// environments an out-of-range coordinate is returned unchanged alongside
// ErrOutOfBounds.
func (e *Environment) Wrap(c Coord) (Coord, error) {
	if len(c) != len(e.shape) {
		return c, errors.Errorf("environment: coord dim %d != environment dim %d", len(c), len(e.shape))
	}
	out := make(Coord, len(c))
	for i, v := range c {
		d := e.shape[i]
		switch e.topology {
		case Toroidal:
			m := v % d
			if m < 0 {
				m += d
			}
			out[i] = m
		default: // Bounded
			if v < 0 || v >= d {
				return c, ErrOutOfBounds
			}
			out[i] = v
		}
	}
	return out, nil
}

// InRange reports whether c is addressable without wrapping.
func (e *Environment) InRange(c Coord) bool {
	if len(c) != len(e.shape) {
		return false
	}
	for i, v := range c {
		if v < 0 || v >= e.shape[i] {
			return false
		}
	}
	return true
}

// Get reads the molecule at c, wrapping first on toroidal topology.
func (e *Environment) Get(c Coord) (molecule.Molecule, error) {
	w, err := e.Wrap(c)
	if err != nil {
		return molecule.Zero, err
	}
	idx, err := e.FlatIndex(w)
	if err != nil {
		return molecule.Zero, err
	}
	return e.cells[idx], nil
}

// GetFlat reads the molecule at a precomputed flat index, skipping
// coordinate math; used by the genome hasher and the capture scan.
func (e *Environment) GetFlat(flat int) molecule.Molecule { return e.cells[flat] }

// OwnerOf returns the owner id recorded at c.
func (e *Environment) OwnerOf(c Coord) (uint16, error) {
	w, err := e.Wrap(c)
	if err != nil {
		return 0, err
	}
	idx, err := e.FlatIndex(w)
	if err != nil {
		return 0, err
	}
	return e.owners[idx], nil
}

// Set writes a molecule at c with the given owner. The write is a single
// word-sized store per array; no locking is performed.
func (e *Environment) Set(c Coord, m molecule.Molecule, owner uint16) error {
	w, err := e.Wrap(c)
	if err != nil {
		return err
	}
	idx, err := e.FlatIndex(w)
	if err != nil {
		return err
	}
	e.SetFlat(idx, m, owner)
	return nil
}

// SetFlat writes at a precomputed flat index.
func (e *Environment) SetFlat(flat int, m molecule.Molecule, owner uint16) {
	e.cells[flat] = m
	e.owners[flat] = owner
}

// Clear writes the empty molecule (owner reset to 0) at c.
func (e *Environment) Clear(c Coord) error {
	return e.Set(c, molecule.Zero, 0)
}

// OwnedCells returns the flat indices of every cell whose owner equals
// owner. Used by the genome hasher, which needs every cell currently
// recorded as the organism's, not just cells reachable by walking code.
func (e *Environment) OwnedCells(owner uint16) []int {
	var out []int
	for i, o := range e.owners {
		if o == owner {
			out = append(out, i)
		}
	}
	return out
}

// Relative computes the minimal-image displacement from a to b: under
// Toroidal topology each axis's displacement is chosen in (-d/2, d/2];
// under Bounded topology it is the direct subtraction. Used by the genome
// hasher to make toroidal wraparound invisible to owned-cell
// layout comparisons.
func (e *Environment) Relative(a, b Coord) (Coord, error) {
	if len(a) != len(e.shape) || len(b) != len(e.shape) {
		return nil, errors.New("environment: coord dim mismatch")
	}
	out := make(Coord, len(e.shape))
	for i := range e.shape {
		d := e.shape[i]
		diff := b[i] - a[i]
		if e.topology == Toroidal {
			diff = diff % d
			if diff < 0 {
				diff += d
			}
			// fold into (-d/2, d/2]
			if diff > d/2 {
				diff -= d
			}
		}
		out[i] = diff
	}
	return out, nil
}
