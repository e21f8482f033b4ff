package indexer

import (
	"testing"

	"github.com/evochora/evochora-sub010/environment"
	"github.com/evochora/evochora-sub010/wire"
)

// DecodeCellColumns must invert exactly the flat-index math an Environment
// of the same shape produces, since that's what capture emitted in the
// first place; round-tripping through a real Environment is the
// authoritative check, not a hand-computed constant.
func TestDecodeCellColumnsRoundTripsThroughEnvironmentFlatIndex(t *testing.T) {
	shape := []int32{10, 10, 10}
	env, err := environment.New(shape, environment.Bounded)
	if err != nil {
		t.Fatal(err)
	}
	want := environment.Coord{1, 2, 3}
	flat, err := env.FlatIndex(want)
	if err != nil {
		t.Fatal(err)
	}

	cols := wire.CellDataColumns{
		FlatIndices:  []int32{int32(flat)},
		MoleculeData: []int32{7},
		OwnerIDs:     []int32{1},
	}
	rows := DecodeCellColumns(shape, 0, cols)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if !rows[0].Coord.Equal(want) {
		t.Fatalf("expected coord %v, got %v", want, rows[0].Coord)
	}
	if rows[0].Molecule != 7 || rows[0].OwnerID != 1 {
		t.Fatalf("expected molecule/owner carried through unchanged, got %+v", rows[0])
	}
}

func TestDecodeCellColumnsHandles1DAnd2D(t *testing.T) {
	row1D := DecodeCellColumns([]int32{20}, 0, wire.CellDataColumns{FlatIndices: []int32{7}, MoleculeData: []int32{0}, OwnerIDs: []int32{0}})
	if row1D[0].Coord[0] != 7 {
		t.Fatalf("expected 1D coord [7], got %v", row1D[0].Coord)
	}

	row2D := DecodeCellColumns([]int32{5, 5}, 0, wire.CellDataColumns{FlatIndices: []int32{12}, MoleculeData: []int32{0}, OwnerIDs: []int32{0}})
	if row2D[0].Coord[0] != 2 || row2D[0].Coord[1] != 2 {
		t.Fatalf("expected 2D coord [2,2], got %v", row2D[0].Coord)
	}
}
