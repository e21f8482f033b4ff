package environment

import (
	"testing"

	"github.com/evochora/evochora-sub010/molecule"
)

func TestWrapBoundedInRangeIFFInRange(t *testing.T) {
	env, err := New([]int32{10, 10}, Bounded)
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		c  Coord
		ok bool
	}{
		{Coord{0, 0}, true},
		{Coord{9, 9}, true},
		{Coord{10, 0}, false},
		{Coord{-1, 0}, false},
		{Coord{0, 10}, false},
	}
	for _, tc := range cases {
		_, err := env.Wrap(tc.c)
		if tc.ok && err != nil {
			t.Errorf("Wrap(%v) unexpectedly failed: %v", tc.c, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("Wrap(%v) unexpectedly succeeded", tc.c)
		}
	}
}

func TestWrapToroidalAlwaysInRange(t *testing.T) {
	env, err := New([]int32{20, 20}, Toroidal)
	if err != nil {
		t.Fatal(err)
	}
	coords := []Coord{
		{0, 0}, {19, 19}, {20, 20}, {-1, -1}, {-21, 45}, {100, -100},
	}
	for _, c := range coords {
		w, err := env.Wrap(c)
		if err != nil {
			t.Fatalf("Wrap(%v) failed: %v", c, err)
		}
		if !env.InRange(w) {
			t.Fatalf("Wrap(%v) = %v not in range", c, w)
		}
	}
}

func TestGetSetRoundTrip(t *testing.T) {
	env, err := New([]int32{5, 5}, Bounded)
	if err != nil {
		t.Fatal(err)
	}
	m := molecule.Encode(molecule.Code, 42, 7)
	if err := env.Set(Coord{2, 3}, m, 7); err != nil {
		t.Fatal(err)
	}
	got, err := env.Get(Coord{2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if got != m {
		t.Fatalf("got %v, want %v", got, m)
	}
	owner, err := env.OwnerOf(Coord{2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if owner != 7 {
		t.Fatalf("owner = %d, want 7", owner)
	}
}

func TestEmptyCellIsZeroWord(t *testing.T) {
	env, _ := New([]int32{3, 3}, Bounded)
	got, err := env.Get(Coord{1, 1})
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsEmpty() {
		t.Fatalf("fresh cell should be empty, got %v", got)
	}
}

func TestRelativeToroidalMinimalImage(t *testing.T) {
	env, err := New([]int32{20, 20}, Toroidal)
	if err != nil {
		t.Fatal(err)
	}
	// from 18 to 2 should be +4 (wrap), not -16.
	rel, err := env.Relative(Coord{18, 0}, Coord{2, 0})
	if err != nil {
		t.Fatal(err)
	}
	if rel[0] != 4 {
		t.Fatalf("relative(18,2) on axis=20 = %d, want 4", rel[0])
	}
}

func TestRelativeBoundedIsDirectSubtraction(t *testing.T) {
	env, err := New([]int32{20, 20}, Bounded)
	if err != nil {
		t.Fatal(err)
	}
	rel, err := env.Relative(Coord{2, 5}, Coord{18, 3})
	if err != nil {
		t.Fatal(err)
	}
	if rel[0] != 16 || rel[1] != -2 {
		t.Fatalf("relative = %v, want [16 -2]", rel)
	}
}

func TestFlatIndexColumnMajorRoundTrip(t *testing.T) {
	env, err := New([]int32{4, 5, 3}, Bounded)
	if err != nil {
		t.Fatal(err)
	}
	for x := int32(0); x < 4; x++ {
		for y := int32(0); y < 5; y++ {
			for z := int32(0); z < 3; z++ {
				c := Coord{x, y, z}
				idx, err := env.FlatIndex(c)
				if err != nil {
					t.Fatal(err)
				}
				back := env.Coord(idx)
				if !back.Equal(c) {
					t.Fatalf("coord round trip: %v -> %d -> %v", c, idx, back)
				}
			}
		}
	}
}
