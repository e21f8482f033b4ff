package molecule

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	types := []Type{Empty, Code, Data, Energy, Label, LabelRef, Register, Structure}
	values := []int32{0, 1, -1, MinValue, MaxValue, 12345, -12345}
	owners := []uint16{0, 1, 512, MaxOwner}

	for _, ty := range types {
		for _, v := range values {
			for _, o := range owners {
				m := Encode(ty, v, o)
				gt, gv, go_ := Decode(m)
				if gt != ty || gv != v || go_ != o {
					t.Fatalf("roundtrip failed: encode(%v,%d,%d) -> decode = (%v,%d,%d)",
						ty, v, o, gt, gv, go_)
				}
			}
		}
	}
}

func TestZeroIsEmpty(t *testing.T) {
	if !Zero.IsEmpty() {
		t.Fatal("Zero must be empty")
	}
	m := Encode(Empty, 0, 0)
	if m != Zero {
		t.Fatalf("encode(Empty,0,0) = %d, want Zero", m)
	}
	if !m.IsEmpty() {
		t.Fatal("encode(Empty,0,0) must report IsEmpty")
	}
}

func TestEnergyWithZeroOwnerIsValid(t *testing.T) {
	m := Encode(Energy, 7, 0)
	if m.IsEmpty() {
		t.Fatal("ENERGY with owner=0 must not be considered empty")
	}
	if m.Type() != Energy || m.Value() != 7 || m.Owner() != 0 {
		t.Fatalf("unexpected decode: %v", m)
	}
}

func TestAccessorsMatchDecode(t *testing.T) {
	m := Encode(Label, -100, 42)
	ty, v, o := Decode(m)
	if m.Type() != ty || m.Value() != v || m.Owner() != o {
		t.Fatal("accessor methods disagree with Decode")
	}
}

func TestLabelHashIsPositiveAnd19Bit(t *testing.T) {
	for _, rolling := range []uint32{0, 1, 0xFFFFFFFF, 0xDEADBEEF, 0x7FFFFFFF} {
		h := LabelHash(rolling)
		if h < 0 || h > int32(valueMask) {
			t.Fatalf("LabelHash(%x) = %d, out of [0,%d]", rolling, h, valueMask)
		}
	}
}
