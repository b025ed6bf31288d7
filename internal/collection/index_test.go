package collection

import "testing"

// delinearize(linearize(i)) == i must hold for both variants.
func TestLinearizationRoundTrip1D(t *testing.T) {
	r := Range1D(17)
	for x := int64(0); x < 17; x++ {
		idx := Index1D(x)
		lin := LinearizeColMajor(idx, r)
		if got := DelinearizeColMajor(lin, r); got != idx {
			t.Fatalf("col-major round trip failed at x=%d: got %+v", x, got)
		}
		lin = LinearizeRowMajor(idx, r)
		if got := DelinearizeRowMajor(lin, r); got != idx {
			t.Fatalf("row-major round trip failed at x=%d: got %+v", x, got)
		}
	}
}

func TestLinearizationRoundTrip2D(t *testing.T) {
	r := Range2D(4, 6)
	for x := int64(0); x < 4; x++ {
		for y := int64(0); y < 6; y++ {
			idx := Index2D(x, y)
			lin := LinearizeColMajor(idx, r)
			if got := DelinearizeColMajor(lin, r); got != idx {
				t.Fatalf("col-major round trip failed at (%d,%d): got %+v", x, y, got)
			}
			lin = LinearizeRowMajor(idx, r)
			if got := DelinearizeRowMajor(lin, r); got != idx {
				t.Fatalf("row-major round trip failed at (%d,%d): got %+v", x, y, got)
			}
		}
	}
}

// Linearization stress: for a 3-D range (3,9,23), enumerating
// all indices in nested loops and linearizing column-major yields each
// integer in [0, 3*9*23) exactly once; same for row-major with transposed
// loop order.
func TestLinearizationStress3D(t *testing.T) {
	r := Range3D(3, 9, 23)
	total := r.Size()
	if total != 3*9*23 {
		t.Fatalf("Range3D.Size() = %d, want %d", total, 3*9*23)
	}

	seenCol := make([]bool, total)
	for x := int64(0); x < 3; x++ {
		for y := int64(0); y < 9; y++ {
			for z := int64(0); z < 23; z++ {
				idx := Index3D(x, y, z)
				lin := LinearizeColMajor(idx, r)
				if lin < 0 || lin >= total {
					t.Fatalf("col-major lin=%d out of [0,%d) for idx=%+v", lin, total, idx)
				}
				if seenCol[lin] {
					t.Fatalf("col-major lin=%d produced twice, idx=%+v", lin, idx)
				}
				seenCol[lin] = true
				if got := DelinearizeColMajor(lin, r); got != idx {
					t.Fatalf("col-major round trip failed at %+v: got %+v", idx, got)
				}
			}
		}
	}
	for _, v := range seenCol {
		if !v {
			t.Fatalf("col-major linearization left a gap in [0,%d)", total)
		}
	}

	seenRow := make([]bool, total)
	for z := int64(0); z < 23; z++ {
		for y := int64(0); y < 9; y++ {
			for x := int64(0); x < 3; x++ {
				idx := Index3D(x, y, z)
				lin := LinearizeRowMajor(idx, r)
				if lin < 0 || lin >= total {
					t.Fatalf("row-major lin=%d out of [0,%d) for idx=%+v", lin, total, idx)
				}
				if seenRow[lin] {
					t.Fatalf("row-major lin=%d produced twice, idx=%+v", lin, idx)
				}
				seenRow[lin] = true
				if got := DelinearizeRowMajor(lin, r); got != idx {
					t.Fatalf("row-major round trip failed at %+v: got %+v", idx, got)
				}
			}
		}
	}
	for _, v := range seenRow {
		if !v {
			t.Fatalf("row-major linearization left a gap in [0,%d)", total)
		}
	}
}
