// Package collection implements indexed sets of entities distributed
// across nodes, with construction, per-element send, broadcast, reduce,
// migration, and per-phase load accounting.
package collection

// Index is a 1-, 2-, or 3-dimensional collection index. Unused trailing
// dimensions are left at zero; Dims reports how many are live.
type Index struct {
	dims int
	x, y, z int64
}

// Index1D builds a 1-dimensional index.
func Index1D(x int64) Index { return Index{dims: 1, x: x} }

// Index2D builds a 2-dimensional index.
func Index2D(x, y int64) Index { return Index{dims: 2, x: x, y: y} }

// Index3D builds a 3-dimensional index.
func Index3D(x, y, z int64) Index { return Index{dims: 3, x: x, y: y, z: z} }

// Dims reports how many dimensions this index carries (1, 2, or 3).
func (i Index) Dims() int { return i.dims }

// X, Y, Z return the index's component values; Y and Z are zero for
// lower-dimensional indices.
func (i Index) X() int64 { return i.x }
func (i Index) Y() int64 { return i.y }
func (i Index) Z() int64 { return i.z }

// Range describes the extent of a collection along each dimension.
type Range struct {
	dims int
	x, y, z int64
}

func Range1D(x int64) Range       { return Range{dims: 1, x: x} }
func Range2D(x, y int64) Range    { return Range{dims: 2, x: x, y: y} }
func Range3D(x, y, z int64) Range { return Range{dims: 3, x: x, y: y, z: z} }

// Size returns the total number of elements the range covers.
func (r Range) Size() int64 {
	switch r.dims {
	case 1:
		return r.x
	case 2:
		return r.x * r.y
	default:
		return r.x * r.y * r.z
	}
}

// LinearizeColMajor maps idx within range to a dense [0, range.Size())
// integer, column-major (leftmost dimension varies fastest).
func LinearizeColMajor(idx Index, r Range) int64 {
	switch r.dims {
	case 1:
		return idx.x
	case 2:
		return idx.x + idx.y*r.x
	default:
		return idx.x + idx.y*r.x + idx.z*r.x*r.y
	}
}

// DelinearizeColMajor is LinearizeColMajor's inverse.
func DelinearizeColMajor(lin int64, r Range) Index {
	switch r.dims {
	case 1:
		return Index1D(lin)
	case 2:
		x := lin % r.x
		y := lin / r.x
		return Index2D(x, y)
	default:
		x := lin % r.x
		rest := lin / r.x
		y := rest % r.y
		z := rest / r.y
		return Index3D(x, y, z)
	}
}

// LinearizeRowMajor maps idx within range to a dense integer, row-major
// (rightmost dimension varies fastest).
func LinearizeRowMajor(idx Index, r Range) int64 {
	switch r.dims {
	case 1:
		return idx.x
	case 2:
		return idx.y + idx.x*r.y
	default:
		return idx.z + idx.y*r.z + idx.x*r.y*r.z
	}
}

// DelinearizeRowMajor is LinearizeRowMajor's inverse.
func DelinearizeRowMajor(lin int64, r Range) Index {
	switch r.dims {
	case 1:
		return Index1D(lin)
	case 2:
		y := lin % r.y
		x := lin / r.y
		return Index2D(x, y)
	default:
		z := lin % r.z
		rest := lin / r.z
		y := rest % r.y
		x := rest / r.y
		return Index3D(x, y, z)
	}
}
