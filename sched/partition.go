package sched

import "github.com/evochora/evochora-sub010/environment"

// band is a contiguous, half-open range [Lo, Hi) along the partition axis.
// Organisms whose position falls in a band belong to that band's worker for
// the parallel step phase; every write an organism issues during that phase
// is queued rather than applied, so bands only decide which worker steps
// which organisms, not which writes are safe to apply immediately.
type band struct{ Lo, Hi int32 }

// bands splits axisLen into p contiguous row-bands covering [0, axisLen),
// the simplest partition strategy named for row-band partitioning along the
// major axis.
func bands(axisLen int32, p int) []band {
	if p < 1 {
		p = 1
	}
	if int64(p) > int64(axisLen) {
		p = int(axisLen)
		if p < 1 {
			p = 1
		}
	}
	out := make([]band, p)
	base := axisLen / int32(p)
	rem := axisLen % int32(p)
	lo := int32(0)
	for i := 0; i < p; i++ {
		width := base
		if int32(i) < rem {
			width++
		}
		out[i] = band{Lo: lo, Hi: lo + width}
		lo += width
	}
	return out
}

// bandIndexOf returns which band a coordinate on the partition axis belongs
// to, clamping to the nearest band for any value that (due to wraparound or
// an out-of-range position) falls outside every band's declared range.
func bandIndexOf(v int32, bs []band) int {
	for i, b := range bs {
		if v >= b.Lo && v < b.Hi {
			return i
		}
	}
	if v < bs[0].Lo {
		return 0
	}
	return len(bs) - 1
}

// majorAxisValue reads the coordinate component the partitioner splits on.
func majorAxisValue(c environment.Coord, axis int) int32 { return c[axis] }
