package pipeline

import "image"

// resizePlane bilinearly resamples the region r of a single float plane with
// row stride stride to dw x dh. Sample positions use half-pixel centers and
// clamp at the borders, so a constant plane stays constant.
func resizePlane(src []float32, stride int, r image.Rectangle, dw, dh int) []float32 {
	sw, sh := r.Dx(), r.Dy()
	dst := make([]float32, dw*dh)

	xs := make([]tap, dw)
	for x := range xs {
		xs[x] = sample(x, float64(sw)/float64(dw), sw)
	}

	sy := float64(sh) / float64(dh)
	for y := 0; y < dh; y++ {
		ty := sample(y, sy, sh)
		row0 := src[(r.Min.Y+ty.i0)*stride+r.Min.X:]
		row1 := src[(r.Min.Y+ty.i1)*stride+r.Min.X:]
		out := dst[y*dw : (y+1)*dw]
		for x, tx := range xs {
			top := row0[tx.i0]*(1-tx.f) + row0[tx.i1]*tx.f
			bottom := row1[tx.i0]*(1-tx.f) + row1[tx.i1]*tx.f
			out[x] = top*(1-ty.f) + bottom*ty.f
		}
	}
	return dst
}

type tap struct {
	i0, i1 int
	f      float32
}

func sample(i int, scale float64, n int) tap {
	pos := (float64(i)+0.5)*scale - 0.5
	if pos < 0 {
		pos = 0
	}
	i0 := int(pos)
	if i0 >= n-1 {
		return tap{i0: n - 1, i1: n - 1}
	}
	return tap{i0: i0, i1: i0 + 1, f: float32(pos - float64(i0))}
}
