package histo

import (
	"fmt"
	"sort"
)

// SmoothMethod selects the algorithm used by Smooth.
type SmoothMethod string

const (
	// Smooth353QH is the running-median "353QH, twice" smoother with
	// quadratic interpolation of flat segments and Hanning running means.
	Smooth353QH SmoothMethod = "353qh"
	// SmoothMovingAverage is a centred moving average whose half-width is the
	// number of passes.
	SmoothMovingAverage SmoothMethod = "moving-average"
	SmoothNone          SmoothMethod = "none"
)

func ParseSmoothMethod(s string) (SmoothMethod, error) {
	switch m := SmoothMethod(s); m {
	case Smooth353QH, SmoothMovingAverage, SmoothNone:
		return m, nil
	case "":
		return Smooth353QH, nil
	}
	return "", fmt.Errorf("unknown smoothing method %q", s)
}

// Smooth applies the method to the bin contents in place.
func (h *Hist1D) Smooth(method SmoothMethod, passes int) {
	if passes <= 0 {
		return
	}
	switch method {
	case Smooth353QH:
		smooth353QH(h.bins, passes)
	case SmoothMovingAverage:
		movingAverage(h.bins, passes)
	}
}

// movingAverage replaces every bin with the mean of the bins within
// halfWidth of it; the window is truncated at the axis ends.
func movingAverage(xx []float64, halfWidth int) {
	n := len(xx)
	src := make([]float64, n)
	copy(src, xx)
	for i := range xx {
		lo, hi := i-halfWidth, i+halfWidth
		if lo < 0 {
			lo = 0
		}
		if hi > n-1 {
			hi = n - 1
		}
		var sum float64
		for j := lo; j <= hi; j++ {
			sum += src[j]
		}
		xx[i] = sum / float64(hi-lo+1)
	}
}

func median(v ...float64) float64 {
	s := make([]float64, len(v))
	copy(s, v)
	sort.Float64s(s)
	return s[len(s)/2]
}

// smooth353QH runs the 353QH-twice smoother ntimes. Each pass smooths the
// data, then smooths the residuals and adds them back. Inputs without
// negative values stay non-negative.
func smooth353QH(xx []float64, ntimes int) {
	nn := len(xx)
	if nn < 3 {
		return
	}
	yy := make([]float64, nn)
	zz := make([]float64, nn)
	rr := make([]float64, nn)

	for pass := 0; pass < ntimes; pass++ {
		copy(zz, xx)

		for noent := 0; noent < 2; noent++ {
			// running medians of 3, 5 and 3
			for kk := 0; kk < 3; kk++ {
				copy(yy, zz)
				width, first, last := 3, 1, nn-1
				if kk == 1 {
					width, first, last = 5, 2, nn-2
				}
				for ii := first; ii < last; ii++ {
					zz[ii] = median(yy[ii-first : ii-first+width]...)
				}
				switch kk {
				case 0:
					zz[0] = median(zz[1], zz[0], 3*zz[1]-2*zz[2])
					zz[nn-1] = median(zz[nn-2], zz[nn-1], 3*zz[nn-2]-2*zz[nn-3])
				case 1:
					zz[1] = median(yy[0], yy[1], yy[2])
					zz[nn-2] = median(yy[nn-3], yy[nn-2], yy[nn-1])
				}
			}

			copy(yy, zz)

			// quadratic interpolation of flat segments
			for ii := 2; ii < nn-2; ii++ {
				if zz[ii-1] != zz[ii] || zz[ii] != zz[ii+1] {
					continue
				}
				left := zz[ii-2] - zz[ii]
				right := zz[ii+2] - zz[ii]
				if left*right <= 0 {
					continue
				}
				jk := 1
				if abs(right) > abs(left) {
					jk = -1
				}
				yy[ii] = -0.5*zz[ii-2*jk] + zz[ii]/0.75 + zz[ii+2*jk]/6
				yy[ii+jk] = 0.5*(zz[ii+2*jk]-zz[ii-2*jk]) + zz[ii]
			}

			// Hanning running means
			for ii := 1; ii < nn-1; ii++ {
				zz[ii] = 0.25*yy[ii-1] + 0.5*yy[ii] + 0.25*yy[ii+1]
			}
			zz[0] = yy[0]
			zz[nn-1] = yy[nn-1]

			if noent == 0 {
				copy(rr, zz)
				for ii := range zz {
					zz[ii] = xx[ii] - zz[ii]
				}
			}
		}

		xmin := xx[0]
		for _, v := range xx[1:] {
			if v < xmin {
				xmin = v
			}
		}
		for ii := range xx {
			v := rr[ii] + zz[ii]
			if xmin >= 0 && v < 0 {
				v = 0
			}
			xx[ii] = v
		}
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
