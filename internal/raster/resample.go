package raster

import (
	"fmt"
	"math"
	"strings"
)

// Resampling selects the interpolation kernel used when a tile is resampled
// onto the output grid.
type Resampling string

const (
	// Nearest takes the value of the closest source pixel.
	Nearest Resampling = "nearest"
	// Bilinear interpolates linearly between the four surrounding pixels.
	Bilinear Resampling = "bilinear"
	// Cubic applies a cubic convolution over the surrounding 4x4 window.
	Cubic Resampling = "cubic"
)

// ParseResampling validates a resampling method name from configuration.
func ParseResampling(s string) (Resampling, error) {
	switch Resampling(strings.ToLower(s)) {
	case Nearest:
		return Nearest, nil
	case Bilinear:
		return Bilinear, nil
	case Cubic:
		return Cubic, nil
	default:
		return "", fmt.Errorf("unsupported resampling method %q, must be one of: nearest, bilinear, cubic", s)
	}
}

// resampleInto samples src onto dst, writing only destination pixels that are
// still nodata. Filling only empty pixels is what gives the compositor its
// first-tile-wins overlap rule.
//
// When src is already aligned to dst (same resolution, pixel edges on the
// same lattice) pixels are copied directly regardless of method, so an
// aligned input is reproduced bit for bit.
func resampleInto(src, dst *Grid, method Resampling) {
	if src.EPSG != dst.EPSG {
		// Cross-CRS warping is the reader's job; tiles reaching the
		// compositor share a projection.
		return
	}
	if aligned(src, dst) {
		copyAligned(src, dst)
		return
	}

	for row := 0; row < dst.Height; row++ {
		for col := 0; col < dst.Width; col++ {
			if !IsNoData(dst.At(col, row)) {
				continue
			}
			// Destination pixel centre in CRS coordinates.
			x, y := dst.Transform.Apply(float64(col)+0.5, float64(row)+0.5)
			v, ok := sample(src, x, y, method)
			if ok {
				dst.Set(col, row, v)
			}
		}
	}
}

// aligned reports whether src pixels coincide exactly with dst pixels.
func aligned(src, dst *Grid) bool {
	if src.Res() != dst.Res() {
		return false
	}
	res := dst.Res()
	dx := (src.Transform[0] - dst.Transform[0]) / res
	dy := (src.Transform[3] - dst.Transform[3]) / res
	const eps = 1e-9
	return math.Abs(dx-math.Round(dx)) < eps && math.Abs(dy-math.Round(dy)) < eps
}

// copyAligned copies the overlapping window of an aligned source without
// touching its values.
func copyAligned(src, dst *Grid) {
	res := dst.Res()
	colOff := int(math.Round((src.Transform[0] - dst.Transform[0]) / res))
	rowOff := int(math.Round((dst.Transform[3] - src.Transform[3]) / res))

	for sr := 0; sr < src.Height; sr++ {
		dr := sr + rowOff
		if dr < 0 || dr >= dst.Height {
			continue
		}
		for sc := 0; sc < src.Width; sc++ {
			dc := sc + colOff
			if dc < 0 || dc >= dst.Width {
				continue
			}
			if !IsNoData(dst.At(dc, dr)) {
				continue
			}
			dst.Set(dc, dr, src.At(sc, sr))
		}
	}
}

// sample evaluates src at CRS position (x, y) with the given kernel. The
// second return value is false when the position falls outside the source or
// only nodata pixels contribute.
func sample(src *Grid, x, y float64, method Resampling) (float64, bool) {
	col, row := src.Transform.PixelOf(x, y)

	switch method {
	case Bilinear:
		if v, ok := sampleBilinear(src, col, row); ok {
			return v, true
		}
		return sampleNearest(src, col, row)
	case Cubic:
		if v, ok := sampleCubic(src, col, row); ok {
			return v, true
		}
		if v, ok := sampleBilinear(src, col, row); ok {
			return v, true
		}
		return sampleNearest(src, col, row)
	default:
		return sampleNearest(src, col, row)
	}
}

func sampleNearest(src *Grid, col, row float64) (float64, bool) {
	c := int(math.Floor(col))
	r := int(math.Floor(row))
	if c < 0 || c >= src.Width || r < 0 || r >= src.Height {
		return 0, false
	}
	v := src.At(c, r)
	if IsNoData(v) {
		return 0, false
	}
	return v, true
}

// sampleBilinear interpolates between the four pixels surrounding the
// position. It reports false when any contributor is nodata or out of range,
// letting the caller fall back to nearest.
func sampleBilinear(src *Grid, col, row float64) (float64, bool) {
	fc := col - 0.5
	fr := row - 0.5
	c0 := int(math.Floor(fc))
	r0 := int(math.Floor(fr))
	tx := fc - float64(c0)
	ty := fr - float64(r0)

	var vals [4]float64
	idx := 0
	for dr := 0; dr <= 1; dr++ {
		for dc := 0; dc <= 1; dc++ {
			c := c0 + dc
			r := r0 + dr
			if c < 0 || c >= src.Width || r < 0 || r >= src.Height {
				return 0, false
			}
			v := src.At(c, r)
			if IsNoData(v) {
				return 0, false
			}
			vals[idx] = v
			idx++
		}
	}

	top := vals[0]*(1-tx) + vals[1]*tx
	bottom := vals[2]*(1-tx) + vals[3]*tx
	return top*(1-ty) + bottom*ty, true
}

// cubicWeight is the cubic convolution kernel with a = -0.5 (Catmull-Rom).
func cubicWeight(t float64) float64 {
	const a = -0.5
	t = math.Abs(t)
	switch {
	case t <= 1:
		return (a+2)*t*t*t - (a+3)*t*t + 1
	case t < 2:
		return a*t*t*t - 5*a*t*t + 8*a*t - 4*a
	default:
		return 0
	}
}

// sampleCubic applies cubic convolution over the 4x4 neighbourhood. It
// reports false when the full window is not available or carries nodata.
func sampleCubic(src *Grid, col, row float64) (float64, bool) {
	fc := col - 0.5
	fr := row - 0.5
	c0 := int(math.Floor(fc))
	r0 := int(math.Floor(fr))
	tx := fc - float64(c0)
	ty := fr - float64(r0)

	var sum, wsum float64
	for dr := -1; dr <= 2; dr++ {
		r := r0 + dr
		if r < 0 || r >= src.Height {
			return 0, false
		}
		wy := cubicWeight(float64(dr) - ty)
		for dc := -1; dc <= 2; dc++ {
			c := c0 + dc
			if c < 0 || c >= src.Width {
				return 0, false
			}
			v := src.At(c, r)
			if IsNoData(v) {
				return 0, false
			}
			w := cubicWeight(float64(dc)-tx) * wy
			sum += v * w
			wsum += w
		}
	}
	if wsum == 0 {
		return 0, false
	}
	return sum / wsum, true
}
