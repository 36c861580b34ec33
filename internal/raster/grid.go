// Package raster provides the in-memory raster model, resampling and
// mosaicking used to composite Sentinel-2 tiles over an AOI. Reading and
// writing georeferenced files is delegated to the Source/Writer interfaces;
// the GDAL-backed implementations live in gdal.go.
package raster

import (
	"fmt"
	"math"

	"github.com/fernlab/s2downloader/internal/geometry"
)

// NoData is the sentinel pixel value meaning "no valid measurement". It
// matches the nodata value written to output GeoTIFFs.
const NoData = 0

// Transform is an affine geotransform in the GDAL convention:
// [originX, pixelWidth, 0, originY, 0, -pixelHeight] for north-up rasters.
type Transform [6]float64

// NewTransform builds a north-up transform from the grid origin (top-left
// corner) and a square pixel size.
func NewTransform(originX, originY, res float64) Transform {
	return Transform{originX, res, 0, originY, 0, -res}
}

// Apply maps fractional pixel coordinates to CRS coordinates.
func (t Transform) Apply(col, row float64) (x, y float64) {
	x = t[0] + col*t[1] + row*t[2]
	y = t[3] + col*t[4] + row*t[5]
	return x, y
}

// PixelOf maps CRS coordinates to fractional pixel coordinates. Only valid
// for north-up transforms (no rotation terms).
func (t Transform) PixelOf(x, y float64) (col, row float64) {
	col = (x - t[0]) / t[1]
	row = (y - t[3]) / t[5]
	return col, row
}

// Res returns the pixel size, assuming square pixels.
func (t Transform) Res() float64 { return t[1] }

// Grid is a single-band raster held in memory: pixel values, an affine
// transform and the EPSG code of its CRS. A zero value is the NoData
// sentinel.
type Grid struct {
	Data      []float64
	Width     int
	Height    int
	Transform Transform
	EPSG      int
}

// NewGrid allocates a grid of the given shape filled with NoData.
func NewGrid(width, height int, tr Transform, epsg int) *Grid {
	return &Grid{
		Data:      make([]float64, width*height),
		Width:     width,
		Height:    height,
		Transform: tr,
		EPSG:      epsg,
	}
}

// At returns the pixel value at (col, row). Out-of-range access panics, as
// with a slice.
func (g *Grid) At(col, row int) float64 {
	return g.Data[row*g.Width+col]
}

// Set writes the pixel value at (col, row).
func (g *Grid) Set(col, row int, v float64) {
	g.Data[row*g.Width+col] = v
}

// IsNoData reports whether a value is the nodata sentinel.
func IsNoData(v float64) bool {
	return v == NoData || math.IsNaN(v)
}

// Bounds returns the grid extent in CRS coordinates.
func (g *Grid) Bounds() geometry.Bounds {
	left, top := g.Transform.Apply(0, 0)
	right, bottom := g.Transform.Apply(float64(g.Width), float64(g.Height))
	return geometry.Bounds{Left: left, Bottom: bottom, Right: right, Top: top}
}

// Res returns the grid pixel size in CRS units.
func (g *Grid) Res() float64 { return g.Transform.Res() }

// ValidCount returns the number of pixels carrying data.
func (g *Grid) ValidCount() int {
	n := 0
	for _, v := range g.Data {
		if !IsNoData(v) {
			n++
		}
	}
	return n
}

// validate checks internal consistency before compositing.
func (g *Grid) validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("grid has empty shape %dx%d", g.Width, g.Height)
	}
	if len(g.Data) != g.Width*g.Height {
		return fmt.Errorf("grid data length %d does not match shape %dx%d", len(g.Data), g.Width, g.Height)
	}
	if g.Transform.Res() <= 0 {
		return fmt.Errorf("grid pixel size must be positive, got %f", g.Transform.Res())
	}
	return nil
}
