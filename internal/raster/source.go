package raster

import (
	"context"

	"github.com/fernlab/s2downloader/internal/geometry"
)

// Source reads a window of pixels from a remote or local raster asset,
// warped into the requested CRS. A zero target resolution keeps the asset's
// native resolution, leaving interpolation to the Compositor.
type Source interface {
	ReadWindow(ctx context.Context, href string, epsg int, b geometry.Bounds, res float64, method Resampling) (*Grid, error)
}

// WriteOptions controls the on-disk representation of a grid.
type WriteOptions struct {
	// Float32 keeps pixel values unrounded; the default writes uint16 with
	// nodata 0, matching the sensor's native range.
	Float32 bool
}

// Writer persists grids as georeferenced files. WriteStackedGeoTIFF writes
// one multi-band file, one band per grid in input order, with names as the
// band descriptions.
type Writer interface {
	WriteGeoTIFF(path string, g *Grid, opts WriteOptions) error
	WriteStackedGeoTIFF(path string, grids []*Grid, names []string, opts WriteOptions) error
}
