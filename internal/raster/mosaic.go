package raster

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/fernlab/s2downloader/internal/geometry"
)

// ErrEmptyMosaic is returned when no input tile intersects the AOI, so there
// is nothing to composite. Callers treat it as a per-date rejection, not a
// failure of the run.
var ErrEmptyMosaic = errors.New("no tile intersects the area of interest")

// Compositor merges same-projection tile rasters covering an AOI into a
// single grid at the target resolution.
type Compositor struct {
	method Resampling
	logger *slog.Logger
}

// NewCompositor creates a Compositor using the given resampling method.
func NewCompositor(method Resampling, logger *slog.Logger) *Compositor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compositor{method: method, logger: logger}
}

// OutputGrid computes the mosaic target grid for an AOI extent and
// resolution. The origin is snapped so pixel edges fall on multiples of the
// resolution, and the shape is the ceiling of the AOI extent over the pixel
// size.
func OutputGrid(aoi geometry.Bounds, res float64, epsg int) *Grid {
	snapped := aoi.Snap(res)
	width := int(math.Ceil((snapped.Right - snapped.Left) / res))
	height := int(math.Ceil((snapped.Top - snapped.Bottom) / res))
	return NewGrid(width, height, NewTransform(snapped.Left, snapped.Top, res), epsg)
}

// Composite merges tiles onto the AOI output grid. Tiles are applied in input
// order and only fill pixels no earlier tile supplied, so where several tiles
// overlap with valid data the first listed wins; a tile whose pixel is nodata
// never shadows a later tile's value.
//
// Returns ErrEmptyMosaic when no tile extent intersects the AOI.
func (c *Compositor) Composite(tiles []*Grid, aoi geometry.Bounds, res float64) (*Grid, error) {
	if res <= 0 {
		return nil, fmt.Errorf("target resolution must be positive, got %f", res)
	}
	if len(tiles) == 0 {
		return nil, ErrEmptyMosaic
	}

	epsg := tiles[0].EPSG
	for i, tile := range tiles {
		if err := tile.validate(); err != nil {
			return nil, fmt.Errorf("tile %d: %w", i, err)
		}
		if tile.EPSG != epsg {
			return nil, fmt.Errorf("tile %d is in EPSG:%d, expected EPSG:%d: mosaicking requires a single projection", i, tile.EPSG, epsg)
		}
	}

	out := OutputGrid(aoi, res, epsg)

	intersecting := 0
	for _, tile := range tiles {
		if !tile.Bounds().Intersects(out.Bounds()) {
			continue
		}
		intersecting++
		resampleInto(tile, out, c.method)
	}
	if intersecting == 0 {
		return nil, ErrEmptyMosaic
	}

	c.logger.Debug("composited tiles",
		slog.Int("tiles", intersecting),
		slog.Int("width", out.Width),
		slog.Int("height", out.Height),
		slog.String("method", string(c.method)),
	)
	return out, nil
}

// ApplyMask sets to nodata every pixel of g whose position falls outside the
// keep mask. The mask is sampled nearest-neighbour at each pixel centre, so a
// coarser mask (the 20 m SCL grid under a 10 m band) is aligned implicitly.
// Mask pixels with value 1 keep data, everything else discards it.
func ApplyMask(g, keep *Grid) {
	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			x, y := g.Transform.Apply(float64(col)+0.5, float64(row)+0.5)
			mc, mr := keep.Transform.PixelOf(x, y)
			c := int(math.Floor(mc))
			r := int(math.Floor(mr))
			if c < 0 || c >= keep.Width || r < 0 || r >= keep.Height {
				g.Set(col, row, NoData)
				continue
			}
			if keep.At(c, r) != 1 {
				g.Set(col, row, NoData)
			}
		}
	}
}
