package raster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/airbusgeo/godal"

	"github.com/fernlab/s2downloader/internal/geometry"
)

// RegisterDrivers initializes the GDAL driver registry. Call once at startup
// before using GDALSource or GDALWriter.
func RegisterDrivers() {
	godal.RegisterAll()
}

// GDALSource reads raster assets through GDAL. Remote COGs are opened over
// the vsicurl virtual filesystem, so only the requested window is fetched.
type GDALSource struct {
	logger *slog.Logger
}

// NewGDALSource creates a GDAL-backed raster source.
func NewGDALSource(logger *slog.Logger) *GDALSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &GDALSource{logger: logger}
}

// floatArg formats a coordinate for a GDAL command-line switch.
func floatArg(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// vsiPath maps an asset href to a GDAL-openable path.
func vsiPath(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return "/vsicurl/" + href
	}
	if strings.HasPrefix(href, "s3://") {
		return "/vsis3/" + strings.TrimPrefix(href, "s3://")
	}
	return href
}

// ReadWindow opens the asset, warps the requested extent into the target CRS
// and returns it as an in-memory grid. With res == 0 the asset's native
// resolution is preserved and nearest resampling is forced, so pixel values
// survive the warp untouched for the compositor to interpolate later.
func (s *GDALSource) ReadWindow(ctx context.Context, href string, epsg int, b geometry.Bounds, res float64, method Resampling) (*Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ds, err := godal.Open(vsiPath(href))
	if err != nil {
		return nil, fmt.Errorf("failed to open raster asset %s: %w", href, err)
	}
	defer ds.Close()

	warpMethod := string(method)
	switches := []string{
		"-of", "MEM",
		"-t_srs", fmt.Sprintf("EPSG:%d", epsg),
		"-te", floatArg(b.Left), floatArg(b.Bottom), floatArg(b.Right), floatArg(b.Top),
	}
	if res > 0 {
		switches = append(switches, "-tr", floatArg(res), floatArg(res))
	} else {
		warpMethod = string(Nearest)
	}
	switches = append(switches, "-r", warpMethod)

	warped, err := ds.Warp("", switches)
	if err != nil {
		return nil, fmt.Errorf("failed to warp raster asset %s: %w", href, err)
	}
	defer warped.Close()

	structure := warped.Structure()
	gt, err := warped.GeoTransform()
	if err != nil {
		return nil, fmt.Errorf("failed to read geotransform: %w", err)
	}

	grid := NewGrid(structure.SizeX, structure.SizeY, Transform(gt), epsg)
	bands := warped.Bands()
	if len(bands) == 0 {
		return nil, fmt.Errorf("raster asset %s has no bands", href)
	}
	if err := bands[0].Read(0, 0, grid.Data, structure.SizeX, structure.SizeY); err != nil {
		return nil, fmt.Errorf("failed to read pixels from %s: %w", href, err)
	}

	s.logger.Debug("read raster window",
		slog.String("href", href),
		slog.Int("width", structure.SizeX),
		slog.Int("height", structure.SizeY),
		slog.Int("epsg", epsg),
	)
	return grid, nil
}

// Reproject transforms a projected extent between CRSs by projecting its
// corner points and taking their envelope.
func (s *GDALSource) Reproject(b geometry.Bounds, fromEPSG, toEPSG int) (geometry.Bounds, error) {
	if fromEPSG == toEPSG {
		return b, nil
	}

	src, err := godal.NewSpatialRefFromEPSG(fromEPSG)
	if err != nil {
		return geometry.Bounds{}, fmt.Errorf("invalid source EPSG:%d: %w", fromEPSG, err)
	}
	defer src.Close()
	dst, err := godal.NewSpatialRefFromEPSG(toEPSG)
	if err != nil {
		return geometry.Bounds{}, fmt.Errorf("invalid target EPSG:%d: %w", toEPSG, err)
	}
	defer dst.Close()

	tr, err := godal.NewTransform(src, dst)
	if err != nil {
		return geometry.Bounds{}, fmt.Errorf("failed to create coordinate transform: %w", err)
	}
	defer tr.Close()

	xs := []float64{b.Left, b.Right, b.Left, b.Right}
	ys := []float64{b.Bottom, b.Bottom, b.Top, b.Top}
	if err := tr.TransformEx(xs, ys, nil, nil); err != nil {
		return geometry.Bounds{}, fmt.Errorf("failed to reproject extent: %w", err)
	}

	out := geometry.Bounds{
		Left:   math.Min(math.Min(xs[0], xs[1]), math.Min(xs[2], xs[3])),
		Right:  math.Max(math.Max(xs[0], xs[1]), math.Max(xs[2], xs[3])),
		Bottom: math.Min(math.Min(ys[0], ys[1]), math.Min(ys[2], ys[3])),
		Top:    math.Max(math.Max(ys[0], ys[1]), math.Max(ys[2], ys[3])),
	}
	return out, nil
}

// GDALWriter persists grids as tiled, compressed GeoTIFFs.
type GDALWriter struct {
	logger *slog.Logger
}

// NewGDALWriter creates a GDAL-backed raster writer.
func NewGDALWriter(logger *slog.Logger) *GDALWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &GDALWriter{logger: logger}
}

// WriteGeoTIFF writes the grid to path, creating parent directories as
// needed. Values are rounded to uint16 unless opts.Float32 is set; nodata is
// always 0.
func (w *GDALWriter) WriteGeoTIFF(path string, g *Grid, opts WriteOptions) error {
	return w.write(path, []*Grid{g}, nil, opts)
}

// WriteStackedGeoTIFF writes the grids as one multi-band GeoTIFF, one band
// per grid in input order, with names as the band descriptions. All grids
// must share extent, resolution and projection.
func (w *GDALWriter) WriteStackedGeoTIFF(path string, grids []*Grid, names []string, opts WriteOptions) error {
	if err := stackConsistent(grids, names); err != nil {
		return err
	}
	return w.write(path, grids, names, opts)
}

func (w *GDALWriter) write(path string, grids []*Grid, names []string, opts WriteOptions) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	g := grids[0]
	dtype := godal.UInt16
	if opts.Float32 {
		dtype = godal.Float32
	}

	ds, err := godal.Create(godal.GTiff, path, len(grids), dtype, g.Width, g.Height,
		godal.CreationOption("COMPRESS=DEFLATE", "TILED=YES"))
	if err != nil {
		return fmt.Errorf("failed to create GeoTIFF %s: %w", path, err)
	}
	defer ds.Close()

	if err := ds.SetGeoTransform([6]float64(g.Transform)); err != nil {
		return fmt.Errorf("failed to set geotransform: %w", err)
	}
	srs, err := godal.NewSpatialRefFromEPSG(g.EPSG)
	if err != nil {
		return fmt.Errorf("invalid EPSG:%d: %w", g.EPSG, err)
	}
	defer srs.Close()
	if err := ds.SetSpatialRef(srs); err != nil {
		return fmt.Errorf("failed to set CRS: %w", err)
	}

	for i, grid := range grids {
		band := ds.Bands()[i]
		if err := band.SetNoData(NoData); err != nil {
			return fmt.Errorf("failed to set nodata: %w", err)
		}
		if names != nil {
			if err := band.SetDescription(names[i]); err != nil {
				return fmt.Errorf("failed to set band description %q: %w", names[i], err)
			}
		}
		if err := writePixels(band, grid, opts); err != nil {
			return fmt.Errorf("failed to write pixels to %s: %w", path, err)
		}
	}

	w.logger.Debug("wrote GeoTIFF",
		slog.String("path", path),
		slog.Int("bands", len(grids)),
		slog.Int("width", g.Width),
		slog.Int("height", g.Height),
	)
	return nil
}

func writePixels(band godal.Band, g *Grid, opts WriteOptions) error {
	if opts.Float32 {
		buf := make([]float32, len(g.Data))
		for i, v := range g.Data {
			if math.IsNaN(v) {
				v = NoData
			}
			buf[i] = float32(v)
		}
		return band.Write(0, 0, buf, g.Width, g.Height)
	}

	buf := make([]uint16, len(g.Data))
	for i, v := range g.Data {
		if IsNoData(v) || v < 0 {
			continue
		}
		r := math.Round(v)
		if r > math.MaxUint16 {
			r = math.MaxUint16
		}
		buf[i] = uint16(r)
	}
	return band.Write(0, 0, buf, g.Width, g.Height)
}

// stackConsistent checks that a band stack forms one coherent raster.
func stackConsistent(grids []*Grid, names []string) error {
	if len(grids) == 0 {
		return errors.New("band stack is empty")
	}
	if names != nil && len(names) != len(grids) {
		return fmt.Errorf("band stack has %d grids but %d names", len(grids), len(names))
	}
	first := grids[0]
	for i, g := range grids[1:] {
		if g.Width != first.Width || g.Height != first.Height {
			return fmt.Errorf("band %d is %dx%d, expected %dx%d: stacking requires a single grid", i+1, g.Width, g.Height, first.Width, first.Height)
		}
		if g.Transform != first.Transform {
			return fmt.Errorf("band %d has a different geotransform: stacking requires a single grid", i+1)
		}
		if g.EPSG != first.EPSG {
			return fmt.Errorf("band %d is in EPSG:%d, expected EPSG:%d: stacking requires a single projection", i+1, g.EPSG, first.EPSG)
		}
	}
	return nil
}
