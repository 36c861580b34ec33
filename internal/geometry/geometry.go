// Package geometry provides the AOI bounding box model and the coordinate
// conversions needed to compare a geographic AOI against UTM-gridded scene
// footprints. Projection math itself is delegated to a Reprojector
// implementation (see internal/raster for the GDAL-backed one).
package geometry

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Bounds is an axis-aligned extent in a projected CRS, in CRS units (metres
// for UTM zones).
type Bounds struct {
	Left   float64
	Bottom float64
	Right  float64
	Top    float64
}

// Width returns the horizontal extent in CRS units.
func (b Bounds) Width() float64 { return b.Right - b.Left }

// Height returns the vertical extent in CRS units.
func (b Bounds) Height() float64 { return b.Top - b.Bottom }

// Intersects reports whether the two extents overlap.
func (b Bounds) Intersects(o Bounds) bool {
	return b.Left < o.Right && o.Left < b.Right && b.Bottom < o.Top && o.Bottom < b.Top
}

// Snap aligns the extent outward so that its edges fall on multiples of res.
// The snapped extent always contains the original one.
func (b Bounds) Snap(res float64) Bounds {
	return Bounds{
		Left:   math.Floor(b.Left/res) * res,
		Bottom: math.Floor(b.Bottom/res) * res,
		Right:  math.Ceil(b.Right/res) * res,
		Top:    math.Ceil(b.Top/res) * res,
	}
}

// Reprojector converts an extent between coordinate reference systems,
// identified by EPSG code.
type Reprojector interface {
	Reproject(b Bounds, fromEPSG, toEPSG int) (Bounds, error)
}

// NewBoundingBox validates a [west, south, east, north] geographic bounding
// box and returns it as an orb.Bound. Coordinates must be strictly ordered on
// both axes; a degenerate box is a configuration error, not a valid AOI.
func NewBoundingBox(coords []float64) (orb.Bound, error) {
	if len(coords) != 4 {
		return orb.Bound{}, fmt.Errorf("bounding box must have 4 coordinates, got %d", len(coords))
	}
	west, south, east, north := coords[0], coords[1], coords[2], coords[3]
	if west < -180 || west > 180 || east < -180 || east > 180 {
		return orb.Bound{}, fmt.Errorf("longitude must be between -180 and 180, got [%f, %f]", west, east)
	}
	if south < -90 || south > 90 || north < -90 || north > 90 {
		return orb.Bound{}, fmt.Errorf("latitude must be between -90 and 90, got [%f, %f]", south, north)
	}
	if west >= east || south >= north {
		return orb.Bound{}, fmt.Errorf("bounding box coordinates are not strictly ordered: [%f, %f, %f, %f]", west, south, east, north)
	}
	return orb.Bound{Min: orb.Point{west, south}, Max: orb.Point{east, north}}, nil
}

// BoundSlice converts an orb.Bound back to the [west, south, east, north]
// form used by STAC search requests.
func BoundSlice(b orb.Bound) []float64 {
	return []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
}

// UTMZone returns the UTM zone number covering the centre of the bounding
// box.
func UTMZone(b orb.Bound) int {
	lon := (b.Min[0] + b.Max[0]) / 2
	zone := int(math.Floor((lon+180)/6)) + 1
	if zone < 1 {
		zone = 1
	}
	if zone > 60 {
		zone = 60
	}
	return zone
}

// EPSGForZone returns the WGS84/UTM EPSG code for a zone. Southern-hemisphere
// zones use the 327xx range.
func EPSGForZone(zone int, south bool) int {
	if south {
		return 32700 + zone
	}
	return 32600 + zone
}
