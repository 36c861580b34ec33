// Package catalog talks to the STAC catalog: it builds search requests from
// the user's tile constraints, parses returned items into scene records and
// applies the tile-level scene filter.
package catalog

import (
	"fmt"
	"strings"
	"time"

	gostac "github.com/planetlabs/go-stac"
)

// Asset keys used by the Sentinel-2 L2A collection.
const (
	AssetSCL       = "SCL"
	AssetThumbnail = "thumbnail"
	AssetOverview  = "overview"
)

// Bands supported by the Sentinel-2 MSI instrument, in catalog asset-key
// form.
var SupportedBands = []string{
	"B01", "B02", "B03", "B04", "B05", "B06", "B07",
	"B08", "B8A", "B09", "B10", "B11", "B12",
}

// IsSupportedBand reports whether name is one of the 12-band enumeration.
func IsSupportedBand(name string) bool {
	for _, b := range SupportedBands {
		if b == name {
			return true
		}
	}
	return false
}

// SceneRecord is one catalog entry for a single satellite acquisition tile.
// It lives only for the duration of one date's processing; the outcome record
// keeps just the identifier.
type SceneRecord struct {
	ID           string
	Datetime     time.Time
	Platform     string
	CloudCover   float64
	DataCoverage float64
	UTMZone      int
	LatitudeBand string
	GridSquare   string
	EPSG         int
	Assets       map[string]string
}

// Date returns the acquisition date in the YYYYMMDD form used for grouping
// and file naming.
func (r SceneRecord) Date() string {
	return r.Datetime.UTC().Format("20060102")
}

// TileID returns the MGRS tile identity, e.g. "33UUU".
func (r SceneRecord) TileID() string {
	return fmt.Sprintf("%d%s%s", r.UTMZone, r.LatitudeBand, r.GridSquare)
}

// PlatformShort maps the platform name to its short form ("sentinel-2a" ->
// "S2A").
func (r SceneRecord) PlatformShort() string {
	switch strings.ToLower(r.Platform) {
	case "sentinel-2a":
		return "S2A"
	case "sentinel-2b":
		return "S2B"
	default:
		return strings.ToUpper(strings.ReplaceAll(r.Platform, "sentinel-", "S"))
	}
}

// Asset returns the href for an asset key, or an error naming the missing
// asset.
func (r SceneRecord) Asset(key string) (string, error) {
	href, ok := r.Assets[key]
	if !ok || href == "" {
		return "", fmt.Errorf("scene %s has no %q asset", r.ID, key)
	}
	return href, nil
}

// RecordFromItem extracts a SceneRecord from a STAC item's properties and
// assets.
func RecordFromItem(item *gostac.Item) (SceneRecord, error) {
	if item == nil {
		return SceneRecord{}, fmt.Errorf("nil STAC item")
	}

	r := SceneRecord{
		ID:     item.Id,
		Assets: make(map[string]string, len(item.Assets)),
	}
	for key, asset := range item.Assets {
		if asset != nil {
			r.Assets[key] = asset.Href
		}
	}

	props := item.Properties

	dt, ok := props["datetime"].(string)
	if !ok {
		return SceneRecord{}, fmt.Errorf("item %s has no datetime property", item.Id)
	}
	parsed, err := time.Parse(time.RFC3339, dt)
	if err != nil {
		// Some catalog deployments omit the zone designator.
		parsed, err = time.Parse("2006-01-02T15:04:05", dt)
		if err != nil {
			return SceneRecord{}, fmt.Errorf("item %s has unparsable datetime %q: %w", item.Id, dt, err)
		}
	}
	r.Datetime = parsed.UTC()

	r.Platform, _ = props[PropPlatform].(string)
	r.CloudCover = floatProp(props, PropCloudCover)
	r.DataCoverage = floatProp(props, PropDataCoverage)
	r.UTMZone = int(floatProp(props, PropUTMZone))
	r.LatitudeBand, _ = props[PropLatitudeBand].(string)
	r.GridSquare, _ = props[PropGridSquare].(string)

	if epsg := floatProp(props, "proj:epsg"); epsg != 0 {
		r.EPSG = int(epsg)
	} else if r.UTMZone != 0 {
		south := r.LatitudeBand != "" && r.LatitudeBand < "N"
		if south {
			r.EPSG = 32700 + r.UTMZone
		} else {
			r.EPSG = 32600 + r.UTMZone
		}
	}

	return r, nil
}

func floatProp(props map[string]any, name string) float64 {
	if f, ok := toFloat(props[name]); ok {
		return f
	}
	return 0
}
