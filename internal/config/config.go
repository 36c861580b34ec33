// Package config provides configuration loading and validation for the
// Sentinel-2 downloader. The pipeline configuration comes from a JSON file;
// runtime tunables (timeouts, concurrency) come from the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/fernlab/s2downloader/internal/catalog"
	"github.com/fernlab/s2downloader/internal/quality"
	"github.com/fernlab/s2downloader/internal/raster"
)

// ErrInvalidConfig marks fatal configuration errors. They abort the run
// before any processing starts; every other error class is scoped to a
// single date.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete validated configuration of one run.
type Config struct {
	UserSettings UserSettings `json:"user_settings"`
	S2Settings   S2Settings   `json:"s2_settings"`

	// Runtime holds environment-derived tunables, not part of the JSON
	// schema.
	Runtime Runtime `json:"-"`
}

// UserSettings groups the user-facing pipeline settings.
type UserSettings struct {
	TileSettings   TileSettings   `json:"tile_settings"`
	AOISettings    AOISettings    `json:"aoi_settings"`
	ResultSettings ResultSettings `json:"result_settings"`
}

// TileSettings carries the tile-level scene predicates and the band list.
// Predicate values use the one-key object form, e.g. {"lt": 20}.
type TileSettings struct {
	Platform     map[string]any `json:"platform"`
	DataCoverage map[string]any `json:"sentinel:data_coverage"`
	UTMZone      map[string]any `json:"sentinel:utm_zone"`
	LatitudeBand map[string]any `json:"sentinel:latitude_band"`
	GridSquare   map[string]any `json:"sentinel:grid_square"`
	CloudCover   map[string]any `json:"eo:cloud_cover"`
	Bands        []string       `json:"bands"`
}

// AOISettings describes the area of interest and the quality thresholds.
type AOISettings struct {
	BoundingBox                     []float64 `json:"bounding_box"`
	ApplySCLBandMask                bool      `json:"apply_SCL_band_mask"`
	SCLFilterValues                 []int     `json:"SCL_filter_values"`
	SCLMaskValidPixelsMinPercentage float64   `json:"SCL_mask_valid_pixels_min_percentage"`
	AOIMinCoverage                  float64   `json:"aoi_min_coverage"`
	ResamplingMethod                string    `json:"resampling_method"`
	DateRange                       []string  `json:"date_range"`
}

// ResultSettings controls outputs and what gets downloaded.
type ResultSettings struct {
	ResultsDir             string `json:"results_dir"`
	TargetResolution       int    `json:"target_resolution"`
	DownloadData           bool   `json:"download_data"`
	DownloadThumbnails     bool   `json:"download_thumbnails"`
	DownloadOverviews      bool   `json:"download_overviews"`
	DownloadOnlyOneScene   bool   `json:"download_only_one_scene"`
	RasterStacking         bool   `json:"raster_stacking"`
	SaveRasterDtypeFloat32 bool   `json:"save_raster_dtype_float32"`
	LoggingLevel           string `json:"logging_level"`
}

// S2Settings identifies the catalog to search.
type S2Settings struct {
	Collections    []string `json:"collections"`
	StacCatalogURL string   `json:"stac_catalog_url"`
}

// Runtime holds environment-derived tunables, prefixed S2DL_.
type Runtime struct {
	CatalogTimeout time.Duration `env:"CATALOG_TIMEOUT" envDefault:"30s"`
	FetchTimeout   time.Duration `env:"FETCH_TIMEOUT" envDefault:"5m"`
	Concurrency    int           `env:"CONCURRENCY" envDefault:"4"`
	Retries        int           `env:"RETRIES" envDefault:"3"`
	RetryBackoff   time.Duration `env:"RETRY_BACKOFF" envDefault:"2s"`
	LogFormat      string        `env:"LOG_FORMAT" envDefault:"text"`
}

// Default returns a configuration carrying the same defaults as the
// reference deployment. Loading a file merges over these.
func Default() *Config {
	return &Config{
		UserSettings: UserSettings{
			TileSettings: TileSettings{
				Platform:     map[string]any{"in": []any{"sentinel-2a", "sentinel-2b"}},
				DataCoverage: map[string]any{"gt": 10.0},
				CloudCover:   map[string]any{"lt": 20.0},
				Bands:        []string{"B02", "B03", "B05"},
			},
			AOISettings: AOISettings{
				ApplySCLBandMask: true,
				SCLFilterValues:  quality.DefaultFilterClasses(),
				ResamplingMethod: string(raster.Cubic),
			},
			ResultSettings: ResultSettings{
				TargetResolution: 10,
				DownloadData:     true,
				LoggingLevel:     "info",
			},
		},
		S2Settings: S2Settings{
			Collections:    []string{"sentinel-s2-l2a-cogs"},
			StacCatalogURL: "https://earth-search.aws.element84.com/v0",
		},
		Runtime: Runtime{
			CatalogTimeout: 30 * time.Second,
			FetchTimeout:   5 * time.Minute,
			Concurrency:    4,
			Retries:        3,
			RetryBackoff:   2 * time.Second,
			LogFormat:      "text",
		},
	}
}

// Load reads and validates the configuration file at path and applies
// environment overrides for the runtime settings.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open config file: %v", ErrInvalidConfig, err)
	}
	defer f.Close()

	cfg := Default()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config file: %v", ErrInvalidConfig, err)
	}

	opts := env.Options{Prefix: "S2DL_"}
	if err := env.ParseWithOptions(&cfg.Runtime, opts); err != nil {
		return nil, fmt.Errorf("%w: failed to parse environment: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against the supported value ranges.
// All violations are ErrInvalidConfig.
func (c *Config) Validate() error {
	ts := c.UserSettings.TileSettings
	for _, p := range []struct {
		name string
		spec map[string]any
	}{
		{"platform", ts.Platform},
		{"sentinel:data_coverage", ts.DataCoverage},
		{"sentinel:utm_zone", ts.UTMZone},
		{"sentinel:latitude_band", ts.LatitudeBand},
		{"sentinel:grid_square", ts.GridSquare},
		{"eo:cloud_cover", ts.CloudCover},
	} {
		if _, err := catalog.ParsePredicate(p.spec); err != nil {
			return fmt.Errorf("%w: tile_settings.%s: %v", ErrInvalidConfig, p.name, err)
		}
	}
	for _, field := range []struct {
		name string
		spec map[string]any
	}{
		{"sentinel:data_coverage", ts.DataCoverage},
		{"eo:cloud_cover", ts.CloudCover},
	} {
		if err := validatePercentageSpec(field.spec); err != nil {
			return fmt.Errorf("%w: tile_settings.%s: %v", ErrInvalidConfig, field.name, err)
		}
	}

	if len(ts.Bands) == 0 {
		return fmt.Errorf("%w: tile_settings.bands must not be empty", ErrInvalidConfig)
	}
	seenBands := make(map[string]bool, len(ts.Bands))
	for _, b := range ts.Bands {
		if !catalog.IsSupportedBand(b) {
			return fmt.Errorf("%w: unsupported band %q, supported bands are %v", ErrInvalidConfig, b, catalog.SupportedBands)
		}
		if seenBands[b] {
			return fmt.Errorf("%w: duplicate band %q", ErrInvalidConfig, b)
		}
		seenBands[b] = true
	}

	aoi := c.UserSettings.AOISettings
	if len(aoi.BoundingBox) != 4 {
		return fmt.Errorf("%w: bounding_box must have 4 coordinates, got %d", ErrInvalidConfig, len(aoi.BoundingBox))
	}
	if aoi.BoundingBox[0] >= aoi.BoundingBox[2] || aoi.BoundingBox[1] >= aoi.BoundingBox[3] {
		return fmt.Errorf("%w: bounding_box coordinates are not strictly ordered", ErrInvalidConfig)
	}
	if err := quality.ValidateSCLClasses(aoi.SCLFilterValues); err != nil {
		return fmt.Errorf("%w: SCL_filter_values: %v", ErrInvalidConfig, err)
	}
	if aoi.ApplySCLBandMask && len(aoi.SCLFilterValues) == 0 {
		return fmt.Errorf("%w: SCL_filter_values must not be empty when apply_SCL_band_mask is set", ErrInvalidConfig)
	}
	if aoi.SCLMaskValidPixelsMinPercentage < 0 || aoi.SCLMaskValidPixelsMinPercentage > 100 {
		return fmt.Errorf("%w: SCL_mask_valid_pixels_min_percentage must be between 0 and 100, got %f", ErrInvalidConfig, aoi.SCLMaskValidPixelsMinPercentage)
	}
	if aoi.AOIMinCoverage < 0 || aoi.AOIMinCoverage > 100 {
		return fmt.Errorf("%w: aoi_min_coverage must be between 0 and 100, got %f", ErrInvalidConfig, aoi.AOIMinCoverage)
	}
	if _, err := raster.ParseResampling(aoi.ResamplingMethod); err != nil {
		return fmt.Errorf("%w: resampling_method: %v", ErrInvalidConfig, err)
	}
	if _, _, err := c.DateRange(); err != nil {
		return err
	}

	rs := c.UserSettings.ResultSettings
	if rs.ResultsDir == "" {
		return fmt.Errorf("%w: results_dir must not be empty", ErrInvalidConfig)
	}
	switch rs.TargetResolution {
	case 10, 20, 60:
	default:
		return fmt.Errorf("%w: target_resolution must be 10, 20 or 60, got %d", ErrInvalidConfig, rs.TargetResolution)
	}
	switch rs.LoggingLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: invalid logging_level %q, must be one of: debug, info, warn, error", ErrInvalidConfig, rs.LoggingLevel)
	}

	if len(c.S2Settings.Collections) == 0 {
		return fmt.Errorf("%w: s2_settings.collections must not be empty", ErrInvalidConfig)
	}
	if c.S2Settings.StacCatalogURL == "" {
		return fmt.Errorf("%w: s2_settings.stac_catalog_url must not be empty", ErrInvalidConfig)
	}

	if c.Runtime.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1, got %d", ErrInvalidConfig, c.Runtime.Concurrency)
	}
	if c.Runtime.Retries < 0 {
		return fmt.Errorf("%w: retries must be non-negative, got %d", ErrInvalidConfig, c.Runtime.Retries)
	}

	return nil
}

// validatePercentageSpec enforces the schema constraint on the coverage
// predicates: comparisons against values between 0 and 100.
func validatePercentageSpec(spec map[string]any) error {
	for _, raw := range spec {
		f, ok := raw.(float64)
		if !ok {
			return fmt.Errorf("value must be a number, got %T", raw)
		}
		if f < 0 || f > 100 {
			return fmt.Errorf("value must be between 0 and 100, got %v", f)
		}
	}
	return nil
}

// DateRange parses the configured range. A single entry means a single-day
// request. Dates are ISO (YYYY-MM-DD) and the range is inclusive.
func (c *Config) DateRange() (time.Time, time.Time, error) {
	dr := c.UserSettings.AOISettings.DateRange
	if len(dr) == 0 || len(dr) > 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: date_range must have 1 or 2 dates, got %d", ErrInvalidConfig, len(dr))
	}

	start, err := time.Parse("2006-01-02", dr[0])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: invalid date %q: %v", ErrInvalidConfig, dr[0], err)
	}
	end := start
	if len(dr) == 2 {
		end, err = time.Parse("2006-01-02", dr[1])
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: invalid date %q: %v", ErrInvalidConfig, dr[1], err)
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: date_range start %s is after end %s", ErrInvalidConfig, dr[0], dr[1])
	}
	return start, end, nil
}

// TilePredicates builds the typed predicate set from the tile settings.
// Call only after Validate.
func (c *Config) TilePredicates() (catalog.TilePredicates, error) {
	ts := c.UserSettings.TileSettings

	var preds catalog.TilePredicates
	var err error
	if preds.Platform, err = catalog.ParsePredicate(ts.Platform); err != nil {
		return preds, fmt.Errorf("%w: platform: %v", ErrInvalidConfig, err)
	}
	if preds.DataCoverage, err = catalog.ParsePredicate(ts.DataCoverage); err != nil {
		return preds, fmt.Errorf("%w: data coverage: %v", ErrInvalidConfig, err)
	}
	if preds.CloudCover, err = catalog.ParsePredicate(ts.CloudCover); err != nil {
		return preds, fmt.Errorf("%w: cloud cover: %v", ErrInvalidConfig, err)
	}
	if preds.UTMZone, err = catalog.ParsePredicate(ts.UTMZone); err != nil {
		return preds, fmt.Errorf("%w: utm zone: %v", ErrInvalidConfig, err)
	}
	if preds.LatitudeBand, err = catalog.ParsePredicate(ts.LatitudeBand); err != nil {
		return preds, fmt.Errorf("%w: latitude band: %v", ErrInvalidConfig, err)
	}
	if preds.GridSquare, err = catalog.ParsePredicate(ts.GridSquare); err != nil {
		return preds, fmt.Errorf("%w: grid square: %v", ErrInvalidConfig, err)
	}
	return preds, nil
}

// ResultsDir returns the absolute results directory.
func (c *Config) ResultsDir() (string, error) {
	dir := c.UserSettings.ResultSettings.ResultsDir
	if filepath.IsAbs(dir) {
		return dir, nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("%w: results_dir: %v", ErrInvalidConfig, err)
	}
	return abs, nil
}

// LogLevel maps the configured logging level onto slog levels.
func (c *Config) LogLevel() string {
	return c.UserSettings.ResultSettings.LoggingLevel
}
