package quality

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/fernlab/s2downloader/internal/raster"
)

// ErrEmptyWindow is returned when the classification grid clipped to the AOI
// has no pixels at all.
var ErrEmptyWindow = errors.New("classification window has no pixels")

// Evaluator decides whether a date's imagery is fit for use, from the SCL
// band clipped to the AOI.
type Evaluator struct {
	maskEnabled bool
	excluded    map[int]bool
	minCoverage float64 // minimum percentage of non-nodata pixels in the AOI
	minValid    float64 // minimum percentage of pixels surviving the mask
	logger      *slog.Logger
}

// NewEvaluator creates an Evaluator. filterClasses is only consulted when
// maskEnabled is set.
func NewEvaluator(maskEnabled bool, filterClasses []int, minCoverage, minValid float64, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	excluded := make(map[int]bool, len(filterClasses))
	for _, c := range filterClasses {
		excluded[c] = true
	}
	return &Evaluator{
		maskEnabled: maskEnabled,
		excluded:    excluded,
		minCoverage: minCoverage,
		minValid:    minValid,
		logger:      logger,
	}
}

// Result is the outcome of a pixel quality evaluation.
type Result struct {
	// NonzeroPct is the percentage of AOI pixels carrying data.
	NonzeroPct float64
	// ValidPct is the percentage of data-carrying pixels surviving the mask.
	// Equal to NonzeroPct when masking is disabled.
	ValidPct float64
	// Accepted reports whether both thresholds were met.
	Accepted bool
	// Reason is a human-readable rejection reason, empty on acceptance.
	Reason string
}

// Evaluate computes the coverage percentages for the AOI and decides
// acceptance. Thresholds are inclusive: a percentage exactly at the threshold
// passes. The returned keep grid marks pixels that survive masking with 1 and
// is nil when the date is rejected or masking is disabled.
func (e *Evaluator) Evaluate(scl *raster.Grid) (Result, *raster.Grid, error) {
	total := len(scl.Data)
	if total == 0 {
		return Result{}, nil, ErrEmptyWindow
	}

	valid := 0
	for _, v := range scl.Data {
		if !raster.IsNoData(v) {
			valid++
		}
	}
	nonzeroPct := 100 * float64(valid) / float64(total)

	if nonzeroPct < e.minCoverage {
		reason := fmt.Sprintf("AOI coverage below threshold: %.2f%% < %.2f%%", nonzeroPct, e.minCoverage)
		e.logger.Info("date rejected", slog.String("reason", reason))
		return Result{NonzeroPct: nonzeroPct, ValidPct: nonzeroPct, Reason: reason}, nil, nil
	}

	if !e.maskEnabled {
		e.logger.Debug("pixel quality accepted",
			slog.Float64("nonzero_pct", nonzeroPct),
		)
		return Result{NonzeroPct: nonzeroPct, ValidPct: nonzeroPct, Accepted: true}, nil, nil
	}

	keep := raster.NewGrid(scl.Width, scl.Height, scl.Transform, scl.EPSG)
	kept := 0
	for i, v := range scl.Data {
		if raster.IsNoData(v) {
			continue
		}
		if e.excluded[classOf(v)] {
			continue
		}
		keep.Data[i] = 1
		kept++
	}
	// The mask percentage is relative to the pixels that carry data, not the
	// whole AOI: a tile edge crossing the AOI must not double-penalize.
	validPct := 100 * float64(kept) / float64(valid)

	if validPct < e.minValid {
		reason := fmt.Sprintf("mask validity below threshold: %.2f%% < %.2f%%", validPct, e.minValid)
		e.logger.Info("date rejected", slog.String("reason", reason))
		return Result{NonzeroPct: nonzeroPct, ValidPct: validPct, Reason: reason}, nil, nil
	}

	e.logger.Debug("pixel quality accepted",
		slog.Float64("nonzero_pct", nonzeroPct),
		slog.Float64("valid_pct", validPct),
	)
	return Result{NonzeroPct: nonzeroPct, ValidPct: validPct, Accepted: true}, keep, nil
}

// classOf truncates a pixel value to its SCL class code. Classification
// pixels are small integers; anything out of taxonomy is treated as its
// rounded code and will simply never be in the excluded set.
func classOf(v float64) int {
	return int(math.Round(v))
}
