package raster

import (
	"errors"

	"github.com/montanaflynn/stats"
)

// ErrNoValidPixels is returned when statistics are requested for a grid that
// carries nodata everywhere.
var ErrNoValidPixels = errors.New("grid has no valid pixels")

// Stats summarizes the valid pixels of a composited band. It is recorded per
// written raster so downstream users can sanity-check a mosaic without
// reopening it.
type Stats struct {
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Mean       float64 `json:"mean"`
	Median     float64 `json:"median"`
	StdDev     float64 `json:"std_dev"`
	ValidCount int     `json:"valid_count"`
}

// Summarize computes band statistics over the valid pixels of g.
func Summarize(g *Grid) (Stats, error) {
	valid := make([]float64, 0, len(g.Data))
	for _, v := range g.Data {
		if !IsNoData(v) {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return Stats{}, ErrNoValidPixels
	}

	min, err := stats.Min(valid)
	if err != nil {
		return Stats{}, err
	}
	max, err := stats.Max(valid)
	if err != nil {
		return Stats{}, err
	}
	mean, err := stats.Mean(valid)
	if err != nil {
		return Stats{}, err
	}
	median, err := stats.Median(valid)
	if err != nil {
		return Stats{}, err
	}
	stddev, err := stats.StandardDeviation(valid)
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		Min:        min,
		Max:        max,
		Mean:       mean,
		Median:     median,
		StdDev:     stddev,
		ValidCount: len(valid),
	}, nil
}
