package catalog

import (
	"log/slog"
	"sort"
)

// SceneFilter applies the tile-level predicates to candidate scene records
// and resolves duplicate tile deliveries.
type SceneFilter struct {
	preds  TilePredicates
	logger *slog.Logger
}

// NewSceneFilter creates a SceneFilter for the given predicate set.
func NewSceneFilter(preds TilePredicates, logger *slog.Logger) *SceneFilter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SceneFilter{preds: preds, logger: logger}
}

// Qualify returns the records of a single date that satisfy every non-absent
// predicate, preserving input order. With an all-absent predicate set every
// record qualifies.
//
// When two qualifying records share the same UTM zone, latitude band and grid
// square (the same tile delivered twice), the later one in input order wins
// and takes the earlier one's position.
func (f *SceneFilter) Qualify(records []SceneRecord) []SceneRecord {
	qualifying := make([]SceneRecord, 0, len(records))
	byTile := make(map[string]int, len(records))

	for _, r := range records {
		if !f.preds.Matches(r) {
			f.logger.Debug("scene rejected by tile predicates",
				slog.String("id", r.ID),
				slog.Float64("cloud_cover", r.CloudCover),
				slog.Float64("data_coverage", r.DataCoverage),
			)
			continue
		}
		tile := r.TileID()
		if idx, seen := byTile[tile]; seen {
			f.logger.Debug("duplicate tile delivery, later record wins",
				slog.String("tile", tile),
				slog.String("replaced", qualifying[idx].ID),
				slog.String("kept", r.ID),
			)
			qualifying[idx] = r
			continue
		}
		byTile[tile] = len(qualifying)
		qualifying = append(qualifying, r)
	}

	return qualifying
}

// GroupByDate splits records into per-date groups, preserving input order
// within each group.
func GroupByDate(records []SceneRecord) map[string][]SceneRecord {
	groups := make(map[string][]SceneRecord)
	for _, r := range records {
		date := r.Date()
		groups[date] = append(groups[date], r)
	}
	return groups
}

// Dates returns the sorted list of dates present in a grouping.
func Dates(groups map[string][]SceneRecord) []string {
	dates := make([]string, 0, len(groups))
	for d := range groups {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}
