package catalog

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/planetlabs/go-ogc/filter"

	"github.com/fernlab/s2downloader/internal/geometry"
)

// SortbyItem is one sort criterion of a STAC search request.
type SortbyItem struct {
	Field     string `json:"field"`
	Direction string `json:"direction"` // "asc" or "desc"
}

// SearchRequest is the body of a STAC POST /search call.
type SearchRequest struct {
	Collections []string       `json:"collections,omitempty"`
	BBox        []float64      `json:"bbox,omitempty"`
	DateTime    string         `json:"datetime,omitempty"`
	Limit       int            `json:"limit,omitempty"`
	Sortby      []SortbyItem   `json:"sortby,omitempty"`
	Filter      *filter.Filter `json:"filter,omitempty"`
	FilterLang  string         `json:"filter-lang,omitempty"`
}

// QueryBuilder translates the user's tile constraints into STAC search
// requests. It is pure: the same inputs always produce the same request.
type QueryBuilder struct {
	collections []string
	limit       int
}

// NewQueryBuilder creates a QueryBuilder for the given catalog collections.
func NewQueryBuilder(collections []string) *QueryBuilder {
	return &QueryBuilder{collections: collections, limit: 100}
}

// Build assembles the search request for one AOI and an inclusive date
// range. Non-absent tile predicates become a CQL2-JSON filter; results are
// sorted by acquisition time descending so the newest scene comes first.
func (b *QueryBuilder) Build(aoi orb.Bound, start, end time.Time, preds TilePredicates) *SearchRequest {
	req := &SearchRequest{
		Collections: b.collections,
		BBox:        geometry.BoundSlice(aoi),
		DateTime:    formatInterval(start, end),
		Limit:       b.limit,
		Sortby: []SortbyItem{
			{Field: "properties.datetime", Direction: "desc"},
		},
	}

	if exprs := preds.Expressions(); len(exprs) > 0 {
		req.FilterLang = "cql2-json"
		if len(exprs) == 1 {
			req.Filter = &filter.Filter{Expression: exprs[0]}
		} else {
			req.Filter = &filter.Filter{Expression: &filter.And{Args: exprs}}
		}
	}

	return req
}

// formatInterval renders an inclusive date range as a STAC datetime
// interval covering whole days in UTC.
func formatInterval(start, end time.Time) string {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, time.UTC)
	return fmt.Sprintf("%s/%s", s.Format(time.RFC3339), e.Format(time.RFC3339))
}
