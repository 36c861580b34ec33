package catalog

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fernlab/s2downloader/internal/geometry"
)

func TestBuildSearchRequest(t *testing.T) {
	aoi, err := geometry.NewBoundingBox([]float64{13.0, 52.3, 13.8, 52.7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	start := time.Date(2021, 9, 4, 0, 0, 0, 0, time.UTC)
	end := time.Date(2021, 9, 5, 0, 0, 0, 0, time.UTC)

	preds := TilePredicates{
		Platform:     In("sentinel-2a", "sentinel-2b"),
		CloudCover:   Lt(20),
		DataCoverage: Gt(10),
	}

	b := NewQueryBuilder([]string{"sentinel-s2-l2a-cogs"})
	req := b.Build(aoi, start, end, preds)

	if len(req.Collections) != 1 || req.Collections[0] != "sentinel-s2-l2a-cogs" {
		t.Errorf("collections = %v", req.Collections)
	}
	if len(req.BBox) != 4 || req.BBox[0] != 13.0 || req.BBox[3] != 52.7 {
		t.Errorf("bbox = %v", req.BBox)
	}
	if req.DateTime != "2021-09-04T00:00:00Z/2021-09-05T23:59:59Z" {
		t.Errorf("datetime = %q", req.DateTime)
	}
	if req.FilterLang != "cql2-json" {
		t.Errorf("filter-lang = %q", req.FilterLang)
	}
	if req.Filter == nil {
		t.Fatal("expected a CQL2 filter")
	}
	if len(req.Sortby) != 1 || req.Sortby[0].Direction != "desc" {
		t.Errorf("sortby = %v", req.Sortby)
	}
}

func TestBuildSearchRequestSingleDay(t *testing.T) {
	aoi, _ := geometry.NewBoundingBox([]float64{13.0, 52.3, 13.8, 52.7})
	day := time.Date(2021, 9, 4, 0, 0, 0, 0, time.UTC)

	b := NewQueryBuilder([]string{"sentinel-s2-l2a-cogs"})
	req := b.Build(aoi, day, day, TilePredicates{})

	if req.DateTime != "2021-09-04T00:00:00Z/2021-09-04T23:59:59Z" {
		t.Errorf("datetime = %q", req.DateTime)
	}
	if req.Filter != nil {
		t.Error("no predicates must mean no filter")
	}
	if req.FilterLang != "" {
		t.Errorf("filter-lang should be empty without a filter, got %q", req.FilterLang)
	}
}

func TestSearchRequestSerializesFilter(t *testing.T) {
	aoi, _ := geometry.NewBoundingBox([]float64{13.0, 52.3, 13.8, 52.7})
	day := time.Date(2021, 9, 4, 0, 0, 0, 0, time.UTC)

	preds := TilePredicates{CloudCover: Lt(20)}
	req := NewQueryBuilder([]string{"sentinel-s2-l2a-cogs"}).Build(aoi, day, day, preds)

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	s := string(body)
	if !strings.Contains(s, "eo:cloud_cover") {
		t.Errorf("serialized request missing cloud cover property: %s", s)
	}
	if !strings.Contains(s, `"filter-lang":"cql2-json"`) {
		t.Errorf("serialized request missing filter-lang: %s", s)
	}
}
