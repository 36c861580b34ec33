package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const searchResponse = `{
	"type": "FeatureCollection",
	"features": [
		{
			"type": "Feature",
			"stac_version": "1.0.0",
			"id": "S2A_33UUU_20210904_0_L2A",
			"collection": "sentinel-s2-l2a-cogs",
			"geometry": null,
			"properties": {
				"datetime": "2021-09-04T10:15:51Z",
				"platform": "sentinel-2a",
				"eo:cloud_cover": 11.4,
				"sentinel:data_coverage": 98.2,
				"sentinel:utm_zone": 33,
				"sentinel:latitude_band": "U",
				"sentinel:grid_square": "UU",
				"proj:epsg": 32633
			},
			"assets": {
				"B02": {"href": "https://example.com/B02.tif"},
				"SCL": {"href": "https://example.com/SCL.tif"},
				"thumbnail": {"href": "https://example.com/preview.jpg"}
			}
		}
	]
}`

func TestClientSearch(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody SearchRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Write([]byte(searchResponse))
	}))
	defer server.Close()

	c := NewClient(server.URL, 5*time.Second).WithLogger(slog.New(slog.DiscardHandler))
	records, err := c.Search(context.Background(), &SearchRequest{
		Collections: []string{"sentinel-s2-l2a-cogs"},
		BBox:        []float64{13.0, 52.3, 13.8, 52.7},
		DateTime:    "2021-09-04T00:00:00Z/2021-09-04T23:59:59Z",
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("expected POST, got %s", gotMethod)
	}
	if gotPath != "/search" {
		t.Errorf("expected /search path, got %s", gotPath)
	}
	if len(gotBody.Collections) != 1 {
		t.Errorf("request body collections = %v", gotBody.Collections)
	}

	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r.ID != "S2A_33UUU_20210904_0_L2A" {
		t.Errorf("id = %s", r.ID)
	}
	if r.Platform != "sentinel-2a" {
		t.Errorf("platform = %s", r.Platform)
	}
	if r.CloudCover != 11.4 {
		t.Errorf("cloud cover = %f", r.CloudCover)
	}
	if r.DataCoverage != 98.2 {
		t.Errorf("data coverage = %f", r.DataCoverage)
	}
	if r.UTMZone != 33 || r.LatitudeBand != "U" || r.GridSquare != "UU" {
		t.Errorf("tile identity = %d%s%s", r.UTMZone, r.LatitudeBand, r.GridSquare)
	}
	if r.EPSG != 32633 {
		t.Errorf("epsg = %d", r.EPSG)
	}
	if r.Date() != "20210904" {
		t.Errorf("date = %s", r.Date())
	}
	if r.TileID() != "33UUU" {
		t.Errorf("tile id = %s", r.TileID())
	}
	if r.PlatformShort() != "S2A" {
		t.Errorf("platform short = %s", r.PlatformShort())
	}
	if href, err := r.Asset("SCL"); err != nil || href != "https://example.com/SCL.tif" {
		t.Errorf("SCL asset = %q, %v", href, err)
	}
	if _, err := r.Asset("B09"); err == nil {
		t.Error("expected error for missing asset")
	}
}

func TestClientSearchFollowsNextLinks(t *testing.T) {
	feature := func(id string) string {
		return `{"type": "Feature", "stac_version": "1.0.0", "id": "` + id + `", "geometry": null,
			"properties": {"datetime": "2021-09-04T10:15:51Z", "platform": "sentinel-2a"}, "assets": {}}`
	}

	var bodies []map[string]any
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		bodies = append(bodies, body)

		if len(bodies) == 1 {
			w.Write([]byte(`{"type": "FeatureCollection",
				"features": [` + feature("page1-a") + `, ` + feature("page1-b") + `],
				"links": [{"rel": "next", "href": "` + server.URL + `/search", "method": "POST",
					"merge": true, "body": {"page": 2}}]}`))
			return
		}
		w.Write([]byte(`{"type": "FeatureCollection", "features": [` + feature("page2-a") + `]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, 5*time.Second).WithLogger(slog.New(slog.DiscardHandler))
	records, err := c.Search(context.Background(), &SearchRequest{
		Collections: []string{"sentinel-s2-l2a-cogs"},
		Limit:       2,
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("expected 3 records across pages, got %d", len(records))
	}
	if records[0].ID != "page1-a" || records[2].ID != "page2-a" {
		t.Errorf("records out of catalog order: %s ... %s", records[0].ID, records[2].ID)
	}

	if len(bodies) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(bodies))
	}
	// The merged follow-up request keeps the original fields and adds the
	// paging token.
	if got := bodies[1]["page"]; got != 2.0 {
		t.Errorf("second request page = %v, want 2", got)
	}
	if _, ok := bodies[1]["collections"]; !ok {
		t.Error("second request lost the original collections field")
	}
}

func TestClientSearchNextLinkWithoutBody(t *testing.T) {
	var methods []string
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if len(methods) == 1 {
			w.Write([]byte(`{"type": "FeatureCollection", "features": [],
				"links": [{"rel": "next", "href": "` + server.URL + `/search?page=2"}]}`))
			return
		}
		w.Write([]byte(`{"type": "FeatureCollection", "features": []}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, 5*time.Second).WithLogger(slog.New(slog.DiscardHandler))
	if _, err := c.Search(context.Background(), &SearchRequest{}); err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(methods) != 2 || methods[1] != http.MethodGet {
		t.Errorf("expected POST then GET, got %v", methods)
	}
}

func TestClientSearchServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewClient(server.URL, 5*time.Second).WithLogger(slog.New(slog.DiscardHandler))
	_, err := c.Search(context.Background(), &SearchRequest{})
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestClientSearchSkipsMalformedItems(t *testing.T) {
	// One feature has no datetime and must be skipped, not fail the search.
	response := `{"type": "FeatureCollection", "features": [
		{"type": "Feature", "stac_version": "1.0.0", "id": "broken", "geometry": null, "properties": {}, "assets": {}},
		{"type": "Feature", "stac_version": "1.0.0", "id": "good", "geometry": null,
		 "properties": {"datetime": "2021-09-04T10:15:51Z", "platform": "sentinel-2b"}, "assets": {}}
	]}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(response))
	}))
	defer server.Close()

	c := NewClient(server.URL, 5*time.Second).WithLogger(slog.New(slog.DiscardHandler))
	records, err := c.Search(context.Background(), &SearchRequest{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != "good" {
		t.Errorf("expected only the well-formed record, got %v", records)
	}
}
