package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	gostac "github.com/planetlabs/go-stac"
)

// Client handles communication with a STAC API endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new STAC API client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger for the client.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// maxSearchPages bounds pagination so a catalog serving a cyclic next link
// cannot hang a run.
const maxSearchPages = 100

// searchLink is a hypermedia link of a search response. Paging catalogs
// return a "next" link, either as a GET href or as a POST body to merge with
// the original request.
type searchLink struct {
	Rel    string          `json:"rel"`
	Href   string          `json:"href"`
	Method string          `json:"method,omitempty"`
	Merge  bool            `json:"merge,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// itemCollection is the FeatureCollection shape of a STAC search response.
type itemCollection struct {
	Type     string         `json:"type"`
	Features []*gostac.Item `json:"features"`
	Links    []searchLink   `json:"links,omitempty"`
}

// Search executes a POST search against the catalog, following "next" links
// until the result set is exhausted, and returns the matching scene records
// in catalog order.
func (c *Client) Search(ctx context.Context, req *SearchRequest) ([]SceneRecord, error) {
	searchURL, err := url.JoinPath(c.baseURL, "search")
	if err != nil {
		return nil, fmt.Errorf("invalid catalog URL: %w", err)
	}

	origBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	c.logger.DebugContext(ctx, "executing catalog search",
		slog.String("url", searchURL),
		slog.String("datetime", req.DateTime),
		slog.Int("collections", len(req.Collections)),
	)

	var records []SceneRecord
	features := 0
	method, pageURL, body := http.MethodPost, searchURL, origBody
	for page := 1; ; page++ {
		result, err := c.searchPage(ctx, method, pageURL, body)
		if err != nil {
			return nil, err
		}
		features += len(result.Features)
		for _, item := range result.Features {
			record, err := RecordFromItem(item)
			if err != nil {
				c.logger.WarnContext(ctx, "skipping malformed catalog item",
					slog.String("error", err.Error()),
				)
				continue
			}
			records = append(records, record)
		}

		next := nextLink(result.Links)
		if next == nil {
			break
		}
		if page >= maxSearchPages {
			c.logger.WarnContext(ctx, "stopping catalog pagination",
				slog.Int("pages", page),
				slog.Int("records", len(records)),
			)
			break
		}
		method, pageURL, body, err = c.nextPageRequest(searchURL, origBody, next)
		if err != nil {
			return nil, err
		}
	}

	c.logger.DebugContext(ctx, "catalog search completed",
		slog.Int("feature_count", features),
		slog.Int("record_count", len(records)),
	)
	return records, nil
}

// searchPage issues one search request and decodes its FeatureCollection.
func (c *Client) searchPage(ctx context.Context, method, pageURL string, body []byte) (*itemCollection, error) {
	var reader io.Reader
	if method == http.MethodPost {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, pageURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if method == http.MethodPost {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/geo+json")
	httpReq.Header.Set("User-Agent", "s2downloader/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.ErrorContext(ctx, "catalog request failed",
			slog.String("error", err.Error()),
			slog.String("url", pageURL),
		)
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		c.logger.ErrorContext(ctx, "catalog returned non-200 status",
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", string(respBody)),
		)
		return nil, fmt.Errorf("catalog returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result itemCollection
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode catalog response: %w", err)
	}
	return &result, nil
}

// nextPageRequest turns a "next" link into the follow-up request. A link
// without a body is followed as a plain GET; a body with merge set is laid
// over the original request.
func (c *Client) nextPageRequest(searchURL string, origBody []byte, link *searchLink) (method, pageURL string, body []byte, err error) {
	pageURL = link.Href
	if pageURL == "" {
		pageURL = searchURL
	}

	if len(link.Body) == 0 {
		return http.MethodGet, pageURL, nil, nil
	}

	body = link.Body
	if link.Merge {
		var merged map[string]any
		if err := json.Unmarshal(origBody, &merged); err != nil {
			return "", "", nil, fmt.Errorf("failed to merge next page request: %w", err)
		}
		var patch map[string]any
		if err := json.Unmarshal(link.Body, &patch); err != nil {
			return "", "", nil, fmt.Errorf("malformed next link body: %w", err)
		}
		for k, v := range patch {
			merged[k] = v
		}
		if body, err = json.Marshal(merged); err != nil {
			return "", "", nil, fmt.Errorf("failed to encode next page request: %w", err)
		}
	}
	return http.MethodPost, pageURL, body, nil
}

// nextLink returns the pagination link, or nil on the last page.
func nextLink(links []searchLink) *searchLink {
	for i := range links {
		if links[i].Rel == "next" {
			return &links[i]
		}
	}
	return nil
}
