package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Fetcher downloads an asset to a local file. Used for the preview images
// that bypass the raster pipeline.
type Fetcher interface {
	Fetch(ctx context.Context, href, dest string) error
}

// HTTPFetcher downloads assets over HTTP. S3 hrefs are rewritten to their
// public HTTPS form, matching how the open Sentinel-2 buckets are exposed.
type HTTPFetcher struct {
	client *http.Client
	logger *slog.Logger
}

// NewHTTPFetcher creates an HTTPFetcher with the given request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{Timeout: timeout},
		logger: slog.Default(),
	}
}

// WithLogger sets the logger and returns the fetcher for chaining.
func (f *HTTPFetcher) WithLogger(logger *slog.Logger) *HTTPFetcher {
	f.logger = logger
	return f
}

// Fetch streams href into dest, creating parent directories as needed. A
// failed download never leaves a partial file at dest.
func (f *HTTPFetcher) Fetch(ctx context.Context, href, dest string) error {
	url, err := httpHref(href)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "s2downloader/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("asset request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("asset %s returned status %d", url, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".fetch_*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to download asset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close downloaded asset: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move asset into place: %w", err)
	}

	f.logger.DebugContext(ctx, "fetched asset",
		slog.String("href", url),
		slog.String("dest", dest),
		slog.Int64("bytes", n),
	)
	return nil
}

// httpHref maps an asset href to a fetchable HTTPS URL.
func httpHref(href string) (string, error) {
	switch {
	case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		return href, nil
	case strings.HasPrefix(href, "s3://"):
		rest := strings.TrimPrefix(href, "s3://")
		bucket, key, ok := strings.Cut(rest, "/")
		if !ok {
			return "", fmt.Errorf("malformed s3 href %q", href)
		}
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", bucket, key), nil
	default:
		return "", fmt.Errorf("unsupported asset href %q", href)
	}
}

// withRetry runs fn up to retries+1 times with exponential backoff, honoring
// context cancellation between attempts.
func withRetry(ctx context.Context, retries int, backoff time.Duration, logger *slog.Logger, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			wait := backoff << (attempt - 1)
			logger.WarnContext(ctx, "retrying after failure",
				slog.String("operation", op),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", wait),
				slog.String("error", err.Error()),
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, retries+1, err)
}
