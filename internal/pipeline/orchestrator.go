package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/paulmach/orb"

	"github.com/fernlab/s2downloader/internal/catalog"
	"github.com/fernlab/s2downloader/internal/config"
	"github.com/fernlab/s2downloader/internal/geometry"
	"github.com/fernlab/s2downloader/internal/quality"
	"github.com/fernlab/s2downloader/internal/raster"
)

// Searcher executes a STAC search. Satisfied by catalog.Client.
type Searcher interface {
	Search(ctx context.Context, req *catalog.SearchRequest) ([]catalog.SceneRecord, error)
}

// dateState tracks a date's progress through the pipeline. States only move
// forward; Rejected and Done are terminal.
type dateState string

const (
	statePending        dateState = "pending"
	stateQueried        dateState = "queried"
	stateFiltered       dateState = "filtered"
	stateQualityChecked dateState = "quality_checked"
	stateComposited     dateState = "composited"
	stateWritten        dateState = "written"
	stateRejected       dateState = "rejected"
	stateDone           dateState = "done"
)

// Orchestrator runs the full download workflow for a configured date range.
// Dates are processed independently: any failure inside one date's pipeline
// becomes that date's rejection reason and never aborts the run.
type Orchestrator struct {
	cfg       *config.Config
	searcher  Searcher
	source    raster.Source
	writer    raster.Writer
	fetcher   Fetcher
	reproject geometry.Reprojector
	logger    *slog.Logger
}

// New creates an Orchestrator. All collaborators are required except the
// logger.
func New(cfg *config.Config, searcher Searcher, source raster.Source, writer raster.Writer, fetcher Fetcher, reproject geometry.Reprojector, logger *slog.Logger) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: configuration is required", config.ErrInvalidConfig)
	}
	if searcher == nil || source == nil || writer == nil || fetcher == nil || reproject == nil {
		return nil, errors.New("all pipeline collaborators are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:       cfg,
		searcher:  searcher,
		source:    source,
		writer:    writer,
		fetcher:   fetcher,
		reproject: reproject,
		logger:    logger,
	}, nil
}

type dateResult struct {
	date    string
	outcome SceneOutcome
}

// Run queries the catalog for the configured range, processes each date with
// a bounded worker pool and writes the aggregated summary. The returned
// Summary mirrors the file contents.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	aoi, err := geometry.NewBoundingBox(o.cfg.UserSettings.AOISettings.BoundingBox)
	if err != nil {
		return nil, fmt.Errorf("%w: bounding_box: %v", config.ErrInvalidConfig, err)
	}
	start, end, err := o.cfg.DateRange()
	if err != nil {
		return nil, err
	}
	preds, err := o.cfg.TilePredicates()
	if err != nil {
		return nil, err
	}
	outDir, err := o.cfg.ResultsDir()
	if err != nil {
		return nil, err
	}

	req := catalog.NewQueryBuilder(o.cfg.S2Settings.Collections).Build(aoi, start, end, preds)

	var records []catalog.SceneRecord
	err = withRetry(ctx, o.cfg.Runtime.Retries, o.cfg.Runtime.RetryBackoff, o.logger, "catalog search", func() error {
		searchCtx, cancel := context.WithTimeout(ctx, o.cfg.Runtime.CatalogTimeout)
		defer cancel()
		var searchErr error
		records, searchErr = o.searcher.Search(searchCtx, req)
		return searchErr
	})
	if err != nil {
		return nil, fmt.Errorf("catalog search failed: %w", err)
	}

	groups := catalog.GroupByDate(records)
	dates := catalog.Dates(groups)
	o.logger.InfoContext(ctx, "catalog search complete",
		slog.Int("scenes", len(records)),
		slog.Int("dates", len(dates)),
		slog.String("range", fmt.Sprintf("%s/%s", start.Format("2006-01-02"), end.Format("2006-01-02"))),
	)

	if o.cfg.UserSettings.ResultSettings.DownloadOnlyOneScene {
		dates = latestQualifyingDate(groups, dates, preds, o.logger)
	}

	summary := o.processDates(ctx, aoi, preds, outDir, groups, dates)

	if err := ctx.Err(); err != nil {
		o.logger.WarnContext(ctx, "run cancelled, summary not written")
		return summary, err
	}

	path := SummaryPath(outDir, start, end)
	if err := WriteSummary(path, summary); err != nil {
		return summary, err
	}
	o.logger.InfoContext(ctx, "run complete",
		slog.String("summary", path),
		slog.Int("dates", len(summary)),
	)
	return summary, nil
}

// latestQualifyingDate reduces a single-scene run to the most recent date
// with a qualifying scene. When no date qualifies, all dates are kept so each
// records its rejection.
func latestQualifyingDate(groups map[string][]catalog.SceneRecord, dates []string, preds catalog.TilePredicates, logger *slog.Logger) []string {
	f := catalog.NewSceneFilter(preds, logger)
	for i := len(dates) - 1; i >= 0; i-- {
		if len(f.Qualify(groups[dates[i]])) > 0 {
			logger.Info("single-scene mode, selected most recent date",
				slog.String("date", dates[i]),
				slog.Int("dates_skipped", len(dates)-1),
			)
			return dates[i : i+1]
		}
	}
	return dates
}

// processDates fans the dates out over a bounded worker pool and collects
// one outcome per date. The collector goroutine owns the summary map.
func (o *Orchestrator) processDates(ctx context.Context, aoi orb.Bound, preds catalog.TilePredicates, outDir string, groups map[string][]catalog.SceneRecord, dates []string) Summary {
	workers := o.cfg.Runtime.Concurrency
	if workers > len(dates) {
		workers = len(dates)
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan string)
	results := make(chan dateResult)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for date := range jobs {
				results <- dateResult{date: date, outcome: o.processDate(ctx, date, groups[date], aoi, preds, outDir)}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, date := range dates {
			select {
			case jobs <- date:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	summary := make(Summary, len(dates))
	for r := range results {
		summary[r.date] = r.outcome
	}
	return summary
}

// processDate runs one date's pipeline to its terminal state. Panics are
// converted into a rejection so a malformed asset cannot take the run down.
func (o *Orchestrator) processDate(ctx context.Context, date string, group []catalog.SceneRecord, aoi orb.Bound, preds catalog.TilePredicates, outDir string) (outcome SceneOutcome) {
	logger := o.logger.With(slog.String("date", date))
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "date pipeline panicked", slog.Any("panic", r))
			outcome = rejected(itemRefs(group), 0, 0, fmt.Sprintf("internal error: %v", r))
		}
	}()

	o.transition(ctx, logger, statePending, stateQueried)

	// The catalog already filtered server-side, but the predicates are
	// re-applied here so a permissive catalog cannot leak scenes through.
	scenes := catalog.NewSceneFilter(preds, logger).Qualify(group)
	o.transition(ctx, logger, stateQueried, stateFiltered)
	if len(scenes) == 0 {
		o.transition(ctx, logger, stateFiltered, stateRejected)
		return rejected([]ItemRef{}, 0, 0, "no scene qualified for date")
	}
	scenes = o.selectZone(ctx, logger, aoi, scenes)
	if o.cfg.UserSettings.ResultSettings.DownloadOnlyOneScene {
		scenes = scenes[:1]
	}
	items := itemRefs(scenes)

	res := float64(o.cfg.UserSettings.ResultSettings.TargetResolution)
	epsg := scenes[0].EPSG
	bounds, err := o.reproject.Reproject(aoiBounds(aoi), 4326, epsg)
	if err != nil {
		o.transition(ctx, logger, stateFiltered, stateRejected)
		return rejected(items, 0, 0, fmt.Sprintf("failed to project AOI: %v", err))
	}
	bounds = bounds.Snap(res)

	aoiCfg := o.cfg.UserSettings.AOISettings
	method, err := raster.ParseResampling(aoiCfg.ResamplingMethod)
	if err != nil {
		o.transition(ctx, logger, stateFiltered, stateRejected)
		return rejected(items, 0, 0, err.Error())
	}

	scl, result, keep, err := o.evaluateQuality(ctx, logger, scenes, bounds, res)
	if err != nil {
		o.transition(ctx, logger, stateFiltered, stateRejected)
		return rejected(items, 0, 0, err.Error())
	}
	o.transition(ctx, logger, stateFiltered, stateQualityChecked)
	if !result.Accepted {
		o.transition(ctx, logger, stateQualityChecked, stateRejected)
		return rejected(items, result.NonzeroPct, result.ValidPct, result.Reason)
	}

	outcome = SceneOutcome{
		ItemIDs:       items,
		NonzeroPixels: result.NonzeroPct,
		ValidPixels:   result.ValidPct,
		DataAvailable: true,
	}

	if !o.cfg.UserSettings.ResultSettings.DownloadData {
		o.transition(ctx, logger, stateQualityChecked, stateDone)
		return outcome
	}

	if err := o.writeBands(ctx, logger, scenes, bounds, res, method, keep, outDir); err != nil {
		o.transition(ctx, logger, stateQualityChecked, stateRejected)
		return rejected(items, result.NonzeroPct, result.ValidPct, err.Error())
	}
	o.transition(ctx, logger, stateQualityChecked, stateComposited)

	if aoiCfg.ApplySCLBandMask {
		name := fmt.Sprintf("%s_%s_SCL.tif", date, scenes[0].PlatformShort())
		if err := o.writer.WriteGeoTIFF(filepath.Join(outDir, name), scl, raster.WriteOptions{}); err != nil {
			o.transition(ctx, logger, stateComposited, stateRejected)
			return rejected(items, result.NonzeroPct, result.ValidPct, fmt.Sprintf("failed to write classification band: %v", err))
		}
	}
	o.fetchPreviews(ctx, logger, scenes, outDir)
	o.transition(ctx, logger, stateComposited, stateWritten)

	o.transition(ctx, logger, stateWritten, stateDone)
	return outcome
}

// selectZone keeps the scenes of the UTM zone the date's mosaic will be
// built in. Mosaicking requires a single projection, so when catalog hits
// span two zones (an AOI near a zone boundary) the zone covering the AOI
// centre wins if any scene carries it, otherwise the first qualifying
// scene's zone; scenes from the other zone are dropped, not fatal.
func (o *Orchestrator) selectZone(ctx context.Context, logger *slog.Logger, aoi orb.Bound, scenes []catalog.SceneRecord) []catalog.SceneRecord {
	south := aoi.Min[1]+aoi.Max[1] < 0
	epsg := scenes[0].EPSG
	if best := geometry.EPSGForZone(geometry.UTMZone(aoi), south); best != epsg {
		for _, s := range scenes {
			if s.EPSG == best {
				epsg = best
				break
			}
		}
	}

	kept := make([]catalog.SceneRecord, 0, len(scenes))
	for _, s := range scenes {
		if s.EPSG != epsg {
			logger.DebugContext(ctx, "dropping scene outside mosaic zone",
				slog.String("scene", s.ID),
				slog.Int("epsg", s.EPSG),
				slog.Int("target_epsg", epsg),
			)
			continue
		}
		kept = append(kept, s)
	}
	return kept
}

// evaluateQuality mosaics the classification band over the AOI and runs the
// pixel quality checks. The keep grid is nil unless masking accepted the
// date.
func (o *Orchestrator) evaluateQuality(ctx context.Context, logger *slog.Logger, scenes []catalog.SceneRecord, bounds geometry.Bounds, res float64) (*raster.Grid, quality.Result, *raster.Grid, error) {
	aoiCfg := o.cfg.UserSettings.AOISettings

	tiles, err := o.readTiles(ctx, logger, scenes, catalog.AssetSCL, bounds, res, raster.Nearest)
	if err != nil {
		return nil, quality.Result{}, nil, err
	}

	// The classification codes are categorical, so the mosaic always uses
	// nearest neighbour regardless of the configured method.
	scl, err := raster.NewCompositor(raster.Nearest, logger).Composite(tiles, bounds, res)
	if err != nil {
		if errors.Is(err, raster.ErrEmptyMosaic) {
			return nil, quality.Result{}, nil, errors.New("no classification data intersects the AOI")
		}
		return nil, quality.Result{}, nil, fmt.Errorf("failed to mosaic classification band: %w", err)
	}

	eval := quality.NewEvaluator(
		aoiCfg.ApplySCLBandMask,
		aoiCfg.SCLFilterValues,
		aoiCfg.AOIMinCoverage,
		aoiCfg.SCLMaskValidPixelsMinPercentage,
		logger,
	)
	result, keep, err := eval.Evaluate(scl)
	if err != nil {
		return nil, quality.Result{}, nil, err
	}
	return scl, result, keep, nil
}

// writeBands fetches and mosaics every configured band concurrently, then
// writes either one file per band or a single stacked file. The first failed
// band in configuration order rejects the date.
func (o *Orchestrator) writeBands(ctx context.Context, logger *slog.Logger, scenes []catalog.SceneRecord, bounds geometry.Bounds, res float64, method raster.Resampling, keep *raster.Grid, outDir string) error {
	bands := o.cfg.UserSettings.TileSettings.Bands
	opts := raster.WriteOptions{Float32: o.cfg.UserSettings.ResultSettings.SaveRasterDtypeFloat32}
	platform := scenes[0].PlatformShort()
	date := scenes[0].Date()

	mosaics := make([]*raster.Grid, len(bands))
	errs := make([]error, len(bands))
	var wg sync.WaitGroup
	for i, band := range bands {
		wg.Add(1)
		go func(i int, band string) {
			defer wg.Done()
			mosaics[i], errs[i] = o.compositeBand(ctx, logger, scenes, band, bounds, res, method, keep)
		}(i, band)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	if o.cfg.UserSettings.ResultSettings.RasterStacking {
		path := filepath.Join(outDir, fmt.Sprintf("%s_%s_stack.tif", date, platform))
		if err := o.writer.WriteStackedGeoTIFF(path, mosaics, bands, opts); err != nil {
			return fmt.Errorf("failed to write band stack: %w", err)
		}
		return nil
	}

	for i, band := range bands {
		path := filepath.Join(outDir, fmt.Sprintf("%s_%s_%s.tif", date, platform, band))
		if err := o.writer.WriteGeoTIFF(path, mosaics[i], opts); err != nil {
			return fmt.Errorf("band %s: %w", band, err)
		}
	}
	return nil
}

func (o *Orchestrator) compositeBand(ctx context.Context, logger *slog.Logger, scenes []catalog.SceneRecord, band string, bounds geometry.Bounds, res float64, method raster.Resampling, keep *raster.Grid) (*raster.Grid, error) {
	tiles, err := o.readTiles(ctx, logger, scenes, band, bounds, res, method)
	if err != nil {
		return nil, fmt.Errorf("band %s: %w", band, err)
	}

	mosaic, err := raster.NewCompositor(method, logger).Composite(tiles, bounds, res)
	if err != nil {
		return nil, fmt.Errorf("band %s: %w", band, err)
	}
	if keep != nil {
		raster.ApplyMask(mosaic, keep)
	}

	if stats, err := raster.Summarize(mosaic); err == nil {
		logger.DebugContext(ctx, "band composited",
			slog.String("band", band),
			slog.Float64("min", stats.Min),
			slog.Float64("max", stats.Max),
			slog.Float64("mean", stats.Mean),
			slog.Int("valid_pixels", stats.ValidCount),
		)
	}
	return mosaic, nil
}

// readTiles reads the asset window of every scene, in qualifying order.
func (o *Orchestrator) readTiles(ctx context.Context, logger *slog.Logger, scenes []catalog.SceneRecord, asset string, bounds geometry.Bounds, res float64, method raster.Resampling) ([]*raster.Grid, error) {
	tiles := make([]*raster.Grid, 0, len(scenes))
	for _, scene := range scenes {
		href, err := scene.Asset(asset)
		if err != nil {
			return nil, err
		}
		var tile *raster.Grid
		err = withRetry(ctx, o.cfg.Runtime.Retries, o.cfg.Runtime.RetryBackoff, logger, fmt.Sprintf("read %s of %s", asset, scene.ID), func() error {
			readCtx, cancel := context.WithTimeout(ctx, o.cfg.Runtime.FetchTimeout)
			defer cancel()
			var readErr error
			tile, readErr = o.source.ReadWindow(readCtx, href, scene.EPSG, bounds, res, method)
			return readErr
		})
		if err != nil {
			return nil, err
		}
		tiles = append(tiles, tile)
	}
	return tiles, nil
}

// fetchPreviews downloads the per-scene thumbnail and overview images when
// enabled. Preview failures are logged but never reject the date.
func (o *Orchestrator) fetchPreviews(ctx context.Context, logger *slog.Logger, scenes []catalog.SceneRecord, outDir string) {
	rs := o.cfg.UserSettings.ResultSettings
	for _, scene := range scenes {
		prefix := fmt.Sprintf("%s_%s_%s_0_L2A", scene.PlatformShort(), scene.TileID(), scene.Date())
		if rs.DownloadThumbnails {
			o.fetchPreview(ctx, logger, scene, catalog.AssetThumbnail, filepath.Join(outDir, prefix+"_preview.jpg"))
		}
		if rs.DownloadOverviews {
			o.fetchPreview(ctx, logger, scene, catalog.AssetOverview, filepath.Join(outDir, prefix+"_L2A_PVI.tif"))
		}
	}
}

func (o *Orchestrator) fetchPreview(ctx context.Context, logger *slog.Logger, scene catalog.SceneRecord, asset, dest string) {
	href, err := scene.Asset(asset)
	if err != nil {
		logger.WarnContext(ctx, "preview asset missing",
			slog.String("scene", scene.ID),
			slog.String("asset", asset),
		)
		return
	}
	err = withRetry(ctx, o.cfg.Runtime.Retries, o.cfg.Runtime.RetryBackoff, logger, fmt.Sprintf("fetch %s of %s", asset, scene.ID), func() error {
		return o.fetcher.Fetch(ctx, href, dest)
	})
	if err != nil {
		logger.WarnContext(ctx, "preview download failed",
			slog.String("scene", scene.ID),
			slog.String("asset", asset),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Orchestrator) transition(ctx context.Context, logger *slog.Logger, from, to dateState) {
	logger.DebugContext(ctx, "state transition",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
}

// itemRefs never returns nil: an outcome without scenes still marshals its
// item_ids as an empty list.
func itemRefs(scenes []catalog.SceneRecord) []ItemRef {
	refs := make([]ItemRef, len(scenes))
	for i, s := range scenes {
		refs[i] = ItemRef{ID: s.ID}
	}
	return refs
}

func aoiBounds(b orb.Bound) geometry.Bounds {
	return geometry.Bounds{Left: b.Min[0], Bottom: b.Min[1], Right: b.Max[0], Top: b.Max[1]}
}
