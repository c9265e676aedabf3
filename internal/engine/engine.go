// Package engine orchestrates the full verification pipeline: normalize the
// raw track, map-match each segment, resolve and filter POIs, fetch ambient
// context, and assemble one TruthBundle per retained point. The engine owns
// the bundle cache and delegates backend selection to the mode arbiter.
package engine

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/geotruth/engine/internal/arbiter"
	"github.com/geotruth/engine/internal/bundle"
	"github.com/geotruth/engine/internal/cache"
	"github.com/geotruth/engine/internal/geo"
	"github.com/geotruth/engine/internal/match"
	"github.com/geotruth/engine/internal/monitoring"
	"github.com/geotruth/engine/internal/poi"
	"github.com/geotruth/engine/internal/spatial"
	"github.com/geotruth/engine/internal/timeutil"
	"github.com/geotruth/engine/internal/track"
	"github.com/geotruth/engine/internal/visibility"
)

// Input limits and option defaults.
const (
	MaxTrackPoints = 1000

	MinRadiusM     = 1.0
	MaxRadiusM     = 5000.0
	DefaultRadiusM = 500.0

	// DefaultOnlineWorkers bounds per-point concurrency against remote
	// backends; offline work defaults to one worker per CPU.
	DefaultOnlineWorkers = 4
)

// eventIDSpace namespaces the deterministic per-point event IDs.
var eventIDSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("geotruth://bundle"))

// Options are the caller-facing knobs for one Verify call. The zero value
// selects every default.
type Options struct {
	RadiusM        float64             `json:"radius_m,omitempty"`
	Categories     []string            `json:"categories,omitempty"`
	Mode           arbiter.RequestMode `json:"mode,omitempty"`
	FOVDeg         float64             `json:"fov_deg,omitempty"`
	CheckOcclusion bool                `json:"check_occlusion,omitempty"`
	POILimit       int                 `json:"poi_limit,omitempty"`
}

// withDefaults validates the options and fills in defaults.
func (o Options) withDefaults() (Options, error) {
	if o.Mode == "" {
		o.Mode = arbiter.ModeAuto
	}
	if !o.Mode.Valid() {
		return o, fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, o.Mode)
	}
	if o.RadiusM == 0 {
		o.RadiusM = DefaultRadiusM
	}
	if o.RadiusM < MinRadiusM || o.RadiusM > MaxRadiusM {
		return o, fmt.Errorf("%w: radius %v m outside [%v, %v]", ErrInvalidInput, o.RadiusM, MinRadiusM, MaxRadiusM)
	}
	if o.FOVDeg == 0 {
		o.FOVDeg = visibility.DefaultFOVDeg
	}
	if o.FOVDeg < 0 || o.FOVDeg > 360 {
		return o, fmt.Errorf("%w: fov %v outside (0, 360]", ErrInvalidInput, o.FOVDeg)
	}
	if o.POILimit < 0 {
		return o, fmt.Errorf("%w: negative poi limit %d", ErrInvalidInput, o.POILimit)
	}
	return o, nil
}

// Config tunes an Engine. Zero-valued fields select defaults.
type Config struct {
	Match      match.Config
	Normalizer track.NormalizerConfig
	CacheTTL   time.Duration

	// Elevation enables terrain occlusion checks when present.
	Elevation visibility.ElevationSampler

	Clock          timeutil.Clock
	OfflineWorkers int
	OnlineWorkers  int
}

// Engine is the verification pipeline. Safe for concurrent use; the bundle
// cache is its only mutable state.
type Engine struct {
	arb   *arbiter.Arbiter
	cache *cache.BundleCache
	norm  *track.Normalizer

	matchCfg match.Config
	elev     visibility.ElevationSampler
	clock    timeutil.Clock

	offlineWorkers int
	onlineWorkers  int
}

// New creates an Engine over the arbiter's backends.
func New(arb *arbiter.Arbiter, cfg Config) (*Engine, error) {
	if arb == nil {
		return nil, fmt.Errorf("engine: nil arbiter")
	}
	if cfg.Match == (match.Config{}) {
		cfg.Match = match.DefaultConfig()
	}
	if err := cfg.Match.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.OfflineWorkers <= 0 {
		cfg.OfflineWorkers = runtime.GOMAXPROCS(0)
	}
	if cfg.OnlineWorkers <= 0 {
		cfg.OnlineWorkers = DefaultOnlineWorkers
	}
	return &Engine{
		arb:            arb,
		cache:          cache.New(cfg.CacheTTL, cfg.Clock),
		norm:           track.NewNormalizer(cfg.Normalizer),
		matchCfg:       cfg.Match,
		elev:           cfg.Elevation,
		clock:          cfg.Clock,
		offlineWorkers: cfg.OfflineWorkers,
		onlineWorkers:  cfg.OnlineWorkers,
	}, nil
}

// Cache exposes the bundle cache for sweeper wiring and stats.
func (e *Engine) Cache() *cache.BundleCache { return e.cache }

// Verify runs the pipeline over a raw track and returns one TruthBundle per
// retained point, in chronological order. The whole request is served by a
// single mode; per-point enrichment failures degrade that point's bundle
// rather than failing the request.
func (e *Engine) Verify(ctx context.Context, points []track.Point, opts Options) ([]bundle.TruthBundle, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	if err := validatePoints(points); err != nil {
		return nil, err
	}

	segments, err := e.norm.Normalize(points)
	if err != nil {
		return nil, err
	}

	var bundles []bundle.TruthBundle
	mode, err := e.arb.Run(ctx, opts.Mode, func(ctx context.Context, b arbiter.Backends) error {
		out, err := e.verifyWith(ctx, b, segments, opts)
		if err != nil {
			return err
		}
		bundles = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	monitoring.Debugf("engine: verified %d points in %s mode", len(bundles), mode)
	return bundles, nil
}

// validatePoints enforces input size and coordinate ranges.
func validatePoints(points []track.Point) error {
	if len(points) == 0 {
		return fmt.Errorf("%w: empty track", ErrInvalidInput)
	}
	if len(points) > MaxTrackPoints {
		return fmt.Errorf("%w: track has %d points, limit %d", ErrInvalidInput, len(points), MaxTrackPoints)
	}
	for i, p := range points {
		if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
			return fmt.Errorf("%w: point %d coordinate (%v, %v) out of range", ErrInvalidInput, i, p.Lat, p.Lon)
		}
		if p.FOVDeg != nil && (*p.FOVDeg <= 0 || *p.FOVDeg > 360) {
			return fmt.Errorf("%w: point %d fov %v outside (0, 360]", ErrInvalidInput, i, *p.FOVDeg)
		}
	}
	return nil
}

// verifyWith runs the pipeline against one backend set.
func (e *Engine) verifyWith(ctx context.Context, b arbiter.Backends, segments []track.Segment, opts Options) ([]bundle.TruthBundle, error) {
	covered := make([]bool, len(segments))
	anyCovered := false
	for i, seg := range segments {
		ok, err := b.Spatial.HasCoverage(ctx, seg.Points[0].Location())
		if err != nil {
			return nil, fmt.Errorf("engine: coverage probe: %w", err)
		}
		covered[i] = ok
		anyCovered = anyCovered || ok
	}
	if !anyCovered {
		return nil, ErrNoCoverage
	}

	var matcher match.SegmentMatcher
	if b.Matcher != nil {
		matcher = b.Matcher
	} else {
		local, err := match.New(e.matchCfg, b.Spatial)
		if err != nil {
			return nil, err
		}
		matcher = local
	}
	filter, err := visibility.NewFilter(opts.FOVDeg, e.elev)
	if err != nil {
		return nil, err
	}
	resolver := poi.NewResolver(b.Spatial)

	var matched []match.Matched
	for i, seg := range segments {
		if !covered[i] {
			// No reference data around this segment; its points degrade
			// to unmatched bundles rather than failing the batch.
			for _, p := range seg.Points {
				matched = append(matched, match.UnmatchedPoint(p))
			}
			continue
		}
		ms, err := matcher.MatchSegment(ctx, seg)
		if err != nil {
			return nil, err
		}
		matched = append(matched, ms...)
	}

	workers := e.offlineWorkers
	if b.Mode == bundle.ModeOnline {
		workers = e.onlineWorkers
	}

	out := make([]bundle.TruthBundle, len(matched))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, mp := range matched {
		g.Go(func() error {
			key := e.fingerprint(mp.Source, opts)
			bd, _, err := e.cache.GetOrCompute(gctx, key, func(cctx context.Context) (bundle.TruthBundle, error) {
				return e.buildBundle(cctx, b, resolver, filter, mp, key, opts)
			})
			if err != nil {
				return err
			}
			out[i] = bd
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// fingerprint keys the cache for one point under the request options. A
// per-point FOV override is part of the key.
func (e *Engine) fingerprint(p track.Point, opts Options) string {
	heading := 0.0
	if p.HeadingDeg != nil {
		heading = *p.HeadingDeg
	}
	fov := opts.FOVDeg
	if p.FOVDeg != nil {
		fov = *p.FOVDeg
	}
	return cache.Fingerprint(p.Lat, p.Lon, p.Timestamp, opts.RadiusM, opts.Categories,
		string(opts.Mode), fov, heading, opts.CheckOcclusion)
}

// buildBundle enriches one matched point and assembles its bundle. POI,
// visibility and ambient failures degrade to an emptier bundle; only
// cancellation aborts.
func (e *Engine) buildBundle(ctx context.Context, b arbiter.Backends, resolver *poi.Resolver, filter *visibility.Filter, mp match.Matched, key string, opts Options) (bundle.TruthBundle, error) {
	anchor := mp.Snapped
	eventID := uuid.NewSHA1(eventIDSpace, []byte(key)).String()

	if mp.Source.FOVDeg != nil {
		pf, err := visibility.NewFilter(*mp.Source.FOVDeg, e.elev)
		if err != nil {
			return bundle.TruthBundle{}, err
		}
		filter = pf
	}

	var visible []visibility.VisiblePOI
	ranked, err := resolver.Resolve(ctx, anchor, opts.RadiusM, opts.Categories, opts.POILimit)
	if err != nil {
		if ctx.Err() != nil {
			return bundle.TruthBundle{}, err
		}
		monitoring.Logf("engine: poi resolve failed for %s, degrading: %v", eventID, err)
	} else {
		visible, err = e.evaluateVisibility(ctx, filter, anchor, mp.HeadingDeg, ranked, opts.CheckOcclusion)
		if err != nil {
			return bundle.TruthBundle{}, err
		}
	}

	var ambientCtx bundle.AmbientContext
	if b.Ambient != nil {
		ac, err := b.Ambient.Context(ctx, anchor)
		if err != nil {
			if ctx.Err() != nil {
				return bundle.TruthBundle{}, err
			}
			monitoring.Logf("engine: ambient context failed for %s, degrading: %v", eventID, err)
		} else {
			ambientCtx = ac
		}
	}

	return bundle.Assemble(eventID, mp, visible, ambientCtx, b.Mode, e.clock.Now()), nil
}

// evaluateVisibility runs the FOV/occlusion filter, retrying without
// occlusion when the elevation provider fails mid-request.
func (e *Engine) evaluateVisibility(ctx context.Context, filter *visibility.Filter, anchor geo.Point, headingDeg float64, ranked []poi.Ranked, checkOcclusion bool) ([]visibility.VisiblePOI, error) {
	raw := make([]spatial.POI, 0, len(ranked))
	for _, r := range ranked {
		raw = append(raw, r.POI)
	}

	visible, err := filter.Evaluate(ctx, anchor, headingDeg, raw, checkOcclusion)
	if err == nil {
		return visible, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	if !checkOcclusion {
		return nil, err
	}
	monitoring.Logf("engine: occlusion check failed, retrying without terrain: %v", err)
	return filter.Evaluate(ctx, anchor, headingDeg, raw, false)
}
