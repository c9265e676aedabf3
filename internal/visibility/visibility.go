// Package visibility decides which POIs are plausibly observable from a
// matched point: an inclusive field-of-view test around the travel heading,
// and an optional terrain occlusion check against an elevation provider.
package visibility

import (
	"context"
	"fmt"
	"math"

	"github.com/geotruth/engine/internal/geo"
	"github.com/geotruth/engine/internal/spatial"
)

// Defaults. The occlusion sampler walks the sight line at fixed intervals
// and flags the POI when terrain rises above the straight-line sight
// elevation by more than the tolerance.
const (
	DefaultFOVDeg            = 120.0
	OcclusionSampleIntervalM = 50.0
	OcclusionToleranceM      = 5.0
)

// ElevationSampler supplies terrain heights for occlusion checks. The
// provider may be offline (tiles on disk) or online; the filter does not
// care. Lookups are CPU-bound for local providers and must honour ctx for
// remote ones.
type ElevationSampler interface {
	ElevationM(ctx context.Context, p geo.Point) (float64, error)
}

// VisiblePOI is the per-POI visibility verdict for one matched point.
type VisiblePOI struct {
	POI        spatial.POI
	DistanceM  float64
	BearingDeg float64
	InFOV      bool
	Occluded   *bool // nil when occlusion was not evaluated
	Confidence float64
}

// Filter evaluates POI visibility. A nil sampler disables occlusion.
type Filter struct {
	fovDeg  float64
	sampler ElevationSampler
}

// NewFilter creates a Filter with the given field of view in degrees.
// fovDeg <= 0 selects the default; values above 360 are rejected.
func NewFilter(fovDeg float64, sampler ElevationSampler) (*Filter, error) {
	if fovDeg <= 0 {
		fovDeg = DefaultFOVDeg
	}
	if fovDeg > 360 {
		return nil, fmt.Errorf("visibility: fov %v out of range (0, 360]", fovDeg)
	}
	return &Filter{fovDeg: fovDeg, sampler: sampler}, nil
}

// Evaluate computes the visibility verdict for each POI as seen from
// observer with the given heading. checkOcclusion is honoured only when an
// elevation sampler is configured. Output order mirrors the input.
func (f *Filter) Evaluate(ctx context.Context, observer geo.Point, headingDeg float64, pois []spatial.POI, checkOcclusion bool) ([]VisiblePOI, error) {
	out := make([]VisiblePOI, 0, len(pois))
	for _, poi := range pois {
		v, err := f.evaluateOne(ctx, observer, headingDeg, poi, checkOcclusion)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *Filter) evaluateOne(ctx context.Context, observer geo.Point, headingDeg float64, poi spatial.POI, checkOcclusion bool) (VisiblePOI, error) {
	target := poi.Location()
	dist := geo.HaversineM(observer, target)
	bearing := geo.BearingDeg(observer, target)
	diff := geo.AngularDiffDeg(headingDeg, bearing)

	v := VisiblePOI{
		POI:        poi,
		DistanceM:  dist,
		BearingDeg: bearing,
		// Boundary is inclusive: a POI exactly at heading ± fov/2 counts.
		InFOV:      diff <= f.fovDeg/2,
		Confidence: visibilityConfidence(diff, f.fovDeg, poi.SourceConfidence),
	}

	if checkOcclusion && f.sampler != nil && v.InFOV {
		occluded, err := f.occluded(ctx, observer, target)
		if err != nil {
			return VisiblePOI{}, fmt.Errorf("visibility: occlusion check for %s: %w", poi.ID, err)
		}
		v.Occluded = &occluded
		if occluded {
			v.Confidence = 0
		}
	}
	return v, nil
}

// visibilityConfidence blends the source confidence with how central the
// POI sits in the field of view: dead ahead keeps the full source
// confidence, the FOV edge keeps half, outside the FOV keeps nothing
// beyond a residual floor.
func visibilityConfidence(angularDiff, fovDeg, sourceConf float64) float64 {
	half := fovDeg / 2
	if angularDiff > half {
		return 0
	}
	centrality := 1 - 0.5*(angularDiff/half)
	c := sourceConf * centrality
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// occluded samples terrain along the sight line at fixed intervals and
// compares against linear elevation interpolation between the endpoints.
func (f *Filter) occluded(ctx context.Context, observer, target geo.Point) (bool, error) {
	obsElev, err := f.sampler.ElevationM(ctx, observer)
	if err != nil {
		return false, err
	}
	tgtElev, err := f.sampler.ElevationM(ctx, target)
	if err != nil {
		return false, err
	}

	dist := geo.HaversineM(observer, target)
	steps := int(math.Floor(dist / OcclusionSampleIntervalM))
	for i := 1; i <= steps; i++ {
		frac := float64(i) * OcclusionSampleIntervalM / dist
		if frac >= 1 {
			break
		}
		sample := geo.Point{
			Lat: observer.Lat + frac*(target.Lat-observer.Lat),
			Lon: observer.Lon + frac*(target.Lon-observer.Lon),
		}
		terrain, err := f.sampler.ElevationM(ctx, sample)
		if err != nil {
			return false, err
		}
		sightLine := obsElev + frac*(tgtElev-obsElev)
		if terrain > sightLine+OcclusionToleranceM {
			return true, nil
		}
	}
	return false, nil
}
