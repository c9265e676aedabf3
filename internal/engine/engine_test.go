package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geotruth/engine/internal/ambient"
	"github.com/geotruth/engine/internal/arbiter"
	"github.com/geotruth/engine/internal/bundle"
	"github.com/geotruth/engine/internal/geo"
	"github.com/geotruth/engine/internal/spatial"
	"github.com/geotruth/engine/internal/testutil"
	"github.com/geotruth/engine/internal/timeutil"
	"github.com/geotruth/engine/internal/track"
)

// failingBackend simulates an unreachable remote spatial database.
type failingBackend struct{}

func (failingBackend) RoadsNear(context.Context, geo.Point, float64) ([]spatial.RoadSegment, error) {
	return nil, errors.New("connection refused")
}

func (failingBackend) POIsNear(context.Context, geo.Point, float64, []string) ([]spatial.POI, error) {
	return nil, errors.New("connection refused")
}

func (failingBackend) HasCoverage(context.Context, geo.Point) (bool, error) {
	return false, errors.New("connection refused")
}

func seededPOIs() []spatial.POI {
	return []spatial.POI{
		{
			ID: "poi-viewpoint", Name: "Viewpoint", Category: "tourism",
			Lat: 0, Lon: 0.0015,
			Tags:   map[string]string{"tourism": "viewpoint"},
			Facts:  map[string]string{"elevation": "12"},
			Source: "seed", SourceConfidence: 0.9,
		},
		{
			ID: "poi-cafe", Name: "Cafe", Category: "amenity",
			Lat: 0.0004, Lon: 0.0004,
			Source: "seed", SourceConfidence: 0.7,
		},
	}
}

func offlineEngine(t *testing.T, backend spatial.Backend) *Engine {
	t.Helper()
	arb := arbiter.New(nil, &arbiter.Backends{
		Spatial: backend,
		Ambient: &ambient.OfflineProvider{},
	}, nil, 0)
	e, err := New(arb, Config{Clock: timeutil.NewFakeClock(testutil.BaseTime)})
	require.NoError(t, err)
	return e
}

func TestVerifyOfflineHappyPath(t *testing.T) {
	e := offlineEngine(t, testutil.SeededBackend(seededPOIs()...))
	pts := testutil.TrackAlong(0, 0.0002, 0.0002, 3)

	bundles, err := e.Verify(context.Background(), pts, Options{})
	require.NoError(t, err)
	require.Len(t, bundles, 3)

	for i, b := range bundles {
		assert.Equal(t, bundle.ModeOffline, b.VerificationMode)
		require.NotNil(t, b.Location.Matched, "point %d should match the seeded road", i)
		assert.Equal(t, "main", b.Location.Matched.RoadName)
		assert.Greater(t, b.OverallConfidence, 0.5)
		assert.Len(t, b.VisiblePOIs, 2)

		_, err := uuid.Parse(b.EventID)
		assert.NoError(t, err, "event_id must be a UUID")
	}
	assert.NotEqual(t, bundles[0].EventID, bundles[1].EventID)
}

func TestVerifyServesSecondCallFromCache(t *testing.T) {
	e := offlineEngine(t, testutil.SeededBackend(seededPOIs()...))
	pts := testutil.TrackAlong(0, 0.0002, 0.0002, 3)

	first, err := e.Verify(context.Background(), pts, Options{})
	require.NoError(t, err)
	second, err := e.Verify(context.Background(), pts, Options{})
	require.NoError(t, err)

	assert.Equal(t, first, second, "cached bundles are byte-identical, GeneratedAt included")
	assert.Equal(t, 3, e.Cache().Len())
}

func TestVerifyEventIDsStableAcrossEngines(t *testing.T) {
	pts := testutil.TrackAlong(0, 0.0002, 0.0002, 2)

	e1 := offlineEngine(t, testutil.SeededBackend(seededPOIs()...))
	e2 := offlineEngine(t, testutil.SeededBackend(seededPOIs()...))

	b1, err := e1.Verify(context.Background(), pts, Options{})
	require.NoError(t, err)
	b2, err := e2.Verify(context.Background(), pts, Options{})
	require.NoError(t, err)

	require.Len(t, b2, len(b1))
	for i := range b1 {
		assert.Equal(t, b1[i].EventID, b2[i].EventID, "same input must yield the same event_id everywhere")
	}
}

func TestVerifyInvalidInput(t *testing.T) {
	e := offlineEngine(t, testutil.SeededBackend())
	valid := testutil.TrackAlong(0, 0.0002, 0.0002, 2)
	badFOV := 400.0

	tests := []struct {
		name string
		pts  []track.Point
		opts Options
	}{
		{"empty track", nil, Options{}},
		{"too many points", testutil.TrackAlong(0, 0, 0.00001, MaxTrackPoints+1), Options{}},
		{"latitude out of range", []track.Point{{Lat: 91, Timestamp: testutil.BaseTime}}, Options{}},
		{"longitude out of range", []track.Point{{Lon: -181, Timestamp: testutil.BaseTime}}, Options{}},
		{"unknown mode", valid, Options{Mode: "turbo"}},
		{"radius too large", valid, Options{RadiusM: 9999}},
		{"fov out of range", valid, Options{FOVDeg: 400}},
		{"per-point fov out of range", []track.Point{{Lat: 0, Lon: 0, Timestamp: testutil.BaseTime, FOVDeg: &badFOV}}, Options{}},
		{"negative poi limit", valid, Options{POILimit: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Verify(context.Background(), tt.pts, tt.opts)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestVerifyEmptyAfterDedupe(t *testing.T) {
	e := offlineEngine(t, testutil.SeededBackend())
	pts := []track.Point{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 0.0001}} // zero timestamps

	_, err := e.Verify(context.Background(), pts, Options{})
	assert.ErrorIs(t, err, track.ErrEmptyTrack)
}

func TestVerifyNoCoverage(t *testing.T) {
	e := offlineEngine(t, spatial.NewGridIndex(0))
	pts := testutil.TrackAlong(0, 0.0002, 0.0002, 2)

	_, err := e.Verify(context.Background(), pts, Options{})
	assert.ErrorIs(t, err, ErrNoCoverage)
}

func TestVerifyAutoFallsBackToOffline(t *testing.T) {
	testutil.MuteLogs(t)
	arb := arbiter.New(
		&arbiter.Backends{Spatial: failingBackend{}},
		&arbiter.Backends{Spatial: testutil.SeededBackend(seededPOIs()...), Ambient: &ambient.OfflineProvider{}},
		nil, 0)
	e, err := New(arb, Config{Clock: timeutil.NewFakeClock(testutil.BaseTime)})
	require.NoError(t, err)

	bundles, err := e.Verify(context.Background(), testutil.TrackAlong(0, 0.0002, 0.0002, 2), Options{})
	require.NoError(t, err)
	require.Len(t, bundles, 2)
	for _, b := range bundles {
		assert.Equal(t, bundle.ModeOffline, b.VerificationMode)
	}
}

func TestVerifyForcedOnlineSurfacesBackendError(t *testing.T) {
	arb := arbiter.New(
		&arbiter.Backends{Spatial: failingBackend{}},
		&arbiter.Backends{Spatial: testutil.SeededBackend()},
		nil, 0)
	e, err := New(arb, Config{Clock: timeutil.NewFakeClock(testutil.BaseTime)})
	require.NoError(t, err)

	_, err = e.Verify(context.Background(), testutil.TrackAlong(0, 0.0002, 0.0002, 2), Options{Mode: arbiter.ModeOnline})
	assert.ErrorIs(t, err, arbiter.ErrBackendUnavailable)
}

func TestVerifyUnmatchedPointsDegrade(t *testing.T) {
	e := offlineEngine(t, testutil.SeededBackend(seededPOIs()...))
	// Inside the coverage probe radius but far from any road.
	pts := testutil.TrackAlong(0.02, 0.0002, 0.0002, 2)

	bundles, err := e.Verify(context.Background(), pts, Options{})
	require.NoError(t, err)
	require.Len(t, bundles, 2)
	for _, b := range bundles {
		assert.Nil(t, b.Location.Matched)
		assert.Equal(t, 0.0, b.OverallConfidence, "unverifiable location can never score above zero")
	}
}

func TestVerifyPartialCoverageDegrades(t *testing.T) {
	e := offlineEngine(t, testutil.SeededBackend(seededPOIs()...))
	// Two points on the seeded road, then a teleport to a region with no
	// reference data at all.
	pts := testutil.TrackAlong(0, 0.0002, 0.0002, 2)
	pts = append(pts, track.Point{Lat: 0.1, Lon: 0, Timestamp: testutil.BaseTime.Add(2 * time.Second)})

	bundles, err := e.Verify(context.Background(), pts, Options{})
	require.NoError(t, err, "one uncovered segment must not fail the batch")
	require.Len(t, bundles, 3)

	require.NotNil(t, bundles[0].Location.Matched)
	assert.Equal(t, "main", bundles[0].Location.Matched.RoadName)
	assert.Nil(t, bundles[2].Location.Matched)
	assert.Equal(t, 0.0, bundles[2].OverallConfidence)
}

func TestVerifyLeadingUncoveredSegment(t *testing.T) {
	e := offlineEngine(t, testutil.SeededBackend(seededPOIs()...))
	pts := []track.Point{
		{Lat: 0.1, Lon: 0, Timestamp: testutil.BaseTime},
		{Lat: 0, Lon: 0.0002, Timestamp: testutil.BaseTime.Add(time.Second)},
		{Lat: 0, Lon: 0.0004, Timestamp: testutil.BaseTime.Add(2 * time.Second)},
	}

	bundles, err := e.Verify(context.Background(), pts, Options{})
	require.NoError(t, err, "coverage elsewhere in the track must carry the request")
	require.Len(t, bundles, 3)

	assert.Nil(t, bundles[0].Location.Matched)
	require.NotNil(t, bundles[1].Location.Matched)
	assert.Equal(t, "main", bundles[1].Location.Matched.RoadName)
}

func TestVerifyPerPointFOVOverride(t *testing.T) {
	e := offlineEngine(t, testutil.SeededBackend(seededPOIs()...))
	heading := 90.0
	p := track.Point{Lat: 0, Lon: 0.0004, Timestamp: testutil.BaseTime, HeadingDeg: &heading}

	// The cafe sits due north of the point; with an eastward heading its
	// angular offset is 90 degrees.
	wide, err := e.Verify(context.Background(), []track.Point{p}, Options{FOVDeg: 220})
	require.NoError(t, err)
	require.Len(t, wide, 1)

	narrowFOV := 120.0
	p.FOVDeg = &narrowFOV
	narrow, err := e.Verify(context.Background(), []track.Point{p}, Options{FOVDeg: 220})
	require.NoError(t, err)
	require.Len(t, narrow, 1)

	cafe := func(b bundle.TruthBundle) bundle.VisiblePOI {
		for _, v := range b.VisiblePOIs {
			if v.Name == "Cafe" {
				return v
			}
		}
		t.Fatal("cafe missing from visible POIs")
		return bundle.VisiblePOI{}
	}
	assert.True(t, cafe(wide[0]).InFOV)
	assert.False(t, cafe(narrow[0]).InFOV, "the per-point field of view wins over the request-wide one")
	assert.NotEqual(t, wide[0].EventID, narrow[0].EventID, "the override is part of the cache key")
}

func TestVerifyReturnsChronologicalOrder(t *testing.T) {
	e := offlineEngine(t, testutil.SeededBackend())
	pts := []track.Point{
		{Lat: 0, Lon: 0.0006, Timestamp: testutil.BaseTime.Add(2 * time.Second)},
		{Lat: 0, Lon: 0.0002, Timestamp: testutil.BaseTime},
		{Lat: 0, Lon: 0.0004, Timestamp: testutil.BaseTime.Add(time.Second)},
	}

	bundles, err := e.Verify(context.Background(), pts, Options{})
	require.NoError(t, err)
	require.Len(t, bundles, 3)
	assert.Equal(t, 0.0002, bundles[0].Location.RawGPS.Lon)
	assert.Equal(t, 0.0004, bundles[1].Location.RawGPS.Lon)
	assert.Equal(t, 0.0006, bundles[2].Location.RawGPS.Lon)
}

func TestVerifyHonoursCancellation(t *testing.T) {
	e := offlineEngine(t, testutil.SeededBackend())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Verify(ctx, testutil.TrackAlong(0, 0.0002, 0.0002, 2), Options{})
	assert.Error(t, err)
}
