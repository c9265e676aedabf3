package visibility

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geotruth/engine/internal/geo"
	"github.com/geotruth/engine/internal/spatial"
)

func poiAt(id string, lat, lon float64) spatial.POI {
	return spatial.POI{ID: id, Name: id, Category: "landmark", Lat: lat, Lon: lon, SourceConfidence: 0.9}
}

func TestNewFilterValidation(t *testing.T) {
	f, err := NewFilter(0, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultFOVDeg, f.fovDeg)

	_, err = NewFilter(400, nil)
	assert.Error(t, err)
}

func TestFOVBoundaryInclusive(t *testing.T) {
	f, err := NewFilter(120, nil)
	require.NoError(t, err)
	observer := geo.Point{Lat: 0, Lon: 0}
	ctx := context.Background()

	// Heading due north; half-FOV is 60 degrees. POI bearings are exact
	// at the equator for pure east/north offsets.
	tests := []struct {
		name    string
		poi     spatial.POI
		heading float64
		wantFOV bool
	}{
		{"dead ahead", poiAt("n", 0.001, 0), 0, true},
		{"exactly on boundary", poiAt("b", 0.0005, 0.000866), 30, true}, // bearing 60, heading 30
		{"just beyond boundary", poiAt("e", 0, 0.001), 0, false},        // bearing 90 vs half-FOV 60
		{"behind", poiAt("s", -0.001, 0), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.Evaluate(ctx, observer, tt.heading, []spatial.POI{tt.poi}, false)
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, tt.wantFOV, out[0].InFOV)
		})
	}
}

func TestFOVExactBoundaryDegree(t *testing.T) {
	// With fov=120 and heading=30, a bearing of exactly 90 sits on the
	// boundary and is included; 91 is excluded.
	f, err := NewFilter(120, nil)
	require.NoError(t, err)

	assert.True(t, geo.AngularDiffDeg(30, 90) <= f.fovDeg/2)
	assert.False(t, geo.AngularDiffDeg(30, 91) <= f.fovDeg/2)
}

func TestGrandCanyonScenario(t *testing.T) {
	// Observer on the rim road heading east; the South Rim viewpoint POI
	// lies almost due south, ~90 degrees off heading, outside a 120
	// degree FOV.
	f, err := NewFilter(120, nil)
	require.NoError(t, err)

	observer := geo.Point{Lat: 36.1069, Lon: -112.1129}
	rim := poiAt("grand-canyon-south-rim", 36.1055, -112.1125)
	rim.Name = "Grand Canyon South Rim"

	out, err := f.Evaluate(context.Background(), observer, 90, []spatial.POI{rim}, false)
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.InDelta(t, 167, out[0].BearingDeg, 5)
	assert.False(t, out[0].InFOV)
	assert.Equal(t, 0.0, out[0].Confidence)
	assert.Less(t, out[0].DistanceM, 200.0)
}

func TestConfidenceScalesWithCentrality(t *testing.T) {
	f, err := NewFilter(120, nil)
	require.NoError(t, err)
	observer := geo.Point{Lat: 0, Lon: 0}

	ahead := poiAt("ahead", 0.001, 0)
	offAxis := poiAt("off", 0.0005, 0.000866) // bearing ~60

	out, err := f.Evaluate(context.Background(), observer, 0, []spatial.POI{ahead, offAxis}, false)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.InDelta(t, 0.9, out[0].Confidence, 0.01) // full source confidence
	assert.InDelta(t, 0.45, out[1].Confidence, 0.02)
	for _, v := range out {
		assert.GreaterOrEqual(t, v.Confidence, 0.0)
		assert.LessOrEqual(t, v.Confidence, 1.0)
	}
}

// rampSampler returns a terrain wall at a fixed fraction of the sight line.
type rampSampler struct {
	wallAt   geo.Point
	wallElev float64
	baseElev float64
}

func (s *rampSampler) ElevationM(_ context.Context, p geo.Point) (float64, error) {
	if geo.HaversineM(p, s.wallAt) < 100 {
		return s.wallElev, nil
	}
	return s.baseElev, nil
}

func TestOcclusionBlockedByRidge(t *testing.T) {
	observer := geo.Point{Lat: 0, Lon: 0}
	target := poiAt("peak", 0, 0.01) // ~1.1km due east

	s := &rampSampler{
		wallAt:   geo.Point{Lat: 0, Lon: 0.005}, // midway
		wallElev: 150,
		baseElev: 100,
	}
	f, err := NewFilter(120, s)
	require.NoError(t, err)

	out, err := f.Evaluate(context.Background(), observer, 90, []spatial.POI{target}, true)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].Occluded)
	assert.True(t, *out[0].Occluded)
	assert.Equal(t, 0.0, out[0].Confidence)
}

func TestOcclusionClearLineOfSight(t *testing.T) {
	observer := geo.Point{Lat: 0, Lon: 0}
	target := poiAt("peak", 0, 0.01)

	s := &rampSampler{baseElev: 100, wallElev: 100, wallAt: geo.Point{Lat: 1, Lon: 1}}
	f, err := NewFilter(120, s)
	require.NoError(t, err)

	out, err := f.Evaluate(context.Background(), observer, 90, []spatial.POI{target}, true)
	require.NoError(t, err)
	require.NotNil(t, out[0].Occluded)
	assert.False(t, *out[0].Occluded)
	assert.Greater(t, out[0].Confidence, 0.0)
}

func TestOcclusionSkippedWithoutSampler(t *testing.T) {
	f, err := NewFilter(120, nil)
	require.NoError(t, err)

	out, err := f.Evaluate(context.Background(), geo.Point{}, 90, []spatial.POI{poiAt("p", 0, 0.001)}, true)
	require.NoError(t, err)
	assert.Nil(t, out[0].Occluded)
}

type failingSampler struct{}

func (failingSampler) ElevationM(context.Context, geo.Point) (float64, error) {
	return 0, errors.New("no elevation tiles")
}

func TestOcclusionSamplerErrorPropagates(t *testing.T) {
	f, err := NewFilter(120, failingSampler{})
	require.NoError(t, err)

	_, err = f.Evaluate(context.Background(), geo.Point{}, 90, []spatial.POI{poiAt("p", 0, 0.001)}, true)
	assert.Error(t, err)
}
