// Package testutil provides shared test fixtures for the engine packages:
// canned road networks, POI sets, and track builders used across the
// matcher, resolver and engine tests.
package testutil

import (
	"testing"
	"time"

	"github.com/geotruth/engine/internal/geo"
	"github.com/geotruth/engine/internal/monitoring"
	"github.com/geotruth/engine/internal/spatial"
	"github.com/geotruth/engine/internal/track"
)

// BaseTime is the fixed timestamp test tracks start at.
var BaseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// MuteLogs silences the monitoring logger for the duration of the test.
func MuteLogs(t *testing.T) {
	t.Helper()
	monitoring.SetLogger(func(string, ...interface{}) {})
	t.Cleanup(func() { monitoring.SetLogger(nil) })
}

// StraightRoad returns an east-west road at the given latitude spanning
// lon 0 to 0.002 (~222m at the equator).
func StraightRoad(id string, lat float64) spatial.RoadSegment {
	return spatial.RoadSegment{
		ID:        id,
		Name:      id,
		RoadClass: "residential",
		Geometry: []geo.Point{
			{Lat: lat, Lon: 0},
			{Lat: lat, Lon: 0.001},
			{Lat: lat, Lon: 0.002},
		},
	}
}

// TrackAlong returns n points spaced one second and dLon apart, starting
// at (lat, lon0).
func TrackAlong(lat, lon0, dLon float64, n int) []track.Point {
	pts := make([]track.Point, n)
	for i := range pts {
		pts[i] = track.Point{
			Lat:       lat,
			Lon:       lon0 + float64(i)*dLon,
			Timestamp: BaseTime.Add(time.Duration(i) * time.Second),
		}
	}
	return pts
}

// SeededBackend returns a grid index preloaded with a straight road on the
// equator and the given POIs.
func SeededBackend(pois ...spatial.POI) *spatial.GridIndex {
	g := spatial.NewGridIndex(0)
	g.AddRoad(StraightRoad("main", 0))
	for _, p := range pois {
		g.AddPOI(p)
	}
	return g
}
