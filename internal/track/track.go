// Package track models raw GPS telemetry and normalizes it into clean,
// independently matchable segments.
package track

import (
	"time"

	"github.com/geotruth/engine/internal/geo"
)

// Point is one raw telemetry sample. Immutable once normalized; the engine
// consumes but never mutates points handed over by the sync collaborator.
type Point struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Timestamp time.Time `json:"timestamp"`

	// Optional sensor fields. Nil when the source did not report them.
	AccuracyM  *float64 `json:"accuracy_m,omitempty"`
	SpeedMPS   *float64 `json:"speed,omitempty"`
	HeadingDeg *float64 `json:"heading_deg,omitempty"`

	// FOVDeg overrides the request-wide field of view for this point.
	FOVDeg *float64 `json:"fov_deg,omitempty"`
}

// Location returns the point coordinate.
func (p Point) Location() geo.Point {
	return geo.Point{Lat: p.Lat, Lon: p.Lon}
}

// Segment is a contiguous run of normalized points. Segments are split at
// time gaps and teleports so the matcher never bridges a discontinuity.
type Segment struct {
	Points []Point
}
