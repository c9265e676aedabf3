// Package bundle defines the TruthBundle, the sole artifact the engine
// hands to the narration collaborator, and its assembler. The JSON field
// names are a wire contract and must not drift.
package bundle

import (
	"time"

	"github.com/geotruth/engine/internal/geo"
)

// Mode records which backend produced a bundle's data.
type Mode string

const (
	ModeOnline  Mode = "online"
	ModeOffline Mode = "offline"

	// ModeHybrid flags a bundle whose sub-queries were served by different
	// backends. Mixing is never silent.
	ModeHybrid Mode = "hybrid"
)

// RawGPS is the unmodified input coordinate.
type RawGPS struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// MatchedLocation is the road-snapped position. Absent from the JSON when
// the point could not be matched.
type MatchedLocation struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	RoadName  string  `json:"road_name"`
	RoadClass string  `json:"road_class"`
}

// Location groups the raw and matched coordinates.
type Location struct {
	RawGPS  RawGPS           `json:"raw_gps"`
	Matched *MatchedLocation `json:"matched,omitempty"`
}

// Context is the ambient geographic context around the matched point.
type Context struct {
	Country    string   `json:"country"`
	State      string   `json:"state"`
	County     string   `json:"county"`
	Timezone   string   `json:"timezone"`
	ElevationM *float64 `json:"elevation_m"`
}

// VisiblePOI is one POI entry in the bundle.
type VisiblePOI struct {
	Name       string            `json:"name"`
	Category   string            `json:"category"`
	DistanceM  float64           `json:"distance_m"`
	BearingDeg float64           `json:"bearing_deg"`
	InFOV      bool              `json:"in_fov"`
	Confidence float64           `json:"confidence"`
	Facts      map[string]string `json:"facts"`
}

// Fact is a typed, sourced assertion about the location, carried alongside
// the structured context so narration can cite provenance per claim.
type Fact struct {
	FactType   string  `json:"fact_type"`
	Name       string  `json:"name"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// TruthBundle is the assembled, confidence-scored evidence record.
// Immutable once assembled; corrections produce a new bundle version.
type TruthBundle struct {
	EventID           string       `json:"event_id"`
	GeneratedAt       time.Time    `json:"generated_at"`
	Location          Location     `json:"location"`
	Context           Context      `json:"context"`
	VisiblePOIs       []VisiblePOI `json:"visible_pois"`
	Facts             []Fact       `json:"facts"`
	VerificationMode  Mode         `json:"verification_mode"`
	OverallConfidence float64      `json:"overall_confidence"`
}

// RawPoint returns the bundle's raw coordinate as a geo.Point.
func (b *TruthBundle) RawPoint() geo.Point {
	return geo.Point{Lat: b.Location.RawGPS.Lat, Lon: b.Location.RawGPS.Lon}
}
