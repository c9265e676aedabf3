// Package spatial defines the road and POI reference data model and the
// Backend capability the engine is polymorphic over. An offline backend is
// served by an embedded store (sqlitestore) or an in-memory grid index; the
// online backend is a remote spatial database (postgis). Callers never learn
// which backend answered a query.
package spatial

import (
	"context"

	"github.com/geotruth/engine/internal/geo"
)

// RoadSegment is one edge of the road network. Read-only reference data.
type RoadSegment struct {
	ID        string      `json:"id" db:"id"`
	Geometry  []geo.Point `json:"geometry"`
	RoadClass string      `json:"road_class" db:"road_class"`
	Name      string      `json:"name,omitempty" db:"name"`
	Oneway    bool        `json:"oneway" db:"oneway"`
}

// POI is a candidate point of interest. Never mutated by the engine.
type POI struct {
	ID               string            `json:"id" db:"id"`
	Name             string            `json:"name" db:"name"`
	Category         string            `json:"category" db:"category"`
	Subcategory      string            `json:"subcategory,omitempty" db:"subcategory"`
	Lat              float64           `json:"lat" db:"lat"`
	Lon              float64           `json:"lon" db:"lon"`
	Tags             map[string]string `json:"tags,omitempty"`
	Facts            map[string]string `json:"facts,omitempty"`
	Source           string            `json:"source" db:"source"`
	SourceConfidence float64           `json:"source_confidence" db:"source_confidence"`
}

// Location returns the POI coordinate as a geo.Point.
func (p POI) Location() geo.Point {
	return geo.Point{Lat: p.Lat, Lon: p.Lon}
}

// Backend is the spatial query capability the matcher and resolver depend
// on. Implementations must be safe for concurrent use.
type Backend interface {
	// RoadsNear returns road segments whose polyline passes within
	// radiusM of p.
	RoadsNear(ctx context.Context, p geo.Point, radiusM float64) ([]RoadSegment, error)

	// POIsNear returns POIs within radiusM of p, optionally restricted to
	// the given categories. Unranked; ranking belongs to the resolver.
	POIsNear(ctx context.Context, p geo.Point, radiusM float64, categories []string) ([]POI, error)

	// HasCoverage reports whether any reference data exists around p. A
	// false result triggers the engine's NoCoverage handling rather than
	// being conflated with an empty query result.
	HasCoverage(ctx context.Context, p geo.Point) (bool, error)
}
