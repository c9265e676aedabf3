// Package postgis serves the online spatial backend from a remote PostGIS
// database. Road geometries live in a geometry column and queries use
// ST_DWithin over geography, so distance filtering happens server-side.
package postgis

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/geotruth/engine/internal/geo"
	"github.com/geotruth/engine/internal/spatial"
)

// coverageProbeM is how far HasCoverage looks for any reference data.
const coverageProbeM = 5000.0

type Store struct {
	db *sqlx.DB
}

// Open connects to the spatial database. connStr is a lib/pq DSN.
func Open(connStr string) (*Store, error) {
	db, err := sqlx.Connect("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("postgis: connect: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// lineString is the GeoJSON shape ST_AsGeoJSON emits for road geometries.
type lineString struct {
	Type        string       `json:"type"`
	Coordinates [][2]float64 `json:"coordinates"` // lon, lat
}

// parseLineString decodes a GeoJSON LineString into polyline points.
func parseLineString(raw []byte) ([]geo.Point, error) {
	var ls lineString
	if err := json.Unmarshal(raw, &ls); err != nil {
		return nil, fmt.Errorf("postgis: decode geometry: %w", err)
	}
	if ls.Type != "LineString" {
		return nil, fmt.Errorf("postgis: unexpected geometry type %q", ls.Type)
	}
	pts := make([]geo.Point, len(ls.Coordinates))
	for i, c := range ls.Coordinates {
		pts[i] = geo.Point{Lat: c[1], Lon: c[0]}
	}
	return pts, nil
}

// RoadsNear implements spatial.Backend.
func (s *Store) RoadsNear(ctx context.Context, p geo.Point, radiusM float64) ([]spatial.RoadSegment, error) {
	const query = `
		SELECT id, COALESCE(name, ''), road_class, oneway, ST_AsGeoJSON(geom)
		FROM roads
		WHERE ST_DWithin(geom::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, p.Lon, p.Lat, radiusM)
	if err != nil {
		return nil, fmt.Errorf("postgis: roads query: %w", err)
	}
	defer rows.Close()

	var roads []spatial.RoadSegment
	for rows.Next() {
		var seg spatial.RoadSegment
		var geomJSON []byte
		if err := rows.Scan(&seg.ID, &seg.Name, &seg.RoadClass, &seg.Oneway, &geomJSON); err != nil {
			return nil, err
		}
		if seg.Geometry, err = parseLineString(geomJSON); err != nil {
			return nil, fmt.Errorf("postgis: road %s: %w", seg.ID, err)
		}
		roads = append(roads, seg)
	}
	return roads, rows.Err()
}

// POIsNear implements spatial.Backend.
func (s *Store) POIsNear(ctx context.Context, p geo.Point, radiusM float64, categories []string) ([]spatial.POI, error) {
	query := `
		SELECT id, COALESCE(name, ''), category, COALESCE(subcategory, ''),
		       lat, lon, tags, facts, COALESCE(source, ''), source_confidence
		FROM pois
		WHERE ST_DWithin(geom::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)`
	args := []interface{}{p.Lon, p.Lat, radiusM}
	if len(categories) > 0 {
		query += ` AND category = ANY($4)`
		args = append(args, pq.Array(categories))
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgis: pois query: %w", err)
	}
	defer rows.Close()

	var pois []spatial.POI
	for rows.Next() {
		var poi spatial.POI
		var tagsJSON, factsJSON []byte
		if err := rows.Scan(&poi.ID, &poi.Name, &poi.Category, &poi.Subcategory,
			&poi.Lat, &poi.Lon, &tagsJSON, &factsJSON, &poi.Source, &poi.SourceConfidence); err != nil {
			return nil, err
		}
		if len(tagsJSON) > 0 {
			if err := json.Unmarshal(tagsJSON, &poi.Tags); err != nil {
				return nil, fmt.Errorf("postgis: poi %s tags: %w", poi.ID, err)
			}
		}
		if len(factsJSON) > 0 {
			if err := json.Unmarshal(factsJSON, &poi.Facts); err != nil {
				return nil, fmt.Errorf("postgis: poi %s facts: %w", poi.ID, err)
			}
		}
		pois = append(pois, poi)
	}
	return pois, rows.Err()
}

// HasCoverage implements spatial.Backend.
func (s *Store) HasCoverage(ctx context.Context, p geo.Point) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM roads
			WHERE ST_DWithin(geom::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		) OR EXISTS (
			SELECT 1 FROM pois
			WHERE ST_DWithin(geom::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		)`

	var covered bool
	err := s.db.QueryRowContext(ctx, query, p.Lon, p.Lat, coverageProbeM).Scan(&covered)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("postgis: coverage query: %w", err)
	}
	return covered, nil
}

// Ping verifies the connection, for use as a connectivity oracle probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
