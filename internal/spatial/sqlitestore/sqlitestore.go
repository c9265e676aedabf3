// Package sqlitestore serves the offline spatial backend from an embedded
// SQLite database of imported roads and POIs. Queries prefilter on a stored
// bounding box and refine with great-circle distance, so no spatial
// extension is required.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/geotruth/engine/internal/geo"
	"github.com/geotruth/engine/internal/monitoring"
	"github.com/geotruth/engine/internal/spatial"
)

// coverageProbeM is how far HasCoverage looks for any reference data.
const coverageProbeM = 5000.0

// metersPerDegreeLat is close enough for bounding-box prefilters.
const metersPerDegreeLat = 111320.0

type Store struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the reference database at path and
// ensures the base schema exists. Schema upgrades beyond the base are
// applied with the migrate commands.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS roads (
			id                TEXT PRIMARY KEY,
			name              TEXT,
			road_class        TEXT,
			oneway            INTEGER NOT NULL DEFAULT 0,
			geometry          TEXT NOT NULL,
			min_lat           DOUBLE NOT NULL,
			max_lat           DOUBLE NOT NULL,
			min_lon           DOUBLE NOT NULL,
			max_lon           DOUBLE NOT NULL
		);
		CREATE INDEX IF NOT EXISTS roads_bbox ON roads (min_lat, max_lat, min_lon, max_lon);
		CREATE TABLE IF NOT EXISTS pois (
			id                TEXT PRIMARY KEY,
			name              TEXT,
			category          TEXT,
			subcategory       TEXT,
			lat               DOUBLE NOT NULL,
			lon               DOUBLE NOT NULL,
			tags              TEXT,
			facts             TEXT,
			source            TEXT,
			source_confidence DOUBLE NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS pois_latlon ON pois (lat, lon);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: create schema: %w", err)
	}

	return &Store{DB: db, path: path}, nil
}

// bbox returns the degree half-widths of a radius around lat.
func bbox(lat, radiusM float64) (dLat, dLon float64) {
	dLat = radiusM / metersPerDegreeLat
	cosLat := math.Cos(lat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	dLon = radiusM / (metersPerDegreeLat * cosLat)
	return dLat, dLon
}

// RoadsNear implements spatial.Backend.
func (s *Store) RoadsNear(ctx context.Context, p geo.Point, radiusM float64) ([]spatial.RoadSegment, error) {
	dLat, dLon := bbox(p.Lat, radiusM)
	rows, err := s.QueryContext(ctx, `
		SELECT id, name, road_class, oneway, geometry
		FROM roads
		WHERE max_lat >= ? AND min_lat <= ? AND max_lon >= ? AND min_lon <= ?
		ORDER BY id`,
		p.Lat-dLat, p.Lat+dLat, p.Lon-dLon, p.Lon+dLon)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: roads query: %w", err)
	}
	defer rows.Close()

	var roads []spatial.RoadSegment
	for rows.Next() {
		var seg spatial.RoadSegment
		var name sql.NullString
		var oneway int
		var geomJSON string
		if err := rows.Scan(&seg.ID, &name, &seg.RoadClass, &oneway, &geomJSON); err != nil {
			return nil, err
		}
		seg.Name = name.String
		seg.Oneway = oneway != 0
		if err := json.Unmarshal([]byte(geomJSON), &seg.Geometry); err != nil {
			return nil, fmt.Errorf("sqlitestore: road %s geometry: %w", seg.ID, err)
		}
		// Refine: the bbox admits roads whose polyline is still out of
		// range.
		if d, _, _, _ := geo.PointToPolylineM(p, seg.Geometry); d <= radiusM {
			roads = append(roads, seg)
		}
	}
	return roads, rows.Err()
}

// POIsNear implements spatial.Backend.
func (s *Store) POIsNear(ctx context.Context, p geo.Point, radiusM float64, categories []string) ([]spatial.POI, error) {
	dLat, dLon := bbox(p.Lat, radiusM)

	query := `
		SELECT id, name, category, subcategory, lat, lon, tags, facts, source, source_confidence
		FROM pois
		WHERE lat BETWEEN ? AND ? AND lon BETWEEN ? AND ?`
	args := []interface{}{p.Lat - dLat, p.Lat + dLat, p.Lon - dLon, p.Lon + dLon}
	if len(categories) > 0 {
		query += ` AND category IN (?` + strings.Repeat(",?", len(categories)-1) + `)`
		for _, c := range categories {
			args = append(args, c)
		}
	}
	query += ` ORDER BY id`

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: pois query: %w", err)
	}
	defer rows.Close()

	var pois []spatial.POI
	for rows.Next() {
		var poi spatial.POI
		var name, subcategory, tagsJSON, factsJSON, source sql.NullString
		if err := rows.Scan(&poi.ID, &name, &poi.Category, &subcategory,
			&poi.Lat, &poi.Lon, &tagsJSON, &factsJSON, &source, &poi.SourceConfidence); err != nil {
			return nil, err
		}
		poi.Name = name.String
		poi.Subcategory = subcategory.String
		poi.Source = source.String
		if tagsJSON.Valid && tagsJSON.String != "" {
			if err := json.Unmarshal([]byte(tagsJSON.String), &poi.Tags); err != nil {
				return nil, fmt.Errorf("sqlitestore: poi %s tags: %w", poi.ID, err)
			}
		}
		if factsJSON.Valid && factsJSON.String != "" {
			if err := json.Unmarshal([]byte(factsJSON.String), &poi.Facts); err != nil {
				return nil, fmt.Errorf("sqlitestore: poi %s facts: %w", poi.ID, err)
			}
		}
		if geo.HaversineM(p, poi.Location()) <= radiusM {
			pois = append(pois, poi)
		}
	}
	return pois, rows.Err()
}

// HasCoverage implements spatial.Backend: any road or POI within the probe
// radius counts as coverage.
func (s *Store) HasCoverage(ctx context.Context, p geo.Point) (bool, error) {
	roads, err := s.RoadsNear(ctx, p, coverageProbeM)
	if err != nil {
		return false, err
	}
	if len(roads) > 0 {
		return true, nil
	}
	pois, err := s.POIsNear(ctx, p, coverageProbeM, nil)
	if err != nil {
		return false, err
	}
	return len(pois) > 0, nil
}

// UpsertRoads inserts or replaces road segments in one transaction.
func (s *Store) UpsertRoads(ctx context.Context, roads []spatial.RoadSegment) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO roads
			(id, name, road_class, oneway, geometry, min_lat, max_lat, min_lon, max_lon)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, seg := range roads {
		if len(seg.Geometry) < 2 {
			return fmt.Errorf("sqlitestore: road %s has %d vertices, need 2", seg.ID, len(seg.Geometry))
		}
		geomJSON, err := json.Marshal(seg.Geometry)
		if err != nil {
			return err
		}
		minLat, maxLat := seg.Geometry[0].Lat, seg.Geometry[0].Lat
		minLon, maxLon := seg.Geometry[0].Lon, seg.Geometry[0].Lon
		for _, v := range seg.Geometry[1:] {
			minLat = math.Min(minLat, v.Lat)
			maxLat = math.Max(maxLat, v.Lat)
			minLon = math.Min(minLon, v.Lon)
			maxLon = math.Max(maxLon, v.Lon)
		}
		oneway := 0
		if seg.Oneway {
			oneway = 1
		}
		if _, err := stmt.ExecContext(ctx, seg.ID, seg.Name, seg.RoadClass, oneway,
			string(geomJSON), minLat, maxLat, minLon, maxLon); err != nil {
			return fmt.Errorf("sqlitestore: upsert road %s: %w", seg.ID, err)
		}
	}
	return tx.Commit()
}

// UpsertPOIs inserts or replaces POIs in one transaction.
func (s *Store) UpsertPOIs(ctx context.Context, pois []spatial.POI) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO pois
			(id, name, category, subcategory, lat, lon, tags, facts, source, source_confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, poi := range pois {
		tagsJSON, err := json.Marshal(poi.Tags)
		if err != nil {
			return err
		}
		factsJSON, err := json.Marshal(poi.Facts)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, poi.ID, poi.Name, poi.Category, poi.Subcategory,
			poi.Lat, poi.Lon, string(tagsJSON), string(factsJSON),
			poi.Source, poi.SourceConfidence); err != nil {
			return fmt.Errorf("sqlitestore: upsert poi %s: %w", poi.ID, err)
		}
	}
	return tx.Commit()
}

// Counts returns the number of stored roads and POIs.
func (s *Store) Counts(ctx context.Context) (roads, pois int, err error) {
	if err := s.QueryRowContext(ctx, "SELECT COUNT(*) FROM roads").Scan(&roads); err != nil {
		return 0, 0, err
	}
	if err := s.QueryRowContext(ctx, "SELECT COUNT(*) FROM pois").Scan(&pois); err != nil {
		return 0, 0, err
	}
	return roads, pois, nil
}

// AttachAdminRoutes mounts live SQL debugging for the reference database on
// the mux's debug handler.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		monitoring.Logf("sqlitestore: failed to create tailsql server: %v", err)
		return
	}
	tsql.SetDB("sqlite://"+s.path, s.DB, &tailsql.DBOptions{
		Label: "Reference DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
}
