// Command poi-import fills the offline reference database with roads and
// POIs fetched from an Overpass endpoint for a bounding box.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/geotruth/engine/internal/overpass"
	"github.com/geotruth/engine/internal/spatial/sqlitestore"
)

func parseBBox(s string) (minLat, minLon, maxLat, maxLon float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("expected minLat,minLon,maxLat,maxLon, got %q", s)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		vals[i], err = strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return 0, 0, 0, 0, fmt.Errorf("invalid coordinate %q: %w", p, err)
		}
	}
	return vals[0], vals[1], vals[2], vals[3], nil
}

func main() {
	var dbPath string
	var migrationsDir string
	var bbox string
	var endpoint string
	var timeoutStr string

	flag.StringVar(&dbPath, "db", "reference.db", "path to reference sqlite db")
	flag.StringVar(&migrationsDir, "migrations", "migrations", "path to schema migrations")
	flag.StringVar(&bbox, "bbox", "", "bounding box as minLat,minLon,maxLat,maxLon")
	flag.StringVar(&endpoint, "endpoint", overpass.DefaultEndpoint, "Overpass API endpoint")
	flag.StringVar(&timeoutStr, "timeout", "90s", "Overpass request timeout")
	flag.Parse()

	if bbox == "" {
		log.Fatalf("bbox must be provided")
	}
	minLat, minLon, maxLat, maxLon, err := parseBBox(bbox)
	if err != nil {
		log.Fatalf("invalid bbox: %v", err)
	}
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		log.Fatalf("invalid timeout: %v", err)
	}

	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()
	if err := store.MigrateUp(migrationsDir); err != nil {
		log.Fatalf("migrate db: %v", err)
	}

	imp := overpass.NewImporter(endpoint, timeout, store)
	roads, pois, err := imp.ImportBBox(context.Background(), minLat, minLon, maxLat, maxLon)
	if err != nil {
		log.Fatalf("import failed: %v", err)
	}
	fmt.Printf("imported %d roads and %d POIs into %s\n", roads, pois, dbPath)
}
