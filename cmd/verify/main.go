// Command verify runs the verification pipeline over a track file and
// prints the resulting truth bundles as JSON. Offline only; useful for
// smoke-testing a freshly imported reference database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"strings"

	"github.com/geotruth/engine/internal/ambient"
	"github.com/geotruth/engine/internal/arbiter"
	"github.com/geotruth/engine/internal/engine"
	"github.com/geotruth/engine/internal/spatial/sqlitestore"
	"github.com/geotruth/engine/internal/track"
)

func main() {
	var dbPath string
	var trackPath string
	var radius float64
	var categories string
	var limit int
	var fov float64

	flag.StringVar(&dbPath, "db", "reference.db", "path to reference sqlite db")
	flag.StringVar(&trackPath, "track", "", "path to track JSON file (array of points)")
	flag.Float64Var(&radius, "radius", 0, "POI search radius in meters (0 = default)")
	flag.StringVar(&categories, "categories", "", "comma-separated category filter")
	flag.IntVar(&limit, "limit", 0, "max POIs per bundle (0 = unlimited)")
	flag.Float64Var(&fov, "fov", 0, "field of view in degrees (0 = default)")
	flag.Parse()

	if trackPath == "" {
		log.Fatalf("track file must be provided")
	}

	data, err := os.ReadFile(trackPath)
	if err != nil {
		log.Fatalf("read track: %v", err)
	}
	var points []track.Point
	if err := json.Unmarshal(data, &points); err != nil {
		log.Fatalf("parse track: %v", err)
	}

	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	offline := &arbiter.Backends{
		Spatial: store,
		Ambient: &ambient.OfflineProvider{},
	}
	eng, err := engine.New(arbiter.New(nil, offline, nil, 0), engine.Config{})
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}

	opts := engine.Options{
		RadiusM:  radius,
		Mode:     arbiter.ModeOffline,
		FOVDeg:   fov,
		POILimit: limit,
	}
	if categories != "" {
		opts.Categories = strings.Split(categories, ",")
	}

	bundles, err := eng.Verify(context.Background(), points, opts)
	if err != nil {
		log.Fatalf("verify: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(bundles); err != nil {
		log.Fatalf("encode bundles: %v", err)
	}
}
