// Package overpass imports road and POI reference data from an Overpass API
// endpoint into a local spatial store, so the offline backend can be seeded
// for a region before a trip.
package overpass

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	overpassapi "github.com/serjvanilla/go-overpass"

	"github.com/geotruth/engine/internal/geo"
	"github.com/geotruth/engine/internal/monitoring"
	"github.com/geotruth/engine/internal/spatial"
)

// DefaultEndpoint is the public Overpass API instance.
const DefaultEndpoint = "https://overpass-api.de/api/interpreter"

// defaultSourceConfidence is assigned to imported OSM data. Community-edited
// data is good but not authoritative.
const defaultSourceConfidence = 0.8

// poiKeys are the OSM tag keys that make a node a candidate POI. The key
// becomes the category and its value the subcategory.
var poiKeys = []string{"amenity", "tourism", "shop", "historic", "natural", "leisure"}

// factKeys are carried into the POI's fact map when present.
var factKeys = []string{"wikipedia", "wikidata", "website", "opening_hours", "ele"}

// Target is where imported data lands. The offline sqlitestore satisfies it.
type Target interface {
	UpsertRoads(ctx context.Context, roads []spatial.RoadSegment) error
	UpsertPOIs(ctx context.Context, pois []spatial.POI) error
}

// Importer fetches OSM data and writes it to a Target.
type Importer struct {
	client *overpassapi.Client
	target Target
}

// NewImporter creates an Importer against the given Overpass endpoint.
// endpoint == "" selects DefaultEndpoint.
func NewImporter(endpoint string, timeout time.Duration, target Target) *Importer {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	client := overpassapi.NewWithSettings(endpoint, 2, httpClient)
	return &Importer{client: &client, target: target}
}

// ImportBBox imports all roads and POIs inside the bounding box and returns
// how many of each were written.
func (i *Importer) ImportBBox(ctx context.Context, minLat, minLon, maxLat, maxLon float64) (roadCount, poiCount int, err error) {
	if minLat > maxLat || minLon > maxLon {
		return 0, 0, fmt.Errorf("overpass: inverted bbox (%v,%v,%v,%v)", minLat, minLon, maxLat, maxLon)
	}

	bbox := fmt.Sprintf("%f,%f,%f,%f", minLat, minLon, maxLat, maxLon)
	query := fmt.Sprintf(`
		[out:json];
		(
			way["highway"](%s);
			node["amenity"](%s);
			node["tourism"](%s);
			node["shop"](%s);
			node["historic"](%s);
			node["natural"](%s);
			node["leisure"](%s);
		);
		out body;
		>;
		out skel qt;
	`, bbox, bbox, bbox, bbox, bbox, bbox, bbox)

	result, err := i.client.Query(query)
	if err != nil {
		return 0, 0, fmt.Errorf("overpass: query failed: %w", err)
	}

	roads := convertRoads(&result)
	pois := convertPOIs(&result)

	if err := i.target.UpsertRoads(ctx, roads); err != nil {
		return 0, 0, fmt.Errorf("overpass: store roads: %w", err)
	}
	if err := i.target.UpsertPOIs(ctx, pois); err != nil {
		return 0, 0, fmt.Errorf("overpass: store pois: %w", err)
	}
	monitoring.Logf("overpass: imported %d roads and %d pois for bbox %s", len(roads), len(pois), bbox)
	return len(roads), len(pois), nil
}

// convertRoads extracts highway ways as road segments, in ID order.
func convertRoads(result *overpassapi.Result) []spatial.RoadSegment {
	ids := make([]int64, 0, len(result.Ways))
	for id := range result.Ways {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	var roads []spatial.RoadSegment
	for _, id := range ids {
		way := result.Ways[id]
		highway := way.Tags["highway"]
		if highway == "" || len(way.Nodes) < 2 {
			continue
		}
		geom := make([]geo.Point, 0, len(way.Nodes))
		for _, node := range way.Nodes {
			geom = append(geom, geo.Point{Lat: node.Lat, Lon: node.Lon})
		}
		roads = append(roads, spatial.RoadSegment{
			ID:        "way/" + strconv.FormatInt(id, 10),
			Name:      way.Tags["name"],
			RoadClass: highway,
			Oneway:    way.Tags["oneway"] == "yes",
			Geometry:  geom,
		})
	}
	return roads
}

// convertPOIs extracts named nodes carrying a POI key, in ID order.
func convertPOIs(result *overpassapi.Result) []spatial.POI {
	ids := make([]int64, 0, len(result.Nodes))
	for id := range result.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	var pois []spatial.POI
	for _, id := range ids {
		node := result.Nodes[id]
		name := node.Tags["name"]
		if name == "" {
			continue
		}
		category, subcategory := classify(node.Tags)
		if category == "" {
			continue
		}
		poi := spatial.POI{
			ID:               "node/" + strconv.FormatInt(id, 10),
			Name:             name,
			Category:         category,
			Subcategory:      subcategory,
			Lat:              node.Lat,
			Lon:              node.Lon,
			Tags:             node.Tags,
			Source:           "osm",
			SourceConfidence: defaultSourceConfidence,
		}
		for _, key := range factKeys {
			if v, ok := node.Tags[key]; ok {
				if poi.Facts == nil {
					poi.Facts = make(map[string]string)
				}
				poi.Facts[key] = v
			}
		}
		pois = append(pois, poi)
	}
	return pois
}

// classify maps OSM tags onto a category/subcategory pair, first poiKey wins.
func classify(tags map[string]string) (category, subcategory string) {
	for _, key := range poiKeys {
		if v, ok := tags[key]; ok && v != "" {
			return key, v
		}
	}
	return "", ""
}
