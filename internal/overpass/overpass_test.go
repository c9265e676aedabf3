package overpass

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	overpassapi "github.com/serjvanilla/go-overpass"
)

func makeNode(id int64, lat, lon float64, tags map[string]string) *overpassapi.Node {
	n := &overpassapi.Node{}
	n.ID = id
	n.Lat = lat
	n.Lon = lon
	n.Tags = tags
	return n
}

func makeWay(id int64, tags map[string]string, nodes ...*overpassapi.Node) *overpassapi.Way {
	w := &overpassapi.Way{}
	w.ID = id
	w.Tags = tags
	w.Nodes = nodes
	return w
}

func TestConvertRoads(t *testing.T) {
	result := &overpassapi.Result{
		Ways: map[int64]*overpassapi.Way{
			20: makeWay(20,
				map[string]string{"highway": "secondary", "name": "Desert View Drive", "oneway": "yes"},
				makeNode(1, 36.0, -112.0, nil),
				makeNode(2, 36.0, -111.99, nil),
			),
			10: makeWay(10,
				map[string]string{"building": "yes"}, // not a road
				makeNode(3, 36.0, -112.0, nil),
				makeNode(4, 36.0, -111.99, nil),
			),
			30: makeWay(30,
				map[string]string{"highway": "path"}, // too few vertices
				makeNode(5, 36.0, -112.0, nil),
			),
		},
	}

	roads := convertRoads(result)
	require.Len(t, roads, 1)
	assert.Equal(t, "way/20", roads[0].ID)
	assert.Equal(t, "Desert View Drive", roads[0].Name)
	assert.Equal(t, "secondary", roads[0].RoadClass)
	assert.True(t, roads[0].Oneway)
	require.Len(t, roads[0].Geometry, 2)
	assert.Equal(t, -112.0, roads[0].Geometry[0].Lon)
}

func TestConvertPOIs(t *testing.T) {
	result := &overpassapi.Result{
		Nodes: map[int64]*overpassapi.Node{
			200: makeNode(200, 36.1, -112.1, map[string]string{
				"name":      "Grand Canyon Village",
				"tourism":   "attraction",
				"wikipedia": "en:Grand Canyon Village",
			}),
			100: makeNode(100, 36.0, -112.0, map[string]string{
				"amenity": "cafe", // unnamed, skipped
			}),
			300: makeNode(300, 36.2, -112.2, map[string]string{
				"name": "Nameless Peak", // no POI key, skipped
			}),
		},
	}

	pois := convertPOIs(result)
	require.Len(t, pois, 1)
	p := pois[0]
	assert.Equal(t, "node/200", p.ID)
	assert.Equal(t, "tourism", p.Category)
	assert.Equal(t, "attraction", p.Subcategory)
	assert.Equal(t, "osm", p.Source)
	assert.Equal(t, defaultSourceConfidence, p.SourceConfidence)
	assert.Equal(t, "en:Grand Canyon Village", p.Facts["wikipedia"])
}

func TestConvertPOIsDeterministicOrder(t *testing.T) {
	nodes := map[int64]*overpassapi.Node{}
	for _, id := range []int64{5, 3, 9, 1} {
		nodes[id] = makeNode(id, 36.0, -112.0, map[string]string{"name": "POI", "amenity": "cafe"})
	}
	pois := convertPOIs(&overpassapi.Result{Nodes: nodes})
	require.Len(t, pois, 4)
	assert.Equal(t, "node/1", pois[0].ID)
	assert.Equal(t, "node/9", pois[3].ID)
}

func TestClassifyPrecedence(t *testing.T) {
	cat, sub := classify(map[string]string{"tourism": "museum", "shop": "gift"})
	assert.Equal(t, "tourism", cat)
	assert.Equal(t, "museum", sub)
}

func TestImportBBoxRejectsInvertedBox(t *testing.T) {
	imp := NewImporter("", 0, nil)
	_, _, err := imp.ImportBBox(context.Background(), 37, -112, 36, -111)
	assert.Error(t, err)
}
