package poi

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geotruth/engine/internal/geo"
	"github.com/geotruth/engine/internal/spatial"
)

func newBackend(pois ...spatial.POI) *spatial.GridIndex {
	g := spatial.NewGridIndex(0)
	for _, p := range pois {
		g.AddPOI(p)
	}
	return g
}

func TestResolveRanksByCompositeScore(t *testing.T) {
	near := spatial.POI{ID: "near", Name: "Near", Category: "food", Lat: 0.0001, Lon: 0, SourceConfidence: 0.5}
	farButRich := spatial.POI{
		ID: "rich", Name: "Rich", Category: "landmark",
		Lat: 0.003, Lon: 0, SourceConfidence: 0.95,
		Tags:  map[string]string{"wikipedia": "x", "heritage": "y", "website": "z", "opening_hours": "w", "wheelchair": "v"},
		Facts: map[string]string{"elevation": "2100", "built": "1905", "architect": "a", "visitors": "6M", "area": "b"},
	}
	r := NewResolver(newBackend(near, farButRich))

	out, err := r.Resolve(context.Background(), geo.Point{}, 500, nil, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)

	// near: proximity ~0.98 -> 0.49 + 0.15 + 0 = ~0.64
	// rich: proximity ~0.33 -> 0.17 + 0.285 + 0.2 = ~0.65
	assert.Equal(t, "rich", out[0].POI.ID)
	assert.Equal(t, "near", out[1].POI.ID)
	for _, rp := range out {
		assert.GreaterOrEqual(t, rp.Score, 0.0)
		assert.LessOrEqual(t, rp.Score, 1.0)
	}
}

func TestResolveDeterministicTieBreak(t *testing.T) {
	// Identical score and distance; IDs decide the order.
	a := spatial.POI{ID: "aaa", Category: "food", Lat: 0.0001, Lon: 0, SourceConfidence: 0.5}
	b := spatial.POI{ID: "bbb", Category: "food", Lat: -0.0001, Lon: 0, SourceConfidence: 0.5}
	r := NewResolver(newBackend(b, a))

	out, err := r.Resolve(context.Background(), geo.Point{}, 500, nil, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "aaa", out[0].POI.ID)
	assert.Equal(t, "bbb", out[1].POI.ID)
}

func TestResolveCategoryFilter(t *testing.T) {
	r := NewResolver(newBackend(
		spatial.POI{ID: "cafe", Category: "food", Lat: 0.0001, Lon: 0},
		spatial.POI{ID: "view", Category: "viewpoint", Lat: 0.0002, Lon: 0},
	))

	out, err := r.Resolve(context.Background(), geo.Point{}, 500, []string{"viewpoint"}, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "view", out[0].POI.ID)
}

func TestResolveLimitAndHardCap(t *testing.T) {
	var pois []spatial.POI
	for i := 0; i < 150; i++ {
		pois = append(pois, spatial.POI{
			ID:       fmt.Sprintf("p%03d", i),
			Category: "food",
			Lat:      float64(i) * 0.000001,
			Lon:      0,
		})
	}
	r := NewResolver(newBackend(pois...))
	ctx := context.Background()

	out, err := r.Resolve(ctx, geo.Point{}, 500, nil, 0)
	require.NoError(t, err)
	assert.Len(t, out, DefaultLimit)

	out, err = r.Resolve(ctx, geo.Point{}, 500, nil, 10)
	require.NoError(t, err)
	assert.Len(t, out, 10)

	out, err = r.Resolve(ctx, geo.Point{}, 500, nil, 1000)
	require.NoError(t, err)
	assert.Len(t, out, HardCapLimit)
}

func TestResolveEmptyRegion(t *testing.T) {
	r := NewResolver(newBackend())
	out, err := r.Resolve(context.Background(), geo.Point{Lat: 45, Lon: 45}, 500, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCompletenessSaturates(t *testing.T) {
	p := spatial.POI{Tags: map[string]string{"a": "1"}, Facts: map[string]string{"b": "2"}}
	assert.InDelta(t, 0.2, completeness(p), 1e-9)

	for i := 0; i < 20; i++ {
		p.Tags[fmt.Sprintf("t%d", i)] = "x"
		p.Facts[fmt.Sprintf("f%d", i)] = "y"
	}
	assert.Equal(t, 1.0, completeness(p))
}
