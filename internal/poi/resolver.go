// Package poi ranks candidate POIs near a matched point. The resolver is
// polymorphic over the spatial backend and never learns whether the query
// was served locally or remotely.
package poi

import (
	"context"
	"fmt"
	"sort"

	"github.com/geotruth/engine/internal/geo"
	"github.com/geotruth/engine/internal/spatial"
)

// Resolver defaults and ranking weights. The composite score combines
// normalized inverse distance, source confidence, and how well populated
// the POI's tags and facts are.
const (
	DefaultLimit = 50
	HardCapLimit = 100

	weightDistance     = 0.5
	weightSourceConf   = 0.3
	weightCompleteness = 0.2
)

// Ranked is a POI with its resolver score and distance from the query point.
type Ranked struct {
	POI       spatial.POI
	DistanceM float64
	Score     float64
}

// Resolver queries and ranks POIs.
type Resolver struct {
	backend spatial.Backend
}

// NewResolver creates a Resolver over the given backend.
func NewResolver(backend spatial.Backend) *Resolver {
	return &Resolver{backend: backend}
}

// Resolve returns POIs within radiusM of p, ranked best-first. limit <= 0
// selects DefaultLimit; anything above HardCapLimit is clamped. Ties are
// broken by distance ascending then ID ascending so results are
// deterministic for identical inputs.
func (r *Resolver) Resolve(ctx context.Context, p geo.Point, radiusM float64, categories []string, limit int) ([]Ranked, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > HardCapLimit {
		limit = HardCapLimit
	}

	pois, err := r.backend.POIsNear(ctx, p, radiusM, categories)
	if err != nil {
		return nil, fmt.Errorf("poi: backend query: %w", err)
	}

	ranked := make([]Ranked, 0, len(pois))
	for _, candidate := range pois {
		dist := geo.HaversineM(p, candidate.Location())
		ranked = append(ranked, Ranked{
			POI:       candidate,
			DistanceM: dist,
			Score:     score(candidate, dist, radiusM),
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].DistanceM != ranked[j].DistanceM {
			return ranked[i].DistanceM < ranked[j].DistanceM
		}
		return ranked[i].POI.ID < ranked[j].POI.ID
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// score computes the composite ranking score in [0,1].
func score(p spatial.POI, distM, radiusM float64) float64 {
	proximity := 0.0
	if radiusM > 0 && distM <= radiusM {
		proximity = 1 - distM/radiusM
	}
	s := weightDistance*proximity +
		weightSourceConf*clamp01(p.SourceConfidence) +
		weightCompleteness*completeness(p)
	return clamp01(s)
}

// completeness rewards populated tags and facts, saturating at five each.
func completeness(p spatial.POI) float64 {
	tags := len(p.Tags)
	if tags > 5 {
		tags = 5
	}
	facts := len(p.Facts)
	if facts > 5 {
		facts = 5
	}
	return float64(tags+facts) / 10
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
