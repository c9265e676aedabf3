package bundle

import (
	"sort"
	"time"

	"github.com/geotruth/engine/internal/match"
	"github.com/geotruth/engine/internal/visibility"
)

// MinPOIConfidence is the threshold a POI must clear to count toward the
// corroboration fraction in the overall confidence.
const MinPOIConfidence = 0.5

// AmbientContext is what the mode arbiter's backend fetched around the
// matched point, plus its per-field provenance facts.
type AmbientContext struct {
	Context Context
	Facts   []Fact
}

// Assemble merges one matched point, its evaluated POIs, and ambient
// context into a TruthBundle. Pure and deterministic: identical inputs
// produce identical bundles except GeneratedAt. Occluded POIs are dropped;
// everything else is carried with its in_fov verdict.
func Assemble(eventID string, mp match.Matched, pois []visibility.VisiblePOI, ambient AmbientContext, mode Mode, now time.Time) TruthBundle {
	b := TruthBundle{
		EventID:     eventID,
		GeneratedAt: now.UTC(),
		Location: Location{
			RawGPS: RawGPS{Lat: mp.Source.Lat, Lon: mp.Source.Lon},
		},
		Context:          ambient.Context,
		VisiblePOIs:      []VisiblePOI{},
		Facts:            append([]Fact(nil), ambient.Facts...),
		VerificationMode: mode,
	}

	if !mp.Unmatched {
		b.Location.Matched = &MatchedLocation{
			Lat:       mp.Snapped.Lat,
			Lon:       mp.Snapped.Lon,
			RoadName:  mp.RoadName,
			RoadClass: mp.RoadClass,
		}
		if mp.RoadName != "" {
			b.Facts = append(b.Facts, Fact{
				FactType:   "road",
				Name:       "Road",
				Value:      mp.RoadName,
				Confidence: mp.Confidence,
				Source:     string(mode),
			})
		}
	}

	var above, total int
	for _, v := range pois {
		if v.Occluded != nil && *v.Occluded {
			continue
		}
		total++
		if v.Confidence >= MinPOIConfidence {
			above++
		}
		b.VisiblePOIs = append(b.VisiblePOIs, VisiblePOI{
			Name:       v.POI.Name,
			Category:   v.POI.Category,
			DistanceM:  v.DistanceM,
			BearingDeg: v.BearingDeg,
			InFOV:      v.InFOV,
			Confidence: v.Confidence,
			Facts:      v.POI.Facts,
		})
	}

	// Stable fact order keeps assembly byte-deterministic.
	sort.SliceStable(b.Facts, func(i, j int) bool {
		return b.Facts[i].FactType < b.Facts[j].FactType
	})

	b.OverallConfidence = overallConfidence(mp.Confidence, above, total)
	return b
}

// overallConfidence weights the match confidence by POI corroboration. An
// unmatched location can never be verified, so zero match confidence
// forces zero overall.
func overallConfidence(matchConf float64, above, total int) float64 {
	if matchConf <= 0 {
		return 0
	}
	frac := 0.0
	if total > 0 {
		frac = float64(above) / float64(total)
	}
	conf := matchConf * (0.5 + 0.5*frac)
	if conf > 1 {
		return 1
	}
	if conf < 0 {
		return 0
	}
	return conf
}
