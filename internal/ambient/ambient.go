// Package ambient resolves the geographic context around a matched point:
// country, region, timezone and elevation. The offline provider estimates
// from built-in tables; the online provider asks a reverse-geocoding
// service. Both feed the bundle assembler through the same interface.
package ambient

import (
	"context"

	"github.com/geotruth/engine/internal/bundle"
	"github.com/geotruth/engine/internal/geo"
)

// Provider resolves ambient context for a coordinate.
type Provider interface {
	Context(ctx context.Context, p geo.Point) (bundle.AmbientContext, error)
}

// countryBox is a rough bounding box for offline country estimation.
type countryBox struct {
	name           string
	minLat, maxLat float64
	minLon, maxLon float64
}

// Coarse boxes, checked in order; first hit wins. Offline estimation is
// deliberately conservative: a miss yields an empty country rather than a
// guess.
var countryBoxes = []countryBox{
	{"United States", 24.0, 50.0, -125.0, -66.0},
	{"Canada", 41.0, 84.0, -141.0, -52.0},
	{"Mexico", 14.0, 33.0, -118.0, -86.0},
	{"United Kingdom", 49.9, 60.9, -8.6, 1.8},
	{"Australia", -43.7, -10.0, 112.9, 153.7},
}

// EstimateCountry returns the country containing p, or "" when no box
// matches.
func EstimateCountry(p geo.Point) string {
	for _, b := range countryBoxes {
		if p.Lat >= b.minLat && p.Lat <= b.maxLat && p.Lon >= b.minLon && p.Lon <= b.maxLon {
			return b.name
		}
	}
	return ""
}

// OfflineProvider estimates context from built-in tables. An optional
// elevation sampler supplies elevation_m when terrain data is present.
type OfflineProvider struct {
	Elevation func(ctx context.Context, p geo.Point) (float64, error)
}

// Context implements Provider.
func (o *OfflineProvider) Context(ctx context.Context, p geo.Point) (bundle.AmbientContext, error) {
	out := bundle.AmbientContext{}

	if country := EstimateCountry(p); country != "" {
		out.Context.Country = country
		out.Facts = append(out.Facts, bundle.Fact{
			FactType:   "country",
			Name:       "Country",
			Value:      country,
			Confidence: bundle.TierMedium.Score(),
			Source:     "offline",
		})
	}

	if tz := EstimateTimezone(p); tz != "" {
		out.Context.Timezone = tz
		out.Facts = append(out.Facts, bundle.Fact{
			FactType:   "timezone",
			Name:       "Timezone",
			Value:      tz,
			Confidence: bundle.TierLow.Score(),
			Source:     "offline",
		})
	}

	if o.Elevation != nil {
		if elev, err := o.Elevation(ctx, p); err == nil {
			out.Context.ElevationM = &elev
		}
		// Elevation errors degrade the context, never the request.
	}
	return out, nil
}
