package ambient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/geotruth/engine/internal/bundle"
	"github.com/geotruth/engine/internal/geo"
	"github.com/geotruth/engine/internal/httputil"

	"context"
)

// OnlineProvider reverse-geocodes through a remote service. Responses are
// carried into the bundle with high-tier facts since they come from
// authoritative data rather than band estimation.
type OnlineProvider struct {
	BaseURL string
	Client  httputil.HTTPClient
	Retry   httputil.RetryPolicy
}

// NewOnlineProvider creates an OnlineProvider with the default retry
// budget.
func NewOnlineProvider(baseURL string, client httputil.HTTPClient) *OnlineProvider {
	return &OnlineProvider{
		BaseURL: baseURL,
		Client:  client,
		Retry:   httputil.DefaultRetryPolicy,
	}
}

// geocodeResponse is the wire shape of the reverse-geocode endpoint.
type geocodeResponse struct {
	Country    string   `json:"country"`
	State      string   `json:"state"`
	County     string   `json:"county"`
	Timezone   string   `json:"timezone"`
	ElevationM *float64 `json:"elevation_m"`
}

// Context implements Provider.
func (o *OnlineProvider) Context(ctx context.Context, p geo.Point) (bundle.AmbientContext, error) {
	u := fmt.Sprintf("%s/reverse_geocode?lat=%s&lon=%s",
		o.BaseURL,
		url.QueryEscape(fmt.Sprintf("%.6f", p.Lat)),
		url.QueryEscape(fmt.Sprintf("%.6f", p.Lon)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return bundle.AmbientContext{}, fmt.Errorf("ambient: build request: %w", err)
	}

	resp, err := httputil.DoWithRetry(o.Client, req, o.Retry)
	if err != nil {
		return bundle.AmbientContext{}, fmt.Errorf("ambient: reverse geocode: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return bundle.AmbientContext{}, fmt.Errorf("ambient: read response: %w", err)
	}

	var gr geocodeResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return bundle.AmbientContext{}, fmt.Errorf("ambient: decode response: %w", err)
	}

	out := bundle.AmbientContext{
		Context: bundle.Context{
			Country:    gr.Country,
			State:      gr.State,
			County:     gr.County,
			Timezone:   gr.Timezone,
			ElevationM: gr.ElevationM,
		},
	}
	if gr.Country != "" {
		out.Facts = append(out.Facts, bundle.Fact{
			FactType:   "country",
			Name:       "Country",
			Value:      gr.Country,
			Confidence: bundle.TierHigh.Score(),
			Source:     "online",
		})
	}
	if gr.Timezone != "" {
		out.Facts = append(out.Facts, bundle.Fact{
			FactType:   "timezone",
			Name:       "Timezone",
			Value:      gr.Timezone,
			Confidence: bundle.TierHigh.Score(),
			Source:     "online",
		})
	}
	return out, nil
}
