package match

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/geotruth/engine/internal/geo"
	"github.com/geotruth/engine/internal/httputil"
	"github.com/geotruth/engine/internal/track"
)

// SegmentMatcher is the matching capability the engine consumes. The local
// Viterbi Matcher and the remote OnlineMatcher both satisfy it.
type SegmentMatcher interface {
	MatchSegment(ctx context.Context, seg track.Segment) ([]Matched, error)
}

// DefaultOnlineRPS bounds requests against the remote matching service.
const DefaultOnlineRPS = 10

// OnlineMatcher delegates matching to a Valhalla-compatible trace_attributes
// endpoint. Per-point confidence is derived from the reported snap distance
// with the same Gaussian noise model the local matcher uses.
type OnlineMatcher struct {
	BaseURL string
	Client  httputil.HTTPClient
	Retry   httputil.RetryPolicy
	SigmaM  float64

	limiter *rate.Limiter
}

// NewOnlineMatcher creates an OnlineMatcher with the default rate limit
// and retry budget.
func NewOnlineMatcher(baseURL string, client httputil.HTTPClient) *OnlineMatcher {
	return &OnlineMatcher{
		BaseURL: baseURL,
		Client:  client,
		Retry:   httputil.DefaultRetryPolicy,
		SigmaM:  DefaultSigmaM,
		limiter: rate.NewLimiter(rate.Limit(DefaultOnlineRPS), DefaultOnlineRPS),
	}
}

type traceShape struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type traceRequest struct {
	Shape      []traceShape `json:"shape"`
	Costing    string       `json:"costing"`
	ShapeMatch string       `json:"shape_match"`
}

type tracePoint struct {
	Type      string  `json:"type"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	EdgeIndex *int    `json:"edge_index"`
	DistanceM float64 `json:"distance_from_trace_point"`
}

type traceEdge struct {
	WayID        int64    `json:"way_id"`
	Names        []string `json:"names"`
	RoadClass    string   `json:"road_class"`
	BeginHeading float64  `json:"begin_heading"`
}

type traceResponse struct {
	MatchedPoints []tracePoint `json:"matched_points"`
	Edges         []traceEdge  `json:"edges"`
}

// MatchSegment implements SegmentMatcher against the remote service.
func (m *OnlineMatcher) MatchSegment(ctx context.Context, seg track.Segment) ([]Matched, error) {
	pts := seg.Points
	if len(pts) == 0 {
		return nil, nil
	}

	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	reqBody := traceRequest{
		Shape:      make([]traceShape, len(pts)),
		Costing:    "auto",
		ShapeMatch: "walk_or_snap",
	}
	for i, p := range pts {
		reqBody.Shape[i] = traceShape{Lat: p.Lat, Lon: p.Lon}
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.BaseURL+"/trace_attributes", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httputil.DoWithRetry(m.Client, req, m.Retry)
	if err != nil {
		return nil, fmt.Errorf("match: remote request: %w", err)
	}
	defer resp.Body.Close()

	var tr traceResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("match: decode remote response: %w", err)
	}
	if len(tr.MatchedPoints) != len(pts) {
		return nil, fmt.Errorf("match: remote returned %d points for %d inputs", len(tr.MatchedPoints), len(pts))
	}

	out := make([]Matched, len(pts))
	for i, mp := range tr.MatchedPoints {
		if mp.Type != "matched" || mp.EdgeIndex == nil || *mp.EdgeIndex >= len(tr.Edges) {
			out[i] = UnmatchedPoint(pts[i])
			continue
		}
		edge := tr.Edges[*mp.EdgeIndex]
		name := ""
		if len(edge.Names) > 0 {
			name = edge.Names[0]
		}
		out[i] = Matched{
			Source:     pts[i],
			EdgeID:     fmt.Sprintf("way/%d", edge.WayID),
			RoadName:   name,
			RoadClass:  edge.RoadClass,
			Snapped:    geo.Point{Lat: mp.Lat, Lon: mp.Lon},
			HeadingDeg: edge.BeginHeading,
			Confidence: m.snapConfidence(mp.DistanceM),
		}
	}
	return out, nil
}

// snapConfidence scores a remote match by its snap distance under the
// Gaussian noise model: zero distance scores 1.
func (m *OnlineMatcher) snapConfidence(distM float64) float64 {
	sigma := m.SigmaM
	if sigma <= 0 {
		sigma = DefaultSigmaM
	}
	return math.Exp(-(distM * distM) / (2 * sigma * sigma))
}
