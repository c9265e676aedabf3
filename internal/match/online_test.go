package match

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geotruth/engine/internal/httputil"
	"github.com/geotruth/engine/internal/testutil"
	"github.com/geotruth/engine/internal/track"
)

func onlineSegment(n int) track.Segment {
	return track.Segment{Points: testutil.TrackAlong(36.0, -112.0, 0.0002, n)}
}

func TestOnlineMatcherMatchSegment(t *testing.T) {
	mock := httputil.NewMockHTTPClient().AddResponse(200, `{
		"matched_points": [
			{"type": "matched", "lat": 36.0, "lon": -112.0, "edge_index": 0, "distance_from_trace_point": 0},
			{"type": "matched", "lat": 36.0, "lon": -111.9998, "edge_index": 0, "distance_from_trace_point": 10}
		],
		"edges": [
			{"way_id": 42, "names": ["Desert View Drive"], "road_class": "secondary", "begin_heading": 90}
		]
	}`)
	m := NewOnlineMatcher("http://valhalla.test", mock)

	out, err := m.MatchSegment(context.Background(), onlineSegment(2))
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "way/42", out[0].EdgeID)
	assert.Equal(t, "Desert View Drive", out[0].RoadName)
	assert.Equal(t, "secondary", out[0].RoadClass)
	assert.Equal(t, 90.0, out[0].HeadingDeg)
	assert.False(t, out[0].Unmatched)
	assert.Equal(t, 1.0, out[0].Confidence)

	// 10m snap at sigma 10 scores exp(-1/2).
	assert.InDelta(t, math.Exp(-0.5), out[1].Confidence, 1e-9)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "http://valhalla.test/trace_attributes", reqs[0].URL.String())
}

func TestOnlineMatcherUnmatchedPoints(t *testing.T) {
	mock := httputil.NewMockHTTPClient().AddResponse(200, `{
		"matched_points": [
			{"type": "unmatched", "lat": 0, "lon": 0}
		],
		"edges": []
	}`)
	m := NewOnlineMatcher("http://valhalla.test", mock)

	out, err := m.MatchSegment(context.Background(), onlineSegment(1))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Unmatched)
	assert.Equal(t, 0.0, out[0].Confidence)
	assert.Equal(t, 36.0, out[0].Snapped.Lat, "unmatched points keep their raw coordinates")
}

func TestOnlineMatcherCountMismatch(t *testing.T) {
	mock := httputil.NewMockHTTPClient().AddResponse(200, `{"matched_points": [], "edges": []}`)
	m := NewOnlineMatcher("http://valhalla.test", mock)

	_, err := m.MatchSegment(context.Background(), onlineSegment(2))
	assert.Error(t, err)
}

func TestOnlineMatcherServerError(t *testing.T) {
	mock := httputil.NewMockHTTPClient().AddResponse(500, "boom").AddResponse(500, "boom")
	m := NewOnlineMatcher("http://valhalla.test", mock)

	_, err := m.MatchSegment(context.Background(), onlineSegment(2))
	assert.ErrorIs(t, err, httputil.ErrServerStatus)
}

func TestOnlineMatcherRetriesServerError(t *testing.T) {
	mock := httputil.NewMockHTTPClient().
		AddResponse(500, "boom").
		AddResponse(200, `{
			"matched_points": [
				{"type": "matched", "lat": 36.0, "lon": -112.0, "edge_index": 0, "distance_from_trace_point": 0}
			],
			"edges": [
				{"way_id": 42, "names": ["Desert View Drive"], "road_class": "secondary", "begin_heading": 90}
			]
		}`)
	m := NewOnlineMatcher("http://valhalla.test", mock)

	out, err := m.MatchSegment(context.Background(), onlineSegment(1))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.False(t, out[0].Unmatched)
	assert.Equal(t, 2, mock.CallCount(), "a single 500 is retried once by default")
}

func TestOnlineMatcherEmptySegment(t *testing.T) {
	m := NewOnlineMatcher("http://valhalla.test", httputil.NewMockHTTPClient())
	out, err := m.MatchSegment(context.Background(), track.Segment{})
	require.NoError(t, err)
	assert.Empty(t, out)
}
