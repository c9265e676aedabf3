// Package match snaps normalized GPS segments onto the road network using
// HMM-style sequence decoding: a Gaussian emission model over perpendicular
// distance, a route-ratio transition model, and Viterbi decoding over the
// per-point candidate sets.
package match

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/geotruth/engine/internal/geo"
	"github.com/geotruth/engine/internal/spatial"
	"github.com/geotruth/engine/internal/track"
)

// Matcher defaults. The radius scales with reported GPS accuracy and is
// clamped to [RadiusFloorM, RadiusCeilM].
const (
	DefaultSigmaM        = 10.0
	DefaultBeta          = 2.0
	DefaultRadiusFloorM  = 15.0
	DefaultRadiusCeilM   = 50.0
	DefaultAccuracyScale = 2.0

	// cliffRatio is where the transition penalty turns from gentle to
	// steep: a network detour more than twice the straight-line distance
	// is almost never the driven route.
	cliffRatio = 2.0

	// minGreatCircleM avoids division blowups between near-identical
	// consecutive points.
	minGreatCircleM = 1.0
)

// Config tunes the matcher.
type Config struct {
	SigmaM        float64 // GPS noise for the emission Gaussian
	Beta          float64 // transition decay over excess route ratio
	RadiusFloorM  float64
	RadiusCeilM   float64
	AccuracyScale float64 // candidate radius = AccuracyScale * accuracy_m
}

// DefaultConfig returns the default matcher tuning.
func DefaultConfig() Config {
	return Config{
		SigmaM:        DefaultSigmaM,
		Beta:          DefaultBeta,
		RadiusFloorM:  DefaultRadiusFloorM,
		RadiusCeilM:   DefaultRadiusCeilM,
		AccuracyScale: DefaultAccuracyScale,
	}
}

// Validate rejects non-positive tuning values.
func (c Config) Validate() error {
	if c.SigmaM <= 0 {
		return fmt.Errorf("match: sigma must be positive, got %v", c.SigmaM)
	}
	if c.Beta <= 0 {
		return fmt.Errorf("match: beta must be positive, got %v", c.Beta)
	}
	if c.RadiusFloorM <= 0 || c.RadiusCeilM < c.RadiusFloorM {
		return fmt.Errorf("match: invalid radius bounds [%v, %v]", c.RadiusFloorM, c.RadiusCeilM)
	}
	return nil
}

// Matched is one decoded point. When Unmatched is true no road candidate
// existed within the search radius: Snapped holds the raw coordinates and
// Confidence is zero.
type Matched struct {
	Source     track.Point
	EdgeID     string
	RoadName   string
	RoadClass  string
	Snapped    geo.Point
	HeadingDeg float64
	Confidence float64
	Unmatched  bool
}

type candidate struct {
	edge    spatial.RoadSegment
	snapped geo.Point
	perpM   float64
	segIdx  int
	frac    float64
}

// Matcher decodes segments against a spatial backend.
type Matcher struct {
	cfg     Config
	backend spatial.Backend
	norm    distuv.Normal
}

// New creates a Matcher over the given backend.
func New(cfg Config, backend spatial.Backend) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Matcher{
		cfg:     cfg,
		backend: backend,
		norm:    distuv.Normal{Mu: 0, Sigma: cfg.SigmaM},
	}, nil
}

// searchRadius derives the candidate search radius from reported accuracy.
func (m *Matcher) searchRadius(p track.Point) float64 {
	r := m.cfg.RadiusFloorM
	if p.AccuracyM != nil {
		r = m.cfg.AccuracyScale * *p.AccuracyM
	}
	return math.Max(m.cfg.RadiusFloorM, math.Min(m.cfg.RadiusCeilM, r))
}

// candidatesFor returns all road candidates within the search radius of p.
func (m *Matcher) candidatesFor(ctx context.Context, p track.Point) ([]candidate, error) {
	radius := m.searchRadius(p)
	roads, err := m.backend.RoadsNear(ctx, p.Location(), radius)
	if err != nil {
		return nil, fmt.Errorf("match: candidate query: %w", err)
	}

	var cands []candidate
	for _, seg := range roads {
		d, snapped, segIdx, frac := geo.PointToPolylineM(p.Location(), seg.Geometry)
		if d <= radius {
			cands = append(cands, candidate{
				edge:    seg,
				snapped: snapped,
				perpM:   d,
				segIdx:  segIdx,
				frac:    frac,
			})
		}
	}
	return cands, nil
}

// emissionLogP is the Gaussian log-probability of observing the point at
// perpendicular distance d from the candidate edge.
func (m *Matcher) emissionLogP(d float64) float64 {
	return m.norm.LogProb(d)
}

// routeDistanceM approximates the network distance between two candidate
// states. Same-edge transitions use along-edge distance; cross-edge
// transitions take the cheapest snap-to-endpoint-to-endpoint-to-snap path.
// Full shortest-path routing is out of scope for the engine.
func routeDistanceM(a, b candidate) float64 {
	if a.edge.ID == b.edge.ID {
		da := geo.AlongPolylineM(a.edge.Geometry, a.segIdx, a.frac)
		db := geo.AlongPolylineM(b.edge.Geometry, b.segIdx, b.frac)
		return math.Abs(db - da)
	}

	lenA := geo.PolylineLengthM(a.edge.Geometry)
	lenB := geo.PolylineLengthM(b.edge.Geometry)
	alongA := geo.AlongPolylineM(a.edge.Geometry, a.segIdx, a.frac)
	alongB := geo.AlongPolylineM(b.edge.Geometry, b.segIdx, b.frac)

	endsA := []struct {
		p     geo.Point
		along float64
	}{
		{a.edge.Geometry[0], alongA},
		{a.edge.Geometry[len(a.edge.Geometry)-1], lenA - alongA},
	}
	endsB := []struct {
		p     geo.Point
		along float64
	}{
		{b.edge.Geometry[0], alongB},
		{b.edge.Geometry[len(b.edge.Geometry)-1], lenB - alongB},
	}

	best := math.Inf(1)
	for _, ea := range endsA {
		for _, eb := range endsB {
			d := ea.along + geo.HaversineM(ea.p, eb.p) + eb.along
			if d < best {
				best = d
			}
		}
	}
	return best
}

// transitionLogP penalizes route distances implausibly longer than the
// great-circle distance between the raw points. The penalty is linear in
// log space up to cliffRatio and steepens beyond it.
func (m *Matcher) transitionLogP(prev, cur candidate, gcDistM float64) float64 {
	gc := math.Max(gcDistM, minGreatCircleM)
	ratio := routeDistanceM(prev, cur) / gc

	excess := math.Max(0, ratio-1)
	logp := -excess / m.cfg.Beta
	if ratio > cliffRatio {
		logp -= ratio - cliffRatio
	}
	return logp
}

// MatchSegment decodes one normalized segment, producing exactly one
// Matched per input point. Points with no candidate in radius come back
// unmatched; the rest are decoded with Viterbi per contiguous run so a
// coverage hole never poisons the whole segment.
func (m *Matcher) MatchSegment(ctx context.Context, seg track.Segment) ([]Matched, error) {
	pts := seg.Points
	out := make([]Matched, len(pts))

	cands := make([][]candidate, len(pts))
	for i, p := range pts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cs, err := m.candidatesFor(ctx, p)
		if err != nil {
			return nil, err
		}
		cands[i] = cs
	}

	// Decode each maximal run of points that have candidates.
	runStart := -1
	for i := 0; i <= len(pts); i++ {
		hasCands := i < len(pts) && len(cands[i]) > 0
		if hasCands {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		if runStart >= 0 {
			m.decodeRun(pts[runStart:i], cands[runStart:i], out[runStart:i])
			runStart = -1
		}
		if i < len(pts) {
			out[i] = UnmatchedPoint(pts[i])
		}
	}
	return out, nil
}

// UnmatchedPoint carries a point with no road candidate through the
// pipeline with zero confidence and its raw coordinates intact.
func UnmatchedPoint(p track.Point) Matched {
	heading := 0.0
	if p.HeadingDeg != nil {
		heading = *p.HeadingDeg
	}
	return Matched{
		Source:     p,
		Snapped:    p.Location(),
		HeadingDeg: heading,
		Confidence: 0,
		Unmatched:  true,
	}
}

// decodeRun runs Viterbi over a run where every point has at least one
// candidate, writing results into out. Single-point runs take the nearest
// candidate directly.
func (m *Matcher) decodeRun(pts []track.Point, cands [][]candidate, out []Matched) {
	n := len(pts)
	if n == 0 {
		return
	}
	if n == 1 {
		best := nearest(cands[0])
		out[0] = m.result(pts[0], cands[0][best], m.emissionLogP(cands[0][best].perpM), m.emissionLogP(0))
		return
	}

	// score[j] is the best cumulative log-likelihood ending in candidate j
	// of the current step. stepLogP[t][j] records that step's local
	// contribution for the confidence calculation.
	scores := make([]float64, len(cands[0]))
	backptr := make([][]int, n)
	stepLogP := make([][]float64, n)

	stepLogP[0] = make([]float64, len(cands[0]))
	for j, c := range cands[0] {
		scores[j] = m.emissionLogP(c.perpM)
		stepLogP[0][j] = scores[j]
	}

	for t := 1; t < n; t++ {
		gc := geo.HaversineM(pts[t-1].Location(), pts[t].Location())
		next := make([]float64, len(cands[t]))
		backptr[t] = make([]int, len(cands[t]))
		stepLogP[t] = make([]float64, len(cands[t]))

		for j, cj := range cands[t] {
			emit := m.emissionLogP(cj.perpM)
			bestScore := math.Inf(-1)
			bestPrev := 0
			bestTrans := math.Inf(-1)
			for i, ci := range cands[t-1] {
				trans := m.transitionLogP(ci, cj, gc)
				if s := scores[i] + trans; s > bestScore {
					bestScore = s
					bestPrev = i
					bestTrans = trans
				}
			}
			next[j] = bestScore + emit
			backptr[t][j] = bestPrev
			stepLogP[t][j] = emit + bestTrans
		}
		scores = next
	}

	// Backtrack the maximum-likelihood state sequence.
	path := make([]int, n)
	best := 0
	for j := 1; j < len(scores); j++ {
		if scores[j] > scores[best] {
			best = j
		}
	}
	path[n-1] = best
	for t := n - 1; t > 0; t-- {
		path[t-1] = backptr[t][path[t]]
	}

	// Per-step confidence: chosen local log-likelihood relative to the
	// best theoretically achievable step (zero snap distance, ideal
	// transition).
	idealStep := m.emissionLogP(0)
	for t := 0; t < n; t++ {
		out[t] = m.result(pts[t], cands[t][path[t]], stepLogP[t][path[t]], idealStep)
	}
}

// nearest returns the index of the candidate with minimal perpendicular
// distance, ties broken by edge ID for determinism.
func nearest(cands []candidate) int {
	best := 0
	for i := 1; i < len(cands); i++ {
		if cands[i].perpM < cands[best].perpM ||
			(cands[i].perpM == cands[best].perpM && cands[i].edge.ID < cands[best].edge.ID) {
			best = i
		}
	}
	return best
}

// result builds a Matched from a chosen candidate and its log-likelihoods.
func (m *Matcher) result(p track.Point, c candidate, stepLogP, idealLogP float64) Matched {
	conf := math.Exp(stepLogP - idealLogP)
	if conf > 1 {
		conf = 1
	}
	if conf < 0 || math.IsNaN(conf) {
		conf = 0
	}

	heading := geo.SegmentHeadingDeg(c.edge.Geometry, c.segIdx)
	if p.HeadingDeg != nil {
		// Oneway edges fix travel direction; otherwise align the edge
		// heading with the reported direction of travel.
		if !c.edge.Oneway && geo.AngularDiffDeg(heading, *p.HeadingDeg) > 90 {
			heading = geo.NormalizeDeg(heading + 180)
		}
	}

	return Matched{
		Source:     p,
		EdgeID:     c.edge.ID,
		RoadName:   c.edge.Name,
		RoadClass:  c.edge.RoadClass,
		Snapped:    c.snapped,
		HeadingDeg: heading,
		Confidence: conf,
	}
}
