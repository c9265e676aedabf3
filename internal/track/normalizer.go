package track

import (
	"errors"
	"sort"
	"time"

	"github.com/geotruth/engine/internal/geo"
)

// ErrEmptyTrack is returned when zero points remain after de-duplication.
var ErrEmptyTrack = errors.New("track: no points remain after de-duplication")

// Normalizer defaults.
const (
	// DefaultMaxGap splits a segment when consecutive points are further
	// apart in time.
	DefaultMaxGap = 30 * time.Second

	// DefaultMaxSpeedMPS is the teleport threshold: an implied speed above
	// this (324 km/h) is not plausible for road telemetry and starts a new
	// segment.
	DefaultMaxSpeedMPS = 90.0
)

// NormalizerConfig tunes segmentation.
type NormalizerConfig struct {
	MaxGap      time.Duration
	MaxSpeedMPS float64
}

// DefaultNormalizerConfig returns the default thresholds.
func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		MaxGap:      DefaultMaxGap,
		MaxSpeedMPS: DefaultMaxSpeedMPS,
	}
}

// Normalizer cleans raw telemetry: stable sort by timestamp, duplicate
// timestamp removal, heading/speed fill-in from consecutive points, and
// segmentation at gaps and teleports.
type Normalizer struct {
	cfg NormalizerConfig
}

// NewNormalizer creates a Normalizer. Zero-valued config fields fall back
// to the defaults.
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	if cfg.MaxGap <= 0 {
		cfg.MaxGap = DefaultMaxGap
	}
	if cfg.MaxSpeedMPS <= 0 {
		cfg.MaxSpeedMPS = DefaultMaxSpeedMPS
	}
	return &Normalizer{cfg: cfg}
}

// Normalize returns cleaned segments. The input slice is not modified.
// Returns ErrEmptyTrack when nothing survives de-duplication.
func (n *Normalizer) Normalize(raw []Point) ([]Segment, error) {
	pts := make([]Point, len(raw))
	copy(pts, raw)

	sort.SliceStable(pts, func(i, j int) bool {
		return pts[i].Timestamp.Before(pts[j].Timestamp)
	})

	// Drop duplicate timestamps, keeping the first occurrence so ordering
	// stays stable for identical inputs.
	var deduped []Point
	for _, p := range pts {
		if p.Timestamp.IsZero() {
			continue
		}
		if len(deduped) > 0 && !deduped[len(deduped)-1].Timestamp.Before(p.Timestamp) {
			continue
		}
		deduped = append(deduped, p)
	}
	if len(deduped) == 0 {
		return nil, ErrEmptyTrack
	}

	filled := fillDerived(deduped)

	var segments []Segment
	current := Segment{Points: []Point{filled[0]}}
	for i := 1; i < len(filled); i++ {
		prev, cur := filled[i-1], filled[i]
		if n.splitBetween(prev, cur) {
			segments = append(segments, current)
			current = Segment{Points: []Point{cur}}
			continue
		}
		current.Points = append(current.Points, cur)
	}
	segments = append(segments, current)
	return segments, nil
}

// splitBetween reports whether a segmentation marker belongs between two
// consecutive points.
func (n *Normalizer) splitBetween(prev, cur Point) bool {
	dt := cur.Timestamp.Sub(prev.Timestamp)
	if dt > n.cfg.MaxGap {
		return true
	}
	if dt <= 0 {
		return false
	}
	dist := geo.HaversineM(prev.Location(), cur.Location())
	return dist/dt.Seconds() > n.cfg.MaxSpeedMPS
}

// fillDerived computes heading and speed from consecutive points wherever
// the source left them absent. The final point inherits from its
// predecessor's derived values when it has none of its own.
func fillDerived(pts []Point) []Point {
	out := make([]Point, len(pts))
	copy(out, pts)

	for i := 0; i < len(out); i++ {
		var next *Point
		if i+1 < len(out) {
			next = &out[i+1]
		}

		if out[i].HeadingDeg == nil {
			if next != nil {
				h := geo.BearingDeg(out[i].Location(), next.Location())
				out[i].HeadingDeg = &h
			} else if i > 0 && out[i-1].HeadingDeg != nil {
				h := *out[i-1].HeadingDeg
				out[i].HeadingDeg = &h
			}
		}

		if out[i].SpeedMPS == nil {
			if next != nil {
				dt := next.Timestamp.Sub(out[i].Timestamp).Seconds()
				if dt > 0 {
					s := geo.HaversineM(out[i].Location(), next.Location()) / dt
					out[i].SpeedMPS = &s
				}
			} else if i > 0 && out[i-1].SpeedMPS != nil {
				s := *out[i-1].SpeedMPS
				out[i].SpeedMPS = &s
			}
		}
	}
	return out
}
