package spatial

import (
	"context"
	"math"
	"sync"

	"github.com/geotruth/engine/internal/geo"
)

// DefaultCellSizeDeg is the grid cell edge in degrees, roughly 1.1 km of
// latitude. Queries at the engine's default 500 m radius touch at most a
// 3x3 cell neighbourhood.
const DefaultCellSizeDeg = 0.01

type cellKey struct {
	row, col int
}

// GridIndex is an in-memory spatial index over roads and POIs, bucketed
// into fixed-size lat/lon cells. It backs offline verification when the
// reference data fits in memory (test fixtures, small imported regions);
// larger regions use sqlitestore. Safe for concurrent reads once populated;
// Add* calls take the write lock.
type GridIndex struct {
	mu       sync.RWMutex
	cellSize float64
	roads    map[cellKey][]RoadSegment
	pois     map[cellKey][]POI
}

// NewGridIndex creates an empty index. cellSizeDeg <= 0 selects
// DefaultCellSizeDeg.
func NewGridIndex(cellSizeDeg float64) *GridIndex {
	if cellSizeDeg <= 0 {
		cellSizeDeg = DefaultCellSizeDeg
	}
	return &GridIndex{
		cellSize: cellSizeDeg,
		roads:    make(map[cellKey][]RoadSegment),
		pois:     make(map[cellKey][]POI),
	}
}

func (g *GridIndex) key(p geo.Point) cellKey {
	return cellKey{
		row: int(math.Floor(p.Lat / g.cellSize)),
		col: int(math.Floor(p.Lon / g.cellSize)),
	}
}

// AddRoad indexes a road segment under every cell its vertices touch.
func (g *GridIndex) AddRoad(seg RoadSegment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	seen := make(map[cellKey]bool)
	for _, v := range seg.Geometry {
		k := g.key(v)
		if !seen[k] {
			seen[k] = true
			g.roads[k] = append(g.roads[k], seg)
		}
	}
}

// AddPOI indexes a POI under its containing cell.
func (g *GridIndex) AddPOI(p POI) {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := g.key(p.Location())
	g.pois[k] = append(g.pois[k], p)
}

// cellsWithin returns the cell keys overlapping a radiusM neighbourhood of p.
func (g *GridIndex) cellsWithin(p geo.Point, radiusM float64) []cellKey {
	latSpan := radiusM / 111320.0 // meters per degree latitude
	lonSpan := latSpan / math.Max(0.01, math.Cos(p.Lat*math.Pi/180))

	minK := g.key(geo.Point{Lat: p.Lat - latSpan, Lon: p.Lon - lonSpan})
	maxK := g.key(geo.Point{Lat: p.Lat + latSpan, Lon: p.Lon + lonSpan})

	var keys []cellKey
	for r := minK.row; r <= maxK.row; r++ {
		for c := minK.col; c <= maxK.col; c++ {
			keys = append(keys, cellKey{row: r, col: c})
		}
	}
	return keys
}

// RoadsNear implements Backend.
func (g *GridIndex) RoadsNear(ctx context.Context, p geo.Point, radiusM float64) ([]RoadSegment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []RoadSegment
	seen := make(map[string]bool)
	for _, k := range g.cellsWithin(p, radiusM) {
		for _, seg := range g.roads[k] {
			if seen[seg.ID] {
				continue
			}
			if d, _, _, _ := geo.PointToPolylineM(p, seg.Geometry); d <= radiusM {
				seen[seg.ID] = true
				out = append(out, seg)
			}
		}
	}
	return out, nil
}

// POIsNear implements Backend.
func (g *GridIndex) POIsNear(ctx context.Context, p geo.Point, radiusM float64, categories []string) ([]POI, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	allowed := make(map[string]bool, len(categories))
	for _, c := range categories {
		allowed[c] = true
	}

	var out []POI
	for _, k := range g.cellsWithin(p, radiusM) {
		for _, poi := range g.pois[k] {
			if len(allowed) > 0 && !allowed[poi.Category] {
				continue
			}
			if geo.HaversineM(p, poi.Location()) <= radiusM {
				out = append(out, poi)
			}
		}
	}
	return out, nil
}

// HasCoverage implements Backend. The grid has coverage wherever any road
// or POI data exists within 5 km of p.
func (g *GridIndex) HasCoverage(ctx context.Context, p geo.Point) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	const coverageProbeM = 5000
	for _, k := range g.cellsWithin(p, coverageProbeM) {
		if len(g.roads[k]) > 0 || len(g.pois[k]) > 0 {
			return true, nil
		}
	}
	return false, nil
}
